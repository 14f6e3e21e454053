package ident

import "testing"

func TestGuidRoundTrip(t *testing.T) {
	g, err := ParseGuid("12345678-1234-5678-1234-567812345678")
	if err != nil {
		t.Fatal(err)
	}
	if got := g.String(); got != "12345678-1234-5678-1234-567812345678" {
		t.Errorf("String() = %q", got)
	}
}

func TestGuidZero(t *testing.T) {
	var g Guid
	if !g.IsZero() {
		t.Error("zero Guid should be IsZero")
	}
	if got, want := g.String(), "00000000-0000-0000-0000-000000000000"; got != want {
		t.Errorf("zero Guid String() = %q, want %q", got, want)
	}
}

func TestContentHashIsNone(t *testing.T) {
	var h ContentHash
	if !h.IsNone() {
		t.Error("zero ContentHash should be IsNone")
	}
	h2 := HashContent([]byte("hello"))
	if h2.IsNone() {
		t.Error("non-empty content hash should not be IsNone")
	}
	if !h2.Equal(HashContent([]byte("hello"))) {
		t.Error("HashContent should be deterministic")
	}
	if h2.Equal(HashContent([]byte("world"))) {
		t.Error("distinct content should not hash equal")
	}
}

func TestContentHashBinaryRoundTrip(t *testing.T) {
	h := HashContent([]byte("round trip me"))
	b := h.MarshalBinary()
	if len(b) != 16 {
		t.Fatalf("MarshalBinary returned %d bytes, want 16", len(b))
	}
	got := ContentHashFromBytes(b)
	if got != h {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestResourceIdBinaryRoundTrip(t *testing.T) {
	g, _ := ParseGuid("12345678-1234-5678-1234-567812345678")
	r := ResourceId{Id: g, Type: 0xdeadbeef, Variant: 7}
	b := r.MarshalBinary()
	if len(b) != 24 {
		t.Fatalf("MarshalBinary returned %d bytes, want 24", len(b))
	}
	got := ResourceIdFromBytes(b)
	if got != r {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, r)
	}
}

func TestResourceIdLess(t *testing.T) {
	a := ResourceId{Id: Guid{0x01}}
	b := ResourceId{Id: Guid{0x02}}
	if !a.Less(b) || b.Less(a) {
		t.Error("Less should give a strict total order on Id bytes")
	}
}
