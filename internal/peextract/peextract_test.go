package peextract

import (
	"encoding/binary"
	"testing"

	"github.com/kfc-tools/kfc/internal/registry"
)

func TestFindAnchorRVAs(t *testing.T) {
	rdata := append([]byte{0xAA, 0xAA}, "\x00uint32\x00BlobString\x00"...)
	anchors := findAnchorRVAs(rdata, 0x1000)
	u32RVA, ok := anchors["uint32"]
	if !ok {
		t.Fatal("expected to find uint32 anchor")
	}
	if got := readCString(rdata, u32RVA-0x1000); got != "uint32" {
		t.Errorf("anchor RVA did not point at the literal, got %q", got)
	}
	if _, ok := anchors["BlobString"]; !ok {
		t.Error("expected to find BlobString anchor")
	}
}

func TestReadCString(t *testing.T) {
	data := []byte("hello\x00world\x00")
	if got := readCString(data, 0); got != "hello" {
		t.Errorf("readCString(0) = %q", got)
	}
	if got := readCString(data, 6); got != "world" {
		t.Errorf("readCString(6) = %q", got)
	}
}

func TestDecodeRawTypeDesc(t *testing.T) {
	buf := make([]byte, typeDescSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0x00:], 0x100) // qualifiedNameRVA
	le.PutUint32(buf[0x04:], 0x110) // nameRVA
	le.PutUint16(buf[0x10:], 8)     // size
	le.PutUint16(buf[0x12:], 4)     // alignment
	buf[0x16] = byte(registry.KindStruct)
	le.PutUint32(buf[0x18:], 0x200) // innerRVA
	le.PutUint32(buf[0x1C:], 0x300) // fieldsArrayRVA
	le.PutUint32(buf[0x20:], 2)     // fieldCount

	rd := decodeRawTypeDesc(buf, 0)
	if rd.qualifiedNameRVA != 0x100 || rd.size != 8 || rd.alignment != 4 {
		t.Fatalf("unexpected decode: %+v", rd)
	}
	if registry.PrimitiveKind(rd.primitiveKind) != registry.KindStruct {
		t.Errorf("primitiveKind = %d", rd.primitiveKind)
	}
	if rd.innerRVA != 0x200 || rd.fieldsArrayRVA != 0x300 || rd.fieldCount != 2 {
		t.Fatalf("unexpected cross references: %+v", rd)
	}
}

// buildSyntheticRdata builds a single contiguous byte buffer mimicking the
// relevant slice of .rdata: two type descriptors (a uint32 leaf and a
// two-field struct pointing back at it), their name literals, and one
// field entry array — enough to exercise walker end to end without a real
// PE file.
func buildSyntheticRdata() (data []byte, uint32DescRVA, vecDescRVA uint32) {
	const (
		nameU32Off    = 0x08 // not 0: the walker reads RVA 0 as "no string"
		nameVecOff    = 0x10
		nameXOff      = 0x20
		nameYOff      = 0x24
		fieldArrayOff = 0x40
		u32DescOff    = 0x80
		vecDescOff    = 0x80 + typeDescSize
	)
	size := vecDescOff + typeDescSize
	data = make([]byte, size)
	copy(data[nameU32Off:], "uint32\x00")
	copy(data[nameVecOff:], "Vec2\x00")
	copy(data[nameXOff:], "x\x00")
	copy(data[nameYOff:], "y\x00")

	le := binary.LittleEndian
	le.PutUint32(data[u32DescOff+0x00:], nameU32Off)
	le.PutUint32(data[u32DescOff+0x04:], nameU32Off)
	le.PutUint16(data[u32DescOff+0x10:], 4)
	le.PutUint16(data[u32DescOff+0x12:], 4)
	data[u32DescOff+0x16] = byte(registry.KindUInt32)

	le.PutUint32(data[vecDescOff+0x00:], nameVecOff)
	le.PutUint32(data[vecDescOff+0x04:], nameVecOff)
	le.PutUint16(data[vecDescOff+0x10:], 8)
	le.PutUint16(data[vecDescOff+0x12:], 4)
	data[vecDescOff+0x16] = byte(registry.KindStruct)
	le.PutUint32(data[vecDescOff+0x1C:], fieldArrayOff)
	le.PutUint32(data[vecDescOff+0x20:], 2)

	le.PutUint32(data[fieldArrayOff+0x00:], nameXOff)
	le.PutUint32(data[fieldArrayOff+0x04:], u32DescOff)
	le.PutUint16(data[fieldArrayOff+0x08:], 0)

	le.PutUint32(data[fieldArrayOff+fieldEntrySize+0x00:], nameYOff)
	le.PutUint32(data[fieldArrayOff+fieldEntrySize+0x04:], u32DescOff)
	le.PutUint16(data[fieldArrayOff+fieldEntrySize+0x08:], 4)

	return data, u32DescOff, vecDescOff
}

func TestWalkerBuildsStructWithFieldTypeResolution(t *testing.T) {
	data, u32DescRVA, vecDescRVA := buildSyntheticRdata()
	identity := func(rva uint32) (uint32, bool) { return rva, true }

	w := &walker{
		data:        data,
		rvaToOffset: identity,
		rvaToIndex:  make(map[uint32]registry.TypeIndex),
		raw:         make(map[registry.TypeIndex]rawTypeDesc),
	}
	w.enqueue(vecDescRVA)
	if err := w.drain(); err != nil {
		t.Fatal(err)
	}
	types := w.build()

	reg := registry.New(types, "test")
	vecIdx, ok := reg.GetByName(registry.LookupQualifiedName, "Vec2")
	if !ok {
		t.Fatal("Vec2 not found")
	}
	fields := reg.IterFields(vecIdx)
	if len(fields) != 2 || fields[0].Name != "x" || fields[1].Name != "y" {
		t.Fatalf("unexpected fields: %+v", fields)
	}
	u32Idx, ok := reg.GetByName(registry.LookupQualifiedName, "uint32")
	if !ok || fields[0].Type != u32Idx {
		t.Fatalf("field x should resolve to the discovered uint32 descriptor")
	}
	_ = u32DescRVA
}
