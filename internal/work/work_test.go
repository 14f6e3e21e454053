package work

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/kfc-tools/kfc/internal/container"
	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
	"github.com/kfc-tools/kfc/internal/value"
)

func itemResourceRegistry() (*registry.Registry, registry.TypeIndex) {
	types := []registry.Type{
		0: {QualifiedName: "uint32", PrimitiveKind: registry.KindUInt32, Size: 4, Alignment: 4},
		1: {QualifiedName: "BlobString", PrimitiveKind: registry.KindBlobString, Size: 8, Alignment: 4},
		2: {
			QualifiedName: "ItemResource", PrimitiveKind: registry.KindStruct, Inner: registry.NoType, Size: 12, Alignment: 4,
			StructFields: []registry.Field{
				{Name: "id", Type: 0, Offset: 0},
				{Name: "name", Type: 1, Offset: 4},
			},
		},
	}
	for i := range types {
		types[i].QualifiedHash = hashio.FNV32aString(types[i].QualifiedName)
	}
	return registry.New(types, "v1"), 2
}

func newItem(name string, n uint32) *value.Struct {
	s := value.NewStruct()
	s.Set("id", value.VUInt(uint64(n)))
	s.Set("name", value.VString(name))
	return s
}

type memSink struct {
	mu    sync.Mutex
	files map[ident.ResourceId][]byte
}

func (s *memSink) Put(id ident.ResourceId, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = data
	return nil
}

func newGuid(t *testing.T) ident.Guid {
	t.Helper()
	u, err := uuid.NewRandom()
	if err != nil {
		t.Fatal(err)
	}
	return ident.Guid(u)
}

// TestUnpackRepackRoundTrip unpacks three ItemResource descriptors to JSON
// (spec.md §6 end-to-end scenario 2), then repacks those JSON files into a
// fresh archive and checks every resource's descriptor bytes are
// unchanged (scenario 3's determinism, restricted to the bytes that
// matter to this test — per-resource content rather than the whole file).
func TestUnpackRepackRoundTrip(t *testing.T) {
	reg, itemType := itemResourceRegistry()
	dir := t.TempDir()
	path := filepath.Join(dir, "game.gda")

	w, err := container.NewWriter(path, "v1")
	if err != nil {
		t.Fatal(err)
	}
	var ids []ident.ResourceId
	for i, name := range []string{"sword", "shield", "potion"} {
		data, err := value.Write(reg, itemType, value.VStruct(newItem(name, uint32(i))))
		if err != nil {
			t.Fatal(err)
		}
		id := ident.ResourceId{Id: newGuid(t), Type: reg.Get(itemType).QualifiedHash}
		if err := w.WriteResource(id, data); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	r, err := container.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	render := func(id ident.ResourceId, raw []byte) ([]byte, error) {
		return RenderJSON(reg, id, raw, value.Human())
	}
	sink := &memSink{files: make(map[ident.ResourceId][]byte)}
	stats, err := Unpack(context.Background(), r, r.Resources(), 2, true, render, sink, nil, t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Succeeded != 3 || stats.Failed != 0 {
		t.Fatalf("stats = %+v, want 3 succeeded, 0 failed", stats)
	}
	for _, id := range ids {
		data, ok := sink.files[id]
		if !ok {
			t.Fatalf("missing unpacked file for %s", id)
		}
		var tree map[string]interface{}
		if err := envelopeJSON.Unmarshal(data, &tree); err != nil {
			t.Fatal(err)
		}
		if tree[envelopeResourceID] != id.Id.String() {
			t.Errorf("resourceId = %v, want %s", tree[envelopeResourceID], id.Id.String())
		}
		if _, ok := tree["name"]; !ok {
			t.Errorf("expected a name field in %s", data)
		}
	}

	path2 := filepath.Join(dir, "game2.gda")
	w2, err := container.NewWriter(path2, "v1")
	if err != nil {
		t.Fatal(err)
	}
	sources := make(chan []byte, len(ids))
	for _, id := range ids {
		sources <- sink.files[id]
	}
	close(sources)
	parse := func(raw []byte) (ident.ResourceId, []byte, error) { return ParseJSON(reg, raw) }
	rstats, err := Repack(context.Background(), w2, sources, 2, parse, nil, t.Logf)
	if err != nil {
		t.Fatal(err)
	}
	if rstats.Succeeded != 3 || rstats.Failed != 0 {
		t.Fatalf("repack stats = %+v, want 3 succeeded, 0 failed", rstats)
	}
	if err := w2.Finalize(); err != nil {
		t.Fatal(err)
	}

	r2, err := container.Open(path2, false)
	if err != nil {
		t.Fatal(err)
	}
	defer r2.Close()
	for _, id := range ids {
		got, err := r2.ReadResource(id)
		if err != nil {
			t.Fatalf("resource %s missing after repack: %v", id, err)
		}
		want, err := r.ReadResource(id)
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != string(want) {
			t.Errorf("resource %s bytes changed across repack", id)
		}
	}
}

func TestUnpackCountsPerItemFailuresWithoutAborting(t *testing.T) {
	reg, itemType := itemResourceRegistry()
	dir := t.TempDir()
	path := filepath.Join(dir, "game.gda")

	w, err := container.NewWriter(path, "v1")
	if err != nil {
		t.Fatal(err)
	}
	okID := ident.ResourceId{Id: newGuid(t), Type: reg.Get(itemType).QualifiedHash}
	data, err := value.Write(reg, itemType, value.VStruct(newItem("sword", 1)))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteResource(okID, data); err != nil {
		t.Fatal(err)
	}
	// A resource whose type hash isn't in the registry: RenderJSON fails
	// for it, but the batch should still succeed on okID.
	badID := ident.ResourceId{Id: newGuid(t), Type: 0xDEADBEEF}
	if err := w.WriteResource(badID, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	if err := w.Finalize(); err != nil {
		t.Fatal(err)
	}

	r, err := container.Open(path, false)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	render := func(id ident.ResourceId, raw []byte) ([]byte, error) {
		return RenderJSON(reg, id, raw, value.Human())
	}
	sink := &memSink{files: make(map[ident.ResourceId][]byte)}
	var loggedErrors int
	stats, err := Unpack(context.Background(), r, r.Resources(), 1, true, render, sink, nil, func(string, ...interface{}) { loggedErrors++ })
	if err != nil {
		t.Fatal(err)
	}
	if stats.Succeeded != 1 || stats.Failed != 1 {
		t.Fatalf("stats = %+v, want 1 succeeded, 1 failed", stats)
	}
	if loggedErrors != 1 {
		t.Errorf("expected 1 logged failure, got %d", loggedErrors)
	}
	if _, ok := sink.files[okID]; !ok {
		t.Error("expected okID to have been unpacked despite badID's failure")
	}
}

func TestParseFilter(t *testing.T) {
	reg, itemType := itemResourceRegistry()
	itemHash := reg.Get(itemType).QualifiedHash

	all, err := ParseFilter("*", reg)
	if err != nil {
		t.Fatal(err)
	}
	id := ident.ResourceId{Id: newGuid(t), Type: itemHash}
	if !all.Match(id) {
		t.Error("\"*\" should match everything")
	}

	byType, err := ParseFilter("tItemResource", reg)
	if err != nil {
		t.Fatal(err)
	}
	if !byType.Match(id) {
		t.Error("expected a t<name> filter to match a resource of that type")
	}
	other := ident.ResourceId{Id: newGuid(t), Type: 0x1234}
	if byType.Match(other) {
		t.Error("t<name> filter matched a resource of a different type")
	}

	byID, err := ParseFilter(id.Id.String(), reg)
	if err != nil {
		t.Fatal(err)
	}
	if !byID.Match(id) || byID.Match(other) {
		t.Error("guid filter should match only that resource")
	}

	if _, err := ParseFilter("tNoSuchType", reg); err == nil {
		t.Fatal("expected an error for an unknown type name")
	}
}
