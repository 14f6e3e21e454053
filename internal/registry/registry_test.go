package registry

import (
	"path/filepath"
	"testing"

	"github.com/kfc-tools/kfc/internal/hashio"
)

// buildSample constructs: u32 (primitive), Animal (struct, base),
// Dog (struct, parent Animal, extra field), Color (enum, u32 storage).
func buildSample() *Registry {
	types := []Type{
		0: {QualifiedName: "uint32", Name: "uint32", PrimitiveKind: KindUInt32, Size: 4, Alignment: 4},
		1: {
			QualifiedName: "Animal", Name: "Animal", PrimitiveKind: KindStruct, Size: 4, Alignment: 4, Inner: NoType,
			StructFields: []Field{{Name: "legs", Type: 0, Offset: 0}},
		},
		2: {
			QualifiedName: "Dog", Name: "Dog", PrimitiveKind: KindStruct, Size: 8, Alignment: 4, Inner: 1,
			StructFields: []Field{{Name: "bark_volume", Type: 0, Offset: 4}},
		},
		3: {
			QualifiedName: "Color", Name: "Color", PrimitiveKind: KindEnum, Size: 4, Alignment: 4, Inner: 0,
			EnumFields: []EnumField{{Name: "Red", Value: 0}, {Name: "Blue", Value: 1}},
		},
	}
	for i := range types {
		types[i].QualifiedHash = hashio.FNV32aString(types[i].QualifiedName)
	}
	return New(types, "v1")
}

func TestLookups(t *testing.T) {
	r := buildSample()
	idx, ok := r.GetByName(LookupQualifiedName, "Dog")
	if !ok || idx != 2 {
		t.Fatalf("GetByName(Dog) = %v, %v", idx, ok)
	}
	idx2, ok := r.GetByHash(LookupQualifiedHash, hashio.FNV32aString("Dog"))
	if !ok || idx2 != idx {
		t.Fatalf("GetByHash(Dog) = %v, %v", idx2, ok)
	}
	if _, ok := r.GetByName(LookupQualifiedName, "Cat"); ok {
		t.Fatal("unexpected hit for unknown type")
	}
}

func TestIsSubType(t *testing.T) {
	r := buildSample()
	if !r.IsSubType(1, 2) {
		t.Error("Dog should be a subtype of Animal")
	}
	if r.IsSubType(2, 1) {
		t.Error("Animal should not be a subtype of Dog")
	}
	if !r.IsSubType(1, 1) {
		t.Error("a type should be its own subtype (identity)")
	}
}

func TestIterFieldsInheritance(t *testing.T) {
	r := buildSample()
	fields := r.IterFields(2) // Dog
	if len(fields) != 2 {
		t.Fatalf("expected 2 fields (inherited + own), got %d", len(fields))
	}
	if fields[0].Name != "legs" || fields[1].Name != "bark_volume" {
		t.Fatalf("expected parent field before child field, got %+v", fields)
	}
}

func TestGetInnerTypeCollapsesTypedefs(t *testing.T) {
	types := []Type{
		0: {QualifiedName: "uint32", PrimitiveKind: KindUInt32, Size: 4},
		1: {QualifiedName: "Meters", PrimitiveKind: KindTypedef, Inner: 0, Size: 4},
		2: {QualifiedName: "Altitude", PrimitiveKind: KindTypedef, Inner: 1, Size: 4},
	}
	r := New(types, "v1")
	if got := r.GetInnerType(2); got != 0 {
		t.Errorf("GetInnerType(Altitude) = %d, want 0 (uint32)", got)
	}
}

func TestValidateDetectsOverlap(t *testing.T) {
	types := []Type{
		0: {QualifiedName: "uint32", PrimitiveKind: KindUInt32, Size: 4},
		1: {
			QualifiedName: "Bad", PrimitiveKind: KindStruct, Size: 4, Inner: NoType,
			StructFields: []Field{
				{Name: "a", Type: 0, Offset: 0},
				{Name: "b", Type: 0, Offset: 2}, // overlaps a
			},
		},
	}
	r := New(types, "v1")
	if err := r.Validate(); err == nil {
		t.Fatal("expected overlap to be detected")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	r := buildSample()
	dir := t.TempDir()
	path := filepath.Join(dir, "reflection_data.json")
	if err := SaveCache(path, r); err != nil {
		t.Fatal(err)
	}
	got, err := LoadCache(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != r.Version || len(got.Types) != len(r.Types) {
		t.Fatalf("cache round trip mismatch: %+v", got)
	}
	if idx, ok := got.GetByName(LookupQualifiedName, "Dog"); !ok || idx != 2 {
		t.Fatalf("loaded cache lost its lookup index")
	}
}

func TestEnsureFreshReExtractsOnVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reflection_data.json")
	stale := buildSample()
	stale.Version = "old"
	if err := SaveCache(path, stale); err != nil {
		t.Fatal(err)
	}
	calls := 0
	extract := func() (*Registry, error) {
		calls++
		return buildSample(), nil
	}
	got, err := EnsureFresh(path, "new", extract)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("expected exactly one re-extraction, got %d", calls)
	}
	if got.Version != "new" {
		t.Fatalf("EnsureFresh did not tag the fresh registry with the new version")
	}

	calls = 0
	if _, err := EnsureFresh(path, "new", extract); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatal("EnsureFresh re-extracted despite a fresh cache on disk")
	}
}
