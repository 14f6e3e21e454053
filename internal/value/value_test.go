package value

import (
	"strings"
	"testing"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
)

// buildItemRegistry wires one of everything the codec handles: a scalar, a
// BlobString, a BlobArray, a BlobOptional, a Guid, an ObjectReference, an
// Enum and a Bitmask32 field, plus a BlobVariant over a two-member type
// family, matching the byte layout table in spec.md §4.3.
func buildItemRegistry() (*registry.Registry, map[string]registry.TypeIndex) {
	types := []registry.Type{
		0:  {QualifiedName: "uint32", PrimitiveKind: registry.KindUInt32, Size: 4, Alignment: 4},
		1:  {QualifiedName: "int32", PrimitiveKind: registry.KindSInt32, Size: 4, Alignment: 4},
		2:  {QualifiedName: "float32", PrimitiveKind: registry.KindFloat32, Size: 4, Alignment: 4},
		3:  {QualifiedName: "BlobString", PrimitiveKind: registry.KindBlobString, Size: 8, Alignment: 4},
		4:  {QualifiedName: "BlobArray<uint32>", PrimitiveKind: registry.KindBlobArray, Inner: 0, Size: 8, Alignment: 4},
		5:  {QualifiedName: "BlobOptional<uint32>", PrimitiveKind: registry.KindBlobOptional, Inner: 0, Size: 4, Alignment: 4},
		6:  {QualifiedName: "Guid", PrimitiveKind: registry.KindGuid, Size: 16, Alignment: 4},
		7:  {QualifiedName: "ObjectReference", PrimitiveKind: registry.KindObjectReference, Size: 16, Alignment: 4},
		8: {
			QualifiedName: "Color", PrimitiveKind: registry.KindEnum, Inner: 0, Size: 4, Alignment: 4,
			EnumFields: []registry.EnumField{{Name: "Red", Value: 0}, {Name: "Blue", Value: 1}},
		},
		9: {
			QualifiedName: "Flags", PrimitiveKind: registry.KindBitmask32, Inner: 0, Size: 4, Alignment: 4,
			EnumFields: []registry.EnumField{{Name: "A", Value: 0}, {Name: "B", Value: 1}, {Name: "C", Value: 2}},
		},
		10: {
			QualifiedName: "Item", PrimitiveKind: registry.KindStruct, Inner: registry.NoType, Size: 64, Alignment: 4,
			StructFields: []registry.Field{
				{Name: "id", Type: 0, Offset: 0},
				{Name: "label", Type: 3, Offset: 4},
				{Name: "tags", Type: 4, Offset: 12},
				{Name: "nickname", Type: 5, Offset: 20},
				{Name: "owner", Type: 6, Offset: 24},
				{Name: "ref", Type: 7, Offset: 40},
				{Name: "color", Type: 8, Offset: 56},
				{Name: "flags", Type: 9, Offset: 60},
			},
		},
		11: {QualifiedName: "Shape", PrimitiveKind: registry.KindStruct, Inner: registry.NoType, Size: 0, Alignment: 4},
		12: {
			QualifiedName: "Circle", PrimitiveKind: registry.KindStruct, Inner: 11, Size: 4, Alignment: 4,
			StructFields: []registry.Field{{Name: "radius", Type: 2, Offset: 0}},
		},
		13: {QualifiedName: "Variant<Shape>", PrimitiveKind: registry.KindBlobVariant, Inner: 11, Size: 12, Alignment: 4},
		14: {
			QualifiedName: "Scene", PrimitiveKind: registry.KindStruct, Inner: registry.NoType, Size: 12, Alignment: 4,
			StructFields: []registry.Field{{Name: "shape", Type: 13, Offset: 0}},
		},
	}
	for i := range types {
		types[i].QualifiedHash = hashio.FNV32aString(types[i].QualifiedName)
	}
	reg := registry.New(types, "v1")
	names := map[string]registry.TypeIndex{
		"uint32": 0, "int32": 1, "float32": 2, "BlobString": 3, "BlobArray": 4,
		"BlobOptional": 5, "Guid": 6, "ObjectReference": 7, "Color": 8, "Flags": 9,
		"Item": 10, "Shape": 11, "Circle": 12, "Variant": 13, "Scene": 14,
	}
	return reg, names
}

func itemStruct(t *testing.T, guid ident.Guid, ref ident.ContentHash) *Struct {
	t.Helper()
	s := NewStruct()
	s.Set("id", VUInt(7))
	s.Set("label", VString("a sword"))
	s.Set("tags", VArray([]Value{VUInt(1), VUInt(2), VUInt(3)}))
	s.Set("nickname", VNone())
	s.Set("owner", VGuid(guid))
	s.Set("ref", VObjectRef(ref))
	s.Set("color", VString("Blue"))
	s.Set("flags", VArray([]Value{VString("A"), VString("C")}))
	return s
}

func TestCodecItemRoundTrip(t *testing.T) {
	reg, names := buildItemRegistry()
	guid, err := ident.ParseGuid("12345678-1234-5678-1234-567812345678")
	if err != nil {
		t.Fatal(err)
	}
	ref := ident.HashContent([]byte("sword.png"))

	in := VStruct(itemStruct(t, guid, ref))
	bytes, err := Write(reg, names["Item"], in)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if len(bytes) < 64 {
		t.Fatalf("expected at least 64 fixed bytes, got %d", len(bytes))
	}

	out, err := Read(reg, names["Item"], bytes, Human())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	wantID, _ := in.Obj.Get("id")
	gotID, _ := out.Obj.Get("id")
	if !wantID.Equal(gotID) {
		t.Errorf("id mismatch: %v != %v", wantID, gotID)
	}
	gotLabel, _ := out.Obj.Get("label")
	if gotLabel.Str != "a sword" {
		t.Errorf("label mismatch: %q", gotLabel.Str)
	}
	gotTags, _ := out.Obj.Get("tags")
	if len(gotTags.Arr) != 3 || gotTags.Arr[1].U != 2 {
		t.Errorf("tags mismatch: %v", gotTags)
	}
	gotNick, _ := out.Obj.Get("nickname")
	if gotNick.Kind != KNone {
		t.Errorf("nickname should round-trip to none, got %v", gotNick)
	}
	gotOwner, _ := out.Obj.Get("owner")
	if gotOwner.Gid != guid {
		t.Errorf("owner guid mismatch")
	}
	gotRef, _ := out.Obj.Get("ref")
	if !gotRef.Ref.Equal(ref) {
		t.Errorf("ref mismatch")
	}
	gotColor, _ := out.Obj.Get("color")
	if gotColor.Str != "Blue" {
		t.Errorf("color mismatch: %v", gotColor)
	}
	gotFlags, _ := out.Obj.Get("flags")
	names2 := map[string]bool{}
	for _, fv := range gotFlags.Arr {
		names2[fv.Str] = true
	}
	if !names2["A"] || !names2["C"] || names2["B"] {
		t.Errorf("flags mismatch: %v", gotFlags)
	}
}

func TestCodecCompactPreservesSemantics(t *testing.T) {
	reg, names := buildItemRegistry()
	guid := ident.Guid{}
	ref := ident.ContentHash{}
	in := VStruct(itemStruct(t, guid, ref))
	bytes, err := Write(reg, names["Item"], in)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Read(reg, names["Item"], bytes, Compact())
	if err != nil {
		t.Fatal(err)
	}
	color, _ := out.Obj.Get("color")
	if color.Kind != KUInt && color.Kind != KSInt {
		t.Errorf("Compact() should read enums as numbers, got %v", color)
	}
	flags, _ := out.Obj.Get("flags")
	if flags.Kind != KUInt {
		t.Errorf("Compact() should read bitmasks as a number, got %v", flags)
	}
}

func TestVariantRoundTrip(t *testing.T) {
	reg, names := buildItemRegistry()
	circle := NewStruct()
	circle.Set("radius", VFloat(2.5))
	scene := NewStruct()
	scene.Set("shape", VVariant(&Variant{Type: names["Circle"], Struct: circle}))

	bytes, err := Write(reg, names["Scene"], VStruct(scene))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(reg, names["Scene"], bytes, Human())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	shape, _ := out.Obj.Get("shape")
	if shape.Kind != KVariant || shape.Var == nil {
		t.Fatalf("expected a populated variant, got %v", shape)
	}
	if shape.Var.Type != names["Circle"] {
		t.Errorf("variant type mismatch: got %d want %d", shape.Var.Type, names["Circle"])
	}
	radius, _ := shape.Var.Struct.Get("radius")
	if radius.F != 2.5 {
		t.Errorf("radius mismatch: %v", radius)
	}
}

func TestVariantNoneRoundTrip(t *testing.T) {
	reg, names := buildItemRegistry()
	scene := NewStruct()
	scene.Set("shape", VVariant(nil))

	bytes, err := Write(reg, names["Scene"], VStruct(scene))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	out, err := Read(reg, names["Scene"], bytes, Human())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	shape, _ := out.Obj.Get("shape")
	if shape.Kind != KVariant || shape.Var != nil {
		t.Errorf("expected an empty variant, got %v", shape)
	}
}

func TestWriteRejectsVariantNotSubtype(t *testing.T) {
	reg, names := buildItemRegistry()
	// Item is not a subtype of Shape.
	notShape := NewStruct()
	notShape.Set("id", VUInt(1))
	scene := NewStruct()
	scene.Set("shape", VVariant(&Variant{Type: names["Item"], Struct: notShape}))

	_, err := Write(reg, names["Scene"], VStruct(scene))
	if err == nil {
		t.Fatal("expected ErrVariantNotSubtype")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Kind != ErrVariantNotSubtype {
		t.Fatalf("expected ErrVariantNotSubtype, got %v", err)
	}
}

func TestWriteRejectsMissingField(t *testing.T) {
	reg, names := buildItemRegistry()
	s := NewStruct()
	s.Set("id", VUInt(1))
	_, err := Write(reg, names["Item"], VStruct(s))
	if err == nil {
		t.Fatal("expected ErrMissingField")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Kind != ErrMissingField {
		t.Fatalf("expected ErrMissingField, got %v", err)
	}
	if !strings.Contains(ve.Path, "label") {
		t.Errorf("expected path to name the missing field, got %q", ve.Path)
	}
}

func TestWriteRejectsOutOfRangeInt(t *testing.T) {
	reg, names := buildItemRegistry()
	_, err := Write(reg, names["uint32"], VSInt(-1))
	if err == nil {
		t.Fatal("expected ErrIntegerOutOfRange")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Kind != ErrIntegerOutOfRange {
		t.Fatalf("expected ErrIntegerOutOfRange, got %v", err)
	}
}

func TestWriteAcceptsEnumAsNumberOrName(t *testing.T) {
	reg, names := buildItemRegistry()
	byName, err := Write(reg, names["Color"], VString("Blue"))
	if err != nil {
		t.Fatal(err)
	}
	byNumber, err := Write(reg, names["Color"], VUInt(1))
	if err != nil {
		t.Fatal(err)
	}
	if string(byName) != string(byNumber) {
		t.Errorf("enum name and numeric forms should encode identically")
	}
}

func TestWriteRejectsUnknownEnumValue(t *testing.T) {
	reg, names := buildItemRegistry()
	_, err := Write(reg, names["Color"], VUInt(99))
	if err == nil {
		t.Fatal("expected ErrInvalidEnumValue")
	}
	ve, ok := err.(*Error)
	if !ok || ve.Kind != ErrInvalidEnumValue {
		t.Fatalf("expected ErrInvalidEnumValue, got %v", err)
	}
}

func TestErrorPathAccumulatesThroughNesting(t *testing.T) {
	reg, names := buildItemRegistry()
	s := NewStruct()
	s.Set("id", VUInt(1))
	s.Set("label", VString("x"))
	s.Set("tags", VArray([]Value{VUInt(1), VSInt(-5)}))
	s.Set("nickname", VNone())
	s.Set("owner", VGuid(ident.Guid{}))
	s.Set("ref", VObjectRef(ident.ContentHash{}))
	s.Set("color", VString("Red"))
	s.Set("flags", VUInt(0))

	_, err := Write(reg, names["Item"], VStruct(s))
	if err == nil {
		t.Fatal("expected an out-of-range error from tags[1]")
	}
	ve, ok := err.(*Error)
	if !ok {
		t.Fatalf("expected *Error, got %T", err)
	}
	if ve.Path != "tags[1]" {
		t.Errorf("expected accumulated path tags[1], got %q", ve.Path)
	}
}

func TestJSONPreservesFieldOrder(t *testing.T) {
	s := NewStruct()
	s.Set("z", VUInt(1))
	s.Set("a", VUInt(2))
	s.Set("m", VUInt(3))
	out, err := Marshal(nil, VStruct(s))
	if err != nil {
		t.Fatal(err)
	}
	str := string(out)
	if strings.Index(str, "\"z\"") > strings.Index(str, "\"a\"") ||
		strings.Index(str, "\"a\"") > strings.Index(str, "\"m\"") {
		t.Errorf("expected insertion order z,a,m in output, got %s", str)
	}
}

func TestJSONVariantTagging(t *testing.T) {
	reg, names := buildItemRegistry()
	circle := NewStruct()
	circle.Set("radius", VFloat(1))
	out, err := Marshal(reg, VVariant(&Variant{Type: names["Circle"], Struct: circle}))
	if err != nil {
		t.Fatal(err)
	}
	str := string(out)
	if !strings.Contains(str, "$type") || !strings.Contains(str, "$value") {
		t.Errorf("expected $type/$value tagging, got %s", str)
	}
	if !strings.Contains(str, "\"Circle\"") {
		t.Errorf("expected $type to render the qualified_name \"Circle\", got %s", str)
	}
}

func TestJSONVariantRoundTripsTypeName(t *testing.T) {
	reg, names := buildItemRegistry()
	circle := NewStruct()
	circle.Set("radius", VFloat(2))
	v := VVariant(&Variant{Type: names["Circle"], Struct: circle})
	out, err := Marshal(reg, v)
	if err != nil {
		t.Fatal(err)
	}
	var tree map[string]interface{}
	if err := jsonAPI.Unmarshal(out, &tree); err != nil {
		t.Fatal(err)
	}
	got := FromJSON(reg, tree)
	if got.Kind != KVariant || got.Var == nil {
		t.Fatalf("expected a variant, got %+v", got)
	}
	if got.Var.Type != names["Circle"] {
		t.Errorf("variant type = %d, want %d (Circle)", got.Var.Type, names["Circle"])
	}
}
