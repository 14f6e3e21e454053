// Package registry is the type registry (spec.md §3 "Type", §4.2 C4): the
// data model every other kfc component — the descriptor codec, the
// bytecode decompiler, the CLI's type filter — walks to make sense of raw
// archive bytes. It is built once (by extraction from a game executable, or
// by loading a cache file) and is read-only thereafter; every lookup method
// is safe for concurrent use by construction.
package registry

import "fmt"

// TypeIndex is a position into Registry.Types. NoType marks an absent
// optional reference (e.g. a Type with no Inner).
type TypeIndex int32

const NoType TypeIndex = -1

// PrimitiveKind is the closed set of representable field/type kinds from
// spec.md §3. Ds-prefixed kinds are recognized (for format completeness)
// but never materialized by the codec (spec.md §3, "core" clause).
type PrimitiveKind uint8

const (
	KindNone PrimitiveKind = iota
	KindBool
	KindUInt8
	KindUInt16
	KindUInt32
	KindUInt64
	KindSInt8
	KindSInt16
	KindSInt32
	KindSInt64
	KindFloat32
	KindFloat64
	KindEnum
	KindBitmask8
	KindBitmask16
	KindBitmask32
	KindBitmask64
	KindTypedef
	KindStruct
	KindStaticArray
	KindBlobArray
	KindBlobString
	KindBlobOptional
	KindBlobVariant
	KindObjectReference
	KindGuid
	KindDsArray
	KindDsString
	KindDsOptional
	KindDsVariant
)

func (k PrimitiveKind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("PrimitiveKind(%d)", k)
}

var kindNames = [...]string{
	"None", "Bool",
	"UInt8", "UInt16", "UInt32", "UInt64",
	"SInt8", "SInt16", "SInt32", "SInt64",
	"Float32", "Float64",
	"Enum",
	"Bitmask8", "Bitmask16", "Bitmask32", "Bitmask64",
	"Typedef", "Struct", "StaticArray",
	"BlobArray", "BlobString", "BlobOptional", "BlobVariant",
	"ObjectReference", "Guid",
	"DsArray", "DsString", "DsOptional", "DsVariant",
}

// Flags records container-dependent capabilities of a type (spec.md §3).
type Flags uint8

const (
	FlagHasDynamicArray Flags = 1 << iota
	FlagHasBlobArray
	FlagHasBlobString
	FlagHasBlobOptional
	FlagHasBlobVariant
	FlagIsGpuUniform
	FlagIsGpuStorage
	FlagIsGpuConstant
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Attribute is a named, typed literal attached to a type or field.
type Attribute struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Type      string `json:"type"`
	Literal   string `json:"literal"`
}

// Field is one entry of a struct's insertion-ordered field list.
type Field struct {
	Name       string      `json:"name"`
	Type       TypeIndex   `json:"type_index"`
	Offset     uint16      `json:"offset"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// EnumField is one name→value entry of an enum's insertion-ordered member list.
type EnumField struct {
	Name  string `json:"name"`
	Value int64  `json:"value"`
}

// Type is one entry of the registry (spec.md §3).
type Type struct {
	QualifiedName string   `json:"qualified_name"`
	Name          string   `json:"name"`
	ImpactName    string   `json:"impact_name,omitempty"`
	Namespace     []string `json:"namespace,omitempty"`

	Size             uint16 `json:"size"`
	Alignment        uint16 `json:"alignment"`
	ElementAlignment uint16 `json:"element_alignment"`

	PrimitiveKind PrimitiveKind `json:"primitive_kind"`
	Flags         Flags         `json:"flags"`

	QualifiedHash uint32 `json:"qualified_hash"`
	InternalHash  uint32 `json:"internal_hash"`
	NameHash      uint32 `json:"name_hash"`
	ImpactHash    uint32 `json:"impact_hash,omitempty"`

	// Inner is the variant payload type / array element type / typedef
	// target / enum-or-bitmask storage kind / struct parent, depending on
	// PrimitiveKind. NoType if absent.
	Inner TypeIndex `json:"inner"`

	StructFields []Field     `json:"struct_fields,omitempty"`
	EnumFields   []EnumField `json:"enum_fields,omitempty"`

	DefaultValue []byte      `json:"default_value,omitempty"`
	Attributes   []Attribute `json:"attributes,omitempty"`
}

// FieldCount is struct_fields.len() + enum_fields.len(), the quantity
// spec.md §3 invariant (d) requires to stay consistent with the extractor's
// field_count.
func (t *Type) FieldCount() int { return len(t.StructFields) + len(t.EnumFields) }

// LookupKey enumerates the four ways a type can be found by hash or name.
type LookupKey int

const (
	LookupQualifiedHash LookupKey = iota
	LookupImpactHash
	LookupQualifiedName
	LookupImpactName
)

// Registry is the full set of types extracted from (or cached for) one game
// build, plus the four lookup indices spec.md §4.2 describes.
type Registry struct {
	Types   []Type `json:"types"`
	Version string `json:"version"` // version tag this registry was extracted/cached against

	byQualifiedHash map[uint32]TypeIndex
	byImpactHash    map[uint32]TypeIndex
	byQualifiedName map[string]TypeIndex
	byImpactName    map[string]TypeIndex
}

// New builds a Registry from a fully-populated type slice, indexing it for
// lookup. Hashes are expected to already be set on each Type (the extractor
// computes them from PE data; a hand-built registry in tests may compute
// them with hashio.FNV32aString).
func New(types []Type, version string) *Registry {
	r := &Registry{
		Types:           types,
		Version:         version,
		byQualifiedHash: make(map[uint32]TypeIndex, len(types)),
		byImpactHash:    make(map[uint32]TypeIndex, len(types)),
		byQualifiedName: make(map[string]TypeIndex, len(types)),
		byImpactName:    make(map[string]TypeIndex, len(types)),
	}
	for i, t := range types {
		idx := TypeIndex(i)
		r.byQualifiedHash[t.QualifiedHash] = idx
		if t.ImpactName != "" {
			r.byImpactHash[t.ImpactHash] = idx
			r.byImpactName[t.ImpactName] = idx
		}
		r.byQualifiedName[t.QualifiedName] = idx
	}
	return r
}

// Get returns the type at i. It panics on an out-of-range index, matching
// the registry's contract that every type reference in a valid registry
// resolves (spec.md §3 invariant (a)); out-of-range indices reaching here
// indicate a corrupt registry or a caller bug, not a recoverable input
// error.
func (r *Registry) Get(i TypeIndex) *Type {
	return &r.Types[i]
}

// GetByHash looks a type up by its qualified_hash or impact_hash.
func (r *Registry) GetByHash(kind LookupKey, h uint32) (TypeIndex, bool) {
	var m map[uint32]TypeIndex
	switch kind {
	case LookupQualifiedHash:
		m = r.byQualifiedHash
	case LookupImpactHash:
		m = r.byImpactHash
	default:
		return NoType, false
	}
	idx, ok := m[h]
	return idx, ok
}

// GetByName looks a type up by its qualified_name or impact_name.
func (r *Registry) GetByName(kind LookupKey, s string) (TypeIndex, bool) {
	var m map[string]TypeIndex
	switch kind {
	case LookupQualifiedName:
		m = r.byQualifiedName
	case LookupImpactName:
		m = r.byImpactName
	default:
		return NoType, false
	}
	idx, ok := m[s]
	return idx, ok
}
