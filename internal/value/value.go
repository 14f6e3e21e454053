// Package value implements the descriptor value tree (spec.md §3 "Value
// tree", C6) and the reflective codec that converts it to and from a
// descriptor's binary representation (spec.md §4.3), guided by a
// *registry.Registry.
package value

import (
	"fmt"

	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
)

// Kind discriminates the tagged union described in spec.md §3.
type Kind uint8

const (
	KNone Kind = iota
	KBool
	KUInt
	KSInt
	KFloat
	KString
	KArray
	KStruct
	KVariant
	KGuid
	KObjectRef
)

// Struct is an insertion-ordered name→Value map, used both for Value's
// KStruct payload and as the payload of a KVariant's concrete struct. Maps
// in Go have no defined iteration order, so this keeps an explicit key
// slice alongside a lookup index — the same shape the teacher's squashfs
// writer uses for its insertion-ordered directory entries.
type Struct struct {
	keys []string
	vals map[string]Value
}

// NewStruct returns an empty, insertion-ordered struct value.
func NewStruct() *Struct {
	return &Struct{vals: make(map[string]Value)}
}

// Set appends key (if new) or overwrites it in place (if already present),
// preserving first-insertion order.
func (s *Struct) Set(key string, v Value) {
	if _, ok := s.vals[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.vals[key] = v
}

// Get returns the value at key.
func (s *Struct) Get(key string) (Value, bool) {
	v, ok := s.vals[key]
	return v, ok
}

// Keys returns the fields in insertion order.
func (s *Struct) Keys() []string { return s.keys }

// Len returns the number of fields.
func (s *Struct) Len() int { return len(s.keys) }

// Variant is a polymorphic struct value: a concrete subtype plus its field
// map (spec.md §3 "Value tree").
type Variant struct {
	Type   registry.TypeIndex
	Struct *Struct
}

// Value is the tagged union described in spec.md §3. Only the field(s)
// matching Kind are meaningful; zero values elsewhere.
type Value struct {
	Kind Kind

	B   bool
	U   uint64
	S   int64
	F   float64
	Str string
	Arr []Value
	Obj *Struct
	Var *Variant
	Gid ident.Guid
	Ref ident.ContentHash
}

func VNone() Value                { return Value{Kind: KNone} }
func VBool(b bool) Value          { return Value{Kind: KBool, B: b} }
func VUInt(u uint64) Value        { return Value{Kind: KUInt, U: u} }
func VSInt(s int64) Value         { return Value{Kind: KSInt, S: s} }
func VFloat(f float64) Value      { return Value{Kind: KFloat, F: f} }
func VString(s string) Value      { return Value{Kind: KString, Str: s} }
func VArray(vs []Value) Value     { return Value{Kind: KArray, Arr: vs} }
func VStruct(s *Struct) Value     { return Value{Kind: KStruct, Obj: s} }
func VVariant(v *Variant) Value   { return Value{Kind: KVariant, Var: v} }
func VGuid(g ident.Guid) Value    { return Value{Kind: KGuid, Gid: g} }
func VObjectRef(h ident.ContentHash) Value {
	return Value{Kind: KObjectRef, Ref: h}
}

// AsInt returns v's numeric payload as a signed int64 regardless of whether
// it was stored as KUInt or KSInt, for write-side coercions that accept
// either signedness (spec.md §4.3 "Write coercions").
func (v Value) AsInt() (int64, bool) {
	switch v.Kind {
	case KUInt:
		return int64(v.U), true
	case KSInt:
		return v.S, true
	}
	return 0, false
}

// Equal reports deep, semantic equality between two values — used by the
// codec round-trip property tests (spec.md §8).
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KNone:
		return true
	case KBool:
		return v.B == o.B
	case KUInt:
		return v.U == o.U
	case KSInt:
		return v.S == o.S
	case KFloat:
		return v.F == o.F || (v.F != v.F && o.F != o.F) // NaN == NaN for our purposes
	case KString:
		return v.Str == o.Str
	case KArray:
		if len(v.Arr) != len(o.Arr) {
			return false
		}
		for i := range v.Arr {
			if !v.Arr[i].Equal(o.Arr[i]) {
				return false
			}
		}
		return true
	case KStruct:
		return v.Obj.equal(o.Obj)
	case KVariant:
		if v.Var.Type != o.Var.Type {
			return false
		}
		return v.Var.Struct.equal(o.Var.Struct)
	case KGuid:
		return v.Gid == o.Gid
	case KObjectRef:
		return v.Ref.Equal(o.Ref)
	}
	return false
}

func (s *Struct) equal(o *Struct) bool {
	if s == nil || o == nil {
		return s == o
	}
	if len(s.keys) != len(o.keys) {
		return false
	}
	for _, k := range s.keys {
		a, ok := s.Get(k)
		if !ok {
			return false
		}
		b, ok := o.Get(k)
		if !ok {
			return false
		}
		if !a.Equal(b) {
			return false
		}
	}
	return true
}

func (v Value) String() string {
	switch v.Kind {
	case KNone:
		return "none"
	case KBool:
		return fmt.Sprintf("%v", v.B)
	case KUInt:
		return fmt.Sprintf("%d", v.U)
	case KSInt:
		return fmt.Sprintf("%d", v.S)
	case KFloat:
		return fmt.Sprintf("%g", v.F)
	case KString:
		return v.Str
	case KGuid:
		return v.Gid.String()
	case KObjectRef:
		return v.Ref.String()
	default:
		return fmt.Sprintf("<%T kind=%d>", v, v.Kind)
	}
}
