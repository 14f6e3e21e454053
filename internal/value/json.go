package value

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	variantTypeKey  = "$type"
	variantValueKey = "$value"
)

// ToJSON renders v as a jsoniter-compatible tree (map[string]interface{},
// []interface{}, and scalars) honoring insertion order for structs via an
// ordered map wrapper, and the $type/$value convention for variants
// (spec.md §3 "JSON projection"). reg resolves a variant's concrete
// registry.TypeIndex to its qualified_name for $type; it may be nil for
// values with no variant field.
func ToJSON(reg *registry.Registry, v Value) (interface{}, error) {
	switch v.Kind {
	case KNone:
		return nil, nil
	case KBool:
		return v.B, nil
	case KUInt:
		return v.U, nil
	case KSInt:
		return v.S, nil
	case KFloat:
		return v.F, nil
	case KString:
		return v.Str, nil
	case KGuid:
		return v.Gid.String(), nil
	case KObjectRef:
		// The 16-byte wire form in hex-group notation, which the write-side
		// coercion parses back.
		var g ident.Guid
		copy(g[:], v.Ref.MarshalBinary())
		return g.String(), nil
	case KArray:
		out := make([]interface{}, len(v.Arr))
		for i, ev := range v.Arr {
			jv, err := ToJSON(reg, ev)
			if err != nil {
				return nil, withPath(indexPath(int64(i)), err)
			}
			out[i] = jv
		}
		return out, nil
	case KStruct:
		return structToJSON(reg, v.Obj)
	case KVariant:
		if v.Var == nil {
			return nil, nil
		}
		fields, err := structToJSON(reg, v.Var.Struct)
		if err != nil {
			return nil, err
		}
		om := newOrderedMap()
		om.set(variantTypeKey, variantTypeName(reg, v.Var.Type))
		om.set(variantValueKey, fields)
		return om, nil
	}
	return nil, newErr(ErrIncompatibleType, "", "unrepresentable value kind %d", v.Kind)
}

// variantTypeName renders a variant's concrete type as its qualified_name
// (spec.md §3 "$type: <qualified_name>"); it falls back to the bare index
// when reg is nil, which only happens for ad hoc values built outside the
// normal read/write path.
func variantTypeName(reg *registry.Registry, t registry.TypeIndex) interface{} {
	if reg == nil {
		return int32(t)
	}
	return reg.Get(t).QualifiedName
}

func structToJSON(reg *registry.Registry, s *Struct) (*orderedMap, error) {
	om := newOrderedMap()
	if s == nil {
		return om, nil
	}
	for _, k := range s.Keys() {
		fv, _ := s.Get(k)
		jv, err := ToJSON(reg, fv)
		if err != nil {
			return nil, withPath(k, err)
		}
		om.set(k, jv)
	}
	return om, nil
}

// Marshal renders v as canonical JSON text, preserving struct field order.
func Marshal(reg *registry.Registry, v Value) ([]byte, error) {
	tree, err := ToJSON(reg, v)
	if err != nil {
		return nil, err
	}
	return jsonAPI.Marshal(tree)
}

// KV is an extra key/value pair injected ahead of a struct's own fields by
// MarshalWithPrefix.
type KV struct {
	Key   string
	Value interface{}
}

// MarshalWithPrefix renders v (which must be KStruct) as canonical JSON
// with prefix's pairs emitted before the struct's own fields, in order —
// used to stamp a resource's id and type onto its descriptor JSON without
// the registry or codec needing any notion of that envelope.
func MarshalWithPrefix(reg *registry.Registry, v Value, prefix []KV) ([]byte, error) {
	if v.Kind != KStruct {
		return nil, newErr(ErrIncompatibleType, "", "expected struct, got %v", v)
	}
	fields, err := structToJSON(reg, v.Obj)
	if err != nil {
		return nil, err
	}
	om := newOrderedMap()
	for _, kv := range prefix {
		om.set(kv.Key, kv.Value)
	}
	for _, k := range fields.keys {
		om.set(k, fields.vals[k])
	}
	return jsonAPI.Marshal(om)
}

// orderedMap is a minimal insertion-ordered string-keyed map that marshals
// to a JSON object with its keys in Set order — jsoniter (like
// encoding/json) otherwise sorts map[string]interface{} keys alphabetically,
// which would break byte-identical round trips (spec.md §3).
type orderedMap struct {
	keys []string
	vals map[string]interface{}
}

func newOrderedMap() *orderedMap {
	return &orderedMap{vals: make(map[string]interface{})}
}

func (m *orderedMap) set(key string, v interface{}) {
	if _, ok := m.vals[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.vals[key] = v
}

func (m *orderedMap) MarshalJSON() ([]byte, error) {
	buf := make([]byte, 0, 256)
	buf = append(buf, '{')
	for i, k := range m.keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		kb, err := jsonAPI.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf = append(buf, kb...)
		buf = append(buf, ':')
		vb, err := jsonAPI.Marshal(m.vals[k])
		if err != nil {
			return nil, err
		}
		buf = append(buf, vb...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// FromJSON builds a Value from a decoded JSON tree (as produced by
// jsoniter's default map[string]interface{}/[]interface{}/float64/string/
// bool/nil decoding), interpreting the $type/$value convention as a
// KVariant: reg resolves $type's qualified_name back to a registry.TypeIndex
// (a $type that names no known type is silently dropped to a nil variant;
// the write-side coercion in write.go is what ultimately reports that
// error with a value path attached). Most scalar disambiguation (string vs.
// Guid vs. ObjectReference, int vs. enum vs. bitmask) is likewise left to
// the codec's coercion layer (write.go), which knows the declared field
// type; this only needs to produce a reasonably-shaped Value tree.
func FromJSON(reg *registry.Registry, raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return VNone()
	case bool:
		return VBool(t)
	case float64:
		return numberFromFloat64(t)
	case string:
		return stringOrGuid(t)
	case []interface{}:
		arr := make([]Value, len(t))
		for i, ev := range t {
			arr[i] = FromJSON(reg, ev)
		}
		return VArray(arr)
	case map[string]interface{}:
		return structOrVariantFromJSON(reg, t)
	}
	return VNone()
}

// numberFromFloat64 keeps integral JSON numbers in the signed-integer lane
// and only falls back to KFloat for genuinely fractional values; the write
// coercions (write.go) accept either lane for integer targets regardless.
func numberFromFloat64(f float64) Value {
	if f == float64(int64(f)) {
		return VSInt(int64(f))
	}
	return VFloat(f)
}

// stringOrGuid leaves disambiguation between a plain string, a Guid, and an
// ObjectReference to the codec's coercion layer, which knows the
// declared field type; at this layer every JSON string decodes as KString.
func stringOrGuid(s string) Value {
	return VString(s)
}

func structOrVariantFromJSON(reg *registry.Registry, m map[string]interface{}) Value {
	if tv, ok := m[variantTypeKey]; ok {
		fields, _ := m[variantValueKey].(map[string]interface{})
		s := structFromJSONMap(reg, fields)
		idx, ok := variantTypeIndex(reg, tv)
		if !ok {
			return Value{Kind: KVariant, Var: nil}
		}
		return Value{Kind: KVariant, Var: &Variant{Type: idx, Struct: s}}
	}
	return VStruct(structFromJSONMap(reg, m))
}

// variantTypeIndex resolves a decoded $type value to a registry.TypeIndex,
// accepting both the qualified_name string spec.md §3 specifies and a bare
// numeric index for ad hoc trees built without a name.
func variantTypeIndex(reg *registry.Registry, tv interface{}) (registry.TypeIndex, bool) {
	switch t := tv.(type) {
	case string:
		if reg == nil {
			return 0, false
		}
		return reg.GetByName(registry.LookupQualifiedName, t)
	case float64:
		return registry.TypeIndex(int32(t)), true
	}
	return 0, false
}

func structFromJSONMap(reg *registry.Registry, m map[string]interface{}) *Struct {
	s := NewStruct()
	for k, v := range m {
		s.Set(k, FromJSON(reg, v))
	}
	return s
}

// ParseGuidOrZero is a convenience used when decoding a JSON string field
// that the caller already knows is declared as Guid or ObjectReference.
func ParseGuidOrZero(s string) ident.Guid {
	if s == "" {
		return ident.Guid{}
	}
	g, err := ident.ParseGuid(s)
	if err != nil {
		return ident.Guid{}
	}
	return g
}
