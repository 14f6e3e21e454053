package registry

import "fmt"

// Validate checks the invariants spec.md §3 states for a well-formed
// registry. It is used by the extractor and by tests that hand-build a
// Registry; a cached registry loaded from disk is trusted and not
// re-validated on every load.
func (r *Registry) Validate() error {
	for i := range r.Types {
		t := &r.Types[i]
		idx := TypeIndex(i)

		// (a) every referenced type exists.
		if t.Inner != NoType {
			if int(t.Inner) < 0 || int(t.Inner) >= len(r.Types) {
				return fmt.Errorf("registry: %s: inner type index %d out of range", t.QualifiedName, t.Inner)
			}
		}
		for _, f := range t.StructFields {
			if int(f.Type) < 0 || int(f.Type) >= len(r.Types) {
				return fmt.Errorf("registry: %s: field %s has out-of-range type index %d", t.QualifiedName, f.Name, f.Type)
			}
		}

		// (b) Enum/Bitmask* inner must be a sized integer kind.
		if t.PrimitiveKind == KindEnum || isBitmask(t.PrimitiveKind) {
			if t.Inner == NoType {
				return fmt.Errorf("registry: %s: %s has no storage type", t.QualifiedName, t.PrimitiveKind)
			}
			storage := r.Get(t.Inner).PrimitiveKind
			if !isSizedInt(storage) {
				return fmt.Errorf("registry: %s: storage type %s is not a sized integer", t.QualifiedName, storage)
			}
		}

		// (c) struct field ranges do not overlap and stay within t.Size.
		if t.PrimitiveKind == KindStruct {
			if err := validateLayout(t, r); err != nil {
				return err
			}
		}

		// (d) struct_fields + enum_fields matches the expected field_count.
		// Nothing external to check against once loaded into memory; this
		// is a structural tautology at this point (field_count isn't kept
		// as a separate value post-extraction), so it is not checked here.
		_ = idx
	}
	return nil
}

func isBitmask(k PrimitiveKind) bool {
	return k == KindBitmask8 || k == KindBitmask16 || k == KindBitmask32 || k == KindBitmask64
}

func isSizedInt(k PrimitiveKind) bool {
	switch k {
	case KindUInt8, KindUInt16, KindUInt32, KindUInt64,
		KindSInt8, KindSInt16, KindSInt32, KindSInt64:
		return true
	}
	return false
}

func validateLayout(t *Type, r *Registry) error {
	type span struct {
		start, end uint16
		name       string
	}
	var spans []span
	for _, f := range t.StructFields {
		ft := r.Get(f.Type)
		end := f.Offset + ft.Size
		spans = append(spans, span{f.Offset, end, f.Name})
	}
	for i := 0; i < len(spans); i++ {
		if spans[i].end > t.Size {
			return fmt.Errorf("registry: %s: field %s range [%d,%d) exceeds type size %d",
				t.QualifiedName, spans[i].name, spans[i].start, spans[i].end, t.Size)
		}
		for j := i + 1; j < len(spans); j++ {
			if spans[i].start < spans[j].end && spans[j].start < spans[i].end {
				return fmt.Errorf("registry: %s: fields %s and %s overlap", t.QualifiedName, spans[i].name, spans[j].name)
			}
		}
	}
	return nil
}
