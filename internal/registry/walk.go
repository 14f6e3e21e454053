package registry

// GetInnerType collapses typedefs recursively and returns the index of the
// first non-Typedef type reached by following Inner, per spec.md §4.2.
func (r *Registry) GetInnerType(idx TypeIndex) TypeIndex {
	for {
		t := r.Get(idx)
		if t.PrimitiveKind != KindTypedef || t.Inner == NoType {
			return idx
		}
		idx = t.Inner
	}
}

// IsSubType reports whether parent appears somewhere in child's parent
// chain (child's Inner, recursively, for Struct kinds), per spec.md §4.2.
// Identity (index equality) decides equality, and a type is not considered
// its own subtype unless parent == child.
func (r *Registry) IsSubType(parent, child TypeIndex) bool {
	cur := child
	for {
		if cur == parent {
			return true
		}
		t := r.Get(cur)
		if t.PrimitiveKind != KindStruct || t.Inner == NoType {
			return false
		}
		cur = t.Inner
	}
}

// ParentOf returns the struct's parent type (its Inner), or NoType if idx is
// not a Struct or has no parent.
func (r *Registry) ParentOf(idx TypeIndex) TypeIndex {
	t := r.Get(idx)
	if t.PrimitiveKind != KindStruct {
		return NoType
	}
	return t.Inner
}

// IterFields returns the full, ordered field list of a struct type
// including inherited fields: parent fields precede child fields, per
// spec.md §4.3 "Struct inheritance" (parents are visited before children on
// write; the read-side map is built by recursively prepending the parent's
// fields).
func (r *Registry) IterFields(idx TypeIndex) []Field {
	t := r.Get(idx)
	if t.PrimitiveKind != KindStruct {
		return nil
	}
	var fields []Field
	if t.Inner != NoType {
		fields = append(fields, r.IterFields(t.Inner)...)
	}
	return append(fields, t.StructFields...)
}

// StorageKind returns the integer PrimitiveKind backing an Enum or Bitmask*
// type (its Inner), per spec.md §3 invariant (b).
func (r *Registry) StorageKind(idx TypeIndex) PrimitiveKind {
	t := r.Get(idx)
	if t.Inner == NoType {
		return KindNone
	}
	return r.Get(t.Inner).PrimitiveKind
}

// ElementType returns the element type of a StaticArray/BlobArray/DsArray
// (its Inner).
func (r *Registry) ElementType(idx TypeIndex) TypeIndex {
	return r.Get(idx).Inner
}
