package value

import (
	"math"
	"strconv"
	"strings"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
)

// writer accumulates a descriptor's bytes. It tracks two cursors: the fixed
// region (addressed directly by field offsets, grown on demand) and
// blobCursor, which only ever moves forward as blob-region payloads are
// reserved (spec.md §4.3 "Blob-offset placement", spec.md §9).
type writer struct {
	buf        []byte
	blobCursor int64
}

func newWriter(fixedSize int64) *writer {
	return &writer{buf: make([]byte, fixedSize), blobCursor: fixedSize}
}

func (w *writer) ensureLen(n int64) {
	if int64(len(w.buf)) >= n {
		return
	}
	grown := make([]byte, n)
	copy(grown, w.buf)
	w.buf = grown
}

func (w *writer) writeAt(off int64, data []byte) {
	w.ensureLen(off + int64(len(data)))
	copy(w.buf[off:], data)
}

// reserveBlob aligns blobCursor to alignment, grows the buffer to cover
// [blobCursor, blobCursor+size), and returns the reserved region's absolute
// base plus its offset relative to fieldBase (the field's own position in
// the descriptor) — the rel_offset the codec tables in spec.md §4.3 store
// in-place.
func (w *writer) reserveBlob(fieldBase, alignment, size int64) (base int64, rel uint32) {
	w.blobCursor = hashio.Align(w.blobCursor, alignment)
	base = w.blobCursor
	w.ensureLen(base + size)
	w.blobCursor += size
	return base, uint32(base - fieldBase)
}

// trailingFill forces the buffer to cover [base, base+size) even when no
// field write reached the end of the declared type size, per spec.md §4.3
// "Trailing fill".
func (w *writer) trailingFill(base, size int64) {
	w.ensureLen(base + size)
}

// Write encodes v as type t's binary representation, per spec.md §4.3.
func Write(reg *registry.Registry, t registry.TypeIndex, v Value) ([]byte, error) {
	ty := reg.Get(t)
	w := newWriter(int64(ty.Size))
	if err := writeAt(w, reg, t, v, 0); err != nil {
		return nil, err
	}
	w.trailingFill(0, int64(ty.Size))
	return w.buf, nil
}

func writeAt(w *writer, reg *registry.Registry, t registry.TypeIndex, v Value, base int64) error {
	ty := reg.Get(t)
	switch ty.PrimitiveKind {
	case registry.KindNone:
		return nil

	case registry.KindBool:
		b, ok := coerceBool(v)
		if !ok {
			return newErr(ErrIncompatibleType, "", "expected bool, got %v", v)
		}
		if b {
			w.writeAt(base, []byte{1})
		} else {
			w.writeAt(base, []byte{0})
		}
		return nil

	case registry.KindUInt8, registry.KindUInt16, registry.KindUInt32, registry.KindUInt64,
		registry.KindSInt8, registry.KindSInt16, registry.KindSInt32, registry.KindSInt64:
		return writeSizedInt(w, ty.PrimitiveKind, v, base)

	case registry.KindFloat32:
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		var b [4]byte
		hashio.LE.PutUint32(b[:], math.Float32bits(float32(f)))
		w.writeAt(base, b[:])
		return nil

	case registry.KindFloat64:
		f, err := coerceFloat(v)
		if err != nil {
			return err
		}
		var b [8]byte
		hashio.LE.PutUint64(b[:], math.Float64bits(f))
		w.writeAt(base, b[:])
		return nil

	case registry.KindEnum:
		raw, err := coerceEnum(ty, v)
		if err != nil {
			return err
		}
		return writeRawInt(w, reg.Get(ty.Inner).PrimitiveKind, raw, base)

	case registry.KindBitmask8, registry.KindBitmask16, registry.KindBitmask32, registry.KindBitmask64:
		raw, err := coerceBitmask(ty, v)
		if err != nil {
			return err
		}
		return writeRawInt(w, reg.Get(ty.Inner).PrimitiveKind, int64(raw), base)

	case registry.KindTypedef:
		return writeAt(w, reg, ty.Inner, v, base)

	case registry.KindStruct:
		return writeStruct(w, reg, t, v, base)

	case registry.KindStaticArray:
		elem := ty.Inner
		elemTy := reg.Get(elem)
		elemSize := int64(elemTy.Size)
		var n int64
		if elemSize > 0 {
			n = int64(ty.Size) / elemSize
		}
		arr, ok := arrayOf(v)
		if !ok || int64(len(arr)) != n {
			return newErr(ErrIncompatibleType, "", "expected array of length %d, got %v", n, v)
		}
		for i, ev := range arr {
			if err := writeAt(w, reg, elem, ev, base+int64(i)*elemSize); err != nil {
				return withPath(indexPath(int64(i)), err)
			}
		}
		return nil

	case registry.KindBlobArray:
		arr, ok := arrayOf(v)
		if !ok {
			return newErr(ErrIncompatibleType, "", "expected array, got %v", v)
		}
		elem := ty.Inner
		elemTy := reg.Get(elem)
		var rel uint32
		if len(arr) > 0 {
			var arrBase int64
			arrBase, rel = w.reserveBlob(base, int64(elemTy.Alignment), int64(len(arr))*int64(elemTy.Size))
			for i, ev := range arr {
				if err := writeAt(w, reg, elem, ev, arrBase+int64(i)*int64(elemTy.Size)); err != nil {
					return withPath(indexPath(int64(i)), err)
				}
			}
		}
		var b [8]byte
		hashio.LE.PutUint32(b[0:], rel)
		hashio.LE.PutUint32(b[4:], uint32(len(arr)))
		w.writeAt(base, b[:])
		return nil

	case registry.KindBlobString:
		if v.Kind != KString {
			return newErr(ErrIncompatibleType, "", "expected string, got %v", v)
		}
		bytes := []byte(v.Str)
		var rel uint32
		if len(bytes) > 0 {
			var strBase int64
			strBase, rel = w.reserveBlob(base, 1, int64(len(bytes)))
			w.writeAt(strBase, bytes)
		}
		var b [8]byte
		hashio.LE.PutUint32(b[0:], rel)
		hashio.LE.PutUint32(b[4:], uint32(len(bytes)))
		w.writeAt(base, b[:])
		return nil

	case registry.KindBlobOptional:
		if v.Kind == KNone {
			var b [4]byte
			w.writeAt(base, b[:])
			return nil
		}
		innerTy := reg.Get(ty.Inner)
		innerBase, rel := w.reserveBlob(base, int64(innerTy.Alignment), int64(innerTy.Size))
		if err := writeAt(w, reg, ty.Inner, v, innerBase); err != nil {
			return err
		}
		var b [4]byte
		hashio.LE.PutUint32(b[:], rel)
		w.writeAt(base, b[:])
		return nil

	case registry.KindBlobVariant:
		return writeBlobVariant(w, reg, ty, v, base)

	case registry.KindObjectReference:
		h, err := coerceContentHash(v)
		if err != nil {
			return err
		}
		w.writeAt(base, h.MarshalBinary())
		return nil

	case registry.KindGuid:
		g, err := coerceGuid(v)
		if err != nil {
			return err
		}
		w.writeAt(base, g[:])
		return nil

	default:
		return newErr(ErrIncompatibleType, "", "primitive kind %s is not materialized", ty.PrimitiveKind)
	}
}

func writeStruct(w *writer, reg *registry.Registry, t registry.TypeIndex, v Value, base int64) error {
	if v.Kind != KStruct || v.Obj == nil {
		return newErr(ErrIncompatibleType, "", "expected struct, got %v", v)
	}
	ty := reg.Get(t)
	for _, f := range reg.IterFields(t) {
		fv, ok := v.Obj.Get(f.Name)
		if !ok {
			return newErr(ErrMissingField, f.Name, "missing required field")
		}
		if err := writeAt(w, reg, f.Type, fv, base+int64(f.Offset)); err != nil {
			return withPath(f.Name, err)
		}
	}
	w.trailingFill(base, int64(ty.Size))
	return nil
}

func writeBlobVariant(w *writer, reg *registry.Registry, ty *registry.Type, v Value, base int64) error {
	if v.Kind == KVariant && v.Var == nil {
		var b [12]byte
		w.writeAt(base, b[:])
		return nil
	}
	if v.Kind != KVariant || v.Var == nil {
		return newErr(ErrIncompatibleType, "", "expected variant, got %v", v)
	}
	if ty.Inner != registry.NoType && !reg.IsSubType(ty.Inner, v.Var.Type) {
		return newErr(ErrVariantNotSubtype, "", "%s is not a subtype of the declared base", reg.Get(v.Var.Type).QualifiedName)
	}
	concreteTy := reg.Get(v.Var.Type)
	payloadBase, rel := w.reserveBlob(base, int64(concreteTy.Alignment), int64(concreteTy.Size))
	if err := writeAt(w, reg, v.Var.Type, VStruct(v.Var.Struct), payloadBase); err != nil {
		return err
	}
	var b [12]byte
	hashio.LE.PutUint32(b[0:], concreteTy.QualifiedHash)
	hashio.LE.PutUint32(b[4:], rel)
	hashio.LE.PutUint32(b[8:], uint32(concreteTy.Size))
	w.writeAt(base, b[:])
	return nil
}

func arrayOf(v Value) ([]Value, bool) {
	if v.Kind != KArray {
		return nil, false
	}
	return v.Arr, true
}

func coerceBool(v Value) (bool, bool) {
	switch v.Kind {
	case KBool:
		return v.B, true
	case KUInt:
		return v.U != 0, true
	case KSInt:
		return v.S != 0, true
	}
	return false, false
}

// intWidthSigned returns the bit width and signedness of a sized integer
// PrimitiveKind.
func intWidthSigned(kind registry.PrimitiveKind) (width int, signed bool) {
	switch kind {
	case registry.KindUInt8:
		return 8, false
	case registry.KindUInt16:
		return 16, false
	case registry.KindUInt32:
		return 32, false
	case registry.KindUInt64:
		return 64, false
	case registry.KindSInt8:
		return 8, true
	case registry.KindSInt16:
		return 16, true
	case registry.KindSInt32:
		return 32, true
	case registry.KindSInt64:
		return 64, true
	}
	return 0, false
}

func writeSizedInt(w *writer, kind registry.PrimitiveKind, v Value, base int64) error {
	i, ok := v.AsInt()
	if !ok {
		return newErr(ErrIncompatibleType, "", "expected integer, got %v", v)
	}
	width, signed := intWidthSigned(kind)
	if err := checkRange(i, v, width, signed); err != nil {
		return err
	}
	return writeRawInt(w, kind, i, base)
}

// checkRange validates that i fits the declared width/signedness, accepting
// either input signedness as long as the value is in range (spec.md §4.3
// "Write coercions").
func checkRange(i int64, v Value, width int, signed bool) error {
	if signed {
		lo, hi := signedRange(width)
		if i < lo || i > hi {
			return newErr(ErrIntegerOutOfRange, "", "%d out of range for signed %d-bit", i, width)
		}
		return nil
	}
	if v.Kind == KSInt && v.S < 0 {
		return newErr(ErrIntegerOutOfRange, "", "negative value %d for unsigned %d-bit", v.S, width)
	}
	hi := unsignedMax(width)
	if uint64(i) > hi {
		return newErr(ErrIntegerOutOfRange, "", "%d out of range for unsigned %d-bit", i, width)
	}
	return nil
}

func signedRange(width int) (lo, hi int64) {
	switch width {
	case 8:
		return -128, 127
	case 16:
		return -32768, 32767
	case 32:
		return -2147483648, 2147483647
	default:
		return math.MinInt64, math.MaxInt64
	}
}

func unsignedMax(width int) uint64 {
	if width >= 64 {
		return math.MaxUint64
	}
	return (uint64(1) << uint(width)) - 1
}

func writeRawInt(w *writer, kind registry.PrimitiveKind, raw int64, base int64) error {
	width, _ := intWidthSigned(kind)
	switch width {
	case 8:
		w.writeAt(base, []byte{byte(raw)})
	case 16:
		var b [2]byte
		hashio.LE.PutUint16(b[:], uint16(raw))
		w.writeAt(base, b[:])
	case 32:
		var b [4]byte
		hashio.LE.PutUint32(b[:], uint32(raw))
		w.writeAt(base, b[:])
	default:
		var b [8]byte
		hashio.LE.PutUint64(b[:], uint64(raw))
		w.writeAt(base, b[:])
	}
	return nil
}

func coerceFloat(v Value) (float64, error) {
	switch v.Kind {
	case KFloat:
		return v.F, nil
	case KUInt:
		return float64(v.U), nil
	case KSInt:
		return float64(v.S), nil
	case KString:
		return parseFloatToken(v.Str)
	}
	return 0, newErr(ErrIncompatibleType, "", "expected float, got %v", v)
}

func parseFloatToken(s string) (float64, error) {
	lower := strings.ToLower(strings.TrimSpace(s))
	switch lower {
	case "nan":
		return math.NaN(), nil
	case "inf", "+inf", "infinity", "+infinity":
		return math.Inf(1), nil
	case "-inf", "-infinity":
		return math.Inf(-1), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, newErr(ErrIncompatibleType, "", "invalid float literal %q", s)
	}
	return f, nil
}

func coerceEnum(ty *registry.Type, v Value) (int64, error) {
	if v.Kind == KString {
		for _, ef := range ty.EnumFields {
			if ef.Name == v.Str {
				return ef.Value, nil
			}
		}
		return 0, newErr(ErrInvalidEnumValue, "", "unknown enum member %q of %s", v.Str, ty.QualifiedName)
	}
	i, ok := v.AsInt()
	if !ok {
		return 0, newErr(ErrIncompatibleType, "", "expected enum name or integer, got %v", v)
	}
	for _, ef := range ty.EnumFields {
		if ef.Value == i {
			return i, nil
		}
	}
	return 0, newErr(ErrInvalidEnumValue, "", "%d is not a declared value of %s", i, ty.QualifiedName)
}

func coerceBitmask(ty *registry.Type, v Value) (uint64, error) {
	switch v.Kind {
	case KUInt:
		return v.U, nil
	case KSInt:
		return uint64(v.S), nil
	case KArray:
		var mask uint64
		for _, item := range v.Arr {
			bit, err := bitmaskBit(ty, item)
			if err != nil {
				return 0, err
			}
			if bit >= 64 {
				continue // bit positions >= 64 are silently dropped, spec.md §4.3
			}
			mask |= 1 << uint(bit)
		}
		return mask, nil
	}
	return 0, newErr(ErrIncompatibleType, "", "expected bitmask integer or array, got %v", v)
}

func bitmaskBit(ty *registry.Type, item Value) (int, error) {
	if item.Kind == KString {
		for _, ef := range ty.EnumFields {
			if ef.Name == item.Str {
				return int(ef.Value), nil
			}
		}
		return 0, newErr(ErrInvalidEnumValue, "", "unknown bitmask member %q of %s", item.Str, ty.QualifiedName)
	}
	i, ok := item.AsInt()
	if !ok {
		return 0, newErr(ErrIncompatibleType, "", "expected bit name or index, got %v", item)
	}
	return int(i), nil
}

func coerceGuid(v Value) (ident.Guid, error) {
	switch v.Kind {
	case KGuid:
		return v.Gid, nil
	case KNone:
		return ident.Guid{}, nil
	case KString:
		if v.Str == "" {
			return ident.Guid{}, nil
		}
		g, err := ident.ParseGuid(v.Str)
		if err != nil {
			return ident.Guid{}, newErr(ErrMalformedGuid, "", "%v", err)
		}
		return g, nil
	}
	return ident.Guid{}, newErr(ErrIncompatibleType, "", "expected guid, got %v", v)
}

func coerceContentHash(v Value) (ident.ContentHash, error) {
	switch v.Kind {
	case KObjectRef:
		return v.Ref, nil
	case KNone:
		return ident.ContentHash{}, nil
	case KString:
		if v.Str == "" {
			return ident.ContentHash{}, nil
		}
		g, err := ident.ParseGuid(v.Str)
		if err != nil {
			return ident.ContentHash{}, newErr(ErrMalformedGuid, "", "%v", err)
		}
		return ident.ContentHashFromBytes(g[:]), nil
	}
	return ident.ContentHash{}, newErr(ErrIncompatibleType, "", "expected object reference, got %v", v)
}
