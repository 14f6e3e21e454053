package value

import (
	"math"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
)

// Read decodes one value of type t from data (the full descriptor bytes,
// including its blob region), per the byte layout table in spec.md §4.3.
func Read(reg *registry.Registry, t registry.TypeIndex, data []byte, opts ConvertOptions) (Value, error) {
	return readAt(reg, t, data, 0, opts)
}

func readAt(reg *registry.Registry, t registry.TypeIndex, data []byte, base int64, opts ConvertOptions) (Value, error) {
	ty := reg.Get(t)
	switch ty.PrimitiveKind {
	case registry.KindNone:
		return VNone(), nil

	case registry.KindBool:
		return VBool(data[base] != 0), nil

	case registry.KindUInt8, registry.KindUInt16, registry.KindUInt32, registry.KindUInt64:
		u, _, _, _ := readRaw(ty.PrimitiveKind, data, base)
		return VUInt(u), nil

	case registry.KindSInt8, registry.KindSInt16, registry.KindSInt32, registry.KindSInt64:
		_, s, _, _ := readRaw(ty.PrimitiveKind, data, base)
		return VSInt(s), nil

	case registry.KindFloat32:
		bits := hashio.ReadU32(data, int(base))
		return VFloat(float64(math.Float32frombits(bits))), nil

	case registry.KindFloat64:
		bits := hashio.ReadU64(data, int(base))
		return VFloat(math.Float64frombits(bits)), nil

	case registry.KindEnum:
		storage := reg.Get(ty.Inner).PrimitiveKind
		u, s, signed, _ := readRaw(storage, data, base)
		raw := s
		if !signed {
			raw = int64(u)
		}
		if opts.Enum == EnumName {
			for _, ef := range ty.EnumFields {
				if ef.Value == raw {
					return VString(ef.Name), nil
				}
			}
		}
		if signed {
			return VSInt(raw), nil
		}
		return VUInt(u), nil

	case registry.KindBitmask8, registry.KindBitmask16, registry.KindBitmask32, registry.KindBitmask64:
		storage := reg.Get(ty.Inner).PrimitiveKind
		u, _, _, _ := readRaw(storage, data, base)
		return readBitmask(ty, u, opts), nil

	case registry.KindTypedef:
		return readAt(reg, ty.Inner, data, base, opts)

	case registry.KindStruct:
		return readStruct(reg, t, data, base, opts)

	case registry.KindStaticArray:
		elem := ty.Inner
		elemSize := int64(reg.Get(elem).Size)
		var n int64
		if elemSize > 0 {
			n = int64(ty.Size) / elemSize
		}
		arr := make([]Value, 0, n)
		for i := int64(0); i < n; i++ {
			ev, err := readAt(reg, elem, data, base+i*elemSize, opts)
			if err != nil {
				return Value{}, withPath(indexPath(i), err)
			}
			arr = append(arr, ev)
		}
		return VArray(arr), nil

	case registry.KindBlobArray:
		relOffset := hashio.ReadU32(data, int(base))
		count := hashio.ReadU32(data, int(base+4))
		elem := ty.Inner
		elemSize := int64(reg.Get(elem).Size)
		arr := make([]Value, 0, count)
		blobBase := base + int64(relOffset)
		for i := uint32(0); i < count; i++ {
			ev, err := readAt(reg, elem, data, blobBase+int64(i)*elemSize, opts)
			if err != nil {
				return Value{}, withPath(indexPath(int64(i)), err)
			}
			arr = append(arr, ev)
		}
		return VArray(arr), nil

	case registry.KindBlobString:
		relOffset := hashio.ReadU32(data, int(base))
		length := hashio.ReadU32(data, int(base+4))
		blobBase := base + int64(relOffset)
		return VString(string(data[blobBase : blobBase+int64(length)])), nil

	case registry.KindBlobOptional:
		relOffset := hashio.ReadU32(data, int(base))
		if relOffset == 0 {
			return VNone(), nil
		}
		blobBase := base + int64(relOffset)
		return readAt(reg, ty.Inner, data, blobBase, opts)

	case registry.KindBlobVariant:
		qualifiedHash := hashio.ReadU32(data, int(base))
		relOffset := hashio.ReadU32(data, int(base+4))
		if qualifiedHash == 0 {
			return VVariant(nil), nil
		}
		concrete, ok := reg.GetByHash(registry.LookupQualifiedHash, qualifiedHash)
		if !ok {
			return Value{}, newErr(ErrIncompatibleType, "", "variant: unknown type hash %#08x", qualifiedHash)
		}
		blobBase := base + int64(relOffset)
		inner, err := readAt(reg, concrete, data, blobBase, opts)
		if err != nil {
			return Value{}, err
		}
		vv := &Variant{Type: concrete, Struct: inner.Obj}
		if opts.Variant == VariantRaw {
			return VVariant(vv), nil
		}
		return VVariant(vv), nil

	case registry.KindObjectReference:
		h := ident.ContentHashFromBytes(data[base : base+16])
		return VObjectRef(h), nil

	case registry.KindGuid:
		var g ident.Guid
		copy(g[:], data[base:base+16])
		return VGuid(g), nil

	default:
		return Value{}, newErr(ErrIncompatibleType, "", "primitive kind %s is not materialized", ty.PrimitiveKind)
	}
}

func readStruct(reg *registry.Registry, t registry.TypeIndex, data []byte, base int64, opts ConvertOptions) (Value, error) {
	fields := reg.IterFields(t)
	s := NewStruct()
	for _, f := range fields {
		fv, err := readAt(reg, f.Type, data, base+int64(f.Offset), opts)
		if err != nil {
			return Value{}, withPath(f.Name, err)
		}
		s.Set(f.Name, fv)
	}
	return VStruct(s), nil
}

func readBitmask(ty *registry.Type, u uint64, opts ConvertOptions) Value {
	switch opts.Bitmask {
	case BitmaskNumeric:
		return VUInt(u)
	case BitmaskValueArray:
		var arr []Value
		for bit := 0; bit < 64; bit++ {
			if u&(1<<uint(bit)) != 0 {
				arr = append(arr, VUInt(uint64(bit)))
			}
		}
		return VArray(arr)
	default: // BitmaskNameArray
		var arr []Value
		for bit := 0; bit < 64; bit++ {
			if u&(1<<uint(bit)) == 0 {
				continue
			}
			name := bitName(ty, bit)
			if name != "" {
				arr = append(arr, VString(name))
			} else {
				arr = append(arr, VUInt(uint64(bit)))
			}
		}
		return VArray(arr)
	}
}

func bitName(ty *registry.Type, bit int) string {
	for _, ef := range ty.EnumFields {
		if ef.Value == int64(bit) {
			return ef.Name
		}
	}
	return ""
}

// readRaw decodes a sized integer primitive at data[off:], returning both
// the unsigned and sign-extended interpretations and whether kind is
// signed.
func readRaw(kind registry.PrimitiveKind, data []byte, off int64) (u uint64, s int64, signed bool, size int64) {
	switch kind {
	case registry.KindUInt8:
		u = uint64(data[off])
		return u, int64(u), false, 1
	case registry.KindUInt16:
		u = uint64(hashio.LE.Uint16(data[off:]))
		return u, int64(u), false, 2
	case registry.KindUInt32:
		u = uint64(hashio.ReadU32(data, int(off)))
		return u, int64(u), false, 4
	case registry.KindUInt64:
		u = hashio.ReadU64(data, int(off))
		return u, int64(u), false, 8
	case registry.KindSInt8:
		v := int8(data[off])
		return uint64(uint8(v)), int64(v), true, 1
	case registry.KindSInt16:
		v := int16(hashio.LE.Uint16(data[off:]))
		return uint64(uint16(v)), int64(v), true, 2
	case registry.KindSInt32:
		v := int32(hashio.ReadU32(data, int(off)))
		return uint64(uint32(v)), int64(v), true, 4
	case registry.KindSInt64:
		v := int64(hashio.ReadU64(data, int(off)))
		return uint64(v), v, true, 8
	}
	return 0, 0, false, 0
}

func indexPath(i int64) string {
	return "[" + itoa(i) + "]"
}

func itoa(i int64) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}
