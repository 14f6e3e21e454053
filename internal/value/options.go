package value

// EnumRepr selects how a read Enum value is represented (spec.md §4.3 "Read
// conversion options").
type EnumRepr uint8

const (
	EnumNumeric EnumRepr = iota
	EnumName
)

// BitmaskRepr selects how a read Bitmask value is represented.
type BitmaskRepr uint8

const (
	BitmaskNumeric BitmaskRepr = iota
	BitmaskNameArray
	BitmaskValueArray
)

// VariantRepr selects how a read Variant value is represented.
type VariantRepr uint8

const (
	VariantTagged VariantRepr = iota // {"$type": ..., "$value": {...}}
	VariantRaw
)

// GuidRepr selects how a read Guid (and ObjectReference) is represented.
type GuidRepr uint8

const (
	GuidString GuidRepr = iota // canonical hex-group string
	GuidOpaque                 // raw 16 bytes
)

// ConvertOptions parameterizes Read; it has no effect on Write, which
// accepts either representation per field per spec.md §4.3 "Write
// coercions". Read applies the Enum and Bitmask selections only: the
// Variant and Guid selections do not change the Value it returns, and
// ToJSON renders every variant as {"$type", "$value"} and every Guid as a
// hex-group string.
type ConvertOptions struct {
	Enum    EnumRepr
	Bitmask BitmaskRepr
	Variant VariantRepr
	Guid    GuidRepr
}

// Compact is the "numeric everywhere" preset (spec.md §4.3).
func Compact() ConvertOptions {
	return ConvertOptions{
		Enum:    EnumNumeric,
		Bitmask: BitmaskNumeric,
		Variant: VariantRaw,
		Guid:    GuidOpaque,
	}
}

// Human is the "named" preset (spec.md §4.3).
func Human() ConvertOptions {
	return ConvertOptions{
		Enum:    EnumName,
		Bitmask: BitmaskNameArray,
		Variant: VariantTagged,
		Guid:    GuidString,
	}
}
