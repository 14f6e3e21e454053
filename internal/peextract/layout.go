package peextract

import "encoding/binary"

// The on-disk layouts below mirror the fixed-size reflection records the
// engine's runtime type registry embeds in .rdata. Every cross-reference is
// stored as a 4-byte RVA rather than a pointer, which is what makes the
// format position-independent (and what makes scanning for it tractable)
// even in a PE32+ image (spec.md §4.2).
const (
	typeDescSize  = 0x90
	fieldEntrySize = 0x20
	enumEntrySize  = 0x10
	nsNodeSize     = 0x08
)

// rawTypeDesc is typeDescSize bytes decoded straight off the section; RVA
// fields are resolved to TypeIndex/strings in a later pass (extract.go).
type rawTypeDesc struct {
	qualifiedNameRVA  uint32
	nameRVA           uint32
	namespaceNodeRVA  uint32
	impactNameRVA     uint32
	size              uint16
	alignment         uint16
	elementAlignment  uint16
	primitiveKind     uint8
	flags             uint8
	innerRVA          uint32
	fieldsArrayRVA    uint32
	fieldCount        uint32
	enumFieldsRVA     uint32
	enumFieldCount    uint32
	defaultValueRVA   uint32
	defaultValueSize  uint32
	qualifiedHash     uint32
	internalHash      uint32
	nameHash          uint32
	impactHash        uint32
}

func decodeRawTypeDesc(data []byte, off uint32) rawTypeDesc {
	le := binary.LittleEndian
	b := data[off : off+typeDescSize]
	return rawTypeDesc{
		qualifiedNameRVA: le.Uint32(b[0x00:]),
		nameRVA:          le.Uint32(b[0x04:]),
		namespaceNodeRVA: le.Uint32(b[0x08:]),
		impactNameRVA:    le.Uint32(b[0x0C:]),
		size:             le.Uint16(b[0x10:]),
		alignment:        le.Uint16(b[0x12:]),
		elementAlignment: le.Uint16(b[0x14:]),
		primitiveKind:    b[0x16],
		flags:            b[0x17],
		innerRVA:         le.Uint32(b[0x18:]),
		fieldsArrayRVA:   le.Uint32(b[0x1C:]),
		fieldCount:       le.Uint32(b[0x20:]),
		enumFieldsRVA:    le.Uint32(b[0x24:]),
		enumFieldCount:   le.Uint32(b[0x28:]),
		defaultValueRVA:  le.Uint32(b[0x2C:]),
		defaultValueSize: le.Uint32(b[0x30:]),
		qualifiedHash:    le.Uint32(b[0x34:]),
		internalHash:     le.Uint32(b[0x38:]),
		nameHash:         le.Uint32(b[0x3C:]),
		impactHash:       le.Uint32(b[0x40:]),
	}
}

type rawFieldEntry struct {
	nameRVA          uint32
	typeDescRVA      uint32
	offset           uint16
	attributesRVA    uint32
	attributeCount   uint32
}

func decodeRawFieldEntry(data []byte, off uint32) rawFieldEntry {
	le := binary.LittleEndian
	b := data[off : off+fieldEntrySize]
	return rawFieldEntry{
		nameRVA:        le.Uint32(b[0x00:]),
		typeDescRVA:    le.Uint32(b[0x04:]),
		offset:         le.Uint16(b[0x08:]),
		attributesRVA:  le.Uint32(b[0x0C:]),
		attributeCount: le.Uint32(b[0x10:]),
	}
}

type rawEnumEntry struct {
	nameRVA uint32
	value   int64
}

func decodeRawEnumEntry(data []byte, off uint32) rawEnumEntry {
	le := binary.LittleEndian
	b := data[off : off+enumEntrySize]
	return rawEnumEntry{
		nameRVA: le.Uint32(b[0x00:]),
		value:   int64(le.Uint64(b[0x08:])),
	}
}

// walkNamespace follows the namespace linked list starting at nodeRVA,
// innermost segment first (e.g. the namespace of "engine::gfx::Mesh" is
// stored as gfx -> engine), and returns the segments in declaration order
// ("engine", "gfx").
func walkNamespace(data []byte, rvaToOffset func(uint32) (uint32, bool), nodeRVA uint32) []string {
	var segments []string
	for nodeRVA != 0 {
		off, ok := rvaToOffset(nodeRVA)
		if !ok || int(off)+nsNodeSize > len(data) {
			break
		}
		le := binary.LittleEndian
		b := data[off : off+nsNodeSize]
		nextRVA := le.Uint32(b[0x00:])
		nameRVA := le.Uint32(b[0x04:])
		if nameOff, ok := rvaToOffset(nameRVA); ok {
			segments = append([]string{readCString(data, nameOff)}, segments...)
		}
		nodeRVA = nextRVA
	}
	return segments
}
