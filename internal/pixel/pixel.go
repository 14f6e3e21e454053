// Package pixel declares the pixel-format surface named in spec.md §1/§6
// (C9): a fixed-component and block-compressed format enum and the
// Decode/Encode entry points a texture resource's reader would call.
// The format math itself is explicitly out of scope ("opaque math; only
// their interface is part of §6") and is not implemented here; every
// format reports ErrNotImplemented, matching the source's own treatment
// of declared-but-unimplemented formats (spec.md §9 "the spec treats them
// as reserved and surfaces 'not implemented' errors rather than silently
// approximating").
package pixel

import "golang.org/x/xerrors"

// Format identifies a pixel layout a texture resource may declare.
type Format uint32

const (
	FormatUnknown Format = iota
	FormatRGBA8
	FormatRGB8
	FormatR8
	FormatRG8
	FormatA2R10G10B10UNormPack32
	FormatA2R10G10B10UIntPack32
	FormatBC1
	FormatBC2
	FormatBC3
	FormatBC4
	FormatBC5
	FormatBC6H
	FormatBC7
	FormatRGBA8SRGB
	FormatBC1SRGB
	FormatBC3SRGB
	FormatBC7SRGB
)

func (f Format) String() string {
	switch f {
	case FormatRGBA8:
		return "RGBA8"
	case FormatRGB8:
		return "RGB8"
	case FormatR8:
		return "R8"
	case FormatRG8:
		return "RG8"
	case FormatA2R10G10B10UNormPack32:
		return "A2R10G10B10_UNorm_pack32"
	case FormatA2R10G10B10UIntPack32:
		return "A2R10G10B10_UInt_pack32"
	case FormatBC1:
		return "BC1"
	case FormatBC2:
		return "BC2"
	case FormatBC3:
		return "BC3"
	case FormatBC4:
		return "BC4"
	case FormatBC5:
		return "BC5"
	case FormatBC6H:
		return "BC6H"
	case FormatBC7:
		return "BC7"
	case FormatRGBA8SRGB:
		return "RGBA8_sRGB"
	case FormatBC1SRGB:
		return "BC1_sRGB"
	case FormatBC3SRGB:
		return "BC3_sRGB"
	case FormatBC7SRGB:
		return "BC7_sRGB"
	default:
		return "Unknown"
	}
}

// ErrNotImplemented is returned by every Decode/Encode call: the matrix of
// format math is out of scope (spec.md §1), so this package only fixes the
// shape callers build against.
var ErrNotImplemented = xerrors.New("pixel: format decode/encode is not implemented")

// BlockSize returns a format's compressed block footprint in bytes, or 0
// for an uncompressed format — the one piece of per-format metadata that
// is structural rather than "opaque math", since a texture resource's
// reader needs it to size the compressed buffer before ever decoding a
// single block.
func BlockSize(f Format) int {
	switch f {
	case FormatBC1, FormatBC4, FormatBC1SRGB:
		return 8
	case FormatBC2, FormatBC3, FormatBC5, FormatBC6H, FormatBC7, FormatBC3SRGB, FormatBC7SRGB:
		return 16
	default:
		return 0
	}
}

// Decode converts w×h pixels of src, laid out as format f, to RGBA8.
func Decode(f Format, w, h int, src []byte) (rgba []byte, err error) {
	return nil, xerrors.Errorf("pixel: decode %s: %w", f, ErrNotImplemented)
}

// Encode converts w×h RGBA8 pixels to format f.
func Encode(f Format, w, h int, rgba []byte) (dst []byte, err error) {
	return nil, xerrors.Errorf("pixel: encode %s: %w", f, ErrNotImplemented)
}
