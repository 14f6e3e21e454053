// Package hashio provides the low-level primitives shared by every other
// kfc package: FNV-1a hashing over raw bytes, little-endian typed reads and
// writes, and the alignment/padding arithmetic the container and descriptor
// codec both depend on.
package hashio

import (
	"encoding/binary"
	"io"
)

// FNV-1a 32-bit, per https://datatracker.ietf.org/doc/html/draft-eastlake-fnv.
const (
	fnvOffset32 uint32 = 2166136261
	fnvPrime32  uint32 = 16777619
)

// FNV32a hashes b with 32-bit FNV-1a. Type qualified/internal hashes and
// content-hash components all derive from this.
func FNV32a(b []byte) uint32 {
	h := fnvOffset32
	for _, c := range b {
		h ^= uint32(c)
		h *= fnvPrime32
	}
	return h
}

// FNV32aString is a convenience wrapper avoiding a []byte conversion
// allocation at call sites that already hold a string.
func FNV32aString(s string) uint32 {
	h := fnvOffset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= fnvPrime32
	}
	return h
}

// Align rounds x up to the next multiple of alignment. alignment must be a
// power of two.
func Align(x, alignment int64) int64 {
	if alignment <= 1 {
		return x
	}
	return (x + alignment - 1) &^ (alignment - 1)
}

// AlignUint32 is Align for the common case of 32-bit offsets.
func AlignUint32(x, alignment uint32) uint32 {
	if alignment <= 1 {
		return x
	}
	return (x + alignment - 1) &^ (alignment - 1)
}

// IsPowerOfTwo reports whether n is a power of two (n=0 is not).
func IsPowerOfTwo(n uint32) bool {
	return n != 0 && n&(n-1) == 0
}

// NextPowerOfTwo returns the smallest power of two >= n, with NextPowerOfTwo(0) == 1.
func NextPowerOfTwo(n int) uint32 {
	if n <= 1 {
		return 1
	}
	p := uint32(1)
	for p < uint32(n) {
		p <<= 1
	}
	return p
}

// PadTo writes zero bytes to w until curOffset reaches the next multiple of
// alignment, returning the number of padding bytes written.
func PadTo(w io.Writer, curOffset, alignment int64) (int64, error) {
	target := Align(curOffset, alignment)
	n := target - curOffset
	if n <= 0 {
		return 0, nil
	}
	// Written in chunks to avoid allocating a potentially large zero buffer.
	const chunk = 4096
	var zero [chunk]byte
	remaining := n
	for remaining > 0 {
		c := remaining
		if c > chunk {
			c = chunk
		}
		if _, err := w.Write(zero[:c]); err != nil {
			return 0, err
		}
		remaining -= c
	}
	return n, nil
}

// LE is the byte order used throughout the container and descriptor formats.
var LE = binary.LittleEndian

// ReadU32 reads a little-endian uint32 at the given offset within b.
func ReadU32(b []byte, off int) uint32 { return LE.Uint32(b[off:]) }

// ReadU64 reads a little-endian uint64 at the given offset within b.
func ReadU64(b []byte, off int) uint64 { return LE.Uint64(b[off:]) }

// PutU32 writes a little-endian uint32 at the given offset within b.
func PutU32(b []byte, off int, v uint32) { LE.PutUint32(b[off:], v) }

// PutU64 writes a little-endian uint64 at the given offset within b.
func PutU64(b []byte, off int, v uint64) { LE.PutUint64(b[off:], v) }
