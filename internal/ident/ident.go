// Package ident implements the archive's two addressable identifier types:
// ResourceId (a descriptor's address) and ContentHash (a content blob's
// address), plus the bare Guid value kind used inside descriptors.
package ident

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// Guid is a plain 16-byte identifier with no further structure, formatted
// and parsed as the canonical hex-group ("8-4-4-4-12") string.
type Guid [16]byte

func (g Guid) String() string {
	if g.IsZero() {
		return "00000000-0000-0000-0000-000000000000"
	}
	return uuid.UUID(g).String()
}

// IsZero reports whether g is the all-zero Guid, which the codec writes for
// an absent/null Guid or ObjectReference field.
func (g Guid) IsZero() bool { return g == Guid{} }

// ParseGuid parses the canonical hex-group form produced by String.
func ParseGuid(s string) (Guid, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return Guid{}, fmt.Errorf("ident: invalid guid %q: %w", s, err)
	}
	return Guid(u), nil
}

// ResourceId addresses a descriptor: 16 raw bytes plus the 32-bit qualified
// hash of its owning type and a 32-bit variant discriminator.
type ResourceId struct {
	Id      Guid
	Type    uint32 // qualified_hash of the owning type
	Variant uint32
}

// String renders the 16-byte Id half as the canonical hex-group string; Type
// and Variant are registry-context metadata, not part of the printable
// identity, matching the CLI filter syntax "<guid>" in spec.md §6.
func (r ResourceId) String() string { return r.Id.String() }

// ParseResourceId parses the hex-group form of the Id half. Type and
// Variant are left zero; callers that need them look the id up in a
// ResourceBundleEntry via the owning type's qualified_hash instead.
func ParseResourceId(s string) (ResourceId, error) {
	id, err := ParseGuid(s)
	if err != nil {
		return ResourceId{}, err
	}
	return ResourceId{Id: id}, nil
}

// Less provides a total order for deterministic iteration/sorting of
// resource-ids, e.g. when the work orchestrator's deterministic-output mode
// pre-sorts its queue (spec.md §5).
func (r ResourceId) Less(o ResourceId) bool {
	for i := range r.Id {
		if r.Id[i] != o.Id[i] {
			return r.Id[i] < o.Id[i]
		}
	}
	if r.Type != o.Type {
		return r.Type < o.Type
	}
	return r.Variant < o.Variant
}

// ContentHash addresses a content blob: an uncompressed size plus a 3-word
// hash of its bytes. The all-zero value denotes "no content" (IsNone).
type ContentHash struct {
	Size uint32
	H0   uint32
	H1   uint32
	H2   uint32
}

// IsNone reports whether h is the all-zero sentinel for "no content".
func (h ContentHash) IsNone() bool {
	return h.Size == 0 && h.H0 == 0 && h.H1 == 0 && h.H2 == 0
}

// Equal reports field-wise equality; ContentHash has no canonical-form
// requirement in spec.md §6, so this is used for map-key comparisons only.
func (h ContentHash) Equal(o ContentHash) bool {
	return h == o
}

func (h ContentHash) String() string {
	if h.IsNone() {
		return "none"
	}
	return fmt.Sprintf("%08x:%08x:%08x:%08x", h.Size, h.H0, h.H1, h.H2)
}

// HashContent computes the content-hash of b the way the container writer
// deduplicates blobs: size is the exact byte length, and h0/h1/h2 are three
// independent 32-bit FNV-1a passes seeded with a different basis each, so
// that distinct content blobs occupying the 96-bit hash space collide only
// with cryptographically-negligible probability while remaining cheap
// enough to run on every write_content call.
func HashContent(b []byte) ContentHash {
	return ContentHash{
		Size: uint32(len(b)),
		H0:   fnv32aSeeded(b, 2166136261),
		H1:   fnv32aSeeded(b, 0x9e3779b9),
		H2:   fnv32aSeeded(b, 0x85ebca6b),
	}
}

func fnv32aSeeded(b []byte, seed uint32) uint32 {
	const prime = 16777619
	h := seed
	for _, c := range b {
		h ^= uint32(c)
		h *= prime
	}
	return h
}

// MarshalBinary writes the 16-byte little-endian wire form: size, h0, h1, h2.
func (h ContentHash) MarshalBinary() []byte {
	var b [16]byte
	binary.LittleEndian.PutUint32(b[0:], h.Size)
	binary.LittleEndian.PutUint32(b[4:], h.H0)
	binary.LittleEndian.PutUint32(b[8:], h.H1)
	binary.LittleEndian.PutUint32(b[12:], h.H2)
	return b[:]
}

// ContentHashFromBytes reads the 16-byte wire form written by MarshalBinary.
func ContentHashFromBytes(b []byte) ContentHash {
	_ = b[15]
	return ContentHash{
		Size: binary.LittleEndian.Uint32(b[0:]),
		H0:   binary.LittleEndian.Uint32(b[4:]),
		H1:   binary.LittleEndian.Uint32(b[8:]),
		H2:   binary.LittleEndian.Uint32(b[12:]),
	}
}

// MarshalBinary writes the 16-byte Id followed by Type and Variant (24 bytes
// total), the form the container stores in its resource index. (The
// descriptor codec's ObjectReference is the 16-byte ContentHash form.)
func (r ResourceId) MarshalBinary() []byte {
	var b [24]byte
	copy(b[0:16], r.Id[:])
	binary.LittleEndian.PutUint32(b[16:], r.Type)
	binary.LittleEndian.PutUint32(b[20:], r.Variant)
	return b[:]
}

// ResourceIdFromBytes reads the wire form written by MarshalBinary.
func ResourceIdFromBytes(b []byte) ResourceId {
	_ = b[23]
	var id Guid
	copy(id[:], b[0:16])
	return ResourceId{
		Id:      id,
		Type:    binary.LittleEndian.Uint32(b[16:]),
		Variant: binary.LittleEndian.Uint32(b[20:]),
	}
}
