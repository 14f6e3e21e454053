// Package container implements the archive container format (spec.md §4.1,
// C7/C8): a header of fixed directory slots, three static hash maps
// (resource-id → resource-entry, content-hash → content-entry, type-hash →
// resource-bundle), a chunked/Zstandard-compressed resource stream, and a
// sharded content store — plus an incremental writer that appends to a
// reference container without disturbing its existing shards or stream
// prefix.
package container

import (
	"encoding/binary"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/statichash"
)

const (
	// magic is the four ASCII bytes "KFC3", little-endian (spec.md §4.1).
	magic         = uint32(0x3343464B)
	formatVersion = 1

	headerSize = 160

	// resourceChunkCap is the uncompressed-byte threshold at which the
	// resource stream writer flushes the current chunk. The writer reads
	// resourceChunkCapVar, a var copy of this const, so tests can shrink
	// it to exercise chunk rotation cheaply.
	resourceChunkCap int64 = 8 << 20 // 8 MiB

	// resourceChunkAlignment is the on-disk alignment of each compressed
	// chunk's start within the .res file.
	resourceChunkAlignment = 4096

	// resourceAlignment is the alignment of each descriptor within an
	// uncompressed chunk.
	resourceAlignment = 16

	// contentAlignment is the padding applied after every content blob
	// within a shard.
	contentAlignment = 4096

	// maxSegmentSize is the default uncompressed-bytes-written threshold
	// at which the content writer rotates to a new shard.
	maxSegmentSize int64 = 1 << 30 // 1 GiB
)

var resourceChunkCapVar = resourceChunkCap

// header is the container's fixed-slot directory (spec.md §4.1): every
// field is an (offset, length) pair into the primary .gda file except the
// scalar counts.
type header struct {
	Magic   uint32
	Version uint32

	ShardCount    uint32
	ResourceCount uint32
	ContentCount  uint32
	BundleCount   uint32

	VersionStringOff, VersionStringLen uint64
	ContainerInfoOff, ContainerInfoLen uint64 // []ContainerInfo, one per shard
	ResourceIndexOff, ResourceIndexLen uint64 // resource-id -> ResourceEntry
	ContentIndexOff, ContentIndexLen   uint64 // content-hash -> ContentEntry
	BundleIndexOff, BundleIndexLen     uint64 // type-hash -> ResourceBundleEntry
	BundlePermOff, BundlePermLen       uint64 // flat u32 permutation array
	ChunkTableOff, ChunkTableLen       uint64 // []ResourceChunkInfo
}

func (h *header) marshal() []byte {
	b := make([]byte, headerSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:], h.Magic)
	le.PutUint32(b[4:], h.Version)
	le.PutUint32(b[8:], h.ShardCount)
	le.PutUint32(b[12:], h.ResourceCount)
	le.PutUint32(b[16:], h.ContentCount)
	le.PutUint32(b[20:], h.BundleCount)
	le.PutUint64(b[24:], h.VersionStringOff)
	le.PutUint64(b[32:], h.VersionStringLen)
	le.PutUint64(b[40:], h.ContainerInfoOff)
	le.PutUint64(b[48:], h.ContainerInfoLen)
	le.PutUint64(b[56:], h.ResourceIndexOff)
	le.PutUint64(b[64:], h.ResourceIndexLen)
	le.PutUint64(b[72:], h.ContentIndexOff)
	le.PutUint64(b[80:], h.ContentIndexLen)
	le.PutUint64(b[88:], h.BundleIndexOff)
	le.PutUint64(b[96:], h.BundleIndexLen)
	le.PutUint64(b[104:], h.BundlePermOff)
	le.PutUint64(b[112:], h.BundlePermLen)
	le.PutUint64(b[120:], h.ChunkTableOff)
	le.PutUint64(b[128:], h.ChunkTableLen)
	return b
}

func unmarshalHeader(b []byte) header {
	le := binary.LittleEndian
	return header{
		Magic:            le.Uint32(b[0:]),
		Version:          le.Uint32(b[4:]),
		ShardCount:       le.Uint32(b[8:]),
		ResourceCount:    le.Uint32(b[12:]),
		ContentCount:     le.Uint32(b[16:]),
		BundleCount:      le.Uint32(b[20:]),
		VersionStringOff: le.Uint64(b[24:]),
		VersionStringLen: le.Uint64(b[32:]),
		ContainerInfoOff: le.Uint64(b[40:]),
		ContainerInfoLen: le.Uint64(b[48:]),
		ResourceIndexOff: le.Uint64(b[56:]),
		ResourceIndexLen: le.Uint64(b[64:]),
		ContentIndexOff:  le.Uint64(b[72:]),
		ContentIndexLen:  le.Uint64(b[80:]),
		BundleIndexOff:   le.Uint64(b[88:]),
		BundleIndexLen:   le.Uint64(b[96:]),
		BundlePermOff:    le.Uint64(b[104:]),
		BundlePermLen:    le.Uint64(b[112:]),
		ChunkTableOff:    le.Uint64(b[120:]),
		ChunkTableLen:    le.Uint64(b[128:]),
	}
}

// ContainerInfo describes one content shard (spec.md §3).
type ContainerInfo struct {
	Size  uint64
	Count uint32
}

const containerInfoSize = 12

func (c ContainerInfo) marshal() []byte {
	b := make([]byte, containerInfoSize)
	binary.LittleEndian.PutUint64(b[0:], c.Size)
	binary.LittleEndian.PutUint32(b[8:], c.Count)
	return b
}

func unmarshalContainerInfo(b []byte) ContainerInfo {
	return ContainerInfo{
		Size:  binary.LittleEndian.Uint64(b[0:]),
		Count: binary.LittleEndian.Uint32(b[8:]),
	}
}

// ResourceEntry is the resource-id index's value: a descriptor's position
// in the logical (uncompressed) resource stream.
type ResourceEntry struct {
	Offset uint64
	Size   uint32
}

const resourceEntryValueSize = 12

func (e ResourceEntry) marshal() []byte {
	b := make([]byte, resourceEntryValueSize)
	binary.LittleEndian.PutUint64(b[0:], e.Offset)
	binary.LittleEndian.PutUint32(b[8:], e.Size)
	return b
}

func unmarshalResourceEntry(b []byte) ResourceEntry {
	return ResourceEntry{
		Offset: binary.LittleEndian.Uint64(b[0:]),
		Size:   binary.LittleEndian.Uint32(b[8:]),
	}
}

// ContentEntry is the content-hash index's value: a blob's location within
// a content shard.
type ContentEntry struct {
	SegmentIndex uint32
	Offset       uint64
	Flags        uint32
}

const contentEntryValueSize = 16

func (e ContentEntry) marshal() []byte {
	b := make([]byte, contentEntryValueSize)
	binary.LittleEndian.PutUint32(b[0:], e.SegmentIndex)
	binary.LittleEndian.PutUint64(b[4:], e.Offset)
	binary.LittleEndian.PutUint32(b[12:], e.Flags)
	return b
}

func unmarshalContentEntry(b []byte) ContentEntry {
	return ContentEntry{
		SegmentIndex: binary.LittleEndian.Uint32(b[0:]),
		Offset:       binary.LittleEndian.Uint64(b[4:]),
		Flags:        binary.LittleEndian.Uint32(b[12:]),
	}
}

// ResourceBundleEntry groups resource-ids sharing a type into a run of the
// flat permutation array (spec.md §3). InternalHash holds the Type tag of
// those resource-ids, i.e. the owning type's qualified_hash; the registry's
// internal_hash is not used as the bundle key.
type ResourceBundleEntry struct {
	InternalHash uint32
	StartIndex   uint32
	Count        uint32
}

const bundleEntryValueSize = 12

func (e ResourceBundleEntry) marshal() []byte {
	b := make([]byte, bundleEntryValueSize)
	binary.LittleEndian.PutUint32(b[0:], e.InternalHash)
	binary.LittleEndian.PutUint32(b[4:], e.StartIndex)
	binary.LittleEndian.PutUint32(b[8:], e.Count)
	return b
}

func unmarshalBundleEntry(b []byte) ResourceBundleEntry {
	return ResourceBundleEntry{
		InternalHash: binary.LittleEndian.Uint32(b[0:]),
		StartIndex:   binary.LittleEndian.Uint32(b[4:]),
		Count:        binary.LittleEndian.Uint32(b[8:]),
	}
}

// ResourceChunkInfo is one element of the resource stream's chunk table
// (spec.md §3): both the on-disk (compressed) and logical (uncompressed)
// domains, so a reader can locate a descriptor by either.
type ResourceChunkInfo struct {
	FileOffset        uint64
	OnDiskSize        uint32
	CompressedSize    uint32
	UncompressedOffset uint64
	UncompressedSize   uint32
}

const chunkInfoSize = 28

func (c ResourceChunkInfo) marshal() []byte {
	b := make([]byte, chunkInfoSize)
	le := binary.LittleEndian
	le.PutUint64(b[0:], c.FileOffset)
	le.PutUint32(b[8:], c.OnDiskSize)
	le.PutUint32(b[12:], c.CompressedSize)
	le.PutUint64(b[16:], c.UncompressedOffset)
	le.PutUint32(b[24:], c.UncompressedSize)
	return b
}

func unmarshalChunkInfo(b []byte) ResourceChunkInfo {
	le := binary.LittleEndian
	return ResourceChunkInfo{
		FileOffset:         le.Uint64(b[0:]),
		OnDiskSize:         le.Uint32(b[8:]),
		CompressedSize:     le.Uint32(b[12:]),
		UncompressedOffset: le.Uint64(b[16:]),
		UncompressedSize:   le.Uint32(b[24:]),
	}
}

// marshalBuckets/unmarshalBuckets serialize a statichash.Map's bucket array
// ahead of its keys/values, so a reader reconstructs the map without
// re-bucketing (spec.md §4.1 "Static hash map").
func marshalBuckets(buckets []statichash.Bucket) []byte {
	b := make([]byte, 4+8*len(buckets))
	binary.LittleEndian.PutUint32(b[0:], uint32(len(buckets)))
	for i, bk := range buckets {
		off := 4 + i*8
		binary.LittleEndian.PutUint32(b[off:], bk.Start)
		binary.LittleEndian.PutUint32(b[off+4:], bk.Length)
	}
	return b
}

func unmarshalBuckets(b []byte) (buckets []statichash.Bucket, rest []byte) {
	n := binary.LittleEndian.Uint32(b[0:])
	buckets = make([]statichash.Bucket, n)
	for i := uint32(0); i < n; i++ {
		off := 4 + int(i)*8
		buckets[i] = statichash.Bucket{
			Start:  binary.LittleEndian.Uint32(b[off:]),
			Length: binary.LittleEndian.Uint32(b[off+4:]),
		}
	}
	return buckets, b[4+8*n:]
}

func hashResourceId(id ident.ResourceId) uint32 { return hashio.FNV32a(id.MarshalBinary()) }
func eqResourceId(a, b ident.ResourceId) bool   { return a == b }

func hashContentHash(h ident.ContentHash) uint32 { return h.H0 ^ h.H1 ^ h.H2 }
func eqContentHash(a, b ident.ContentHash) bool  { return a.Equal(b) }

func hashTypeTag(h uint32) uint32    { return h }
func eqTypeTag(a, b uint32) bool     { return a == b }
