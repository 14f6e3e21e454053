package container

import (
	"github.com/google/renameio"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/statichash"
)

// Writer builds an archive from scratch, or incrementally appends to a
// reference archive: WriteResource/WriteContent stage new entries;
// Finalize rebuilds the three index regions and atomically replaces the
// container file (spec.md §4.1, C8).
type Writer struct {
	path       string
	versionTag string

	stream *resourceStreamWriter
	shards *contentShardWriter

	resources    []ident.ResourceId
	resourceVals []ResourceEntry
	resourceSeen map[ident.ResourceId]int // index into resources/resourceVals

	contentHashes []ident.ContentHash
	contentVals   []ContentEntry
	contentSeen   map[ident.ContentHash]int // index into contentHashes/contentVals

	// priorChunks/priorShardInfos hold a reference container's chunk table
	// and per-shard sizes, inherited unmodified in incremental mode.
	priorChunks    []ResourceChunkInfo
	priorShardInfos []ContainerInfo
}

// NewWriter starts a full (non-incremental) archive build at path, tagged
// with versionTag (spec.md §4.2 "the container's version tag").
func NewWriter(path, versionTag string) (*Writer, error) {
	sw, err := newResourceStreamWriter(resourceStreamPath(path))
	if err != nil {
		return nil, err
	}
	cw, err := newContentShardWriter(path, 0)
	if err != nil {
		return nil, err
	}
	return &Writer{
		path:         path,
		versionTag:   versionTag,
		stream:       sw,
		shards:       cw,
		resourceSeen: make(map[ident.ResourceId]int),
		contentSeen:  make(map[ident.ContentHash]int),
	}, nil
}

// OpenIncremental loads a reference archive's resource and content tables
// so new or changed resources can be appended without recompressing or
// moving content that hasn't changed: the resource stream is reopened for
// append after its last chunk, and new content goes to shards at index ≥
// the reference's shard count so existing shards are never mutated
// (spec.md §4.1 "Incremental write").
func OpenIncremental(path string) (*Writer, error) {
	r, err := Open(path, false)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	w := &Writer{
		path:         path,
		versionTag:   r.versionTag,
		resourceSeen: make(map[ident.ResourceId]int),
		contentSeen:  make(map[ident.ContentHash]int),
	}
	for i, id := range r.Resources() {
		w.resources = append(w.resources, id)
		w.resourceVals = append(w.resourceVals, r.resources[i])
		w.resourceSeen[id] = i
	}
	for i, h := range r.contentIdx.Keys {
		w.contentHashes = append(w.contentHashes, h)
		w.contentVals = append(w.contentVals, r.contents[i])
		w.contentSeen[h] = i
	}
	w.priorChunks = append([]ResourceChunkInfo(nil), r.chunks...)
	w.priorShardInfos = append([]ContainerInfo(nil), r.shardInfos...)

	var fileOffset, logicalOffset int64
	if n := len(r.chunks); n > 0 {
		last := r.chunks[n-1]
		fileOffset = int64(last.FileOffset) + int64(last.OnDiskSize)
		logicalOffset = int64(last.UncompressedOffset) + int64(last.UncompressedSize)
	}
	sw, err := openResourceStreamWriterAppend(resourceStreamPath(path), fileOffset, logicalOffset)
	if err != nil {
		return nil, err
	}
	w.stream = sw

	cw, err := newContentShardWriter(path, uint32(len(r.shardInfos)))
	if err != nil {
		return nil, err
	}
	w.shards = cw

	return w, nil
}

// WriteResource appends a descriptor's bytes to the resource stream's
// pending chunk, which is compressed and written out once full or on
// Finalize. Writing the same id again replaces its prior entry.
func (w *Writer) WriteResource(id ident.ResourceId, data []byte) error {
	entry, err := w.stream.Append(data)
	if err != nil {
		return err
	}
	if i, ok := w.resourceSeen[id]; ok {
		w.resourceVals[i] = entry
		return nil
	}
	w.resourceSeen[id] = len(w.resources)
	w.resources = append(w.resources, id)
	w.resourceVals = append(w.resourceVals, entry)
	return nil
}

// WriteContent stages a content blob, deduplicated by its content-hash: a
// hash already written (in this writer or inherited from a reference
// container) is not written again (spec.md §4.1 "deduplicates by
// content-hash").
func (w *Writer) WriteContent(hash ident.ContentHash, data []byte) error {
	if _, ok := w.contentSeen[hash]; ok {
		return nil
	}
	entry, err := w.shards.Append(data)
	if err != nil {
		return err
	}
	w.contentSeen[hash] = len(w.contentHashes)
	w.contentHashes = append(w.contentHashes, hash)
	w.contentVals = append(w.contentVals, entry)
	return nil
}

// Finalize writes the header and index regions and atomically replaces the
// container file at path via renameio (spec.md §4.1 "writes the header
// atomically").
func (w *Writer) Finalize() error {
	newChunks, err := w.stream.Finish()
	if err != nil {
		return err
	}
	chunks := append(append([]ResourceChunkInfo(nil), w.priorChunks...), newChunks...)

	newShardInfos, err := w.shards.Finish()
	if err != nil {
		return err
	}
	shardInfos := append(append([]ContainerInfo(nil), w.priorShardInfos...), newShardInfos...)

	resourceMap, perm := statichash.Build(w.resources, hashResourceId, eqResourceId)
	resourceEntries := make([]ResourceEntry, len(perm))
	for outIdx, origIdx := range perm {
		resourceEntries[outIdx] = w.resourceVals[origIdx]
	}

	contentMap, cperm := statichash.Build(w.contentHashes, hashContentHash, eqContentHash)
	contentEntries := make([]ContentEntry, len(cperm))
	for outIdx, origIdx := range cperm {
		contentEntries[outIdx] = w.contentVals[origIdx]
	}

	bundleKeys, bundleGroups := groupResourcesByType(resourceMap.Keys)
	bundleMap, bperm := statichash.Build(bundleKeys, hashTypeTag, eqTypeTag)
	bundleEntries := make([]ResourceBundleEntry, len(bperm))
	perm32 := make([]uint32, 0, len(resourceMap.Keys))
	for outIdx, origIdx := range bperm {
		group := bundleGroups[origIdx]
		bundleEntries[outIdx] = ResourceBundleEntry{
			InternalHash: bundleKeys[origIdx],
			StartIndex:   uint32(len(perm32)),
			Count:        uint32(len(group)),
		}
		perm32 = append(perm32, group...)
	}

	versionStringBytes := []byte(w.versionTag)

	containerInfoBytes := marshalAll(shardInfos, ContainerInfo.marshal)
	chunkTableBytes := marshalAll(chunks, ResourceChunkInfo.marshal)

	resourceIndexBytes := marshalBuckets(resourceMap.Buckets)
	for _, id := range resourceMap.Keys {
		resourceIndexBytes = append(resourceIndexBytes, id.MarshalBinary()...)
	}
	for _, e := range resourceEntries {
		resourceIndexBytes = append(resourceIndexBytes, e.marshal()...)
	}

	contentIndexBytes := marshalBuckets(contentMap.Buckets)
	for _, h := range contentMap.Keys {
		contentIndexBytes = append(contentIndexBytes, h.MarshalBinary()...)
	}
	for _, e := range contentEntries {
		contentIndexBytes = append(contentIndexBytes, e.marshal()...)
	}

	bundleIndexBytes := marshalBuckets(bundleMap.Buckets)
	bundleIndexBytes = append(bundleIndexBytes, marshalAll(bundleEntries, ResourceBundleEntry.marshal)...)

	bundlePermBytes := make([]byte, 4*len(perm32))
	for i, v := range perm32 {
		hashio.PutU32(bundlePermBytes, i*4, v)
	}

	hdr := header{
		Magic:         magic,
		Version:       formatVersion,
		ShardCount:    uint32(len(shardInfos)),
		ResourceCount: uint32(len(resourceEntries)),
		ContentCount:  uint32(len(contentEntries)),
		BundleCount:   uint32(len(bundleEntries)),
	}
	off := uint64(headerSize)
	hdr.VersionStringOff, hdr.VersionStringLen = off, uint64(len(versionStringBytes))
	off += hdr.VersionStringLen
	hdr.ContainerInfoOff, hdr.ContainerInfoLen = off, uint64(len(containerInfoBytes))
	off += hdr.ContainerInfoLen
	hdr.ResourceIndexOff, hdr.ResourceIndexLen = off, uint64(len(resourceIndexBytes))
	off += hdr.ResourceIndexLen
	hdr.ContentIndexOff, hdr.ContentIndexLen = off, uint64(len(contentIndexBytes))
	off += hdr.ContentIndexLen
	hdr.BundleIndexOff, hdr.BundleIndexLen = off, uint64(len(bundleIndexBytes))
	off += hdr.BundleIndexLen
	hdr.BundlePermOff, hdr.BundlePermLen = off, uint64(len(bundlePermBytes))
	off += hdr.BundlePermLen
	hdr.ChunkTableOff, hdr.ChunkTableLen = off, uint64(len(chunkTableBytes))

	out := make([]byte, 0, off+hdr.ChunkTableLen)
	out = append(out, hdr.marshal()...)
	out = append(out, versionStringBytes...)
	out = append(out, containerInfoBytes...)
	out = append(out, resourceIndexBytes...)
	out = append(out, contentIndexBytes...)
	out = append(out, bundleIndexBytes...)
	out = append(out, bundlePermBytes...)
	out = append(out, chunkTableBytes...)

	return renameio.WriteFile(w.path, out, 0644)
}

// groupResourcesByType partitions ids (already in bucketed resource-map
// order) by their owning-type tag, returning the distinct type hashes in
// first-occurrence order and, parallel to it, the list of resourceMap
// indices sharing that type — the raw material for the bundle map's
// permutation array.
func groupResourcesByType(ids []ident.ResourceId) (keys []uint32, groups [][]uint32) {
	index := make(map[uint32]int)
	for i, id := range ids {
		gi, ok := index[id.Type]
		if !ok {
			gi = len(keys)
			index[id.Type] = gi
			keys = append(keys, id.Type)
			groups = append(groups, nil)
		}
		groups[gi] = append(groups[gi], uint32(i))
	}
	return keys, groups
}

func marshalAll[T any](items []T, marshal func(T) []byte) []byte {
	var out []byte
	for _, it := range items {
		out = append(out, marshal(it)...)
	}
	return out
}
