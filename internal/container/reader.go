package container

import (
	"os"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/hashio"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/statichash"
)

// Reader opens an existing archive for lookup. It is safe for concurrent
// use: every field is either read-only after Open or protected by its own
// mutex (resourceStreamReader, contentShardReader).
type Reader struct {
	path string
	hdr  header

	versionTag string

	resourceIdx *statichash.Map[ident.ResourceId]
	resources   []ResourceEntry

	contentIdx *statichash.Map[ident.ContentHash]
	contents   []ContentEntry

	bundleIdx  *statichash.Map[uint32]
	bundles    []ResourceBundleEntry
	bundlePerm []uint32

	chunks     []ResourceChunkInfo
	shardInfos []ContainerInfo

	stream *resourceStreamReader
	shards *contentShardReader
}

// Open parses path's header and index regions and prepares the resource
// stream and content shards for lazy reads (spec.md §4.1, C7). skipPayload
// skips every index region, leaving only the version tag populated, for
// cheap version probes (spec.md §4.1 "from_path(path, skip_payload)").
func Open(path string, skipPayload bool) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("container: %w", err)
	}
	defer f.Close()

	hdrBytes := make([]byte, headerSize)
	if _, err := f.ReadAt(hdrBytes, 0); err != nil {
		return nil, xerrors.Errorf("container: reading header: %w", err)
	}
	hdr := unmarshalHeader(hdrBytes)
	if hdr.Magic != magic {
		return nil, xerrors.New("container: not a KFC archive (bad magic)")
	}
	if hdr.Version != formatVersion {
		return nil, xerrors.Errorf("container: unsupported format version %d", hdr.Version)
	}

	versionTag, err := readVersionString(f, hdr)
	if err != nil {
		return nil, err
	}
	if skipPayload {
		return &Reader{path: path, hdr: hdr, versionTag: versionTag}, nil
	}

	resourceBuckets, resources, err := readResourceIndex(f, hdr)
	if err != nil {
		return nil, err
	}
	contentBuckets, hashes, contents, err := readContentIndex(f, hdr)
	if err != nil {
		return nil, err
	}
	bundleBuckets, bundleKeys, bundles, err := readBundleIndex(f, hdr)
	if err != nil {
		return nil, err
	}
	bundlePerm, err := readBundlePerm(f, hdr)
	if err != nil {
		return nil, err
	}
	chunks, err := readChunkTable(f, hdr)
	if err != nil {
		return nil, err
	}
	shardInfos, err := readContainerInfos(f, hdr)
	if err != nil {
		return nil, err
	}

	ids := make([]ident.ResourceId, len(resources))
	// resources/ids are parallel arrays already in bucketed order; Load
	// just re-attaches the hash/eq functions.
	if err := readResourceIds(f, hdr, ids); err != nil {
		return nil, err
	}

	stream, err := newResourceStreamReader(resourceStreamPath(path), chunks)
	if err != nil {
		return nil, err
	}

	return &Reader{
		path:        path,
		hdr:         hdr,
		versionTag:  versionTag,
		resourceIdx: statichash.Load(resourceBuckets, ids, hashResourceId, eqResourceId),
		resources:   resources,
		contentIdx:  statichash.Load(contentBuckets, hashes, hashContentHash, eqContentHash),
		contents:    contents,
		bundleIdx:   statichash.Load(bundleBuckets, bundleKeys, hashTypeTag, eqTypeTag),
		bundles:     bundles,
		bundlePerm:  bundlePerm,
		chunks:      chunks,
		shardInfos:  shardInfos,
		stream:      stream,
		shards:      newContentShardReader(path),
	}, nil
}

func readContainerInfos(f *os.File, hdr header) ([]ContainerInfo, error) {
	buf := make([]byte, hdr.ContainerInfoLen)
	if _, err := f.ReadAt(buf, int64(hdr.ContainerInfoOff)); err != nil {
		return nil, xerrors.Errorf("container: reading shard info: %w", err)
	}
	n := len(buf) / containerInfoSize
	infos := make([]ContainerInfo, n)
	for i := 0; i < n; i++ {
		off := i * containerInfoSize
		infos[i] = unmarshalContainerInfo(buf[off : off+containerInfoSize])
	}
	return infos, nil
}

func readVersionString(f *os.File, hdr header) (string, error) {
	if hdr.VersionStringLen == 0 {
		return "", nil
	}
	buf := make([]byte, hdr.VersionStringLen)
	if _, err := f.ReadAt(buf, int64(hdr.VersionStringOff)); err != nil {
		return "", xerrors.Errorf("container: reading version string: %w", err)
	}
	return string(buf), nil
}

// readResourceIndex parses the resource-id -> ResourceEntry region: a
// bucket table followed by ResourceCount ResourceEntry records in bucketed
// order.
func readResourceIndex(f *os.File, hdr header) ([]statichash.Bucket, []ResourceEntry, error) {
	buf := make([]byte, hdr.ResourceIndexLen)
	if _, err := f.ReadAt(buf, int64(hdr.ResourceIndexOff)); err != nil {
		return nil, nil, xerrors.Errorf("container: reading resource index: %w", err)
	}
	buckets, rest := unmarshalBuckets(buf)
	// rest is laid out as: ResourceCount*24 bytes of resource ids, then
	// ResourceCount*resourceEntryValueSize bytes of entries (see
	// readResourceIds/marshaling in writer.go).
	n := int(hdr.ResourceCount)
	idsLen := n * 24
	entries := make([]ResourceEntry, n)
	for i := 0; i < n; i++ {
		off := idsLen + i*resourceEntryValueSize
		entries[i] = unmarshalResourceEntry(rest[off : off+resourceEntryValueSize])
	}
	return buckets, entries, nil
}

func readResourceIds(f *os.File, hdr header, out []ident.ResourceId) error {
	buf := make([]byte, hdr.ResourceIndexLen)
	if _, err := f.ReadAt(buf, int64(hdr.ResourceIndexOff)); err != nil {
		return xerrors.Errorf("container: reading resource index: %w", err)
	}
	_, rest := unmarshalBuckets(buf)
	for i := range out {
		off := i * 24
		out[i] = ident.ResourceIdFromBytes(rest[off : off+24])
	}
	return nil
}

// readContentIndex parses the content-hash -> ContentEntry region.
func readContentIndex(f *os.File, hdr header) ([]statichash.Bucket, []ident.ContentHash, []ContentEntry, error) {
	buf := make([]byte, hdr.ContentIndexLen)
	if _, err := f.ReadAt(buf, int64(hdr.ContentIndexOff)); err != nil {
		return nil, nil, nil, xerrors.Errorf("container: reading content index: %w", err)
	}
	buckets, rest := unmarshalBuckets(buf)
	n := int(hdr.ContentCount)
	hashesLen := n * 16
	hashes := make([]ident.ContentHash, n)
	entries := make([]ContentEntry, n)
	for i := 0; i < n; i++ {
		hashes[i] = ident.ContentHashFromBytes(rest[i*16 : i*16+16])
		off := hashesLen + i*contentEntryValueSize
		entries[i] = unmarshalContentEntry(rest[off : off+contentEntryValueSize])
	}
	return buckets, hashes, entries, nil
}

// readBundleIndex parses the type-hash -> ResourceBundleEntry region.
func readBundleIndex(f *os.File, hdr header) ([]statichash.Bucket, []uint32, []ResourceBundleEntry, error) {
	buf := make([]byte, hdr.BundleIndexLen)
	if _, err := f.ReadAt(buf, int64(hdr.BundleIndexOff)); err != nil {
		return nil, nil, nil, xerrors.Errorf("container: reading bundle index: %w", err)
	}
	buckets, rest := unmarshalBuckets(buf)
	n := int(hdr.BundleCount)
	keys := make([]uint32, n)
	entries := make([]ResourceBundleEntry, n)
	for i := 0; i < n; i++ {
		off := i * bundleEntryValueSize
		entries[i] = unmarshalBundleEntry(rest[off : off+bundleEntryValueSize])
		keys[i] = entries[i].InternalHash
	}
	return buckets, keys, entries, nil
}

func readBundlePerm(f *os.File, hdr header) ([]uint32, error) {
	n := hdr.BundlePermLen / 4
	buf := make([]byte, hdr.BundlePermLen)
	if _, err := f.ReadAt(buf, int64(hdr.BundlePermOff)); err != nil {
		return nil, xerrors.Errorf("container: reading bundle permutation: %w", err)
	}
	perm := make([]uint32, n)
	for i := range perm {
		perm[i] = hashio.ReadU32(buf, i*4)
	}
	return perm, nil
}

func readChunkTable(f *os.File, hdr header) ([]ResourceChunkInfo, error) {
	buf := make([]byte, hdr.ChunkTableLen)
	if _, err := f.ReadAt(buf, int64(hdr.ChunkTableOff)); err != nil {
		return nil, xerrors.Errorf("container: reading chunk table: %w", err)
	}
	n := len(buf) / chunkInfoSize
	chunks := make([]ResourceChunkInfo, n)
	for i := 0; i < n; i++ {
		off := i * chunkInfoSize
		chunks[i] = unmarshalChunkInfo(buf[off : off+chunkInfoSize])
	}
	return chunks, nil
}

// VersionTag returns the container's version string, the discriminator
// used to decide registry-cache and backup freshness (spec.md §4.2, §4.1).
func (r *Reader) VersionTag() string { return r.versionTag }

// ResourceEntry looks up a resource-id's position in the logical resource
// stream without reading or decompressing its bytes.
func (r *Reader) ResourceEntry(id ident.ResourceId) (ResourceEntry, bool) {
	idx, ok := r.resourceIdx.Lookup(id)
	if !ok {
		return ResourceEntry{}, false
	}
	return r.resources[idx], true
}

// ReadResource returns a descriptor's raw (decompressed) bytes.
func (r *Reader) ReadResource(id ident.ResourceId) ([]byte, error) {
	entry, ok := r.ResourceEntry(id)
	if !ok {
		return nil, xerrors.Errorf("container: unknown resource %s", id)
	}
	return r.stream.Read(entry)
}

// ReadContent returns a content blob's raw bytes. Content shards are
// uncompressed (spec.md §4.1 "raw concatenation of content blobs"); the
// returned bytes are exactly what write_content was given.
func (r *Reader) ReadContent(h ident.ContentHash) ([]byte, error) {
	idx, ok := r.contentIdx.Lookup(h)
	if !ok {
		return nil, xerrors.Errorf("container: unknown content hash %s", h)
	}
	return r.shards.Read(r.contents[idx], h.Size)
}

// Resources returns every resource id stored in the archive, in static hash
// map storage order (not insertion order).
func (r *Reader) Resources() []ident.ResourceId {
	ids := r.resourceIdx.Keys
	out := make([]ident.ResourceId, len(ids))
	copy(out, ids)
	return out
}

// ResourcesByType returns every resource id whose owning-type qualified
// hash equals typeHash, via the bundle map's permutation array (spec.md §3
// "ResourceBundleEntry").
func (r *Reader) ResourcesByType(typeHash uint32) []ident.ResourceId {
	idx, ok := r.bundleIdx.Lookup(typeHash)
	if !ok {
		return nil
	}
	b := r.bundles[idx]
	ids := r.resourceIdx.Keys
	out := make([]ident.ResourceId, 0, b.Count)
	for i := b.StartIndex; i < b.StartIndex+b.Count; i++ {
		out = append(out, ids[r.bundlePerm[i]])
	}
	return out
}

// Close releases the reader's open resource-stream and shard file handles.
func (r *Reader) Close() error {
	var firstErr error
	if r.stream != nil {
		if err := r.stream.Close(); err != nil {
			firstErr = err
		}
	}
	if r.shards != nil {
		if err := r.shards.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
