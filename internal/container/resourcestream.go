package container

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/hashio"
)

// resourceStreamPath returns the .res sibling of a .gda container path.
func resourceStreamPath(containerPath string) string {
	ext := filepath.Ext(containerPath)
	return strings.TrimSuffix(containerPath, ext) + ".res"
}

// resourceStreamWriter accumulates descriptors into an uncompressed chunk
// buffer, 16-byte-aligning each one, and flushes the chunk as a single
// Zstandard-compressed unit once appending the next descriptor would exceed
// resourceChunkCap (spec.md §4.1 "Resource stream").
type resourceStreamWriter struct {
	f   *os.File
	enc *zstd.Encoder

	fileOffset       int64 // next write position within f, already 4KiB-aligned
	logicalOffset    int64 // uncompressed offset of the start of the pending chunk
	pending          []byte
	chunks           []ResourceChunkInfo
}

// newResourceStreamWriter opens path for a full write, truncating any
// existing content. An incremental write uses openResourceStreamWriterAppend
// instead, which leaves the reference stream's bytes in place.
func newResourceStreamWriter(path string) (*resourceStreamWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, xerrors.Errorf("container: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return nil, xerrors.Errorf("container: opening resource stream: %w", err)
	}
	return &resourceStreamWriter{f: f, enc: enc}, nil
}

// openResourceStreamWriterAppend reopens path for appending after
// fileOffset/logicalOffset (the end of a reference container's stream), for
// incremental writes that keep the existing prefix byte-for-byte.
func openResourceStreamWriterAppend(path string, fileOffset, logicalOffset int64) (*resourceStreamWriter, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, xerrors.Errorf("container: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, xerrors.Errorf("container: opening resource stream: %w", err)
	}
	return &resourceStreamWriter{f: f, enc: enc, fileOffset: fileOffset, logicalOffset: logicalOffset}, nil
}

// Append writes one descriptor's bytes, 16-byte-aligning it within the
// pending uncompressed chunk, and returns its ResourceEntry in the logical
// stream. It flushes the current chunk first if data would overflow
// resourceChunkCap.
func (w *resourceStreamWriter) Append(data []byte) (ResourceEntry, error) {
	if int64(len(w.pending))+int64(len(data)) > resourceChunkCapVar && len(w.pending) > 0 {
		if err := w.flush(); err != nil {
			return ResourceEntry{}, err
		}
	}
	aligned := hashio.Align(int64(len(w.pending)), resourceAlignment)
	for int64(len(w.pending)) < aligned {
		w.pending = append(w.pending, 0)
	}
	entry := ResourceEntry{
		Offset: uint64(w.logicalOffset + int64(len(w.pending))),
		Size:   uint32(len(data)),
	}
	w.pending = append(w.pending, data...)
	return entry, nil
}

func (w *resourceStreamWriter) flush() error {
	if len(w.pending) == 0 {
		return nil
	}
	compressed := w.enc.EncodeAll(w.pending, nil)
	if _, err := w.f.WriteAt(compressed, w.fileOffset); err != nil {
		return xerrors.Errorf("container: writing resource stream: %w", err)
	}
	w.chunks = append(w.chunks, ResourceChunkInfo{
		FileOffset:         uint64(w.fileOffset),
		OnDiskSize:         hashio.AlignUint32(uint32(len(compressed)), resourceChunkAlignment),
		CompressedSize:     uint32(len(compressed)),
		UncompressedOffset: uint64(w.logicalOffset),
		UncompressedSize:   uint32(len(w.pending)),
	})
	w.fileOffset += int64(hashio.AlignUint32(uint32(len(compressed)), resourceChunkAlignment))
	w.logicalOffset += int64(len(w.pending))
	w.pending = w.pending[:0]
	return nil
}

// Finish flushes any partial chunk and closes the file, returning every
// chunk this writer produced (not including chunks inherited from a
// reference container in an incremental write).
func (w *resourceStreamWriter) Finish() ([]ResourceChunkInfo, error) {
	if err := w.flush(); err != nil {
		return nil, err
	}
	if err := w.f.Close(); err != nil {
		return nil, err
	}
	return w.chunks, nil
}

// resourceStreamReader provides random access into a .res file by logical
// (uncompressed) offset, memoizing the most recently decompressed chunk
// (spec.md §4.1 "lazy... memoizes the last-used chunk").
type resourceStreamReader struct {
	f      *os.File
	dec    *zstd.Decoder
	chunks []ResourceChunkInfo // sorted by UncompressedOffset

	mu         sync.Mutex
	lastChunk  int
	lastBytes  []byte
	hasLast    bool
}

func newResourceStreamReader(path string, chunks []ResourceChunkInfo) (*resourceStreamReader, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, xerrors.Errorf("container: %w", err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("container: opening resource stream: %w", err)
	}
	return &resourceStreamReader{f: f, dec: dec, chunks: chunks}, nil
}

// Read returns the uncompressed bytes for entry, decompressing and
// concatenating every chunk the range overlaps (reads crossing a chunk
// boundary decompress more than one chunk, per spec.md §4.1).
func (r *resourceStreamReader) Read(entry ResourceEntry) ([]byte, error) {
	start := int64(entry.Offset)
	end := start + int64(entry.Size)

	idx := sort.Search(len(r.chunks), func(i int) bool {
		return int64(r.chunks[i].UncompressedOffset)+int64(r.chunks[i].UncompressedSize) > start
	})
	if idx >= len(r.chunks) {
		return nil, xerrors.New("container: resource entry outside the chunk table")
	}

	out := make([]byte, 0, entry.Size)
	for pos := start; pos < end; {
		if idx >= len(r.chunks) {
			return nil, xerrors.New("container: resource entry runs past the end of the chunk table")
		}
		c := r.chunks[idx]
		chunkStart := int64(c.UncompressedOffset)
		chunkEnd := chunkStart + int64(c.UncompressedSize)
		chunk, err := r.decompressedChunk(idx, c)
		if err != nil {
			return nil, err
		}
		lo := pos - chunkStart
		hi := chunkEnd - chunkStart
		if end < chunkEnd {
			hi = end - chunkStart
		}
		out = append(out, chunk[lo:hi]...)
		pos = chunkStart + hi
		idx++
	}
	return out, nil
}

func (r *resourceStreamReader) decompressedChunk(idx int, c ResourceChunkInfo) ([]byte, error) {
	r.mu.Lock()
	if r.hasLast && r.lastChunk == idx {
		chunk := r.lastBytes
		r.mu.Unlock()
		return chunk, nil
	}
	r.mu.Unlock()

	compressed := make([]byte, c.CompressedSize)
	if _, err := r.f.ReadAt(compressed, int64(c.FileOffset)); err != nil {
		return nil, xerrors.Errorf("container: reading resource chunk: %w", err)
	}
	chunk, err := r.dec.DecodeAll(compressed, make([]byte, 0, c.UncompressedSize))
	if err != nil {
		return nil, xerrors.Errorf("container: decompressing resource chunk: %w", err)
	}

	r.mu.Lock()
	r.lastChunk, r.lastBytes, r.hasLast = idx, chunk, true
	r.mu.Unlock()
	return chunk, nil
}

func (r *resourceStreamReader) Close() error {
	return r.f.Close()
}
