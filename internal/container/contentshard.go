package container

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/hashio"
)

// contentShardPath returns the path of shard index within containerPath's
// directory, named "<stem>_NNN.dat" (spec.md §4.1).
func contentShardPath(containerPath string, index uint32) string {
	dir := filepath.Dir(containerPath)
	ext := filepath.Ext(containerPath)
	stem := strings.TrimSuffix(filepath.Base(containerPath), ext)
	return filepath.Join(dir, fmt.Sprintf("%s_%03d.dat", stem, index))
}

// contentShardWriter appends raw (uncompressed) content blobs to a run of
// shard files, padding each blob to contentAlignment and rotating to a new
// shard once maxSegmentSize is exceeded.
type contentShardWriter struct {
	containerPath string
	maxSegment    int64

	index   uint32
	f       *os.File
	written int64
	count   uint32

	infos []ContainerInfo // one per completed shard, in index order
}

func newContentShardWriter(containerPath string, startIndex uint32) (*contentShardWriter, error) {
	w := &contentShardWriter{containerPath: containerPath, maxSegment: maxSegmentSize}
	if err := w.openShard(startIndex); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *contentShardWriter) openShard(index uint32) error {
	f, err := os.OpenFile(contentShardPath(w.containerPath, index), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return xerrors.Errorf("container: opening content shard %d: %w", index, err)
	}
	w.index = index
	w.f = f
	w.written = 0
	w.count = 0
	return nil
}

// Append writes data, padded to contentAlignment, into the current shard
// and returns its ContentEntry. Rotates to a new shard first if data would
// push the shard over maxSegment.
func (w *contentShardWriter) Append(data []byte) (ContentEntry, error) {
	if w.written > 0 && w.written+int64(len(data)) > w.maxSegment {
		if err := w.rotate(); err != nil {
			return ContentEntry{}, err
		}
	}
	entry := ContentEntry{SegmentIndex: w.index, Offset: uint64(w.written)}
	if _, err := w.f.Write(data); err != nil {
		return ContentEntry{}, xerrors.Errorf("container: writing content shard %d: %w", w.index, err)
	}
	padded := hashio.Align(int64(len(data)), contentAlignment)
	if _, err := w.f.Write(make([]byte, padded-int64(len(data)))); err != nil {
		return ContentEntry{}, xerrors.Errorf("container: padding content shard %d: %w", w.index, err)
	}
	w.written += padded
	w.count++
	return entry, nil
}

func (w *contentShardWriter) rotate() error {
	w.infos = append(w.infos, ContainerInfo{Size: uint64(w.written), Count: w.count})
	if err := w.f.Close(); err != nil {
		return err
	}
	return w.openShard(w.index + 1)
}

// Finish closes the current shard and returns per-shard info for every
// shard touched, padding the total shard count (including any shards
// below the start index) to the next power of two with empty shards that
// continue the index sequence (spec.md §4.1 "finalize").
func (w *contentShardWriter) Finish() ([]ContainerInfo, error) {
	w.infos = append(w.infos, ContainerInfo{Size: uint64(w.written), Count: w.count})
	if err := w.f.Close(); err != nil {
		return nil, err
	}

	target := hashio.NextPowerOfTwo(int(w.index) + 1)
	for w.index+1 < target {
		w.index++
		idx := w.index
		f, err := os.OpenFile(contentShardPath(w.containerPath, idx), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, xerrors.Errorf("container: creating padding shard %d: %w", idx, err)
		}
		f.Close()
		w.infos = append(w.infos, ContainerInfo{})
	}
	return w.infos, nil
}

// contentShardReader lazily opens and caches per-shard file handles for
// random-access reads.
type contentShardReader struct {
	containerPath string

	mu    sync.Mutex
	files map[uint32]*os.File
}

func newContentShardReader(containerPath string) *contentShardReader {
	return &contentShardReader{containerPath: containerPath, files: make(map[uint32]*os.File)}
}

func (r *contentShardReader) shardFile(index uint32) (*os.File, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.files[index]; ok {
		return f, nil
	}
	f, err := os.Open(contentShardPath(r.containerPath, index))
	if err != nil {
		return nil, xerrors.Errorf("container: opening content shard %d: %w", index, err)
	}
	r.files[index] = f
	return f, nil
}

// Read returns the length bytes of content starting at entry's offset in
// its shard.
func (r *contentShardReader) Read(entry ContentEntry, length uint32) ([]byte, error) {
	f, err := r.shardFile(entry.SegmentIndex)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := f.ReadAt(buf, int64(entry.Offset)); err != nil {
		return nil, xerrors.Errorf("container: reading content shard %d: %w", entry.SegmentIndex, err)
	}
	return buf, nil
}

func (r *contentShardReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for _, f := range r.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
