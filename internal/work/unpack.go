package work

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/container"
	"github.com/kfc-tools/kfc/internal/ident"
)

// Stats reports per-batch counts; per-item failures are counted and
// logged rather than aborting the batch (spec.md §7).
type Stats struct {
	Succeeded int64
	Failed    int64
}

// Sink receives one unpacked resource's rendered bytes — typically a JSON
// file, or a single combined stream under --stdout.
type Sink interface {
	Put(id ident.ResourceId, data []byte) error
}

// Render converts a resource's raw descriptor bytes into its output
// representation.
type Render func(id ident.ResourceId, raw []byte) ([]byte, error)

// queue is a shared, mutex-guarded pop-only cursor into an ordered slice
// of resource ids (spec.md §5 "pops resource-ids from a shared queue
// guarded by a single mutex").
type queue struct {
	mu   sync.Mutex
	ids  []ident.ResourceId
	next int
}

// newQueue builds a queue over ids. deterministic pre-sorts by
// ident.ResourceId.Less, the "deterministic-output mode" spec.md §5
// describes as "obtained by pre-sorting the queue"; otherwise ids keep
// archive storage order and output is order-indeterminate.
func newQueue(ids []ident.ResourceId, deterministic bool) *queue {
	if deterministic {
		sorted := append([]ident.ResourceId(nil), ids...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
		ids = sorted
	}
	return &queue{ids: ids}
}

func (q *queue) pop() (ident.ResourceId, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.next >= len(q.ids) {
		return ident.ResourceId{}, false
	}
	id := q.ids[q.next]
	q.next++
	return id, true
}

// Unpack drains every id in ids across threads workers: each worker reads
// the resource's raw bytes, renders them, and writes the result to sink.
// A per-item read/render/write failure is counted and logged via logf but
// does not abort the batch. A worker panic is recovered, counted as the
// batch's failure, and aborts every other worker by cancelling ctx —
// "escalates into a top-level failure that triggers revert" (spec.md §5).
func Unpack(ctx context.Context, r *container.Reader, ids []ident.ResourceId, threads int, deterministic bool, render Render, sink Sink, prog *Progress, logf func(format string, args ...interface{})) (Stats, error) {
	if threads < 1 {
		threads = 1
	}
	q := newQueue(ids, deterministic)
	var stats Stats
	eg, ctx := errgroup.WithContext(ctx)

	for i := 0; i < threads; i++ {
		eg.Go(func() (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = xerrors.Errorf("work: unpack worker panic: %v", p)
				}
			}()
			for {
				if err := ctx.Err(); err != nil {
					return err
				}
				id, ok := q.pop()
				if !ok {
					return nil
				}
				if perr := unpackOne(r, id, render, sink); perr != nil {
					atomic.AddInt64(&stats.Failed, 1)
					prog.Suspend(func() { logf("unpack %s: %v", id, perr) })
					continue
				}
				atomic.AddInt64(&stats.Succeeded, 1)
				prog.Add(1)
			}
		})
	}

	if err := eg.Wait(); err != nil {
		return stats, xerrors.Errorf("work: unpack: %w", err)
	}
	return stats, nil
}

func unpackOne(r *container.Reader, id ident.ResourceId, render Render, sink Sink) error {
	raw, err := r.ReadResource(id)
	if err != nil {
		return err
	}
	out, err := render(id, raw)
	if err != nil {
		return err
	}
	return sink.Put(id, out)
}
