package work

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/container"
	"github.com/kfc-tools/kfc/internal/ident"
)

// pairChanCap is the repack pipeline's bounded channel capacity between
// serializer workers and the writer task (spec.md §5 "a bounded channel
// (capacity 1024)").
const pairChanCap = 1024

// Parse turns one input file's raw bytes into the resource-id and
// descriptor bytes to write.
type Parse func(raw []byte) (ident.ResourceId, []byte, error)

type pair struct {
	id   ident.ResourceId
	data []byte
}

// Repack is the two-stage pipeline of spec.md §5: threads serializer
// workers read from sources, parse each input into an (id, bytes) pair,
// and feed a bounded channel; a single writer task drains the channel and
// calls w.WriteResource. The writer runs inside the same errgroup as the
// serializers so a write failure (or a panic anywhere in the pipeline)
// cancels ctx and unblocks every other goroutine rather than deadlocking
// on the bounded channel.
func Repack(ctx context.Context, w *container.Writer, sources <-chan []byte, threads int, parse Parse, prog *Progress, logf func(format string, args ...interface{})) (Stats, error) {
	if threads < 1 {
		threads = 1
	}
	pairs := make(chan pair, pairChanCap)
	var stats Stats
	eg, ctx := errgroup.WithContext(ctx)

	var serializers sync.WaitGroup
	serializers.Add(threads)
	for i := 0; i < threads; i++ {
		eg.Go(func() (err error) {
			defer serializers.Done()
			defer func() {
				if p := recover(); p != nil {
					err = xerrors.Errorf("work: repack serializer panic: %v", p)
				}
			}()
			for {
				select {
				case raw, ok := <-sources:
					if !ok {
						return nil
					}
					id, data, perr := parse(raw)
					if perr != nil {
						atomic.AddInt64(&stats.Failed, 1)
						prog.Suspend(func() { logf("repack: %v", perr) })
						continue
					}
					select {
					case pairs <- pair{id: id, data: data}:
					case <-ctx.Done():
						return ctx.Err()
					}
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		})
	}
	go func() {
		serializers.Wait()
		close(pairs)
	}()

	eg.Go(func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = xerrors.Errorf("work: repack writer panic: %v", p)
			}
		}()
		for {
			select {
			case p, ok := <-pairs:
				if !ok {
					return nil
				}
				if err := w.WriteResource(p.id, p.data); err != nil {
					return xerrors.Errorf("work: writer: %w", err)
				}
				atomic.AddInt64(&stats.Succeeded, 1)
				prog.Add(1)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})

	if err := eg.Wait(); err != nil {
		return stats, xerrors.Errorf("work: repack: %w", err)
	}
	return stats, nil
}
