package work

import (
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// Progress is the sidecar atomic counter spec.md §5 describes: "Progress
// reporting is a sidecar atomic counter; workers suspend the progress bar
// only to emit log lines." Add is lock-free; the terminal redraw itself
// is serialized by out so concurrent workers don't interleave partial
// writes, and is skipped entirely when stderr isn't a terminal.
type Progress struct {
	total int64
	done  int64

	out sync.Mutex // guards terminal redraws only, never the counter
	w   io.Writer
	tty bool
}

// NewProgress creates a progress sidecar for a batch of total items,
// rendering to stderr when it's an interactive terminal.
func NewProgress(total int) *Progress {
	return &Progress{
		total: int64(total),
		w:     os.Stderr,
		tty:   isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()),
	}
}

// Add advances the counter by n and, on a terminal, redraws the status
// line. Safe for concurrent use by every worker.
func (p *Progress) Add(n int64) {
	if p == nil {
		return
	}
	done := atomic.AddInt64(&p.done, n)
	if !p.tty {
		return
	}
	p.out.Lock()
	fmt.Fprintf(p.w, "\r%s / %s", humanize.Comma(done), humanize.Comma(p.total))
	p.out.Unlock()
}

// Done returns the current completed count.
func (p *Progress) Done() int64 {
	if p == nil {
		return 0
	}
	return atomic.LoadInt64(&p.done)
}

// Suspend clears the progress line, runs emit (typically a single log
// line), and lets the next Add redraw the counter underneath it (spec.md
// §5 "workers suspend the progress bar only to emit log lines").
func (p *Progress) Suspend(emit func()) {
	if p == nil || !p.tty {
		emit()
		return
	}
	p.out.Lock()
	fmt.Fprint(p.w, "\r\033[K")
	emit()
	p.out.Unlock()
}

// Finish prints a trailing newline so later output doesn't overwrite the
// last status line.
func (p *Progress) Finish() {
	if p == nil || !p.tty {
		return
	}
	fmt.Fprintln(p.w)
}
