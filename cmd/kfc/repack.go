package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/backup"
	"github.com/kfc-tools/kfc/internal/container"
	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/work"
)

const repackHelp = `kfc repack [-flags]

Write a directory of unpacked JSON descriptors back into the archive,
leaving every other resource untouched (spec.md §4.1 incremental write).

Example:
  % kfc repack -game-dir ./game -input ./unpacked
`

func cmdRepack(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("repack", flag.ExitOnError)
	fset.Usage = usage(fset, repackHelp)
	a := registerArchiveFlags(fset)
	threads := threadFlag(fset)
	inputDir := fset.String("input", "", "directory of JSON files to repack")
	fromStdin := fset.Bool("stdin", false, "read newline-delimited JSON resources from stdin instead of a directory")
	fset.Parse(args)

	if *inputDir == "" && !*fromStdin {
		return xerrors.New("repack: one of -input or -stdin is required")
	}

	reg, err := a.loadRegistry()
	if err != nil {
		return xerrors.Errorf("repack: loading type cache: %w", err)
	}

	archivePath := a.archivePath()
	if err := backup.Ensure(archivePath); err != nil {
		return xerrors.Errorf("repack: %w", err)
	}

	sources, errc := readSources(*inputDir, *fromStdin)

	w, err := container.OpenIncremental(archivePath)
	if err != nil {
		return xerrors.Errorf("repack: %w", err)
	}

	parse := func(raw []byte) (ident.ResourceId, []byte, error) {
		return work.ParseJSON(reg, raw)
	}

	stats, rerr := work.Repack(ctx, w, sources, *threads, parse, nil, logf)
	if srcErr := <-errc; srcErr != nil {
		_ = backup.Revert(archivePath)
		return xerrors.Errorf("repack: reading sources: %w", srcErr)
	}
	if rerr != nil {
		_ = backup.Revert(archivePath)
		return xerrors.Errorf("repack: %w", rerr)
	}

	if err := w.Finalize(); err != nil {
		_ = backup.Revert(archivePath)
		return xerrors.Errorf("repack: %w", err)
	}

	fmt.Fprintf(os.Stderr, "repack: %d succeeded, %d failed\n", stats.Succeeded, stats.Failed)
	return nil
}

// readSources streams raw JSON blobs from either a directory of *.json
// files or newline-delimited stdin into a channel, closing it once
// exhausted; any read error is reported on the returned error channel.
func readSources(dir string, fromStdin bool) (<-chan []byte, <-chan error) {
	out := make(chan []byte)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		if fromStdin {
			sc := bufio.NewScanner(os.Stdin)
			sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
			for sc.Scan() {
				line := append([]byte(nil), sc.Bytes()...)
				if len(line) == 0 {
					continue
				}
				out <- line
			}
			if err := sc.Err(); err != nil {
				errc <- err
			}
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			errc <- err
			return
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				errc <- err
				return
			}
			out <- data
		}
	}()
	return out, errc
}
