package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/peextract"
	"github.com/kfc-tools/kfc/internal/registry"
)

const extractTypesHelp = `kfc extract-types [-flags]

Extract the type registry from a game executable's .rdata anchors and
cache it as reflection_data.json (spec.md §4.2, C4/C5).

Example:
  % kfc extract-types -game-dir ./game -exe ./game/Game.exe -version v1
`

func cmdExtractTypes(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("extract-types", flag.ExitOnError)
	fset.Usage = usage(fset, extractTypesHelp)
	a := registerArchiveFlags(fset)
	exe := fset.String("exe", "", "path to the game executable to extract the registry from")
	version := fset.String("version", "", "version tag to stamp the cache with")
	fset.Parse(args)

	if *exe == "" {
		return xerrors.New("extract-types: -exe is required")
	}

	reg, err := peextract.Extract(*exe, *version)
	if err != nil {
		return xerrors.Errorf("extract-types: %w", err)
	}

	cachePath := a.typesPath()
	if err := registry.SaveCache(cachePath, reg); err != nil {
		return xerrors.Errorf("extract-types: %w", err)
	}
	fmt.Fprintf(os.Stderr, "extract-types: wrote %s\n", cachePath)
	return nil
}
