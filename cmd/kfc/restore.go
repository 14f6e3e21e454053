package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/backup"
)

const restoreHelp = `kfc restore <ensure|revert|verify> [-flags]

Manage an archive's .bak safety net (spec.md §4.1, C13):
  ensure  - create or refresh the backup if it's missing or stale
  revert  - copy the backup back over the archive
  verify  - fail if the backup is irregular or stale, without recreating
            it (a missing backup passes)
`

func cmdRestore(ctx context.Context, args []string) error {
	fset := flag.NewFlagSet("restore", flag.ExitOnError)
	fset.Usage = usage(fset, restoreHelp)
	a := registerArchiveFlags(fset)

	if len(args) == 0 {
		fset.Usage()
		return xerrors.New("restore: missing subcommand (ensure, revert, or verify)")
	}
	sub, rest := args[0], args[1:]
	fset.Parse(rest)

	archivePath := a.archivePath()
	var err error
	switch sub {
	case "ensure":
		err = backup.Ensure(archivePath)
	case "revert":
		err = backup.Revert(archivePath)
	case "verify":
		err = backup.VerifyGate(archivePath)
	default:
		fset.Usage()
		return xerrors.Errorf("restore: unknown subcommand %q", sub)
	}
	if err != nil {
		return xerrors.Errorf("restore %s: %w", sub, err)
	}
	fmt.Fprintf(os.Stderr, "restore %s: ok\n", sub)
	return nil
}
