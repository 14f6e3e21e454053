package main

import (
	"flag"
	"log"
	"path/filepath"
	"runtime"

	"github.com/kfc-tools/kfc/internal/registry"
)

// archiveFlags are the --game-dir/--file-name/--types flags shared by every
// verb that touches an archive (spec.md §6 "Every command accepts --game-dir
// and optionally --file-name").
type archiveFlags struct {
	gameDir  string
	fileName string
	types    string
}

func registerArchiveFlags(fset *flag.FlagSet) *archiveFlags {
	a := &archiveFlags{}
	fset.StringVar(&a.gameDir, "game-dir", ".", "directory containing the archive and its companion files")
	fset.StringVar(&a.fileName, "file-name", "base", "stem of the archive, e.g. base for base.gda")
	fset.StringVar(&a.types, "types", "", "path to the reflection_data.json type cache (default: <game-dir>/reflection_data.json)")
	return a
}

func (a *archiveFlags) archivePath() string {
	return filepath.Join(a.gameDir, a.fileName+".gda")
}

func (a *archiveFlags) typesPath() string {
	if a.types != "" {
		return a.types
	}
	return filepath.Join(a.gameDir, "reflection_data.json")
}

func (a *archiveFlags) loadRegistry() (*registry.Registry, error) {
	return registry.LoadCache(a.typesPath())
}

// threadFlag registers --threads, defaulting to the number of logical CPUs
// (one worker per logical thread).
func threadFlag(fset *flag.FlagSet) *int {
	return fset.Int("threads", runtime.NumCPU(), "number of worker goroutines")
}

func logf(format string, args ...interface{}) {
	log.Printf(format, args...)
}
