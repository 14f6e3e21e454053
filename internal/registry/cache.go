package registry

import (
	"os"

	jsoniter "github.com/json-iterator/go"
	"golang.org/x/xerrors"
)

var cacheJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// SaveCache writes r as the canonical reflection_data.json cache form
// (spec.md §6 "On-disk files"), including the version tag it was built
// against.
func SaveCache(path string, r *Registry) error {
	b, err := cacheJSON.MarshalIndent(r, "", "  ")
	if err != nil {
		return xerrors.Errorf("registry: marshal cache: %w", err)
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return xerrors.Errorf("registry: write cache %s: %w", path, err)
	}
	return nil
}

// LoadCache reads and re-indexes a reflection_data.json file previously
// written by SaveCache.
func LoadCache(path string) (*Registry, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err // os.IsNotExist checked by the caller, see EnsureFresh
	}
	var r Registry
	if err := cacheJSON.Unmarshal(b, &r); err != nil {
		return nil, xerrors.Errorf("registry: malformed cache %s: %w", path, err)
	}
	return New(r.Types, r.Version), nil
}

// Extractor produces a fresh Registry, tagged with the version it was
// extracted against (spec.md §4.2 "Extraction").
type Extractor func() (*Registry, error)

// EnsureFresh implements the loader flow of spec.md §4.2 "Cache and
// freshness": it attempts to read the cache at path; if the cache is
// missing, malformed, or tagged with a version other than wantVersion, it
// re-extracts via extract and rewrites the cache. It never extracts when a
// fresh cache is already on disk.
func EnsureFresh(path, wantVersion string, extract Extractor) (*Registry, error) {
	if r, err := LoadCache(path); err == nil && r.Version == wantVersion {
		return r, nil
	} else if err != nil && !os.IsNotExist(err) {
		// Malformed cache: fall through to re-extraction rather than
		// propagating the parse error, per spec.md §4.2.
	}

	r, err := extract()
	if err != nil {
		return nil, xerrors.Errorf("registry: extract: %w", err)
	}
	r.Version = wantVersion
	if err := SaveCache(path, r); err != nil {
		return nil, err
	}
	return r, nil
}
