// Package work implements the unpack/repack concurrency model: a
// fixed-size worker pool draining a shared queue for unpack, and a
// serializer/writer pipeline for repack (spec.md §5).
package work

import (
	"strings"

	"golang.org/x/xerrors"

	"github.com/kfc-tools/kfc/internal/ident"
	"github.com/kfc-tools/kfc/internal/registry"
)

// Filter selects a subset of an archive's resources from a CLI --filter
// expression: a comma-separated list of "*", "t<qualified_name>", or a
// bare guid (spec.md §6).
type Filter struct {
	all   bool
	types map[uint32]bool
	ids   []ident.Guid
}

// ParseFilter parses expr against reg, resolving each "t<qualified_name>"
// token to the type's qualified_hash. An empty expr matches everything.
func ParseFilter(expr string, reg *registry.Registry) (Filter, error) {
	if strings.TrimSpace(expr) == "" {
		return Filter{all: true}, nil
	}
	f := Filter{types: make(map[uint32]bool)}
	for _, tok := range strings.Split(expr, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
			continue
		case tok == "*":
			f.all = true
		case strings.HasPrefix(tok, "t"):
			name := strings.TrimPrefix(tok, "t")
			idx, ok := reg.GetByName(registry.LookupQualifiedName, name)
			if !ok {
				return Filter{}, xerrors.Errorf("work: filter: unknown type %q", name)
			}
			f.types[reg.Get(idx).QualifiedHash] = true
		default:
			g, err := ident.ParseGuid(tok)
			if err != nil {
				return Filter{}, xerrors.Errorf("work: filter: %q is neither \"*\", \"t<name>\", nor a guid: %w", tok, err)
			}
			f.ids = append(f.ids, g)
		}
	}
	return f, nil
}

// Match reports whether id passes the filter.
func (f Filter) Match(id ident.ResourceId) bool {
	if f.all {
		return true
	}
	if f.types[id.Type] {
		return true
	}
	for _, g := range f.ids {
		if g == id.Id {
			return true
		}
	}
	return false
}

// Apply returns the subset of all matching f, preserving order.
func (f Filter) Apply(all []ident.ResourceId) []ident.ResourceId {
	if f.all {
		return all
	}
	out := make([]ident.ResourceId, 0, len(all))
	for _, id := range all {
		if f.Match(id) {
			out = append(out, id)
		}
	}
	return out
}
