package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/roach88/kerncheck/internal/fingerprint"
	"github.com/roach88/kerncheck/internal/registry"
	"github.com/roach88/kerncheck/internal/report"
	"github.com/roach88/kerncheck/internal/store"
	"github.com/roach88/kerncheck/internal/testdef"
)

// Selection is the set of tests a run executes.
type Selection struct {
	Root  string
	Tests []testdef.Definition
	// Skipped holds definitions discovery could not instantiate.
	Skipped []*registry.DiscoveryError
	// Fingerprints maps test ID to definition fingerprint. It is only
	// populated when history is in use.
	Fingerprints map[string]string
	// Unchanged counts tests dropped by the changed-only filter.
	Unchanged int
}

// SkippedReport converts discovery skips for the reporter.
func (s *Selection) SkippedReport() []report.Skipped {
	out := make([]report.Skipped, 0, len(s.Skipped))
	for _, de := range s.Skipped {
		reason := de.Reason
		if de.Err != nil {
			reason = fmt.Sprintf("%s: %v", de.Reason, de.Err)
		}
		out = append(out, report.Skipped{Path: de.Path, Reason: reason})
	}
	return out
}

// Select discovers the tree and applies the filters in opts.
func Select(ctx context.Context, opts Options) (*Selection, error) {
	logger := opts.logger()
	reg := opts.Registry
	if reg == nil {
		reg = registry.Default
	}
	if opts.Changed && opts.History == nil {
		return nil, errors.New("changed-only selection requires a history store")
	}

	found, err := reg.Discover(ctx, opts.Root, registry.Options{
		Settings: opts.Settings,
		Services: opts.services(),
		Strict:   opts.Strict,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("discover tests: %w", err)
	}

	sel := &Selection{Root: found.Root, Skipped: found.Skipped}
	for _, def := range found.Tests {
		b := def.Common()
		if !kindSelected(opts.Kinds, def.Kind()) || !Matches(opts.Filters, b.RelPath, b.ID) {
			continue
		}
		sel.Tests = append(sel.Tests, def)
	}

	if opts.History == nil {
		return sel, nil
	}

	sel.Fingerprints = make(map[string]string, len(sel.Tests))
	for _, def := range sel.Tests {
		b := def.Common()
		fp, err := fingerprint.Definition(fingerprint.Input{
			ID:       b.ID,
			TypeName: b.TypeName,
			Manifest: b.Manifest,
			Dir:      b.Dir,
		})
		if err != nil {
			return nil, err
		}
		sel.Fingerprints[b.ID] = fp
	}

	if !opts.Changed {
		return sel, nil
	}

	latest, err := opts.History.LatestRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	kept := sel.Tests[:0]
	for _, def := range sel.Tests {
		id := def.Common().ID
		if store.Changed(latest, id, sel.Fingerprints[id]) {
			kept = append(kept, def)
			continue
		}
		sel.Unchanged++
		logger.Debug("test unchanged since last pass", slog.String("test", id))
	}
	sel.Tests = kept
	return sel, nil
}

func kindSelected(kinds []testdef.Kind, k testdef.Kind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if want == k {
			return true
		}
	}
	return false
}

// Matches reports whether a test passes the name filters. An empty filter
// list matches everything. A filter holding glob metacharacters is matched
// against the relative path and the ID; any other filter selects a test by
// exact ID or by relative path prefix on a path boundary.
func Matches(filters []string, relPath, id string) bool {
	if len(filters) == 0 {
		return true
	}
	for _, f := range filters {
		f = strings.TrimSuffix(path.Clean(strings.ReplaceAll(f, "\\", "/")), "/")
		if strings.ContainsAny(f, "*?[") {
			if ok, _ := path.Match(f, relPath); ok {
				return true
			}
			if ok, _ := path.Match(f, id); ok {
				return true
			}
			continue
		}
		if f == "." || id == f || relPath == f || strings.HasPrefix(relPath, f+"/") {
			return true
		}
	}
	return false
}
