package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/kerncheck/internal/manifest"
	"github.com/roach88/kerncheck/internal/testdef"
)

// DiscoveryError reports a test definition that could not be instantiated.
type DiscoveryError struct {
	// Path is the test directory relative to the root.
	Path   string
	Reason string
	Err    error
}

func (e *DiscoveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("discover %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("discover %s: %s", e.Path, e.Reason)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// AsDiscoveryError extracts a DiscoveryError from err.
func AsDiscoveryError(err error) (*DiscoveryError, bool) {
	var de *DiscoveryError
	ok := errors.As(err, &de)
	return de, ok
}

// Options configure Discover.
type Options struct {
	Settings testdef.Settings
	Services testdef.Services
	// Strict aborts discovery on the first DiscoveryError. Otherwise bad
	// definitions are skipped and returned in Result.Skipped.
	Strict bool
	Logger *slog.Logger
}

// Result is the outcome of Discover.
type Result struct {
	Root    string
	Tests   []testdef.Definition
	Skipped []*DiscoveryError
}

// Pruned reports whether a directory named name is excluded from discovery
// together with its subtree.
func Pruned(name string) bool {
	switch {
	case strings.HasPrefix(name, "old"),
		strings.HasSuffix(name, "template"),
		strings.HasSuffix(name, "templates"),
		name == "packages",
		strings.HasPrefix(name, "."),
		strings.HasPrefix(name, "_"):
		return true
	}
	return false
}

// Discover walks root in lexical order and instantiates one test per
// directory holding a manifest. The root itself is never a test.
func (r *Registry) Discover(ctx context.Context, root string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve test root: %w", err)
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("test root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("test root %s is not a directory", absRoot)
	}

	res := &Result{Root: absRoot}
	skip := func(de *DiscoveryError) error {
		if opts.Strict {
			return de
		}
		logger.Warn("skipping test definition", "path", de.Path, "reason", de.Reason, "error", de.Err)
		res.Skipped = append(res.Skipped, de)
		return nil
	}

	walkErr := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel := relSlash(absRoot, p)
		if err != nil {
			if serr := skip(&DiscoveryError{Path: rel, Reason: "unreadable directory", Err: err}); serr != nil {
				return serr
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.IsDir() || p == absRoot {
			return nil
		}
		if Pruned(d.Name()) {
			return filepath.SkipDir
		}

		manifestPath, err := manifest.Find(p)
		if err != nil {
			return skip(&DiscoveryError{Path: rel, Reason: "invalid test directory", Err: err})
		}
		if manifestPath == "" {
			return nil
		}

		def, de := r.instantiate(absRoot, p, manifestPath, len(res.Tests)+1, opts)
		if de != nil {
			return skip(de)
		}
		logger.Debug("discovered test", "id", def.Common().ID, "seq", def.Common().Seq, "kind", def.Kind())
		res.Tests = append(res.Tests, def)
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	return res, nil
}

func (r *Registry) instantiate(root, dir, manifestPath string, seq int, opts Options) (testdef.Definition, *DiscoveryError) {
	rel := relSlash(root, dir)
	fail := func(reason string, err error) (testdef.Definition, *DiscoveryError) {
		return nil, &DiscoveryError{Path: rel, Reason: reason, Err: err}
	}

	m, err := manifest.Load(manifestPath)
	if err != nil {
		return fail("invalid manifest", err)
	}

	var e entry
	switch entries := r.lookup(rel); len(entries) {
	case 0:
		if m.Kind == "" {
			return fail("no registered test type and manifest declares no kind", nil)
		}
		fam, ok := r.lookupKind(testdef.Kind(m.Kind))
		if !ok {
			return fail(fmt.Sprintf("no test family registered for kind %q", m.Kind), nil)
		}
		e = fam
	case 1:
		e = entries[0]
	default:
		names := make([]string, len(entries))
		for i, en := range entries {
			names[i] = en.typeName
		}
		sort.Strings(names)
		return fail(fmt.Sprintf("ambiguous test definition: %d leaf types registered (%s)", len(names), strings.Join(names, ", ")), nil)
	}

	def := e.factory()
	if def == nil {
		return fail(fmt.Sprintf("factory for %s returned nil", e.typeName), nil)
	}
	if m.Kind != "" && testdef.Kind(m.Kind) != def.Kind() {
		return fail(fmt.Sprintf("manifest kind %q does not match %s kind %q", m.Kind, e.typeName, def.Kind()), nil)
	}

	b := def.Common()
	b.Seq = seq
	b.ID = rel + "/" + e.typeName
	b.RelPath = rel
	b.TypeName = e.typeName
	b.Dir = dir
	b.Root = root
	b.Settings = opts.Settings
	b.Services = opts.Services
	b.Manifest = m

	if err := def.Configure(); err != nil {
		return fail("configure failed", err)
	}
	if err := def.Template().Validate(); err != nil {
		return fail("invalid stage template", err)
	}
	return def, nil
}

func relSlash(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(rel)
}
