// Package registry maps discovery paths to test factories and discovers
// tests in a test tree.
//
// Go tests register themselves from init functions:
//
//	func init() {
//		registry.Register("kapp/sys/ys/calc/calc_mpi_openmp", "Test",
//			func() testdef.Definition { return &Test{} })
//	}
//
// Directories holding only a manifest are instantiated through the family
// factory registered for the manifest's kind. A path with more than one
// registered type is ambiguous and is never resolved by picking one.
package registry

import (
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/roach88/kerncheck/internal/testdef"
)

// Factory creates a fresh, unconfigured test.
type Factory func() testdef.Definition

type entry struct {
	typeName string
	factory  Factory
}

// Registry holds test factories. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	byPath map[string][]entry
	kinds  map[testdef.Kind]entry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		byPath: make(map[string][]entry),
		kinds:  make(map[testdef.Kind]entry),
	}
}

// Default is the process-wide registry init functions register into.
var Default = New()

// Register adds a test type for a discovery path (slash-separated, relative
// to the test root). Registering the same path and type name twice panics.
func (r *Registry) Register(relPath, typeName string, f Factory) {
	if typeName == "" || f == nil {
		panic("registry: Register requires a type name and factory")
	}
	key := cleanPath(relPath)

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.byPath[key] {
		if e.typeName == typeName {
			panic(fmt.Sprintf("registry: %s/%s registered twice", key, typeName))
		}
	}
	r.byPath[key] = append(r.byPath[key], entry{typeName: typeName, factory: f})
}

// RegisterKind sets the family factory for manifest-only tests of kind.
func (r *Registry) RegisterKind(kind testdef.Kind, typeName string, f Factory) {
	if typeName == "" || f == nil {
		panic("registry: RegisterKind requires a type name and factory")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kinds[kind] = entry{typeName: typeName, factory: f}
}

// Register adds a test type to the Default registry.
func Register(relPath, typeName string, f Factory) {
	Default.Register(relPath, typeName, f)
}

// RegisterKind sets a family factory on the Default registry.
func RegisterKind(kind testdef.Kind, typeName string, f Factory) {
	Default.RegisterKind(kind, typeName, f)
}

// Paths returns the registered discovery paths, sorted.
func (r *Registry) Paths() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byPath))
	for p := range r.byPath {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) lookup(relPath string) []entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]entry(nil), r.byPath[cleanPath(relPath)]...)
}

func (r *Registry) lookupKind(kind testdef.Kind) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.kinds[kind]
	return e, ok
}

func cleanPath(p string) string {
	return path.Clean("/" + p)[1:]
}
