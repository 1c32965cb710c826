package invocation

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Prerun stages recognised by the extraction tool.
const (
	PrerunClean       = "clean"
	PrerunBuild       = "build"
	PrerunRun         = "run"
	PrerunKernelBuild = "kernel_build"
	PrerunKernelRun   = "kernel_run"
)

var prerunStages = map[string]bool{
	PrerunClean:       true,
	PrerunBuild:       true,
	PrerunRun:         true,
	PrerunKernelBuild: true,
	PrerunKernelRun:   true,
}

// MPI describes how the instrumented application uses MPI.
type MPI struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	// Comm is the communicator variable name (e.g. "mpicom").
	Comm string `json:"comm,omitempty" yaml:"comm,omitempty"`
	// Use is the module:variable the communicator is imported from.
	Use string `json:"use,omitempty" yaml:"use,omitempty"`
	// Header is the path of mpif.h for the kernel build.
	Header string `json:"header,omitempty" yaml:"header,omitempty"`
}

// OpenMP describes whether the instrumented region runs under OpenMP.
type OpenMP struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// MaxStateFiles caps how many state files one descriptor may select.
const MaxStateFiles = 100000

// Options is the unvalidated input to New.
type Options struct {
	Descriptor   string
	Repeat       int
	MPI          MPI
	OpenMP       OpenMP
	Prerun       map[string]string
	KernelOption string
	Env          map[string]string
}

// Spec is a validated invocation specification. It is immutable: accessors
// return copies.
type Spec struct {
	triples      []Triple
	repeat       int
	mpi          MPI
	openmp       OpenMP
	prerun       map[string]string
	kernelOption string
	env          map[string]string
}

// New validates opts and builds a Spec.
func New(opts Options) (*Spec, error) {
	triples, err := Parse(opts.Descriptor)
	if err != nil {
		return nil, err
	}

	if n := count(triples); n > MaxStateFiles {
		return nil, &ParseError{
			Token:  opts.Descriptor,
			Reason: fmt.Sprintf("selects %d state files, limit is %d", n, MaxStateFiles),
		}
	}

	repeat := opts.Repeat
	if repeat == 0 {
		repeat = 1
	}
	if repeat < 0 {
		return nil, fmt.Errorf("%w: repeat must be positive, got %d", ErrParse, opts.Repeat)
	}

	if !opts.MPI.Enabled && (opts.MPI.Comm != "" || opts.MPI.Use != "" || opts.MPI.Header != "") {
		return nil, fmt.Errorf("%w: mpi comm/use/header given but mpi is disabled", ErrParse)
	}
	if opts.MPI.Use != "" && !strings.Contains(opts.MPI.Use, ":") {
		return nil, fmt.Errorf("%w: mpi use %q must be module:variable", ErrParse, opts.MPI.Use)
	}

	for stage := range opts.Prerun {
		if !prerunStages[stage] {
			return nil, fmt.Errorf("%w: unknown prerun stage %q", ErrParse, stage)
		}
	}

	return &Spec{
		triples:      triples,
		repeat:       repeat,
		mpi:          opts.MPI,
		openmp:       opts.OpenMP,
		prerun:       copyMap(opts.Prerun),
		kernelOption: opts.KernelOption,
		env:          copyMap(opts.Env),
	}, nil
}

// MustNew is like New but panics on error. Use only with literal input.
func MustNew(opts Options) *Spec {
	s, err := New(opts)
	if err != nil {
		panic(err)
	}
	return s
}

// Triples returns the parsed descriptor entries.
func (s *Spec) Triples() []Triple {
	out := make([]Triple, len(s.triples))
	copy(out, s.triples)
	return out
}

// Descriptor returns the canonical descriptor string.
func (s *Spec) Descriptor() string { return Format(s.triples) }

// Repeat returns the timing repeat count.
func (s *Spec) Repeat() int { return s.repeat }

// MPI returns the MPI settings.
func (s *Spec) MPI() MPI { return s.mpi }

// OpenMP returns the OpenMP settings.
func (s *Spec) OpenMP() OpenMP { return s.openmp }

// KernelOption returns extra kernel compile/link flags.
func (s *Spec) KernelOption() string { return s.kernelOption }

// Prerun returns the prerun commands keyed by stage.
func (s *Spec) Prerun() map[string]string { return copyMap(s.prerun) }

// Env returns environment overrides for the extraction run.
func (s *Spec) Env() map[string]string { return copyMap(s.env) }

// StateFiles expands the descriptor into the state-file names the
// extraction tool writes for kernel, entry by entry:
//
//	<kernel>.<outer>.<inner>.<selector>
func (s *Spec) StateFiles(kernel string) []string {
	names := make([]string, 0, count(s.triples))
	for _, t := range s.triples {
		for o := range t.Outer.Len() {
			for i := range t.Inner.Len() {
				for sel := range t.Selector.Len() {
					names = append(names, fmt.Sprintf("%s.%d.%d.%d", kernel,
						int64(t.Outer.Lo)+o, int64(t.Inner.Lo)+i, int64(t.Selector.Lo)+sel))
				}
			}
		}
	}
	return names
}

// count returns the number of state files triples select, saturating at
// math.MaxInt64.
func count(triples []Triple) int64 {
	var total int64
	for _, t := range triples {
		n := t.Outer.Len()
		for _, l := range []int64{t.Inner.Len(), t.Selector.Len()} {
			if n > math.MaxInt64/l {
				return math.MaxInt64
			}
			n *= l
		}
		if total > math.MaxInt64-n {
			return math.MaxInt64
		}
		total += n
	}
	return total
}

// ToolArgs renders the options in the extraction tool's flag syntax.
// Keys are emitted in a fixed order so the argument list is reproducible.
func (s *Spec) ToolArgs() []string {
	args := []string{
		"--invocation", s.Descriptor(),
		"--timing", fmt.Sprintf("repeat=%d", s.repeat),
	}

	if s.mpi.Enabled {
		args = append(args, "--mpi", s.mpiArg())
	}
	if s.openmp.Enabled {
		args = append(args, "--openmp", "enable")
	}
	if s.kernelOption != "" {
		args = append(args, "--kernel-option", s.kernelOption)
	}
	if len(s.prerun) > 0 {
		args = append(args, "--prerun", joinAssignments(s.prerun))
	}
	return args
}

func (s *Spec) mpiArg() string {
	var parts []string
	if s.mpi.Comm != "" {
		parts = append(parts, "comm="+s.mpi.Comm)
	}
	if s.mpi.Use != "" {
		parts = append(parts, fmt.Sprintf("use=%q", s.mpi.Use))
	}
	if s.mpi.Header != "" {
		parts = append(parts, fmt.Sprintf("header=%q", s.mpi.Header))
	}
	if len(parts) == 0 {
		return "enable"
	}
	return strings.Join(parts, ",")
}

func joinAssignments(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, m[k])
	}
	return strings.Join(parts, ",")
}

func copyMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
