// Package manifest loads declarative test definitions.
//
// A test directory is marked by exactly one manifest file: runtest.yaml,
// runtest.yml or runtest.cue. YAML manifests are decoded strictly (unknown
// fields are errors); CUE manifests are unified with the embedded #Manifest
// schema, which is closed, so typos are rejected the same way.
//
// Loading checks structure only. The invocation descriptor is parsed later by
// the stage that consumes it, so a bad descriptor fails that stage rather
// than discovery.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/invocation"
)

// Recognised manifest file names, in lookup order.
var FileNames = []string{"runtest.yaml", "runtest.yml", "runtest.cue"}

// Test family kinds.
const (
	KindFunctional = "functional"
	KindSystem     = "system"
)

// Command is a structured command as written in a manifest.
type Command struct {
	Program string            `yaml:"program" json:"program"`
	Args    []string          `yaml:"args,omitempty" json:"args,omitempty"`
	Dir     string            `yaml:"dir,omitempty" json:"dir,omitempty"`
	Env     map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Spec converts the manifest command into a command.Spec. Variables are not
// expanded here.
func (c *Command) Spec() (command.Spec, error) {
	if c == nil {
		return command.Spec{}, nil
	}
	timeout, err := parseDuration(c.Timeout)
	if err != nil {
		return command.Spec{}, fmt.Errorf("command %q: %w", c.Program, err)
	}
	return command.Spec{
		Program: c.Program,
		Args:    append([]string(nil), c.Args...),
		Dir:     c.Dir,
		Env:     copyMap(c.Env),
		Timeout: timeout,
	}, nil
}

// Source says where a test's application source comes from. At most one
// field may be set; an empty Source means the "src" directory next to the
// manifest.
type Source struct {
	// Dir is copied into the working directory.
	Dir string `yaml:"dir,omitempty" json:"dir,omitempty"`
	// Path is used in place.
	Path string `yaml:"path,omitempty" json:"path,omitempty"`
	// Command fetches the source into ${workdir}/src.
	Command *Command `yaml:"command,omitempty" json:"command,omitempty"`
}

// Kernel names the routine to extract.
type Kernel struct {
	// File is the source file, relative to the staged source tree.
	File string `yaml:"file" json:"file"`
	// NamePath is module:routine:callee, as the extraction tool expects.
	NamePath string `yaml:"namepath" json:"namepath"`
	// Name overrides the state-file prefix. Defaults to the last NamePath
	// element.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
}

// StateName returns the prefix of the kernel's state-file names.
func (k Kernel) StateName() string {
	if k.Name != "" {
		return k.Name
	}
	parts := strings.Split(k.NamePath, ":")
	return parts[len(parts)-1]
}

// Commands are the application and kernel commands of a test.
type Commands struct {
	Clean       *Command `yaml:"clean,omitempty" json:"clean,omitempty"`
	Build       *Command `yaml:"build,omitempty" json:"build,omitempty"`
	Run         *Command `yaml:"run,omitempty" json:"run,omitempty"`
	Config      *Command `yaml:"config,omitempty" json:"config,omitempty"`
	KernelBuild *Command `yaml:"kernel_build,omitempty" json:"kernel_build,omitempty"`
	KernelRun   *Command `yaml:"kernel_run,omitempty" json:"kernel_run,omitempty"`
}

// Manifest is one declarative test definition.
type Manifest struct {
	Name        string `yaml:"name,omitempty" json:"name,omitempty"`
	Kind        string `yaml:"kind,omitempty" json:"kind,omitempty"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	Source Source `yaml:"source,omitempty" json:"source,omitempty"`
	Kernel Kernel `yaml:"kernel,omitempty" json:"kernel,omitempty"`

	Invocation   string            `yaml:"invocation,omitempty" json:"invocation,omitempty"`
	Repeat       int               `yaml:"repeat,omitempty" json:"repeat,omitempty"`
	MPI          invocation.MPI    `yaml:"mpi,omitempty" json:"mpi,omitempty"`
	OpenMP       invocation.OpenMP `yaml:"openmp,omitempty" json:"openmp,omitempty"`
	KernelOption string            `yaml:"kernel_option,omitempty" json:"kernel_option,omitempty"`
	Prerun       map[string]string `yaml:"prerun,omitempty" json:"prerun,omitempty"`
	Exclude      string            `yaml:"exclude,omitempty" json:"exclude,omitempty"`

	Compiler      string `yaml:"compiler,omitempty" json:"compiler,omitempty"`
	CompilerFlags string `yaml:"compiler_flags,omitempty" json:"compiler_flags,omitempty"`

	Commands Commands `yaml:"commands,omitempty" json:"commands,omitempty"`
	// Vars are published by the config stage and usable as ${name} in
	// later commands.
	Vars map[string]string `yaml:"vars,omitempty" json:"vars,omitempty"`

	Reference  string            `yaml:"reference,omitempty" json:"reference,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
	Timeout    string            `yaml:"timeout,omitempty" json:"timeout,omitempty"`
	StateFiles []string          `yaml:"statefiles,omitempty" json:"statefiles,omitempty"`

	// Path is the file the manifest was loaded from.
	Path string `yaml:"-" json:"-"`
}

// Dir returns the directory holding the manifest.
func (m *Manifest) Dir() string {
	return filepath.Dir(m.Path)
}

// Validate checks the manifest's structure.
func (m *Manifest) Validate() error {
	switch m.Kind {
	case "", KindFunctional, KindSystem:
	default:
		return fmt.Errorf("unknown kind %q (want %s or %s)", m.Kind, KindFunctional, KindSystem)
	}

	set := 0
	for _, v := range []bool{m.Source.Dir != "", m.Source.Path != "", m.Source.Command != nil} {
		if v {
			set++
		}
	}
	if set > 1 {
		return fmt.Errorf("source: only one of dir, path, command may be set")
	}

	if m.Repeat < 0 {
		return fmt.Errorf("repeat must be positive, got %d", m.Repeat)
	}
	if _, err := parseDuration(m.Timeout); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}

	for name, c := range m.commands() {
		if c == nil {
			continue
		}
		if c.Program == "" {
			return fmt.Errorf("%s: program is required", name)
		}
		if _, err := parseDuration(c.Timeout); err != nil {
			return fmt.Errorf("%s: timeout: %w", name, err)
		}
	}

	for name := range m.Vars {
		if name == "" || strings.ContainsAny(name, "${} ") {
			return fmt.Errorf("vars: invalid name %q", name)
		}
	}
	return nil
}

func (m *Manifest) commands() map[string]*Command {
	return map[string]*Command{
		"source.command":        m.Source.Command,
		"commands.clean":        m.Commands.Clean,
		"commands.build":        m.Commands.Build,
		"commands.run":          m.Commands.Run,
		"commands.config":       m.Commands.Config,
		"commands.kernel_build": m.Commands.KernelBuild,
		"commands.kernel_run":   m.Commands.KernelRun,
	}
}

// TimeoutDuration returns the extraction timeout, zero when unset.
func (m *Manifest) TimeoutDuration() time.Duration {
	d, _ := parseDuration(m.Timeout)
	return d
}

// InvocationOptions gathers the invocation fields for invocation.New.
func (m *Manifest) InvocationOptions() invocation.Options {
	return invocation.Options{
		Descriptor:   m.Invocation,
		Repeat:       m.Repeat,
		MPI:          m.MPI,
		OpenMP:       m.OpenMP,
		Prerun:       copyMap(m.Prerun),
		KernelOption: m.KernelOption,
		Env:          copyMap(m.Env),
	}
}

// VarNames returns the declared vars in sorted order.
func (m *Manifest) VarNames() []string {
	names := make([]string, 0, len(m.Vars))
	for n := range m.Vars {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Find returns the manifest path in dir, or "" if there is none. More than
// one manifest file in a directory is an error.
func Find(dir string) (string, error) {
	var found []string
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if !info.IsDir() {
			found = append(found, name)
		}
	}
	switch len(found) {
	case 0:
		return "", nil
	case 1:
		return filepath.Join(dir, found[0]), nil
	default:
		return "", fmt.Errorf("ambiguous test definition: %s", strings.Join(found, ", "))
	}
}

// Load reads the manifest at path, choosing the decoder by extension.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	var m *Manifest
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		m, err = DecodeYAML(data)
	case ".cue":
		m, err = DecodeCUE(data, path)
	default:
		return nil, fmt.Errorf("unsupported manifest format: %s", filepath.Base(path))
	}
	if err != nil {
		return nil, err
	}

	m.Path = path
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, nil
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
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
