// Package command describes external commands as structured values and runs
// them with captured output, exit code and timeout.
//
// Commands are never assembled as preformatted shell strings. A Spec names a
// program, its argument list, working directory and environment overrides;
// ShellString exists only for tools that insist on receiving a command line
// and quotes every word.
package command

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

// Spec is a structured command descriptor.
type Spec struct {
	Program string            `json:"program"`
	Args    []string          `json:"args,omitempty"`
	Dir     string            `json:"dir,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
	// Timeout bounds the run. Zero means no timeout beyond the caller's context.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// IsZero reports whether the spec names no program.
func (s Spec) IsZero() bool { return s.Program == "" }

// Validate checks that the spec can be executed.
func (s Spec) Validate() error {
	if s.Program == "" {
		return errors.New("command program is required")
	}
	if s.Timeout < 0 {
		return fmt.Errorf("command %q: negative timeout %s", s.Program, s.Timeout)
	}
	for k := range s.Env {
		if k == "" || strings.ContainsAny(k, "= ") {
			return fmt.Errorf("command %q: invalid environment name %q", s.Program, k)
		}
	}
	return nil
}

// String renders the command for logs. It is not meant to be executed.
func (s Spec) String() string {
	if len(s.Args) == 0 {
		return s.Program
	}
	return s.Program + " " + strings.Join(s.Args, " ")
}

// Expand substitutes ${name} references in program, args, dir and env values.
// Referencing a variable missing from vars is an error.
func (s Spec) Expand(vars map[string]string) (Spec, error) {
	var missing []string
	mapping := func(name string) string {
		v, ok := vars[name]
		if !ok {
			missing = append(missing, name)
		}
		return v
	}

	out := Spec{
		Program: os.Expand(s.Program, mapping),
		Dir:     os.Expand(s.Dir, mapping),
		Timeout: s.Timeout,
	}
	if len(s.Args) > 0 {
		out.Args = make([]string, len(s.Args))
		for i, a := range s.Args {
			out.Args[i] = os.Expand(a, mapping)
		}
	}
	if len(s.Env) > 0 {
		out.Env = make(map[string]string, len(s.Env))
		for k, v := range s.Env {
			out.Env[k] = os.Expand(v, mapping)
		}
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return Spec{}, fmt.Errorf("command %q: undefined variables: %s", s.Program, strings.Join(dedupe(missing), ", "))
	}
	return out, nil
}

// ShellString renders the spec as a POSIX shell command line:
//
//	cd 'dir' && A='1' 'prog' 'arg'
//
// Every word is single-quoted, so the result is safe to hand to sh -c.
func (s Spec) ShellString() string {
	var b strings.Builder
	if s.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(s.Dir))
		b.WriteString(" && ")
	}
	for _, k := range sortedKeys(s.Env) {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(Quote(s.Env[k]))
		b.WriteByte(' ')
	}
	b.WriteString(Quote(s.Program))
	for _, a := range s.Args {
		b.WriteByte(' ')
		b.WriteString(Quote(a))
	}
	return b.String()
}

// Quote single-quotes a word for a POSIX shell.
func Quote(word string) string {
	return "'" + strings.ReplaceAll(word, "'", `'\''`) + "'"
}

// environ merges overrides into base, replacing existing names.
func environ(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		name, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[name]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range sortedKeys(overrides) {
		out = append(out, k+"="+overrides[k])
	}
	return out
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
