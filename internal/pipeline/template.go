package pipeline

import (
	"errors"
	"fmt"
)

// StageSpec declares one stage of a template.
type StageSpec struct {
	Name string
	// After lists predecessor stages. Nil means the previous stage in the
	// template; an empty non-nil slice makes the stage a root.
	After []string
}

// Root declares a stage with no predecessors.
func Root(name string) StageSpec {
	return StageSpec{Name: name, After: []string{}}
}

// Linear declares a stage that follows the previous one.
func Linear(name string) StageSpec {
	return StageSpec{Name: name}
}

// After declares a stage with explicit predecessors.
func After(name string, preds ...string) StageSpec {
	return StageSpec{Name: name, After: append([]string{}, preds...)}
}

// Template is the ordered stage list of a test family.
type Template []StageSpec

// LinearTemplate builds a template where every stage follows the previous.
func LinearTemplate(names ...string) Template {
	t := make(Template, len(names))
	for i, n := range names {
		t[i] = Linear(n)
	}
	return t
}

// ErrInvalidTemplate is wrapped by all template validation errors.
var ErrInvalidTemplate = errors.New("invalid stage template")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidTemplate, fmt.Sprintf(format, args...))
}

// Validate checks names, predecessor references and that the last stage is
// the unique sink reachable from every stage.
func (t Template) Validate() error {
	if len(t) == 0 {
		return invalidf("no stages")
	}

	index := make(map[string]int, len(t))
	for i, s := range t {
		if s.Name == "" {
			return invalidf("stage %d has empty name", i)
		}
		if _, dup := index[s.Name]; dup {
			return invalidf("duplicate stage %q", s.Name)
		}
		for _, p := range s.After {
			if p == s.Name {
				return invalidf("stage %q depends on itself", s.Name)
			}
			if _, ok := index[p]; !ok {
				return invalidf("stage %q depends on unknown or later stage %q", s.Name, p)
			}
		}
		seen := make(map[string]bool, len(s.After))
		for _, p := range s.After {
			if seen[p] {
				return invalidf("stage %q lists predecessor %q twice", s.Name, p)
			}
			seen[p] = true
		}
		index[s.Name] = i
	}

	terminal := t[len(t)-1].Name
	ancestors := t.Ancestors(terminal)
	for _, s := range t[:len(t)-1] {
		if !ancestors[s.Name] {
			return invalidf("stage %q does not lead to terminal stage %q", s.Name, terminal)
		}
	}
	return nil
}

// Names returns the stage names in template order.
func (t Template) Names() []string {
	names := make([]string, len(t))
	for i, s := range t {
		names[i] = s.Name
	}
	return names
}

// Terminal returns the name of the last stage.
func (t Template) Terminal() string {
	if len(t) == 0 {
		return ""
	}
	return t[len(t)-1].Name
}

// Has reports whether the template declares stage name.
func (t Template) Has(name string) bool {
	return t.index(name) >= 0
}

func (t Template) index(name string) int {
	for i, s := range t {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// Predecessors resolves the direct predecessors of stage name.
func (t Template) Predecessors(name string) []string {
	i := t.index(name)
	if i < 0 {
		return nil
	}
	s := t[i]
	if s.After != nil {
		return append([]string{}, s.After...)
	}
	if i == 0 {
		return nil
	}
	return []string{t[i-1].Name}
}

// Ancestors returns the transitive predecessors of stage name.
func (t Template) Ancestors(name string) map[string]bool {
	out := make(map[string]bool)
	stack := t.Predecessors(name)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if out[n] {
			continue
		}
		out[n] = true
		stack = append(stack, t.Predecessors(n)...)
	}
	return out
}

// Dependents returns the transitive dependents of stage name in template
// order.
func (t Template) Dependents(name string) []string {
	var out []string
	for _, s := range t {
		if s.Name != name && t.Ancestors(s.Name)[name] {
			out = append(out, s.Name)
		}
	}
	return out
}
