package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// StageFunc is a stage handler. Returning an error fails the stage.
type StageFunc func(ctx context.Context, st *Stage) error

// Sequencer hands out strictly increasing logical timestamps.
type Sequencer interface {
	Next() int64
}

// Stage is the view a running handler has of the store.
type Stage struct {
	name     string
	test     string
	store    *Store
	readable map[string]bool
	start    int64
	writes   map[string]any
	logger   *slog.Logger
}

// Name returns the stage name.
func (s *Stage) Name() string { return s.name }

// Test returns the owning test's identity.
func (s *Stage) Test() string { return s.test }

// Start returns the logical timestamp at which the stage started.
func (s *Stage) Start() int64 { return s.start }

// Logger returns a logger annotated with test and stage.
func (s *Stage) Logger() *slog.Logger { return s.logger }

// Get reads a committed output of a transitive predecessor.
func (s *Stage) Get(stage, key string) (any, error) {
	if !s.readable[stage] {
		return nil, &AccessError{Reader: s.name, Stage: stage, Key: key, Reason: "not a predecessor"}
	}
	e, err := s.store.Lookup(stage, key)
	if err != nil {
		return nil, err
	}
	if e.Seq >= s.start {
		return nil, &AccessError{Reader: s.name, Stage: stage, Key: key, Reason: "written after reader started"}
	}
	return e.Value, nil
}

// GetString reads a string output.
func (s *Stage) GetString(stage, key string) (string, error) {
	v, err := s.Get(stage, key)
	if err != nil {
		return "", err
	}
	str, ok := v.(string)
	if !ok {
		return "", &AccessError{Reader: s.name, Stage: stage, Key: key, Reason: fmt.Sprintf("value is %T, not string", v)}
	}
	return str, nil
}

// GetStrings reads a string-list output.
func (s *Stage) GetStrings(stage, key string) ([]string, error) {
	v, err := s.Get(stage, key)
	if err != nil {
		return nil, err
	}
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), nil
	case []any:
		out := make([]string, len(list))
		for i, item := range list {
			str, ok := item.(string)
			if !ok {
				return nil, &AccessError{Reader: s.name, Stage: stage, Key: key, Reason: fmt.Sprintf("element %d is %T, not string", i, item)}
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, &AccessError{Reader: s.name, Stage: stage, Key: key, Reason: fmt.Sprintf("value is %T, not string list", v)}
	}
}

// Set buffers an output. Outputs become visible to dependents when the stage
// completes.
func (s *Stage) Set(key string, value any) {
	if list, ok := value.([]string); ok {
		value = append([]string{}, list...)
	}
	s.writes[key] = value
}

// Run is one execution of a template for one test.
type Run struct {
	Test     string
	Template Template
	Store    *Store
	Clock    Sequencer
	Logger   *slog.Logger
}

// Execute runs handler as stage name. A nil handler passes without output.
//
// Buffered writes are committed even when the handler fails, so captured
// stdout and stderr remain available to the reporter. The returned error is
// nil or a *StageFailure.
func (r *Run) Execute(ctx context.Context, name string, handler StageFunc) (err error) {
	if !r.Template.Has(name) {
		return &StageFailure{Stage: name, Message: fmt.Sprintf("stage %q is not in the template", name)}
	}

	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	st := &Stage{
		name:     name,
		test:     r.Test,
		store:    r.Store,
		readable: r.Template.Ancestors(name),
		start:    r.Clock.Next(),
		writes:   make(map[string]any),
		logger:   logger.With("test", r.Test, "stage", name),
	}

	defer func() {
		r.Store.commit(name, st.writes, r.Clock.Next())
	}()

	if cerr := ctx.Err(); cerr != nil {
		return &StageFailure{Stage: name, Message: "canceled before start: " + cerr.Error(), Err: cerr}
	}
	if handler == nil {
		return nil
	}

	defer func() {
		if p := recover(); p != nil {
			st.logger.Error("stage panicked", "panic", p, "stack", string(debug.Stack()))
			err = &StageFailure{Stage: name, Message: fmt.Sprintf("panic: %v", p)}
		}
	}()

	return normalize(ctx, name, handler(ctx, st))
}

func normalize(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if sf := RootCause(err); sf != nil {
		if sf.Stage == "" {
			sf.Stage = name
		}
		if cerr := ctx.Err(); cerr != nil && sf.Err == nil {
			sf.Err = cerr
		}
		return sf
	}
	if cerr := ctx.Err(); cerr != nil {
		return &StageFailure{Stage: name, Message: "canceled: " + err.Error(), Err: fmt.Errorf("%w: %w", cerr, err)}
	}
	return &StageFailure{Stage: name, Message: err.Error(), Err: err}
}
