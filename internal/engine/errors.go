package engine

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph = errors.New("invalid task graph")
	ErrCycle        = errors.New("cycle detected")
)

// SchedulerError reports a task graph the scheduler cannot run.
type SchedulerError struct {
	Kind error
	Msg  string
}

func (e *SchedulerError) Error() string {
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *SchedulerError) Unwrap() error { return e.Kind }

// IsCycle reports whether err is a cycle SchedulerError.
func IsCycle(err error) bool {
	return errors.Is(err, ErrCycle)
}

// IsSchedulerError reports whether err is any SchedulerError.
func IsSchedulerError(err error) bool {
	var se *SchedulerError
	return errors.As(err, &se)
}

func invalidf(format string, args ...any) error {
	return &SchedulerError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []string) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &SchedulerError{Kind: ErrCycle, Msg: msg}
}
