package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// StageFailure is a stage whose handler reported failure.
type StageFailure struct {
	Stage   string
	Message string
	Stdout  string
	Stderr  string
	Err     error
}

func (e *StageFailure) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Stage == "" {
		return msg
	}
	return fmt.Sprintf("stage %s failed: %s", e.Stage, msg)
}

func (e *StageFailure) Unwrap() error { return e.Err }

// Failf builds a StageFailure with a formatted message. Execute fills in the
// stage name.
func Failf(format string, args ...any) *StageFailure {
	return &StageFailure{Message: fmt.Sprintf(format, args...)}
}

// FailWithOutput builds a StageFailure carrying captured process output.
func FailWithOutput(message, stdout, stderr string) *StageFailure {
	return &StageFailure{Message: message, Stdout: stdout, Stderr: stderr}
}

// Canceled reports whether the failure was caused by context cancellation.
func (e *StageFailure) Canceled() bool {
	return errors.Is(e.Err, context.Canceled) || errors.Is(e.Err, context.DeadlineExceeded)
}

// DependencyFailure marks a stage skipped because an upstream stage failed.
type DependencyFailure struct {
	Stage    string
	Upstream string
	Cause    error
}

func (e *DependencyFailure) Error() string {
	return fmt.Sprintf("stage %s skipped: upstream stage %s failed: %v", e.Stage, e.Upstream, e.Cause)
}

func (e *DependencyFailure) Unwrap() error { return e.Cause }

// RootCause returns the StageFailure at the bottom of err, or nil.
func RootCause(err error) *StageFailure {
	var sf *StageFailure
	if errors.As(err, &sf) {
		return sf
	}
	return nil
}

// NotFoundError reports a read of an output that was never committed.
type NotFoundError struct {
	Stage string
	Key   string
	// Committed is false when the stage itself has not committed yet.
	Committed bool
}

func (e *NotFoundError) Error() string {
	if !e.Committed {
		return fmt.Sprintf("result %s.%s not found: stage %s has not completed", e.Stage, e.Key, e.Stage)
	}
	return fmt.Sprintf("result %s.%s not found: stage %s did not write %q", e.Stage, e.Key, e.Stage, e.Key)
}

// AccessError reports a read outside a stage's predecessor set, or a value
// of the wrong type.
type AccessError struct {
	Reader string
	Stage  string
	Key    string
	Reason string
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("stage %s cannot read %s.%s: %s", e.Reader, e.Stage, e.Key, e.Reason)
}
