package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// Result is the captured outcome of one command run.
type Result struct {
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"stdout"`
	Stderr   string        `json:"stderr"`
	Duration time.Duration `json:"duration"`
	// TimedOut is set when the spec's own timeout killed the process.
	TimedOut bool `json:"timed_out,omitempty"`
	// Canceled is set when the caller's context killed the process.
	Canceled bool `json:"canceled,omitempty"`
}

// Success reports a zero exit status without timeout or cancellation.
func (r *Result) Success() bool {
	return r.ExitCode == 0 && !r.TimedOut && !r.Canceled
}

// Failure describes why a run did not succeed, or "" if it did.
func (r *Result) Failure(spec Spec) string {
	switch {
	case r.Canceled:
		return fmt.Sprintf("%s: canceled", spec.Program)
	case r.TimedOut:
		return fmt.Sprintf("%s: timed out after %s", spec.Program, spec.Timeout)
	case r.ExitCode != 0:
		return fmt.Sprintf("%s: exit status %d", spec.Program, r.ExitCode)
	default:
		return ""
	}
}

// Runner executes command specs.
//
// A non-nil error means the command could not be started at all. A command
// that runs and fails is reported through Result.
type Runner interface {
	Run(ctx context.Context, spec Spec) (*Result, error)
}

// waitDelay bounds how long Wait blocks on inherited pipes after a kill.
const waitDelay = 3 * time.Second

// ExecRunner runs commands as child processes in their own process group,
// so a timeout or cancellation kills the whole tree.
type ExecRunner struct {
	Logger *slog.Logger
}

// NewExecRunner creates an ExecRunner logging to logger (nil discards).
func NewExecRunner(logger *slog.Logger) *ExecRunner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ExecRunner{Logger: logger}
}

// Run executes spec and waits for it to exit.
func (r *ExecRunner) Run(ctx context.Context, spec Spec) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	runCtx := ctx
	cancel := func() {}
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Program, spec.Args...)
	cmd.Dir = spec.Dir
	cmd.Env = environ(os.Environ(), spec.Env)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
		}
		return cmd.Process.Kill()
	}
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.Logger.Debug("command starting", "program", spec.Program, "args", spec.Args, "dir", spec.Dir)

	start := time.Now()
	runErr := cmd.Run()
	res := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		case cmd.Process == nil:
			return nil, fmt.Errorf("start %s: %w", spec.Program, runErr)
		default:
			res.ExitCode = -1
		}
	}

	switch {
	case ctx.Err() != nil:
		res.Canceled = true
	case runCtx.Err() == context.DeadlineExceeded:
		res.TimedOut = true
	}

	r.Logger.Debug("command finished",
		"program", spec.Program,
		"exit_code", res.ExitCode,
		"duration", res.Duration,
		"timed_out", res.TimedOut,
		"canceled", res.Canceled,
	)
	return res, nil
}
