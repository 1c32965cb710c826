package extract

import (
	"context"
	"fmt"

	"github.com/roach88/kerncheck/internal/command"
)

// DefaultBinary is the extraction tool looked up on PATH.
const DefaultBinary = "kgen"

// Tool runs the extraction binary through a command runner.
type Tool struct {
	Binary string
	Runner command.Runner
}

// Args renders req as the tool's argument list. The clean, build and run
// commands are the only place structured commands become shell strings.
func (t *Tool) Args(req Request) []string {
	var args []string
	if !req.Clean.IsZero() {
		args = append(args, "--cmd-clean", req.Clean.ShellString())
	}
	args = append(args,
		"--cmd-build", req.Build.ShellString(),
		"--cmd-run", req.Run.ShellString(),
	)
	args = append(args, req.Invocation.ToolArgs()...)
	if req.ExcludeFile != "" {
		args = append(args, "-e", req.ExcludeFile)
	}
	args = append(args, "--outdir", req.OutputDir)
	args = append(args, fmt.Sprintf("%s:%s", req.SourceFile, req.NamePath))
	return args
}

// Extract runs the tool and reports success by exit status.
func (t *Tool) Extract(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	binary := t.Binary
	if binary == "" {
		binary = DefaultBinary
	}

	res, err := t.Runner.Run(ctx, command.Spec{
		Program: binary,
		Args:    t.Args(req),
		Dir:     req.OutputDir,
		Env:     req.Invocation.Env(),
		Timeout: req.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", binary, err)
	}

	out := &Result{Success: res.Success(), Stdout: res.Stdout, Stderr: res.Stderr}
	if msg := res.Failure(command.Spec{Program: binary, Timeout: req.Timeout}); msg != "" && out.Stderr == "" {
		out.Stderr = msg
	}
	return out, nil
}
