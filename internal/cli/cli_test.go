package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/kapp"
	"github.com/roach88/kerncheck/internal/registry"
	"github.com/roach88/kerncheck/internal/suite"
	"github.com/roach88/kerncheck/internal/testdef"
	"github.com/roach88/kerncheck/internal/testutil"
)

const testManifest = `kind: %s
kernel:
  file: k.F90
  namepath: mod:sub:k
invocation: "0:0-1:1"
commands:
  build:
    program: make
    args: [build]
    dir: ${tmpsrc}
  run:
    program: make
    args: [run]
    dir: ${tmpsrc}
`

// writeTest lays out a test directory under root.
func writeTest(t *testing.T, root, rel, kind string) {
	t.Helper()
	dir := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "runtest.yaml"),
		[]byte(strings.Replace(testManifest, "%s", kind, 1)), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "k.F90"), []byte("subroutine k\nend\n"), 0o644))
}

// stubRunner fails kernel builds in working directories containing
// "broken" and succeeds otherwise.
type stubRunner struct{}

func (stubRunner) Run(ctx context.Context, spec command.Spec) (*command.Result, error) {
	if strings.Contains(spec.Dir, "broken") && strings.HasSuffix(spec.Dir, "kernel") && spec.Args[0] == "build" {
		return &command.Result{ExitCode: 2, Stderr: "make: *** [build] Error 1"}, nil
	}
	return &command.Result{}, nil
}

var stubExtractor = extract.ExtractorFunc(func(ctx context.Context, req extract.Request) (*extract.Result, error) {
	data := filepath.Join(req.OutputDir, "data")
	if err := os.MkdirAll(data, 0o755); err != nil {
		return nil, err
	}
	for _, name := range req.Invocation.StateFiles("k") {
		if err := os.WriteFile(filepath.Join(data, name), nil, 0o644); err != nil {
			return nil, err
		}
	}
	return &extract.Result{Success: true}, nil
})

func testOptions() *RootOptions {
	r := registry.New()
	r.RegisterKind(testdef.Functional, "FunctionalTest", kapp.NewFunctional)
	r.RegisterKind(testdef.System, "SystemTest", kapp.NewSystem)
	suite.Register(r)
	return &RootOptions{
		Registry:  r,
		Runner:    stubRunner{},
		Extractor: stubExtractor,
		RunIDs:    testutil.NewRunIDs("run"),
	}
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	return executeContext(t, context.Background(), opts, args...)
}

func executeContext(t *testing.T, ctx context.Context, opts *RootOptions, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommandWith(opts)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	return stdout.String(), stderr.String(), err
}

// errorResponse decodes a JSON error response from stdout.
func errorResponse(t *testing.T, stdout string) CLIResponse {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "stdout: %s", stdout)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return resp
}

// interruptRunner cancels the run on the first command, as a signal would.
type interruptRunner struct {
	cancel context.CancelFunc
}

func (r interruptRunner) Run(ctx context.Context, spec command.Spec) (*command.Result, error) {
	r.cancel()
	return &command.Result{ExitCode: -1, Stderr: "signal: interrupt"}, nil
}
