package extract

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/invocation"
)

type recordingRunner struct {
	got    command.Spec
	result *command.Result
}

func (r *recordingRunner) Run(ctx context.Context, spec command.Spec) (*command.Result, error) {
	r.got = spec
	return r.result, nil
}

func calcRequest() Request {
	return Request{
		SourceFile: "/w/src/update_mod.F90",
		NamePath:   "update_mod:update:calc",
		Invocation: invocation.MustNew(invocation.Options{
			Descriptor: "0-1:0-1:1,0-1:2-3:3",
			MPI:        invocation.MPI{Enabled: true},
			OpenMP:     invocation.OpenMP{Enabled: true},
		}),
		Clean:     command.Spec{Program: "make", Args: []string{"-f", "Makefile.mpirun", "clean"}, Dir: "/w/src"},
		Build:     command.Spec{Program: "make", Args: []string{"-f", "Makefile.mpirun", "build"}, Dir: "/w/src"},
		Run:       command.Spec{Program: "make", Args: []string{"-f", "Makefile.mpirun", "run"}, Dir: "/w/src"},
		OutputDir: "/w",
		Timeout:   time.Hour,
	}
}

func TestTool_Args(t *testing.T) {
	tool := &Tool{}
	req := calcRequest()
	req.ExcludeFile = "/w/exclude.ini"

	assert.Equal(t, []string{
		"--cmd-clean", `cd '/w/src' && 'make' '-f' 'Makefile.mpirun' 'clean'`,
		"--cmd-build", `cd '/w/src' && 'make' '-f' 'Makefile.mpirun' 'build'`,
		"--cmd-run", `cd '/w/src' && 'make' '-f' 'Makefile.mpirun' 'run'`,
		"--invocation", "0-1:0-1:1,0-1:2-3:3",
		"--timing", "repeat=1",
		"--mpi", "enable",
		"--openmp", "enable",
		"-e", "/w/exclude.ini",
		"--outdir", "/w",
		"/w/src/update_mod.F90:update_mod:update:calc",
	}, tool.Args(req))
}

func TestTool_ExtractRunsBinary(t *testing.T) {
	runner := &recordingRunner{result: &command.Result{Stdout: "kernel extracted", ExitCode: 0}}
	tool := &Tool{Runner: runner}

	res, err := tool.Extract(context.Background(), calcRequest())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "kernel extracted", res.Stdout)
	assert.Equal(t, DefaultBinary, runner.got.Program)
	assert.Equal(t, "/w", runner.got.Dir)
	assert.Equal(t, time.Hour, runner.got.Timeout)
}

func TestTool_ExtractReportsFailure(t *testing.T) {
	runner := &recordingRunner{result: &command.Result{ExitCode: 2}}
	tool := &Tool{Binary: "/opt/kgen/bin/kgen", Runner: runner}

	res, err := tool.Extract(context.Background(), calcRequest())
	require.NoError(t, err)

	assert.False(t, res.Success)
	assert.Equal(t, "/opt/kgen/bin/kgen: exit status 2", res.Stderr)
}

func TestRequest_Validate(t *testing.T) {
	req := calcRequest()
	req.Run = command.Spec{}
	_, err := (&Tool{Runner: &recordingRunner{}}).Extract(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run command is required")

	req = calcRequest()
	req.Invocation = nil
	assert.Error(t, req.Validate())
}
