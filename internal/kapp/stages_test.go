package kapp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/invocation"
	"github.com/roach88/kerncheck/internal/manifest"
	"github.com/roach88/kerncheck/internal/pipeline"
	"github.com/roach88/kerncheck/internal/testdef"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type counter struct{ n int64 }

func (c *counter) Next() int64 { c.n++; return c.n }

// okRunner records every command and succeeds.
type okRunner struct {
	mu    sync.Mutex
	specs []command.Spec
	fail  map[string]bool
}

func (r *okRunner) Run(ctx context.Context, spec command.Spec) (*command.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs = append(r.specs, spec)
	if r.fail[spec.String()] {
		return &command.Result{ExitCode: 2, Stderr: "make: *** [build] Error 1"}, nil
	}
	return &command.Result{Stdout: "ok"}, nil
}

func (r *okRunner) find(program string) (command.Spec, bool) {
	for _, s := range r.specs {
		if s.String() == program {
			return s, true
		}
	}
	return command.Spec{}, false
}

// writingExtractor writes the state files the request implies. Skip drops
// names from the output.
func writingExtractor(t *testing.T, kernel string, skip ...string) extract.ExtractorFunc {
	return func(ctx context.Context, req extract.Request) (*extract.Result, error) {
		data := filepath.Join(req.OutputDir, "data")
		if err := os.MkdirAll(data, 0o755); err != nil {
			return nil, err
		}
		dropped := map[string]bool{}
		for _, s := range skip {
			dropped[s] = true
		}
		for _, name := range req.Invocation.StateFiles(kernel) {
			if dropped[name] {
				continue
			}
			if err := os.WriteFile(filepath.Join(data, name), []byte(name), 0o644); err != nil {
				return nil, err
			}
		}
		return &extract.Result{Success: true, Stdout: "kernel extracted"}, nil
	}
}

func testManifest() *manifest.Manifest {
	return &manifest.Manifest{
		Kind:       manifest.KindFunctional,
		Kernel:     manifest.Kernel{File: "calc.F90", NamePath: "update_mod:update:calc"},
		Invocation: "0-1:0:1",
		Commands: manifest.Commands{
			Clean: &manifest.Command{Program: "make", Args: []string{"clean"}, Dir: "${tmpsrc}"},
			Build: &manifest.Command{Program: "make", Args: []string{"build"}, Dir: "${tmpsrc}"},
			Run:   &manifest.Command{Program: "make", Args: []string{"run"}, Dir: "${tmpsrc}"},
		},
	}
}

// fixture lays out a test directory with a src tree and returns a configured
// Base for it.
func fixture(t *testing.T, m *manifest.Manifest, ext extract.Extractor, runner command.Runner) testdef.Base {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src", "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "calc.F90"), []byte("program calc\nend\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "src", "sub", "Makefile"), []byte("all:\n"), 0o644))

	return testdef.Base{
		Seq:      1,
		ID:       "func/calc/FunctionalTest",
		RelPath:  "func/calc",
		TypeName: "FunctionalTest",
		Dir:      dir,
		Root:     filepath.Dir(dir),
		Settings: testdef.Settings{TmpDir: t.TempDir()},
		Services: testdef.Services{Runner: runner, Extractor: ext},
		Manifest: m,
	}
}

// execute runs def's template in order and stops at the first failure.
func execute(t *testing.T, def testdef.Definition) (*pipeline.Store, *pipeline.StageFailure) {
	t.Helper()
	r := &pipeline.Run{
		Test:     def.Common().ID,
		Template: def.Template(),
		Store:    pipeline.NewStore(),
		Clock:    &counter{},
	}
	for _, name := range def.Template().Names() {
		if err := r.Execute(context.Background(), name, def.Handler(name)); err != nil {
			sf := pipeline.RootCause(err)
			require.NotNil(t, sf, "stage errors are StageFailures")
			return r.Store, sf
		}
	}
	return r.Store, nil
}

func TestFunctional_Passes(t *testing.T) {
	runner := &okRunner{}
	def := &Functional{Base: fixture(t, testManifest(), writingExtractor(t, "calc"), runner)}

	store, failure := execute(t, def)
	require.Nil(t, failure)

	workdir := store.GetString(StageMkdir, KeyWorkdir)
	assert.Equal(t, "_KGENTEST_1_func_calc_FunctionalTest", filepath.Base(workdir))

	tmpsrc := store.GetString(StageDownload, KeyTmpsrc)
	assert.Equal(t, filepath.Join(workdir, "src"), tmpsrc)
	assert.FileExists(t, filepath.Join(tmpsrc, "calc.F90"))
	assert.FileExists(t, filepath.Join(tmpsrc, "sub", "Makefile"))

	assert.Equal(t, testdef.DefaultCompiler, store.GetString(StageConfig, KeyFC))

	files, err := store.Get(StageGenerate, KeyStatefiles)
	require.NoError(t, err)
	assert.Equal(t, []string{"calc.0.0.1", "calc.1.0.1"}, files)

	build, ok := runner.find("make build")
	require.True(t, ok)
	assert.Equal(t, filepath.Join(workdir, "kernel"), build.Dir)
	assert.Equal(t, "ifort", build.Env["FC"])
	_, ok = runner.find("make run")
	assert.True(t, ok)
}

func TestFunctional_WorkdirIsRecreated(t *testing.T) {
	def := &Functional{Base: fixture(t, testManifest(), writingExtractor(t, "calc"), &okRunner{})}
	stale := filepath.Join(def.Settings.TmpDir, WorkdirName(1, def.ID), "stale")
	require.NoError(t, os.MkdirAll(stale, 0o755))

	_, failure := execute(t, def)
	require.Nil(t, failure)
	assert.NoDirExists(t, stale)
}

func TestGenerate_PassesRequest(t *testing.T) {
	m := testManifest()
	m.Exclude = "${testdir}/exclude.ini"
	m.MPI = invocation.MPI{Enabled: true}
	m.Timeout = "90s"

	var got extract.Request
	ext := extract.ExtractorFunc(func(ctx context.Context, req extract.Request) (*extract.Result, error) {
		got = req
		return writingExtractor(t, "calc")(ctx, req)
	})
	def := &Functional{Base: fixture(t, m, ext, &okRunner{})}

	store, failure := execute(t, def)
	require.Nil(t, failure)

	tmpsrc := store.GetString(StageDownload, KeyTmpsrc)
	assert.Equal(t, filepath.Join(tmpsrc, "calc.F90"), got.SourceFile)
	assert.Equal(t, "update_mod:update:calc", got.NamePath)
	assert.Equal(t, filepath.Join(def.Dir, "exclude.ini"), got.ExcludeFile)
	assert.Equal(t, tmpsrc, got.Build.Dir)
	assert.Equal(t, "ifort", got.Build.Env["FC"])
	assert.Equal(t, "make clean", got.Clean.String())
	assert.True(t, got.Invocation.MPI().Enabled)
	assert.Equal(t, 90*time.Second, got.Timeout)
}

func TestGenerate_FailureRecordsOutput(t *testing.T) {
	ext := extract.ExtractorFunc(func(ctx context.Context, req extract.Request) (*extract.Result, error) {
		return &extract.Result{Success: false, Stdout: "parsing", Stderr: "ERROR: callsite not found"}, nil
	})
	def := &Functional{Base: fixture(t, testManifest(), ext, &okRunner{})}

	store, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageGenerate, failure.Stage)
	assert.Equal(t, "STDOUT: parsing\nSTDERR: ERROR: callsite not found", failure.Message)
	assert.Equal(t, "ERROR: callsite not found", failure.Stderr)

	files, err := store.Get(StageGenerate, KeyStatefiles)
	require.NoError(t, err)
	assert.Equal(t, []string{}, files)
	assert.Equal(t, "parsing", store.GetString(StageGenerate, KeyStdout))
}

func TestGenerate_InvalidInvocation(t *testing.T) {
	m := testManifest()
	m.Invocation = "0-1:1"
	def := &Functional{Base: fixture(t, m, writingExtractor(t, "calc"), &okRunner{})}

	_, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageGenerate, failure.Stage)

	var pe *invocation.ParseError
	assert.True(t, errors.As(failure, &pe))
}

func TestGenerate_RequiresBuildCommand(t *testing.T) {
	m := testManifest()
	m.Commands.Build = nil
	def := &Functional{Base: fixture(t, m, writingExtractor(t, "calc"), &okRunner{})}

	_, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, "commands.build is required", failure.Message)
}

func TestBuild_FailureCarriesOutput(t *testing.T) {
	runner := &okRunner{fail: map[string]bool{"make build": true}}
	def := &Functional{Base: fixture(t, testManifest(), writingExtractor(t, "calc"), runner)}

	_, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageBuild, failure.Stage)
	assert.Equal(t, "make: exit status 2", failure.Message)
	assert.Equal(t, "make: *** [build] Error 1", failure.Stderr)
}

func TestVerify_MissingStateFiles(t *testing.T) {
	def := &Functional{Base: fixture(t, testManifest(), writingExtractor(t, "calc", "calc.1.0.1"), &okRunner{})}

	store, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageVerify, failure.Stage)
	assert.Equal(t,
		"missing state files in "+store.GetString(StageGenerate, KeyDatadir)+": calc.1.0.1",
		failure.Message)
}

func TestVerify_ExplicitStateFiles(t *testing.T) {
	m := testManifest()
	m.StateFiles = []string{"calc.0.0.1"}
	def := &Functional{Base: fixture(t, m, writingExtractor(t, "calc", "calc.1.0.1"), &okRunner{})}

	_, failure := execute(t, def)
	assert.Nil(t, failure)
}

func TestDownload_MissingSource(t *testing.T) {
	m := testManifest()
	m.Source.Dir = "nowhere"
	def := &Functional{Base: fixture(t, m, writingExtractor(t, "calc"), &okRunner{})}

	_, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageDownload, failure.Stage)
	assert.Contains(t, failure.Message, "does not exist")
}

func TestDownload_PathUsedInPlace(t *testing.T) {
	m := testManifest()
	m.Source.Path = "${testdir}/src"
	def := &Functional{Base: fixture(t, m, writingExtractor(t, "calc"), &okRunner{})}

	store, failure := execute(t, def)
	require.Nil(t, failure)
	assert.Equal(t, filepath.Join(def.Dir, "src"), store.GetString(StageDownload, KeyTmpsrc))
}

func TestConfig_VarsAndCompiler(t *testing.T) {
	m := testManifest()
	m.Compiler = "gfortran"
	m.Vars = map[string]string{"casedir": "${workdir}/case"}
	m.Commands.Config = &manifest.Command{Program: "./configure", Args: []string{"--case", "${casedir}"}}
	m.Commands.Run = &manifest.Command{Program: "./case.submit", Dir: "${casedir}"}

	runner := &okRunner{}
	var got extract.Request
	ext := extract.ExtractorFunc(func(ctx context.Context, req extract.Request) (*extract.Result, error) {
		got = req
		return writingExtractor(t, "calc")(ctx, req)
	})
	b := fixture(t, m, ext, runner)
	b.Settings.Compiler = "ifx"
	def := &Functional{Base: b}

	store, failure := execute(t, def)
	require.Nil(t, failure)

	workdir := store.GetString(StageMkdir, KeyWorkdir)
	casedir := filepath.Join(workdir, "case")
	assert.Equal(t, casedir, store.GetString(StageConfig, "casedir"))
	assert.Equal(t, "gfortran", store.GetString(StageConfig, KeyFC))

	cfg, ok := runner.find("./configure --case " + casedir)
	require.True(t, ok)
	assert.Equal(t, "gfortran", cfg.Env["FC"])
	assert.Equal(t, casedir, got.Run.Dir)
}

func TestSystem_ComparesReference(t *testing.T) {
	m := testManifest()
	m.Kind = manifest.KindSystem
	m.Reference = "ref"

	b := fixture(t, m, writingExtractor(t, "calc"), &okRunner{})
	ref := filepath.Join(b.Dir, "ref")
	require.NoError(t, os.MkdirAll(ref, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ref, "calc.0.0.1"), []byte("calc.0.0.1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ref, "calc.1.0.1"), []byte("different"), 0o644))

	def := &System{Base: b}
	store, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageVerify, failure.Stage)
	assert.Equal(t, "state files differ from reference "+ref+": calc.1.0.1", failure.Message)
	assert.Equal(t, ref, store.GetString(StageReference, KeyRefdir))

	require.NoError(t, os.WriteFile(filepath.Join(ref, "calc.1.0.1"), []byte("calc.1.0.1"), 0o644))
	_, failure = execute(t, def)
	assert.Nil(t, failure)
}

func TestVars_VisibleBeforeConfig(t *testing.T) {
	m := testManifest()
	m.Kind = manifest.KindSystem
	m.Vars = map[string]string{
		"inputs":  "${testdir}/inputs",
		"srcdir":  "${inputs}/src",
		"refdir":  "${inputs}/ref",
		"flagged": "${FC_FLAGS} -O2",
	}
	m.Source.Path = "${srcdir}"
	m.Reference = "${refdir}"

	b := fixture(t, m, writingExtractor(t, "calc"), &okRunner{})
	inputs := filepath.Join(b.Dir, "inputs")
	require.NoError(t, os.MkdirAll(filepath.Join(inputs, "ref"), 0o755))
	for _, name := range []string{"calc.0.0.1", "calc.1.0.1"} {
		require.NoError(t, os.WriteFile(filepath.Join(inputs, "ref", name), []byte(name), 0o644))
	}
	require.NoError(t, os.Rename(filepath.Join(b.Dir, "src"), filepath.Join(inputs, "src")))

	store, failure := execute(t, &System{Base: b})
	require.Nil(t, failure)
	assert.Equal(t, filepath.Join(inputs, "src"), store.GetString(StageDownload, KeyTmpsrc))
	assert.Equal(t, filepath.Join(inputs, "ref"), store.GetString(StageReference, KeyRefdir))
	assert.Equal(t, " -O2", store.GetString(StageConfig, "flagged"))
}

func TestSystem_WithoutReference(t *testing.T) {
	m := testManifest()
	m.Kind = manifest.KindSystem
	def := &System{Base: fixture(t, m, writingExtractor(t, "calc"), &okRunner{})}

	_, failure := execute(t, def)
	assert.Nil(t, failure)
}

func TestTemplates(t *testing.T) {
	require.NoError(t, FunctionalTemplate().Validate())
	require.NoError(t, SystemTemplate().Validate())

	sys := SystemTemplate()
	assert.Equal(t, []string{StageDownload}, sys.Predecessors(StageReference))
	assert.Equal(t, []string{StageRun, StageReference}, sys.Predecessors(StageVerify))
	assert.Equal(t, StageVerify, sys.Terminal())
}

func TestNoServicesConfigured(t *testing.T) {
	def := &Functional{Base: fixture(t, testManifest(), nil, &okRunner{})}
	_, failure := execute(t, def)
	require.NotNil(t, failure)
	assert.Equal(t, StageGenerate, failure.Stage)
	assert.Equal(t, "no extraction tool configured", failure.Message)
}

func TestResolveVars(t *testing.T) {
	base := map[string]string{"workdir": "/w", "casename": "base"}

	got, err := ResolveVars(map[string]string{
		"camsrcmods": "${srcmods}/src.cam",
		"srcmods":    "${casedir}/SourceMods",
		"casedir":    "${workdir}/${casename}",
		"casename":   "clubb",
	}, base)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"camsrcmods": "/w/clubb/SourceMods/src.cam",
		"srcmods":    "/w/clubb/SourceMods",
		"casedir":    "/w/clubb",
		"casename":   "clubb",
	}, got)

	_, err = ResolveVars(map[string]string{"a": "${b}", "b": "${a}"}, base)
	assert.ErrorContains(t, err, "refers to itself")

	_, err = ResolveVars(map[string]string{"a": "${nope}"}, base)
	assert.ErrorContains(t, err, `vars.a: undefined variable "nope"`)
}
