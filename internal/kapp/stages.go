package kapp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/invocation"
	"github.com/roach88/kerncheck/internal/manifest"
	"github.com/roach88/kerncheck/internal/pipeline"
	"github.com/roach88/kerncheck/internal/testdef"
)

// Stages implements the default handlers over a test's Base.
type Stages struct {
	T *testdef.Base
}

// Handler returns the default handler for stage, or nil for unknown stages.
func (s Stages) Handler(stage string) pipeline.StageFunc {
	switch stage {
	case StageMkdir:
		return s.Mkdir
	case StageDownload:
		return s.Download
	case StageReference:
		return s.Reference
	case StageConfig:
		return s.Config
	case StageGenerate:
		return s.Generate
	case StageBuild:
		return s.Build
	case StageRun:
		return s.Run
	case StageVerify:
		return s.Verify
	}
	return nil
}

// WorkdirName is the working directory base name for a test.
func WorkdirName(seq int, id string) string {
	return fmt.Sprintf("%s_%d_%s", TestPrefix, seq, sanitize(id))
}

// Mkdir creates a clean working directory.
func (s Stages) Mkdir(ctx context.Context, st *pipeline.Stage) error {
	tmp := s.T.Settings.TmpDir
	if tmp == "" {
		tmp = os.TempDir()
	}
	workdir := filepath.Join(tmp, WorkdirName(s.T.Seq, s.T.ID))

	if err := os.RemoveAll(workdir); err != nil {
		return fmt.Errorf("clean working directory: %w", err)
	}
	if err := os.MkdirAll(workdir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}
	st.Set(KeyWorkdir, workdir)
	return nil
}

// Download stages the application source and publishes tmpsrc.
func (s Stages) Download(ctx context.Context, st *pipeline.Stage) error {
	workdir, err := st.GetString(StageMkdir, KeyWorkdir)
	if err != nil {
		return err
	}
	src := s.manifest().Source
	vars := s.Vars(st)

	switch {
	case src.Command != nil:
		spec, err := src.Command.Spec()
		if err != nil {
			return err
		}
		if spec.Dir == "" {
			spec.Dir = workdir
		}
		if _, err := s.RunCommand(ctx, st, spec, vars); err != nil {
			return err
		}
		tmpsrc := filepath.Join(workdir, "src")
		if !isDir(tmpsrc) {
			return pipeline.Failf("source command did not create %s", tmpsrc)
		}
		st.Set(KeyTmpsrc, tmpsrc)

	case src.Path != "":
		p, err := s.resolve(src.Path, vars)
		if err != nil {
			return err
		}
		if !isDir(p) {
			return pipeline.Failf("source path %s is not a directory", p)
		}
		st.Set(KeyTmpsrc, p)

	default:
		dir := src.Dir
		if dir == "" {
			dir = "src"
		}
		p, err := s.resolve(dir, vars)
		if err != nil {
			return err
		}
		if !isDir(p) {
			return pipeline.Failf("source directory %s does not exist", p)
		}
		tmpsrc := filepath.Join(workdir, "src")
		if err := copyTree(p, tmpsrc); err != nil {
			return fmt.Errorf("copy source: %w", err)
		}
		st.Set(KeyTmpsrc, tmpsrc)
	}
	return nil
}

// Reference locates the reference state directory, if the test has one.
func (s Stages) Reference(ctx context.Context, st *pipeline.Stage) error {
	ref := s.manifest().Reference
	if ref == "" {
		return nil
	}
	p, err := s.resolve(ref, s.Vars(st))
	if err != nil {
		return err
	}
	if !isDir(p) {
		return pipeline.Failf("reference directory %s does not exist", p)
	}
	st.Set(KeyRefdir, p)
	return nil
}

// Config selects the compiler, publishes manifest vars and runs the
// optional config command.
func (s Stages) Config(ctx context.Context, st *pipeline.Stage) error {
	m := s.manifest()
	fc := firstNonEmpty(m.Compiler, s.T.Settings.Compiler, testdef.DefaultCompiler)
	flags := firstNonEmpty(m.CompilerFlags, s.T.Settings.CompilerFlags)
	st.Set(KeyFC, fc)
	st.Set(KeyFCFlags, flags)

	vars := s.Vars(st)
	vars[KeyFC] = fc
	vars[KeyFCFlags] = flags
	resolved, err := ResolveVars(m.Vars, vars)
	if err != nil {
		return err
	}
	for _, name := range m.VarNames() {
		st.Set(name, resolved[name])
		vars[name] = resolved[name]
	}

	if m.Commands.Config == nil {
		return nil
	}
	spec, err := m.Commands.Config.Spec()
	if err != nil {
		return err
	}
	spec.Env = withCompilerEnv(spec.Env, fc, flags)
	_, err = s.RunCommand(ctx, st, spec, vars)
	return err
}

// Generate runs the extraction tool and publishes the expected state files.
func (s Stages) Generate(ctx context.Context, st *pipeline.Stage) error {
	m := s.manifest()
	if m.Kernel.File == "" || m.Kernel.NamePath == "" {
		return pipeline.Failf("kernel.file and kernel.namepath are required")
	}

	workdir, err := st.GetString(StageMkdir, KeyWorkdir)
	if err != nil {
		return err
	}
	tmpsrc, err := st.GetString(StageDownload, KeyTmpsrc)
	if err != nil {
		return err
	}

	spec, err := invocation.New(m.InvocationOptions())
	if err != nil {
		return err
	}

	vars := s.Vars(st)
	req, err := s.ExtractRequest(m, spec, vars)
	if err != nil {
		return err
	}
	req.SourceFile = filepath.Join(tmpsrc, m.Kernel.File)
	req.OutputDir = workdir

	return s.Extract(ctx, st, req, m.Kernel.StateName())
}

// ExtractRequest builds an extraction request from the manifest's commands.
// SourceFile and OutputDir are left to the caller.
func (s Stages) ExtractRequest(m *manifest.Manifest, spec *invocation.Spec, vars map[string]string) (extract.Request, error) {
	req := extract.Request{
		NamePath:   m.Kernel.NamePath,
		Invocation: spec,
		Timeout:    m.TimeoutDuration(),
	}

	fc, flags := vars[KeyFC], vars[KeyFCFlags]
	for _, c := range []struct {
		name string
		src  *manifest.Command
		dst  *command.Spec
	}{
		{"clean", m.Commands.Clean, &req.Clean},
		{"build", m.Commands.Build, &req.Build},
		{"run", m.Commands.Run, &req.Run},
	} {
		if c.src == nil {
			if c.name == "clean" {
				continue
			}
			return req, pipeline.Failf("commands.%s is required", c.name)
		}
		cs, err := c.src.Spec()
		if err != nil {
			return req, err
		}
		cs.Env = withCompilerEnv(cs.Env, fc, flags)
		if *c.dst, err = cs.Expand(vars); err != nil {
			return req, err
		}
	}

	if m.Exclude != "" {
		p, err := s.resolve(m.Exclude, vars)
		if err != nil {
			return req, err
		}
		req.ExcludeFile = p
	}
	return req, nil
}

// Extract calls the extraction capability and records its outcome. On
// success statefiles lists the expected state files of kernel, unless the
// manifest lists them explicitly.
func (s Stages) Extract(ctx context.Context, st *pipeline.Stage, req extract.Request, kernel string) error {
	ext := s.T.Services.Extractor
	if ext == nil {
		return errors.New("no extraction tool configured")
	}

	res, err := ext.Extract(ctx, req)
	if err != nil {
		return err
	}

	st.Set(KeyStdout, res.Stdout)
	st.Set(KeyStderr, res.Stderr)
	st.Set(KeyDatadir, filepath.Join(req.OutputDir, "data"))

	if !res.Success {
		st.Set(KeyStatefiles, []string{})
		return pipeline.FailWithOutput(
			fmt.Sprintf("STDOUT: %s\nSTDERR: %s", res.Stdout, res.Stderr),
			res.Stdout, res.Stderr,
		)
	}

	files := s.manifest().StateFiles
	if len(files) == 0 {
		files = req.Invocation.StateFiles(kernel)
	}
	st.Set(KeyStatefiles, files)
	return nil
}

// Build compiles the extracted kernel.
func (s Stages) Build(ctx context.Context, st *pipeline.Stage) error {
	return s.kernelCommand(ctx, st, s.manifest().Commands.KernelBuild, "build")
}

// Run runs the extracted kernel.
func (s Stages) Run(ctx context.Context, st *pipeline.Stage) error {
	return s.kernelCommand(ctx, st, s.manifest().Commands.KernelRun, "run")
}

func (s Stages) kernelCommand(ctx context.Context, st *pipeline.Stage, override *manifest.Command, target string) error {
	spec := command.Spec{Program: "make", Args: []string{target}}
	if override != nil {
		var err error
		if spec, err = override.Spec(); err != nil {
			return err
		}
	}
	if spec.Dir == "" {
		spec.Dir = "${workdir}/kernel"
	}

	vars := s.Vars(st)
	spec.Env = withCompilerEnv(spec.Env, vars[KeyFC], vars[KeyFCFlags])
	_, err := s.RunCommand(ctx, st, spec, vars)
	return err
}

// Verify checks that every expected state file was produced and, when a
// reference directory is available, that it matches the reference.
func (s Stages) Verify(ctx context.Context, st *pipeline.Stage) error {
	datadir, err := st.GetString(StageGenerate, KeyDatadir)
	if err != nil {
		return err
	}
	files, err := st.GetStrings(StageGenerate, KeyStatefiles)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return pipeline.Failf("no state files to verify")
	}

	var missing []string
	for _, name := range files {
		info, err := os.Stat(filepath.Join(datadir, name))
		if err != nil || !info.Mode().IsRegular() {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return pipeline.Failf("missing state files in %s: %s", datadir, strings.Join(missing, ", "))
	}

	refdir, err := st.GetString(StageReference, KeyRefdir)
	if err != nil {
		var ae *pipeline.AccessError
		var nf *pipeline.NotFoundError
		if errors.As(err, &ae) || errors.As(err, &nf) {
			return nil
		}
		return err
	}

	var differ []string
	for _, name := range files {
		got, err := os.ReadFile(filepath.Join(datadir, name))
		if err != nil {
			return err
		}
		want, err := os.ReadFile(filepath.Join(refdir, name))
		if err != nil {
			differ = append(differ, name+" (no reference)")
			continue
		}
		if !bytes.Equal(got, want) {
			differ = append(differ, name)
		}
	}
	if len(differ) > 0 {
		return pipeline.Failf("state files differ from reference %s: %s", refdir, strings.Join(differ, ", "))
	}
	return nil
}

// RunCommand expands and runs spec, records its output and fails the stage
// when it does not succeed.
func (s Stages) RunCommand(ctx context.Context, st *pipeline.Stage, spec command.Spec, vars map[string]string) (*command.Result, error) {
	runner := s.T.Services.Runner
	if runner == nil {
		return nil, errors.New("no command runner configured")
	}
	expanded, err := spec.Expand(vars)
	if err != nil {
		return nil, err
	}

	st.Logger().Debug("running command", "command", expanded.String(), "dir", expanded.Dir)
	res, err := runner.Run(ctx, expanded)
	if err != nil {
		return nil, err
	}
	st.Set(KeyStdout, res.Stdout)
	st.Set(KeyStderr, res.Stderr)

	if !res.Success() {
		return res, pipeline.FailWithOutput(res.Failure(expanded), res.Stdout, res.Stderr)
	}
	return res, nil
}

// Vars collects the ${name} variables visible to the running stage: testdir
// and root always, and workdir, tmpsrc, FC and FC_FLAGS once the stages
// producing them are predecessors. Manifest vars come from config when it is
// readable; before that, every var whose references are already visible is
// resolved in place.
func (s Stages) Vars(st *pipeline.Stage) map[string]string {
	vars := map[string]string{
		"testdir": s.T.Dir,
		"root":    s.T.Root,
	}
	lookup := func(stage, key string) {
		if v, err := st.GetString(stage, key); err == nil {
			vars[key] = v
		}
	}
	lookup(StageMkdir, KeyWorkdir)
	lookup(StageDownload, KeyTmpsrc)
	lookup(StageConfig, KeyFC)
	lookup(StageConfig, KeyFCFlags)

	m := s.manifest()
	if _, err := st.GetString(StageConfig, KeyFC); err == nil {
		for _, name := range m.VarNames() {
			lookup(StageConfig, name)
		}
		return vars
	}

	base := maps.Clone(vars)
	for _, name := range m.VarNames() {
		if v, err := varResolver(m.Vars, base)(name); err == nil {
			vars[name] = v
		}
	}
	return vars
}

func (s Stages) manifest() *manifest.Manifest {
	if s.T.Manifest == nil {
		return &manifest.Manifest{}
	}
	return s.T.Manifest
}

// resolve expands p and makes it absolute relative to the test directory.
func (s Stages) resolve(p string, vars map[string]string) (string, error) {
	expanded, err := expandString(p, vars)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(expanded) {
		expanded = filepath.Join(s.T.Dir, expanded)
	}
	return filepath.Clean(expanded), nil
}

// ResolveVars expands declared variables against base. Declared variables
// may reference each other in any order and shadow base entries; a
// reference cycle is an error.
func ResolveVars(decl, base map[string]string) (map[string]string, error) {
	resolve := varResolver(decl, base)
	names := make([]string, 0, len(decl))
	for n := range decl {
		names = append(names, n)
	}
	sort.Strings(names)

	out := make(map[string]string, len(decl))
	for _, n := range names {
		v, err := resolve(n)
		if err != nil {
			return nil, fmt.Errorf("vars.%s: %w", n, err)
		}
		out[n] = v
	}
	return out, nil
}

// varResolver returns a memoizing resolver over decl and base. A resolver
// that returned an error must not be reused.
func varResolver(decl, base map[string]string) func(name string) (string, error) {
	out := make(map[string]string, len(decl))
	visiting := make(map[string]bool)

	var resolve func(name string) (string, error)
	resolve = func(name string) (string, error) {
		if v, ok := out[name]; ok {
			return v, nil
		}
		raw, declared := decl[name]
		if !declared {
			v, ok := base[name]
			if !ok {
				return "", fmt.Errorf("undefined variable %q", name)
			}
			return v, nil
		}
		if visiting[name] {
			return "", fmt.Errorf("variable %q refers to itself", name)
		}
		visiting[name] = true

		var err error
		v := os.Expand(raw, func(ref string) string {
			if err != nil {
				return ""
			}
			var r string
			r, err = resolve(ref)
			return r
		})
		if err != nil {
			return "", err
		}
		out[name] = v
		return v, nil
	}
	return resolve
}

func requireManifest(b *testdef.Base) error {
	if b.Manifest == nil {
		return errors.New("test has no manifest")
	}
	return nil
}

func expandString(s string, vars map[string]string) (string, error) {
	spec, err := command.Spec{Program: s}.Expand(vars)
	if err != nil {
		return "", fmt.Errorf("expand %q: %w", s, err)
	}
	return spec.Program, nil
}

func withCompilerEnv(env map[string]string, fc, flags string) map[string]string {
	out := make(map[string]string, len(env)+2)
	if fc != "" {
		out[KeyFC] = fc
		out[KeyFCFlags] = flags
	}
	for k, v := range env {
		out[k] = v
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, id)
}
