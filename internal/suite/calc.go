package suite

import (
	"context"
	"path/filepath"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/invocation"
	"github.com/roach88/kerncheck/internal/kapp"
	"github.com/roach88/kerncheck/internal/pipeline"
)

const (
	calcSource     = "update_mod.F90"
	calcNamePath   = "update_mod:update:calc"
	calcInvocation = "0-1:0-1:1,0-1:2-3:3"
	calcMakefile   = "Makefile.mpirun"
	calcFlags      = "-O3"
)

// CalcTest extracts the calc kernel from the MPI+OpenMP calc application.
type CalcTest struct {
	kapp.System
}

func (t *CalcTest) Handler(stage string) pipeline.StageFunc {
	if stage == kapp.StageGenerate {
		return t.generate
	}
	return t.System.Handler(stage)
}

func (t *CalcTest) generate(ctx context.Context, st *pipeline.Stage) error {
	workdir, err := st.GetString(kapp.StageMkdir, kapp.KeyWorkdir)
	if err != nil {
		return err
	}
	tmpsrc, err := st.GetString(kapp.StageDownload, kapp.KeyTmpsrc)
	if err != nil {
		return err
	}
	fc, err := st.GetString(kapp.StageConfig, kapp.KeyFC)
	if err != nil {
		return err
	}

	spec, err := invocation.New(invocation.Options{
		Descriptor: calcInvocation,
		Repeat:     1,
		MPI:        invocation.MPI{Enabled: true},
		OpenMP:     invocation.OpenMP{Enabled: true},
	})
	if err != nil {
		return err
	}

	makeCmd := func(target string) command.Spec {
		return command.Spec{
			Program: "make",
			Args:    []string{"-f", calcMakefile, target},
			Dir:     tmpsrc,
			Env:     map[string]string{kapp.KeyFC: fc, kapp.KeyFCFlags: calcFlags},
		}
	}

	return t.Stages().Extract(ctx, st, extract.Request{
		SourceFile: filepath.Join(tmpsrc, calcSource),
		NamePath:   calcNamePath,
		Invocation: spec,
		Clean:      makeCmd("clean"),
		Build:      makeCmd("build"),
		Run:        makeCmd("run"),
		OutputDir:  workdir,
	}, "calc")
}
