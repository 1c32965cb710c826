// Package kapp provides the built-in kernel-application test families.
//
// Functional tests run the linear template
//
//	mkdir → download → config → generate → build → run → verify
//
// System tests add a reference stage after download and verify against it:
//
//	mkdir → download ─┬→ config → generate → build → run ─┬→ verify
//	                  └→ reference ───────────────────────┘
//
// Both families are fully driven by the test's manifest. Go tests embed a
// family and override Handler for the stages they change.
package kapp

import (
	"github.com/roach88/kerncheck/internal/pipeline"
	"github.com/roach88/kerncheck/internal/registry"
	"github.com/roach88/kerncheck/internal/testdef"
)

// Stage names.
const (
	StageMkdir     = "mkdir"
	StageDownload  = "download"
	StageReference = "reference"
	StageConfig    = "config"
	StageGenerate  = "generate"
	StageBuild     = "build"
	StageRun       = "run"
	StageVerify    = "verify"
)

// Result store keys.
const (
	KeyWorkdir    = "workdir"
	KeyTmpsrc     = "tmpsrc"
	KeyRefdir     = "refdir"
	KeyFC         = "FC"
	KeyFCFlags    = "FC_FLAGS"
	KeyStdout     = "stdout"
	KeyStderr     = "stderr"
	KeyDatadir    = "datadir"
	KeyStatefiles = "statefiles"
)

// TestPrefix starts every working directory name.
const TestPrefix = "_KGENTEST"

// FunctionalTemplate is the functional family's stage list.
func FunctionalTemplate() pipeline.Template {
	return pipeline.LinearTemplate(
		StageMkdir, StageDownload, StageConfig, StageGenerate, StageBuild, StageRun, StageVerify,
	)
}

// SystemTemplate is the system family's stage list.
func SystemTemplate() pipeline.Template {
	return pipeline.Template{
		pipeline.Linear(StageMkdir),
		pipeline.Linear(StageDownload),
		pipeline.After(StageReference, StageDownload),
		pipeline.After(StageConfig, StageDownload),
		pipeline.Linear(StageGenerate),
		pipeline.Linear(StageBuild),
		pipeline.Linear(StageRun),
		pipeline.After(StageVerify, StageRun, StageReference),
	}
}

// Functional is the functional test family.
type Functional struct {
	testdef.Base
}

// NewFunctional creates an unconfigured functional test.
func NewFunctional() testdef.Definition { return &Functional{} }

func (t *Functional) Kind() testdef.Kind          { return testdef.Functional }
func (t *Functional) Template() pipeline.Template { return FunctionalTemplate() }
func (t *Functional) Configure() error            { return requireManifest(&t.Base) }

// Stages returns the default stage handlers bound to this test.
func (t *Functional) Stages() Stages { return Stages{T: &t.Base} }

func (t *Functional) Handler(stage string) pipeline.StageFunc {
	return t.Stages().Handler(stage)
}

// System is the system test family.
type System struct {
	testdef.Base
}

// NewSystem creates an unconfigured system test.
func NewSystem() testdef.Definition { return &System{} }

func (t *System) Kind() testdef.Kind          { return testdef.System }
func (t *System) Template() pipeline.Template { return SystemTemplate() }
func (t *System) Configure() error            { return requireManifest(&t.Base) }

// Stages returns the default stage handlers bound to this test.
func (t *System) Stages() Stages { return Stages{T: &t.Base} }

func (t *System) Handler(stage string) pipeline.StageFunc {
	return t.Stages().Handler(stage)
}

func init() {
	registry.RegisterKind(testdef.Functional, "FunctionalTest", NewFunctional)
	registry.RegisterKind(testdef.System, "SystemTest", NewSystem)
}
