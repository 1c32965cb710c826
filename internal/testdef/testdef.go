// Package testdef defines the contract every kerncheck test implements.
//
// A Definition is created by a registered factory during discovery, has its
// identity and settings filled into its Base, is configured exactly once,
// and then supplies one handler per stage of its Template.
//
// Concrete tests customise a family by embedding it and overriding Handler
// for the stages they change, delegating the rest:
//
//	func (t *CustomTest) Handler(stage string) pipeline.StageFunc {
//		if stage == "config" {
//			return t.config
//		}
//		return t.Functional.Handler(stage)
//	}
package testdef

import (
	"log/slog"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/manifest"
	"github.com/roach88/kerncheck/internal/pipeline"
)

// Kind is a test family.
type Kind string

const (
	Functional Kind = manifest.KindFunctional
	System     Kind = manifest.KindSystem
)

// DefaultCompiler is the compiler used when neither settings nor manifest
// name one.
const DefaultCompiler = "ifort"

// Settings are shared by every test of a run.
type Settings struct {
	Compiler      string
	CompilerFlags string
	// TmpDir holds per-test working directories. Empty means os.TempDir().
	TmpDir    string
	LeaveTemp bool
}

// Services are the collaborators stage handlers use.
type Services struct {
	Runner    command.Runner
	Extractor extract.Extractor
	Logger    *slog.Logger
}

// Base carries identity, settings and outcome. Every Definition embeds one.
type Base struct {
	// Seq is the 1-based discovery order.
	Seq int
	// ID is "<relpath>/<TypeName>".
	ID       string
	RelPath  string
	TypeName string
	// Dir is the absolute test directory; Root the test tree root.
	Dir  string
	Root string

	Settings Settings
	Services Services
	Manifest *manifest.Manifest

	Status  pipeline.Status
	Message string
}

// Common returns the embedded Base.
func (b *Base) Common() *Base { return b }

// Configure is the default one-time configuration hook. It does nothing.
func (b *Base) Configure() error { return nil }

// Logger returns the test's logger, never nil.
func (b *Base) Logger() *slog.Logger {
	if b.Services.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Services.Logger.With("test", b.ID)
}

// Definition is one discovered test.
type Definition interface {
	Common() *Base
	Kind() Kind
	Template() pipeline.Template
	// Configure runs once after identity and settings are assigned.
	Configure() error
	// Handler returns the handler for stage. Nil passes without output.
	Handler(stage string) pipeline.StageFunc
}
