// Package extract is the boundary to the external kernel-extraction tool.
//
// The tool rewrites the application source, runs the instrumented
// application to capture kernel state, and writes an isolated kernel plus
// state files under the output directory. kerncheck treats it as opaque:
// it only supplies the request and reads back success and output.
package extract

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/invocation"
)

// Request describes one extraction.
type Request struct {
	// SourceFile is the application file holding the call site.
	SourceFile string
	// NamePath is module:routine:callee.
	NamePath   string
	Invocation *invocation.Spec

	Clean command.Spec
	Build command.Spec
	Run   command.Spec

	// OutputDir receives the kernel, state and data directories.
	OutputDir   string
	ExcludeFile string
	Timeout     time.Duration
}

// Validate checks the request fields the tool requires.
func (r *Request) Validate() error {
	switch {
	case r.SourceFile == "":
		return errors.New("extract: source file is required")
	case r.NamePath == "":
		return errors.New("extract: name path is required")
	case r.Invocation == nil:
		return errors.New("extract: invocation is required")
	case r.OutputDir == "":
		return errors.New("extract: output directory is required")
	}
	for name, c := range map[string]command.Spec{"build": r.Build, "run": r.Run} {
		if c.IsZero() {
			return fmt.Errorf("extract: %s command is required", name)
		}
	}
	return nil
}

// Result is the outcome reported by the tool.
type Result struct {
	Success bool
	Stdout  string
	Stderr  string
}

// Extractor performs extractions. Implementations must be safe to call
// again for the same request.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*Result, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, req Request) (*Result, error)

func (f ExtractorFunc) Extract(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
