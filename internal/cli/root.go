package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/config"
	"github.com/roach88/kerncheck/internal/engine"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/registry"
)

// DefaultRoot is the test tree used when --root is not given.
const DefaultRoot = "suite"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Root    string
	Config  string

	// Registry, Runner, Extractor and RunIDs override the real
	// implementations (for testing). Nil uses the defaults.
	Registry  *registry.Registry
	Runner    command.Runner
	Extractor extract.Extractor
	RunIDs    engine.RunIDGenerator
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the kerncheck CLI.
func NewRootCommand() *cobra.Command {
	return NewRootCommandWith(&RootOptions{})
}

// NewRootCommandWith creates the root command around opts.
func NewRootCommandWith(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kerncheck",
		Short: "kerncheck - kernel extraction test runner",
		Long: `Discover and run kernel-extraction tests.

Each test extracts a kernel from a real application with the extraction
tool, builds and runs it, and verifies the captured state files. Tests
run as stage pipelines scheduled together in one task graph.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Validate format flag
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError, fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Root, "root", DefaultRoot, "test tree root")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "settings file (default <root>/"+config.FileName+")")

	// Add subcommands
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewInvocationCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	for _, sub := range cmd.Commands() {
		if sub.RunE != nil {
			sub.RunE = opts.reportErrors(sub.RunE)
		}
	}

	return cmd
}

// reportErrors writes command errors as a JSON error response when the
// output format is JSON. Test failures report through the run summary.
func (o *RootOptions) reportErrors(run func(*cobra.Command, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := run(cmd, args)
		if err == nil || GetExitCode(err) != ExitCommandError {
			return err
		}
		f := o.formatter(cmd)
		if f.JSON() {
			_ = f.Error(CodeCommandError, err.Error(), nil)
		}
		return err
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// logger builds the command's structured logger on w.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// formatter builds the output formatter for cmd.
func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

func (o *RootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(o.Config, o.Root)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}
