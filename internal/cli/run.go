package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/roach88/kerncheck/internal/config"
	"github.com/roach88/kerncheck/internal/engine"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/harness"
	"github.com/roach88/kerncheck/internal/report"
	"github.com/roach88/kerncheck/internal/store"
	"github.com/roach88/kerncheck/internal/testdef"
)

// selectFlags are the test selection flags shared by run, list and plan.
type selectFlags struct {
	Functional bool
	System     bool
	Strict     bool
}

func (s *selectFlags) bind(fs *pflag.FlagSet) {
	fs.BoolVarP(&s.Functional, "functional", "f", false, "select functional tests")
	fs.BoolVarP(&s.System, "system", "s", false, "select system tests")
	fs.BoolVar(&s.Strict, "strict", false, "abort on the first invalid test definition")
}

// kinds returns the selected families; none means all.
func (s *selectFlags) kinds() []testdef.Kind {
	var out []testdef.Kind
	if s.Functional {
		out = append(out, testdef.Functional)
	}
	if s.System {
		out = append(out, testdef.System)
	}
	return out
}

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	selectFlags

	Changed       bool
	LeaveTemp     bool
	Compiler      string
	CompilerFlags string
	Jobs          int
	TmpDir        string
	KGen          string
	Database      string
	Report        string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [filters...]",
		Short: "Run kernel extraction tests",
		Long: `Discover the test tree and run the selected tests.

Filters select tests by relative path prefix, by ID, or by glob pattern.
Settings come from <root>/kerncheck.yaml (or --config); flags given on the
command line win.

Exit codes:
  0 - All selected tests passed
  1 - One or more tests failed
  2 - Command error (invalid flags, unreadable tree, scheduler fault)

Examples:
  kerncheck run
  kerncheck run -s --jobs 4
  kerncheck run kapp/func/ys/alloc_dealloc_opt
  kerncheck run --changed --db .kerncheck/history.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args, cmd)
		},
	}

	opts.selectFlags.bind(cmd.Flags())
	cmd.Flags().BoolVarP(&opts.Changed, "changed", "c", false, "only run tests changed or not passing since the last recorded run")
	cmd.Flags().BoolVarP(&opts.LeaveTemp, "leave-temp", "t", false, "keep per-test working directories")
	cmd.Flags().StringVar(&opts.Compiler, "compiler", testdef.DefaultCompiler, "Fortran compiler")
	cmd.Flags().StringVar(&opts.CompilerFlags, "compiler-flags", "", "Fortran compiler flags")
	cmd.Flags().IntVarP(&opts.Jobs, "jobs", "j", 1, "stages to run concurrently")
	cmd.Flags().StringVar(&opts.TmpDir, "tmpdir", "", "directory for working directories (default system temp)")
	cmd.Flags().StringVar(&opts.KGen, "kgen", extract.DefaultBinary, "extraction tool binary")
	cmd.Flags().StringVar(&opts.Database, "db", "", "run history database")
	cmd.Flags().StringVar(&opts.Report, "report", "", "also write the JSON report to this file")

	return cmd
}

// applyConfig fills every flag not set on the command line from cfg.
func (o *RunOptions) applyConfig(flags *pflag.FlagSet, cfg *config.Config) {
	if !flags.Changed("compiler") {
		o.Compiler = config.String(cfg.Compiler, o.Compiler)
	}
	if !flags.Changed("compiler-flags") {
		o.CompilerFlags = config.String(cfg.CompilerFlags, o.CompilerFlags)
	}
	if !flags.Changed("jobs") {
		o.Jobs = config.Int(cfg.Jobs, o.Jobs)
	}
	if !flags.Changed("tmpdir") && cfg.TmpDir != nil {
		o.TmpDir = cfg.Resolve(*cfg.TmpDir)
	}
	if !flags.Changed("kgen") {
		o.KGen = config.String(cfg.KGen, o.KGen)
	}
	if !flags.Changed("leave-temp") {
		o.LeaveTemp = config.Bool(cfg.LeaveTemp, o.LeaveTemp)
	}
	if !flags.Changed("db") && cfg.DB != nil {
		o.Database = cfg.Resolve(*cfg.DB)
	}
}

func runTests(opts *RunOptions, filters []string, cmd *cobra.Command) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	opts.applyConfig(cmd.Flags(), cfg)

	if opts.Jobs < 1 {
		return NewExitError(ExitCommandError, fmt.Sprintf("--jobs must be at least 1, got %d", opts.Jobs))
	}
	if opts.Changed && opts.Database == "" {
		return NewExitError(ExitCommandError, "--changed requires --db or db in "+config.FileName)
	}

	logger := opts.logger(cmd.ErrOrStderr())
	if cfg.Path != "" {
		logger.Debug("config loaded", "path", cfg.Path)
	}

	var history *store.Store
	if opts.Database != "" {
		history, err = store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open history database", err)
		}
		defer func() {
			if closeErr := history.Close(); closeErr != nil {
				logger.Error("error closing history database", "error", closeErr)
			}
		}()
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	out, err := harness.Run(ctx, harness.Options{
		Root:    opts.Root,
		Filters: filters,
		Kinds:   opts.kinds(),
		Changed: opts.Changed,
		Settings: testdef.Settings{
			Compiler:      opts.Compiler,
			CompilerFlags: opts.CompilerFlags,
			TmpDir:        opts.TmpDir,
			LeaveTemp:     opts.LeaveTemp,
		},
		Jobs:      opts.Jobs,
		Strict:    opts.Strict,
		KGen:      opts.KGen,
		Runner:    opts.RootOptions.Runner,
		Extractor: opts.RootOptions.Extractor,
		Registry:  opts.RootOptions.Registry,
		RunIDs:    opts.RootOptions.RunIDs,
		History:   history,
		Logger:    logger,
	})
	if err != nil {
		if engine.IsSchedulerError(err) {
			return WrapExitError(ExitCommandError, "scheduler error", err)
		}
		return WrapExitError(ExitCommandError, "run failed", err)
	}

	if opts.Report != "" {
		if err := writeReportFile(opts.Report, out.Summary); err != nil {
			return WrapExitError(ExitCommandError, "failed to write report", err)
		}
	}
	cerr := ctx.Err()
	if err := writeSummary(opts, cmd, out.Summary, cerr != nil); err != nil {
		return err
	}

	if cerr != nil {
		logger.Warn("run interrupted", slog.String("run_id", out.RunID))
		return WrapExitError(ExitFailure, "run interrupted", cerr)
	}
	if !out.Summary.AllPassed() {
		return NewExitError(ExitFailure, failedMessage(out.Summary))
	}
	return nil
}

func failedMessage(s *report.Summary) string {
	return fmt.Sprintf("%d of %d tests failed", s.Failed, s.Total)
}

func writeSummary(opts *RunOptions, cmd *cobra.Command, s *report.Summary, interrupted bool) error {
	f := opts.formatter(cmd)
	if !f.JSON() {
		return report.WriteText(f.Writer, s)
	}

	resp := CLIResponse{Status: "ok", Data: s, RunID: s.RunID}
	switch {
	case interrupted:
		resp.Status = "error"
		resp.Error = &CLIError{Code: CodeInterrupted, Message: "run interrupted"}
	case !s.AllPassed():
		resp.Status = "error"
		resp.Error = &CLIError{Code: CodeTestFailed, Message: failedMessage(s)}
	}
	return f.Encode(resp)
}

func writeReportFile(path string, s *report.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := report.WriteJSON(f, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
