package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/kerncheck/internal/config"
	"github.com/roach88/kerncheck/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `List recorded runs, newest first, or show the results of one run.

Examples:
  kerncheck history --db .kerncheck/history.db
  kerncheck history --db .kerncheck/history.db --limit 5
  kerncheck history --db .kerncheck/history.db 0192f0c4-...`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showHistory(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "run history database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of runs to list (0 for all)")

	return cmd
}

func showHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	if !cmd.Flags().Changed("db") {
		cfg, err := opts.loadConfig()
		if err != nil {
			return err
		}
		if cfg.DB != nil {
			opts.Database = cfg.Resolve(*cfg.DB)
		}
	}
	if opts.Database == "" {
		return NewExitError(ExitCommandError, "history requires --db or db in "+config.FileName)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open history database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := opts.formatter(cmd)

	if len(args) == 1 {
		return showRun(ctx, f, st, args[0])
	}

	runs, err := st.ListRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if f.JSON() {
		return f.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(f.Writer, "No runs recorded.")
		return nil
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tRUN\tSTARTED\tTOTAL\tPASSED\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n",
			r.Seq, r.ID, r.StartedAt.Local().Format(time.DateTime), r.Total, r.Passed, r.Failed)
	}
	return tw.Flush()
}

func showRun(ctx context.Context, f *OutputFormatter, st *store.Store, runID string) error {
	records, err := st.ReadResults(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read history", err)
	}
	if len(records) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no results recorded for run %s", runID))
	}

	if f.JSON() {
		return f.Encode(CLIResponse{Status: "ok", Data: records, RunID: runID})
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tSTATUS\tTEST\tSTAGE\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Seq, r.Status, r.TestID, r.FailedStage, firstLine(r.Message))
	}
	return tw.Flush()
}

func firstLine(s string) string {
	for i, c := range s {
		if c == '\n' {
			return s[:i]
		}
	}
	return s
}
