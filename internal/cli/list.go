package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/kerncheck/internal/harness"
	"github.com/roach88/kerncheck/internal/report"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	selectFlags
}

// ListedTest is one discovered test.
type ListedTest struct {
	Seq  int    `json:"seq"`
	ID   string `json:"id"`
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// ListResult is the list command's JSON payload.
type ListResult struct {
	Tests   []ListedTest     `json:"tests"`
	Skipped []report.Skipped `json:"skipped,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list [filters...]",
		Short: "List discovered tests",
		Long: `Discover the test tree and list the selected tests in run order.

Definitions that could not be instantiated are listed as skipped.

Examples:
  kerncheck list
  kerncheck list -f
  kerncheck list 'kapp/sys/*'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listTests(opts, args, cmd)
		},
	}

	opts.selectFlags.bind(cmd.Flags())
	return cmd
}

// selectTests discovers the tree for commands that do not run anything.
func selectTests(cmd *cobra.Command, root *RootOptions, sel selectFlags, filters []string) (*harness.Selection, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	selection, err := harness.Select(ctx, harness.Options{
		Root:      root.Root,
		Filters:   filters,
		Kinds:     sel.kinds(),
		Strict:    sel.Strict,
		Registry:  root.Registry,
		Runner:    root.Runner,
		Extractor: root.Extractor,
		Logger:    root.logger(cmd.ErrOrStderr()),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "discovery failed", err)
	}
	return selection, nil
}

func listTests(opts *ListOptions, filters []string, cmd *cobra.Command) error {
	sel, err := selectTests(cmd, opts.RootOptions, opts.selectFlags, filters)
	if err != nil {
		return err
	}

	result := ListResult{Tests: make([]ListedTest, 0, len(sel.Tests)), Skipped: sel.SkippedReport()}
	for _, def := range sel.Tests {
		b := def.Common()
		result.Tests = append(result.Tests, ListedTest{Seq: b.Seq, ID: b.ID, Kind: string(def.Kind()), Path: b.RelPath})
	}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(result)
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 4, 2, ' ', 0)
	for _, t := range result.Tests {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", t.Seq, t.Kind, t.ID)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	for _, s := range result.Skipped {
		fmt.Fprintf(f.Writer, "SKIPPED %s: %s\n", s.Path, s.Reason)
	}
	fmt.Fprintf(f.Writer, "%d tests selected, %d skipped\n", len(result.Tests), len(result.Skipped))
	return nil
}
