package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/kerncheck/internal/engine"
	"github.com/roach88/kerncheck/internal/harness"
)

// PlanOptions holds flags for the plan command.
type PlanOptions struct {
	*RootOptions
	selectFlags
}

// PlannedNode is one task of the graph.
type PlannedNode struct {
	Name  string   `json:"name"`
	Test  string   `json:"test"`
	Stage string   `json:"stage"`
	After []string `json:"after,omitempty"`
}

// NewPlanCommand creates the plan command.
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PlanOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "plan [filters...]",
		Short: "Show the task graph without running it",
		Long: `Discover the selected tests and print the task graph a run would
execute, one "<test>:<stage>" task per line in serial execution order,
followed by the tasks it waits for.

Examples:
  kerncheck plan
  kerncheck plan -s --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return planTests(opts, args, cmd)
		},
	}

	opts.selectFlags.bind(cmd.Flags())
	return cmd
}

func planTests(opts *PlanOptions, filters []string, cmd *cobra.Command) error {
	sel, err := selectTests(cmd, opts.RootOptions, opts.selectFlags, filters)
	if err != nil {
		return err
	}

	f := opts.formatter(cmd)
	if len(sel.Tests) == 0 {
		if f.JSON() {
			return f.Success([]PlannedNode{})
		}
		fmt.Fprintln(f.Writer, "No tests selected.")
		return nil
	}

	g, err := harness.Graph(sel.Tests, nil)
	if err != nil {
		return WrapExitError(ExitCommandError, "scheduler error", err)
	}
	nodes := plannedNodes(g)

	if f.JSON() {
		return f.Success(nodes)
	}
	for _, n := range nodes {
		if len(n.After) == 0 {
			fmt.Fprintln(f.Writer, n.Name)
			continue
		}
		fmt.Fprintf(f.Writer, "%s <- %s\n", n.Name, strings.Join(n.After, ", "))
	}
	return nil
}

func plannedNodes(g *engine.Graph) []PlannedNode {
	order := g.TopologicalOrder()
	out := make([]PlannedNode, 0, len(order))
	for _, name := range order {
		n, _ := g.Node(name)
		out = append(out, PlannedNode{Name: n.Name, Test: n.Test, Stage: n.Stage, After: n.Preds})
	}
	return out
}
