package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/kerncheck/internal/invocation"
)

// InvocationOptions holds flags for the invocation command.
type InvocationOptions struct {
	*RootOptions
	Kernel string
	Repeat int
	MPI    bool
	OpenMP bool
}

// InvocationResult is the invocation command's JSON payload.
type InvocationResult struct {
	Descriptor string               `json:"descriptor"`
	Triples    []invocation.Triple `json:"triples"`
	StateFiles []string             `json:"state_files"`
	ToolArgs   []string             `json:"tool_args"`
}

// NewInvocationCommand creates the invocation command.
func NewInvocationCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvocationOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invocation <descriptor>",
		Short: "Check an invocation descriptor",
		Long: `Parse an invocation descriptor and show the state files it selects.

A descriptor is a comma-separated list of outer:inner:invocation triples,
each part a single integer or an inclusive lo-hi range.

Examples:
  kerncheck invocation 0-1:0-1:1,0-1:2-3:3 --kernel calc
  kerncheck invocation 100:0-1:10 --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return showInvocation(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Kernel, "kernel", "kernel", "kernel name used in state-file names")
	cmd.Flags().IntVar(&opts.Repeat, "repeat", 1, "timing repetitions")
	cmd.Flags().BoolVar(&opts.MPI, "mpi", false, "enable MPI")
	cmd.Flags().BoolVar(&opts.OpenMP, "openmp", false, "enable OpenMP")

	return cmd
}

func showInvocation(opts *InvocationOptions, descriptor string, cmd *cobra.Command) error {
	spec, err := invocation.New(invocation.Options{
		Descriptor: descriptor,
		Repeat:     opts.Repeat,
		MPI:        invocation.MPI{Enabled: opts.MPI},
		OpenMP:     invocation.OpenMP{Enabled: opts.OpenMP},
	})
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid invocation", err)
	}

	result := InvocationResult{
		Descriptor: spec.Descriptor(),
		Triples:    spec.Triples(),
		StateFiles: spec.StateFiles(opts.Kernel),
		ToolArgs:   spec.ToolArgs(),
	}

	f := opts.formatter(cmd)
	if f.JSON() {
		return f.Success(result)
	}

	w := f.Writer
	fmt.Fprintf(w, "descriptor: %s\n", result.Descriptor)
	for i, t := range result.Triples {
		fmt.Fprintf(w, "entry %d: outer %s, inner %s, invocation %s\n", i+1, t.Outer, t.Inner, t.Selector)
	}
	fmt.Fprintf(w, "state files (%d):\n", len(result.StateFiles))
	for _, name := range result.StateFiles {
		fmt.Fprintf(w, "  %s\n", name)
	}
	f.VerboseLog("tool args: %v", result.ToolArgs)
	return nil
}
