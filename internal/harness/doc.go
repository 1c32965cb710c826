// Package harness runs a kerncheck test tree.
//
// A run discovers test definitions under the root, narrows them by filter,
// family and history, and expands every selected test's stage template into
// one task graph:
//
//	<testID>:mkdir → <testID>:download → ... → <testID>:verify
//
// Each test gets its own result store; the scheduler runs the graph and the
// terminal stage's state becomes the test's status. Failed stages skip their
// dependents inside the same test only, so one broken build never touches
// the rest of the tree.
//
// # Usage
//
//	out, err := harness.Run(ctx, harness.Options{
//	    Root:     "suite",
//	    Settings: testdef.Settings{Compiler: "ifort"},
//	    Jobs:     4,
//	})
//	if err != nil {
//	    return err // discovery or scheduler fault
//	}
//	report.WriteText(os.Stdout, out.Summary)
//
// Runs are recorded in the history store when Options.History is set, which
// also enables the changed-only selection.
package harness
