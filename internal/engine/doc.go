// Package engine schedules the task graph of a kerncheck run.
//
// Every (test, stage) pair becomes one Node. Node names are qualified as
// "<testID>:<stage>" and predecessors are explicit, so a Graph built from
// several tests is a forest of independent per-test DAGs.
//
// ARCHITECTURE:
//
// Single Coordinator:
// One goroutine owns all scheduling state. It keeps a ready set ordered by
// node insertion index, hands ready nodes to workers, and applies results as
// they come back. Workers only run actions.
//
//   - Jobs <= 1: actions run inline on the coordinator in canonical order.
//     Given the same graph the start order is identical on every run.
//   - Jobs > 1: up to Jobs actions run at once on an errgroup with a limit.
//
// Failure Propagation:
// A failed node never releases its dependents. They are marked Skipped with a
// *pipeline.DependencyFailure carrying the root cause. Nodes that do not
// depend on the failure keep running.
//
// Cancellation:
// Once the run context is done no new action starts. Ready nodes are failed
// with the cancellation reason and their dependents are skipped; in-flight
// actions observe the context themselves.
//
// Graph construction errors are *SchedulerError values. They are structural
// bugs, never per-test conditions.
package engine
