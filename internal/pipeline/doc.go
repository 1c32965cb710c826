// Package pipeline models the per-test stage pipeline and the result store
// stages communicate through.
//
// A Template is the static, ordered list of stages a test family runs. Each
// stage names the stages it depends on; a stage that names nothing depends on
// the stage before it. The last stage of a template is the terminal stage:
// its status is the test's status.
//
// STORE CONTRACT:
//
// Stages never share mutable state directly. A running stage gets a Stage
// view that can:
//   - read committed outputs of its transitive predecessors (Get)
//   - buffer writes into its own namespace (Set)
//
// Writes are committed under the stage's name when the handler returns,
// stamped with a logical sequence number from the run clock. Reads of any
// stage outside the predecessor set fail with *AccessError, so the
// dependency edges of a template are exactly its read requirements.
//
// FAILURES:
//
// A handler that returns an error fails its stage with a *StageFailure.
// Dependents of a failed stage are never run; the scheduler marks them with a
// *DependencyFailure that carries the upstream root cause.
package pipeline
