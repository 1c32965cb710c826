// Package invocation parses and validates kernel invocation descriptors.
//
// An invocation descriptor selects which calls of the target routine are
// instrumented and have their state captured. It is a comma-separated list
// of entries, each entry a colon-separated triple of integer ranges:
//
//	0-1:0-1:1,0-1:2-3:3
//	100:0-1:10
//
// The first range selects the outer index (for MPI runs, the rank), the
// second the inner index (the OpenMP thread), and the third the invocation
// number of the routine. A range is either a single non-negative integer or
// a hyphenated inclusive pair.
//
// # Strictness
//
// A descriptor that instruments the wrong calls produces verification
// results that look valid but are not, so the parser rejects anything that
// is not exactly in the grammar: whitespace, signs, empty entries, reversed
// ranges and out-of-range integers are all errors. Every error is a
// *ParseError naming the offending token.
//
// # Spec
//
// Parsed triples are combined with the remaining extraction options (repeat
// count, MPI and OpenMP settings, prerun commands, kernel compile option)
// into an immutable Spec via New. The Spec is handed to the extraction tool
// unchanged and is also used to derive the expected state-file names.
package invocation
