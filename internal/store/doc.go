// Package store provides SQLite-backed run history for kerncheck.
//
// Every completed run is recorded with one row per test:
//   - Runs: run ID, logical sequence, start time, test root, counts
//   - Results: terminal status, message, failed stage and the definition
//     fingerprint of each test in the run
//
// The history answers two questions: which runs happened (the history
// command) and which tests changed since they last passed (--changed).
//
// # Ordering
//
//   - Runs are ordered by seq, assigned at write time, never by wall time.
//   - Queries order by seq, then test_id COLLATE BINARY, so listings are
//     identical across machines.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Fingerprints are computed by internal/fingerprint.
package store
