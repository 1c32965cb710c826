package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/kerncheck/internal/pipeline"
)

// ErrRunExists is returned when a run ID is written twice.
var ErrRunExists = errors.New("run already recorded")

// Run is one recorded kerncheck run.
type Run struct {
	ID string `json:"id"`
	// Seq orders runs; it is assigned by WriteRun.
	Seq       int64     `json:"seq"`
	StartedAt time.Time `json:"started_at"`
	Root      string    `json:"root"`
	Total     int       `json:"total"`
	Passed    int       `json:"passed"`
	Failed    int       `json:"failed"`
}

// Record is the outcome of one test within a run.
type Record struct {
	RunID       string          `json:"run_id"`
	TestID      string          `json:"test_id"`
	Seq         int             `json:"seq"`
	Kind        string          `json:"kind"`
	Status      pipeline.Status `json:"status"`
	Message     string          `json:"message,omitempty"`
	FailedStage string          `json:"failed_stage,omitempty"`
	Fingerprint string          `json:"fingerprint"`
}

// WriteRun records a run and its results in one transaction and returns the
// run's assigned sequence. Records' RunID fields are ignored.
func (s *Store) WriteRun(ctx context.Context, run Run, records []Record) (int64, error) {
	if run.ID == "" {
		return 0, errors.New("write run: run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("write run: begin: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM runs`).Scan(&seq); err != nil {
		return 0, fmt.Errorf("write run: next seq: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, seq, started_at, root, total, passed, failed)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		seq,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.Root,
		run.Total,
		run.Passed,
		run.Failed,
	)
	if err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return 0, fmt.Errorf("write run: %w", err)
	} else if n == 0 {
		return 0, fmt.Errorf("write run %s: %w", run.ID, ErrRunExists)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (run_id, test_id, seq, kind, status, message, failed_stage, fingerprint)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("write run: prepare results: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if !r.Status.Valid() {
			return 0, fmt.Errorf("write run: test %s: invalid status %q", r.TestID, r.Status)
		}
		if _, err := stmt.ExecContext(ctx,
			run.ID, r.TestID, r.Seq, r.Kind, string(r.Status), r.Message, r.FailedStage, r.Fingerprint,
		); err != nil {
			return 0, fmt.Errorf("write run: test %s: %w", r.TestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("write run: commit: %w", err)
	}
	return seq, nil
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, started_at, root, total, passed, failed
		FROM runs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		var r Run
		var started string
		if err := rows.Scan(&r.ID, &r.Seq, &started, &r.Root, &r.Total, &r.Passed, &r.Failed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadResults returns the records of one run in test sequence order.
func (s *Store) ReadResults(ctx context.Context, runID string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, test_id, seq, kind, status, message, failed_stage, fingerprint
		FROM results
		WHERE run_id = ?
		ORDER BY seq ASC, test_id COLLATE BINARY ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	return scanRecords(rows)
}

// LatestRecords returns, for every test ever recorded, its record from the
// most recent run that included it.
func (s *Store) LatestRecords(ctx context.Context) (map[string]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.run_id, r.test_id, r.seq, r.kind, r.status, r.message, r.failed_stage, r.fingerprint
		FROM results r
		JOIN runs u ON u.id = r.run_id
		WHERE u.seq = (
			SELECT MAX(u2.seq)
			FROM results r2
			JOIN runs u2 ON u2.id = r2.run_id
			WHERE r2.test_id = r.test_id
		)
		ORDER BY r.test_id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query latest results: %w", err)
	}
	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	latest := make(map[string]Record, len(records))
	for _, r := range records {
		latest[r.TestID] = r
	}
	return latest, nil
}

// Changed reports whether a test must run under --changed: it has no
// record, its definition fingerprint differs from the recorded one, or its
// last recorded status is not PASSED.
func Changed(latest map[string]Record, testID, fingerprint string) bool {
	r, ok := latest[testID]
	if !ok {
		return true
	}
	return r.Fingerprint != fingerprint || r.Status != pipeline.StatusPassed
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var r Record
		var status string
		if err := rows.Scan(&r.RunID, &r.TestID, &r.Seq, &r.Kind, &status, &r.Message, &r.FailedStage, &r.Fingerprint); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		r.Status = pipeline.Status(status)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return records, nil
}
