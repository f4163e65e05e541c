package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/verdict/internal/status"
	"github.com/roach88/verdict/internal/tree"
)

// ErrRunNotFound is returned by GetRun for an unknown run ID.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one stored run.
type RunRecord struct {
	RunID     string        `json:"run_id"`
	Suite     string        `json:"suite"`
	SuiteHash string        `json:"suite_hash,omitempty"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	// Status is the worst observed status; Observed is false when the run
	// observed nothing.
	Status   status.Status   `json:"status"`
	Observed bool            `json:"observed"`
	ExitCode status.ExitCode `json:"exit_code"`
}

// StatusName returns the status name, or NONE for a run that observed nothing.
func (r RunRecord) StatusName() string {
	if !r.Observed {
		return noStatus
	}
	return r.Status.String()
}

const runColumns = `run_id, suite, suite_hash, started_at, duration_ms, status, exit_code`

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
//
// Returns an empty slice (not nil) if no runs are stored.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// GetRun returns one run. Returns ErrRunNotFound if runID is not stored.
func (s *Store) GetRun(ctx context.Context, runID string) (RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (RunRecord, error) {
	var (
		r          RunRecord
		startedAt  string
		durationMS int64
		statusName string
		exitCode   int
	)
	if err := sc.Scan(&r.RunID, &r.Suite, &r.SuiteHash, &startedAt, &durationMS, &statusName, &exitCode); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, err
		}
		return RunRecord{}, fmt.Errorf("scan run: %w", err)
	}

	t, err := time.Parse(timeLayout, startedAt)
	if err != nil {
		return RunRecord{}, fmt.Errorf("run %s: started_at: %w", r.RunID, err)
	}
	r.StartedAt = t
	r.Duration = time.Duration(durationMS) * time.Millisecond
	r.ExitCode = status.ExitCode(exitCode)

	if statusName != noStatus {
		st, err := status.Parse(statusName)
		if err != nil {
			return RunRecord{}, fmt.Errorf("run %s: %w", r.RunID, err)
		}
		r.Status, r.Observed = st, true
	} else {
		r.Status = status.NotCovered
	}
	return r, nil
}

// LoadStatistics rebuilds the level statistics of a run. Every level is
// present, with zero counters where nothing was stored.
func (s *Store) LoadStatistics(ctx context.Context, runID string) (tree.StatisticsSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT level, status, count
		FROM level_statistics
		WHERE run_id = ?
		ORDER BY level, status
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query statistics: %w", err)
	}
	defer rows.Close()

	out := make(tree.StatisticsSnapshot, len(tree.Levels))
	for _, l := range tree.Levels {
		out[l.String()] = tree.LevelSnapshot{}
	}
	for rows.Next() {
		var (
			level, name string
			count       int64
		)
		if err := rows.Scan(&level, &name, &count); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		st, err := status.Parse(name)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", runID, err)
		}
		snap := out[level]
		snap.Add(st, count)
		out[level] = snap
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statistics: %w", err)
	}
	return out, nil
}

// LoadFailures returns the failures of a run in collection order.
func (s *Store) LoadFailures(ctx context.Context, runID string) ([]tree.Failure, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT story, message
		FROM failures
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	failures := []tree.Failure{}
	for rows.Next() {
		var f tree.Failure
		if err := rows.Scan(&f.Story, &f.Message); err != nil {
			return nil, fmt.Errorf("scan failure: %w", err)
		}
		failures = append(failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failures: %w", err)
	}
	return failures, nil
}

// LoadSkippedBatches returns the batches a run skipped, in order.
func (s *Store) LoadSkippedBatches(ctx context.Context, runID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch_id
		FROM skipped_batches
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query skipped batches: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan skipped batch: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate skipped batches: %w", err)
	}
	return ids, nil
}

// RunsOfSuite returns the runs recorded for a suite fingerprint, newest first.
func (s *Store) RunsOfSuite(ctx context.Context, suiteHash string) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		WHERE suite_hash = ?
		ORDER BY started_at DESC, run_id DESC
	`, suiteHash)
	if err != nil {
		return nil, fmt.Errorf("query runs of suite: %w", err)
	}
	defer rows.Close()

	runs := []RunRecord{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs of suite: %w", err)
	}
	return runs, nil
}
