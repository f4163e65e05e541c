package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/verdict/internal/engine"
	"github.com/roach88/verdict/internal/status"
)

// noStatus is stored for runs that observed no status.
const noStatus = "NONE"

// timeLayout is fixed-width so started_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SaveOption configures SaveRun.
type SaveOption func(*saveOptions)

type saveOptions struct {
	suiteHash string
}

// WithSuiteHash records the fingerprint of the suite the run executed.
func WithSuiteHash(hash string) SaveOption {
	return func(o *saveOptions) { o.suiteHash = hash }
}

// SaveRun records a finished run under suite.
// Uses ON CONFLICT(run_id) DO NOTHING for idempotency: saving a run ID twice
// keeps the first record and its children.
func (s *Store) SaveRun(ctx context.Context, suite string, res *engine.Result, opts ...SaveOption) (err error) {
	if res == nil {
		return fmt.Errorf("save run: nil result")
	}
	o := &saveOptions{}
	for _, opt := range opts {
		opt(o)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save run: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	inserted, err := insertRun(ctx, tx, suite, o.suiteHash, res)
	if err != nil {
		return err
	}
	if inserted {
		if err := insertStatistics(ctx, tx, res); err != nil {
			return err
		}
		if err := insertFailures(ctx, tx, res); err != nil {
			return err
		}
		if err := insertSkippedBatches(ctx, tx, res); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save run: commit: %w", err)
	}
	return nil
}

func insertRun(ctx context.Context, tx *sql.Tx, suite, suiteHash string, res *engine.Result) (bool, error) {
	st := noStatus
	if res.Observed {
		st = res.Status.String()
	}
	r, err := tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, suite, suite_hash, started_at, duration_ms, status, exit_code)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO NOTHING
	`,
		res.RunID,
		suite,
		suiteHash,
		res.StartedAt.UTC().Format(timeLayout),
		res.Duration.Milliseconds(),
		st,
		int(res.ExitCode),
	)
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	n, err := r.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("write run: %w", err)
	}
	return n == 1, nil
}

func insertStatistics(ctx context.Context, tx *sql.Tx, res *engine.Result) error {
	for level, snap := range res.Statistics {
		for _, st := range status.All {
			n := snap.Count(st)
			if n == 0 {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO level_statistics (run_id, level, status, count)
				VALUES (?, ?, ?, ?)
			`, res.RunID, level, st.String(), n); err != nil {
				return fmt.Errorf("write statistics %s/%s: %w", level, st, err)
			}
		}
	}
	return nil
}

func insertFailures(ctx context.Context, tx *sql.Tx, res *engine.Result) error {
	for i, f := range res.Failures {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO failures (run_id, seq, story, message)
			VALUES (?, ?, ?, ?)
		`, res.RunID, i+1, f.Story, f.Message); err != nil {
			return fmt.Errorf("write failure %d: %w", i+1, err)
		}
	}
	return nil
}

func insertSkippedBatches(ctx context.Context, tx *sql.Tx, res *engine.Result) error {
	for i, id := range res.SkippedBatches {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO skipped_batches (run_id, seq, batch_id)
			VALUES (?, ?, ?)
		`, res.RunID, i+1, id); err != nil {
			return fmt.Errorf("write skipped batch %q: %w", id, err)
		}
	}
	return nil
}

// DeleteRun removes a run and its child rows. Deleting an unknown run ID is
// not an error.
func (s *Store) DeleteRun(ctx context.Context, runID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}
