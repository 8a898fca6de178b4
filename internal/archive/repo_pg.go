package archive

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"archive-backend/internal/shared/storage/db"
)

// PGRepo implements Repo using Postgres. The single-active-run rule is
// enforced by a partial unique index on (user_id) over pending and running
// rows, so concurrent triggers race safely at the database.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const runColumns = `id, user_id, status, phase, total_drawings, analyzed_count, error_message, model_used, started_at, completed_at`

// CreatePending inserts a new pending run.
func (r *PGRepo) CreatePending(ctx context.Context, run Run) error {
	const query = `
INSERT INTO archive_runs (id, user_id, status, phase, total_drawings, analyzed_count, model_used, started_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	_, err := r.DB.ExecContext(ctx, query,
		run.ID,
		run.UserID,
		StatusPending,
		run.Phase,
		run.TotalDrawings,
		run.AnalyzedCount,
		run.ModelUsed,
		run.StartedAt,
	)
	if db.IsUniqueViolation(err) {
		return ErrRunActive
	}
	return err
}

// GetByID returns a run by ID.
func (r *PGRepo) GetByID(ctx context.Context, runID string) (Run, error) {
	query := `SELECT ` + runColumns + ` FROM archive_runs WHERE id = $1`
	return r.scanRun(r.DB.QueryRowContext(ctx, query, runID))
}

// GetLatestForUser returns the user's most recently started run.
func (r *PGRepo) GetLatestForUser(ctx context.Context, userID string) (Run, error) {
	query := `
SELECT ` + runColumns + `
FROM archive_runs
WHERE user_id = $1
ORDER BY started_at DESC
LIMIT 1`
	return r.scanRun(r.DB.QueryRowContext(ctx, query, userID))
}

// Start flips a pending run to running.
func (r *PGRepo) Start(ctx context.Context, runID string, total int) error {
	const query = `
UPDATE archive_runs
SET status = $2, phase = $3, total_drawings = $4
WHERE id = $1`
	return r.exec(ctx, query, runID, StatusRunning, PhaseBatchAnalysis, total)
}

// SetPhase records the current pipeline phase.
func (r *PGRepo) SetPhase(ctx context.Context, runID, phase string) error {
	const query = `UPDATE archive_runs SET phase = $2 WHERE id = $1`
	return r.exec(ctx, query, runID, phase)
}

// SetAnalyzedCount records progress through phase one.
func (r *PGRepo) SetAnalyzedCount(ctx context.Context, runID string, count int) error {
	const query = `UPDATE archive_runs SET analyzed_count = $2 WHERE id = $1`
	return r.exec(ctx, query, runID, count)
}

// Complete marks the run finished.
func (r *PGRepo) Complete(ctx context.Context, runID string) error {
	const query = `
UPDATE archive_runs
SET status = $2, phase = $3, completed_at = $4
WHERE id = $1`
	return r.exec(ctx, query, runID, StatusComplete, PhaseDone, time.Now().UTC())
}

// Fail marks the run failed with a stored error message.
func (r *PGRepo) Fail(ctx context.Context, runID, message string) error {
	const query = `
UPDATE archive_runs
SET status = $2, error_message = $3, completed_at = $4
WHERE id = $1`
	return r.exec(ctx, query, runID, StatusFailed, message, time.Now().UTC())
}

func (r *PGRepo) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepo) scanRun(row *sql.Row) (Run, error) {
	var run Run
	err := row.Scan(
		&run.ID,
		&run.UserID,
		&run.Status,
		&run.Phase,
		&run.TotalDrawings,
		&run.AnalyzedCount,
		&run.ErrorMessage,
		&run.ModelUsed,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, ErrNotFound
		}
		return Run{}, err
	}
	return run, nil
}
