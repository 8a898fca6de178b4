package drawings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

const drawingColumns = `id, user_id, filename, filepath, drawn_date, title, file_ext, analysis_text, analysis_json, analyzed_at, created_at`

// archiveOrder keeps listings stable: dated drawings chronologically,
// undated ones last, filename as tiebreak.
const archiveOrder = `ORDER BY drawn_date ASC NULLS LAST, filename ASC`

// Create inserts a new drawing.
func (r *PGRepo) Create(ctx context.Context, d Drawing) error {
	const query = `
INSERT INTO drawings (id, user_id, filename, filepath, drawn_date, title, file_ext, analysis_text, analysis_json, analyzed_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	rawJSON, err := marshalAnalysis(d.AnalysisJSON)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, query,
		d.ID,
		d.UserID,
		d.Filename,
		d.Filepath,
		d.DrawnDate,
		d.Title,
		d.FileExt,
		d.AnalysisText,
		rawJSON,
		d.AnalyzedAt,
		d.CreatedAt,
	)
	return err
}

// GetByID returns a drawing by ID.
func (r *PGRepo) GetByID(ctx context.Context, id string) (Drawing, error) {
	query := `SELECT ` + drawingColumns + ` FROM drawings WHERE id = $1`
	row := r.DB.QueryRowContext(ctx, query, id)
	d, err := scanDrawing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Drawing{}, ErrNotFound
	}
	return d, err
}

// ListByUser returns every drawing owned by the user in archive order.
func (r *PGRepo) ListByUser(ctx context.Context, userID string) ([]Drawing, error) {
	query := `SELECT ` + drawingColumns + ` FROM drawings WHERE user_id = $1 ` + archiveOrder
	return r.queryDrawings(ctx, query, userID)
}

// ListUnanalyzed returns drawings the analysis pipeline still has to visit.
func (r *PGRepo) ListUnanalyzed(ctx context.Context, userID string) ([]Drawing, error) {
	query := `SELECT ` + drawingColumns + ` FROM drawings WHERE user_id = $1 AND analyzed_at IS NULL ` + archiveOrder
	return r.queryDrawings(ctx, query, userID)
}

// ListAnalyzed returns drawings that produced analysis text, the input set
// for lens discovery and annotation.
func (r *PGRepo) ListAnalyzed(ctx context.Context, userID string) ([]Drawing, error) {
	query := `SELECT ` + drawingColumns + ` FROM drawings WHERE user_id = $1 AND analysis_text IS NOT NULL ` + archiveOrder
	return r.queryDrawings(ctx, query, userID)
}

// CountByUser returns the number of drawings owned by the user.
func (r *PGRepo) CountByUser(ctx context.Context, userID string) (int, error) {
	const query = `SELECT COUNT(*) FROM drawings WHERE user_id = $1`
	var n int
	err := r.DB.QueryRowContext(ctx, query, userID).Scan(&n)
	return n, err
}

// MarkAnalyzed stores the analysis result for a drawing.
func (r *PGRepo) MarkAnalyzed(ctx context.Context, id string, text *string, raw map[string]any, at time.Time) error {
	const query = `
UPDATE drawings
SET analysis_text = $2, analysis_json = $3, analyzed_at = $4
WHERE id = $1`
	rawJSON, err := marshalAnalysis(raw)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, query, id, text, rawJSON, at)
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

func (r *PGRepo) queryDrawings(ctx context.Context, query string, args ...any) ([]Drawing, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Drawing
	for rows.Next() {
		d, err := scanDrawing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDrawing(row rowScanner) (Drawing, error) {
	var (
		d       Drawing
		rawJSON []byte
	)
	err := row.Scan(
		&d.ID,
		&d.UserID,
		&d.Filename,
		&d.Filepath,
		&d.DrawnDate,
		&d.Title,
		&d.FileExt,
		&d.AnalysisText,
		&rawJSON,
		&d.AnalyzedAt,
		&d.CreatedAt,
	)
	if err != nil {
		return Drawing{}, err
	}
	if len(rawJSON) > 0 {
		if err := json.Unmarshal(rawJSON, &d.AnalysisJSON); err != nil {
			return Drawing{}, fmt.Errorf("decode analysis_json for drawing %s: %w", d.ID, err)
		}
	}
	return d, nil
}

func marshalAnalysis(raw map[string]any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("encode analysis_json: %w", err)
	}
	return b, nil
}
