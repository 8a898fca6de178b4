package lenses

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PGRepo implements Repo using Postgres.
type PGRepo struct {
	DB *sql.DB
}

var _ Repo = (*PGRepo)(nil)

// CreateOrGet inserts the lens or resolves an existing one by (user_id, name).
func (r *PGRepo) CreateOrGet(ctx context.Context, lens Lens) (string, error) {
	const insert = `
INSERT INTO lenses (id, user_id, run_id, name, description, sort_order, raw_output, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (user_id, name) DO NOTHING`
	res, err := r.DB.ExecContext(ctx, insert,
		lens.ID,
		lens.UserID,
		lens.RunID,
		lens.Name,
		lens.Description,
		lens.SortOrder,
		lens.RawOutput,
		lens.CreatedAt,
	)
	if err != nil {
		return "", err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", err
	}
	if affected > 0 {
		return lens.ID, nil
	}

	const lookup = `SELECT id FROM lenses WHERE user_id = $1 AND name = $2`
	var existing string
	if err := r.DB.QueryRowContext(ctx, lookup, lens.UserID, lens.Name).Scan(&existing); err != nil {
		return "", err
	}
	return existing, nil
}

// GetByID returns a lens scoped to its owner.
func (r *PGRepo) GetByID(ctx context.Context, lensID, userID string) (Lens, error) {
	const query = `
SELECT id, user_id, run_id, name, description, sort_order, raw_output, created_at
FROM lenses
WHERE id = $1 AND user_id = $2`
	var l Lens
	err := r.DB.QueryRowContext(ctx, query, lensID, userID).Scan(
		&l.ID,
		&l.UserID,
		&l.RunID,
		&l.Name,
		&l.Description,
		&l.SortOrder,
		&l.RawOutput,
		&l.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lens{}, ErrNotFound
		}
		return Lens{}, err
	}
	return l, nil
}

// ListByUser returns lenses with link aggregates.
func (r *PGRepo) ListByUser(ctx context.Context, userID string, threshold float64) ([]Lens, error) {
	const query = `
SELECT l.id, l.user_id, l.run_id, l.name, l.description, l.sort_order, l.raw_output, l.created_at,
       COUNT(k.drawing_id) AS drawing_count,
       COUNT(k.drawing_id) FILTER (WHERE k.relevance_score >= $2) AS relevant_count
FROM lenses l
LEFT JOIN lens_drawing_links k ON k.lens_id = l.id
WHERE l.user_id = $1
GROUP BY l.id
ORDER BY l.sort_order ASC, l.name ASC`
	rows, err := r.DB.QueryContext(ctx, query, userID, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lens
	for rows.Next() {
		var l Lens
		err := rows.Scan(
			&l.ID,
			&l.UserID,
			&l.RunID,
			&l.Name,
			&l.Description,
			&l.SortOrder,
			&l.RawOutput,
			&l.CreatedAt,
			&l.DrawingCount,
			&l.RelevantCount,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// CreateLink records a relevance score for a lens/drawing pair.
func (r *PGRepo) CreateLink(ctx context.Context, link Link, overwrite bool) error {
	query := `
INSERT INTO lens_drawing_links (lens_id, drawing_id, relevance_score)
VALUES ($1, $2, $3)
ON CONFLICT (lens_id, drawing_id) DO NOTHING`
	if overwrite {
		query = `
INSERT INTO lens_drawing_links (lens_id, drawing_id, relevance_score)
VALUES ($1, $2, $3)
ON CONFLICT (lens_id, drawing_id) DO UPDATE SET relevance_score = EXCLUDED.relevance_score`
	}
	_, err := r.DB.ExecContext(ctx, query, link.LensID, link.DrawingID, link.RelevanceScore)
	return err
}

const lensDrawingColumns = `
d.id, d.user_id, d.filename, d.filepath, d.drawn_date, d.title, d.file_ext,
d.analysis_text, d.analyzed_at, d.created_at,
k.relevance_score, k.annotation, k.annotation_generated_at`

// ListDrawingsForLens returns linked drawings at or above threshold.
func (r *PGRepo) ListDrawingsForLens(ctx context.Context, lensID string, threshold float64) ([]LensDrawing, error) {
	query := `
SELECT ` + lensDrawingColumns + `
FROM lens_drawing_links k
JOIN drawings d ON d.id = k.drawing_id
WHERE k.lens_id = $1 AND k.relevance_score >= $2
ORDER BY d.drawn_date ASC NULLS LAST, d.filename ASC`
	return r.queryLensDrawings(ctx, query, lensID, threshold)
}

// ListPendingAnnotation returns relevant drawings still awaiting annotation.
func (r *PGRepo) ListPendingAnnotation(ctx context.Context, lensID string, threshold float64) ([]LensDrawing, error) {
	query := `
SELECT ` + lensDrawingColumns + `
FROM lens_drawing_links k
JOIN drawings d ON d.id = k.drawing_id
WHERE k.lens_id = $1 AND k.relevance_score >= $2
  AND k.annotation IS NULL AND d.analysis_text IS NOT NULL
ORDER BY d.drawn_date ASC NULLS LAST, d.filename ASC`
	return r.queryLensDrawings(ctx, query, lensID, threshold)
}

// AnnotationCounts reports annotation progress for a lens. Only drawings with
// analysis text count toward the total, matching what annotation can reach.
func (r *PGRepo) AnnotationCounts(ctx context.Context, lensID string, threshold float64) (AnnotationProgress, error) {
	const query = `
SELECT COUNT(*) AS total,
       COUNT(*) FILTER (WHERE k.annotation IS NOT NULL) AS ready
FROM lens_drawing_links k
JOIN drawings d ON d.id = k.drawing_id
WHERE k.lens_id = $1 AND k.relevance_score >= $2 AND d.analysis_text IS NOT NULL`
	var p AnnotationProgress
	err := r.DB.QueryRowContext(ctx, query, lensID, threshold).Scan(&p.Total, &p.Ready)
	return p, err
}

// SetAnnotation stores a generated annotation on a link.
func (r *PGRepo) SetAnnotation(ctx context.Context, lensID, drawingID, text string, at time.Time) error {
	const query = `
UPDATE lens_drawing_links
SET annotation = $3, annotation_generated_at = $4
WHERE lens_id = $1 AND drawing_id = $2`
	_, err := r.DB.ExecContext(ctx, query, lensID, drawingID, text, at)
	return err
}

func (r *PGRepo) queryLensDrawings(ctx context.Context, query string, args ...any) ([]LensDrawing, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LensDrawing
	for rows.Next() {
		var ld LensDrawing
		err := rows.Scan(
			&ld.ID,
			&ld.UserID,
			&ld.Filename,
			&ld.Filepath,
			&ld.DrawnDate,
			&ld.Title,
			&ld.FileExt,
			&ld.AnalysisText,
			&ld.AnalyzedAt,
			&ld.CreatedAt,
			&ld.RelevanceScore,
			&ld.Annotation,
			&ld.AnnotationGeneratedAt,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, ld)
	}
	return out, rows.Err()
}
