package lenses

import (
	"context"
	"time"

	"archive-backend/internal/drawings"
)

// LensDrawing is a drawing joined with its link metadata for one lens.
type LensDrawing struct {
	drawings.Drawing
	RelevanceScore        float64    `json:"relevanceScore"`
	Annotation            *string    `json:"annotation,omitempty"`
	AnnotationGeneratedAt *time.Time `json:"annotationGeneratedAt,omitempty"`
}

// Repo is the lens persistence boundary.
type Repo interface {
	// CreateOrGet inserts the lens, or returns the existing lens ID when the
	// user already has a lens with that name. The existing row is left
	// untouched either way.
	CreateOrGet(ctx context.Context, lens Lens) (string, error)
	GetByID(ctx context.Context, lensID, userID string) (Lens, error)
	// ListByUser returns the user's lenses in sort order with drawing counts.
	// RelevantCount counts links scoring at or above threshold.
	ListByUser(ctx context.Context, userID string, threshold float64) ([]Lens, error)

	// CreateLink records a lens/drawing relevance score. When overwrite is
	// false an existing link keeps its original score.
	CreateLink(ctx context.Context, link Link, overwrite bool) error
	// ListDrawingsForLens returns drawings linked at or above threshold in
	// archive order.
	ListDrawingsForLens(ctx context.Context, lensID string, threshold float64) ([]LensDrawing, error)
	// ListPendingAnnotation returns relevant drawings that have analysis text
	// but no annotation yet, in archive order.
	ListPendingAnnotation(ctx context.Context, lensID string, threshold float64) ([]LensDrawing, error)
	AnnotationCounts(ctx context.Context, lensID string, threshold float64) (AnnotationProgress, error)
	SetAnnotation(ctx context.Context, lensID, drawingID, text string, at time.Time) error
}
