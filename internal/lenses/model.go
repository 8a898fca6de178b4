package lenses

import "time"

// Lens is a discovered thematic grouping over a user's analyzed drawings.
type Lens struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	RunID       *string   `json:"runId,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	SortOrder   int       `json:"sortOrder"`
	RawOutput   string    `json:"-"`
	CreatedAt   time.Time `json:"createdAt"`

	// Aggregates populated by listing queries, not stored on the row.
	DrawingCount  int `json:"drawingCount"`
	RelevantCount int `json:"relevantCount"`
}

// Link ties a lens to a drawing with a relevance score and an optional
// per-lens annotation generated on demand.
type Link struct {
	LensID                string     `json:"lensId"`
	DrawingID             string     `json:"drawingId"`
	RelevanceScore        float64    `json:"relevanceScore"`
	Annotation            *string    `json:"annotation,omitempty"`
	AnnotationGeneratedAt *time.Time `json:"annotationGeneratedAt,omitempty"`
}

// Annotation progress states reported by the annotation status endpoint.
const (
	AnnotationStatusEmpty      = "empty"
	AnnotationStatusPending    = "pending"
	AnnotationStatusGenerating = "generating"
	AnnotationStatusComplete   = "complete"
)

// AnnotationProgress summarizes how far annotation has gotten for one lens.
type AnnotationProgress struct {
	Total int `json:"total"`
	Ready int `json:"ready"`
}

// Status maps annotation counts to a progress state. Total counts only links
// at or above the relevance threshold whose drawing has analysis text.
func (p AnnotationProgress) Status() string {
	switch {
	case p.Total == 0:
		return AnnotationStatusEmpty
	case p.Ready == 0:
		return AnnotationStatusPending
	case p.Ready < p.Total:
		return AnnotationStatusGenerating
	default:
		return AnnotationStatusComplete
	}
}
