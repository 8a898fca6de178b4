package drawings

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("drawing not found")

// Repo is the drawing persistence boundary. Listing methods all return rows
// in archive order: drawn_date ascending with undated drawings last, then
// filename as a tiebreak, so analysis output is stable across runs.
type Repo interface {
	Create(ctx context.Context, d Drawing) error
	GetByID(ctx context.Context, id string) (Drawing, error)
	ListByUser(ctx context.Context, userID string) ([]Drawing, error)
	ListUnanalyzed(ctx context.Context, userID string) ([]Drawing, error)
	ListAnalyzed(ctx context.Context, userID string) ([]Drawing, error)
	CountByUser(ctx context.Context, userID string) (int, error)
	// MarkAnalyzed records an analysis result. A nil text still marks the
	// drawing analyzed so a resumed run will not re-submit it.
	MarkAnalyzed(ctx context.Context, id string, text *string, raw map[string]any, at time.Time) error
}
