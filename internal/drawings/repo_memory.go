package drawings

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo used when no database is configured and in
// tests.
type MemoryRepo struct {
	mu       sync.RWMutex
	drawings map[string]Drawing
}

var _ Repo = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{drawings: make(map[string]Drawing)}
}

func (r *MemoryRepo) Create(_ context.Context, d Drawing) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drawings[d.ID] = d
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, id string) (Drawing, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.drawings[id]
	if !ok {
		return Drawing{}, ErrNotFound
	}
	return d, nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string) ([]Drawing, error) {
	return r.list(userID, func(Drawing) bool { return true }), nil
}

func (r *MemoryRepo) ListUnanalyzed(_ context.Context, userID string) ([]Drawing, error) {
	return r.list(userID, func(d Drawing) bool { return d.AnalyzedAt == nil }), nil
}

func (r *MemoryRepo) ListAnalyzed(_ context.Context, userID string) ([]Drawing, error) {
	return r.list(userID, func(d Drawing) bool { return d.AnalysisText != nil }), nil
}

func (r *MemoryRepo) CountByUser(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, d := range r.drawings {
		if d.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) MarkAnalyzed(_ context.Context, id string, text *string, raw map[string]any, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.drawings[id]
	if !ok {
		return ErrNotFound
	}
	d.AnalysisText = text
	d.AnalysisJSON = raw
	analyzedAt := at
	d.AnalyzedAt = &analyzedAt
	r.drawings[id] = d
	return nil
}

func (r *MemoryRepo) list(userID string, keep func(Drawing) bool) []Drawing {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Drawing
	for _, d := range r.drawings {
		if d.UserID == userID && keep(d) {
			out = append(out, d)
		}
	}
	sortArchiveOrder(out)
	return out
}

// sortArchiveOrder matches the database ordering: drawn_date ascending with
// undated drawings last, then filename.
func sortArchiveOrder(list []Drawing) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.DrawnDate == nil && b.DrawnDate == nil:
			return a.Filename < b.Filename
		case a.DrawnDate == nil:
			return false
		case b.DrawnDate == nil:
			return true
		case a.DrawnDate.Equal(*b.DrawnDate):
			return a.Filename < b.Filename
		default:
			return a.DrawnDate.Before(*b.DrawnDate)
		}
	})
}
