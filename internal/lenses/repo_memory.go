package lenses

import (
	"context"
	"sort"
	"sync"
	"time"

	"archive-backend/internal/drawings"
)

// MemoryRepo is an in-memory Repo used when no database is configured and in
// tests. It needs the drawings repo to resolve joined listings.
type MemoryRepo struct {
	mu       sync.RWMutex
	lenses   map[string]Lens
	links    map[string]map[string]Link // lensID -> drawingID -> link
	Drawings drawings.Repo
}

var _ Repo = (*MemoryRepo)(nil)

func NewMemoryRepo(dr drawings.Repo) *MemoryRepo {
	return &MemoryRepo{
		lenses:   make(map[string]Lens),
		links:    make(map[string]map[string]Link),
		Drawings: dr,
	}
}

func (r *MemoryRepo) CreateOrGet(_ context.Context, lens Lens) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.lenses {
		if existing.UserID == lens.UserID && existing.Name == lens.Name {
			return existing.ID, nil
		}
	}
	r.lenses[lens.ID] = lens
	return lens.ID, nil
}

func (r *MemoryRepo) GetByID(_ context.Context, lensID, userID string) (Lens, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lenses[lensID]
	if !ok || l.UserID != userID {
		return Lens{}, ErrNotFound
	}
	return l, nil
}

func (r *MemoryRepo) ListByUser(_ context.Context, userID string, threshold float64) ([]Lens, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Lens
	for _, l := range r.lenses {
		if l.UserID != userID {
			continue
		}
		for _, link := range r.links[l.ID] {
			l.DrawingCount++
			if link.RelevanceScore >= threshold {
				l.RelevantCount++
			}
		}
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder != out[j].SortOrder {
			return out[i].SortOrder < out[j].SortOrder
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (r *MemoryRepo) CreateLink(_ context.Context, link Link, overwrite bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byDrawing, ok := r.links[link.LensID]
	if !ok {
		byDrawing = make(map[string]Link)
		r.links[link.LensID] = byDrawing
	}
	existing, exists := byDrawing[link.DrawingID]
	if exists && !overwrite {
		return nil
	}
	if exists {
		existing.RelevanceScore = link.RelevanceScore
		byDrawing[link.DrawingID] = existing
		return nil
	}
	byDrawing[link.DrawingID] = link
	return nil
}

func (r *MemoryRepo) ListDrawingsForLens(ctx context.Context, lensID string, threshold float64) ([]LensDrawing, error) {
	return r.joined(ctx, lensID, threshold, func(LensDrawing) bool { return true })
}

func (r *MemoryRepo) ListPendingAnnotation(ctx context.Context, lensID string, threshold float64) ([]LensDrawing, error) {
	return r.joined(ctx, lensID, threshold, func(ld LensDrawing) bool {
		return ld.Annotation == nil && ld.AnalysisText != nil
	})
}

func (r *MemoryRepo) AnnotationCounts(ctx context.Context, lensID string, threshold float64) (AnnotationProgress, error) {
	all, err := r.joined(ctx, lensID, threshold, func(ld LensDrawing) bool {
		return ld.AnalysisText != nil
	})
	if err != nil {
		return AnnotationProgress{}, err
	}
	p := AnnotationProgress{Total: len(all)}
	for _, ld := range all {
		if ld.Annotation != nil {
			p.Ready++
		}
	}
	return p, nil
}

func (r *MemoryRepo) SetAnnotation(_ context.Context, lensID, drawingID, text string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	byDrawing, ok := r.links[lensID]
	if !ok {
		return nil
	}
	link, ok := byDrawing[drawingID]
	if !ok {
		return nil
	}
	link.Annotation = &text
	generatedAt := at
	link.AnnotationGeneratedAt = &generatedAt
	byDrawing[drawingID] = link
	return nil
}

func (r *MemoryRepo) joined(ctx context.Context, lensID string, threshold float64, keep func(LensDrawing) bool) ([]LensDrawing, error) {
	r.mu.RLock()
	lens, ok := r.lenses[lensID]
	links := make([]Link, 0, len(r.links[lensID]))
	for _, link := range r.links[lensID] {
		links = append(links, link)
	}
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var out []LensDrawing
	for _, link := range links {
		if link.RelevanceScore < threshold {
			continue
		}
		d, err := r.Drawings.GetByID(ctx, link.DrawingID)
		if err != nil {
			if err == drawings.ErrNotFound {
				continue
			}
			return nil, err
		}
		if d.UserID != lens.UserID {
			continue
		}
		ld := LensDrawing{
			Drawing:               d,
			RelevanceScore:        link.RelevanceScore,
			Annotation:            link.Annotation,
			AnnotationGeneratedAt: link.AnnotationGeneratedAt,
		}
		if keep(ld) {
			out = append(out, ld)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
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
	return out, nil
}
