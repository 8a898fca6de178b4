package archive

import (
	"context"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repo used when no database is configured and in
// tests. It enforces the same single-active-run rule as the database index.
type MemoryRepo struct {
	mu   sync.RWMutex
	runs map[string]Run
}

var _ Repo = (*MemoryRepo)(nil)

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{runs: make(map[string]Run)}
}

func (r *MemoryRepo) CreatePending(_ context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.runs {
		if existing.UserID == run.UserID && existing.Active() {
			return ErrRunActive
		}
	}
	run.Status = StatusPending
	r.runs[run.ID] = run
	return nil
}

func (r *MemoryRepo) GetByID(_ context.Context, runID string) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return Run{}, ErrNotFound
	}
	return run, nil
}

func (r *MemoryRepo) GetLatestForUser(_ context.Context, userID string) (Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var (
		latest Run
		found  bool
	)
	for _, run := range r.runs {
		if run.UserID != userID {
			continue
		}
		if !found || run.StartedAt.After(latest.StartedAt) {
			latest = run
			found = true
		}
	}
	if !found {
		return Run{}, ErrNotFound
	}
	return latest, nil
}

func (r *MemoryRepo) Start(_ context.Context, runID string, total int) error {
	return r.update(runID, func(run *Run) {
		run.Status = StatusRunning
		run.Phase = PhaseBatchAnalysis
		run.TotalDrawings = total
	})
}

func (r *MemoryRepo) SetPhase(_ context.Context, runID, phase string) error {
	return r.update(runID, func(run *Run) { run.Phase = phase })
}

func (r *MemoryRepo) SetAnalyzedCount(_ context.Context, runID string, count int) error {
	return r.update(runID, func(run *Run) { run.AnalyzedCount = count })
}

func (r *MemoryRepo) Complete(_ context.Context, runID string) error {
	now := time.Now().UTC()
	return r.update(runID, func(run *Run) {
		run.Status = StatusComplete
		run.Phase = PhaseDone
		run.CompletedAt = &now
	})
}

func (r *MemoryRepo) Fail(_ context.Context, runID, message string) error {
	now := time.Now().UTC()
	return r.update(runID, func(run *Run) {
		run.Status = StatusFailed
		run.ErrorMessage = &message
		run.CompletedAt = &now
	})
}

func (r *MemoryRepo) update(runID string, apply func(*Run)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return ErrNotFound
	}
	apply(&run)
	r.runs[runID] = run
	return nil
}
