package archive

import "context"

// Repo is the run persistence boundary.
type Repo interface {
	// CreatePending inserts a new pending run, returning ErrRunActive when
	// the user already has a pending or running run.
	CreatePending(ctx context.Context, run Run) error
	GetByID(ctx context.Context, runID string) (Run, error)
	// GetLatestForUser returns the user's most recently started run, or
	// ErrNotFound when they have never run an analysis.
	GetLatestForUser(ctx context.Context, userID string) (Run, error)
	// Start flips the run to running in the batch analysis phase and records
	// the drawing total.
	Start(ctx context.Context, runID string, total int) error
	SetPhase(ctx context.Context, runID, phase string) error
	SetAnalyzedCount(ctx context.Context, runID string, count int) error
	// Complete marks the run complete in the done phase.
	Complete(ctx context.Context, runID string) error
	// Fail marks the run failed with an error message for the status
	// endpoint. The message must already be sanitized for storage.
	Fail(ctx context.Context, runID, message string) error
}
