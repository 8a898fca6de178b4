package archive

import "time"

// Run statuses. A user has at most one run in pending or running.
const (
	StatusPending  = "pending"
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Pipeline phases recorded on the run while it progresses.
const (
	PhaseBatchAnalysis = "batch_analysis"
	PhaseLensDiscovery = "lens_discovery"
	PhaseDone          = "done"
)

// Run is one end-to-end analysis pass over a user's archive.
type Run struct {
	ID            string     `json:"id"`
	UserID        string     `json:"userId"`
	Status        string     `json:"status"`
	Phase         string     `json:"phase,omitempty"`
	TotalDrawings int        `json:"totalDrawings"`
	AnalyzedCount int        `json:"analyzedCount"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	ModelUsed     string     `json:"modelUsed,omitempty"`
	StartedAt     time.Time  `json:"startedAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Active reports whether the run still blocks new runs for its user.
func (r Run) Active() bool {
	return r.Status == StatusPending || r.Status == StatusRunning
}
