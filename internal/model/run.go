package model

import "time"

// RunStatus tracks the lifecycle of an ingest run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// IngestRun is one invocation of the ingest pipeline over a manifest.
// Runs are bookkeeping only: chunk rows carry their own natural keys, so
// re-running a manifest after more pages become convertible produces a new
// run without disturbing prior rows.
type IngestRun struct {
	ID        string      `json:"id"`
	Manifest  string      `json:"manifest"`
	Status    RunStatus   `json:"status"`
	Summary   *RunSummary `json:"summary,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// RunSummary captures the outcome of a completed run.
type RunSummary struct {
	Interventions int      `json:"interventions"`
	Documents     int      `json:"documents"`
	Chunks        int      `json:"chunks"`
	FailedPages   int      `json:"failed_pages"`
	Unreadable    []string `json:"unreadable,omitempty"` // "<intervention>/<filename>"
}
