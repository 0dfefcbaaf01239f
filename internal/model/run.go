package model

import "time"

// RunStatus is the lifecycle state of a recorded processing run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusFailed    RunStatus = "failed"
)

// ProcessingRun is one row of the run-log table. It exists for reporting
// only and plays no part in resolution.
type ProcessingRun struct {
	ID            string
	Filename      string
	TotalRows     int
	ProcessedRows int
	FixedCEPs     int
	FoundCoords   int
	ErrorCount    int
	Status        RunStatus
	StartedAt     time.Time
	FinishedAt    *time.Time
}
