package persistence

import "time"

type RunStatus string

const (
	RunStatusRunning     RunStatus = "running"
	RunStatusSuccess     RunStatus = "success"
	RunStatusFailed      RunStatus = "failed"
	RunStatusInterrupted RunStatus = "interrupted"
)

// Run is one invocation of the batch pipeline.
type Run struct {
	ID          string
	InputDir    string
	Status      RunStatus
	Files       int
	Classified  int
	Skipped     int
	Failed      int
	SummaryRows int
	DetailRows  int
	Error       string
	StartedAt   time.Time
	FinishedAt  time.Time
}
