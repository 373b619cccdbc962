package domain

import "time"

// RunStatus is the lifecycle state of a cleanup run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Run triggers.
const (
	TriggerCLI      = "cli"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// CleanupRun is a ledger entry describing one invocation of the cleaner.
type CleanupRun struct {
	ID           string
	Trigger      string
	Models       []string
	DryRun       bool
	Window       time.Duration
	BatchSize    int
	Status       RunStatus
	Found        int64
	Duplicates   int64
	Deleted      int64
	ErrorMessage *string
	StartedAt    time.Time
	FinishedAt   *time.Time
}
