package ledger

import "time"

// Status is the lifecycle state of a job run or invocation.
type Status string

const (
	// StatusPending - created but not yet running (transient, normally never observed)
	StatusPending Status = "pending"
	// StatusRunning - in progress, no finished_at yet
	StatusRunning Status = "running"
	// StatusCompleted - finished successfully
	StatusCompleted Status = "completed"
	// StatusFailed - finished with an unrecoverable error
	StatusFailed Status = "failed"
)

// Well-known job names.
const (
	JobIngest  = "ingest"
	JobAnalyze = "analyze"
)

// JobRun is a ledger entry, unique per (job name, logical date).
// A running entry whose age exceeds its staleness threshold with no
// finished_at is orphaned: the next invocation treats it as an implicit
// failure and starts a fresh attempt.
type JobRun struct {
	JobName    string     `json:"job_name"`
	RunDate    time.Time  `json:"run_date"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// Invocation is one append-mode attempt of a job on a logical date.
// The analysis job records every invocation here; a prior completed
// invocation never blocks the next one.
type Invocation struct {
	ID         string     `json:"id"`
	JobName    string     `json:"job_name"`
	RunDate    time.Time  `json:"run_date"`
	Status     Status     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Detail     string     `json:"detail,omitempty"`
}

// RunHandle identifies an open exclusive run. FinishRun must be called
// exactly once per handle, on success and failure paths alike.
type RunHandle struct {
	JobName  string
	RunDate  time.Time
	finished bool
}

// InvocationHandle identifies an open append-mode invocation.
type InvocationHandle struct {
	ID       string
	JobName  string
	RunDate  time.Time
	finished bool
}
