package domain

import "time"

// RunStatus enumerates the lifecycle states of a statement run.
type RunStatus string

const (
	RunQueued     RunStatus = "queued"
	RunProcessing RunStatus = "processing"
	RunDone       RunStatus = "done"
	RunFailed     RunStatus = "failed"
)

// Run is one scheduled execution of a reminder rule. Jobs enqueued for the
// run point back at it via run_id; workers roll terminal job outcomes up
// into the counters, and the run closes when every enqueued job is
// accounted for.
type Run struct {
	ID     int64 `json:"id" db:"id"`
	UserID int64 `json:"user_id" db:"user_id"`
	RuleID int64 `json:"rule_id" db:"rule_id"`

	RunScheduledAt time.Time  `json:"run_scheduled_at" db:"run_scheduled_at"`
	RunStartedAt   *time.Time `json:"run_started_at" db:"run_started_at"`
	RunFinishedAt  *time.Time `json:"run_finished_at" db:"run_finished_at"`

	Status RunStatus `json:"status" db:"status"`

	TotalCustomers int `json:"total_customers" db:"total_customers"`
	JobsEnqueued   int `json:"jobs_enqueued" db:"jobs_enqueued"`
	JobsSucceeded  int `json:"jobs_succeeded" db:"jobs_succeeded"`
	JobsFailed     int `json:"jobs_failed" db:"jobs_failed"`

	ErrorText *string   `json:"error_text" db:"error_text"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Settled returns true once every enqueued job reached a terminal outcome.
func (r *Run) Settled() bool {
	return r.JobsSucceeded+r.JobsFailed >= r.JobsEnqueued
}
