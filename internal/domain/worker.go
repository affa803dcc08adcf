package domain

import "time"

// WorkerStatus enumerates the registry states of a dispatch worker process.
type WorkerStatus string

const (
	WorkerRunning WorkerStatus = "running"
	WorkerStopped WorkerStatus = "stopped"
)

// DispatchWorker is the ops-visibility registry row a worker process
// maintains: registered at boot, heartbeated while running, marked stopped
// on clean shutdown. lock_owner values on jobs map back to Name.
type DispatchWorker struct {
	Name          string       `json:"name" db:"name"`
	Hostname      string       `json:"hostname" db:"hostname"`
	Status        WorkerStatus `json:"status" db:"status"`
	StartedAt     time.Time    `json:"started_at" db:"started_at"`
	LastHeartbeat time.Time    `json:"last_heartbeat_at" db:"last_heartbeat_at"`
	JobsSent      int64        `json:"jobs_sent" db:"jobs_sent"`
	JobsFailed    int64        `json:"jobs_failed" db:"jobs_failed"`
}
