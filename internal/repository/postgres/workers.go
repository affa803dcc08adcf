package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Maco21496/remindandpay-live/internal/domain"
)

// WorkerRepo maintains the dispatch_workers ops registry. Rows are purely
// observational; nothing in the pipeline gates on them.
type WorkerRepo struct{ db *sql.DB }

// NewWorkerRepo creates a Postgres-backed worker registry.
func NewWorkerRepo(db *sql.DB) *WorkerRepo { return &WorkerRepo{db: db} }

// Register upserts the worker's row at boot. A restart under the same name
// resets the started-at stamp and counters.
func (r *WorkerRepo) Register(ctx context.Context, name, hostname string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO dispatch_workers (name, hostname, status, started_at, last_heartbeat_at, jobs_sent, jobs_failed)
		VALUES ($1, $2, 'running', NOW(), NOW(), 0, 0)
		ON CONFLICT (name) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			status = 'running',
			started_at = NOW(),
			last_heartbeat_at = NOW(),
			jobs_sent = 0,
			jobs_failed = 0
	`, name, hostname)
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	return nil
}

// Heartbeat bumps the liveness stamp and accumulates tick counters.
func (r *WorkerRepo) Heartbeat(ctx context.Context, name string, jobsSent, jobsFailed int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_workers
		   SET last_heartbeat_at = NOW(),
		       jobs_sent = jobs_sent + $2,
		       jobs_failed = jobs_failed + $3
		 WHERE name = $1
	`, name, jobsSent, jobsFailed)
	if err != nil {
		return fmt.Errorf("worker heartbeat: %w", err)
	}
	return nil
}

// MarkStopped records a clean shutdown. Crashed workers keep status
// 'running' with a stale heartbeat, which is exactly the signal ops wants.
func (r *WorkerRepo) MarkStopped(ctx context.Context, name string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE dispatch_workers SET status = 'stopped', last_heartbeat_at = NOW() WHERE name = $1
	`, name)
	if err != nil {
		return fmt.Errorf("mark worker stopped: %w", err)
	}
	return nil
}

// List returns all registry rows, most recently heartbeated first.
func (r *WorkerRepo) List(ctx context.Context) ([]domain.DispatchWorker, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT name, hostname, status, started_at, last_heartbeat_at, jobs_sent, jobs_failed
		  FROM dispatch_workers
		 ORDER BY last_heartbeat_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list workers: %w", err)
	}
	defer rows.Close()

	var out []domain.DispatchWorker
	for rows.Next() {
		var w domain.DispatchWorker
		if err := rows.Scan(&w.Name, &w.Hostname, &w.Status, &w.StartedAt,
			&w.LastHeartbeat, &w.JobsSent, &w.JobsFailed); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
