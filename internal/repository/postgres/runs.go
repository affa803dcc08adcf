package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

const runColumns = `id, user_id, rule_id, run_scheduled_at, run_started_at, run_finished_at,
	status, total_customers, jobs_enqueued, jobs_succeeded, jobs_failed, error_text, created_at`

// RunRepo implements statement-run persistence: creation on the enqueue
// side and terminal-outcome aggregation on the dispatch side.
type RunRepo struct{ db *sql.DB }

// NewRunRepo creates a Postgres-backed run repository.
func NewRunRepo(db *sql.DB) *RunRepo { return &RunRepo{db: db} }

func scanRun(row interface{ Scan(...any) error }) (*domain.Run, error) {
	r := &domain.Run{}
	err := row.Scan(
		&r.ID, &r.UserID, &r.RuleID, &r.RunScheduledAt, &r.RunStartedAt, &r.RunFinishedAt,
		&r.Status, &r.TotalCustomers, &r.JobsEnqueued, &r.JobsSucceeded, &r.JobsFailed,
		&r.ErrorText, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// CreateOrGet inserts a run for (ruleID, scheduledAt), or returns the
// existing one when the unique constraint fires. The constraint is the
// scheduler's idempotency anchor: re-running enqueue-due after a crash
// lands on the same run instead of double-firing.
func (r *RunRepo) CreateOrGet(ctx context.Context, userID, ruleID int64, scheduledAt time.Time) (*domain.Run, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO statement_runs (user_id, rule_id, run_scheduled_at, status, created_at)
		VALUES ($1, $2, $3, 'queued', NOW())
		ON CONFLICT (rule_id, run_scheduled_at) DO NOTHING
	`, userID, ruleID, scheduledAt)
	if err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM statement_runs
		 WHERE rule_id = $1 AND run_scheduled_at = $2
	`, ruleID, scheduledAt))
	if err != nil {
		return nil, fmt.Errorf("load run: %w", err)
	}
	return run, nil
}

// SetCounts records the expansion result on a run and re-evaluates closure.
// Jobs go in ahead of the counts, so workers racing the enqueue loop can
// finish every job before jobs_enqueued is set; RecordOutcome's done-check
// sees jobs_enqueued = 0 then and leaves the run open. Checking here as
// well closes that window, and also settles runs whose expansion enqueued
// nothing (no outcome will ever arrive for those).
func (r *RunRepo) SetCounts(ctx context.Context, runID int64, totalCustomers, jobsEnqueued int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE statement_runs
		   SET total_customers = $2,
		       jobs_enqueued = $3,
		       status = CASE
		                  WHEN jobs_succeeded + jobs_failed >= $3 THEN 'done'
		                  ELSE status
		                END,
		       run_finished_at = CASE
		                           WHEN jobs_succeeded + jobs_failed >= $3
		                            THEN COALESCE(run_finished_at, NOW())
		                           ELSE run_finished_at
		                         END
		 WHERE id = $1
	`, runID, totalCustomers, jobsEnqueued)
	if err != nil {
		return fmt.Errorf("set run counts: %w", err)
	}
	return nil
}

// RecordOutcome rolls one terminal job outcome into the run: stamps the
// start on the first outcome, bumps the matching counter, and closes the
// run (status=done, finished stamped) when every enqueued job is accounted
// for. One UPDATE does all of it; column references on the right-hand side
// read the pre-update row, so concurrent workers can never race the closure
// check. The jobs_enqueued > 0 guard defers closure to SetCounts when the
// counts have not landed yet.
func (r *RunRepo) RecordOutcome(ctx context.Context, runID int64, succeeded bool) error {
	succ, fail := 0, 1
	if succeeded {
		succ, fail = 1, 0
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE statement_runs
		   SET run_started_at = COALESCE(run_started_at, NOW()),
		       jobs_succeeded = jobs_succeeded + $2,
		       jobs_failed = jobs_failed + $3,
		       status = CASE
		                  WHEN jobs_enqueued > 0
		                   AND jobs_succeeded + jobs_failed + 1 >= jobs_enqueued THEN 'done'
		                  ELSE 'processing'
		                END,
		       run_finished_at = CASE
		                           WHEN jobs_enqueued > 0
		                            AND jobs_succeeded + jobs_failed + 1 >= jobs_enqueued THEN NOW()
		                           ELSE run_finished_at
		                         END
		 WHERE id = $1
	`, runID, succ, fail)
	if err != nil {
		return fmt.Errorf("record run outcome: %w", err)
	}
	return nil
}

// Get returns one run scoped to the owning account.
func (r *RunRepo) Get(ctx context.Context, userID, id int64) (*domain.Run, error) {
	run, err := scanRun(r.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM statement_runs WHERE id = $1 AND user_id = $2`, id, userID))
	if err == sql.ErrNoRows {
		return nil, outbox.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Page returns one page of the account's runs, newest first, plus the total.
func (r *RunRepo) Page(ctx context.Context, userID int64, limit, offset int) ([]domain.Run, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM statement_runs WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM statement_runs
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC
		 LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []domain.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, *run)
	}
	return out, total, rows.Err()
}
