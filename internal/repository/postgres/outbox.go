package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

// jobColumns is the full email_outbox column list, kept in one place so
// claim, get, and list scans stay in sync.
const jobColumns = `id, user_id, customer_id, invoice_id, channel, template,
	to_email, subject, body, payload_json, rule_id, run_id,
	provider, provider_message_id,
	delivery_status, delivery_detail, delivered_at, bounced_at, complained_at,
	status, attempt_count, last_error, next_attempt_at,
	lock_owner, lock_acquired_at, created_at, updated_at`

// maxErrorLen caps last_error so a multi-KB provider response or stack
// trace never bloats the row.
const maxErrorLen = 2000

// OutboxRepo implements job persistence against PostgreSQL: the enqueue and
// admin contract (outbox.JobRepository) plus the dispatch-side operations
// the worker consumes through its own interfaces.
type OutboxRepo struct{ db *sql.DB }

// NewOutboxRepo creates a Postgres-backed outbox repository.
func NewOutboxRepo(db *sql.DB) *OutboxRepo { return &OutboxRepo{db: db} }

// Ping verifies database connectivity; the dispatcher uses it as its
// per-tick heartbeat.
func (r *OutboxRepo) Ping(ctx context.Context) error {
	var one int
	return r.db.QueryRowContext(ctx, `SELECT 1`).Scan(&one)
}

func scanJob(row interface{ Scan(...any) error }) (*domain.Job, error) {
	j := &domain.Job{}
	err := row.Scan(
		&j.ID, &j.UserID, &j.CustomerID, &j.InvoiceID, &j.Channel, &j.Template,
		&j.ToEmail, &j.Subject, &j.Body, &j.PayloadJSON, &j.RuleID, &j.RunID,
		&j.Provider, &j.ProviderMessageID,
		&j.DeliveryStatus, &j.DeliveryDetail, &j.DeliveredAt, &j.BouncedAt, &j.ComplainedAt,
		&j.Status, &j.AttemptCount, &j.LastError, &j.NextAttemptAt,
		&j.LockOwner, &j.LockAcquired, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

// Insert persists a new queued job and returns its id.
func (r *OutboxRepo) Insert(ctx context.Context, j *domain.Job) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO email_outbox
			(user_id, customer_id, invoice_id, channel, template,
			 to_email, subject, body, payload_json, rule_id, run_id,
			 provider, status, delivery_status, next_attempt_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW(), NOW())
		RETURNING id
	`, j.UserID, j.CustomerID, j.InvoiceID, j.Channel, j.Template,
		j.ToEmail, j.Subject, j.Body, nullBytes(j.PayloadJSON), j.RuleID, j.RunID,
		j.Provider, j.Status, j.DeliveryStatus, j.NextAttemptAt).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert outbox job: %w", err)
	}
	return id, nil
}

// ClaimNextDueJob atomically claims the oldest due queued job for the given
// worker and marks it processing. The single UPDATE...SELECT...FOR UPDATE
// SKIP LOCKED statement guarantees two concurrent workers never claim the
// same row, and contenders skip rather than wait. Returns (nil, nil) when
// nothing is claimable at this tick.
func (r *OutboxRepo) ClaimNextDueJob(ctx context.Context, workerName string) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `
		WITH claimed AS (
			UPDATE email_outbox
			   SET status = 'processing',
			       lock_owner = $1,
			       lock_acquired_at = NOW(),
			       updated_at = NOW()
			 WHERE id = (
			       SELECT id FROM email_outbox
			        WHERE status = 'queued'
			          AND channel IN ('email', 'sms')
			          AND next_attempt_at <= NOW()
			        ORDER BY id ASC
			        LIMIT 1
			        FOR UPDATE SKIP LOCKED)
			 RETURNING `+jobColumns+`
		)
		SELECT `+jobColumns+` FROM claimed
	`, workerName))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// DueCount returns how many queued jobs are currently eligible for claim.
func (r *OutboxRepo) DueCount(ctx context.Context) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM email_outbox
		 WHERE status = 'queued'
		   AND channel IN ('email', 'sms')
		   AND next_attempt_at <= NOW()
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count due jobs: %w", err)
	}
	return n, nil
}

// ReclaimStale requeues processing rows whose lock is older than olderThan,
// clearing the lock and making them immediately due. This is the sole
// recovery path for a worker that crashed between claim and outcome; it
// never touches rows whose lock is fresh, so it is safe to run while other
// dispatchers are active.
func (r *OutboxRepo) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'queued',
		       next_attempt_at = NOW(),
		       lock_owner = NULL,
		       lock_acquired_at = NULL,
		       updated_at = NOW()
		 WHERE status = 'processing'
		   AND lock_acquired_at IS NOT NULL
		   AND lock_acquired_at < NOW() - ($1 * INTERVAL '1 second')
	`, int64(olderThan.Seconds()))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// MarkSent records a provider-accepted outcome: the job goes terminal,
// delivery tracking starts at "sent", and the lock clears.
func (r *OutboxRepo) MarkSent(ctx context.Context, id int64, provider domain.Provider, messageID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'sent',
		       delivery_status = 'sent',
		       provider = $2,
		       provider_message_id = COALESCE(NULLIF($3, ''), provider_message_id),
		       attempt_count = attempt_count + 1,
		       lock_owner = NULL,
		       lock_acquired_at = NULL,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, provider, messageID)
	if err != nil {
		return fmt.Errorf("mark sent: %w", err)
	}
	return nil
}

// MarkFailed records a permanent failure (preflight, permanent provider
// rejection, or retry exhaustion) and clears the lock.
func (r *OutboxRepo) MarkFailed(ctx context.Context, id int64, lastError string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'failed',
		       attempt_count = attempt_count + 1,
		       last_error = $2,
		       lock_owner = NULL,
		       lock_acquired_at = NULL,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, truncateError(lastError))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// RequeueRetry records a transient failure and puts the job back on the
// queue with a future next_attempt_at.
func (r *OutboxRepo) RequeueRetry(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'queued',
		       attempt_count = attempt_count + 1,
		       last_error = $2,
		       next_attempt_at = $3,
		       lock_owner = NULL,
		       lock_acquired_at = NULL,
		       updated_at = NOW()
		 WHERE id = $1
	`, id, truncateError(lastError), nextAttempt)
	if err != nil {
		return fmt.Errorf("requeue job: %w", err)
	}
	return nil
}

// Get returns one job scoped to the owning account.
func (r *OutboxRepo) Get(ctx context.Context, userID, id int64) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM email_outbox WHERE id = $1 AND user_id = $2`, id, userID))
	if err == sql.ErrNoRows {
		return nil, outbox.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Cancel withdraws a queued job. The status guard in the WHERE clause is
// what makes cancel-vs-claim races safe: a row that just went processing
// simply isn't matched.
func (r *OutboxRepo) Cancel(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'canceled', updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status = 'queued'
	`, id, userID)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, userID, id); err != nil {
			return err
		}
		return outbox.ErrNotCancelable
	}
	return nil
}

// Retry requeues a failed job with a fresh attempt budget.
func (r *OutboxRepo) Retry(ctx context.Context, userID, id int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET status = 'queued',
		       attempt_count = 0,
		       last_error = NULL,
		       next_attempt_at = NOW(),
		       updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND status = 'failed'
	`, id, userID)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := r.Get(ctx, userID, id); err != nil {
			return err
		}
		return outbox.ErrNotRetryable
	}
	return nil
}

// dispatch statuses filter the status column; provider-confirmed outcomes
// filter delivery_status instead.
var dispatchStatuses = map[string]bool{
	"queued": true, "processing": true, "sent": true, "failed": true, "canceled": true,
}
var deliveryStatuses = map[string]bool{
	"delivered": true, "bounced": true, "complained": true,
}

func buildJobFilter(userID int64, f outbox.ListFilter) (string, []any) {
	where := []string{"o.user_id = $1"}
	args := []any{userID}
	idx := 2
	add := func(cond string, val any) {
		where = append(where, fmt.Sprintf(cond, idx))
		args = append(args, val)
		idx++
	}

	if f.RuleID != nil {
		add("o.rule_id = $%d", *f.RuleID)
	}
	if f.RunID != nil {
		add("o.run_id = $%d", *f.RunID)
	}
	if f.CustomerID != nil {
		add("o.customer_id = $%d", *f.CustomerID)
	}
	if f.DateFrom != "" {
		add("o.created_at::date >= $%d", f.DateFrom)
	}
	if f.DateTo != "" {
		add("o.created_at::date <= $%d", f.DateTo)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		like := "%" + s + "%"
		where = append(where, fmt.Sprintf("(o.to_email ILIKE $%d OR o.subject ILIKE $%d)", idx, idx+1))
		args = append(args, like, like)
		idx += 2
	}
	switch {
	case dispatchStatuses[f.Status]:
		add("o.status = $%d", f.Status)
	case deliveryStatuses[f.Status]:
		add("o.delivery_status = $%d", f.Status)
	}

	return strings.Join(where, " AND "), args
}

// Count returns how many jobs match the filter for the account.
func (r *OutboxRepo) Count(ctx context.Context, userID int64, f outbox.ListFilter) (int, error) {
	where, args := buildJobFilter(userID, f)
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM email_outbox o WHERE `+where, args...).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("count jobs: %w", err)
	}
	return total, nil
}

// Page returns one page of jobs matching the filter, newest first, with the
// customer name joined in for listings.
func (r *OutboxRepo) Page(ctx context.Context, userID int64, f outbox.ListFilter, limit, offset int) ([]outbox.JobRow, error) {
	where, args := buildJobFilter(userID, f)
	cols := strings.ReplaceAll(jobColumns, "id, user_id", "o.id, o.user_id")
	q := fmt.Sprintf(`
		SELECT %s, c.name
		  FROM email_outbox o
		  LEFT JOIN customers c ON c.id = o.customer_id
		 WHERE %s
		 ORDER BY o.created_at DESC, o.id DESC
		 LIMIT $%d OFFSET $%d`, cols, where, len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []outbox.JobRow
	for rows.Next() {
		var row outbox.JobRow
		j := &row.Job
		if err := rows.Scan(
			&j.ID, &j.UserID, &j.CustomerID, &j.InvoiceID, &j.Channel, &j.Template,
			&j.ToEmail, &j.Subject, &j.Body, &j.PayloadJSON, &j.RuleID, &j.RunID,
			&j.Provider, &j.ProviderMessageID,
			&j.DeliveryStatus, &j.DeliveryDetail, &j.DeliveredAt, &j.BouncedAt, &j.ComplainedAt,
			&j.Status, &j.AttemptCount, &j.LastError, &j.NextAttemptAt,
			&j.LockOwner, &j.LockAcquired, &j.CreatedAt, &j.UpdatedAt,
			&row.CustomerName,
		); err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FindByProviderMessageID resolves a job from a provider's message id.
// Returns (nil, nil) when unknown — webhook ingestion treats that as an
// acknowledged no-op, never an error.
func (r *OutboxRepo) FindByProviderMessageID(ctx context.Context, messageID string) (*domain.Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM email_outbox WHERE provider_message_id = $1`, messageID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by provider message id: %w", err)
	}
	return j, nil
}

// DeliveryUpdate is the webhook-sourced state merged into a job. Timestamp
// fields are first-write-wins (COALESCE over the existing value); Status is
// applied only when non-empty so diagnostic events can update the raw
// detail without moving delivery_status.
type DeliveryUpdate struct {
	Provider     domain.Provider
	MessageID    string
	Status       domain.DeliveryStatus
	Detail       []byte
	DeliveredAt  *time.Time
	BouncedAt    *time.Time
	ComplainedAt *time.Time
}

// ApplyDeliveryUpdate folds a provider confirmation into the job row.
func (r *OutboxRepo) ApplyDeliveryUpdate(ctx context.Context, jobID int64, u DeliveryUpdate) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE email_outbox
		   SET provider = $2,
		       provider_message_id = COALESCE(provider_message_id, NULLIF($3, '')),
		       delivery_status = COALESCE(NULLIF($4, ''), delivery_status),
		       delivery_detail = COALESCE($5, delivery_detail),
		       delivered_at = COALESCE(delivered_at, $6),
		       bounced_at = COALESCE(bounced_at, $7),
		       complained_at = COALESCE(complained_at, $8),
		       updated_at = NOW()
		 WHERE id = $1
	`, jobID, u.Provider, u.MessageID, string(u.Status), nullBytes(u.Detail),
		u.DeliveredAt, u.BouncedAt, u.ComplainedAt)
	if err != nil {
		return fmt.Errorf("apply delivery update: %w", err)
	}
	return nil
}

func truncateError(s string) string {
	if len(s) > maxErrorLen {
		return s[:maxErrorLen]
	}
	return s
}

// nullBytes keeps empty JSON columns NULL instead of storing "".
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
