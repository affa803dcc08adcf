package outbox

import (
	"context"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
)

// JobRepository defines the data access contract for outbox jobs as the
// enqueue/admin side sees it. The dispatch worker uses its own, narrower
// view of the same table. Implementations must be safe for concurrent use.
type JobRepository interface {
	// Insert persists a new queued job and returns its id.
	Insert(ctx context.Context, j *domain.Job) (int64, error)

	// Get returns one job scoped to the owning account. Returns ErrNotFound
	// if it doesn't exist or belongs to someone else.
	Get(ctx context.Context, userID, id int64) (*domain.Job, error)

	// Count returns how many jobs match the filter for the account.
	Count(ctx context.Context, userID int64, f ListFilter) (int, error)

	// Page returns one page of jobs matching the filter, ordered by
	// created_at DESC, id DESC.
	Page(ctx context.Context, userID int64, f ListFilter, limit, offset int) ([]JobRow, error)

	// Cancel withdraws a queued job. Returns ErrNotCancelable when the job
	// is in any other state, ErrNotFound when it doesn't exist.
	Cancel(ctx context.Context, userID, id int64) error

	// Retry requeues a failed job for an immediate fresh attempt series.
	// Returns ErrNotRetryable when the job is not failed.
	Retry(ctx context.Context, userID, id int64) error
}

// RunRepository defines data access for statement runs.
type RunRepository interface {
	// CreateOrGet inserts a run for (ruleID, scheduledAt) or returns the
	// existing one — the unique constraint makes re-enqueue after a crash
	// idempotent.
	CreateOrGet(ctx context.Context, userID, ruleID int64, scheduledAt time.Time) (*domain.Run, error)

	// SetCounts records the expansion result on a fresh run.
	SetCounts(ctx context.Context, runID int64, totalCustomers, jobsEnqueued int) error

	// Get returns one run scoped to the owning account.
	Get(ctx context.Context, userID, id int64) (*domain.Run, error)

	// Page returns one page of the account's runs, newest first, plus the
	// total count.
	Page(ctx context.Context, userID int64, limit, offset int) ([]domain.Run, int, error)
}

// RuleRepository gives the scheduler its view of reminder rules. Rule
// editing is a different subsystem; the pipeline only consumes due rules
// and advances their cursor.
type RuleRepository interface {
	// DueStatementRules returns enabled statement rules whose next run time
	// has passed, oldest first.
	DueStatementRules(ctx context.Context, now time.Time) ([]domain.ReminderRule, error)

	// Advance stamps the rule's last run and moves its next-run cursor.
	Advance(ctx context.Context, ruleID int64, lastRun, nextRun time.Time) error
}

// CustomerRepository resolves recipients for enqueue operations.
type CustomerRepository interface {
	// Get returns one customer scoped to the owning account. Returns
	// ErrCustomerNotFound when absent.
	Get(ctx context.Context, userID, id int64) (*domain.Customer, error)

	// WithEmail returns the account's customers that have a non-empty
	// email address, ordered by id.
	WithEmail(ctx context.Context, userID int64) ([]domain.Customer, error)
}

// ListFilter controls filtering for job listings. Status accepts both
// dispatch statuses (queued, processing, sent, failed, canceled) and
// delivery statuses (delivered, bounced, complained); "all" or empty means
// no status filter.
type ListFilter struct {
	Status     string
	Search     string
	RuleID     *int64
	RunID      *int64
	CustomerID *int64
	DateFrom   string // YYYY-MM-DD, on created_at
	DateTo     string // YYYY-MM-DD, on created_at
}

// JobRow is one listing row: the job plus the joined customer name.
type JobRow struct {
	domain.Job
	CustomerName *string `json:"customer_name"`
}

// Page is a paginated job listing.
type Page struct {
	Items   []JobRow `json:"items"`
	Page    int      `json:"page"`
	PerPage int      `json:"per_page"`
	Total   int      `json:"total"`
	Pages   int      `json:"pages"`
}

// RunPage is a paginated run listing.
type RunPage struct {
	Items   []domain.Run `json:"items"`
	Page    int          `json:"page"`
	PerPage int          `json:"per_page"`
	Total   int          `json:"total"`
	Pages   int          `json:"pages"`
}
