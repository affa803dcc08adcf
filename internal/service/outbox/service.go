package outbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

// Renderer produces the default statement subject/body when the caller
// does not supply them. Satisfied by render.Engine.
type Renderer interface {
	StatementSubject(customerName string) string
	StatementBody() string
}

// Service implements enqueue and admin logic for the outbox. All public
// methods are safe for concurrent use if the repositories are.
type Service struct {
	jobs      JobRepository
	runs      RunRepository
	rules     RuleRepository
	customers CustomerRepository
	render    Renderer
	log       *logger.Logger
}

// NewService creates an outbox service backed by the given repositories.
func NewService(jobs JobRepository, runs RunRepository, rules RuleRepository, customers CustomerRepository, render Renderer) *Service {
	return &Service{
		jobs:      jobs,
		runs:      runs,
		rules:     rules,
		customers: customers,
		render:    render,
		log:       logger.New("outbox"),
	}
}

// EnqueueStatementInput holds the fields for a one-off statement email.
type EnqueueStatementInput struct {
	CustomerID   int64  `json:"customer_id"`
	ToEmail      string `json:"to_email"`
	Subject      string `json:"subject"`
	Message      string `json:"message"`
	DateFrom     string `json:"date_from"`
	DateTo       string `json:"date_to"`
	StatementURL string `json:"statement_url"`
}

// EnqueueStatement inserts one due-now statement email job for a single
// customer. The job carries a typed payload so the dispatcher can compose
// the statement without re-reading producer state.
func (s *Service) EnqueueStatement(ctx context.Context, userID int64, in EnqueueStatementInput) (int64, error) {
	cust, err := s.customers.Get(ctx, userID, in.CustomerID)
	if err != nil {
		return 0, err
	}

	to := strings.TrimSpace(in.ToEmail)
	if to == "" && cust.Email != nil {
		to = strings.TrimSpace(*cust.Email)
	}
	if to == "" {
		return 0, ErrEmptyRecipient
	}

	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = s.render.StatementSubject(cust.Name)
	}
	body := in.Message
	if body == "" {
		body = s.render.StatementBody()
	}

	statementURL := in.StatementURL
	if statementURL == "" {
		statementURL = fmt.Sprintf("/customers/%d/statement", in.CustomerID)
	}

	now := time.Now().UTC()
	job := &domain.Job{
		UserID:     userID,
		CustomerID: &in.CustomerID,
		Channel:    domain.ChannelEmail,
		Template:   "statement",
		ToEmail:    to,
		Subject:    subject,
		Body:       body,
		PayloadJSON: domain.JobPayload{
			CustomerID:   in.CustomerID,
			DateFrom:     in.DateFrom,
			DateTo:       in.DateTo,
			StatementURL: statementURL,
			OneOff:       true,
		}.Encode(),
		Provider:       domain.ProviderPostmark,
		Status:         domain.JobQueued,
		DeliveryStatus: domain.DeliveryQueued,
		NextAttemptAt:  now,
	}

	id, err := s.jobs.Insert(ctx, job)
	if err != nil {
		return 0, fmt.Errorf("enqueue statement: %w", err)
	}
	s.log.Info("enqueued one-off statement", "job_id", id, "user_id", userID, "customer_id", in.CustomerID)
	return id, nil
}

// RunSummary describes one run expanded by EnqueueDueRuns.
type RunSummary struct {
	RuleID int64 `json:"rule_id"`
	RunID  int64 `json:"run_id"`
	Jobs   int   `json:"jobs"`
}

// EnqueueDueRuns expands every due enabled statement rule into a run plus
// one job per addressable customer. A run already created for the same
// (rule, scheduled time) is reused so a crash between run creation and rule
// advancement never double-fires. Callers that may race (the worker
// scheduler) hold a distributed lock around this; an explicit admin trigger
// is safe regardless thanks to the unique constraint.
func (s *Service) EnqueueDueRuns(ctx context.Context) ([]RunSummary, error) {
	now := time.Now().UTC()
	rules, err := s.rules.DueStatementRules(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("load due rules: %w", err)
	}

	var processed []RunSummary
	for _, rule := range rules {
		if rule.NextRunUTC == nil {
			continue
		}
		run, err := s.runs.CreateOrGet(ctx, rule.UserID, rule.ID, *rule.NextRunUTC)
		if err != nil {
			s.log.Error("create run failed", "rule_id", rule.ID, "error", err)
			continue
		}

		customers, err := s.customers.WithEmail(ctx, rule.UserID)
		if err != nil {
			s.log.Error("resolve customers failed", "rule_id", rule.ID, "error", err)
			continue
		}

		jobs := 0
		for _, c := range customers {
			cid := c.ID
			job := &domain.Job{
				UserID:     rule.UserID,
				CustomerID: &cid,
				Channel:    domain.ChannelEmail,
				Template:   "statement",
				ToEmail:    *c.Email,
				Subject:    s.render.StatementSubject(c.Name),
				Body:       s.render.StatementBody(),
				PayloadJSON: domain.JobPayload{
					CustomerID:   c.ID,
					RuleID:       rule.ID,
					RunID:        run.ID,
					StatementURL: fmt.Sprintf("/customers/%d/statement", c.ID),
				}.Encode(),
				RuleID:         &rule.ID,
				RunID:          &run.ID,
				Provider:       domain.ProviderPostmark,
				Status:         domain.JobQueued,
				DeliveryStatus: domain.DeliveryQueued,
				NextAttemptAt:  now,
			}
			if _, err := s.jobs.Insert(ctx, job); err != nil {
				s.log.Error("enqueue run job failed", "run_id", run.ID, "customer_id", c.ID, "error", err)
				continue
			}
			jobs++
		}

		if err := s.runs.SetCounts(ctx, run.ID, len(customers), jobs); err != nil {
			s.log.Error("set run counts failed", "run_id", run.ID, "error", err)
		}

		next := NextRunAfter(rule, now)
		if err := s.rules.Advance(ctx, rule.ID, now, next); err != nil {
			s.log.Error("advance rule failed", "rule_id", rule.ID, "error", err)
		}

		processed = append(processed, RunSummary{RuleID: rule.ID, RunID: run.ID, Jobs: jobs})
		s.log.Info("expanded due rule", "rule_id", rule.ID, "run_id", run.ID, "jobs", jobs)
	}
	return processed, nil
}

// NextRunAfter computes the rule's next scheduled time strictly after now,
// stepping from the current cursor by the rule's frequency so the
// configured time-of-day is preserved.
func NextRunAfter(rule domain.ReminderRule, now time.Time) time.Time {
	cur := now
	if rule.NextRunUTC != nil {
		cur = *rule.NextRunUTC
	}
	for !cur.After(now) {
		switch rule.Frequency {
		case "monthly":
			cur = cur.AddDate(0, 1, 0)
		default: // weekly
			cur = cur.AddDate(0, 0, 7)
		}
	}
	return cur
}

// Cancel withdraws a queued job. Jobs already claimed or terminal are not
// cancelable; the producer has to deal with the outcome instead.
func (s *Service) Cancel(ctx context.Context, userID, jobID int64) error {
	return s.jobs.Cancel(ctx, userID, jobID)
}

// Retry puts a failed job back on the queue for an immediate fresh attempt
// series: attempt_count resets and last_error clears.
func (s *Service) Retry(ctx context.Context, userID, jobID int64) error {
	return s.jobs.Retry(ctx, userID, jobID)
}

// Get returns one job for the account.
func (s *Service) Get(ctx context.Context, userID, jobID int64) (*domain.Job, error) {
	return s.jobs.Get(ctx, userID, jobID)
}

// allowed page sizes for listings; an off-menu per_page snaps to the
// nearest entry.
var allowedPerPage = []int{20, 50, 100}

func normalizePerPage(perPage int) int {
	best := allowedPerPage[0]
	for _, a := range allowedPerPage {
		if abs(a-perPage) < abs(best-perPage) {
			best = a
		}
	}
	return best
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// List returns a page of the account's jobs. Page numbers past the end
// clamp to the last page rather than returning an empty page.
func (s *Service) List(ctx context.Context, userID int64, f ListFilter, page, perPage int) (*Page, error) {
	perPage = normalizePerPage(perPage)
	if page < 1 {
		page = 1
	}

	total, err := s.jobs.Count(ctx, userID, f)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	pages := (total + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}
	if page > pages {
		page = pages
	}

	items, err := s.jobs.Page(ctx, userID, f, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return &Page{Items: items, Page: page, PerPage: perPage, Total: total, Pages: pages}, nil
}

// GetRun returns one run for the account.
func (s *Service) GetRun(ctx context.Context, userID, runID int64) (*domain.Run, error) {
	return s.runs.Get(ctx, userID, runID)
}

// ListRuns returns a page of the account's runs, newest first.
func (s *Service) ListRuns(ctx context.Context, userID int64, page, perPage int) (*RunPage, error) {
	perPage = normalizePerPage(perPage)
	if page < 1 {
		page = 1
	}

	items, total, err := s.runs.Page(ctx, userID, perPage, (page-1)*perPage)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	pages := (total + perPage - 1) / perPage
	if pages < 1 {
		pages = 1
	}
	return &RunPage{Items: items, Page: page, PerPage: perPage, Total: total, Pages: pages}, nil
}
