package worker

import (
	"context"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/gateway"
)

// JobStore is the dispatcher's view of the outbox table. Satisfied by
// postgres.OutboxRepo; tests use an in-memory fake.
type JobStore interface {
	Ping(ctx context.Context) error
	ClaimNextDueJob(ctx context.Context, workerName string) (*domain.Job, error)
	DueCount(ctx context.Context) (int, error)
	ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error)
	MarkSent(ctx context.Context, id int64, provider domain.Provider, messageID string) error
	MarkFailed(ctx context.Context, id int64, lastError string) error
	RequeueRetry(ctx context.Context, id int64, lastError string, nextAttempt time.Time) error
}

// RunStore rolls terminal job outcomes into statement runs.
type RunStore interface {
	RecordOutcome(ctx context.Context, runID int64, succeeded bool) error
}

// SettingsStore loads account sending configuration for preflight.
type SettingsStore interface {
	EmailSettings(ctx context.Context, userID int64) (*domain.EmailSettings, error)
	SMSSettings(ctx context.Context, userID int64) (*domain.SMSSettings, error)
}

// AuditStore writes the reminder audit trail after a statement email is
// accepted.
type AuditStore interface {
	LogStatementSent(ctx context.Context, userID, customerID int64) (int, error)
}

// WorkerRegistry maintains the ops-visibility dispatch_workers rows.
type WorkerRegistry interface {
	Register(ctx context.Context, name, hostname string) error
	Heartbeat(ctx context.Context, name string, jobsSent, jobsFailed int64) error
	MarkStopped(ctx context.Context, name string) error
}

// EmailSender resolves credentials, composes the message, and hands it to
// an email gateway. The returned provider names which transport took the
// message.
type EmailSender interface {
	Send(ctx context.Context, job *domain.Job, settings *domain.EmailSettings) (*gateway.SendResult, domain.Provider, error)
}

// SMSSender hands one SMS job to the SMS gateway.
type SMSSender interface {
	Send(ctx context.Context, job *domain.Job, settings *domain.SMSSettings) (*gateway.SendResult, error)
}
