package worker

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Maco21496/remindandpay-live/internal/backoff"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/pkg/metrics"
)

// Preflight failure messages. These land in last_error verbatim, so
// operators can grep for them.
const (
	errNoEmailSettings    = "Email settings not configured for this account (no account_email_settings row)"
	errNoCustomToken      = "Email settings incomplete: custom domain selected but no encrypted Postmark server token"
	errNoPlatformToken    = "Server misconfiguration: POSTMARK_SERVER_TOKEN_DEFAULT is not set for platform mode"
	errSMSNotEnabled      = "SMS settings not enabled for this account"
	errSMSIncomplete      = "SMS settings incomplete: missing Twilio phone number or subaccount SID"
	errUnsupportedChannel = "Unsupported channel"
)

// Config tunes one dispatcher.
type Config struct {
	WorkerName   string
	BatchSize    int
	PollInterval time.Duration
	MaxAttempts  int
	StaleAfter   time.Duration

	// PlatformTokenSet tells preflight whether the platform-mode Postmark
	// server token is configured.
	PlatformTokenSet bool
}

func (c *Config) normalize() {
	if c.WorkerName == "" {
		c.WorkerName = "sender-" + uuid.NewString()[:8]
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 8
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 120 * time.Second
	}
}

// Dispatcher owns the claim-process loop. Claims are sequential within a
// process; parallelism comes from running more workers.
type Dispatcher struct {
	cfg      Config
	jobs     JobStore
	runs     RunStore
	settings SettingsStore
	audit    AuditStore
	email    EmailSender
	sms      SMSSender
	retry    backoff.Strategy
	metrics  *metrics.Metrics
	log      *logger.Logger

	// per-tick counters for the registry heartbeat; the registry goroutine
	// drains them concurrently.
	tickSent   atomic.Int64
	tickFailed atomic.Int64
}

// NewDispatcher wires a dispatcher. audit may be nil (no audit trail);
// metrics may be nil (replaced by a no-op set).
func NewDispatcher(cfg Config, jobs JobStore, runs RunStore, settings SettingsStore,
	audit AuditStore, email EmailSender, sms SMSSender, retry backoff.Strategy, m *metrics.Metrics) *Dispatcher {
	cfg.normalize()
	if retry == nil {
		retry = backoff.Default()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Dispatcher{
		cfg:      cfg,
		jobs:     jobs,
		runs:     runs,
		settings: settings,
		audit:    audit,
		email:    email,
		sms:      sms,
		retry:    retry,
		metrics:  m,
		log:      logger.New("dispatcher"),
	}
}

// WorkerName returns the effective (normalized) worker identity.
func (d *Dispatcher) WorkerName() string { return d.cfg.WorkerName }

// TakeTickCounters returns and resets the sent/failed counters accumulated
// since the last call; the registry heartbeat drains them.
func (d *Dispatcher) TakeTickCounters() (sent, failed int64) {
	return d.tickSent.Swap(0), d.tickFailed.Swap(0)
}

// Run ticks until the context is canceled. The in-flight job always
// finishes bookkeeping before exit.
func (d *Dispatcher) Run(ctx context.Context) {
	d.log.Info("dispatcher started",
		"worker", d.cfg.WorkerName, "batch_size", d.cfg.BatchSize,
		"poll", d.cfg.PollInterval.String(), "max_attempts", d.cfg.MaxAttempts)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		d.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			d.log.Info("dispatcher stopping", "worker", d.cfg.WorkerName)
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce performs one tick: heartbeat, reclaim, then up to BatchSize
// claims. Returns the number of successful sends.
func (d *Dispatcher) ProcessOnce(ctx context.Context) int {
	if err := d.jobs.Ping(ctx); err != nil {
		d.log.Error("database heartbeat failed", "error", err.Error())
		return 0
	}

	if n, err := d.jobs.ReclaimStale(ctx, d.cfg.StaleAfter); err != nil {
		d.log.Error("stale reclaim failed", "error", err.Error())
	} else if n > 0 {
		d.log.Warn(fmt.Sprintf("Requeued %d stale processing job(s)", n))
		d.metrics.JobsReclaimed.Add(float64(n))
	}

	if due, err := d.jobs.DueCount(ctx); err != nil {
		d.log.Error("due count failed", "error", err.Error())
	} else {
		d.metrics.DueJobs.Set(float64(due))
		if due > 0 {
			d.log.Info("due jobs pending", "count", due)
		}
	}

	sent := 0
	for i := 0; i < d.cfg.BatchSize; i++ {
		if ctx.Err() != nil {
			break
		}
		job, err := d.jobs.ClaimNextDueJob(ctx, d.cfg.WorkerName)
		if err != nil {
			d.log.Error("claim failed", "error", err.Error())
			sleepCtx(ctx, time.Second)
			continue
		}
		if job == nil {
			break
		}
		if d.dispatch(ctx, job) {
			sent++
		}
	}
	return sent
}

// dispatch runs preflight, send, and outcome bookkeeping for one claimed
// job. Returns true when the provider accepted the message.
func (d *Dispatcher) dispatch(ctx context.Context, job *domain.Job) bool {
	switch job.Channel {
	case domain.ChannelEmail:
		return d.dispatchEmail(ctx, job)
	case domain.ChannelSMS:
		return d.dispatchSMS(ctx, job)
	default:
		d.failJob(ctx, job, fmt.Sprintf("%s: %q", errUnsupportedChannel, job.Channel))
		return false
	}
}

func (d *Dispatcher) dispatchEmail(ctx context.Context, job *domain.Job) bool {
	settings, err := d.settings.EmailSettings(ctx, job.UserID)
	if err != nil {
		d.transientFailure(ctx, job, fmt.Sprintf("loading email settings: %v", err))
		return false
	}

	// Preflight: configuration gaps are permanent, and the gateway is
	// never called.
	switch {
	case settings == nil:
		d.failJob(ctx, job, errNoEmailSettings)
		return false
	case settings.Mode == domain.EmailModeCustomDomain && !settings.HasServerToken():
		d.failJob(ctx, job, errNoCustomToken)
		return false
	case settings.Mode == domain.EmailModePlatform && !d.cfg.PlatformTokenSet:
		d.failJob(ctx, job, errNoPlatformToken)
		return false
	case settings.Mode != domain.EmailModePlatform && settings.Mode != domain.EmailModeCustomDomain:
		d.failJob(ctx, job, fmt.Sprintf("Email settings invalid mode: %q", settings.Mode))
		return false
	}

	start := time.Now()
	result, provider, err := d.email.Send(ctx, job, settings)
	if err != nil {
		d.transientFailure(ctx, job, err.Error())
		return false
	}
	d.metrics.SendDuration.WithLabelValues(string(provider)).Observe(time.Since(start).Seconds())

	if result.Accepted() {
		d.markSent(ctx, job, provider, result.MessageID)
		return true
	}
	if result.Permanent {
		d.failJob(ctx, job, result.Err)
	} else {
		d.transientFailure(ctx, job, result.Err)
	}
	return false
}

func (d *Dispatcher) dispatchSMS(ctx context.Context, job *domain.Job) bool {
	settings, err := d.settings.SMSSettings(ctx, job.UserID)
	if err != nil {
		d.transientFailure(ctx, job, fmt.Sprintf("loading sms settings: %v", err))
		return false
	}

	switch {
	case settings == nil || !settings.Enabled:
		d.failJob(ctx, job, errSMSNotEnabled)
		return false
	case !settings.Sendable():
		d.failJob(ctx, job, errSMSIncomplete)
		return false
	}

	start := time.Now()
	result, err := d.sms.Send(ctx, job, settings)
	if err != nil {
		d.transientFailure(ctx, job, err.Error())
		return false
	}
	d.metrics.SendDuration.WithLabelValues(string(domain.ProviderTwilio)).Observe(time.Since(start).Seconds())

	if result.Accepted() {
		d.markSent(ctx, job, domain.ProviderTwilio, result.MessageID)
		return true
	}
	if result.Permanent {
		d.failJob(ctx, job, result.Err)
	} else {
		d.transientFailure(ctx, job, result.Err)
	}
	return false
}

func (d *Dispatcher) markSent(ctx context.Context, job *domain.Job, provider domain.Provider, messageID string) {
	if err := d.jobs.MarkSent(ctx, job.ID, provider, messageID); err != nil {
		d.log.Error("mark sent failed", "job_id", job.ID, "error", err.Error())
		return
	}
	d.log.Info("job sent",
		"job_id", job.ID, "channel", string(job.Channel), "provider", string(provider),
		"to", logger.RedactEmail(job.ToEmail), "message_id", messageID)
	d.metrics.JobsProcessed.WithLabelValues(string(job.Channel), "sent").Inc()
	d.tickSent.Add(1)

	if d.audit != nil && job.Channel == domain.ChannelEmail && job.Template == "statement" && job.CustomerID != nil {
		if _, err := d.audit.LogStatementSent(ctx, job.UserID, *job.CustomerID); err != nil {
			d.log.Warn("statement audit write failed", "job_id", job.ID, "error", err.Error())
		}
	}
	d.recordRunOutcome(ctx, job, true)
}

// failJob records a permanent failure.
func (d *Dispatcher) failJob(ctx context.Context, job *domain.Job, lastError string) {
	if err := d.jobs.MarkFailed(ctx, job.ID, lastError); err != nil {
		d.log.Error("mark failed failed", "job_id", job.ID, "error", err.Error())
		return
	}
	d.log.Warn("job failed permanently", "job_id", job.ID, "channel", string(job.Channel), "error", lastError)
	d.metrics.JobsProcessed.WithLabelValues(string(job.Channel), "failed").Inc()
	d.tickFailed.Add(1)
	d.recordRunOutcome(ctx, job, false)
}

// transientFailure requeues with backoff, or converts to terminal failed
// when the attempt budget is exhausted.
func (d *Dispatcher) transientFailure(ctx context.Context, job *domain.Job, lastError string) {
	attempts := job.AttemptCount + 1
	if attempts >= d.cfg.MaxAttempts {
		d.failJob(ctx, job, fmt.Sprintf("retries exhausted after %d attempts: %s", attempts, lastError))
		return
	}
	next := time.Now().UTC().Add(d.retry.Delay(attempts))
	if err := d.jobs.RequeueRetry(ctx, job.ID, lastError, next); err != nil {
		d.log.Error("requeue failed", "job_id", job.ID, "error", err.Error())
		return
	}
	d.log.Warn("job requeued",
		"job_id", job.ID, "attempt", attempts, "next_attempt_at", next.Format(time.RFC3339),
		"error", lastError)
	d.metrics.JobsProcessed.WithLabelValues(string(job.Channel), "requeued").Inc()
}

func (d *Dispatcher) recordRunOutcome(ctx context.Context, job *domain.Job, succeeded bool) {
	if job.RunID == nil {
		return
	}
	if err := d.runs.RecordOutcome(ctx, *job.RunID, succeeded); err != nil {
		d.log.Error("run outcome failed", "run_id", *job.RunID, "job_id", job.ID, "error", err.Error())
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
