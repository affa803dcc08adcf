package worker

import (
	"context"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/pkg/distlock"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

// EnqueueDueLockKey elects one scheduler per tick across all workers.
const EnqueueDueLockKey = "outbox:enqueue-due"

// Enqueuer is the slice of the outbox service the scheduler calls.
type Enqueuer interface {
	EnqueueDueRuns(ctx context.Context) ([]outbox.RunSummary, error)
}

// Scheduler fires the enqueue-due pass on an interval. Every worker may
// run one; the distributed lock picks a single winner per tick and losers
// skip silently.
type Scheduler struct {
	enqueue  Enqueuer
	lock     distlock.DistLock
	interval time.Duration
	log      *logger.Logger
}

// NewScheduler creates a scheduler. lock may be nil in single-process
// deployments, which disables the election.
func NewScheduler(enqueue Enqueuer, lock distlock.DistLock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		enqueue:  enqueue,
		lock:     lock,
		interval: interval,
		log:      logger.New("scheduler"),
	}
}

// Run ticks until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info("scheduler started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping")
			return
		case <-ticker.C:
		}
	}
}

// Tick runs one enqueue-due pass, guarded by the lock. Returns true when
// this process held the lock and ran the pass.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if s.lock != nil {
		ok, err := s.lock.Acquire(ctx)
		if err != nil {
			s.log.Error("scheduler lock acquire failed", "error", err.Error())
			return false
		}
		if !ok {
			return false
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				s.log.Warn("scheduler lock release failed", "error", err.Error())
			}
		}()
	}

	summaries, err := s.enqueue.EnqueueDueRuns(ctx)
	if err != nil {
		s.log.Error("enqueue-due pass failed", "error", err.Error())
		return true
	}
	for _, sum := range summaries {
		s.log.Info("statement run enqueued",
			"run_id", sum.RunID, "rule_id", sum.RuleID, "jobs", sum.Jobs)
	}
	return true
}
