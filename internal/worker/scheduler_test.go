package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/Maco21496/remindandpay-live/internal/service/outbox"
)

type fakeEnqueuer struct {
	calls int
	runs  []outbox.RunSummary
	err   error
}

func (f *fakeEnqueuer) EnqueueDueRuns(context.Context) ([]outbox.RunSummary, error) {
	f.calls++
	return f.runs, f.err
}

type fakeLock struct {
	acquired bool
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) { return f.acquired, nil }
func (f *fakeLock) Release(context.Context) error         { f.releases++; return nil }

func TestSchedulerTick_LockWinnerRuns(t *testing.T) {
	enq := &fakeEnqueuer{runs: []outbox.RunSummary{{RuleID: 3, RunID: 55, Jobs: 4}}}
	lock := &fakeLock{acquired: true}
	s := NewScheduler(enq, lock, time.Minute)

	ran := s.Tick(context.Background())

	assert.True(t, ran)
	assert.Equal(t, 1, enq.calls)
	assert.Equal(t, 1, lock.releases, "lock released after the pass")
}

func TestSchedulerTick_LockLoserSkipsSilently(t *testing.T) {
	enq := &fakeEnqueuer{}
	lock := &fakeLock{acquired: false}
	s := NewScheduler(enq, lock, time.Minute)

	ran := s.Tick(context.Background())

	assert.False(t, ran)
	assert.Equal(t, 0, enq.calls)
	assert.Equal(t, 0, lock.releases)
}

func TestSchedulerTick_NoLockConfigured(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewScheduler(enq, nil, time.Minute)

	assert.True(t, s.Tick(context.Background()))
	assert.Equal(t, 1, enq.calls)
}
