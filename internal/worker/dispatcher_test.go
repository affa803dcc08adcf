package worker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maco21496/remindandpay-live/internal/backoff"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/gateway"
)

// ---- in-memory fakes ----

type fakeJobStore struct {
	queue []*domain.Job

	sent     map[int64]string // job id -> message id
	failed   map[int64]string // job id -> last error
	requeued map[int64]time.Time
	reclaim  int64
	pingErr  error
}

func newFakeJobStore(jobs ...*domain.Job) *fakeJobStore {
	return &fakeJobStore{
		queue:    jobs,
		sent:     map[int64]string{},
		failed:   map[int64]string{},
		requeued: map[int64]time.Time{},
	}
}

func (f *fakeJobStore) Ping(context.Context) error { return f.pingErr }

func (f *fakeJobStore) ClaimNextDueJob(_ context.Context, worker string) (*domain.Job, error) {
	if len(f.queue) == 0 {
		return nil, nil
	}
	j := f.queue[0]
	f.queue = f.queue[1:]
	j.Status = domain.JobProcessing
	j.LockOwner = &worker
	return j, nil
}

func (f *fakeJobStore) DueCount(context.Context) (int, error) { return len(f.queue), nil }

func (f *fakeJobStore) ReclaimStale(context.Context, time.Duration) (int64, error) {
	return f.reclaim, nil
}

func (f *fakeJobStore) MarkSent(_ context.Context, id int64, _ domain.Provider, msgID string) error {
	f.sent[id] = msgID
	return nil
}

func (f *fakeJobStore) MarkFailed(_ context.Context, id int64, lastError string) error {
	f.failed[id] = lastError
	return nil
}

func (f *fakeJobStore) RequeueRetry(_ context.Context, id int64, _ string, next time.Time) error {
	f.requeued[id] = next
	return nil
}

type fakeRunStore struct {
	outcomes map[int64][]bool // run id -> succeeded flags in order
}

func (f *fakeRunStore) RecordOutcome(_ context.Context, runID int64, ok bool) error {
	if f.outcomes == nil {
		f.outcomes = map[int64][]bool{}
	}
	f.outcomes[runID] = append(f.outcomes[runID], ok)
	return nil
}

type fakeSettingsStore struct {
	email *domain.EmailSettings
	sms   *domain.SMSSettings
}

func (f *fakeSettingsStore) EmailSettings(context.Context, int64) (*domain.EmailSettings, error) {
	return f.email, nil
}
func (f *fakeSettingsStore) SMSSettings(context.Context, int64) (*domain.SMSSettings, error) {
	return f.sms, nil
}

type fakeAudit struct{ calls int }

func (f *fakeAudit) LogStatementSent(context.Context, int64, int64) (int, error) {
	f.calls++
	return 1, nil
}

type fakeEmailSender struct {
	calls  int
	result *gateway.SendResult
	err    error
}

func (f *fakeEmailSender) Send(context.Context, *domain.Job, *domain.EmailSettings) (*gateway.SendResult, domain.Provider, error) {
	f.calls++
	return f.result, domain.ProviderPostmark, f.err
}

type fakeSMSSender struct {
	calls  int
	result *gateway.SendResult
	err    error
}

func (f *fakeSMSSender) Send(context.Context, *domain.Job, *domain.SMSSettings) (*gateway.SendResult, error) {
	f.calls++
	return f.result, f.err
}

func strPtr(s string) *string { return &s }
func i64Ptr(n int64) *int64   { return &n }

func emailJob(id int64, attempts int) *domain.Job {
	return &domain.Job{
		ID:           id,
		UserID:       7,
		CustomerID:   i64Ptr(42),
		Channel:      domain.ChannelEmail,
		Template:     "statement",
		ToEmail:      "dan@example.com",
		Subject:      "Statement for Dan",
		Body:         "Please find your latest statement below.",
		Status:       domain.JobQueued,
		AttemptCount: attempts,
	}
}

func platformSettings() *domain.EmailSettings {
	return &domain.EmailSettings{UserID: 7, Mode: domain.EmailModePlatform}
}

func newTestDispatcher(jobs *fakeJobStore, settings *fakeSettingsStore,
	email *fakeEmailSender, sms *fakeSMSSender, runs *fakeRunStore, audit *fakeAudit) *Dispatcher {
	var auditStore AuditStore
	if audit != nil {
		auditStore = audit
	}
	return NewDispatcher(
		Config{WorkerName: "sender-test", PlatformTokenSet: true},
		jobs, runs, settings, auditStore, email, sms, backoff.Default(), nil)
}

// ---- preflight ----

func TestPreflight_FailuresNeverReachGateway(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.EmailSettings
		tokenSet bool
		wantErr  string
	}{
		{
			name:    "no settings row",
			wantErr: "Email settings not configured for this account (no account_email_settings row)",
		},
		{
			name:     "custom domain without token",
			settings: &domain.EmailSettings{UserID: 7, Mode: domain.EmailModeCustomDomain},
			wantErr:  "Email settings incomplete: custom domain selected but no encrypted Postmark server token",
		},
		{
			name:     "platform without default token",
			settings: platformSettings(),
			wantErr:  "Server misconfiguration: POSTMARK_SERVER_TOKEN_DEFAULT is not set for platform mode",
		},
		{
			name:     "unknown mode",
			settings: &domain.EmailSettings{UserID: 7, Mode: "smoke_signals"},
			tokenSet: true,
			wantErr:  `Email settings invalid mode: "smoke_signals"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs := newFakeJobStore(emailJob(1, 0))
			email := &fakeEmailSender{}
			runs := &fakeRunStore{}
			d := NewDispatcher(
				Config{WorkerName: "sender-test", PlatformTokenSet: tt.tokenSet},
				jobs, runs, &fakeSettingsStore{email: tt.settings}, nil, email, &fakeSMSSender{}, backoff.Default(), nil)

			sent := d.ProcessOnce(context.Background())

			assert.Equal(t, 0, sent)
			assert.Equal(t, 0, email.calls, "preflight failure must not call the gateway")
			assert.Equal(t, tt.wantErr, jobs.failed[1])
		})
	}
}

func TestPreflight_SMS(t *testing.T) {
	tests := []struct {
		name     string
		settings *domain.SMSSettings
		wantErr  string
	}{
		{
			name:    "no settings row",
			wantErr: "SMS settings not enabled for this account",
		},
		{
			name:     "disabled",
			settings: &domain.SMSSettings{UserID: 7, Enabled: false},
			wantErr:  "SMS settings not enabled for this account",
		},
		{
			name:     "missing number",
			settings: &domain.SMSSettings{UserID: 7, Enabled: true, TwilioSubaccountSID: strPtr("ACsub")},
			wantErr:  "SMS settings incomplete: missing Twilio phone number or subaccount SID",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := emailJob(1, 0)
			job.Channel = domain.ChannelSMS
			job.ToEmail = "+15550002222"
			jobs := newFakeJobStore(job)
			sms := &fakeSMSSender{}
			d := newTestDispatcher(jobs, &fakeSettingsStore{sms: tt.settings}, &fakeEmailSender{}, sms, &fakeRunStore{}, nil)

			d.ProcessOnce(context.Background())

			assert.Equal(t, 0, sms.calls)
			assert.Equal(t, tt.wantErr, jobs.failed[1])
		})
	}
}

// ---- outcomes ----

func TestDispatch_SuccessMarksSentAndAudits(t *testing.T) {
	jobs := newFakeJobStore(emailJob(1, 0))
	email := &fakeEmailSender{result: &gateway.SendResult{MessageID: "pm-1"}}
	audit := &fakeAudit{}
	d := newTestDispatcher(jobs, &fakeSettingsStore{email: platformSettings()}, email, &fakeSMSSender{}, &fakeRunStore{}, audit)

	sent := d.ProcessOnce(context.Background())

	assert.Equal(t, 1, sent)
	assert.Equal(t, "pm-1", jobs.sent[1])
	assert.Equal(t, 1, audit.calls, "statement sends write the reminder audit trail")
	assert.Empty(t, jobs.failed)
}

func TestDispatch_PermanentFailure(t *testing.T) {
	jobs := newFakeJobStore(emailJob(1, 0))
	email := &fakeEmailSender{result: &gateway.SendResult{Err: "postmark status 422 code 406: inactive", Permanent: true}}
	d := newTestDispatcher(jobs, &fakeSettingsStore{email: platformSettings()}, email, &fakeSMSSender{}, &fakeRunStore{}, nil)

	d.ProcessOnce(context.Background())

	assert.Contains(t, jobs.failed[1], "code 406")
	assert.Empty(t, jobs.requeued)
}

func TestDispatch_TransientBackoffSchedule(t *testing.T) {
	// Expected delay after the Nth failed attempt.
	wantMinutes := []int{1, 2, 4, 8, 16, 32, 60}

	for i, want := range wantMinutes {
		attempts := i // attempt_count before this claim
		jobs := newFakeJobStore(emailJob(1, attempts))
		email := &fakeEmailSender{result: &gateway.SendResult{Err: "postmark status 429 code 0: slow down"}}
		d := newTestDispatcher(jobs, &fakeSettingsStore{email: platformSettings()}, email, &fakeSMSSender{}, &fakeRunStore{}, nil)

		before := time.Now().UTC()
		d.ProcessOnce(context.Background())

		next, ok := jobs.requeued[1]
		require.True(t, ok, "attempt %d should requeue", attempts+1)
		delta := next.Sub(before)
		assert.InDelta(t, float64(want), delta.Minutes(), 0.1,
			"attempt %d delay", attempts+1)
	}
}

func TestDispatch_ExhaustionIsTerminal(t *testing.T) {
	// attempt_count 7 going into the claim: this is attempt 8 of 8.
	email := &fakeEmailSender{result: &gateway.SendResult{Err: "postmark status 500 code 0: boom"}}
	runs := &fakeRunStore{}
	job := emailJob(1, 7)
	job.RunID = i64Ptr(55)
	jobs := newFakeJobStore(job)
	d := newTestDispatcher(jobs, &fakeSettingsStore{email: platformSettings()}, email, &fakeSMSSender{}, runs, nil)

	d.ProcessOnce(context.Background())

	assert.Empty(t, jobs.requeued)
	assert.Contains(t, jobs.failed[1], "retries exhausted after 8 attempts")
	assert.Equal(t, []bool{false}, runs.outcomes[55], "exhaustion counts against the run")
}

func TestDispatch_TransportErrorIsTransient(t *testing.T) {
	jobs := newFakeJobStore(emailJob(1, 0))
	email := &fakeEmailSender{err: context.DeadlineExceeded}
	d := newTestDispatcher(jobs, &fakeSettingsStore{email: platformSettings()}, email, &fakeSMSSender{}, &fakeRunStore{}, nil)

	d.ProcessOnce(context.Background())

	_, requeued := jobs.requeued[1]
	assert.True(t, requeued)
	assert.Empty(t, jobs.failed)
}

func TestDispatch_RunOutcomesMixed(t *testing.T) {
	ok := emailJob(1, 0)
	ok.RunID = i64Ptr(55)
	bad := emailJob(2, 0)
	bad.RunID = i64Ptr(55)
	bad.UserID = 8 // no settings for this account in the fake

	jobs := newFakeJobStore(ok, bad)
	runs := &fakeRunStore{}
	settings := &settingsByUser{7: platformSettings()}
	email := &fakeEmailSender{result: &gateway.SendResult{MessageID: "pm-1"}}
	d := NewDispatcher(Config{WorkerName: "sender-test", PlatformTokenSet: true},
		jobs, runs, settings, nil, email, &fakeSMSSender{}, backoff.Default(), nil)

	d.ProcessOnce(context.Background())

	assert.Equal(t, []bool{true, false}, runs.outcomes[55])
}

// settingsByUser maps user id to email settings; users absent from the map
// have no settings row.
type settingsByUser map[int64]*domain.EmailSettings

func (s settingsByUser) EmailSettings(_ context.Context, userID int64) (*domain.EmailSettings, error) {
	return s[userID], nil
}
func (s settingsByUser) SMSSettings(context.Context, int64) (*domain.SMSSettings, error) {
	return nil, nil
}

func TestProcessOnce_DatabaseHeartbeatGate(t *testing.T) {
	jobs := newFakeJobStore(emailJob(1, 0))
	jobs.pingErr = context.DeadlineExceeded
	email := &fakeEmailSender{}
	d := newTestDispatcher(jobs, &fakeSettingsStore{email: platformSettings()}, email, &fakeSMSSender{}, &fakeRunStore{}, nil)

	sent := d.ProcessOnce(context.Background())

	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, email.calls, "no claims while the database is unreachable")
	assert.Len(t, jobs.queue, 1)
}

func TestConfigNormalize_GeneratedWorkerName(t *testing.T) {
	cfg := Config{}
	cfg.normalize()
	assert.Regexp(t, `^sender-[0-9a-f-]{8}$`, cfg.WorkerName)
	assert.Equal(t, 100, cfg.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 8, cfg.MaxAttempts)
	assert.Equal(t, 120*time.Second, cfg.StaleAfter)
}
