package worker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/gateway"
	"github.com/Maco21496/remindandpay-live/internal/pkg/secrets"
)

type recordingGateway struct {
	calls  int
	token  string
	msg    gateway.EmailMessage
	result *gateway.SendResult
	err    error
}

func (g *recordingGateway) Send(_ context.Context, token string, msg gateway.EmailMessage) (*gateway.SendResult, error) {
	g.calls++
	g.token = token
	g.msg = msg
	if g.result == nil && g.err == nil {
		return &gateway.SendResult{MessageID: "msg-1", StatusCode: 200}, nil
	}
	return g.result, g.err
}

type fakeNamer struct {
	customers map[int64]*domain.Customer
}

func (f *fakeNamer) Get(_ context.Context, _, id int64) (*domain.Customer, error) {
	if c, ok := f.customers[id]; ok {
		return c, nil
	}
	return nil, context.Canceled
}

func testPostmarkConfig() config.PostmarkConfig {
	return config.PostmarkConfig{
		DefaultToken: "platform-token",
		FromName:     "Remind & Pay",
		FromEmail:    "accounts@remindandpay.com",
	}
}

func testCipher(t *testing.T) *secrets.Cipher {
	t.Helper()
	c, err := secrets.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return c
}

func TestMailerSend_PlatformTokenAndIdentity(t *testing.T) {
	pm := &recordingGateway{}
	m := NewMailer(pm, nil, false, nil, nil, nil, "https://app.example.com", testPostmarkConfig())

	job := &domain.Job{ID: 1, UserID: 7, Channel: domain.ChannelEmail,
		ToEmail: "jo@customer.test", Subject: "Reminder", Body: "<p>Pay up</p>", Template: "chasing"}
	settings := &domain.EmailSettings{UserID: 7, Mode: domain.EmailModePlatform}

	result, provider, err := m.Send(context.Background(), job, settings)
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Equal(t, domain.ProviderPostmark, provider)
	assert.Equal(t, "platform-token", pm.token)
	assert.Equal(t, "Remind & Pay", pm.msg.FromName)
	assert.Equal(t, "accounts@remindandpay.com", pm.msg.FromEmail)
	assert.Equal(t, "<p>Pay up</p>", pm.msg.HTMLBody)
	assert.Equal(t, "Pay up", pm.msg.TextBody)
}

func TestMailerSend_CustomDomainDecryptsToken(t *testing.T) {
	cipher := testCipher(t)
	enc, err := cipher.Encrypt("account-token")
	require.NoError(t, err)

	pm := &recordingGateway{}
	m := NewMailer(pm, nil, false, cipher, nil, nil, "", testPostmarkConfig())

	fromName := "Acme Accounts"
	fromEmail := "billing@acme.test"
	settings := &domain.EmailSettings{
		UserID:           7,
		Mode:             domain.EmailModeCustomDomain,
		ServerTokenEnc:   &enc,
		DefaultFromName:  &fromName,
		DefaultFromEmail: &fromEmail,
	}
	job := &domain.Job{ID: 2, UserID: 7, ToEmail: "jo@customer.test", Body: "hi"}

	result, _, err := m.Send(context.Background(), job, settings)
	require.NoError(t, err)
	assert.True(t, result.Accepted())
	assert.Equal(t, "account-token", pm.token)
	assert.Equal(t, "Acme Accounts", pm.msg.FromName)
	assert.Equal(t, "billing@acme.test", pm.msg.FromEmail)
}

func TestMailerSend_DecryptFailureIsPermanent(t *testing.T) {
	pm := &recordingGateway{}
	m := NewMailer(pm, nil, false, testCipher(t), nil, nil, "", testPostmarkConfig())

	garbage := "not-a-real-ciphertext"
	settings := &domain.EmailSettings{
		UserID: 7, Mode: domain.EmailModeCustomDomain, ServerTokenEnc: &garbage,
	}
	job := &domain.Job{ID: 3, UserID: 7, ToEmail: "jo@customer.test"}

	result, _, err := m.Send(context.Background(), job, settings)
	require.NoError(t, err)
	assert.True(t, result.Permanent)
	assert.Contains(t, result.Err, "decrypting Postmark server token")
	assert.Equal(t, 0, pm.calls, "a config failure must not reach the provider")
}

func TestMailerSend_NilCipherFailsCustomDomain(t *testing.T) {
	pm := &recordingGateway{}
	m := NewMailer(pm, nil, false, nil, nil, nil, "", testPostmarkConfig())

	enc := "irrelevant"
	settings := &domain.EmailSettings{
		UserID: 7, Mode: domain.EmailModeCustomDomain, ServerTokenEnc: &enc,
	}

	result, _, err := m.Send(context.Background(), &domain.Job{ID: 4, UserID: 7}, settings)
	require.NoError(t, err)
	assert.True(t, result.Permanent)
	assert.Contains(t, result.Err, "secrets cipher not configured")
	assert.Equal(t, 0, pm.calls)
}

func TestMailerSend_StatementComposition(t *testing.T) {
	pm := &recordingGateway{}
	custID := int64(30)
	namer := &fakeNamer{customers: map[int64]*domain.Customer{
		custID: {ID: custID, UserID: 7, Name: "Jo Bloggs"},
	}}
	m := NewMailer(pm, nil, false, nil, nil, namer, "https://app.example.com/", testPostmarkConfig())

	payload := domain.JobPayload{
		CustomerID:   custID,
		DateFrom:     "2026-07-01",
		DateTo:       "2026-07-31",
		StatementURL: "/statements/abc123",
	}
	job := &domain.Job{
		ID: 5, UserID: 7, CustomerID: &custID, Template: "statement",
		ToEmail: "jo@customer.test", Subject: "Statement for Jo Bloggs",
		Body: "Please find your latest statement below.", PayloadJSON: payload.Encode(),
	}

	_, _, err := m.Send(context.Background(), job, &domain.EmailSettings{UserID: 7, Mode: domain.EmailModePlatform})
	require.NoError(t, err)
	assert.Contains(t, pm.msg.HTMLBody, "https://app.example.com/statements/abc123")
	assert.Contains(t, pm.msg.HTMLBody, "Jo Bloggs")
	assert.Contains(t, pm.msg.HTMLBody, "2026-07-01")
	assert.Contains(t, pm.msg.TextBody, "https://app.example.com/statements/abc123")
	assert.Empty(t, pm.msg.Attachments)
}

func TestMailerSend_CustomerFallsBackToRecipient(t *testing.T) {
	pm := &recordingGateway{}
	custID := int64(99)
	m := NewMailer(pm, nil, false, nil, nil, &fakeNamer{}, "", testPostmarkConfig())

	job := &domain.Job{
		ID: 6, UserID: 7, CustomerID: &custID, Template: "statement",
		ToEmail: "jo@customer.test",
	}
	_, _, err := m.Send(context.Background(), job, &domain.EmailSettings{UserID: 7, Mode: domain.EmailModePlatform})
	require.NoError(t, err)
	assert.Contains(t, pm.msg.HTMLBody, "jo@customer.test")
}

func TestMailerSend_AttachmentIncluded(t *testing.T) {
	pm := &recordingGateway{}
	custID := int64(30)
	namer := &fakeNamer{customers: map[int64]*domain.Customer{
		custID: {ID: custID, UserID: 7, Name: "Jo Bloggs"},
	}}
	fetcher := gateway.NewAttachmentFetcher(nil, nil)
	m := NewMailer(pm, nil, false, nil, fetcher, namer, "", testPostmarkConfig())

	payload := domain.JobPayload{
		CustomerID:    custID,
		StatementHTML: "<html><body>statement</body></html>",
		PDFFilename:   "statement.html",
	}
	job := &domain.Job{
		ID: 7, UserID: 7, CustomerID: &custID, Template: "statement",
		ToEmail: "jo@customer.test", PayloadJSON: payload.Encode(),
	}

	_, _, err := m.Send(context.Background(), job, &domain.EmailSettings{UserID: 7, Mode: domain.EmailModePlatform})
	require.NoError(t, err)
	require.Len(t, pm.msg.Attachments, 1)
	assert.Equal(t, []byte("<html><body>statement</body></html>"), pm.msg.Attachments[0].Content)
}

func TestMailerSend_SESRouting(t *testing.T) {
	pm := &recordingGateway{}
	ses := &recordingGateway{}
	m := NewMailer(pm, ses, true, nil, nil, nil, "", testPostmarkConfig())

	job := &domain.Job{ID: 8, UserID: 7, ToEmail: "jo@customer.test", Body: "hi"}
	_, provider, err := m.Send(context.Background(), job, &domain.EmailSettings{UserID: 7, Mode: domain.EmailModePlatform})
	require.NoError(t, err)
	assert.Equal(t, domain.ProviderSES, provider)
	assert.Equal(t, 0, pm.calls)
	assert.Equal(t, 1, ses.calls)
}
