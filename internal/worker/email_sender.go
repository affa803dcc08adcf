package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/gateway"
	"github.com/Maco21496/remindandpay-live/internal/pkg/secrets"
	"github.com/Maco21496/remindandpay-live/internal/render"
)

// CustomerNamer resolves a customer for display in the composed email.
type CustomerNamer interface {
	Get(ctx context.Context, userID, id int64) (*domain.Customer, error)
}

// Mailer turns an email job into a provider send: resolves the server
// token and sender identity from the account settings, composes the HTML
// and text bodies, fetches the statement attachment, and hands off to
// Postmark (or SES when enabled for the platform).
type Mailer struct {
	postmark    gateway.EmailGateway
	ses         gateway.EmailGateway
	sesEnabled  bool
	cipher      *secrets.Cipher
	attachments *gateway.AttachmentFetcher
	customers   CustomerNamer

	baseURL       string
	platformName  string
	platformEmail string
	platformToken string
}

// NewMailer wires the email send path. ses may be nil; cipher is required
// only when custom-domain accounts exist, a nil cipher fails those sends
// permanently.
func NewMailer(pm gateway.EmailGateway, ses gateway.EmailGateway, sesEnabled bool,
	cipher *secrets.Cipher, attachments *gateway.AttachmentFetcher,
	customers CustomerNamer, serverBaseURL string, pmCfg config.PostmarkConfig) *Mailer {
	return &Mailer{
		postmark:      pm,
		ses:           ses,
		sesEnabled:    sesEnabled,
		cipher:        cipher,
		attachments:   attachments,
		customers:     customers,
		baseURL:       strings.TrimRight(serverBaseURL, "/"),
		platformName:  pmCfg.FromName,
		platformEmail: pmCfg.FromEmail,
		platformToken: pmCfg.DefaultToken,
	}
}

// Send composes and dispatches one email job.
func (m *Mailer) Send(ctx context.Context, job *domain.Job, settings *domain.EmailSettings) (*gateway.SendResult, domain.Provider, error) {
	token, fromName, fromEmail, permErr := m.resolveSender(settings)
	if permErr != "" {
		return &gateway.SendResult{Err: permErr, Permanent: true}, domain.ProviderPostmark, nil
	}

	msg := gateway.EmailMessage{
		FromName:  fromName,
		FromEmail: fromEmail,
		To:        job.ToEmail,
		Subject:   job.Subject,
	}
	m.compose(ctx, job, &msg)

	if m.sesEnabled && m.ses != nil {
		result, err := m.ses.Send(ctx, token, msg)
		return result, domain.ProviderSES, err
	}
	result, err := m.postmark.Send(ctx, token, msg)
	return result, domain.ProviderPostmark, err
}

// resolveSender picks the server token and From identity per the account's
// mode. Preflight has already validated the mode and token presence; what
// remains here (a failed decrypt) is still a permanent config failure.
func (m *Mailer) resolveSender(settings *domain.EmailSettings) (token, fromName, fromEmail, permErr string) {
	switch settings.Mode {
	case domain.EmailModeCustomDomain:
		if m.cipher == nil {
			return "", "", "", "Server misconfiguration: secrets cipher not configured for custom domain sends"
		}
		decrypted, err := m.cipher.Decrypt(derefOr(settings.ServerTokenEnc, ""))
		if err != nil {
			return "", "", "", fmt.Sprintf("decrypting Postmark server token: %v", err)
		}
		fromName = derefOr(settings.DefaultFromName, m.platformName)
		fromEmail = derefOr(settings.DefaultFromEmail, m.platformEmail)
		return decrypted, fromName, fromEmail, ""
	default: // platform
		return m.platformToken, m.platformName, m.platformEmail, ""
	}
}

// compose fills the message bodies and attachment. Statement jobs get the
// composed statement layout; everything else (chasing templates) passes
// the stored body through with a text fallback.
func (m *Mailer) compose(ctx context.Context, job *domain.Job, msg *gateway.EmailMessage) {
	payload := job.Payload()
	customerName := m.customerName(ctx, job)

	if job.Template == "statement" {
		htmlBody, textBody := render.ComposeStatement(render.Statement{
			CustomerName: customerName,
			Message:      job.Body,
			DateFrom:     payload.DateFrom,
			DateTo:       payload.DateTo,
			StatementURL: m.absoluteURL(payload.StatementURL),
		})
		msg.HTMLBody = htmlBody
		msg.TextBody = textBody
	} else {
		msg.HTMLBody = job.Body
		msg.TextBody = render.HTMLToText(job.Body)
	}

	if m.attachments != nil && (payload.StatementHTML != "" || payload.PDFFilename != "") {
		if att := m.attachments.Statement(ctx, payload, customerName); att != nil {
			msg.Attachments = append(msg.Attachments, *att)
		}
	}
}

// absoluteURL turns the payload's relative statement path into a link.
func (m *Mailer) absoluteURL(u string) string {
	if u == "" || !strings.HasPrefix(u, "/") {
		return u
	}
	return m.baseURL + u
}

// customerName falls back to the recipient address when the customer
// cannot be resolved; the composed footer always names someone.
func (m *Mailer) customerName(ctx context.Context, job *domain.Job) string {
	if m.customers != nil && job.CustomerID != nil {
		if c, err := m.customers.Get(ctx, job.UserID, *job.CustomerID); err == nil && c.Name != "" {
			return c.Name
		}
	}
	return job.ToEmail
}

func derefOr(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}
