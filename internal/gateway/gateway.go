// Package gateway holds the outbound provider clients: Postmark and SES
// for email, Twilio for SMS, plus the statement attachment fetcher. The
// clients are deliberately thin — classification of failures is theirs,
// retry policy belongs to the dispatcher.
package gateway

import "context"

// SendResult is the provider's verdict on one send attempt. A transport
// failure (network, timeout) is returned as an error instead and is always
// transient; an unsuccessful SendResult carries the permanent/transient
// classification in Permanent.
type SendResult struct {
	MessageID  string
	StatusCode int
	ErrorCode  int
	Err        string
	Permanent  bool
}

// Accepted reports whether the provider took the message.
func (r *SendResult) Accepted() bool { return r.Err == "" }

// Attachment is one file attached to an outbound email. Content is the raw
// bytes; clients base64-encode at the wire.
type Attachment struct {
	Name        string
	ContentType string
	Content     []byte
}

// EmailMessage is a provider-neutral outbound email.
type EmailMessage struct {
	FromName    string
	FromEmail   string
	To          string
	Subject     string
	HTMLBody    string
	TextBody    string
	Attachments []Attachment
}

// SMSMessage is an outbound SMS addressed with E.164 numbers.
type SMSMessage struct {
	SubaccountSID string
	From          string
	To            string
	Body          string
}

// EmailGateway sends one email through a provider. token is the provider
// credential resolved for the sending account (Postmark server token;
// ignored by SES, whose credentials are process-wide).
type EmailGateway interface {
	Send(ctx context.Context, token string, msg EmailMessage) (*SendResult, error)
}

// SMSGateway sends one SMS through a provider subaccount.
type SMSGateway interface {
	Send(ctx context.Context, msg SMSMessage) (*SendResult, error)
}

// permanent4xx is the shared status-code rule: any 4xx except 429 will not
// get better on retry.
func permanent4xx(status int) bool {
	return status >= 400 && status < 500 && status != 429
}
