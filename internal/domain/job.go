package domain

import (
	"encoding/json"
	"time"
)

// JobStatus enumerates the dispatch lifecycle states of an outbox job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSent       JobStatus = "sent"
	JobFailed     JobStatus = "failed"
	JobCanceled   JobStatus = "canceled"
)

// DeliveryStatus tracks what the provider reported after we handed the
// message off. It evolves independently of JobStatus: a job that is
// terminally "sent" keeps receiving delivery updates via webhooks.
type DeliveryStatus string

const (
	DeliveryQueued     DeliveryStatus = "queued"
	DeliverySent       DeliveryStatus = "sent"
	DeliveryDelivered  DeliveryStatus = "delivered"
	DeliveryBounced    DeliveryStatus = "bounced"
	DeliveryComplained DeliveryStatus = "complained"
	DeliveryDeferred   DeliveryStatus = "deferred"
)

// Channel identifies the delivery medium of a job.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Provider identifies the upstream service a message was handed to.
type Provider string

const (
	ProviderPostmark Provider = "postmark"
	ProviderTwilio   Provider = "twilio"
	ProviderSES      Provider = "ses"
)

// Job is a single outbound message in the durable outbox. The row is the
// source of truth for the dispatch state machine: workers claim queued rows,
// mark them processing, and record the outcome before releasing the lock.
type Job struct {
	ID         int64   `json:"id" db:"id"`
	UserID     int64   `json:"user_id" db:"user_id"`
	CustomerID *int64  `json:"customer_id" db:"customer_id"`
	InvoiceID  *int64  `json:"invoice_id" db:"invoice_id"`
	Channel    Channel `json:"channel" db:"channel"`
	Template   string  `json:"template" db:"template"`

	// ToEmail holds the recipient address; for SMS jobs it carries the
	// destination phone number in E.164 form.
	ToEmail string `json:"to_email" db:"to_email"`
	Subject string `json:"subject" db:"subject"`
	Body    string `json:"body" db:"body"`

	PayloadJSON []byte `json:"-" db:"payload_json"`

	RuleID *int64 `json:"rule_id" db:"rule_id"`
	RunID  *int64 `json:"run_id" db:"run_id"`

	Provider          Provider `json:"provider" db:"provider"`
	ProviderMessageID *string  `json:"provider_message_id" db:"provider_message_id"`

	DeliveryStatus DeliveryStatus `json:"delivery_status" db:"delivery_status"`
	DeliveryDetail []byte         `json:"-" db:"delivery_detail"`
	DeliveredAt    *time.Time     `json:"delivered_at" db:"delivered_at"`
	BouncedAt      *time.Time     `json:"bounced_at" db:"bounced_at"`
	ComplainedAt   *time.Time     `json:"complained_at" db:"complained_at"`

	Status        JobStatus  `json:"status" db:"status"`
	AttemptCount  int        `json:"attempt_count" db:"attempt_count"`
	LastError     *string    `json:"last_error" db:"last_error"`
	NextAttemptAt time.Time  `json:"next_attempt_at" db:"next_attempt_at"`
	LockOwner     *string    `json:"lock_owner" db:"lock_owner"`
	LockAcquired  *time.Time `json:"lock_acquired_at" db:"lock_acquired_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IsTerminal returns true if the job is in a final dispatch state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobSent || j.Status == JobFailed || j.Status == JobCanceled
}

// Payload decodes payload_json into its typed form. A missing or malformed
// payload decodes to the zero value; a bad payload must never take down the
// dispatch loop.
func (j *Job) Payload() JobPayload {
	var p JobPayload
	if len(j.PayloadJSON) == 0 {
		return p
	}
	if err := json.Unmarshal(j.PayloadJSON, &p); err != nil {
		return JobPayload{}
	}
	return p
}

// JobPayload is the typed context attached to a job at enqueue time.
// Fields are optional; the dispatcher treats absent values as "not needed".
type JobPayload struct {
	CustomerID    int64  `json:"customer_id,omitempty"`
	RuleID        int64  `json:"rule_id,omitempty"`
	RunID         int64  `json:"run_id,omitempty"`
	DateFrom      string `json:"date_from,omitempty"`
	DateTo        string `json:"date_to,omitempty"`
	StatementURL  string `json:"statement_url,omitempty"`
	StatementHTML string `json:"statement_html,omitempty"`
	PDFFilename   string `json:"pdf_filename,omitempty"`
	OneOff        bool   `json:"one_off,omitempty"`
}

// Encode marshals the payload for storage. Returns nil on the zero payload
// so the column stays NULL rather than holding "{}".
func (p JobPayload) Encode() []byte {
	if p == (JobPayload{}) {
		return nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return b
}
