package domain

import "time"

// DeliveryEvent is one provider webhook occurrence attached to an outbox
// job. Events are append-only; duplicates (same provider_event_id) are
// dropped at insert time so replayed webhooks stay harmless.
type DeliveryEvent struct {
	ID                int64     `json:"id" db:"id"`
	OutboxID          int64     `json:"outbox_id" db:"outbox_id"`
	ProviderMessageID *string   `json:"provider_message_id" db:"provider_message_id"`
	RecordType        string    `json:"record_type" db:"record_type"`
	EventAt           time.Time `json:"event_at" db:"event_at"`
	PayloadJSON       []byte    `json:"-" db:"payload_json"`
	ProviderEventID   *string   `json:"provider_event_id" db:"provider_event_id"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// ReminderEvent is the audit record written against each open invoice when
// a statement email is accepted by the provider.
type ReminderEvent struct {
	ID        int64     `json:"id" db:"id"`
	InvoiceID int64     `json:"invoice_id" db:"invoice_id"`
	Channel   Channel   `json:"channel" db:"channel"`
	Template  string    `json:"template" db:"template"`
	SentAt    time.Time `json:"sent_at" db:"sent_at"`
	Meta      []byte    `json:"-" db:"meta"`
}
