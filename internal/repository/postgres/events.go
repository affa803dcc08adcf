package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/domain"
)

// EventRepo persists delivery events (provider webhook occurrences) and the
// reminder audit trail written when statement emails go out.
type EventRepo struct{ db *sql.DB }

// NewEventRepo creates a Postgres-backed event repository.
func NewEventRepo(db *sql.DB) *EventRepo { return &EventRepo{db: db} }

// InsertDeliveryEvent appends one provider event. Duplicate provider_event_id
// values are silently dropped (partial unique index + DO NOTHING), which is
// what makes webhook replays harmless.
func (r *EventRepo) InsertDeliveryEvent(ctx context.Context, e *domain.DeliveryEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO delivery_events
			(outbox_id, provider_message_id, record_type, event_at, payload_json, provider_event_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (provider_event_id) WHERE provider_event_id IS NOT NULL DO NOTHING
	`, e.OutboxID, e.ProviderMessageID, e.RecordType, e.EventAt, nullBytes(e.PayloadJSON), e.ProviderEventID)
	if err != nil {
		return fmt.Errorf("insert delivery event: %w", err)
	}
	return nil
}

// LogStatementSent writes one reminder_events audit row per open, chasing,
// or partial invoice the customer currently has. Returns how many rows were
// written.
func (r *EventRepo) LogStatementSent(ctx context.Context, userID, customerID int64) (int, error) {
	meta, _ := json.Marshal(map[string]any{"customer_id": customerID, "statement": true})
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO reminder_events (invoice_id, channel, template, sent_at, meta)
		SELECT i.id, 'email', 'statement', $3, $4
		  FROM invoices i
		 WHERE i.user_id = $1
		   AND i.customer_id = $2
		   AND i.status IN ('open', 'chasing', 'partial')
	`, userID, customerID, time.Now().UTC(), meta)
	if err != nil {
		return 0, fmt.Errorf("log statement events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
