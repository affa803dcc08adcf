package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/pkg/metrics"
	"github.com/Maco21496/remindandpay-live/internal/repository/postgres"
)

// DeliveryJobStore resolves jobs from provider message ids and folds
// delivery confirmations into them. Satisfied by postgres.OutboxRepo.
type DeliveryJobStore interface {
	FindByProviderMessageID(ctx context.Context, messageID string) (*domain.Job, error)
	ApplyDeliveryUpdate(ctx context.Context, jobID int64, u postgres.DeliveryUpdate) error
}

// DeliveryEventStore appends webhook events. Satisfied by postgres.EventRepo.
type DeliveryEventStore interface {
	InsertDeliveryEvent(ctx context.Context, e *domain.DeliveryEvent) error
}

// PostmarkWebhook ingests Postmark delivery webhooks. Every response is
// 200 once auth passes: a non-2xx makes Postmark retry, and a payload we
// cannot use now will not become usable on replay.
type PostmarkWebhook struct {
	jobs    DeliveryJobStore
	events  DeliveryEventStore
	user    string
	pass    string
	metrics *metrics.Metrics
	log     *logger.Logger
}

// NewPostmarkWebhook wires the Postmark ingestion handler. Basic auth
// credentials come from configuration; unset credentials fail closed.
func NewPostmarkWebhook(jobs DeliveryJobStore, events DeliveryEventStore, cfg config.WebhookConfig, m *metrics.Metrics) *PostmarkWebhook {
	if m == nil {
		m = metrics.Nop()
	}
	return &PostmarkWebhook{
		jobs:    jobs,
		events:  events,
		user:    cfg.PostmarkUser,
		pass:    cfg.PostmarkPass,
		metrics: m,
		log:     logger.New("webhook.postmark"),
	}
}

// postmarkEvent is the subset of Postmark's webhook payload the pipeline
// reads. The raw body is stored alongside, so unparsed fields are not lost.
type postmarkEvent struct {
	RecordType        string `json:"RecordType"`
	MessageID         string `json:"MessageID"`
	OriginalMessageID string `json:"OriginalMessageID"`

	DeliveredAt string `json:"DeliveredAt"`
	BouncedAt   string `json:"BouncedAt"`
	ReceivedAt  string `json:"ReceivedAt"`
	Timestamp   string `json:"Timestamp"`

	ID       json.Number `json:"ID"`
	BounceID json.Number `json:"BounceID"`
	ClickID  string      `json:"ClickID"`
}

// messageID prefers MessageID and falls back to OriginalMessageID, which
// bounce payloads carry instead.
func (e *postmarkEvent) messageID() string {
	if id := strings.TrimSpace(e.MessageID); id != "" {
		return id
	}
	return strings.TrimSpace(e.OriginalMessageID)
}

// eventID is the provider's idempotency key when one is present.
func (e *postmarkEvent) eventID() *string {
	for _, v := range []string{e.ID.String(), e.BounceID.String(), e.ClickID} {
		if v != "" && v != "0" {
			id := v
			return &id
		}
	}
	return nil
}

// eventAt derives the canonical event timestamp, falling back across the
// known fields and finally to the ingestion time.
func (e *postmarkEvent) eventAt(now time.Time) time.Time {
	for _, v := range []string{e.DeliveredAt, e.BouncedAt, e.ReceivedAt, e.Timestamp} {
		if t, ok := parseISOTime(v); ok {
			return t
		}
	}
	return now
}

func parseISOTime(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func (h *PostmarkWebhook) authorized(r *http.Request) bool {
	if h.user == "" || h.pass == "" {
		return false
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	userOK := subtle.ConstantTimeCompare([]byte(user), []byte(h.user)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(pass), []byte(h.pass)) == 1
	return userOK && passOK
}

// Handle ingests one Postmark webhook call.
//
//	POST /api/postmark/webhook
func (h *PostmarkWebhook) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		w.Header().Set("WWW-Authenticate", `Basic realm="postmark-webhook"`)
		respondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": true, "reason": "bad_json"})
		return
	}

	var evt postmarkEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": true, "reason": "bad_json"})
		return
	}

	recordType := strings.TrimSpace(evt.RecordType)
	msgID := evt.messageID()
	if recordType == "" || msgID == "" {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": true, "reason": "missing_recordtype_or_messageid"})
		return
	}
	h.metrics.WebhookEvents.WithLabelValues("postmark", recordType).Inc()

	job, err := h.jobs.FindByProviderMessageID(r.Context(), msgID)
	if err != nil {
		h.log.Error("outbox lookup failed", "message_id", msgID, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if job == nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "queued": false, "note": "outbox_not_found"})
		return
	}

	now := time.Now().UTC()
	eventAt := evt.eventAt(now)
	update := postgres.DeliveryUpdate{
		Provider:  domain.ProviderPostmark,
		MessageID: msgID,
		Detail:    body,
	}
	switch recordType {
	case "Delivery":
		update.Status = domain.DeliveryDelivered
		update.DeliveredAt = &eventAt
	case "Bounce":
		update.Status = domain.DeliveryBounced
		update.BouncedAt = &eventAt
	case "SpamComplaint":
		update.Status = domain.DeliveryComplained
		update.ComplainedAt = &eventAt
	default:
		// Open, Click, and anything unrecognized refresh the raw detail
		// without moving delivery_status.
	}

	if err := h.jobs.ApplyDeliveryUpdate(r.Context(), job.ID, update); err != nil {
		h.log.Error("delivery update failed", "job_id", job.ID, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	event := &domain.DeliveryEvent{
		OutboxID:          job.ID,
		ProviderMessageID: &msgID,
		RecordType:        recordType,
		EventAt:           eventAt,
		PayloadJSON:       body,
		ProviderEventID:   evt.eventID(),
	}
	if err := h.events.InsertDeliveryEvent(r.Context(), event); err != nil {
		h.log.Error("delivery event insert failed", "job_id", job.ID, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "event insert failed")
		return
	}

	h.log.Info("delivery event recorded",
		"job_id", job.ID, "record_type", recordType, "message_id", msgID)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}
