package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
	"github.com/Maco21496/remindandpay-live/internal/pkg/metrics"
	"github.com/Maco21496/remindandpay-live/internal/pkg/secrets"
	"github.com/Maco21496/remindandpay-live/internal/repository/postgres"
)

// SMSSettingsStore resolves which account a Twilio callback belongs to.
// Satisfied by postgres.SettingsRepo.
type SMSSettingsStore interface {
	SMSSettingsBySubaccount(ctx context.Context, subaccountSID string) (*domain.SMSSettings, error)
	SMSSettingsByPhoneNumber(ctx context.Context, number string) (*domain.SMSSettings, error)
}

// twilioStatusMap translates Twilio message statuses onto the pipeline's
// delivery states. Anything unrecognized stays queued rather than guessing.
var twilioStatusMap = map[string]domain.DeliveryStatus{
	"queued":      domain.DeliveryQueued,
	"sending":     domain.DeliverySent,
	"sent":        domain.DeliverySent,
	"delivered":   domain.DeliveryDelivered,
	"undelivered": domain.DeliveryBounced,
	"failed":      domain.DeliveryBounced,
}

// TwilioWebhook ingests Twilio status callbacks and inbound SMS. Signature
// validation uses the per-account auth token when one is stored and the
// deployment has it enabled.
type TwilioWebhook struct {
	jobs              DeliveryJobStore
	events            DeliveryEventStore
	settings          SMSSettingsStore
	cipher            *secrets.Cipher
	validateSignature bool
	metrics           *metrics.Metrics
	log               *logger.Logger
}

// NewTwilioWebhook wires the Twilio ingestion handlers. cipher may be nil
// when no account stores an auth token; signature checks then skip.
func NewTwilioWebhook(jobs DeliveryJobStore, events DeliveryEventStore, settings SMSSettingsStore,
	cipher *secrets.Cipher, cfg config.WebhookConfig, m *metrics.Metrics) *TwilioWebhook {
	if m == nil {
		m = metrics.Nop()
	}
	return &TwilioWebhook{
		jobs:              jobs,
		events:            events,
		settings:          settings,
		cipher:            cipher,
		validateSignature: cfg.TwilioValidateSignature,
		metrics:           m,
		log:               logger.New("webhook.twilio"),
	}
}

// expectedSignature computes Twilio's request signature: the full URL with
// every form parameter appended in key order, HMAC-SHA1 under the account
// auth token, base64 encoded.
func expectedSignature(fullURL string, form url.Values, authToken string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// requestURL reconstructs the externally visible URL Twilio signed.
func requestURL(r *http.Request) string {
	scheme := "https"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS == nil {
		scheme = "http"
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}

// verify checks the X-Twilio-Signature header when validation applies for
// this account. Returns the HTTP status to respond with, or 0 to proceed.
func (h *TwilioWebhook) verify(r *http.Request, settings *domain.SMSSettings) int {
	if !h.validateSignature || settings.AuthTokenEnc == nil || *settings.AuthTokenEnc == "" || h.cipher == nil {
		return 0
	}
	token, err := h.cipher.Decrypt(*settings.AuthTokenEnc)
	if err != nil {
		h.log.Error("auth token decrypt failed", "user_id", settings.UserID, "error", err.Error())
		return 0
	}

	got := r.Header.Get("X-Twilio-Signature")
	if got == "" {
		return http.StatusUnauthorized
	}
	want := expectedSignature(requestURL(r), r.PostForm, token)
	if !hmac.Equal([]byte(got), []byte(want)) {
		return http.StatusForbidden
	}
	return 0
}

func (h *TwilioWebhook) lookupSettings(ctx context.Context, accountSID, to string) (*domain.SMSSettings, error) {
	if accountSID != "" {
		s, err := h.settings.SMSSettingsBySubaccount(ctx, accountSID)
		if err != nil || s != nil {
			return s, err
		}
	}
	if to != "" {
		return h.settings.SMSSettingsByPhoneNumber(ctx, to)
	}
	return nil, nil
}

// HandleStatus ingests one Twilio delivery status callback.
//
//	POST /api/sms/webhooks/status
func (h *TwilioWebhook) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": true, "reason": "bad_form"})
		return
	}

	settings, err := h.lookupSettings(r.Context(), r.PostForm.Get("AccountSid"), r.PostForm.Get("To"))
	if err != nil {
		h.log.Error("sms settings lookup failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if settings == nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "reason": "unknown_number"})
		return
	}
	if status := h.verify(r, settings); status != 0 {
		respondError(w, status, "signature rejected")
		return
	}

	messageSID := strings.TrimSpace(r.PostForm.Get("MessageSid"))
	rawStatus := strings.ToLower(strings.TrimSpace(r.PostForm.Get("MessageStatus")))
	if messageSID == "" {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}
	h.metrics.WebhookEvents.WithLabelValues("twilio", rawStatus).Inc()

	mapped, ok := twilioStatusMap[rawStatus]
	if !ok {
		mapped = domain.DeliveryQueued
	}

	job, err := h.jobs.FindByProviderMessageID(r.Context(), messageSID)
	if err != nil {
		h.log.Error("outbox lookup failed", "message_sid", messageSID, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if job == nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "queued": false, "note": "outbox_not_found"})
		return
	}

	now := time.Now().UTC()
	detail, _ := json.Marshal(flattenForm(r.PostForm))
	update := postgres.DeliveryUpdate{
		Provider:  domain.ProviderTwilio,
		MessageID: messageSID,
		Status:    mapped,
		Detail:    detail,
	}
	switch mapped {
	case domain.DeliveryDelivered:
		update.DeliveredAt = &now
	case domain.DeliveryBounced:
		update.BouncedAt = &now
	}
	if err := h.jobs.ApplyDeliveryUpdate(r.Context(), job.ID, update); err != nil {
		h.log.Error("delivery update failed", "job_id", job.ID, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "update failed")
		return
	}

	eventID := messageSID + ":" + rawStatus
	event := &domain.DeliveryEvent{
		OutboxID:          job.ID,
		ProviderMessageID: &messageSID,
		RecordType:        rawStatus,
		EventAt:           now,
		PayloadJSON:       detail,
		ProviderEventID:   &eventID,
	}
	if err := h.events.InsertDeliveryEvent(r.Context(), event); err != nil {
		h.log.Error("delivery event insert failed", "job_id", job.ID, "error", err.Error())
		respondError(w, http.StatusInternalServerError, "event insert failed")
		return
	}

	h.log.Info("sms status recorded", "job_id", job.ID, "status", rawStatus)
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// HandleInbound acknowledges inbound SMS after the same account lookup and
// signature gate. Reply forwarding is not part of the pipeline; the ack
// stops Twilio from retrying.
//
//	POST /api/sms/webhooks/inbound
func (h *TwilioWebhook) HandleInbound(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "ignored": true, "reason": "bad_form"})
		return
	}

	settings, err := h.lookupSettings(r.Context(), r.PostForm.Get("AccountSid"), r.PostForm.Get("To"))
	if err != nil {
		h.log.Error("sms settings lookup failed", "error", err.Error())
		respondError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if settings == nil {
		respondJSON(w, http.StatusOK, map[string]any{"ok": true, "reason": "unknown_number"})
		return
	}
	if status := h.verify(r, settings); status != 0 {
		respondError(w, status, "signature rejected")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// flattenForm folds url.Values into single-valued pairs for the stored
// delivery detail.
func flattenForm(form url.Values) map[string]string {
	out := make(map[string]string, len(form))
	for k := range form {
		out[k] = form.Get(k)
	}
	return out
}
