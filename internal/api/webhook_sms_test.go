package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/pkg/secrets"
)

type fakeSMSSettings struct {
	bySubaccount map[string]*domain.SMSSettings
	byNumber     map[string]*domain.SMSSettings
}

func (f *fakeSMSSettings) SMSSettingsBySubaccount(_ context.Context, sid string) (*domain.SMSSettings, error) {
	return f.bySubaccount[sid], nil
}

func (f *fakeSMSSettings) SMSSettingsByPhoneNumber(_ context.Context, number string) (*domain.SMSSettings, error) {
	return f.byNumber[number], nil
}

func smsSettings(userID int64) *domain.SMSSettings {
	sid := "AC-sub-1"
	num := "+15550001111"
	return &domain.SMSSettings{UserID: userID, Enabled: true,
		TwilioSubaccountSID: &sid, TwilioPhoneNumber: &num}
}

func newTwilioFixture(store *fakeDeliveryStore, settings *fakeSMSSettings,
	cipher *secrets.Cipher, validate bool) *TwilioWebhook {
	return NewTwilioWebhook(store, store, settings, cipher,
		config.WebhookConfig{TwilioValidateSignature: validate}, nil)
}

func postTwilioStatus(h *TwilioWebhook, form url.Values, sign func(*http.Request)) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "http://hooks.test/api/sms/webhooks/status",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if sign != nil {
		sign(req)
	}
	rec := httptest.NewRecorder()
	h.HandleStatus(rec, req)
	return rec
}

func statusForm(messageStatus string) url.Values {
	return url.Values{
		"AccountSid":    {"AC-sub-1"},
		"To":            {"+15552223333"},
		"MessageSid":    {"SM-1"},
		"MessageStatus": {messageStatus},
	}
}

func TestTwilioWebhook_UnknownAccountAcknowledged(t *testing.T) {
	store := newFakeDeliveryStore()
	h := newTwilioFixture(store, &fakeSMSSettings{
		bySubaccount: map[string]*domain.SMSSettings{},
		byNumber:     map[string]*domain.SMSSettings{},
	}, nil, false)

	rec := postTwilioStatus(h, statusForm("delivered"), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown_number")
	assert.Empty(t, store.updates)
}

func TestTwilioWebhook_StatusMapping(t *testing.T) {
	cases := []struct {
		raw  string
		want domain.DeliveryStatus
	}{
		{"queued", domain.DeliveryQueued},
		{"sending", domain.DeliverySent},
		{"sent", domain.DeliverySent},
		{"delivered", domain.DeliveryDelivered},
		{"undelivered", domain.DeliveryBounced},
		{"failed", domain.DeliveryBounced},
		{"some_future_status", domain.DeliveryQueued},
	}
	for _, tc := range cases {
		t.Run(tc.raw, func(t *testing.T) {
			store := newFakeDeliveryStore()
			store.jobsByMessageID["SM-1"] = &domain.Job{ID: 9, UserID: 7, Channel: domain.ChannelSMS}
			settings := &fakeSMSSettings{
				bySubaccount: map[string]*domain.SMSSettings{"AC-sub-1": smsSettings(7)},
			}
			h := newTwilioFixture(store, settings, nil, false)

			rec := postTwilioStatus(h, statusForm(tc.raw), nil)
			require.Equal(t, http.StatusOK, rec.Code)

			require.Len(t, store.updates[9], 1)
			u := store.updates[9][0]
			assert.Equal(t, tc.want, u.Status)
			assert.Equal(t, domain.ProviderTwilio, u.Provider)
			if tc.want == domain.DeliveryDelivered {
				assert.NotNil(t, u.DeliveredAt)
			}
			if tc.want == domain.DeliveryBounced {
				assert.NotNil(t, u.BouncedAt)
			}

			require.Len(t, store.events, 1)
			require.NotNil(t, store.events[0].ProviderEventID)
			assert.Equal(t, "SM-1:"+tc.raw, *store.events[0].ProviderEventID)
		})
	}
}

func TestTwilioWebhook_ReplayedStatusIsOneEvent(t *testing.T) {
	store := newFakeDeliveryStore()
	store.jobsByMessageID["SM-1"] = &domain.Job{ID: 9, UserID: 7}
	settings := &fakeSMSSettings{
		bySubaccount: map[string]*domain.SMSSettings{"AC-sub-1": smsSettings(7)},
	}
	h := newTwilioFixture(store, settings, nil, false)

	for i := 0; i < 3; i++ {
		rec := postTwilioStatus(h, statusForm("delivered"), nil)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Len(t, store.events, 1)
}

func TestTwilioWebhook_SignatureValidation(t *testing.T) {
	cipher, err := secrets.New([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	enc, err := cipher.Encrypt("twilio-auth-token")
	require.NoError(t, err)

	withToken := smsSettings(7)
	withToken.AuthTokenEnc = &enc
	settings := &fakeSMSSettings{
		bySubaccount: map[string]*domain.SMSSettings{"AC-sub-1": withToken},
	}

	form := statusForm("delivered")

	t.Run("missing signature is 401", func(t *testing.T) {
		store := newFakeDeliveryStore()
		h := newTwilioFixture(store, settings, cipher, true)
		rec := postTwilioStatus(h, form, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Empty(t, store.updates)
	})

	t.Run("invalid signature is 403", func(t *testing.T) {
		store := newFakeDeliveryStore()
		h := newTwilioFixture(store, settings, cipher, true)
		rec := postTwilioStatus(h, form, func(r *http.Request) {
			r.Header.Set("X-Twilio-Signature", "bm90LXRoZS1yZWFsLXNpZ25hdHVyZQ==")
		})
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Empty(t, store.updates)
	})

	t.Run("valid signature passes", func(t *testing.T) {
		store := newFakeDeliveryStore()
		store.jobsByMessageID["SM-1"] = &domain.Job{ID: 9, UserID: 7}
		h := newTwilioFixture(store, settings, cipher, true)

		sig := expectedSignature("http://hooks.test/api/sms/webhooks/status", form, "twilio-auth-token")
		rec := postTwilioStatus(h, form, func(r *http.Request) {
			r.Header.Set("X-Twilio-Signature", sig)
		})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, store.updates[9], 1)
	})

	t.Run("validation disabled skips the check", func(t *testing.T) {
		store := newFakeDeliveryStore()
		store.jobsByMessageID["SM-1"] = &domain.Job{ID: 9, UserID: 7}
		h := newTwilioFixture(store, settings, cipher, false)
		rec := postTwilioStatus(h, form, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestTwilioWebhook_InboundAcknowledges(t *testing.T) {
	store := newFakeDeliveryStore()
	settings := &fakeSMSSettings{
		bySubaccount: map[string]*domain.SMSSettings{"AC-sub-1": smsSettings(7)},
		byNumber:     map[string]*domain.SMSSettings{},
	}
	h := newTwilioFixture(store, settings, nil, false)

	form := url.Values{"AccountSid": {"AC-sub-1"}, "To": {"+15550001111"}, "Body": {"STOP"}}
	req := httptest.NewRequest(http.MethodPost, "http://hooks.test/api/sms/webhooks/inbound",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	h.HandleInbound(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.updates, "inbound never touches delivery state")
}
