package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maco21496/remindandpay-live/internal/config"
)

func newTestPostmark(server *httptest.Server) *Postmark {
	cfg := config.PostmarkConfig{BaseURL: server.URL, TimeoutSeconds: 5}
	return NewPostmark(cfg, &http.Client{Timeout: 5 * time.Second})
}

func testEmail() EmailMessage {
	return EmailMessage{
		FromName:  "Remind & Pay",
		FromEmail: "accounts@remindandpay.com",
		To:        "dan@example.com",
		Subject:   "Statement for Dan",
		HTMLBody:  "<p>hi</p>",
	}
}

func TestPostmarkSend_Accepted(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "srv-token", r.Header.Get("X-Postmark-Server-Token"))

		var body postmarkRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Remind & Pay <accounts@remindandpay.com>", body.From)
		assert.Equal(t, "outbound", body.MessageStream)
		assert.Equal(t, " ", body.TextBody, "empty text body becomes a single space")

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(postmarkResponse{MessageID: "pm-msg-1"})
	}))
	defer server.Close()

	res, err := newTestPostmark(server).Send(context.Background(), "srv-token", testEmail())
	require.NoError(t, err)
	assert.True(t, res.Accepted())
	assert.Equal(t, "pm-msg-1", res.MessageID)
}

func TestPostmarkSend_Classification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		errorCode     int
		wantPermanent bool
	}{
		{"inactive recipient is permanent", 422, 406, true},
		{"invalid email request is permanent", 422, 300, true},
		{"account pending is permanent", 422, 412, true},
		{"generic 422 is permanent by status", 422, 1, true},
		{"rate limited is transient", 429, 0, false},
		{"server error is transient", 500, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(postmarkResponse{ErrorCode: tt.errorCode, Message: "nope"})
			}))
			defer server.Close()

			res, err := newTestPostmark(server).Send(context.Background(), "srv-token", testEmail())
			require.NoError(t, err)
			assert.False(t, res.Accepted())
			assert.Equal(t, tt.status, res.StatusCode)
			assert.Equal(t, tt.wantPermanent, res.Permanent)
		})
	}
}

type failingDoer struct{ err error }

func (d failingDoer) Do(*http.Request) (*http.Response, error) { return nil, d.err }

func TestPostmarkSend_NetworkErrorIsTransient(t *testing.T) {
	cfg := config.PostmarkConfig{BaseURL: "http://postmark.invalid", TimeoutSeconds: 5}
	pm := NewPostmark(cfg, failingDoer{err: errors.New("connection refused")})

	res, err := pm.Send(context.Background(), "srv-token", testEmail())
	require.Error(t, err, "transport failure surfaces as an error, which the dispatcher treats as transient")
	assert.Nil(t, res)
}
