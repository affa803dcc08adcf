package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/pkg/httpretry"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

// Twilio sends SMS through per-account provider subaccounts. Requests
// authenticate with an API key; a 401 falls back once to the master
// account credentials, which covers keys that were never granted
// subaccount access.
type Twilio struct {
	baseURL     string
	keySID      string
	keySecret   string
	masterSID   string
	masterToken string
	httpClient  httpretry.HTTPDoer
	log         *logger.Logger
}

// NewTwilio creates a Twilio client. A nil httpClient gets a plain
// http.Client with the configured timeout.
func NewTwilio(cfg config.TwilioConfig, httpClient httpretry.HTTPDoer) *Twilio {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Twilio{
		baseURL:     cfg.BaseURL,
		keySID:      cfg.APIKeySID,
		keySecret:   cfg.APIKeySecret,
		masterSID:   cfg.MasterSID,
		masterToken: cfg.MasterAuthToken,
		httpClient:  httpClient,
		log:         logger.New("gateway.twilio"),
	}
}

type twilioResponse struct {
	SID     string `json:"sid"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Send posts one SMS. Configuration gaps are reported as permanent results
// before any request goes out.
func (t *Twilio) Send(ctx context.Context, msg SMSMessage) (*SendResult, error) {
	switch {
	case msg.To == "":
		return &SendResult{Err: "twilio: missing recipient phone number", Permanent: true}, nil
	case msg.From == "":
		return &SendResult{Err: "twilio: missing sender phone number", Permanent: true}, nil
	case msg.SubaccountSID == "":
		return &SendResult{Err: "twilio: missing subaccount SID", Permanent: true}, nil
	case t.keySID == "" || t.keySecret == "":
		return &SendResult{Err: "twilio: API key credentials not configured", Permanent: true}, nil
	}

	result, status, err := t.post(ctx, msg, t.keySID, t.keySecret)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && t.masterSID != "" && t.masterToken != "" && t.masterSID != t.keySID {
		t.log.Warn("twilio API key rejected, retrying with master credentials",
			"subaccount", msg.SubaccountSID)
		result, _, err = t.post(ctx, msg, t.masterSID, t.masterToken)
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (t *Twilio) post(ctx context.Context, msg SMSMessage, user, pass string) (*SendResult, int, error) {
	form := url.Values{}
	form.Set("From", msg.From)
	form.Set("To", msg.To)
	form.Set("Body", msg.Body)

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, msg.SubaccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, 0, fmt.Errorf("creating twilio request: %w", err)
	}
	req.SetBasicAuth(user, pass)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("twilio request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("reading twilio response: %w", err)
	}

	var parsed twilioResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &SendResult{MessageID: parsed.SID, StatusCode: resp.StatusCode}, resp.StatusCode, nil
	}

	errMsg := parsed.Message
	if errMsg == "" {
		errMsg = string(respBody)
	}
	return &SendResult{
		StatusCode: resp.StatusCode,
		ErrorCode:  parsed.Code,
		Err:        fmt.Sprintf("twilio status %d code %d: %s", resp.StatusCode, parsed.Code, errMsg),
		Permanent:  permanent4xx(resp.StatusCode),
	}, resp.StatusCode, nil
}
