package gateway

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/pkg/httpretry"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

// Postmark error codes that mark a message undeliverable regardless of the
// HTTP status: 412 account pending, 300 invalid email request, 405 not
// allowed to send, 406 inactive recipient.
var postmarkPermanentCodes = map[int]bool{412: true, 300: true, 405: true, 406: true}

// Postmark sends email through the Postmark transactional API.
type Postmark struct {
	baseURL    string
	httpClient httpretry.HTTPDoer
	log        *logger.Logger
}

// NewPostmark creates a Postmark client. A nil httpClient gets a plain
// http.Client with the configured timeout — the send path does not use the
// retrying client; the dispatcher owns retry policy.
func NewPostmark(cfg config.PostmarkConfig, httpClient httpretry.HTTPDoer) *Postmark {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout()}
	}
	return &Postmark{
		baseURL:    cfg.BaseURL,
		httpClient: httpClient,
		log:        logger.New("gateway.postmark"),
	}
}

type postmarkAttachment struct {
	Name        string `json:"Name"`
	Content     string `json:"Content"`
	ContentType string `json:"ContentType"`
}

type postmarkRequest struct {
	From          string               `json:"From"`
	To            string               `json:"To"`
	Subject       string               `json:"Subject"`
	HtmlBody      string               `json:"HtmlBody"`
	TextBody      string               `json:"TextBody"`
	MessageStream string               `json:"MessageStream"`
	Attachments   []postmarkAttachment `json:"Attachments,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

// Send posts one email. Transport errors come back as (nil, err) and are
// always transient; a rejected message comes back as a SendResult with the
// classification applied.
func (p *Postmark) Send(ctx context.Context, serverToken string, msg EmailMessage) (*SendResult, error) {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	text := msg.TextBody
	if text == "" {
		// Postmark rejects an empty TextBody when HtmlBody is also set.
		text = " "
	}

	body := postmarkRequest{
		From:          from,
		To:            msg.To,
		Subject:       msg.Subject,
		HtmlBody:      msg.HTMLBody,
		TextBody:      text,
		MessageStream: "outbound",
	}
	for _, a := range msg.Attachments {
		body.Attachments = append(body.Attachments, postmarkAttachment{
			Name:        a.Name,
			Content:     base64.StdEncoding.EncodeToString(a.Content),
			ContentType: a.ContentType,
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshaling postmark request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating postmark request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", serverToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postmark request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading postmark response: %w", err)
	}

	var parsed postmarkResponse
	_ = json.Unmarshal(respBody, &parsed)

	if resp.StatusCode == http.StatusOK {
		return &SendResult{MessageID: parsed.MessageID, StatusCode: resp.StatusCode}, nil
	}

	errMsg := parsed.Message
	if errMsg == "" {
		errMsg = string(respBody)
	}
	result := &SendResult{
		StatusCode: resp.StatusCode,
		ErrorCode:  parsed.ErrorCode,
		Err:        fmt.Sprintf("postmark status %d code %d: %s", resp.StatusCode, parsed.ErrorCode, errMsg),
		Permanent:  postmarkPermanentCodes[parsed.ErrorCode] || permanent4xx(resp.StatusCode),
	}
	p.log.Warn("postmark rejected message",
		"status", resp.StatusCode, "error_code", parsed.ErrorCode,
		"to", logger.RedactEmail(msg.To), "permanent", result.Permanent)
	return result, nil
}
