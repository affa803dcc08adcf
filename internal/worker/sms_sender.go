package worker

import (
	"context"

	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/gateway"
)

// TwilioSender hands SMS jobs to the Twilio gateway using the account's
// subaccount and sending number.
type TwilioSender struct {
	gw gateway.SMSGateway
}

// NewTwilioSender wires the SMS send path.
func NewTwilioSender(gw gateway.SMSGateway) *TwilioSender {
	return &TwilioSender{gw: gw}
}

// Send dispatches one SMS job. Preflight guarantees settings.Sendable().
func (s *TwilioSender) Send(ctx context.Context, job *domain.Job, settings *domain.SMSSettings) (*gateway.SendResult, error) {
	return s.gw.Send(ctx, gateway.SMSMessage{
		SubaccountSID: *settings.TwilioSubaccountSID,
		From:          *settings.TwilioPhoneNumber,
		To:            job.ToEmail,
		Body:          job.Body,
	})
}
