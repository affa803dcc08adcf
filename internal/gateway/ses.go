package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	appconfig "github.com/Maco21496/remindandpay-live/internal/config"
)

// sesAPI is the slice of the SES v2 client the gateway uses; tests inject
// a fake.
type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES is the alternate email transport, selected per-account by provider
// config. Credentials are process-wide; the per-account token is unused.
type SES struct {
	client sesAPI
}

// loadAWSConfig resolves the process-wide AWS config. Static credentials
// are used when configured; otherwise the default credential chain applies.
func loadAWSConfig(ctx context.Context, cfg appconfig.SESConfig) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return awsCfg, nil
}

// NewSES creates an SES client from config.
func NewSES(ctx context.Context, cfg appconfig.SESConfig) (*SES, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &SES{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewSESWithClient wires an explicit API client, mainly for tests.
func NewSESWithClient(client sesAPI) *SES { return &SES{client: client} }

// Send hands one email to SES. The token argument exists to satisfy
// EmailGateway and is ignored.
func (s *SES) Send(ctx context.Context, _ string, msg EmailMessage) (*SendResult, error) {
	from := msg.FromEmail
	if msg.FromName != "" {
		from = fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail)
	}
	text := msg.TextBody
	if text == "" {
		text = " "
	}

	out, err := s.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(from),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTMLBody)},
					Text: &types.Content{Data: aws.String(text)},
				},
			},
		},
	})
	if err != nil {
		if sesPermanent(err) {
			return &SendResult{Err: fmt.Sprintf("ses: %v", err), Permanent: true}, nil
		}
		// Throttling and service faults stay transient.
		return nil, fmt.Errorf("ses send: %w", err)
	}
	return &SendResult{MessageID: aws.ToString(out.MessageId), StatusCode: 200}, nil
}

// sesPermanent classifies SES API errors that will not improve on retry.
func sesPermanent(err error) bool {
	var (
		rejected  *types.MessageRejected
		suspended *types.AccountSuspendedException
		paused    *types.SendingPausedException
		mailFrom  *types.MailFromDomainNotVerifiedException
		badReq    *types.BadRequestException
	)
	return errors.As(err, &rejected) ||
		errors.As(err, &suspended) ||
		errors.As(err, &paused) ||
		errors.As(err, &mailFrom) ||
		errors.As(err, &badReq)
}
