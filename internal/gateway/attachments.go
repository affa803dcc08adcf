package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	appconfig "github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
	"github.com/Maco21496/remindandpay-live/internal/pkg/httpretry"
	"github.com/Maco21496/remindandpay-live/internal/pkg/logger"
)

// maxAttachmentBytes bounds how much of a statement document we will
// attach; anything larger is degraded to a linked statement.
const maxAttachmentBytes = 10 << 20

// S3Getter is the slice of the S3 client the fetcher uses.
type S3Getter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// NewS3Client builds the S3 client used for s3:// statement URLs, sharing
// the email transport's AWS credentials and region.
func NewS3Client(ctx context.Context, cfg appconfig.SESConfig) (*s3.Client, error) {
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s3.NewFromConfig(awsCfg), nil
}

// AttachmentFetcher resolves the statement document for attach-PDF sends:
// inline HTML from the payload when present, otherwise a fetch of the
// statement URL over HTTP or S3. Failures degrade to sending without an
// attachment rather than failing the job.
type AttachmentFetcher struct {
	httpClient httpretry.HTTPDoer
	s3Client   S3Getter
	log        *logger.Logger
}

// NewAttachmentFetcher creates a fetcher. A nil httpClient gets a retrying
// client (10s timeout, 2 retries on 429/5xx); s3Client may be nil when S3
// URLs are not in use.
func NewAttachmentFetcher(httpClient httpretry.HTTPDoer, s3Client S3Getter) *AttachmentFetcher {
	if httpClient == nil {
		httpClient = httpretry.NewRetryClient(&http.Client{Timeout: 10 * time.Second}, 2)
	}
	return &AttachmentFetcher{
		httpClient: httpClient,
		s3Client:   s3Client,
		log:        logger.New("gateway.attachments"),
	}
}

// Statement resolves the attachment for a job, or nil when nothing could
// be fetched.
func (f *AttachmentFetcher) Statement(ctx context.Context, p domain.JobPayload, customerName string) *Attachment {
	content := []byte(p.StatementHTML)
	if len(content) == 0 && p.StatementURL != "" {
		var err error
		content, err = f.fetch(ctx, p.StatementURL)
		if err != nil {
			f.log.Warn("statement fetch failed, sending without attachment",
				"url", p.StatementURL, "error", err.Error())
			return nil
		}
	}
	if len(content) == 0 {
		return nil
	}
	return &Attachment{
		Name:        attachmentFilename(p.PDFFilename, customerName),
		ContentType: "application/pdf",
		Content:     content,
	}
}

func (f *AttachmentFetcher) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	switch {
	case strings.HasPrefix(rawURL, "s3://"):
		return f.fetchS3(ctx, rawURL)
	case strings.HasPrefix(rawURL, "http://"), strings.HasPrefix(rawURL, "https://"):
		return f.fetchHTTP(ctx, rawURL)
	default:
		return nil, fmt.Errorf("unsupported statement url scheme: %s", rawURL)
	}
}

func (f *AttachmentFetcher) fetchHTTP(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating statement request: %w", err)
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching statement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("statement fetch returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading statement body: %w", err)
	}
	return body, nil
}

func (f *AttachmentFetcher) fetchS3(ctx context.Context, rawURL string) ([]byte, error) {
	if f.s3Client == nil {
		return nil, fmt.Errorf("s3 statement url but no s3 client configured")
	}
	rest := strings.TrimPrefix(rawURL, "s3://")
	bucket, key, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return nil, fmt.Errorf("malformed s3 url: %s", rawURL)
	}
	out, err := f.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("fetching s3 statement: %w", err)
	}
	defer out.Body.Close()

	body, err := io.ReadAll(io.LimitReader(out.Body, maxAttachmentBytes))
	if err != nil {
		return nil, fmt.Errorf("reading s3 statement: %w", err)
	}
	return body, nil
}

// attachmentFilename picks the payload's filename or derives one from the
// customer name, with spaces flattened to underscores.
func attachmentFilename(payloadName, customerName string) string {
	if payloadName != "" {
		return payloadName
	}
	name := strings.TrimSpace(customerName)
	if name == "" {
		name = "Customer"
	}
	return "Statement-" + strings.ReplaceAll(name, " ", "_") + ".pdf"
}
