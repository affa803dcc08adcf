package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/Maco21496/remindandpay-live/internal/config"
	"github.com/Maco21496/remindandpay-live/internal/domain"
)

func TestNewS3Client(t *testing.T) {
	client, err := NewS3Client(context.Background(), appconfig.SESConfig{
		Region:    "us-east-1",
		AccessKey: "AKIATEST",
		SecretKey: "secret",
	})
	require.NoError(t, err)
	require.NotNil(t, client)

	// The fetcher accepts the concrete client directly.
	f := NewAttachmentFetcher(nil, client)
	assert.NotNil(t, f)
}

func TestStatementAttachment_InlineHTML(t *testing.T) {
	f := NewAttachmentFetcher(nil, nil)

	att := f.Statement(context.Background(), domain.JobPayload{
		StatementHTML: "<html>statement</html>",
	}, "Dan Smith")

	require.NotNil(t, att)
	assert.Equal(t, "Statement-Dan_Smith.pdf", att.Name)
	assert.Equal(t, "application/pdf", att.ContentType)
	assert.Equal(t, []byte("<html>statement</html>"), att.Content)
}

func TestStatementAttachment_FetchURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/statements/42", r.URL.Path)
		w.Write([]byte("fetched statement"))
	}))
	defer server.Close()

	f := NewAttachmentFetcher(server.Client(), nil)
	att := f.Statement(context.Background(), domain.JobPayload{
		StatementURL: server.URL + "/statements/42",
		PDFFilename:  "custom.pdf",
	}, "Dan Smith")

	require.NotNil(t, att)
	assert.Equal(t, "custom.pdf", att.Name)
	assert.Equal(t, []byte("fetched statement"), att.Content)
}

func TestStatementAttachment_FetchFailureDegrades(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	f := NewAttachmentFetcher(server.Client(), nil)
	att := f.Statement(context.Background(), domain.JobPayload{
		StatementURL: server.URL + "/gone",
	}, "Dan")

	assert.Nil(t, att, "fetch failure sends without attachment, never fails the job")
}

func TestStatementAttachment_NothingToAttach(t *testing.T) {
	f := NewAttachmentFetcher(nil, nil)
	assert.Nil(t, f.Statement(context.Background(), domain.JobPayload{}, "Dan"))
}

func TestAttachmentFilename(t *testing.T) {
	assert.Equal(t, "x.pdf", attachmentFilename("x.pdf", "Dan"))
	assert.Equal(t, "Statement-Dan_A_Smith.pdf", attachmentFilename("", "Dan A Smith"))
	assert.Equal(t, "Statement-Customer.pdf", attachmentFilename("", "  "))
}
