package gmail

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opslane/monitor-engine/internal/monitor"
)

type fakeHTTPClient struct {
	responses map[string]string // path -> body
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body := f.responses[req.URL.Path]
	if body == "" {
		body = `{}`
	}
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewBufferString(body))}, nil
}

func newTestAdapter(cfg monitor.MailConfig, responses map[string]string) *Adapter {
	a := New(monitor.Connection{AccessToken: "tok"}, cfg)
	a.hc = &fakeHTTPClient{responses: responses}
	return a
}

func b64url(s string) string {
	return base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(s))
}

func TestParseFromHeader(t *testing.T) {
	email, name := parseFromHeader(`"Jane Doe" <jane@example.com>`)
	require.Equal(t, "jane@example.com", email)
	require.Equal(t, "Jane Doe", name)

	email, name = parseFromHeader("bare@example.com")
	require.Equal(t, "bare@example.com", email)
	require.Empty(t, name)
}

func TestIsAutoResponse(t *testing.T) {
	var withHeader rawMessage
	withHeader.Payload.Headers = []rawHeader{{Name: "Auto-Submitted", Value: "auto-replied"}}
	require.True(t, isAutoResponse(withHeader))

	require.False(t, isAutoResponse(rawMessage{}))

	require.True(t, isAutoResponse(rawMessage{LabelIDs: []string{"CATEGORY_PROMOTIONS"}}))
}

func TestMatchesFromFilter(t *testing.T) {
	require.True(t, matchesFromFilter("billing@example.com", []string{"example.com"}))
	require.False(t, matchesFromFilter("billing@other.com", []string{"example.com"}))
}

func TestExtractPlainTextPrefersTopLevel(t *testing.T) {
	text := extractPlainText(nil, "text/plain", b64url("hello world"))
	require.Equal(t, "hello world", text)
}

func TestExtractPlainTextRecursesIntoParts(t *testing.T) {
	var htmlPart, plainPart rawMessagePart
	htmlPart.MimeType = "text/html"
	plainPart.MimeType = "text/plain"
	plainPart.Body.Data = b64url("nested body")

	text := extractPlainText([]rawMessagePart{htmlPart, plainPart}, "multipart/alternative", "")
	require.Equal(t, "nested body", text)
}

func TestToGmailDate(t *testing.T) {
	require.Equal(t, "2024/01/15", toGmailDate("2024-01-15T00:00:00Z"))
	require.Equal(t, "2024/01/15", toGmailDate("2024-01-15"))
}

func TestParseInternalDate(t *testing.T) {
	require.True(t, parseInternalDate("not-a-number").IsZero())
	require.False(t, parseInternalDate("1700000000000").IsZero())
}

func TestHandleWebhookIsNoop(t *testing.T) {
	a := newTestAdapter(monitor.MailConfig{}, nil)
	events, err := a.HandleWebhook(context.Background(), []byte(`{}`), nil)
	require.NoError(t, err)
	require.Nil(t, events)
}

func TestValidateConfigRequiresLabels(t *testing.T) {
	a := newTestAdapter(monitor.MailConfig{}, map[string]string{
		"/gmail/v1/users/me/profile": `{"emailAddress":"me@example.com","historyId":"100"}`,
	})
	ok, msg := a.ValidateConfig(context.Background())
	require.False(t, ok)
	require.Contains(t, msg, "label_or_folder_ids")
}

func TestValidateConfigSucceedsWithLabel(t *testing.T) {
	a := newTestAdapter(monitor.MailConfig{LabelOrFolderIDs: []string{"INBOX"}}, map[string]string{
		"/gmail/v1/users/me/profile": `{"emailAddress":"me@example.com","historyId":"100"}`,
	})
	ok, _ := a.ValidateConfig(context.Background())
	require.True(t, ok)
}
