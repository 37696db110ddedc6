package slack

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opslane/monitor-engine/internal/monitor"
)

// fakeHTTPClient answers every request with a canned {"ok":true} envelope,
// enough for HandleWebhook's enrichment calls (permalink/user lookup/thread
// context) to complete without touching the network.
type fakeHTTPClient struct {
	body string
}

func (f *fakeHTTPClient) Do(req *http.Request) (*http.Response, error) {
	body := f.body
	if body == "" {
		body = `{"ok":true}`
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewBufferString(body)),
	}, nil
}

func newTestAdapter(cfg monitor.SlackConfig) *Adapter {
	a := New(monitor.Connection{AccessToken: "xoxb-test"}, cfg)
	a.hc = &fakeHTTPClient{}
	return a
}

func TestHandleWebhookAppMention(t *testing.T) {
	a := newTestAdapter(monitor.SlackConfig{MyMentions: true})
	payload := []byte(`{"type":"event_callback","event":{"type":"app_mention","channel":"C1","user":"U2","text":"<@U1> help","ts":"1700000000.000100"}}`)

	events, err := a.HandleWebhook(context.Background(), payload, nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "C1:1700000000.000100", events[0].ProviderEventID)
	require.Equal(t, "app_mention", events[0].EventType)
	require.Equal(t, "<@U1> help", events[0].EventData.Text)
}

func TestHandleWebhookIgnoresBotMessages(t *testing.T) {
	a := newTestAdapter(monitor.SlackConfig{WorkspaceWide: true})
	payload := []byte(`{"type":"event_callback","event":{"type":"message","subtype":"bot_message","channel":"C1","text":"automated","ts":"1700000000.000200"}}`)

	events, err := a.HandleWebhook(context.Background(), payload, nil)
	require.NoError(t, err)
	require.Nil(t, events)
}

func TestHandleWebhookIgnoresNonEventCallback(t *testing.T) {
	a := newTestAdapter(monitor.SlackConfig{})
	payload := []byte(`{"type":"url_verification","challenge":"abc"}`)

	events, err := a.HandleWebhook(context.Background(), payload, nil)
	require.NoError(t, err)
	require.Nil(t, events)
}

func TestMatchesFiltersKeywords(t *testing.T) {
	a := newTestAdapter(monitor.SlackConfig{Keywords: []string{"outage"}})

	require.True(t, a.matchesFilters("", "we have an OUTAGE in prod"))
	require.False(t, a.matchesFilters("", "just a regular status update"))
	require.False(t, a.matchesFilters("bot_message", "we have an outage"))
}

func TestMatchesFiltersTaggedUsers(t *testing.T) {
	a := newTestAdapter(monitor.SlackConfig{TaggedUserIDs: []string{"U9"}})

	require.True(t, a.matchesFilters("", "hey <@U9> take a look"))
	require.False(t, a.matchesFilters("", "hey <@U1> take a look"))
}

func TestValidateConfigRequiresScopeSelection(t *testing.T) {
	a := newTestAdapter(monitor.SlackConfig{})
	ok, msg := a.ValidateConfig(context.Background())
	require.False(t, ok)
	require.Contains(t, msg, "channel_ids, workspace_wide, or my_mentions")
}

func TestValidateConfigMyMentionsRequiresProviderUserID(t *testing.T) {
	a := New(monitor.Connection{AccessToken: "xoxb-test"}, monitor.SlackConfig{MyMentions: true})
	a.hc = &fakeHTTPClient{}
	ok, msg := a.ValidateConfig(context.Background())
	require.False(t, ok)
	require.Contains(t, msg, "provider_user_id")
}
