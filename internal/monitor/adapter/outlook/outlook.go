package outlook

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/adapter"
)

// Adapter is the Outlook implementation of adapter.Adapter, scoped to one
// monitor's mailbox connection and MailConfig.
type Adapter struct {
	hc  httpClient
	cfg monitor.MailConfig
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs an Outlook adapter for one monitor's connection and config.
func New(conn monitor.Connection, cfg monitor.MailConfig) *Adapter {
	return &Adapter{
		hc:  newHTTPClient(conn.AccessToken, conn.RefreshToken),
		cfg: cfg,
	}
}

// RequiredScopes lists the Microsoft Graph scope this adapter needs.
func (a *Adapter) RequiredScopes() []string {
	return []string{"Mail.Read"}
}

// ValidateConfig checks the connection can reach Graph and that at least
// one folder is configured to scan.
func (a *Adapter) ValidateConfig(ctx context.Context) (bool, string) {
	if err := call(ctx, a.hc, "/mailFolders", nil, nil); err != nil {
		return false, fmt.Sprintf("failed to connect to Outlook: %v", err)
	}
	if len(a.cfg.LabelOrFolderIDs) == 0 {
		return false, "label_or_folder_ids must name at least one folder to watch"
	}
	return true, ""
}

// Poll fetches new messages since cursor.Token (a Graph delta link). With no
// token yet, or one Graph has expired (410 Gone), it falls back to a bounded
// messages.list scan per configured folder.
func (a *Adapter) Poll(ctx context.Context, cursor monitor.Cursor, oldest, latest *string) (adapter.PollResult, error) {
	if cursor.Token != "" && oldest == nil {
		events, newToken, err := a.pollDelta(ctx, cursor.Token)
		if err == nil {
			return adapter.PollResult{Events: events, NewCursor: monitor.Cursor{Token: newToken}}, nil
		}
		if !errors.Is(err, errDeltaExpired) {
			return adapter.PollResult{NewCursor: cursor}, err
		}
	}
	return a.pollList(ctx, oldest, latest)
}

func (a *Adapter) pollDelta(ctx context.Context, deltaLink string) ([]monitor.AdapterEvent, string, error) {
	var events []monitor.AdapterEvent
	next := deltaLink
	latestDeltaLink := deltaLink

	for next != "" {
		var result deltaResult
		if err := call(ctx, a.hc, next, nil, &result); err != nil {
			return nil, "", err
		}
		for _, m := range result.Value {
			if ev, ok := a.filterAndConvert(m); ok {
				events = append(events, ev)
			}
		}
		if result.DeltaLink != "" {
			latestDeltaLink = result.DeltaLink
		}
		next = result.NextLink
	}
	return events, latestDeltaLink, nil
}

func (a *Adapter) pollList(ctx context.Context, oldest, latest *string) (adapter.PollResult, error) {
	var events []monitor.AdapterEvent
	var lastDeltaLink string

	for _, folderID := range a.cfg.LabelOrFolderIDs {
		params := url.Values{"$top": {"50"}, "$orderby": {"receivedDateTime desc"}}
		if filter := buildDateFilter(oldest, latest); filter != "" {
			params.Set("$filter", filter)
		}

		path := fmt.Sprintf("/mailFolders/%s/messages", folderID)
		var result messagesListResult
		if err := call(ctx, a.hc, path, params, &result); err != nil {
			continue
		}
		for _, m := range result.Value {
			if ev, ok := a.filterAndConvert(m); ok {
				events = append(events, ev)
			}
		}

		deltaPath := fmt.Sprintf("/mailFolders/%s/messages/delta", folderID)
		var delta deltaResult
		if err := call(ctx, a.hc, deltaPath, nil, &delta); err == nil && delta.DeltaLink != "" {
			lastDeltaLink = delta.DeltaLink
		}
	}

	return adapter.PollResult{Events: events, NewCursor: monitor.Cursor{Token: lastDeltaLink}}, nil
}

func buildDateFilter(oldest, latest *string) string {
	var parts []string
	if oldest != nil {
		parts = append(parts, "receivedDateTime ge "+*oldest)
	}
	if latest != nil {
		parts = append(parts, "receivedDateTime le "+*latest)
	}
	return strings.Join(parts, " and ")
}

// filterAndConvert applies the from/keyword/auto-response filters and
// converts a matching message into an AdapterEvent. It does not check the
// message's folder; folder restriction comes from which folder was queried.
func (a *Adapter) filterAndConvert(m rawMessage) (monitor.AdapterEvent, bool) {
	if isAutoResponse(m) {
		return monitor.AdapterEvent{}, false
	}

	fromEmail := m.From.EmailAddress.Address
	fromName := m.From.EmailAddress.Name
	if len(a.cfg.FromFilter) > 0 && !matchesFromFilter(fromEmail, a.cfg.FromFilter) {
		return monitor.AdapterEvent{}, false
	}

	body := ""
	if a.cfg.IncludeBody {
		body = m.Body.Content
	}

	if len(a.cfg.Keywords) > 0 {
		haystack := strings.ToLower(m.Subject + " " + m.BodyPreview + " " + body)
		found := false
		for _, kw := range a.cfg.Keywords {
			if strings.Contains(haystack, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return monitor.AdapterEvent{}, false
		}
	}

	text := m.BodyPreview
	if a.cfg.IncludeBody && body != "" {
		text = body
	}

	return monitor.AdapterEvent{
		ProviderEventID: m.ID,
		EventType:       "email",
		EventData: monitor.EventData{
			Text:      text,
			Subject:   m.Subject,
			From:      &monitor.EmailAddress{Email: fromEmail, Name: fromName},
			Snippet:   m.BodyPreview,
			Permalink: m.WebLink,
		},
		ProviderTimestamp: parseGraphDateTime(m.ReceivedDateTime),
	}, true
}

// HandleWebhook is unsupported: Graph delivers change notifications via a
// validated push subscription whose renewal/clientState handshake has no
// analogue in this stack's dependency surface, so Outlook runs poll-only
// like Gmail.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, headers map[string]string) ([]monitor.AdapterEvent, error) {
	return nil, nil
}

func isAutoResponse(m rawMessage) bool {
	auto := strings.ToLower(m.header("Auto-Submitted"))
	return auto != "" && auto != "no"
}

func matchesFromFilter(email string, filters []string) bool {
	email = strings.ToLower(email)
	for _, f := range filters {
		if strings.Contains(email, strings.ToLower(f)) {
			return true
		}
	}
	return false
}

func parseGraphDateTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
