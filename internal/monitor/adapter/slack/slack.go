package slack

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/adapter"
)

const (
	maxThreadReplies  = 400
	userCacheSize     = 2048
	defaultContextMsgs = 5
)

// Adapter is the Slack implementation of adapter.Adapter. One instance is
// scoped to a single Monitor's Connection + SlackConfig.
type Adapter struct {
	hc             httpClient
	providerUserID string
	cfg            monitor.SlackConfig
	userNames      *lru.Cache[string, string]
}

var _ adapter.Adapter = (*Adapter)(nil)

// New constructs a Slack adapter for one monitor's connection and config.
func New(conn monitor.Connection, cfg monitor.SlackConfig) *Adapter {
	cache, _ := lru.New[string, string](userCacheSize)
	contextMessages := cfg.ContextMessages
	if contextMessages == 0 {
		contextMessages = defaultContextMsgs
	}
	cfg.ContextMessages = contextMessages
	return &Adapter{
		hc:             newHTTPClient(conn.AccessToken),
		providerUserID: conn.ProviderUserID,
		cfg:            cfg,
		userNames:      cache,
	}
}

// RequiredScopes lists the Slack OAuth scopes this adapter needs.
func (a *Adapter) RequiredScopes() []string {
	return []string{
		"channels:history", "channels:read",
		"groups:history", "groups:read",
		"im:history", "im:read",
		"mpim:history", "mpim:read",
		"users:read",
		"search:read",
	}
}

// ValidateConfig checks the connection can reach Slack and that the monitor
// is configured to scan at least one thing.
func (a *Adapter) ValidateConfig(ctx context.Context) (bool, string) {
	var auth authTestResult
	if err := call(ctx, a.hc, "auth.test", nil, nil, &auth); err != nil {
		return false, fmt.Sprintf("failed to connect to Slack: %v", err)
	}

	if a.cfg.MyMentions && a.providerUserID == "" {
		return false, "my_mentions enabled but no provider_user_id available"
	}
	if len(a.cfg.ChannelIDs) == 0 && !a.cfg.WorkspaceWide && !a.cfg.MyMentions {
		return false, "either channel_ids, workspace_wide, or my_mentions must be set"
	}

	for _, ch := range a.cfg.ChannelIDs {
		var info conversationsInfoResult
		params := url.Values{"channel": {ch}}
		if err := call(ctx, a.hc, "conversations.info", params, nil, &info); err != nil {
			return false, fmt.Sprintf("cannot access channel %s: %v", ch, err)
		}
	}
	return true, ""
}

// Poll fetches new messages since cursor. When MyMentions is set it uses the
// search API (one call); otherwise it scans each configured/discovered
// channel via conversations.history.
func (a *Adapter) Poll(ctx context.Context, cursor monitor.Cursor, oldest, latest *string) (adapter.PollResult, error) {
	if a.cfg.MyMentions {
		return a.pollViaSearch(ctx, cursor, oldest, latest)
	}
	return a.pollChannels(ctx, cursor, oldest, latest)
}

func (a *Adapter) pollViaSearch(ctx context.Context, cursor monitor.Cursor, oldest, latest *string) (adapter.PollResult, error) {
	if a.providerUserID == "" {
		return adapter.PollResult{NewCursor: cursor}, nil
	}

	query := fmt.Sprintf("<@%s>", a.providerUserID)
	if oldest != nil {
		query += " after:" + toSlackDate(*oldest)
	}
	if latest != nil {
		query += " before:" + toSlackDate(*latest)
	}

	params := url.Values{
		"query":    {query},
		"sort":     {"timestamp"},
		"sort_dir": {"desc"},
		"count":    {"50"},
	}
	var result searchMessagesResult
	if err := call(ctx, a.hc, "search.messages", params, nil, &result); err != nil {
		// Transport/permanent errors propagate to the engine per §4.1's
		// error policy; the cursor is left untouched by returning it as-is.
		return adapter.PollResult{NewCursor: cursor}, err
	}

	lastSeen := cursor.LastSeenTS
	var newest string
	var events []monitor.AdapterEvent

	for _, m := range result.Messages.Matches {
		if m.TS > newest {
			newest = m.TS
		}
		if lastSeen != "" && m.TS <= lastSeen {
			continue
		}
		if m.Subtype == "bot_message" {
			continue
		}
		channelID := m.Channel.ID
		if channelID == "" {
			continue
		}

		var ctxData *monitor.ContextData
		if a.cfg.ContextMessages > 0 {
			ctxData = a.fetchMessageContext(ctx, channelID, m.TS, m.ThreadTS)
		}

		permalink := m.Permalink
		if permalink == "" {
			permalink = a.fetchPermalink(ctx, channelID, m.TS)
		}

		senderID := m.User
		if senderID == "" {
			senderID = m.Username
		}
		senderName := m.Username
		if senderName == "" {
			senderName = a.resolveUserName(ctx, senderID)
		}

		events = append(events, monitor.AdapterEvent{
			ProviderEventID: channelID + ":" + m.TS,
			EventType:       "mention",
			EventData: monitor.EventData{
				Text:        m.Text,
				ChannelID:   channelID,
				ChannelName: m.Channel.Name,
				User:        senderID,
				UserName:    senderName,
				TS:          m.TS,
				ThreadTS:    m.ThreadTS,
				Permalink:   permalink,
			},
			ContextData:       ctxData,
			ProviderTimestamp: parseSlackTS(m.TS),
		})
	}

	newCursor := cursor
	if newest != "" {
		newCursor = monitor.Cursor{LastSeenTS: newest}
	}
	return adapter.PollResult{Events: events, NewCursor: newCursor}, nil
}

func (a *Adapter) pollChannels(ctx context.Context, cursor monitor.Cursor, oldest, latest *string) (adapter.PollResult, error) {
	channels, err := a.channelsToPoll(ctx)
	if err != nil {
		return adapter.PollResult{NewCursor: cursor}, err
	}
	if len(channels) == 0 {
		return adapter.PollResult{NewCursor: cursor}, nil
	}

	newCursor := monitor.Cursor{PerChannel: map[string]string{}}
	for k, v := range cursor.PerChannel {
		newCursor.PerChannel[k] = v
	}

	var events []monitor.AdapterEvent
	for _, channelID := range channels {
		chEvents, chCursor := a.pollChannel(ctx, channelID, cursor.PerChannel[channelID], oldest, latest)
		events = append(events, chEvents...)
		if chCursor != "" {
			newCursor.PerChannel[channelID] = chCursor
		}
	}
	return adapter.PollResult{Events: events, NewCursor: newCursor}, nil
}

func (a *Adapter) channelsToPoll(ctx context.Context) ([]string, error) {
	if len(a.cfg.ChannelIDs) > 0 {
		return a.cfg.ChannelIDs, nil
	}
	if !a.cfg.WorkspaceWide && !a.cfg.MyMentions {
		return nil, nil
	}
	params := url.Values{
		"types":            {"public_channel,private_channel"},
		"exclude_archived": {"true"},
		"limit":            {"200"},
	}
	var result conversationsListResult
	if err := call(ctx, a.hc, "conversations.list", params, nil, &result); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(result.Channels))
	for _, c := range result.Channels {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// pollChannel fetches and filters one channel's history. It swallows
// per-channel errors (logging is the caller's responsibility via the
// returned zero events) to match spec §4.1's "individual-message
// enrichment failures are logged, event still emitted" posture extended to
// a single bad channel not blocking the rest of the poll.
func (a *Adapter) pollChannel(ctx context.Context, channelID, oldestTS string, oldest, latest *string) ([]monitor.AdapterEvent, string) {
	params := url.Values{"channel": {channelID}, "limit": {"100"}}
	if oldest != nil {
		params.Set("oldest", toUnixTS(*oldest))
	} else if oldestTS != "" {
		params.Set("oldest", oldestTS)
	}
	if latest != nil {
		params.Set("latest", toUnixTS(*latest))
	}

	var result conversationsHistoryResult
	if err := call(ctx, a.hc, "conversations.history", params, nil, &result); err != nil {
		return nil, oldestTS
	}
	if len(result.Messages) == 0 {
		return nil, oldestTS
	}

	newest := oldestTS
	for _, m := range result.Messages {
		if m.TS > newest {
			newest = m.TS
		}
	}

	var events []monitor.AdapterEvent
	for _, m := range result.Messages {
		if oldestTS != "" && m.TS <= oldestTS {
			continue
		}
		if !a.matchesFilters(m.Subtype, m.Text) {
			continue
		}

		var ctxData *monitor.ContextData
		if a.cfg.ContextMessages > 0 {
			ctxData = a.fetchMessageContext(ctx, channelID, m.TS, m.ThreadTS)
		}
		permalink := a.fetchPermalink(ctx, channelID, m.TS)
		senderName := a.resolveUserName(ctx, m.User)

		events = append(events, monitor.AdapterEvent{
			ProviderEventID: channelID + ":" + m.TS,
			EventType:       "message",
			EventData: monitor.EventData{
				Text:      m.Text,
				ChannelID: channelID,
				User:      m.User,
				UserName:  senderName,
				TS:        m.TS,
				ThreadTS:  m.ThreadTS,
				Permalink: permalink,
			},
			ContextData:       ctxData,
			ProviderTimestamp: parseSlackTS(m.TS),
		})
	}
	return events, newest
}

// matchesFilters applies the canonical filtering rules from spec §4.1,
// minus the my_mentions branch (only reachable through the search path).
func (a *Adapter) matchesFilters(subtype, text string) bool {
	switch subtype {
	case "bot_message", "channel_join", "channel_leave":
		return false
	}

	if len(a.cfg.TaggedUserIDs) > 0 {
		mentioned := false
		for _, uid := range a.cfg.TaggedUserIDs {
			if strings.Contains(text, "<@"+uid+">") {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return false
		}
	}

	if len(a.cfg.Keywords) > 0 {
		lower := strings.ToLower(text)
		found := false
		for _, kw := range a.cfg.Keywords {
			if strings.Contains(lower, strings.ToLower(kw)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// fetchMessageContext captures the context around one message: the full
// thread (paginated, capped at maxThreadReplies) when threadTS is set, or
// ContextMessages before/after it in the channel otherwise.
func (a *Adapter) fetchMessageContext(ctx context.Context, channelID, messageTS, threadTS string) *monitor.ContextData {
	data := &monitor.ContextData{}

	if threadTS != "" {
		var replies []rawMessage
		var cursorToken string
		for len(replies) < maxThreadReplies {
			params := url.Values{"channel": {channelID}, "ts": {threadTS}, "limit": {"200"}}
			if cursorToken != "" {
				params.Set("cursor", cursorToken)
			}
			var result conversationsRepliesResult
			if err := call(ctx, a.hc, "conversations.replies", params, nil, &result); err != nil {
				break
			}
			replies = append(replies, result.Messages...)
			cursorToken = result.ResponseMetadata.NextCursor
			if cursorToken == "" {
				break
			}
		}
		if len(replies) > maxThreadReplies {
			replies = replies[:maxThreadReplies]
		}
		data.Thread = toMessages(replies)
		return data
	}

	var before conversationsHistoryResult
	beforeParams := url.Values{
		"channel":   {channelID},
		"latest":    {messageTS},
		"inclusive": {"true"},
		"limit":     {strconv.Itoa(a.cfg.ContextMessages + 1)},
	}
	if err := call(ctx, a.hc, "conversations.history", beforeParams, nil, &before); err == nil && len(before.Messages) > 1 {
		data.Before = toMessages(before.Messages[1:])
	}

	var after conversationsHistoryResult
	afterParams := url.Values{
		"channel": {channelID},
		"oldest":  {messageTS},
		"limit":   {strconv.Itoa(a.cfg.ContextMessages)},
	}
	if err := call(ctx, a.hc, "conversations.history", afterParams, nil, &after); err == nil {
		data.After = toMessages(after.Messages)
	}

	return data
}

func (a *Adapter) fetchPermalink(ctx context.Context, channelID, messageTS string) string {
	var result permalinkResult
	params := url.Values{"channel": {channelID}, "message_ts": {messageTS}}
	if err := call(ctx, a.hc, "chat.getPermalink", params, nil, &result); err != nil {
		return ""
	}
	return result.Permalink
}

func (a *Adapter) resolveUserName(ctx context.Context, userID string) string {
	if userID == "" {
		return ""
	}
	if name, ok := a.userNames.Get(userID); ok {
		return name
	}
	var result usersInfoResult
	params := url.Values{"user": {userID}}
	if err := call(ctx, a.hc, "users.info", params, nil, &result); err != nil {
		return ""
	}
	name := result.User.Profile.DisplayName
	if name == "" {
		name = result.User.Profile.RealName
	}
	if name == "" {
		name = result.User.RealName
	}
	if name == "" {
		name = result.User.Name
	}
	if name != "" {
		a.userNames.Add(userID, name)
	}
	return name
}

// HandleWebhook processes one Slack Events API payload. url_verification
// carries no events (the caller's HTTP handler echoes the challenge);
// event_callback produces at most one event for app_mention/message types.
func (a *Adapter) HandleWebhook(ctx context.Context, payload []byte, _ map[string]string) ([]monitor.AdapterEvent, error) {
	var env eventCallbackPayload
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("slack: decode webhook payload: %w", err)
	}
	if env.Type != "event_callback" {
		return nil, nil
	}

	ev := env.Event
	switch ev.Type {
	case "app_mention":
		// fall through
	case "message":
		switch ev.Subtype {
		case "bot_message", "message_changed", "message_deleted":
			return nil, nil
		}
		if !a.matchesFilters(ev.Subtype, ev.Text) {
			return nil, nil
		}
	default:
		return nil, nil
	}

	var ctxData *monitor.ContextData
	if a.cfg.ContextMessages > 0 {
		ctxData = a.fetchMessageContext(ctx, ev.Channel, ev.TS, ev.ThreadTS)
	}
	permalink := a.fetchPermalink(ctx, ev.Channel, ev.TS)
	senderName := a.resolveUserName(ctx, ev.User)

	return []monitor.AdapterEvent{{
		ProviderEventID: ev.Channel + ":" + ev.TS,
		EventType:       ev.Type,
		EventData: monitor.EventData{
			Text:      ev.Text,
			ChannelID: ev.Channel,
			User:      ev.User,
			UserName:  senderName,
			TS:        ev.TS,
			ThreadTS:  ev.ThreadTS,
			Permalink: permalink,
		},
		ContextData:       ctxData,
		ProviderTimestamp: parseSlackTS(ev.TS),
	}}, nil
}

func toMessages(raw []rawMessage) []monitor.Message {
	out := make([]monitor.Message, 0, len(raw))
	for _, m := range raw {
		out = append(out, monitor.Message{Text: m.Text, User: m.User, TS: m.TS})
	}
	return out
}

func toSlackDate(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

func toUnixTS(iso string) string {
	if t, err := time.Parse(time.RFC3339, iso); err == nil {
		return strconv.FormatFloat(float64(t.Unix()), 'f', 6, 64)
	}
	if t, err := time.Parse("2006-01-02", iso[:min(len(iso), 10)]); err == nil {
		return strconv.FormatFloat(float64(t.Unix()), 'f', 6, 64)
	}
	return iso
}

func parseSlackTS(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	f, err := strconv.ParseFloat(ts, 64)
	if err != nil {
		return time.Time{}
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC()
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

