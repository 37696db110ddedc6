// Package processor implements the Monitor Engine's per-event pipeline
// (C4): dedup, persistence, AI triage and title/description synthesis for
// Slack my_mentions events, mechanical synthesis for everything else,
// cross-monitor dedup, task creation, and the context comment a Slack task
// gets on creation.
package processor

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store"
	"github.com/opslane/monitor-engine/internal/monitor/triage"
	"github.com/opslane/monitor-engine/internal/telemetry"
)

// Processor runs the event -> task pipeline for one poll or webhook batch.
// It holds no per-monitor state; every method is parameterized by the
// monitor the event belongs to.
type Processor struct {
	events   store.EventStore
	tasks    store.TaskStore
	comments store.CommentStore
	triage   *triage.Client
	logger   telemetry.Logger
	metrics  telemetry.Metrics
}

// New builds a Processor. triageClient must be non-nil; construct it via
// triage.New with an empty model map to run every Slack my_mentions event
// on the deterministic fallback path instead of a real model.
func New(events store.EventStore, tasks store.TaskStore, comments store.CommentStore, triageClient *triage.Client, logger telemetry.Logger, metrics telemetry.Metrics) *Processor {
	return &Processor{events: events, tasks: tasks, comments: comments, triage: triageClient, logger: logger, metrics: metrics}
}

// ProcessEvent stores a newly observed event if it isn't a duplicate, and
// attempts to materialize a task from it. It reports false, nil for a
// duplicate or a deliberately-dropped event (non-actionable, already
// handled, cross-monitor duplicate, no queue) — none of those are errors.
func (p *Processor) ProcessEvent(ctx context.Context, m *monitor.Monitor, ev monitor.AdapterEvent) (bool, error) {
	record := &monitor.MonitorEvent{
		ID:                uuid.NewString(),
		OrganizationID:    m.OrganizationID,
		MonitorID:         m.ID,
		ProviderEventID:   ev.ProviderEventID,
		EventType:         ev.EventType,
		EventData:         ev.EventData,
		ContextData:       ev.ContextData,
		ProviderTimestamp: ev.ProviderTimestamp,
		CreatedAt:         time.Now(),
	}

	if err := p.events.Create(ctx, record); err != nil {
		if errors.Is(err, store.ErrDuplicateEvent) {
			return false, nil
		}
		return false, fmt.Errorf("persist event: %w", err)
	}

	taskID, err := p.triggerPlaybook(ctx, m, record)
	if err != nil {
		return false, err
	}
	if taskID == "" {
		return false, nil
	}

	if err := p.events.MarkProcessed(ctx, record.ID, taskID); err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	return true, nil
}

// triggerPlaybook decides whether a task should be created from ev and, if
// so, creates it (with its context comment). Returns "" with a nil error
// for every deliberate drop.
func (p *Processor) triggerPlaybook(ctx context.Context, m *monitor.Monitor, ev *monitor.MonitorEvent) (string, error) {
	isSlackMentions := m.Provider == monitor.ProviderSlack && m.ProviderConfig.Slack.MyMentions

	if isSlackMentions {
		text := ev.EventData.Text
		result := p.triage.Triage(ctx, text, threadContext(ev.ContextData, 5))
		ev.Triage = &result

		if !result.Actionable {
			if p.logger != nil {
				p.logger.Info(ctx, "skipping non-actionable slack message", "monitor_id", m.ID, "text", truncate(text, 80))
			}
			return "", nil
		}
		if result.Handled {
			if p.logger != nil {
				p.logger.Info(ctx, "skipping already-handled slack message", "monitor_id", m.ID, "text", truncate(text, 80))
			}
			return "", nil
		}
	}

	queueID := m.QueueID
	if queueID == "" {
		if p.logger != nil {
			p.logger.Error(ctx, "no queue configured for monitor", "monitor_id", m.ID)
		}
		return "", nil
	}

	sourceURL := ev.EventData.Permalink
	if sourceURL != "" {
		exists, err := p.events.ExistsBySourceURL(ctx, m.OrganizationID, sourceURL)
		if err != nil {
			return "", fmt.Errorf("check source_url dedup: %w", err)
		}
		if exists {
			if p.logger != nil {
				p.logger.Info(ctx, "skipping duplicate task", "source_url", sourceURL)
			}
			return "", nil
		}
	}

	sender := senderName(ev.EventData)
	title := p.taskTitle(ctx, m, ev, isSlackMentions, sender)
	description := p.taskDescription(ctx, m, ev, isSlackMentions, sender)

	inputData := map[string]any{}
	for k, v := range m.InputDataTemplate {
		inputData[k] = v
	}
	monitorEvent := map[string]any{
		"event_id":           ev.ProviderEventID,
		"event_type":         ev.EventType,
		"event_data":         ev.EventData,
		"context_data":       ev.ContextData,
		"provider_timestamp": ev.ProviderTimestamp,
	}
	if ev.Triage != nil {
		// Urgency isn't consumed by this repo's task creation (spec §9
		// Open Question 1 keeps Priority fixed at 5), but it rides along
		// here so a downstream consumer can still act on it.
		monitorEvent["urgent"] = ev.Triage.Urgent
	}
	inputData["_monitor_event"] = monitorEvent

	task := &monitor.Task{
		OrganizationID:  m.OrganizationID,
		QueueID:         queueID,
		Title:           title,
		Description:     description,
		Status:          monitor.TaskStatusQueued,
		Priority:        5,
		ProjectID:       m.ProjectID,
		SourceMonitorID: m.ID,
		SourcePlaybookID: m.PlaybookID,
		SourceURL:       sourceURL,
		InputData:       inputData,
	}

	taskID, err := p.tasks.Create(ctx, task)
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	if p.logger != nil {
		p.logger.Info(ctx, "created task from monitor event", "task_id", taskID, "monitor_id", m.ID)
	}

	if m.Provider == monitor.ProviderSlack {
		p.createContextComment(ctx, taskID, m, ev)
	}

	return taskID, nil
}

func (p *Processor) taskTitle(ctx context.Context, m *monitor.Monitor, ev *monitor.MonitorEvent, isSlackMentions bool, sender string) string {
	if isSlackMentions {
		return p.triage.GenerateTitle(ctx, ev.EventData.Text, threadContext(ev.ContextData, 5), sender, "")
	}
	return fallbackTaskTitle(m, ev)
}

func (p *Processor) taskDescription(ctx context.Context, m *monitor.Monitor, ev *monitor.MonitorEvent, isSlackMentions bool, sender string) string {
	if isSlackMentions {
		return p.triage.GenerateDescription(ctx, ev.EventData.Text, threadContext(ev.ContextData, 5), sender)
	}
	return fallbackTaskDescription(m, ev)
}

// DraftReply generates a suggested reply to an event's text, for the
// on-demand DraftReply operation.
func (p *Processor) DraftReply(ctx context.Context, text, context_, sender, channelName string) string {
	return p.triage.GenerateReplyDraft(ctx, text, context_, sender, channelName)
}

func (p *Processor) createContextComment(ctx context.Context, taskID string, m *monitor.Monitor, ev *monitor.MonitorEvent) {
	var b strings.Builder
	b.WriteString("**Slack Conversation Context**\n\n")

	if !ev.ProviderTimestamp.IsZero() {
		fmt.Fprintf(&b, "**Message** (%s):\n", ev.ProviderTimestamp.UTC().Format("2006-01-02 15:04 UTC"))
	} else {
		b.WriteString("**Message:**\n")
	}
	fmt.Fprintf(&b, "> %s\n\n", ev.EventData.Text)

	if ev.ContextData != nil && len(ev.ContextData.Thread) > 1 {
		b.WriteString("**Thread context:**\n")
		msgs := ev.ContextData.Thread
		if len(msgs) > 10 {
			msgs = msgs[:10]
		}
		for _, msg := range msgs {
			fmt.Fprintf(&b, "- %s\n", truncate(msg.Text, 300))
		}
		b.WriteString("\n")
	}

	if ev.EventData.Permalink != "" {
		fmt.Fprintf(&b, "[View in Slack](%s)", ev.EventData.Permalink)
	}

	comment := &monitor.Comment{
		OrganizationID: m.OrganizationID,
		TaskID:         taskID,
		UserID:         "system",
		UserName:       "Slack Monitor",
		Content:        b.String(),
	}
	if _, err := p.comments.Create(ctx, comment); err != nil && p.logger != nil {
		p.logger.Error(ctx, "create context comment failed", "task_id", taskID, "error", err)
	}
}

func senderName(d monitor.EventData) string {
	if d.UserName != "" {
		return d.UserName
	}
	if d.User != "" {
		return d.User
	}
	if d.From != nil {
		if d.From.Name != "" {
			return d.From.Name
		}
		return d.From.Email
	}
	return ""
}

func threadContext(cd *monitor.ContextData, limit int) string {
	if cd == nil || len(cd.Thread) == 0 {
		return ""
	}
	msgs := cd.Thread
	if len(msgs) > limit {
		msgs = msgs[:limit]
	}
	lines := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		lines = append(lines, truncate(msg.Text, 500))
	}
	return strings.Join(lines, "\n")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func fallbackTaskTitle(m *monitor.Monitor, ev *monitor.MonitorEvent) string {
	switch m.Provider {
	case monitor.ProviderSlack:
		text := ev.EventData.Text
		if text == "" {
			return "[Slack] New message"
		}
		return "[Slack] " + truncate50(text)
	case monitor.ProviderGmail:
		subject := ev.EventData.Subject
		if subject == "" {
			return "[Gmail] New email"
		}
		return "[Gmail] " + truncate50(subject)
	case monitor.ProviderOutlook:
		subject := ev.EventData.Subject
		if subject == "" {
			return "[Outlook] New email"
		}
		return "[Outlook] " + truncate50(subject)
	default:
		return "[Monitor] Event detected"
	}
}

func truncate50(s string) string {
	if len(s) > 50 {
		return s[:47] + "..."
	}
	return s
}

var (
	namedMentionPattern = regexp.MustCompile(`<@[A-Z0-9]+\|([^>]+)>`)
	bareMentionPattern  = regexp.MustCompile(`<@[A-Z0-9]+>`)
)

func stripSlackMarkup(text string) string {
	text = namedMentionPattern.ReplaceAllString(text, "$1")
	text = bareMentionPattern.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

func fallbackTaskDescription(m *monitor.Monitor, ev *monitor.MonitorEvent) string {
	var lines []string

	switch m.Provider {
	case monitor.ProviderSlack:
		text := stripSlackMarkup(ev.EventData.Text)
		if text != "" {
			lines = append(lines, text)
		}
		if ev.ContextData != nil && len(ev.ContextData.Thread) > 0 {
			lines = append(lines, "", "**Thread context:**")
			msgs := ev.ContextData.Thread
			if len(msgs) > 5 {
				msgs = msgs[:5]
			}
			for _, msg := range msgs {
				lines = append(lines, "- "+stripSlackMarkup(truncate(msg.Text, 100)))
			}
		}
	case monitor.ProviderGmail, monitor.ProviderOutlook:
		fromEmail, fromName := "Unknown", ""
		if ev.EventData.From != nil {
			fromEmail = ev.EventData.From.Email
			fromName = ev.EventData.From.Name
		}
		fromDisplay := fromEmail
		if fromName != "" {
			fromDisplay = fmt.Sprintf("%s <%s>", fromName, fromEmail)
		}
		lines = append(lines, "**From:** "+fromDisplay)
		subject := ev.EventData.Subject
		if subject == "" {
			subject = "No subject"
		}
		lines = append(lines, "**Subject:** "+subject)
		if ev.EventData.Snippet != "" {
			lines = append(lines, "", "**Preview:**", truncate(ev.EventData.Snippet, 500))
		}
	}

	return strings.Join(lines, "\n")
}
