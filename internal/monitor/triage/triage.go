// Package triage implements the Monitor Engine's AI Triage Client (C2):
// actionability, already-handled, and urgency classification plus task
// title/description synthesis for a MonitorEvent, with deterministic
// fallback behavior when no model provider is configured or a call fails.
package triage

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/telemetry"
)

// Model is the narrow contract every provider-backed completion client
// implements. One Model call is one request/response round trip; streaming
// is not needed for triage's short, single-turn prompts.
type Model interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, error)
}

// Provider names a configured Model in priority order.
type Provider string

const (
	ProviderGroq      Provider = "groq"
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
)

// Client runs the triage prompts against a prioritized chain of Models,
// falling back to deterministic heuristics when the chain is empty or every
// call fails — triage is never allowed to block task creation (spec §7:
// TriageFailure fails open, not a distinct error type).
type Client struct {
	chain   []namedModel
	logger  telemetry.Logger
	metrics telemetry.Metrics
}

type namedModel struct {
	name  Provider
	model Model
}

// New builds a Client from a priority-ordered set of configured models.
// Pass a nil/empty map to run fully on the deterministic fallback path.
func New(logger telemetry.Logger, metrics telemetry.Metrics, models map[Provider]Model) *Client {
	c := &Client{logger: logger, metrics: metrics}
	for _, p := range []Provider{ProviderGroq, ProviderOpenAI, ProviderAnthropic} {
		if m, ok := models[p]; ok && m != nil {
			c.chain = append(c.chain, namedModel{name: p, model: m})
		}
	}
	return c
}

// complete tries each configured model in priority order, returning the
// first successful response. Every failure is logged at warn and the chain
// continues; an empty chain (or a chain that's entirely failed) returns
// ("", false) so the caller falls back to its own heuristic.
func (c *Client) complete(ctx context.Context, systemPrompt, userPrompt string, maxTokens int, temperature float64) (string, bool) {
	for _, nm := range c.chain {
		start := time.Now()
		out, err := nm.model.Complete(ctx, systemPrompt, userPrompt, maxTokens, temperature)
		if c.metrics != nil {
			c.metrics.RecordTimer("triage.call_duration", time.Since(start), "provider", string(nm.name))
		}
		if err != nil {
			if c.logger != nil {
				c.logger.Warn(ctx, "triage model call failed", "provider", string(nm.name), "error", err)
			}
			continue
		}
		return strings.TrimSpace(out), true
	}
	return "", false
}

var mentionPattern = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]+)?>`)

func stripMentions(text string) string {
	return strings.TrimSpace(mentionPattern.ReplaceAllString(text, ""))
}

// Triage runs the full actionability/handled/urgency classification for one
// event's text and optional thread context, recording for each verdict
// whether the model or the fallback heuristic produced it.
func (c *Client) Triage(ctx context.Context, text, context_ string) monitor.TriageResult {
	var r monitor.TriageResult

	if out, ok := c.complete(ctx, actionabilitySystemPrompt, actionabilityPrompt(text, context_), 10, 0.0); ok {
		r.Actionable = strings.HasPrefix(strings.ToLower(out), "yes")
		r.ActionableSource = "ai"
	} else {
		r.Actionable = fallbackActionable(text)
		r.ActionableSource = "fallback"
	}

	if out, ok := c.complete(ctx, alreadyHandledSystemPrompt, alreadyHandledPrompt(text, context_), 10, 0.0); ok {
		r.Handled = strings.HasPrefix(strings.ToLower(out), "yes")
		r.HandledSource = "ai"
	} else {
		// The original service defaults to "not handled" on any failure —
		// an unclassifiable thread should still surface as a task.
		r.Handled = false
		r.HandledSource = "fallback"
	}

	if out, ok := c.complete(ctx, urgencySystemPrompt, urgencyPrompt(text, context_), 10, 0.0); ok {
		r.Urgent = strings.HasPrefix(strings.ToLower(out), "yes")
		r.UrgentSource = "ai"
	} else {
		r.Urgent = fallbackUrgent(text)
		r.UrgentSource = "fallback"
	}

	return r
}

// GenerateTitle produces a task title for an event, given optional sender
// and project names for context.
func (c *Client) GenerateTitle(ctx context.Context, text, context_, sender, projectName string) string {
	out, ok := c.complete(ctx, titleSystemPrompt, titlePrompt(text, context_, sender, projectName), 100, 0.3)
	if !ok {
		return fallbackTitle(text, projectName)
	}
	title := strings.Trim(strings.TrimSpace(out), `"'`)
	if len(title) > 80 {
		title = title[:77] + "..."
	}
	return title
}

// GenerateDescription produces a task description for an event.
func (c *Client) GenerateDescription(ctx context.Context, text, context_, sender string) string {
	out, ok := c.complete(ctx, descriptionSystemPrompt, descriptionPrompt(text, context_, sender), 500, 0.3)
	if !ok {
		return fallbackDescription(text)
	}
	return out
}

// GenerateReplyDraft produces a draft reply for the on-demand DraftReply
// operation (spec supplement; see SPEC_FULL.md).
func (c *Client) GenerateReplyDraft(ctx context.Context, text, context_, sender, channelName string) string {
	out, ok := c.complete(ctx, replyDraftSystemPrompt, replyDraftPrompt(text, context_, sender, channelName), 500, 0.5)
	if !ok {
		return fallbackReply
	}
	return strings.Trim(strings.TrimSpace(out), `"'`)
}

const fallbackReply = "Thanks for the heads up — I'll take a look and get back to you."

var nonActionablePhrases = map[string]bool{
	"okay": true, "ok": true, "sure": true, "got it": true,
	"thanks": true, "thank you": true, "noted": true, "will do": true,
	"done": true, "yes": true, "no": true, "agreed": true,
}

func fallbackActionable(text string) bool {
	clean := strings.ToLower(stripMentions(text))
	if nonActionablePhrases[strings.TrimRight(clean, ".!")] {
		return false
	}
	if strings.Contains(clean, "did not post a standup for") {
		return false
	}
	return true
}

var urgentKeywords = []string{
	"urgent", "asap", "immediately", "critical", "emergency",
	"time-sensitive", "blocking", "blocker", "outage", "down",
	"incident", "escalat", "p0", "p1", "sev1", "sev0",
	"production issue", "prod issue", "site down", "service down",
}

func fallbackUrgent(text string) bool {
	clean := strings.ToLower(stripMentions(text))
	for _, kw := range urgentKeywords {
		if strings.Contains(clean, kw) {
			return true
		}
	}
	return false
}

func fallbackTitle(text, projectName string) string {
	clean := stripMentions(text)
	prefix := ""
	if projectName != "" {
		prefix = projectName + ": "
	}
	switch {
	case len(clean) > 60:
		return prefix + clean[:57] + "..."
	case clean != "":
		return prefix + clean
	default:
		return prefix + "New mention"
	}
}

func fallbackDescription(text string) string {
	clean := mentionPattern.ReplaceAllStringFunc(text, func(m string) string {
		sub := mentionPattern.FindStringSubmatch(m)
		if len(sub) > 1 && sub[1] != "" {
			return sub[1][1:]
		}
		return ""
	})
	clean = strings.TrimSpace(clean)
	if len(clean) > 500 {
		clean = clean[:497] + "..."
	}
	return clean
}
