// Package engine implements the Monitor Engine's scheduler (C3): a bounded
// worker pool that polls due monitors, the webhook entry points external
// HTTP handlers call into, and the on-demand operations (config validation,
// reply drafting) that sit outside the poll/webhook loop.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/adapter"
	"github.com/opslane/monitor-engine/internal/monitor/adapter/gmail"
	"github.com/opslane/monitor-engine/internal/monitor/adapter/outlook"
	"github.com/opslane/monitor-engine/internal/monitor/adapter/slack"
	"github.com/opslane/monitor-engine/internal/monitor/processor"
	"github.com/opslane/monitor-engine/internal/monitor/store"
	"github.com/opslane/monitor-engine/internal/monitor/triage"
	"github.com/opslane/monitor-engine/internal/telemetry"
)

// Config tunes the scheduler. Zero values are replaced with the defaults
// spec §5 names.
type Config struct {
	// Workers bounds how many monitors can be polled concurrently.
	Workers int
	// TickInterval is how often the scheduler checks for due monitors.
	TickInterval time.Duration
	// PollTimeout bounds a single monitor's poll-plus-processing run.
	PollTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.TickInterval <= 0 {
		c.TickInterval = 30 * time.Second
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = 5 * time.Minute
	}
	return c
}

// Engine owns the scheduler loop and the webhook/validate/draft-reply entry
// points. It is constructed once per process and run for the process
// lifetime; once Run's context is canceled, Run waits for in-flight polls
// to finish before returning.
type Engine struct {
	cfg Config

	monitors  store.MonitorStore
	events    store.EventStore
	tasks     store.TaskStore
	comments  store.CommentStore
	decrypter store.Decrypter

	processor *processor.Processor
	logger    telemetry.Logger
	metrics   telemetry.Metrics

	mu       sync.Mutex
	inFlight map[string]bool

	wg sync.WaitGroup
}

// New builds an Engine. triageClient must be non-nil; one built by
// triage.New with a nil/empty model map runs triage entirely on its
// deterministic fallback path.
func New(
	cfg Config,
	monitors store.MonitorStore,
	events store.EventStore,
	tasks store.TaskStore,
	comments store.CommentStore,
	decrypter store.Decrypter,
	triageClient *triage.Client,
	logger telemetry.Logger,
	metrics telemetry.Metrics,
) *Engine {
	return &Engine{
		cfg:       cfg.withDefaults(),
		monitors:  monitors,
		events:    events,
		tasks:     tasks,
		comments:  comments,
		decrypter: decrypter,
		processor: processor.New(events, tasks, comments, triageClient, logger, metrics),
		logger:    logger,
		metrics:   metrics,
		inFlight:  make(map[string]bool),
	}
}

// adapterFor builds the Adapter for one monitor's provider, scoped to its
// decrypted Connection and provider-specific config.
func adapterFor(provider monitor.Provider, conn monitor.Connection, cfg monitor.ProviderConfig) (adapter.Adapter, error) {
	switch provider {
	case monitor.ProviderSlack:
		return slack.New(conn, cfg.Slack), nil
	case monitor.ProviderGmail:
		return gmail.New(conn, cfg.Mail), nil
	case monitor.ProviderOutlook:
		return outlook.New(conn, cfg.Mail), nil
	default:
		return nil, fmt.Errorf("engine: unsupported provider %q", provider)
	}
}

// Run starts the ticker-driven scheduler loop and blocks until ctx is
// canceled, at which point it waits for in-flight polls to finish before
// returning.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()

	sem := make(chan struct{}, e.cfg.Workers)

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return
		case <-ticker.C:
			e.scanDue(ctx, sem)
		}
	}
}

// scanDue fetches the set of due monitors and dispatches each to a worker
// slot, skipping any monitor already in flight from a prior tick.
func (e *Engine) scanDue(ctx context.Context, sem chan struct{}) {
	due, err := e.monitors.DueMonitors(ctx)
	if err != nil {
		if e.logger != nil {
			e.logger.Error(ctx, "list due monitors failed", "error", err)
		}
		return
	}

	for _, m := range due {
		m := m
		e.mu.Lock()
		if e.inFlight[m.ID] {
			e.mu.Unlock()
			continue
		}
		e.inFlight[m.ID] = true
		inFlightCount := len(e.inFlight)
		e.mu.Unlock()

		if e.metrics != nil {
			e.metrics.RecordGauge("monitor.worker_pool_occupancy", float64(inFlightCount))
		}

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			defer func() {
				e.mu.Lock()
				delete(e.inFlight, m.ID)
				e.mu.Unlock()
			}()

			// A monitor still waiting for a slot when the engine shuts down
			// is not started; one already running finishes under its own
			// poll budget rather than having its HTTP calls cut short.
			if ctx.Err() != nil {
				return
			}
			pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.PollTimeout)
			defer cancel()
			e.PollMonitor(pollCtx, m, nil, nil, false)
		}()
	}
}

// PollMonitor runs the full poll-one-monitor procedure: decrypt connection,
// build an adapter, poll, process every returned event, and persist the
// outcome (status/cursor/counters). oldest/latest bound a backfill window;
// when set, is_backfill is forced true and the cursor is left untouched
// (spec §4.3 / the original's poll_monitor is_backfill contract).
func (e *Engine) PollMonitor(ctx context.Context, m *monitor.Monitor, oldest, latest *string, forceBackfill bool) (eventsFound, eventsProcessed int, pollErr error) {
	isBackfill := forceBackfill || oldest != nil || latest != nil

	conn, err := e.decrypter.Decrypt(ctx, m.ConnectionID)
	if err != nil {
		errMsg := "Connection not found or expired"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errMsg = "poll timeout"
		}
		e.setMonitorError(ctx, m, errMsg)
		return 0, 0, err
	}

	ad, err := adapterFor(m.Provider, conn, m.ProviderConfig)
	if err != nil {
		e.setMonitorError(ctx, m, err.Error())
		return 0, 0, err
	}

	pollStart := time.Now()
	result, err := ad.Poll(ctx, m.Cursor, oldest, latest)
	if e.metrics != nil {
		e.metrics.RecordTimer("monitor.poll_duration", time.Since(pollStart), "provider", string(m.Provider))
	}
	if err != nil {
		errMsg := err.Error()
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			errMsg = "poll timeout"
		}
		e.setMonitorError(ctx, m, errMsg)
		if e.logger != nil {
			e.logger.Error(ctx, "poll monitor failed", "monitor_id", m.ID, "provider", string(m.Provider), "error", err)
		}
		return 0, 0, err
	}

	eventsFound = len(result.Events)
	now := time.Now()

	for _, ev := range result.Events {
		created, err := e.processor.ProcessEvent(ctx, m, ev)
		if err != nil {
			if e.logger != nil {
				e.logger.Error(ctx, "process event failed", "monitor_id", m.ID, "provider_event_id", ev.ProviderEventID, "error", err)
			}
			continue
		}
		if created {
			eventsProcessed++
		}
	}

	m.LastError = ""
	m.Status = monitor.StatusActive
	m.LastPolledAt = &now
	if !isBackfill {
		m.Cursor = result.NewCursor
	}
	if eventsFound > 0 {
		m.LastEventAt = &now
		m.EventsDetected += int64(eventsFound)
		m.TasksCreated += int64(eventsProcessed)
	}

	if err := e.monitors.UpdateAfterPoll(ctx, m); err != nil && e.logger != nil {
		e.logger.Error(ctx, "update monitor after poll failed", "monitor_id", m.ID, "error", err)
	}

	if e.metrics != nil {
		e.metrics.IncCounter("monitor.events_detected", float64(eventsFound), "provider", string(m.Provider))
		e.metrics.IncCounter("monitor.tasks_created", float64(eventsProcessed), "provider", string(m.Provider))
	}

	return eventsFound, eventsProcessed, nil
}

func (e *Engine) setMonitorError(ctx context.Context, m *monitor.Monitor, msg string) {
	m.Status = monitor.StatusError
	m.LastError = msg
	if err := e.monitors.UpdateAfterPoll(ctx, m); err != nil && e.logger != nil {
		e.logger.Error(ctx, "persist monitor error failed", "monitor_id", m.ID, "error", err)
	}
}

// HandleWebhook routes a generic provider webhook payload to every active
// monitor configured for that provider, mirroring the original's
// provider-scoped handle_webhook (as distinct from Slack's app-level
// routing in HandleSlackWebhook).
func (e *Engine) HandleWebhook(ctx context.Context, provider monitor.Provider, ms []*monitor.Monitor, payload []byte, headers map[string]string) (monitorsMatched, eventsProcessed int) {
	for _, m := range ms {
		if m.Provider != provider || !m.Active() {
			continue
		}
		n := e.handleWebhookForMonitor(ctx, m, payload, headers)
		monitorsMatched++
		eventsProcessed += n
	}
	return monitorsMatched, eventsProcessed
}

// HandleSlackWebhook implements the Slack-specific webhook route: Slack
// Events API subscriptions are configured once at the app level, so
// instead of looking up a monitor by webhook_id, every active my_mentions
// Slack monitor is offered the event and an app_mention is additionally
// filtered down to the monitor whose connection user ID is the one
// mentioned.
func (e *Engine) HandleSlackWebhook(ctx context.Context, ms []*monitor.Monitor, payload []byte, headers map[string]string, rawEvent map[string]any) (monitorsMatched, tasksCreated int) {
	eventType, _ := rawEvent["type"].(string)
	if eventType != "app_mention" && eventType != "message" {
		return 0, 0
	}
	text, _ := rawEvent["text"].(string)

	for _, m := range ms {
		if m.Provider != monitor.ProviderSlack || !m.Active() || !m.ProviderConfig.Slack.MyMentions {
			continue
		}

		conn, err := e.decrypter.Decrypt(ctx, m.ConnectionID)
		if err != nil {
			if e.logger != nil {
				e.logger.Warn(ctx, "no connection data for monitor", "monitor_id", m.ID, "error", err)
			}
			continue
		}

		if eventType == "app_mention" && conn.ProviderUserID != "" {
			if !strings.Contains(text, "<@"+conn.ProviderUserID+">") {
				continue
			}
		}

		n := e.handleWebhookForMonitor(ctx, m, payload, headers)
		monitorsMatched++
		tasksCreated += n
	}

	if e.logger != nil {
		e.logger.Info(ctx, "slack webhook processed", "monitors_matched", monitorsMatched, "tasks_created", tasksCreated)
	}
	return monitorsMatched, tasksCreated
}

func (e *Engine) handleWebhookForMonitor(ctx context.Context, m *monitor.Monitor, payload []byte, headers map[string]string) (eventsProcessed int) {
	conn, err := e.decrypter.Decrypt(ctx, m.ConnectionID)
	if err != nil {
		return 0
	}
	ad, err := adapterFor(m.Provider, conn, m.ProviderConfig)
	if err != nil {
		return 0
	}
	evs, err := ad.HandleWebhook(ctx, payload, headers)
	if err != nil {
		if e.logger != nil {
			e.logger.Error(ctx, "adapter webhook handling failed", "monitor_id", m.ID, "error", err)
		}
		return 0
	}
	for _, ev := range evs {
		created, err := e.processor.ProcessEvent(ctx, m, ev)
		if err != nil {
			if e.logger != nil {
				e.logger.Error(ctx, "process webhook event failed", "monitor_id", m.ID, "error", err)
			}
			continue
		}
		if created {
			eventsProcessed++
		}
	}
	return eventsProcessed
}

// ValidateMonitorConfig checks that a provider/connection/provider_config
// triple is internally consistent and that the credentials can reach the
// provider, before a monitor is created or updated.
func (e *Engine) ValidateMonitorConfig(ctx context.Context, provider monitor.Provider, conn monitor.Connection, cfg monitor.ProviderConfig) (bool, string) {
	ad, err := adapterFor(provider, conn, cfg)
	if err != nil {
		return false, err.Error()
	}
	return ad.ValidateConfig(ctx)
}

// DraftReply generates a suggested reply for a previously recorded event,
// an on-demand operation not backed by the polling loop (SPEC_FULL.md
// supplement over the original's batch-only title/description generation).
func (e *Engine) DraftReply(ctx context.Context, m *monitor.Monitor, ev *monitor.MonitorEvent, channelName string) string {
	sender := senderName(ev.EventData)
	context_ := threadContext(ev.ContextData, 5)
	return e.processor.DraftReply(ctx, ev.EventData.Text, context_, sender, channelName)
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
		t := msg.Text
		if len(t) > 500 {
			t = t[:500]
		}
		lines = append(lines, t)
	}
	return strings.Join(lines, "\n")
}
