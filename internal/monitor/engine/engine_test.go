package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store/memory"
	"github.com/opslane/monitor-engine/internal/monitor/triage"
)

func newTestEngine(st *memory.Store, conns *memory.Connections) *Engine {
	triageClient := triage.New(nil, nil, nil)
	return New(Config{}, st.Monitors, st.Events, st.Tasks, st.Comments, conns, triageClient, nil, nil)
}

func TestHandleWebhookSkipsInactiveAndMismatchedProvider(t *testing.T) {
	st := memory.New()
	e := newTestEngine(st, memory.NewConnections())
	ctx := context.Background()

	ms := []*monitor.Monitor{
		{ID: "m1", Provider: monitor.ProviderGmail, Status: monitor.StatusPaused},
		{ID: "m2", Provider: monitor.ProviderOutlook, Status: monitor.StatusActive},
	}

	matched, processed := e.HandleWebhook(ctx, monitor.ProviderGmail, ms, []byte(`{}`), nil)
	require.Equal(t, 0, matched, "paused monitor and wrong-provider monitor must both be skipped")
	require.Equal(t, 0, processed)
}

func TestHandleSlackWebhookIgnoresUnrelatedEventTypes(t *testing.T) {
	st := memory.New()
	e := newTestEngine(st, memory.NewConnections())
	ctx := context.Background()

	ms := []*monitor.Monitor{
		{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive,
			ProviderConfig: monitor.ProviderConfig{Slack: monitor.SlackConfig{MyMentions: true}}},
	}

	matched, created := e.HandleSlackWebhook(ctx, ms, []byte(`{}`), nil, map[string]any{"type": "reaction_added"})
	require.Equal(t, 0, matched)
	require.Equal(t, 0, created)
}

func TestHandleSlackWebhookRequiresMyMentions(t *testing.T) {
	st := memory.New()
	e := newTestEngine(st, memory.NewConnections())
	ctx := context.Background()

	ms := []*monitor.Monitor{
		{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive,
			ProviderConfig: monitor.ProviderConfig{Slack: monitor.SlackConfig{MyMentions: false}}},
	}

	matched, created := e.HandleSlackWebhook(ctx, ms, []byte(`{}`), nil, map[string]any{"type": "app_mention", "text": "<@U1> help"})
	require.Equal(t, 0, matched, "a monitor not watching my_mentions must never be dispatched to")
	require.Equal(t, 0, created)
}

func TestValidateMonitorConfigUnsupportedProvider(t *testing.T) {
	st := memory.New()
	e := newTestEngine(st, memory.NewConnections())
	ctx := context.Background()

	ok, msg := e.ValidateMonitorConfig(ctx, monitor.Provider("unknown"), monitor.Connection{}, monitor.ProviderConfig{})
	require.False(t, ok)
	require.Contains(t, msg, "unsupported provider")
}

func TestPollMonitorDecryptFailureSetsErrorStatus(t *testing.T) {
	st := memory.New()
	conns := memory.NewConnections() // no connection registered
	e := newTestEngine(st, conns)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive, ConnectionID: "missing-conn"}
	st.Put(m)

	_, _, err := e.PollMonitor(ctx, m, nil, nil, false)
	require.Error(t, err)

	got, getErr := st.Monitors.Get(ctx, "m1")
	require.NoError(t, getErr)
	require.Equal(t, monitor.StatusError, got.Status)
	require.Equal(t, "Connection not found or expired", got.LastError)
}

func TestPollMonitorTimeoutSetsPollTimeoutError(t *testing.T) {
	st := memory.New()
	conns := memory.NewConnections()
	conns.Put("conn-1", monitor.Connection{AccessToken: "tok"})
	e := newTestEngine(st, conns)

	m := &monitor.Monitor{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive, ConnectionID: "conn-1"}
	st.Put(m)

	// A context whose deadline has already passed makes the first
	// context-aware step of the poll (the connection lookup) fail with
	// context.DeadlineExceeded, the same outcome a real per-monitor poll
	// budget expiring mid-flight produces, without needing a live or slow
	// network call to observe it.
	pollCtx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, _, err := e.PollMonitor(pollCtx, m, nil, nil, false)
	require.Error(t, err)

	got, getErr := st.Monitors.Get(context.Background(), "m1")
	require.NoError(t, getErr)
	require.Equal(t, monitor.StatusError, got.Status)
	require.Equal(t, "poll timeout", got.LastError)
}

func TestPollMonitorUnsupportedProviderSetsErrorStatus(t *testing.T) {
	st := memory.New()
	conns := memory.NewConnections()
	conns.Put("conn-1", monitor.Connection{AccessToken: "tok"})
	e := newTestEngine(st, conns)
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m1", Provider: monitor.Provider("unsupported"), Status: monitor.StatusActive, ConnectionID: "conn-1"}
	st.Put(m)

	_, _, err := e.PollMonitor(ctx, m, nil, nil, false)
	require.Error(t, err)

	got, getErr := st.Monitors.Get(ctx, "m1")
	require.NoError(t, getErr)
	require.Equal(t, monitor.StatusError, got.Status)
}

func TestScanDueSkipsMonitorsAlreadyInFlight(t *testing.T) {
	st := memory.New()
	e := newTestEngine(st, memory.NewConnections())
	ctx := context.Background()

	m := &monitor.Monitor{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive, PollIntervalSeconds: 30}
	st.Put(m)

	e.mu.Lock()
	e.inFlight["m1"] = true
	e.mu.Unlock()

	sem := make(chan struct{}, 1)
	e.scanDue(ctx, sem)

	// scanDue dispatches in a goroutine for monitors not already in flight;
	// since m1 was marked in flight up front, no goroutine should have been
	// spawned for it and wg should drain immediately.
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scanDue dispatched a monitor that was already in flight")
	}
}
