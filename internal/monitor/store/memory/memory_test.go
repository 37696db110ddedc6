package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store"
)

func TestMonitorStoreDueMonitors(t *testing.T) {
	s := New()
	ctx := context.Background()

	due := &monitor.Monitor{ID: "m-due", Status: monitor.StatusActive, PollIntervalSeconds: 60}
	notDue := &monitor.Monitor{ID: "m-not-due", Status: monitor.StatusActive, PollIntervalSeconds: 3600}
	now := time.Now()
	notDue.LastPolledAt = &now
	paused := &monitor.Monitor{ID: "m-paused", Status: monitor.StatusPaused, PollIntervalSeconds: 60}

	s.Put(due)
	s.Put(notDue)
	s.Put(paused)

	got, err := s.Monitors.DueMonitors(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m-due", got[0].ID)
}

func TestMonitorStoreGetNotFound(t *testing.T) {
	s := New()
	_, err := s.Monitors.Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMonitorStoreActiveByProvider(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.Put(&monitor.Monitor{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive})
	s.Put(&monitor.Monitor{ID: "m2", Provider: monitor.ProviderSlack, Status: monitor.StatusPaused})
	s.Put(&monitor.Monitor{ID: "m3", Provider: monitor.ProviderGmail, Status: monitor.StatusActive})

	got, err := s.Monitors.ActiveByProvider(ctx, monitor.ProviderSlack)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)
}

func TestMonitorStoreUpdateAfterPoll(t *testing.T) {
	s := New()
	ctx := context.Background()
	m := &monitor.Monitor{ID: "m1", Status: monitor.StatusActive}
	s.Put(m)

	m.Cursor = monitor.Cursor{LastSeenTS: "123"}
	require.NoError(t, s.Monitors.UpdateAfterPoll(ctx, m))

	got, err := s.Monitors.Get(ctx, "m1")
	require.NoError(t, err)
	require.Equal(t, "123", got.Cursor.LastSeenTS)

	require.ErrorIs(t, s.Monitors.UpdateAfterPoll(ctx, &monitor.Monitor{ID: "unknown"}), store.ErrNotFound)
}

func TestEventStoreCreateRejectsDuplicate(t *testing.T) {
	s := New()
	ctx := context.Background()

	ev := &monitor.MonitorEvent{MonitorID: "m1", ProviderEventID: "p1"}
	require.NoError(t, s.Events.Create(ctx, ev))
	require.NotEmpty(t, ev.ID)

	dup := &monitor.MonitorEvent{MonitorID: "m1", ProviderEventID: "p1"}
	require.ErrorIs(t, s.Events.Create(ctx, dup), store.ErrDuplicateEvent)

	// Same provider event ID on a different monitor is not a duplicate.
	other := &monitor.MonitorEvent{MonitorID: "m2", ProviderEventID: "p1"}
	require.NoError(t, s.Events.Create(ctx, other))
}

func TestEventStoreExistsBySourceURL(t *testing.T) {
	s := New()
	ctx := context.Background()

	ok, err := s.Events.ExistsBySourceURL(ctx, "org1", "")
	require.NoError(t, err)
	require.False(t, ok, "empty source URL never matches")

	ok, err = s.Events.ExistsBySourceURL(ctx, "org1", "https://example.com/msg/1")
	require.NoError(t, err)
	require.False(t, ok)

	_, err = s.Tasks.Create(ctx, &monitor.Task{OrganizationID: "org1", SourceURL: "https://example.com/msg/1"})
	require.NoError(t, err)

	ok, err = s.Events.ExistsBySourceURL(ctx, "org1", "https://example.com/msg/1")
	require.NoError(t, err)
	require.True(t, ok)

	// Scoped per organization: another org hasn't seen this URL.
	ok, err = s.Events.ExistsBySourceURL(ctx, "org2", "https://example.com/msg/1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEventStoreMarkProcessed(t *testing.T) {
	s := New()
	ctx := context.Background()

	ev := &monitor.MonitorEvent{MonitorID: "m1", ProviderEventID: "p1"}
	require.NoError(t, s.Events.Create(ctx, ev))

	require.NoError(t, s.Events.MarkProcessed(ctx, ev.ID, "task-1"))
	require.ErrorIs(t, s.Events.MarkProcessed(ctx, "missing", "task-2"), store.ErrNotFound)
}

func TestTaskStoreCreateGeneratesID(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Tasks.Create(ctx, &monitor.Task{OrganizationID: "org1", Title: "t"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestCommentStoreCreateGeneratesID(t *testing.T) {
	s := New()
	ctx := context.Background()

	id, err := s.Comments.Create(ctx, &monitor.Comment{TaskID: "t1", Content: "hello"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestConnectionsDecrypt(t *testing.T) {
	c := NewConnections()
	ctx := context.Background()

	_, err := c.Decrypt(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)

	c.Put("conn1", monitor.Connection{AccessToken: "xoxb-1"})
	got, err := c.Decrypt(ctx, "conn1")
	require.NoError(t, err)
	require.Equal(t, "xoxb-1", got.AccessToken)
}
