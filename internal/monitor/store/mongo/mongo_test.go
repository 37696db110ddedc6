package mongo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store"
)

var (
	testMongoClient    *mongo.Client
	testMongoContainer testcontainers.Container
	skipMongoTests     bool
)

func setupMongoDB() {
	ctx := context.Background()

	var containerErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				containerErr = fmt.Errorf("docker not available: %v", r)
			}
		}()
		req := testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForLog("Waiting for connections"),
			Tmpfs:        map[string]string{"/data/db": "rw"},
		}
		testMongoContainer, containerErr = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
			ContainerRequest: req,
			Started:          true,
		})
	}()

	if containerErr != nil {
		fmt.Printf("Docker not available, MongoDB tests will be skipped: %v\n", containerErr)
		skipMongoTests = true
		return
	}

	host, err := testMongoContainer.Host(ctx)
	if err != nil {
		skipMongoTests = true
		return
	}
	port, err := testMongoContainer.MappedPort(ctx, "27017")
	if err != nil {
		skipMongoTests = true
		return
	}

	uri := fmt.Sprintf("mongodb://%s:%s", host, port.Port())
	testMongoClient, err = mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		skipMongoTests = true
		return
	}
	if err := testMongoClient.Ping(ctx, nil); err != nil {
		skipMongoTests = true
		return
	}
}

func testCollection(t *testing.T) *mongo.Collection {
	t.Helper()
	if testMongoClient == nil && !skipMongoTests {
		setupMongoDB()
	}
	if skipMongoTests {
		t.Skip("Docker not available, skipping MongoDB test")
	}
	coll := testMongoClient.Database("monitor_engine_test").Collection(t.Name())
	require.NoError(t, coll.Drop(context.Background()))
	return coll
}

func TestMonitorStoreRoundTrip(t *testing.T) {
	coll := testCollection(t)
	s := NewMonitorStore(coll)
	ctx := context.Background()

	now := time.Now().Add(-time.Hour)
	m := &monitor.Monitor{
		ID:                  "mon-1",
		OrganizationID:      "org-1",
		Provider:            monitor.ProviderSlack,
		ConnectionID:        "conn-1",
		QueueID:             "queue-1",
		PollIntervalSeconds: 60,
		Status:              monitor.StatusActive,
		LastPolledAt:        &now,
	}

	require.NoError(t, s.UpdateAfterPoll(ctx, m))

	got, err := s.Get(ctx, "mon-1")
	require.NoError(t, err)
	require.Equal(t, m.OrganizationID, got.OrganizationID)
	require.Equal(t, m.Provider, got.Provider)
	require.Equal(t, m.QueueID, got.QueueID)

	_, err = s.Get(ctx, "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestMonitorStoreDueMonitors(t *testing.T) {
	coll := testCollection(t)
	s := NewMonitorStore(coll)
	ctx := context.Background()

	longAgo := time.Now().Add(-time.Hour)
	justNow := time.Now()

	due := &monitor.Monitor{ID: "due", Status: monitor.StatusActive, PollIntervalSeconds: 60, LastPolledAt: &longAgo}
	notDue := &monitor.Monitor{ID: "not-due", Status: monitor.StatusActive, PollIntervalSeconds: 3600, LastPolledAt: &justNow}
	paused := &monitor.Monitor{ID: "paused", Status: monitor.StatusPaused, PollIntervalSeconds: 60, LastPolledAt: &longAgo}

	for _, m := range []*monitor.Monitor{due, notDue, paused} {
		require.NoError(t, s.UpdateAfterPoll(ctx, m))
	}

	got, err := s.DueMonitors(ctx)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	require.Contains(t, ids, "due")
	require.NotContains(t, ids, "not-due")
	require.NotContains(t, ids, "paused")
}

func TestMonitorStoreActiveByProvider(t *testing.T) {
	coll := testCollection(t)
	s := NewMonitorStore(coll)
	ctx := context.Background()

	require.NoError(t, s.UpdateAfterPoll(ctx, &monitor.Monitor{ID: "m1", Provider: monitor.ProviderSlack, Status: monitor.StatusActive}))
	require.NoError(t, s.UpdateAfterPoll(ctx, &monitor.Monitor{ID: "m2", Provider: monitor.ProviderSlack, Status: monitor.StatusPaused}))
	require.NoError(t, s.UpdateAfterPoll(ctx, &monitor.Monitor{ID: "m3", Provider: monitor.ProviderGmail, Status: monitor.StatusActive}))

	got, err := s.ActiveByProvider(ctx, monitor.ProviderSlack)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "m1", got[0].ID)
}

func TestEventStoreCreateEnforcesUniqueness(t *testing.T) {
	coll := testCollection(t)
	es, err := NewEventStore(context.Background(), coll)
	require.NoError(t, err)
	ctx := context.Background()

	ev := &monitor.MonitorEvent{ID: "ev-1", MonitorID: "m1", ProviderEventID: "p1"}
	require.NoError(t, es.Create(ctx, ev))

	dup := &monitor.MonitorEvent{ID: "ev-2", MonitorID: "m1", ProviderEventID: "p1"}
	require.ErrorIs(t, es.Create(ctx, dup), store.ErrDuplicateEvent)

	other := &monitor.MonitorEvent{ID: "ev-3", MonitorID: "m2", ProviderEventID: "p1"}
	require.NoError(t, es.Create(ctx, other))
}

func TestEventStoreExistsBySourceURLRequiresProcessed(t *testing.T) {
	coll := testCollection(t)
	es, err := NewEventStore(context.Background(), coll)
	require.NoError(t, err)
	ctx := context.Background()

	ev := &monitor.MonitorEvent{
		ID:              "ev-1",
		OrganizationID:  "org-1",
		MonitorID:       "m1",
		ProviderEventID: "p1",
		EventData:       monitor.EventData{Permalink: "https://example.com/msg/1"},
	}
	require.NoError(t, es.Create(ctx, ev))

	exists, err := es.ExistsBySourceURL(ctx, "org-1", "https://example.com/msg/1")
	require.NoError(t, err)
	require.False(t, exists, "not yet marked processed")

	require.NoError(t, es.MarkProcessed(ctx, "ev-1", "task-1"))

	exists, err = es.ExistsBySourceURL(ctx, "org-1", "https://example.com/msg/1")
	require.NoError(t, err)
	require.True(t, exists)
}

func TestEventStoreMarkProcessedNotFound(t *testing.T) {
	coll := testCollection(t)
	es, err := NewEventStore(context.Background(), coll)
	require.NoError(t, err)

	require.ErrorIs(t, es.MarkProcessed(context.Background(), "missing", "task-1"), store.ErrNotFound)
}

func TestTaskStoreCreateGeneratesID(t *testing.T) {
	coll := testCollection(t)
	ts := NewTaskStore(coll)
	ctx := context.Background()

	id, err := ts.Create(ctx, &monitor.Task{OrganizationID: "org-1", Title: "investigate outage"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}

func TestCommentStoreCreateGeneratesID(t *testing.T) {
	coll := testCollection(t)
	cs := NewCommentStore(coll)
	ctx := context.Background()

	id, err := cs.Create(ctx, &monitor.Comment{TaskID: "task-1", Content: "context"})
	require.NoError(t, err)
	require.NotEmpty(t, id)
}
