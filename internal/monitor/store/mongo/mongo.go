// Package mongo provides a MongoDB implementation of the Monitor Engine's
// storage ports, persisting Monitor configuration, the deduplicated
// MonitorEvent audit trail, and the Task/Comment sinks the engine writes
// into, for durability across restarts.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store"
)

// collection is the subset of *mongo.Collection used by this package, so
// tests can substitute a fake without a live MongoDB deployment.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) *mongo.SingleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (*mongo.Cursor, error)
	InsertOne(ctx context.Context, document any, opts ...options.Lister[options.InsertOneOptions]) (*mongo.InsertOneResult, error)
	ReplaceOne(ctx context.Context, filter, replacement any, opts ...options.Lister[options.ReplaceOptions]) (*mongo.UpdateResult, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongo.UpdateResult, error)
}

type indexView interface {
	CreateOne(ctx context.Context, model mongo.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

// monitorDocument is the MongoDB document representation of a monitor.Monitor.
type monitorDocument struct {
	ID             string `bson:"_id"`
	OrganizationID string `bson:"organization_id"`

	Provider       string                `bson:"provider"`
	ConnectionID   string                `bson:"connection_id"`
	ProviderConfig monitor.ProviderConfig `bson:"provider_config"`

	QueueID    string `bson:"queue_id,omitempty"`
	ProjectID  string `bson:"project_id,omitempty"`
	PlaybookID string `bson:"playbook_id,omitempty"`

	PollIntervalSeconds int `bson:"poll_interval_seconds"`

	Cursor monitor.Cursor `bson:"cursor"`

	Status       string     `bson:"status"`
	LastError    string     `bson:"last_error,omitempty"`
	LastPolledAt *time.Time `bson:"last_polled_at,omitempty"`
	LastEventAt  *time.Time `bson:"last_event_at,omitempty"`

	EventsDetected int64 `bson:"events_detected"`
	TasksCreated   int64 `bson:"tasks_created"`

	InputDataTemplate bson.M     `bson:"input_data_template,omitempty"`
	DeletedAt         *time.Time `bson:"deleted_at,omitempty"`
}

func toMonitorDocument(m *monitor.Monitor) *monitorDocument {
	return &monitorDocument{
		ID:                  m.ID,
		OrganizationID:      m.OrganizationID,
		Provider:            string(m.Provider),
		ConnectionID:        m.ConnectionID,
		ProviderConfig:      m.ProviderConfig,
		QueueID:             m.QueueID,
		ProjectID:           m.ProjectID,
		PlaybookID:          m.PlaybookID,
		PollIntervalSeconds: m.PollIntervalSeconds,
		Cursor:              m.Cursor,
		Status:              string(m.Status),
		LastError:           m.LastError,
		LastPolledAt:        m.LastPolledAt,
		LastEventAt:         m.LastEventAt,
		EventsDetected:      m.EventsDetected,
		TasksCreated:        m.TasksCreated,
		InputDataTemplate:   m.InputDataTemplate,
		DeletedAt:           m.DeletedAt,
	}
}

func fromMonitorDocument(doc *monitorDocument) *monitor.Monitor {
	return &monitor.Monitor{
		ID:                  doc.ID,
		OrganizationID:      doc.OrganizationID,
		Provider:            monitor.Provider(doc.Provider),
		ConnectionID:        doc.ConnectionID,
		ProviderConfig:      doc.ProviderConfig,
		QueueID:             doc.QueueID,
		ProjectID:           doc.ProjectID,
		PlaybookID:          doc.PlaybookID,
		PollIntervalSeconds: doc.PollIntervalSeconds,
		Cursor:              doc.Cursor,
		Status:              monitor.Status(doc.Status),
		LastError:           doc.LastError,
		LastPolledAt:        doc.LastPolledAt,
		LastEventAt:         doc.LastEventAt,
		EventsDetected:      doc.EventsDetected,
		TasksCreated:        doc.TasksCreated,
		InputDataTemplate:   map[string]any(doc.InputDataTemplate),
		DeletedAt:           doc.DeletedAt,
	}
}

// MonitorStore is a MongoDB implementation of store.MonitorStore.
type MonitorStore struct {
	coll collection
}

var _ store.MonitorStore = (*MonitorStore)(nil)

// NewMonitorStore creates a new MongoDB-backed MonitorStore.
func NewMonitorStore(coll *mongo.Collection) *MonitorStore {
	return &MonitorStore{coll: coll}
}

// DueMonitors returns every active, non-deleted monitor whose next poll
// time has arrived. The predicate mirrors Monitor.Due but is pushed into
// the query so the engine's scheduler never has to pull every monitor.
func (s *MonitorStore) DueMonitors(ctx context.Context) ([]*monitor.Monitor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	now := time.Now()
	filter := bson.M{
		"status":     string(monitor.StatusActive),
		"deleted_at": bson.M{"$exists": false},
		"$expr": bson.M{
			"$lte": bson.A{
				bson.M{"$ifNull": bson.A{"$last_polled_at", time.Unix(0, 0)}},
				bson.M{"$subtract": bson.A{now, bson.M{"$multiply": bson.A{"$poll_interval_seconds", 1000}}}},
			},
		},
	}

	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb find due monitors: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []monitorDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode due monitors: %w", err)
	}

	result := make([]*monitor.Monitor, len(docs))
	for i := range docs {
		result[i] = fromMonitorDocument(&docs[i])
	}
	return result, nil
}

// Get retrieves a monitor by ID.
func (s *MonitorStore) Get(ctx context.Context, id string) (*monitor.Monitor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	var doc monitorDocument
	err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get monitor %q: %w", id, err)
	}
	return fromMonitorDocument(&doc), nil
}

// ActiveByProvider returns every active, non-deleted monitor for provider —
// the set a webhook delivery is routed against.
func (s *MonitorStore) ActiveByProvider(ctx context.Context, provider monitor.Provider) ([]*monitor.Monitor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	filter := bson.M{
		"provider":   string(provider),
		"status":     string(monitor.StatusActive),
		"deleted_at": bson.M{"$exists": false},
	}
	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongodb find monitors by provider: %w", err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []monitorDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb decode monitors by provider: %w", err)
	}
	result := make([]*monitor.Monitor, len(docs))
	for i := range docs {
		result[i] = fromMonitorDocument(&docs[i])
	}
	return result, nil
}

// UpdateAfterPoll persists the outcome of one poll attempt.
func (s *MonitorStore) UpdateAfterPoll(ctx context.Context, m *monitor.Monitor) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	doc := toMonitorDocument(m)
	opts := options.Replace().SetUpsert(true)
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": m.ID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb update monitor %q: %w", m.ID, err)
	}
	return nil
}

// eventDocument is the MongoDB document representation of a
// monitor.MonitorEvent.
type eventDocument struct {
	ID              string               `bson:"_id"`
	OrganizationID  string               `bson:"organization_id"`
	MonitorID       string               `bson:"monitor_id"`
	ProviderEventID string               `bson:"provider_event_id"`
	EventType       string               `bson:"event_type"`
	EventData       monitor.EventData    `bson:"event_data"`
	ContextData     *monitor.ContextData `bson:"context_data,omitempty"`
	SourceURL       string               `bson:"source_url,omitempty"`
	ProviderTime    time.Time            `bson:"provider_timestamp"`
	Processed       bool                 `bson:"processed"`
	TaskID          string               `bson:"task_id,omitempty"`
	Triage          *monitor.TriageResult `bson:"triage,omitempty"`
	CreatedAt       time.Time            `bson:"created_at"`
}

// EventStore is a MongoDB implementation of store.EventStore. It relies on
// a unique compound index over (monitor_id, provider_event_id), created on
// construction, to enforce the per-monitor dedup constraint atomically —
// the same pattern the registry's mongo store uses for toolset names, one
// level deeper since the uniqueness key here is a pair of fields rather
// than the document's own _id.
type EventStore struct {
	coll collection
}

var _ store.EventStore = (*EventStore)(nil)

// NewEventStore creates a new MongoDB-backed EventStore and ensures its
// uniqueness index exists.
func NewEventStore(ctx context.Context, coll *mongo.Collection) (*EventStore, error) {
	s := &EventStore{coll: coll}
	if err := ensureEventIndexes(ctx, coll.Indexes()); err != nil {
		return nil, err
	}
	return s, nil
}

func ensureEventIndexes(ctx context.Context, idx indexView) error {
	_, err := idx.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "monitor_id", Value: 1}, {Key: "provider_event_id", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("monitor_event_unique"),
	})
	if err != nil {
		return fmt.Errorf("mongodb ensure event index: %w", err)
	}
	_, err = idx.CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "organization_id", Value: 1}, {Key: "source_url", Value: 1}},
		Options: options.Index().SetName("event_source_url"),
	})
	if err != nil {
		return fmt.Errorf("mongodb ensure source_url index: %w", err)
	}
	return nil
}

// Create inserts a new MonitorEvent. The unique index on (monitor_id,
// provider_event_id) is what actually enforces the constraint; a duplicate
// key error from MongoDB is translated to store.ErrDuplicateEvent.
func (s *EventStore) Create(ctx context.Context, ev *monitor.MonitorEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	doc := eventDocument{
		ID:              ev.ID,
		OrganizationID:  ev.OrganizationID,
		MonitorID:       ev.MonitorID,
		ProviderEventID: ev.ProviderEventID,
		EventType:       ev.EventType,
		EventData:       ev.EventData,
		ContextData:     ev.ContextData,
		SourceURL:       ev.EventData.Permalink,
		ProviderTime:    ev.ProviderTimestamp,
		Processed:       ev.Processed,
		TaskID:          ev.TaskID,
		Triage:          ev.Triage,
		CreatedAt:       ev.CreatedAt,
	}
	_, err := s.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrDuplicateEvent
		}
		return fmt.Errorf("mongodb insert event: %w", err)
	}
	return nil
}

// ExistsBySourceURL reports whether an event with the given source URL has
// already been processed into a task for this organization.
func (s *EventStore) ExistsBySourceURL(ctx context.Context, organizationID, sourceURL string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}
	if sourceURL == "" {
		return false, nil
	}
	filter := bson.M{
		"organization_id": organizationID,
		"source_url":      sourceURL,
		"processed":       true,
	}
	err := s.coll.FindOne(ctx, filter).Decode(&eventDocument{})
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return false, nil
		}
		return false, fmt.Errorf("mongodb check source_url: %w", err)
	}
	return true, nil
}

// MarkProcessed sets an event's processed flag and records its task ID.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID, taskID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	update := bson.M{"$set": bson.M{"processed": true, "task_id": taskID}}
	res, err := s.coll.UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return fmt.Errorf("mongodb mark event processed: %w", err)
	}
	if res.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// taskDocument is the MongoDB document representation of a monitor.Task.
type taskDocument struct {
	ID               string `bson:"_id"`
	OrganizationID   string `bson:"organization_id"`
	QueueID          string `bson:"queue_id,omitempty"`
	Title            string `bson:"title"`
	Description      string `bson:"description,omitempty"`
	Status           string `bson:"status"`
	Priority         int    `bson:"priority"`
	ProjectID        string `bson:"project_id,omitempty"`
	SourceMonitorID  string `bson:"source_monitor_id"`
	SourcePlaybookID string `bson:"source_playbook_id,omitempty"`
	SourceURL        string `bson:"source_url,omitempty"`
	InputData        bson.M `bson:"input_data,omitempty"`
}

// TaskStore is a MongoDB implementation of store.TaskStore.
type TaskStore struct{ coll collection }

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates a new MongoDB-backed TaskStore.
func NewTaskStore(coll *mongo.Collection) *TaskStore { return &TaskStore{coll: coll} }

// Create inserts a new Task, returning its ID.
func (s *TaskStore) Create(ctx context.Context, t *monitor.Task) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	doc := taskDocument{
		ID:               t.ID,
		OrganizationID:   t.OrganizationID,
		QueueID:          t.QueueID,
		Title:            t.Title,
		Description:      t.Description,
		Status:           string(t.Status),
		Priority:         t.Priority,
		ProjectID:        t.ProjectID,
		SourceMonitorID:  t.SourceMonitorID,
		SourcePlaybookID: t.SourcePlaybookID,
		SourceURL:        t.SourceURL,
		InputData:        t.InputData,
	}
	if doc.ID == "" {
		doc.ID = bson.NewObjectID().Hex()
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("mongodb insert task: %w", err)
	}
	return doc.ID, nil
}

// commentDocument is the MongoDB document representation of a
// monitor.Comment.
type commentDocument struct {
	ID             string    `bson:"_id"`
	OrganizationID string    `bson:"organization_id"`
	TaskID         string    `bson:"task_id"`
	UserID         string    `bson:"user_id,omitempty"`
	UserName       string    `bson:"user_name,omitempty"`
	Content        string    `bson:"content"`
	CreatedAt      time.Time `bson:"created_at"`
}

// CommentStore is a MongoDB implementation of store.CommentStore.
type CommentStore struct{ coll collection }

var _ store.CommentStore = (*CommentStore)(nil)

// NewCommentStore creates a new MongoDB-backed CommentStore.
func NewCommentStore(coll *mongo.Collection) *CommentStore { return &CommentStore{coll: coll} }

// Create inserts a new Comment, returning its ID.
func (s *CommentStore) Create(ctx context.Context, c *monitor.Comment) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	doc := commentDocument{
		ID:             c.ID,
		OrganizationID: c.OrganizationID,
		TaskID:         c.TaskID,
		UserID:         c.UserID,
		UserName:       c.UserName,
		Content:        c.Content,
		CreatedAt:      c.CreatedAt,
	}
	if doc.ID == "" {
		doc.ID = bson.NewObjectID().Hex()
	}
	if _, err := s.coll.InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("mongodb insert comment: %w", err)
	}
	return doc.ID, nil
}
