// Package memory provides an in-memory implementation of the Monitor
// Engine's storage ports.
//
// This implementation is suitable for development, testing, and
// single-node deployments where persistence across restarts is not
// required.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store"
)

// eventKey uniquely identifies a MonitorEvent by the per-monitor constraint
// spec §3/§7 requires.
type eventKey struct {
	monitorID       string
	providerEventID string
}

// core is the shared, mutex-guarded state behind every port this package
// implements. Store composes one core into four narrow views so each port
// interface keeps its own method set (MonitorStore.Get vs. a hypothetical
// TaskStore.Get would otherwise collide on a single receiver type).
type core struct {
	mu sync.RWMutex

	monitors   map[string]*monitor.Monitor
	events     map[eventKey]*monitor.MonitorEvent
	sourceURLs map[string]map[string]bool // organizationID -> sourceURL -> seen
	tasks      map[string]*monitor.Task
	comments   map[string]*monitor.Comment
}

// Store bundles in-memory implementations of every storage port the engine
// depends on, backed by one shared core so a task created through Tasks
// immediately affects Events' cross-monitor dedup view.
type Store struct {
	c *core

	Monitors *MonitorStore
	Events   *EventStore
	Tasks    *TaskStore
	Comments *CommentStore
}

// New creates a new in-memory Store.
func New() *Store {
	c := &core{
		monitors:   make(map[string]*monitor.Monitor),
		events:     make(map[eventKey]*monitor.MonitorEvent),
		sourceURLs: make(map[string]map[string]bool),
		tasks:      make(map[string]*monitor.Task),
		comments:   make(map[string]*monitor.Comment),
	}
	return &Store{
		c:        c,
		Monitors: &MonitorStore{c: c},
		Events:   &EventStore{c: c},
		Tasks:    &TaskStore{c: c},
		Comments: &CommentStore{c: c},
	}
}

// Put inserts or replaces a monitor directly; used by tests to seed
// monitors into the store without going through an admin API.
func (s *Store) Put(m *monitor.Monitor) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	s.c.monitors[m.ID] = m
}

// MonitorStore is the in-memory store.MonitorStore implementation.
type MonitorStore struct{ c *core }

var _ store.MonitorStore = (*MonitorStore)(nil)

// DueMonitors returns every active, non-deleted monitor whose next poll
// time has arrived.
func (s *MonitorStore) DueMonitors(ctx context.Context) ([]*monitor.Monitor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	now := time.Now()
	var due []*monitor.Monitor
	for _, m := range s.c.monitors {
		if m.Due(now) {
			due = append(due, m)
		}
	}
	return due, nil
}

// Get retrieves a monitor by ID.
func (s *MonitorStore) Get(ctx context.Context, id string) (*monitor.Monitor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	m, ok := s.c.monitors[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m, nil
}

// ActiveByProvider returns every active, non-deleted monitor for provider.
func (s *MonitorStore) ActiveByProvider(ctx context.Context, provider monitor.Provider) ([]*monitor.Monitor, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()

	var out []*monitor.Monitor
	for _, m := range s.c.monitors {
		if m.Provider == provider && m.Active() {
			out = append(out, m)
		}
	}
	return out, nil
}

// UpdateAfterPoll persists the outcome of one poll attempt.
func (s *MonitorStore) UpdateAfterPoll(ctx context.Context, m *monitor.Monitor) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()
	if _, ok := s.c.monitors[m.ID]; !ok {
		return store.ErrNotFound
	}
	s.c.monitors[m.ID] = m
	return nil
}

// EventStore is the in-memory store.EventStore implementation.
type EventStore struct{ c *core }

var _ store.EventStore = (*EventStore)(nil)

// Create inserts a new MonitorEvent, enforcing the (MonitorID,
// ProviderEventID) uniqueness constraint.
func (s *EventStore) Create(ctx context.Context, ev *monitor.MonitorEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	key := eventKey{monitorID: ev.MonitorID, providerEventID: ev.ProviderEventID}
	if _, exists := s.c.events[key]; exists {
		return store.ErrDuplicateEvent
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.c.events[key] = ev
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
	s.c.mu.RLock()
	defer s.c.mu.RUnlock()
	return s.c.sourceURLs[organizationID][sourceURL], nil
}

// MarkProcessed sets an event's processed flag and records its task ID.
func (s *EventStore) MarkProcessed(ctx context.Context, eventID, taskID string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	for _, ev := range s.c.events {
		if ev.ID == eventID {
			ev.Processed = true
			ev.TaskID = taskID
			return nil
		}
	}
	return store.ErrNotFound
}

// TaskStore is the in-memory store.TaskStore implementation.
type TaskStore struct{ c *core }

var _ store.TaskStore = (*TaskStore)(nil)

// Create inserts a new Task and records its source URL for cross-monitor
// dedup, returning the generated task ID.
func (s *TaskStore) Create(ctx context.Context, t *monitor.Task) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.c.tasks[t.ID] = t

	if t.SourceURL != "" {
		if s.c.sourceURLs[t.OrganizationID] == nil {
			s.c.sourceURLs[t.OrganizationID] = make(map[string]bool)
		}
		s.c.sourceURLs[t.OrganizationID][t.SourceURL] = true
	}
	return t.ID, nil
}

// CommentStore is the in-memory store.CommentStore implementation.
type CommentStore struct{ c *core }

var _ store.CommentStore = (*CommentStore)(nil)

// Create inserts a new Comment, returning its generated ID.
func (s *CommentStore) Create(ctx context.Context, c *monitor.Comment) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	s.c.comments[c.ID] = c
	return c.ID, nil
}

// Connections is a development-mode store.Decrypter: it hands back whatever
// Connection was registered under an ID verbatim. Real credential
// encryption-at-rest and refresh-token rotation are external concerns (spec
// §1 Non-goals); this is the seam the engine calls through in a deployment
// that has not wired an external secrets/connection service.
type Connections struct {
	mu   sync.RWMutex
	byID map[string]monitor.Connection
}

var _ store.Decrypter = (*Connections)(nil)

// NewConnections creates an empty Connections registry.
func NewConnections() *Connections {
	return &Connections{byID: make(map[string]monitor.Connection)}
}

// Put registers (or replaces) the Connection for connectionID.
func (c *Connections) Put(connectionID string, conn monitor.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[connectionID] = conn
}

// Decrypt returns the Connection registered under connectionID.
func (c *Connections) Decrypt(ctx context.Context, connectionID string) (monitor.Connection, error) {
	select {
	case <-ctx.Done():
		return monitor.Connection{}, ctx.Err()
	default:
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.byID[connectionID]
	if !ok {
		return monitor.Connection{}, store.ErrNotFound
	}
	return conn, nil
}
