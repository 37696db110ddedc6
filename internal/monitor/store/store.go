// Package store defines the persistence ports the Monitor Engine depends
// on: Monitor configuration, the deduplicated MonitorEvent audit trail, and
// the Task/Comment sinks the engine writes into. Implementations must be
// safe for concurrent use.
//
// Available implementations:
//   - memory: in-process, for tests and single-node development.
//   - mongo: MongoDB-backed, for production persistence.
package store

import (
	"context"
	"errors"

	"github.com/opslane/monitor-engine/internal/monitor"
)

// ErrNotFound is returned when a requested Monitor, MonitorEvent, or Task
// does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEvent is returned by EventStore.Create when an event with the
// same (MonitorID, ProviderEventID) already exists — the per-monitor
// uniqueness constraint spec §3/§7 requires.
var ErrDuplicateEvent = errors.New("duplicate event")

// MonitorStore persists Monitor configuration and scheduling state.
type MonitorStore interface {
	// DueMonitors returns every active, non-deleted monitor whose next poll
	// time has arrived, per Monitor.Due.
	DueMonitors(ctx context.Context) ([]*monitor.Monitor, error)

	// Get retrieves a monitor by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, id string) (*monitor.Monitor, error)

	// ActiveByProvider returns every active, non-deleted monitor for the
	// given provider — the set a webhook delivery is routed against.
	ActiveByProvider(ctx context.Context, provider monitor.Provider) ([]*monitor.Monitor, error)

	// UpdateAfterPoll persists the outcome of one poll attempt: new cursor
	// (on success only), status, last_error, last_polled_at, last_event_at,
	// and the incremented events_detected/tasks_created counters.
	UpdateAfterPoll(ctx context.Context, m *monitor.Monitor) error
}

// EventStore persists the deduplicated audit trail of observed events.
type EventStore interface {
	// Create inserts a new MonitorEvent. Returns ErrDuplicateEvent if an
	// event with the same (MonitorID, ProviderEventID) already exists;
	// in that case no task is to be created from the retried event.
	Create(ctx context.Context, ev *monitor.MonitorEvent) error

	// ExistsBySourceURL reports whether an event with the given source URL
	// has already been processed into a task for this organization — the
	// cross-monitor dedup check spec §4.4 step 5 requires.
	ExistsBySourceURL(ctx context.Context, organizationID, sourceURL string) (bool, error)

	// MarkProcessed sets an event's processed flag and records the task it
	// produced. Events dropped without a task are never marked.
	MarkProcessed(ctx context.Context, eventID, taskID string) error
}

// TaskStore creates the task an actionable event is materialized into. The
// full Task entity (assignment, RBAC, queue routing beyond queue_id) is an
// external system; this port only covers what the engine itself writes.
type TaskStore interface {
	Create(ctx context.Context, t *monitor.Task) (string, error)
}

// CommentStore attaches the context comment the engine writes on a newly
// created task (spec §4.4 step 8).
type CommentStore interface {
	Create(ctx context.Context, c *monitor.Comment) (string, error)
}

// Decrypter resolves a Monitor's ConnectionID into a usable Connection.
// Encryption-at-rest for stored credentials is an external concern (spec §1
// Non-goals); this port is the seam the engine calls through.
type Decrypter interface {
	Decrypt(ctx context.Context, connectionID string) (monitor.Connection, error)
}
