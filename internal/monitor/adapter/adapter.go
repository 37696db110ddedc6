// Package adapter defines the provider-agnostic contract every upstream
// messaging integration (Slack, Gmail, Outlook, ...) implements, and the
// typed error taxonomy the Monitor Engine uses to decide how to react to a
// failure (spec §7).
package adapter

import (
	"context"

	"github.com/opslane/monitor-engine/internal/monitor"
)

// Adapter translates one provider's API into the uniform poll/webhook
// contract the engine drives. An Adapter instance is scoped to a single
// Monitor: it is constructed with that monitor's decrypted Connection and
// ProviderConfig and is not reused across monitors.
type Adapter interface {
	// Poll fetches events since cursor. oldest/latest, when set, bound a
	// backfill window (ISO-8601 dates); the engine does not persist the
	// returned cursor for a backfill poll. Poll must not mutate cursor in
	// place — it returns the next cursor value.
	Poll(ctx context.Context, cursor monitor.Cursor, oldest, latest *string) (PollResult, error)

	// HandleWebhook turns one inbound provider payload into zero or more
	// events. It never touches a cursor.
	HandleWebhook(ctx context.Context, payload []byte, headers map[string]string) ([]monitor.AdapterEvent, error)

	// ValidateConfig checks that the adapter's configuration is internally
	// consistent and that the provided credentials can reach the provider.
	ValidateConfig(ctx context.Context) (bool, string)

	// RequiredScopes lists the OAuth scopes a Connection must carry for
	// this adapter to function.
	RequiredScopes() []string
}

// PollResult is what Poll returns: the events observed (in provider-returned
// order; spec §5 makes no cross-monitor or adapter-internal ordering
// guarantee beyond that) and the cursor value to persist.
type PollResult struct {
	Events    []monitor.AdapterEvent
	NewCursor monitor.Cursor
}
