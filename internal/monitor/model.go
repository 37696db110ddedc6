// Package monitor defines the domain types shared by every Monitor Engine
// component: the monitor configuration itself, the events an adapter
// produces, the persisted audit trail of those events, and the task/comment
// shapes the engine writes into the owning organization's inbox.
//
// Nothing in this package talks to a network or a database — those concerns
// live in internal/monitor/adapter and internal/monitor/store respectively.
package monitor

import "time"

// Provider identifies the upstream messaging service a Monitor polls.
type Provider string

const (
	ProviderSlack   Provider = "slack"
	ProviderGmail   Provider = "gmail"
	ProviderOutlook Provider = "outlook"
)

// Status is the lifecycle state of a Monitor.
type Status string

const (
	StatusActive Status = "active"
	StatusPaused Status = "paused"
	StatusError  Status = "error"
)

// Monitor is a long-lived configuration binding one Connection (credentials
// for one upstream account) to one Queue (where synthesized tasks land) for
// one organization.
//
// Invariants (enforced by internal/monitor/engine, not by this struct):
//   - Status == StatusError implies LastError != "".
//   - A monitor with Status != StatusActive is never polled.
//   - LastPolledAt only advances on successful poll completion.
//   - Cursor is written exclusively by the engine, never by an Adapter.
type Monitor struct {
	ID             string
	OrganizationID string

	Provider       Provider
	ConnectionID   string
	ProviderConfig ProviderConfig

	QueueID     string // optional; when empty, no task is created for this monitor's events (there is no inbox-queue lookup)
	ProjectID   string // optional
	PlaybookID  string // optional

	PollIntervalSeconds int // invariant: >= 30

	Cursor Cursor

	Status     Status
	LastError  string
	LastPolledAt *time.Time
	LastEventAt  *time.Time

	EventsDetected int64
	TasksCreated   int64

	InputDataTemplate map[string]any

	DeletedAt *time.Time
}

// Active reports whether the monitor should be considered by the scheduler
// at all (not paused, not errored, not soft-deleted).
func (m *Monitor) Active() bool {
	return m != nil && m.Status == StatusActive && m.DeletedAt == nil
}

// Due reports whether the monitor is eligible for a poll at the instant now,
// per spec §4.3's due-selection predicate.
func (m *Monitor) Due(now time.Time) bool {
	if !m.Active() {
		return false
	}
	if m.LastPolledAt == nil {
		return true
	}
	due := m.LastPolledAt.Add(time.Duration(m.PollIntervalSeconds) * time.Second)
	return !due.After(now)
}

// ProviderConfig is the provider-specific filter/behavior configuration
// attached to a Monitor. Exactly one of the embedded shapes is meaningful
// for a given Monitor.Provider; the others are zero-valued.
type ProviderConfig struct {
	Slack SlackConfig
	Mail  MailConfig // shared by Gmail and Outlook
}

// SlackConfig is provider_config for Provider == ProviderSlack.
type SlackConfig struct {
	ChannelIDs     []string
	WorkspaceWide  bool
	TaggedUserIDs  []string
	Keywords       []string
	ContextMessages int
	MyMentions     bool
}

// MailConfig is provider_config for Provider == ProviderGmail or ProviderOutlook.
type MailConfig struct {
	LabelOrFolderIDs []string
	FromFilter       []string
	Keywords         []string
	IncludeBody      bool
}

// Cursor is an adapter-owned, engine-opaque position marker. The engine
// persists whatever an Adapter.Poll returns without interpreting it.
//
//   - Slack my_mentions: {LastSeenTS: "<unix-ts>"}.
//   - Slack per-channel: {PerChannel: {channelID: latestTS}}.
//   - Gmail/Outlook: {Token: "<history-or-delta-token>"}.
type Cursor struct {
	LastSeenTS string
	PerChannel map[string]string
	Token      string
}

// IsZero reports whether the cursor carries no position information yet.
func (c Cursor) IsZero() bool {
	return c.LastSeenTS == "" && len(c.PerChannel) == 0 && c.Token == ""
}

// Connection supplies decrypted upstream credentials. Ownership, storage,
// and refresh are external concerns (spec §1 Non-goals); the engine only
// ever sees the decrypted shape below.
type Connection struct {
	AccessToken    string
	RefreshToken   string
	ProviderUserID string // Slack user ID or mailbox principal
	ProviderEmail  string
	Scopes         []string
}

// AdapterEvent is the in-memory shape an Adapter produces. ProviderEventID
// MUST be stable for the same upstream message across polls and across the
// poll/webhook boundary.
type AdapterEvent struct {
	ProviderEventID    string
	EventType          string
	EventData          EventData
	ContextData        *ContextData
	ProviderTimestamp  time.Time
}

// EventData is a tagged union over the provider-specific fields spec §6
// enumerates, plus an "unknown fields" escape hatch for forward
// compatibility with provider payload fields this repo doesn't model yet.
type EventData struct {
	Text       string
	Subject    string
	From       *EmailAddress
	ChannelID  string
	ChannelName string
	User       string
	UserName   string
	TS         string
	ThreadTS   string
	Permalink  string
	Snippet    string

	Unknown map[string]any
}

// EmailAddress is the From field shape for Gmail/Outlook events.
type EmailAddress struct {
	Email string
	Name  string
}

// ContextData is the conversational enrichment captured around an event:
// before/after messages for non-threaded context, or the full thread for
// threaded messages.
type ContextData struct {
	Before []Message
	After  []Message
	Thread []Message
}

// Message is a minimal rendering of a surrounding message, enough for
// triage prompts and the context comment; it is not the full provider
// payload.
type Message struct {
	Text     string
	User     string
	UserName string
	TS       string
}

// MonitorEvent is the persisted, deduplicated record of one unique upstream
// message a Monitor has observed. Uniquely keyed by (MonitorID,
// ProviderEventID).
type MonitorEvent struct {
	ID                string
	OrganizationID    string
	MonitorID         string
	ProviderEventID   string
	EventType         string
	EventData         EventData
	ContextData       *ContextData
	ProviderTimestamp time.Time
	Processed         bool
	TaskID            string // empty if triage dropped the event
	Triage            *TriageResult
	CreatedAt         time.Time
}

// TriageResult bundles the AI Triage Client's classification outputs for one
// event, recording which path (AI vs deterministic fallback) produced each
// verdict. Not part of spec.md's data model; added so the decision behind a
// drop or priority is inspectable later (see DESIGN.md Open Question 1).
type TriageResult struct {
	Actionable       bool
	ActionableSource string // "ai" or "fallback"
	Handled          bool
	HandledSource    string
	Urgent           bool
	UrgentSource     string
}

// TaskStatus mirrors the subset of external Task states the engine writes.
type TaskStatus string

const TaskStatusQueued TaskStatus = "queued"

// Task is the synthesized work item. Only the fields below are ever set by
// this repo; the full Task entity (assignment, RBAC, etc.) is external
// (spec §1 Non-goals).
type Task struct {
	ID                string
	OrganizationID    string
	QueueID           string
	Title             string
	Description       string
	Status            TaskStatus
	Priority          int
	ProjectID         string
	SourceMonitorID   string
	SourcePlaybookID  string
	SourceURL         string
	InputData         map[string]any
}

// Comment is the context comment the engine attaches to a newly created
// Task (spec §4.4 step 8).
type Comment struct {
	ID             string
	OrganizationID string
	TaskID         string
	UserID         string
	UserName       string
	Content        string
	CreatedAt      time.Time
}
