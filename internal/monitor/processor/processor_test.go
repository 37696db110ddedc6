package processor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/store/memory"
	"github.com/opslane/monitor-engine/internal/monitor/triage"
)

func newTestProcessor() (*Processor, *memory.Store) {
	st := memory.New()
	triageClient := triage.New(nil, nil, nil)
	p := New(st.Events, st.Tasks, st.Comments, triageClient, nil, nil)
	return p, st
}

func slackMonitor() *monitor.Monitor {
	return &monitor.Monitor{
		ID:             "mon-1",
		OrganizationID: "org-1",
		Provider:       monitor.ProviderSlack,
		QueueID:        "queue-1",
		ProviderConfig: monitor.ProviderConfig{Slack: monitor.SlackConfig{MyMentions: true}},
	}
}

func TestProcessEventSlackMentionCreatesTask(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()
	m := slackMonitor()

	ev := monitor.AdapterEvent{
		ProviderEventID: "1700000000.000100",
		EventType:       "app_mention",
		EventData: monitor.EventData{
			Text:      "Can someone look at the deploy pipeline?",
			UserName:  "alice",
			Permalink: "https://workspace.slack.com/archives/C1/p1700000000000100",
		},
	}

	created, err := p.ProcessEvent(ctx, m, ev)
	require.NoError(t, err)
	require.True(t, created)
}

func TestProcessEventNonActionableIsDropped(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()
	m := slackMonitor()

	ev := monitor.AdapterEvent{
		ProviderEventID: "1700000000.000200",
		EventType:       "app_mention",
		EventData:       monitor.EventData{Text: "thanks!"},
	}

	created, err := p.ProcessEvent(ctx, m, ev)
	require.NoError(t, err)
	require.False(t, created, "an acknowledgement-only message should not become a task")
}

func TestProcessEventDuplicateProviderEventIDSuppressed(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()
	m := slackMonitor()

	ev := monitor.AdapterEvent{
		ProviderEventID: "1700000000.000300",
		EventType:       "app_mention",
		EventData:       monitor.EventData{Text: "Please review PR #42"},
	}

	created, err := p.ProcessEvent(ctx, m, ev)
	require.NoError(t, err)
	require.True(t, created)

	createdAgain, err := p.ProcessEvent(ctx, m, ev)
	require.NoError(t, err)
	require.False(t, createdAgain, "retrying the same provider event must not create a second task")
}

func TestProcessEventCrossMonitorSourceURLDedup(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()

	m1 := slackMonitor()
	m2 := slackMonitor()
	m2.ID = "mon-2"

	permalink := "https://workspace.slack.com/archives/C1/p1700000000000400"
	ev1 := monitor.AdapterEvent{
		ProviderEventID: "1700000000.000400",
		EventType:       "app_mention",
		EventData:       monitor.EventData{Text: "Production is down, please help", Permalink: permalink},
	}
	// The same upstream message re-observed through a second monitor carries a
	// distinct ProviderEventID (each monitor's adapter mints its own), but the
	// same permalink.
	ev2 := ev1
	ev2.ProviderEventID = "1700000000.000401"

	created1, err := p.ProcessEvent(ctx, m1, ev1)
	require.NoError(t, err)
	require.True(t, created1)

	created2, err := p.ProcessEvent(ctx, m2, ev2)
	require.NoError(t, err)
	require.False(t, created2, "a second monitor observing the same source URL must not duplicate the task")
}

func TestProcessEventNoQueueConfiguredIsDropped(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()
	m := slackMonitor()
	m.QueueID = ""

	ev := monitor.AdapterEvent{
		ProviderEventID: "1700000000.000500",
		EventType:       "app_mention",
		EventData:       monitor.EventData{Text: "Can someone look at this?"},
	}

	created, err := p.ProcessEvent(ctx, m, ev)
	require.NoError(t, err)
	require.False(t, created)
}

func TestProcessEventNonSlackMyMentionsSkipsTriage(t *testing.T) {
	p, _ := newTestProcessor()
	ctx := context.Background()
	m := &monitor.Monitor{
		ID:             "mon-gmail",
		OrganizationID: "org-1",
		Provider:       monitor.ProviderGmail,
		QueueID:        "queue-1",
	}

	ev := monitor.AdapterEvent{
		ProviderEventID: "msg-1",
		EventType:       "email",
		EventData: monitor.EventData{
			Subject: "Invoice overdue",
			From:    &monitor.EmailAddress{Email: "billing@example.com", Name: "Billing"},
		},
	}

	created, err := p.ProcessEvent(ctx, m, ev)
	require.NoError(t, err)
	require.True(t, created, "non-Slack events bypass triage entirely and always materialize a task")
}
