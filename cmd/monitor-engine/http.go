package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"goa.design/clue/log"

	"github.com/opslane/monitor-engine/internal/monitor"
	"github.com/opslane/monitor-engine/internal/monitor/engine"
	"github.com/opslane/monitor-engine/internal/monitor/store/memory"
	"github.com/opslane/monitor-engine/internal/telemetry"
)

// slackWebhookBody is the minimal shape needed to dispatch a Slack Events
// API delivery: the URL verification handshake, or an event_callback's
// nested event.
type slackWebhookBody struct {
	Type      string         `json:"type"`
	Challenge string         `json:"challenge"`
	Event     map[string]any `json:"event"`
}

// handleHTTPServer wires the webhook and health endpoints onto a stdlib
// ServeMux (no router library appears anywhere in the example pack's
// dependency surface, so this is the one ambient concern built on the
// standard library alone) and runs it until ctx is canceled.
func handleHTTPServer(
	ctx context.Context,
	addr string,
	eng *engine.Engine,
	st *memory.Store,
	logger telemetry.Logger,
	wg *sync.WaitGroup,
	errc chan error,
) {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /webhooks/slack", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		var body slackWebhookBody
		if err := json.Unmarshal(raw, &body); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		// The URL verification handshake is answered here, before the
		// payload ever reaches an adapter — Slack's app-level challenge is
		// not tied to any one monitor.
		if body.Type == "url_verification" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"challenge": body.Challenge})
			return
		}

		if body.Type != "event_callback" {
			w.WriteHeader(http.StatusOK)
			return
		}

		ms, err := st.Monitors.ActiveByProvider(r.Context(), monitor.ProviderSlack)
		if err != nil {
			logger.Error(r.Context(), "list slack monitors failed", "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		headers := flattenHeaders(r.Header)
		matched, created := eng.HandleSlackWebhook(r.Context(), ms, raw, headers, body.Event)
		logger.Info(r.Context(), "slack webhook handled", "monitors_matched", matched, "tasks_created", created)
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("POST /webhooks/{provider}", func(w http.ResponseWriter, r *http.Request) {
		provider := monitor.Provider(r.PathValue("provider"))
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "read body", http.StatusBadRequest)
			return
		}

		ms, err := st.Monitors.ActiveByProvider(r.Context(), provider)
		if err != nil {
			logger.Error(r.Context(), "list monitors failed", "provider", string(provider), "error", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		headers := flattenHeaders(r.Header)
		matched, processed := eng.HandleWebhook(r.Context(), provider, ms, raw, headers)
		logger.Info(r.Context(), "webhook handled", "provider", string(provider), "monitors_matched", matched, "events_processed", processed)
		w.WriteHeader(http.StatusOK)
	})

	server := &http.Server{Addr: addr, Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		_ = server.Close()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf(ctx, "HTTP server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
