// Command monitor-engine runs the Monitor Engine process: the scheduler
// that polls configured monitors, the HTTP surface that receives provider
// webhooks, and the health endpoint a deployment's load balancer checks.
package main

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"

	"github.com/opslane/monitor-engine/internal/config"
	"github.com/opslane/monitor-engine/internal/monitor/engine"
	"github.com/opslane/monitor-engine/internal/monitor/store/memory"
	"github.com/opslane/monitor-engine/internal/monitor/triage"
	"github.com/opslane/monitor-engine/internal/monitor/triage/anthropic"
	"github.com/opslane/monitor-engine/internal/monitor/triage/openai"
	"github.com/opslane/monitor-engine/internal/telemetry"
)

func main() {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(ctx, err)
	}

	logger := telemetry.NewClueLogger()
	metrics := telemetry.NewClueMetrics()

	// Storage: this entrypoint always runs on the in-memory store, whether
	// or not MONGO_URI is set; store/mongo is not wired here. A durable
	// deployment swaps in store/mongo by constructing its four typed views
	// the same way engine.New expects them.
	st := memory.New()
	connections := memory.NewConnections()

	models := map[triage.Provider]triage.Model{}
	if cfg.Models.GroqAPIKey != "" {
		c, err := openai.NewGroq(cfg.Models.GroqAPIKey, cfg.Models.GroqModel, cfg.Models.GroqRPS)
		if err != nil {
			log.Fatal(ctx, err)
		}
		models[triage.ProviderGroq] = c
	}
	if cfg.Models.OpenAIAPIKey != "" {
		c, err := openai.NewFromAPIKey(cfg.Models.OpenAIAPIKey, cfg.Models.OpenAIModel, cfg.Models.OpenAIRPS)
		if err != nil {
			log.Fatal(ctx, err)
		}
		models[triage.ProviderOpenAI] = c
	}
	if cfg.Models.AnthropicAPIKey != "" {
		c, err := anthropic.NewFromAPIKey(cfg.Models.AnthropicAPIKey, cfg.Models.AnthropicModel, cfg.Models.AnthropicRPS)
		if err != nil {
			log.Fatal(ctx, err)
		}
		models[triage.ProviderAnthropic] = c
	}
	triageClient := triage.New(logger, metrics, models)

	eng := engine.New(
		engine.Config{
			Workers:      cfg.Engine.Workers,
			TickInterval: cfg.Engine.TickInterval,
			PollTimeout:  cfg.Engine.PollTimeout,
		},
		st.Monitors,
		st.Events,
		st.Tasks,
		st.Comments,
		connections,
		triageClient,
		logger,
		metrics,
	)

	errc := make(chan error, 1)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	wg.Add(1)
	go func() {
		defer wg.Done()
		eng.Run(ctx)
	}()

	u, err := url.Parse("http://" + cfg.HTTPAddr)
	if err != nil {
		log.Fatal(ctx, err)
	}
	if _, _, err := net.SplitHostPort(u.Host); err != nil {
		log.Fatal(ctx, fmt.Errorf("invalid HTTP_ADDR %q: %w", cfg.HTTPAddr, err))
	}
	handleHTTPServer(ctx, cfg.HTTPAddr, eng, st, logger, &wg, errc)

	log.Printf(ctx, "exiting (%v)", <-errc)
	cancel()
	wg.Wait()
	log.Printf(ctx, "exited")
}
