// Package config loads the Monitor Engine's process configuration from the
// environment (optionally via a .env file), following the same
// env-first-then-defaults shape the rest of this stack's services use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything cmd/monitor-engine needs to wire up the engine,
// its storage backend, and the model providers behind AI triage.
type Config struct {
	// MongoURI and MongoDB are the connection string and database name for
	// the store/mongo backend. cmd/monitor-engine loads them but does not
	// use them: it always runs against store/memory.
	MongoURI string
	MongoDB  string

	// HTTPAddr is the address the webhook/health HTTP server listens on.
	HTTPAddr string

	Engine EngineConfig
	Models ModelsConfig
}

// EngineConfig mirrors engine.Config's tunables, kept separate so
// internal/config has no import-cycle dependency on internal/monitor/engine.
type EngineConfig struct {
	Workers      int
	TickInterval time.Duration
	PollTimeout  time.Duration
}

// ModelsConfig carries the credentials and model identifiers for every
// triage provider. A provider with an empty APIKey is left out of the
// triage chain entirely (cmd/monitor-engine builds no model for it).
type ModelsConfig struct {
	GroqAPIKey   string
	GroqModel    string
	GroqRPS      float64

	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIRPS    float64

	AnthropicAPIKey string
	AnthropicModel  string
	AnthropicRPS    float64
}

// Load reads configuration from the environment, applying .env overrides
// first (development convenience) and filling in defaults for anything
// left unset.
func Load() (Config, error) {
	_ = godotenv.Overload()

	cfg := Config{
		MongoURI: strings.TrimSpace(os.Getenv("MONGO_URI")),
		MongoDB:  strings.TrimSpace(os.Getenv("MONGO_DB")),
		HTTPAddr: strings.TrimSpace(os.Getenv("HTTP_ADDR")),
	}
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.MongoDB == "" {
		cfg.MongoDB = "monitor_engine"
	}

	var err error
	if cfg.Engine.Workers, err = envInt("ENGINE_WORKERS", 8); err != nil {
		return Config{}, err
	}
	if cfg.Engine.TickInterval, err = envDuration("ENGINE_TICK_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.Engine.PollTimeout, err = envDuration("ENGINE_POLL_TIMEOUT", 5*time.Minute); err != nil {
		return Config{}, err
	}

	cfg.Models.GroqAPIKey = strings.TrimSpace(os.Getenv("GROQ_API_KEY"))
	cfg.Models.GroqModel = firstNonEmpty(strings.TrimSpace(os.Getenv("GROQ_MODEL")), "llama-3.3-70b-versatile")
	if cfg.Models.GroqRPS, err = envFloat("GROQ_RPS", 1.0); err != nil {
		return Config{}, err
	}

	cfg.Models.OpenAIAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	cfg.Models.OpenAIModel = firstNonEmpty(strings.TrimSpace(os.Getenv("OPENAI_MODEL")), "gpt-4o-mini")
	if cfg.Models.OpenAIRPS, err = envFloat("OPENAI_RPS", 1.0); err != nil {
		return Config{}, err
	}

	cfg.Models.AnthropicAPIKey = strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	cfg.Models.AnthropicModel = firstNonEmpty(strings.TrimSpace(os.Getenv("ANTHROPIC_MODEL")), "claude-3-5-haiku-20241022")
	if cfg.Models.AnthropicRPS, err = envFloat("ANTHROPIC_RPS", 1.0); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func envInt(name string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be an integer: %w", name, err)
	}
	return n, nil
}

func envFloat(name string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a number: %w", name, err)
	}
	return f, nil
}

func envDuration(name string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s must be a duration (e.g. \"30s\"): %w", name, err)
	}
	return d, nil
}
