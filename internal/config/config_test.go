package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"MONGO_URI", "MONGO_DB", "HTTP_ADDR",
		"ENGINE_WORKERS", "ENGINE_TICK_INTERVAL", "ENGINE_POLL_TIMEOUT",
		"GROQ_API_KEY", "GROQ_MODEL", "GROQ_RPS",
		"OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_RPS",
		"ANTHROPIC_API_KEY", "ANTHROPIC_MODEL", "ANTHROPIC_RPS",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "monitor_engine", cfg.MongoDB)
	require.Equal(t, 8, cfg.Engine.Workers)
	require.Equal(t, 30*time.Second, cfg.Engine.TickInterval)
	require.Equal(t, 5*time.Minute, cfg.Engine.PollTimeout)
	require.Equal(t, "llama-3.3-70b-versatile", cfg.Models.GroqModel)
	require.Equal(t, 1.0, cfg.Models.GroqRPS)
	require.Empty(t, cfg.Models.GroqAPIKey, "no key set means the provider is left out of the triage chain")
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("ENGINE_WORKERS", "16")
	t.Setenv("ENGINE_TICK_INTERVAL", "1m")
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("GROQ_MODEL", "llama-custom")
	t.Setenv("GROQ_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddr)
	require.Equal(t, 16, cfg.Engine.Workers)
	require.Equal(t, time.Minute, cfg.Engine.TickInterval)
	require.Equal(t, "gsk_test", cfg.Models.GroqAPIKey)
	require.Equal(t, "llama-custom", cfg.Models.GroqModel)
	require.Equal(t, 2.5, cfg.Models.GroqRPS)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_TICK_INTERVAL", "not-a-duration")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidInt(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENGINE_WORKERS", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
