package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rlconfig "folio/internal/ratelimit/config"
	"folio/internal/ratelimit/models"
	dErrors "folio/pkg/domain-errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 0.4, cfg.Memory.MaxContextPercentage)
	assert.Equal(t, 30*time.Minute, cfg.Memory.SessionTimeout)
	assert.Len(t, cfg.Memory.PreserveEntities, 6)
	assert.False(t, cfg.LLM.Primary.Enabled())

	rl, err := cfg.RateLimit.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, rlconfig.DefaultLimits(), rl.Models)
}

func TestLoadFileAndEnvironment(t *testing.T) {
	path := writeFile(t, "folio.yaml", `
server:
  addr: ":9000"
log:
  level: debug
ratelimit:
  default_max_wait: 15s
  models:
    - name: openai/gpt-4o-mini
      limits:
        requests_per_minute: 100
        concurrent_requests: 5
  fallback:
    requests_per_minute: 10
memory:
  preserve_recent_messages: 4
llm:
  primary:
    provider: openai
    base_url: https://api.openai.com/v1
    model: gpt-4o-mini
`)
	t.Setenv("FOLIO_LLM_PRIMARY_API_KEY", "sk-test")
	t.Setenv("FOLIO_MEMORY_SESSION_TIMEOUT", "45m")
	t.Setenv("FOLIO_SERVER_ADDR", ":9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 4, cfg.Memory.PreserveRecentMessages)
	assert.Equal(t, 45*time.Minute, cfg.Memory.SessionTimeout)
	assert.Equal(t, "sk-test", cfg.LLM.Primary.APIKey)
	assert.True(t, cfg.LLM.Primary.Enabled())

	rl, err := cfg.RateLimit.ToDomain()
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, rl.DefaultMaxWait)
	assert.Equal(t, models.Limits{
		models.KindRequestsPerMinute:  100,
		models.KindConcurrentRequests: 5,
	}, rl.Models["openai/gpt-4o-mini"])
	assert.Equal(t, models.Limits{models.KindRequestsPerMinute: 10}, rl.Fallback)
	assert.Contains(t, rl.Models, rlconfig.ModelGPT4o)
}

func TestPreserveEntitiesFromEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FOLIO_MEMORY_PRESERVE_ENTITIES", "wallet_addresses, token_symbols,")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"wallet_addresses", "token_symbols"}, cfg.Memory.ToDomain().PreserveEntities)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"bad log level", "log:\n  level: loud\n"},
		{"unknown provider", "llm:\n  primary:\n    provider: acme\n"},
		{"secondary without primary", "llm:\n  secondary:\n    provider: openai\n"},
		{"unknown limit kind", "ratelimit:\n  models:\n    - name: m\n      limits:\n        requests_per_day: 5\n"},
		{"zero limit", "ratelimit:\n  fallback:\n    requests_per_minute: 0\n"},
		{"bad memory percentage", "memory:\n  max_context_percentage: 2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "folio.yaml", tt.yaml))
			require.Error(t, err)
			assert.True(t,
				dErrors.HasCode(err, dErrors.CodeValidation) || dErrors.HasCode(err, dErrors.CodeInvalidInput),
				"unexpected error: %v", err)
		})
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("FOLIO_LOG_LEVEL=warn\n"), 0o600))
	t.Setenv("FOLIO_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("FOLIO_LOG_LEVEL"))

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "warn", os.Getenv("FOLIO_LOG_LEVEL"))
}
