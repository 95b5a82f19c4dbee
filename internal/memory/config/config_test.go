package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "folio/pkg/domain-errors"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 0.4, cfg.MaxContextPercentage)
	assert.Equal(t, "google/gemini-2.0-flash", cfg.SummarizationModel)
	assert.Equal(t, 30*time.Minute, cfg.SessionTimeout)
	assert.Equal(t, 10, cfg.PreserveRecentMessages)
	assert.Equal(t, 500, cfg.MaxSummaryTokens)
	assert.Len(t, cfg.PreserveEntities, 6)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero percentage", func(c *Config) { c.MaxContextPercentage = 0 }},
		{"percentage above one", func(c *Config) { c.MaxContextPercentage = 1.5 }},
		{"blank model", func(c *Config) { c.SummarizationModel = "  " }},
		{"negative temperature", func(c *Config) { c.SummarizationTemperature = -0.1 }},
		{"zero timeout", func(c *Config) { c.SessionTimeout = 0 }},
		{"zero cleanup interval", func(c *Config) { c.CleanupInterval = 0 }},
		{"negative preserve", func(c *Config) { c.PreserveRecentMessages = -1 }},
		{"zero summary tokens", func(c *Config) { c.MaxSummaryTokens = 0 }},
		{"template without conversation", func(c *Config) { c.PromptTemplate = "summarize" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}
}

func TestThreshold(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3276, cfg.Threshold(0))
	assert.Equal(t, 3276, cfg.Threshold(-5))
	assert.Equal(t, 40, cfg.Threshold(100))
	assert.Equal(t, 51200, cfg.Threshold(128000))
}

func TestRenderPrompt(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreserveEntities = []string{EntityWalletAddresses, EntityTokenSymbols}
	cfg.MaxSummaryTokens = 200

	prompt := cfg.RenderPrompt("User: swap 1 ETH")

	assert.Contains(t, prompt, "Entities to preserve:\n- wallet_addresses\n- token_symbols\n\nConversation:")
	assert.Contains(t, prompt, "Conversation:\nUser: swap 1 ETH\n")
	assert.Contains(t, prompt, "Keep the summary under 200 tokens.")
	assert.NotContains(t, prompt, "{")
}
