package config

import (
	"fmt"
	"strings"
	"time"

	dErrors "folio/pkg/domain-errors"
)

// Entity categories that summaries must carry forward.
const (
	EntityWalletAddresses = "wallet_addresses"
	EntityTokenAmounts    = "token_amounts"
	EntityTokenSymbols    = "token_symbols"
	EntityDecisionsMade   = "decisions_made"
	EntitySwapDetails     = "swap_details"
	EntityPortfolioValues = "portfolio_values"
)

// Placeholders recognised in PromptTemplate.
const (
	PlaceholderEntities     = "{preserve_entities}"
	PlaceholderConversation = "{conversation}"
	PlaceholderMaxTokens    = "{max_tokens}"
)

// DefaultContextWindow is assumed when a caller passes a non-positive window.
const DefaultContextWindow = 8192

const DefaultPromptTemplate = `Summarize the following conversation history, preserving key information:

Entities to preserve:
{preserve_entities}

Conversation:
{conversation}

Create a concise summary that captures:
1. Main topics discussed
2. Key decisions and outcomes
3. Important numerical values and addresses
4. User preferences expressed

Keep the summary under {max_tokens} tokens.`

// Config is immutable once handed to the service.
type Config struct {
	// Fraction of the model context window that triggers summarization.
	MaxContextPercentage float64

	SummarizationModel       string
	SummarizationTemperature float64

	SessionTimeout  time.Duration
	CleanupInterval time.Duration

	// Newest messages kept verbatim when older ones are folded into the summary.
	PreserveRecentMessages int
	MaxSummaryTokens       int

	PreserveEntities []string
	PromptTemplate   string
}

func DefaultConfig() *Config {
	return &Config{
		MaxContextPercentage:     0.4,
		SummarizationModel:       "google/gemini-2.0-flash",
		SummarizationTemperature: 0.3,
		SessionTimeout:           30 * time.Minute,
		CleanupInterval:          5 * time.Minute,
		PreserveRecentMessages:   10,
		MaxSummaryTokens:         500,
		PreserveEntities: []string{
			EntityWalletAddresses,
			EntityTokenAmounts,
			EntityTokenSymbols,
			EntityDecisionsMade,
			EntitySwapDetails,
			EntityPortfolioValues,
		},
		PromptTemplate: DefaultPromptTemplate,
	}
}

func (c *Config) Validate() error {
	switch {
	case c.MaxContextPercentage <= 0 || c.MaxContextPercentage > 1:
		return invalid("max_context_percentage must be in (0, 1], got %v", c.MaxContextPercentage)
	case strings.TrimSpace(c.SummarizationModel) == "":
		return invalid("summarization_model is required")
	case c.SummarizationTemperature < 0 || c.SummarizationTemperature > 2:
		return invalid("summarization_temperature must be in [0, 2], got %v", c.SummarizationTemperature)
	case c.SessionTimeout <= 0:
		return invalid("session_timeout must be positive")
	case c.CleanupInterval <= 0:
		return invalid("cleanup_interval must be positive")
	case c.PreserveRecentMessages < 0:
		return invalid("preserve_recent_messages must not be negative")
	case c.MaxSummaryTokens <= 0:
		return invalid("max_summary_tokens must be positive")
	case !strings.Contains(c.PromptTemplate, PlaceholderConversation):
		return invalid("prompt template must contain %s", PlaceholderConversation)
	}
	return nil
}

// Threshold is the token total above which a session is summarized.
func (c *Config) Threshold(contextWindow int) int {
	if contextWindow <= 0 {
		contextWindow = DefaultContextWindow
	}
	return int(float64(contextWindow) * c.MaxContextPercentage)
}

// RenderPrompt fills the summarization template for one transcript.
func (c *Config) RenderPrompt(conversation string) string {
	entities := make([]string, 0, len(c.PreserveEntities))
	for _, e := range c.PreserveEntities {
		entities = append(entities, "- "+e)
	}
	return strings.NewReplacer(
		PlaceholderEntities, strings.Join(entities, "\n"),
		PlaceholderConversation, conversation,
		PlaceholderMaxTokens, fmt.Sprint(c.MaxSummaryTokens),
	).Replace(c.PromptTemplate)
}

func invalid(format string, args ...any) error {
	return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf(format, args...))
}
