package config

import (
	"fmt"
	"time"

	"folio/internal/ratelimit/models"
	dErrors "folio/pkg/domain-errors"
)

// Well-known model identifiers with tuned defaults.
const (
	ModelGeminiFlash  = "google/gemini-2.0-flash"
	ModelGPT4o        = "openai/gpt-4o"
	ModelClaudeSonnet = "anthropic/claude-3.5-sonnet"
)

// Config holds the rate limiting policy.
type Config struct {
	// Per-model ceilings keyed by model identifier.
	Models map[string]models.Limits

	// Fallback applies to models missing from Models. Nil makes unknown
	// models a configuration error.
	Fallback models.Limits

	// DefaultMaxWait bounds the cumulative backoff an Acquire will sleep.
	DefaultMaxWait time.Duration

	// ProviderBackoff is used by ReportError when the provider gave no hint.
	ProviderBackoff time.Duration

	Backoff BackoffConfig
}

// BackoffConfig shapes the exponential backoff with jitter.
type BackoffConfig struct {
	Base        time.Duration // used when no exceeded status carries a retry hint
	Max         time.Duration // 300s cap
	ExponentCap int           // failures beyond this stop doubling
	Jitter      float64       // uniform(0, Jitter*raw) is added
}

// DefaultLimits returns the tuned ceilings for the well-known models.
func DefaultLimits() map[string]models.Limits {
	return map[string]models.Limits{
		ModelGeminiFlash: {
			models.KindRequestsPerMinute:  300,
			models.KindTokensPerMinute:    4_000_000,
			models.KindConcurrentRequests: 50,
		},
		ModelGPT4o: {
			models.KindRequestsPerMinute:  500,
			models.KindTokensPerMinute:    800_000,
			models.KindConcurrentRequests: 100,
		},
		ModelClaudeSonnet: {
			models.KindRequestsPerMinute:  50,
			models.KindTokensPerMinute:    400_000,
			models.KindConcurrentRequests: 50,
		},
	}
}

// DefaultFallback returns the conservative ceilings for unconfigured models.
func DefaultFallback() models.Limits {
	return models.Limits{
		models.KindRequestsPerMinute:  60,
		models.KindTokensPerMinute:    100_000,
		models.KindConcurrentRequests: 10,
	}
}

// DefaultConfig returns the production defaults.
func DefaultConfig() *Config {
	return &Config{
		Models:          DefaultLimits(),
		Fallback:        DefaultFallback(),
		DefaultMaxWait:  60 * time.Second,
		ProviderBackoff: 60 * time.Second,
		Backoff: BackoffConfig{
			Base:        time.Second,
			Max:         300 * time.Second,
			ExponentCap: 6,
			Jitter:      0.1,
		},
	}
}

// Validate checks every configured limit set and rewrites model keys to
// their normalized form. Malformed limits are a programming error and fail
// fast at construction.
func (c *Config) Validate() error {
	normalized := make(map[string]models.Limits, len(c.Models))
	for model, limits := range c.Models {
		name := models.NormalizeModel(model)
		if name == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "model name must not be blank")
		}
		if _, dup := normalized[name]; dup {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("model %s is configured more than once", name))
		}
		if err := limits.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid limits for model %s: %v", name, err))
		}
		normalized[name] = limits
	}
	c.Models = normalized
	if c.Fallback != nil {
		if err := c.Fallback.Validate(); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("invalid fallback limits: %v", err))
		}
	}
	if c.Backoff.Base <= 0 || c.Backoff.Max <= 0 || c.Backoff.ExponentCap < 0 || c.Backoff.Jitter < 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "invalid backoff configuration")
	}
	return nil
}

// LimitsFor returns a copy of the ceilings for model, falling back to the
// generic set for unknown models.
func (c *Config) LimitsFor(model string) (models.Limits, error) {
	model = models.NormalizeModel(model)
	if limits, ok := c.Models[model]; ok {
		return limits.Clone(), nil
	}
	if c.Fallback != nil {
		return c.Fallback.Clone(), nil
	}
	return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("no rate limits configured for model %s", model))
}
