// Package config loads process configuration from defaults, an optional YAML
// file, a .env file and FOLIO_* environment variables, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	memconfig "folio/internal/memory/config"
	rlconfig "folio/internal/ratelimit/config"
	"folio/internal/ratelimit/models"
	dErrors "folio/pkg/domain-errors"
	strs "folio/pkg/string"
	"folio/pkg/validation"
)

// EnvPrefix namespaces environment overrides, e.g. FOLIO_SERVER_ADDR.
const EnvPrefix = "FOLIO"

// Provider names accepted for llm.primary.provider and llm.secondary.provider.
const (
	ProviderOpenAI = "openai"
	ProviderArk    = "ark"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Admin     AdminConfig     `mapstructure:"admin"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Memory    MemoryConfig    `mapstructure:"memory"`
	LLM       LLMConfig       `mapstructure:"llm"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr" validate:"required"`
	Environment     string        `mapstructure:"environment" validate:"required"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// AdminConfig guards the operator API. An empty Token disables the check.
type AdminConfig struct {
	Token             string  `mapstructure:"token"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// ModelLimits overrides the ceilings of one model. Model names contain dots
// and slashes, so they are listed rather than used as keys.
type ModelLimits struct {
	Name   string         `mapstructure:"name" validate:"required,notblank"`
	Limits map[string]int `mapstructure:"limits" validate:"required,min=1"`
}

type RateLimitConfig struct {
	Models          []ModelLimits  `mapstructure:"models" validate:"dive"`
	Fallback        map[string]int `mapstructure:"fallback"`
	DefaultMaxWait  time.Duration  `mapstructure:"default_max_wait" validate:"gte=0"`
	ProviderBackoff time.Duration  `mapstructure:"provider_backoff" validate:"gt=0"`
}

type MemoryConfig struct {
	MaxContextPercentage     float64       `mapstructure:"max_context_percentage"`
	SummarizationModel       string        `mapstructure:"summarization_model"`
	SummarizationTemperature float64       `mapstructure:"summarization_temperature"`
	SessionTimeout           time.Duration `mapstructure:"session_timeout"`
	CleanupInterval          time.Duration `mapstructure:"cleanup_interval"`
	PreserveRecentMessages   int           `mapstructure:"preserve_recent_messages"`
	MaxSummaryTokens         int           `mapstructure:"max_summary_tokens"`
	PreserveEntities         []string      `mapstructure:"preserve_entities"`
	PromptTemplate           string        `mapstructure:"prompt_template"`
}

type ProviderConfig struct {
	Provider string        `mapstructure:"provider" validate:"omitempty,oneof=openai ark"`
	BaseURL  string        `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey   string        `mapstructure:"api_key"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// Enabled reports whether a provider was configured.
func (p ProviderConfig) Enabled() bool {
	return p.Provider != ""
}

type LLMConfig struct {
	Primary          ProviderConfig `mapstructure:"primary"`
	Secondary        ProviderConfig `mapstructure:"secondary"`
	FailureThreshold int            `mapstructure:"failure_threshold" validate:"gte=1"`
	SuccessThreshold int            `mapstructure:"success_threshold" validate:"gte=1"`
	ProbeInterval    time.Duration  `mapstructure:"probe_interval" validate:"gt=0"`
	MaxWait          time.Duration  `mapstructure:"max_wait" validate:"gte=0"`
}

func setDefaults(v *viper.Viper) {
	mem := memconfig.DefaultConfig()
	rl := rlconfig.DefaultConfig()

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("log.level", "info")

	v.SetDefault("admin.token", "")
	v.SetDefault("admin.requests_per_second", 20.0)
	v.SetDefault("admin.burst", 40)

	v.SetDefault("ratelimit.default_max_wait", rl.DefaultMaxWait)
	v.SetDefault("ratelimit.provider_backoff", rl.ProviderBackoff)

	v.SetDefault("memory.max_context_percentage", mem.MaxContextPercentage)
	v.SetDefault("memory.summarization_model", mem.SummarizationModel)
	v.SetDefault("memory.summarization_temperature", mem.SummarizationTemperature)
	v.SetDefault("memory.session_timeout", mem.SessionTimeout)
	v.SetDefault("memory.cleanup_interval", mem.CleanupInterval)
	v.SetDefault("memory.preserve_recent_messages", mem.PreserveRecentMessages)
	v.SetDefault("memory.max_summary_tokens", mem.MaxSummaryTokens)
	v.SetDefault("memory.preserve_entities", mem.PreserveEntities)
	v.SetDefault("memory.prompt_template", mem.PromptTemplate)

	for _, side := range []string{"primary", "secondary"} {
		v.SetDefault("llm."+side+".provider", "")
		v.SetDefault("llm."+side+".base_url", "")
		v.SetDefault("llm."+side+".api_key", "")
		v.SetDefault("llm."+side+".model", "")
		v.SetDefault("llm."+side+".timeout", 60*time.Second)
	}
	v.SetDefault("llm.failure_threshold", 5)
	v.SetDefault("llm.success_threshold", 3)
	v.SetDefault("llm.probe_interval", 30*time.Second)
	v.SetDefault("llm.max_wait", rl.DefaultMaxWait)
}

// Load reads configuration. An explicit path must exist; without one,
// folio.yaml is looked up in the working directory and ./config and is
// optional.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("folio")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)))
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding the real environment. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Validate checks struct tags, then the derived domain configurations.
func (c *Config) Validate() error {
	if err := validation.Validate(c); err != nil {
		return err
	}
	if c.LLM.Secondary.Enabled() && !c.LLM.Primary.Enabled() {
		return dErrors.New(dErrors.CodeValidation, "llm.secondary requires llm.primary")
	}
	rl, err := c.RateLimit.ToDomain()
	if err != nil {
		return err
	}
	if err := rl.Validate(); err != nil {
		return err
	}
	return c.Memory.ToDomain().Validate()
}

// ToDomain overlays the configured limits on the built-in defaults.
func (c RateLimitConfig) ToDomain() (*rlconfig.Config, error) {
	cfg := rlconfig.DefaultConfig()
	if c.DefaultMaxWait > 0 {
		cfg.DefaultMaxWait = c.DefaultMaxWait
	}
	if c.ProviderBackoff > 0 {
		cfg.ProviderBackoff = c.ProviderBackoff
	}
	for _, m := range c.Models {
		limits, err := toLimits(m.Limits)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("ratelimit.models[%s]: %v", m.Name, err))
		}
		cfg.Models[models.NormalizeModel(m.Name)] = limits
	}
	if len(c.Fallback) > 0 {
		limits, err := toLimits(c.Fallback)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, fmt.Sprintf("ratelimit.fallback: %v", err))
		}
		cfg.Fallback = limits
	}
	return cfg, nil
}

func toLimits(raw map[string]int) (models.Limits, error) {
	limits := make(models.Limits, len(raw))
	for k, v := range raw {
		kind, err := models.ParseLimitKind(strings.ToLower(k))
		if err != nil {
			return nil, err
		}
		limits[kind] = v
	}
	return limits, limits.Validate()
}

func (c MemoryConfig) ToDomain() *memconfig.Config {
	return &memconfig.Config{
		MaxContextPercentage:     c.MaxContextPercentage,
		SummarizationModel:       c.SummarizationModel,
		SummarizationTemperature: c.SummarizationTemperature,
		SessionTimeout:           c.SessionTimeout,
		CleanupInterval:          c.CleanupInterval,
		PreserveRecentMessages:   c.PreserveRecentMessages,
		MaxSummaryTokens:         c.MaxSummaryTokens,
		PreserveEntities:         strs.TrimSlice(append([]string(nil), c.PreserveEntities...)),
		PromptTemplate:           c.PromptTemplate,
	}
}
