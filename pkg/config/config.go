// Package config loads and validates the gateway's YAML configuration,
// kept in the teacher's flat-struct + os.ReadFile + yaml.Unmarshal idiom
// and generalized to the nested providers/routing/budget/cache/server
// schema the gateway needs.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway's top-level configuration document.
type Config struct {
	Providers ProvidersConfig `yaml:"providers"`
	Routing   RoutingConfig   `yaml:"routing"`
	Budget    BudgetConfig    `yaml:"budget"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// ProvidersConfig holds per-provider API credentials, read from the
// config file or the environment, mirroring the teacher's API-key
// fallback convention.
type ProvidersConfig struct {
	OpenAIKey     string `yaml:"openai_key"`
	AnthropicKey  string `yaml:"anthropic_key"`
	PerplexityKey string `yaml:"perplexity_key"`
	OllamaBaseURL string `yaml:"ollama_base_url"`
	GeminiKey     string `yaml:"gemini_key"`
	XAIKey        string `yaml:"xai_key"`
}

// RoutingConfig tunes the router/cascade's default thresholds.
type RoutingConfig struct {
	DefaultStrategy   string  `yaml:"default_strategy"` // priority|cost-optimized|cascade|emergency
	CascadeMinQuality float64 `yaml:"cascade_min_quality"`
}

// BudgetConfig mirrors budget.Config for YAML loading.
type BudgetConfig struct {
	DailyLimit        float64            `yaml:"daily_limit"`
	WeeklyLimit       float64            `yaml:"weekly_limit"`
	MonthlyLimit      float64            `yaml:"monthly_limit"`
	EmergencyEnabled  bool               `yaml:"emergency_enabled"`
	DisabledProviders []string           `yaml:"disabled_providers"`
	Alerts            []AlertThreshold   `yaml:"alerts"`
	RetentionDays     int                `yaml:"retention_days"`
}

// AlertThreshold mirrors budget.AlertThreshold for YAML loading.
type AlertThreshold struct {
	Percentage float64 `yaml:"percentage"`
	Action     string  `yaml:"action"` // log|notify|emergency_mode
}

// CacheConfig mirrors cache.Config plus the storage backend selector.
type CacheConfig struct {
	Backend             string        `yaml:"backend"` // memory|redis
	RedisAddr           string        `yaml:"redis_addr"`
	RedisPassword       string        `yaml:"redis_password"`
	RedisDB             int           `yaml:"redis_db"`
	SimilarityThreshold float64       `yaml:"similarity_threshold"`
	MaxEntries          int           `yaml:"max_entries"`
	DefaultTTL          time.Duration `yaml:"default_ttl"`
}

// ServerConfig holds the HTTP/WS shell's listen and CORS settings.
type ServerConfig struct {
	Addr string     `yaml:"addr"`
	CORS CORSConfig `yaml:"cors"`
	// AuthTokens, when non-empty, are the bearer tokens accepted on the
	// WS event stream (spec.md §6: "tokens are opaque to the core"). An
	// empty list means no token is required for a connection.
	AuthTokens []string `yaml:"auth_tokens"`
}

// CORSConfig tunes go-chi/cors for the public HTTP surface.
type CORSConfig struct {
	Origins []string `yaml:"origins"`
}

// MaintenanceConfig tunes the background housekeeping scheduler.
type MaintenanceConfig struct {
	Schedule string `yaml:"schedule"` // cron expression, default "@hourly"
}

// Load reads and parses a YAML config file, applying defaults and
// environment-variable fallbacks for provider keys.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvFallbacks(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Routing.DefaultStrategy == "" {
		cfg.Routing.DefaultStrategy = "cascade"
	}
	if cfg.Routing.CascadeMinQuality == 0 {
		cfg.Routing.CascadeMinQuality = 7.0
	}
	if cfg.Budget.RetentionDays == 0 {
		cfg.Budget.RetentionDays = 90
	}
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "memory"
	}
	if cfg.Cache.SimilarityThreshold == 0 {
		cfg.Cache.SimilarityThreshold = 0.82
	}
	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = time.Hour
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Maintenance.Schedule == "" {
		cfg.Maintenance.Schedule = "@hourly"
	}
}

func applyEnvFallbacks(cfg *Config) {
	if cfg.Providers.OpenAIKey == "" {
		cfg.Providers.OpenAIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Providers.AnthropicKey == "" {
		cfg.Providers.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.PerplexityKey == "" {
		cfg.Providers.PerplexityKey = os.Getenv("PERPLEXITY_API_KEY")
	}
	if cfg.Providers.OllamaBaseURL == "" {
		cfg.Providers.OllamaBaseURL = os.Getenv("OLLAMA_BASE_URL")
	}
	if cfg.Providers.GeminiKey == "" {
		cfg.Providers.GeminiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if cfg.Providers.XAIKey == "" {
		cfg.Providers.XAIKey = os.Getenv("XAI_API_KEY")
	}
}

// Save writes cfg back out as YAML, used by `gatewayctl config validate`
// to round-trip a normalized document after defaults are applied.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks the loaded config is internally consistent before the
// gateway starts serving traffic.
func (c *Config) Validate() error {
	if c.Providers.OpenAIKey == "" && c.Providers.AnthropicKey == "" && c.Providers.PerplexityKey == "" {
		return fmt.Errorf("at least one provider API key must be configured")
	}
	if c.Budget.DailyLimit <= 0 {
		return fmt.Errorf("budget.daily_limit must be positive")
	}
	if c.Budget.WeeklyLimit < c.Budget.DailyLimit {
		return fmt.Errorf("budget.weekly_limit must be >= daily_limit")
	}
	if c.Budget.MonthlyLimit < c.Budget.WeeklyLimit {
		return fmt.Errorf("budget.monthly_limit must be >= weekly_limit")
	}
	switch c.Cache.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("cache.backend must be memory or redis, got %q", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("cache.redis_addr is required when cache.backend is redis")
	}
	return nil
}
