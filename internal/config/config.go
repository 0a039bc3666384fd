// Package config loads the orchestrator configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

// Environment represents different deployment environments.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvTesting     Environment = "testing"
	EnvProduction  Environment = "production"
)

// Config holds the configuration for the orchestrator.
// Environment variables are parsed from the HEARTH_ prefix,
// e.g. HEARTH_HTTP_PORT, HEARTH_DB_PATH.
type Config struct {
	Environment Environment `envconfig:"ENVIRONMENT" default:"development"`

	// HTTP
	HTTPPort int `envconfig:"HTTP_PORT" default:"8080"`

	// Storage
	DBPath string `envconfig:"DB_PATH" default:"data/hearth.db"`

	// Backends. The probe path is served by the node agent next to each
	// model runtime and reports utilization plus free resource.
	FastBackendURL   string `envconfig:"FAST_BACKEND_URL" default:"http://localhost:11434"`
	FastModel        string `envconfig:"FAST_MODEL" default:"qwen2.5:3b"`
	DeepBackendURL   string `envconfig:"DEEP_BACKEND_URL" default:"http://localhost:11435"`
	DeepModel        string `envconfig:"DEEP_MODEL" default:"qwen2.5:14b"`
	VisionBackendURL string `envconfig:"VISION_BACKEND_URL" default:"http://localhost:11436"`
	VisionModel      string `envconfig:"VISION_MODEL" default:"qwen2.5vl:7b"`
	VisionEnabled    bool   `envconfig:"VISION_ENABLED" default:"true"`
	ProbePath        string `envconfig:"PROBE_PATH" default:"/api/stats"`
	MaxTokens        int    `envconfig:"MAX_TOKENS" default:"512"`

	// Routing thresholds. A heavy backend is idle when its rolling-average
	// utilization sits at or below IdleUtilization and it has at least
	// MinFreeResourceMB available. Above HardFallbackUtilization it is
	// never selected, sticky affinity included.
	IdleUtilization         float64 `envconfig:"IDLE_UTILIZATION" default:"0.30"`
	HardFallbackUtilization float64 `envconfig:"HARD_FALLBACK_UTILIZATION" default:"0.60"`
	MinFreeResourceMB       float64 `envconfig:"MIN_FREE_RESOURCE_MB" default:"2048"`

	// Classifier. Deliberately cheap; both knobs are tunable policy.
	ClassifierWordThreshold int      `envconfig:"CLASSIFIER_WORD_THRESHOLD" default:"12"`
	DeepKeywords            []string `envconfig:"DEEP_KEYWORDS" default:"why,how,explain,analyze,compare,plan,write,summarize,debug,design"`

	// Telemetry
	PollInterval    time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	TelemetryWindow int           `envconfig:"TELEMETRY_WINDOW" default:"12"`

	// Session affinity
	AffinityTTL time.Duration `envconfig:"AFFINITY_TTL" default:"10m"`

	// Retrieval
	CacheTTL          time.Duration `envconfig:"CACHE_TTL" default:"60s"`
	TopK              int           `envconfig:"TOP_K" default:"5"`
	MinScore          float64       `envconfig:"MIN_SCORE" default:"0.35"`
	ContextCharBudget int           `envconfig:"CONTEXT_CHAR_BUDGET" default:"2000"`
	SearchTimeout     time.Duration `envconfig:"SEARCH_TIMEOUT" default:"3s"`

	// Persistence policy
	AutosaveEnabled   bool `envconfig:"AUTOSAVE_ENABLED" default:"true"`
	EphemeralMaxChars int  `envconfig:"EPHEMERAL_MAX_CHARS" default:"160"`
	MinAssistantChars int  `envconfig:"MIN_ASSISTANT_CHARS" default:"20"`

	// Retention
	TierShortRetention  time.Duration `envconfig:"TIER_SHORT_RETENTION" default:"24h"`
	TierMediumRetention time.Duration `envconfig:"TIER_MEDIUM_RETENTION" default:"168h"`
	TierLongRetention   time.Duration `envconfig:"TIER_LONG_RETENTION" default:"2160h"`
	EvictionInterval    time.Duration `envconfig:"EVICTION_INTERVAL" default:"1h"`

	// Embeddings
	EmbedProvider string `envconfig:"EMBED_PROVIDER" default:"ollama"`
	EmbedModel    string `envconfig:"EMBED_MODEL" default:"mxbai-embed-large"`
	OllamaURL     string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`

	// Timeouts
	TurnTimeout     time.Duration `envconfig:"TURN_TIMEOUT" default:"120s"`
	GenerateTimeout time.Duration `envconfig:"GENERATE_TIMEOUT" default:"90s"`
	ProbeTimeout    time.Duration `envconfig:"PROBE_TIMEOUT" default:"2s"`
	ConnectTimeout  time.Duration `envconfig:"CONNECT_TIMEOUT" default:"2s"`

	// Health
	HealthInterval     time.Duration `envconfig:"HEALTH_INTERVAL" default:"15s"`
	HealthProbeTimeout time.Duration `envconfig:"HEALTH_PROBE_TIMEOUT" default:"3s"`
}

// ResolveDefaults validates threshold and policy settings that envconfig
// cannot check on its own.
func (c *Config) ResolveDefaults() error {
	if c.IdleUtilization <= 0 || c.IdleUtilization > 1 {
		return fmt.Errorf("IDLE_UTILIZATION out of range (0,1]: %v", c.IdleUtilization)
	}
	if c.HardFallbackUtilization < c.IdleUtilization || c.HardFallbackUtilization > 1 {
		return fmt.Errorf("HARD_FALLBACK_UTILIZATION must be in [IDLE_UTILIZATION,1]: %v", c.HardFallbackUtilization)
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		return fmt.Errorf("MIN_SCORE out of range [0,1]: %v", c.MinScore)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("TOP_K must be positive: %d", c.TopK)
	}
	if c.TelemetryWindow <= 0 {
		return fmt.Errorf("TELEMETRY_WINDOW must be positive: %d", c.TelemetryWindow)
	}
	switch c.EmbedProvider {
	case "ollama", "hash":
	default:
		return fmt.Errorf("unsupported EMBED_PROVIDER: %s", c.EmbedProvider)
	}
	return nil
}

// New creates a Config by parsing HEARTH_-prefixed environment variables.
func New() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("HEARTH", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}
	if err := cfg.ResolveDefaults(); err != nil {
		return nil, err
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Int("port", cfg.HTTPPort).
		Str("db_path", cfg.DBPath).
		Bool("vision_enabled", cfg.VisionEnabled).
		Str("embed_provider", cfg.EmbedProvider).
		Str("embed_model", cfg.EmbedModel).
		Float64("idle_utilization", cfg.IdleUtilization).
		Float64("hard_fallback_utilization", cfg.HardFallbackUtilization).
		Msg("Configuration loaded")

	return &cfg, nil
}

// NewForTesting creates a config suitable for unit tests: hash embeddings,
// short intervals, no external services.
func NewForTesting() *Config {
	return &Config{
		Environment:             EnvTesting,
		HTTPPort:                8080,
		DBPath:                  "",
		FastModel:               "fast-test",
		DeepModel:               "deep-test",
		VisionModel:             "vision-test",
		VisionEnabled:           true,
		MaxTokens:               128,
		IdleUtilization:         0.30,
		HardFallbackUtilization: 0.60,
		MinFreeResourceMB:       1024,
		ClassifierWordThreshold: 12,
		DeepKeywords:            []string{"why", "how", "explain", "analyze", "plan"},
		PollInterval:            10 * time.Millisecond,
		TelemetryWindow:         12,
		AffinityTTL:             time.Minute,
		CacheTTL:                time.Minute,
		TopK:                    5,
		MinScore:                0.30,
		ContextCharBudget:       2000,
		SearchTimeout:           time.Second,
		AutosaveEnabled:         true,
		EphemeralMaxChars:       160,
		MinAssistantChars:       20,
		TierShortRetention:      24 * time.Hour,
		TierMediumRetention:     7 * 24 * time.Hour,
		TierLongRetention:       90 * 24 * time.Hour,
		EvictionInterval:        time.Hour,
		EmbedProvider:           "hash",
		TurnTimeout:             5 * time.Second,
		GenerateTimeout:         2 * time.Second,
		ProbeTimeout:            time.Second,
		ConnectTimeout:          time.Second,
		HealthInterval:          time.Second,
		HealthProbeTimeout:      time.Second,
	}
}

// IsTesting returns true if the environment is set to testing.
func (c *Config) IsTesting() bool { return c.Environment == EnvTesting }

// IsProduction returns true if the environment is set to production.
func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// GetHTTPAddr returns the HTTP server address.
func (c *Config) GetHTTPAddr() string { return fmt.Sprintf(":%d", c.HTTPPort) }

// RetentionFor returns the retention window for a tier.
func (c *Config) RetentionFor(tier string) time.Duration {
	switch tier {
	case "short":
		return c.TierShortRetention
	case "medium":
		return c.TierMediumRetention
	default:
		return c.TierLongRetention
	}
}
