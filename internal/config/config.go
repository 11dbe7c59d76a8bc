package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/pelletier/go-toml/v2"

	"github.com/agenthands/canon/internal/core/community"
)

type ServerConfig struct {
	Port       string `toml:"port" env:"PORT"`
	Mode       string `toml:"mode" env:"GIN_MODE"`
	AdminToken string `toml:"admin_token" env:"ADMIN_TOKEN"`
	LogLevel   string `toml:"log_level" env:"LOG_LEVEL"`
	LogFormat  string `toml:"log_format" env:"LOG_FORMAT"`

	// RateLimit is the per-client request rate; 0 disables limiting.
	RateLimit float64 `toml:"rate_limit" env:"RATE_LIMIT"`
	RateBurst int     `toml:"rate_burst" env:"RATE_BURST"`
}

type LLMConfig struct {
	Provider          string  `toml:"provider" env:"PROVIDER"`
	Model             string  `toml:"model" env:"MODEL"`
	APIKey            string  `toml:"api_key" env:"API_KEY"`
	BaseURL           string  `toml:"base_url" env:"BASE_URL"`
	Temperature       float64 `toml:"temperature" env:"TEMPERATURE"`
	MaxTokens         int     `toml:"max_tokens" env:"MAX_TOKENS"`
	RequestsPerSecond float64 `toml:"requests_per_second" env:"REQUESTS_PER_SECOND"`
	MaxConcurrent     int64   `toml:"max_concurrent" env:"MAX_CONCURRENT"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri" env:"URI"`
	User     string `toml:"user" env:"USER"`
	Password string `toml:"password" env:"PASSWORD"`
}

type PostgresConfig struct {
	DSN     string `toml:"dsn" env:"DSN"`
	Migrate bool   `toml:"migrate" env:"MIGRATE"`
}

type LedgerConfig struct {
	// Backend is one of memory, graph, postgres.
	Backend     string `toml:"backend" env:"BACKEND"`
	DefaultTier string `toml:"default_tier" env:"DEFAULT_TIER"`
}

type CreditsConfig struct {
	// Tiers maps a subscription tier to its monthly allotment.
	Tiers map[string]int64 `toml:"tiers" env:"TIERS"`
}

type CacheConfig struct {
	// Backend is one of memory, redis.
	Backend    string `toml:"backend" env:"BACKEND"`
	RedisURL   string `toml:"redis_url" env:"REDIS_URL"`
	TTL        string `toml:"ttl" env:"TTL"`
	MaxEntries int    `toml:"max_entries" env:"MAX_ENTRIES"`
}

// TTLDuration parses TTL, falling back to 30 minutes.
func (c CacheConfig) TTLDuration() time.Duration {
	d, err := time.ParseDuration(c.TTL)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}

type ContextConfig struct {
	MaxDepth        int `toml:"max_depth" env:"MAX_DEPTH"`
	MaxSuggestions  int `toml:"max_suggestions" env:"MAX_SUGGESTIONS"`
	MaxSiblings     int `toml:"max_siblings" env:"MAX_SIBLINGS"`
	CommunitySample int `toml:"community_sample" env:"COMMUNITY_SAMPLE"`
	// Detector is "lpa" or "components".
	Detector string `toml:"detector" env:"DETECTOR"`
}

type GenerationConfig struct {
	MaxQuantity int    `toml:"max_quantity" env:"MAX_QUANTITY"`
	Prompt      string `toml:"prompt" env:"PROMPT"`
}

type Config struct {
	Server     ServerConfig     `toml:"server" envPrefix:"SERVER_"`
	LLM        LLMConfig        `toml:"llm" envPrefix:"LLM_"`
	Memgraph   MemgraphConfig   `toml:"memgraph" envPrefix:"MEMGRAPH_"`
	Postgres   PostgresConfig   `toml:"postgres" envPrefix:"POSTGRES_"`
	Ledger     LedgerConfig     `toml:"ledger" envPrefix:"LEDGER_"`
	Credits    CreditsConfig    `toml:"credits" envPrefix:"CREDITS_"`
	Cache      CacheConfig      `toml:"cache" envPrefix:"CACHE_"`
	Context    ContextConfig    `toml:"context" envPrefix:"CONTEXT_"`
	Generation GenerationConfig `toml:"generation" envPrefix:"GENERATION_"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      "8080",
			Mode:      "release",
			LogLevel:  "info",
			LogFormat: "text",
			RateLimit: 5,
			RateBurst: 10,
		},
		LLM: LLMConfig{
			Provider:          "ollama",
			Model:             "gpt-oss:latest",
			BaseURL:           "http://localhost:11434",
			Temperature:       0.7,
			MaxTokens:         2048,
			RequestsPerSecond: 2,
			MaxConcurrent:     4,
		},
		Memgraph: MemgraphConfig{
			URI: "bolt://localhost:7687",
		},
		Ledger: LedgerConfig{
			Backend:     "graph",
			DefaultTier: "free",
		},
		Credits: CreditsConfig{
			Tiers: map[string]int64{
				"free":    100,
				"creator": 1000,
				"studio":  5000,
			},
		},
		Cache: CacheConfig{
			Backend:    "memory",
			TTL:        "30m",
			MaxEntries: 1000,
		},
		Context: ContextConfig{
			MaxDepth:        10,
			MaxSuggestions:  20,
			MaxSiblings:     25,
			CommunitySample: 200,
			Detector:        community.LabelPropagation,
		},
		Generation: GenerationConfig{
			MaxQuantity: 10,
		},
	}
}

// Load reads the TOML file at path over the defaults and then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse TOML '%s': %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Ledger.Backend {
	case "memory", "graph":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("ledger backend postgres requires postgres.dsn")
		}
	default:
		return fmt.Errorf("unsupported ledger backend: %q", c.Ledger.Backend)
	}

	switch c.Cache.Backend {
	case "memory":
	case "redis":
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache backend redis requires cache.redis_url")
		}
	default:
		return fmt.Errorf("unsupported cache backend: %q", c.Cache.Backend)
	}

	if _, err := community.NewDetector(c.Context.Detector); err != nil {
		return err
	}

	if _, ok := c.Credits.Tiers[c.Ledger.DefaultTier]; !ok {
		return fmt.Errorf("default tier %q has no allotment in credits.tiers", c.Ledger.DefaultTier)
	}
	return nil
}
