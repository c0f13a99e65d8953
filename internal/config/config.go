// Package config handles gateway configuration: an optional YAML file with
// environment variable expansion, overlaid by LKG_-prefixed environment
// variables for every setting.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level gateway configuration.
type Config struct {
	Environment string          `yaml:"environment"` // dev, staging, prod
	Server      ServerConfig    `yaml:"server"`
	Database    DatabaseConfig  `yaml:"database"`
	Redis       RedisConfig     `yaml:"redis"`
	Auth        AuthConfig      `yaml:"auth"`
	Upstream    UpstreamConfig  `yaml:"upstream"`
	Providers   ProvidersConfig `yaml:"providers"`
	Registry    RegistryConfig  `yaml:"registry"`
	Breaker     BreakerConfig   `yaml:"breaker"`
	CORS        CORSConfig      `yaml:"cors"`
	Telemetry   TelemetryConfig `yaml:"telemetry"`
	Models      []SeedModel     `yaml:"models"`
	Keys        []SeedKey       `yaml:"keys"`
}

// SeedModel declares a catalogue entry created at startup if absent.
type SeedModel struct {
	Provider        string   `yaml:"provider"`
	ModelName       string   `yaml:"model_name"`
	DisplayName     string   `yaml:"display_name"`
	ContextWindow   int      `yaml:"context_window"`
	MaxOutputTokens int      `yaml:"max_output_tokens"`
	Capabilities    []string `yaml:"capabilities"`
	CostPer1KInput  float64  `yaml:"cost_per_1k_input"`
	CostPer1KOutput float64  `yaml:"cost_per_1k_output"`
	Priority        int      `yaml:"priority"`
}

// SeedKey declares an API key created at startup if absent. The plaintext
// normally arrives via ${VAR} expansion so it never lives in the file.
type SeedKey struct {
	Key                string `yaml:"key"`
	Name               string `yaml:"name"`
	OrgID              string `yaml:"org_id"`
	UserID             string `yaml:"user_id"`
	ManageKeys         bool   `yaml:"manage_keys"`
	Admin              bool   `yaml:"admin"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds the SQLite DSN backing the credential and model stores.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// RedisConfig selects the shared KV backing.
// The literal "memory://" selects the in-process implementation.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds API key settings.
type AuthConfig struct {
	KeyPrefix          string `yaml:"key_prefix"`
	BcryptCost         int    `yaml:"bcrypt_cost"`
	RateLimitPerMinute int    `yaml:"rate_limit_per_minute"` // default per-key limit
	// RateLimitScope is "key_ip" (counter per key+client IP, the default)
	// or "key" (counter per key only).
	RateLimitScope string `yaml:"rate_limit_scope"`
}

// UpstreamConfig holds HTTP timeouts applied to every provider client.
type UpstreamConfig struct {
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	APIKey        string `yaml:"api_key"`
	BaseURL       string `yaml:"base_url"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// ProvidersConfig holds per-provider credentials and limits.
type ProvidersConfig struct {
	OpenAI    ProviderConfig `yaml:"openai"`
	Anthropic ProviderConfig `yaml:"anthropic"`
	Gemini    ProviderConfig `yaml:"gemini"`
}

// ByName returns the config for a provider name, or the zero value.
func (p ProvidersConfig) ByName(name string) ProviderConfig {
	switch name {
	case "openai":
		return p.OpenAI
	case "anthropic":
		return p.Anthropic
	case "gemini":
		return p.Gemini
	}
	return ProviderConfig{}
}

// RegistryConfig holds model registry settings.
type RegistryConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// CORSConfig holds origin and region allow-lists.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedRegions []string `yaml:"allowed_regions"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "dev",
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{DSN: "lkgate.db"},
		Redis:    RedisConfig{URL: "memory://"},
		Auth: AuthConfig{
			KeyPrefix:          "lkg_",
			BcryptCost:         12,
			RateLimitPerMinute: 1200,
			RateLimitScope:     "key_ip",
		},
		Upstream: UpstreamConfig{
			ConnectTimeout: 5 * time.Second,
			ReadTimeout:    30 * time.Second,
		},
		Providers: ProvidersConfig{
			OpenAI:    ProviderConfig{MaxConcurrent: 100},
			Anthropic: ProviderConfig{MaxConcurrent: 100},
			Gemini:    ProviderConfig{MaxConcurrent: 100},
		},
		Registry: RegistryConfig{RefreshInterval: 60 * time.Second},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     60 * time.Second,
		},
		CORS:      CORSConfig{AllowedOrigins: []string{"*"}},
		Telemetry: TelemetryConfig{Metrics: MetricsConfig{Enabled: true}},
	}
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file (path may be empty for defaults),
// expands ${VAR} references, then applies LKG_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if cfg.Auth.RateLimitScope != "key" && cfg.Auth.RateLimitScope != "key_ip" {
		return nil, fmt.Errorf("invalid rate_limit_scope %q", cfg.Auth.RateLimitScope)
	}
	return cfg, nil
}

// applyEnv overlays LKG_-prefixed environment variables onto the config.
func (c *Config) applyEnv() {
	setStr(&c.Environment, "LKG_ENVIRONMENT")
	setStr(&c.Server.Addr, "LKG_SERVER_ADDR")
	setStr(&c.Database.DSN, "LKG_DATABASE_URL")
	setStr(&c.Redis.URL, "LKG_REDIS_URL")
	setStr(&c.Auth.KeyPrefix, "LKG_API_KEY_PREFIX")
	setInt(&c.Auth.BcryptCost, "LKG_API_KEY_BCRYPT_ROUNDS")
	setInt(&c.Auth.RateLimitPerMinute, "LKG_RATE_LIMIT_REQUESTS_PER_MINUTE")
	setStr(&c.Auth.RateLimitScope, "LKG_RATE_LIMIT_SCOPE")
	setSeconds(&c.Upstream.ConnectTimeout, "LKG_HTTP_CONNECT_TIMEOUT_S")
	setSeconds(&c.Upstream.ReadTimeout, "LKG_HTTP_READ_TIMEOUT_S")
	setSeconds(&c.Registry.RefreshInterval, "LKG_MODEL_REGISTRY_REFRESH_INTERVAL_S")
	setList(&c.CORS.AllowedOrigins, "LKG_ALLOWED_ORIGINS")
	setList(&c.CORS.AllowedRegions, "LKG_ALLOWED_REGIONS")

	for name, pc := range map[string]*ProviderConfig{
		"OPENAI":    &c.Providers.OpenAI,
		"ANTHROPIC": &c.Providers.Anthropic,
		"GEMINI":    &c.Providers.Gemini,
	} {
		setStr(&pc.APIKey, "LKG_"+name+"_API_KEY")
		setStr(&pc.BaseURL, "LKG_"+name+"_BASE_URL")
		setInt(&pc.MaxConcurrent, "LKG_"+name+"_MAX_CONCURRENT")
	}
}

func setStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = time.Duration(f * float64(time.Second))
		}
	}
}

func setList(dst *[]string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		out := parts[:0]
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}
