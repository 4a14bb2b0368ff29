package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures runtime configuration for presaled. Sale parameters live in
// the ledger TOML file referenced by LedgerConfig.
type Config struct {
	ListenAddress   string               `yaml:"listen"`
	LedgerConfig    string               `yaml:"ledger_config"`
	ShutdownTimeout Duration             `yaml:"shutdown_timeout"`
	Auth            AuthConfig           `yaml:"auth"`
	RateLimits      map[string]RateLimit `yaml:"rate_limits"`
	Webhook         WebhookConfig        `yaml:"webhook"`
	Idempotency     IdempotencyConfig    `yaml:"idempotency"`
	EventStream     EventStreamConfig    `yaml:"event_stream"`
	Log             LogConfig            `yaml:"log"`
}

// AuthConfig configures JWT validation for the admin endpoints.
type AuthConfig struct {
	HMACSecretEnv string   `yaml:"hmac_secret_env"`
	Issuer        string   `yaml:"issuer"`
	Audience      string   `yaml:"audience"`
	ClockSkew     Duration `yaml:"clock_skew"`
}

// RateLimit bounds one route group per client.
type RateLimit struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

// WebhookConfig forwards ledger events to an external endpoint when URL is set.
type WebhookConfig struct {
	URL         string   `yaml:"url"`
	SecretEnv   string   `yaml:"secret_env"`
	MaxAttempts int      `yaml:"max_attempts"`
	MinBackoff  Duration `yaml:"min_backoff"`
	MaxBackoff  Duration `yaml:"max_backoff"`
}

// IdempotencyConfig enables response replay for payment requests when DSN is
// set. DSNs starting with postgres:// use Postgres; others are SQLite paths.
type IdempotencyConfig struct {
	DSN string   `yaml:"dsn"`
	TTL Duration `yaml:"ttl"`
}

// EventStreamConfig sizes the replay buffer behind GET /v1/events.
type EventStreamConfig struct {
	History int `yaml:"history"`
}

// LogConfig controls level and the optional rotating log file.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.LedgerConfig == "" {
		cfg.LedgerConfig = "config.toml"
	}
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout.Duration = 5 * time.Second
	}
	if cfg.Auth.HMACSecretEnv == "" {
		cfg.Auth.HMACSecretEnv = "PRESALE_ADMIN_JWT_SECRET"
	}
	if cfg.RateLimits == nil {
		cfg.RateLimits = map[string]RateLimit{
			"purchase": {RequestsPerMinute: 60, Burst: 10},
			"query":    {RequestsPerMinute: 600, Burst: 60},
		}
	}
	if cfg.Webhook.SecretEnv == "" {
		cfg.Webhook.SecretEnv = "PRESALE_WEBHOOK_SECRET"
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 5
	}
	if cfg.Webhook.MinBackoff.Duration <= 0 {
		cfg.Webhook.MinBackoff.Duration = 500 * time.Millisecond
	}
	if cfg.Webhook.MaxBackoff.Duration <= 0 {
		cfg.Webhook.MaxBackoff.Duration = 30 * time.Second
	}
	if cfg.EventStream.History <= 0 {
		cfg.EventStream.History = 1024
	}
	if cfg.Idempotency.TTL.Duration <= 0 {
		cfg.Idempotency.TTL.Duration = 24 * time.Hour
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return errors.New("listen address required")
	}
	if cfg.Webhook.MinBackoff.Duration > cfg.Webhook.MaxBackoff.Duration {
		return errors.New("webhook min_backoff exceeds max_backoff")
	}
	for name, limit := range cfg.RateLimits {
		if limit.RequestsPerMinute < 0 || limit.Burst < 0 {
			return fmt.Errorf("rate limit %s must not be negative", name)
		}
	}
	return nil
}

// Secret resolves a secret from the named environment variable.
func Secret(envName string) string {
	if envName == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(envName))
}
