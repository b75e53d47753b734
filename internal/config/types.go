package config

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration to support string based YAML decoding.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses duration values expressed as Go-style strings or
// numbers interpreted as seconds.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		raw := strings.TrimSpace(value.Value)
		if raw == "" {
			d.Duration = 0
			return nil
		}
		parsed, err := time.ParseDuration(raw)
		if err == nil {
			d.Duration = parsed
			return nil
		}
		secs, convErr := time.ParseDuration(fmt.Sprintf("%ss", raw))
		if convErr == nil {
			d.Duration = secs
			return nil
		}
		return fmt.Errorf("invalid duration value %q: %w", raw, err)
	default:
		return fmt.Errorf("unsupported duration node kind: %v", value.Kind)
	}
}

// MarshalYAML renders the duration as a string to keep config edits
// human-friendly.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// Config holds application level configuration aggregated from file and
// environment variables.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Escrow      EscrowConfig      `yaml:"escrow"`
	Storage     StorageConfig     `yaml:"storage"`
	Webhook     WebhookConfig     `yaml:"webhook"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit"`
	APIKey      APIKeyConfig      `yaml:"api_key"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address            string   `yaml:"address"`
	ReadTimeout        Duration `yaml:"read_timeout"`
	WriteTimeout       Duration `yaml:"write_timeout"`
	IdleTimeout        Duration `yaml:"idle_timeout"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	RoutePrefix        string   `yaml:"route_prefix"`          // optional prefix for all routes (e.g. "/api")
	AdminMetricsAPIKey string   `yaml:"admin_metrics_api_key"` // optional key protecting /metrics
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level       string `yaml:"level"`  // debug | info | warn | error
	Format      string `yaml:"format"` // json | console
	Environment string `yaml:"environment"`
}

// EscrowConfig holds the escrow engine configuration.
type EscrowConfig struct {
	// Address is the escrow's own identity, presented to collectors on
	// every pull.
	Address string `yaml:"address"`

	// Ledger selects the token ledger backend. Only "memory" ships today;
	// the engine talks to an interface, so external ledgers slot in
	// without touching the lifecycle code.
	Ledger string `yaml:"ledger"`

	// SignedCollectorEnabled registers the signature-authorized pull
	// strategy next to the default allowance strategy.
	SignedCollectorEnabled bool `yaml:"signed_collector_enabled"`
}

// StorageConfig holds persistence configuration.
type StorageConfig struct {
	Backend         string   `yaml:"backend"` // memory | file | postgres | mongodb
	PostgresURL     string   `yaml:"postgres_url"`
	MongoDBURL      string   `yaml:"mongodb_url"`
	MongoDBDatabase string   `yaml:"mongodb_database"`
	FilePath        string   `yaml:"file_path"`
	FlushInterval   Duration `yaml:"flush_interval"`

	PaymentStateTable string `yaml:"payment_state_table"`
	EventLogTable     string `yaml:"event_log_table"`
}

// WebhookConfig holds outbound event delivery configuration.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret"`
	Headers map[string]string `yaml:"headers"`
	Timeout Duration          `yaml:"timeout"`

	Retry RetryConfig `yaml:"retry"`

	DLQEnabled bool   `yaml:"dlq_enabled"`
	DLQPath    string `yaml:"dlq_path"`

	BreakerEnabled bool `yaml:"breaker_enabled"`
}

// RetryConfig holds webhook retry behavior.
type RetryConfig struct {
	MaxAttempts     int      `yaml:"max_attempts"`
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	Multiplier      float64  `yaml:"multiplier"`
}

// RateLimitConfig holds request throttling configuration.
type RateLimitConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Limit      int      `yaml:"limit"`
	Window     Duration `yaml:"window"`
	PerIPLimit int      `yaml:"per_ip_limit"`
}

// APIKeyConfig maps API keys to caller identities. Lifecycle operations
// derive their Caller from the authenticated key, never from the request
// body.
type APIKeyConfig struct {
	Enabled bool `yaml:"enabled"`
	// Keys maps an API key to the caller address it authenticates.
	Keys map[string]string `yaml:"keys"`
}

// IdempotencyConfig holds replay-protection configuration for mutating
// endpoints.
type IdempotencyConfig struct {
	Enabled    bool     `yaml:"enabled"`
	TTL        Duration `yaml:"ttl"`
	MaxEntries int      `yaml:"max_entries"`
}
