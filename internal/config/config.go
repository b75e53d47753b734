// Package config loads service configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Load reads configuration from a YAML file and applies environment
// overrides. An empty path loads defaults plus environment only.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := cfg.parseFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:      ":8080",
			ReadTimeout:  Duration{Duration: 15 * time.Second},
			WriteTimeout: Duration{Duration: 15 * time.Second},
			IdleTimeout:  Duration{Duration: 60 * time.Second},
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "json",
			Environment: "development",
		},
		Escrow: EscrowConfig{
			Ledger: "memory",
		},
		Storage: StorageConfig{
			Backend:       "memory",
			FlushInterval: Duration{Duration: 5 * time.Second},
		},
		Webhook: WebhookConfig{
			Headers: make(map[string]string),
			Timeout: Duration{Duration: 10 * time.Second},
			Retry: RetryConfig{
				MaxAttempts:     5,
				InitialInterval: Duration{Duration: time.Second},
				MaxInterval:     Duration{Duration: 5 * time.Minute},
				Multiplier:      2.0,
			},
			DLQPath:        "./data/webhook-dlq.json",
			BreakerEnabled: true,
		},
		RateLimit: RateLimitConfig{
			Enabled:    true,
			Limit:      1000,
			Window:     Duration{Duration: time.Minute},
			PerIPLimit: 120,
		},
		APIKey: APIKeyConfig{
			Enabled: false,
			Keys:    make(map[string]string),
		},
		Idempotency: IdempotencyConfig{
			Enabled:    true,
			TTL:        Duration{Duration: 24 * time.Hour},
			MaxEntries: 10000,
		},
	}
}

func (c *Config) parseFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config yaml: %w", err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Escrow.Address == "" {
		return fmt.Errorf("config: escrow.address is required")
	}
	if !common.IsHexAddress(c.Escrow.Address) {
		return fmt.Errorf("config: escrow.address %q is not a valid address", c.Escrow.Address)
	}
	if common.HexToAddress(c.Escrow.Address) == (common.Address{}) {
		return fmt.Errorf("config: escrow.address must not be the zero address")
	}

	switch c.Escrow.Ledger {
	case "", "memory":
	default:
		return fmt.Errorf("config: unknown ledger backend %q", c.Escrow.Ledger)
	}

	switch c.Storage.Backend {
	case "", "memory":
	case "file":
		if c.Storage.FilePath == "" {
			return fmt.Errorf("config: storage.file_path is required for the file backend")
		}
	case "postgres":
		if c.Storage.PostgresURL == "" {
			return fmt.Errorf("config: storage.postgres_url is required for the postgres backend")
		}
	case "mongodb":
		if c.Storage.MongoDBURL == "" {
			return fmt.Errorf("config: storage.mongodb_url is required for the mongodb backend")
		}
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}

	for key, addr := range c.APIKey.Keys {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("config: api key %q maps to invalid address %q", key, addr)
		}
	}
	return nil
}

// EscrowAddress returns the parsed escrow identity. Valid after Load.
func (c *Config) EscrowAddress() common.Address {
	return common.HexToAddress(c.Escrow.Address)
}
