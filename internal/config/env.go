package config

import (
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"
)

// applyEnvOverrides applies environment variable overrides to the config.
// Environment variables take precedence over YAML configuration. All env
// vars use the KEELPAY_ prefix for namespace isolation.
func (c *Config) applyEnvOverrides() {
	setIfEnv(&c.Server.Address, "KEELPAY_SERVER_ADDRESS")
	setIfEnv(&c.Server.RoutePrefix, "KEELPAY_ROUTE_PREFIX")
	setIfEnv(&c.Server.AdminMetricsAPIKey, "KEELPAY_ADMIN_METRICS_API_KEY")
	if c.Server.RoutePrefix != "" {
		c.Server.RoutePrefix = normalizeRoutePrefix(c.Server.RoutePrefix)
	}

	setIfEnv(&c.Logging.Level, "KEELPAY_LOG_LEVEL")
	setIfEnv(&c.Logging.Format, "KEELPAY_LOG_FORMAT")
	setIfEnv(&c.Logging.Environment, "KEELPAY_ENVIRONMENT")

	setIfEnv(&c.Escrow.Address, "KEELPAY_ESCROW_ADDRESS")
	setIfEnv(&c.Escrow.Ledger, "KEELPAY_ESCROW_LEDGER")
	setBoolIfEnv(&c.Escrow.SignedCollectorEnabled, "KEELPAY_ESCROW_SIGNED_COLLECTOR_ENABLED")

	setIfEnv(&c.Storage.Backend, "KEELPAY_STORAGE_BACKEND")
	setIfEnv(&c.Storage.PostgresURL, "KEELPAY_STORAGE_POSTGRES_URL")
	setIfEnv(&c.Storage.MongoDBURL, "KEELPAY_STORAGE_MONGODB_URL")
	setIfEnv(&c.Storage.MongoDBDatabase, "KEELPAY_STORAGE_MONGODB_DATABASE")
	setIfEnv(&c.Storage.FilePath, "KEELPAY_STORAGE_FILE_PATH")
	setDurationIfEnv(&c.Storage.FlushInterval, "KEELPAY_STORAGE_FLUSH_INTERVAL")

	setIfEnv(&c.Webhook.URL, "KEELPAY_WEBHOOK_URL")
	setIfEnv(&c.Webhook.Secret, "KEELPAY_WEBHOOK_SECRET")
	setDurationIfEnv(&c.Webhook.Timeout, "KEELPAY_WEBHOOK_TIMEOUT")
	setBoolIfEnv(&c.Webhook.DLQEnabled, "KEELPAY_WEBHOOK_DLQ_ENABLED")
	setIfEnv(&c.Webhook.DLQPath, "KEELPAY_WEBHOOK_DLQ_PATH")
	setBoolIfEnv(&c.Webhook.BreakerEnabled, "KEELPAY_WEBHOOK_BREAKER_ENABLED")
	c.loadPrefixedHeaders("KEELPAY_WEBHOOK_HEADER_")

	setBoolIfEnv(&c.RateLimit.Enabled, "KEELPAY_RATE_LIMIT_ENABLED")
	setIntIfEnv(&c.RateLimit.Limit, "KEELPAY_RATE_LIMIT_LIMIT")
	setIntIfEnv(&c.RateLimit.PerIPLimit, "KEELPAY_RATE_LIMIT_PER_IP_LIMIT")
	setDurationIfEnv(&c.RateLimit.Window, "KEELPAY_RATE_LIMIT_WINDOW")

	setBoolIfEnv(&c.APIKey.Enabled, "KEELPAY_API_KEY_ENABLED")
	c.loadAPIKeys()

	setBoolIfEnv(&c.Idempotency.Enabled, "KEELPAY_IDEMPOTENCY_ENABLED")
	setDurationIfEnv(&c.Idempotency.TTL, "KEELPAY_IDEMPOTENCY_TTL")
	setIntIfEnv(&c.Idempotency.MaxEntries, "KEELPAY_IDEMPOTENCY_MAX_ENTRIES")
}

// loadPrefixedHeaders merges KEELPAY_WEBHOOK_HEADER_* variables into the
// webhook header map, e.g. KEELPAY_WEBHOOK_HEADER_X_TEAM=billing becomes
// "X-Team: billing".
func (c *Config) loadPrefixedHeaders(prefix string) {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], prefix)
		if name == "" {
			continue
		}
		if c.Webhook.Headers == nil {
			c.Webhook.Headers = make(map[string]string)
		}
		headerName := textproto.CanonicalMIMEHeaderKey(strings.ReplaceAll(name, "_", "-"))
		c.Webhook.Headers[headerName] = parts[1]
	}
}

// loadAPIKeys merges KEELPAY_API_KEY_<NAME>=<address> variables into the key
// map. The key itself is the lowercased <NAME>.
func (c *Config) loadAPIKeys() {
	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, "KEELPAY_API_KEY_") {
			continue
		}
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name := strings.TrimPrefix(parts[0], "KEELPAY_API_KEY_")
		if name == "" || name == "ENABLED" {
			continue
		}
		if c.APIKey.Keys == nil {
			c.APIKey.Keys = make(map[string]string)
		}
		c.APIKey.Keys[strings.ToLower(name)] = strings.TrimSpace(parts[1])
	}
}

// setIfEnv sets a string pointer to the environment variable value if it
// exists.
func setIfEnv(target *string, key string) {
	if val := os.Getenv(key); val != "" {
		*target = val
	}
}

// setBoolIfEnv sets a boolean from an environment variable. Accepts "1" and
// any casing of "true" as true values.
func setBoolIfEnv(target *bool, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v == "1" || strings.EqualFold(v, "true")
	}
}

func setIntIfEnv(target *int, key string) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*target = parsed
		}
	}
}

// setDurationIfEnv sets a Duration from values like "5m", "120s", "1h30m".
func setDurationIfEnv(target *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			*target = Duration{Duration: dur}
		}
	}
}

// normalizeRoutePrefix ensures the prefix starts with / and doesn't end
// with /.
func normalizeRoutePrefix(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return strings.TrimSuffix(prefix, "/")
}
