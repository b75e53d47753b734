// Package ratelimit throttles the HTTP surface with a global and a per-IP
// window.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// Config holds rate limiting configuration.
type Config struct {
	Enabled bool

	// Limit bounds total requests per window across all clients.
	Limit  int
	Window time.Duration

	// PerIPLimit bounds requests per client IP per window; 0 disables the
	// per-IP layer.
	PerIPLimit int
}

// DefaultConfig returns limits meant to stop obvious spam without
// restricting legitimate operators.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Limit:      1000,
		Window:     time.Minute,
		PerIPLimit: 120,
	}
}

type limitExceededResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	RetryAfterSeconds int    `json:"retry_after_seconds"`
}

func limitHandler(message string, window time.Duration) http.HandlerFunc {
	seconds := int(window.Seconds())
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(limitExceededResponse{
			Error:             "rate_limit_exceeded",
			Message:           message,
			RetryAfterSeconds: seconds,
		})
	}
}

// Middleware builds the limiter chain. Disabled config yields a pass-through.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler { return next }
	}

	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}

	var layers []func(http.Handler) http.Handler

	if cfg.Limit > 0 {
		layers = append(layers, httprate.Limit(
			cfg.Limit,
			window,
			httprate.WithKeyFuncs(func(*http.Request) (string, error) { return "global", nil }),
			httprate.WithLimitHandler(limitHandler("Global rate limit exceeded. Please try again later.", window)),
		))
	}

	if cfg.PerIPLimit > 0 {
		layers = append(layers, httprate.Limit(
			cfg.PerIPLimit,
			window,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(limitHandler("IP rate limit exceeded. Please try again later.", window)),
		))
	}

	return func(next http.Handler) http.Handler {
		h := next
		for i := len(layers) - 1; i >= 0; i-- {
			h = layers[i](h)
		}
		return h
	}
}
