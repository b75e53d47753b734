// Package apikey authenticates callers of the lifecycle endpoints. Each API
// key maps to one caller address; the engine trusts that address, never an
// identity claimed in a request body.
package apikey

import (
	"context"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/KeelPay/escrow/internal/errors"
)

// Header carries the API key.
const Header = "X-API-Key"

type contextKey string

const contextKeyCaller contextKey = "caller_address"

// Config holds API key configuration.
type Config struct {
	Enabled bool
	// Keys maps an API key to the caller address it authenticates.
	Keys map[string]common.Address
}

// FromStringMap builds a Config from key -> hex address pairs, as loaded
// from configuration.
func FromStringMap(enabled bool, keys map[string]string) Config {
	cfg := Config{Enabled: enabled, Keys: make(map[string]common.Address, len(keys))}
	for key, addr := range keys {
		if common.IsHexAddress(addr) {
			cfg.Keys[key] = common.HexToAddress(addr)
		}
	}
	return cfg
}

// Middleware resolves the caller identity from the API key. With the system
// disabled requests pass through unauthenticated and handlers fall back to
// the caller named in the request. With it enabled, a missing or unknown key
// is rejected outright.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	if !cfg.Enabled {
		return func(next http.Handler) http.Handler {
			return next
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := strings.TrimSpace(r.Header.Get(Header))
			caller, ok := cfg.Keys[key]
			if key == "" || !ok {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnknownCaller, "Missing or unknown API key.")
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetCaller returns the authenticated caller address, if any.
func GetCaller(r *http.Request) (common.Address, bool) {
	caller, ok := r.Context().Value(contextKeyCaller).(common.Address)
	return caller, ok
}
