package apikey

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	apierrors "github.com/KeelPay/escrow/internal/errors"
)

var operatorAddr = common.HexToAddress("0x0000000000000000000000000000000000000011")

func TestMiddleware_Disabled(t *testing.T) {
	handler := Middleware(Config{Enabled: false})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := GetCaller(r); ok {
			t.Error("caller set without authentication")
		}
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/escrow/charge", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_ValidKeySetsCaller(t *testing.T) {
	cfg := FromStringMap(true, map[string]string{"op-key": operatorAddr.Hex()})

	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := GetCaller(r)
		if !ok {
			t.Fatal("caller missing from context")
		}
		if caller != operatorAddr {
			t.Errorf("caller = %s, want %s", caller, operatorAddr)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/escrow/charge", nil)
	req.Header.Set(Header, "op-key")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestMiddleware_RejectsUnknownKey(t *testing.T) {
	cfg := FromStringMap(true, map[string]string{"op-key": operatorAddr.Hex()})
	handler := Middleware(cfg)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler reached with invalid key")
	}))

	for _, key := range []string{"", "wrong-key"} {
		req := httptest.NewRequest(http.MethodPost, "/escrow/charge", nil)
		if key != "" {
			req.Header.Set(Header, key)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("key %q: status = %d, want 403", key, rec.Code)
		}
		var resp apierrors.ErrorResponse
		if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
			t.Fatalf("key %q: response not JSON: %v", key, err)
		}
		if resp.Error.Code != apierrors.ErrCodeUnknownCaller {
			t.Errorf("key %q: code = %s, want %s", key, resp.Error.Code, apierrors.ErrCodeUnknownCaller)
		}
	}
}

func TestFromStringMap_SkipsInvalidAddresses(t *testing.T) {
	cfg := FromStringMap(true, map[string]string{
		"good": operatorAddr.Hex(),
		"bad":  "not-an-address",
	})
	if len(cfg.Keys) != 1 {
		t.Errorf("kept %d keys, want 1", len(cfg.Keys))
	}
	if cfg.Keys["good"] != operatorAddr {
		t.Errorf("good key maps to %s", cfg.Keys["good"])
	}
}
