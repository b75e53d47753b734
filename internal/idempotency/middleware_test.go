package idempotency

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestMiddleware_ReplaysSuccessfulResponse(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	var calls atomic.Int64
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"call":%d}`, n)
	}))

	do := func() (*httptest.ResponseRecorder, string) {
		req := httptest.NewRequest(http.MethodPost, "/escrow/charge", nil)
		req.Header.Set(HeaderKey, "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		body, _ := io.ReadAll(rec.Body)
		return rec, string(body)
	}

	_, first := do()
	rec, second := do()

	if calls.Load() != 1 {
		t.Errorf("handler ran %d times, want 1", calls.Load())
	}
	if first != second {
		t.Errorf("replayed body %q differs from original %q", second, first)
	}
	if rec.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("replay header missing on second response")
	}
}

func TestMiddleware_DoesNotCacheFailures(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	var calls atomic.Int64
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/escrow/charge", nil)
		req.Header.Set(HeaderKey, "key-1")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2 (failure must not be replayed)", calls.Load())
	}
}

func TestMiddleware_ScopesKeyByEndpoint(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	var calls atomic.Int64
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/escrow/charge", "/escrow/refund"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		req.Header.Set(HeaderKey, "shared-key")
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	if calls.Load() != 2 {
		t.Errorf("handler ran %d times, want 2 (same key on different endpoints)", calls.Load())
	}
}

func TestMiddleware_NoKeyPassesThrough(t *testing.T) {
	store := NewMemoryStore(0)
	defer store.Close()

	var calls atomic.Int64
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 3; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/escrow/charge", nil))
	}
	if calls.Load() != 3 {
		t.Errorf("handler ran %d times, want 3", calls.Load())
	}
}

func TestMemoryStore_TTLAndEviction(t *testing.T) {
	store := NewMemoryStore(2)
	defer store.Close()
	ctx := context.Background()

	resp := &Response{StatusCode: 200, Body: []byte("ok")}
	store.Set(ctx, "a", resp, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	if _, ok := store.Get(ctx, "a"); ok {
		t.Error("expired entry still served")
	}

	store.Set(ctx, "b", resp, time.Minute)
	store.Set(ctx, "c", resp, time.Minute)
	store.Set(ctx, "d", resp, time.Minute) // evicts the LRU entry "b"
	if _, ok := store.Get(ctx, "b"); ok {
		t.Error("LRU entry survived eviction")
	}
	if _, ok := store.Get(ctx, "d"); !ok {
		t.Error("fresh entry missing after eviction")
	}
}
