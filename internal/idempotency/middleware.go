package idempotency

import (
	"bytes"
	"net/http"
	"time"
)

const (
	// HeaderKey carries the client-chosen idempotency key.
	HeaderKey = "Idempotency-Key"

	// DefaultTTL is how long a replayed response stays available.
	DefaultTTL = 24 * time.Hour
)

// responseRecorder captures the response so it can be replayed verbatim.
type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware replays cached responses for repeated Idempotency-Key headers.
// Requests without the header pass through untouched. Keys are scoped by
// method and path so one key cannot leak a response across endpoints.
//
// Only 2xx responses are cached: a failed charge retried with the same key
// must get a fresh attempt, not a replay of the failure.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			key := r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, ok := store.Get(r.Context(), key); ok {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				w.Write(cached.Body)
				return
			}

			rw := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			if rw.statusCode >= 200 && rw.statusCode < 300 {
				headers := make(map[string]string, len(rw.Header()))
				for k := range rw.Header() {
					headers[k] = rw.Header().Get(k)
				}
				store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}
