package httpserver

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/KeelPay/escrow/internal/errors"
)

// metricsMiddleware records request counts and latency per route pattern, so
// /escrow/v1/payments/{hash} stays one series regardless of the hash.
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(ww.Status())
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, status).Inc()
		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// adminMetricsAuth guards the metrics endpoint with a bearer key. An empty
// configured key leaves the endpoint open, which is the expected setup when
// the scrape path is network-restricted instead.
func adminMetricsAuth(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token := strings.TrimPrefix(header, "Bearer ")
			if header == "" || token == header || token != key {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnknownCaller, "Missing or invalid metrics credentials.")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
