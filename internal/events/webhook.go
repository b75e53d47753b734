package events

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/KeelPay/escrow/internal/metrics"
)

// WebhookConfig configures outbound event delivery.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Secret  string            `yaml:"secret"` // HMAC-SHA256 signing key, optional
	Headers map[string]string `yaml:"headers"`

	Timeout         time.Duration `yaml:"timeout"`         // per-attempt, default 10s
	MaxAttempts     int           `yaml:"maxAttempts"`     // default 5
	InitialInterval time.Duration `yaml:"initialInterval"` // default 1s
	MaxInterval     time.Duration `yaml:"maxInterval"`     // default 5m
	Multiplier      float64       `yaml:"multiplier"`      // default 2.0

	BreakerEnabled bool `yaml:"breakerEnabled"`
}

func (c *WebhookConfig) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 5 * time.Minute
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
}

// WebhookNotifier delivers committed events to a consumer endpoint with
// exponential backoff. Deliveries run asynchronously; Event.ID is the
// consumer's idempotency key and Event.Sequence its ordering authority, so
// out-of-order arrival after retries is safe.
//
// A circuit breaker sheds attempts while the endpoint is hard down, and
// exhausted deliveries land in the dead letter queue for replay.
type WebhookNotifier struct {
	cfg     WebhookConfig
	client  *http.Client
	log     zerolog.Logger
	dlq     DLQStore
	metrics *metrics.Metrics
	breaker *gobreaker.CircuitBreaker

	wg sync.WaitGroup
}

// WebhookOption customizes the notifier.
type WebhookOption func(*WebhookNotifier)

// WithWebhookLogger sets the delivery logger.
func WithWebhookLogger(log zerolog.Logger) WebhookOption {
	return func(n *WebhookNotifier) { n.log = log }
}

// WithDLQ stores exhausted deliveries for later replay.
func WithDLQ(store DLQStore) WebhookOption {
	return func(n *WebhookNotifier) { n.dlq = store }
}

// WithWebhookMetrics sets the instrumentation sink.
func WithWebhookMetrics(m *metrics.Metrics) WebhookOption {
	return func(n *WebhookNotifier) { n.metrics = m }
}

// NewWebhookNotifier creates the delivery client. A config without a URL
// yields a no-op notifier.
func NewWebhookNotifier(cfg WebhookConfig, opts ...WebhookOption) Notifier {
	if cfg.URL == "" {
		return NoopNotifier{}
	}
	cfg.applyDefaults()

	n := &WebhookNotifier{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		log:     zerolog.Nop(),
		dlq:     NoopDLQStore{},
		metrics: metrics.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}

	if cfg.BreakerEnabled {
		n.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "webhook",
			MaxRequests: 3,
			Interval:    time.Minute,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				n.log.Warn().
					Str("breaker", name).
					Str("from", from.String()).
					Str("to", to.String()).
					Msg("webhook circuit breaker state change")
			},
		})
	}
	return n
}

// Notify queues the event for delivery and returns immediately.
func (n *WebhookNotifier) Notify(_ context.Context, event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.log.Error().Err(err).Str("event_id", event.ID).Msg("webhook: serialize event")
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		// Detached from the request context: delivery outlives the call
		// that committed the event.
		n.deliver(context.Background(), event, payload)
	}()
}

// Close waits for in-flight deliveries to finish.
func (n *WebhookNotifier) Close() error {
	n.wg.Wait()
	return nil
}

func (n *WebhookNotifier) deliver(ctx context.Context, event Event, payload []byte) {
	interval := n.cfg.InitialInterval
	var lastErr error

	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		err := n.attempt(ctx, payload)
		if err == nil {
			n.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			if attempt > 1 {
				n.log.Info().
					Str("event_id", event.ID).
					Int("attempt", attempt).
					Msg("webhook delivered after retry")
			}
			return
		}

		lastErr = err
		n.metrics.WebhookDeliveries.WithLabelValues("retried").Inc()
		n.log.Warn().Err(err).
			Str("event_id", event.ID).
			Int("attempt", attempt).
			Int("max_attempts", n.cfg.MaxAttempts).
			Msg("webhook attempt failed")

		if attempt < n.cfg.MaxAttempts {
			select {
			case <-time.After(interval):
			case <-ctx.Done():
				return
			}
			interval = time.Duration(float64(interval) * n.cfg.Multiplier)
			if interval > n.cfg.MaxInterval {
				interval = n.cfg.MaxInterval
			}
		}
	}

	n.metrics.WebhookDeliveries.WithLabelValues("dead_lettered").Inc()
	n.log.Error().Err(lastErr).
		Str("event_id", event.ID).
		Msg("webhook delivery exhausted; dead-lettering")

	if err := n.dlq.Save(ctx, FailedDelivery{
		EventID:     event.ID,
		URL:         n.cfg.URL,
		Payload:     json.RawMessage(payload),
		Attempts:    n.cfg.MaxAttempts,
		LastError:   lastErr.Error(),
		LastAttempt: time.Now().UTC(),
	}); err != nil {
		n.log.Error().Err(err).Str("event_id", event.ID).Msg("webhook: dead letter save failed")
	}
}

func (n *WebhookNotifier) attempt(ctx context.Context, payload []byte) error {
	send := func() (interface{}, error) {
		reqCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
		defer cancel()
		return nil, n.post(reqCtx, payload)
	}

	if n.breaker != nil {
		_, err := n.breaker.Execute(send)
		return err
	}
	_, err := send()
	return err
}

func (n *WebhookNotifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if n.cfg.Secret != "" {
		req.Header.Set("X-KeelPay-Signature", Sign(n.cfg.Secret, payload))
	}
	for k, v := range n.cfg.Headers {
		if k == "" || strings.EqualFold(k, "content-type") {
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// Sign computes the hex HMAC-SHA256 signature consumers verify against the
// raw request body.
func Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
