// Package escrowapp wires the escrow components for standalone serving or
// embedding into a larger service.
package escrowapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/KeelPay/escrow/internal/collector"
	"github.com/KeelPay/escrow/internal/config"
	"github.com/KeelPay/escrow/internal/escrow"
	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/internal/httpserver"
	"github.com/KeelPay/escrow/internal/idempotency"
	"github.com/KeelPay/escrow/internal/ledger"
	"github.com/KeelPay/escrow/internal/lifecycle"
	"github.com/KeelPay/escrow/internal/logger"
	"github.com/KeelPay/escrow/internal/metrics"
	"github.com/KeelPay/escrow/internal/storage"
)

// App holds the assembled escrow service and its collaborators.
type App struct {
	Config           *config.Config
	Ledger           ledger.Ledger
	Store            storage.Store
	Collectors       collector.Registry
	Notifier         events.Notifier
	Escrow           *escrow.Service
	IdempotencyStore *idempotency.MemoryStore
	Server           *httpserver.Server

	resourceManager  *lifecycle.Manager
	metricsCollector *metrics.Metrics
	registry         *prometheus.Registry
}

// Option configures App construction.
type Option func(*options)

type options struct {
	ledger     ledger.Ledger
	store      storage.Store
	notifier   events.Notifier
	collectors []collector.Collector
}

// WithLedger sets a custom token ledger.
func WithLedger(l ledger.Ledger) Option {
	return func(o *options) { o.ledger = l }
}

// WithStore sets a custom storage backend.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithNotifier injects an event notifier, replacing the configured webhook.
func WithNotifier(n events.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithCollectors registers additional pull strategies next to the built-in
// ones.
func WithCollectors(collectors ...collector.Collector) Option {
	return func(o *options) { o.collectors = append(o.collectors, collectors...) }
}

// NewApp assembles the escrow service from configuration.
func NewApp(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("escrowapp: config required")
	}

	optState := options{}
	for _, opt := range opts {
		opt(&optState)
	}

	app := &App{
		Config:          cfg,
		resourceManager: lifecycle.NewManager(),
		registry:        prometheus.NewRegistry(),
	}

	appLogger := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "keelpay-escrow",
		Environment: cfg.Logging.Environment,
	})

	app.metricsCollector = metrics.New(app.registry)

	if optState.store != nil {
		app.Store = optState.store
	} else {
		store, err := storage.New(ctx, storage.StoreConfig{
			Backend:               cfg.Storage.Backend,
			PostgresURL:           cfg.Storage.PostgresURL,
			MongoDBURL:            cfg.Storage.MongoDBURL,
			MongoDBDatabase:       cfg.Storage.MongoDBDatabase,
			FilePath:              cfg.Storage.FilePath,
			FlushInterval:         cfg.Storage.FlushInterval.Duration,
			PaymentStateTableName: cfg.Storage.PaymentStateTable,
			EventLogTableName:     cfg.Storage.EventLogTable,
		})
		if err != nil {
			return nil, fmt.Errorf("init storage: %w", err)
		}
		app.Store = store
		app.resourceManager.Register("storage", store)
		if cfg.Storage.Backend == "" || cfg.Storage.Backend == "memory" {
			log.Warn().Msg("escrowapp: using the in-memory store; state does not survive a restart")
		}
	}

	if optState.ledger != nil {
		app.Ledger = optState.ledger
	} else {
		app.Ledger = ledger.NewMemoryLedger()
	}

	escrowAddr := cfg.EscrowAddress()

	builtin := []collector.Collector{collector.NewAllowanceCollector(escrowAddr, app.Ledger)}
	if cfg.Escrow.SignedCollectorEnabled {
		builtin = append(builtin, collector.NewSignedCollector(escrowAddr, app.Ledger))
	}
	app.Collectors = collector.NewRegistry(append(builtin, optState.collectors...)...)

	if optState.notifier != nil {
		app.Notifier = optState.notifier
	} else {
		notifier, err := buildWebhookNotifier(cfg, appLogger, app.metricsCollector)
		if err != nil {
			return nil, err
		}
		app.Notifier = notifier
		if closer, ok := notifier.(io.Closer); ok {
			app.resourceManager.Register("webhook-notifier", closer)
		}
	}

	app.Escrow = escrow.NewService(
		escrowAddr,
		app.Ledger,
		app.Store,
		app.Collectors,
		escrow.WithLogger(appLogger),
		escrow.WithMetrics(app.metricsCollector),
		escrow.WithNotifier(app.Notifier),
	)

	app.IdempotencyStore = idempotency.NewMemoryStore(cfg.Idempotency.MaxEntries)
	app.resourceManager.RegisterFunc("idempotency-store", app.IdempotencyStore.Close)

	app.Server = httpserver.New(cfg, app.Escrow, app.IdempotencyStore, app.metricsCollector, app.registry, appLogger)

	return app, nil
}

// buildWebhookNotifier assembles the outbound event pipeline from
// configuration. An empty webhook URL yields a no-op notifier.
func buildWebhookNotifier(cfg *config.Config, appLogger zerolog.Logger, m *metrics.Metrics) (events.Notifier, error) {
	webhookOpts := []events.WebhookOption{
		events.WithWebhookLogger(appLogger),
		events.WithWebhookMetrics(m),
	}

	if cfg.Webhook.DLQEnabled && cfg.Webhook.URL != "" {
		dlq, err := events.NewFileDLQStore(cfg.Webhook.DLQPath)
		if err != nil {
			return nil, fmt.Errorf("init webhook DLQ: %w", err)
		}
		webhookOpts = append(webhookOpts, events.WithDLQ(dlq))
	}

	return events.NewWebhookNotifier(events.WebhookConfig{
		URL:             cfg.Webhook.URL,
		Secret:          cfg.Webhook.Secret,
		Headers:         cfg.Webhook.Headers,
		Timeout:         cfg.Webhook.Timeout.Duration,
		MaxAttempts:     cfg.Webhook.Retry.MaxAttempts,
		InitialInterval: cfg.Webhook.Retry.InitialInterval.Duration,
		MaxInterval:     cfg.Webhook.Retry.MaxInterval.Duration,
		Multiplier:      cfg.Webhook.Retry.Multiplier,
		BreakerEnabled:  cfg.Webhook.BreakerEnabled,
	}, webhookOpts...), nil
}

// Handler exposes the configured router.
func (a *App) Handler() http.Handler {
	return a.Server.Handler()
}

// Close releases resources owned by the app.
func (a *App) Close() error {
	return a.resourceManager.Close()
}

// Config is an exported alias of the internal configuration struct for
// embedding use.
type Config = config.Config

// LoadConfig wraps the internal loader for consumers embedding the escrow.
func LoadConfig(path string) (*config.Config, error) {
	return config.Load(path)
}
