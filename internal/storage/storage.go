package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/pkg/payments"
)

// ErrNotFound is returned when a requested entity is missing from the store.
var ErrNotFound = errors.New("storage: not found")

// EventFilter narrows ListEvents. A zero filter returns everything up to the
// backend's default limit.
type EventFilter struct {
	// PaymentHash, when non-zero, restricts to one payment's trail.
	PaymentHash common.Hash
	// AfterSequence, when non-zero, returns events strictly after it.
	AfterSequence uint64
	// Limit caps the result size; 0 means the backend default (500).
	Limit int
}

// DefaultEventLimit bounds unfiltered event listings.
const DefaultEventLimit = 500

// Store captures the persistence requirements for escrow state: the mutable
// per-payment record keyed by the terms hash, and the append-only event log.
//
// PutPaymentState is a whole-record upsert; the escrow engine serializes
// writers per hash, so stores only need each call to be atomic, not
// compare-and-swap. AppendEvent assigns the commit sequence.
type Store interface {
	GetPaymentState(ctx context.Context, hash common.Hash) (payments.State, error)
	PutPaymentState(ctx context.Context, hash common.Hash, state payments.State) error

	AppendEvent(ctx context.Context, event events.Event) (events.Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]events.Event, error)

	Close() error
}

// StoreConfig holds storage backend configuration.
type StoreConfig struct {
	Backend         string // "memory", "postgres", "mongodb", or "file"
	PostgresURL     string
	MongoDBURL      string
	MongoDBDatabase string
	FilePath        string
	FlushInterval   time.Duration // file backend write-back cadence

	// Schema mapping (table names for Postgres, collection names for MongoDB)
	PaymentStateTableName string // Default: "payment_states"
	EventLogTableName     string // Default: "payment_events"
}

// New constructs a Store for the configured backend.
func New(ctx context.Context, cfg StoreConfig) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		if cfg.FilePath == "" {
			return nil, errors.New("storage: file backend requires a path")
		}
		return NewFileStore(cfg.FilePath, cfg.FlushInterval)
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errors.New("storage: postgres backend requires a connection string")
		}
		return NewPostgresStore(cfg.PostgresURL, cfg.tableNames())
	case "mongodb":
		if cfg.MongoDBURL == "" {
			return nil, errors.New("storage: mongodb backend requires a connection string")
		}
		return NewMongoDBStore(ctx, cfg.MongoDBURL, cfg.MongoDBDatabase, cfg.tableNames())
	default:
		return nil, fmt.Errorf("storage: unknown backend %q", cfg.Backend)
	}
}

// tableNames resolves configured table/collection names with defaults.
func (c StoreConfig) tableNames() TableNames {
	names := TableNames{
		PaymentStates: c.PaymentStateTableName,
		EventLog:      c.EventLogTableName,
	}
	if names.PaymentStates == "" {
		names.PaymentStates = "payment_states"
	}
	if names.EventLog == "" {
		names.EventLog = "payment_events"
	}
	return names
}

// TableNames maps logical stores to physical table or collection names.
type TableNames struct {
	PaymentStates string
	EventLog      string
}
