// Package escrow implements the conditional-payment lifecycle: a trusted
// operator collects funds from a payer under signed-off terms, holds them in a
// per-operator token store, and later settles, voids, or refunds them within
// the windows the terms define.
package escrow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/KeelPay/escrow/internal/collector"
	apierrors "github.com/KeelPay/escrow/internal/errors"
	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/internal/ledger"
	"github.com/KeelPay/escrow/internal/metrics"
	"github.com/KeelPay/escrow/internal/storage"
	"github.com/KeelPay/escrow/internal/vault"
	"github.com/KeelPay/escrow/pkg/payments"
)

// Service drives the payment lifecycle. All mutating operations execute under
// one mutex: competing calls observe a total order, and the per-hash inflight
// set turns a re-entrant call from inside a collector into a typed error
// instead of a deadlock.
type Service struct {
	address    common.Address // identity presented to collectors
	ledger     ledger.Ledger
	store      storage.Store
	vaults     *vault.Registry
	collectors collector.Registry

	notifier events.Notifier
	metrics  *metrics.Metrics
	log      zerolog.Logger
	now      func() time.Time

	opMu     sync.Mutex
	inflight sync.Map // common.Hash -> struct{}
}

// Option configures optional service collaborators.
type Option func(*Service)

// WithClock overrides the time source used for window checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) { s.log = log }
}

// WithMetrics sets the instrumentation sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithNotifier sets the destination for committed lifecycle events.
func WithNotifier(n events.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// NewService creates the escrow engine. The address is the escrow's own
// identity; collectors use it to reject pulls requested by anyone else.
func NewService(address common.Address, l ledger.Ledger, store storage.Store, collectors collector.Registry, opts ...Option) *Service {
	s := &Service{
		address:    address,
		ledger:     l,
		store:      store,
		vaults:     vault.NewRegistry(address, nil),
		collectors: collectors,
		notifier:   events.NoopNotifier{},
		metrics:    metrics.NewNop(),
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result reports the outcome of a successful lifecycle operation.
type Result struct {
	Hash       common.Hash    `json:"hash"`
	State      payments.State `json:"state"`
	TokenStore common.Address `json:"tokenStore"`
	Amount     uint64         `json:"amount"`
	Fee        uint64         `json:"fee"`
}

// HashTerms validates the terms record and returns its canonical hash.
func (s *Service) HashTerms(terms payments.Terms) (common.Hash, error) {
	if err := terms.Validate(); err != nil {
		return common.Hash{}, err
	}
	return terms.Hash(), nil
}

// PaymentState returns the current state for a terms hash. Unknown hashes
// yield the zero state: a payment that was never collected is
// indistinguishable from one that does not exist.
func (s *Service) PaymentState(ctx context.Context, hash common.Hash) (payments.State, error) {
	return s.loadState(ctx, hash)
}

// TokenStoreAddress derives the token store address for an operator without
// instantiating it.
func (s *Service) TokenStoreAddress(operator common.Address) common.Address {
	return s.vaults.Address(operator)
}

// TokenStoreBalance reports an operator's store balance for a token.
func (s *Service) TokenStoreBalance(ctx context.Context, operator, token common.Address) (uint64, error) {
	return s.ledger.BalanceOf(ctx, token, s.vaults.Address(operator))
}

// Events lists committed lifecycle events.
func (s *Service) Events(ctx context.Context, filter storage.EventFilter) ([]events.Event, error) {
	return s.store.ListEvents(ctx, filter)
}

// begin acquires the operation lock for one hash. The inflight entry is
// registered before the lock so that a collector calling back into the engine
// for the same payment fails fast rather than deadlocking.
func (s *Service) begin(hash common.Hash) error {
	if _, loaded := s.inflight.LoadOrStore(hash, struct{}{}); loaded {
		return payments.NewOperationError(apierrors.ErrCodeReentrantCall, nil)
	}
	s.opMu.Lock()
	return nil
}

func (s *Service) end(hash common.Hash) {
	s.opMu.Unlock()
	s.inflight.Delete(hash)
}

func (s *Service) loadState(ctx context.Context, hash common.Hash) (payments.State, error) {
	state, err := s.store.GetPaymentState(ctx, hash)
	if errors.Is(err, storage.ErrNotFound) {
		return payments.State{}, nil
	}
	if err != nil {
		s.metrics.StorageErrors.WithLabelValues("get_payment_state").Inc()
		return payments.State{}, payments.NewOperationError(apierrors.ErrCodeStorageError, err)
	}
	return state, nil
}

// resolveStoreForCollection returns the operator's token store, instantiating
// it on first use. The creation event is appended before the store is marked
// created so a storage failure leaves no half-announced store behind.
func (s *Service) resolveStoreForCollection(ctx context.Context, operator common.Address) (vault.TokenStore, error) {
	if store, ok := s.vaults.Lookup(operator); ok {
		return store, nil
	}

	addr := s.vaults.Address(operator)
	ev, err := s.store.AppendEvent(ctx, events.Event{
		ID:         events.NewID(),
		Type:       events.TypeTokenStoreCreated,
		Timestamp:  s.now().UTC(),
		Operator:   operator,
		TokenStore: addr,
	})
	if err != nil {
		s.metrics.StorageErrors.WithLabelValues("append_event").Inc()
		return vault.TokenStore{}, payments.NewOperationError(apierrors.ErrCodeStorageError, err)
	}

	store, created := s.vaults.Resolve(operator)
	if created {
		s.metrics.TokenStoresTotal.Inc()
		s.metrics.EventsEmitted.WithLabelValues(string(events.TypeTokenStoreCreated)).Inc()
		s.notifier.Notify(ctx, ev)
		s.log.Info().
			Str("operator", operator.Hex()).
			Str("token_store", store.Address.Hex()).
			Msg("token store created")
	}
	return store, nil
}

// settlementStore returns the store holding an operator's collected funds.
// Store addresses are pure functions of the operator, so this works even when
// the in-memory registry was repopulated after a restart.
func (s *Service) settlementStore(operator common.Address) vault.TokenStore {
	store, _ := s.vaults.Resolve(operator)
	return store
}

// collect pulls tokens into the store through the named collector.
func (s *Service) collect(ctx context.Context, name string, req collector.Request) error {
	col, ok := s.collectors.Lookup(name)
	if !ok {
		return payments.NewOperationError(apierrors.ErrCodeCollectorNotFound, nil)
	}
	if err := col.Collect(ctx, req); err != nil {
		if _, ok := err.(payments.OperationError); ok {
			return err
		}
		return payments.NewOperationError(apierrors.ErrCodeCollectionFailed, err)
	}
	return nil
}

// commit persists the new payment state and its event, then notifies. Storage
// failure on the event append is surfaced to the caller even though the state
// write already landed; the two backends share fate in practice.
func (s *Service) commit(ctx context.Context, hash common.Hash, state payments.State, event events.Event) error {
	if err := s.store.PutPaymentState(ctx, hash, state); err != nil {
		s.metrics.StorageErrors.WithLabelValues("put_payment_state").Inc()
		return payments.NewOperationError(apierrors.ErrCodeStorageError, err)
	}

	event.ID = events.NewID()
	event.Timestamp = s.now().UTC()
	committed, err := s.store.AppendEvent(ctx, event)
	if err != nil {
		s.metrics.StorageErrors.WithLabelValues("append_event").Inc()
		return payments.NewOperationError(apierrors.ErrCodeStorageError, err)
	}

	s.metrics.EventsEmitted.WithLabelValues(string(event.Type)).Inc()
	s.notifier.Notify(ctx, committed)
	return nil
}

// observe records the operation outcome and returns err unchanged.
func (s *Service) observe(op string, start time.Time, amount uint64, err error) error {
	outcome := "ok"
	if err != nil {
		outcome = string(payments.CodeOf(err))
	}
	s.metrics.OperationsTotal.WithLabelValues(op, outcome).Inc()
	s.metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err == nil {
		s.metrics.AmountsTotal.WithLabelValues(op).Add(float64(amount))
	}
	return err
}
