package storage

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/pkg/payments"
)

// MemoryStore implements Store with in-process maps. It is the default
// backend for development and tests; nothing survives a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	states   map[common.Hash]payments.State
	eventLog []events.Event
	nextSeq  uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:  make(map[common.Hash]payments.State),
		nextSeq: 1,
	}
}

func (s *MemoryStore) GetPaymentState(_ context.Context, hash common.Hash) (payments.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[hash]
	if !ok {
		return payments.State{}, ErrNotFound
	}
	return state, nil
}

func (s *MemoryStore) PutPaymentState(_ context.Context, hash common.Hash, state payments.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[hash] = state
	return nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, event events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.Sequence = s.nextSeq
	s.nextSeq++
	s.eventLog = append(s.eventLog, event)
	return event, nil
}

func (s *MemoryStore) ListEvents(_ context.Context, filter EventFilter) ([]events.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventLimit
	}

	out := make([]events.Event, 0, limit)
	for _, ev := range s.eventLog {
		if filter.PaymentHash != (common.Hash{}) && ev.PaymentHash != filter.PaymentHash {
			continue
		}
		if ev.Sequence <= filter.AfterSequence {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
