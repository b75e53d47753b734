package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/KeelPay/escrow/internal/events"
	"github.com/KeelPay/escrow/pkg/payments"
)

// FileStore implements Store using JSON file storage. It keeps everything in
// memory and writes back on a flush interval, so it is only suitable for
// local development: a crash can lose up to one interval of commits, and two
// processes sharing a file will corrupt each other.
type FileStore struct {
	filePath string

	mu       sync.RWMutex
	states   map[string]payments.State // hash hex -> state
	eventLog []events.Event
	nextSeq  uint64
	dirty    bool

	flushTicker *time.Ticker
	stopFlush   chan struct{}
	flushDone   chan struct{}
}

// fileData is the JSON structure stored on disk.
type fileData struct {
	PaymentStates map[string]payments.State `json:"payment_states"`
	EventLog      []events.Event            `json:"event_log"`
	NextSequence  uint64                    `json:"next_sequence"`
}

// NewFileStore creates a file-backed store, loading any existing data.
func NewFileStore(filePath string, flushInterval time.Duration) (*FileStore, error) {
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	store := &FileStore{
		filePath:    filePath,
		states:      make(map[string]payments.State),
		nextSeq:     1,
		flushTicker: time.NewTicker(flushInterval),
		stopFlush:   make(chan struct{}),
		flushDone:   make(chan struct{}),
	}

	if err := store.load(); err != nil {
		return nil, err
	}

	go store.flushLoop()

	return store, nil
}

func (s *FileStore) GetPaymentState(_ context.Context, hash common.Hash) (payments.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.states[hash.Hex()]
	if !ok {
		return payments.State{}, ErrNotFound
	}
	return state, nil
}

func (s *FileStore) PutPaymentState(_ context.Context, hash common.Hash, state payments.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[hash.Hex()] = state
	s.dirty = true
	return nil
}

func (s *FileStore) AppendEvent(_ context.Context, event events.Event) (events.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event.Sequence = s.nextSeq
	s.nextSeq++
	s.eventLog = append(s.eventLog, event)
	s.dirty = true
	return event, nil
}

func (s *FileStore) ListEvents(_ context.Context, filter EventFilter) ([]events.Event, error) {
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

// Close stops the flush loop and writes any pending data.
func (s *FileStore) Close() error {
	s.flushTicker.Stop()
	close(s.stopFlush)
	<-s.flushDone
	return s.flush()
}

// load reads existing data from disk; a missing file is an empty store.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read store file: %w", err)
	}
	if len(raw) == 0 {
		return nil
	}

	var data fileData
	if err := json.Unmarshal(raw, &data); err != nil {
		return fmt.Errorf("parse store file: %w", err)
	}

	if data.PaymentStates != nil {
		s.states = data.PaymentStates
	}
	s.eventLog = data.EventLog
	if data.NextSequence > 0 {
		s.nextSeq = data.NextSequence
	}
	return nil
}

func (s *FileStore) flushLoop() {
	defer close(s.flushDone)
	for {
		select {
		case <-s.stopFlush:
			return
		case <-s.flushTicker.C:
			s.mu.Lock()
			dirty := s.dirty
			s.mu.Unlock()
			if dirty {
				if err := s.flush(); err != nil {
					fmt.Fprintf(os.Stderr, "storage: flush failed: %v\n", err)
				}
			}
		}
	}
}

// flush writes the current data to disk via a temp file rename so a crash
// mid-write never truncates the previous snapshot.
func (s *FileStore) flush() error {
	s.mu.Lock()
	data := fileData{
		PaymentStates: make(map[string]payments.State, len(s.states)),
		EventLog:      make([]events.Event, len(s.eventLog)),
		NextSequence:  s.nextSeq,
	}
	for k, v := range s.states {
		data.PaymentStates[k] = v
	}
	copy(data.EventLog, s.eventLog)
	s.dirty = false
	s.mu.Unlock()

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal store data: %w", err)
	}

	tmpPath := s.filePath + ".tmp"
	if err := os.WriteFile(tmpPath, raw, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
