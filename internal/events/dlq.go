package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// FailedDelivery is a webhook that exhausted its retry budget.
type FailedDelivery struct {
	EventID     string          `json:"eventId"`
	URL         string          `json:"url"`
	Payload     json.RawMessage `json:"payload"`
	Attempts    int             `json:"attempts"`
	LastError   string          `json:"lastError"`
	LastAttempt time.Time       `json:"lastAttempt"`
}

// DLQStore persists failed deliveries for replay or analysis.
type DLQStore interface {
	Save(ctx context.Context, delivery FailedDelivery) error
	List(ctx context.Context, limit int) ([]FailedDelivery, error)
	Delete(ctx context.Context, eventID string) error
}

// NoopDLQStore discards failed deliveries.
type NoopDLQStore struct{}

func (NoopDLQStore) Save(context.Context, FailedDelivery) error { return nil }
func (NoopDLQStore) List(context.Context, int) ([]FailedDelivery, error) {
	return nil, nil
}
func (NoopDLQStore) Delete(context.Context, string) error { return nil }

// MemoryDLQStore keeps failed deliveries in memory, keyed by event ID.
type MemoryDLQStore struct {
	mu         sync.RWMutex
	deliveries map[string]FailedDelivery
}

// NewMemoryDLQStore creates an in-memory dead letter queue.
func NewMemoryDLQStore() *MemoryDLQStore {
	return &MemoryDLQStore{deliveries: make(map[string]FailedDelivery)}
}

func (m *MemoryDLQStore) Save(_ context.Context, delivery FailedDelivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries[delivery.EventID] = delivery
	return nil
}

func (m *MemoryDLQStore) List(_ context.Context, limit int) ([]FailedDelivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]FailedDelivery, 0, len(m.deliveries))
	for _, d := range m.deliveries {
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryDLQStore) Delete(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveries, eventID)
	return nil
}

// FileDLQStore persists failed deliveries to a JSON file so they survive
// restarts.
type FileDLQStore struct {
	mu         sync.Mutex
	path       string
	deliveries map[string]FailedDelivery
}

// NewFileDLQStore creates a file-backed dead letter queue, loading any
// existing entries.
func NewFileDLQStore(path string) (*FileDLQStore, error) {
	store := &FileDLQStore{path: path, deliveries: make(map[string]FailedDelivery)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dead letter file: %w", err)
	}
	if err := json.Unmarshal(data, &store.deliveries); err != nil {
		return nil, fmt.Errorf("parse dead letter file: %w", err)
	}
	return store, nil
}

func (f *FileDLQStore) Save(_ context.Context, delivery FailedDelivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deliveries[delivery.EventID] = delivery
	return f.persist()
}

func (f *FileDLQStore) List(_ context.Context, limit int) ([]FailedDelivery, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]FailedDelivery, 0, len(f.deliveries))
	for _, d := range f.deliveries {
		out = append(out, d)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *FileDLQStore) Delete(_ context.Context, eventID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.deliveries, eventID)
	return f.persist()
}

// persist writes via a temp file and rename so a crash never truncates the
// queue.
func (f *FileDLQStore) persist() error {
	data, err := json.MarshalIndent(f.deliveries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal dead letter queue: %w", err)
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write dead letter file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename dead letter file: %w", err)
	}
	return nil
}
