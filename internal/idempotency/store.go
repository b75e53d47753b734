// Package idempotency caches responses of mutating endpoints so retried
// requests replay the original outcome instead of re-driving the lifecycle.
package idempotency

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// Response is a cached endpoint response.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	CachedAt   time.Time
}

// Store manages idempotency keys and cached responses.
type Store interface {
	Get(ctx context.Context, key string) (*Response, bool)
	Set(ctx context.Context, key string, response *Response, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore is an in-memory Store with LRU eviction and TTL expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
	lru     *list.List
	maxSize int

	stop chan struct{}
	done chan struct{}
}

type entry struct {
	key      string
	response *Response
	expires  time.Time
	element  *list.Element
}

// NewMemoryStore creates a store bounded to maxSize entries; zero or negative
// means 10000.
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	s := &MemoryStore{
		entries: make(map[string]*entry),
		lru:     list.New(),
		maxSize: maxSize,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Response, bool) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok || now.After(e.expires) {
		return nil, false
	}
	s.lru.MoveToFront(e.element)
	return e.response, true
}

func (s *MemoryStore) Set(_ context.Context, key string, response *Response, ttl time.Duration) error {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		e.response = response
		e.expires = now.Add(ttl)
		s.lru.MoveToFront(e.element)
		return nil
	}

	// Evict before inserting so the map never exceeds maxSize.
	if len(s.entries) >= s.maxSize {
		if oldest := s.lru.Back(); oldest != nil {
			victim := oldest.Value.(*entry)
			s.lru.Remove(oldest)
			delete(s.entries, victim.key)
		}
	}

	e := &entry{key: key, response: response, expires: now.Add(ttl)}
	e.element = s.lru.PushFront(e)
	s.entries[key] = e
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[key]; ok {
		s.lru.Remove(e.element)
		delete(s.entries, key)
	}
	return nil
}

// sweep drops expired entries in the background so a mostly-idle store does
// not pin stale payloads for the full LRU depth.
func (s *MemoryStore) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for key, e := range s.entries {
				if now.After(e.expires) {
					s.lru.Remove(e.element)
					delete(s.entries, key)
				}
			}
			s.mu.Unlock()
		}
	}
}

// Close stops the background sweeper.
func (s *MemoryStore) Close() error {
	close(s.stop)
	<-s.done
	return nil
}
