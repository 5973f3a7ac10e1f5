// Package request provides the in-memory pending-request store.
package request

import (
	"sync"
	"time"
)

// InMemoryStore tracks pending SAML request IDs for replay protection.
// IDs are single-use and expire after the TTL given at Store time.
type InMemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time
	done    chan struct{}
	once    sync.Once
}

// NewInMemoryStore creates a store without background cleanup. Expired
// entries are dropped lazily on Consume and Len.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]time.Time),
	}
}

// NewInMemoryStoreWithCleanup creates a store that sweeps expired entries
// every interval until Close is called. Long-running deployments should use
// this variant so abandoned logins do not accumulate.
func NewInMemoryStoreWithCleanup(interval time.Duration) *InMemoryStore {
	s := NewInMemoryStore()
	s.done = make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.sweep()
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Store adds a request ID with the given expiry time.
func (s *InMemoryStore) Store(requestID string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[requestID] = expiry
	return nil
}

// Consume checks that a request ID exists and is not expired, removing it
// in the same critical section. Two concurrent callers can never both get
// true for the same ID.
func (s *InMemoryStore) Consume(requestID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, exists := s.entries[requestID]
	if !exists {
		return false
	}

	delete(s.entries, requestID)

	return !expired(time.Now(), expiry)
}

// Len returns the number of non-expired pending IDs.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	n := 0
	for _, expiry := range s.entries {
		if !expired(now, expiry) {
			n++
		}
	}
	return n
}

// Close stops the background cleanup goroutine, if any. Safe to call more
// than once.
func (s *InMemoryStore) Close() {
	if s.done == nil {
		return
	}
	s.once.Do(func() { close(s.done) })
}

func (s *InMemoryStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for id, expiry := range s.entries {
		if expired(now, expiry) {
			delete(s.entries, id)
		}
	}
}

// expired reports whether an entry is dead at the given instant. The expiry
// instant itself counts as expired, so Consume, Len, and the background
// sweep all agree on the boundary.
func expired(now, expiry time.Time) bool {
	return !now.Before(expiry)
}
