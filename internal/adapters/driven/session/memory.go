// Package session provides session store adapters: a server-side in-memory
// store with real revocation, and a stateless JWT store.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// MemoryStore keeps sessions server-side keyed by random tokens. Revocation
// is immediate: after Delete or DeleteByIdentity the token resolves to
// nothing, never to stale data. This is the store single logout needs.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*domain.Session
}

// NewMemoryStore creates an empty in-memory session store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*domain.Session),
	}
}

// Create persists the session under a fresh random token.
func (s *MemoryStore) Create(session *domain.Session) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *session
	s.sessions[token] = &copied
	return token, nil
}

// Get returns the session for a token, or ErrSessionNotFound. Expired
// sessions are removed on access.
func (s *MemoryStore) Get(token string) (*domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[token]
	if !ok {
		return nil, ports.ErrSessionNotFound
	}
	if !session.ExpiresAt.IsZero() && !time.Now().Before(session.ExpiresAt) {
		delete(s.sessions, token)
		return nil, ports.ErrSessionNotFound
	}

	copied := *session
	return &copied, nil
}

// Delete revokes the session for a token. Unknown tokens are not an error.
func (s *MemoryStore) Delete(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, token)
	return nil
}

// DeleteByIdentity revokes every session whose NameID matches, narrowed to
// sessionIndex when non-empty. Returns the number revoked.
func (s *MemoryStore) DeleteByIdentity(nameID, sessionIndex string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	revoked := 0
	for token, session := range s.sessions {
		if session.NameID != nameID {
			continue
		}
		if sessionIndex != "" && session.SessionIndex != sessionIndex {
			continue
		}
		delete(s.sessions, token)
		revoked++
	}
	return revoked
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

var _ ports.SessionStore = (*MemoryStore)(nil)
var _ ports.RevocableByIdentity = (*MemoryStore)(nil)
