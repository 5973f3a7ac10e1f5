package ports

import (
	"errors"

	"github.com/philiph/samlauth/internal/core/domain"
)

// SessionStore is the port interface for session persistence. The engine
// only defines the record and the revoke/lookup contract; transport
// (cookies, headers) is the HTTP layer's concern.
type SessionStore interface {
	// Create persists a new session and returns a token.
	Create(session *domain.Session) (string, error)

	// Get retrieves a session by token. Returns ErrSessionNotFound if the
	// token is invalid, expired, revoked, or unknown.
	Get(token string) (*domain.Session, error)

	// Delete revokes a session. A subsequent Get with the same token must
	// return ErrSessionNotFound, never stale data.
	Delete(token string) error
}

// RevocableByIdentity is implemented by stores that can revoke sessions
// matched by asserted identity rather than by token. Required for
// IdP-initiated single logout, where only NameID/SessionIndex is known.
type RevocableByIdentity interface {
	// DeleteByIdentity revokes every session whose NameID matches, narrowed
	// to sessionIndex when non-empty. Returns the number revoked.
	DeleteByIdentity(nameID, sessionIndex string) int
}

// ErrSessionNotFound is returned when a session cannot be found or is invalid.
var ErrSessionNotFound = errors.New("session not found")
