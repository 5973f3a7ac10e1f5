package samlauth

import (
	"github.com/philiph/samlauth/internal/adapters/driven/session"
	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// Re-export session types from the domain and ports packages.
type Session = domain.Session
type Assertion = domain.Assertion
type LogoutState = domain.LogoutState
type SessionStore = ports.SessionStore

// Re-export logout states.
const (
	LogoutIdle               = domain.LogoutIdle
	LogoutSPInitiatedPending = domain.LogoutSPInitiatedPending
	LogoutCompleted          = domain.LogoutCompleted
	LogoutFailed             = domain.LogoutFailed
	LogoutLocalOnly          = domain.LogoutLocalOnly
	LogoutIdPInitiated       = domain.LogoutIdPInitiated
)

// Re-export session store adapters.
type MemorySessionStore = session.MemoryStore
type CookieSessionStore = session.CookieSessionStore

var (
	NewMemorySessionStore = session.NewMemoryStore
	NewCookieSessionStore = session.NewCookieSessionStore
	ErrSessionNotFound    = ports.ErrSessionNotFound
)
