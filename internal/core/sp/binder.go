package sp

import (
	"errors"
	"time"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// DefaultSessionLifetime bounds a session when the deployment does not
// configure one.
const DefaultSessionLifetime = 8 * time.Hour

// SessionBinder maps validated assertions into application sessions and
// mediates session persistence. Bind is pure; Establish/Lookup/Revoke go
// through the session store port.
type SessionBinder struct {
	sp       *ServiceProviderConfig
	store    ports.SessionStore
	appToken string
	lifetime time.Duration
	now      func() time.Time
}

// NewSessionBinder wires a binder. appToken is the opaque deployment token
// copied into every session for downstream systems; lifetime zero means
// DefaultSessionLifetime.
func NewSessionBinder(sp *ServiceProviderConfig, store ports.SessionStore, appToken string, lifetime time.Duration) *SessionBinder {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	return &SessionBinder{
		sp:       sp,
		store:    store,
		appToken: appToken,
		lifetime: lifetime,
		now:      time.Now,
	}
}

// Bind maps a validated assertion into a session record. The mail field is
// the first value of the first configured mail attribute present, falling
// back to the conventional "mail" then "email" attribute names.
func (b *SessionBinder) Bind(assertion *domain.Assertion) *domain.Session {
	now := b.now()
	return &domain.Session{
		NameID:       assertion.NameID,
		NameIDFormat: assertion.NameIDFormat,
		SessionIndex: assertion.SessionIndex,
		Mail:         b.mailOf(assertion),
		Attributes:   assertion.Attributes,
		IdPEntityID:  assertion.Issuer,
		Token:        b.appToken,
		IssuedAt:     now,
		ExpiresAt:    now.Add(b.lifetime),
	}
}

func (b *SessionBinder) mailOf(assertion *domain.Assertion) string {
	names := make([]string, 0, len(b.sp.MailAttributes)+2)
	names = append(names, b.sp.MailAttributes...)
	names = append(names, "mail", "email")
	for _, name := range names {
		if value := assertion.Attribute(name); value != "" {
			return value
		}
	}
	return ""
}

// Establish binds and persists a session, returning the store token the
// HTTP layer hands to the user agent.
func (b *SessionBinder) Establish(assertion *domain.Assertion) (string, *domain.Session, error) {
	session := b.Bind(assertion)
	token, err := b.store.Create(session)
	if err != nil {
		return "", nil, domain.ServiceError("persist session", err)
	}
	return token, session, nil
}

// Lookup resolves a store token into the live session. Revoked, expired, and
// unknown tokens all come back as NotAuthenticated; callers never see stale
// session data.
func (b *SessionBinder) Lookup(token string) (*domain.Session, error) {
	if token == "" {
		return nil, domain.NotAuthenticatedError()
	}
	session, err := b.store.Get(token)
	if err != nil {
		if errors.Is(err, ports.ErrSessionNotFound) {
			return nil, domain.NotAuthenticatedError()
		}
		return nil, domain.ServiceError("load session", err)
	}
	if !session.ExpiresAt.IsZero() && !b.now().Before(session.ExpiresAt) {
		_ = b.store.Delete(token)
		return nil, domain.NotAuthenticatedError()
	}
	return session, nil
}

// Revoke removes the session for a token. Revoking an already-absent
// session is not an error.
func (b *SessionBinder) Revoke(token string) error {
	if token == "" {
		return nil
	}
	if err := b.store.Delete(token); err != nil && !errors.Is(err, ports.ErrSessionNotFound) {
		return domain.ServiceError("revoke session", err)
	}
	return nil
}

// RevokeByIdentity removes sessions matched by asserted identity, for
// IdP-initiated logout. Returns how many sessions were revoked; zero when
// the store cannot match by identity.
func (b *SessionBinder) RevokeByIdentity(nameID, sessionIndex string) int {
	revocable, ok := b.store.(ports.RevocableByIdentity)
	if !ok {
		return 0
	}
	return revocable.DeleteByIdentity(nameID, sessionIndex)
}
