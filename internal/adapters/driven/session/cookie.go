package session

import (
	"crypto/rsa"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// CookieSessionStore implements SessionStore with stateless RS256 JWTs.
// There is no server-side state: Delete cannot invalidate an issued token
// before its expiry, so IdP-initiated logout only shortens the cookie, not
// the token. Deployments that need immediate revocation use MemoryStore.
type CookieSessionStore struct {
	privateKey *rsa.PrivateKey
	duration   time.Duration
}

// sessionClaims defines the JWT claims structure for sessions.
type sessionClaims struct {
	jwt.RegisteredClaims
	IdPEntityID  string              `json:"idp"`
	Attributes   map[string][]string `json:"attrs,omitempty"`
	NameIDFormat string              `json:"nameid_format,omitempty"`
	SessionIndex string              `json:"session_index,omitempty"`
	Mail         string              `json:"mail,omitempty"`
	AppToken     string              `json:"app_token,omitempty"`
}

// NewCookieSessionStore creates a new JWT-based session store.
func NewCookieSessionStore(privateKey *rsa.PrivateKey, duration time.Duration) *CookieSessionStore {
	return &CookieSessionStore{
		privateKey: privateKey,
		duration:   duration,
	}
}

// Create generates a signed JWT token from the session.
func (s *CookieSessionStore) Create(session *domain.Session) (string, error) {
	now := time.Now()
	claims := sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.NameID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.duration)),
		},
		IdPEntityID:  session.IdPEntityID,
		Attributes:   session.Attributes,
		NameIDFormat: session.NameIDFormat,
		SessionIndex: session.SessionIndex,
		Mail:         session.Mail,
		AppToken:     session.Token,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	return token.SignedString(s.privateKey)
}

// Get validates a JWT token and returns the session.
func (s *CookieSessionStore) Get(token string) (*domain.Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &sessionClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return &s.privateKey.PublicKey, nil
	})
	if err != nil {
		return nil, ports.ErrSessionNotFound
	}

	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, ports.ErrSessionNotFound
	}
	// Tokens issued by Create always carry iat and exp. A token without
	// them did not come from this store, even if the signature checks out.
	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return nil, ports.ErrSessionNotFound
	}

	return &domain.Session{
		NameID:       claims.Subject,
		NameIDFormat: claims.NameIDFormat,
		SessionIndex: claims.SessionIndex,
		Mail:         claims.Mail,
		Attributes:   claims.Attributes,
		IdPEntityID:  claims.IdPEntityID,
		Token:        claims.AppToken,
		IssuedAt:     claims.IssuedAt.Time,
		ExpiresAt:    claims.ExpiresAt.Time,
	}, nil
}

// Delete is a no-op for stateless JWT sessions. Cookie removal happens in
// the HTTP layer; the token itself stays valid until expiry.
func (s *CookieSessionStore) Delete(token string) error {
	return nil
}

var _ ports.SessionStore = (*CookieSessionStore)(nil)
