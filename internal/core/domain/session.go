package domain

import "time"

// Assertion is the identity extracted from a validated SAML assertion.
// It is ephemeral: it exists only between validation and session binding.
// No Assertion is ever constructed from unvalidated input.
type Assertion struct {
	// NameID is the subject identifier asserted by the IdP.
	NameID string

	// NameIDFormat is the format URI of the NameID (persistent, transient,
	// emailAddress, ...). Needed again at logout time.
	NameIDFormat string

	// SessionIndex is the IdP session index from the AuthnStatement.
	SessionIndex string

	// Issuer is the IdP entity ID that issued the assertion.
	Issuer string

	// AuthnInstant is when the IdP authenticated the user.
	AuthnInstant time.Time

	// Attributes maps attribute Name (URI/OID, never FriendlyName) to one or
	// more string values, verbatim from the attribute statements.
	Attributes map[string][]string
}

// Session holds authenticated user information bound from an assertion.
// This is the only entity with a lifetime beyond a single HTTP exchange.
type Session struct {
	// NameID is the SAML subject identifier.
	NameID string

	// NameIDFormat is the format of the NameID (needed for LogoutRequest).
	NameIDFormat string

	// SessionIndex is the IdP session index (needed for LogoutRequest).
	SessionIndex string

	// Mail is the first value of the first mail-like attribute found.
	Mail string

	// Attributes is the full attribute mapping from the assertion.
	Attributes map[string][]string

	// IdPEntityID identifies which IdP authenticated the user.
	IdPEntityID string

	// Token is the opaque application token handed to downstream systems.
	Token string

	// IssuedAt is when the session was created.
	IssuedAt time.Time

	// ExpiresAt is when the session expires.
	ExpiresAt time.Time
}

// Attribute returns the first value of the named attribute, or "".
func (a *Assertion) Attribute(name string) string {
	if vals := a.Attributes[name]; len(vals) > 0 {
		return vals[0]
	}
	return ""
}

// LogoutState is a state of the single-logout state machine. Every logout
// attempt walks these states; all terminal states converge on "local
// session absent".
type LogoutState int

const (
	LogoutIdle LogoutState = iota

	// LogoutAwaitingNotAuthenticatedCheck is entered when the user requests
	// logout; without an active session the attempt fails here.
	LogoutAwaitingNotAuthenticatedCheck

	// LogoutSPInitiatedPending means a LogoutRequest has been sent to the
	// IdP and the local session stays alive until the IdP responds.
	LogoutSPInitiatedPending

	// LogoutCompleted means the IdP confirmed and the session is revoked.
	LogoutCompleted

	// LogoutFailed means the IdP rejected or could not be reached.
	LogoutFailed

	// LogoutLocalOnly means the session was revoked locally even though the
	// IdP session may persist (soft failure).
	LogoutLocalOnly

	// LogoutIdPInitiated marks handling of an inbound IdP LogoutRequest.
	LogoutIdPInitiated
)

// String returns a stable name for logging and metrics labels.
func (s LogoutState) String() string {
	switch s {
	case LogoutIdle:
		return "idle"
	case LogoutAwaitingNotAuthenticatedCheck:
		return "awaiting_not_authenticated_check"
	case LogoutSPInitiatedPending:
		return "sp_initiated_pending"
	case LogoutCompleted:
		return "completed"
	case LogoutFailed:
		return "failed"
	case LogoutLocalOnly:
		return "local_only"
	case LogoutIdPInitiated:
		return "idp_initiated"
	default:
		return "unknown"
	}
}

// Terminal reports whether the state ends a logout attempt.
func (s LogoutState) Terminal() bool {
	return s == LogoutCompleted || s == LogoutFailed || s == LogoutLocalOnly
}
