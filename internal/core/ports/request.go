package ports

import "time"

// RequestStore tracks pending SAML request IDs (AuthnRequest and
// LogoutRequest) so the response that answers each one is accepted exactly
// once. Implementations must be safe for concurrent use.
type RequestStore interface {
	// Store saves a request ID with its expiry time.
	Store(requestID string, expiry time.Time) error

	// Consume atomically checks that a request ID exists and is not expired,
	// removing it in the same step. Returns true at most once per ID; two
	// concurrent responses can never both consume the same ID.
	Consume(requestID string) bool

	// Len returns the number of non-expired pending IDs.
	Len() int
}
