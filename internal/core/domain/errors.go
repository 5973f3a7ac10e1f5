package domain

import (
	"fmt"
	"net/http"
)

// ErrorCode represents categorized error types.
// These codes are stable and can be used for programmatic error handling.
type ErrorCode string

const (
	// ErrCodeConfiguration covers malformed keys/certs or missing required
	// fields. Fatal at startup, never at request time.
	ErrCodeConfiguration ErrorCode = "configuration_error"

	// ErrCodeMalformedMessage covers transport-decoding and XML parse
	// failures on inbound SAML messages.
	ErrCodeMalformedMessage ErrorCode = "malformed_message"

	// ErrCodeSignatureInvalid means no signature on an inbound message could
	// be traced to a trusted IdP certificate.
	ErrCodeSignatureInvalid ErrorCode = "signature_invalid"

	// ErrCodeDecryptionFailed means an EncryptedAssertion could not be
	// decrypted with the SP decryption key.
	ErrCodeDecryptionFailed ErrorCode = "decryption_failed"

	// ErrCodeAssertionExpired means the assertion is outside its
	// NotBefore/NotOnOrAfter window beyond the skew tolerance.
	ErrCodeAssertionExpired ErrorCode = "assertion_expired"

	// ErrCodeAudienceMismatch means the AudienceRestriction does not include
	// the SP issuer.
	ErrCodeAudienceMismatch ErrorCode = "audience_mismatch"

	// ErrCodeResponseNotRequested means InResponseTo did not match a pending
	// request ID and unsolicited login is disabled.
	ErrCodeResponseNotRequested ErrorCode = "response_not_requested"

	// ErrCodeStatusFailure means the IdP returned a non-Success status code.
	ErrCodeStatusFailure ErrorCode = "status_failure"

	// ErrCodeIssuerMismatch means the message issuer is not the trusted IdP.
	ErrCodeIssuerMismatch ErrorCode = "issuer_mismatch"

	// ErrCodeNotAuthenticated is returned on logout without a session.
	ErrCodeNotAuthenticated ErrorCode = "not_authenticated"

	// ErrCodeSLOTransportFailure means the IdP was unreachable or returned an
	// error during backchannel SLO. The only code with an automatic fallback
	// (local-only logout).
	ErrCodeSLOTransportFailure ErrorCode = "slo_transport_failure"

	ErrCodeSessionInvalid ErrorCode = "session_invalid"
	ErrCodeServiceError   ErrorCode = "service_error"
)

// String returns the error code as a string.
func (c ErrorCode) String() string {
	return string(c)
}

// AppError is a structured error with code, message, and optional cause.
// Message and Cause are operator-facing diagnostics; they are never shown
// to the end user.
type AppError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same error code. This lets callers
// match a gate failure with errors.Is without caring about the message.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// HTTPStatus returns the HTTP status code for this error code.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrCodeNotAuthenticated, ErrCodeSessionInvalid:
		return http.StatusUnauthorized
	case ErrCodeMalformedMessage, ErrCodeResponseNotRequested:
		return http.StatusBadRequest
	case ErrCodeSignatureInvalid, ErrCodeDecryptionFailed,
		ErrCodeAssertionExpired, ErrCodeAudienceMismatch,
		ErrCodeStatusFailure, ErrCodeIssuerMismatch:
		return http.StatusForbidden
	case ErrCodeSLOTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CodeOf extracts the ErrorCode from err, or ErrCodeServiceError when err is
// not an AppError.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(*AppError); ok {
		return e.Code
	}
	return ErrCodeServiceError
}

// ConfigError creates a configuration error.
func ConfigError(message string) *AppError {
	return &AppError{Code: ErrCodeConfiguration, Message: message}
}

// ValidationError creates an error for a failed response-validation gate.
func ValidationError(code ErrorCode, message string, cause error) *AppError {
	return &AppError{Code: code, Message: message, Cause: cause}
}

// NotAuthenticatedError creates the logout-without-session error.
func NotAuthenticatedError() *AppError {
	return &AppError{Code: ErrCodeNotAuthenticated, Message: "no active session"}
}

// SLOTransportError wraps an IdP transport failure during logout.
func SLOTransportError(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeSLOTransportFailure,
		Message: "identity provider unreachable during single logout",
		Cause:   cause,
	}
}

// ServiceError creates a generic internal error.
func ServiceError(message string, cause error) *AppError {
	return &AppError{Code: ErrCodeServiceError, Message: message, Cause: cause}
}
