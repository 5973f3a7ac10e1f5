package samlauth

import (
	"github.com/philiph/samlauth/internal/core/domain"
)

// Re-export error types from the domain package.
type ErrorCode = domain.ErrorCode
type AppError = domain.AppError

// Re-export error code constants.
const (
	ErrCodeConfiguration        = domain.ErrCodeConfiguration
	ErrCodeMalformedMessage     = domain.ErrCodeMalformedMessage
	ErrCodeSignatureInvalid     = domain.ErrCodeSignatureInvalid
	ErrCodeDecryptionFailed     = domain.ErrCodeDecryptionFailed
	ErrCodeAssertionExpired     = domain.ErrCodeAssertionExpired
	ErrCodeAudienceMismatch     = domain.ErrCodeAudienceMismatch
	ErrCodeResponseNotRequested = domain.ErrCodeResponseNotRequested
	ErrCodeStatusFailure        = domain.ErrCodeStatusFailure
	ErrCodeIssuerMismatch       = domain.ErrCodeIssuerMismatch
	ErrCodeNotAuthenticated     = domain.ErrCodeNotAuthenticated
	ErrCodeSLOTransportFailure  = domain.ErrCodeSLOTransportFailure
	ErrCodeSessionInvalid       = domain.ErrCodeSessionInvalid
	ErrCodeServiceError         = domain.ErrCodeServiceError
)

// Re-export error constructors and helpers.
var (
	ConfigError           = domain.ConfigError
	ValidationError       = domain.ValidationError
	NotAuthenticatedError = domain.NotAuthenticatedError
	SLOTransportError     = domain.SLOTransportError
	ServiceError          = domain.ServiceError
	CodeOf                = domain.CodeOf
)
