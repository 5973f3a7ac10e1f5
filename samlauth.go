// Package samlauth implements a SAML 2.0 Service Provider authentication
// engine: AuthnRequest generation, response validation, session binding,
// single logout, and SP metadata.
package samlauth

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/philiph/samlauth/internal/adapters/driven/metrics"
	"github.com/philiph/samlauth/internal/adapters/driven/request"
	"github.com/philiph/samlauth/internal/adapters/driven/session"
	"github.com/philiph/samlauth/internal/adapters/driven/signature"
	"github.com/philiph/samlauth/internal/core/ports"
	"github.com/philiph/samlauth/internal/core/sp"
)

// Re-export engine configuration types.
type ServiceProviderConfig = sp.ServiceProviderConfig
type IdentityProviderConfig = sp.IdentityProviderConfig
type SLOMode = sp.SLOMode

const (
	SLOModeRedirect = sp.SLOModeRedirect
	SLOModeSOAP     = sp.SLOModeSOAP
)

// Re-export PEM loaders.
var (
	LoadPrivateKey   = sp.LoadPrivateKey
	LoadCertificate  = sp.LoadCertificate
	LoadCertificates = sp.LoadCertificates
)

// Options tunes an Engine beyond the protocol configuration.
type Options struct {
	// SessionStore overrides the default in-memory store.
	SessionStore ports.SessionStore

	// RequestStore overrides the default in-memory pending-request store.
	RequestStore ports.RequestStore

	// Metrics overrides the default no-op recorder.
	Metrics ports.MetricsRecorder

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// HTTPClient is used for the SOAP logout back channel.
	HTTPClient *http.Client

	// SessionLifetime defaults to eight hours.
	SessionLifetime time.Duration

	// AppToken is the opaque token copied into every session.
	AppToken string

	// SignMetadata adds an enveloped signature to published SP metadata.
	// Requires the SP signing key pair.
	SignMetadata bool
}

// Engine bundles the wired SP components. Construct with New; all fields
// are ready to use.
type Engine struct {
	Requests  *sp.RequestBuilder
	Validator *sp.ResponseValidator
	Sessions  *sp.SessionBinder
	Logout    *sp.SLOCoordinator
	Metadata  *sp.MetadataBuilder

	requestStore ports.RequestStore
}

// New validates the configuration eagerly and wires an engine. Configuration
// problems surface here, never at request time.
func New(spCfg *ServiceProviderConfig, idpCfg *IdentityProviderConfig, opts Options) (*Engine, error) {
	if err := spCfg.Validate(); err != nil {
		return nil, err
	}
	if err := idpCfg.Validate(); err != nil {
		return nil, err
	}

	if opts.RequestStore == nil {
		opts.RequestStore = request.NewInMemoryStore()
	}
	if opts.SessionStore == nil {
		opts.SessionStore = session.NewMemoryStore()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopMetricsRecorder()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	verifier := signature.NewXMLDsigVerifierWithLogger(idpCfg.Certificates, opts.Logger)

	builder := sp.NewRequestBuilder(spCfg, idpCfg, opts.RequestStore)
	validator := sp.NewResponseValidator(spCfg, idpCfg, opts.RequestStore, verifier)
	binder := sp.NewSessionBinder(spCfg, opts.SessionStore, opts.AppToken, opts.SessionLifetime)
	coordinator := sp.NewSLOCoordinator(spCfg, idpCfg, builder, validator, binder, opts.Metrics, opts.Logger, opts.HTTPClient)

	var signer ports.MetadataSigner
	if opts.SignMetadata {
		if spCfg.SigningKey == nil {
			return nil, ConfigError("metadata signing requires the SP signing key pair")
		}
		signer = signature.NewXMLDsigSigner(spCfg.SigningKey, spCfg.SigningCert)
	}
	metadataBuilder := sp.NewMetadataBuilder(spCfg, signer)

	return &Engine{
		Requests:     builder,
		Validator:    validator,
		Sessions:     binder,
		Logout:       coordinator,
		Metadata:     metadataBuilder,
		requestStore: opts.RequestStore,
	}, nil
}

// PendingRequests returns the number of outstanding request IDs, for
// observability.
func (e *Engine) PendingRequests() int {
	return e.requestStore.Len()
}
