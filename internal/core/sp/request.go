package sp

import (
	"fmt"
	"net/url"
	"time"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// RequestBuilder constructs outgoing SAML messages and tracks the request
// IDs the validator later matches InResponseTo against. Safe for concurrent
// use; the builder itself holds no mutable state.
type RequestBuilder struct {
	sp    *ServiceProviderConfig
	idp   *IdentityProviderConfig
	store ports.RequestStore
	now   func() time.Time
}

// NewRequestBuilder wires a builder against validated SP and IdP
// configuration. The store receives every issued AuthnRequest ID.
func NewRequestBuilder(sp *ServiceProviderConfig, idp *IdentityProviderConfig, store ports.RequestStore) *RequestBuilder {
	return &RequestBuilder{
		sp:    sp,
		idp:   idp,
		store: store,
		now:   time.Now,
	}
}

// BuiltRequest is an outgoing message ready for the HTTP-Redirect binding.
type BuiltRequest struct {
	// ID is the message ID, recorded for InResponseTo correlation.
	ID string

	// RedirectURL carries the encoded message, RelayState and, when the SP
	// has a signing key, the query-string signature.
	RedirectURL *url.URL
}

// BuildAuthnRequest creates a login request for the configured IdP and
// registers its ID as pending. relayState rides along opaque and is echoed
// back by the IdP on the response.
func (b *RequestBuilder) BuildAuthnRequest(relayState string) (*BuiltRequest, error) {
	id := newMessageID()

	request := AuthnRequest{
		ID:                          id,
		Version:                     "2.0",
		IssueInstant:                formatTime(b.now()),
		Destination:                 b.idp.SSOURL,
		ProtocolBinding:             BindingHTTPPost,
		AssertionConsumerServiceURL: b.sp.ACSURL,
		ForceAuthn:                  b.sp.ForceAuthn,
		Issuer: &Issuer{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:entity",
			Value:  b.sp.EntityID,
		},
		NameIDPolicy: &NameIDPolicy{
			Format:      NameIDFormatUnspecified,
			AllowCreate: true,
		},
	}

	encoded, err := deflateEncode(request)
	if err != nil {
		return nil, domain.ServiceError("encode authn request", err)
	}

	redirect, err := buildRedirectURL(b.idp.SSOURL, "SAMLRequest", encoded, relayState, b.sp.SigningKey)
	if err != nil {
		return nil, domain.ServiceError("build authn request redirect", err)
	}

	if err := b.store.Store(id, b.now().Add(b.sp.TTL())); err != nil {
		return nil, domain.ServiceError("record pending request", err)
	}

	return &BuiltRequest{ID: id, RedirectURL: redirect}, nil
}

// LogoutRequestMessage constructs the LogoutRequest naming the session's
// subject. Shared by the redirect and SOAP delivery paths.
func (b *RequestBuilder) LogoutRequestMessage(sess *domain.Session) *LogoutRequest {
	request := &LogoutRequest{
		ID:           newMessageID(),
		Version:      "2.0",
		IssueInstant: formatTime(b.now()),
		Destination:  b.idp.SLOURL,
		Issuer: &Issuer{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:entity",
			Value:  b.sp.EntityID,
		},
		NameID: &NameID{
			Format: sess.NameIDFormat,
			Value:  sess.NameID,
		},
	}
	if sess.SessionIndex != "" {
		request.SessionIndexes = []string{sess.SessionIndex}
	}
	return request
}

// BuildLogoutRequest creates a front-channel logout request for the session
// and registers its ID so the eventual LogoutResponse can be correlated.
func (b *RequestBuilder) BuildLogoutRequest(sess *domain.Session, relayState string) (*BuiltRequest, error) {
	if b.idp.SLOURL == "" {
		return nil, domain.ConfigError("idp has no SLO endpoint")
	}

	request := b.LogoutRequestMessage(sess)

	encoded, err := deflateEncode(request)
	if err != nil {
		return nil, domain.ServiceError("encode logout request", err)
	}

	redirect, err := buildRedirectURL(b.idp.SLOURL, "SAMLRequest", encoded, relayState, b.sp.SigningKey)
	if err != nil {
		return nil, domain.ServiceError("build logout request redirect", err)
	}

	if err := b.store.Store(request.ID, b.now().Add(b.sp.TTL())); err != nil {
		return nil, domain.ServiceError("record pending logout request", err)
	}

	return &BuiltRequest{ID: request.ID, RedirectURL: redirect}, nil
}

// BuildLogoutResponse answers an IdP-initiated LogoutRequest over the
// front channel. statusCode is a SAML status URI, usually StatusSuccess.
func (b *RequestBuilder) BuildLogoutResponse(inResponseTo, relayState, statusCode string) (*url.URL, error) {
	if b.idp.SLOURL == "" {
		return nil, domain.ConfigError("idp has no SLO endpoint")
	}

	response := LogoutResponse{
		ID:           newMessageID(),
		Version:      "2.0",
		IssueInstant: formatTime(b.now()),
		Destination:  b.idp.SLOURL,
		InResponseTo: inResponseTo,
		Issuer: &Issuer{
			Format: "urn:oasis:names:tc:SAML:2.0:nameid-format:entity",
			Value:  b.sp.EntityID,
		},
		Status: &Status{
			StatusCode: StatusCode{Value: statusCode},
		},
	}

	encoded, err := deflateEncode(response)
	if err != nil {
		return nil, domain.ServiceError("encode logout response", err)
	}

	redirect, err := buildRedirectURL(b.idp.SLOURL, "SAMLResponse", encoded, relayState, b.sp.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("build logout response redirect: %w", err)
	}

	return redirect, nil
}
