package sp

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/philiph/samlauth/internal/core/domain"
)

// DefaultClockSkew is applied to assertion timing checks when the
// deployment does not configure a tolerance. The upstream implementation
// delegated timing entirely to its library and documents no value; five
// minutes matches what large IdP vendors recommend.
const DefaultClockSkew = 5 * time.Minute

// DefaultRequestTTL bounds how long a pending AuthnRequest ID stays
// consumable. An in-flight login with no matching response simply expires.
const DefaultRequestTTL = 10 * time.Minute

// SLOMode selects how the SP delivers a LogoutRequest to the IdP.
type SLOMode string

const (
	// SLOModeRedirect sends the LogoutRequest through the user agent
	// (HTTP-Redirect binding, front-channel).
	SLOModeRedirect SLOMode = "redirect"

	// SLOModeSOAP posts the LogoutRequest directly to the IdP (SOAP
	// binding, back-channel) with a bounded timeout.
	SLOModeSOAP SLOMode = "soap"
)

// ServiceProviderConfig describes this SP. Immutable after Validate; owned
// by the process for its lifetime.
type ServiceProviderConfig struct {
	// EntityID is the SP issuer identifier.
	EntityID string

	// ACSURL is the assertion-consumer endpoint the IdP posts responses to.
	ACSURL string

	// SLOURL is the single-logout endpoint.
	SLOURL string

	// SigningKey and SigningCert sign outgoing requests and SP metadata.
	// Optional; when absent, requests go out unsigned.
	SigningKey  *rsa.PrivateKey
	SigningCert *x509.Certificate

	// DecryptionKey and DecryptionCert let IdPs encrypt assertions to this
	// SP. Optional; when absent, encrypted assertions are rejected.
	DecryptionKey  *rsa.PrivateKey
	DecryptionCert *x509.Certificate

	// ForceAuthn requests fresh authentication from the IdP even when the
	// user already has an IdP session.
	ForceAuthn bool

	// ClockSkew is the tolerance applied to assertion timing checks.
	// Zero means DefaultClockSkew.
	ClockSkew time.Duration

	// AllowIdPInitiated accepts responses without a matching pending request
	// ID (unsolicited login). Off by default.
	AllowIdPInitiated bool

	// WantLogoutSigned requires inbound IdP LogoutRequests to carry a
	// verifiable signature (enveloped or query-string).
	WantLogoutSigned bool

	// MailAttributes is the priority list of attribute names checked for the
	// session mail field before falling back to literal "mail"/"email".
	MailAttributes []string

	// RequestTTL bounds pending request IDs. Zero means DefaultRequestTTL.
	RequestTTL time.Duration
}

// IdentityProviderConfig describes the one trusted IdP. Immutable after
// Validate. The model generalizes to a set keyed by issuer; this engine
// covers the single-IdP case.
type IdentityProviderConfig struct {
	// EntityID is the IdP issuer identifier.
	EntityID string

	// SSOURL is the IdP single-sign-on entry point.
	SSOURL string

	// SLOURL is the IdP single-logout endpoint. Empty when the IdP does not
	// support SLO; logout then falls back to local-only.
	SLOURL string

	// Certificates are the IdP signing certificates. More than one supports
	// rollover.
	Certificates []*x509.Certificate

	// SLOBinding selects front-channel redirect or back-channel SOAP.
	SLOBinding SLOMode

	// SLOTimeout bounds the back-channel SLO round trip. Zero means 10s.
	SLOTimeout time.Duration
}

// Skew returns the effective clock-skew tolerance.
func (c *ServiceProviderConfig) Skew() time.Duration {
	if c.ClockSkew > 0 {
		return c.ClockSkew
	}
	return DefaultClockSkew
}

// TTL returns the effective pending-request TTL.
func (c *ServiceProviderConfig) TTL() time.Duration {
	if c.RequestTTL > 0 {
		return c.RequestTTL
	}
	return DefaultRequestTTL
}

// Validate eagerly rejects a malformed SP configuration so key problems
// surface at startup, never at request time.
func (c *ServiceProviderConfig) Validate() error {
	if c.EntityID == "" {
		return domain.ConfigError("sp entity ID is required")
	}
	if err := checkURL(c.ACSURL); err != nil {
		return domain.ConfigError(fmt.Sprintf("sp ACS URL: %v", err))
	}
	if c.SLOURL != "" {
		if err := checkURL(c.SLOURL); err != nil {
			return domain.ConfigError(fmt.Sprintf("sp SLO URL: %v", err))
		}
	}
	if (c.SigningKey == nil) != (c.SigningCert == nil) {
		return domain.ConfigError("sp signing key and certificate must be configured together")
	}
	if c.SigningKey != nil {
		if err := c.SigningKey.Validate(); err != nil {
			return domain.ConfigError(fmt.Sprintf("sp signing key invalid: %v", err))
		}
	}
	if (c.DecryptionKey == nil) != (c.DecryptionCert == nil) {
		return domain.ConfigError("sp decryption key and certificate must be configured together")
	}
	if c.DecryptionKey != nil {
		if err := c.DecryptionKey.Validate(); err != nil {
			return domain.ConfigError(fmt.Sprintf("sp decryption key invalid: %v", err))
		}
	}
	return nil
}

// Validate eagerly rejects a malformed IdP configuration.
func (c *IdentityProviderConfig) Validate() error {
	if c.EntityID == "" {
		return domain.ConfigError("idp entity ID is required")
	}
	if err := checkURL(c.SSOURL); err != nil {
		return domain.ConfigError(fmt.Sprintf("idp SSO URL: %v", err))
	}
	if c.SLOURL != "" {
		if err := checkURL(c.SLOURL); err != nil {
			return domain.ConfigError(fmt.Sprintf("idp SLO URL: %v", err))
		}
	}
	if len(c.Certificates) == 0 {
		return domain.ConfigError("at least one idp signing certificate is required")
	}
	for _, cert := range c.Certificates {
		if cert == nil {
			return domain.ConfigError("nil idp signing certificate")
		}
	}
	switch c.SLOBinding {
	case "", SLOModeRedirect, SLOModeSOAP:
	default:
		return domain.ConfigError(fmt.Sprintf("unknown SLO binding %q", c.SLOBinding))
	}
	return nil
}

// SLORoundTripTimeout returns the effective back-channel SLO timeout.
func (c *IdentityProviderConfig) SLORoundTripTimeout() time.Duration {
	if c.SLOTimeout > 0 {
		return c.SLOTimeout
	}
	return 10 * time.Second
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

// LoadPrivateKey loads an RSA private key from a PEM file. PKCS8 is tried
// first, then the legacy PKCS1 form.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		return rsaKey, nil
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("key is not RSA")
	}

	return rsaKey, nil
}

// LoadCertificate loads a single X.509 certificate from a PEM file.
func LoadCertificate(path string) (*x509.Certificate, error) {
	certs, err := LoadCertificates(path)
	if err != nil {
		return nil, err
	}
	return certs[0], nil
}

// LoadCertificates loads X.509 certificates from a PEM file. Multiple
// certificates in one file support rotation scenarios.
func LoadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read certificate file: %w", err)
	}

	var certs []*x509.Certificate
	for {
		block, rest := pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
		data = rest
	}

	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}

	return certs, nil
}
