//go:build integration

package samlauth

import (
	"bytes"
	"compress/flate"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/xml"
	"io"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/philiph/samlauth/internal/core/sp"
)

const (
	flowSPEntityID  = "https://sp.example.com/metadata"
	flowACSURL      = "https://sp.example.com/auth/saml/sso"
	flowSPSLOURL    = "https://sp.example.com/auth/saml/slo"
	flowIdPEntityID = "https://idp.example.com/metadata"
)

func flowKeyPair(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return key, cert
}

func signEnveloped(t *testing.T, key *rsa.PrivateKey, cert *x509.Certificate, raw []byte) []byte {
	t.Helper()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	ctx := dsig.NewDefaultSigningContext(dsig.TLSCertKeyStore(tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
	}))
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")

	signed, err := ctx.SignEnveloped(doc.Root())
	if err != nil {
		t.Fatalf("sign fixture: %v", err)
	}
	doc.SetRoot(signed)
	out, err := doc.WriteToBytes()
	if err != nil {
		t.Fatalf("serialize fixture: %v", err)
	}
	return out
}

// idpResponse plays the IdP: a signed success response answering requestID.
func idpResponse(t *testing.T, key *rsa.PrivateKey, cert *x509.Certificate, requestID string) string {
	t.Helper()

	now := time.Now().UTC()
	stamp := func(d time.Duration) string { return now.Add(d).Format("2006-01-02T15:04:05Z") }

	raw := `<samlp:Response xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"` +
		` xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"` +
		` ID="_flow-response" Version="2.0" IssueInstant="` + stamp(0) + `"` +
		` Destination="` + flowACSURL + `" InResponseTo="` + requestID + `">` +
		`<saml:Issuer>` + flowIdPEntityID + `</saml:Issuer>` +
		`<samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status>` +
		`<saml:Assertion ID="_flow-assertion" Version="2.0" IssueInstant="` + stamp(0) + `">` +
		`<saml:Issuer>` + flowIdPEntityID + `</saml:Issuer>` +
		`<saml:Subject>` +
		`<saml:NameID Format="urn:oasis:names:tc:SAML:2.0:nameid-format:persistent">user-1234</saml:NameID>` +
		`<saml:SubjectConfirmation Method="urn:oasis:names:tc:SAML:2.0:cm:bearer">` +
		`<saml:SubjectConfirmationData NotOnOrAfter="` + stamp(5*time.Minute) + `"` +
		` Recipient="` + flowACSURL + `" InResponseTo="` + requestID + `"/>` +
		`</saml:SubjectConfirmation>` +
		`</saml:Subject>` +
		`<saml:Conditions NotBefore="` + stamp(-2*time.Minute) + `" NotOnOrAfter="` + stamp(5*time.Minute) + `">` +
		`<saml:AudienceRestriction><saml:Audience>` + flowSPEntityID + `</saml:Audience></saml:AudienceRestriction>` +
		`</saml:Conditions>` +
		`<saml:AuthnStatement AuthnInstant="` + stamp(0) + `" SessionIndex="idx-flow"/>` +
		`<saml:AttributeStatement>` +
		`<saml:Attribute Name="mail"><saml:AttributeValue>user@example.com</saml:AttributeValue></saml:Attribute>` +
		`</saml:AttributeStatement>` +
		`</saml:Assertion>` +
		`</samlp:Response>`

	signed := signEnveloped(t, key, cert, []byte(raw))
	return base64.StdEncoding.EncodeToString(signed)
}

// idpLogoutResponse plays the IdP answering a front-channel LogoutRequest.
func idpLogoutResponse(t *testing.T, inResponseTo string) string {
	t.Helper()

	now := time.Now().UTC().Format("2006-01-02T15:04:05Z")
	raw := `<samlp:LogoutResponse xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol"` +
		` xmlns:saml="urn:oasis:names:tc:SAML:2.0:assertion"` +
		` ID="_flow-logout-response" Version="2.0" IssueInstant="` + now + `"` +
		` Destination="` + flowSPSLOURL + `" InResponseTo="` + inResponseTo + `">` +
		`<saml:Issuer>` + flowIdPEntityID + `</saml:Issuer>` +
		`<samlp:Status><samlp:StatusCode Value="urn:oasis:names:tc:SAML:2.0:status:Success"/></samlp:Status>` +
		`</samlp:LogoutResponse>`

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		t.Fatalf("deflate writer: %v", err)
	}
	if _, err := io.WriteString(writer, raw); err != nil {
		t.Fatalf("compress: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	return base64.StdEncoding.EncodeToString(compressed.Bytes())
}

// TestLoginLogoutFlow walks the whole SP lifecycle against a simulated IdP:
// AuthnRequest out, signed response in, session established, front-channel
// logout round trip, session gone.
func TestLoginLogoutFlow(t *testing.T) {
	idpKey, idpCert := flowKeyPair(t)

	engine, err := New(
		&ServiceProviderConfig{
			EntityID:       flowSPEntityID,
			ACSURL:         flowACSURL,
			SLOURL:         flowSPSLOURL,
			MailAttributes: []string{"mail"},
		},
		&IdentityProviderConfig{
			EntityID:     flowIdPEntityID,
			SSOURL:       "https://idp.example.com/sso",
			SLOURL:       "https://idp.example.com/slo",
			Certificates: []*x509.Certificate{idpCert},
		},
		Options{},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	// Login.
	built, err := engine.Requests.BuildAuthnRequest("/after")
	if err != nil {
		t.Fatalf("BuildAuthnRequest: %v", err)
	}

	assertion, err := engine.Validator.ValidateResponse(idpResponse(t, idpKey, idpCert, built.ID), sp.BindingPost)
	if err != nil {
		t.Fatalf("ValidateResponse: %v", err)
	}
	if assertion.NameID != "user-1234" {
		t.Fatalf("NameID = %q", assertion.NameID)
	}

	token, sess, err := engine.Sessions.Establish(assertion)
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if sess.Mail != "user@example.com" {
		t.Errorf("Mail = %q", sess.Mail)
	}

	// A replay of the same response must fail now that the ID is consumed.
	if _, err := engine.Validator.ValidateResponse(idpResponse(t, idpKey, idpCert, built.ID), sp.BindingPost); CodeOf(err) != ErrCodeResponseNotRequested {
		t.Errorf("replay = %v, want response_not_requested", err)
	}

	// Logout: SP-initiated front channel.
	outcome, err := engine.Logout.InitiateLogout(context.Background(), token)
	if err != nil {
		t.Fatalf("InitiateLogout: %v", err)
	}
	if outcome.State != LogoutSPInitiatedPending {
		t.Fatalf("state = %v, want sp_initiated_pending", outcome.State)
	}

	// Recover the pending logout request ID from the redirect.
	encoded := outcome.RedirectURL.Query().Get("SAMLRequest")
	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	raw, err := io.ReadAll(flate.NewReader(strings.NewReader(string(compressed))))
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	var logoutReq struct {
		ID string `xml:"ID,attr"`
	}
	if err := xml.Unmarshal(raw, &logoutReq); err != nil {
		t.Fatalf("unmarshal logout request: %v", err)
	}

	final, err := engine.Logout.FinishLogout(token, idpLogoutResponse(t, logoutReq.ID), sp.BindingRedirect, "")
	if err != nil {
		t.Fatalf("FinishLogout: %v", err)
	}
	if final.State != LogoutCompleted {
		t.Errorf("state = %v, want completed", final.State)
	}

	if _, err := engine.Sessions.Lookup(token); CodeOf(err) != ErrCodeNotAuthenticated {
		t.Errorf("Lookup after logout = %v, want not_authenticated", err)
	}
}
