//go:build unit

package sp

import (
	"crypto/x509"
	"encoding/xml"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/philiph/samlauth/internal/adapters/driven/request"
	"github.com/philiph/samlauth/internal/core/domain"
)

func newTestBuilder(t *testing.T, spCfg *ServiceProviderConfig, idpCfg *IdentityProviderConfig) (*RequestBuilder, *request.InMemoryStore) {
	t.Helper()
	store := request.NewInMemoryStore()
	return NewRequestBuilder(spCfg, idpCfg, store), store
}

func decodeRedirectMessage(t *testing.T, rawQuery, param string, out interface{}) {
	t.Helper()
	values := parseQuery(t, rawQuery)
	decoded, err := decodeMessage(values[param], BindingRedirect)
	if err != nil {
		t.Fatalf("decode %s: %v", param, err)
	}
	if err := xml.Unmarshal(decoded, out); err != nil {
		t.Fatalf("unmarshal %s: %v", param, err)
	}
}

func parseQuery(t *testing.T, rawQuery string) map[string]string {
	t.Helper()
	values := map[string]string{}
	for _, pair := range strings.Split(rawQuery, "&") {
		name, value, _ := strings.Cut(pair, "=")
		unescaped, err := url.QueryUnescape(value)
		if err != nil {
			t.Fatalf("unescape %s: %v", name, err)
		}
		values[name] = unescaped
	}
	return values
}

func TestBuildAuthnRequest(t *testing.T) {
	_, cert := testKeyPair(t, "Test IdP")
	spCfg := testSPConfig()
	spCfg.ForceAuthn = true
	builder, store := newTestBuilder(t, spCfg, testIdPConfig(cert))

	built, err := builder.BuildAuthnRequest("/admin")
	if err != nil {
		t.Fatalf("BuildAuthnRequest: %v", err)
	}

	if !strings.HasPrefix(built.RedirectURL.String(), testSSOURL) {
		t.Errorf("redirect target = %s, want prefix %s", built.RedirectURL, testSSOURL)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}
	if !store.Consume(built.ID) {
		t.Error("issued request ID not consumable")
	}

	var decoded AuthnRequest
	decodeRedirectMessage(t, built.RedirectURL.RawQuery, "SAMLRequest", &decoded)

	if decoded.ID != built.ID {
		t.Errorf("message ID %q != built ID %q", decoded.ID, built.ID)
	}
	if decoded.AssertionConsumerServiceURL != testACSURL {
		t.Errorf("ACS URL = %q", decoded.AssertionConsumerServiceURL)
	}
	if decoded.Destination != testSSOURL {
		t.Errorf("Destination = %q", decoded.Destination)
	}
	if !decoded.ForceAuthn {
		t.Error("ForceAuthn not set")
	}
	if decoded.Issuer == nil || decoded.Issuer.Value != testSPEntityID {
		t.Errorf("Issuer = %+v", decoded.Issuer)
	}
	if parseQuery(t, built.RedirectURL.RawQuery)["RelayState"] != "/admin" {
		t.Error("RelayState not carried")
	}
}

func TestBuildAuthnRequest_SignedWhenKeyConfigured(t *testing.T) {
	_, idpCert := testKeyPair(t, "Test IdP")
	spKey, spCert := testKeyPair(t, "Test SP")
	spCfg := testSPConfig()
	spCfg.SigningKey = spKey
	spCfg.SigningCert = spCert
	builder, _ := newTestBuilder(t, spCfg, testIdPConfig(idpCert))

	built, err := builder.BuildAuthnRequest("")
	if err != nil {
		t.Fatalf("BuildAuthnRequest: %v", err)
	}

	if built.RedirectURL.Query().Get("Signature") == "" {
		t.Fatal("signed SP produced unsigned redirect")
	}
	if err := VerifyRedirectSignature(built.RedirectURL.RawQuery, []*x509.Certificate{spCert}); err != nil {
		t.Fatalf("VerifyRedirectSignature: %v", err)
	}
}

func TestBuildAuthnRequest_UniqueIDs(t *testing.T) {
	_, cert := testKeyPair(t, "Test IdP")
	builder, _ := newTestBuilder(t, testSPConfig(), testIdPConfig(cert))

	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		built, err := builder.BuildAuthnRequest("")
		if err != nil {
			t.Fatalf("BuildAuthnRequest: %v", err)
		}
		if seen[built.ID] {
			t.Fatalf("duplicate request ID %q", built.ID)
		}
		if !strings.HasPrefix(built.ID, "_") {
			t.Fatalf("request ID %q does not start with underscore", built.ID)
		}
		seen[built.ID] = true
	}
}

func TestBuildLogoutRequest(t *testing.T) {
	_, cert := testKeyPair(t, "Test IdP")
	builder, store := newTestBuilder(t, testSPConfig(), testIdPConfig(cert))

	session := &domain.Session{
		NameID:       "user-1234",
		NameIDFormat: NameIDFormatPersistent,
		SessionIndex: "idx-42",
	}

	built, err := builder.BuildLogoutRequest(session, "")
	if err != nil {
		t.Fatalf("BuildLogoutRequest: %v", err)
	}
	if !strings.HasPrefix(built.RedirectURL.String(), testIdPSLOURL) {
		t.Errorf("redirect target = %s", built.RedirectURL)
	}
	if store.Len() != 1 {
		t.Errorf("store.Len() = %d, want 1", store.Len())
	}

	var decoded LogoutRequest
	decodeRedirectMessage(t, built.RedirectURL.RawQuery, "SAMLRequest", &decoded)

	if decoded.NameID == nil || decoded.NameID.Value != "user-1234" {
		t.Errorf("NameID = %+v", decoded.NameID)
	}
	if decoded.NameID.Format != NameIDFormatPersistent {
		t.Errorf("NameID format = %q", decoded.NameID.Format)
	}
	if len(decoded.SessionIndexes) != 1 || decoded.SessionIndexes[0] != "idx-42" {
		t.Errorf("SessionIndexes = %v", decoded.SessionIndexes)
	}
}

func TestBuildLogoutRequest_NoSLOEndpoint(t *testing.T) {
	_, cert := testKeyPair(t, "Test IdP")
	idpCfg := testIdPConfig(cert)
	idpCfg.SLOURL = ""
	builder, _ := newTestBuilder(t, testSPConfig(), idpCfg)

	_, err := builder.BuildLogoutRequest(&domain.Session{NameID: "user-1234"}, "")
	if domain.CodeOf(err) != domain.ErrCodeConfiguration {
		t.Fatalf("err = %v, want configuration_error", err)
	}
}

func TestBuildLogoutResponse(t *testing.T) {
	_, cert := testKeyPair(t, "Test IdP")
	builder, _ := newTestBuilder(t, testSPConfig(), testIdPConfig(cert))

	redirect, err := builder.BuildLogoutResponse("_idp-req-1", "rs", StatusSuccess)
	if err != nil {
		t.Fatalf("BuildLogoutResponse: %v", err)
	}

	var decoded LogoutResponse
	decodeRedirectMessage(t, redirect.RawQuery, "SAMLResponse", &decoded)

	if decoded.InResponseTo != "_idp-req-1" {
		t.Errorf("InResponseTo = %q", decoded.InResponseTo)
	}
	if decoded.Status == nil || decoded.Status.StatusCode.Value != StatusSuccess {
		t.Errorf("Status = %+v", decoded.Status)
	}
	if parseQuery(t, redirect.RawQuery)["RelayState"] != "rs" {
		t.Error("RelayState not echoed")
	}
}

func TestRequestStoreTTL(t *testing.T) {
	_, cert := testKeyPair(t, "Test IdP")
	spCfg := testSPConfig()
	spCfg.RequestTTL = time.Millisecond
	builder, store := newTestBuilder(t, spCfg, testIdPConfig(cert))

	built, err := builder.BuildAuthnRequest("")
	if err != nil {
		t.Fatalf("BuildAuthnRequest: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if store.Consume(built.ID) {
		t.Error("expired request ID still consumable")
	}
}
