//go:build unit

package sp

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/xml"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/crewjam/saml/xmlenc"
	dsig "github.com/russellhaering/goxmldsig"

	"github.com/philiph/samlauth/internal/adapters/driven/request"
	"github.com/philiph/samlauth/internal/adapters/driven/signature"
)

const (
	testSPEntityID  = "https://sp.example.com/metadata"
	testACSURL      = "https://sp.example.com/auth/saml/sso"
	testSPSLOURL    = "https://sp.example.com/auth/saml/slo"
	testIdPEntityID = "https://idp.example.com/metadata"
	testSSOURL      = "https://idp.example.com/sso"
	testIdPSLOURL   = "https://idp.example.com/slo"
)

// testKeyPair generates a self-signed RSA key pair for use as an IdP or SP
// credential in tests.
func testKeyPair(t *testing.T, commonName string) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: commonName},
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

func testSPConfig() *ServiceProviderConfig {
	return &ServiceProviderConfig{
		EntityID: testSPEntityID,
		ACSURL:   testACSURL,
		SLOURL:   testSPSLOURL,
	}
}

func testIdPConfig(cert *x509.Certificate) *IdentityProviderConfig {
	return &IdentityProviderConfig{
		EntityID:     testIdPEntityID,
		SSOURL:       testSSOURL,
		SLOURL:       testIdPSLOURL,
		Certificates: []*x509.Certificate{cert},
	}
}

// defaultResponse builds a valid response answering requestID, with timing
// windows straddling the current time.
func defaultResponse(requestID string) *SchemaResponse {
	now := time.Now()
	return &SchemaResponse{
		ID:           "_response-1",
		Version:      "2.0",
		IssueInstant: formatTime(now),
		Destination:  testACSURL,
		InResponseTo: requestID,
		Issuer:       &Issuer{Value: testIdPEntityID},
		Status: &Status{
			StatusCode: StatusCode{Value: StatusSuccess},
		},
		Assertions: []SchemaAssertion{{
			ID:           "_assertion-1",
			Version:      "2.0",
			IssueInstant: formatTime(now),
			Issuer:       &Issuer{Value: testIdPEntityID},
			Subject: &Subject{
				NameID: &NameID{
					Format: NameIDFormatPersistent,
					Value:  "user-1234",
				},
				SubjectConfirmations: []SubjectConfirmation{{
					Method: confirmationMethodBearer,
					SubjectConfirmationData: &SubjectConfirmationData{
						NotOnOrAfter: formatTime(now.Add(5 * time.Minute)),
						Recipient:    testACSURL,
						InResponseTo: requestID,
					},
				}},
			},
			Conditions: &Conditions{
				NotBefore:    formatTime(now.Add(-2 * time.Minute)),
				NotOnOrAfter: formatTime(now.Add(5 * time.Minute)),
				AudienceRestrictions: []AudienceRestriction{{
					Audiences: []string{testSPEntityID},
				}},
			},
			AuthnStatements: []AuthnStatement{{
				AuthnInstant: formatTime(now),
				SessionIndex: "idx-42",
			}},
			AttributeStatements: []AttributeStatement{{
				Attributes: []Attribute{
					{
						Name:         "urn:oid:0.9.2342.19200300.100.1.3",
						FriendlyName: "mail",
						Values:       []AttributeValue{{Value: "user@example.com"}},
					},
					{
						Name: "urn:oid:2.5.4.42",
						Values: []AttributeValue{
							{Value: "Ada"},
							{Value: "Adeline"},
						},
					},
				},
			}},
		}},
	}
}

// signXML adds an enveloped signature over the document root.
func signXML(t *testing.T, key *rsa.PrivateKey, cert *x509.Certificate, raw []byte) []byte {
	t.Helper()

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}

	keyStore := dsig.TLSCertKeyStore(tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
	})
	ctx := dsig.NewDefaultSigningContext(keyStore)
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

// encodeResponse marshals, optionally signs, and POST-encodes a response.
func encodeResponse(t *testing.T, response *SchemaResponse, key *rsa.PrivateKey, cert *x509.Certificate) string {
	t.Helper()

	raw, err := xml.Marshal(response)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	if key != nil {
		raw = signXML(t, key, cert, raw)
	}
	return base64.StdEncoding.EncodeToString(raw)
}

// encodeEncryptedResponse replaces the response's plaintext assertion with
// an EncryptedAssertion encrypted to spCert, signs the envelope with the IdP
// credential, and POST-encodes the result.
func encodeEncryptedResponse(t *testing.T, response *SchemaResponse, idpKey *rsa.PrivateKey, idpCert, spCert *x509.Certificate) string {
	t.Helper()

	assertionXML, err := xml.Marshal(response.Assertions[0])
	if err != nil {
		t.Fatalf("marshal assertion: %v", err)
	}
	encryptedData, err := xmlenc.OAEP().Encrypt(spCert, assertionXML, nil)
	if err != nil {
		t.Fatalf("encrypt assertion: %v", err)
	}

	stripped := *response
	stripped.Assertions = nil
	raw, err := xml.Marshal(&stripped)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		t.Fatalf("parse fixture: %v", err)
	}
	wrapper := doc.Root().CreateElement("EncryptedAssertion")
	wrapper.CreateAttr("xmlns", NamespaceAssertion)
	wrapper.AddChild(encryptedData)

	raw, err = doc.WriteToBytes()
	if err != nil {
		t.Fatalf("serialize fixture: %v", err)
	}
	return base64.StdEncoding.EncodeToString(signXML(t, idpKey, idpCert, raw))
}

// testValidator wires a validator with a pending request ID already stored.
type testValidator struct {
	*ResponseValidator
	store *request.InMemoryStore
	sp    *ServiceProviderConfig
}

func newTestValidator(t *testing.T, cert *x509.Certificate, pendingIDs ...string) *testValidator {
	t.Helper()

	spCfg := testSPConfig()
	idpCfg := testIdPConfig(cert)
	store := request.NewInMemoryStore()
	for _, id := range pendingIDs {
		if err := store.Store(id, time.Now().Add(10*time.Minute)); err != nil {
			t.Fatalf("seed request store: %v", err)
		}
	}
	verifier := signature.NewXMLDsigVerifier(idpCfg.Certificates)
	return &testValidator{
		ResponseValidator: NewResponseValidator(spCfg, idpCfg, store, verifier),
		store:             store,
		sp:                spCfg,
	}
}
