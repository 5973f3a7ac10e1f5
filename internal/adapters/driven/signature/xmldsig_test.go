//go:build unit

package signature

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

const testDocument = `<Greeting xmlns="urn:example" ID="_greeting-1"><Body>hello</Body></Greeting>`

func testKeyPair(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return key, cert
}

func TestSignThenVerify(t *testing.T) {
	key, cert := testKeyPair(t)

	signed, err := NewXMLDsigSigner(key, cert).Sign([]byte(testDocument))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !strings.Contains(string(signed), "SignatureValue") {
		t.Fatal("signed document has no SignatureValue")
	}

	validated, err := NewXMLDsigVerifier([]*x509.Certificate{cert}).Verify(signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !strings.Contains(string(validated), "hello") {
		t.Errorf("validated bytes lost content: %s", validated)
	}
}

func TestVerify_Unsigned(t *testing.T) {
	_, cert := testKeyPair(t)

	_, err := NewXMLDsigVerifier([]*x509.Certificate{cert}).Verify([]byte(testDocument))
	if !errors.Is(err, ports.ErrNoSignature) {
		t.Errorf("Verify unsigned = %v, want ErrNoSignature", err)
	}
}

func TestVerify_Tampered(t *testing.T) {
	key, cert := testKeyPair(t)

	signed, err := NewXMLDsigSigner(key, cert).Sign([]byte(testDocument))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tampered := strings.Replace(string(signed), "hello", "goodbye", 1)

	_, err = NewXMLDsigVerifier([]*x509.Certificate{cert}).Verify([]byte(tampered))
	if domain.CodeOf(err) != domain.ErrCodeSignatureInvalid {
		t.Errorf("Verify tampered = %v, want signature_invalid", err)
	}
}

func TestVerify_UntrustedSigner(t *testing.T) {
	key, cert := testKeyPair(t)
	_, otherCert := testKeyPair(t)

	signed, err := NewXMLDsigSigner(key, cert).Sign([]byte(testDocument))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	_, err = NewXMLDsigVerifier([]*x509.Certificate{otherCert}).Verify(signed)
	if domain.CodeOf(err) != domain.ErrCodeSignatureInvalid {
		t.Errorf("Verify with untrusted cert = %v, want signature_invalid", err)
	}
}

func TestVerify_CertificateRollover(t *testing.T) {
	key, cert := testKeyPair(t)
	_, oldCert := testKeyPair(t)

	signed, err := NewXMLDsigSigner(key, cert).Sign([]byte(testDocument))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	// Both the old and the new certificate are trusted during rollover.
	verifier := NewXMLDsigVerifier([]*x509.Certificate{oldCert, cert})
	if _, err := verifier.Verify(signed); err != nil {
		t.Errorf("Verify with rollover set: %v", err)
	}
}

func TestVerify_Garbage(t *testing.T) {
	_, cert := testKeyPair(t)
	verifier := NewXMLDsigVerifier([]*x509.Certificate{cert})

	for _, input := range []string{"", "not xml at all", "<unclosed"} {
		if _, err := verifier.Verify([]byte(input)); err == nil {
			t.Errorf("Verify(%q) succeeded", input)
		}
	}
}

func TestSign_EmptyDocument(t *testing.T) {
	key, cert := testKeyPair(t)

	if _, err := NewXMLDsigSigner(key, cert).Sign(nil); err == nil {
		t.Error("Sign(nil) succeeded")
	}
}
