// Package signature provides XML-DSig verification and signing adapters
// built on goxmldsig.
package signature

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
	"go.uber.org/zap"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// XMLDsigVerifier validates enveloped signatures on SAML messages against
// the trusted IdP certificate set.
type XMLDsigVerifier struct {
	certStore dsig.X509CertificateStore
	logger    *zap.Logger
}

// NewXMLDsigVerifier creates a verifier trusting the given certificates.
// More than one certificate supports IdP key rollover.
func NewXMLDsigVerifier(certs []*x509.Certificate) *XMLDsigVerifier {
	return &XMLDsigVerifier{
		certStore: &dsig.MemoryX509CertificateStore{
			Roots: certs,
		},
	}
}

// NewXMLDsigVerifierWithLogger creates a verifier that logs each successful
// verification.
func NewXMLDsigVerifierWithLogger(certs []*x509.Certificate, logger *zap.Logger) *XMLDsigVerifier {
	v := NewXMLDsigVerifier(certs)
	v.logger = logger
	return v
}

// Verify validates the enveloped signature on the document root and returns
// the validated element re-serialized. The caller must use only the
// returned bytes for further processing: unsigned content elsewhere in the
// input document is discarded, which is what defeats signature wrapping.
// Returns ports.ErrNoSignature when the document carries no signature.
func (v *XMLDsigVerifier) Verify(data []byte) ([]byte, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeSignatureInvalid,
			Message: "failed to parse XML for signature verification",
			Cause:   err,
		}
	}

	root := doc.Root()
	if root == nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeSignatureInvalid,
			Message: "empty XML document",
		}
	}

	ctx := dsig.NewDefaultValidationContext(v.certStore)

	validated, err := ctx.Validate(root)
	if err != nil {
		if errors.Is(err, dsig.ErrMissingSignature) {
			return nil, ports.ErrNoSignature
		}
		return nil, &domain.AppError{
			Code:    domain.ErrCodeSignatureInvalid,
			Message: "signature verification failed",
			Cause:   err,
		}
	}

	if v.logger != nil {
		v.logger.Debug("signature verified",
			zap.String("element", validated.Tag),
			zap.String("algorithm", signatureAlgorithm(root)),
		)
	}

	validatedDoc := etree.NewDocument()
	validatedDoc.SetRoot(validated)
	result, err := validatedDoc.WriteToBytes()
	if err != nil {
		return nil, &domain.AppError{
			Code:    domain.ErrCodeServiceError,
			Message: "failed to serialize validated element",
			Cause:   err,
		}
	}
	return result, nil
}

// signatureAlgorithm extracts the SignatureMethod Algorithm URI for logging.
func signatureAlgorithm(root *etree.Element) string {
	method := root.FindElement("./Signature/SignedInfo/SignatureMethod")
	if method == nil {
		return ""
	}
	return method.SelectAttrValue("Algorithm", "")
}

// XMLDsigSigner creates enveloped signatures with the SP signing key pair.
// Used for SP metadata.
type XMLDsigSigner struct {
	privateKey  *rsa.PrivateKey
	certificate *x509.Certificate
}

// NewXMLDsigSigner creates a signer with the given key pair.
func NewXMLDsigSigner(privateKey *rsa.PrivateKey, certificate *x509.Certificate) *XMLDsigSigner {
	return &XMLDsigSigner{
		privateKey:  privateKey,
		certificate: certificate,
	}
}

// Sign adds an enveloped RSA-SHA256 signature to the document root and
// returns the signed bytes.
func (s *XMLDsigSigner) Sign(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty document")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("parse XML: %w", err)
	}

	root := doc.Root()
	if root == nil {
		return nil, errors.New("empty XML document")
	}

	tlsCert := tls.Certificate{
		Certificate: [][]byte{s.certificate.Raw},
		PrivateKey:  s.privateKey,
	}
	keyStore := dsig.TLSCertKeyStore(tlsCert)

	signingContext := dsig.NewDefaultSigningContext(keyStore)
	signingContext.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	if err := signingContext.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("set signature method: %w", err)
	}

	signedRoot, err := signingContext.SignEnveloped(root)
	if err != nil {
		return nil, fmt.Errorf("sign XML: %w", err)
	}

	doc.SetRoot(signedRoot)

	signedBytes, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("serialize signed XML: %w", err)
	}

	return signedBytes, nil
}

var _ ports.SignatureVerifier = (*XMLDsigVerifier)(nil)
var _ ports.MetadataSigner = (*XMLDsigSigner)(nil)
