package sp

import (
	"bytes"
	"compress/flate"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/xml"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/philiph/samlauth/internal/core/domain"
)

// Binding identifies the transport encoding of a SAML message.
type Binding string

const (
	// BindingRedirect is HTTP-Redirect: deflate + base64 in a query param.
	BindingRedirect Binding = "redirect"

	// BindingPost is HTTP-POST: base64 in a form field.
	BindingPost Binding = "post"
)

// Signature algorithm URIs for the redirect binding (SAML 2.0 Bindings
// §3.4.4.1).
const (
	sigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"
	sigAlgRSASHA1   = "http://www.w3.org/2000/09/xmldsig#rsa-sha1"
)

// deflateEncode serializes a message and applies the redirect-binding
// encoding: raw DEFLATE (no zlib header) then base64.
func deflateEncode(message interface{}) (string, error) {
	xmlData, err := xml.Marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal message: %w", err)
	}

	var compressed bytes.Buffer
	writer, err := flate.NewWriter(&compressed, flate.BestCompression)
	if err != nil {
		return "", fmt.Errorf("create deflate writer: %w", err)
	}
	if _, err := writer.Write(xmlData); err != nil {
		writer.Close()
		return "", fmt.Errorf("compress message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("flush compressed message: %w", err)
	}

	return base64.StdEncoding.EncodeToString(compressed.Bytes()), nil
}

// decodeMessage reverses the transport encoding for the given binding.
// Redirect-binding payloads are base64 + raw deflate; POST payloads are
// base64 only. Decode failures are MalformedMessage: no further gate runs.
func decodeMessage(encoded string, binding Binding) ([]byte, error) {
	// Browsers sometimes deliver '+' as space in form posts.
	encoded = strings.ReplaceAll(encoded, " ", "+")

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "message is not valid base64", err)
	}

	if binding == BindingPost {
		return raw, nil
	}

	reader := flate.NewReader(bytes.NewReader(raw))
	defer reader.Close()

	// Bound decompression so a tiny payload cannot expand without limit.
	decompressed, err := io.ReadAll(io.LimitReader(reader, 10<<20))
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "message failed to inflate", err)
	}
	return decompressed, nil
}

// buildRedirectURL assembles a redirect-binding URL for a SAML message.
// Query parameters already on the destination (tenant selectors and the
// like) are preserved; the SAML parameters are appended after them. When
// key is non-nil the query string is signed: per SAML 2.0 Bindings
// §3.4.4.1 the signature covers the ordered concatenation
// SAMLRequest|SAMLResponse=..&RelayState=..&SigAlg=.. of the SAML
// parameters only, using their percent-encoded forms, so the query is
// assembled by hand rather than through url.Values.Encode (which reorders
// keys).
func buildRedirectURL(destination, paramName, encoded, relayState string, key *rsa.PrivateKey) (*url.URL, error) {
	dest, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("invalid destination URL: %w", err)
	}

	var query strings.Builder
	query.WriteString(paramName)
	query.WriteString("=")
	query.WriteString(url.QueryEscape(encoded))
	if relayState != "" {
		query.WriteString("&RelayState=")
		query.WriteString(url.QueryEscape(relayState))
	}

	if key != nil {
		query.WriteString("&SigAlg=")
		query.WriteString(url.QueryEscape(sigAlgRSASHA256))

		digest := sha256.Sum256([]byte(query.String()))
		signature, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
		if err != nil {
			return nil, fmt.Errorf("sign query string: %w", err)
		}

		query.WriteString("&Signature=")
		query.WriteString(url.QueryEscape(base64.StdEncoding.EncodeToString(signature)))
	}

	if dest.RawQuery != "" {
		dest.RawQuery += "&" + query.String()
	} else {
		dest.RawQuery = query.String()
	}
	return dest, nil
}

// VerifyRedirectSignature checks a redirect-binding query-string signature
// against the trusted certificates. rawQuery must be the query string as
// received, since the signature covers the sender's percent-encoding
// verbatim. Returns nil when any certificate verifies the signature.
func VerifyRedirectSignature(rawQuery string, certs []*x509.Certificate) error {
	escaped := map[string]string{}
	for _, pair := range strings.Split(rawQuery, "&") {
		name, value, found := strings.Cut(pair, "=")
		if !found {
			continue
		}
		escaped[name] = value
	}

	sigValue := escaped["Signature"]
	if sigValue == "" {
		return domain.ValidationError(domain.ErrCodeSignatureInvalid, "redirect binding message is unsigned", nil)
	}
	unescaped, err := url.QueryUnescape(sigValue)
	if err != nil {
		return domain.ValidationError(domain.ErrCodeSignatureInvalid, "signature parameter is not URL-encoded", err)
	}
	signature, err := base64.StdEncoding.DecodeString(unescaped)
	if err != nil {
		return domain.ValidationError(domain.ErrCodeSignatureInvalid, "signature parameter is not base64", err)
	}

	paramName := "SAMLRequest"
	if _, ok := escaped[paramName]; !ok {
		paramName = "SAMLResponse"
		if _, ok := escaped[paramName]; !ok {
			return domain.ValidationError(domain.ErrCodeMalformedMessage, "no SAML message parameter in query", nil)
		}
	}

	var input strings.Builder
	input.WriteString(paramName)
	input.WriteString("=")
	input.WriteString(escaped[paramName])
	if rs, ok := escaped["RelayState"]; ok {
		input.WriteString("&RelayState=")
		input.WriteString(rs)
	}
	input.WriteString("&SigAlg=")
	input.WriteString(escaped["SigAlg"])

	sigAlg, err := url.QueryUnescape(escaped["SigAlg"])
	if err != nil {
		return domain.ValidationError(domain.ErrCodeSignatureInvalid, "SigAlg parameter is not URL-encoded", err)
	}

	var hash crypto.Hash
	var digest []byte
	switch sigAlg {
	case sigAlgRSASHA256:
		sum := sha256.Sum256([]byte(input.String()))
		digest, hash = sum[:], crypto.SHA256
	case sigAlgRSASHA1:
		sum := sha1.Sum([]byte(input.String()))
		digest, hash = sum[:], crypto.SHA1
	default:
		return domain.ValidationError(domain.ErrCodeSignatureInvalid, fmt.Sprintf("unsupported signature algorithm %q", sigAlg), nil)
	}

	for _, cert := range certs {
		pub, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			continue
		}
		if rsa.VerifyPKCS1v15(pub, hash, digest, signature) == nil {
			return nil
		}
	}

	return domain.ValidationError(domain.ErrCodeSignatureInvalid, "query signature does not verify against any trusted certificate", nil)
}
