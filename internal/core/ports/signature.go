package ports

import "errors"

// ErrNoSignature is returned by Verify when the document carries no
// signature at all, as opposed to an invalid one. Callers use it to fall
// back to verifying an inner element (e.g. the assertion instead of the
// response).
var ErrNoSignature = errors.New("no signature found")

// SignatureVerifier verifies enveloped XML signatures.
//
// Verify returns the validated bytes, not just an error. Only those bytes
// are safe to process further; unsigned content elsewhere in the input is
// how signature wrapping smuggles assertions past verification.
type SignatureVerifier interface {
	// Verify validates the XML signature and returns the validated XML
	// bytes. Returns error if the signature is invalid or missing.
	Verify(data []byte) ([]byte, error)
}

// MetadataSigner signs XML documents for SAML metadata.
type MetadataSigner interface {
	// Sign adds an enveloped XML signature and returns the signed bytes.
	Sign(data []byte) ([]byte, error)
}
