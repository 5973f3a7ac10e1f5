package sp

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/beevik/etree"
	"github.com/crewjam/saml/xmlenc"
	xrv "github.com/mattermost/xml-roundtrip-validator"
	"github.com/russellhaering/goxmldsig/etreeutils"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

const confirmationMethodBearer = "urn:oasis:names:tc:SAML:2.0:cm:bearer"

// ResponseValidator runs every inbound SAML message through the validation
// gates. Each gate is terminal: the first failure aborts the whole
// validation with a coded error and nothing downstream ever sees fields
// from a message that failed a gate.
type ResponseValidator struct {
	sp       *ServiceProviderConfig
	idp      *IdentityProviderConfig
	store    ports.RequestStore
	verifier ports.SignatureVerifier
	now      func() time.Time
}

// NewResponseValidator wires a validator. The verifier must be configured
// with the IdP certificate set; the store is the same pending-request store
// the request builder writes to.
func NewResponseValidator(sp *ServiceProviderConfig, idp *IdentityProviderConfig, store ports.RequestStore, verifier ports.SignatureVerifier) *ResponseValidator {
	return &ResponseValidator{
		sp:       sp,
		idp:      idp,
		store:    store,
		verifier: verifier,
		now:      time.Now,
	}
}

// ValidateResponse takes an encoded SAMLResponse as received on the ACS
// endpoint and returns the asserted identity, or the first gate failure.
// The returned assertion is built exclusively from signature-validated
// bytes.
func (v *ResponseValidator) ValidateResponse(encoded string, binding Binding) (*domain.Assertion, error) {
	raw, err := decodeMessage(encoded, binding)
	if err != nil {
		return nil, err
	}

	doc, err := parseDocument(raw)
	if err != nil {
		return nil, err
	}
	if doc.Root().Tag != "Response" || doc.Root().NamespaceURI() != NamespaceProtocol {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "document root is not a samlp:Response", nil)
	}

	var response SchemaResponse
	if err := xml.Unmarshal(raw, &response); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "response does not match the SAML schema", err)
	}
	if response.Version != "2.0" {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, fmt.Sprintf("unsupported SAML version %q", response.Version), nil)
	}

	assertionEl, err := v.verifiedAssertion(raw, doc)
	if err != nil {
		return nil, err
	}

	if response.Status == nil || response.Status.StatusCode.Value != StatusSuccess {
		code := "absent"
		if response.Status != nil {
			code = response.Status.StatusCode.Value
		}
		return nil, domain.ValidationError(domain.ErrCodeStatusFailure, fmt.Sprintf("identity provider returned status %s", code), nil)
	}

	if response.Issuer != nil && response.Issuer.Value != v.idp.EntityID {
		return nil, domain.ValidationError(domain.ErrCodeIssuerMismatch, fmt.Sprintf("response issued by %q, want %q", response.Issuer.Value, v.idp.EntityID), nil)
	}
	if response.Destination != "" && response.Destination != v.sp.ACSURL {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, fmt.Sprintf("response destination %q is not this SP", response.Destination), nil)
	}

	assertion, err := unmarshalElement[SchemaAssertion](assertionEl)
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "assertion does not match the SAML schema", err)
	}
	if assertion.Version != "2.0" {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, fmt.Sprintf("unsupported assertion version %q", assertion.Version), nil)
	}
	if assertion.Issuer == nil || assertion.Issuer.Value != v.idp.EntityID {
		issuer := "absent"
		if assertion.Issuer != nil {
			issuer = fmt.Sprintf("%q", assertion.Issuer.Value)
		}
		return nil, domain.ValidationError(domain.ErrCodeIssuerMismatch, fmt.Sprintf("assertion issued by %s, want %q", issuer, v.idp.EntityID), nil)
	}

	confirmation, err := v.checkTiming(assertion)
	if err != nil {
		return nil, err
	}
	if err := v.checkAudience(assertion); err != nil {
		return nil, err
	}
	if err := v.checkInResponseTo(&response, confirmation); err != nil {
		return nil, err
	}

	return v.extract(assertion)
}

// verifiedAssertion locates the assertion and proves a trusted signature
// covers it. Either the response envelope is signed (the assertion inherits
// that trust) or the assertion itself must be. Extraction afterwards uses
// only the element goxmldsig validated, so unsigned siblings smuggled into
// the document are never read.
func (v *ResponseValidator) verifiedAssertion(raw []byte, doc *etree.Document) (*etree.Element, error) {
	validated, err := v.verifier.Verify(raw)
	if err == nil {
		validatedDoc := etree.NewDocument()
		if err := validatedDoc.ReadFromBytes(validated); err != nil {
			return nil, domain.ValidationError(domain.ErrCodeSignatureInvalid, "validated response failed to re-parse", err)
		}
		return v.assertionFrom(validatedDoc.Root(), false)
	}
	if !errors.Is(err, ports.ErrNoSignature) {
		return nil, domain.ValidationError(domain.ErrCodeSignatureInvalid, "response signature does not verify", err)
	}

	// Unsigned envelope: the assertion itself must carry the signature.
	return v.assertionFrom(doc.Root(), true)
}

// assertionFrom pulls the single assertion out of a response element,
// decrypting an EncryptedAssertion when present. requireSignature forces a
// valid enveloped signature on the assertion itself.
func (v *ResponseValidator) assertionFrom(root *etree.Element, requireSignature bool) (*etree.Element, error) {
	if encrypted := root.FindElement("./EncryptedAssertion"); encrypted != nil {
		plaintext, err := v.decryptAssertion(encrypted)
		if err != nil {
			return nil, err
		}
		doc, err := parseDocument(plaintext)
		if err != nil {
			return nil, err
		}
		if requireSignature {
			return v.verifyAssertionElement(doc.Root())
		}
		return doc.Root(), nil
	}

	assertion := root.FindElement("./Assertion")
	if assertion == nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "response contains no assertion", nil)
	}
	if requireSignature {
		return v.verifyAssertionElement(assertion)
	}
	return assertion, nil
}

// verifyAssertionElement detaches the assertion into a namespace-complete
// document and runs signature verification on it, returning the validated
// element.
func (v *ResponseValidator) verifyAssertionElement(assertion *etree.Element) (*etree.Element, error) {
	detached, err := detachElement(assertion)
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "assertion could not be detached", err)
	}

	doc := etree.NewDocument()
	doc.SetRoot(detached)
	serialized, err := doc.WriteToBytes()
	if err != nil {
		return nil, domain.ServiceError("serialize assertion", err)
	}

	validated, err := v.verifier.Verify(serialized)
	if err != nil {
		if errors.Is(err, ports.ErrNoSignature) {
			return nil, domain.ValidationError(domain.ErrCodeSignatureInvalid, "neither the response nor the assertion is signed", nil)
		}
		return nil, domain.ValidationError(domain.ErrCodeSignatureInvalid, "assertion signature does not verify", err)
	}

	validatedDoc := etree.NewDocument()
	if err := validatedDoc.ReadFromBytes(validated); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeSignatureInvalid, "validated assertion failed to re-parse", err)
	}
	return validatedDoc.Root(), nil
}

// decryptAssertion unwraps an EncryptedAssertion with the SP decryption key.
func (v *ResponseValidator) decryptAssertion(encrypted *etree.Element) ([]byte, error) {
	if v.sp.DecryptionKey == nil {
		return nil, domain.ValidationError(domain.ErrCodeDecryptionFailed, "encrypted assertion received but no decryption key is configured", nil)
	}
	data := encrypted.FindElement("./EncryptedData")
	if data == nil {
		return nil, domain.ValidationError(domain.ErrCodeDecryptionFailed, "EncryptedAssertion has no EncryptedData", nil)
	}
	plaintext, err := xmlenc.Decrypt(v.sp.DecryptionKey, data)
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeDecryptionFailed, "assertion decryption failed", err)
	}
	return plaintext, nil
}

// checkTiming enforces the assertion validity window and returns the bearer
// SubjectConfirmationData, if any, for the InResponseTo gate.
func (v *ResponseValidator) checkTiming(assertion *SchemaAssertion) (*SubjectConfirmationData, error) {
	now := v.now()
	skew := v.sp.Skew()

	if assertion.Conditions != nil {
		notBefore, err := parseTime(assertion.Conditions.NotBefore)
		if err != nil {
			return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable Conditions NotBefore", err)
		}
		if !notBefore.IsZero() && now.Add(skew).Before(notBefore) {
			return nil, domain.ValidationError(domain.ErrCodeAssertionExpired, fmt.Sprintf("assertion not valid before %s", assertion.Conditions.NotBefore), nil)
		}

		notOnOrAfter, err := parseTime(assertion.Conditions.NotOnOrAfter)
		if err != nil {
			return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable Conditions NotOnOrAfter", err)
		}
		if !notOnOrAfter.IsZero() && !now.Add(-skew).Before(notOnOrAfter) {
			return nil, domain.ValidationError(domain.ErrCodeAssertionExpired, fmt.Sprintf("assertion expired at %s", assertion.Conditions.NotOnOrAfter), nil)
		}
	}

	var confirmation *SubjectConfirmationData
	if assertion.Subject != nil {
		for _, sc := range assertion.Subject.SubjectConfirmations {
			if sc.Method != confirmationMethodBearer || sc.SubjectConfirmationData == nil {
				continue
			}
			data := sc.SubjectConfirmationData
			expiry, err := parseTime(data.NotOnOrAfter)
			if err != nil {
				return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable SubjectConfirmationData NotOnOrAfter", err)
			}
			if !expiry.IsZero() && !now.Add(-skew).Before(expiry) {
				return nil, domain.ValidationError(domain.ErrCodeAssertionExpired, fmt.Sprintf("subject confirmation expired at %s", data.NotOnOrAfter), nil)
			}
			if data.Recipient != "" && data.Recipient != v.sp.ACSURL {
				return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, fmt.Sprintf("subject confirmation recipient %q is not this SP", data.Recipient), nil)
			}
			confirmation = data
		}
	}
	return confirmation, nil
}

// checkAudience requires the SP entity ID among the asserted audiences.
func (v *ResponseValidator) checkAudience(assertion *SchemaAssertion) error {
	if assertion.Conditions == nil || len(assertion.Conditions.AudienceRestrictions) == 0 {
		return domain.ValidationError(domain.ErrCodeAudienceMismatch, "assertion carries no audience restriction", nil)
	}
	for _, restriction := range assertion.Conditions.AudienceRestrictions {
		for _, audience := range restriction.Audiences {
			if audience == v.sp.EntityID {
				return nil
			}
		}
	}
	return domain.ValidationError(domain.ErrCodeAudienceMismatch, fmt.Sprintf("audience restriction does not include %q", v.sp.EntityID), nil)
}

// checkInResponseTo enforces request/response correlation and replay
// protection. A non-empty request ID must consume exactly one pending entry;
// an absent ID is allowed only when unsolicited login is enabled.
func (v *ResponseValidator) checkInResponseTo(response *SchemaResponse, confirmation *SubjectConfirmationData) error {
	requestID := response.InResponseTo
	if confirmation != nil && confirmation.InResponseTo != "" {
		if requestID != "" && confirmation.InResponseTo != requestID {
			return domain.ValidationError(domain.ErrCodeResponseNotRequested, "response and subject confirmation disagree on InResponseTo", nil)
		}
		requestID = confirmation.InResponseTo
	}

	if requestID == "" {
		if v.sp.AllowIdPInitiated {
			return nil
		}
		return domain.ValidationError(domain.ErrCodeResponseNotRequested, "unsolicited response and IdP-initiated login is disabled", nil)
	}

	if !v.store.Consume(requestID) {
		return domain.ValidationError(domain.ErrCodeResponseNotRequested, fmt.Sprintf("request ID %q is unknown, expired, or already consumed", requestID), nil)
	}
	return nil
}

// extract maps a fully validated assertion into the domain identity.
// Attribute keys are the attribute Name values (URIs or OIDs); friendly
// names are display hints and never used as keys.
func (v *ResponseValidator) extract(assertion *SchemaAssertion) (*domain.Assertion, error) {
	if assertion.Subject == nil || assertion.Subject.NameID == nil || assertion.Subject.NameID.Value == "" {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "assertion carries no subject NameID", nil)
	}

	result := &domain.Assertion{
		NameID:       assertion.Subject.NameID.Value,
		NameIDFormat: assertion.Subject.NameID.Format,
		Issuer:       assertion.Issuer.Value,
		Attributes:   map[string][]string{},
	}

	if len(assertion.AuthnStatements) > 0 {
		statement := assertion.AuthnStatements[0]
		result.SessionIndex = statement.SessionIndex
		instant, err := parseTime(statement.AuthnInstant)
		if err != nil {
			return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable AuthnInstant", err)
		}
		result.AuthnInstant = instant
	}

	for _, statement := range assertion.AttributeStatements {
		for _, attribute := range statement.Attributes {
			if attribute.Name == "" {
				continue
			}
			for _, value := range attribute.Values {
				result.Attributes[attribute.Name] = append(result.Attributes[attribute.Name], value.Value)
			}
		}
	}

	return result, nil
}

// ValidateLogoutResponse checks an inbound LogoutResponse. rawQuery is the
// received query string for redirect-binding signature verification; empty
// for POST. Returns the matched request ID.
func (v *ResponseValidator) ValidateLogoutResponse(encoded string, binding Binding, rawQuery string) (string, error) {
	raw, err := decodeMessage(encoded, binding)
	if err != nil {
		return "", err
	}
	if _, err := parseDocument(raw); err != nil {
		return "", err
	}

	var response LogoutResponse
	if err := xml.Unmarshal(raw, &response); err != nil {
		return "", domain.ValidationError(domain.ErrCodeMalformedMessage, "logout response does not match the SAML schema", err)
	}

	if err := v.checkLogoutSignature(raw, binding, rawQuery); err != nil {
		return "", err
	}

	if response.Issuer != nil && response.Issuer.Value != v.idp.EntityID {
		return "", domain.ValidationError(domain.ErrCodeIssuerMismatch, fmt.Sprintf("logout response issued by %q, want %q", response.Issuer.Value, v.idp.EntityID), nil)
	}

	if response.InResponseTo == "" || !v.store.Consume(response.InResponseTo) {
		return "", domain.ValidationError(domain.ErrCodeResponseNotRequested, "logout response does not answer a pending logout request", nil)
	}

	if response.Status == nil || response.Status.StatusCode.Value != StatusSuccess {
		code := "absent"
		if response.Status != nil {
			code = response.Status.StatusCode.Value
		}
		return response.InResponseTo, domain.ValidationError(domain.ErrCodeStatusFailure, fmt.Sprintf("identity provider answered logout with status %s", code), nil)
	}

	return response.InResponseTo, nil
}

// ValidateLogoutRequest checks an inbound IdP-initiated LogoutRequest and
// returns it for identity matching.
func (v *ResponseValidator) ValidateLogoutRequest(encoded string, binding Binding, rawQuery string) (*LogoutRequest, error) {
	raw, err := decodeMessage(encoded, binding)
	if err != nil {
		return nil, err
	}
	if _, err := parseDocument(raw); err != nil {
		return nil, err
	}

	var request LogoutRequest
	if err := xml.Unmarshal(raw, &request); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "logout request does not match the SAML schema", err)
	}

	if err := v.checkLogoutSignature(raw, binding, rawQuery); err != nil {
		return nil, err
	}

	if request.Issuer == nil || request.Issuer.Value != v.idp.EntityID {
		issuer := "absent"
		if request.Issuer != nil {
			issuer = fmt.Sprintf("%q", request.Issuer.Value)
		}
		return nil, domain.ValidationError(domain.ErrCodeIssuerMismatch, fmt.Sprintf("logout request issued by %s, want %q", issuer, v.idp.EntityID), nil)
	}

	notOnOrAfter, err := parseTime(request.NotOnOrAfter)
	if err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "unparseable logout request NotOnOrAfter", err)
	}
	if !notOnOrAfter.IsZero() && !v.now().Add(-v.sp.Skew()).Before(notOnOrAfter) {
		return nil, domain.ValidationError(domain.ErrCodeAssertionExpired, fmt.Sprintf("logout request expired at %s", request.NotOnOrAfter), nil)
	}

	if request.NameID == nil || request.NameID.Value == "" {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "logout request carries no NameID", nil)
	}

	return &request, nil
}

// checkLogoutSignature verifies whichever signature form the binding
// carries. Logout messages are accepted unsigned unless the deployment
// requires signing; an invalid signature is always rejected.
func (v *ResponseValidator) checkLogoutSignature(raw []byte, binding Binding, rawQuery string) error {
	if binding == BindingRedirect {
		if hasQuerySignature(rawQuery) {
			return VerifyRedirectSignature(rawQuery, v.idp.Certificates)
		}
		if v.sp.WantLogoutSigned {
			return domain.ValidationError(domain.ErrCodeSignatureInvalid, "unsigned logout message rejected by policy", nil)
		}
		return nil
	}

	_, err := v.verifier.Verify(raw)
	if err == nil {
		return nil
	}
	if errors.Is(err, ports.ErrNoSignature) {
		if v.sp.WantLogoutSigned {
			return domain.ValidationError(domain.ErrCodeSignatureInvalid, "unsigned logout message rejected by policy", nil)
		}
		return nil
	}
	return domain.ValidationError(domain.ErrCodeSignatureInvalid, "logout message signature does not verify", err)
}

func hasQuerySignature(rawQuery string) bool {
	for _, pair := range bytes.Split([]byte(rawQuery), []byte("&")) {
		if bytes.HasPrefix(pair, []byte("Signature=")) {
			return true
		}
	}
	return false
}

// parseDocument runs round-trip validation before handing bytes to etree.
// encoding/xml tolerates constructs whose re-encoding changes meaning; the
// round-trip check closes that gap before any field is read.
func parseDocument(raw []byte) (*etree.Document, error) {
	if err := xrv.Validate(bytes.NewReader(raw)); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "message failed XML round-trip validation", err)
	}
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(raw); err != nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "message is not well-formed XML", err)
	}
	if doc.Root() == nil {
		return nil, domain.ValidationError(domain.ErrCodeMalformedMessage, "message has no root element", nil)
	}
	return doc, nil
}

// detachElement copies an element into a document of its own, carrying the
// namespace declarations it inherited from ancestors.
func detachElement(el *etree.Element) (*etree.Element, error) {
	ctx, err := etreeutils.NSBuildParentContext(el)
	if err != nil {
		return nil, err
	}
	ctx, err = ctx.SubContext(el)
	if err != nil {
		return nil, err
	}
	return etreeutils.NSDetatch(ctx, el)
}

// unmarshalElement serializes an etree element and decodes it into a schema
// struct.
func unmarshalElement[T any](el *etree.Element) (*T, error) {
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	raw, err := doc.WriteToBytes()
	if err != nil {
		return nil, err
	}
	var out T
	if err := xml.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
