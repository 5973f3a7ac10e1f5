package sp

import (
	"encoding/xml"
	"time"

	"github.com/google/uuid"
)

// SAML 2.0 XML namespaces.
const (
	NamespaceAssertion = "urn:oasis:names:tc:SAML:2.0:assertion"
	NamespaceProtocol  = "urn:oasis:names:tc:SAML:2.0:protocol"
	NamespaceMetadata  = "urn:oasis:names:tc:SAML:2.0:metadata"
	NamespaceDSig      = "http://www.w3.org/2000/09/xmldsig#"
)

// SAML 2.0 NameID formats.
const (
	NameIDFormatUnspecified = "urn:oasis:names:tc:SAML:1.1:nameid-format:unspecified"
	NameIDFormatEmail       = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	NameIDFormatPersistent  = "urn:oasis:names:tc:SAML:2.0:nameid-format:persistent"
	NameIDFormatTransient   = "urn:oasis:names:tc:SAML:2.0:nameid-format:transient"
)

// SAML 2.0 bindings.
const (
	BindingHTTPPost     = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
	BindingHTTPRedirect = "urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
	BindingSOAP         = "urn:oasis:names:tc:SAML:2.0:bindings:SOAP"
)

// SAML 2.0 status codes.
const (
	StatusSuccess       = "urn:oasis:names:tc:SAML:2.0:status:Success"
	StatusRequester     = "urn:oasis:names:tc:SAML:2.0:status:Requester"
	StatusResponder     = "urn:oasis:names:tc:SAML:2.0:status:Responder"
	StatusAuthnFailed   = "urn:oasis:names:tc:SAML:2.0:status:AuthnFailed"
	StatusPartialLogout = "urn:oasis:names:tc:SAML:2.0:status:PartialLogout"
)

// samlTimeFormat is the xs:dateTime form required by SAML 2.0 Core §1.3.3:
// UTC with the 'Z' indicator.
const samlTimeFormat = "2006-01-02T15:04:05Z"

// formatTime renders t for an IssueInstant or NotOnOrAfter attribute.
func formatTime(t time.Time) string {
	return t.UTC().Format(samlTimeFormat)
}

// parseTime accepts the xs:dateTime forms IdPs emit, with or without
// fractional seconds. Returns the zero time for an empty attribute.
func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}

// newMessageID generates a unique SAML message ID. IDs are xs:ID values and
// must not start with a digit, hence the prefix.
func newMessageID() string {
	return "_" + uuid.NewString()
}

// Issuer represents the saml:Issuer element.
type Issuer struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion Issuer"`
	Format  string   `xml:"Format,attr,omitempty"`
	Value   string   `xml:",chardata"`
}

// NameID represents the saml:NameID element.
type NameID struct {
	XMLName         xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion NameID"`
	Format          string   `xml:"Format,attr,omitempty"`
	NameQualifier   string   `xml:"NameQualifier,attr,omitempty"`
	SPNameQualifier string   `xml:"SPNameQualifier,attr,omitempty"`
	Value           string   `xml:",chardata"`
}

// Subject represents the saml:Subject element.
type Subject struct {
	XMLName              xml.Name              `xml:"urn:oasis:names:tc:SAML:2.0:assertion Subject"`
	NameID               *NameID               `xml:"NameID,omitempty"`
	SubjectConfirmations []SubjectConfirmation `xml:"SubjectConfirmation,omitempty"`
}

// SubjectConfirmation represents the saml:SubjectConfirmation element.
type SubjectConfirmation struct {
	XMLName                 xml.Name                 `xml:"urn:oasis:names:tc:SAML:2.0:assertion SubjectConfirmation"`
	Method                  string                   `xml:"Method,attr"`
	SubjectConfirmationData *SubjectConfirmationData `xml:"SubjectConfirmationData,omitempty"`
}

// SubjectConfirmationData represents the saml:SubjectConfirmationData element.
type SubjectConfirmationData struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion SubjectConfirmationData"`
	NotOnOrAfter string   `xml:"NotOnOrAfter,attr,omitempty"`
	Recipient    string   `xml:"Recipient,attr,omitempty"`
	InResponseTo string   `xml:"InResponseTo,attr,omitempty"`
}

// Conditions represents the saml:Conditions element.
type Conditions struct {
	XMLName              xml.Name              `xml:"urn:oasis:names:tc:SAML:2.0:assertion Conditions"`
	NotBefore            string                `xml:"NotBefore,attr,omitempty"`
	NotOnOrAfter         string                `xml:"NotOnOrAfter,attr,omitempty"`
	AudienceRestrictions []AudienceRestriction `xml:"AudienceRestriction,omitempty"`
}

// AudienceRestriction represents the saml:AudienceRestriction element.
type AudienceRestriction struct {
	XMLName   xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AudienceRestriction"`
	Audiences []string `xml:"Audience"`
}

// AuthnStatement represents the saml:AuthnStatement element.
type AuthnStatement struct {
	XMLName      xml.Name      `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnStatement"`
	AuthnInstant string        `xml:"AuthnInstant,attr"`
	SessionIndex string        `xml:"SessionIndex,attr,omitempty"`
	AuthnContext *AuthnContext `xml:"AuthnContext,omitempty"`
}

// AuthnContext represents the saml:AuthnContext element.
type AuthnContext struct {
	XMLName              xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AuthnContext"`
	AuthnContextClassRef string   `xml:"AuthnContextClassRef"`
}

// AttributeStatement represents the saml:AttributeStatement element.
type AttributeStatement struct {
	XMLName    xml.Name    `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeStatement"`
	Attributes []Attribute `xml:"Attribute"`
}

// Attribute represents the saml:Attribute element.
type Attribute struct {
	XMLName      xml.Name         `xml:"urn:oasis:names:tc:SAML:2.0:assertion Attribute"`
	Name         string           `xml:"Name,attr"`
	NameFormat   string           `xml:"NameFormat,attr,omitempty"`
	FriendlyName string           `xml:"FriendlyName,attr,omitempty"`
	Values       []AttributeValue `xml:"AttributeValue"`
}

// AttributeValue represents the saml:AttributeValue element.
type AttributeValue struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:assertion AttributeValue"`
	Value   string   `xml:",chardata"`
}

// SchemaAssertion represents a saml:Assertion for field extraction. The
// signature element, if any, is verified separately on the etree document
// and deliberately not modeled here.
type SchemaAssertion struct {
	XMLName             xml.Name             `xml:"urn:oasis:names:tc:SAML:2.0:assertion Assertion"`
	ID                  string               `xml:"ID,attr"`
	Version             string               `xml:"Version,attr"`
	IssueInstant        string               `xml:"IssueInstant,attr"`
	Issuer              *Issuer              `xml:"Issuer"`
	Subject             *Subject             `xml:"Subject,omitempty"`
	Conditions          *Conditions          `xml:"Conditions,omitempty"`
	AuthnStatements     []AuthnStatement     `xml:"AuthnStatement,omitempty"`
	AttributeStatements []AttributeStatement `xml:"AttributeStatement,omitempty"`
}

// SchemaResponse represents a samlp:Response for field extraction.
type SchemaResponse struct {
	XMLName      xml.Name         `xml:"urn:oasis:names:tc:SAML:2.0:protocol Response"`
	ID           string           `xml:"ID,attr"`
	Version      string           `xml:"Version,attr"`
	IssueInstant string           `xml:"IssueInstant,attr"`
	Destination  string           `xml:"Destination,attr,omitempty"`
	InResponseTo string           `xml:"InResponseTo,attr,omitempty"`
	Issuer       *Issuer          `xml:"Issuer,omitempty"`
	Status       *Status          `xml:"Status"`
	Assertions   []SchemaAssertion `xml:"Assertion,omitempty"`
}

// Status represents the samlp:Status element.
type Status struct {
	XMLName       xml.Name   `xml:"urn:oasis:names:tc:SAML:2.0:protocol Status"`
	StatusCode    StatusCode `xml:"StatusCode"`
	StatusMessage string     `xml:"StatusMessage,omitempty"`
}

// StatusCode represents the samlp:StatusCode element.
type StatusCode struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol StatusCode"`
	Value   string   `xml:"Value,attr"`
}

// AuthnRequest represents an outgoing samlp:AuthnRequest message.
type AuthnRequest struct {
	XMLName                     xml.Name      `xml:"urn:oasis:names:tc:SAML:2.0:protocol AuthnRequest"`
	ID                          string        `xml:"ID,attr"`
	Version                     string        `xml:"Version,attr"`
	IssueInstant                string        `xml:"IssueInstant,attr"`
	Destination                 string        `xml:"Destination,attr,omitempty"`
	ProtocolBinding             string        `xml:"ProtocolBinding,attr,omitempty"`
	AssertionConsumerServiceURL string        `xml:"AssertionConsumerServiceURL,attr,omitempty"`
	ForceAuthn                  bool          `xml:"ForceAuthn,attr,omitempty"`
	Issuer                      *Issuer       `xml:"Issuer,omitempty"`
	NameIDPolicy                *NameIDPolicy `xml:"NameIDPolicy,omitempty"`
}

// NameIDPolicy represents the samlp:NameIDPolicy element.
type NameIDPolicy struct {
	XMLName     xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol NameIDPolicy"`
	Format      string   `xml:"Format,attr,omitempty"`
	AllowCreate bool     `xml:"AllowCreate,attr,omitempty"`
}

// LogoutRequest represents a samlp:LogoutRequest message, both outgoing
// (SP-initiated) and inbound (IdP-initiated).
type LogoutRequest struct {
	XMLName        xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutRequest"`
	ID             string   `xml:"ID,attr"`
	Version        string   `xml:"Version,attr"`
	IssueInstant   string   `xml:"IssueInstant,attr"`
	Destination    string   `xml:"Destination,attr,omitempty"`
	NotOnOrAfter   string   `xml:"NotOnOrAfter,attr,omitempty"`
	Reason         string   `xml:"Reason,attr,omitempty"`
	Issuer         *Issuer  `xml:"Issuer,omitempty"`
	NameID         *NameID  `xml:"NameID,omitempty"`
	SessionIndexes []string `xml:"SessionIndex,omitempty"`
}

// LogoutResponse represents a samlp:LogoutResponse message.
type LogoutResponse struct {
	XMLName      xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:protocol LogoutResponse"`
	ID           string   `xml:"ID,attr"`
	Version      string   `xml:"Version,attr"`
	IssueInstant string   `xml:"IssueInstant,attr"`
	Destination  string   `xml:"Destination,attr,omitempty"`
	InResponseTo string   `xml:"InResponseTo,attr,omitempty"`
	Issuer       *Issuer  `xml:"Issuer,omitempty"`
	Status       *Status  `xml:"Status"`
}
