package sp

import (
	"encoding/base64"
	"encoding/xml"

	"github.com/philiph/samlauth/internal/core/domain"
	"github.com/philiph/samlauth/internal/core/ports"
)

// EntityDescriptor is the md:EntityDescriptor root of SP metadata.
type EntityDescriptor struct {
	XMLName          xml.Name          `xml:"urn:oasis:names:tc:SAML:2.0:metadata EntityDescriptor"`
	EntityID         string            `xml:"entityID,attr"`
	SPSSODescriptors []SPSSODescriptor `xml:"SPSSODescriptor"`
}

// SPSSODescriptor is the md:SPSSODescriptor role element.
type SPSSODescriptor struct {
	XMLName                    xml.Name          `xml:"urn:oasis:names:tc:SAML:2.0:metadata SPSSODescriptor"`
	AuthnRequestsSigned        bool              `xml:"AuthnRequestsSigned,attr"`
	WantAssertionsSigned       bool              `xml:"WantAssertionsSigned,attr"`
	ProtocolSupportEnumeration string            `xml:"protocolSupportEnumeration,attr"`
	KeyDescriptors             []KeyDescriptor   `xml:"KeyDescriptor,omitempty"`
	SingleLogoutServices       []Endpoint        `xml:"SingleLogoutService,omitempty"`
	NameIDFormats              []string          `xml:"NameIDFormat,omitempty"`
	AssertionConsumerServices  []IndexedEndpoint `xml:"AssertionConsumerService"`
}

// KeyDescriptor publishes an SP public certificate for a given use.
type KeyDescriptor struct {
	XMLName xml.Name `xml:"urn:oasis:names:tc:SAML:2.0:metadata KeyDescriptor"`
	Use     string   `xml:"use,attr"`
	KeyInfo KeyInfo  `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
}

// KeyInfo is the ds:KeyInfo wrapper carrying the certificate.
type KeyInfo struct {
	XMLName  xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# KeyInfo"`
	X509Data X509Data `xml:"X509Data"`
}

// X509Data holds the base64 DER certificate.
type X509Data struct {
	XMLName         xml.Name `xml:"http://www.w3.org/2000/09/xmldsig# X509Data"`
	X509Certificate string   `xml:"X509Certificate"`
}

// Endpoint is an md endpoint element (SingleLogoutService).
type Endpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
}

// IndexedEndpoint is an indexed md endpoint element
// (AssertionConsumerService).
type IndexedEndpoint struct {
	Binding  string `xml:"Binding,attr"`
	Location string `xml:"Location,attr"`
	Index    int    `xml:"index,attr"`
	Default  bool   `xml:"isDefault,attr"`
}

// MetadataBuilder renders SP metadata as a pure function of configuration.
// Output is byte-for-byte stable across calls so IdP operators can diff
// published metadata; no validUntil, no cacheDuration, no generated IDs.
type MetadataBuilder struct {
	sp     *ServiceProviderConfig
	signer ports.MetadataSigner
}

// NewMetadataBuilder wires a builder. signer is optional; when set the
// rendered document gets an enveloped signature.
func NewMetadataBuilder(sp *ServiceProviderConfig, signer ports.MetadataSigner) *MetadataBuilder {
	return &MetadataBuilder{sp: sp, signer: signer}
}

// Build renders the EntityDescriptor.
func (b *MetadataBuilder) Build() ([]byte, error) {
	descriptor := SPSSODescriptor{
		AuthnRequestsSigned:        b.sp.SigningKey != nil,
		WantAssertionsSigned:       true,
		ProtocolSupportEnumeration: NamespaceProtocol,
		NameIDFormats:              []string{NameIDFormatUnspecified},
		AssertionConsumerServices: []IndexedEndpoint{{
			Binding:  BindingHTTPPost,
			Location: b.sp.ACSURL,
			Index:    1,
			Default:  true,
		}},
	}

	if b.sp.SigningCert != nil {
		descriptor.KeyDescriptors = append(descriptor.KeyDescriptors, keyDescriptor("signing", b.sp.SigningCert.Raw))
	}
	if b.sp.DecryptionCert != nil {
		descriptor.KeyDescriptors = append(descriptor.KeyDescriptors, keyDescriptor("encryption", b.sp.DecryptionCert.Raw))
	}

	if b.sp.SLOURL != "" {
		descriptor.SingleLogoutServices = []Endpoint{{
			Binding:  BindingHTTPRedirect,
			Location: b.sp.SLOURL,
		}}
	}

	entity := EntityDescriptor{
		EntityID:         b.sp.EntityID,
		SPSSODescriptors: []SPSSODescriptor{descriptor},
	}

	raw, err := xml.MarshalIndent(entity, "", "  ")
	if err != nil {
		return nil, domain.ServiceError("render metadata", err)
	}

	if b.signer != nil {
		signed, err := b.signer.Sign(raw)
		if err != nil {
			return nil, domain.ServiceError("sign metadata", err)
		}
		raw = signed
	}

	return append([]byte(xml.Header), raw...), nil
}

func keyDescriptor(use string, der []byte) KeyDescriptor {
	return KeyDescriptor{
		Use: use,
		KeyInfo: KeyInfo{
			X509Data: X509Data{
				X509Certificate: base64.StdEncoding.EncodeToString(der),
			},
		},
	}
}
