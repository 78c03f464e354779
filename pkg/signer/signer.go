package signer

import (
	"fmt"
	"sort"
	"time"

	"github.com/beevik/etree"
	"github.com/google/uuid"
	dsig "github.com/russellhaering/goxmldsig"
)

const (
	samlProtocolNamespace  = "urn:oasis:names:tc:SAML:2.0:protocol"
	samlAssertionNamespace = "urn:oasis:names:tc:SAML:2.0:assertion"

	statusSuccess = "urn:oasis:names:tc:SAML:2.0:status:Success"

	nameIDFormatEmail  = "urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress"
	authnContextPWProt = "urn:oasis:names:tc:SAML:2.0:ac:classes:PasswordProtectedTransport"
	subjConfirmBearer  = "urn:oasis:names:tc:SAML:2.0:cm:bearer"

	// DefaultAssertionTTL bounds the assertion validity window.
	DefaultAssertionTTL = 5 * time.Minute
)

// AssertionRequest carries everything needed to mint one signed response.
type AssertionRequest struct {
	// Issuer is the identity provider entity id.
	Issuer string
	// Audience restricts which service provider may consume the assertion.
	Audience string
	// DestinationURL is the assertion consumer service the response targets.
	DestinationURL string
	// RequestID, when set, is echoed back as InResponseTo.
	RequestID string
	// SubjectNameID becomes the assertion subject. Usually the email.
	SubjectNameID string
	// Claims are emitted as the attribute statement, sorted by name.
	Claims map[string]string
}

func (r AssertionRequest) validate() error {
	switch {
	case r.Issuer == "":
		return fmt.Errorf("missing issuer")
	case r.Audience == "":
		return fmt.Errorf("missing audience")
	case r.DestinationURL == "":
		return fmt.Errorf("missing destination URL")
	case r.SubjectNameID == "":
		return fmt.Errorf("missing subject")
	}
	return nil
}

// XMLSigner signs assertions with a fixed key pair.
type XMLSigner struct {
	keyStore dsig.X509KeyStore
	ttl      time.Duration
	now      func() time.Time
}

// NewXMLSigner returns a signer backed by keyStore. A non-positive ttl
// falls back to DefaultAssertionTTL.
func NewXMLSigner(keyStore dsig.X509KeyStore, ttl time.Duration) (*XMLSigner, error) {
	if keyStore == nil {
		return nil, fmt.Errorf("missing key store")
	}
	if ttl <= 0 {
		ttl = DefaultAssertionTTL
	}
	return &XMLSigner{
		keyStore: keyStore,
		ttl:      ttl,
		now:      time.Now,
	}, nil
}

// SignedResponse builds the SAML response for req, signs the enclosed
// assertion and returns the serialized XML document.
func (s *XMLSigner) SignedResponse(req AssertionRequest) ([]byte, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	instant := now.Format(time.RFC3339)
	notOnOrAfter := now.Add(s.ttl).Format(time.RFC3339)

	assertion := etree.NewElement("saml:Assertion")
	assertion.CreateAttr("xmlns:saml", samlAssertionNamespace)
	assertion.CreateAttr("ID", newID())
	assertion.CreateAttr("Version", "2.0")
	assertion.CreateAttr("IssueInstant", instant)

	assertion.CreateElement("saml:Issuer").SetText(req.Issuer)

	subject := assertion.CreateElement("saml:Subject")
	nameID := subject.CreateElement("saml:NameID")
	nameID.CreateAttr("Format", nameIDFormatEmail)
	nameID.SetText(req.SubjectNameID)
	confirmation := subject.CreateElement("saml:SubjectConfirmation")
	confirmation.CreateAttr("Method", subjConfirmBearer)
	confirmationData := confirmation.CreateElement("saml:SubjectConfirmationData")
	confirmationData.CreateAttr("NotOnOrAfter", notOnOrAfter)
	confirmationData.CreateAttr("Recipient", req.DestinationURL)
	if req.RequestID != "" {
		confirmationData.CreateAttr("InResponseTo", req.RequestID)
	}

	conditions := assertion.CreateElement("saml:Conditions")
	conditions.CreateAttr("NotBefore", instant)
	conditions.CreateAttr("NotOnOrAfter", notOnOrAfter)
	restriction := conditions.CreateElement("saml:AudienceRestriction")
	restriction.CreateElement("saml:Audience").SetText(req.Audience)

	authnStatement := assertion.CreateElement("saml:AuthnStatement")
	authnStatement.CreateAttr("AuthnInstant", instant)
	authnStatement.CreateAttr("SessionNotOnOrAfter", notOnOrAfter)
	authnContext := authnStatement.CreateElement("saml:AuthnContext")
	authnContext.CreateElement("saml:AuthnContextClassRef").SetText(authnContextPWProt)

	if len(req.Claims) > 0 {
		statement := assertion.CreateElement("saml:AttributeStatement")
		names := make([]string, 0, len(req.Claims))
		for name := range req.Claims {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			attr := statement.CreateElement("saml:Attribute")
			attr.CreateAttr("Name", name)
			attr.CreateAttr("NameFormat", "urn:oasis:names:tc:SAML:2.0:attrname-format:basic")
			attr.CreateElement("saml:AttributeValue").SetText(req.Claims[name])
		}
	}

	signingCtx := dsig.NewDefaultSigningContext(s.keyStore)
	signedAssertion, err := signingCtx.SignEnveloped(assertion)
	if err != nil {
		return nil, fmt.Errorf("failed to sign assertion: %w", err)
	}

	response := etree.NewElement("samlp:Response")
	response.CreateAttr("xmlns:samlp", samlProtocolNamespace)
	response.CreateAttr("xmlns:saml", samlAssertionNamespace)
	response.CreateAttr("ID", newID())
	response.CreateAttr("Version", "2.0")
	response.CreateAttr("IssueInstant", instant)
	response.CreateAttr("Destination", req.DestinationURL)
	if req.RequestID != "" {
		response.CreateAttr("InResponseTo", req.RequestID)
	}
	response.CreateElement("saml:Issuer").SetText(req.Issuer)
	status := response.CreateElement("samlp:Status")
	statusCode := status.CreateElement("samlp:StatusCode")
	statusCode.CreateAttr("Value", statusSuccess)
	response.AddChild(signedAssertion)

	doc := etree.NewDocument()
	doc.SetRoot(response)
	out, err := doc.WriteToBytes()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize response: %w", err)
	}
	return out, nil
}

func newID() string {
	// XML IDs must not start with a digit.
	return "_" + uuid.NewString()
}
