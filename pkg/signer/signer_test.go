package signer

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/beevik/etree"
	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRequest() AssertionRequest {
	return AssertionRequest{
		Issuer:         "https://idp.example.com/saml",
		Audience:       "https://sp.example.com",
		DestinationURL: "https://sp.example.com/acs",
		RequestID:      "_req-42",
		SubjectNameID:  "jane.doe@corp.com",
		Claims: map[string]string{
			"email":     "jane.doe@corp.com",
			"subjectId": "731232425",
			"firstName": "Jane",
			"lastName":  "Doe",
		},
	}
}

func newTestSigner(t *testing.T) (*XMLSigner, dsig.X509KeyStore) {
	t.Helper()
	keyStore := dsig.RandomKeyStoreForTest()
	s, err := NewXMLSigner(keyStore, 0)
	require.NoError(t, err)
	return s, keyStore
}

func TestNewXMLSigner_Defaults(t *testing.T) {
	_, err := NewXMLSigner(nil, time.Minute)
	require.Error(t, err)

	s, _ := newTestSigner(t)
	assert.Equal(t, DefaultAssertionTTL, s.ttl)
}

func TestSignedResponse_Validation(t *testing.T) {
	s, _ := newTestSigner(t)
	tests := []struct {
		name   string
		mutate func(*AssertionRequest)
	}{
		{"missing-issuer", func(r *AssertionRequest) { r.Issuer = "" }},
		{"missing-audience", func(r *AssertionRequest) { r.Audience = "" }},
		{"missing-destination", func(r *AssertionRequest) { r.DestinationURL = "" }},
		{"missing-subject", func(r *AssertionRequest) { r.SubjectNameID = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := testRequest()
			tt.mutate(&req)
			_, err := s.SignedResponse(req)
			require.Error(t, err)
		})
	}
}

func TestSignedResponse_Structure(t *testing.T) {
	s, _ := newTestSigner(t)
	out, err := s.SignedResponse(testRequest())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	resp := doc.Root()
	require.NotNil(t, resp)
	assert.Equal(t, "Response", resp.Tag)
	assert.Equal(t, "https://sp.example.com/acs", resp.SelectAttrValue("Destination", ""))
	assert.Equal(t, "_req-42", resp.SelectAttrValue("InResponseTo", ""))
	assert.Equal(t, "2.0", resp.SelectAttrValue("Version", ""))

	status := resp.FindElement("./Status/StatusCode")
	require.NotNil(t, status)
	assert.Equal(t, statusSuccess, status.SelectAttrValue("Value", ""))

	assertion := resp.FindElement("./Assertion")
	require.NotNil(t, assertion)
	assert.NotEmpty(t, assertion.SelectAttrValue("ID", ""))
	require.NotNil(t, assertion.FindElement("./Signature"), "assertion must carry a signature")

	audience := assertion.FindElement("./Conditions/AudienceRestriction/Audience")
	require.NotNil(t, audience)
	assert.Equal(t, "https://sp.example.com", audience.Text())

	nameID := assertion.FindElement("./Subject/NameID")
	require.NotNil(t, nameID)
	assert.Equal(t, "jane.doe@corp.com", nameID.Text())

	confirmData := assertion.FindElement("./Subject/SubjectConfirmation/SubjectConfirmationData")
	require.NotNil(t, confirmData)
	assert.Equal(t, "_req-42", confirmData.SelectAttrValue("InResponseTo", ""))
	assert.Equal(t, "https://sp.example.com/acs", confirmData.SelectAttrValue("Recipient", ""))

	// Claims are emitted sorted by name.
	attrs := assertion.FindElements("./AttributeStatement/Attribute")
	require.Len(t, attrs, 4)
	var names []string
	for _, a := range attrs {
		names = append(names, a.SelectAttrValue("Name", ""))
	}
	assert.Equal(t, []string{"email", "firstName", "lastName", "subjectId"}, names)
}

func TestSignedResponse_SignatureVerifies(t *testing.T) {
	s, keyStore := newTestSigner(t)
	out, err := s.SignedResponse(testRequest())
	require.NoError(t, err)

	_, certDER, err := keyStore.GetKeyPair()
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	assertion := doc.Root().FindElement("./Assertion")
	require.NotNil(t, assertion)

	validationCtx := dsig.NewDefaultValidationContext(&dsig.MemoryX509CertificateStore{
		Roots: []*x509.Certificate{cert},
	})
	validated, err := validationCtx.Validate(assertion)
	require.NoError(t, err)
	require.NotNil(t, validated)
}

func TestSignedResponse_AcceptedByServiceProvider(t *testing.T) {
	s, keyStore := newTestSigner(t)
	req := testRequest()
	out, err := s.SignedResponse(req)
	require.NoError(t, err)

	_, certDER, err := keyStore.GetKeyPair()
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(certDER)
	require.NoError(t, err)

	sp := &saml2.SAMLServiceProvider{
		IdentityProviderIssuer:      req.Issuer,
		AudienceURI:                 req.Audience,
		AssertionConsumerServiceURL: req.DestinationURL,
		IDPCertificateStore: &dsig.MemoryX509CertificateStore{
			Roots: []*x509.Certificate{cert},
		},
		SkipSignatureValidation: true,
	}

	info, err := sp.RetrieveAssertionInfo(base64.StdEncoding.EncodeToString(out))
	require.NoError(t, err)
	assert.Equal(t, "jane.doe@corp.com", info.NameID)
	assert.Equal(t, "731232425", info.Values.Get("subjectId"))
	assert.Equal(t, "Jane", info.Values.Get("firstName"))
	if info.WarningInfo != nil {
		assert.False(t, info.WarningInfo.InvalidTime)
		assert.False(t, info.WarningInfo.NotInAudience)
	}
}

func TestSignedResponse_ExpiryWindow(t *testing.T) {
	keyStore := dsig.RandomKeyStoreForTest()
	s, err := NewXMLSigner(keyStore, 2*time.Minute)
	require.NoError(t, err)
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	out, err := s.SignedResponse(testRequest())
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(out))
	conditions := doc.Root().FindElement("./Assertion/Conditions")
	require.NotNil(t, conditions)
	assert.Equal(t, "2026-03-01T12:00:00Z", conditions.SelectAttrValue("NotBefore", ""))
	assert.Equal(t, "2026-03-01T12:02:00Z", conditions.SelectAttrValue("NotOnOrAfter", ""))
}

func TestKeyStoreFromPEM(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "idp.example.com"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certDER, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certDER})

	t.Run("pkcs1", func(t *testing.T) {
		keyPEM := pem.EncodeToMemory(&pem.Block{
			Type:  "RSA PRIVATE KEY",
			Bytes: x509.MarshalPKCS1PrivateKey(key),
		})
		ks, err := KeyStoreFromPEM(certPEM, keyPEM)
		require.NoError(t, err)
		cert, err := CertificateFromKeyStore(ks)
		require.NoError(t, err)
		assert.Equal(t, "idp.example.com", cert.Subject.CommonName)
	})

	t.Run("pkcs8", func(t *testing.T) {
		der, err := x509.MarshalPKCS8PrivateKey(key)
		require.NoError(t, err)
		keyPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
		_, err = KeyStoreFromPEM(certPEM, keyPEM)
		require.NoError(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := KeyStoreFromPEM([]byte("not pem"), []byte("not pem"))
		require.Error(t, err)
	})
}

func TestRenderAutoPostForm(t *testing.T) {
	html, err := RenderAutoPostForm("https://sp.example.com/acs", []FormField{
		{Name: "RelayState", Value: "state-1"},
		{Name: "SAMLResponse", Value: `PHNhbWxwOlJlc3BvbnNlPg=="><script>alert(1)</script>`},
	})
	require.NoError(t, err)
	assert.Contains(t, html, `action="https://sp.example.com/acs"`)
	assert.Contains(t, html, `name="RelayState" value="state-1"`)
	assert.Contains(t, html, "document.forms[0].submit()")
	assert.NotContains(t, html, "<script>alert(1)</script>")

	_, err = RenderAutoPostForm("", nil)
	require.Error(t, err)
}

func TestEphemeralKeyStore(t *testing.T) {
	ks, err := EphemeralKeyStore("urn:mockidp:idp")
	require.NoError(t, err)

	cert, err := CertificateFromKeyStore(ks)
	require.NoError(t, err)
	assert.Equal(t, "urn:mockidp:idp", cert.Subject.CommonName)
	assert.True(t, cert.NotAfter.After(time.Now()))

	s, err := NewXMLSigner(ks, 0)
	require.NoError(t, err)
	_, err = s.SignedResponse(testRequest())
	require.NoError(t, err)
}
