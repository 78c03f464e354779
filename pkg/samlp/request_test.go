package samlp

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

const fullRequest = `<samlp:AuthnRequest xmlns:samlp="urn:oasis:names:tc:SAML:2.0:protocol" ID="_req-77" AssertionConsumerServiceURL="https://sp.example.com/acs">` +
	`<saml:Issuer>https://sp.example.com</saml:Issuer>` +
	`<samlp:NameIDPolicy/>` +
	`<saml:Conditions><saml:AudienceRestriction><saml:Audience>https://sp.example.com</saml:Audience></saml:AudienceRestriction></saml:Conditions>` +
	`</samlp:AuthnRequest>`

func TestExtract_NoPayload(t *testing.T) {
	discrete := Parameters{
		Audience:       "https://sp.example.com",
		DestinationURL: "https://sp.example.com/acs",
		RequestID:      "abc",
		RelayState:     "state-1",
	}
	assert.Equal(t, discrete, Extract("", discrete))
}

func TestExtract_PayloadOverridesDiscrete(t *testing.T) {
	discrete := Parameters{
		Audience:       "https://other.example.com",
		DestinationURL: "https://other.example.com/acs",
		RequestID:      "discrete-id",
		RelayState:     "state-1",
	}
	got := Extract(encode(fullRequest), discrete)
	assert.Equal(t, "https://sp.example.com", got.Audience)
	assert.Equal(t, "https://sp.example.com/acs", got.DestinationURL)
	assert.Equal(t, "_req-77", got.RequestID)
	assert.Equal(t, "state-1", got.RelayState)
}

func TestExtract_PerFieldFallback(t *testing.T) {
	// Payload carries an audience but no ID attribute and no ACS URL.
	payload := `<samlp:AuthnRequest><saml:Audience>https://sp.example.com</saml:Audience></samlp:AuthnRequest>`
	discrete := Parameters{
		Audience:       "https://ignored.example.com",
		DestinationURL: "https://sp.example.com/acs",
		RequestID:      "abc",
	}
	got := Extract(encode(payload), discrete)
	assert.Equal(t, "https://sp.example.com", got.Audience, "payload audience wins")
	assert.Equal(t, "https://sp.example.com/acs", got.DestinationURL, "discrete fallback")
	assert.Equal(t, "abc", got.RequestID, "discrete fallback")
}

func TestExtract_UndecodablePayload(t *testing.T) {
	discrete := Parameters{Audience: "a", DestinationURL: "d", RequestID: "r"}
	got := Extract("%%%not-base64%%%", discrete)
	assert.Equal(t, discrete, got)
}

func TestExtract_EmptyDiscreteAndPartialPayload(t *testing.T) {
	payload := `<samlp:AuthnRequest ID="_only-id"/>`
	got := Extract(encode(payload), Parameters{})
	assert.Equal(t, "_only-id", got.RequestID)
	assert.Empty(t, got.Audience)
	assert.Empty(t, got.DestinationURL)
}
