// Package samlp normalizes inbound authentication request parameters.
//
// An authentication request may arrive as discrete query/body parameters,
// as a base64-encoded AuthnRequest payload, or both. Extraction of the
// encoded payload is deliberately shallow: a handful of patterns scrape the
// audience, the assertion consumer service URL and the request ID out of
// the decoded text, and any field that cannot be scraped falls back to its
// discrete counterpart independently of the others.
package samlp

import (
	"encoding/base64"
	"regexp"
)

// Parameters is the canonical parameter set for one authentication request.
type Parameters struct {
	// Audience identifies the service provider the assertion is for.
	Audience string
	// DestinationURL is the assertion consumer service the signed response
	// is posted back to.
	DestinationURL string
	// RequestID correlates the response with the request that caused it.
	RequestID string
	// RelayState is opaque pass-through state. Never inspected.
	RelayState string
}

var (
	audiencePattern    = regexp.MustCompile(`<saml:Audience>(.*?)</saml:Audience>`)
	destinationPattern = regexp.MustCompile(`AssertionConsumerServiceURL="([^"]*)"`)
	requestIDPattern   = regexp.MustCompile(`ID="([^"]*)"`)
)

// Extract merges an optional encoded AuthnRequest payload with the discrete
// parameters. Values scraped from the payload take precedence; each field
// falls back to the discrete value on its own when the payload does not
// yield it. An undecodable payload leaves all discrete values in force.
func Extract(encodedRequest string, discrete Parameters) Parameters {
	params := discrete
	if encodedRequest == "" {
		return params
	}

	decoded, err := base64.StdEncoding.DecodeString(encodedRequest)
	if err != nil {
		return params
	}
	text := string(decoded)

	if m := audiencePattern.FindStringSubmatch(text); m != nil {
		params.Audience = m[1]
	}
	if m := destinationPattern.FindStringSubmatch(text); m != nil {
		params.DestinationURL = m[1]
	}
	if m := requestIDPattern.FindStringSubmatch(text); m != nil {
		params.RequestID = m[1]
	}
	return params
}
