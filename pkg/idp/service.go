package idp

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pandolabs/mockidp/pkg/directory"
	"github.com/pandolabs/mockidp/pkg/identity"
	"github.com/pandolabs/mockidp/pkg/observability"
	"github.com/pandolabs/mockidp/pkg/samlp"
	"github.com/pandolabs/mockidp/pkg/signer"
)

// Policy selects the issuance decision variant.
type Policy string

const (
	// PolicyPermissive trusts the caller-supplied subject id and performs
	// no directory lookup at issuance time.
	PolicyPermissive Policy = "permissive"
	// PolicyDirectory requires a directory match for the caller-supplied
	// subject id and enforces the domain allow-list.
	PolicyDirectory Policy = "directory"
)

// DefaultLoginPath is the interactive login entry point used for redirect
// outcomes when no login URL is configured.
const DefaultLoginPath = "/saml/login"

// Resolver is the directory lookup capability the service consumes.
type Resolver interface {
	ResolveByEmail(ctx context.Context, email string, attributes ...string) (*directory.Record, error)
	ResolveBySubjectID(ctx context.Context, key string, attributes ...string) (*directory.Record, error)
}

// ResponseSigner is the assertion signing capability the service consumes.
type ResponseSigner interface {
	SignedResponse(req signer.AssertionRequest) ([]byte, error)
}

// Config carries the issuance settings loaded once at process start.
type Config struct {
	// EntityID is the issuer identifier placed into assertions and metadata.
	EntityID string
	// SSOURL is the public single sign-on URL advertised in metadata.
	SSOURL string
	// LoginURL is the interactive login entry point redirect target.
	LoginURL string
	// Policy selects the issuance variant. Defaults to PolicyPermissive.
	Policy Policy
	// AllowedDomains is the email domain allow-list for the directory
	// policy. Empty means every domain is accepted.
	AllowedDomains []string
	// SigningCertificate is published in the metadata document.
	SigningCertificate *x509.Certificate
}

// Validate fills defaults and rejects unusable configurations.
func (c *Config) Validate() error {
	if c.EntityID == "" {
		return fmt.Errorf("entity id is required")
	}
	if c.Policy == "" {
		c.Policy = PolicyPermissive
	}
	if c.Policy != PolicyPermissive && c.Policy != PolicyDirectory {
		return fmt.Errorf("unknown policy: %s", c.Policy)
	}
	if c.LoginURL == "" {
		c.LoginURL = DefaultLoginPath
	}
	return nil
}

// Service is the issuance decision logic. Stateless; safe for concurrent use.
type Service struct {
	conf     Config
	resolver Resolver
	signer   ResponseSigner
	metrics  *observability.Metrics
}

// NewService wires the decision logic to its capabilities. metrics may be nil.
func NewService(conf Config, resolver Resolver, responseSigner ResponseSigner, metrics *observability.Metrics) (*Service, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if responseSigner == nil {
		return nil, fmt.Errorf("signer is required")
	}
	return &Service{
		conf:     conf,
		resolver: resolver,
		signer:   responseSigner,
		metrics:  metrics,
	}, nil
}

// Resolution is the outcome of a successful identity resolution.
type Resolution struct {
	SubjectID string            `json:"subjectId"`
	Identity  identity.Identity `json:"identity"`
}

// Resolve looks up the email in the directory and returns the subject id a
// client should use for issuance. Returns ErrNotFound when no directory
// record exists or the record carries no usable identifier; lookup failures
// propagate as *directory.LookupError.
func (s *Service) Resolve(ctx context.Context, email string) (*Resolution, error) {
	if email == "" || !strings.Contains(email, "@") {
		return nil, NewValidationError("valid email is required")
	}

	start := time.Now()
	rec, err := s.resolver.ResolveByEmail(ctx, email)
	if err != nil {
		s.metrics.ObserveLookup(directory.AttrMail, observability.LookupError, time.Since(start))
		return nil, err
	}
	if rec == nil {
		s.metrics.ObserveLookup(directory.AttrMail, observability.LookupNoMatch, time.Since(start))
		return nil, ErrNotFound
	}
	s.metrics.ObserveLookup(directory.AttrMail, observability.LookupMatch, time.Since(start))

	subjectID := rec.EmployeeID
	if subjectID == "" {
		subjectID = rec.AlternateSubjectID
	}
	if subjectID == "" {
		return nil, ErrNotFound
	}

	return &Resolution{
		SubjectID: subjectID,
		Identity:  identity.Derive(rec, email, subjectID),
	}, nil
}

// IssueRequest is the caller input to the issuance endpoint.
type IssueRequest struct {
	Email          string `json:"email"`
	SubjectID      string `json:"subjectId"`
	RequestID      string `json:"requestId,omitempty"`
	Audience       string `json:"audience,omitempty"`
	DestinationURL string `json:"destinationUrl,omitempty"`
	RelayState     string `json:"relayState,omitempty"`
	// EncodedRequest is the base64 AuthnRequest payload; its embedded
	// values take precedence over the discrete fields above.
	EncodedRequest string `json:"samlRequest,omitempty"`
}

// IssuanceResult is either an issued auto-post document or a redirect to
// the interactive login entry point. No other terminal states.
type IssuanceResult struct {
	Issued      bool
	Document    string
	RedirectURL string
}

// Issue runs the issuance pipeline: validate, normalize protocol
// parameters, resolve per policy, derive the canonical identity, sign and
// wrap the response in the auto-post form.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (result *IssuanceResult, err error) {
	start := time.Now()
	defer func() {
		s.metrics.ObserveIssuance(string(s.conf.Policy), issuanceOutcome(result, err), time.Since(start))
	}()

	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return nil, NewValidationError("valid email is required")
	}
	if req.SubjectID == "" {
		return nil, NewValidationError("subjectId is required")
	}

	params := samlp.Extract(req.EncodedRequest, samlp.Parameters{
		Audience:       req.Audience,
		DestinationURL: req.DestinationURL,
		RequestID:      req.RequestID,
		RelayState:     req.RelayState,
	})
	if params.Audience == "" {
		return nil, NewValidationError("audience is required")
	}
	if params.DestinationURL == "" {
		return nil, NewValidationError("destinationUrl is required")
	}

	logger := observability.FromContext(ctx)

	var id identity.Identity
	subjectID := req.SubjectID
	switch s.conf.Policy {
	case PolicyDirectory:
		// Allow-list check precedes any directory round trip.
		if !s.domainAllowed(req.Email) {
			return nil, &AccessDeniedError{Email: req.Email}
		}

		lookupStart := time.Now()
		rec, lookupErr := s.resolver.ResolveBySubjectID(ctx, req.SubjectID)
		if lookupErr != nil {
			// Collapsed into the redirect outcome, but logged distinctly
			// from a plain no-match.
			s.metrics.ObserveLookup(directory.AttrAlternateSubjectID, observability.LookupError, time.Since(lookupStart))
			logger.WithError(lookupErr).Warn("directory lookup failed, redirecting to interactive login")
			return s.redirectResult(req)
		}
		if rec == nil {
			s.metrics.ObserveLookup(directory.AttrAlternateSubjectID, observability.LookupNoMatch, time.Since(lookupStart))
			return s.redirectResult(req)
		}
		s.metrics.ObserveLookup(directory.AttrAlternateSubjectID, observability.LookupMatch, time.Since(lookupStart))

		id = identity.Derive(rec, req.Email, req.SubjectID)
		subjectID = id.SubjectID
	default:
		// Permissive: the caller-supplied subject id is already trusted.
		id = identity.Derive(nil, req.Email, req.SubjectID)
	}

	claims := map[string]string{
		"email":     id.Email,
		"subjectId": subjectID,
		"firstName": id.FirstName,
		"lastName":  id.LastName,
	}

	signedDoc, err := s.signer.SignedResponse(signer.AssertionRequest{
		Issuer:         s.conf.EntityID,
		Audience:       params.Audience,
		DestinationURL: params.DestinationURL,
		RequestID:      params.RequestID,
		SubjectNameID:  id.Email,
		Claims:         claims,
	})
	if err != nil {
		return nil, &SignerError{Err: err}
	}

	html, err := signer.RenderAutoPostForm(params.DestinationURL, []signer.FormField{
		{Name: "RelayState", Value: params.RelayState},
		{Name: "SAMLResponse", Value: base64.StdEncoding.EncodeToString(signedDoc)},
	})
	if err != nil {
		return nil, &SignerError{Err: err}
	}

	return &IssuanceResult{Issued: true, Document: html}, nil
}

// Metadata renders the identity provider EntityDescriptor document.
func (s *Service) Metadata() ([]byte, error) {
	if s.conf.SigningCertificate == nil {
		return nil, fmt.Errorf("no signing certificate configured")
	}
	cert := base64.StdEncoding.EncodeToString(s.conf.SigningCertificate.Raw)

	metadataXML := fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata"
                     xmlns:ds="http://www.w3.org/2000/09/xmldsig#"
                     entityID="%s">
  <md:IDPSSODescriptor WantAuthnRequestsSigned="false"
                       protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:KeyDescriptor use="signing">
      <ds:KeyInfo>
        <ds:X509Data>
          <ds:X509Certificate>%s</ds:X509Certificate>
        </ds:X509Data>
      </ds:KeyInfo>
    </md:KeyDescriptor>
    <md:NameIDFormat>urn:oasis:names:tc:SAML:1.1:nameid-format:emailAddress</md:NameIDFormat>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-Redirect"
                            Location="%s"/>
    <md:SingleSignOnService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST"
                            Location="%s"/>
  </md:IDPSSODescriptor>
</md:EntityDescriptor>`,
		s.conf.EntityID, cert, s.conf.SSOURL, s.conf.SSOURL)

	return []byte(metadataXML), nil
}

// domainAllowed applies the allow-list as a case-insensitive suffix match
// on the email. An empty list accepts everything.
func (s *Service) domainAllowed(email string) bool {
	if len(s.conf.AllowedDomains) == 0 {
		return true
	}
	lowered := strings.ToLower(email)
	for _, domain := range s.conf.AllowedDomains {
		if strings.HasSuffix(lowered, strings.ToLower(domain)) {
			return true
		}
	}
	return false
}

// redirectResult builds the redirect to the interactive login entry point,
// carrying the caller input so the interactive flow can resume.
func (s *Service) redirectResult(req IssueRequest) (*IssuanceResult, error) {
	target, err := url.Parse(s.conf.LoginURL)
	if err != nil {
		return nil, fmt.Errorf("invalid login URL: %w", err)
	}
	q := target.Query()
	if req.Email != "" {
		q.Set("email", req.Email)
	}
	if req.RelayState != "" {
		q.Set("relayState", req.RelayState)
	}
	target.RawQuery = q.Encode()
	return &IssuanceResult{Issued: false, RedirectURL: target.String()}, nil
}

func issuanceOutcome(result *IssuanceResult, err error) string {
	switch {
	case err == nil && result != nil && result.Issued:
		return observability.OutcomeIssued
	case err == nil:
		return observability.OutcomeRedirect
	default:
		switch err.(type) {
		case *ValidationError:
			return observability.OutcomeValidationError
		case *AccessDeniedError:
			return observability.OutcomeAccessDenied
		case *SignerError:
			return observability.OutcomeSignerError
		default:
			return observability.LookupError
		}
	}
}
