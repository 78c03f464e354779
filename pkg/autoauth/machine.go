package autoauth

import (
	"context"
	"fmt"
	"regexp"

	"github.com/pandolabs/mockidp/pkg/idp"
	"github.com/pandolabs/mockidp/pkg/observability"
)

// State is one node of the orchestrator state machine.
type State string

const (
	StateIdle               State = "idle"
	StateDeciding           State = "deciding"
	StateAutoAuthenticating State = "auto_authenticating"
	StateInteractive        State = "interactive"
	StateSubmitting         State = "submitting"
	StateSuccess            State = "success"
	StateRedirectToLogin    State = "redirect_to_login"
	StateFailed             State = "failed"
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// PageRequest describes the inbound page load that starts a login attempt.
type PageRequest struct {
	// Email is the pre-discovered enrollment email, possibly empty or junk.
	Email string
	// EncodedRequest is the base64 AuthnRequest payload, when present.
	EncodedRequest string
	// Discrete protocol parameters, when present.
	Audience       string
	DestinationURL string
	RequestID      string
	RelayState     string
}

// hasProtocolContext reports whether the page carries enough protocol
// parameters to attempt silent authentication: either the encoded payload
// or the full discrete triple.
func (p PageRequest) hasProtocolContext() bool {
	if p.EncodedRequest != "" {
		return true
	}
	return p.Audience != "" && p.DestinationURL != "" && p.RequestID != ""
}

// Client is the identity provider API the machine drives.
type Client interface {
	// Resolve returns the subject id for the email, or "" when the
	// directory has no usable identity.
	Resolve(ctx context.Context, email string) (string, error)
	// Issue submits the issuance request and returns the terminal outcome.
	Issue(ctx context.Context, req idp.IssueRequest) (*idp.IssuanceResult, error)
}

// Browser is the document effect surface.
type Browser interface {
	// RenderDocument replaces the current document with the auto-post body.
	RenderDocument(html string) error
	// Navigate sends the user to the interactive login entry point.
	Navigate(url string) error
	// RenderError shows a generic terminal error page.
	RenderError(message string)
}

// Prompter is the interactive email entry surface.
type Prompter interface {
	// PromptEmail blocks for user input. An error aborts the attempt.
	PromptEmail(ctx context.Context) (string, error)
	// ShowError displays a visible, dismissible validation error.
	ShowError(message string)
}

// Machine is the auto-auth orchestrator. One machine serves exactly one
// login attempt; it never returns to idle.
type Machine struct {
	client   Client
	browser  Browser
	prompter Prompter
	logger   *observability.Logger
	metrics  *observability.Metrics

	state State
}

// NewMachine wires the orchestrator to its effect surfaces. logger and
// metrics may be nil.
func NewMachine(client Client, browser Browser, prompter Prompter, logger *observability.Logger) (*Machine, error) {
	if client == nil {
		return nil, fmt.Errorf("client is required")
	}
	if browser == nil {
		return nil, fmt.Errorf("browser is required")
	}
	if prompter == nil {
		return nil, fmt.Errorf("prompter is required")
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	return &Machine{
		client:   client,
		browser:  browser,
		prompter: prompter,
		logger:   logger,
		state:    StateIdle,
	}, nil
}

// WithMetrics attaches transition counters.
func (m *Machine) WithMetrics(metrics *observability.Metrics) *Machine {
	m.metrics = metrics
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

func (m *Machine) transition(to State) {
	m.logger.WithFields(map[string]interface{}{
		"from": string(m.state),
		"to":   string(to),
	}).Debug("state transition")
	if m.metrics != nil {
		m.metrics.AutoAuthTransitionsTotal.WithLabelValues(string(m.state), string(to)).Inc()
	}
	m.state = to
}

// Run drives the attempt to a terminal state. The machine is single-shot;
// a second Run on the same machine fails.
func (m *Machine) Run(ctx context.Context, page PageRequest) (State, error) {
	if m.state != StateIdle {
		return m.state, fmt.Errorf("machine already ran (state %s)", m.state)
	}

	m.transition(StateDeciding)
	if page.hasProtocolContext() {
		return m.autoAuthenticate(ctx, page)
	}
	return m.interactive(ctx, page)
}

// autoAuthenticate is the silent path. Any validation or lookup problem
// degrades to interactive entry without surfacing an error to the user.
func (m *Machine) autoAuthenticate(ctx context.Context, page PageRequest) (State, error) {
	m.transition(StateAutoAuthenticating)

	if !emailPattern.MatchString(page.Email) {
		m.logger.Debug("pre-discovered email is not usable, degrading to interactive entry")
		return m.interactive(ctx, page)
	}

	subjectID, err := m.client.Resolve(ctx, page.Email)
	if err != nil {
		m.logger.WithError(err).Debug("silent resolution failed, degrading to interactive entry")
		return m.interactive(ctx, page)
	}
	if subjectID == "" {
		return m.interactive(ctx, page)
	}

	return m.submit(ctx, page, page.Email, subjectID)
}

// interactive prompts for an email until one resolves or the prompter
// aborts. Validation problems are shown to the user and retried.
func (m *Machine) interactive(ctx context.Context, page PageRequest) (State, error) {
	m.transition(StateInteractive)

	for {
		if err := ctx.Err(); err != nil {
			m.transition(StateFailed)
			return StateFailed, err
		}

		email, err := m.prompter.PromptEmail(ctx)
		if err != nil {
			m.transition(StateFailed)
			return StateFailed, fmt.Errorf("email entry aborted: %w", err)
		}
		if !emailPattern.MatchString(email) {
			m.prompter.ShowError("enter a valid email address")
			continue
		}

		subjectID, err := m.client.Resolve(ctx, email)
		if err != nil {
			m.prompter.ShowError("account lookup failed, try again")
			continue
		}
		if subjectID == "" {
			m.prompter.ShowError("no account found for this email")
			continue
		}

		return m.submit(ctx, page, email, subjectID)
	}
}

// submit performs the issuance call and applies the terminal effect.
func (m *Machine) submit(ctx context.Context, page PageRequest, email, subjectID string) (State, error) {
	m.transition(StateSubmitting)

	result, err := m.client.Issue(ctx, idp.IssueRequest{
		Email:          email,
		SubjectID:      subjectID,
		Audience:       page.Audience,
		DestinationURL: page.DestinationURL,
		RequestID:      page.RequestID,
		RelayState:     page.RelayState,
		EncodedRequest: page.EncodedRequest,
	})
	if err != nil {
		m.transition(StateFailed)
		m.browser.RenderError("authentication failed")
		return StateFailed, err
	}

	if !result.Issued {
		m.transition(StateRedirectToLogin)
		if err := m.browser.Navigate(result.RedirectURL); err != nil {
			return StateRedirectToLogin, fmt.Errorf("navigation failed: %w", err)
		}
		return StateRedirectToLogin, nil
	}

	if err := m.browser.RenderDocument(result.Document); err != nil {
		m.transition(StateFailed)
		return StateFailed, fmt.Errorf("failed to deliver auto-post document: %w", err)
	}
	m.transition(StateSuccess)
	return StateSuccess, nil
}
