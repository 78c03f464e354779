package autoauth

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pandolabs/mockidp/pkg/idp"
)

type fakeClient struct {
	subjectID  string
	resolveErr error
	resolveFn  func(call int) (string, error)
	result     *idp.IssuanceResult
	issueErr   error

	resolveCalls []string
	issueCalls   []idp.IssueRequest
}

func (f *fakeClient) Resolve(ctx context.Context, email string) (string, error) {
	f.resolveCalls = append(f.resolveCalls, email)
	if f.resolveFn != nil {
		return f.resolveFn(len(f.resolveCalls))
	}
	return f.subjectID, f.resolveErr
}

func (f *fakeClient) Issue(ctx context.Context, req idp.IssueRequest) (*idp.IssuanceResult, error) {
	f.issueCalls = append(f.issueCalls, req)
	if f.issueErr != nil {
		return nil, f.issueErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return &idp.IssuanceResult{Issued: true, Document: "<html>auto-post</html>"}, nil
}

type fakeBrowser struct {
	document    string
	navigatedTo string
	errorShown  string
	renderErr   error
}

func (f *fakeBrowser) RenderDocument(html string) error {
	f.document = html
	return f.renderErr
}

func (f *fakeBrowser) Navigate(url string) error {
	f.navigatedTo = url
	return nil
}

func (f *fakeBrowser) RenderError(message string) { f.errorShown = message }

type fakePrompter struct {
	emails []string
	errs   []string

	next int
}

func (f *fakePrompter) PromptEmail(ctx context.Context) (string, error) {
	if f.next >= len(f.emails) {
		return "", io.EOF
	}
	email := f.emails[f.next]
	f.next++
	return email, nil
}

func (f *fakePrompter) ShowError(message string) { f.errs = append(f.errs, message) }

func autoPage() PageRequest {
	return PageRequest{
		Email:          "jane.doe@corp.com",
		Audience:       "https://sp.example.com",
		DestinationURL: "https://sp.example.com/acs",
		RequestID:      "_req-1",
		RelayState:     "state-1",
	}
}

func newTestMachine(t *testing.T, client *fakeClient, browser *fakeBrowser, prompter *fakePrompter) *Machine {
	t.Helper()
	m, err := NewMachine(client, browser, prompter, nil)
	require.NoError(t, err)
	return m
}

func TestNewMachine_RequiresCollaborators(t *testing.T) {
	_, err := NewMachine(nil, &fakeBrowser{}, &fakePrompter{}, nil)
	assert.Error(t, err)
	_, err = NewMachine(&fakeClient{}, nil, &fakePrompter{}, nil)
	assert.Error(t, err)
	_, err = NewMachine(&fakeClient{}, &fakeBrowser{}, nil, nil)
	assert.Error(t, err)
}

func TestRun_AutoAuthSuccess(t *testing.T) {
	client := &fakeClient{subjectID: "731232425"}
	browser := &fakeBrowser{}
	m := newTestMachine(t, client, browser, &fakePrompter{})

	state, err := m.Run(context.Background(), autoPage())
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, StateSuccess, m.State())

	require.Len(t, client.resolveCalls, 1)
	assert.Equal(t, "jane.doe@corp.com", client.resolveCalls[0])
	require.Len(t, client.issueCalls, 1)
	issued := client.issueCalls[0]
	assert.Equal(t, "731232425", issued.SubjectID)
	assert.Equal(t, "https://sp.example.com", issued.Audience)
	assert.Equal(t, "state-1", issued.RelayState)
	assert.Equal(t, "<html>auto-post</html>", browser.document)
}

func TestRun_EncodedPayloadAloneTriggersAutoAuth(t *testing.T) {
	client := &fakeClient{subjectID: "731232425"}
	m := newTestMachine(t, client, &fakeBrowser{}, &fakePrompter{})

	state, err := m.Run(context.Background(), PageRequest{
		Email:          "jane.doe@corp.com",
		EncodedRequest: "ZmFrZS1wYXlsb2Fk",
	})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, state)
	require.Len(t, client.issueCalls, 1)
	assert.Equal(t, "ZmFrZS1wYXlsb2Fk", client.issueCalls[0].EncodedRequest)
}

func TestRun_PartialTripleFallsBackToInteractive(t *testing.T) {
	client := &fakeClient{subjectID: "731232425"}
	prompter := &fakePrompter{emails: []string{"jane.doe@corp.com"}}
	m := newTestMachine(t, client, &fakeBrowser{}, prompter)

	page := autoPage()
	page.RequestID = ""
	state, err := m.Run(context.Background(), page)
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, state)
	assert.Equal(t, 1, prompter.next, "missing request id forces interactive entry")
}

func TestRun_SilentDegradation(t *testing.T) {
	t.Run("junk-email", func(t *testing.T) {
		client := &fakeClient{subjectID: "731232425"}
		prompter := &fakePrompter{emails: []string{"jane.doe@corp.com"}}
		m := newTestMachine(t, client, &fakeBrowser{}, prompter)

		page := autoPage()
		page.Email = "not-an-email"
		state, err := m.Run(context.Background(), page)
		require.NoError(t, err)
		assert.Equal(t, StateSuccess, state)
		assert.Empty(t, prompter.errs, "silent degradation never shows an error")
		require.Len(t, client.resolveCalls, 1, "junk email is never sent for resolution")
	})

	t.Run("lookup-failure", func(t *testing.T) {
		client := &fakeClient{resolveErr: errors.New("connection refused")}
		prompter := &fakePrompter{}
		m := newTestMachine(t, client, &fakeBrowser{}, prompter)

		state, err := m.Run(context.Background(), autoPage())
		assert.Equal(t, StateFailed, state)
		assert.Error(t, err, "prompter gave up after degradation")
		assert.Empty(t, prompter.errs)
	})

	t.Run("no-subject-id", func(t *testing.T) {
		// First (silent) resolve finds nothing, the one driven by the
		// interactive prompt succeeds.
		client := &fakeClient{resolveFn: func(call int) (string, error) {
			if call == 1 {
				return "", nil
			}
			return "731232425", nil
		}}
		prompter := &fakePrompter{emails: []string{"jane.doe@corp.com"}}
		m := newTestMachine(t, client, &fakeBrowser{}, prompter)

		state, err := m.Run(context.Background(), autoPage())
		require.NoError(t, err)
		assert.Equal(t, StateSuccess, state)
		assert.Empty(t, prompter.errs)
		assert.Len(t, client.resolveCalls, 2)
	})
}

func TestRun_InteractiveValidation(t *testing.T) {
	client := &fakeClient{subjectID: "731232425"}
	prompter := &fakePrompter{emails: []string{"bogus", "jane.doe@corp.com"}}
	m := newTestMachine(t, client, &fakeBrowser{}, prompter)

	state, err := m.Run(context.Background(), PageRequest{})
	require.NoError(t, err)
	assert.Equal(t, StateSuccess, state)
	require.Len(t, prompter.errs, 1)
	assert.Contains(t, prompter.errs[0], "valid email")
	require.Len(t, client.resolveCalls, 1, "invalid entry is rejected before any lookup")
}

func TestRun_InteractiveNoAccountRetries(t *testing.T) {
	client := &fakeClient{}
	prompter := &fakePrompter{emails: []string{"ghost@corp.com"}}
	m := newTestMachine(t, client, &fakeBrowser{}, prompter)

	state, err := m.Run(context.Background(), PageRequest{})
	assert.Equal(t, StateFailed, state)
	assert.Error(t, err)
	require.Len(t, prompter.errs, 1)
	assert.Contains(t, prompter.errs[0], "no account")
}

func TestRun_RedirectToLogin(t *testing.T) {
	client := &fakeClient{
		subjectID: "731232425",
		result:    &idp.IssuanceResult{RedirectURL: "/saml/login?email=jane.doe%40corp.com"},
	}
	browser := &fakeBrowser{}
	m := newTestMachine(t, client, browser, &fakePrompter{})

	state, err := m.Run(context.Background(), autoPage())
	require.NoError(t, err)
	assert.Equal(t, StateRedirectToLogin, state)
	assert.Equal(t, "/saml/login?email=jane.doe%40corp.com", browser.navigatedTo)
	assert.Empty(t, browser.document)
}

func TestRun_IssuanceFailure(t *testing.T) {
	client := &fakeClient{subjectID: "731232425", issueErr: errors.New("status 502")}
	browser := &fakeBrowser{}
	m := newTestMachine(t, client, browser, &fakePrompter{})

	state, err := m.Run(context.Background(), autoPage())
	assert.Equal(t, StateFailed, state)
	assert.Error(t, err)
	assert.Equal(t, "authentication failed", browser.errorShown)
}

func TestRun_SingleShot(t *testing.T) {
	client := &fakeClient{subjectID: "731232425"}
	m := newTestMachine(t, client, &fakeBrowser{}, &fakePrompter{})

	state, err := m.Run(context.Background(), autoPage())
	require.NoError(t, err)
	require.Equal(t, StateSuccess, state)

	state, err = m.Run(context.Background(), autoPage())
	assert.Error(t, err)
	assert.Equal(t, StateSuccess, state, "terminal state is preserved")
	assert.Len(t, client.issueCalls, 1, "a finished machine issues nothing")
}

func TestRun_ContextCancelledDuringInteractive(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newTestMachine(t, &fakeClient{}, &fakeBrowser{}, &fakePrompter{emails: []string{"jane.doe@corp.com"}})
	state, err := m.Run(ctx, PageRequest{})
	assert.Equal(t, StateFailed, state)
	assert.ErrorIs(t, err, context.Canceled)
}
