package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pandolabs/mockidp/pkg/autoauth"
)

var (
	serverURL      = flag.String("server", getEnv("MOCKIDP_AGENT_SERVER", "http://localhost:4000"), "Identity provider base URL")
	email          = flag.String("email", "", "Enrollment email (prompted interactively when empty)")
	encodedRequest = flag.String("saml-request", "", "Base64 encoded AuthnRequest payload")
	audience       = flag.String("audience", "", "Service provider entity id")
	destinationURL = flag.String("destination", "", "Assertion consumer service URL")
	requestID      = flag.String("request-id", "", "AuthnRequest id to echo in the response")
	relayState     = flag.String("relay-state", "", "Opaque relay state")
	outputPath     = flag.String("output", "-", "File for the auto-post document, - for stdout")
	timeout        = flag.Duration("timeout", 30*time.Second, "Per-request timeout")
	verbose        = flag.Bool("verbose", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}

	if err := run(logger); err != nil {
		logger.WithError(err).Fatal("authentication attempt failed")
	}
}

func run(logger *logrus.Logger) error {
	client, err := autoauth.NewHTTPClient(*serverURL, *timeout)
	if err != nil {
		return err
	}

	browser := &fileBrowser{logger: logger, path: *outputPath}
	prompter := &stdinPrompter{
		logger: logger,
		reader: bufio.NewReader(os.Stdin),
		hint:   discoverDomainHint(logger, *serverURL, *timeout),
	}

	machine, err := autoauth.NewMachine(client, browser, prompter, nil)
	if err != nil {
		return err
	}

	state, err := machine.Run(context.Background(), autoauth.PageRequest{
		Email:          *email,
		EncodedRequest: *encodedRequest,
		Audience:       *audience,
		DestinationURL: *destinationURL,
		RequestID:      *requestID,
		RelayState:     *relayState,
	})
	if err != nil {
		return err
	}

	logger.WithField("state", string(state)).Info("authentication attempt finished")
	return nil
}

// discoverDomainHint asks the provider for the host profile domain so the
// interactive prompt can suggest it. Best effort only.
func discoverDomainHint(logger *logrus.Logger, baseURL string, timeout time.Duration) string {
	httpClient := &http.Client{Timeout: timeout}
	resp, err := httpClient.Get(strings.TrimRight(baseURL, "/") + "/api/profile-identifier")
	if err != nil {
		logger.WithError(err).Debug("profile discovery unavailable")
		return ""
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ""
	}

	var body struct {
		ProfileIdentifier *string `json:"profileIdentifier"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.ProfileIdentifier == nil {
		return ""
	}
	// Strip the synthetic default. prefix so the hint reads as a domain.
	return strings.TrimPrefix(*body.ProfileIdentifier, "default.")
}

// fileBrowser delivers documents to a file or stdout and reports
// navigation targets on the terminal.
type fileBrowser struct {
	logger *logrus.Logger
	path   string
}

func (b *fileBrowser) RenderDocument(html string) error {
	if b.path == "-" {
		_, err := fmt.Fprintln(os.Stdout, html)
		return err
	}
	if err := os.WriteFile(b.path, []byte(html), 0o600); err != nil {
		return err
	}
	b.logger.WithField("path", b.path).Info("auto-post document written")
	return nil
}

func (b *fileBrowser) Navigate(url string) error {
	b.logger.WithField("url", url).Info("interactive login required, open this URL to continue")
	return nil
}

func (b *fileBrowser) RenderError(message string) {
	b.logger.Error(message)
}

// stdinPrompter reads the email from the terminal.
type stdinPrompter struct {
	logger *logrus.Logger
	reader *bufio.Reader
	hint   string
}

func (p *stdinPrompter) PromptEmail(ctx context.Context) (string, error) {
	if p.hint != "" {
		fmt.Fprintf(os.Stderr, "email (@%s): ", p.hint)
	} else {
		fmt.Fprint(os.Stderr, "email: ")
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (p *stdinPrompter) ShowError(message string) {
	p.logger.Warn(message)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
