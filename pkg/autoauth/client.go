package autoauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pandolabs/mockidp/pkg/idp"
)

const defaultRequestTimeout = 15 * time.Second

// HTTPClient drives the identity provider API over HTTP. It never follows
// redirects: a 302 from the issuance endpoint is the signal that the
// directory could not vouch for the identity.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the identity provider at baseURL.
// A non-positive timeout uses the default.
func NewHTTPClient(baseURL string, timeout time.Duration) (*HTTPClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("baseURL is required")
	}
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}, nil
}

func (c *HTTPClient) postJSON(ctx context.Context, path string, payload interface{}) (*http.Response, []byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read response: %w", err)
	}
	return resp, data, nil
}

type resolveRequest struct {
	Email string `json:"email"`
}

type resolveResponse struct {
	Success   bool    `json:"success"`
	SubjectID *string `json:"subjectId"`
}

// Resolve asks the provider for the subject id bound to the email. A 404
// means the directory has no usable identity and is not an error.
func (c *HTTPClient) Resolve(ctx context.Context, email string) (string, error) {
	resp, data, err := c.postJSON(ctx, "/api/saml/resolve", resolveRequest{Email: email})
	if err != nil {
		return "", err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		var body resolveResponse
		if err := json.Unmarshal(data, &body); err != nil {
			return "", fmt.Errorf("malformed resolution response: %w", err)
		}
		if body.SubjectID == nil {
			return "", nil
		}
		return *body.SubjectID, nil
	case http.StatusNotFound:
		return "", nil
	default:
		return "", fmt.Errorf("resolution failed with status %d", resp.StatusCode)
	}
}

// Issue submits the issuance request. A 200 carries the auto-post document,
// a 302 carries the interactive login location.
func (c *HTTPClient) Issue(ctx context.Context, req idp.IssueRequest) (*idp.IssuanceResult, error) {
	resp, data, err := c.postJSON(ctx, "/api/saml/auth", req)
	if err != nil {
		return nil, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return &idp.IssuanceResult{Issued: true, Document: string(data)}, nil
	case http.StatusFound:
		location := resp.Header.Get("Location")
		if location == "" {
			return nil, fmt.Errorf("issuance redirect carries no location")
		}
		return &idp.IssuanceResult{RedirectURL: location}, nil
	default:
		return nil, fmt.Errorf("issuance failed with status %d", resp.StatusCode)
	}
}
