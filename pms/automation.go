package pms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultAutomationBaseURL is the Quendoo cloud automation endpoint.
const DefaultAutomationBaseURL = "https://us-central1-quednoo-chatgtp-mailing.cloudfunctions.net"

// AutomationClient calls the Quendoo cloud automation functions (outbound
// voice and email). These authenticate with service-level bearer tokens, not
// tenant credentials.
type AutomationClient struct {
	baseURL     string
	callBearer  string
	emailAPIKey string
	httpClient  *http.Client
}

// AutomationOption configures an AutomationClient.
type AutomationOption func(*AutomationClient)

// WithAutomationBaseURL overrides the cloud function endpoint.
func WithAutomationBaseURL(u string) AutomationOption {
	return func(c *AutomationClient) { c.baseURL = u }
}

// WithAutomationHTTPClient substitutes the underlying HTTP client.
func WithAutomationHTTPClient(hc *http.Client) AutomationOption {
	return func(c *AutomationClient) { c.httpClient = hc }
}

// NewAutomationClient constructs the automation client. callBearer authorizes
// make_call; emailAPIKey authorizes send_quendoo_email. Either may be empty
// when the corresponding feature is not provisioned, in which case calls fail
// with a configuration error.
func NewAutomationClient(callBearer, emailAPIKey string, opts ...AutomationOption) *AutomationClient {
	c := &AutomationClient{
		baseURL:     DefaultAutomationBaseURL,
		callBearer:  callBearer,
		emailAPIKey: emailAPIKey,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *AutomationClient) post(ctx context.Context, path, bearer string, payload any) (map[string]any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("automation request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if len(respBody) == 0 {
		return map[string]any{"status": resp.StatusCode}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}

// MakeCall initiates a voice call that speaks the given message.
func (c *AutomationClient) MakeCall(ctx context.Context, phone, message string) (map[string]any, error) {
	if c.callBearer == "" {
		return nil, fmt.Errorf("automation bearer token is not configured")
	}
	return c.post(ctx, "/make_call", c.callBearer, map[string]string{
		"phone":   phone,
		"message": message,
	})
}

// SendEmail sends an email (HTML supported in the body) via the Quendoo
// email service.
func (c *AutomationClient) SendEmail(ctx context.Context, to, subject, message string) (map[string]any, error) {
	if c.emailAPIKey == "" {
		return nil, fmt.Errorf("email api key is not configured")
	}
	return c.post(ctx, "/send_quendoo_email", c.emailAPIKey, map[string]string{
		"to":      to,
		"subject": subject,
		"message": message,
	})
}
