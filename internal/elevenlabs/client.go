// Package elevenlabs acquires signed conversation endpoints from the
// ElevenLabs Conversational AI API.
package elevenlabs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrMissingCredentials is returned when the API key or agent id is absent.
var ErrMissingCredentials = errors.New("elevenlabs: missing API key or agent id")

// UpstreamError is a non-success answer from the ElevenLabs API, or a
// transport failure talking to it.
type UpstreamError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("elevenlabs: request failed: %v", e.Err)
	}
	return fmt.Sprintf("elevenlabs: unexpected status %d: %s", e.StatusCode, e.Body)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// Client talks to the ElevenLabs REST API.
type Client struct {
	apiKey     string
	agentID    string
	baseURL    string
	staticURL  string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	APIKey  string
	AgentID string
	BaseURL string
	// StaticSignedURL, when set, is returned as-is without calling the API.
	StaticSignedURL string
	Timeout         time.Duration
	HTTPClient      *http.Client
}

// New creates a new ElevenLabs client.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.elevenlabs.io"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:     cfg.APIKey,
		agentID:    cfg.AgentID,
		baseURL:    baseURL,
		staticURL:  cfg.StaticSignedURL,
		httpClient: httpClient,
	}
}

type signedURLResponse struct {
	SignedURL string `json:"signed_url"`
}

// SignedURL returns a short-lived websocket URL for a new conversation with
// the configured agent. The context bounds the whole exchange; there is no
// retry.
func (c *Client) SignedURL(ctx context.Context) (string, error) {
	if c.staticURL != "" {
		return c.staticURL, nil
	}
	if c.apiKey == "" || c.agentID == "" {
		return "", ErrMissingCredentials
	}

	endpoint := fmt.Sprintf("%s/v1/convai/conversation/get_signed_url?agent_id=%s",
		c.baseURL, url.QueryEscape(c.agentID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out signedURLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	if out.SignedURL == "" {
		return "", &UpstreamError{StatusCode: resp.StatusCode, Body: "response carried no signed_url"}
	}

	return out.SignedURL, nil
}
