// Package upstream talks to the streaming platform's REST API. The exchange
// is two HTTP calls per check: a client-credentials token grant, then a
// streams query for the configured broadcaster. Any non-2xx or malformed
// response fails the whole check; retrying is the caller's business.
package upstream

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

// ErrMissingCredential marks a configuration failure, as opposed to a
// transient upstream one. Callers surface it instead of falling back to
// stale data.
var ErrMissingCredential = errors.New("upstream: client secret not configured")

type httpDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// Config identifies the account being watched and the credential for the
// token exchange.
type Config struct {
	ClientID     string
	ClientSecret string
	Broadcaster  string
	TokenURL     string
	StreamsURL   string
}

// Client performs the two-step liveness check.
type Client struct {
	cfg    Config
	client httpDoer
}

// NewClient builds an upstream client. When client is nil a default HTTP
// client with a conservative timeout is used.
func NewClient(cfg Config, client httpDoer) *Client {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{cfg: cfg, client: client}
}

// LiveStatus reports whether the configured broadcaster currently has an
// active stream.
func (c *Client) LiveStatus(ctx context.Context) (bool, error) {
	if strings.TrimSpace(c.cfg.ClientSecret) == "" {
		return false, ErrMissingCredential
	}

	token, err := c.fetchToken(ctx)
	if err != nil {
		return false, err
	}
	return c.fetchStreamState(ctx, token)
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	params := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"grant_type":    {"client_credentials"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("upstream: token request build: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upstream: token request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return "", fmt.Errorf("upstream: token read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("upstream: token request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("upstream: token decode: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("upstream: token response missing access_token")
	}
	return payload.AccessToken, nil
}

func (c *Client) fetchStreamState(ctx context.Context, token string) (bool, error) {
	query := url.Values{"user_login": {c.cfg.Broadcaster}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.StreamsURL+"?"+query.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("upstream: streams request build: %w", err)
	}
	req.Header.Set("Client-ID", c.cfg.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("upstream: streams request: %w", err)
	}
	body, err := readBody(resp)
	if err != nil {
		return false, fmt.Errorf("upstream: streams read: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false, fmt.Errorf("upstream: streams request failed with status %d", resp.StatusCode)
	}

	var payload struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return false, fmt.Errorf("upstream: streams decode: %w", err)
	}
	// A live broadcaster shows up as a non-empty data array.
	return len(payload.Data) > 0, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	closeErr := resp.Body.Close()
	if err != nil {
		return nil, err
	}
	if closeErr != nil {
		return nil, closeErr
	}
	return body, nil
}
