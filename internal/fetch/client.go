// Package fetch is a small JSON-over-HTTP client for upstream sources.
package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultTimeout = 20 * time.Second

// StatusError is returned for non-2xx upstream responses.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s: %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Body)
}

// Temporary reports whether retrying later may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

type Client struct {
	http    *http.Client
	baseURL *url.URL

	apiKeyHeader string
	apiKey       string

	credentials *clientcredentials.Config
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(raw); err == nil {
			c.baseURL = u
		}
	}
}

// WithAPIKey sends key in header on every request.
func WithAPIKey(header, key string) Option {
	return func(c *Client) { c.apiKeyHeader, c.apiKey = header, key }
}

// WithClientCredentials authenticates with the OAuth2 client credentials
// grant. Tokens are fetched and refreshed by the transport.
func WithClientCredentials(cfg *clientcredentials.Config) Option {
	return func(c *Client) { c.credentials = cfg }
}

func New(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("base URL required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base URL: %w", err)
	}
	c := &Client{
		http:    &http.Client{Timeout: defaultTimeout},
		baseURL: u,
	}
	for _, o := range opts {
		o(c)
	}
	if c.credentials != nil {
		// The token endpoint is reached through the configured client too.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.http)
		authed := c.credentials.Client(ctx)
		authed.Timeout = c.http.Timeout
		c.http = authed
	}
	return c, nil
}

func (c *Client) newReq(ctx context.Context, p string, q map[string]string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = path.Join("/", u.Path, p)
	qq := u.Query()
	for k, v := range q {
		qq.Set(k, v)
	}
	u.RawQuery = qq.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

// GetJSON issues GET {base}/{p}?{q} and decodes the body into out.
func (c *Client) GetJSON(ctx context.Context, p string, q map[string]string, out any) error {
	req, err := c.newReq(ctx, p, q)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", p, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s: %w", p, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Method: req.Method, URL: req.URL.String(), StatusCode: resp.StatusCode, Body: truncate(string(body), 512)}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", p, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
