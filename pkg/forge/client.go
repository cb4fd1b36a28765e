// Package forge is an HTTP client for the remote strategy-script
// generation service. It covers the generate, feedback, activities,
// status, and health operations; each is a single request/response
// round trip.
package forge

import (
	"fmt"
	"net/http"
	"strings"
	"time"
)

// defaultTimeout bounds a single generate call. Generation can
// legitimately run for minutes, so the client must not use the usual
// short HTTP timeout, but an indefinite hang is never acceptable.
const defaultTimeout = 5 * time.Minute

// TransportError is a failed round trip to the generation service:
// network failure, non-2xx status, or an unparseable body.
type TransportError struct {
	Op      string
	Message string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client talks to the generation service.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout overrides the generate-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service base URL.
func (c *Client) BaseURL() string { return c.baseURL }
