package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/user/stratforge/internal/types"
)

// GenerateRequest is the body for POST /generate.
type GenerateRequest struct {
	Prompt      string  `json:"prompt"`
	APIKey      string  `json:"api_key"`
	Temperature float64 `json:"temperature"`
	MaxAttempts int     `json:"max_attempts"`
}

// FeedbackRequest is the body for POST /feedback.
type FeedbackRequest struct {
	Code   string `json:"code"`
	Works  bool   `json:"works"`
	Reason string `json:"reason,omitempty"`
}

// feedbackResponse is the body returned by POST /feedback.
type feedbackResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// activitiesResponse is the body returned by GET /activities.
type activitiesResponse struct {
	Activities   []types.AgentActivity `json:"activities"`
	IsGenerating bool                  `json:"isGenerating"`
}

// healthResponse is the body returned by GET /health.
type healthResponse struct {
	Status string `json:"status"`
}

// Generate submits a prompt and blocks until the service settles the
// generation. The service reports domain failures (generation gave up)
// inside a 2xx envelope with success=false; those are returned as a
// result, not an error. A success envelope that carries no code is
// normalized to a failed result rather than surfaced as a partial
// success.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (*types.GenerationResult, error) {
	var result types.GenerationResult
	if err := c.post(ctx, "generate", "/generate", req, &result); err != nil {
		return nil, err
	}

	if result.Success && result.Code == "" {
		result.Success = false
		result.Error = "service reported success but returned no code"
	}
	return &result, nil
}

// FetchActivities returns the current activity snapshot and whether a
// generation is in flight. An empty snapshot is a valid response; this
// call is idempotent and safe to poll.
func (c *Client) FetchActivities(ctx context.Context) ([]types.AgentActivity, bool, error) {
	var resp activitiesResponse
	if err := c.get(ctx, "activities", "/activities", &resp); err != nil {
		return nil, false, err
	}
	return resp.Activities, resp.IsGenerating, nil
}

// SubmitFeedback records whether a generated script worked. The
// works-false-requires-reason rule is enforced by the caller, not here.
func (c *Client) SubmitFeedback(ctx context.Context, req FeedbackRequest) error {
	var resp feedbackResponse
	if err := c.post(ctx, "feedback", "/feedback", req, &resp); err != nil {
		return err
	}
	if !resp.Success {
		msg := resp.Error
		if msg == "" {
			msg = resp.Message
		}
		return &TransportError{Op: "feedback", Message: "service rejected feedback: " + msg}
	}
	return nil
}

// Status returns the service's informational status snapshot.
func (c *Client) Status(ctx context.Context) (*types.ServiceStatus, error) {
	var status types.ServiceStatus
	if err := c.get(ctx, "status", "/status", &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health reports whether the service is reachable and healthy.
func (c *Client) Health(ctx context.Context) (string, error) {
	var resp healthResponse
	if err := c.get(ctx, "health", "/health", &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}

// post sends a JSON body and decodes a JSON response into out.
func (c *Client) post(ctx context.Context, op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &TransportError{Op: op, Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &TransportError{Op: op, Message: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	return c.do(op, req, out)
}

// get issues a GET and decodes a JSON response into out.
func (c *Client) get(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return &TransportError{Op: op, Message: "create request", Err: err}
	}
	return c.do(op, req, out)
}

func (c *Client) do(op string, req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &TransportError{Op: op, Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: op, Message: "read response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &TransportError{
			Op:      op,
			Message: fmt.Sprintf("service returned status %d: %s", resp.StatusCode, errorMessage(respBody)),
		}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &TransportError{Op: op, Message: "parse response", Err: err}
	}
	return nil
}

// errorMessage extracts the "error" field from a JSON error body, falling
// back to the raw body text.
func errorMessage(body []byte) string {
	var envelope struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return envelope.Error
	}
	return string(body)
}
