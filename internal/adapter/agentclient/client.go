// Package agentclient consults remote agent experts that answer over HTTP
// with a server-sent event stream.
package agentclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/curatedhealth/missionengine/internal/domain"
)

// maxErrorBody caps how much of a non-OK response ends up in the error.
const maxErrorBody = 4 << 10

// Client posts expert requests to agent endpoints.
type Client struct {
	httpClient *http.Client
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient creates an agent client. Per-call deadlines come from the
// request context; the client timeout is only an outer bound.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{httpClient: &http.Client{Timeout: 10 * time.Minute}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Consult posts req to the agent at endpoint and reads its answer stream.
func (c *Client) Consult(ctx context.Context, endpoint, ref string, req domain.ExpertRequest) (domain.ExpertResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("failed to marshal expert request: %w", err)
	}

	url := strings.TrimSuffix(endpoint, "/") + "/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("failed to build request for %s: %w", ref, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Mission-ID", req.MissionID)
	httpReq.Header.Set("X-Expert-Ref", ref)
	// Re-executed steps reuse the request id so agents can deduplicate.
	httpReq.Header.Set("Idempotency-Key", req.RequestID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.ExpertResponse{}, fmt.Errorf("expert %s unreachable: %w", ref, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return domain.ExpertResponse{}, &AgentError{
			Ref:     ref,
			Code:    fmt.Sprintf("http_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(msg)),
		}
	}
	return readAnswer(ref, resp.Body)
}
