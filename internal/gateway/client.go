// Package gateway is the boundary to the remote security gateway's
// registration API. Every failure is classified as either unreachable (the
// gateway could not be contacted at all) or rejected (the gateway answered
// with a non-success response); the lifecycle orchestrator's compensation
// rules depend on that distinction.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Sentinel errors for registration failures.
var (
	// ErrUnreachable covers connection refusal, timeouts, and name
	// resolution failures. Transient: the operation may succeed on retry.
	ErrUnreachable = errors.New("gateway unreachable")
	// ErrRejected means the gateway was reached and definitively refused
	// the operation.
	ErrRejected = errors.New("gateway rejected request")
)

// Registration is the payload pushed to the remote gateway. Registering the
// same gateway key twice with the same payload is a no-op success on the
// gateway side, so register and update share the same wire operation.
type Registration struct {
	GatewayKey string `json:"gateway_key"`
	Provider   string `json:"provider"`
	Model      string `json:"model"`
	Secret     string `json:"target_api_key"`
}

// Client is the interface for the remote gateway's registration API.
type Client interface {
	Register(ctx context.Context, reg Registration) error
	Update(ctx context.Context, reg Registration) error
	Unregister(ctx context.Context, gatewayKey string) error
	Ready(ctx context.Context) error
}

// HTTPClient implements Client over the gateway's HTTP API.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a gateway client with a bounded per-call timeout.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Register pushes a new key mapping to the gateway.
func (c *HTTPClient) Register(ctx context.Context, reg Registration) error {
	return c.post(ctx, "/register-key", reg)
}

// Update re-registers an existing key with its new configuration. The
// gateway treats registration as an idempotent upsert keyed by gateway key.
func (c *HTTPClient) Update(ctx context.Context, reg Registration) error {
	return c.post(ctx, "/register-key", reg)
}

// Unregister removes a key mapping from the gateway. Unregistering an
// unknown key is a success on the gateway side.
func (c *HTTPClient) Unregister(ctx context.Context, gatewayKey string) error {
	return c.post(ctx, "/unregister-key", struct {
		GatewayKey string `json:"gateway_key"`
	}{GatewayKey: gatewayKey})
}

// Ready probes the gateway's health endpoint.
func (c *HTTPClient) Ready(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: gateway not ready (status %d)", ErrUnreachable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if len(detail) > 0 {
			return fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, detail)
		}
		return fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return nil
}

// classifyError maps transport-level errors to sentinel errors. Timeouts are
// unreachable, not rejected: the gateway never answered.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
