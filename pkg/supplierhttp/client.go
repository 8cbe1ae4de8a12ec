package supplierhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/gustavoferreira/dropmart-backend/pkg/errors"
)

const (
	defaultTimeout              = 15 * time.Second
	responseBodyReadLimit int64 = 2048
)

var errEndpointRequired = errors.New("supplier endpoint is required")

// Client posts dispatch payloads to supplier HTTP endpoints.
type Client struct {
	httpClient *http.Client
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.httpClient.Timeout = timeout
		}
	}
}

// NewClient builds the supplier HTTP transport.
func NewClient(opts ...Option) *Client {
	client := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.httpClient == nil {
		client.httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return client
}

// Notify POSTs the payload to the supplier endpoint as JSON. Non-2xx
// responses and transport failures both map to a retryable notify error.
func (c *Client) Notify(ctx context.Context, endpoint string, payload any) error {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return errEndpointRequired
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, trimmed, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeSupplierNotify, err, "deliver supplier notification")
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, responseBodyReadLimit))
		return pkgerrors.New(pkgerrors.CodeSupplierNotify,
			fmt.Sprintf("supplier endpoint returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet))))
	}

	return nil
}
