package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	cerrors "connidx/internal/errors"
)

const (
	DefaultTimeout     = 60 * time.Second
	DefaultMaxRetries  = 2
	defaultRetryDelay  = 500 * time.Millisecond
	maxRetryDelay      = 5 * time.Second
	maxResponseBodyLen = 32 << 20
)

// Client posts requests as JSON to an HTTP discovery endpoint. The
// endpoint answers with {"records": [...]}.
type Client struct {
	endpoint   string
	client     *http.Client
	logger     *slog.Logger
	maxRetries int
	retryDelay time.Duration
}

type response struct {
	Records []Record `json:"records"`
	Error   string   `json:"error,omitempty"`
}

// NewClient creates a client for endpoint. A zero timeout uses
// DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint:   endpoint,
		client:     &http.Client{Timeout: timeout},
		logger:     logger,
		maxRetries: DefaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
}

// Discover sends req and decodes the returned records. Network errors and
// 5xx responses are retried with exponential backoff.
func (c *Client) Discover(ctx context.Context, req *Request) ([]Record, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, cerrors.Pipeline("failed to marshal request", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := min(c.retryDelay*time.Duration(1<<uint(attempt-1)), maxRetryDelay)
			select {
			case <-ctx.Done():
				return nil, cerrors.Pipeline("request cancelled", ctx.Err())
			case <-time.After(delay):
			}
			c.logger.Debug("Retrying pipeline request",
				"batch", req.Batch,
				"attempt", attempt+1,
			)
		}

		records, retry, err := c.do(ctx, body)
		if err == nil {
			return records, nil
		}
		lastErr = err
		if !retry {
			break
		}
	}
	return nil, cerrors.Pipeline(fmt.Sprintf("batch %d failed", req.Batch), lastErr)
}

func (c *Client) do(ctx context.Context, body []byte) ([]Record, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "connidx/1.0")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, ctx.Err() == nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyLen))
	if err != nil {
		return nil, true, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("server error: %d", resp.StatusCode)
	}

	var out response
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, false, fmt.Errorf("invalid response (status %d): %w", resp.StatusCode, err)
		}
	}
	if resp.StatusCode >= 400 {
		msg := out.Error
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, false, fmt.Errorf("pipeline rejected request: %d %s", resp.StatusCode, msg)
	}
	return out.Records, false, nil
}
