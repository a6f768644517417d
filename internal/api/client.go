// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/jeranaias/complywatch/internal/logging"
)

// =============================================================================
// CLIENT CONSTANTS
// =============================================================================

const (
	// DefaultBaseURL is where a locally started server listens.
	DefaultBaseURL = "http://localhost:8000"

	// DefaultStreamPath is the stream endpoint below the base URL.
	DefaultStreamPath = "/api/v1/chat/stream"

	// HealthPath is the server's health endpoint.
	HealthPath = "/health"

	// DefaultConnectTimeout bounds connecting and receiving response headers.
	// The body itself is not bounded; cancel the context instead.
	DefaultConnectTimeout = 30 * time.Second

	// DefaultRequestsPerMinute matches the server's per-client limit.
	DefaultRequestsPerMinute = 10

	// defaultBurst allows a short run of requests before throttling.
	defaultBurst = 3

	// maxErrorBodySize caps how much of an error response is read.
	maxErrorBodySize = 64 * 1024

	// DefaultMaxAttempts is used by OpenStreamWithRetry when attempts <= 0.
	DefaultMaxAttempts = 3

	retryBaseDelay = 500 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// RequestIDHeader carries the per-request id.
const RequestIDHeader = "X-Request-ID"

// Version is sent in the User-Agent header. The cli package sets it from the
// build version.
var Version = "dev"

// =============================================================================
// CLIENT
// =============================================================================

// Client opens compliance streams. It is safe for concurrent use.
type Client struct {
	baseURL    string
	streamPath string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	baseDelay  time.Duration
	maxDelay   time.Duration
	now        func() time.Time
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		streamPath: DefaultStreamPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: DefaultConnectTimeout,
			},
			// No overall timeout: a stream lives as long as its context.
		},
		limiter:   newLimiter(DefaultRequestsPerMinute),
		logger:    logging.Discard(),
		baseDelay: retryBaseDelay,
		maxDelay:  retryMaxDelay,
		now:       time.Now,
	}
}

// WithStreamPath sets the stream endpoint path.
func (c *Client) WithStreamPath(path string) *Client {
	if path != "" {
		if !strings.HasPrefix(path, "/") {
			path = "/" + path
		}
		c.streamPath = path
	}
	return c
}

// WithHTTPClient replaces the HTTP client, for tests and custom transports.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	if hc != nil {
		c.httpClient = hc
	}
	return c
}

// WithConnectTimeout bounds the wait for response headers.
func (c *Client) WithConnectTimeout(d time.Duration) *Client {
	if t, ok := c.httpClient.Transport.(*http.Transport); ok && d > 0 {
		t.ResponseHeaderTimeout = d
	}
	return c
}

// WithRateLimit sets the client-side request budget. Zero or less disables
// client-side limiting.
func (c *Client) WithRateLimit(perMinute int) *Client {
	c.limiter = newLimiter(perMinute)
	return c
}

// WithLogger sets the logger.
func (c *Client) WithLogger(l *slog.Logger) *Client {
	c.logger = logging.OrDiscard(l)
	return c
}

// WithRetryBackoff sets the retry delays used by OpenStreamWithRetry.
func (c *Client) WithRetryBackoff(base, maxDelay time.Duration) *Client {
	if base > 0 {
		c.baseDelay = base
	}
	if maxDelay > 0 {
		c.maxDelay = maxDelay
	}
	return c
}

// StreamURL returns the full stream endpoint URL.
func (c *Client) StreamURL() string {
	return c.baseURL + c.streamPath
}

func newLimiter(perMinute int) *rate.Limiter {
	if perMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), defaultBurst)
}

// =============================================================================
// STREAMING
// =============================================================================

// OpenStream validates req, waits for the rate limiter, posts the request
// and returns the response body of a 200 event-stream response. The caller
// owns the body. Non-200 responses return *APIError or *RateLimitError.
func (c *Client) OpenStream(ctx context.Context, req StreamRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode stream request: %w", err)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("wait for request budget: %w", err)
	}

	requestID := uuid.NewString()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.StreamURL(), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("User-Agent", "complywatch/"+Version)
	httpReq.Header.Set(RequestIDHeader, requestID)

	c.logger.Debug("opening stream",
		"url", c.StreamURL(),
		"request_id", requestID,
		"message_chars", len([]rune(req.Message)))

	start := c.now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		apiErr := newResponseError(resp, body, requestID, c.now())
		c.logger.Warn("stream request rejected",
			"status", resp.StatusCode,
			"request_id", requestID,
			"error", apiErr)
		return nil, apiErr
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		if mt, _, err := mime.ParseMediaType(ct); err == nil && mt != "text/event-stream" {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: content type %q", ErrNotEventStream, mt)
		}
	}

	c.logger.Info("stream opened",
		"request_id", requestID,
		"latency", c.now().Sub(start))
	return resp.Body, nil
}

// OpenStreamWithRetry calls OpenStream up to attempts times. It retries
// connection failures, 5xx responses and 429 responses with exponential
// backoff, honouring Retry-After. It never retries once a stream is open,
// and never retries validation errors or other 4xx responses.
func (c *Client) OpenStreamWithRetry(ctx context.Context, req StreamRequest, attempts int) (io.ReadCloser, error) {
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		body, err := c.OpenStream(ctx, req)
		if err == nil {
			return body, nil
		}
		lastErr = err

		delay, ok := c.retryDelay(err, attempt)
		if !ok || attempt == attempts-1 {
			break
		}
		c.logger.Info("retrying stream request", "attempt", attempt+1, "delay", delay, "error", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	return nil, lastErr
}

// retryDelay returns how long to wait before retrying err, or false when err
// is not worth retrying.
func (c *Client) retryDelay(err error, attempt int) (time.Duration, bool) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return 0, false
	}
	if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrNotEventStream) {
		return 0, false
	}

	backoff := c.baseDelay * time.Duration(1<<uint(attempt))
	if backoff > c.maxDelay {
		backoff = c.maxDelay
	}

	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.RetryAfter > 0 {
			return min(rl.RetryAfter, c.maxDelay), true
		}
		return backoff, true
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return backoff, apiErr.Temporary()
	}

	// Transport failure before a response.
	return backoff, true
}

// =============================================================================
// HEALTH
// =============================================================================

// Health is the server's health report.
type Health struct {
	Status       string          `json:"status"`
	Version      string          `json:"version"`
	Timestamp    string          `json:"timestamp"`
	Dependencies map[string]bool `json:"dependencies"`
	Features     map[string]bool `json:"compliance_features"`
}

// Healthy reports whether the server called itself healthy.
func (h Health) Healthy() bool {
	return strings.EqualFold(h.Status, "healthy")
}

// Health fetches the server health report.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+HealthPath, nil)
	if err != nil {
		return h, fmt.Errorf("build health request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "complywatch/"+Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return h, fmt.Errorf("health check: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return h, fmt.Errorf("read health response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return h, newResponseError(resp, body, "", c.now())
	}
	if err := json.Unmarshal(body, &h); err != nil {
		return h, fmt.Errorf("decode health response: %w", err)
	}
	return h, nil
}
