// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrRateLimited matches every *RateLimitError.
var ErrRateLimited = errors.New("rate limited")

// ErrNotEventStream is returned when a 200 response is not an event stream.
var ErrNotEventStream = errors.New("response is not an event stream")

// APIError is a non-200 response from the server.
type APIError struct {
	Status int
	// Detail is the server's explanation, taken from a {"detail": ...} or
	// {"error": ...} body when there is one.
	Detail    string
	RequestID string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	text := http.StatusText(e.Status)
	if e.Detail == "" {
		return fmt.Sprintf("stream request failed (HTTP %d %s)", e.Status, text)
	}
	return fmt.Sprintf("stream request failed (HTTP %d %s): %s", e.Status, text, e.Detail)
}

// Temporary reports whether retrying the same request may succeed.
func (e *APIError) Temporary() bool {
	return e.Status >= 500
}

// RateLimitError is a 429 response.
type RateLimitError struct {
	APIError
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s)", e.APIError.Error(), e.RetryAfter)
	}
	return e.APIError.Error()
}

// Unwrap lets errors.Is match ErrRateLimited.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// errorBody covers FastAPI ({"detail": "..."} or a list of validation
// problems) and the rate limiter ({"error": "..."}).
type errorBody struct {
	Detail json.RawMessage `json:"detail"`
	Error  string          `json:"error"`
}

type validationProblem struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// newResponseError builds the error for a non-200 response.
func newResponseError(resp *http.Response, body []byte, requestID string, now time.Time) error {
	apiErr := APIError{
		Status:    resp.StatusCode,
		Detail:    parseDetail(body),
		RequestID: requestID,
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return &RateLimitError{
			APIError:   apiErr,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), now),
		}
	}
	return &apiErr
}

func parseDetail(body []byte) string {
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil {
		return strings.TrimSpace(string(body))
	}
	if eb.Error != "" {
		return eb.Error
	}
	if len(eb.Detail) == 0 {
		return strings.TrimSpace(string(body))
	}

	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil {
		return s
	}
	var problems []validationProblem
	if err := json.Unmarshal(eb.Detail, &problems); err == nil && len(problems) > 0 {
		parts := make([]string, 0, len(problems))
		for _, p := range problems {
			field := ""
			if n := len(p.Loc); n > 0 {
				field = fmt.Sprint(p.Loc[n-1]) + ": "
			}
			parts = append(parts, field+p.Msg)
		}
		return strings.Join(parts, "; ")
	}
	return string(eb.Detail)
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
