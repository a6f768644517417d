// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Accepted ranges. Zero values of the optional integer fields mean "use the
// server default" and are not sent.
const (
	MaxMessageChars      = 5000
	MaxModelChars        = 100
	MaxSystemPromptChars = 1000
	MaxRegionChars       = 10
	MaxAPIKeyChars       = 200

	MinDelayTokens, MaxDelayTokens = 5, 50
	MinDelayMs, MaxDelayMs         = 50, 1000
	MinRiskThreshold               = 0.0
	MaxRiskThreshold               = 2.0
	MinWindowSize, MaxWindowSize   = 50, 500
	MinFrequency, MaxFrequency     = 5, 100
)

// Regions are the compliance regions the server knows.
var Regions = []string{"US", "EU", "HIPAA", "PCI"}

// StreamRequest is the body of a stream request.
type StreamRequest struct {
	Message            string   `json:"message"`
	Model              string   `json:"model,omitempty"`
	SystemPrompt       string   `json:"system_prompt,omitempty"`
	DelayTokens        int      `json:"delay_tokens,omitempty"`
	DelayMs            int      `json:"delay_ms,omitempty"`
	RiskThreshold      *float64 `json:"risk_threshold,omitempty"`
	EnableSafeRewrite  *bool    `json:"enable_safe_rewrite,omitempty"`
	Region             string   `json:"region,omitempty"`
	APIKey             string   `json:"api_key,omitempty"`
	AnalysisWindowSize int      `json:"analysis_window_size,omitempty"`
	AnalysisFrequency  int      `json:"analysis_frequency,omitempty"`
}

// FieldError is one rejected request field.
type FieldError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid stream request")

// Validate checks the request against the server's accepted ranges. The
// returned error matches ErrInvalidRequest and joins one *FieldError per
// problem.
func (r StreamRequest) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch n := utf8.RuneCountInString(r.Message); {
	case strings.TrimSpace(r.Message) == "":
		add("message", "must not be empty")
	case n > MaxMessageChars:
		add("message", "has %d characters, limit is %d", n, MaxMessageChars)
	}
	if n := utf8.RuneCountInString(r.Model); n > MaxModelChars {
		add("model", "has %d characters, limit is %d", n, MaxModelChars)
	}
	if n := utf8.RuneCountInString(r.SystemPrompt); n > MaxSystemPromptChars {
		add("system_prompt", "has %d characters, limit is %d", n, MaxSystemPromptChars)
	}
	if n := utf8.RuneCountInString(r.APIKey); n > MaxAPIKeyChars {
		add("api_key", "has %d characters, limit is %d", n, MaxAPIKeyChars)
	}
	if r.Region != "" && !knownRegion(r.Region) {
		add("region", "must be one of %s", strings.Join(Regions, ", "))
	}

	checkRange := func(field string, v, lo, hi int) {
		if v != 0 && (v < lo || v > hi) {
			add(field, "must be between %d and %d, got %d", lo, hi, v)
		}
	}
	checkRange("delay_tokens", r.DelayTokens, MinDelayTokens, MaxDelayTokens)
	checkRange("delay_ms", r.DelayMs, MinDelayMs, MaxDelayMs)
	checkRange("analysis_window_size", r.AnalysisWindowSize, MinWindowSize, MaxWindowSize)
	checkRange("analysis_frequency", r.AnalysisFrequency, MinFrequency, MaxFrequency)

	if r.RiskThreshold != nil {
		if t := *r.RiskThreshold; t < MinRiskThreshold || t > MaxRiskThreshold {
			add("risk_threshold", "must be between %.1f and %.1f, got %g", MinRiskThreshold, MaxRiskThreshold, t)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidRequest, errors.Join(errs...))
}

func knownRegion(region string) bool {
	for _, r := range Regions {
		if r == region {
			return true
		}
	}
	return false
}
