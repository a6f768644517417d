// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"slices"
	"time"
)

// =============================================================================
// STATUS
// =============================================================================

// Status is the lifecycle position of a session.
type Status int

const (
	Idle Status = iota
	Streaming
	Blocked
	Completed
	Errored
	Cancelled
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Blocked:
		return "blocked"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// IsTerminal reports whether no further mutation is allowed.
func (s Status) IsTerminal() bool {
	return s >= Blocked && s <= Cancelled
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseStatus is the inverse of Status.String.
func ParseStatus(name string) (Status, error) {
	for s := Idle; s <= Cancelled; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return Idle, fmt.Errorf("unknown session status %q", name)
}

// =============================================================================
// SERIES ELEMENTS
// =============================================================================

// Token is one increment of generated text with its risk at emission time.
type Token struct {
	Text string `json:"text"`
	// Risk is nil only for safe-rewrite tokens, which are pre-approved and
	// carry no live score.
	Risk        *float64  `json:"risk"`
	Timestamp   time.Time `json:"timestamp"`
	Blocked     bool      `json:"blocked"`
	Entities    []string  `json:"entities,omitempty"`
	Patterns    []string  `json:"patterns,omitempty"`
	SafeRewrite bool      `json:"safe_rewrite,omitempty"`
}

// EventType classifies a timeline entry.
type EventType string

const (
	EventWindowAnalysis    EventType = "window_analysis"
	EventRiskAlert         EventType = "risk_alert"
	EventBlocked           EventType = "blocked"
	EventComplianceWarning EventType = "compliance_warning"
	EventSafeRewrite       EventType = "safe_rewrite"
	EventAnalysis          EventType = "analysis"
	EventCompleted         EventType = "completed"
	EventError             EventType = "error"
)

// TimelineEvent is one entry in the session timeline. IDs start at 1 and
// increase by one per event within a session.
type TimelineEvent struct {
	ID          int       `json:"id"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	Description string    `json:"description"`
	Risk        *float64  `json:"risk,omitempty"`
	Entities    []string  `json:"entities,omitempty"`
	Patterns    []string  `json:"patterns,omitempty"`
}

// WindowAnalysis is a risk assessment over a sliding span of generated text.
// Timestamp is the local time the analysis was applied.
type WindowAnalysis struct {
	WindowText       string    `json:"window_text"`
	WindowStart      int       `json:"window_start"`
	WindowEnd        int       `json:"window_end"`
	WindowSize       int       `json:"window_size"`
	AnalysisPosition int       `json:"analysis_position"`
	PatternScore     float64   `json:"pattern_score"`
	PresidioScore    float64   `json:"presidio_score"`
	TotalScore       float64   `json:"total_score"`
	TriggeredRules   []string  `json:"triggered_rules"`
	PresidioEntities []any     `json:"presidio_entities"`
	Timestamp        time.Time `json:"timestamp"`
}

// =============================================================================
// STATE
// =============================================================================

// State is everything known about one session.
type State struct {
	// SessionID is the server-assigned id, empty until the server sends one.
	SessionID string `json:"session_id,omitempty"`
	// LocalID identifies the session on this client from the moment it starts.
	LocalID string `json:"local_id"`
	Status  Status `json:"status"`

	Tokens         []Token          `json:"tokens"`
	Events         []TimelineEvent  `json:"events"`
	WindowAnalyses []WindowAnalysis `json:"window_analyses"`
	// RiskScores is one chronological series fed by token-bearing chunks and
	// by window analyses, in the order they were applied.
	RiskScores   []float64 `json:"risk_scores"`
	ResponseText string    `json:"response_text"`

	// Reason is the server's text for a Blocked or Completed session.
	Reason string `json:"reason,omitempty"`
	// Violation is the compliance framework named by a block, if any.
	Violation string `json:"violation,omitempty"`
	// CompletionStats is the analysis_stats object sent with completion.
	CompletionStats map[string]any `json:"completion_stats,omitempty"`
	// Err is the cause of an Errored or Cancelled session.
	Err error `json:"-"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// Begin returns a fresh Streaming state.
func Begin(localID string, now time.Time) State {
	return State{
		LocalID:   localID,
		Status:    Streaming,
		StartedAt: now,
	}
}

// LastToken returns the most recent token, or false when there is none.
func (s State) LastToken() (Token, bool) {
	if len(s.Tokens) == 0 {
		return Token{}, false
	}
	return s.Tokens[len(s.Tokens)-1], true
}

// Duration is the elapsed time of the session, up to now while it is live.
func (s State) Duration(now time.Time) time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if !s.EndedAt.IsZero() {
		return s.EndedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// ErrText returns Err as a string, or "" when there is none.
func (s State) ErrText() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Clone returns a deep copy that shares no mutable memory with s.
func (s State) Clone() State {
	out := s

	out.Tokens = make([]Token, len(s.Tokens))
	for i, t := range s.Tokens {
		t.Risk = cloneFloat(t.Risk)
		t.Entities = slices.Clone(t.Entities)
		t.Patterns = slices.Clone(t.Patterns)
		out.Tokens[i] = t
	}

	out.Events = make([]TimelineEvent, len(s.Events))
	for i, e := range s.Events {
		e.Risk = cloneFloat(e.Risk)
		e.Entities = slices.Clone(e.Entities)
		e.Patterns = slices.Clone(e.Patterns)
		out.Events[i] = e
	}

	out.WindowAnalyses = make([]WindowAnalysis, len(s.WindowAnalyses))
	for i, w := range s.WindowAnalyses {
		w.TriggeredRules = slices.Clone(w.TriggeredRules)
		w.PresidioEntities = slices.Clone(w.PresidioEntities)
		out.WindowAnalyses[i] = w
	}

	out.RiskScores = slices.Clone(s.RiskScores)
	if out.RiskScores == nil {
		out.RiskScores = []float64{}
	}

	if s.CompletionStats != nil {
		out.CompletionStats = make(map[string]any, len(s.CompletionStats))
		for k, v := range s.CompletionStats {
			out.CompletionStats[k] = v
		}
	}
	return out
}

func cloneFloat(f *float64) *float64 {
	if f == nil {
		return nil
	}
	v := *f
	return &v
}
