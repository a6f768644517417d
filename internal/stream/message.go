// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
)

// =============================================================================
// MESSAGE KINDS
// =============================================================================

// Kind is the value of a message's "type" field.
type Kind string

const (
	KindChunk             Kind = "chunk"
	KindMessage           Kind = "message"
	KindWindowAnalysis    Kind = "window_analysis"
	KindRiskAlert         Kind = "risk_alert"
	KindBlocked           Kind = "blocked"
	KindComplianceWarning Kind = "compliance_warning"
	KindSafeRewrite       Kind = "safe_rewrite"
	KindAnalysis          Kind = "analysis"
	KindCompleted         Kind = "completed"
	KindHeartbeat         Kind = "heartbeat"
	KindError             Kind = "error"
)

// Message is one decoded stream message. The set of implementations is
// closed: Chunk, WindowAnalysis, RiskAlert, Blocked, ComplianceWarning,
// SafeRewrite, AnalysisBatch, Completed, Heartbeat, ServerError and Unknown.
type Message interface {
	// Kind returns the wire type the message was decoded from.
	Kind() Kind
	sealed()
}

// =============================================================================
// MESSAGE VARIANTS
// =============================================================================

// Chunk is a generated text increment ("chunk" or "message").
type Chunk struct {
	Type      Kind
	Content   string
	RiskScore *float64
	Entities  Labels
	Patterns  Labels
	SessionID string
	// CumulativeRisk is sent by some server modes alongside the per-token score.
	CumulativeRisk *float64
}

// WindowAnalysis carries one sliding-window risk assessment.
type WindowAnalysis struct {
	Window Window
}

// RiskAlert flags a high-risk span without changing the text.
type RiskAlert struct {
	Content   string
	Reason    string
	RiskScore *float64
	Entities  Labels
	Patterns  Labels
}

// Blocked reports that the server stopped generation.
type Blocked struct {
	// Content is the reason text. Servers that send "reason" instead of
	// "content" have it copied here.
	Content   string
	RiskScore *float64
	SessionID string
	Violation string
}

// ComplianceWarning is an advisory that does not stop generation.
type ComplianceWarning struct {
	Content   string
	RiskScore *float64
}

// SafeRewrite is pre-approved replacement text. It carries no live score.
type SafeRewrite struct {
	Content string
}

// AnalysisBatch delivers several window analyses at once.
type AnalysisBatch struct {
	Windows []Window
}

// Completed reports normal end of generation.
type Completed struct {
	SessionID string
	// Content is the resolved completion text: either the plain string the
	// server sent or the "message" field of a JSON-encoded content object.
	Content string
	// Stats holds "analysis_stats" when content was a JSON object.
	Stats map[string]any
}

// Heartbeat is a keep-alive with no effect on session state.
type Heartbeat struct {
	Timestamp string
}

// ServerError is an in-band failure report from the server.
type ServerError struct {
	Message string
}

// Unknown is a message whose type this client does not know. It is kept so
// callers can log it; it never changes state.
type Unknown struct {
	Type string
}

func (m Chunk) Kind() Kind {
	if m.Type == "" {
		return KindChunk
	}
	return m.Type
}
func (WindowAnalysis) Kind() Kind    { return KindWindowAnalysis }
func (RiskAlert) Kind() Kind         { return KindRiskAlert }
func (Blocked) Kind() Kind           { return KindBlocked }
func (ComplianceWarning) Kind() Kind { return KindComplianceWarning }
func (SafeRewrite) Kind() Kind       { return KindSafeRewrite }
func (AnalysisBatch) Kind() Kind     { return KindAnalysis }
func (Completed) Kind() Kind         { return KindCompleted }
func (Heartbeat) Kind() Kind         { return KindHeartbeat }
func (ServerError) Kind() Kind       { return KindError }
func (m Unknown) Kind() Kind         { return Kind(m.Type) }

func (Chunk) sealed()             {}
func (WindowAnalysis) sealed()    {}
func (RiskAlert) sealed()         {}
func (Blocked) sealed()           {}
func (ComplianceWarning) sealed() {}
func (SafeRewrite) sealed()       {}
func (AnalysisBatch) sealed()     {}
func (Completed) sealed()         {}
func (Heartbeat) sealed()         {}
func (ServerError) sealed()       {}
func (Unknown) sealed()           {}

// =============================================================================
// WIRE PAYLOADS
// =============================================================================

// Window is the wire form of a window analysis.
type Window struct {
	WindowText       string   `json:"window_text"`
	WindowStart      int      `json:"window_start"`
	WindowEnd        int      `json:"window_end"`
	WindowSize       int      `json:"window_size"`
	AnalysisPosition int      `json:"analysis_position"`
	PatternScore     float64  `json:"pattern_score"`
	PresidioScore    float64  `json:"presidio_score"`
	TotalScore       float64  `json:"total_score"`
	TriggeredRules   []string `json:"triggered_rules"`
	PresidioEntities []any    `json:"presidio_entities"`
	Blocked          bool     `json:"blocked,omitempty"`
	AnalysisType     string   `json:"analysis_type,omitempty"`
	// ServerTimestamp is the server's own timestamp string, if any. Session
	// state stamps windows with the receive time instead.
	ServerTimestamp string `json:"timestamp,omitempty"`
}

// Labels is a list of entity or pattern names. The server sends either plain
// strings or detector objects such as {"entity_type":"US_SSN","score":0.99};
// objects are reduced to their type name.
type Labels []string

// UnmarshalJSON accepts null, a string, an array of strings, or an array of
// detector objects.
func (l *Labels) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*l = nil
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*l = Labels{s}
		return nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}

	out := make(Labels, 0, len(items))
	for _, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			out = append(out, s)
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err == nil {
			out = append(out, labelFromObject(obj, item))
			continue
		}
		out = append(out, string(item))
	}
	*l = out
	return nil
}

func labelFromObject(obj map[string]any, raw json.RawMessage) string {
	for _, key := range []string{"entity_type", "type", "name", "pattern"} {
		if v, ok := obj[key].(string); ok && v != "" {
			return v
		}
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}
