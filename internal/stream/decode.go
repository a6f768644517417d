// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/jeranaias/complywatch/internal/logging"
	"github.com/jeranaias/complywatch/internal/util"
)

// =============================================================================
// DECODER CONSTANTS
// =============================================================================

const (
	// DataPrefix marks a line that carries a message.
	DataPrefix = "data: "

	// DoneSentinel is the payload that ends a stream.
	DoneSentinel = "[DONE]"

	// logRawLimit caps how much of a bad line is written to the log.
	logRawLimit = 200
)

// ErrMissingType is returned for a JSON payload without a string "type".
var ErrMissingType = errors.New("message has no string type field")

// Outcome classifies what Decode did with a line.
type Outcome int

const (
	// Skipped means the line was not a data line (comment, keep-alive,
	// event:/id: field, blank separator).
	Skipped Outcome = iota
	// Invalid means the data line could not be decoded. The stream goes on.
	Invalid
	// End means the line was the [DONE] sentinel.
	End
	// Decoded means Result.Message holds a message.
	Decoded
)

// String returns the outcome name.
func (o Outcome) String() string {
	switch o {
	case Skipped:
		return "skipped"
	case Invalid:
		return "invalid"
	case End:
		return "end"
	case Decoded:
		return "decoded"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the outcome of decoding one line.
type Result struct {
	Outcome Outcome
	Message Message
	// Err is set when Outcome is Invalid.
	Err error
}

// DecodeError describes a data line that failed to decode.
type DecodeError struct {
	// Stage is "envelope" for the outer JSON object or the message type whose
	// nested content failed.
	Stage string
	Raw   string
	Err   error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// DecoderStats counts lines by outcome.
type DecoderStats struct {
	Lines   int
	Skipped int
	Invalid int
	Unknown int
	Decoded int
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns raw lines into messages. It is not safe for concurrent use;
// each stream gets its own.
type Decoder struct {
	logger *slog.Logger
	stats  DecoderStats
}

// NewDecoder creates a Decoder. A nil logger discards output.
func NewDecoder(logger *slog.Logger) *Decoder {
	return &Decoder{logger: logging.OrDiscard(logger)}
}

// Stats returns the counters accumulated so far.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Decode classifies and decodes one line.
func (d *Decoder) Decode(line string) Result {
	d.stats.Lines++

	payload, ok := strings.CutPrefix(line, DataPrefix)
	if !ok {
		d.stats.Skipped++
		return Result{Outcome: Skipped}
	}
	payload = strings.TrimSpace(payload)

	if payload == DoneSentinel {
		return Result{Outcome: End}
	}

	msg, err := decodePayload([]byte(payload))
	if err != nil {
		d.stats.Invalid++
		var de *DecodeError
		if !errors.As(err, &de) {
			de = &DecodeError{Stage: "envelope", Err: err}
		}
		de.Raw = payload
		d.logger.Warn("skipping undecodable stream message",
			"stage", de.Stage,
			"error", de.Err,
			"raw", util.RedactForLog(payload, logRawLimit))
		return Result{Outcome: Invalid, Err: de}
	}

	if u, isUnknown := msg.(Unknown); isUnknown {
		d.stats.Unknown++
		d.logger.Debug("ignoring unknown stream message type", "type", u.Type)
	}
	d.stats.Decoded++
	return Result{Outcome: Decoded, Message: msg}
}

// =============================================================================
// PAYLOAD DECODING
// =============================================================================

// envelope is the union of every field any message type uses.
type envelope struct {
	Type           json.RawMessage `json:"type"`
	Content        json.RawMessage `json:"content"`
	RiskScore      *float64        `json:"risk_score"`
	Entities       Labels          `json:"entities"`
	Patterns       Labels          `json:"patterns"`
	SessionID      string          `json:"session_id"`
	Reason         string          `json:"reason"`
	CumulativeRisk *float64        `json:"cumulative_risk"`
	Violation      string          `json:"compliance_violation"`
	WindowAnalyses []Window        `json:"window_analyses"`
	Timestamp      string          `json:"timestamp"`
}

// decodePayload parses the outer object and dispatches on its type. Unknown
// types decode to Unknown rather than failing.
func decodePayload(payload []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, &DecodeError{Stage: "envelope", Err: err}
	}

	var typ string
	if len(env.Type) == 0 || json.Unmarshal(env.Type, &typ) != nil {
		return nil, &DecodeError{Stage: "envelope", Err: ErrMissingType}
	}

	switch Kind(typ) {
	case KindChunk, KindMessage:
		return Chunk{
			Type:           Kind(typ),
			Content:        contentText(env.Content),
			RiskScore:      env.RiskScore,
			Entities:       env.Entities,
			Patterns:       env.Patterns,
			SessionID:      env.SessionID,
			CumulativeRisk: env.CumulativeRisk,
		}, nil

	case KindWindowAnalysis:
		w, err := decodeWindow(env.Content)
		if err != nil {
			return nil, &DecodeError{Stage: typ, Err: err}
		}
		return WindowAnalysis{Window: w}, nil

	case KindRiskAlert:
		return RiskAlert{
			Content:   contentText(env.Content),
			Reason:    env.Reason,
			RiskScore: env.RiskScore,
			Entities:  env.Entities,
			Patterns:  env.Patterns,
		}, nil

	case KindBlocked:
		content := contentText(env.Content)
		if content == "" {
			content = env.Reason
		}
		return Blocked{
			Content:   content,
			RiskScore: env.RiskScore,
			SessionID: env.SessionID,
			Violation: env.Violation,
		}, nil

	case KindComplianceWarning:
		return ComplianceWarning{
			Content:   contentText(env.Content),
			RiskScore: env.RiskScore,
		}, nil

	case KindSafeRewrite:
		return SafeRewrite{Content: contentText(env.Content)}, nil

	case KindAnalysis:
		return AnalysisBatch{Windows: env.WindowAnalyses}, nil

	case KindCompleted:
		text, stats := resolveCompletion(env.Content)
		return Completed{
			SessionID: env.SessionID,
			Content:   text,
			Stats:     stats,
		}, nil

	case KindHeartbeat:
		return Heartbeat{Timestamp: env.Timestamp}, nil

	case KindError:
		return ServerError{Message: contentText(env.Content)}, nil

	default:
		return Unknown{Type: typ}, nil
	}
}

// contentText returns a string content field as-is. Absent or null content is
// empty; any other JSON value is returned as its compact text.
func contentText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// decodeWindow is the second decode pass for window_analysis. Content is
// normally a JSON string holding the window object; an inline object is
// accepted too.
func decodeWindow(raw json.RawMessage) (Window, error) {
	var w Window
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return w, errors.New("window analysis has no content")
	}

	inner := []byte(raw)
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return w, err
		}
		inner = []byte(s)
	}

	if err := json.Unmarshal(inner, &w); err != nil {
		return w, fmt.Errorf("window analysis content: %w", err)
	}
	return w, nil
}

// completionBody is the JSON form completed content may take.
type completionBody struct {
	Message            *string        `json:"message"`
	AnalysisStats      map[string]any `json:"analysis_stats"`
	InputAnalysisStats map[string]any `json:"input_analysis_stats"`
}

// resolveCompletion handles both shapes of completed content: a plain string,
// or a JSON string (or inline object) with message and analysis_stats. It
// never fails; content that looks like JSON but is not such an object is
// returned verbatim.
func resolveCompletion(raw json.RawMessage) (string, map[string]any) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", nil
	}

	var text string
	candidate := []byte(raw)
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return string(raw), nil
		}
		candidate = []byte(strings.TrimSpace(text))
	} else {
		text = contentText(raw)
	}

	if len(candidate) == 0 || candidate[0] != '{' {
		return text, nil
	}

	var body completionBody
	if err := json.Unmarshal(candidate, &body); err != nil {
		return text, nil
	}

	stats := body.AnalysisStats
	if stats == nil {
		stats = body.InputAnalysisStats
	}
	if body.Message == nil {
		return text, stats
	}
	return *body.Message, stats
}
