// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeOne(t *testing.T, line string) Message {
	t.Helper()
	res := NewDecoder(nil).Decode(line)
	require.Equal(t, Decoded, res.Outcome, "line %q: %v", line, res.Err)
	return res.Message
}

func TestDecoder_SkipsNonDataLines(t *testing.T) {
	d := NewDecoder(nil)
	for _, line := range []string{"", ": keep-alive", "event: chunk", "id: 7", "data:{\"type\":\"chunk\"}", "DATA: x"} {
		res := d.Decode(line)
		assert.Equal(t, Skipped, res.Outcome, "line %q", line)
	}
	assert.Equal(t, 6, d.Stats().Skipped)
}

func TestDecoder_DoneSentinel(t *testing.T) {
	res := NewDecoder(nil).Decode("data: [DONE]")
	assert.Equal(t, End, res.Outcome)
	assert.Nil(t, res.Message)
}

func TestDecoder_MalformedJSONIsRecoverable(t *testing.T) {
	var logs bytes.Buffer
	d := NewDecoder(slog.New(slog.NewTextHandler(&logs, nil)))

	res := d.Decode(`data: {"type":"chunk","content":"SSN 123-45-6789"`)
	assert.Equal(t, Invalid, res.Outcome)

	var de *DecodeError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, "envelope", de.Stage)
	assert.Contains(t, logs.String(), "skipping undecodable stream message")
	assert.NotContains(t, logs.String(), "123-45-6789", "raw text must be redacted in logs")

	// The decoder keeps working after a bad line.
	assert.Equal(t, Decoded, d.Decode(`data: {"type":"chunk","content":"ok"}`).Outcome)
	assert.Equal(t, 1, d.Stats().Invalid)
	assert.Equal(t, 1, d.Stats().Decoded)
}

func TestDecoder_MissingOrNonStringType(t *testing.T) {
	d := NewDecoder(nil)
	for _, line := range []string{`data: {"content":"x"}`, `data: {"type":3}`, `data: [1,2]`, `data: "chunk"`} {
		res := d.Decode(line)
		assert.Equal(t, Invalid, res.Outcome, "line %q", line)
	}
}

func TestDecoder_UnknownTypeIsIgnoredNotError(t *testing.T) {
	d := NewDecoder(nil)
	msg := decodeOne(t, `data: {"type":"response_window","content":"{}"}`)
	assert.Equal(t, Unknown{Type: "response_window"}, msg)
	assert.Equal(t, Kind("response_window"), msg.Kind())

	d.Decode(`data: {"type":"future_thing"}`)
	assert.Equal(t, 1, d.Stats().Unknown)
}

func TestDecoder_Chunk(t *testing.T) {
	msg := decodeOne(t, `data: {"type":"chunk","content":"Hi ","risk_score":0.25,"entities":["PERSON"],"patterns":["NAME_PATTERN"],"session_id":"abc"}`)

	chunk, ok := msg.(Chunk)
	require.True(t, ok)
	assert.Equal(t, KindChunk, chunk.Kind())
	assert.Equal(t, "Hi ", chunk.Content)
	require.NotNil(t, chunk.RiskScore)
	assert.InDelta(t, 0.25, *chunk.RiskScore, 1e-9)
	assert.Equal(t, Labels{"PERSON"}, chunk.Entities)
	assert.Equal(t, Labels{"NAME_PATTERN"}, chunk.Patterns)
	assert.Equal(t, "abc", chunk.SessionID)
}

func TestDecoder_MessageIsChunkAlias(t *testing.T) {
	msg := decodeOne(t, `data: {"type":"message","content":"x"}`)
	chunk, ok := msg.(Chunk)
	require.True(t, ok)
	assert.Equal(t, KindMessage, chunk.Kind())
	assert.Nil(t, chunk.RiskScore, "absent risk_score stays nil until aggregation")
}

func TestDecoder_EntityObjectsReduceToTypeNames(t *testing.T) {
	msg := decodeOne(t, `data: {"type":"chunk","content":"Doe","risk_score":0.9,"entities":[{"entity_type":"PERSON","score":0.92},"EMAIL",{"score":1}],"patterns":null}`)
	chunk := msg.(Chunk)
	assert.Equal(t, Labels{"PERSON", "EMAIL", `{"score":1}`}, chunk.Entities)
	assert.Nil(t, chunk.Patterns)
}

func TestDecoder_WindowAnalysisTwoStage(t *testing.T) {
	line := `data: {"type":"window_analysis","content":"{\"window_text\":\"abc\",\"window_start\":0,\"window_end\":3,\"window_size\":3,\"analysis_position\":0,\"pattern_score\":0.1,\"presidio_score\":0.2,\"total_score\":0.3,\"triggered_rules\":[],\"presidio_entities\":[]}"}`
	msg := decodeOne(t, line)

	wa, ok := msg.(WindowAnalysis)
	require.True(t, ok)
	assert.Equal(t, Window{
		WindowText:       "abc",
		WindowStart:      0,
		WindowEnd:        3,
		WindowSize:       3,
		AnalysisPosition: 0,
		PatternScore:     0.1,
		PresidioScore:    0.2,
		TotalScore:       0.3,
		TriggeredRules:   []string{},
		PresidioEntities: []any{},
	}, wa.Window)
}

func TestDecoder_WindowAnalysisInnerFailureIsRecoverable(t *testing.T) {
	d := NewDecoder(nil)
	res := d.Decode(`data: {"type":"window_analysis","content":"{not json"}`)
	require.Equal(t, Invalid, res.Outcome)

	var de *DecodeError
	require.ErrorAs(t, res.Err, &de)
	assert.Equal(t, "window_analysis", de.Stage)

	res = d.Decode(`data: {"type":"window_analysis"}`)
	assert.Equal(t, Invalid, res.Outcome)
}

func TestDecoder_AnalysisBatch(t *testing.T) {
	msg := decodeOne(t, `data: {"type":"analysis","window_analyses":[{"window_text":"a","total_score":0.1},{"window_text":"b","total_score":0.7,"triggered_rules":["ssn"]}]}`)
	batch, ok := msg.(AnalysisBatch)
	require.True(t, ok)
	require.Len(t, batch.Windows, 2)
	assert.Equal(t, "a", batch.Windows[0].WindowText)
	assert.Equal(t, []string{"ssn"}, batch.Windows[1].TriggeredRules)
}

func TestDecoder_BlockedReasonFallback(t *testing.T) {
	msg := decodeOne(t, `data: {"type":"blocked","reason":"Cumulative risk 1.20 exceeded threshold 1.0","risk_score":1.2,"session_id":"s1","compliance_violation":"HIPAA"}`)
	blocked := msg.(Blocked)
	assert.Equal(t, "Cumulative risk 1.20 exceeded threshold 1.0", blocked.Content)
	assert.Equal(t, "HIPAA", blocked.Violation)
	assert.Equal(t, "s1", blocked.SessionID)

	msg = decodeOne(t, `data: {"type":"blocked","content":"PII detected","reason":"ignored","risk_score":0.95}`)
	assert.Equal(t, "PII detected", msg.(Blocked).Content)
}

func TestDecoder_CompletedContentShapes(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		wantText  string
		wantStats bool
	}{
		{
			name:     "plain string",
			line:     `data: {"type":"completed","session_id":"s","content":"Stream completed successfully"}`,
			wantText: "Stream completed successfully",
		},
		{
			name:      "json string with message and stats",
			line:      `data: {"type":"completed","session_id":"s","content":"{\"message\":\"done\",\"analysis_stats\":{\"windows\":4}}"}`,
			wantText:  "done",
			wantStats: true,
		},
		{
			name:      "json string with input stats only",
			line:      `data: {"type":"completed","content":"{\"message\":\"ok\",\"input_analysis_stats\":{\"windows\":1}}"}`,
			wantText:  "ok",
			wantStats: true,
		},
		{
			name:     "json-looking string that is not an object",
			line:     `data: {"type":"completed","content":"{broken"}`,
			wantText: "{broken",
		},
		{
			name:     "missing content",
			line:     `data: {"type":"completed","session_id":"s","total_risk":0.2,"status":"success"}`,
			wantText: "",
		},
		{
			name:      "inline object",
			line:      `data: {"type":"completed","content":{"message":"inline","analysis_stats":{}}}`,
			wantText:  "inline",
			wantStats: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := decodeOne(t, tt.line)
			completed, ok := msg.(Completed)
			require.True(t, ok)
			assert.Equal(t, tt.wantText, completed.Content)
			assert.Equal(t, tt.wantStats, completed.Stats != nil)
		})
	}
}

func TestDecoder_OtherKinds(t *testing.T) {
	tests := []struct {
		line string
		want Message
	}{
		{`data: {"type":"safe_rewrite","content":"[redacted]"}`, SafeRewrite{Content: "[redacted]"}},
		{`data: {"type":"compliance_warning"}`, ComplianceWarning{}},
		{`data: {"type":"heartbeat","timestamp":"2024-01-01T00:00:00"}`, Heartbeat{Timestamp: "2024-01-01T00:00:00"}},
		{`data: {"type":"error","content":"Stream error: upstream timeout"}`, ServerError{Message: "Stream error: upstream timeout"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, decodeOne(t, tt.line), tt.line)
	}

	alert := decodeOne(t, `data: {"type":"risk_alert","content":"Doe","risk_score":0.9,"entities":["PERSON"],"patterns":["NAME_PATTERN"],"reason":"High-risk token"}`).(RiskAlert)
	assert.Equal(t, "Doe", alert.Content)
	assert.Equal(t, "High-risk token", alert.Reason)
	assert.Equal(t, Labels{"PERSON"}, alert.Entities)
}

func TestDecoder_NonStringContentIsCompacted(t *testing.T) {
	msg := decodeOne(t, `data: {"type":"chunk","content": {"a": 1}}`)
	assert.Equal(t, `{"a":1}`, msg.(Chunk).Content)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "decoded", Decoded.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}
