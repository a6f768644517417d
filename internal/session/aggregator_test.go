// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/jeranaias/complywatch/internal/stream"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func ptr(f float64) *float64 { return &f }

// drive applies messages the way the controller does: transitions are
// committed as soon as they are requested.
func drive(st State, msgs ...stream.Message) State {
	for i, msg := range msgs {
		now := t0.Add(time.Duration(i+1) * time.Millisecond)
		var eff Effect
		st, eff = Apply(st, msg, now)
		if eff.Transition != TransitionNone {
			st = Finish(st, eff.Transition.Status(), eff.Reason, eff.Err, now)
		}
	}
	return st
}

func TestApply_ChunkDefaultsMissingRiskToZero(t *testing.T) {
	st := drive(Begin("local", t0), stream.Chunk{Content: "Hi"})

	require.Len(t, st.Tokens, 1)
	require.NotNil(t, st.Tokens[0].Risk)
	assert.Equal(t, 0.0, *st.Tokens[0].Risk)
	assert.Equal(t, []float64{0}, st.RiskScores)
	assert.Equal(t, "Hi", st.ResponseText)
	assert.Empty(t, st.Events, "chunks do not produce timeline events")
}

func TestApply_RiskIsNotClamped(t *testing.T) {
	st := drive(Begin("local", t0), stream.Chunk{Content: "x", RiskScore: ptr(1.45)})
	assert.Equal(t, []float64{1.45}, st.RiskScores)
}

func TestApply_ChunkConcatenationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		contents := rapid.SliceOf(rapid.String()).Draw(rt, "contents")
		msgs := make([]stream.Message, len(contents))
		for i, c := range contents {
			msgs[i] = stream.Chunk{Content: c, RiskScore: ptr(float64(i) / 10)}
		}

		st := drive(Begin("local", t0), msgs...)

		if st.ResponseText != strings.Join(contents, "") {
			rt.Fatalf("response text %q, want concatenation of %q", st.ResponseText, contents)
		}
		if len(st.RiskScores) != len(contents) || len(st.Tokens) != len(contents) {
			rt.Fatalf("got %d scores and %d tokens for %d chunks", len(st.RiskScores), len(st.Tokens), len(contents))
		}
		for i := range contents {
			if st.Tokens[i].Text != contents[i] {
				rt.Fatalf("token %d out of order", i)
			}
		}
	})
}

func TestApply_BlockedAfterTwoChunks(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.Chunk{Content: "a"},
		stream.Chunk{Content: "b"},
		stream.Blocked{Content: "X", RiskScore: ptr(0.9)},
	)

	require.Len(t, st.Tokens, 2)
	assert.False(t, st.Tokens[0].Blocked)
	assert.True(t, st.Tokens[1].Blocked)
	assert.Equal(t, Blocked, st.Status)
	assert.Equal(t, "X", st.Reason)

	var blockedEvents int
	for _, ev := range st.Events {
		if ev.Type == EventBlocked {
			blockedEvents++
		}
	}
	assert.Equal(t, 1, blockedEvents)

	// A later chunk is a no-op.
	before := st.Clone()
	after, eff := Apply(st, stream.Chunk{Content: "c", RiskScore: ptr(0.1)}, t0.Add(time.Second))
	assert.False(t, eff.Changed)
	assert.Equal(t, before, after.Clone())
}

func TestApply_BlockedWithoutTokens(t *testing.T) {
	st := drive(Begin("local", t0), stream.Blocked{Content: "input rejected"})
	assert.Empty(t, st.Tokens)
	assert.Equal(t, Blocked, st.Status)
	require.Len(t, st.Events, 1)
	require.NotNil(t, st.Events[0].Risk)
	assert.Equal(t, 0.0, *st.Events[0].Risk)
}

func TestApply_BlockedDoesNotRewriteEarlierSnapshot(t *testing.T) {
	st := drive(Begin("local", t0), stream.Chunk{Content: "a"})
	snapshot := st

	st = drive(st, stream.Blocked{Content: "stop"})
	assert.True(t, st.Tokens[0].Blocked)
	assert.False(t, snapshot.Tokens[0].Blocked)
}

func TestApply_WindowAnalysis(t *testing.T) {
	wire := stream.Window{
		WindowText:       "abc",
		WindowEnd:        3,
		WindowSize:       3,
		PatternScore:     0.1,
		PresidioScore:    0.2,
		TotalScore:       0.3,
		TriggeredRules:   []string{},
		PresidioEntities: []any{},
	}
	st := drive(Begin("local", t0), stream.WindowAnalysis{Window: wire})

	require.Len(t, st.WindowAnalyses, 1)
	assert.Equal(t, WindowAnalysis{
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
		Timestamp:        t0.Add(time.Millisecond),
	}, st.WindowAnalyses[0])
	assert.Equal(t, []float64{0.3}, st.RiskScores)

	require.Len(t, st.Events, 1)
	assert.Equal(t, EventWindowAnalysis, st.Events[0].Type)
	assert.Contains(t, st.Events[0].Description, "position 0 (size 3)")
}

func TestApply_RiskScoresInterleaveInAppliedOrder(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.Chunk{Content: "a", RiskScore: ptr(0.1)},
		stream.WindowAnalysis{Window: stream.Window{TotalScore: 0.5}},
		stream.Chunk{Content: "b", RiskScore: ptr(0.2)},
		stream.RiskAlert{Content: "b", RiskScore: ptr(0.9)},
		stream.ComplianceWarning{RiskScore: ptr(0.8)},
		stream.AnalysisBatch{Windows: []stream.Window{{TotalScore: 0.6}, {TotalScore: 0.7}}},
	)
	assert.Equal(t, []float64{0.1, 0.5, 0.2}, st.RiskScores)
	assert.Len(t, st.Tokens, 2)
}

func TestApply_TimelineOnlyKinds(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.RiskAlert{Content: "Doe", Reason: "High-risk token", RiskScore: ptr(0.9), Entities: stream.Labels{"PERSON"}},
		stream.ComplianceWarning{Content: "Approaching threshold"},
	)

	assert.Empty(t, st.Tokens)
	assert.Empty(t, st.RiskScores)
	assert.Equal(t, "", st.ResponseText)
	require.Len(t, st.Events, 2)
	assert.Equal(t, EventRiskAlert, st.Events[0].Type)
	assert.Equal(t, []string{"PERSON"}, st.Events[0].Entities)
	assert.Equal(t, 0.9, *st.Events[0].Risk)
	assert.Equal(t, EventComplianceWarning, st.Events[1].Type)
	assert.Equal(t, []int{1, 2}, []int{st.Events[0].ID, st.Events[1].ID})
}

func TestApply_SafeRewriteCarriesNoScore(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.Chunk{Content: "My SSN is ", RiskScore: ptr(0.2)},
		stream.SafeRewrite{Content: "[REDACTED]"},
	)

	require.Len(t, st.Tokens, 2)
	assert.Nil(t, st.Tokens[1].Risk)
	assert.True(t, st.Tokens[1].SafeRewrite)
	assert.Equal(t, "My SSN is [REDACTED]", st.ResponseText)
	assert.Equal(t, []float64{0.2}, st.RiskScores)
	require.Len(t, st.Events, 1)
	assert.Equal(t, EventSafeRewrite, st.Events[0].Type)
}

func TestApply_AnalysisBatchSharesTimestamp(t *testing.T) {
	st := drive(Begin("local", t0), stream.Chunk{Content: "a", RiskScore: ptr(0.1)})
	now := t0.Add(time.Minute)
	st, eff := Apply(st, stream.AnalysisBatch{Windows: []stream.Window{
		{WindowText: "one", TotalScore: 0.2},
		{WindowText: "two", TotalScore: 0.4},
		{WindowText: "three", TotalScore: 0.1},
	}}, now)

	require.True(t, eff.Changed)
	require.Len(t, st.WindowAnalyses, 3)
	for i, want := range []string{"one", "two", "three"} {
		assert.Equal(t, want, st.WindowAnalyses[i].WindowText)
		assert.Equal(t, now, st.WindowAnalyses[i].Timestamp)
	}
	require.Len(t, st.Events, 1)
	assert.Equal(t, "Batch analysis: 3 windows", st.Events[0].Description)
	assert.Equal(t, 0.4, *st.Events[0].Risk)
	assert.Equal(t, []float64{0.1}, st.RiskScores, "a batch leaves the risk series alone")
}

func TestApply_Completed(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.Chunk{Content: "done", SessionID: "from-chunk"},
		stream.Completed{SessionID: "srv-1", Content: "ok", Stats: map[string]any{"windows": 2.0}},
	)
	assert.Equal(t, Completed, st.Status)
	assert.Equal(t, "srv-1", st.SessionID)
	assert.Equal(t, "ok", st.Reason)
	assert.Equal(t, map[string]any{"windows": 2.0}, st.CompletionStats)
	assert.Equal(t, t0.Add(2*time.Millisecond), st.EndedAt)
}

func TestApply_SessionIDAdoptedOnlyOnce(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.Chunk{Content: "a", SessionID: "first"},
		stream.Chunk{Content: "b", SessionID: "second"},
	)
	assert.Equal(t, "first", st.SessionID)
}

func TestApply_ServerErrorRequestsErrored(t *testing.T) {
	st := Begin("local", t0)
	st, eff := Apply(st, stream.ServerError{Message: "upstream timeout"}, t0)

	assert.Equal(t, TransitionErrored, eff.Transition)
	var se *ServerError
	require.True(t, errors.As(eff.Err, &se))
	assert.Equal(t, "upstream timeout", se.Message)
	assert.Equal(t, Streaming, st.Status, "Apply requests the transition but does not commit it")

	st = Finish(st, eff.Transition.Status(), eff.Reason, eff.Err, t0)
	assert.Equal(t, Errored, st.Status)
	assert.ErrorAs(t, st.Err, &se)
}

func TestApply_IgnoredKinds(t *testing.T) {
	st := Begin("local", t0)
	for _, msg := range []stream.Message{stream.Heartbeat{}, stream.Unknown{Type: "response_window"}, nil} {
		next, eff := Apply(st, msg, t0)
		assert.False(t, eff.Changed)
		assert.Equal(t, st, next)
	}
}

func TestApply_NonStreamingStatesAreFrozen(t *testing.T) {
	for _, status := range []Status{Idle, Blocked, Completed, Errored, Cancelled} {
		st := State{Status: status}
		next, eff := Apply(st, stream.Chunk{Content: "late"}, t0)
		assert.False(t, eff.Changed, status.String())
		assert.Equal(t, st, next, status.String())
	}
}

func TestFinish_FirstTerminalWins(t *testing.T) {
	st := Finish(Begin("local", t0), Cancelled, "", nil, t0.Add(time.Second))
	st = Finish(st, Completed, "ignored", nil, t0.Add(2*time.Second))
	assert.Equal(t, Cancelled, st.Status)
	assert.Equal(t, t0.Add(time.Second), st.EndedAt)

	assert.Equal(t, Streaming, Finish(Begin("x", t0), Streaming, "", nil, t0).Status)
}

func TestEndToEnd_SSNIsBlocked(t *testing.T) {
	body := strings.Join([]string{
		`data: {"type":"chunk","content":"Test ","risk_score":0}`,
		`data: {"type":"chunk","content":"SSN: ","risk_score":0}`,
		`data: {"type":"chunk","content":"123-45-6789","risk_score":0.95}`,
		`data: {"type":"blocked","content":"PII detected","risk_score":0.95}`,
		`data: [DONE]`,
		``,
	}, "\n")

	fr := stream.NewFrameReader(strings.NewReader(body))
	dec := stream.NewDecoder(nil)
	st := Begin("local", t0)
	for {
		line, err := fr.Next()
		if err != nil {
			break
		}
		res := dec.Decode(line)
		if res.Outcome == stream.End {
			break
		}
		if res.Outcome == stream.Decoded {
			st = drive(st, res.Message)
		}
	}

	require.Len(t, st.Tokens, 3)
	assert.False(t, st.Tokens[1].Blocked)
	assert.True(t, st.Tokens[2].Blocked)
	assert.Equal(t, []float64{0, 0, 0.95}, st.RiskScores)
	assert.Equal(t, Blocked, st.Status)
	require.Len(t, st.Events, 1)
	assert.Equal(t, EventBlocked, st.Events[0].Type)
	assert.Equal(t, 0.95, *st.Events[0].Risk)
}

func TestState_CloneIsDeep(t *testing.T) {
	st := drive(Begin("local", t0),
		stream.Chunk{Content: "a", RiskScore: ptr(0.4), Entities: stream.Labels{"PERSON"}},
		stream.WindowAnalysis{Window: stream.Window{TriggeredRules: []string{"ssn"}, TotalScore: 0.5}},
	)
	cp := st.Clone()

	*cp.Tokens[0].Risk = 9
	cp.Tokens[0].Entities[0] = "changed"
	cp.RiskScores[0] = 9
	cp.WindowAnalyses[0].TriggeredRules[0] = "changed"
	cp.Events[0].Patterns[0] = "changed"

	assert.Equal(t, 0.4, *st.Tokens[0].Risk)
	assert.Equal(t, "PERSON", st.Tokens[0].Entities[0])
	assert.Equal(t, 0.4, st.RiskScores[0])
	assert.Equal(t, "ssn", st.WindowAnalyses[0].TriggeredRules[0])
	assert.Equal(t, "ssn", st.Events[0].Patterns[0])
}

func TestStatus(t *testing.T) {
	assert.False(t, Idle.IsTerminal())
	assert.False(t, Streaming.IsTerminal())
	for _, s := range []Status{Blocked, Completed, Errored, Cancelled} {
		assert.True(t, s.IsTerminal(), s.String())
		parsed, err := ParseStatus(s.String())
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("paused")
	assert.Error(t, err)
}
