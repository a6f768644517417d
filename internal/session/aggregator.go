// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"fmt"
	"slices"
	"time"

	"github.com/jeranaias/complywatch/internal/stream"
	"github.com/jeranaias/complywatch/internal/util"
)

// descriptionLimit caps quoted message text inside timeline descriptions.
const descriptionLimit = 80

// =============================================================================
// EFFECTS
// =============================================================================

// Transition is a status change a message asks the controller to make.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionBlocked
	TransitionCompleted
	TransitionErrored
)

// Status returns the terminal status the transition leads to, or Streaming
// for TransitionNone.
func (t Transition) Status() Status {
	switch t {
	case TransitionBlocked:
		return Blocked
	case TransitionCompleted:
		return Completed
	case TransitionErrored:
		return Errored
	default:
		return Streaming
	}
}

// Effect reports what Apply did and what it asks of the caller.
type Effect struct {
	// Changed is false when the message was ignored.
	Changed    bool
	Transition Transition
	// Reason is the server text accompanying a transition.
	Reason string
	// Err is set for TransitionErrored.
	Err error
}

// ServerError is an in-band failure the server reported in the stream.
type ServerError struct {
	Message string
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	if e.Message == "" {
		return "server reported a stream error"
	}
	return "server reported a stream error: " + e.Message
}

// =============================================================================
// APPLY
// =============================================================================

// Apply advances state by one decoded message. Only a Streaming state is
// advanced; any other state is returned as-is with Changed false. Apply does
// not change status itself: Blocked, Completed and error messages come back
// as a requested Transition, which the caller commits with Finish.
func Apply(state State, msg stream.Message, now time.Time) (State, Effect) {
	if state.Status != Streaming || msg == nil {
		return state, Effect{}
	}

	switch m := msg.(type) {
	case stream.Chunk:
		risk := riskOrZero(m.RiskScore)
		state.Tokens = append(state.Tokens, Token{
			Text:      m.Content,
			Risk:      &risk,
			Timestamp: now,
			Entities:  labels(m.Entities),
			Patterns:  labels(m.Patterns),
		})
		state.RiskScores = append(state.RiskScores, risk)
		state.ResponseText += m.Content
		state = adoptSessionID(state, m.SessionID)
		return state, Effect{Changed: true}

	case stream.WindowAnalysis:
		w := fromWire(m.Window, now)
		state.WindowAnalyses = append(state.WindowAnalyses, w)
		state.RiskScores = append(state.RiskScores, w.TotalScore)
		score := w.TotalScore
		state = appendEvent(state, TimelineEvent{
			Type:      EventWindowAnalysis,
			Timestamp: now,
			Description: fmt.Sprintf("Window analysis at position %d (size %d): score %.2f",
				w.AnalysisPosition, w.WindowSize, w.TotalScore),
			Risk:     &score,
			Patterns: slices.Clone(w.TriggeredRules),
		})
		return state, Effect{Changed: true}

	case stream.RiskAlert:
		desc := m.Reason
		if desc == "" {
			desc = "High-risk content detected"
		}
		if m.Content != "" {
			desc = fmt.Sprintf("%s: %q", desc, quoteable(m.Content))
		}
		risk := riskOrZero(m.RiskScore)
		state = appendEvent(state, TimelineEvent{
			Type:        EventRiskAlert,
			Timestamp:   now,
			Description: desc,
			Risk:        &risk,
			Entities:    labels(m.Entities),
			Patterns:    labels(m.Patterns),
		})
		return state, Effect{Changed: true}

	case stream.Blocked:
		if n := len(state.Tokens); n > 0 {
			// Copy before flipping so earlier snapshots keep their view.
			state.Tokens = slices.Clone(state.Tokens)
			state.Tokens[n-1].Blocked = true
		}
		desc := "Generation blocked"
		if m.Content != "" {
			desc = "Generation blocked: " + quoteable(m.Content)
		}
		risk := riskOrZero(m.RiskScore)
		state = appendEvent(state, TimelineEvent{
			Type:        EventBlocked,
			Timestamp:   now,
			Description: desc,
			Risk:        &risk,
		})
		state = adoptSessionID(state, m.SessionID)
		if m.Violation != "" {
			state.Violation = m.Violation
		}
		return state, Effect{Changed: true, Transition: TransitionBlocked, Reason: m.Content}

	case stream.ComplianceWarning:
		desc := "Compliance warning"
		if m.Content != "" {
			desc = "Compliance warning: " + quoteable(m.Content)
		}
		risk := riskOrZero(m.RiskScore)
		state = appendEvent(state, TimelineEvent{
			Type:        EventComplianceWarning,
			Timestamp:   now,
			Description: desc,
			Risk:        &risk,
		})
		return state, Effect{Changed: true}

	case stream.SafeRewrite:
		state.Tokens = append(state.Tokens, Token{
			Text:        m.Content,
			Timestamp:   now,
			SafeRewrite: true,
		})
		state.ResponseText += m.Content
		state = appendEvent(state, TimelineEvent{
			Type:        EventSafeRewrite,
			Timestamp:   now,
			Description: fmt.Sprintf("Safe rewrite applied: %q", quoteable(m.Content)),
		})
		return state, Effect{Changed: true}

	case stream.AnalysisBatch:
		var peak *float64
		for _, wire := range m.Windows {
			w := fromWire(wire, now)
			state.WindowAnalyses = append(state.WindowAnalyses, w)
			if peak == nil || w.TotalScore > *peak {
				score := w.TotalScore
				peak = &score
			}
		}
		state = appendEvent(state, TimelineEvent{
			Type:        EventAnalysis,
			Timestamp:   now,
			Description: fmt.Sprintf("Batch analysis: %d windows", len(m.Windows)),
			Risk:        peak,
		})
		return state, Effect{Changed: true}

	case stream.Completed:
		desc := "Stream completed"
		if m.Content != "" {
			desc = "Stream completed: " + quoteable(m.Content)
		}
		state = appendEvent(state, TimelineEvent{
			Type:        EventCompleted,
			Timestamp:   now,
			Description: desc,
		})
		if m.SessionID != "" {
			state.SessionID = m.SessionID
		}
		if m.Stats != nil {
			state.CompletionStats = m.Stats
		}
		return state, Effect{Changed: true, Transition: TransitionCompleted, Reason: m.Content}

	case stream.ServerError:
		err := &ServerError{Message: m.Message}
		state = appendEvent(state, TimelineEvent{
			Type:        EventError,
			Timestamp:   now,
			Description: err.Error(),
		})
		return state, Effect{Changed: true, Transition: TransitionErrored, Reason: m.Message, Err: err}

	default:
		// Heartbeat, Unknown and any future variant.
		return state, Effect{}
	}
}

// Finish commits a terminal status. It is a no-op when state is already
// terminal or status is not a terminal status.
func Finish(state State, status Status, reason string, cause error, now time.Time) State {
	if state.Status.IsTerminal() || !status.IsTerminal() {
		return state
	}
	state.Status = status
	if reason != "" {
		state.Reason = reason
	}
	state.Err = cause
	state.EndedAt = now
	return state
}

// =============================================================================
// HELPERS
// =============================================================================

func appendEvent(state State, ev TimelineEvent) State {
	ev.ID = len(state.Events) + 1
	state.Events = append(state.Events, ev)
	return state
}

func adoptSessionID(state State, id string) State {
	if state.SessionID == "" && id != "" {
		state.SessionID = id
	}
	return state
}

func riskOrZero(r *float64) float64 {
	if r == nil {
		return 0
	}
	return *r
}

func labels(l stream.Labels) []string {
	if len(l) == 0 {
		return nil
	}
	return slices.Clone([]string(l))
}

func quoteable(s string) string {
	return util.TruncateRunes(util.OneLine(s), descriptionLimit)
}

func fromWire(w stream.Window, now time.Time) WindowAnalysis {
	rules := w.TriggeredRules
	if rules == nil {
		rules = []string{}
	}
	entities := w.PresidioEntities
	if entities == nil {
		entities = []any{}
	}
	return WindowAnalysis{
		WindowText:       w.WindowText,
		WindowStart:      w.WindowStart,
		WindowEnd:        w.WindowEnd,
		WindowSize:       w.WindowSize,
		AnalysisPosition: w.AnalysisPosition,
		PatternScore:     w.PatternScore,
		PresidioScore:    w.PresidioScore,
		TotalScore:       w.TotalScore,
		TriggeredRules:   rules,
		PresidioEntities: entities,
		Timestamp:        now,
	}
}
