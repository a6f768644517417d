// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics derives display figures from session state. Every function
// is read-only and returns zero values for an empty session.
package metrics

import (
	"math"
	"unicode/utf8"

	"github.com/jeranaias/complywatch/internal/session"
)

// DefaultHighRiskThreshold is the score at or above which an entry counts as
// high risk when the caller has no configured threshold.
const DefaultHighRiskThreshold = 0.7

// TokenCount is the number of tokens, safe rewrites included.
func TokenCount(st session.State) int {
	return len(st.Tokens)
}

// BlockedTokenCount is the number of tokens flagged by a block.
func BlockedTokenCount(st session.State) int {
	n := 0
	for _, t := range st.Tokens {
		if t.Blocked {
			n++
		}
	}
	return n
}

// HighRiskCount counts risk series entries at or above threshold.
func HighRiskCount(st session.State, threshold float64) int {
	n := 0
	for _, r := range st.RiskScores {
		if r >= threshold {
			n++
		}
	}
	return n
}

// CharCount is the length of the response in characters, not bytes.
func CharCount(st session.State) int {
	return utf8.RuneCountInString(st.ResponseText)
}

// CurrentRisk is the last entry of the risk series, or 0.
func CurrentRisk(st session.State) float64 {
	if len(st.RiskScores) == 0 {
		return 0
	}
	return st.RiskScores[len(st.RiskScores)-1]
}

// MaxRisk is the largest entry of the risk series, or 0.
func MaxRisk(st session.State) float64 {
	if len(st.RiskScores) == 0 {
		return 0
	}
	peak := math.Inf(-1)
	for _, r := range st.RiskScores {
		if r > peak {
			peak = r
		}
	}
	return peak
}

// WindowAnalysisCount is the number of window analyses received.
func WindowAnalysisCount(st session.State) int {
	return len(st.WindowAnalyses)
}

// Summary bundles every figure for one state.
type Summary struct {
	Status          session.Status `json:"status"`
	Tokens          int            `json:"tokens"`
	BlockedTokens   int            `json:"blocked_tokens"`
	HighRisk        int            `json:"high_risk"`
	Chars           int            `json:"chars"`
	CurrentRisk     float64        `json:"current_risk"`
	MaxRisk         float64        `json:"max_risk"`
	WindowAnalyses  int            `json:"window_analyses"`
	Events          int            `json:"events"`
	MaxTier         RiskTier       `json:"max_tier"`
	Live            bool           `json:"live"`
	HighRiskCeiling float64        `json:"high_risk_threshold"`
}

// Summarize computes every figure with the given high-risk threshold.
func Summarize(st session.State, threshold float64) Summary {
	maxRisk := MaxRisk(st)
	return Summary{
		Status:          st.Status,
		Tokens:          TokenCount(st),
		BlockedTokens:   BlockedTokenCount(st),
		HighRisk:        HighRiskCount(st, threshold),
		Chars:           CharCount(st),
		CurrentRisk:     CurrentRisk(st),
		MaxRisk:         maxRisk,
		WindowAnalyses:  WindowAnalysisCount(st),
		Events:          len(st.Events),
		MaxTier:         Tier(&maxRisk),
		Live:            Live(st.Status),
		HighRiskCeiling: threshold,
	}
}

// Live reports whether the live indicator should be on.
func Live(status session.Status) bool {
	return status == session.Streaming
}
