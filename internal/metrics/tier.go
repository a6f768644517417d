// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package metrics

import "fmt"

// RiskTier buckets a score for display. Scores above 1.0 are compounded
// risk and get their own tier rather than being clamped.
type RiskTier int

const (
	// TierApproved is a safe rewrite: pre-approved text with no live score.
	TierApproved RiskTier = iota
	TierLow
	TierMedium
	TierHigh
	TierCritical
)

// Tier boundaries.
const (
	MediumRiskFloor = 0.3
	HighRiskFloor   = 0.7
	CriticalAbove   = 1.0
)

// Tier returns the display tier for a token or event risk. nil means the
// value came from a safe rewrite.
func Tier(risk *float64) RiskTier {
	if risk == nil {
		return TierApproved
	}
	switch r := *risk; {
	case r > CriticalAbove:
		return TierCritical
	case r >= HighRiskFloor:
		return TierHigh
	case r >= MediumRiskFloor:
		return TierMedium
	default:
		return TierLow
	}
}

// TierOf is Tier for a plain score.
func TierOf(risk float64) RiskTier {
	return Tier(&risk)
}

// String returns the tier label.
func (t RiskTier) String() string {
	switch t {
	case TierApproved:
		return "approved"
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	case TierCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText encodes the tier by label.
func (t RiskTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText is the inverse of MarshalText.
func (t *RiskTier) UnmarshalText(text []byte) error {
	for tier := TierApproved; tier <= TierCritical; tier++ {
		if tier.String() == string(text) {
			*t = tier
			return nil
		}
	}
	return fmt.Errorf("unknown risk tier %q", text)
}
