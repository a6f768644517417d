// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// ACCENT COLORS
// =============================================================================

// Purple - Headers and the brand label
var Purple = lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}

// Cyan - Info, safe rewrites
var Cyan = lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}

// Emerald - Low risk, completed sessions
var Emerald = lipgloss.AdaptiveColor{Light: "#059669", Dark: "#34D399"}

// Amber - Medium risk, warnings
var Amber = lipgloss.AdaptiveColor{Light: "#D97706", Dark: "#FBBF24"}

// Rose - High risk, blocks, errors
var Rose = lipgloss.AdaptiveColor{Light: "#E11D48", Dark: "#FB7185"}

// RoseDeep - Background for critical risk and the blocked token
var RoseDeep = lipgloss.AdaptiveColor{Light: "#BE123C", Dark: "#881337"}

// =============================================================================
// SURFACE AND TEXT COLORS
// =============================================================================

// SurfaceDim - Header and status bar background
var SurfaceDim = lipgloss.AdaptiveColor{Light: "#F5F5F5", Dark: "#181825"}

// Overlay - Borders and separators
var Overlay = lipgloss.AdaptiveColor{Light: "#E5E5E5", Dark: "#313244"}

// TextPrimary - Main body text
var TextPrimary = lipgloss.AdaptiveColor{Light: "#1F2937", Dark: "#CDD6F4"}

// TextSecondary - Labels
var TextSecondary = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#A6ADC8"}

// TextMuted - Timestamps and hints
var TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6C7086"}

// TextInverse - Text on colored backgrounds
var TextInverse = lipgloss.AdaptiveColor{Light: "#FFFFFF", Dark: "#1E1E2E"}

// =============================================================================
// RISK AND STATUS MAPPING
// =============================================================================

// TierColor returns the color for a risk tier.
func TierColor(t metrics.RiskTier) lipgloss.AdaptiveColor {
	switch t {
	case metrics.TierApproved:
		return Cyan
	case metrics.TierLow:
		return Emerald
	case metrics.TierMedium:
		return Amber
	default:
		return Rose
	}
}

// StatusColor returns the color for a session status.
func StatusColor(s session.Status) lipgloss.AdaptiveColor {
	switch s {
	case session.Streaming:
		return Cyan
	case session.Completed:
		return Emerald
	case session.Blocked, session.Errored:
		return Rose
	case session.Cancelled:
		return Amber
	default:
		return TextSecondary
	}
}

// StatusIndicator is an ASCII marker for a status, readable without color.
func StatusIndicator(s session.Status) string {
	switch s {
	case session.Streaming:
		return "[*]"
	case session.Completed:
		return "[OK]"
	case session.Blocked:
		return "[BLOCKED]"
	case session.Errored:
		return "[X]"
	case session.Cancelled:
		return "[-]"
	default:
		return "[ ]"
	}
}
