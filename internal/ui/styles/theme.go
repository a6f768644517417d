// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package styles

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
)

// Theme holds the styled components for the live view and plain output.
type Theme struct {
	IsDark       bool
	ColorProfile termenv.Profile

	Header       lipgloss.Style
	HeaderTitle  lipgloss.Style
	Label        lipgloss.Style
	Value        lipgloss.Style
	Muted        lipgloss.Style
	Section      lipgloss.Style
	Token        lipgloss.Style
	BlockedToken lipgloss.Style
	Border       lipgloss.Style
	StatusBar    lipgloss.Style
	ShortcutKey  lipgloss.Style
	ShortcutDesc lipgloss.Style
	ErrorText    lipgloss.Style

	tiers map[metrics.RiskTier]lipgloss.Style
}

// NewTheme builds a theme for mode "dark", "light" or "auto". Auto asks the
// terminal for its background.
func NewTheme(mode string) *Theme {
	isDark := true
	switch mode {
	case "light":
		isDark = false
	case "dark":
	default:
		isDark = termenv.HasDarkBackground()
	}
	lipgloss.SetHasDarkBackground(isDark)

	t := &Theme{
		IsDark:       isDark,
		ColorProfile: termenv.ColorProfile(),
	}
	t.initStyles()
	return t
}

func (t *Theme) initStyles() {
	t.Header = lipgloss.NewStyle().Background(SurfaceDim).Padding(0, 1)
	t.HeaderTitle = lipgloss.NewStyle().Foreground(Purple).Bold(true)
	t.Label = lipgloss.NewStyle().Foreground(TextSecondary)
	t.Value = lipgloss.NewStyle().Foreground(TextPrimary).Bold(true)
	t.Muted = lipgloss.NewStyle().Foreground(TextMuted)
	t.Section = lipgloss.NewStyle().Foreground(Purple).Bold(true).MarginTop(1)
	t.Token = lipgloss.NewStyle().Foreground(TextPrimary)
	t.BlockedToken = lipgloss.NewStyle().
		Foreground(TextInverse).
		Background(RoseDeep).
		Bold(true).
		Strikethrough(true)
	t.Border = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(Overlay).
		Padding(0, 1)
	t.StatusBar = lipgloss.NewStyle().Background(SurfaceDim).Foreground(TextSecondary).Padding(0, 1)
	t.ShortcutKey = lipgloss.NewStyle().Foreground(Cyan).Bold(true)
	t.ShortcutDesc = lipgloss.NewStyle().Foreground(TextMuted)
	t.ErrorText = lipgloss.NewStyle().Foreground(Rose).Bold(true)

	t.tiers = map[metrics.RiskTier]lipgloss.Style{
		metrics.TierApproved: lipgloss.NewStyle().Foreground(Cyan).Italic(true),
		metrics.TierLow:      lipgloss.NewStyle().Foreground(Emerald),
		metrics.TierMedium:   lipgloss.NewStyle().Foreground(Amber),
		metrics.TierHigh:     lipgloss.NewStyle().Foreground(Rose).Bold(true),
		metrics.TierCritical: lipgloss.NewStyle().Foreground(TextInverse).Background(RoseDeep).Bold(true),
	}
}

// Risk returns the style for a risk tier.
func (t *Theme) Risk(tier metrics.RiskTier) lipgloss.Style {
	if s, ok := t.tiers[tier]; ok {
		return s
	}
	return t.Token
}

// Status renders a status with its indicator and color.
func (t *Theme) Status(s session.Status) string {
	return lipgloss.NewStyle().
		Foreground(StatusColor(s)).
		Bold(true).
		Render(StatusIndicator(s) + " " + s.String())
}
