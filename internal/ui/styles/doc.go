// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling shared by complywatch's terminal
output.

# Color System (colors.go)

All colors are lipgloss.AdaptiveColor values, so the same palette works on
light and dark terminals. Risk tiers map to a fixed color ramp:

	approved - Cyan    (safe rewrites)
	low      - Emerald
	medium   - Amber
	high     - Rose
	critical - Rose on a deep background

Session statuses carry an ASCII indicator as well as a color so they stay
readable without color support.

# Theme System (theme.go)

	theme := styles.NewTheme("auto")
	line := theme.Risk(metrics.TierHigh).Render("0.82")
*/
package styles
