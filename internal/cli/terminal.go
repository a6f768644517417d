// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"io"
	"os"

	"github.com/muesli/termenv"
	"golang.org/x/term"
)

// =============================================================================
// TTY DETECTION
// =============================================================================

// isTerminal reports whether w is a terminal. Buffers and pipes are not.
func isTerminal(w any) bool {
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// =============================================================================
// COLOR OUTPUT CONTROL
// =============================================================================

// colorProfile picks the color profile for output written to w. NO_COLOR
// disables color and FORCE_COLOR enables it regardless of TTY detection.
// See https://no-color.org/.
func colorProfile(w io.Writer) termenv.Profile {
	if os.Getenv("NO_COLOR") != "" {
		return termenv.Ascii
	}
	if os.Getenv("FORCE_COLOR") != "" {
		return termenv.ANSI256
	}
	if !isTerminal(w) {
		return termenv.Ascii
	}
	return termenv.EnvColorProfile()
}

// terminalWidth returns the width of w, or 80 when it is not a terminal.
func terminalWidth(w any) int {
	const defaultWidth = 80
	f, ok := w.(interface{ Fd() uintptr })
	if !ok {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}
