// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"regexp"
	"strings"

	"github.com/mattn/go-runewidth"
)

// TruncateRunes truncates s to at most maxRunes characters, replacing the
// tail with "..." when something was cut.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates s to a terminal display width. Wide (CJK) runes
// count as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// OneLine collapses newlines and tabs so a token or line can be shown in a
// single terminal row.
func OneLine(s string) string {
	return strings.NewReplacer("\r\n", "⏎", "\n", "⏎", "\r", "", "\t", " ").Replace(s)
}

var (
	ssnPattern  = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	cardPattern = regexp.MustCompile(`\b\d{4}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`)
)

// RedactForLog truncates text to maxRunes and masks SSN and payment-card
// shapes. Raw stream lines routinely carry the PII the server is flagging, so
// anything logged from the wire goes through here.
func RedactForLog(text string, maxRunes int) string {
	if text == "" {
		return ""
	}
	out := TruncateRunes(text, maxRunes)
	out = ssnPattern.ReplaceAllString(out, "***-**-****")
	out = cardPattern.ReplaceAllString(out, "****-****-****-****")
	return out
}
