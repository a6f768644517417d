// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	chromastyles "github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/styles"
	"github.com/muesli/termenv"
)

// =============================================================================
// RESPONSE RENDERING
// =============================================================================

// printResponse writes the generated text, rendered as Markdown when asked.
// Rendering falls back to plain text if glamour fails.
func printResponse(w io.Writer, text string, render bool) {
	if strings.TrimSpace(text) == "" {
		return
	}
	fmt.Fprintln(w)
	if render {
		if out, err := renderMarkdown(w, text); err == nil {
			fmt.Fprint(w, out)
			return
		}
	}
	fmt.Fprintln(w, text)
}

// renderMarkdown uses the terminal-aware style on a color terminal and the
// plain "notty" style everywhere else.
func renderMarkdown(w io.Writer, text string) (string, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(min(terminalWidth(w), 100))}
	if isTerminal(w) && colorProfile(w) != termenv.Ascii {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle(styles.NoTTYStyle))
	}
	r, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return "", err
	}
	return r.Render(text)
}

// =============================================================================
// SYNTAX HIGHLIGHTING
// =============================================================================

// highlight colors source in the given language for a color terminal and
// returns it unchanged for anything else or on any chroma failure.
func highlight(w io.Writer, source, language string) string {
	if !isTerminal(w) || colorProfile(w) == termenv.Ascii {
		return source
	}
	lexer := lexers.Get(language)
	if lexer == nil {
		return source
	}
	style := chromastyles.Get("monokai")
	if style == nil {
		style = chromastyles.Fallback
	}
	formatter := formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}

	iterator, err := chroma.Coalesce(lexer).Tokenise(nil, source)
	if err != nil {
		return source
	}
	var buf strings.Builder
	if err := formatter.Format(&buf, style, iterator); err != nil {
		return source
	}
	return buf.String()
}
