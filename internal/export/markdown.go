// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter writes a human-readable session report.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Export renders st as Markdown with YAML frontmatter.
func (e *MarkdownExporter) Export(st session.State) ([]byte, error) {
	if err := validate(st); err != nil {
		return nil, err
	}

	sum := metrics.Summarize(st, e.options.HighRiskThreshold)
	exported := e.options.now()
	var sb strings.Builder

	// YAML frontmatter
	sb.WriteString("---\n")
	fmt.Fprintf(&sb, "session_id: %s\n", escapeYAML(sessionName(st)))
	fmt.Fprintf(&sb, "status: %s\n", st.Status)
	fmt.Fprintf(&sb, "started: %s\n", st.StartedAt.Format(time.RFC3339))
	if !st.EndedAt.IsZero() {
		fmt.Fprintf(&sb, "ended: %s\n", st.EndedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(&sb, "tokens: %d\n", sum.Tokens)
	fmt.Fprintf(&sb, "max_risk: %.3f\n", sum.MaxRisk)
	fmt.Fprintf(&sb, "exported: %s\n", exported.Format(time.RFC3339))
	sb.WriteString("generator: complywatch\n")
	sb.WriteString("---\n\n")

	fmt.Fprintf(&sb, "# Compliance Session %s\n\n", escapeMarkdown(sessionName(st)))

	// Outcome
	sb.WriteString("## Outcome\n\n")
	fmt.Fprintf(&sb, "- **Status**: %s\n", strings.ToUpper(st.Status.String()))
	if st.Reason != "" {
		fmt.Fprintf(&sb, "- **Reason**: %s\n", escapeMarkdown(st.Reason))
	}
	if st.Violation != "" {
		fmt.Fprintf(&sb, "- **Violation**: %s\n", escapeMarkdown(st.Violation))
	}
	if msg := st.ErrText(); msg != "" {
		fmt.Fprintf(&sb, "- **Error**: %s\n", escapeMarkdown(msg))
	}
	fmt.Fprintf(&sb, "- **Duration**: %s\n", formatDuration(st.Duration(exported)))
	sb.WriteString("\n")

	// Metrics
	sb.WriteString("## Metrics\n\n")
	sb.WriteString("| Metric | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| Tokens | %d |\n", sum.Tokens)
	fmt.Fprintf(&sb, "| Blocked tokens | %d |\n", sum.BlockedTokens)
	fmt.Fprintf(&sb, "| High risk (>= %.2f) | %d |\n", sum.HighRiskCeiling, sum.HighRisk)
	fmt.Fprintf(&sb, "| Characters | %d |\n", sum.Chars)
	fmt.Fprintf(&sb, "| Current risk | %.3f |\n", sum.CurrentRisk)
	fmt.Fprintf(&sb, "| Max risk | %.3f (%s) |\n", sum.MaxRisk, sum.MaxTier)
	fmt.Fprintf(&sb, "| Window analyses | %d |\n", sum.WindowAnalyses)
	fmt.Fprintf(&sb, "| Timeline events | %d |\n", sum.Events)
	sb.WriteString("\n")

	if len(st.CompletionStats) > 0 {
		sb.WriteString("### Analysis statistics\n\n")
		keys := make([]string, 0, len(st.CompletionStats))
		for k := range st.CompletionStats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- **%s**: %v\n", escapeMarkdown(k), st.CompletionStats[k])
		}
		sb.WriteString("\n")
	}

	// Response
	sb.WriteString("## Response\n\n")
	if st.ResponseText == "" {
		sb.WriteString("_No text was generated._\n\n")
	} else {
		sb.WriteString("```text\n")
		sb.WriteString(strings.ReplaceAll(st.ResponseText, "```", "` ` `"))
		sb.WriteString("\n```\n\n")
	}

	if tok, ok := blockedToken(st); ok {
		fmt.Fprintf(&sb, "Blocked at token %q", tok.Text)
		if tok.Risk != nil {
			fmt.Fprintf(&sb, " with risk %.3f", *tok.Risk)
		}
		sb.WriteString(".\n\n")
	}

	// Timeline
	if e.options.IncludeTimeline && len(st.Events) > 0 {
		sb.WriteString("## Timeline\n\n")
		sb.WriteString("| # | Time | Type | Risk | Description |\n|---|---|---|---|---|\n")
		for _, ev := range st.Events {
			fmt.Fprintf(&sb, "| %d | %s | %s | %s | %s |\n",
				ev.ID,
				ev.Timestamp.Format("15:04:05.000"),
				ev.Type,
				formatRisk(ev.Risk),
				escapeTableCell(ev.Description),
			)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("---\n\n")
	fmt.Fprintf(&sb, "*Exported by complywatch on %s*\n", exported.Format("January 2, 2006 at 3:04 PM"))

	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func blockedToken(st session.State) (session.Token, bool) {
	for i := len(st.Tokens) - 1; i >= 0; i-- {
		if st.Tokens[i].Blocked {
			return st.Tokens[i], true
		}
	}
	return session.Token{}, false
}

func formatDuration(d time.Duration) string {
	ms := d.Milliseconds()
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	if seconds < 60 {
		return fmt.Sprintf("%.2fs", seconds)
	}
	return fmt.Sprintf("%dm %ds", int(seconds/60), int(seconds)%60)
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes characters that would break formatting inline.
func escapeMarkdown(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"#", `\#`,
		"*", `\*`,
		"_", `\_`,
		"[", `\[`,
		"]", `\]`,
		"`", "\\`",
		"\n", " ",
		"\r", "",
	)
	return r.Replace(s)
}

func escapeTableCell(s string) string {
	return strings.ReplaceAll(escapeMarkdown(s), "|", `\|`)
}

// escapeYAML quotes values that YAML would misread.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
