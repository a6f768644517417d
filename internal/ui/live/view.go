// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package live

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
	"github.com/jeranaias/complywatch/internal/util"
)

const tokenBoxLines = 6

// View renders the screen.
func (m Model) View() string {
	sections := []string{
		m.renderHeader(),
		m.renderMetrics(),
		m.renderTokens(),
		m.theme.Section.Render(fmt.Sprintf("Timeline (%d)", len(m.state.Events))),
		m.timeline.View(),
		m.renderStatusBar(),
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	t := m.theme
	status := t.Status(m.state.Status)
	if metrics.Live(m.state.Status) {
		status = m.spinner.View() + " " + status
	}

	title := runewidth.Truncate(util.OneLine(m.title), max(m.width-30, 10), "...")
	left := t.HeaderTitle.Render("complywatch") + "  " + t.Muted.Render(title)
	gap := m.width - lipgloss.Width(left) - lipgloss.Width(status) - 2
	if gap < 1 {
		gap = 1
	}
	header := t.Header.Width(m.width).Render(left + strings.Repeat(" ", gap) + status)

	detail := m.detailLine()
	if detail == "" {
		return header
	}
	return lipgloss.JoinVertical(lipgloss.Left, header, detail)
}

// detailLine explains a terminal or failed state.
func (m Model) detailLine() string {
	t := m.theme
	st := m.state
	switch {
	case m.openErr != nil:
		return t.ErrorText.Render("connection failed: " + util.OneLine(m.openErr.Error()))
	case m.opening:
		return t.Muted.Render("connecting...")
	case st.Status == session.Blocked:
		line := "blocked: " + st.Reason
		if st.Violation != "" {
			line += " (" + st.Violation + ")"
		}
		return t.ErrorText.Render(util.OneLine(line))
	case st.Status == session.Errored || st.Status == session.Cancelled:
		return t.ErrorText.Render(util.OneLine(st.ErrText()))
	case st.Status == session.Completed && st.Reason != "":
		return t.Muted.Render(util.OneLine(st.Reason))
	}
	return ""
}

func (m Model) renderMetrics() string {
	t := m.theme
	sum := metrics.Summarize(m.state, m.threshold)

	cell := func(label, value string) string {
		return t.Label.Render(label+" ") + t.Value.Render(value)
	}
	risk := func(v float64) string {
		return t.Risk(metrics.TierOf(v)).Render(fmt.Sprintf("%.3f", v))
	}

	cells := []string{
		cell("tokens", fmt.Sprint(sum.Tokens)),
		cell("blocked", fmt.Sprint(sum.BlockedTokens)),
		cell(fmt.Sprintf("high(>=%.2f)", sum.HighRiskCeiling), fmt.Sprint(sum.HighRisk)),
		cell("chars", fmt.Sprint(sum.Chars)),
		t.Label.Render("risk ") + risk(sum.CurrentRisk),
		t.Label.Render("max ") + risk(sum.MaxRisk),
		cell("windows", fmt.Sprint(sum.WindowAnalyses)),
		cell("time", m.state.Duration(time.Now()).Truncate(100*time.Millisecond).String()),
	}
	return t.Border.Width(max(m.width-2, 20)).Render(strings.Join(cells, "  "))
}

// renderTokens shows the tail of the response, each token colored by tier.
func (m Model) renderTokens() string {
	t := m.theme
	width := max(m.width-4, 16)

	var b strings.Builder
	for _, tok := range m.state.Tokens {
		style := t.Risk(metrics.Tier(tok.Risk))
		if tok.Blocked {
			style = t.BlockedToken
		}
		b.WriteString(style.Render(tok.Text))
	}

	body := b.String()
	if body == "" {
		body = t.Muted.Render("waiting for tokens...")
	}
	wrapped := lipgloss.NewStyle().Width(width).Render(body)
	lines := strings.Split(wrapped, "\n")
	if len(lines) > tokenBoxLines {
		lines = lines[len(lines)-tokenBoxLines:]
	}
	for len(lines) < tokenBoxLines {
		lines = append(lines, "")
	}
	return t.Border.Width(max(m.width-2, 20)).Render(strings.Join(lines, "\n"))
}

// renderTimeline formats the newest MaxTimeline events, one per row.
func (m Model) renderTimeline() string {
	events := m.state.Events
	if len(events) > m.maxTimeline {
		events = events[len(events)-m.maxTimeline:]
	}
	if len(events) == 0 {
		return m.theme.Muted.Render("no events yet")
	}

	const typeCol = 18
	rows := make([]string, 0, len(events))
	for _, ev := range events {
		riskCell := "     "
		if ev.Risk != nil {
			riskCell = m.theme.Risk(metrics.Tier(ev.Risk)).Render(fmt.Sprintf("%.3f", *ev.Risk))
		}
		prefix := fmt.Sprintf("%s %s ",
			m.theme.Muted.Render(ev.Timestamp.Format("15:04:05.000")),
			padRight(string(ev.Type), typeCol),
		)
		room := m.timeline.Width - lipgloss.Width(prefix) - 6
		desc := runewidth.Truncate(util.OneLine(ev.Description), max(room, 10), "...")
		rows = append(rows, prefix+riskCell+" "+desc)
	}
	return strings.Join(rows, "\n")
}

func (m Model) renderStatusBar() string {
	t := m.theme
	keys := []struct{ key, desc string }{
		{"c", "cancel"},
		{"r", "restart"},
		{"q", "quit"},
		{"up/down", "scroll"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = t.ShortcutKey.Render(k.key) + " " + t.ShortcutDesc.Render(k.desc)
	}
	right := ""
	if id := m.state.SessionID; id != "" {
		right = t.Muted.Render("session " + id)
	}
	left := strings.Join(parts, "  ")
	gap := max(m.width-lipgloss.Width(left)-lipgloss.Width(right)-2, 1)
	return t.StatusBar.Width(m.width).Render(left + strings.Repeat(" ", gap) + right)
}

func padRight(s string, width int) string {
	s = runewidth.Truncate(s, width, "")
	return s + strings.Repeat(" ", width-runewidth.StringWidth(s))
}
