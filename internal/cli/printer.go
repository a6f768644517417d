// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/muesli/termenv"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/monitor"
	"github.com/jeranaias/complywatch/internal/session"
	"github.com/jeranaias/complywatch/internal/util"
)

// =============================================================================
// UPDATE PRINTER
// =============================================================================

// printer writes one line per new token or timeline event as the controller
// publishes updates. It remembers how much of the current session it has
// printed, so each update only prints what is new.
type printer struct {
	mu        sync.Mutex
	out       *termenv.Output
	w         io.Writer
	jsonMode  bool
	threshold float64

	localID string
	tokens  int
	events  int
}

func newPrinter(w io.Writer, jsonMode bool, threshold float64) *printer {
	return &printer{
		out:       termenv.NewOutput(w, termenv.WithProfile(colorProfile(w))),
		w:         w,
		jsonMode:  jsonMode,
		threshold: threshold,
	}
}

// Handle is a monitor.Controller subscriber.
func (p *printer) Handle(u monitor.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := u.State
	if st.LocalID != p.localID {
		p.localID, p.tokens, p.events = st.LocalID, 0, 0
	}

	// A restarted or replaced session can shrink; never index past the end.
	newTokens := tail(st.Tokens, p.tokens)
	newEvents := tail(st.Events, p.events)
	p.tokens, p.events = len(st.Tokens), len(st.Events)

	if p.jsonMode {
		p.printJSON(u, newTokens, newEvents)
		return
	}

	switch u.Type {
	case monitor.UpdateStarted:
		fmt.Fprintf(p.w, "%s session %s\n", p.dim(st.StartedAt.Format("15:04:05.000")), st.LocalID)
	case monitor.UpdateMessage:
		for _, tok := range newTokens {
			p.printToken(tok)
		}
		for _, ev := range newEvents {
			p.printEvent(ev)
		}
	}
}

func tail[T any](items []T, printed int) []T {
	if printed >= len(items) {
		return nil
	}
	return items[printed:]
}

func (p *printer) printToken(tok session.Token) {
	tier := metrics.Tier(tok.Risk)
	risk := "  -  "
	if tok.Risk != nil {
		risk = fmt.Sprintf("%.3f", *tok.Risk)
	}
	label := "token"
	if tok.SafeRewrite {
		label = "rewrite"
	}
	fmt.Fprintf(p.w, "%s %-8s %s %-9s %q\n",
		p.dim(tok.Timestamp.Format("15:04:05.000")),
		label,
		p.tierText(tier, risk),
		p.tierText(tier, tier.String()),
		tok.Text,
	)
}

func (p *printer) printEvent(ev session.TimelineEvent) {
	tier := metrics.Tier(ev.Risk)
	risk := "     "
	if ev.Risk != nil {
		risk = p.tierText(tier, fmt.Sprintf("%.3f", *ev.Risk)).String()
	}
	name := p.out.String(strings.ToUpper(string(ev.Type))).Bold()
	if ev.Type == session.EventBlocked || ev.Type == session.EventError {
		name = name.Foreground(p.out.Color("9"))
	}
	fmt.Fprintf(p.w, "%s %s %s %s\n",
		p.dim(ev.Timestamp.Format("15:04:05.000")),
		name,
		risk,
		util.OneLine(ev.Description),
	)
}

func (p *printer) tierText(t metrics.RiskTier, s string) termenv.Style {
	style := p.out.String(s)
	switch t {
	case metrics.TierApproved:
		return style.Foreground(p.out.Color("6")).Italic()
	case metrics.TierLow:
		return style.Foreground(p.out.Color("2"))
	case metrics.TierMedium:
		return style.Foreground(p.out.Color("3"))
	case metrics.TierHigh:
		return style.Foreground(p.out.Color("9")).Bold()
	default:
		return style.Foreground(p.out.Color("15")).Background(p.out.Color("1")).Bold()
	}
}

func (p *printer) dim(s string) termenv.Style {
	return p.out.String(s).Faint()
}

// =============================================================================
// NDJSON OUTPUT
// =============================================================================

// jsonUpdate is one line of --json output.
type jsonUpdate struct {
	Update    string                  `json:"update"`
	Kind      string                  `json:"kind,omitempty"`
	LocalID   string                  `json:"local_id"`
	SessionID string                  `json:"session_id,omitempty"`
	Status    session.Status          `json:"status"`
	Tokens    []session.Token         `json:"tokens,omitempty"`
	Events    []session.TimelineEvent `json:"events,omitempty"`
	Summary   *metrics.Summary        `json:"summary,omitempty"`
	Error     string                  `json:"error,omitempty"`
}

func (p *printer) printJSON(u monitor.Update, tokens []session.Token, events []session.TimelineEvent) {
	line := jsonUpdate{
		Update:    u.Type.String(),
		Kind:      string(u.Kind),
		LocalID:   u.State.LocalID,
		SessionID: u.State.SessionID,
		Status:    u.State.Status,
		Tokens:    tokens,
		Events:    events,
	}
	if u.Type == monitor.UpdateFinished {
		sum := metrics.Summarize(u.State, p.threshold)
		line.Summary = &sum
		line.Error = u.State.ErrText()
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	p.w.Write(append(data, '\n'))
}

// =============================================================================
// SUMMARY
// =============================================================================

// printSummary describes a finished session.
func printSummary(w io.Writer, st session.State, threshold float64) {
	out := termenv.NewOutput(w, termenv.WithProfile(colorProfile(w)))
	sum := metrics.Summarize(st, threshold)

	status := out.String(strings.ToUpper(st.Status.String())).Bold()
	switch st.Status {
	case session.Completed:
		status = status.Foreground(out.Color("2"))
	case session.Blocked, session.Errored:
		status = status.Foreground(out.Color("9"))
	case session.Cancelled:
		status = status.Foreground(out.Color("3"))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Status:     %s\n", status)
	if st.SessionID != "" {
		fmt.Fprintf(w, "Session:    %s\n", st.SessionID)
	}
	if st.Reason != "" {
		fmt.Fprintf(w, "Reason:     %s\n", util.OneLine(st.Reason))
	}
	if st.Violation != "" {
		fmt.Fprintf(w, "Violation:  %s\n", st.Violation)
	}
	if msg := st.ErrText(); msg != "" {
		fmt.Fprintf(w, "Error:      %s\n", util.OneLine(msg))
	}
	fmt.Fprintf(w, "Tokens:     %d (%d blocked, %d high risk >= %.2f)\n",
		sum.Tokens, sum.BlockedTokens, sum.HighRisk, sum.HighRiskCeiling)
	fmt.Fprintf(w, "Risk:       current %.3f, max %.3f (%s)\n", sum.CurrentRisk, sum.MaxRisk, sum.MaxTier)
	fmt.Fprintf(w, "Windows:    %d analyses, %d timeline events\n", sum.WindowAnalyses, sum.Events)
	fmt.Fprintf(w, "Duration:   %s\n", st.Duration(time.Now()).Round(time.Millisecond))
}
