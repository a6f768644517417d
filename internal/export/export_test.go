// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/complywatch/internal/session"
)

var t0 = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func risk(f float64) *float64 { return &f }

func blockedSession() session.State {
	st := session.Begin("local-1", t0)
	st.SessionID = "sess/42"
	st.Status = session.Blocked
	st.Tokens = []session.Token{
		{Text: "Your ", Risk: risk(0.1), Timestamp: t0.Add(10 * time.Millisecond)},
		{Text: "SSN, is", Risk: risk(0.4), Timestamp: t0.Add(20 * time.Millisecond)},
		{Text: " 123", Risk: risk(0.95), Timestamp: t0.Add(30 * time.Millisecond), Blocked: true,
			Entities: []string{"US_SSN", "PERSON"}, Patterns: []string{"ssn"}},
	}
	st.ResponseText = "Your SSN, is 123"
	st.RiskScores = []float64{0.1, 0.4, 0.95}
	st.Events = []session.TimelineEvent{
		{ID: 1, Type: session.EventRiskAlert, Timestamp: t0.Add(25 * time.Millisecond), Description: "PII | SSN", Risk: risk(0.8)},
		{ID: 2, Type: session.EventBlocked, Timestamp: t0.Add(30 * time.Millisecond), Description: "Generation blocked: HIPAA"},
	}
	st.Reason = "HIPAA violation"
	st.Violation = "HIPAA"
	st.EndedAt = t0.Add(2 * time.Second)
	return st
}

func fixedOpts(dir string) *Options {
	opts := DefaultOptions()
	opts.OutputDir = dir
	opts.Now = func() time.Time { return t0.Add(time.Minute) }
	return opts
}

func TestExport_RejectsIdle(t *testing.T) {
	for _, format := range Formats {
		exp, err := ForFormat(format, nil)
		require.NoError(t, err)
		_, err = exp.Export(session.State{})
		assert.True(t, errors.Is(err, ErrEmptySession), format)
	}
}

func TestForFormat(t *testing.T) {
	exp, err := ForFormat("Markdown", nil)
	require.NoError(t, err)
	assert.Equal(t, ".md", exp.FileExtension())
	assert.Equal(t, "text/markdown", exp.MimeType())

	_, err = ForFormat("pdf", nil)
	assert.ErrorContains(t, err, "unsupported export format")
}

func TestJSONExporter(t *testing.T) {
	out, err := NewJSONExporter(fixedOpts("")).Export(blockedSession())
	require.NoError(t, err)

	var doc struct {
		Summary struct {
			Status        string  `json:"status"`
			Tokens        int     `json:"tokens"`
			BlockedTokens int     `json:"blocked_tokens"`
			HighRisk      int     `json:"high_risk"`
			MaxRisk       float64 `json:"max_risk"`
			MaxTier       string  `json:"max_tier"`
		} `json:"summary"`
		Session struct {
			SessionID string `json:"session_id"`
			Status    string `json:"status"`
			Tokens    []struct {
				Text    string   `json:"text"`
				Blocked bool     `json:"blocked"`
				Risk    *float64 `json:"risk"`
			} `json:"tokens"`
		} `json:"session"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))

	assert.Equal(t, "blocked", doc.Summary.Status)
	assert.Equal(t, 3, doc.Summary.Tokens)
	assert.Equal(t, 1, doc.Summary.BlockedTokens)
	assert.Equal(t, 1, doc.Summary.HighRisk)
	assert.Equal(t, 0.95, doc.Summary.MaxRisk)
	assert.Equal(t, "sess/42", doc.Session.SessionID)
	require.Len(t, doc.Session.Tokens, 3)
	assert.True(t, doc.Session.Tokens[2].Blocked)
}

func TestJSONExporter_IncludesError(t *testing.T) {
	st := session.Begin("local-2", t0)
	st.Status = session.Errored
	st.Err = errors.New("stream ended without a terminal message")

	out, err := NewJSONExporter(nil).Export(st)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"error": "stream ended without a terminal message"`)
}

func TestCSVExporter(t *testing.T) {
	st := blockedSession()
	st.Tokens = append(st.Tokens, session.Token{Text: "[redacted]", SafeRewrite: true, Timestamp: t0})

	out, err := NewCSVExporter(nil).Export(st)
	require.NoError(t, err)

	rows, err := csv.NewReader(strings.NewReader(string(out))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, CSVHeader, rows[0])

	assert.Equal(t, "SSN, is", rows[2][2], "comma survives quoting")
	assert.Equal(t, []string{"2", rows[3][1], " 123", "0.950", "high", "true", "true", "false", "US_SSN;PERSON", "ssn"}, rows[3])
	assert.Equal(t, "", rows[4][3], "safe rewrite has no risk")
	assert.Equal(t, "true", rows[4][7])
}

func TestCSVExporter_NoTokens(t *testing.T) {
	st := session.Begin("local-3", t0)
	out, err := NewCSVExporter(nil).Export(st)
	require.NoError(t, err)
	assert.Equal(t, strings.Join(CSVHeader, ",")+"\n", string(out))
}

func TestMarkdownExporter(t *testing.T) {
	out, err := NewMarkdownExporter(fixedOpts("")).Export(blockedSession())
	require.NoError(t, err)
	md := string(out)

	assert.True(t, strings.HasPrefix(md, "---\nsession_id: sess/42\nstatus: blocked\n"))
	assert.Contains(t, md, "- **Status**: BLOCKED")
	assert.Contains(t, md, "- **Violation**: HIPAA")
	assert.Contains(t, md, "- **Duration**: 2.00s")
	assert.Contains(t, md, "| Blocked tokens | 1 |")
	assert.Contains(t, md, "```text\nYour SSN, is 123\n```")
	assert.Contains(t, md, `Blocked at token " 123" with risk 0.950.`)
	assert.Contains(t, md, `| 1 | 09:30:00.025 | risk_alert | 0.800 | PII \| SSN |`)
}

func TestMarkdownExporter_TimelineOptional(t *testing.T) {
	opts := fixedOpts("")
	opts.IncludeTimeline = false
	out, err := NewMarkdownExporter(opts).Export(blockedSession())
	require.NoError(t, err)
	assert.NotContains(t, string(out), "## Timeline")
}

func TestEscapeYAML(t *testing.T) {
	assert.Equal(t, "plain", escapeYAML("plain"))
	assert.Equal(t, `"a\nb: c"`, escapeYAML("a\nb: c"))
}

func TestToFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	opts := fixedOpts(dir)

	path, err := ToFile(blockedSession(), NewCSVExporter(opts), opts)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "session_sess-42_20250314_093100.csv"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "index,timestamp,text"))
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "session", sanitizeFilename(""))
	assert.Equal(t, "a-b_c", sanitizeFilename("a:b c"))
}
