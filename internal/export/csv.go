// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/csv"
	"strconv"
	"strings"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// CSV EXPORTER
// =============================================================================

// CSVHeader is the first row of every CSV export.
var CSVHeader = []string{
	"index", "timestamp", "text", "risk", "tier", "high_risk",
	"blocked", "safe_rewrite", "entities", "patterns",
}

// CSVExporter writes one row per token.
type CSVExporter struct {
	options *Options
}

// NewCSVExporter creates a CSV exporter.
func NewCSVExporter(opts *Options) *CSVExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &CSVExporter{options: opts}
}

// Export renders the token series of st. A session without tokens yields
// only the header.
func (e *CSVExporter) Export(st session.State) ([]byte, error) {
	if err := validate(st); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(CSVHeader); err != nil {
		return nil, err
	}

	for i, tok := range st.Tokens {
		high := tok.Risk != nil && *tok.Risk >= e.options.HighRiskThreshold
		row := []string{
			strconv.Itoa(i),
			formatTimestamp(tok.Timestamp),
			tok.Text,
			formatRisk(tok.Risk),
			metrics.Tier(tok.Risk).String(),
			strconv.FormatBool(high),
			strconv.FormatBool(tok.Blocked),
			strconv.FormatBool(tok.SafeRewrite),
			strings.Join(tok.Entities, ";"),
			strings.Join(tok.Patterns, ";"),
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FileExtension returns the file extension for CSV.
func (e *CSVExporter) FileExtension() string {
	return ".csv"
}

// MimeType returns the MIME type for CSV.
func (e *CSVExporter) MimeType() string {
	return "text/csv"
}
