// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"time"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter writes the complete state plus its derived summary.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Document is the JSON export layout.
type Document struct {
	ExportedAt time.Time       `json:"exported_at"`
	Summary    metrics.Summary `json:"summary"`
	Error      string          `json:"error,omitempty"`
	Session    session.State   `json:"session"`
}

// Export renders st as indented JSON.
func (e *JSONExporter) Export(st session.State) ([]byte, error) {
	if err := validate(st); err != nil {
		return nil, err
	}
	doc := Document{
		ExportedAt: e.options.now().UTC(),
		Summary:    metrics.Summarize(st, e.options.HighRiskThreshold),
		Error:      st.ErrText(),
		Session:    st.Clone(),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
