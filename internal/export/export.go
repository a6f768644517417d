// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/complywatch/internal/metrics"
	"github.com/jeranaias/complywatch/internal/session"
	"github.com/jeranaias/complywatch/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Exporter renders a session snapshot in one format.
type Exporter interface {
	// Export renders st and returns the file contents.
	Export(st session.State) ([]byte, error)

	// FileExtension returns the file extension including the dot.
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// ErrEmptySession is returned for a state that never started.
var ErrEmptySession = errors.New("session has not started")

// =============================================================================
// EXPORT OPTIONS
// =============================================================================

// Options configures export behavior.
type Options struct {
	// OutputDir is where ToFile writes. Default: current directory.
	OutputDir string

	// HighRiskThreshold is the cut-off for the high-risk count and for
	// flagging rows and tokens.
	HighRiskThreshold float64

	// IncludeTimeline adds the timeline to Markdown output.
	IncludeTimeline bool

	// Now stamps the export. Default: time.Now.
	Now func() time.Time
}

// DefaultOptions returns default export options.
func DefaultOptions() *Options {
	return &Options{
		OutputDir:         ".",
		HighRiskThreshold: metrics.DefaultHighRiskThreshold,
		IncludeTimeline:   true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// Formats lists the names ForFormat accepts.
var Formats = []string{"json", "csv", "md"}

// ForFormat returns the exporter for a format name.
func ForFormat(format string, opts *Options) (Exporter, error) {
	switch strings.ToLower(format) {
	case "json":
		return NewJSONExporter(opts), nil
	case "csv":
		return NewCSVExporter(opts), nil
	case "md", "markdown":
		return NewMarkdownExporter(opts), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (want %s)", format, strings.Join(Formats, ", "))
	}
}

// =============================================================================
// EXPORT FUNCTIONS
// =============================================================================

// ToFile exports st into opts.OutputDir and returns the file path. The name
// is derived from the session id and the export time.
func ToFile(st session.State, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	content, err := exporter.Export(st)
	if err != nil {
		return "", fmt.Errorf("export failed: %w", err)
	}

	filename := fmt.Sprintf("session_%s_%s%s",
		sanitizeFilename(sessionName(st)),
		opts.now().Format("20060102_150405"),
		exporter.FileExtension(),
	)

	outputPath := filepath.Join(opts.OutputDir, filename)
	if err := util.WriteFileAtomic(outputPath, content, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return outputPath, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func validate(st session.State) error {
	if st.Status == session.Idle || st.StartedAt.IsZero() {
		return ErrEmptySession
	}
	return nil
}

// sessionName prefers the server id, which operators can look up.
func sessionName(st session.State) string {
	if st.SessionID != "" {
		return st.SessionID
	}
	return st.LocalID
}

// sanitizeFilename replaces characters that are invalid in filenames.
func sanitizeFilename(s string) string {
	s = util.TruncateRunes(s, 50)

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "session"
	}
	return b.String()
}

func formatRisk(risk *float64) string {
	if risk == nil {
		return ""
	}
	return fmt.Sprintf("%.3f", *risk)
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}
