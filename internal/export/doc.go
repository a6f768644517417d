// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes session snapshots to files.
//
// # Supported Formats
//
//   - JSON: the full state plus derived figures, machine-readable
//   - CSV: one row per token with its risk, tier and flags
//   - Markdown: a human-readable report with the response and timeline
//
// # Usage
//
//	exp, err := export.ForFormat("md", export.DefaultOptions())
//	path, err := export.ToFile(snapshot, exp, opts)
package export
