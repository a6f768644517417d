// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across complywatch.
//
// # Key Functions
//
// Text:
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: display-width truncation for terminal columns
//   - RedactForLog: masks SSN and card-number shapes before text reaches a log
//
// Files:
//   - WriteFileAtomic: crash-safe file writing with fsync and rename
package util
