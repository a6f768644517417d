// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package live is the full-screen terminal view of a compliance stream.
//
// The model observes a monitor.Controller. Each controller update wakes the
// model, which then renders a fresh Snapshot, so a slow terminal coalesces
// bursts of updates instead of queueing them.
//
// Keys:
//
//	c       cancel the active session
//	r       restart the same request as a new session
//	q       cancel and quit
//	up/down scroll the timeline
//
// The risk threshold can change while running by sending ThresholdMsg,
// which the CLI does when the config file is edited.
package live
