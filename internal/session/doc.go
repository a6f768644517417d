// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package session holds the state of one compliance-monitored stream and the
// transition function that advances it.
//
// # Key Types
//
//   - State: tokens, timeline, window analyses, the combined risk series
//   - Status: Idle, Streaming and the four terminal statuses
//   - Effect: what a message asks the controller to do next
//
// # Usage
//
// State is advanced one decoded message at a time:
//
//	st := session.Begin(id, time.Now())
//	st, eff := session.Apply(st, msg, time.Now())
//	if eff.Transition != session.TransitionNone {
//	    st = session.Finish(st, eff.Transition.Status(), eff.Reason, eff.Err, time.Now())
//	}
//
// Apply never changes the elements visible through the State it is given,
// so a State previously handed out as a snapshot stays consistent. Only the
// result of Apply should be kept; applying two messages to the same input
// and keeping both results is not supported.
package session
