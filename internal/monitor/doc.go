// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package monitor runs live compliance streams.
//
// A Controller owns at most one session at a time. Start hands it a response
// body; one read goroutine turns the body into lines, decodes each line and
// applies it to the session state in arrival order. Observers read copies of
// the state through Snapshot or receive them through Subscribe.
//
// # Lifecycle
//
//	Idle ──Start──▶ Streaming ──blocked────▶ Blocked
//	                    │       ──completed──▶ Completed
//	                    │       ──read error─▶ Errored
//	                    └──────Cancel───────▶ Cancelled
//
// Any terminal state may be left with another Start, which replaces the
// session. Cancel takes effect when it returns; closing the body happens in
// the background and anything read after the cutover is discarded.
//
// # Usage
//
//	ctl := monitor.New(monitor.WithLogger(logger))
//	unsubscribe := ctl.Subscribe(func(u monitor.Update) {
//	    fmt.Println(u.Type, u.Kind, u.State.Status)
//	})
//	defer unsubscribe()
//
//	ctl.Start(ctx, resp.Body)
//	final, err := ctl.Wait(ctx)
package monitor
