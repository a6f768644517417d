// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithDiagnostics records controller activity in d.
func WithDiagnostics(d *Diagnostics) Option {
	return func(c *Controller) {
		c.diag = d
	}
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// WithIdleTimeout fails a session with ErrIdleTimeout when no bytes arrive
// for d. Zero disables the timeout.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithLenientEnd leaves a session Streaming when the body ends without a
// blocked or completed message, so a bare [DONE] or EOF changes nothing and
// the status stays exactly as the messages left it. By default such a
// session becomes Errored with ErrUnterminatedStream.
func WithLenientEnd() Option {
	return func(c *Controller) {
		c.lenientEnd = true
	}
}

// WithIDGenerator replaces the uuid generator used for local session ids.
func WithIDGenerator(gen func() string) Option {
	return func(c *Controller) {
		if gen != nil {
			c.newID = gen
		}
	}
}

func defaultID() string {
	return uuid.NewString()
}
