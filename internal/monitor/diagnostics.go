// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package monitor

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jeranaias/complywatch/internal/session"
	"github.com/jeranaias/complywatch/internal/stream"
)

// Diagnostics holds the controller's prometheus collectors. A nil
// *Diagnostics records nothing.
type Diagnostics struct {
	SessionsStarted  prometheus.Counter
	SessionsFinished *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	MessagesApplied  *prometheus.CounterVec
	DecodeErrors     prometheus.Counter
	UnknownMessages  prometheus.Counter
	LateMessages     prometheus.Counter
	BytesRead        prometheus.Counter
}

// NewDiagnostics creates the collectors and registers them with reg. A nil
// reg leaves them unregistered, which is what tests want.
func NewDiagnostics(reg prometheus.Registerer) (*Diagnostics, error) {
	d := &Diagnostics{
		SessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "sessions_started_total",
			Help:      "Total number of stream sessions started",
		}),
		SessionsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "sessions_finished_total",
			Help:      "Total number of stream sessions by terminal status",
		}, []string{"status"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "active_sessions",
			Help:      "Sessions currently streaming (0 or 1 per controller)",
		}),
		MessagesApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "messages_applied_total",
			Help:      "Total number of messages applied to session state, by type",
		}, []string{"type"}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Total number of data lines skipped because they failed to decode",
		}),
		UnknownMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "unknown_messages_total",
			Help:      "Total number of messages with an unrecognized type",
		}),
		LateMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "late_messages_total",
			Help:      "Total number of messages received after the session reached a terminal status",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "complywatch",
			Subsystem: "stream",
			Name:      "bytes_read_total",
			Help:      "Total number of response body bytes read",
		}),
	}

	if reg != nil {
		for _, c := range d.collectors() {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

func (d *Diagnostics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		d.SessionsStarted, d.SessionsFinished, d.ActiveSessions, d.MessagesApplied,
		d.DecodeErrors, d.UnknownMessages, d.LateMessages, d.BytesRead,
	}
}

func (d *Diagnostics) started() {
	if d == nil {
		return
	}
	d.SessionsStarted.Inc()
	d.ActiveSessions.Inc()
}

func (d *Diagnostics) finished(status session.Status) {
	if d == nil {
		return
	}
	d.SessionsFinished.WithLabelValues(status.String()).Inc()
	d.ActiveSessions.Dec()
}

func (d *Diagnostics) applied(kind stream.Kind) {
	if d == nil {
		return
	}
	d.MessagesApplied.WithLabelValues(string(kind)).Inc()
}

func (d *Diagnostics) decodeError() {
	if d != nil {
		d.DecodeErrors.Inc()
	}
}

func (d *Diagnostics) unknown() {
	if d != nil {
		d.UnknownMessages.Inc()
	}
}

func (d *Diagnostics) late() {
	if d != nil {
		d.LateMessages.Inc()
	}
}

func (d *Diagnostics) read(n int) {
	if d != nil && n > 0 {
		d.BytesRead.Add(float64(n))
	}
}
