// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jeranaias/complywatch/internal/monitor"
)

// metricsServer exposes stream diagnostics for Prometheus while a command
// runs.
type metricsServer struct {
	registry *prometheus.Registry
	diag     *monitor.Diagnostics
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

func newMetricsServer(addr string, logger *slog.Logger) (*metricsServer, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	diag, err := monitor.NewDiagnostics(reg)
	if err != nil {
		return nil, fmt.Errorf("register diagnostics: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on metrics address: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &metricsServer{
		registry: reg,
		diag:     diag,
		listener: ln,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		logger:   logger,
	}, nil
}

// Addr is the bound address, useful when the port was 0.
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Start serves in the background.
func (s *metricsServer) Start() {
	s.logger.Info("serving metrics", "addr", s.Addr())
	go func() {
		if err := s.server.Serve(s.listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()
}

// Shutdown stops the server.
func (s *metricsServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
