// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/complywatch/internal/api"
	"github.com/jeranaias/complywatch/internal/config"
	"github.com/jeranaias/complywatch/internal/logging"
	"github.com/jeranaias/complywatch/internal/monitor"
)

// Version is set at build time with -ldflags "-X .../internal/cli.Version=...".
var Version = "dev"

// skipConfig marks commands that run without loading configuration.
const skipConfig = "skip-config"

// app is the state shared by every command of one invocation.
type app struct {
	// Persistent flags.
	configPath  string
	logLevel    string
	logFormat   string
	metricsAddr string

	cfg     *config.Config
	logger  *slog.Logger
	diag    *monitor.Diagnostics
	metrics *metricsServer
	logFile io.Closer
}

// NewRootCmd builds the complete command tree. Each call returns an
// independent tree, so tests can run commands in parallel.
func NewRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "complywatch",
		Short: "Watch a live compliance-filtered LLM response stream",
		Long: `complywatch sends a prompt to a compliance streaming server and follows the
response as it is generated: each token with its risk score, sliding-window
analyses, risk alerts, and the final verdict (completed, blocked or errored).`,
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return a.teardown()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default ~/.complywatch/config.toml)")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	flags.StringVar(&a.logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&a.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9464")

	root.AddCommand(
		newStreamCmd(a),
		newMonitorCmd(a),
		newReplayCmd(a),
		newInteractiveCmd(a),
		newHealthCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	api.Version = Version
	root := NewRootCmd()
	err := root.ExecuteContext(context.Background())
	if err != nil {
		reportError(root.ErrOrStderr(), err)
	}
	return ExitCode(err)
}

// =============================================================================
// SETUP AND TEARDOWN
// =============================================================================

// setup loads configuration, builds the logger and diagnostics, and starts
// the metrics endpoint when asked.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	if cmd.Annotations[skipConfig] == "true" {
		return nil
	}

	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	a.cfg = cfg

	logOut := cmd.ErrOrStderr()
	if cfg.Log.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Log.File), 0o700); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Log.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		a.logFile = f
		logOut = f
	}
	logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: logOut})
	if err != nil {
		return err
	}
	a.logger = logger.With("command", cmd.Name())

	if a.metricsAddr != "" {
		srv, err := newMetricsServer(a.metricsAddr, a.logger)
		if err != nil {
			return err
		}
		a.metrics = srv
		a.diag = srv.diag
		a.metrics.Start()
	}
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	if a.configPath != "" {
		return config.LoadFromPath(a.configPath)
	}
	return config.Load()
}

func (a *app) teardown() error {
	var errs []error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	return errors.Join(errs...)
}

// configFile is the file the current invocation reads, explicit or default.
func (a *app) configFile() (string, error) {
	if a.configPath != "" {
		return a.configPath, nil
	}
	return config.PathTOML()
}

// =============================================================================
// SHARED BUILDERS
// =============================================================================

// newClient builds an API client from the server section.
func (a *app) newClient() *api.Client {
	s := a.cfg.Server
	return api.NewClient(s.BaseURL).
		WithStreamPath(s.StreamPath).
		WithConnectTimeout(time.Duration(s.TimeoutSecs) * time.Second).
		WithRateLimit(s.RequestsPerMinute).
		WithLogger(a.logger)
}

// newController builds a controller from the stream section.
func (a *app) newController(logger *slog.Logger) *monitor.Controller {
	opts := []monitor.Option{
		monitor.WithLogger(logger),
		monitor.WithDiagnostics(a.diag),
		monitor.WithIdleTimeout(time.Duration(a.cfg.Stream.IdleTimeoutSecs) * time.Second),
	}
	if a.cfg.Stream.LenientEnd {
		opts = append(opts, monitor.WithLenientEnd())
	}
	return monitor.New(opts...)
}
