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

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jeranaias/complywatch/internal/config"
	"github.com/jeranaias/complywatch/internal/logging"
	"github.com/jeranaias/complywatch/internal/ui/live"
	"github.com/jeranaias/complywatch/internal/ui/styles"
)

// =============================================================================
// MONITOR COMMAND
// =============================================================================

func newMonitorCmd(a *app) *cobra.Command {
	var rf *requestFlags

	cmd := &cobra.Command{
		Use:   "monitor [message]",
		Short: "Follow a stream in a full-screen live view",
		Long: `Open the live view: status, a metrics bar, the token stream with the blocked
token highlighted, and a scrolling timeline. Press c to cancel, r to send the
same message again as a new session, q to quit.

Editing the config file while the view is open applies the new
display.high_risk_threshold immediately.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !isTerminal(os.Stdin) || !isTerminal(cmd.OutOrStdout()) {
				return errors.New("monitor needs an interactive terminal; use 'complywatch stream' instead")
			}

			message, err := a.messageArg(cmd, args)
			if err != nil {
				return err
			}
			req := a.request(message, rf)
			if err := req.Validate(); err != nil {
				return err
			}

			// Logs would draw over the screen; keep them only when they go to a file.
			logger := logging.Discard()
			if a.cfg.Log.File != "" {
				logger = a.logger
			}

			client := a.newClient().WithLogger(logger)
			ctrl := a.newController(logger)
			model := live.New(live.Options{
				Context:    cmd.Context(),
				Controller: ctrl,
				Open: func(ctx context.Context) (io.ReadCloser, error) {
					return client.OpenStreamWithRetry(ctx, req, a.cfg.Server.RetryAttempts)
				},
				Theme:             styles.NewTheme(a.cfg.Display.Theme),
				Title:             message,
				HighRiskThreshold: a.cfg.Display.HighRiskThreshold,
				MaxTimeline:       a.cfg.Display.MaxTimeline,
			})
			defer model.Close()

			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))

			if stop := a.watchConfig(logger, p); stop != nil {
				defer stop()
			}

			final, err := p.Run()
			if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return fmt.Errorf("live view: %w", err)
			}

			st := ctrl.Snapshot()
			if m, ok := final.(live.Model); ok {
				st = m.State()
			}
			printSummary(cmd.OutOrStdout(), st, a.cfg.Display.HighRiskThreshold)
			return sessionExit(st)
		},
	}
	rf = addRequestFlags(cmd)
	return cmd
}

// watchConfig forwards threshold changes from the config file to the live
// view. It returns nil when there is no file to watch.
func (a *app) watchConfig(logger *slog.Logger, p *tea.Program) func() {
	path, err := a.configFile()
	if err != nil {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	w, err := config.NewWatcher(path, func(cfg *config.Config, err error) {
		if err != nil {
			return
		}
		p.Send(live.ThresholdMsg{Value: cfg.Display.HighRiskThreshold})
	})
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return nil
	}
	w.WithLogger(logger)
	if err := w.Watch(); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		w.Close()
		return nil
	}
	return func() { w.Close() }
}
