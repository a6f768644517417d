// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/jeranaias/complywatch/internal/api"
	"github.com/jeranaias/complywatch/internal/export"
	"github.com/jeranaias/complywatch/internal/monitor"
	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// REQUEST FLAGS
// =============================================================================

// requestFlags override the [stream] config section for one request. Only
// flags the user actually set take effect.
type requestFlags struct {
	flags *pflag.FlagSet

	model         string
	systemPrompt  string
	region        string
	delayTokens   int
	delayMs       int
	riskThreshold float64
	windowSize    int
	frequency     int
	noSafeRewrite bool
}

func addRequestFlags(cmd *cobra.Command) *requestFlags {
	rf := &requestFlags{flags: cmd.Flags()}
	f := cmd.Flags()
	f.StringVar(&rf.model, "model", "", "model name passed to the server")
	f.StringVar(&rf.systemPrompt, "system-prompt", "", "system prompt")
	f.StringVar(&rf.region, "region", "", "compliance region: US, EU, HIPAA, PCI")
	f.IntVar(&rf.delayTokens, "delay-tokens", 0, "tokens held back for analysis (5-50)")
	f.IntVar(&rf.delayMs, "delay-ms", 0, "milliseconds tokens are held back (50-1000)")
	f.Float64Var(&rf.riskThreshold, "risk-threshold", 0, "server blocking threshold (0-2)")
	f.IntVar(&rf.windowSize, "window-size", 0, "analysis window size (50-500)")
	f.IntVar(&rf.frequency, "frequency", 0, "analysis frequency in tokens (5-100)")
	f.BoolVar(&rf.noSafeRewrite, "no-safe-rewrite", false, "ask the server to block instead of rewriting")
	return rf
}

// request builds the stream request from config plus explicit flags.
func (a *app) request(message string, rf *requestFlags) api.StreamRequest {
	s := a.cfg.Stream
	threshold := s.RiskThreshold
	safeRewrite := s.EnableSafeRewrite

	req := api.StreamRequest{
		Message:            message,
		Model:              s.Model,
		SystemPrompt:       s.SystemPrompt,
		DelayTokens:        s.DelayTokens,
		DelayMs:            s.DelayMs,
		Region:             s.Region,
		APIKey:             a.cfg.Server.APIKey,
		AnalysisWindowSize: s.AnalysisWindowSize,
		AnalysisFrequency:  s.AnalysisFrequency,
	}

	if rf != nil {
		changed := rf.flags.Changed
		if changed("model") {
			req.Model = rf.model
		}
		if changed("system-prompt") {
			req.SystemPrompt = rf.systemPrompt
		}
		if changed("region") {
			req.Region = strings.ToUpper(rf.region)
		}
		if changed("delay-tokens") {
			req.DelayTokens = rf.delayTokens
		}
		if changed("delay-ms") {
			req.DelayMs = rf.delayMs
		}
		if changed("risk-threshold") {
			threshold = rf.riskThreshold
		}
		if changed("window-size") {
			req.AnalysisWindowSize = rf.windowSize
		}
		if changed("frequency") {
			req.AnalysisFrequency = rf.frequency
		}
		if changed("no-safe-rewrite") {
			safeRewrite = !rf.noSafeRewrite
		}
	}

	req.RiskThreshold = &threshold
	req.EnableSafeRewrite = &safeRewrite
	return req
}

// messageArg joins the positional arguments, or reads stdin when there are
// none or the only one is "-".
func (a *app) messageArg(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		data, err := io.ReadAll(io.LimitReader(cmd.InOrStdin(), 4*api.MaxMessageChars))
		if err != nil {
			return "", fmt.Errorf("read message from stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return strings.Join(args, " "), nil
}

// =============================================================================
// OUTPUT FLAGS
// =============================================================================

type outputFlags struct {
	json      bool
	render    bool
	quiet     bool
	exportFmt string
	outDir    string
}

func addOutputFlags(cmd *cobra.Command) *outputFlags {
	of := &outputFlags{}
	f := cmd.Flags()
	f.BoolVar(&of.json, "json", false, "print updates as JSON lines")
	f.BoolVar(&of.render, "render", false, "render the final response as Markdown")
	f.BoolVarP(&of.quiet, "quiet", "q", false, "print only the summary")
	f.StringVar(&of.exportFmt, "export", "", "export the final session: "+strings.Join(export.Formats, ", "))
	f.StringVar(&of.outDir, "out", ".", "directory for --export")
	return of
}

// =============================================================================
// SESSION RUNNER
// =============================================================================

// runSession starts body on ctrl, prints updates until the session is over,
// then prints the summary and exports if asked. Interrupting the process
// cancels the session.
func (a *app) runSession(cmd *cobra.Command, ctrl *monitor.Controller, body io.ReadCloser, of *outputFlags) (session.State, error) {
	w := cmd.OutOrStdout()
	threshold := a.cfg.Display.HighRiskThreshold

	if !of.quiet {
		p := newPrinter(w, of.json, threshold)
		unsubscribe := ctrl.Subscribe(p.Handle)
		defer unsubscribe()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctrl.Start(ctx, body)
	<-ctrl.Done()
	st := ctrl.Snapshot()

	if !of.json {
		printResponse(w, st.ResponseText, of.render)
		printSummary(w, st, threshold)
	}

	if of.exportFmt != "" {
		path, err := exportSession(st, of, threshold)
		if err != nil {
			return st, err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Exported %s\n", path)
	}
	return st, nil
}

func exportSession(st session.State, of *outputFlags, threshold float64) (string, error) {
	opts := export.DefaultOptions()
	opts.OutputDir = of.outDir
	opts.HighRiskThreshold = threshold
	exp, err := export.ForFormat(of.exportFmt, opts)
	if err != nil {
		return "", err
	}
	return export.ToFile(st, exp, opts)
}

// =============================================================================
// STREAM COMMAND
// =============================================================================

func newStreamCmd(a *app) *cobra.Command {
	var rf *requestFlags
	var of *outputFlags

	cmd := &cobra.Command{
		Use:   "stream [message]",
		Short: "Stream one response and print each update",
		Long: `Send a message to the compliance server and print every token and timeline
event as it arrives, followed by a summary. With no message argument the
message is read from stdin.

The exit code reports the outcome: 0 completed, 1 errored, 2 blocked,
130 cancelled.`,
		Example: `  complywatch stream "Summarize this patient record"
  echo "What is my SSN?" | complywatch stream --region HIPAA --json
  complywatch stream --export md --out reports "Draft a refund email"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message, err := a.messageArg(cmd, args)
			if err != nil {
				return err
			}
			req := a.request(message, rf)
			if err := req.Validate(); err != nil {
				return err
			}

			body, err := a.newClient().OpenStreamWithRetry(cmd.Context(), req, a.cfg.Server.RetryAttempts)
			if err != nil {
				return describeOpenError(err)
			}

			st, err := a.runSession(cmd, a.newController(a.logger), body, of)
			if err != nil {
				return err
			}
			return sessionExit(st)
		},
	}
	rf = addRequestFlags(cmd)
	of = addOutputFlags(cmd)
	return cmd
}

// describeOpenError adds a hint for the failures users can act on.
func describeOpenError(err error) error {
	var rateErr *api.RateLimitError
	if errors.As(err, &rateErr) && rateErr.RetryAfter > 0 {
		return fmt.Errorf("%w (retry in %s)", err, rateErr.RetryAfter)
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Status == 404 {
		return fmt.Errorf("%w (check server.stream_path)", err)
	}
	return err
}
