// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/jeranaias/complywatch/internal/config"
	"github.com/jeranaias/complywatch/internal/monitor"
	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// PROMPT WITH HISTORY
// =============================================================================

// prompter reads one line at a time.
type prompter interface {
	Prompt(prompt string) (string, error)
	Close() error
}

// linePrompter wraps liner for history and line editing. History persists
// in the config directory with owner-only permissions.
type linePrompter struct {
	line        *liner.State
	historyFile string
}

func newLinePrompter() *linePrompter {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	dir, err := config.Dir()
	if err != nil {
		dir = os.TempDir()
	}
	p := &linePrompter{line: line, historyFile: filepath.Join(dir, "history")}
	if f, err := os.Open(p.historyFile); err == nil {
		p.line.ReadHistory(f)
		f.Close()
	}
	return p
}

func (p *linePrompter) Prompt(prompt string) (string, error) {
	input, err := p.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		p.line.AppendHistory(input)
	}
	return input, nil
}

func (p *linePrompter) Close() error {
	if err := os.MkdirAll(filepath.Dir(p.historyFile), 0o700); err == nil {
		if f, err := os.OpenFile(p.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
			p.line.WriteHistory(f)
			f.Close()
		}
	}
	return p.line.Close()
}

// scanPrompter reads lines from a non-terminal input such as a pipe.
type scanPrompter struct {
	sc *bufio.Scanner
}

func newScanPrompter(r io.Reader) *scanPrompter {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &scanPrompter{sc: sc}
}

func (p *scanPrompter) Prompt(string) (string, error) {
	if p.sc.Scan() {
		return p.sc.Text(), nil
	}
	if err := p.sc.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

func (p *scanPrompter) Close() error { return nil }

// =============================================================================
// INTERACTIVE COMMAND
// =============================================================================

const interactiveHelp = `Type a message to stream it. Commands:
  /status   show the last session's summary
  /export F export the last session (json, csv, md)
  /help     show this help
  /quit     leave (Ctrl-D also works)`

func newInteractiveCmd(a *app) *cobra.Command {
	var rf *requestFlags
	var of *outputFlags

	cmd := &cobra.Command{
		Use:     "interactive",
		Aliases: []string{"repl"},
		Short:   "Prompt for messages and stream each as a new session",
		Long: `Start a prompt loop. Every line starts a new session on the same monitor,
so the previous session's state is replaced. Ctrl-C cancels a running
session; at the prompt it exits.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var p prompter
			if isTerminal(cmd.InOrStdin()) {
				p = newLinePrompter()
			} else {
				p = newScanPrompter(cmd.InOrStdin())
			}
			defer p.Close()

			return a.interactiveLoop(cmd, p, rf, of)
		},
	}
	rf = addRequestFlags(cmd)
	of = addOutputFlags(cmd)
	return cmd
}

func (a *app) interactiveLoop(cmd *cobra.Command, p prompter, rf *requestFlags, of *outputFlags) error {
	w := cmd.OutOrStdout()
	client := a.newClient()
	ctrl := a.newController(a.logger)

	fmt.Fprintf(w, "complywatch %s, server %s\n%s\n", Version, client.StreamURL(), interactiveHelp)

	// Exports happen on request, not after every session.
	sessionOut := *of
	sessionOut.exportFmt = ""

	for {
		input, err := p.Prompt("complywatch> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(w)
				return nil
			}
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		if strings.HasPrefix(input, "/") {
			if quit := a.interactiveCommand(w, ctrl, input, of); quit {
				return nil
			}
			continue
		}

		req := a.request(input, rf)
		if err := req.Validate(); err != nil {
			fmt.Fprintln(w, "Error:", err)
			continue
		}
		body, err := client.OpenStreamWithRetry(cmd.Context(), req, a.cfg.Server.RetryAttempts)
		if err != nil {
			fmt.Fprintln(w, "Error:", describeOpenError(err))
			continue
		}
		if _, err := a.runSession(cmd, ctrl, body, &sessionOut); err != nil {
			fmt.Fprintln(w, "Error:", err)
		}
	}
}

// interactiveCommand handles a slash command and reports whether to quit.
func (a *app) interactiveCommand(w io.Writer, ctrl *monitor.Controller, input string, of *outputFlags) bool {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/quit", "/exit", "/q":
		return true
	case "/help", "/?":
		fmt.Fprintln(w, interactiveHelp)
	case "/status":
		st := ctrl.Snapshot()
		if st.Status == session.Idle {
			fmt.Fprintln(w, "No session yet.")
			return false
		}
		printSummary(w, st, a.cfg.Display.HighRiskThreshold)
	case "/export":
		if len(fields) < 2 {
			fmt.Fprintln(w, "Usage: /export json|csv|md")
			return false
		}
		opts := *of
		opts.exportFmt = fields[1]
		path, err := exportSession(ctrl.Snapshot(), &opts, a.cfg.Display.HighRiskThreshold)
		if err != nil {
			fmt.Fprintln(w, "Error:", err)
			return false
		}
		fmt.Fprintln(w, "Exported", path)
	default:
		fmt.Fprintf(w, "Unknown command %s; try /help\n", fields[0])
	}
	return false
}
