// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

// =============================================================================
// HEALTH COMMAND
// =============================================================================

func newHealthCmd(a *app) *cobra.Command {
	var jsonOut bool
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the compliance server is up",
		Long: `Query the server's /health endpoint and print its status, version,
dependencies and enabled compliance features. Exits 1 when the server is
unreachable or reports itself unhealthy.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			h, err := a.newClient().Health(ctx)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(h); err != nil {
					return err
				}
			} else {
				out := termenv.NewOutput(w, termenv.WithProfile(colorProfile(w)))
				status := out.String(h.Status).Bold()
				if h.Healthy() {
					status = status.Foreground(out.Color("2"))
				} else {
					status = status.Foreground(out.Color("9"))
				}
				fmt.Fprintf(w, "Server:    %s\n", a.cfg.Server.BaseURL)
				fmt.Fprintf(w, "Status:    %s\n", status)
				if h.Version != "" {
					fmt.Fprintf(w, "Version:   %s\n", h.Version)
				}
				printFlags(w, "Dependencies", h.Dependencies)
				printFlags(w, "Features", h.Features)
			}

			if !h.Healthy() {
				return &ExitError{Code: ExitGeneralError, Err: errors.New("server reports " + h.Status), Silent: !jsonOut}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the raw health report as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "give up after this long")
	return cmd
}

func printFlags(w io.Writer, title string, flags map[string]bool) {
	if len(flags) == 0 {
		return
	}
	names := make([]string, 0, len(flags))
	for name := range flags {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(w, "%s:\n", title)
	for _, name := range names {
		mark := "[ ]"
		if flags[name] {
			mark = "[x]"
		}
		fmt.Fprintf(w, "  %s %s\n", mark, name)
	}
}
