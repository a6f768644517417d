// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// =============================================================================
// REPLAY COMMAND
// =============================================================================

func newReplayCmd(a *app) *cobra.Command {
	var of *outputFlags
	var chunkSize int
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "replay <file|->",
		Short: "Feed a recorded event stream through the monitor",
		Long: `Replay a captured text/event-stream body (for example saved with
curl -N) as if it were arriving live. --chunk-size splits the input into
reads of that many bytes and --delay pauses between them, which exercises
the same framing paths as a slow network.`,
		Example: `  complywatch replay session.sse
  curl -sN -X POST ... | complywatch replay - --json
  complywatch replay session.sse --chunk-size 7 --delay 20ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var src io.ReadCloser
			if args[0] == "-" {
				src = io.NopCloser(cmd.InOrStdin())
			} else {
				f, err := os.Open(args[0])
				if err != nil {
					if os.IsNotExist(err) {
						return fmt.Errorf("file not found: %s", args[0])
					}
					return err
				}
				src = f
			}

			body := src
			if chunkSize > 0 || delay > 0 {
				body = newPacedReader(cmd.Context(), src, chunkSize, delay)
			}

			st, err := a.runSession(cmd, a.newController(a.logger), body, of)
			if err != nil {
				return err
			}
			return sessionExit(st)
		},
	}
	of = addOutputFlags(cmd)
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "bytes per read (0 reads whatever is available)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between reads")
	return cmd
}

// pacedReader returns at most size bytes per Read and sleeps delay before
// each read after the first.
type pacedReader struct {
	ctx   context.Context
	src   io.ReadCloser
	size  int
	delay time.Duration
	first bool
}

func newPacedReader(ctx context.Context, src io.ReadCloser, size int, delay time.Duration) *pacedReader {
	return &pacedReader{ctx: ctx, src: src, size: size, delay: delay, first: true}
}

func (r *pacedReader) Read(p []byte) (int, error) {
	if !r.first && r.delay > 0 {
		t := time.NewTimer(r.delay)
		select {
		case <-r.ctx.Done():
			t.Stop()
			return 0, r.ctx.Err()
		case <-t.C:
		}
	}
	r.first = false
	if r.size > 0 && len(p) > r.size {
		p = p[:r.size]
	}
	return r.src.Read(p)
}

func (r *pacedReader) Close() error {
	return r.src.Close()
}
