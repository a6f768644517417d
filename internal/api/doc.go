// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package api opens compliance streams on the server.
//
// The client only starts a stream and hands back the response body; reading
// it is the monitor package's job. Requests are validated against the
// server's accepted ranges before anything is sent, and a client-side token
// bucket keeps the client under the server's per-minute limit.
//
// # Usage
//
//	client := api.NewClient("http://localhost:8000").WithLogger(logger)
//	body, err := client.OpenStream(ctx, api.StreamRequest{Message: "hello"})
//	if err != nil {
//	    var rl *api.RateLimitError
//	    if errors.As(err, &rl) {
//	        // wait rl.RetryAfter
//	    }
//	    return err
//	}
//	ctl.Start(ctx, body)
package api
