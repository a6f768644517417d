// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package stream turns the raw body of a compliance stream response into
// typed messages.
//
// The compliance server answers a chat request with a chunked body in which
// every logical message is one line prefixed with "data: ", followed by a JSON
// object or the sentinel [DONE]. Reading it happens in two layers:
//
//   - FrameReader: bytes to lines. Keeps a persistent UTF-8 decoder so a
//     multi-byte character split across two network reads survives, and
//     buffers an unterminated trailing fragment until the next read.
//   - Decoder: lines to messages. Ignores non-data lines, reports [DONE] as
//     End, and dispatches each JSON object on its "type" field into one of the
//     Message variants. A malformed line is logged and skipped; it never ends
//     the stream.
//
// # Usage
//
//	frames := stream.NewFrameReader(resp.Body)
//	dec := stream.NewDecoder(logger)
//	for {
//	    line, err := frames.Next()
//	    if err != nil {
//	        break // io.EOF or *stream.ReadError
//	    }
//	    res := dec.Decode(line)
//	    if res.Outcome == stream.End {
//	        break
//	    }
//	    if res.Outcome == stream.Decoded {
//	        handle(res.Message)
//	    }
//	}
package stream
