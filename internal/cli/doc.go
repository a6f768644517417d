// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the complywatch command line.
//
// # Commands
//
//	complywatch stream [message]        stream one response, print each update
//	complywatch monitor [message]       full-screen live view
//	complywatch replay <file|->         feed a recorded event stream through the monitor
//	complywatch interactive             prompt loop, one session per line
//	complywatch health                  query the server health endpoint
//	complywatch config show|path|init|get|set
//	complywatch version
//
// # Exit Codes
//
// A session's terminal status decides the exit code so scripts can tell a
// blocked response from a broken one:
//
//	0    completed
//	1    errored, or any command failure
//	2    blocked
//	130  cancelled (Ctrl-C)
package cli
