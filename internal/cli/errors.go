// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/jeranaias/complywatch/internal/session"
)

// =============================================================================
// EXIT CODES
// =============================================================================

const (
	// ExitSuccess indicates a completed session or successful command
	ExitSuccess = 0
	// ExitGeneralError indicates an errored session or a command failure
	ExitGeneralError = 1
	// ExitBlocked indicates the server blocked the response
	ExitBlocked = 2
	// ExitCancelled indicates the user interrupted the session
	ExitCancelled = 130
)

// ExitCodeForStatus maps a final session status to an exit code. A session
// left streaming by lenient end counts as success.
func ExitCodeForStatus(s session.Status) int {
	switch s {
	case session.Blocked:
		return ExitBlocked
	case session.Errored:
		return ExitGeneralError
	case session.Cancelled:
		return ExitCancelled
	default:
		return ExitSuccess
	}
}

// =============================================================================
// EXIT ERROR
// =============================================================================

// ExitError carries a non-zero exit code out of a command. Silent errors
// have already been reported and are not printed again.
type ExitError struct {
	Code   int
	Err    error
	Silent bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// sessionExit returns nil for a successful session and a silent ExitError
// otherwise. The summary has already described the outcome.
func sessionExit(st session.State) error {
	code := ExitCodeForStatus(st.Status)
	if code == ExitSuccess {
		return nil
	}
	return &ExitError{Code: code, Err: fmt.Errorf("session %s", st.Status), Silent: true}
}

// ExitCode returns the process exit code for err.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitGeneralError
}

// reportError prints err unless it is silent.
func reportError(w io.Writer, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Silent {
		return
	}
	fmt.Fprintln(w, "Error:", err)
}
