// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package process

import (
	"errors"
	"fmt"
	"io"
	"os"
)

// Exit codes shared by every buildexec binary.
const (
	ExitSuccess = 0
	ExitFailure = 1
)

// ExitError carries a specific exit code out of a binary's run
// function. main() unwraps it with [ExitCode].
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode returns the exit code a binary should terminate with for
// err: 0 for nil, the carried code for an *ExitError, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitError *ExitError
	if errors.As(err, &exitError) {
		return exitError.Code
	}
	return ExitFailure
}

// Report writes "error: err" to w. Silent *ExitError values (Err nil)
// are not printed: the binary already reported the failure through
// its own channel.
func Report(w io.Writer, err error) {
	var exitError *ExitError
	if errors.As(err, &exitError) && exitError.Err == nil {
		return
	}
	fmt.Fprintf(w, "error: %v\n", err)
}

// Fatal writes "error: err" to stderr and exits with the code
// ExitCode(err) selects. Use it in main() for errors from run() where
// the structured logger may not be initialized.
func Fatal(err error) {
	Report(os.Stderr, err)
	os.Exit(ExitCode(err))
}
