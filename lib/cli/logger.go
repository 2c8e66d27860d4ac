// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger returns a logger writing to stderr: slog.TextHandler when
// stderr is a terminal, slog.JSONHandler when it is piped or
// redirected.
func NewLogger(level slog.Leveler) *slog.Logger {
	return newLogger(os.Stderr, StderrIsTerminal(), level)
}

func newLogger(w io.Writer, terminal bool, level slog.Leveler) *slog.Logger {
	options := &slog.HandlerOptions{Level: level}
	if terminal {
		return slog.New(slog.NewTextHandler(w, options))
	}
	return slog.New(slog.NewJSONHandler(w, options))
}

// StderrIsTerminal reports whether stderr is attached to a terminal.
// Binaries also use it to decide whether workers may emit ANSI color.
func StderrIsTerminal() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}
