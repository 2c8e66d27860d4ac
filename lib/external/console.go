// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/step"
)

// Console prints the last-resort diagnostic of a failed worker
// directly to stderr. It is the only output that bypasses the event
// pipe.
type Console struct {
	writer io.Writer
	header lipgloss.Style
}

// NewConsole returns a console writing to w. When ansi is false the
// output is plain text regardless of what w is connected to: the
// orchestrator decides whether its terminal takes escape sequences.
func NewConsole(w io.Writer, ansi bool) *Console {
	profile := termenv.Ascii
	if ansi {
		profile = termenv.ANSI
	}
	// NewRenderer re-detects the profile from the writer; pin it to
	// what the orchestrator passed down.
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	return &Console{
		writer: w,
		header: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
	}
}

// PrintFailure writes the diagnostic for a failed action:
//
//	Failed to execute external action: <id>. Thread: <identity>
//	<message>
func (c *Console) PrintFailure(actionID downward.ActionID, identity, message string) {
	header := fmt.Sprintf("Failed to execute external action: %s. Thread: %s", actionID, identity)
	fmt.Fprintf(c.writer, "%s\n%s\n", c.header.Render(header), strings.TrimRight(message, "\n"))
}

// FailureMessage renders a failed result the way the diagnostic shows
// it: captured stderr first, then the cause.
func FailureMessage(result step.Result) string {
	var builder strings.Builder
	if result.Stderr != "" {
		builder.WriteString("Std err: ")
		builder.WriteString(strings.TrimRight(result.Stderr, "\n"))
		builder.WriteString("\n")
	}
	if result.Cause != "" {
		builder.WriteString("Cause: ")
		builder.WriteString(result.Cause)
	}
	return builder.String()
}
