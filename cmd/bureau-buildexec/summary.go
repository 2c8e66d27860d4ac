// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// summaryTheme holds the styles of the end-of-build summary.
type summaryTheme struct {
	succeeded lipgloss.Style
	failed    lipgloss.Style
	skipped   lipgloss.Style
	faint     lipgloss.Style
	detail    lipgloss.Style
}

func newSummaryTheme(w io.Writer, ansi bool) summaryTheme {
	profile := termenv.Ascii
	if ansi {
		profile = termenv.ANSI256
	}
	renderer := lipgloss.NewRenderer(w, termenv.WithProfile(profile))
	renderer.SetColorProfile(profile)
	status := renderer.NewStyle().Bold(true).Width(6)
	return summaryTheme{
		succeeded: status.Foreground(lipgloss.Color("2")),
		failed:    status.Foreground(lipgloss.Color("1")),
		skipped:   status.Foreground(lipgloss.Color("3")),
		faint:     renderer.NewStyle().Faint(true),
		detail:    renderer.NewStyle().PaddingLeft(8),
	}
}

// printSummary writes one line per rule, the failure details of failed
// rules, and a totals line.
func printSummary(w io.Writer, ansi bool, outcomes []ruleOutcome) {
	if len(outcomes) == 0 {
		return
	}
	theme := newSummaryTheme(w, ansi)

	nameWidth := 0
	for _, outcome := range outcomes {
		nameWidth = max(nameWidth, len(outcome.rule))
	}

	var succeeded, failed, skipped int
	for _, outcome := range outcomes {
		var status string
		switch outcome.status {
		case statusSucceeded:
			succeeded++
			status = theme.succeeded.Render("OK")
		case statusFailed:
			failed++
			status = theme.failed.Render("FAILED")
		case statusSkipped:
			skipped++
			status = theme.skipped.Render("SKIP")
		}

		line := fmt.Sprintf("%s  %-*s  %s", status, nameWidth, outcome.rule, theme.faint.Render(string(outcome.actionID)))
		if outcome.status != statusSkipped {
			line += "  " + formatDuration(outcome.duration)
		}
		fmt.Fprintln(w, strings.TrimRight(line, " "))

		if outcome.status == statusFailed {
			if details := failureDetails(outcome); details != "" {
				fmt.Fprintln(w, theme.detail.Render(details))
			}
		}
	}
	fmt.Fprintf(w, "%d rules: %d succeeded, %d failed, %d skipped\n", len(outcomes), succeeded, failed, skipped)
}

func failureDetails(outcome ruleOutcome) string {
	var lines []string
	if outcome.result.Cause != "" {
		lines = append(lines, "cause: "+outcome.result.Cause)
	} else if outcome.err != nil {
		lines = append(lines, "error: "+outcome.err.Error())
	}
	if stderr := strings.TrimRight(outcome.result.Stderr, "\n"); stderr != "" {
		lines = append(lines, "stderr:")
		lines = append(lines, strings.Split(stderr, "\n")...)
	}
	return strings.Join(lines, "\n")
}

func formatDuration(duration time.Duration) string {
	switch {
	case duration <= 0:
		return "-"
	case duration < time.Second:
		return duration.Round(time.Millisecond).String()
	default:
		return duration.Round(10 * time.Millisecond).String()
	}
}
