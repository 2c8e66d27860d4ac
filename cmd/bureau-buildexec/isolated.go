// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"

	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/plan"
	"github.com/bureau-foundation/buildexec/lib/step"
)

// isolatedLauncher runs one rule per external action process.
type isolatedLauncher struct {
	command    []string
	env        []string
	vars       external.ParsedEnvVars
	commandDir string
	output     io.Writer
	logger     *slog.Logger
}

// launch writes the rule's command file and runs the external action
// on it. The error is non-nil only when the process could not start.
func (l *isolatedLauncher) launch(ctx context.Context, actionID downward.ActionID, rule plan.Rule) (downward.ResultEvent, error) {
	command := rule.Command()
	commandPath := filepath.Join(l.commandDir, string(actionID)+".json")
	if err := step.WriteCommandFile(commandPath, &command); err != nil {
		return downward.ResultEvent{}, err
	}
	action := rule.Action
	if action == "" {
		action = external.IsolatedStepsAction
	}
	vars := l.vars
	vars.ActionID = actionID

	launched, err := external.Launch(ctx, external.LaunchOptions{
		Command: append(slices.Clone(l.command), action, commandPath),
		Env:     l.env,
		Vars:    vars,
		Logger:  l.logger,
		Stdout:  l.output,
		Stderr:  l.output,
	})
	if err != nil {
		return downward.ResultEvent{}, err
	}

	if launched.Result == nil {
		return downward.ResultEvent{
			ActionID: actionID,
			ExitCode: max(launched.ExitCode, 1),
			Cause:    "external action reported no result",
		}, nil
	}
	result := *launched.Result
	if launched.ExitCode != 0 && result.Success() {
		result.ExitCode = launched.ExitCode
		result.Cause = fmt.Sprintf("external action reported success but exited with status %d", launched.ExitCode)
	}
	if !launched.ReaderTerminated {
		l.logger.Warn("external action exited without an end event", "action_id", string(actionID))
	}
	return result, nil
}
