// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/downward"
)

// Step is one unit of work within an action.
type Step interface {
	// Type is the step kind as it appears in a Spec ("mkdir", "run", ...).
	Type() string

	// Description is a short human-readable summary, used in events
	// and failure causes.
	Description() string

	// Execute performs the step. A non-nil error fails the action.
	Execute(ctx context.Context, stepContext *Context) error
}

// Context carries what every step needs from its environment.
type Context struct {
	// CellRoot is the absolute path of the rule cell. Relative step
	// paths resolve against it, and no step may escape it.
	CellRoot string

	// ActionID is stamped on every event the steps produce.
	ActionID downward.ActionID

	// Logger receives step diagnostics. Nil discards them.
	Logger *slog.Logger

	// Clock timestamps step events. Nil means clock.Real().
	Clock clock.Clock
}

func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return c.Logger
}

func (c *Context) clock() clock.Clock {
	if c.Clock == nil {
		return clock.Real()
	}
	return c.Clock
}

// ErrOutsideCellRoot is returned when a step path resolves outside the
// rule cell root.
var ErrOutsideCellRoot = errors.New("path escapes the rule cell root")

// Resolve returns the absolute form of path. Relative paths are joined
// to the cell root; absolute paths are accepted only when they already
// lie inside it.
func (c *Context) Resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("empty path")
	}
	if c.CellRoot == "" || !filepath.IsAbs(c.CellRoot) {
		return "", fmt.Errorf("rule cell root %q is not an absolute path", c.CellRoot)
	}
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(c.CellRoot, resolved)
	}
	resolved = filepath.Clean(resolved)

	relative, err := filepath.Rel(c.CellRoot, resolved)
	if err != nil || relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s: %w", path, ErrOutsideCellRoot)
	}
	return resolved, nil
}

// ExitError is a step failure with a process exit code and captured
// standard error. Steps that are not subprocesses fail with plain
// errors, which map to exit code 1.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("exit code %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Result is the outcome of running an action's steps.
type Result struct {
	ExitCode int
	Stderr   string
	Cause    string
}

// Success reports whether every step succeeded.
func (r Result) Success() bool { return r.ExitCode == 0 }

// Event converts the result into the ResultEvent reported for actionID.
func (r Result) Event(actionID downward.ActionID) downward.ResultEvent {
	return downward.ResultEvent{
		ActionID: actionID,
		ExitCode: r.ExitCode,
		Stderr:   r.Stderr,
		Cause:    r.Cause,
	}
}

// Failure builds a failed Result from err. Exit codes and stderr
// carried by an *ExitError are preserved.
func Failure(err error) Result {
	result := Result{ExitCode: 1, Cause: err.Error()}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Code != 0 {
			result.ExitCode = exitErr.Code
		}
		result.Stderr = exitErr.Stderr
	}
	return result
}

// EventSink receives step lifecycle events. *downward.EventWriter
// satisfies it.
type EventSink interface {
	Write(event downward.Event) error
}

// Run executes steps in order, emitting a StepStarted and StepFinished
// event around each one. It stops at the first failing step and
// returns its failure as a Result; a panic inside a step is recovered
// and reported the same way. Event delivery failures are logged and do
// not affect the result. A nil events sink is allowed.
func Run(ctx context.Context, stepContext *Context, steps []Step, events EventSink) Result {
	logger := stepContext.logger()
	clk := stepContext.clock()

	emit := func(event downward.Event) {
		if events == nil {
			return
		}
		if err := events.Write(event); err != nil {
			logger.Warn("failed to report step event",
				"event", event.EventType().String(), "error", err)
		}
	}

	for index, current := range steps {
		if err := ctx.Err(); err != nil {
			return Failure(fmt.Errorf("action canceled before step %d (%s): %w", index, current.Type(), err))
		}

		started := clk.Now()
		emit(downward.StepStartedEvent{
			ActionID:    stepContext.ActionID,
			StepID:      index,
			StepType:    current.Type(),
			Description: current.Description(),
			TimestampMS: started.UnixMilli(),
		})

		err := execute(ctx, stepContext, current)

		exitCode := 0
		if err != nil {
			exitCode = Failure(err).ExitCode
		}
		finished := clk.Now()
		emit(downward.StepFinishedEvent{
			ActionID:    stepContext.ActionID,
			StepID:      index,
			StepType:    current.Type(),
			Description: current.Description(),
			TimestampMS: finished.UnixMilli(),
			DurationMS:  finished.Sub(started).Milliseconds(),
			ExitCode:    exitCode,
		})

		if err != nil {
			logger.Debug("step failed",
				"step", index, "type", current.Type(), "error", err)
			return Failure(fmt.Errorf("step %d (%s) failed: %w", index, current.Description(), err))
		}
	}
	return Result{}
}

// execute runs one step, converting a panic into an error.
func execute(ctx context.Context, stepContext *Context, current Step) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("panic: %v\n%s", recovered, debug.Stack())
		}
	}()
	return current.Execute(ctx, stepContext)
}
