// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
)

// LaunchOptions configures Launch.
type LaunchOptions struct {
	// Command is the worker executable followed by its arguments.
	Command []string

	// Env is the base environment of the worker. Nil means os.Environ().
	// The contract variables from Vars are merged over it.
	Env []string

	// Vars fills the worker environment contract. EventPipe is ignored:
	// Launch creates the pipe and sets it.
	Vars ParsedEnvVars

	// Dir is the worker's working directory. Empty means Vars.RuleCellRoot.
	Dir string

	// Factory creates the event pipe. Nil means namedpipe.Default().
	Factory namedpipe.Factory

	// Logger receives launcher diagnostics and the worker's forwarded
	// log events. Nil discards them.
	Logger *slog.Logger

	// OnEvent, when set, observes every event from the worker on the
	// reader goroutine.
	OnEvent downward.Handler

	// Stdout and Stderr receive the worker's own output streams. Nil
	// means os.Stderr for both: worker stdout is never mixed into the
	// orchestrator's stdout.
	Stdout io.Writer
	Stderr io.Writer

	// Clock and ShutdownTimeout drive the end-of-stream handshake.
	Clock           clock.Clock
	ShutdownTimeout time.Duration
}

// ExecutionResult is the outcome of a launched worker.
type ExecutionResult struct {
	// ExitCode is the worker process's exit status.
	ExitCode int

	// Result is the ResultEvent the worker reported, or nil if it
	// reported none.
	Result *downward.ResultEvent

	// ReaderTerminated reports whether the event reader finished on
	// the worker's own EndEvent rather than the one Launch sends after
	// the worker exits.
	ReaderTerminated bool

	// StreamErr is the event reader's terminal error, nil after a
	// clean EndEvent.
	StreamErr error
}

// Success reports whether the worker exited zero and reported success.
func (r *ExecutionResult) Success() bool {
	return r.ExitCode == 0 && r.Result != nil && r.Result.Success()
}

// launcherEventKey marks the ExternalEvent Launch writes ahead of its
// own EndEvent. The reader only sees it when the worker sent no
// EndEvent.
const launcherEventKey = "bureau.launcher"

// Launch runs one external action in a child process and collects its
// events. It returns an error only when the worker could not be
// started; everything that happens after that is in the result.
func Launch(ctx context.Context, options LaunchOptions) (*ExecutionResult, error) {
	if len(options.Command) == 0 {
		return nil, fmt.Errorf("external: Launch requires a command")
	}
	factory := options.Factory
	if factory == nil {
		factory = namedpipe.Default()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("action_id", string(options.Vars.ActionID))

	reader, err := factory.CreateAsReader()
	if err != nil {
		return nil, fmt.Errorf("creating event pipe: %w", err)
	}
	defer reader.Close()

	vars := options.Vars
	vars.EventPipe = reader.Name()
	base := options.Env
	if base == nil {
		base = os.Environ()
	}
	env := MergeEnv(base, vars.Environ(), logger)

	var reported *downward.ResultEvent
	var launcherEnded, workerEnded bool
	handshake := new(downward.Handshake)
	stream := downward.StartEventStream(reader, handshake, func(event downward.Event) {
		switch event := event.(type) {
		case downward.ExternalEvent:
			if _, ok := event.Data[launcherEventKey]; ok {
				launcherEnded = true
				return
			}
		case downward.EndEvent:
			workerEnded = !launcherEnded
		case downward.ResultEvent:
			if reported != nil {
				logger.Warn("worker reported more than one result", "exit_code", event.ExitCode)
				break
			}
			reported = &event
		case downward.LogEvent:
			downward.ForwardLog(ctx, logger, event)
		}
		if options.OnEvent != nil {
			options.OnEvent(event)
		}
	})

	cmd := exec.CommandContext(ctx, options.Command[0], options.Command[1:]...)
	cmd.Env = env
	cmd.Dir = options.Dir
	if cmd.Dir == "" {
		cmd.Dir = vars.RuleCellRoot
	}
	cmd.Stdout = options.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	cmd.Stderr = options.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	if err := cmd.Start(); err != nil {
		reader.Close()
		<-stream.Done()
		return nil, fmt.Errorf("starting %s: %w", options.Command[0], err)
	}
	logger.Debug("external action started", "pid", cmd.Process.Pid, "pipe", reader.Name())

	result := &ExecutionResult{}
	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			logger.Warn("waiting for external action", "error", err)
		}
		result.ExitCode = cmd.ProcessState.ExitCode()
		if result.ExitCode <= 0 {
			result.ExitCode = 1
		}
	}

	err = downward.PrepareToClose(downward.ShutdownOptions{
		Factory:        factory,
		Path:           reader.Name(),
		Handshake:      handshake,
		Preceding:      []downward.Event{downward.ExternalEvent{Data: map[string]string{launcherEventKey: "end-of-stream"}}},
		ReaderFinished: stream.Done(),
		Timeout:        options.ShutdownTimeout,
		Clock:          options.Clock,
		Logger:         logger,
	})
	if err != nil {
		logger.Warn("end-of-stream handshake failed", "error", err)
	}
	reader.Close()
	<-stream.Done()
	result.Result = reported
	result.ReaderTerminated = workerEnded
	result.StreamErr = stream.Err()
	if result.StreamErr != nil && result.ReaderTerminated {
		logger.Warn("event stream ended abnormally", "error", result.StreamErr)
	}
	return result, nil
}

// MergeEnv overlays the KEY=value entries of overrides on base. An
// override that replaces a different existing value is logged: the
// contract variables always win.
func MergeEnv(base, overrides []string, logger *slog.Logger) []string {
	index := make(map[string]int, len(base))
	merged := make([]string, 0, len(base)+len(overrides))
	for _, entry := range base {
		key, _, _ := strings.Cut(entry, "=")
		if position, exists := index[key]; exists {
			merged[position] = entry
			continue
		}
		index[key] = len(merged)
		merged = append(merged, entry)
	}
	for _, entry := range overrides {
		key, _, _ := strings.Cut(entry, "=")
		if position, exists := index[key]; exists {
			if merged[position] != entry {
				logger.Warn("overriding environment variable for external action", "name", key)
			}
			merged[position] = entry
			continue
		}
		index[key] = len(merged)
		merged = append(merged, entry)
	}
	return merged
}
