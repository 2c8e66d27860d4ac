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
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
	"github.com/bureau-foundation/buildexec/lib/process"
	"github.com/bureau-foundation/buildexec/lib/step"
)

// Options configures Run. Zero fields take production defaults.
type Options struct {
	// Args are the positional arguments (program name excluded).
	Args []string

	// LookupEnv reads the process environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Registry resolves the action name. Nil means NewRegistry().
	Registry *Registry

	// Factory connects to the event pipe. Nil means namedpipe.Default().
	Factory namedpipe.Factory

	// Encoding is announced on the event pipe. Zero means binary.
	Encoding downward.Encoding

	// Stderr receives the last-resort diagnostic. Nil means os.Stderr.
	Stderr io.Writer

	// Clock timestamps events. Nil means clock.Real().
	Clock clock.Clock

	// ShutdownTimeout bounds the end-of-stream handshake.
	ShutdownTimeout time.Duration

	// Identity tags the diagnostic. Empty means "pid <pid>".
	Identity string
}

// Run executes one external action for the current process and returns
// nil when every step succeeded. Any other outcome is a
// *process.ExitError: with a nil Err when the diagnostic has already
// been printed to Options.Stderr, so process.Fatal exits without
// printing it twice.
func Run(ctx context.Context, options Options) error {
	lookup := options.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	stderr := options.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	factory := options.Factory
	if factory == nil {
		factory = namedpipe.Default()
	}
	registry := options.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	encoding := options.Encoding
	if encoding == 0 {
		encoding = downward.EncodingBinary
	}
	identity := options.Identity
	if identity == "" {
		identity = fmt.Sprintf("pid %d", os.Getpid())
	}

	env, err := ParseEnv(lookup)
	if err != nil {
		return &process.ExitError{Code: process.ExitFailure, Err: err}
	}
	console := NewConsole(stderr, env.AnsiEnabled)
	fail := func(message string) error {
		console.PrintFailure(env.ActionID, identity, message)
		return &process.ExitError{Code: process.ExitFailure}
	}

	pipe, err := factory.ConnectAsWriter(env.EventPipe)
	if err != nil {
		return fail(fmt.Sprintf("connecting to event pipe: %v", err))
	}
	handshake := new(downward.Handshake)
	writer, err := downward.NewEventWriter(pipe, handshake, encoding)
	if err != nil {
		pipe.Close()
		return fail(err.Error())
	}

	logHandler := downward.NewLogHandler(writer, downward.LogHandlerOptions{
		ActionID:   env.ActionID,
		LoggerName: "external",
		Level:      env.Verbosity.Level(),
	})
	logger := slog.New(logHandler).With("build_uuid", env.BuildUUID)

	stepContext := &step.Context{
		CellRoot: env.RuleCellRoot,
		ActionID: env.ActionID,
		Logger:   logger,
		Clock:    options.Clock,
	}
	result := execute(ctx, options.Args, registry, stepContext, writer)

	logHandler.Detach()
	reportErr := writer.Write(result.Event(env.ActionID))
	pipe.Close()

	shutdownErr := downward.PrepareToClose(downward.ShutdownOptions{
		Factory:   factory,
		Path:      env.EventPipe,
		Handshake: handshake,
		Timeout:   options.ShutdownTimeout,
		Clock:     options.Clock,
	})

	if !result.Success() {
		return fail(FailureMessage(result))
	}
	if err := errors.Join(reportErr, shutdownErr); err != nil {
		return fail(fmt.Sprintf("reporting result: %v", err))
	}
	return nil
}

// execute turns every pre-execution failure into a failed Result so
// that the orchestrator always receives a ResultEvent.
func execute(ctx context.Context, args []string, registry *Registry, stepContext *step.Context, events step.EventSink) step.Result {
	actionName, commandPath, err := ParseArgs(args)
	if err != nil {
		return step.Failure(err)
	}
	action, err := registry.Lookup(actionName)
	if err != nil {
		return step.Failure(err)
	}
	command, err := step.ReadCommandFile(commandPath)
	if err != nil {
		return step.Failure(err)
	}
	stepContext.Logger.Debug("executing external action",
		"action", actionName, "steps", len(command.Steps))
	return action.Execute(ctx, stepContext, command, events)
}
