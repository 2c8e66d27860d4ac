// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workertool

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
)

// WorkerOptions configures RunWorker. Zero fields take production
// defaults.
type WorkerOptions struct {
	// LookupEnv reads the process environment. Nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)

	// Factory connects to both pipes. Nil means namedpipe.Default().
	Factory namedpipe.Factory

	// Registry resolves action names. Nil means external.NewRegistry().
	Registry *external.Registry

	// Encoding is announced on the event pipe. Zero means binary.
	Encoding downward.Encoding
}

// RunWorker serves one worker-tool connection for the current process:
// it reads the external action environment contract plus
// BUREAU_COMMAND_PIPE, connects to both pipes, and serves commands
// with a StepHandler until shutdown.
func RunWorker(ctx context.Context, options WorkerOptions) error {
	lookup := options.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	factory := options.Factory
	if factory == nil {
		factory = namedpipe.Default()
	}
	registry := options.Registry
	if registry == nil {
		registry = external.NewRegistry()
	}
	encoding := options.Encoding
	if encoding == 0 {
		encoding = downward.EncodingBinary
	}

	env, err := external.ParseEnv(lookup)
	if err != nil {
		return err
	}
	commandPipe, ok := lookup(EnvCommandPipe)
	if !ok || commandPipe == "" {
		return &external.MissingEnvVarError{Name: EnvCommandPipe}
	}

	commands, err := factory.ConnectAsReader(commandPipe)
	if err != nil {
		return fmt.Errorf("connecting to command pipe: %w", err)
	}
	defer commands.Close()
	eventPipe, err := factory.ConnectAsWriter(env.EventPipe)
	if err != nil {
		return fmt.Errorf("connecting to event pipe: %w", err)
	}
	defer eventPipe.Close()

	writer, err := downward.NewEventWriter(eventPipe, nil, encoding)
	if err != nil {
		return err
	}
	logHandler := downward.NewLogHandler(writer, downward.LogHandlerOptions{
		ActionID:   env.ActionID,
		LoggerName: "worker-tool",
		Level:      env.Verbosity.Level(),
	})
	logger := slog.New(logHandler).With("build_uuid", env.BuildUUID)
	logger.Debug("worker tool started", "cell_root", env.RuleCellRoot)

	server := NewServer(ServerOptions{
		Commands:  commands,
		Events:    writer,
		Handler:   StepHandler(registry, env.RuleCellRoot, logger),
		BeforeEnd: logHandler.Detach,
		Logger:    logger,
	})
	return server.Serve(ctx)
}
