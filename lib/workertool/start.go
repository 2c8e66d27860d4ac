// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workertool

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
)

// StartOptions configures Start.
type StartOptions struct {
	// Command is the worker executable followed by its arguments.
	Command []string

	// Env is the base environment. Nil means os.Environ().
	Env []string

	// Vars fills the environment contract. EventPipe is set by Start.
	Vars external.ParsedEnvVars

	// Dir is the working directory. Empty means Vars.RuleCellRoot.
	Dir string

	// Stderr receives the worker's stdout and stderr. Nil means
	// os.Stderr.
	Stderr io.Writer

	Factory      namedpipe.Factory
	OnEvent      downward.Handler
	Logger       *slog.Logger
	Clock        clock.Clock
	CloseTimeout time.Duration
}

// Start creates the connection pipes, spawns the worker in its own
// process group, and returns a Client for it. Canceling ctx kills the
// worker.
func Start(ctx context.Context, options StartOptions) (*Client, error) {
	if len(options.Command) == 0 {
		return nil, fmt.Errorf("workertool: Start requires a command")
	}
	factory := options.Factory
	if factory == nil {
		factory = namedpipe.Default()
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	commands, err := factory.CreateAsWriter()
	if err != nil {
		return nil, fmt.Errorf("creating command pipe: %w", err)
	}
	events, err := factory.CreateAsReader()
	if err != nil {
		commands.Close()
		return nil, fmt.Errorf("creating event pipe: %w", err)
	}

	vars := options.Vars
	vars.EventPipe = events.Name()
	base := options.Env
	if base == nil {
		base = os.Environ()
	}
	overrides := append(vars.Environ(), EnvCommandPipe+"="+commands.Name())

	cmd := exec.CommandContext(ctx, options.Command[0], options.Command[1:]...)
	cmd.Env = external.MergeEnv(base, overrides, logger)
	cmd.Dir = options.Dir
	if cmd.Dir == "" {
		cmd.Dir = vars.RuleCellRoot
	}
	cmd.Stdout = options.Stderr
	cmd.Stderr = options.Stderr
	if options.Stderr == nil {
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
	}
	configureProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }

	if err := cmd.Start(); err != nil {
		commands.Close()
		events.Close()
		return nil, fmt.Errorf("starting worker %s: %w", options.Command[0], err)
	}
	logger.Info("worker started", "pid", cmd.Process.Pid, "command", options.Command[0])

	return NewClient(ClientOptions{
		Commands:     commands,
		Events:       events,
		Process:      &execProcess{cmd: cmd},
		Factory:      factory,
		OnEvent:      options.OnEvent,
		Logger:       logger,
		Clock:        options.Clock,
		CloseTimeout: options.CloseTimeout,
	})
}

// execProcess adapts a started exec.Cmd to Process.
type execProcess struct {
	cmd *exec.Cmd
}

func (p *execProcess) Wait() error { return p.cmd.Wait() }

func (p *execProcess) Kill() error { return killProcessGroup(p.cmd) }
