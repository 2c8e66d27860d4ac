// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workertool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/buildexec/lib/codec"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/step"
)

// Handler executes one action inside the worker. Lifecycle events go
// to events; the returned ResultEvent is reported by the Server, which
// stamps it with actionID.
type Handler interface {
	Handle(ctx context.Context, actionID downward.ActionID, payload codec.RawMessage, events step.EventSink) downward.ResultEvent
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, actionID downward.ActionID, payload codec.RawMessage, events step.EventSink) downward.ResultEvent

func (f HandlerFunc) Handle(ctx context.Context, actionID downward.ActionID, payload codec.RawMessage, events step.EventSink) downward.ResultEvent {
	return f(ctx, actionID, payload, events)
}

// ServerOptions configures NewServer.
type ServerOptions struct {
	// Commands is the command stream. Required.
	Commands io.Reader

	// Events receives results and the final EndEvent. Required.
	Events *downward.EventWriter

	// Handler executes actions. Required.
	Handler Handler

	// BeforeEnd runs after the last action has reported and before
	// the EndEvent is written. Workers use it to detach log handlers
	// that write to Events, since nothing may follow the EndEvent.
	BeforeEnd func()

	Logger *slog.Logger
}

// Server is the worker half of a worker-tool connection.
type Server struct {
	commands  io.Reader
	events    *downward.EventWriter
	handler   Handler
	beforeEnd func()
	logger    *slog.Logger

	mu    sync.Mutex
	gates map[downward.ActionID]chan struct{}

	// draining is closed when no more commands will be read. Batch
	// actions still waiting for start_next then fail instead of
	// waiting forever.
	draining chan struct{}
	running  sync.WaitGroup
}

// NewServer returns a server for one connection.
func NewServer(options ServerOptions) *Server {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		commands:  options.Commands,
		events:    options.Events,
		handler:   options.Handler,
		beforeEnd: options.BeforeEnd,
		logger:    logger,
		gates:     make(map[downward.ActionID]chan struct{}),
		draining:  make(chan struct{}),
	}
}

// Serve processes commands until a shutdown command or the end of the
// command stream, waits for in-flight actions, and writes the
// connection's EndEvent. Canceling ctx stops queued batch actions,
// which then report failure.
func (s *Server) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	decoder := codec.NewDecoder(s.commands)
	var serveErr error
	for {
		var raw codec.RawMessage
		if err := decoder.Decode(&raw); err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("command stream closed")
			} else {
				serveErr = fmt.Errorf("decoding command: %w", err)
			}
			break
		}
		var command Command
		if err := codec.Unmarshal(raw, &command); err != nil {
			diagnostic, _ := codec.Diagnose(raw)
			s.logger.Error("discarding undecodable command", "error", err, "cbor", diagnostic)
			continue
		}
		if err := command.Validate(); err != nil {
			s.logger.Error("rejecting command", "error", err)
			s.rejectCommand(command, err)
			continue
		}
		if command.Type == CommandShutdown {
			s.logger.Debug("shutdown requested")
			break
		}
		s.accept(ctx, command)
	}

	close(s.draining)
	if serveErr != nil {
		cancel()
	}
	s.running.Wait()
	if s.beforeEnd != nil {
		s.beforeEnd()
	}
	if err := s.events.Write(downward.EndEvent{}); err != nil {
		return errors.Join(serveErr, fmt.Errorf("writing end event: %w", err))
	}
	return serveErr
}

func (s *Server) accept(ctx context.Context, command Command) {
	switch command.Type {
	case CommandExecute:
		s.running.Add(1)
		go func() {
			defer s.running.Done()
			s.report(s.run(ctx, command.ActionID, command.Payload))
		}()

	case CommandExecutePipelining:
		gates := make([]chan struct{}, len(command.ActionIDs))
		s.mu.Lock()
		for index := 1; index < len(command.ActionIDs); index++ {
			gates[index] = make(chan struct{}, 1)
			s.gates[command.ActionIDs[index]] = gates[index]
		}
		s.mu.Unlock()

		s.running.Add(1)
		go func() {
			defer s.running.Done()
			s.runBatch(ctx, command, gates)
		}()

	case CommandStartNext:
		s.mu.Lock()
		gate := s.gates[command.ActionID]
		s.mu.Unlock()
		if gate == nil {
			s.logger.Warn("start_next for an action that is not queued", "action_id", string(command.ActionID))
			return
		}
		select {
		case gate <- struct{}{}:
		default:
		}
	}
}

// runBatch runs a pipelined batch in order. Every action after the
// first waits for its start_next. The PipelineFinishedEvent is written
// only after every action has reported.
func (s *Server) runBatch(ctx context.Context, command Command, gates []chan struct{}) {
	defer func() {
		s.mu.Lock()
		for _, id := range command.ActionIDs {
			delete(s.gates, id)
		}
		s.mu.Unlock()
	}()

	for index, actionID := range command.ActionIDs {
		if gate := gates[index]; gate != nil {
			select {
			case <-gate:
			case <-ctx.Done():
				s.report(notStarted(actionID, ctx.Err().Error()))
				continue
			case <-s.draining:
				// A start_next may have raced with the shutdown.
				select {
				case <-gate:
				default:
					s.report(notStarted(actionID, "worker shut down"))
					continue
				}
			}
		}
		s.report(s.run(ctx, actionID, command.Payloads[index]))
	}
	if err := s.events.Write(downward.PipelineFinishedEvent{ActionIDs: command.ActionIDs}); err != nil {
		s.logger.Error("reporting pipeline finished", "error", err)
	}
}

func notStarted(actionID downward.ActionID, reason string) downward.ResultEvent {
	return downward.ResultEvent{
		ActionID: actionID,
		ExitCode: 1,
		Cause:    "action never started: " + reason,
	}
}

// run executes one action, converting a handler panic into a failed
// result.
func (s *Server) run(ctx context.Context, actionID downward.ActionID, payload codec.RawMessage) (result downward.ResultEvent) {
	defer func() {
		if recovered := recover(); recovered != nil {
			result = downward.ResultEvent{ExitCode: 1, Cause: fmt.Sprintf("panic: %v", recovered)}
		}
		result.ActionID = actionID
	}()
	return s.handler.Handle(ctx, actionID, payload, s.events)
}

func (s *Server) report(result downward.ResultEvent) {
	if err := s.events.Write(result); err != nil {
		s.logger.Error("reporting result", "action_id", string(result.ActionID), "error", err)
	}
}

// rejectCommand reports a failed result for every action an invalid
// command names, so the client never waits on it.
func (s *Server) rejectCommand(command Command, err error) {
	cause := fmt.Sprintf("invalid command: %v", err)
	switch command.Type {
	case CommandExecute:
		if command.ActionID != "" {
			s.report(downward.ResultEvent{ActionID: command.ActionID, ExitCode: 1, Cause: cause})
		}
	case CommandExecutePipelining:
		for _, id := range command.ActionIDs {
			if id != "" {
				s.report(downward.ResultEvent{ActionID: id, ExitCode: 1, Cause: cause})
			}
		}
		if len(command.ActionIDs) > 0 {
			if err := s.events.Write(downward.PipelineFinishedEvent{ActionIDs: command.ActionIDs}); err != nil {
				s.logger.Error("reporting pipeline finished", "error", err)
			}
		}
	}
}
