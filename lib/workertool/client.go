// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package workertool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/codec"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/future"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
)

var (
	// ErrDuplicateActionID is returned when an action is submitted
	// while a result for the same ActionID is still outstanding.
	ErrDuplicateActionID = errors.New("action id already has an outstanding result")

	// ErrConnectionClosed fails every outstanding future once the
	// worker connection has been closed or its event stream has ended.
	ErrConnectionClosed = errors.New("worker connection closed")

	// ErrWorkerExited fails every outstanding future when the worker
	// process exits.
	ErrWorkerExited = errors.New("worker process exited")

	// ErrPipelineIncomplete fails the futures of actions that had not
	// reported a result when their batch's PipelineFinishedEvent
	// arrived.
	ErrPipelineIncomplete = errors.New("pipeline finished without a result for this action")

	// ErrNotPipelined is returned by StartNextCommand for an action
	// that is not part of an outstanding batch.
	ErrNotPipelined = errors.New("action is not part of an outstanding pipelined batch")
)

// DefaultCloseTimeout bounds how long Close waits for the worker to
// exit after the shutdown command before killing it.
const DefaultCloseTimeout = 5 * time.Second

// Process is the worker process as the client sees it.
type Process interface {
	// Wait blocks until the process exits.
	Wait() error

	// Kill terminates the process immediately.
	Kill() error
}

// ClientOptions configures NewClient.
type ClientOptions struct {
	// Commands is the server end of the command pipe. Required.
	Commands namedpipe.Writer

	// Events is the server end of the event pipe. Required.
	Events namedpipe.Reader

	// Process is the worker. Required.
	Process Process

	// Factory connects the end-of-stream writer after the worker
	// exits. Nil means namedpipe.Default().
	Factory namedpipe.Factory

	// OnEvent observes every event after the client has dispatched it.
	OnEvent downward.Handler

	Logger       *slog.Logger
	Clock        clock.Clock
	CloseTimeout time.Duration
}

// Client owns one worker connection. It is safe for concurrent use.
type Client struct {
	commands namedpipe.Writer
	events   namedpipe.Reader
	process  Process
	factory  namedpipe.Factory
	onEvent  downward.Handler
	logger   *slog.Logger
	clock    clock.Clock

	closeTimeout time.Duration

	handshake *downward.Handshake
	stream    *downward.EventStream

	writeMu sync.Mutex
	encoder *codec.Encoder

	mu      sync.Mutex
	pending map[downward.ActionID]*future.Future[downward.ResultEvent]
	batches []*batch
	failure error

	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// batch is an outstanding pipelined submission.
type batch struct {
	actionIDs []downward.ActionID
	finished  *future.Future[downward.PipelineFinishedEvent]
}

// NewClient takes ownership of an established connection and starts
// reading its events.
func NewClient(options ClientOptions) (*Client, error) {
	if options.Commands == nil || options.Events == nil || options.Process == nil {
		return nil, fmt.Errorf("workertool: NewClient requires Commands, Events, and Process")
	}
	client := &Client{
		commands:     options.Commands,
		events:       options.Events,
		process:      options.Process,
		factory:      options.Factory,
		onEvent:      options.OnEvent,
		logger:       options.Logger,
		clock:        options.Clock,
		closeTimeout: options.CloseTimeout,
		handshake:    new(downward.Handshake),
		encoder:      codec.NewEncoder(options.Commands),
		pending:      make(map[downward.ActionID]*future.Future[downward.ResultEvent]),
		exited:       make(chan struct{}),
	}
	if client.factory == nil {
		client.factory = namedpipe.Default()
	}
	if client.logger == nil {
		client.logger = slog.New(slog.DiscardHandler)
	}
	if client.clock == nil {
		client.clock = clock.Real()
	}
	if client.closeTimeout <= 0 {
		client.closeTimeout = DefaultCloseTimeout
	}

	client.stream = downward.StartEventStream(client.events, client.handshake, client.dispatch)
	go client.watchStream()
	go client.watchProcess()
	return client, nil
}

// ExecuteCommand sends one action. The returned future resolves with
// the action's ResultEvent, or fails if the connection is lost first.
func (c *Client) ExecuteCommand(actionID downward.ActionID, payload any) (*future.Future[downward.ResultEvent], error) {
	encoded, err := codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding payload for %s: %w", actionID, err)
	}
	handles, err := c.register([]downward.ActionID{actionID}, nil)
	if err != nil {
		return nil, err
	}
	if err := c.send(Command{Type: CommandExecute, ActionID: actionID, Payload: encoded}); err != nil {
		c.abandon([]downward.ActionID{actionID}, nil, err)
		return nil, err
	}
	return handles[0], nil
}

// ExecutePipeliningCommand sends an ordered batch. It returns one
// future per action, in submission order, and resolves finished when
// the worker reports the batch complete. ResultEvents may resolve the
// per-action futures in any order.
func (c *Client) ExecutePipeliningCommand(actionIDs []downward.ActionID, payloads []any, finished *future.Future[downward.PipelineFinishedEvent]) ([]*future.Future[downward.ResultEvent], error) {
	if len(actionIDs) == 0 {
		return nil, fmt.Errorf("workertool: empty pipelined batch")
	}
	if len(payloads) != len(actionIDs) {
		return nil, fmt.Errorf("workertool: %d payloads for %d actions", len(payloads), len(actionIDs))
	}
	if finished == nil {
		finished = future.New[downward.PipelineFinishedEvent]()
	}

	encoded := make([]codec.RawMessage, len(payloads))
	for index, payload := range payloads {
		data, err := codec.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload for %s: %w", actionIDs[index], err)
		}
		encoded[index] = data
	}

	tracked := &batch{actionIDs: slices.Clone(actionIDs), finished: finished}
	handles, err := c.register(tracked.actionIDs, tracked)
	if err != nil {
		return nil, err
	}
	command := Command{Type: CommandExecutePipelining, ActionIDs: tracked.actionIDs, Payloads: encoded}
	if err := c.send(command); err != nil {
		c.abandon(tracked.actionIDs, tracked, err)
		return nil, err
	}
	return handles, nil
}

// StartNextCommand tells the worker it may begin actionID, a queued
// action of an outstanding batch.
func (c *Client) StartNextCommand(actionID downward.ActionID) error {
	c.mu.Lock()
	known := false
	for _, tracked := range c.batches {
		if slices.Contains(tracked.actionIDs, actionID) {
			known = true
			break
		}
	}
	failure := c.failure
	c.mu.Unlock()

	if failure != nil {
		return failure
	}
	if !known {
		return fmt.Errorf("%s: %w", actionID, ErrNotPipelined)
	}
	return c.send(Command{Type: CommandStartNext, ActionID: actionID})
}

// Pending returns the number of actions awaiting a result.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Close asks the worker to shut down, waits for it to exit (killing it
// after the close timeout), fails anything still outstanding with
// ErrConnectionClosed, and releases both pipes.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.close()
	})
	return c.closeErr
}

func (c *Client) close() error {
	var result error
	// A worker that stopped reading commands can hold the send
	// indefinitely. The timeout below still applies, and the kill
	// closes the command pipe under the blocked write.
	go func() {
		if err := c.send(Command{Type: CommandShutdown}); err != nil {
			c.logger.Debug("shutdown command not delivered", "error", err)
		}
	}()

	select {
	case <-c.exited:
	case <-c.clock.After(c.closeTimeout):
		c.logger.Warn("worker did not exit after shutdown, killing it", "timeout", c.closeTimeout)
		if err := c.process.Kill(); err != nil {
			result = fmt.Errorf("killing worker: %w", err)
		}
		select {
		case <-c.exited:
		case <-c.clock.After(c.closeTimeout):
			return errors.Join(result, fmt.Errorf("worker did not exit %s after being killed", c.closeTimeout))
		}
	}

	c.failAll(ErrConnectionClosed)
	c.commands.Close()
	c.events.Close()
	<-c.stream.Done()
	return result
}

// register creates futures for actionIDs, all or nothing.
func (c *Client) register(actionIDs []downward.ActionID, tracked *batch) ([]*future.Future[downward.ResultEvent], error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure != nil {
		return nil, c.failure
	}
	for index, id := range actionIDs {
		if id == "" {
			return nil, fmt.Errorf("workertool: empty action id")
		}
		if _, exists := c.pending[id]; exists || slices.Contains(actionIDs[:index], id) {
			return nil, fmt.Errorf("%s: %w", id, ErrDuplicateActionID)
		}
	}

	handles := make([]*future.Future[downward.ResultEvent], len(actionIDs))
	for index, id := range actionIDs {
		handles[index] = future.New[downward.ResultEvent]()
		c.pending[id] = handles[index]
	}
	if tracked != nil {
		c.batches = append(c.batches, tracked)
	}
	return handles, nil
}

// abandon fails and forgets the futures of a submission that could not
// be sent.
func (c *Client) abandon(actionIDs []downward.ActionID, tracked *batch, err error) {
	var handles []*future.Future[downward.ResultEvent]
	c.mu.Lock()
	for _, id := range actionIDs {
		if handle, ok := c.pending[id]; ok {
			handles = append(handles, handle)
			delete(c.pending, id)
		}
	}
	if tracked != nil {
		c.batches = slices.DeleteFunc(c.batches, func(candidate *batch) bool { return candidate == tracked })
	}
	c.mu.Unlock()

	for _, handle := range handles {
		handle.Fail(err)
	}
	if tracked != nil {
		tracked.finished.Fail(err)
	}
}

func (c *Client) send(command Command) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.encoder.Encode(command); err != nil {
		return fmt.Errorf("sending %s command: %w", command.Type, err)
	}
	return nil
}

// dispatch runs on the event reader goroutine.
func (c *Client) dispatch(event downward.Event) {
	switch event := event.(type) {
	case downward.ResultEvent:
		c.mu.Lock()
		handle := c.pending[event.ActionID]
		delete(c.pending, event.ActionID)
		c.mu.Unlock()
		if handle == nil {
			c.logger.Warn("result for unknown action", "action_id", string(event.ActionID))
			break
		}
		handle.Set(event)

	case downward.PipelineFinishedEvent:
		c.finishBatch(event)

	case downward.LogEvent:
		downward.ForwardLog(context.Background(), c.logger, event)
	}

	if c.onEvent != nil {
		c.onEvent(event)
	}
}

func (c *Client) finishBatch(event downward.PipelineFinishedEvent) {
	var tracked *batch
	var incomplete []*future.Future[downward.ResultEvent]

	c.mu.Lock()
	for index, candidate := range c.batches {
		if slices.Equal(candidate.actionIDs, event.ActionIDs) {
			tracked = candidate
			c.batches = slices.Delete(c.batches, index, index+1)
			break
		}
	}
	if tracked != nil {
		for _, id := range tracked.actionIDs {
			if handle, ok := c.pending[id]; ok {
				incomplete = append(incomplete, handle)
				delete(c.pending, id)
			}
		}
	}
	c.mu.Unlock()

	if tracked == nil {
		c.logger.Warn("pipeline finished for unknown batch", "action_ids", event.ActionIDs)
		return
	}
	for _, handle := range incomplete {
		handle.Fail(ErrPipelineIncomplete)
	}
	tracked.finished.Set(event)
}

// setFailure records why the connection is unusable and refuses new
// submissions. The first failure recorded wins.
func (c *Client) setFailure(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failure == nil {
		c.failure = err
	}
}

// failAll records err as in setFailure and fails every outstanding
// future with the recorded failure.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	if c.failure == nil {
		c.failure = err
	}
	err = c.failure
	pending := c.pending
	batches := c.batches
	c.pending = make(map[downward.ActionID]*future.Future[downward.ResultEvent])
	c.batches = nil
	c.mu.Unlock()

	for _, handle := range pending {
		handle.Fail(err)
	}
	for _, tracked := range batches {
		tracked.finished.Fail(err)
	}
}

func (c *Client) watchStream() {
	<-c.stream.Done()
	err := c.stream.Err()
	if err == nil {
		c.failAll(ErrConnectionClosed)
		return
	}
	c.logger.Error("worker event stream failed", "error", err)
	c.failAll(fmt.Errorf("%w: %w", ErrConnectionClosed, err))
	if errors.Is(err, downward.ErrInvalidProtocol) {
		if killErr := c.process.Kill(); killErr != nil {
			c.logger.Warn("killing worker after protocol violation", "error", killErr)
		}
	}
}

// watchProcess reaps the worker. Closing the command pipe fails any
// send blocked on a full pipe. Events the worker wrote before dying
// are still in the pipe, so the reader is drained with an end-of-stream
// handshake before anything is failed.
func (c *Client) watchProcess() {
	defer close(c.exited)
	waitErr := c.process.Wait()
	c.logger.Debug("worker exited", "error", waitErr)
	exitErr := ErrWorkerExited
	if waitErr != nil {
		exitErr = fmt.Errorf("%w: %w", ErrWorkerExited, waitErr)
	}
	c.setFailure(exitErr)
	c.commands.Close()

	err := downward.PrepareToClose(downward.ShutdownOptions{
		Factory:        c.factory,
		Path:           c.events.Name(),
		Handshake:      c.handshake,
		ReaderFinished: c.stream.Done(),
		Clock:          c.clock,
		Logger:         c.logger,
	})
	if err != nil {
		c.logger.Warn("draining worker events", "error", err)
		c.events.Close()
	}
	<-c.stream.Done()
	c.failAll(exitErr)
}
