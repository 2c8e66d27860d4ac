// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/namedpipe"
)

// DefaultShutdownTimeout bounds how long PrepareToClose waits for the
// reader to confirm termination.
const DefaultShutdownTimeout = 2 * time.Second

// ErrShutdownTimeout is returned when the reader does not confirm
// termination within the shutdown timeout. The EndEvent has been
// written; the caller proceeds with closing the pipe regardless.
var ErrShutdownTimeout = errors.New("timed out waiting for event reader to finish")

// ShutdownOptions configures PrepareToClose.
type ShutdownOptions struct {
	// Factory connects the shutdown writer. Required.
	Factory namedpipe.Factory

	// Path is the event pipe. Required.
	Path string

	// Handshake is the connection's encoding cell, shared with the
	// reader and every other writer. Required.
	Handshake *Handshake

	// Preceding is written on the shutdown connection before the
	// EndEvent. A reader that stopped at an earlier EndEvent never
	// sees it.
	Preceding []Event

	// ReaderFinished is closed when the reader terminates. A nil
	// channel means no confirmation is available to this process:
	// PrepareToClose returns as soon as the EndEvent is written.
	ReaderFinished <-chan struct{}

	// Timeout bounds the wait on ReaderFinished. Zero means
	// DefaultShutdownTimeout.
	Timeout time.Duration

	// Clock drives the timeout. Nil means clock.Real().
	Clock clock.Clock

	// Logger receives progress messages. Nil discards them.
	Logger *slog.Logger
}

// PrepareToClose performs the end-of-stream handshake. If the reader
// has already finished it does nothing. Otherwise it connects a new
// writer to the pipe, announces the established encoding (BINARY when
// none has been established), writes an EndEvent, and waits for the
// reader to finish.
func PrepareToClose(options ShutdownOptions) error {
	if options.Factory == nil || options.Path == "" || options.Handshake == nil {
		return fmt.Errorf("downward: PrepareToClose requires Factory, Path, and Handshake")
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if channelClosed(options.ReaderFinished) {
		logger.Debug("event reader already finished", "pipe", options.Path)
		return nil
	}

	pipe, err := options.Factory.ConnectAsWriter(options.Path)
	if err != nil {
		return fmt.Errorf("connecting shutdown writer to %s: %w", options.Path, err)
	}
	defer pipe.Close()

	encoding, established := options.Handshake.Encoding()
	if !established {
		encoding = EncodingBinary
		logger.Debug("no encoding established, sending end event as binary", "pipe", options.Path)
	}
	writer, err := NewEventWriter(pipe, options.Handshake, encoding)
	if err != nil {
		return err
	}
	for _, event := range options.Preceding {
		if err := writer.Write(event); err != nil {
			return fmt.Errorf("sending %s before end event: %w", event.EventType(), err)
		}
	}
	if err := writer.Write(EndEvent{}); err != nil {
		return fmt.Errorf("sending end event: %w", err)
	}

	if options.ReaderFinished == nil {
		return nil
	}

	timeout := options.Timeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	clk := options.Clock
	if clk == nil {
		clk = clock.Real()
	}
	select {
	case <-options.ReaderFinished:
		return nil
	case <-clk.After(timeout):
		logger.Warn("event reader did not finish after end event",
			"pipe", options.Path, "timeout", timeout)
		return fmt.Errorf("%w after %s", ErrShutdownTimeout, timeout)
	}
}

func channelClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
