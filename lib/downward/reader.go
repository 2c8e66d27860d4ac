// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// ErrMissingEndEvent is returned by ReadEvents when the stream ends
// before an EndEvent arrives: the writer went away without completing
// the shutdown handshake.
var ErrMissingEndEvent = errors.New("event stream ended without an end event")

// Handler receives decoded events in stream order. It runs on the
// reading goroutine; a slow handler applies backpressure to the writer.
type Handler func(Event)

// ReadEvents reads the encoding marker, establishes it on handshake,
// and dispatches every following event to handle until an EndEvent has
// been dispatched. A nil handshake uses a private cell.
//
// ReadEvents returns nil after the EndEvent, ErrMissingEndEvent if the
// stream ends first, an *InvalidProtocolError on any protocol
// violation, or the underlying read error.
func ReadEvents(r io.Reader, handshake *Handshake, handle Handler) error {
	if handshake == nil {
		handshake = new(Handshake)
	}
	reader := bufio.NewReader(r)

	encoding, err := ReadEncoding(reader)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return ErrMissingEndEvent
		}
		return err
	}
	if err := handshake.Establish(encoding); err != nil {
		return err
	}
	codec := encoding.Codec()

	for {
		// Every writer that connects announces its encoding, so a
		// marker may appear again at any frame boundary.
		next, err := reader.Peek(1)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return ErrMissingEndEvent
			}
			return fmt.Errorf("reading event stream: %w", err)
		}
		if marker := Encoding(next[0]); marker.Valid() {
			reader.ReadByte()
			if err := handshake.Establish(marker); err != nil {
				return err
			}
			continue
		}

		eventType, err := codec.ReadEventType(reader)
		if err != nil {
			return err
		}
		if eventType == EndOfStream {
			return ErrMissingEndEvent
		}
		event, err := codec.ReadEvent(reader, eventType)
		if err != nil {
			return err
		}
		handle(event)
		if eventType == EventTypeEnd {
			return nil
		}
	}
}

// EventStream runs ReadEvents on its own goroutine. Done is closed when
// the reader terminates; it is the confirmation signal PrepareToClose
// waits on.
type EventStream struct {
	done chan struct{}
	err  error
}

// StartEventStream begins reading r in the background.
func StartEventStream(r io.Reader, handshake *Handshake, handle Handler) *EventStream {
	stream := &EventStream{done: make(chan struct{})}
	go func() {
		defer close(stream.done)
		stream.err = ReadEvents(r, handshake, handle)
	}()
	return stream
}

// Done is closed once the reader has terminated for any reason.
func (s *EventStream) Done() <-chan struct{} {
	return s.done
}

// Finished reports whether the reader has terminated.
func (s *EventStream) Finished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Err returns the reader's terminal error. It must only be called
// after Done is closed.
func (s *EventStream) Err() error {
	return s.err
}
