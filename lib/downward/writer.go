// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"fmt"
	"io"
	"sync"
)

// EventWriter serializes events onto one connection. It is safe for
// concurrent use: each event is written whole while holding a lock, so
// events from concurrent actions never interleave mid-frame.
type EventWriter struct {
	mu    sync.Mutex
	w     io.Writer
	codec Codec
}

// NewEventWriter establishes encoding on handshake and writes the
// encoding marker to w. A nil handshake uses a private cell. If
// handshake already holds a different encoding, no bytes are written
// and an *InvalidProtocolError is returned.
func NewEventWriter(w io.Writer, handshake *Handshake, encoding Encoding) (*EventWriter, error) {
	if handshake == nil {
		handshake = new(Handshake)
	}
	if err := handshake.Establish(encoding); err != nil {
		return nil, err
	}
	if err := WriteEncoding(w, encoding); err != nil {
		return nil, err
	}
	return &EventWriter{w: w, codec: encoding.Codec()}, nil
}

// Encoding returns the encoding this writer emits.
func (w *EventWriter) Encoding() Encoding {
	return w.codec.Encoding()
}

// Write emits one event.
func (w *EventWriter) Write(event Event) error {
	if event == nil {
		return fmt.Errorf("downward: cannot write nil event")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.codec.Write(w.w, event)
}
