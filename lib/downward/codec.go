// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bureau-foundation/buildexec/lib/codec"
)

// Codec encodes and decodes events in one payload encoding.
type Codec interface {
	// Encoding returns the discriminator this codec implements.
	Encoding() Encoding

	// Write emits the tag and payload of event as a single Write call
	// on w, so that serialized writers never interleave partial frames.
	Write(w io.Writer, event Event) error

	// ReadEventType reads the next tag. A stream that ends cleanly at
	// a frame boundary yields EndOfStream and a nil error.
	ReadEventType(r *bufio.Reader) (EventType, error)

	// ReadEvent decodes the payload that follows a tag of type
	// expected. Bytes that do not decode as expected produce an
	// *InvalidProtocolError.
	ReadEvent(r *bufio.Reader, expected EventType) (Event, error)
}

// maxPayloadLength bounds a single BINARY payload. Log events carrying
// compiler output are the largest payloads seen in practice.
const maxPayloadLength = 16 * 1024 * 1024

// frameHeaderLength is the tag byte plus the big-endian length.
const frameHeaderLength = 5

type binaryCodec struct{}

func (binaryCodec) Encoding() Encoding { return EncodingBinary }

func (binaryCodec) Write(w io.Writer, event Event) error {
	eventType := event.EventType()
	payload, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", eventType, err)
	}
	if len(payload) > maxPayloadLength {
		return fmt.Errorf("%s payload length %d exceeds maximum %d", eventType, len(payload), maxPayloadLength)
	}

	frame := make([]byte, frameHeaderLength+len(payload))
	frame[0] = byte(eventType)
	binary.BigEndian.PutUint32(frame[1:frameHeaderLength], uint32(len(payload)))
	copy(frame[frameHeaderLength:], payload)
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("writing %s: %w", eventType, err)
	}
	return nil
}

func (binaryCodec) ReadEventType(r *bufio.Reader) (EventType, error) {
	tag, err := r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return EndOfStream, nil
		}
		return EndOfStream, fmt.Errorf("reading event type: %w", err)
	}
	eventType := EventType(tag)
	if !eventType.Valid() {
		return EndOfStream, protocolErrorf("unknown event type tag %#x", tag)
	}
	return eventType, nil
}

func (binaryCodec) ReadEvent(r *bufio.Reader, expected EventType) (Event, error) {
	if !expected.Valid() {
		return nil, protocolErrorf("cannot read payload for %s", expected)
	}
	var header [frameHeaderLength - 1]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, truncated(expected, err)
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxPayloadLength {
		return nil, protocolErrorf("%s payload length %d exceeds maximum %d", expected, length, maxPayloadLength)
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, truncated(expected, err)
	}

	event, err := decodeEvent(expected, func(target any) error {
		return codec.UnmarshalStrict(payload, target)
	})
	if err != nil {
		return nil, asProtocolError(expected, err)
	}
	return event, nil
}

type textCodec struct{}

func (textCodec) Encoding() Encoding { return EncodingText }

func (textCodec) Write(w io.Writer, event Event) error {
	eventType := event.EventType()
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", eventType, err)
	}

	var frame bytes.Buffer
	frame.Grow(len(eventType.String()) + len(payload) + 2)
	frame.WriteString(eventType.String())
	frame.WriteByte('\n')
	frame.Write(payload)
	frame.WriteByte('\n')
	if _, err := w.Write(frame.Bytes()); err != nil {
		return fmt.Errorf("writing %s: %w", eventType, err)
	}
	return nil
}

func (textCodec) ReadEventType(r *bufio.Reader) (EventType, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if line == "" {
				return EndOfStream, nil
			}
			return EndOfStream, protocolErrorf("truncated event type line %q", line)
		}
		return EndOfStream, fmt.Errorf("reading event type: %w", err)
	}
	eventType, err := ParseEventType(strings.TrimSuffix(line, "\n"))
	if err != nil {
		return EndOfStream, protocolError("reading event type", err)
	}
	return eventType, nil
}

func (textCodec) ReadEvent(r *bufio.Reader, expected EventType) (Event, error) {
	if !expected.Valid() {
		return nil, protocolErrorf("cannot read payload for %s", expected)
	}
	line, err := r.ReadBytes('\n')
	if err != nil {
		return nil, truncated(expected, err)
	}

	event, err := decodeEvent(expected, func(target any) error {
		decoder := json.NewDecoder(bytes.NewReader(line))
		decoder.DisallowUnknownFields()
		return decoder.Decode(target)
	})
	if err != nil {
		return nil, asProtocolError(expected, err)
	}
	return event, nil
}

func truncated(expected EventType, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return protocolError(fmt.Sprintf("truncated %s payload", expected), err)
	}
	return fmt.Errorf("reading %s payload: %w", expected, err)
}

func asProtocolError(expected EventType, err error) error {
	if errors.Is(err, ErrInvalidProtocol) {
		return err
	}
	return protocolError(fmt.Sprintf("payload does not decode as %s", expected), err)
}
