// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package downward

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
)

// Encoding is the payload encoding discriminator of a connection. Its
// value is the marker byte written at the start of the stream.
type Encoding uint8

const (
	// EncodingBinary frames CBOR payloads with a tag byte and a length.
	EncodingBinary Encoding = 'B'

	// EncodingText writes a tag-name line followed by a JSON line. It
	// exists for debugging and for workers without a CBOR library.
	EncodingText Encoding = 'T'
)

// Valid reports whether e is a known encoding.
func (e Encoding) Valid() bool {
	return e == EncodingBinary || e == EncodingText
}

func (e Encoding) String() string {
	switch e {
	case EncodingBinary:
		return "binary"
	case EncodingText:
		return "text"
	default:
		return fmt.Sprintf("Encoding(%#x)", uint8(e))
	}
}

// ParseEncoding parses the names accepted on command lines and in
// configuration files.
func ParseEncoding(name string) (Encoding, error) {
	switch name {
	case "binary", "BINARY":
		return EncodingBinary, nil
	case "text", "TEXT":
		return EncodingText, nil
	default:
		return 0, fmt.Errorf("unknown downward encoding %q", name)
	}
}

// Codec returns the payload codec for e. It panics on an invalid
// encoding; callers validate markers before asking for a codec.
func (e Encoding) Codec() Codec {
	switch e {
	case EncodingBinary:
		return binaryCodec{}
	case EncodingText:
		return textCodec{}
	default:
		panic(fmt.Sprintf("downward: no codec for %s", e))
	}
}

// ErrInvalidProtocol matches every InvalidProtocolError with errors.Is.
var ErrInvalidProtocol = errors.New("invalid downward protocol")

// InvalidProtocolError reports a protocol violation: an encoding
// mismatch, an unknown tag, or payload bytes that do not decode as the
// expected event. It is fatal to the connection.
type InvalidProtocolError struct {
	Message string
	Err     error
}

func (e *InvalidProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid downward protocol: %s: %v", e.Message, e.Err)
	}
	return "invalid downward protocol: " + e.Message
}

func (e *InvalidProtocolError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrInvalidProtocol) hold.
func (e *InvalidProtocolError) Is(target error) bool {
	return target == ErrInvalidProtocol
}

func protocolErrorf(format string, args ...any) error {
	return &InvalidProtocolError{Message: fmt.Sprintf(format, args...)}
}

func protocolError(message string, err error) error {
	return &InvalidProtocolError{Message: message, Err: err}
}

// Handshake holds the encoding of one connection. It starts
// unestablished and is fixed by the first successful Establish. The
// zero value is ready to use.
type Handshake struct {
	state atomic.Uint32
}

// Encoding returns the established encoding. ok is false until a
// writer or reader establishes one.
func (h *Handshake) Encoding() (encoding Encoding, ok bool) {
	value := h.state.Load()
	if value == 0 {
		return 0, false
	}
	return Encoding(value), true
}

// Establish fixes the connection's encoding to e with a single
// compare-and-set. Re-establishing the same encoding is a no-op;
// establishing a different one returns an *InvalidProtocolError.
func (h *Handshake) Establish(e Encoding) error {
	if !e.Valid() {
		return protocolErrorf("unknown encoding marker %#x", uint8(e))
	}
	if h.state.CompareAndSwap(0, uint32(e)) {
		return nil
	}
	existing := Encoding(h.state.Load())
	if existing == e {
		return nil
	}
	return protocolErrorf("cannot set encoding to %s once it has been established as %s", e, existing)
}

// WriteEncoding writes the marker byte for e.
func WriteEncoding(w io.Writer, e Encoding) error {
	if !e.Valid() {
		return protocolErrorf("unknown encoding %#x", uint8(e))
	}
	if _, err := w.Write([]byte{byte(e)}); err != nil {
		return fmt.Errorf("writing encoding marker: %w", err)
	}
	return nil
}

// ReadEncoding reads a marker byte. A stream that ends before any byte
// returns io.EOF unchanged.
func ReadEncoding(r io.ByteReader) (Encoding, error) {
	marker, err := r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, io.EOF
		}
		return 0, fmt.Errorf("reading encoding marker: %w", err)
	}
	encoding := Encoding(marker)
	if !encoding.Valid() {
		return 0, protocolErrorf("unknown encoding marker %#x", marker)
	}
	return encoding, nil
}
