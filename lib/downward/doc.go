// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package downward implements the event protocol a worker process uses
// to report lifecycle and result events back to the build orchestrator
// over a named pipe.
//
// # Wire format
//
// Every connection begins with a one-byte encoding marker ('B' for
// [EncodingBinary], 'T' for [EncodingText]). Thereafter each message is
// an event-type tag followed by a payload:
//
//	BINARY: [1 byte tag] [4 byte big-endian length] [CBOR payload]
//	TEXT:   TAG_NAME "\n" JSON payload "\n"
//
// The marker fixes the payload encoding for the lifetime of the
// connection. A writer that reconnects may announce the marker again
// at a frame boundary; re-announcing the established encoding is a
// no-op, announcing a different one is an [InvalidProtocolError].
//
// # Handshake
//
// The encoding is held in a [Handshake], a compare-and-set cell shared
// by everything that touches one pipe. It is established by whichever
// happens first: a writer choosing an encoding before its first write
// ([NewEventWriter]) or the reader observing the marker ([ReadEvents]).
//
// # Shutdown
//
// Exactly one [EndEvent] terminates a connection and it is always the
// last event. After the worker's real work ends, [PrepareToClose]
// connects one more writer, sends the EndEvent in the established
// encoding (BINARY when nothing was ever established), and waits a
// bounded time for the reader to confirm it terminated.
//
// # Logging
//
// [LogHandler] is a slog.Handler that forwards records as [LogEvent]s.
// It is detached before a worker emits its final diagnostic so that
// error reporting never writes to a pipe that may already be gone.
package downward
