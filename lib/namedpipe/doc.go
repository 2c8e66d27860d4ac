// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package namedpipe provides a uniform Server/Reader/Writer abstraction
// over OS named pipes, independent of the payload protocol carried on
// them.
//
// A pipe has a stable path that a peer process can use to connect. The
// side that creates the pipe holds the server role and owns it: closing
// a server pipe removes it from the filesystem. The peer holds the
// client role and connects with [Factory.ConnectAsReader] or
// [Factory.ConnectAsWriter].
//
// One pipe has exactly one writer and one reader at a time; it is not a
// broadcast channel.
//
// # POSIX semantics
//
// On unix hosts pipes are FIFOs created with mkfifo(3). Server pipes
// are opened read-write. A server reader therefore never observes
// end-of-stream merely because a writer disconnected: the stream ends
// only when the protocol says so (the downward EndEvent) or when the
// server closes the pipe. This is what lets a second writer connect
// after the first one exits to deliver the shutdown handshake.
//
// Client pipes are opened non-blocking, so connecting to a path with no
// server fails immediately instead of hanging in open(2). There is no
// built-in retry; callers own their reconnect policy.
//
// All pipes are registered with the Go runtime poller, so Close
// unblocks a goroutine parked in Read or Write with [os.ErrClosed].
//
// # Platform selection
//
// [Default] resolves the factory for the host OS once per process.
// Hosts without a supported primitive get a factory whose every method
// returns [ErrUnsupportedPlatform].
package namedpipe
