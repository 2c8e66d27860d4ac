// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for buildexec packages.
//
// [PipeDir] creates a short temporary directory in /tmp for FIFOs.
// Named pipe paths are passed through environment variables and
// command lines; keeping them short and outside deeply nested
// TEST_TMPDIR trees keeps failure messages readable.
//
// [RequireReceive] and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that tests of pipe I/O fail instead of hanging when a peer never
// writes.
//
// [UniqueID] numbers action ids that must not collide within one
// worker connection.
//
// All helpers call t.Fatalf on failure rather than returning errors.
//
// This package has no buildexec-internal dependencies.
package testutil
