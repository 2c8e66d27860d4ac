// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package external is the runtime of an external action: the process
// an orchestrator spawns to execute one build action's steps outside
// its own address space, and the orchestrator-side launcher that spawns
// it.
//
// # Worker side
//
// [Run] is the whole life of the worker process:
//
//  1. Parse [ParsedEnvVars] from the environment. A missing variable
//     fails before any pipe is opened.
//  2. Connect to the event pipe, announce the encoding, and route the
//     action's logs into it through a [downward.LogHandler].
//  3. Validate the two positional arguments (action name and step
//     command file), look the action up in the [Registry], and execute
//     it. Every failure here becomes a failed ResultEvent.
//  4. Detach the log handler, report exactly one ResultEvent, close
//     the writer, and perform the end-of-stream handshake.
//  5. On failure, print a last-resort diagnostic with the action ID to
//     stderr and exit 1.
//
// # Orchestrator side
//
// [Launch] creates the event pipe, spawns the worker with the
// environment contract filled in, consumes its events, and returns an
// [ExecutionResult] once the process has exited and the event reader
// has terminated.
package external
