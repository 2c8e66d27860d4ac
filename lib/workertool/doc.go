// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package workertool multiplexes build actions onto one long-lived
// worker process.
//
// A worker connection is a pair of named pipes created by the
// orchestrator: a command pipe carrying a CBOR stream of [Command]
// envelopes to the worker, and an event pipe carrying the downward
// event protocol back. Both ends are owned by the [Client]; the worker
// connects to them using the paths in its environment.
//
// # Actions and batches
//
// [Client.ExecuteCommand] sends one action and returns a future that
// resolves with the action's ResultEvent. [Client.ExecutePipeliningCommand]
// sends an ordered batch: one future per action plus a batch future
// that resolves on the PipelineFinishedEvent, which the worker always
// sends after every ResultEvent of the batch. Results are correlated
// strictly by ActionID; completion order is whatever the worker
// reports. [Client.StartNextCommand] releases the next queued action
// of a batch on workers that serialize an internal resource.
//
// # Failure
//
// When the worker exits, the event stream breaks, or the client is
// closed, every outstanding future on the connection fails. No future
// is left pending: this is the mandatory cleanup path, not a
// best-effort one.
//
// # Worker side
//
// [Server] is the worker half: it decodes commands, runs single
// actions concurrently and batches in order, and reports results in
// completion order. [RunWorker] wires a Server to the process
// environment for the bureau-worker-tool binary.
package workertool
