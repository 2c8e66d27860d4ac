// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-worker-tool is a long-lived worker that executes many build
// actions over one connection.
//
// The orchestrator starts it with the BUREAU_* environment contract
// plus BUREAU_COMMAND_PIPE. Commands (execute, execute_pipelining,
// start_next, shutdown) arrive as CBOR envelopes on the command pipe;
// each payload is a step command run by the named external action.
// Results, step lifecycle events, and logs go to the event pipe. The
// worker exits after a shutdown command or when the command pipe
// closes, once every accepted action has reported.
package main
