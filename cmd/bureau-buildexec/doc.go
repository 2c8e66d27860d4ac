// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-buildexec executes a build plan on one warm worker tool.
//
// Subcommands:
//
//	run <plan.yaml>       start the worker, run every rule in order, print a summary
//	validate <plan.yaml>  check a plan without running it
//	ids <plan.yaml>       print the ActionID each rule gets for a build UUID
//	version               print version information
//
// The rules of a plan form a pipeline stage chain sharing one worker
// connection. In pipelined mode the first rule sends the whole chain as
// one execute_pipelining batch and every later rule releases its action
// with start_next; with --sequential each rule is a separate execute
// command. A failed rule aborts the rules after it.
//
// An isolated plan (or --isolated) starts no worker tool: each rule
// runs in its own bureau-external-action process, configured through
// the downward environment contract and reporting over its own event
// pipe.
package main
