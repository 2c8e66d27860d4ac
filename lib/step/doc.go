// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package step implements the isolated steps a worker executes for one
// build action: filesystem operations, subprocesses, compression, and
// content digests.
//
// An action arrives as a [Command]: an ordered list of [Spec] values
// authored as JSONC (JSON with comments and trailing commas) and
// carried either in a side-channel file named on the worker's command
// line or inside a worker-tool command payload. [Build] turns each Spec
// into a [Step]; [Run] executes the steps in order, reporting
// StepStarted and StepFinished events for each one, and stops at the
// first failure.
//
// Step failures never escape as panics or process exits. [Run] folds
// errors (including recovered panics) into a failed [Result] carrying
// the exit code, captured stderr, and a human-readable cause, which the
// caller reports as a downward ResultEvent.
//
// Every path a step touches is resolved against the rule cell root and
// must stay inside it.
package step
