// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package future provides a single-assignment completion handle.
//
// A [Future] resolves exactly once, either to a value or to an error.
// Worker-tool clients hand one out per ActionId and resolve it when the
// matching ResultEvent arrives (or fail it when the connection dies);
// pipeline stages delegate their handle to their runner's handle with
// [Future.SetFrom].
//
// Callbacks registered with [Future.OnComplete] run synchronously, in
// registration order, before [Future.Done] is closed. Code that waits
// on Done therefore observes every side effect of the callbacks.
package future
