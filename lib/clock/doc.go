// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Every bounded wait in buildexec (the downward shutdown handshake,
// worker-tool close, step timing) goes through a Clock so that tests
// can drive deadlines deterministically instead of sleeping:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go func() { errs <- downward.PrepareToClose(ctx, options) }()
//	c.WaitForTimers(1)          // the handshake registered its deadline
//	c.Advance(3 * time.Second)  // expire it
//
// Production code uses Real().
package clock
