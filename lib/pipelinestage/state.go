// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestage

import (
	"errors"
	"sync"
)

// ErrStateClosed is returned by Get after Close.
var ErrStateClosed = errors.New("pipeline state closed")

// StateHolder owns the state shared by the stages of one chain. The
// state is created by the first Get and released by Close.
type StateHolder[S any] struct {
	create  func() (S, error)
	release func(S) error

	mu      sync.Mutex
	value   S
	created bool
	closed  bool
}

// NewStateHolder returns a holder that creates its state with create
// and releases it with release. release may be nil.
func NewStateHolder[S any](create func() (S, error), release func(S) error) *StateHolder[S] {
	return &StateHolder[S]{create: create, release: release}
}

// Get returns the shared state, creating it on first use. A failed
// creation is retried by the next Get.
func (h *StateHolder[S]) Get() (S, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var zero S
	if h.closed {
		return zero, ErrStateClosed
	}
	if !h.created {
		value, err := h.create()
		if err != nil {
			return zero, err
		}
		h.value = value
		h.created = true
	}
	return h.value, nil
}

// Created reports whether Get has produced the state.
func (h *StateHolder[S]) Created() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.created
}

// Close releases the state if it was created. Later calls do nothing.
func (h *StateHolder[S]) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if !h.created || h.release == nil {
		return nil
	}
	return h.release(h.value)
}
