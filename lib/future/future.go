// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package future

import (
	"context"
	"sync"
)

// Future is a completion handle for a value of type T. The zero value
// is not usable; create one with [New].
type Future[T any] struct {
	mu        sync.Mutex
	done      chan struct{}
	completed bool
	value     T
	err       error
	callbacks []func(T, error)
}

// New returns an unresolved Future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a Future already completed with value.
func Resolved[T any](value T) *Future[T] {
	f := New[T]()
	f.Set(value)
	return f
}

// Failed returns a Future already completed with err.
func Failed[T any](err error) *Future[T] {
	f := New[T]()
	f.Fail(err)
	return f
}

// Set resolves the future with value. Returns false if the future was
// already complete, in which case value is discarded.
func (f *Future[T]) Set(value T) bool {
	return f.Complete(value, nil)
}

// Fail resolves the future with err. Returns false if the future was
// already complete.
func (f *Future[T]) Fail(err error) bool {
	var zero T
	return f.Complete(zero, err)
}

// Complete resolves the future with value and err. A non-nil err marks
// the future failed; value is then ignored by [Future.Get].
func (f *Future[T]) Complete(value T, err error) bool {
	f.mu.Lock()
	if f.completed {
		f.mu.Unlock()
		return false
	}
	f.completed = true
	f.value = value
	f.err = err
	callbacks := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()

	for _, callback := range callbacks {
		callback(value, err)
	}
	close(f.done)
	return true
}

// SetFrom makes f complete with whatever other completes with.
// Returns false if f is already complete.
func (f *Future[T]) SetFrom(other *Future[T]) bool {
	f.mu.Lock()
	completed := f.completed
	f.mu.Unlock()
	if completed {
		return false
	}
	other.OnComplete(func(value T, err error) {
		f.Complete(value, err)
	})
	return true
}

// OnComplete registers fn to run when the future completes. If the
// future is already complete, fn runs immediately in the caller's
// goroutine.
func (f *Future[T]) OnComplete(fn func(T, error)) {
	f.mu.Lock()
	if !f.completed {
		f.callbacks = append(f.callbacks, fn)
		f.mu.Unlock()
		return
	}
	value, err := f.value, f.err
	f.mu.Unlock()
	fn(value, err)
}

// Done returns a channel that is closed once the future completes and
// all callbacks have run.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Get blocks until the future completes and returns its outcome.
func (f *Future[T]) Get() (T, error) {
	<-f.done
	return f.value, f.err
}

// Wait blocks until the future completes or ctx is cancelled. A
// cancelled wait returns ctx.Err() and leaves the future untouched.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the outcome without blocking. ok is false while the
// future is unresolved.
func (f *Future[T]) Result() (value T, err error, ok bool) {
	select {
	case <-f.done:
		return f.value, f.err, true
	default:
		var zero T
		return zero, nil, false
	}
}

// IsDone reports whether the future has completed.
func (f *Future[T]) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}
