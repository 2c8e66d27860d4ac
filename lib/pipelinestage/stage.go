// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestage

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/bureau-foundation/buildexec/lib/future"
)

var (
	ErrFactoryAlreadySet   = errors.New("runner factory already set")
	ErrFactoryNotSet       = errors.New("runner factory not set")
	ErrAlreadyInitialized  = errors.New("stage already initialized")
	ErrNotInitialized      = errors.New("stage not initialized")
	ErrAlreadyExecuted     = errors.New("stage already executed")
	ErrNextStageAlreadySet = errors.New("next stage already set")
	ErrCycle               = errors.New("link would make the chain cyclic")

	// ErrUpstreamFailed aborts the stages after a failed stage.
	ErrUpstreamFailed = errors.New("an earlier stage in the pipeline failed")
)

// State is a stage's position in its lifecycle.
type State int

const (
	StateNotInitialized State = iota
	StateInitialized
	StateExecuted
)

func (s State) String() string {
	switch s {
	case StateNotInitialized:
		return "not-initialized"
	case StateInitialized:
		return "initialized"
	case StateExecuted:
		return "executed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Runner executes one build rule. Run may return before the work
// finishes; the outcome is reported through Result.
type Runner[R any] interface {
	Result() *future.Future[R]
	Run(ctx context.Context)
}

// RunnerFactory creates the runner for one stage. isFirst is true for
// the stage that starts the chain.
type RunnerFactory[S, R any] func(state *StateHolder[S], isFirst bool) (Runner[R], error)

// Stage is one rule's slot in a pipeline chain.
type Stage[S, R any] struct {
	name   string
	result *future.Future[R]

	mu         sync.Mutex
	state      State
	factory    RunnerFactory[S, R]
	factorySet bool
	runner     Runner[R]
	next       *Stage[S, R]
	err        error
}

// NewStage returns an uninitialized stage. The name appears in errors.
func NewStage[S, R any](name string) *Stage[S, R] {
	stage := &Stage[S, R]{name: name, result: future.New[R]()}
	stage.result.OnComplete(func(_ R, err error) {
		if err != nil {
			stage.mu.Lock()
			stage.err = err
			stage.mu.Unlock()
		}
	})
	return stage
}

func (s *Stage[S, R]) Name() string { return s.name }

// Result is the stage's completion handle. It resolves when the runner
// finishes or the stage is aborted.
func (s *Stage[S, R]) Result() *future.Future[R] { return s.result }

// SetRunnerFactory sets the factory Init will consume. It may be
// called once, even if Init later drops the factory.
func (s *Stage[S, R]) SetRunnerFactory(factory RunnerFactory[S, R]) error {
	if factory == nil {
		return fmt.Errorf("stage %s: nil runner factory", s.name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.factorySet {
		return fmt.Errorf("stage %s: %w", s.name, ErrFactoryAlreadySet)
	}
	s.factory = factory
	s.factorySet = true
	return nil
}

// Init creates the stage's runner from its factory. The factory is
// dropped whether or not it succeeds; a factory error aborts the stage.
func (s *Stage[S, R]) Init(state *StateHolder[S], isFirst bool) error {
	s.mu.Lock()
	switch {
	case s.state != StateNotInitialized:
		s.mu.Unlock()
		return fmt.Errorf("stage %s: %w", s.name, ErrAlreadyInitialized)
	case s.factory == nil:
		s.mu.Unlock()
		return fmt.Errorf("stage %s: %w", s.name, ErrFactoryNotSet)
	}
	factory := s.factory
	s.factory = nil
	s.mu.Unlock()

	runner, err := factory(state, isFirst)
	if err == nil && runner == nil {
		err = errors.New("runner factory returned no runner")
	}
	if err != nil {
		err = fmt.Errorf("stage %s: creating runner: %w", s.name, err)
		s.Abort(err)
		return err
	}

	s.mu.Lock()
	s.runner = runner
	s.state = StateInitialized
	s.mu.Unlock()
	return nil
}

// SetNextStage links next after s. It may be called once, and rejects
// a link that would let traversal from s return to s.
func (s *Stage[S, R]) SetNextStage(next *Stage[S, R]) error {
	if next == nil {
		return fmt.Errorf("stage %s: nil next stage", s.name)
	}
	for cursor := next; cursor != nil; cursor = cursor.NextStage() {
		if cursor == s {
			return fmt.Errorf("stage %s -> %s: %w", s.name, next.name, ErrCycle)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.next != nil {
		return fmt.Errorf("stage %s: %w", s.name, ErrNextStageAlreadySet)
	}
	s.next = next
	return nil
}

// NextStage returns the successor, or nil at the end of the chain.
func (s *Stage[S, R]) NextStage() *Stage[S, R] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next
}

func (s *Stage[S, R]) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady reports whether the stage has a runner or has already run.
func (s *Stage[S, R]) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != StateNotInitialized
}

// Run ties the stage's result to the runner's and executes the runner.
// The runner is released afterwards so a long chain does not hold every
// rule's state.
func (s *Stage[S, R]) Run(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateNotInitialized:
		s.mu.Unlock()
		return fmt.Errorf("stage %s: %w", s.name, ErrNotInitialized)
	case StateExecuted:
		s.mu.Unlock()
		return fmt.Errorf("stage %s: %w", s.name, ErrAlreadyExecuted)
	}
	runner := s.runner
	s.runner = nil
	s.state = StateExecuted
	s.mu.Unlock()

	s.result.SetFrom(runner.Result())
	runner.Run(ctx)
	return nil
}

// Abort fails the stage's result with err without running it. It
// returns false if the result had already resolved.
func (s *Stage[S, R]) Abort(err error) bool {
	return s.result.Fail(err)
}

// WaitForResult blocks until the stage's result resolves. Neither the
// value nor the error is returned: the outcome is observed through
// Result or Err.
func (s *Stage[S, R]) WaitForResult() {
	<-s.result.Done()
}

// Err returns the error the stage's result failed with, or nil.
func (s *Stage[S, R]) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
