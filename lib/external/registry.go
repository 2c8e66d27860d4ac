// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/bureau-foundation/buildexec/lib/step"
)

// IsolatedStepsAction is the name of the built-in action that runs a
// command's steps in order.
const IsolatedStepsAction = "isolated-steps"

// Action executes one command inside a worker. It reports failures
// through the returned Result, never by panicking or exiting.
type Action interface {
	Name() string
	Execute(ctx context.Context, stepContext *step.Context, command *step.Command, events step.EventSink) step.Result
}

// ActionFunc adapts a function to Action.
type ActionFunc struct {
	ActionName string
	Func       func(ctx context.Context, stepContext *step.Context, command *step.Command, events step.EventSink) step.Result
}

func (a ActionFunc) Name() string { return a.ActionName }

func (a ActionFunc) Execute(ctx context.Context, stepContext *step.Context, command *step.Command, events step.EventSink) step.Result {
	return a.Func(ctx, stepContext, command, events)
}

// Registry maps action names to actions. It is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry returns a registry holding the built-in isolated-steps
// action.
func NewRegistry() *Registry {
	registry := &Registry{actions: make(map[string]Action)}
	registry.actions[IsolatedStepsAction] = isolatedSteps{}
	return registry
}

// Register adds action. Names are unique.
func (r *Registry) Register(action Action) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.actions[action.Name()]; exists {
		return fmt.Errorf("external action %q is already registered", action.Name())
	}
	r.actions[action.Name()] = action
	return nil
}

// Lookup returns the action registered under name.
func (r *Registry) Lookup(name string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	action, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown external action %q (registered: %v)", name, r.namesLocked())
	}
	return action, nil
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.namesLocked()
}

func (r *Registry) namesLocked() []string {
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute resolves command.Action (defaulting to isolated-steps) and
// runs it. Lookup failures become a failed Result.
func (r *Registry) Execute(ctx context.Context, stepContext *step.Context, command *step.Command, events step.EventSink) step.Result {
	name := command.Action
	if name == "" {
		name = IsolatedStepsAction
	}
	action, err := r.Lookup(name)
	if err != nil {
		return step.Failure(err)
	}
	return action.Execute(ctx, stepContext, command, events)
}

type isolatedSteps struct{}

func (isolatedSteps) Name() string { return IsolatedStepsAction }

func (isolatedSteps) Execute(ctx context.Context, stepContext *step.Context, command *step.Command, events step.EventSink) step.Result {
	steps, err := step.BuildAll(command.Steps)
	if err != nil {
		return step.Failure(err)
	}
	return step.Run(ctx, stepContext, steps, events)
}
