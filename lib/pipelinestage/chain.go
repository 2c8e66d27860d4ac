// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestage

import (
	"context"
	"fmt"
)

// Chain links stages in the given order and returns the first.
func Chain[S, R any](stages ...*Stage[S, R]) (*Stage[S, R], error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipelinestage: empty chain")
	}
	for index := 1; index < len(stages); index++ {
		if err := stages[index-1].SetNextStage(stages[index]); err != nil {
			return nil, err
		}
	}
	return stages[0], nil
}

// Stages returns the chain starting at first, in order.
func Stages[S, R any](first *Stage[S, R]) []*Stage[S, R] {
	var stages []*Stage[S, R]
	for stage := first; stage != nil; stage = stage.NextStage() {
		stages = append(stages, stage)
	}
	return stages
}

// Run initializes and runs each stage of the chain in order, waiting
// for each stage's result before starting the next. When a stage fails,
// every later stage is aborted with ErrUpstreamFailed and Run returns
// the failure. Stages already aborted by the caller are skipped.
func Run[S, R any](ctx context.Context, first *Stage[S, R], state *StateHolder[S]) error {
	isFirst := true
	for stage := first; stage != nil; stage = stage.NextStage() {
		if stage.Result().IsDone() && stage.State() == StateNotInitialized {
			if err := stage.Err(); err != nil {
				abortAfter(stage, err)
				return fmt.Errorf("stage %s: %w", stage.Name(), err)
			}
			continue
		}

		if err := ctx.Err(); err != nil {
			stage.Abort(err)
			abortAfter(stage, err)
			return err
		}
		if err := stage.Init(state, isFirst); err != nil {
			abortAfter(stage, err)
			return err
		}
		isFirst = false
		if err := stage.Run(ctx); err != nil {
			stage.Abort(err)
			abortAfter(stage, err)
			return err
		}
		stage.WaitForResult()
		if err := stage.Err(); err != nil {
			abortAfter(stage, err)
			return fmt.Errorf("stage %s: %w", stage.Name(), err)
		}
	}
	return nil
}

func abortAfter[S, R any](failed *Stage[S, R], cause error) {
	upstream := fmt.Errorf("%w: %s: %w", ErrUpstreamFailed, failed.Name(), cause)
	for stage := failed.NextStage(); stage != nil; stage = stage.NextStage() {
		stage.Abort(upstream)
	}
}
