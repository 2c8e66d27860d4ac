// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package pipelinestage

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/bureau-foundation/buildexec/lib/future"
)

// recordingRunner resolves its result with value, or fails with err.
type recordingRunner struct {
	name    string
	value   int
	err     error
	isFirst bool
	result  *future.Future[int]
	ran     *[]string
}

func (r *recordingRunner) Result() *future.Future[int] { return r.result }

func (r *recordingRunner) Run(context.Context) {
	*r.ran = append(*r.ran, r.name)
	if r.err != nil {
		r.result.Fail(r.err)
		return
	}
	r.result.Set(r.value)
}

type testStage = Stage[string, int]

func factoryFor(name string, value int, err error, ran *[]string) RunnerFactory[string, int] {
	return func(_ *StateHolder[string], isFirst bool) (Runner[int], error) {
		return &recordingRunner{name: name, value: value, err: err, isFirst: isFirst, result: future.New[int](), ran: ran}, nil
	}
}

func newStates() *StateHolder[string] {
	return NewStateHolder(func() (string, error) { return "worker", nil }, nil)
}

func TestStageLifecycle(t *testing.T) {
	var ran []string
	stage := NewStage[string, int]("rule")
	if stage.IsReady() {
		t.Error("new stage is ready")
	}
	if err := stage.SetRunnerFactory(factoryFor("rule", 7, nil, &ran)); err != nil {
		t.Fatal(err)
	}
	if err := stage.Init(newStates(), true); err != nil {
		t.Fatal(err)
	}
	if stage.State() != StateInitialized || !stage.IsReady() {
		t.Errorf("state after Init = %v", stage.State())
	}
	if err := stage.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	stage.WaitForResult()
	value, err := stage.Result().Get()
	if err != nil || value != 7 {
		t.Errorf("result = %d, %v", value, err)
	}
	if stage.State() != StateExecuted || stage.runner != nil {
		t.Error("runner retained after Run")
	}
}

func TestStagePreconditions(t *testing.T) {
	var ran []string
	tests := []struct {
		name  string
		setup func(*testStage) error
		want  error
	}{
		{
			name:  "run before init",
			setup: func(s *testStage) error { return s.Run(context.Background()) },
			want:  ErrNotInitialized,
		},
		{
			name:  "init without factory",
			setup: func(s *testStage) error { return s.Init(newStates(), true) },
			want:  ErrFactoryNotSet,
		},
		{
			name: "factory set twice",
			setup: func(s *testStage) error {
				if err := s.SetRunnerFactory(factoryFor("a", 0, nil, &ran)); err != nil {
					return err
				}
				return s.SetRunnerFactory(factoryFor("a", 0, nil, &ran))
			},
			want: ErrFactoryAlreadySet,
		},
		{
			name: "factory set again after a failed init",
			setup: func(s *testStage) error {
				s.SetRunnerFactory(func(*StateHolder[string], bool) (Runner[int], error) {
					return nil, errors.New("no worker")
				})
				if err := s.Init(newStates(), true); err == nil {
					return errors.New("Init succeeded with a failing factory")
				}
				return s.SetRunnerFactory(factoryFor("a", 0, nil, &ran))
			},
			want: ErrFactoryAlreadySet,
		},
		{
			name: "init twice",
			setup: func(s *testStage) error {
				s.SetRunnerFactory(factoryFor("a", 0, nil, &ran))
				if err := s.Init(newStates(), true); err != nil {
					return err
				}
				return s.Init(newStates(), true)
			},
			want: ErrAlreadyInitialized,
		},
		{
			name: "run twice",
			setup: func(s *testStage) error {
				s.SetRunnerFactory(factoryFor("a", 0, nil, &ran))
				s.Init(newStates(), true)
				if err := s.Run(context.Background()); err != nil {
					return err
				}
				return s.Run(context.Background())
			},
			want: ErrAlreadyExecuted,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.setup(NewStage[string, int]("s"))
			if !errors.Is(err, test.want) {
				t.Errorf("error = %v, want %v", err, test.want)
			}
		})
	}
}

func TestStageRunBeforeInitAcrossChain(t *testing.T) {
	stages := make([]*testStage, 4)
	for index := range stages {
		stages[index] = NewStage[string, int](fmt.Sprintf("s%d", index))
	}
	if _, err := Chain(stages...); err != nil {
		t.Fatal(err)
	}
	for _, stage := range stages {
		if err := stage.Run(context.Background()); !errors.Is(err, ErrNotInitialized) {
			t.Errorf("%s: Run before Init = %v", stage.Name(), err)
		}
	}
}

func TestSetNextStageOnceAndAcyclic(t *testing.T) {
	a := NewStage[string, int]("a")
	b := NewStage[string, int]("b")
	c := NewStage[string, int]("c")
	if _, err := Chain(a, b, c); err != nil {
		t.Fatal(err)
	}
	if err := a.SetNextStage(c); !errors.Is(err, ErrNextStageAlreadySet) {
		t.Errorf("relink error = %v", err)
	}
	if err := c.SetNextStage(a); !errors.Is(err, ErrCycle) {
		t.Errorf("cycle error = %v", err)
	}
	if err := c.SetNextStage(c); !errors.Is(err, ErrCycle) {
		t.Errorf("self link error = %v", err)
	}

	var names []string
	for _, stage := range Stages(a) {
		names = append(names, stage.Name())
	}
	if !slices.Equal(names, []string{"a", "b", "c"}) {
		t.Errorf("traversal = %v", names)
	}
}

func TestAbortFailsWithoutRunning(t *testing.T) {
	var ran []string
	stage := NewStage[string, int]("s")
	stage.SetRunnerFactory(factoryFor("s", 1, nil, &ran))
	cause := errors.New("cancelled by orchestrator")
	if !stage.Abort(cause) {
		t.Fatal("Abort on a pending stage returned false")
	}
	stage.WaitForResult()
	if !errors.Is(stage.Err(), cause) {
		t.Errorf("Err() = %v", stage.Err())
	}
	if len(ran) != 0 {
		t.Errorf("aborted stage ran: %v", ran)
	}
	if stage.Abort(errors.New("again")) {
		t.Error("second Abort returned true")
	}
}

func TestWaitForResultIgnoresFailure(t *testing.T) {
	var ran []string
	stage := NewStage[string, int]("s")
	stage.SetRunnerFactory(factoryFor("s", 0, errors.New("compile error"), &ran))
	stage.Init(newStates(), true)
	stage.Run(context.Background())
	stage.WaitForResult()
	if stage.Err() == nil {
		t.Error("failure not recorded in the error slot")
	}
}

func TestStageFailureDoesNotCascadeByItself(t *testing.T) {
	var ran []string
	first := NewStage[string, int]("first")
	second := NewStage[string, int]("second")
	first.SetRunnerFactory(factoryFor("first", 0, errors.New("boom"), &ran))
	second.SetRunnerFactory(factoryFor("second", 2, nil, &ran))
	Chain(first, second)

	states := newStates()
	first.Init(states, true)
	first.Run(context.Background())
	first.WaitForResult()

	if second.Result().IsDone() {
		t.Error("second stage resolved by the first stage's failure")
	}
	second.Init(states, false)
	second.Run(context.Background())
	if value, err := second.Result().Get(); err != nil || value != 2 {
		t.Errorf("second = %d, %v", value, err)
	}
}

func TestRunExecutesChainInOrder(t *testing.T) {
	var ran []string
	var firstFlags []bool
	var mu sync.Mutex
	stages := make([]*testStage, 3)
	for index := range stages {
		name := fmt.Sprintf("rule%d", index)
		stages[index] = NewStage[string, int](name)
		value := index
		stages[index].SetRunnerFactory(func(state *StateHolder[string], isFirst bool) (Runner[int], error) {
			if _, err := state.Get(); err != nil {
				return nil, err
			}
			mu.Lock()
			firstFlags = append(firstFlags, isFirst)
			mu.Unlock()
			return &recordingRunner{name: name, value: value, result: future.New[int](), ran: &ran}, nil
		})
	}
	first, err := Chain(stages...)
	if err != nil {
		t.Fatal(err)
	}
	if err := Run(context.Background(), first, newStates()); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(ran, []string{"rule0", "rule1", "rule2"}) {
		t.Errorf("ran = %v", ran)
	}
	if !slices.Equal(firstFlags, []bool{true, false, false}) {
		t.Errorf("isFirst flags = %v", firstFlags)
	}
}

func TestRunCascadesFailure(t *testing.T) {
	var ran []string
	a := NewStage[string, int]("a")
	b := NewStage[string, int]("b")
	c := NewStage[string, int]("c")
	a.SetRunnerFactory(factoryFor("a", 0, nil, &ran))
	b.SetRunnerFactory(factoryFor("b", 0, errors.New("exit 1"), &ran))
	c.SetRunnerFactory(factoryFor("c", 0, nil, &ran))
	first, _ := Chain(a, b, c)

	err := Run(context.Background(), first, newStates())
	if err == nil {
		t.Fatal("Run succeeded with a failing stage")
	}
	if !slices.Equal(ran, []string{"a", "b"}) {
		t.Errorf("ran = %v, want c skipped", ran)
	}
	if !errors.Is(c.Err(), ErrUpstreamFailed) {
		t.Errorf("c error = %v, want ErrUpstreamFailed", c.Err())
	}
	if c.State() != StateNotInitialized {
		t.Errorf("c state = %v", c.State())
	}
}

func TestRunStopsAtAbortedStage(t *testing.T) {
	var ran []string
	a := NewStage[string, int]("a")
	b := NewStage[string, int]("b")
	a.SetRunnerFactory(factoryFor("a", 0, nil, &ran))
	b.SetRunnerFactory(factoryFor("b", 0, nil, &ran))
	first, _ := Chain(a, b)
	a.Abort(errors.New("skipped"))

	if err := Run(context.Background(), first, newStates()); err == nil {
		t.Fatal("Run succeeded with an aborted first stage")
	}
	if len(ran) != 0 {
		t.Errorf("ran = %v", ran)
	}
	if !errors.Is(b.Err(), ErrUpstreamFailed) {
		t.Errorf("b error = %v", b.Err())
	}
}

func TestInitFactoryErrorAbortsStage(t *testing.T) {
	stage := NewStage[string, int]("s")
	cause := errors.New("no worker")
	stage.SetRunnerFactory(func(*StateHolder[string], bool) (Runner[int], error) { return nil, cause })
	if err := stage.Init(newStates(), true); !errors.Is(err, cause) {
		t.Errorf("Init error = %v", err)
	}
	if !errors.Is(stage.Err(), cause) {
		t.Errorf("Err() = %v", stage.Err())
	}
	if err := stage.Init(newStates(), true); !errors.Is(err, ErrFactoryNotSet) {
		t.Errorf("second Init = %v, want the factory consumed", err)
	}
}

func TestStateHolderCreatesOnceAndReleases(t *testing.T) {
	created, released := 0, 0
	holder := NewStateHolder(
		func() (string, error) { created++; return "conn", nil },
		func(string) error { released++; return nil },
	)
	for range 3 {
		if value, err := holder.Get(); err != nil || value != "conn" {
			t.Fatalf("Get = %q, %v", value, err)
		}
	}
	holder.Close()
	holder.Close()
	if created != 1 || released != 1 {
		t.Errorf("created %d, released %d", created, released)
	}
	if _, err := holder.Get(); !errors.Is(err, ErrStateClosed) {
		t.Errorf("Get after Close = %v", err)
	}
}

func TestStateHolderCloseWithoutCreate(t *testing.T) {
	holder := NewStateHolder(
		func() (string, error) { return "", errors.New("unused") },
		func(string) error { t.Error("release called for state never created"); return nil },
	)
	if err := holder.Close(); err != nil {
		t.Error(err)
	}
	if holder.Created() {
		t.Error("Created() = true")
	}
}
