// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/future"
	"github.com/bureau-foundation/buildexec/lib/pipelinestage"
	"github.com/bureau-foundation/buildexec/lib/plan"
	"github.com/bureau-foundation/buildexec/lib/workertool"
)

type buildOptions struct {
	plan      *plan.Plan
	buildUUID string
	ansi      bool
	logger    *slog.Logger

	// env is the worker's base environment. Nil means os.Environ().
	env []string

	// workerStderr receives the worker's own output. Nil means
	// os.Stderr.
	workerStderr io.Writer

	clock clock.Clock
}

// ruleStatus is the summary classification of one rule.
type ruleStatus int

const (
	statusSucceeded ruleStatus = iota
	statusFailed
	statusSkipped
)

type ruleOutcome struct {
	rule     string
	actionID downward.ActionID
	status   ruleStatus

	// result is the worker's report. It is zero for skipped rules and
	// for rules lost to a connection failure.
	result   downward.ResultEvent
	err      error
	duration time.Duration
}

// ruleFailedError fails a stage whose action reported a non-zero exit
// code.
type ruleFailedError struct {
	result downward.ResultEvent
}

func (e *ruleFailedError) Error() string {
	if e.result.Cause != "" {
		return fmt.Sprintf("exit code %d: %s", e.result.ExitCode, e.result.Cause)
	}
	return fmt.Sprintf("exit code %d", e.result.ExitCode)
}

// session is the state shared by one chain: the warm worker and, in
// pipelined mode, the futures of the batch the first rule submitted.
// An isolated build has a launcher instead of a worker.
type session struct {
	client   *workertool.Client
	launcher *isolatedLauncher

	mu    sync.Mutex
	batch map[downward.ActionID]*future.Future[downward.ResultEvent]
}

type stage = pipelinestage.Stage[*session, downward.ResultEvent]

// build runs every rule of the plan as one pipeline stage chain on a
// single worker, or with one external action process per rule for an
// isolated plan. It returns an outcome per rule, in plan order, and the
// first failure.
func build(ctx context.Context, options buildOptions) ([]ruleOutcome, error) {
	buildPlan := options.plan
	logger := options.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timing := options.clock
	if timing == nil {
		timing = clock.Real()
	}

	command, err := buildPlan.ExecutorCommand()
	if err != nil {
		return nil, err
	}
	base := options.env
	if base == nil {
		base = os.Environ()
	}
	env := append(slices.Clone(base), buildPlan.WorkerEnv()...)

	ids := buildPlan.ActionIDs(options.buildUUID)
	commands := make([]any, len(buildPlan.Rules))
	for index, rule := range buildPlan.Rules {
		commands[index] = rule.Command()
	}

	vars := external.ParsedEnvVars{
		Verbosity:    buildPlan.VerbosityLevel(),
		AnsiEnabled:  options.ansi,
		BuildUUID:    options.buildUUID,
		ActionID:     downward.ActionID("worker-" + options.buildUUID),
		RuleCellRoot: buildPlan.CellRoot,
	}
	state := pipelinestage.NewStateHolder(
		func() (*session, error) {
			if buildPlan.Isolated {
				commandDir, err := os.MkdirTemp("", "bureau-buildexec-")
				if err != nil {
					return nil, fmt.Errorf("creating command file directory: %w", err)
				}
				return &session{launcher: &isolatedLauncher{
					command:    command,
					env:        env,
					vars:       vars,
					commandDir: commandDir,
					output:     options.workerStderr,
					logger:     logger.With("component", "external-action"),
				}}, nil
			}
			client, err := workertool.Start(ctx, workertool.StartOptions{
				Command:      command,
				Env:          env,
				Vars:         vars,
				Stderr:       options.workerStderr,
				Logger:       logger.With("component", "worker"),
				CloseTimeout: buildPlan.CloseTimeoutDuration(),
			})
			if err != nil {
				return nil, err
			}
			return &session{client: client}, nil
		},
		func(current *session) error {
			if current.launcher != nil {
				return os.RemoveAll(current.launcher.commandDir)
			}
			return current.client.Close()
		},
	)

	stages := make([]*stage, len(buildPlan.Rules))
	started := make([]time.Time, len(buildPlan.Rules))
	durations := make([]time.Duration, len(buildPlan.Rules))
	for index, rule := range buildPlan.Rules {
		stages[index] = pipelinestage.NewStage[*session, downward.ResultEvent](rule.Name)
		factory := func(holder *pipelinestage.StateHolder[*session], isFirst bool) (pipelinestage.Runner[downward.ResultEvent], error) {
			current, err := holder.Get()
			if err != nil {
				return nil, err
			}
			started[index] = timing.Now()
			return &ruleRunner{
				session:   current,
				pipelined: buildPlan.Pipelined,
				isFirst:   isFirst,
				index:     index,
				rule:      rule,
				ids:       ids,
				commands:  commands,
				result:    future.New[downward.ResultEvent](),
				logger:    logger.With("rule", rule.Name, "action_id", string(ids[index])),
			}, nil
		}
		if err := stages[index].SetRunnerFactory(factory); err != nil {
			return nil, err
		}
	}
	first, err := pipelinestage.Chain(stages...)
	if err != nil {
		return nil, err
	}
	for index, current := range stages {
		current.Result().OnComplete(func(downward.ResultEvent, error) {
			if !started[index].IsZero() {
				durations[index] = timing.Since(started[index])
			}
		})
	}

	logger.Info("build started", "rules", len(stages), "pipelined", buildPlan.Pipelined, "isolated", buildPlan.Isolated)
	buildErr := pipelinestage.Run(ctx, first, state)
	if err := state.Close(); err != nil {
		logger.Warn("closing worker", "error", err)
	}

	outcomes := make([]ruleOutcome, len(stages))
	for index, current := range stages {
		result, err, _ := current.Result().Result()
		outcome := ruleOutcome{
			rule:     current.Name(),
			actionID: ids[index],
			result:   result,
			err:      err,
			duration: durations[index],
		}
		outcome.classify()
		outcomes[index] = outcome
	}
	if buildErr != nil {
		logger.Error("build failed", "error", buildErr)
	} else {
		logger.Info("build succeeded")
	}
	return outcomes, buildErr
}

// classify sets status from err. An upstream failure wraps the failing
// rule's own error, so it is checked before ruleFailedError.
func (o *ruleOutcome) classify() {
	var failed *ruleFailedError
	switch {
	case o.err == nil:
		o.status = statusSucceeded
	case errors.Is(o.err, pipelinestage.ErrUpstreamFailed):
		o.status = statusSkipped
		o.result = downward.ResultEvent{}
	case errors.As(o.err, &failed):
		o.status = statusFailed
		o.result = failed.result
	default:
		o.status = statusFailed
	}
}

// ruleRunner submits one rule to the shared worker.
type ruleRunner struct {
	session   *session
	pipelined bool
	isFirst   bool
	index     int
	rule      plan.Rule
	ids       []downward.ActionID
	commands  []any
	result    *future.Future[downward.ResultEvent]
	logger    *slog.Logger
}

func (r *ruleRunner) Result() *future.Future[downward.ResultEvent] { return r.result }

func (r *ruleRunner) Run(ctx context.Context) {
	if launcher := r.session.launcher; launcher != nil {
		result, err := launcher.launch(ctx, r.ids[r.index], r.rule)
		r.complete(result, err)
		return
	}
	handle, err := r.submit()
	if err != nil {
		r.result.Fail(err)
		return
	}
	handle.OnComplete(r.complete)
}

func (r *ruleRunner) complete(event downward.ResultEvent, err error) {
	switch {
	case err != nil:
		r.result.Fail(err)
	case !event.Success():
		r.logger.Warn("rule failed", "exit_code", event.ExitCode, "cause", event.Cause)
		r.result.Fail(&ruleFailedError{result: event})
	default:
		r.logger.Debug("rule succeeded")
		r.result.Set(event)
	}
}

func (r *ruleRunner) submit() (*future.Future[downward.ResultEvent], error) {
	client := r.session.client
	actionID := r.ids[r.index]
	if !r.pipelined {
		return client.ExecuteCommand(actionID, r.commands[r.index])
	}

	r.session.mu.Lock()
	defer r.session.mu.Unlock()
	if r.isFirst {
		ids := r.ids[r.index:]
		handles, err := client.ExecutePipeliningCommand(ids, r.commands[r.index:], nil)
		if err != nil {
			return nil, err
		}
		r.session.batch = make(map[downward.ActionID]*future.Future[downward.ResultEvent], len(ids))
		for offset, id := range ids {
			r.session.batch[id] = handles[offset]
		}
		return handles[0], nil
	}

	handle := r.session.batch[actionID]
	if handle == nil {
		return nil, fmt.Errorf("action %s is not part of the pipelined batch", actionID)
	}
	if err := client.StartNextCommand(actionID); err != nil {
		return nil, err
	}
	return handle, nil
}
