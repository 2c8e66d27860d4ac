// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package pipelinestage chains build-rule executions that share one
// warm worker connection, so that only the first rule in the chain
// pays the worker's setup cost.
//
// A [Stage] is a single-use slot. Its lifecycle is strictly ordered:
// [Stage.SetRunnerFactory] once, [Stage.Init] once (which consumes the
// factory and creates the [Runner]), then [Stage.Run] once (which hands
// the stage's result to the runner's and drops the runner). Each step
// out of order returns an error rather than panicking. Stages link into
// a singly linked, acyclic chain with [Stage.SetNextStage].
//
// A Stage never fails its successors. [Run] walks a chain in order and
// is where failure cascades: once a stage fails, every later stage is
// aborted with [ErrUpstreamFailed] without running.
//
// [StateHolder] carries the state every stage of one chain shares,
// typically the worker client. It is created on first use and released
// once by [StateHolder.Close].
package pipelinestage
