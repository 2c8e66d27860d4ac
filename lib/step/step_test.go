// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildexec/lib/clock"
	"github.com/bureau-foundation/buildexec/lib/downward"
)

// recordingSink collects emitted events.
type recordingSink struct {
	events []downward.Event
}

func (s *recordingSink) Write(event downward.Event) error {
	s.events = append(s.events, event)
	return nil
}

// funcStep adapts a function to Step.
type funcStep struct {
	name string
	run  func() error
}

func (s funcStep) Type() string { return "func" }
func (s funcStep) Description() string { return s.name }
func (s funcStep) Execute(context.Context, *Context) error { return s.run() }

func newContext(t *testing.T) *Context {
	t.Helper()
	return &Context{
		CellRoot: t.TempDir(),
		ActionID: "a1",
		Clock:    clock.Fake(time.Unix(1700000000, 0)),
	}
}

func TestRunEmitsStartAndFinishPerStep(t *testing.T) {
	sink := &recordingSink{}
	steps := []Step{
		funcStep{name: "first", run: func() error { return nil }},
		funcStep{name: "second", run: func() error { return nil }},
	}

	result := Run(context.Background(), newContext(t), steps, sink)
	if !result.Success() {
		t.Fatalf("Run failed: %+v", result)
	}
	if len(sink.events) != 4 {
		t.Fatalf("got %d events, want 4", len(sink.events))
	}
	for index, event := range sink.events {
		wantType := downward.EventTypeStepStarted
		if index%2 == 1 {
			wantType = downward.EventTypeStepFinished
		}
		if event.EventType() != wantType {
			t.Errorf("event %d = %s, want %s", index, event.EventType(), wantType)
		}
	}
	finished := sink.events[3].(downward.StepFinishedEvent)
	if finished.StepID != 1 || finished.ActionID != "a1" || finished.Description != "second" {
		t.Errorf("unexpected finish event: %+v", finished)
	}
}

func TestRunStopsAtFirstFailure(t *testing.T) {
	sink := &recordingSink{}
	ran := false
	steps := []Step{
		funcStep{name: "breaks", run: func() error {
			return &ExitError{Code: 7, Stderr: "compiler exploded", Err: errors.New("boom")}
		}},
		funcStep{name: "never", run: func() error { ran = true; return nil }},
	}

	result := Run(context.Background(), newContext(t), steps, sink)
	if ran {
		t.Error("step after the failure ran")
	}
	if result.ExitCode != 7 || result.Stderr != "compiler exploded" {
		t.Errorf("result = %+v, want exit 7 with captured stderr", result)
	}
	if !strings.Contains(result.Cause, "step 0 (breaks) failed") {
		t.Errorf("cause = %q", result.Cause)
	}
	finished := sink.events[1].(downward.StepFinishedEvent)
	if finished.ExitCode != 7 {
		t.Errorf("StepFinished exit code = %d, want 7", finished.ExitCode)
	}

	event := result.Event("a1")
	if event.Success() || event.Cause == "" {
		t.Errorf("ResultEvent = %+v, want failure with cause", event)
	}
}

func TestRunRecoversPanics(t *testing.T) {
	steps := []Step{funcStep{name: "panics", run: func() error { panic("unexpected state") }}}

	result := Run(context.Background(), newContext(t), steps, nil)
	if result.ExitCode != 1 {
		t.Errorf("exit code = %d, want 1", result.ExitCode)
	}
	if !strings.Contains(result.Cause, "unexpected state") {
		t.Errorf("cause %q does not mention the panic value", result.Cause)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ran := false
	steps := []Step{funcStep{name: "skipped", run: func() error { ran = true; return nil }}}

	result := Run(ctx, newContext(t), steps, nil)
	if ran || result.Success() {
		t.Errorf("canceled action ran=%v result=%+v", ran, result)
	}
}

func TestResolveConfinesPathsToCellRoot(t *testing.T) {
	stepContext := newContext(t)
	root := stepContext.CellRoot

	tests := []struct {
		path    string
		want    string
		escapes bool
	}{
		{path: "out/a.txt", want: filepath.Join(root, "out/a.txt")},
		{path: filepath.Join(root, "b"), want: filepath.Join(root, "b")},
		{path: "out/../c", want: filepath.Join(root, "c")},
		{path: "../outside", escapes: true},
		{path: "/etc/passwd", escapes: true},
	}
	for _, test := range tests {
		got, err := stepContext.Resolve(test.path)
		if test.escapes {
			if !errors.Is(err, ErrOutsideCellRoot) {
				t.Errorf("Resolve(%q) err = %v, want ErrOutsideCellRoot", test.path, err)
			}
			continue
		}
		if err != nil || got != test.want {
			t.Errorf("Resolve(%q) = %q, %v; want %q", test.path, got, err, test.want)
		}
	}
}

func TestFileSteps(t *testing.T) {
	stepContext := newContext(t)
	command, err := ParseCommand([]byte(`{
		// Produce out/copy.txt from a generated input.
		"steps": [
			{"type": "mkdir", "path": "out"},
			{"type": "write_file", "path": "gen/in.txt", "content": "hello"},
			{"type": "copy", "source": "gen/in.txt", "destination": "out/copy.txt"},
			{"type": "remove", "path": "gen", "recursive": true},
		],
	}`))
	if err != nil {
		t.Fatalf("ParseCommand: %v", err)
	}
	steps, err := BuildAll(command.Steps)
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}

	result := Run(context.Background(), stepContext, steps, nil)
	if !result.Success() {
		t.Fatalf("Run: %+v", result)
	}
	data, err := os.ReadFile(filepath.Join(stepContext.CellRoot, "out/copy.txt"))
	if err != nil || string(data) != "hello" {
		t.Errorf("out/copy.txt = %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(stepContext.CellRoot, "gen")); !os.IsNotExist(err) {
		t.Errorf("gen still exists: %v", err)
	}
}

func TestCopyFailureLeavesNoOutput(t *testing.T) {
	stepContext := newContext(t)
	steps, err := BuildAll([]Spec{{Type: "copy", Source: "missing.txt", Destination: "out.txt"}})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	if result := Run(context.Background(), stepContext, steps, nil); result.Success() {
		t.Fatal("copy of a missing file succeeded")
	}
	if _, err := os.Stat(filepath.Join(stepContext.CellRoot, "out.txt")); !os.IsNotExist(err) {
		t.Errorf("failed copy left an output: %v", err)
	}
}

func TestBuildRejectsInvalidSpecs(t *testing.T) {
	for _, spec := range []Spec{
		{},
		{Type: "teleport"},
		{Type: "mkdir"},
		{Type: "copy", Source: "a"},
		{Type: "run"},
		{Type: "digest", Source: "a"},
	} {
		if _, err := Build(spec); err == nil {
			t.Errorf("Build(%+v) succeeded", spec)
		}
	}
}

func TestReadCommandFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "command.json")
	want := &Command{Action: "isolated-steps", Steps: []Spec{{Type: "mkdir", Path: "out"}}}
	if err := WriteCommandFile(path, want); err != nil {
		t.Fatalf("WriteCommandFile: %v", err)
	}
	got, err := ReadCommandFile(path)
	if err != nil {
		t.Fatalf("ReadCommandFile: %v", err)
	}
	if got.Action != want.Action || len(got.Steps) != 1 || got.Steps[0].Path != "out" {
		t.Errorf("got %+v, want %+v", got, want)
	}
}
