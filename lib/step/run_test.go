// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package step

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRunStepCapturesStderrAndExitCode(t *testing.T) {
	stepContext := newContext(t)
	steps, err := BuildAll([]Spec{{
		Type:    "run",
		Command: []string{"/bin/sh", "-c", "echo \"$GREETING\" > greeting.txt; echo 'fatal: bad input' >&2; exit 3"},
		Env:     map[string]string{"GREETING": "hi"},
	}})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}

	result := Run(context.Background(), stepContext, steps, nil)
	if result.ExitCode != 3 {
		t.Errorf("exit code = %d, want 3", result.ExitCode)
	}
	if !strings.Contains(result.Stderr, "fatal: bad input") {
		t.Errorf("stderr = %q", result.Stderr)
	}
	data, err := os.ReadFile(filepath.Join(stepContext.CellRoot, "greeting.txt"))
	if err != nil || strings.TrimSpace(string(data)) != "hi" {
		t.Errorf("greeting.txt = %q, %v; want the step to run in the cell root with its env", data, err)
	}
}

func TestRunStepMissingBinary(t *testing.T) {
	steps, err := BuildAll([]Spec{{Type: "run", Command: []string{"/nonexistent/compiler"}}})
	if err != nil {
		t.Fatalf("BuildAll: %v", err)
	}
	result := Run(context.Background(), newContext(t), steps, nil)
	if result.ExitCode != 1 || result.Cause == "" {
		t.Errorf("result = %+v, want exit 1 with a cause", result)
	}
}

func TestTailBufferKeepsEnd(t *testing.T) {
	buffer := &tailBuffer{limit: 4}
	buffer.Write([]byte("abc"))
	buffer.Write([]byte("defg"))
	if got := buffer.String(); got != "[truncated]\ndefg" {
		t.Errorf("String() = %q", got)
	}
}
