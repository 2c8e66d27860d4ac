// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/pipelinestage"
)

func TestPrintSummaryPlain(t *testing.T) {
	outcomes := []ruleOutcome{
		{rule: "//lib:core", actionID: "aaaa", status: statusSucceeded, duration: 1500 * time.Millisecond},
		{
			rule:     "//app:main",
			actionID: "bbbb",
			status:   statusFailed,
			result:   downward.ResultEvent{ExitCode: 1, Stderr: "undefined: x\n", Cause: "step 0 (run) failed"},
			duration: 20 * time.Millisecond,
		},
		{rule: "//app:test", actionID: "cccc", status: statusSkipped, err: pipelinestage.ErrUpstreamFailed},
	}
	var out bytes.Buffer
	printSummary(&out, false, outcomes)
	text := out.String()

	if strings.Contains(text, "\x1b[") {
		t.Errorf("plain summary contains escape sequences: %q", text)
	}
	for _, want := range []string{
		"OK      //lib:core  aaaa  1.5s",
		"FAILED  //app:main  bbbb  20ms",
		"SKIP    //app:test  cccc",
		"cause: step 0 (run) failed",
		"undefined: x",
		"3 rules: 1 succeeded, 1 failed, 1 skipped",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("summary missing %q:\n%s", want, text)
		}
	}
}

func TestPrintSummaryConnectionFailure(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, false, []ruleOutcome{{
		rule:   "r",
		status: statusFailed,
		err:    errors.New("worker process exited"),
	}})
	if !strings.Contains(out.String(), "error: worker process exited") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestPrintSummaryColor(t *testing.T) {
	var out bytes.Buffer
	printSummary(&out, true, []ruleOutcome{{rule: "r", status: statusSucceeded}})
	if !strings.Contains(out.String(), "\x1b[") {
		t.Errorf("colored summary has no escape sequences: %q", out.String())
	}
}

func TestClassifyOutcome(t *testing.T) {
	upstream := &ruleFailedError{result: downward.ResultEvent{ExitCode: 1, Cause: "copy failed", Stderr: "no such file"}}
	tests := []struct {
		name       string
		err        error
		wantStatus ruleStatus
		wantCause  string
	}{
		{name: "success", wantStatus: statusSucceeded},
		{name: "own failure", err: upstream, wantStatus: statusFailed, wantCause: "copy failed"},
		{
			name:       "after a failed rule",
			err:        fmt.Errorf("%w: %s: %w", pipelinestage.ErrUpstreamFailed, "broken", upstream),
			wantStatus: statusSkipped,
		},
		{name: "connection lost", err: errors.New("worker connection closed"), wantStatus: statusFailed},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			outcome := ruleOutcome{rule: "r", err: test.err}
			outcome.classify()
			if outcome.status != test.wantStatus {
				t.Errorf("status = %v, want %v", outcome.status, test.wantStatus)
			}
			if outcome.result.Cause != test.wantCause {
				t.Errorf("cause = %q, want %q", outcome.result.Cause, test.wantCause)
			}
		})
	}
}
