// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"
	"syscall"
	"time"
)

// runGracePeriod is how long a canceled subprocess has between SIGTERM
// and SIGKILL.
const runGracePeriod = 5 * time.Second

// maxCapturedStderr bounds the stderr kept for the ResultEvent. The
// tail is kept: compilers print the fatal diagnostic last.
const maxCapturedStderr = 64 * 1024

type runStep struct {
	command     []string
	env         map[string]string
	description string
}

func (s *runStep) Type() string { return "run" }

func (s *runStep) Description() string {
	return describe(s.description, strings.Join(s.command, " "))
}

func (s *runStep) Execute(ctx context.Context, stepContext *Context) error {
	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	cmd.Dir = stepContext.CellRoot
	cmd.Env = mergeEnv(os.Environ(), s.env)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = runGracePeriod

	var stdout bytes.Buffer
	stderr := &tailBuffer{limit: maxCapturedStderr}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if stdout.Len() > 0 {
		stepContext.logger().Debug("step output",
			"command", s.command[0], "stdout", stdout.String())
	}
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code <= 0 {
			// Killed by a signal.
			code = 1
		}
		return &ExitError{Code: code, Stderr: stderr.String(), Err: fmt.Errorf("%s: %w", s.command[0], err)}
	}
	return &ExitError{Code: 1, Stderr: stderr.String(), Err: fmt.Errorf("starting %s: %w", s.command[0], err)}
}

// mergeEnv overlays overrides on base. The result is sorted by key so
// the subprocess environment is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}
	merged := make(map[string]string, len(base)+len(overrides))
	for _, entry := range base {
		key, value, _ := strings.Cut(entry, "=")
		merged[key] = value
	}
	for key, value := range overrides {
		merged[key] = value
	}
	keys := make([]string, 0, len(merged))
	for key := range merged {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		result = append(result, key+"="+merged[key])
	}
	return result
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	limit     int
	data      []byte
	truncated bool
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	if overflow := len(b.data) - b.limit; overflow > 0 {
		b.data = append(b.data[:0], b.data[overflow:]...)
		b.truncated = true
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	if b.truncated {
		return "[truncated]\n" + string(b.data)
	}
	return string(b.data)
}
