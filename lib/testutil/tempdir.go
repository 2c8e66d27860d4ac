// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"os"
	"testing"
)

// PipeDir creates a temporary directory directly in /tmp for named
// pipes. The directory is removed when the test completes.
func PipeDir(t *testing.T) string {
	t.Helper()
	directory, err := os.MkdirTemp("/tmp", "buildexec-test-*")
	if err != nil {
		t.Fatalf("creating pipe directory: %v", err)
	}
	t.Cleanup(func() {
		_ = os.RemoveAll(directory)
	})
	return directory
}
