// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version provides build version information for buildexec
// binaries.
//
// Version information is injected at build time via -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/buildexec/lib/version.GitCommit=$(git rev-parse --short HEAD)"
//
// Worker tools report their version in the startup log so a stale
// daemon binary is visible in the orchestrator's log stream.
package version
