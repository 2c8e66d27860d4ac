// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides binary entrypoint helpers. It centralizes
// the raw stderr writes that happen before a structured logger exists
// (configuration errors in a worker are reported before any pipe is
// opened) and the mapping from errors to process exit codes.
package process
