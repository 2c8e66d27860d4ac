// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli is the small command framework shared by the buildexec
// binaries: a tree of [Command] values with pflag flag sets, generated
// help, typo suggestions for unknown commands and flags, and
// [NewLogger], which picks a text or JSON slog handler depending on
// whether stderr is a terminal.
package cli
