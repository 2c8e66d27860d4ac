// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package plan loads build plans for bureau-buildexec.
//
// A plan is a single YAML file naming the worker tool to start, the
// rule cell root, and an ordered list of rules. Each rule names an
// external action and the isolated steps it runs. The file is the only
// input: there is no discovery and no environment override of plan
// values, apart from ${VAR} expansion in path-like fields.
//
// Variable expansion covers the cell root, the worker command, its bin
// directory, and worker environment values. ${PLAN_DIR} is the
// directory containing the plan file; ${VAR:-default} falls back to
// default when VAR is unset or empty.
//
// Rules are identified on the wire by [ActionID], a keyed BLAKE3 hash
// of the build UUID and the rule name, so the same rule never reuses an
// ActionID across builds.
package plan
