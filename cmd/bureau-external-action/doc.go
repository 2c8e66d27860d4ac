// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Bureau-external-action runs one external action on behalf of the
// build orchestrator and reports it over the event pipe.
//
// Usage:
//
//	bureau-external-action [--encoding binary|text] <action-name> <command-file>
//
// The process is configured by the BUREAU_* environment contract
// (verbosity, ANSI flag, build UUID, action id, event pipe, rule cell
// root). Every step runs relative to the cell root. Logs travel as Log
// events; the outcome travels as one ResultEvent followed by the
// EndEvent. The exit code is 0 when every step succeeded and 1
// otherwise.
package main
