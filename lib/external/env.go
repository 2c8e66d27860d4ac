// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"

	"github.com/bureau-foundation/buildexec/lib/downward"
)

// Environment variables of the worker process contract.
const (
	EnvVerbosity    = "BUREAU_VERBOSITY"
	EnvAnsiEnabled  = "BUREAU_ANSI_ENABLED"
	EnvBuildUUID    = "BUREAU_BUILD_UUID"
	EnvActionID     = "BUREAU_ACTION_ID"
	EnvEventPipe    = "BUREAU_EVENT_PIPE"
	EnvRuleCellRoot = "BUREAU_RULE_CELL_ROOT"
)

// Verbosity is the console verbosity the orchestrator runs with.
type Verbosity int

const (
	VerbositySilent Verbosity = iota
	VerbosityCompact
	VerbosityStandard
	VerbosityBinaryOutputs
	VerbosityAll
)

var verbosityNames = [...]string{
	VerbositySilent:        "SILENT",
	VerbosityCompact:       "COMPACT",
	VerbosityStandard:      "STANDARD",
	VerbosityBinaryOutputs: "BINARY_OUTPUTS",
	VerbosityAll:           "ALL",
}

func (v Verbosity) String() string {
	if v >= 0 && int(v) < len(verbosityNames) {
		return verbosityNames[v]
	}
	return fmt.Sprintf("Verbosity(%d)", int(v))
}

// ParseVerbosity parses a verbosity name.
func ParseVerbosity(name string) (Verbosity, error) {
	for index, candidate := range verbosityNames {
		if candidate == name {
			return Verbosity(index), nil
		}
	}
	return 0, fmt.Errorf("unknown verbosity %q", name)
}

// Level maps the verbosity onto the minimum slog level forwarded to the
// orchestrator.
func (v Verbosity) Level() slog.Level {
	switch {
	case v >= VerbosityAll:
		return slog.LevelDebug
	case v >= VerbosityStandard:
		return slog.LevelInfo
	case v == VerbosityCompact:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

// ParsedEnvVars is the immutable configuration of a worker process,
// read once from its environment at startup.
type ParsedEnvVars struct {
	Verbosity    Verbosity
	AnsiEnabled  bool
	BuildUUID    string
	ActionID     downward.ActionID
	EventPipe    string
	RuleCellRoot string
}

// MissingEnvVarError reports a required variable that is unset or
// empty.
type MissingEnvVarError struct {
	Name string
}

func (e *MissingEnvVarError) Error() string {
	return "missing env var: " + e.Name
}

// ParseEnv reads every variable of the worker contract through lookup
// (os.LookupEnv in production). All six are required.
func ParseEnv(lookup func(string) (string, bool)) (ParsedEnvVars, error) {
	values := make(map[string]string, 6)
	for _, name := range []string{EnvVerbosity, EnvAnsiEnabled, EnvBuildUUID, EnvActionID, EnvEventPipe, EnvRuleCellRoot} {
		value, ok := lookup(name)
		if !ok || value == "" {
			return ParsedEnvVars{}, &MissingEnvVarError{Name: name}
		}
		values[name] = value
	}

	verbosity, err := ParseVerbosity(values[EnvVerbosity])
	if err != nil {
		return ParsedEnvVars{}, fmt.Errorf("%s: %w", EnvVerbosity, err)
	}
	ansi, err := strconv.ParseBool(values[EnvAnsiEnabled])
	if err != nil {
		return ParsedEnvVars{}, fmt.Errorf("%s: %w", EnvAnsiEnabled, err)
	}
	cellRoot := values[EnvRuleCellRoot]
	if !filepath.IsAbs(cellRoot) {
		return ParsedEnvVars{}, fmt.Errorf("%s: %q is not an absolute path", EnvRuleCellRoot, cellRoot)
	}

	return ParsedEnvVars{
		Verbosity:    verbosity,
		AnsiEnabled:  ansi,
		BuildUUID:    values[EnvBuildUUID],
		ActionID:     downward.ActionID(values[EnvActionID]),
		EventPipe:    values[EnvEventPipe],
		RuleCellRoot: filepath.Clean(cellRoot),
	}, nil
}

// Environ renders the variables as KEY=value entries for a child
// process environment.
func (v ParsedEnvVars) Environ() []string {
	return []string{
		EnvVerbosity + "=" + v.Verbosity.String(),
		EnvAnsiEnabled + "=" + strconv.FormatBool(v.AnsiEnabled),
		EnvBuildUUID + "=" + v.BuildUUID,
		EnvActionID + "=" + string(v.ActionID),
		EnvEventPipe + "=" + v.EventPipe,
		EnvRuleCellRoot + "=" + v.RuleCellRoot,
	}
}

// ParseArgs validates the worker's positional arguments: exactly an
// action name and the path of its step command file.
func ParseArgs(args []string) (actionName, commandPath string, err error) {
	if len(args) != 2 {
		return "", "", fmt.Errorf("expected 2 arguments (<action-name> <command-file>), got %d", len(args))
	}
	if args[0] == "" || args[1] == "" {
		return "", "", fmt.Errorf("action name and command file must be non-empty")
	}
	return args[0], args[1], nil
}
