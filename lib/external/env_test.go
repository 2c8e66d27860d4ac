// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package external

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func validEnv() map[string]string {
	return map[string]string{
		EnvVerbosity:    "STANDARD",
		EnvAnsiEnabled:  "false",
		EnvBuildUUID:    "1234",
		EnvActionID:     "a1",
		EnvEventPipe:    "/tmp/p1",
		EnvRuleCellRoot: "/repo",
	}
}

func lookupIn(values map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		value, ok := values[name]
		return value, ok
	}
}

func TestParseEnv(t *testing.T) {
	env, err := ParseEnv(lookupIn(validEnv()))
	if err != nil {
		t.Fatalf("ParseEnv: %v", err)
	}
	want := ParsedEnvVars{
		Verbosity:    VerbosityStandard,
		AnsiEnabled:  false,
		BuildUUID:    "1234",
		ActionID:     "a1",
		EventPipe:    "/tmp/p1",
		RuleCellRoot: "/repo",
	}
	if env != want {
		t.Errorf("ParseEnv = %+v, want %+v", env, want)
	}

	reparsed, err := ParseEnv(lookupIn(environMap(env.Environ())))
	if err != nil || reparsed != env {
		t.Errorf("Environ did not reproduce the configuration: %+v, %v", reparsed, err)
	}
}

func environMap(entries []string) map[string]string {
	values := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, _ := strings.Cut(entry, "=")
		values[key] = value
	}
	return values
}

func TestParseEnvReportsEachMissingVariable(t *testing.T) {
	for name := range validEnv() {
		t.Run(name, func(t *testing.T) {
			values := validEnv()
			delete(values, name)
			_, err := ParseEnv(lookupIn(values))
			var missing *MissingEnvVarError
			if !errors.As(err, &missing) || missing.Name != name {
				t.Fatalf("err = %v, want MissingEnvVarError for %s", err, name)
			}
			if err.Error() != "missing env var: "+name {
				t.Errorf("message = %q", err.Error())
			}
		})
	}
}

func TestParseEnvRejectsMalformedValues(t *testing.T) {
	for name, value := range map[string]string{
		EnvVerbosity:    "LOUD",
		EnvAnsiEnabled:  "maybe",
		EnvRuleCellRoot: "relative/root",
		EnvEventPipe:    "",
	} {
		values := validEnv()
		values[name] = value
		if _, err := ParseEnv(lookupIn(values)); err == nil {
			t.Errorf("%s=%q accepted", name, value)
		}
	}
}

func TestVerbosityLevel(t *testing.T) {
	tests := map[Verbosity]slog.Level{
		VerbositySilent:        slog.LevelError,
		VerbosityCompact:       slog.LevelWarn,
		VerbosityStandard:      slog.LevelInfo,
		VerbosityBinaryOutputs: slog.LevelInfo,
		VerbosityAll:           slog.LevelDebug,
	}
	for verbosity, want := range tests {
		if got := verbosity.Level(); got != want {
			t.Errorf("%s.Level() = %s, want %s", verbosity, got, want)
		}
		parsed, err := ParseVerbosity(verbosity.String())
		if err != nil || parsed != verbosity {
			t.Errorf("ParseVerbosity(%s) = %v, %v", verbosity, parsed, err)
		}
	}
}

func TestParseArgs(t *testing.T) {
	name, path, err := ParseArgs([]string{"isolated-steps", "/tmp/command.json"})
	if err != nil || name != "isolated-steps" || path != "/tmp/command.json" {
		t.Errorf("ParseArgs = %q, %q, %v", name, path, err)
	}
	for _, args := range [][]string{nil, {"only-one"}, {"a", "b", "c"}, {"", "b"}} {
		if _, _, err := ParseArgs(args); err == nil {
			t.Errorf("ParseArgs(%q) succeeded", args)
		}
	}
}

func TestMergeEnvOverridesContractVariables(t *testing.T) {
	merged := MergeEnv(
		[]string{"PATH=/bin", EnvActionID + "=stale", "HOME=/home/builder"},
		[]string{EnvActionID + "=fresh", EnvEventPipe + "=/tmp/p"},
		slog.New(slog.DiscardHandler),
	)
	values := environMap(merged)
	if values[EnvActionID] != "fresh" || values[EnvEventPipe] != "/tmp/p" || values["PATH"] != "/bin" {
		t.Errorf("merged = %v", merged)
	}
	if len(merged) != 4 {
		t.Errorf("merged has %d entries, want 4", len(merged))
	}
}
