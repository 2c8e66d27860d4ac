// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plan

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/step"
)

// DefaultWorkerBinary is started when a plan names no worker command.
const DefaultWorkerBinary = "bureau-worker-tool"

// DefaultExternalActionBinary runs each rule of an isolated plan.
const DefaultExternalActionBinary = "bureau-external-action"

// Plan is a parsed build plan.
type Plan struct {
	// CellRoot is the directory rules execute in. A relative path is
	// resolved against the plan file's directory.
	CellRoot string `yaml:"cell_root"`

	// Verbosity is passed to the worker (SILENT, COMPACT, STANDARD,
	// BINARY_OUTPUTS, ALL).
	Verbosity string `yaml:"verbosity"`

	// Pipelined sends every rule as one pipelined batch and releases
	// each rule with start_next. Otherwise each rule is a separate
	// execute command.
	Pipelined bool `yaml:"pipelined"`

	// Isolated runs every rule in its own external action process
	// (Worker.ExternalAction) instead of on a shared worker tool.
	// Pipelined has no effect then.
	Isolated bool `yaml:"isolated"`

	Worker WorkerConfig `yaml:"worker"`

	Rules []Rule `yaml:"rules"`
}

// WorkerConfig describes the worker tool process.
type WorkerConfig struct {
	// Command is the worker executable and its arguments. A bare
	// executable name is looked up in Bin, then PATH.
	Command []string `yaml:"command"`

	// ExternalAction is the per-rule executable of an isolated plan.
	// The action name and command file are appended to it.
	ExternalAction []string `yaml:"external_action"`

	// Bin is a directory searched for both executables before PATH.
	Bin string `yaml:"bin"`

	// Env is added to the environment of every worker and external
	// action process, over the orchestrator's.
	Env map[string]string `yaml:"env"`

	// CloseTimeout bounds how long the worker gets to exit after the
	// shutdown command. Go duration syntax.
	CloseTimeout string `yaml:"close_timeout"`
}

// Rule is one build rule: an external action and its steps.
type Rule struct {
	Name string `yaml:"name"`

	// Action selects the external action. Empty means isolated-steps.
	Action string `yaml:"action"`

	Steps []step.Spec `yaml:"steps"`
}

// Command returns the step command the worker executes for the rule.
func (r Rule) Command() step.Command {
	return step.Command{Action: r.Action, Steps: r.Steps}
}

// Default returns a plan with every optional field filled. Loading
// decodes the file over these values.
func Default() *Plan {
	return &Plan{
		CellRoot:  ".",
		Verbosity: external.VerbosityStandard.String(),
		Pipelined: true,
		Worker: WorkerConfig{
			Command:        []string{DefaultWorkerBinary},
			ExternalAction: []string{DefaultExternalActionBinary},
			CloseTimeout:   "5s",
		},
	}
}

// LoadFile reads, expands, and validates the plan at path.
func LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	return Parse(data, filepath.Dir(absolute))
}

// Parse decodes a plan whose relative paths are anchored at dir, then
// expands variables and validates it. Unknown fields are errors.
func Parse(data []byte, dir string) (*Plan, error) {
	plan := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(plan); err != nil {
		return nil, fmt.Errorf("parsing plan: %w", err)
	}

	plan.expandVariables(dir)
	if !filepath.IsAbs(plan.CellRoot) {
		plan.CellRoot = filepath.Join(dir, plan.CellRoot)
	}
	if plan.Worker.Bin != "" && !filepath.IsAbs(plan.Worker.Bin) {
		plan.Worker.Bin = filepath.Join(dir, plan.Worker.Bin)
	}

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns.
func (p *Plan) expandVariables(dir string) {
	vars := map[string]string{
		"PLAN_DIR": dir,
		"HOME":     os.Getenv("HOME"),
	}
	p.CellRoot = expandVars(p.CellRoot, vars)
	p.Worker.Bin = expandVars(p.Worker.Bin, vars)
	for index, argument := range p.Worker.Command {
		p.Worker.Command[index] = expandVars(argument, vars)
	}
	for index, argument := range p.Worker.ExternalAction {
		p.Worker.ExternalAction[index] = expandVars(argument, vars)
	}
	for name, value := range p.Worker.Env {
		p.Worker.Env[name] = expandVars(value, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, defaultValue := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate reports every problem in the plan at once.
func (p *Plan) Validate() error {
	var errs []error

	if p.CellRoot == "" {
		errs = append(errs, fmt.Errorf("cell_root is required"))
	}
	if _, err := external.ParseVerbosity(p.Verbosity); err != nil {
		errs = append(errs, fmt.Errorf("verbosity: %w", err))
	}
	if len(p.Worker.Command) == 0 || p.Worker.Command[0] == "" {
		errs = append(errs, fmt.Errorf("worker.command is required"))
	}
	if p.Isolated && (len(p.Worker.ExternalAction) == 0 || p.Worker.ExternalAction[0] == "") {
		errs = append(errs, fmt.Errorf("worker.external_action is required for an isolated plan"))
	}
	if timeout, err := time.ParseDuration(p.Worker.CloseTimeout); err != nil {
		errs = append(errs, fmt.Errorf("worker.close_timeout: %w", err))
	} else if timeout <= 0 {
		errs = append(errs, fmt.Errorf("worker.close_timeout must be positive"))
	}
	for name := range p.Worker.Env {
		if name == "" || strings.Contains(name, "=") {
			errs = append(errs, fmt.Errorf("worker.env: invalid variable name %q", name))
		}
	}

	if len(p.Rules) == 0 {
		errs = append(errs, fmt.Errorf("rules: at least one rule is required"))
	}
	seen := make(map[string]bool, len(p.Rules))
	for index, rule := range p.Rules {
		if rule.Name == "" {
			errs = append(errs, fmt.Errorf("rules[%d]: name is required", index))
		} else if seen[rule.Name] {
			errs = append(errs, fmt.Errorf("rules[%d]: duplicate rule %q", index, rule.Name))
		}
		seen[rule.Name] = true
		if _, err := step.BuildAll(rule.Steps); err != nil {
			errs = append(errs, fmt.Errorf("rules[%d] (%s): %w", index, rule.Name, err))
		}
	}

	return errors.Join(errs...)
}

// VerbosityLevel returns the parsed worker verbosity. Valid after
// Validate succeeds.
func (p *Plan) VerbosityLevel() external.Verbosity {
	verbosity, _ := external.ParseVerbosity(p.Verbosity)
	return verbosity
}

// CloseTimeoutDuration returns the parsed worker close timeout. Valid
// after Validate succeeds.
func (p *Plan) CloseTimeoutDuration() time.Duration {
	timeout, _ := time.ParseDuration(p.Worker.CloseTimeout)
	return timeout
}

// WorkerCommand returns the worker command with its executable
// resolved. Paths containing a separator are used as given; bare names
// are looked up in Worker.Bin first, then PATH.
func (p *Plan) WorkerCommand() ([]string, error) {
	return p.resolve("worker.command", p.Worker.Command)
}

// ExternalActionCommand resolves Worker.ExternalAction the way
// WorkerCommand resolves the worker.
func (p *Plan) ExternalActionCommand() ([]string, error) {
	return p.resolve("worker.external_action", p.Worker.ExternalAction)
}

// ExecutorCommand returns the command the plan's mode runs: the
// external action for an isolated plan, the worker tool otherwise.
func (p *Plan) ExecutorCommand() ([]string, error) {
	if p.Isolated {
		return p.ExternalActionCommand()
	}
	return p.WorkerCommand()
}

func (p *Plan) resolve(field string, configured []string) ([]string, error) {
	if len(configured) == 0 {
		return nil, fmt.Errorf("%s is empty", field)
	}
	command := append([]string(nil), configured...)
	name := command[0]
	if strings.ContainsRune(name, filepath.Separator) {
		return command, nil
	}

	if p.Worker.Bin != "" {
		candidate := filepath.Join(p.Worker.Bin, name)
		if _, err := os.Stat(candidate); err == nil {
			command[0] = candidate
			return command, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		if p.Worker.Bin != "" {
			return nil, fmt.Errorf("%s not found in %s or PATH", name, p.Worker.Bin)
		}
		return nil, fmt.Errorf("%s not found in PATH", name)
	}
	command[0] = path
	return command, nil
}

// WorkerEnv renders Worker.Env as sorted KEY=value entries.
func (p *Plan) WorkerEnv() []string {
	entries := make([]string, 0, len(p.Worker.Env))
	for name, value := range p.Worker.Env {
		entries = append(entries, name+"="+value)
	}
	slices.Sort(entries)
	return entries
}
