// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tidwall/jsonc"
)

// Spec is the serialized form of one step. Which fields apply depends
// on Type; Build rejects a Spec missing a field its type requires.
type Spec struct {
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`

	// Path is the target of mkdir, write_file, and remove.
	Path string `json:"path,omitempty"`

	// Source and Destination are the input and output of copy, zstd,
	// lz4, and digest. Digest writes its hex digest to Destination.
	Source      string `json:"source,omitempty"`
	Destination string `json:"destination,omitempty"`

	// Content is the file body written by write_file.
	Content string `json:"content,omitempty"`

	// Command and Env describe the subprocess of a run step. Env is
	// merged over the worker's environment.
	Command []string          `json:"command,omitempty"`
	Env     map[string]string `json:"env,omitempty"`

	// Decompress reverses a zstd or lz4 step.
	Decompress bool `json:"decompress,omitempty"`

	// Recursive lets remove delete a non-empty directory.
	Recursive bool `json:"recursive,omitempty"`

	// Inputs lists additional files hashed by digest after Source.
	Inputs []string `json:"inputs,omitempty"`
}

// Build constructs the Step described by spec.
func Build(spec Spec) (Step, error) {
	require := func(field, value string) error {
		if value == "" {
			return fmt.Errorf("%s step requires %q", spec.Type, field)
		}
		return nil
	}

	switch spec.Type {
	case "mkdir":
		if err := require("path", spec.Path); err != nil {
			return nil, err
		}
		return &mkdirStep{path: spec.Path, description: spec.Description}, nil

	case "write_file":
		if err := require("path", spec.Path); err != nil {
			return nil, err
		}
		return &writeFileStep{path: spec.Path, content: spec.Content, description: spec.Description}, nil

	case "copy":
		if err := require("source", spec.Source); err != nil {
			return nil, err
		}
		if err := require("destination", spec.Destination); err != nil {
			return nil, err
		}
		return &copyStep{source: spec.Source, destination: spec.Destination, description: spec.Description}, nil

	case "remove":
		if err := require("path", spec.Path); err != nil {
			return nil, err
		}
		return &removeStep{path: spec.Path, recursive: spec.Recursive, description: spec.Description}, nil

	case "run":
		if len(spec.Command) == 0 || spec.Command[0] == "" {
			return nil, fmt.Errorf("run step requires a non-empty \"command\"")
		}
		return &runStep{command: spec.Command, env: spec.Env, description: spec.Description}, nil

	case "zstd", "lz4":
		if err := require("source", spec.Source); err != nil {
			return nil, err
		}
		if err := require("destination", spec.Destination); err != nil {
			return nil, err
		}
		return &compressStep{
			algorithm:   spec.Type,
			source:      spec.Source,
			destination: spec.Destination,
			decompress:  spec.Decompress,
			description: spec.Description,
		}, nil

	case "digest":
		if err := require("source", spec.Source); err != nil {
			return nil, err
		}
		if err := require("destination", spec.Destination); err != nil {
			return nil, err
		}
		inputs := append([]string{spec.Source}, spec.Inputs...)
		return &digestStep{inputs: inputs, destination: spec.Destination, description: spec.Description}, nil

	case "":
		return nil, fmt.Errorf("step has no type")

	default:
		return nil, fmt.Errorf("unknown step type %q", spec.Type)
	}
}

// BuildAll builds every spec, reporting the index of the first invalid
// one.
func BuildAll(specs []Spec) ([]Step, error) {
	steps := make([]Step, 0, len(specs))
	for index, spec := range specs {
		built, err := Build(spec)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", index, err)
		}
		steps = append(steps, built)
	}
	return steps, nil
}

// describe returns the explicit description or a generated one.
func describe(explicit string, parts ...string) string {
	if explicit != "" {
		return explicit
	}
	return strings.Join(parts, " ")
}

// Command is the serialized form of one action: which external action
// runs it and the steps it executes.
type Command struct {
	// Action names the registered external action. Empty selects the
	// default isolated-steps action.
	Action string `json:"action,omitempty"`

	Steps []Spec `json:"steps"`
}

// ParseCommand strips JSONC comments and trailing commas from data and
// decodes the resulting Command.
func ParseCommand(data []byte) (*Command, error) {
	var command Command
	if err := json.Unmarshal(jsonc.ToJSON(data), &command); err != nil {
		return nil, fmt.Errorf("parsing step command: %w", err)
	}
	return &command, nil
}

// ReadCommandFile reads and parses a JSONC step command file.
func ReadCommandFile(path string) (*Command, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	command, err := ParseCommand(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return command, nil
}

// WriteCommandFile writes command to path as indented JSON, the form
// the orchestrator hands to a spawned external action.
func WriteCommandFile(path string, command *Command) error {
	data, err := json.MarshalIndent(command, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding step command: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
