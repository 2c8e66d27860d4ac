// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type mkdirStep struct {
	path        string
	description string
}

func (s *mkdirStep) Type() string { return "mkdir" }
func (s *mkdirStep) Description() string { return describe(s.description, "mkdir", s.path) }

func (s *mkdirStep) Execute(_ context.Context, stepContext *Context) error {
	target, err := stepContext.Resolve(s.path)
	if err != nil {
		return err
	}
	return os.MkdirAll(target, 0o755)
}

type writeFileStep struct {
	path        string
	content     string
	description string
}

func (s *writeFileStep) Type() string { return "write_file" }
func (s *writeFileStep) Description() string { return describe(s.description, "write", s.path) }

func (s *writeFileStep) Execute(_ context.Context, stepContext *Context) error {
	target, err := stepContext.Resolve(s.path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	return os.WriteFile(target, []byte(s.content), 0o644)
}

type copyStep struct {
	source      string
	destination string
	description string
}

func (s *copyStep) Type() string { return "copy" }
func (s *copyStep) Description() string {
	return describe(s.description, "copy", s.source, s.destination)
}

func (s *copyStep) Execute(_ context.Context, stepContext *Context) error {
	return transform(stepContext, s.source, s.destination, func(destination io.Writer, source io.Reader) error {
		_, err := io.Copy(destination, source)
		return err
	})
}

type removeStep struct {
	path        string
	recursive   bool
	description string
}

func (s *removeStep) Type() string { return "remove" }
func (s *removeStep) Description() string { return describe(s.description, "remove", s.path) }

func (s *removeStep) Execute(_ context.Context, stepContext *Context) error {
	target, err := stepContext.Resolve(s.path)
	if err != nil {
		return err
	}
	if target == filepath.Clean(stepContext.CellRoot) {
		return fmt.Errorf("refusing to remove the rule cell root")
	}
	if s.recursive {
		return os.RemoveAll(target)
	}
	if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// transform streams source through apply into destination. The
// destination is written to a temporary file in the same directory and
// renamed into place only after apply succeeds, so a failed step never
// leaves a truncated output behind.
func transform(stepContext *Context, source, destination string, apply func(io.Writer, io.Reader) error) error {
	sourcePath, err := stepContext.Resolve(source)
	if err != nil {
		return err
	}
	destinationPath, err := stepContext.Resolve(destination)
	if err != nil {
		return err
	}

	input, err := os.Open(sourcePath)
	if err != nil {
		return err
	}
	defer input.Close()

	if err := os.MkdirAll(filepath.Dir(destinationPath), 0o755); err != nil {
		return err
	}
	output, err := os.CreateTemp(filepath.Dir(destinationPath), ".step-*")
	if err != nil {
		return err
	}
	temporary := output.Name()
	defer os.Remove(temporary)

	if err := apply(output, input); err != nil {
		output.Close()
		return err
	}
	if err := output.Close(); err != nil {
		return err
	}
	if err := os.Chmod(temporary, 0o644); err != nil {
		return err
	}
	return os.Rename(temporary, destinationPath)
}
