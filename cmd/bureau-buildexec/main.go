// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildexec/lib/cli"
	"github.com/bureau-foundation/buildexec/lib/plan"
	"github.com/bureau-foundation/buildexec/lib/process"
	"github.com/bureau-foundation/buildexec/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	if len(args) > 0 && args[0] == "--version" {
		version.Print("bureau-buildexec")
		return nil
	}
	return rootCommand().Execute(args)
}

func rootCommand() *cli.Command {
	return &cli.Command{
		Name:        "bureau-buildexec",
		Description: "Execute a build plan on a warm worker tool.",
		Output:      os.Stderr,
		Subcommands: []*cli.Command{
			runCommand(),
			validateCommand(),
			idsCommand(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func([]string) error {
					version.Print("bureau-buildexec")
					return nil
				},
			},
		},
	}
}

func runCommand() *cli.Command {
	var (
		sequential bool
		isolated   bool
		buildUUID  string
		logLevel   string
		color      string
	)
	return &cli.Command{
		Name:    "run",
		Summary: "Run every rule of a plan",
		Usage:   "bureau-buildexec run [flags] <plan.yaml>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("run", pflag.ContinueOnError)
			flags.BoolVar(&sequential, "sequential", false, "send each rule as its own execute command instead of one pipelined batch")
			flags.BoolVar(&isolated, "isolated", false, "run each rule in its own external action process instead of a shared worker")
			flags.StringVar(&buildUUID, "build-uuid", "", "build UUID passed to the worker (default: random)")
			flags.StringVar(&logLevel, "log-level", "info", "orchestrator log level (debug, info, warn, error)")
			flags.StringVar(&color, "color", "auto", "color the summary and worker diagnostics (auto, always, never)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("run takes exactly one plan file, got %d arguments", len(args))
			}
			buildPlan, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			var level slog.Level
			if err := level.UnmarshalText([]byte(logLevel)); err != nil {
				return fmt.Errorf("--log-level: %w", err)
			}
			ansi, err := colorEnabled(color)
			if err != nil {
				return err
			}
			if buildUUID == "" {
				buildUUID = uuid.NewString()
			}
			if sequential {
				buildPlan.Pipelined = false
			}
			if isolated {
				buildPlan.Isolated = true
				if err := buildPlan.Validate(); err != nil {
					return err
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			outcomes, buildErr := build(ctx, buildOptions{
				plan:      buildPlan,
				buildUUID: buildUUID,
				ansi:      ansi,
				logger:    cli.NewLogger(level).With("build_uuid", buildUUID),
			})
			printSummary(os.Stdout, ansi, outcomes)
			if buildErr != nil {
				if len(outcomes) == 0 {
					return buildErr
				}
				return &process.ExitError{Code: process.ExitFailure}
			}
			return nil
		},
	}
}

func validateCommand() *cli.Command {
	return &cli.Command{
		Name:    "validate",
		Summary: "Check a plan without running it",
		Usage:   "bureau-buildexec validate <plan.yaml>",
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("validate takes exactly one plan file, got %d arguments", len(args))
			}
			buildPlan, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			if _, err := buildPlan.ExecutorCommand(); err != nil {
				return fmt.Errorf("executor: %w", err)
			}
			fmt.Printf("%s: %d rules, ok\n", args[0], len(buildPlan.Rules))
			return nil
		},
	}
}

func idsCommand() *cli.Command {
	var buildUUID string
	return &cli.Command{
		Name:    "ids",
		Summary: "Print the ActionID of every rule",
		Usage:   "bureau-buildexec ids --build-uuid <uuid> <plan.yaml>",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("ids", pflag.ContinueOnError)
			flags.StringVar(&buildUUID, "build-uuid", "", "build UUID the ids are derived for (required)")
			return flags
		},
		Run: func(args []string) error {
			if len(args) != 1 {
				return fmt.Errorf("ids takes exactly one plan file, got %d arguments", len(args))
			}
			if buildUUID == "" {
				return fmt.Errorf("--build-uuid is required")
			}
			buildPlan, err := plan.LoadFile(args[0])
			if err != nil {
				return err
			}
			for index, id := range buildPlan.ActionIDs(buildUUID) {
				fmt.Printf("%s\t%s\n", id, buildPlan.Rules[index].Name)
			}
			return nil
		},
	}
}

func colorEnabled(mode string) (bool, error) {
	switch mode {
	case "auto":
		return cli.StderrIsTerminal(), nil
	case "always":
		return true, nil
	case "never":
		return false, nil
	default:
		return false, fmt.Errorf("--color must be auto, always, or never, got %q", mode)
	}
}
