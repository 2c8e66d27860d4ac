// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/buildexec/lib/downward"
	"github.com/bureau-foundation/buildexec/lib/external"
	"github.com/bureau-foundation/buildexec/lib/process"
	"github.com/bureau-foundation/buildexec/lib/version"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		process.Fatal(err)
	}
}

func run(args []string) error {
	var (
		showVersion  bool
		encodingName string
	)
	flags := pflag.NewFlagSet("bureau-external-action", pflag.ContinueOnError)
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.StringVar(&encodingName, "encoding", "binary", "event payload encoding (binary or text)")
	flags.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bureau-external-action [flags] <action-name> <command-file>\n\nFlags:\n%s", flags.FlagUsages())
	}
	if err := flags.Parse(args); err != nil {
		return err
	}
	if showVersion {
		version.Print("bureau-external-action")
		return nil
	}

	encoding, err := downward.ParseEncoding(encodingName)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return external.Run(ctx, external.Options{
		Args:     flags.Args(),
		Encoding: encoding,
	})
}
