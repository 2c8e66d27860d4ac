// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// compressStep compresses or decompresses a file with zstd or LZ4.
// Both use their streaming frame formats, so outputs interoperate with
// the zstd and lz4 command-line tools.
type compressStep struct {
	algorithm   string
	source      string
	destination string
	decompress  bool
	description string
}

func (s *compressStep) Type() string { return s.algorithm }

func (s *compressStep) Description() string {
	verb := s.algorithm
	if s.decompress {
		verb = s.algorithm + " -d"
	}
	return describe(s.description, verb, s.source, s.destination)
}

func (s *compressStep) Execute(ctx context.Context, stepContext *Context) error {
	var apply func(io.Writer, io.Reader) error
	switch {
	case s.algorithm == "zstd" && !s.decompress:
		apply = func(destination io.Writer, source io.Reader) error {
			return compressZstd(ctx, destination, source)
		}
	case s.algorithm == "zstd":
		apply = decompressZstd
	case s.algorithm == "lz4" && !s.decompress:
		apply = compressLZ4
	case s.algorithm == "lz4":
		apply = decompressLZ4
	default:
		return fmt.Errorf("unsupported compression algorithm %q", s.algorithm)
	}
	return transform(stepContext, s.source, s.destination, apply)
}

func compressZstd(ctx context.Context, destination io.Writer, source io.Reader) error {
	encoder, err := zstd.NewWriter(destination, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return fmt.Errorf("zstd encoder: %w", err)
	}
	if _, err := io.Copy(encoder, contextReader{ctx: ctx, reader: source}); err != nil {
		encoder.Close()
		return fmt.Errorf("zstd compress: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("zstd compress: %w", err)
	}
	return nil
}

func decompressZstd(destination io.Writer, source io.Reader) error {
	decoder, err := zstd.NewReader(source)
	if err != nil {
		return fmt.Errorf("zstd decoder: %w", err)
	}
	defer decoder.Close()
	if _, err := io.Copy(destination, decoder); err != nil {
		return fmt.Errorf("zstd decompress: %w", err)
	}
	return nil
}

func compressLZ4(destination io.Writer, source io.Reader) error {
	writer := lz4.NewWriter(destination)
	if _, err := io.Copy(writer, source); err != nil {
		writer.Close()
		return fmt.Errorf("lz4 compress: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("lz4 compress: %w", err)
	}
	return nil
}

func decompressLZ4(destination io.Writer, source io.Reader) error {
	if _, err := io.Copy(destination, lz4.NewReader(source)); err != nil {
		return fmt.Errorf("lz4 decompress: %w", err)
	}
	return nil
}

// contextReader fails reads once ctx is done, so that a canceled action
// stops a long compression at the next buffer boundary.
type contextReader struct {
	ctx    context.Context
	reader io.Reader
}

func (r contextReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.reader.Read(p)
}
