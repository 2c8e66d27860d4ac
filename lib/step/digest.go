// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package step

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"
)

// digestDomainKey separates output digests from every other BLAKE3 use.
// The bytes are the ASCII domain name, zero-padded to 32 bytes.
var digestDomainKey = [32]byte{
	'b', 'u', 'r', 'e', 'a', 'u', '.', 'b', 'u', 'i', 'l', 'd', 'e', 'x', 'e', 'c',
	'.', 'd', 'i', 'g', 'e', 's', 't', 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// digestStep writes the keyed BLAKE3 digest of its inputs, as lowercase
// hex followed by a newline, to destination.
type digestStep struct {
	inputs      []string
	destination string
	description string
}

func (s *digestStep) Type() string { return "digest" }

func (s *digestStep) Description() string {
	return describe(s.description, "digest", s.inputs[0], s.destination)
}

func (s *digestStep) Execute(ctx context.Context, stepContext *Context) error {
	sum, err := DigestFiles(ctx, stepContext, s.inputs)
	if err != nil {
		return err
	}
	destination, err := stepContext.Resolve(s.destination)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destination, []byte(sum+"\n"), 0o644)
}

// DigestFiles returns the hex keyed BLAKE3 digest over the contents of
// paths in order. Each file is prefixed by its length so that moving
// bytes between adjacent files changes the digest.
func DigestFiles(ctx context.Context, stepContext *Context, paths []string) (string, error) {
	hasher, err := blake3.NewKeyed(digestDomainKey[:])
	if err != nil {
		panic("step: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	for _, path := range paths {
		resolved, err := stepContext.Resolve(path)
		if err != nil {
			return "", err
		}
		if err := hashFile(ctx, hasher, resolved); err != nil {
			return "", fmt.Errorf("digest %s: %w", path, err)
		}
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func hashFile(ctx context.Context, hasher *blake3.Hasher, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("is a directory")
	}

	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(info.Size()))
	hasher.Write(length[:])
	written, err := io.Copy(hasher, contextReader{ctx: ctx, reader: file})
	if err != nil {
		return err
	}
	if written != info.Size() {
		return fmt.Errorf("file changed size while hashing (%d bytes read, %d expected)", written, info.Size())
	}
	return nil
}
