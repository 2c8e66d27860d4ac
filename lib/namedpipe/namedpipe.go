// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package namedpipe

import (
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"sync"
)

// ErrUnsupportedPlatform is returned by every method of the factory
// selected for a host OS without named pipe support.
var ErrUnsupportedPlatform = errors.New("named pipes are not supported on this platform")

// Role distinguishes the owner of a pipe from its peer.
type Role int

const (
	// RoleServer marks the side that created the pipe.
	RoleServer Role = iota + 1

	// RoleClient marks the side that connected to an existing pipe.
	RoleClient
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// NamedPipe is the behavior common to both directions.
type NamedPipe interface {
	// Name returns the path a peer uses to connect.
	Name() string

	// Role reports whether this end created the pipe.
	Role() Role

	// Close releases the descriptor. Closing a server pipe also removes
	// it from the filesystem. Pending I/O on the pipe fails.
	Close() error
}

// Reader is a pipe end exposing the input byte stream.
type Reader interface {
	NamedPipe
	io.Reader
}

// Writer is a pipe end exposing the output byte stream.
type Writer interface {
	NamedPipe
	io.Writer
}

// Factory creates and connects named pipes.
type Factory interface {
	// CreateAsReader creates a new pipe and holds its server role,
	// reading what the connecting peer writes.
	CreateAsReader() (Reader, error)

	// CreateAsWriter creates a new pipe and holds its server role,
	// writing to the connecting peer.
	CreateAsWriter() (Writer, error)

	// ConnectAsReader connects to an existing server pipe at path.
	ConnectAsReader(path string) (Reader, error)

	// ConnectAsWriter connects to an existing server pipe at path.
	ConnectAsWriter(path string) (Writer, error)
}

// ForPlatform returns the factory for the named GOOS, creating pipes in
// directory. An empty directory means os.TempDir().
func ForPlatform(goos, directory string) Factory {
	if directory == "" {
		directory = os.TempDir()
	}
	switch goos {
	case "windows", "plan9", "js", "wasip1":
		return unsupportedFactory{goos: goos}
	default:
		return newFIFOFactory(directory)
	}
}

var defaultFactory = sync.OnceValue(func() Factory {
	return ForPlatform(runtime.GOOS, "")
})

// Default returns the factory for the running host. The choice is made
// once per process.
func Default() Factory {
	return defaultFactory()
}

type unsupportedFactory struct {
	goos string
}

func (f unsupportedFactory) err() error {
	return fmt.Errorf("%s: %w", f.goos, ErrUnsupportedPlatform)
}

func (f unsupportedFactory) CreateAsReader() (Reader, error) { return nil, f.err() }
func (f unsupportedFactory) CreateAsWriter() (Writer, error) { return nil, f.err() }
func (f unsupportedFactory) ConnectAsReader(string) (Reader, error) { return nil, f.err() }
func (f unsupportedFactory) ConnectAsWriter(string) (Writer, error) { return nil, f.err() }
