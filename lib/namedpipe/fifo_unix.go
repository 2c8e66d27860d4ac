// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build unix

package namedpipe

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sys/unix"
)

type fifoFactory struct {
	directory string
}

func newFIFOFactory(directory string) Factory {
	return &fifoFactory{directory: directory}
}

func (f *fifoFactory) CreateAsReader() (Reader, error) {
	pipe, err := f.create()
	if err != nil {
		return nil, err
	}
	return pipe, nil
}

func (f *fifoFactory) CreateAsWriter() (Writer, error) {
	pipe, err := f.create()
	if err != nil {
		return nil, err
	}
	return pipe, nil
}

func (f *fifoFactory) ConnectAsReader(path string) (Reader, error) {
	pipe, err := connect(path, os.O_RDONLY)
	if err != nil {
		return nil, err
	}
	return pipe, nil
}

func (f *fifoFactory) ConnectAsWriter(path string) (Writer, error) {
	pipe, err := connect(path, os.O_WRONLY)
	if err != nil {
		return nil, err
	}
	return pipe, nil
}

// create makes a fresh FIFO and opens it read-write. A read-write
// descriptor never blocks in open(2) and keeps the pipe from reporting
// end-of-stream between writer connections.
func (f *fifoFactory) create() (*fifo, error) {
	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return nil, fmt.Errorf("generating pipe name: %w", err)
	}
	path := filepath.Join(f.directory, "bureau-pipe-"+hex.EncodeToString(suffix[:]))

	if err := unix.Mkfifo(path, 0o600); err != nil {
		return nil, fmt.Errorf("creating named pipe %s: %w", path, err)
	}
	file, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK, 0)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("opening named pipe %s: %w", path, err)
	}
	return &fifo{file: file, path: path, role: RoleServer}, nil
}

// connect opens the client end of an existing FIFO. O_NONBLOCK makes a
// writer fail with ENXIO instead of hanging when nobody holds the
// server end.
func connect(path string, flag int) (*fifo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("connecting to named pipe: %w", err)
	}
	if info.Mode()&os.ModeNamedPipe == 0 {
		return nil, fmt.Errorf("connecting to named pipe: %s is not a named pipe", path)
	}
	file, err := os.OpenFile(path, flag|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("connecting to named pipe: %w", err)
	}
	return &fifo{file: file, path: path, role: RoleClient}, nil
}

type fifo struct {
	file *os.File
	path string
	role Role

	closeOnce sync.Once
	closeErr  error
}

func (p *fifo) Name() string { return p.path }

func (p *fifo) Role() Role { return p.role }

func (p *fifo) Read(data []byte) (int, error) { return p.file.Read(data) }

func (p *fifo) Write(data []byte) (int, error) { return p.file.Write(data) }

func (p *fifo) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.file.Close()
		if p.role == RoleServer {
			if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) && p.closeErr == nil {
				p.closeErr = fmt.Errorf("removing named pipe %s: %w", p.path, err)
			}
		}
	})
	return p.closeErr
}

func (p *fifo) String() string {
	return fmt.Sprintf("fifo(%s, %s)", p.path, p.role)
}
