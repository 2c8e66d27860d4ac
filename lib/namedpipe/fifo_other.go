// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !unix

package namedpipe

import "runtime"

func newFIFOFactory(string) Factory {
	return unsupportedFactory{goos: runtime.GOOS}
}
