// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package compress

import "io"

// writeCloseHook and readCloseHook adapt a plain io.Writer/io.Reader into
// an io.WriteCloser/io.ReadCloser, running an optional hook on Close. This
// is the same small adapter the teacher archive format used to paper over
// compressors that don't need a Close (store) and ones that do (deflate).
type writeCloseHook struct {
	io.Writer
	clsFn func() error
}

func (c writeCloseHook) Close() error {
	if c.clsFn != nil {
		return c.clsFn()
	}
	return nil
}

type readCloseHook struct {
	io.Reader
	clsFn func() error
}

func (c readCloseHook) Close() error {
	if c.clsFn != nil {
		return c.clsFn()
	}
	return nil
}
