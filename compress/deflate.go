// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package compress

import (
	"io"

	"github.com/klauspost/compress/flate"
)

func deflateWriter(w io.Writer, level int) (io.WriteCloser, error) {
	return flate.NewWriter(w, level)
}

func deflateReader(r io.Reader) (io.ReadCloser, error) {
	return flate.NewReader(r), nil
}
