// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package compress

import "io"

func storeWriter(w io.Writer) io.WriteCloser { return writeCloseHook{Writer: w} }

func storeReader(r io.Reader) io.ReadCloser { return readCloseHook{Reader: r} }
