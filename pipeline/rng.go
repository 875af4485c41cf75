// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pipeline

import (
	"crypto/rand"
	"io"
)

// defaultRNG is the CSPRNG used when Config.RNG is unset, per spec.md §9
// ("sourced from a caller-supplied or default CSPRNG passed by
// parameter").
func defaultRNG() io.Reader { return rand.Reader }
