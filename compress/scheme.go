// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package compress implements PNA's compression kit (spec.md §4.4): store
// (identity), deflate, zstd, and xz, each exposed through one streaming
// encoder/decoder interface with a normalized level.
package compress

import (
	"io"

	"github.com/luci/luci-go/common/errors"
)

// Scheme identifies a compression algorithm, as recorded in an entry's
// FHED or a solid block's aSLD.
type Scheme byte

const (
	SchemeStore Scheme = iota
	SchemeDeflate
	SchemeZstd
	SchemeXz
)

// ErrUnsupportedCompression is returned for a Scheme the registry doesn't
// recognize (spec.md §7).
var ErrUnsupportedCompression = errors.New("compress: unsupported compression scheme")

// Valid reports whether s is a recognized compression scheme.
func (s Scheme) Valid() error {
	switch s {
	case SchemeStore, SchemeDeflate, SchemeZstd, SchemeXz:
		return nil
	}
	return errors.Annotate(ErrUnsupportedCompression).Reason("scheme %(s)d").D("s", byte(s)).Err()
}

// Level sentinels accepted in place of a numeric level, per spec.md §4.4
// ("the tokens min/max and maps to algorithm minima/maxima").
const (
	LevelMin = -1
	LevelMax = -2
)

// levelRange returns [min, max] for s's native level scale.
func levelRange(s Scheme) (min, max int) {
	switch s {
	case SchemeDeflate:
		return 1, 9
	case SchemeZstd:
		return 1, 21
	case SchemeXz:
		return 0, 9
	default:
		return 0, 0
	}
}

// NormalizeLevel maps LevelMin/LevelMax to s's concrete minimum/maximum
// and validates an explicit numeric level against that range. SchemeStore
// ignores level entirely.
func NormalizeLevel(s Scheme, level int) (int, error) {
	if s == SchemeStore {
		return 0, nil
	}
	lo, hi := levelRange(s)
	switch level {
	case LevelMin:
		return lo, nil
	case LevelMax:
		return hi, nil
	}
	if level < lo || level > hi {
		return 0, errors.Reason("compress: level %(level)d out of range [%(lo)d, %(hi)d] for scheme %(s)d").
			D("level", level).D("lo", lo).D("hi", hi).D("s", byte(s)).Err()
	}
	return level, nil
}

// NewWriter returns a streaming compressor for s writing to w, using the
// given level (already normalized by NormalizeLevel). The returned
// WriteCloser must be closed to flush trailing compressor state.
func NewWriter(s Scheme, w io.Writer, level int) (io.WriteCloser, error) {
	switch s {
	case SchemeStore:
		return storeWriter(w), nil
	case SchemeDeflate:
		return deflateWriter(w, level)
	case SchemeZstd:
		return zstdWriter(w, level)
	case SchemeXz:
		return xzWriter(w, level)
	}
	return nil, ErrUnsupportedCompression
}

// NewReader returns a streaming decompressor for s reading from r.
func NewReader(s Scheme, r io.Reader) (io.ReadCloser, error) {
	switch s {
	case SchemeStore:
		return storeReader(r), nil
	case SchemeDeflate:
		return deflateReader(r)
	case SchemeZstd:
		return zstdReader(r)
	case SchemeXz:
		return xzReader(r)
	}
	return nil, ErrUnsupportedCompression
}
