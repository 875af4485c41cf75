// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package compress

import (
	"io"

	"github.com/ulikunitz/xz"
)

// xzDictCapByLevel approximates the classic xz CLI's -0..-9 dictionary
// size presets; ulikunitz/xz has no built-in numeric "level" concept, so
// dictionary capacity is the one knob that meaningfully scales with it.
var xzDictCapByLevel = [10]int{
	0: 256 << 10,
	1: 1 << 20,
	2: 2 << 20,
	3: 4 << 20,
	4: 4 << 20,
	5: 8 << 20,
	6: 8 << 20,
	7: 16 << 20,
	8: 32 << 20,
	9: 64 << 20,
}

func xzWriter(w io.Writer, level int) (io.WriteCloser, error) {
	cfg := xz.WriterConfig{DictCap: xzDictCapByLevel[level]}
	if err := cfg.Verify(); err != nil {
		return nil, err
	}
	return cfg.NewWriter(w)
}

// xzReadCloser adapts *xz.Reader, which has no Close method, to
// io.ReadCloser.
type xzReadCloser struct {
	io.Reader
}

func (xzReadCloser) Close() error { return nil }

func xzReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := xz.NewReader(r)
	if err != nil {
		return nil, err
	}
	return xzReadCloser{dec}, nil
}
