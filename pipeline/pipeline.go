// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pipeline composes compression and encryption in the mandatory
// order spec.md §4.5 requires: plaintext → compressor → encryptor on
// encode, and the reverse on decode. The package deliberately exposes no
// way to reverse that order; there is exactly one Config shape, and it is
// always wired compress-then-encrypt.
package pipeline

import (
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
)

// Config describes one entry's or solid block's pipeline. Cipher ==
// cryptkit.CipherNone disables encryption entirely (Key and RNG are then
// ignored).
type Config struct {
	Compression compress.Scheme
	Level       int // normalized by EncodeWriter via compress.NormalizeLevel

	Cipher cryptkit.CipherKind
	Key    []byte
	RNG    io.Reader // IV source; defaults to crypto/rand.Reader if nil
}

// EncodeWriter returns a WriteCloser: writes to it are compressed then
// encrypted then forwarded to sink. Close must be called to flush both
// stages (compressor first, so any final block reaches the encryptor
// before its own Close pads/finalizes).
func EncodeWriter(sink io.Writer, cfg Config) (io.WriteCloser, error) {
	var encSink io.Writer = sink
	var encCloser io.Closer = noopCloser{}

	if cfg.Cipher != cryptkit.CipherNone {
		rng := cfg.RNG
		if rng == nil {
			rng = defaultRNG()
		}
		ew, err := cryptkit.EncryptWriter(sink, cfg.Cipher, cfg.Key, rng)
		if err != nil {
			return nil, err
		}
		encSink = ew
		encCloser = ew
	}

	level, err := compress.NormalizeLevel(cfg.Compression, cfg.Level)
	if err != nil {
		return nil, err
	}
	compW, err := compress.NewWriter(cfg.Compression, encSink, level)
	if err != nil {
		return nil, err
	}

	return &stagedWriteCloser{compW, encCloser}, nil
}

// DecodeReader returns a ReadCloser: reads from it decrypt then
// decompress bytes read from src.
func DecodeReader(src io.Reader, cfg Config) (io.ReadCloser, error) {
	decSrc := src
	if cfg.Cipher != cryptkit.CipherNone {
		dr, err := cryptkit.DecryptReader(src, cfg.Cipher, cfg.Key)
		if err != nil {
			return nil, err
		}
		decSrc = dr
	}
	return compress.NewReader(cfg.Compression, decSrc)
}

type noopCloser struct{}

func (noopCloser) Close() error { return nil }

type stagedWriteCloser struct {
	inner io.WriteCloser
	outer io.Closer
}

func (s *stagedWriteCloser) Write(p []byte) (int, error) { return s.inner.Write(p) }

func (s *stagedWriteCloser) Close() error {
	if err := s.inner.Close(); err != nil {
		return err
	}
	return s.outer.Close()
}
