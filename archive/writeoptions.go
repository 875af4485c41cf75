// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
)

type writeOptionData struct {
	compression compress.Scheme
	level       int
	cipher      cryptkit.CipherKind

	kdfKind      cryptkit.KDFKind
	pbkdf2Rounds int
	argonTime    uint32
	argonMemory  uint32
	argonThreads uint8

	password       []byte
	maxVolumeBytes int64
	solid          bool
	chunkBodyCap   int
	rng            io.Reader
}

// WriteOption configures a Writer, mirroring WriteOptions (spec.md §6.4).
type WriteOption func(*writeOptionData)

// WithCompression sets the compression scheme and level (compress.LevelMin
// or compress.LevelMax may be used in place of a numeric level).
func WithCompression(scheme compress.Scheme, level int) WriteOption {
	return func(o *writeOptionData) { o.compression, o.level = scheme, level }
}

// WithEncryption selects the cipher. A non-none cipher requires a password
// (via WithPassword) or the Writer constructor fails.
func WithEncryption(cipher cryptkit.CipherKind) WriteOption {
	return func(o *writeOptionData) { o.cipher = cipher }
}

// WithKDFPBKDF2 selects PBKDF2-HMAC-SHA256 with the given round count (0
// uses cryptkit.DefaultPBKDF2Rounds).
func WithKDFPBKDF2(rounds int) WriteOption {
	return func(o *writeOptionData) { o.kdfKind = cryptkit.KDFPBKDF2; o.pbkdf2Rounds = rounds }
}

// WithKDFArgon2id selects Argon2id with the given parameters (0 for any
// field uses the cryptkit package defaults).
func WithKDFArgon2id(time, memoryKiB uint32, threads uint8) WriteOption {
	return func(o *writeOptionData) {
		o.kdfKind = cryptkit.KDFArgon2id
		o.argonTime, o.argonMemory, o.argonThreads = time, memoryKiB, threads
	}
}

// WithPassword sets the password used to derive keys for every entry and
// solid block this Writer produces.
func WithPassword(password []byte) WriteOption {
	return func(o *writeOptionData) { o.password = password }
}

// WithMaxVolumeBytes enables splitting: once the current volume would
// exceed n bytes, the writer rolls over to a new one via the VolumeFactory
// passed to NewWriter. n must be at least MinVolumeBytes.
func WithMaxVolumeBytes(n int64) WriteOption {
	return func(o *writeOptionData) { o.maxVolumeBytes = n }
}

// WithSolid sets AHED's solid flag. It does not change what WriteEntry
// emits: WriteEntry still writes a plain entry run, and solid blocks are
// written only through OpenSolidBlock.
func WithSolid(solid bool) WriteOption {
	return func(o *writeOptionData) { o.solid = solid }
}

// WithChunkBodyCap bounds each FDAT/aDAT chunk's body size.
func WithChunkBodyCap(n int) WriteOption {
	return func(o *writeOptionData) { o.chunkBodyCap = n }
}

// WithRNG overrides the CSPRNG used for IVs and KDF salts; tests use this to
// get deterministic output. Production callers should leave it unset.
func WithRNG(rng io.Reader) WriteOption {
	return func(o *writeOptionData) { o.rng = rng }
}

func defaultWriteOptionData() writeOptionData {
	return writeOptionData{
		compression:  compress.SchemeStore,
		cipher:       cryptkit.CipherNone,
		kdfKind:      cryptkit.KDFArgon2id,
		chunkBodyCap: chunk.DefaultMaxChunkBytes,
	}
}
