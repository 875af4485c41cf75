// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cryptkit

import (
	"crypto/sha256"
	"io"

	"github.com/luci/luci-go/common/errors"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDFKind selects the key-derivation function recorded in a PHSF chunk
// (spec.md §4.3).
type KDFKind byte

const (
	KDFPBKDF2 KDFKind = iota + 1
	KDFArgon2id
)

// DefaultPBKDF2Rounds is the minimum-safe default cited by spec.md §4.3.
const DefaultPBKDF2Rounds = 600_000

// DefaultArgon2idTime, DefaultArgon2idMemoryKiB, and DefaultArgon2idThreads
// are the OWASP-recommended Argon2id defaults used when WriteOptions
// doesn't override them.
const (
	DefaultArgon2idTime      = 2
	DefaultArgon2idMemoryKiB = 64 * 1024
	DefaultArgon2idThreads   = 4
)

// KDFParams fully describes one key derivation: enough to reproduce the
// exact key from a password, and serializable as a PHC string for the
// PHSF chunk.
type KDFParams struct {
	Kind KDFKind
	Salt []byte

	// PBKDF2
	Rounds int

	// Argon2id
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8

	KeyLen int
}

// ErrMalformedPHC is returned when a PHSF chunk's PHC string cannot be
// parsed (spec.md §7 MalformedMetadata).
var ErrMalformedPHC = errors.New("cryptkit: malformed phc string")

// DeriveKey reproduces the symmetric key for password using p's recorded
// parameters.
func (p KDFParams) DeriveKey(password []byte) ([]byte, error) {
	switch p.Kind {
	case KDFPBKDF2:
		if p.Rounds <= 0 {
			return nil, errors.Reason("cryptkit: pbkdf2 rounds must be positive").Err()
		}
		return pbkdf2.Key(password, p.Salt, p.Rounds, p.KeyLen, sha256.New), nil
	case KDFArgon2id:
		return argon2.IDKey(password, p.Salt, p.Time, p.Memory, p.Threads, uint32(p.KeyLen)), nil
	}
	return nil, errors.Reason("cryptkit: unknown kdf kind %(k)d").D("k", byte(p.Kind)).Err()
}

// NewPBKDF2Params builds KDFParams for PBKDF2-HMAC-SHA256 with salt drawn
// from rng.
func NewPBKDF2Params(rng io.Reader, rounds, keyLen int) (KDFParams, error) {
	if rounds <= 0 {
		rounds = DefaultPBKDF2Rounds
	}
	salt, err := randomSalt(rng, 16)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{Kind: KDFPBKDF2, Salt: salt, Rounds: rounds, KeyLen: keyLen}, nil
}

// NewArgon2idParams builds KDFParams for Argon2id with salt drawn from
// rng. A zero field falls back to the package defaults.
func NewArgon2idParams(rng io.Reader, timeCost, memoryKiB uint32, threads uint8, keyLen int) (KDFParams, error) {
	if timeCost == 0 {
		timeCost = DefaultArgon2idTime
	}
	if memoryKiB == 0 {
		memoryKiB = DefaultArgon2idMemoryKiB
	}
	if threads == 0 {
		threads = DefaultArgon2idThreads
	}
	salt, err := randomSalt(rng, 16)
	if err != nil {
		return KDFParams{}, err
	}
	return KDFParams{
		Kind: KDFArgon2id, Salt: salt,
		Time: timeCost, Memory: memoryKiB, Threads: threads,
		KeyLen: keyLen,
	}, nil
}

func randomSalt(rng io.Reader, n int) ([]byte, error) {
	salt := make([]byte, n)
	if _, err := rng.Read(salt); err != nil {
		return nil, errors.Annotate(err).Reason("generating salt").Err()
	}
	return salt, nil
}
