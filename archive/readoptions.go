// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
)

// VolumeLocator resolves the next volume when a reader encounters ANXT.
// currentPath is whatever identified the volume just finished (the path
// given to Open, or whatever a prior VolumeLocator call returned); it
// returns the next volume's byte source plus an opaque identifier for it
// (typically its path), used for the locator's own next call and for error
// messages. Returning a nil reader with a nil error is treated as
// VolumeMissing.
type VolumeLocator func(currentPath string, archiveNumber uint32) (next io.Reader, nextPath string, err error)

type readOptionData struct {
	password      []byte
	ignoreZeros   bool
	maxChunkBytes uint32
	locator       VolumeLocator
}

// ReadOption configures a Reader, mirroring ReadOptions (spec.md §6.4).
type ReadOption func(*readOptionData)

// WithReadPassword sets the password used to derive keys for encrypted
// entries and solid blocks.
func WithReadPassword(password []byte) ReadOption {
	return func(o *readOptionData) { o.password = password }
}

// WithIgnoreZeros tolerates runs of zero bytes between chunks (tape/padding
// tolerance). Off by default: any non-chunk byte is then fatal.
func WithIgnoreZeros(ignore bool) ReadOption {
	return func(o *readOptionData) { o.ignoreZeros = ignore }
}

// WithMaxChunkBytes bounds the largest single chunk body this reader will
// accept, guarding against a hostile or corrupt length field.
func WithMaxChunkBytes(n uint32) ReadOption {
	return func(o *readOptionData) { o.maxChunkBytes = n }
}

// WithVolumeLocator enables seamless multi-volume reads: when an ANXT
// marker is reached, the reader calls locator to obtain the next volume and
// continues transparently. Without it, reaching ANXT ends iteration with
// ErrNeedsNextVolume.
func WithVolumeLocator(locator VolumeLocator) ReadOption {
	return func(o *readOptionData) { o.locator = locator }
}

func defaultReadOptionData() readOptionData {
	return readOptionData{maxChunkBytes: chunk.DefaultMaxChunkBytes}
}
