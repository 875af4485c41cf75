// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import "github.com/luci/luci-go/common/errors"

// Sentinel errors, per spec.md §7's error kind catalog. Io and Crc surface
// as whatever the underlying reader/writer or the chunk package already
// returns; the rest are specific to archive-level semantics.
var (
	// ErrUnsupportedVersion is Version: an AHED names a major version this
	// implementation doesn't read.
	ErrUnsupportedVersion = errors.New("archive: unsupported major version")

	// ErrTruncated is Truncated: the stream ended before AEND.
	ErrTruncated = errors.New("archive: truncated archive")

	// ErrNeedsNextVolume signals an ANXT was reached but no volume locator
	// was configured to continue past it.
	ErrNeedsNextVolume = errors.New("archive: needs next volume, no locator configured")

	// ErrVolumeMissing is VolumeMissing: a locator was configured but
	// failed to produce the next volume.
	ErrVolumeMissing = errors.New("archive: next volume not found")

	// ErrVolumeMismatch fires when a continuation volume's archive_number
	// doesn't match the expected next value.
	ErrVolumeMismatch = errors.New("archive: volume archive_number mismatch")

	// ErrBudgetTooSmall is BudgetTooSmall: max_volume_bytes is below the
	// minimum a volume can ever need (magic + AHED + AEND, plus room for
	// at least one minimum-size chunk).
	ErrBudgetTooSmall = errors.New("archive: max_volume_bytes below minimum volume size")

	// ErrReferenceUnresolved is part of Reference consistency (spec.md
	// §8.1.7): a Reference or Hardlink entry's target path was never seen
	// as a previously emitted entry's path.
	ErrReferenceUnresolved = errors.New("archive: reference target never seen")
)

// MinVolumeBytes is the smallest max_volume_bytes a writer will accept
// (spec.md §4.10: "must be at least 64 bytes, the minimum frame size").
// It is not simply chunk.MinFrameBytes (one bare chunk frame): a volume
// must also hold its own magic prefix, AHED, and eventual AEND (or
// ANXT+AEND, the larger of the two), so the practical floor is higher than
// a single chunk's 12-byte overhead. 64 matches the spec's stated figure
// and comfortably covers magic(8) + AHED frame(20) + AEND frame(12) = 40
// plus headroom for at least a trivial chunk beyond that.
const MinVolumeBytes = 64
