// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package archive implements PNA's archive-level codec (spec.md §3.4,
// §4.8-§4.10): the magic-prefixed, AHED/AEND-bracketed stream of entry runs
// and solid blocks, multi-volume splitting, and the archive reader/writer
// that drive the entry and solid packages over it.
package archive

import (
	"encoding/binary"

	"github.com/luci/luci-go/common/errors"
)

// MajorVersion and MinorVersion are the only version this implementation
// writes and the only major version it reads (spec.md §7 Version).
const (
	MajorVersion byte = 1
	MinorVersion byte = 0
)

// FlagSolid is AHED's bit 0: the archive declares solid mode. Neither the
// writer nor the reader checks that every block is actually a solid block.
// All other bits are reserved and must be zero.
const FlagSolid uint16 = 1 << 0

// AHED is the decoded archive header chunk body.
type AHED struct {
	Major, Minor  byte
	Flags         uint16
	ArchiveNumber uint32
}

// Solid reports whether this archive declares solid mode.
func (h AHED) Solid() bool { return h.Flags&FlagSolid != 0 }

// Encode serializes h as: major:u8 || minor:u8 || flags:u16 || archive_number:u32.
func (h AHED) Encode() []byte {
	buf := make([]byte, 8)
	buf[0], buf[1] = h.Major, h.Minor
	binary.BigEndian.PutUint16(buf[2:4], h.Flags)
	binary.BigEndian.PutUint32(buf[4:8], h.ArchiveNumber)
	return buf
}

// DecodeAHED parses an AHED chunk body.
func DecodeAHED(b []byte) (AHED, error) {
	if len(b) != 8 {
		return AHED{}, errors.Reason("archive: AHED want 8 bytes, got %(n)d").D("n", len(b)).Err()
	}
	h := AHED{Major: b[0], Minor: b[1]}
	h.Flags = binary.BigEndian.Uint16(b[2:4])
	h.ArchiveNumber = binary.BigEndian.Uint32(b[4:8])
	if h.Flags&^FlagSolid != 0 {
		return AHED{}, errors.Reason("archive: AHED reserved flag bits set: %(flags)#x").D("flags", h.Flags).Err()
	}
	return h, nil
}
