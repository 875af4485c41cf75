// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"encoding/binary"

	"github.com/luci/luci-go/common/errors"
)

// chunkAssembler reassembles the three writes chunk.Encode always performs
// for a single chunk — an 8-byte header, an optional body of the length
// that header declares, and a 4-byte CRC trailer — into one complete chunk
// buffer, then hands it to commit exactly once per chunk. This is what lets
// the volume manager enforce "a chunk is never split across volumes"
// (spec.md §4.10) without entry or solid needing any awareness of
// volumes: they only ever see a plain io.Writer.
//
// This relies on chunk.Encode's write sequence being exactly
// header-then-body-then-crc, synchronously, never interleaved with another
// chunk's writes — true for every writer in this module, since entries and
// solid blocks are encoded strictly sequentially.
type chunkAssembler struct {
	commit func(full []byte) error

	state   assemblerState
	bodyLen uint32
	buf     []byte
}

type assemblerState int

const (
	assemblerHeader assemblerState = iota
	assemblerBody
	assemblerCRC
)

func newChunkAssembler(commit func(full []byte) error) *chunkAssembler {
	return &chunkAssembler{commit: commit}
}

func (c *chunkAssembler) Write(p []byte) (int, error) {
	c.buf = append(c.buf, p...)
	switch c.state {
	case assemblerHeader:
		if len(p) != 8 {
			return 0, errors.Reason("archive: expected 8-byte chunk header write, got %(n)d").D("n", len(p)).Err()
		}
		c.bodyLen = binary.BigEndian.Uint32(p[0:4])
		if c.bodyLen == 0 {
			c.state = assemblerCRC
		} else {
			c.state = assemblerBody
		}
	case assemblerBody:
		if uint32(len(p)) != c.bodyLen {
			return 0, errors.Reason("archive: expected %(n)d-byte chunk body write, got %(got)d").
				D("n", c.bodyLen).D("got", len(p)).Err()
		}
		c.state = assemblerCRC
	case assemblerCRC:
		if len(p) != 4 {
			return 0, errors.Reason("archive: expected 4-byte chunk crc write, got %(n)d").D("n", len(p)).Err()
		}
		full := c.buf
		c.buf = nil
		c.state = assemblerHeader
		if err := c.commit(full); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
