// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package entry

import (
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/metadata"
	"github.com/luci/luci-go/common/errors"
)

// Meta holds the ancillary sidecar chunks an entry may carry. A nil/empty
// field means the corresponding chunk was absent ("unspecified"), never
// "zero" (spec.md §4.11).
type Meta struct {
	CTime *metadata.Timestamp
	MTime *metadata.Timestamp
	ATime *metadata.Timestamp

	Permission *metadata.Permission
	Xattrs     []metadata.Xattr
	ACLs       []metadata.ACLEntry
	Flags      *metadata.FileFlags
}

// writeMeta emits m's chunks in the fixed order cTIM, mTIM, aTIM, fPRM,
// xATR*, fACL*, fFLG. The order is not load-bearing for readers (each chunk
// self-identifies its type) but keeping it stable makes archives
// byte-reproducible for identical input, which the teacher's own encoder
// valued.
func writeMeta(w io.Writer, m Meta) error {
	if m.CTime != nil {
		if err := chunk.Encode(w, chunk.TypeCTIM, metadata.EncodeTimestamp(*m.CTime)); err != nil {
			return err
		}
	}
	if m.MTime != nil {
		if err := chunk.Encode(w, chunk.TypeMTIM, metadata.EncodeTimestamp(*m.MTime)); err != nil {
			return err
		}
	}
	if m.ATime != nil {
		if err := chunk.Encode(w, chunk.TypeATIM, metadata.EncodeTimestamp(*m.ATime)); err != nil {
			return err
		}
	}
	if m.Permission != nil {
		if err := chunk.Encode(w, chunk.TypeFPRM, metadata.EncodePermission(*m.Permission)); err != nil {
			return err
		}
	}
	for _, x := range m.Xattrs {
		if err := chunk.Encode(w, chunk.TypeXATR, metadata.EncodeXattr(x)); err != nil {
			return err
		}
	}
	for _, a := range m.ACLs {
		if err := chunk.Encode(w, chunk.TypeFACL, metadata.EncodeACLEntry(a)); err != nil {
			return err
		}
	}
	if m.Flags != nil {
		if err := chunk.Encode(w, chunk.TypeFFLG, metadata.EncodeFileFlags(*m.Flags)); err != nil {
			return err
		}
	}
	return nil
}

// applyMetaChunk decodes one metadata chunk body into m, based on typ. It
// reports an error if typ isn't a recognized metadata chunk type so callers
// can tell "unknown chunk, stop the meta loop" apart from "known chunk,
// malformed body".
func applyMetaChunk(m *Meta, typ chunk.Type, body []byte) error {
	switch typ {
	case chunk.TypeCTIM:
		ts, err := metadata.DecodeTimestamp(body)
		if err != nil {
			return err
		}
		m.CTime = &ts
	case chunk.TypeMTIM:
		ts, err := metadata.DecodeTimestamp(body)
		if err != nil {
			return err
		}
		m.MTime = &ts
	case chunk.TypeATIM:
		ts, err := metadata.DecodeTimestamp(body)
		if err != nil {
			return err
		}
		m.ATime = &ts
	case chunk.TypeFPRM:
		p, err := metadata.DecodePermission(body)
		if err != nil {
			return err
		}
		m.Permission = &p
	case chunk.TypeXATR:
		x, err := metadata.DecodeXattr(body)
		if err != nil {
			return err
		}
		m.Xattrs = append(m.Xattrs, x)
	case chunk.TypeFACL:
		a, err := metadata.DecodeACLEntry(body)
		if err != nil {
			return err
		}
		m.ACLs = append(m.ACLs, a)
	case chunk.TypeFFLG:
		f, err := metadata.DecodeFileFlags(body)
		if err != nil {
			return err
		}
		m.Flags = &f
	default:
		return errors.Reason("entry: %(t)q is not a metadata chunk").D("t", typ.String()).Err()
	}
	return nil
}
