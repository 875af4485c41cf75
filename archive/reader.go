// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"context"
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/entry"
	"github.com/ChanTsune/Portable-Network-Archive/solid"
	"github.com/luci/luci-go/common/data/stringset"
	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/logging"
)

// BlockKind identifies what Next returned.
type BlockKind int

const (
	BlockEntry BlockKind = iota
	BlockSolid
)

// Block is one top-level unit of archive content: either a plain entry or a
// solid block (spec.md §4.8). Exactly one of Entry/Solid is set, matching
// Kind. The caller may consume it — via entry.Decoded.OpenData (or
// Discard), or solid.Reader.Read (or Discard) — before calling Next again;
// whatever is left unconsumed, Next skips past itself (see finish).
type Block struct {
	Kind  BlockKind
	Entry *entry.Decoded
	Solid *solid.Reader
}

// finish is called by Next when the caller moves on without fully
// consuming the previous Block. Entry.Discard is always safe to call
// whether or not OpenData ran. Solid.Close is used rather than
// Solid.Discard even though the caller may never have read from it: it
// additionally closes the decompressor/decryptor, which is a no-op if
// nothing was ever read from it but is required to release their
// resources if something was.
func (b *Block) finish() error {
	switch b.Kind {
	case BlockEntry:
		return b.Entry.Discard()
	case BlockSolid:
		return b.Solid.Close()
	}
	return nil
}

// Reader iterates an archive's blocks, transparently following ANXT into
// subsequent volumes when a VolumeLocator is configured.
type Reader struct {
	opts readOptionData
	path string

	br   *chunk.OffsetReader
	ahed AHED

	seen    stringset.Set
	pending *Block
}

// Open verifies the magic prefix and AHED of r (the archive's first
// volume) and returns a Reader positioned to yield its first Block. path
// identifies this volume for VolumeLocator's own bookkeeping; pass whatever
// is meaningful to the caller (commonly a filesystem path).
func Open(r io.Reader, path string, options ...ReadOption) (*Reader, error) {
	opts := defaultReadOptionData()
	for _, o := range options {
		o(&opts)
	}
	rd := &Reader{opts: opts, path: path, seen: stringset.New(0)}
	if err := rd.openVolume(r, 1); err != nil {
		return nil, err
	}
	return rd, nil
}

func (rd *Reader) openVolume(r io.Reader, wantNumber uint32) error {
	br := chunk.NewOffsetReader(r)
	if err := chunk.ReadMagic(br); err != nil {
		return err
	}
	h, err := rd.readHeader(br)
	if err != nil {
		return err
	}
	if h.Type != chunk.TypeAHED {
		return errors.Reason("archive: expected AHED, got %(t)q").D("t", h.Type.String()).Err()
	}
	body, err := rd.readBody(br, h)
	if err != nil {
		return err
	}
	ahed, err := DecodeAHED(body)
	if err != nil {
		return err
	}
	if ahed.Major != MajorVersion {
		return errors.Annotate(ErrUnsupportedVersion).Reason("major version %(v)d").D("v", ahed.Major).Err()
	}
	if ahed.ArchiveNumber != wantNumber {
		return errors.Annotate(ErrVolumeMismatch).
			Reason("expected archive_number %(want)d, got %(got)d").
			D("want", wantNumber).D("got", ahed.ArchiveNumber).Err()
	}
	rd.br, rd.ahed = br, ahed
	return nil
}

func (rd *Reader) readHeader(br *chunk.OffsetReader) (chunk.Header, error) {
	if rd.opts.ignoreZeros {
		if err := chunk.SkipZeros(br.Buf); err != nil {
			return chunk.Header{}, err
		}
	}
	return chunk.ReadHeader(br)
}

func (rd *Reader) readBody(br *chunk.OffsetReader, h chunk.Header) ([]byte, error) {
	if h.Length > rd.opts.maxChunkBytes {
		return nil, errors.Annotate(chunk.ErrOverLongLength).
			Reason("chunk %(t)q length %(n)d exceeds max %(max)d").
			D("t", h.Type.String()).D("n", h.Length).D("max", rd.opts.maxChunkBytes).Err()
	}
	body := chunk.OpenBody(br, h)
	buf, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	if err := body.Close(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Next returns the next Block, io.EOF at a clean AEND with no more volumes,
// or ErrNeedsNextVolume/ErrVolumeMissing if splitting isn't configured or
// fails.
func (rd *Reader) Next(ctx context.Context) (*Block, error) {
	if rd.pending != nil {
		if err := rd.pending.finish(); err != nil {
			return nil, err
		}
		rd.pending = nil
	}

	for {
		h, err := rd.readHeader(rd.br)
		if err == chunk.ErrEndOfStream {
			return nil, errors.Annotate(ErrTruncated).Reason("volume ended before AEND").Err()
		}
		if err != nil {
			return nil, err
		}

		switch h.Type {
		case chunk.TypeFHED:
			d, err := entry.Decode(rd.br, h, rd.opts.maxChunkBytes)
			if err != nil {
				return nil, err
			}
			rd.seen.Add(d.Header.Path)
			b := &Block{Kind: BlockEntry, Entry: d}
			rd.pending = b
			return b, nil

		case chunk.TypeASLD:
			body, err := rd.readBody(rd.br, h)
			if err != nil {
				return nil, err
			}
			sr, err := solid.Open(rd.br, body, rd.opts.maxChunkBytes, rd.opts.password)
			if err != nil {
				return nil, err
			}
			b := &Block{Kind: BlockSolid, Solid: sr}
			rd.pending = b
			return b, nil

		case chunk.TypeANXT:
			if err := rd.crossVolume(ctx, h); err != nil {
				return nil, err
			}
			continue

		case chunk.TypeAEND:
			return nil, io.EOF

		default:
			desc, known := chunk.Lookup(h.Type)
			if known && desc.Scope != chunk.ScopeArchive {
				return nil, errors.Reason("archive: chunk %(t)q out of order at archive scope").D("t", h.Type.String()).Err()
			}
			if chunk.MustReject(h.Type) {
				return nil, errors.Reason("archive: unknown critical chunk %(t)q").D("t", h.Type.String()).Err()
			}
			if err := chunk.OpenBody(rd.br, h).Close(); err != nil {
				return nil, err
			}
		}
	}
}

func (rd *Reader) crossVolume(ctx context.Context, anxt chunk.Header) error {
	if err := chunk.OpenBody(rd.br, anxt).Close(); err != nil {
		return err
	}
	endH, err := rd.readHeader(rd.br)
	if err != nil {
		return err
	}
	if endH.Type != chunk.TypeAEND {
		return errors.Reason("archive: expected AEND after ANXT, got %(t)q").D("t", endH.Type.String()).Err()
	}
	if err := chunk.OpenBody(rd.br, endH).Close(); err != nil {
		return err
	}

	if rd.opts.locator == nil {
		return ErrNeedsNextVolume
	}
	nextNumber := rd.ahed.ArchiveNumber + 1
	logging.Infof(ctx, "archive: locating volume %d", nextNumber)
	next, nextPath, err := rd.opts.locator(rd.path, nextNumber)
	if err != nil {
		return errors.Annotate(err).Reason("locating volume %(n)d").D("n", nextNumber).Err()
	}
	if next == nil {
		return errors.Annotate(ErrVolumeMissing).Reason("volume %(n)d").D("n", nextNumber).Err()
	}
	rd.path = nextPath
	return rd.openVolume(next, nextNumber)
}

// Seen reports whether path has already been yielded as an entry's path by
// this reader — the path table a Reference or Hardlink's target must
// resolve against (spec.md §8.1.7).
func (rd *Reader) Seen(path string) bool { return rd.seen.Has(path) }

// VerifyReference checks targetPath (typically read from a Reference or
// Hardlink entry's data) against the path table of previously yielded
// entries.
func (rd *Reader) VerifyReference(targetPath string) error {
	if !rd.Seen(targetPath) {
		return errors.Annotate(ErrReferenceUnresolved).Reason("target %(t)q").D("t", targetPath).Err()
	}
	return nil
}
