// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"context"
	"crypto/rand"
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	"github.com/ChanTsune/Portable-Network-Archive/entry"
	"github.com/ChanTsune/Portable-Network-Archive/solid"
	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/iotools"
	"github.com/luci/luci-go/common/logging"
)

// VolumeFactory opens the next volume's sink when the writer rolls over,
// given the archive_number the new volume's AHED should declare.
type VolumeFactory func(archiveNumber uint32) (io.WriteCloser, error)

// trailerReserve is the room a volume must always keep free for the ANXT
// and AEND chunks that close it out, whether or not a rollover is in
// progress: a zero-body chunk costs chunk.MinFrameBytes each.
const trailerReserve = 2 * chunk.MinFrameBytes

// Writer emits a PNA archive, splitting across volumes as configured.
type Writer struct {
	opts    writeOptionData
	factory VolumeFactory

	curSink       io.WriteCloser
	cur           *iotools.CountingWriter
	archiveNumber uint32
	sink          *chunkAssembler

	finished bool
}

// NewWriter opens the first volume on first and returns a ready Writer.
// factory may be nil if WithMaxVolumeBytes is never used (a single-volume
// archive never needs to open a second file).
func NewWriter(first io.WriteCloser, factory VolumeFactory, options ...WriteOption) (*Writer, error) {
	opts := defaultWriteOptionData()
	for _, o := range options {
		o(&opts)
	}
	if opts.maxVolumeBytes != 0 && opts.maxVolumeBytes < MinVolumeBytes {
		return nil, errors.Annotate(ErrBudgetTooSmall).
			Reason("max_volume_bytes %(n)d below minimum %(min)d").
			D("n", opts.maxVolumeBytes).D("min", MinVolumeBytes).Err()
	}
	if opts.cipher != cryptkit.CipherNone && len(opts.password) == 0 {
		return nil, errors.Reason("archive: encryption %(c)v configured without a password").D("c", opts.cipher).Err()
	}

	w := &Writer{opts: opts, factory: factory, archiveNumber: 1}
	w.sink = newChunkAssembler(w.commitChunk)
	if err := w.startVolume(first, 1); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) rng() io.Reader {
	if w.opts.rng != nil {
		return w.opts.rng
	}
	return rand.Reader
}

// startVolume writes magic+AHED to sink and makes it the writer's current
// volume, wrapping it in an iotools.CountingWriter so commitChunk can track
// the volume's size without its own byte-counting bookkeeping (the same
// technique the teacher's sardata.BlockWriter uses to size a block before
// flushing its header).
func (w *Writer) startVolume(sink io.WriteCloser, archiveNumber uint32) error {
	w.curSink = sink
	w.cur = &iotools.CountingWriter{Writer: sink}
	w.archiveNumber = archiveNumber

	if _, err := w.cur.Write(chunk.Magic[:]); err != nil {
		return err
	}

	var flags uint16
	if w.opts.solid {
		flags |= FlagSolid
	}
	ahed := AHED{Major: MajorVersion, Minor: MinorVersion, Flags: flags, ArchiveNumber: archiveNumber}
	body := ahed.Encode()
	return chunk.Encode(w.cur, chunk.TypeAHED, body)
}

// commitChunk is the chunkAssembler's commit callback: it receives one
// fully assembled chunk (header+body+crc) and either writes it to the
// current volume or, if that would leave no room for the volume's own
// closing ANXT+AEND, rolls over to a new volume first.
func (w *Writer) commitChunk(full []byte) error {
	size := int64(len(full))
	if w.opts.maxVolumeBytes != 0 && w.cur.Count+size+trailerReserve > w.opts.maxVolumeBytes {
		if err := w.rollVolume(context.Background()); err != nil {
			return err
		}
	}
	_, err := w.cur.Write(full)
	return err
}

func (w *Writer) rollVolume(ctx context.Context) error {
	if w.factory == nil {
		return errors.Reason("archive: max_volume_bytes exceeded but no VolumeFactory was given").Err()
	}
	if err := chunk.Encode(w.cur, chunk.TypeANXT, nil); err != nil {
		return err
	}
	if err := chunk.Encode(w.cur, chunk.TypeAEND, nil); err != nil {
		return err
	}
	if err := w.curSink.Close(); err != nil {
		return err
	}

	nextNumber := w.archiveNumber + 1
	logging.Infof(ctx, "archive: rolling to volume %d", nextNumber)
	next, err := w.factory(nextNumber)
	if err != nil {
		return errors.Annotate(err).Reason("opening volume %(n)d").D("n", nextNumber).Err()
	}
	return w.startVolume(next, nextNumber)
}

// buildCrypto derives fresh KDF parameters and the key to use for one
// entry/solid block, or returns (nil, nil, nil) when encryption is off.
func (w *Writer) buildCrypto() (*cryptkit.KDFParams, []byte, error) {
	if w.opts.cipher == cryptkit.CipherNone {
		return nil, nil, nil
	}
	var kdf cryptkit.KDFParams
	var err error
	switch w.opts.kdfKind {
	case cryptkit.KDFPBKDF2:
		kdf, err = cryptkit.NewPBKDF2Params(w.rng(), w.opts.pbkdf2Rounds, cryptkit.KeySize)
	default:
		kdf, err = cryptkit.NewArgon2idParams(w.rng(), w.opts.argonTime, w.opts.argonMemory, w.opts.argonThreads, cryptkit.KeySize)
	}
	if err != nil {
		return nil, nil, err
	}
	key, err := kdf.DeriveKey(w.opts.password)
	if err != nil {
		return nil, nil, err
	}
	return &kdf, key, nil
}

// WriteEntry writes one entry (FHED..FEND) using this writer's configured
// compression/encryption.
func (w *Writer) WriteEntry(ctx context.Context, path string, kind entry.Kind, meta entry.Meta, data io.Reader) error {
	kdf, key, err := w.buildCrypto()
	if err != nil {
		return err
	}
	logging.Debugf(ctx, "archive: writing entry %q", path)
	return entry.Write(w.sink, entry.WriteParams{
		Header:   entry.Header{Kind: kind, Compression: w.opts.compression, Cipher: w.opts.cipher, Path: path},
		Meta:     meta,
		KDF:      kdf,
		Key:      key,
		RNG:      w.rng(),
		Level:    w.opts.level,
		ChunkCap: w.opts.chunkBodyCap,
		Data:     data,
	})
}

// OpenSolidBlock begins a solid block using this writer's configured
// compression/encryption. The caller must write a sequence of complete
// entry.Write calls against the returned Writer and Close it before
// writing anything else to the archive.
func (w *Writer) OpenSolidBlock(ctx context.Context) (*solid.Writer, error) {
	kdf, key, err := w.buildCrypto()
	if err != nil {
		return nil, err
	}
	logging.Debugf(ctx, "archive: opening solid block")
	return solid.NewWriter(w.sink, solid.WriteParams{
		Header:   solid.Header{Compression: w.opts.compression, Cipher: w.opts.cipher},
		KDF:      kdf,
		Key:      key,
		RNG:      w.rng(),
		Level:    w.opts.level,
		ChunkCap: w.opts.chunkBodyCap,
	})
}

// Close emits AEND on the final volume and closes its sink. A writer that
// is never closed produces an unreadable archive (spec.md §4.9).
func (w *Writer) Close() error {
	if w.finished {
		return nil
	}
	w.finished = true
	if err := chunk.Encode(w.cur, chunk.TypeAEND, nil); err != nil {
		return err
	}
	return w.curSink.Close()
}
