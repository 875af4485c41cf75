// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package solid implements PNA's solid block (spec.md §3.5, §4.7): a
// sub-archive whose own FHED..FEND chunk stream is compressed and/or
// encrypted as one unit and carried as the opaque payload of
// `aSLD aDAT+ aEND`. The inner stream is produced and consumed exactly like
// a top-level entry run; callers drive that by writing/reading through this
// package's Writer/Reader, which behave as a plain io.Writer/io.Reader over
// plaintext inner-stream bytes.
package solid

import (
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	"github.com/ChanTsune/Portable-Network-Archive/pipeline"
	"github.com/luci/luci-go/common/errors"
)

// Header is the decoded aSLD chunk body: the compression/encryption applied
// to the whole block, independent of whatever its inner entries declare for
// themselves (spec.md §4.7 permits both and notes declaring both redundant).
type Header struct {
	Compression compress.Scheme
	Cipher      cryptkit.CipherKind
}

// Encode serializes h as two bytes: compression, cipher.
func (h Header) Encode() ([]byte, error) {
	if err := h.Compression.Valid(); err != nil {
		return nil, err
	}
	if err := h.Cipher.Valid(); err != nil {
		return nil, err
	}
	return []byte{byte(h.Compression), byte(h.Cipher)}, nil
}

// DecodeHeader parses an aSLD chunk body.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) != 2 {
		return Header{}, errors.Reason("solid: aSLD want 2 bytes, got %(n)d").D("n", len(b)).Err()
	}
	h := Header{Compression: compress.Scheme(b[0]), Cipher: cryptkit.CipherKind(b[1])}
	if err := h.Compression.Valid(); err != nil {
		return Header{}, err
	}
	if err := h.Cipher.Valid(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// WriteParams describes one solid block.
type WriteParams struct {
	Header Header

	KDF *cryptkit.KDFParams
	Key []byte
	RNG io.Reader

	Level    int
	ChunkCap int
}

// Writer accepts the plaintext bytes of an inner entry stream (ordinary
// FHED..FEND chunk framing, written with the entry package against the
// Writer itself) and emits the aSLD/aDAT*/aEND chunk run that carries it,
// compressed and/or encrypted as one unit.
type Writer struct {
	sink io.Writer
	frag *chunk.FragmentWriter
	pipe io.WriteCloser
}

// NewWriter emits aSLD (and PHSF, if encrypted) to sink and returns a Writer
// ready to accept the inner stream's plaintext bytes.
func NewWriter(sink io.Writer, p WriteParams) (*Writer, error) {
	hasCipher := p.Header.Cipher != cryptkit.CipherNone
	if hasCipher != (p.KDF != nil) {
		return nil, errors.Reason("solid: cipher %(c)v and KDF presence disagree").D("c", p.Header.Cipher).Err()
	}

	body, err := p.Header.Encode()
	if err != nil {
		return nil, err
	}
	if err := chunk.Encode(sink, chunk.TypeASLD, body); err != nil {
		return nil, err
	}
	if p.KDF != nil {
		phc, err := cryptkit.EncodePHC(*p.KDF)
		if err != nil {
			return nil, err
		}
		if err := chunk.Encode(sink, chunk.TypePHSF, []byte(phc)); err != nil {
			return nil, err
		}
	}

	chunkCap := p.ChunkCap
	if chunkCap <= 0 {
		chunkCap = chunk.DefaultMaxChunkBytes
	}
	// emitEmpty=true: aDAT requires 1..* occurrences even for a solid
	// block with no (or trivially small) inner content.
	frag := chunk.NewFragmentWriter(sink, chunk.TypeADAT, chunkCap, true)

	cfg := pipeline.Config{
		Compression: p.Header.Compression,
		Level:       p.Level,
		Cipher:      p.Header.Cipher,
		Key:         p.Key,
		RNG:         p.RNG,
	}
	pw, err := pipeline.EncodeWriter(frag, cfg)
	if err != nil {
		return nil, err
	}
	return &Writer{sink: sink, frag: frag, pipe: pw}, nil
}

func (w *Writer) Write(p []byte) (int, error) { return w.pipe.Write(p) }

// Close flushes the pipeline and chunker and emits the aEND terminator.
func (w *Writer) Close() error {
	if err := w.pipe.Close(); err != nil {
		return err
	}
	if err := w.frag.Close(); err != nil {
		return err
	}
	return chunk.Encode(w.sink, chunk.TypeAEND2, nil)
}

// Reader decodes an aSLD/aDAT*/aEND run and exposes the inner stream's
// plaintext bytes for open-solid traversal. Discard skips the block
// entirely without running compression/encryption, for skip-solid
// traversal.
type Reader struct {
	src      io.Reader
	Header   Header
	frag     *chunk.FragmentReader
	dec      io.ReadCloser
	finished bool
}

// Open parses asldBody (aSLD's already-read body) and any following PHSF,
// then positions a Reader at the start of the aDAT run.
func Open(src io.Reader, asldBody []byte, maxChunkBytes uint32, password []byte) (*Reader, error) {
	h, err := DecodeHeader(asldBody)
	if err != nil {
		return nil, err
	}

	next, err := chunk.ReadHeader(src)
	if err != nil {
		return nil, err
	}

	var kdf *cryptkit.KDFParams
	if next.Type == chunk.TypePHSF {
		body, err := readFullBody(src, next, maxChunkBytes)
		if err != nil {
			return nil, err
		}
		params, err := cryptkit.ParsePHC(string(body))
		if err != nil {
			return nil, err
		}
		kdf = &params
		next, err = chunk.ReadHeader(src)
		if err != nil {
			return nil, err
		}
	}
	if (kdf != nil) != (h.Cipher != cryptkit.CipherNone) {
		return nil, errors.Reason("solid: PHSF presence disagrees with aSLD cipher %(c)v").D("c", h.Cipher).Err()
	}
	if next.Type != chunk.TypeADAT {
		return nil, errors.Reason("solid: expected aDAT, got %(t)q").D("t", next.Type.String()).Err()
	}

	frag := chunk.NewFragmentReader(src, next, chunk.TypeADAT, maxChunkBytes)
	cfg := pipeline.Config{Compression: h.Compression, Cipher: h.Cipher}
	if h.Cipher != cryptkit.CipherNone {
		if kdf == nil {
			return nil, errors.Reason("solid: block is encrypted but carries no PHSF").Err()
		}
		key, err := kdf.DeriveKey(password)
		if err != nil {
			return nil, err
		}
		cfg.Key = key
	}
	dec, err := pipeline.DecodeReader(frag, cfg)
	if err != nil {
		return nil, err
	}
	return &Reader{src: src, Header: h, frag: frag, dec: dec}, nil
}

func (r *Reader) Read(p []byte) (int, error) { return r.dec.Read(p) }

// Close closes the decompressor, then drains any unread aDAT bytes without
// decoding them and consumes the trailing aEND.
func (r *Reader) Close() error {
	if r.finished {
		return nil
	}
	if err := r.dec.Close(); err != nil {
		return err
	}
	return r.finish()
}

// Discard skips this block's data without ever running compression or
// encryption over it — the skip-solid traversal mode of spec.md §4.7.
func (r *Reader) Discard() error {
	if r.finished {
		return nil
	}
	return r.finish()
}

func (r *Reader) finish() error {
	if _, err := io.Copy(io.Discard, r.frag); err != nil {
		return err
	}
	r.finished = true
	next := r.frag.Next()
	if next == nil {
		return errors.Reason("solid: missing aEND").Err()
	}
	if next.Type != chunk.TypeAEND2 {
		return errors.Reason("solid: expected aEND, got %(t)q").D("t", next.Type.String()).Err()
	}
	return chunk.OpenBody(r.src, *next).Close()
}

func readFullBody(r io.Reader, h chunk.Header, maxChunkBytes uint32) ([]byte, error) {
	if h.Length > maxChunkBytes {
		return nil, errors.Annotate(chunk.ErrOverLongLength).
			Reason("chunk %(t)q length %(n)d exceeds max %(max)d").
			D("t", h.Type.String()).D("n", h.Length).D("max", maxChunkBytes).Err()
	}
	br := chunk.OpenBody(r, h)
	body, err := io.ReadAll(br)
	if err != nil {
		return nil, err
	}
	if err := br.Close(); err != nil {
		return nil, err
	}
	return body, nil
}
