// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package entry

import (
	"bytes"
	"io"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	"github.com/ChanTsune/Portable-Network-Archive/pipeline"
	"github.com/luci/luci-go/common/errors"
)

// ErrTruncated marks an entry run that ended before FEND, per spec.md §7.
var ErrTruncated = errors.New("entry: truncated entry run")

// WriteParams describes one entry to emit as an FHED..FEND chunk run.
type WriteParams struct {
	Header Header
	Meta   Meta

	// KDF is non-nil iff Header.Cipher != cryptkit.CipherNone; its PHC
	// encoding is written as the PHSF chunk immediately after FHED.
	KDF *cryptkit.KDFParams
	// Key is the already-derived symmetric key matching KDF. Ignored
	// when Header.Cipher == cryptkit.CipherNone.
	Key []byte
	// RNG sources each FDAT pipeline's IV; defaults to crypto/rand if nil.
	RNG io.Reader

	// Level is the compression level; the pipeline normalizes it via
	// compress.NormalizeLevel, so compress.LevelMin/LevelMax are accepted.
	Level int
	// ChunkCap bounds the size of each individual FDAT chunk's body.
	ChunkCap int

	// Data is this entry's payload: file content for Regular, the link
	// target for Symlink/Hardlink/Reference, or nil for Directory (any
	// Data given for a Directory is rejected).
	Data io.Reader
}

// Write emits one complete FHED [PHSF?] Meta* FDAT* FEND run to w.
func Write(w io.Writer, p WriteParams) error {
	if p.Header.Kind == KindDirectory && p.Data != nil {
		return errors.Reason("entry: directory entry %(path)q must not carry data").D("path", p.Header.Path).Err()
	}
	hasCipher := p.Header.Cipher != cryptkit.CipherNone
	if hasCipher != (p.KDF != nil) {
		return errors.Reason("entry: cipher %(c)v and KDF presence disagree").D("c", p.Header.Cipher).Err()
	}

	body, err := p.Header.Encode()
	if err != nil {
		return err
	}
	if err := chunk.Encode(w, chunk.TypeFHED, body); err != nil {
		return err
	}

	if p.KDF != nil {
		phc, err := cryptkit.EncodePHC(*p.KDF)
		if err != nil {
			return err
		}
		if err := chunk.Encode(w, chunk.TypePHSF, []byte(phc)); err != nil {
			return err
		}
	}

	if err := writeMeta(w, p.Meta); err != nil {
		return err
	}

	if p.Header.Kind.CarriesData() {
		data := p.Data
		if data == nil {
			data = bytes.NewReader(nil)
		}
		chunkCap := p.ChunkCap
		if chunkCap <= 0 {
			chunkCap = chunk.DefaultMaxChunkBytes
		}
		frag := chunk.NewFragmentWriter(w, chunk.TypeFDAT, chunkCap, false)
		cfg := pipeline.Config{
			Compression: p.Header.Compression,
			Level:       p.Level,
			Cipher:      p.Header.Cipher,
			Key:         p.Key,
			RNG:         p.RNG,
		}
		pw, err := pipeline.EncodeWriter(frag, cfg)
		if err != nil {
			return err
		}
		if _, err := io.Copy(pw, data); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
		if err := frag.Close(); err != nil {
			return err
		}
	}

	return chunk.Encode(w, chunk.TypeFEND, nil)
}

// Decoded is one entry read back from an archive: its header and metadata
// are fully parsed, but FDAT payload access is lazy — OpenData (or Discard)
// must be called exactly once before the underlying stream can be advanced
// to the next entry.
type Decoded struct {
	Header Header
	Meta   Meta
	KDF    *cryptkit.KDFParams

	hasData       bool
	dataHeader    chunk.Header
	maxChunkBytes uint32
	src           io.Reader
	frag          *chunk.FragmentReader
	finished      bool
}

// Decode reads an FHED chunk's body (h is its already-read header) and then
// parses the rest of the entry run exactly as DecodeOpen does. It is the
// entry point archive and solid-block iterators use, since they read a
// chunk's header generically before knowing it's an FHED.
func Decode(src io.Reader, h chunk.Header, maxChunkBytes uint32) (*Decoded, error) {
	body, err := readBody(src, h, maxChunkBytes)
	if err != nil {
		return nil, err
	}
	return DecodeOpen(src, body, maxChunkBytes)
}

// DecodeOpen parses the FHED [PHSF?] Meta* prefix of an entry run, stopping
// as soon as it reaches the first FDAT chunk or, if there is none, FEND
// (which it consumes immediately in that case). fhedBody is the body of the
// already-read FHED chunk; src must yield exactly the chunks that follow
// it.
func DecodeOpen(src io.Reader, fhedBody []byte, maxChunkBytes uint32) (*Decoded, error) {
	h, err := DecodeHeader(fhedBody)
	if err != nil {
		return nil, err
	}
	d := &Decoded{Header: h, src: src, maxChunkBytes: maxChunkBytes}

	next, err := chunk.ReadHeader(src)
	if err != nil {
		return nil, annotateTruncated(err)
	}

	if next.Type == chunk.TypePHSF {
		body, err := readBody(src, next, maxChunkBytes)
		if err != nil {
			return nil, err
		}
		params, err := cryptkit.ParsePHC(string(body))
		if err != nil {
			return nil, err
		}
		d.KDF = &params
		next, err = chunk.ReadHeader(src)
		if err != nil {
			return nil, annotateTruncated(err)
		}
	}
	if (d.KDF != nil) != (h.Cipher != cryptkit.CipherNone) {
		return nil, errors.Reason("entry: PHSF presence disagrees with FHED cipher %(c)v for %(path)q").
			D("c", h.Cipher).D("path", h.Path).Err()
	}

	seen := map[chunk.Type]int{}
	for next.Type != chunk.TypeFDAT && next.Type != chunk.TypeFEND {
		desc, ok := chunk.Lookup(next.Type)
		if !ok {
			if chunk.MustReject(next.Type) {
				return nil, errors.Reason("entry: unknown critical chunk %(t)q in %(path)q").
					D("t", next.Type.String()).D("path", h.Path).Err()
			}
			if err := chunk.OpenBody(src, next).Close(); err != nil {
				return nil, err
			}
			next, err = chunk.ReadHeader(src)
			if err != nil {
				return nil, annotateTruncated(err)
			}
			continue
		}
		if desc.Scope != chunk.ScopeEntry {
			return nil, errors.Reason("entry: chunk %(t)q out of order in %(path)q").
				D("t", next.Type.String()).D("path", h.Path).Err()
		}
		seen[next.Type]++
		if desc.MaxOccurrences != 0 && seen[next.Type] > desc.MaxOccurrences {
			return nil, errors.Reason("entry: chunk %(t)q repeated beyond its limit of %(max)d in %(path)q").
				D("t", next.Type.String()).D("max", desc.MaxOccurrences).D("path", h.Path).Err()
		}

		body, err := readBody(src, next, maxChunkBytes)
		if err != nil {
			return nil, err
		}
		if err := applyMetaChunk(&d.Meta, next.Type, body); err != nil {
			return nil, err
		}

		next, err = chunk.ReadHeader(src)
		if err != nil {
			return nil, annotateTruncated(err)
		}
	}

	if next.Type == chunk.TypeFEND {
		if err := d.consumeFEND(&next); err != nil {
			return nil, err
		}
		return d, nil
	}

	d.hasData = true
	d.dataHeader = next
	return d, nil
}

// OpenData returns a ReadCloser over this entry's decompressed, decrypted
// payload. Close must be called (even on a short read) before the
// underlying stream can be advanced to the next entry; it drains any
// unread FDAT chunks and consumes the trailing FEND.
func (d *Decoded) OpenData(password []byte) (io.ReadCloser, error) {
	if !d.hasData {
		d.finished = true
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if d.finished {
		return nil, errors.Reason("entry: data for %(path)q already consumed").D("path", d.Header.Path).Err()
	}

	cfg := pipeline.Config{Compression: d.Header.Compression, Cipher: d.Header.Cipher}
	if d.Header.Cipher != cryptkit.CipherNone {
		if d.KDF == nil {
			return nil, errors.Reason("entry: %(path)q is encrypted but carries no PHSF").D("path", d.Header.Path).Err()
		}
		key, err := d.KDF.DeriveKey(password)
		if err != nil {
			return nil, err
		}
		cfg.Key = key
	}

	frag := d.ensureFrag()
	dec, err := pipeline.DecodeReader(frag, cfg)
	if err != nil {
		return nil, err
	}
	return &dataReadCloser{dec: dec, d: d}, nil
}

// Discard skips this entry's data without decompressing or decrypting it,
// for readers that only need headers and metadata (e.g. listing).
func (d *Decoded) Discard() error {
	if d.finished {
		return nil
	}
	if !d.hasData {
		d.finished = true
		return nil
	}
	return d.drainAndFinish()
}

func (d *Decoded) ensureFrag() *chunk.FragmentReader {
	if d.frag == nil {
		d.frag = chunk.NewFragmentReader(d.src, d.dataHeader, chunk.TypeFDAT, d.maxChunkBytes)
	}
	return d.frag
}

func (d *Decoded) drainAndFinish() error {
	frag := d.ensureFrag()
	if _, err := io.Copy(io.Discard, frag); err != nil {
		return err
	}
	return d.consumeFEND(frag.Next())
}

func (d *Decoded) consumeFEND(h *chunk.Header) error {
	d.finished = true
	if h == nil {
		return errors.Annotate(ErrTruncated).Reason("missing FEND for %(path)q").D("path", d.Header.Path).Err()
	}
	if h.Type != chunk.TypeFEND {
		return errors.Reason("entry: expected FEND, got %(t)q in %(path)q").
			D("t", h.Type.String()).D("path", d.Header.Path).Err()
	}
	return chunk.OpenBody(d.src, *h).Close()
}

type dataReadCloser struct {
	dec io.ReadCloser
	d   *Decoded
}

func (c *dataReadCloser) Read(p []byte) (int, error) { return c.dec.Read(p) }

func (c *dataReadCloser) Close() error {
	if c.d.finished {
		return nil
	}
	if err := c.dec.Close(); err != nil {
		return err
	}
	return c.d.drainAndFinish()
}

func readBody(r io.Reader, h chunk.Header, maxChunkBytes uint32) ([]byte, error) {
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

func annotateTruncated(err error) error {
	if err == chunk.ErrEndOfStream {
		return errors.Annotate(ErrTruncated).Reason("stream ended mid-entry").Err()
	}
	return err
}
