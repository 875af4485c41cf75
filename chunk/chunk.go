// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package chunk implements the PNA chunk framing layer: a length-prefixed,
// CRC-protected, typed byte record, and the catalog of known chunk types
// and their placement rules.
//
// A chunk on the wire is `length:u32 || type:[4]byte || data:bytes[length]
// || crc32:u32`, all big-endian, with the CRC computed over type||data
// using the standard IEEE polynomial (the same framing PNG uses for its
// own chunks).
package chunk

import (
	"bufio"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/luci/luci-go/common/errors"
	"github.com/luci/luci-go/common/iotools"
)

// Magic is the 8-byte prefix every PNA volume begins with: the PNG-style
// high-bit/CRLF/SUB test, adapted with PNA's own letters.
var Magic = [8]byte{0x89, 'P', 'N', 'A', 0x0D, 0x0A, 0x1A, 0x0A}

// DefaultMaxChunkBytes is the default cap on a single chunk's body, per
// spec.md §6.4 (ReadOptions.max_chunk_bytes / WriteOptions.chunk_body_cap).
// It is one byte short of 2^31 so that chunk lengths always fit a signed
// 32-bit length field as well, which keeps this implementation portable to
// languages without unsigned 32-bit arithmetic.
const DefaultMaxChunkBytes = 1<<31 - 1

// frameOverhead is the number of bytes a chunk adds beyond its body: the
// 4-byte length, the 4-byte type, and the 4-byte trailing CRC.
const frameOverhead = 12

// MinFrameBytes is the smallest a single chunk frame (zero-length body) can
// be. The archive writer sizes its per-volume ANXT+AEND reserve from it;
// WriteOptions.max_volume_bytes is validated against archive.MinVolumeBytes.
const MinFrameBytes = frameOverhead

// Sentinel errors, per spec.md §7.
var (
	ErrShortRead      = errors.New("chunk: short read")
	ErrBadCRC         = errors.New("chunk: crc mismatch")
	ErrOverLongLength = errors.New("chunk: length exceeds configured maximum")
	ErrEndOfStream    = errors.New("chunk: end of stream")
)

// Type is a 4-byte chunk type identifier. The case of each byte is
// semantically meaningful; see Type.Critical, Type.Public, Type.SafeToCopy.
type Type [4]byte

// MustType builds a Type from a 4-character ASCII string. It panics if s is
// not exactly 4 bytes, which only happens for a programmer error in a
// constant declaration.
func MustType(s string) Type {
	if len(s) != 4 {
		panic("chunk: type must be exactly 4 bytes: " + s)
	}
	var t Type
	copy(t[:], s)
	return t
}

func (t Type) String() string { return string(t[:]) }

func isUpper(b byte) bool { return b >= 'A' && b <= 'Z' }
func isLower(b byte) bool { return b >= 'a' && b <= 'z' }

// Critical reports whether an unrecognizing reader must reject this chunk
// type (byte 1 uppercase), per spec.md §3.2.
func (t Type) Critical() bool { return isUpper(t[0]) }

// Public reports whether the type is from the registered catalog (byte 2
// uppercase) as opposed to a private/experimental extension.
func (t Type) Public() bool { return isUpper(t[1]) }

// SafeToCopy reports whether a rewriting tool that doesn't understand this
// chunk may carry it forward unmodified (byte 4 lowercase).
func (t Type) SafeToCopy() bool { return isLower(t[3]) }

// Valid checks the ASCII-letter and reserved-bit constraints of §3.2.
// Byte 3 (the "reserved" bit) must currently be uppercase.
func (t Type) Valid() error {
	for i, b := range t {
		if !isUpper(b) && !isLower(b) {
			return errors.Reason("chunk: type byte %(i)d is not an ASCII letter: %(t)q").
				D("i", i).D("t", t.String()).Err()
		}
	}
	if !isUpper(t[2]) {
		return errors.Reason("chunk: type %(t)q has reserved byte 3 lowercase").
			D("t", t.String()).Err()
	}
	return nil
}

// WriteMagic writes the PNA file magic to w.
func WriteMagic(w io.Writer) error {
	_, err := w.Write(Magic[:])
	return err
}

// ReadMagic reads and validates the PNA file magic from r.
func ReadMagic(r io.Reader) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return errors.Annotate(ErrEndOfStream).Reason("reading magic").Err()
		}
		return err
	}
	if buf != Magic {
		return errors.Reason("chunk: bad magic: % x").D("x", buf).Err()
	}
	return nil
}

// Header is a decoded chunk's length and type, read before its body.
// Offset is the byte position in the stream where this header began, set
// by ReadHeader when r reports one (see OffsetReader); it is 0 when the
// source doesn't track position, e.g. a plain bytes.Reader in a test.
type Header struct {
	Length uint32
	Type   Type
	Offset int64
}

// offsetter is implemented by a reader that knows how many bytes of its
// stream have been consumed so far, such as *OffsetReader. ReadHeader uses
// it, when available, to stamp each Header with the offset a later CRC
// failure should report (spec.md §7 Crc, §8.2 S6).
type offsetter interface {
	Offset() int64
}

// ReadHeader reads the length and type fields of the next chunk. It
// returns ErrEndOfStream (not an error wrapping io.EOF) if the stream ends
// cleanly before any bytes of a new header are read, so callers can
// distinguish "no more chunks" from a truncated one.
func ReadHeader(r io.Reader) (Header, error) {
	var off int64
	if o, ok := r.(offsetter); ok {
		off = o.Offset()
	}

	var buf [8]byte
	n, err := io.ReadFull(r, buf[:])
	if err != nil {
		if n == 0 && err == io.EOF {
			return Header{}, ErrEndOfStream
		}
		return Header{}, errors.Annotate(ErrShortRead).Reason("reading chunk header").Err()
	}
	var h Header
	h.Length = binary.BigEndian.Uint32(buf[0:4])
	copy(h.Type[:], buf[4:8])
	h.Offset = off
	return h, nil
}

// Encode frames typ and data as a single chunk and writes it to w.
func Encode(w io.Writer, typ Type, data []byte) error {
	if uint64(len(data)) > uint64(^uint32(0)) {
		return errors.Reason("chunk: body too large: %(n)d bytes").D("n", len(data)).Err()
	}

	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(len(data)))
	copy(hdr[4:8], typ[:])

	crc := crc32.NewIEEE()
	crc.Write(hdr[4:8])
	crc.Write(data)

	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(data) > 0 {
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], crc.Sum32())
	_, err := w.Write(trailer[:])
	return err
}

// Decode reads one full chunk (header, body, and CRC trailer) from r,
// rejecting bodies over maxBody bytes. It fully materializes the body; use
// OpenBody to stream a body without buffering it.
func Decode(r io.Reader, maxBody uint32) (Type, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Type{}, nil, err
	}
	if h.Length > maxBody {
		return Type{}, nil, errors.Annotate(ErrOverLongLength).
			Reason("chunk %(t)q length %(n)d exceeds max %(max)d").
			D("t", h.Type.String()).D("n", h.Length).D("max", maxBody).Err()
	}
	body := make([]byte, h.Length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Type{}, nil, errors.Annotate(ErrShortRead).Reason("reading chunk body").Err()
	}
	if err := verifyCRC(r, h, body); err != nil {
		return Type{}, nil, err
	}
	return h.Type, body, nil
}

func verifyCRC(r io.Reader, h Header, body []byte) error {
	var trailer [4]byte
	if _, err := io.ReadFull(r, trailer[:]); err != nil {
		return errors.Annotate(ErrShortRead).Reason("reading chunk crc").Err()
	}
	want := binary.BigEndian.Uint32(trailer[:])
	crc := crc32.NewIEEE()
	crc.Write(h.Type[:])
	crc.Write(body)
	if got := crc.Sum32(); got != want {
		return errors.Annotate(ErrBadCRC).
			Reason("chunk %(t)q at offset %(off)d: crc %(got)x != %(want)x").
			D("t", h.Type.String()).D("off", h.Offset).D("got", got).D("want", want).Err()
	}
	return nil
}

// BodyReader streams a chunk's body without requiring the whole thing to
// be buffered in memory, verifying the CRC as a side effect of reading to
// EOF (or of Close, for callers that stop reading early and just want to
// skip the rest).
type BodyReader struct {
	r       io.Reader
	lr      *io.LimitedReader
	crc     hash.Hash32
	header  Header
	verifed bool
}

// OpenBody begins streaming h's body from r. The caller must read exactly
// to EOF (or call Close, which discards the remainder) before reading the
// next chunk header, since the CRC trailer immediately follows the body.
func OpenBody(r io.Reader, h Header) *BodyReader {
	lr := &io.LimitedReader{R: r, N: int64(h.Length)}
	crc := crc32.NewIEEE()
	crc.Write(h.Type[:])
	return &BodyReader{r: r, lr: lr, crc: crc, header: h}
}

func (b *BodyReader) Read(p []byte) (int, error) {
	n, err := b.lr.Read(p)
	if n > 0 {
		b.crc.Write(p[:n])
	}
	if err == io.EOF && !b.verifed {
		if verr := b.finish(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

// Close discards any unread portion of the body and verifies the CRC.
// Safe to call after the body has already been fully read.
func (b *BodyReader) Close() error {
	if b.lr.N > 0 {
		if _, err := io.Copy(b.crc, b.lr); err != nil {
			return err
		}
	}
	if !b.verifed {
		return b.finish()
	}
	return nil
}

func (b *BodyReader) finish() error {
	b.verifed = true
	var trailer [4]byte
	if _, err := io.ReadFull(b.r, trailer[:]); err != nil {
		return errors.Annotate(ErrShortRead).Reason("reading chunk crc").Err()
	}
	want := binary.BigEndian.Uint32(trailer[:])
	if got := b.crc.Sum32(); got != want {
		return errors.Annotate(ErrBadCRC).
			Reason("chunk %(t)q at offset %(off)d: crc %(got)x != %(want)x").
			D("t", b.header.Type.String()).D("off", b.header.Offset).D("got", got).D("want", want).Err()
	}
	return nil
}

// SkipZeros discards leading zero bytes from a buffered reader, for the
// ignore_zeros tolerance of spec.md §4.8 / §8.2 (tape padding between
// chunks). It stops at the first non-zero byte, or at a zero byte that
// begins a chunk header (one whose type field, 4 bytes on, is a valid
// Type), and leaves that byte unread.
func SkipZeros(br *bufio.Reader) error {
	for {
		b, err := br.Peek(8)
		if len(b) == 0 {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if b[0] != 0 {
			return nil
		}
		if len(b) == 8 {
			var t Type
			copy(t[:], b[4:8])
			if t.Valid() == nil {
				return nil
			}
		}
		if _, err := br.Discard(1); err != nil {
			return err
		}
	}
}

// OffsetReader buffers r the same way bufio.Reader does, while also
// tracking the logical stream offset of the next unread byte via
// github.com/luci/luci-go/common/iotools.CountingReader. ReadHeader uses
// it to stamp every Header with the position a CRC failure should report,
// correcting for however far bufio has read ahead: Buf.Buffered() bytes
// are already counted but not yet handed to the caller.
type OffsetReader struct {
	Buf *bufio.Reader
	cr  *iotools.CountingReader
}

// NewOffsetReader wraps r for buffered, offset-tracked chunk reading.
func NewOffsetReader(r io.Reader) *OffsetReader {
	cr := &iotools.CountingReader{Reader: r}
	return &OffsetReader{Buf: bufio.NewReader(cr), cr: cr}
}

func (o *OffsetReader) Read(p []byte) (int, error) { return o.Buf.Read(p) }

// Offset returns the stream position of the next byte Read will return.
func (o *OffsetReader) Offset() int64 { return o.cr.Count - int64(o.Buf.Buffered()) }
