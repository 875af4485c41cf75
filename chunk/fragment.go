// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package chunk

import (
	"io"

	"github.com/luci/luci-go/common/errors"
)

// FragmentWriter splits an opaque byte stream into a sequence of typ
// chunks, none larger than maxBody (spec.md §4.5: "the chunker splits
// [pipeline output] into chunk-sized records"). Close flushes any
// buffered remainder as a final (possibly short, possibly empty) chunk;
// a zero-byte write is still emitted so that an empty stream produces at
// least one chunk when emitEmpty is true (used by solid blocks, whose
// aDAT requires 1..* occurrences even for empty payloads).
type FragmentWriter struct {
	w         io.Writer
	typ       Type
	maxBody   int
	buf       []byte
	wroteAny  bool
	emitEmpty bool
}

// NewFragmentWriter returns a FragmentWriter. If emitEmpty is true, Close
// on a stream that never received any bytes still emits one zero-length
// chunk.
func NewFragmentWriter(w io.Writer, typ Type, maxBody int, emitEmpty bool) *FragmentWriter {
	return &FragmentWriter{w: w, typ: typ, maxBody: maxBody, emitEmpty: emitEmpty}
}

func (f *FragmentWriter) Write(p []byte) (int, error) {
	total := len(p)
	f.buf = append(f.buf, p...)
	for len(f.buf) >= f.maxBody {
		if err := f.flush(f.buf[:f.maxBody]); err != nil {
			return 0, err
		}
		f.buf = f.buf[f.maxBody:]
	}
	return total, nil
}

func (f *FragmentWriter) flush(body []byte) error {
	f.wroteAny = true
	return Encode(f.w, f.typ, body)
}

// Close flushes any buffered remainder as a final chunk.
func (f *FragmentWriter) Close() error {
	if len(f.buf) > 0 {
		return f.flush(f.buf)
	}
	if !f.wroteAny && f.emitEmpty {
		return f.flush(nil)
	}
	return nil
}

// FragmentReader concatenates the bodies of consecutive chunks of typ into
// one continuous io.Reader, stopping as soon as a chunk of a different
// type is encountered. That chunk's header is returned so the caller (the
// entry or solid-block state machine) can resume parsing from it without
// re-reading the underlying stream.
//
// On decode the chunker concatenates FDAT payloads before feeding the
// pipeline, so individual chunk boundaries are not semantically
// meaningful (spec.md §4.5).
type FragmentReader struct {
	r       io.Reader
	typ     Type
	maxBody uint32
	cur     *BodyReader
	next    *Header
	err     error
}

// NewFragmentReader returns a FragmentReader that reads typ-chunks from r,
// starting with the already-read header first.
func NewFragmentReader(r io.Reader, first Header, typ Type, maxBody uint32) *FragmentReader {
	fr := &FragmentReader{r: r, typ: typ, maxBody: maxBody}
	fr.cur = OpenBody(r, first)
	return fr
}

func (f *FragmentReader) Read(p []byte) (int, error) {
	for {
		if f.err != nil {
			return 0, f.err
		}
		if f.cur == nil {
			return 0, io.EOF
		}
		n, err := f.cur.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			if cerr := f.cur.Close(); cerr != nil {
				f.err = cerr
				return 0, cerr
			}
			f.cur = nil
			if advErr := f.advance(); advErr != nil {
				f.err = advErr
				return 0, advErr
			}
			continue
		}
		return 0, err
	}
}

func (f *FragmentReader) advance() error {
	h, err := ReadHeader(f.r)
	if err == ErrEndOfStream {
		return nil
	}
	if err != nil {
		return err
	}
	if h.Type != f.typ {
		f.next = &h
		return nil
	}
	if h.Length > f.maxBody {
		return errors.Annotate(ErrOverLongLength).
			Reason("chunk %(t)q length %(n)d exceeds max %(max)d").
			D("t", h.Type.String()).D("n", h.Length).D("max", f.maxBody).Err()
	}
	f.cur = OpenBody(f.r, h)
	return nil
}

// Next returns the header of the first non-typ chunk that ended the
// fragment run, if the caller has fully drained Read to io.EOF. It is nil
// until then (or if the stream itself ended).
func (f *FragmentReader) Next() *Header {
	return f.next
}
