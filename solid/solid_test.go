// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package solid

import (
	"bytes"
	"crypto/rand"
	"io"
	"testing"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	"github.com/ChanTsune/Portable-Network-Archive/entry"
	. "github.com/luci/luci-go/common/testing/assertions"
	. "github.com/smartystreets/goconvey/convey"
)

// readASLD strips the aSLD chunk a NewWriter call produced, returning the
// rest of the stream positioned right after it.
func readASLD(t *testing.T, buf []byte) (asldBody []byte, rest io.Reader) {
	t.Helper()
	r := bytes.NewReader(buf)
	h, err := chunk.ReadHeader(r)
	So(err, ShouldBeNil)
	So(h.Type, ShouldResemble, chunk.TypeASLD)
	body, err := readFullBody(r, h, chunk.DefaultMaxChunkBytes)
	So(err, ShouldBeNil)
	return body, r
}

func TestSolidBlockRoundTrip(t *testing.T) {
	t.Parallel()

	Convey("three inner entries round-trip through one zstd solid block", t, func() {
		buf := &bytes.Buffer{}
		w, err := NewWriter(buf, WriteParams{
			Header: Header{Compression: compress.SchemeZstd, Cipher: cryptkit.CipherNone},
			Level:  compress.LevelMin,
		})
		So(err, ShouldBeNil)

		names := []string{"one", "two", "three"}
		for i, name := range names {
			So(entry.Write(w, entry.WriteParams{
				Header: entry.Header{Kind: entry.KindRegular, Path: name},
				Data:   bytes.NewReader([]byte{byte('a' + i), byte('a' + i), byte('a' + i)}),
			}), ShouldBeNil)
		}
		So(w.Close(), ShouldBeNil)

		asldBody, rest := readASLD(t, buf.Bytes())
		r, err := Open(rest, asldBody, chunk.DefaultMaxChunkBytes, nil)
		So(err, ShouldBeNil)

		var got []string
		for i := 0; i < 3; i++ {
			h, err := chunk.ReadHeader(r)
			So(err, ShouldBeNil)
			So(h.Type, ShouldResemble, chunk.TypeFHED)
			d, err := entry.Decode(r, h, chunk.DefaultMaxChunkBytes)
			So(err, ShouldBeNil)
			got = append(got, d.Header.Path)
			rc, err := d.OpenData(nil)
			So(err, ShouldBeNil)
			payload, err := io.ReadAll(rc)
			So(err, ShouldBeNil)
			So(string(payload), ShouldEqual, string([]byte{byte('a' + i), byte('a' + i), byte('a' + i)}))
			So(rc.Close(), ShouldBeNil)
		}
		So(got, ShouldResemble, names)

		_, err = chunk.ReadHeader(r)
		So(err, ShouldEqual, chunk.ErrEndOfStream)
		So(r.Close(), ShouldBeNil)
	})

	Convey("an encrypted solid block requires the right password", t, func() {
		buildEncrypted := func() (asldBody []byte, rest io.Reader) {
			kdf, err := cryptkit.NewPBKDF2Params(rand.Reader, 1000, cryptkit.KeySize)
			So(err, ShouldBeNil)
			key, err := kdf.DeriveKey([]byte("s3cr3t"))
			So(err, ShouldBeNil)

			buf := &bytes.Buffer{}
			w, err := NewWriter(buf, WriteParams{
				Header: Header{Compression: compress.SchemeStore, Cipher: cryptkit.CipherAESCBC},
				KDF:    &kdf,
				Key:    key,
			})
			So(err, ShouldBeNil)
			So(entry.Write(w, entry.WriteParams{
				Header: entry.Header{Kind: entry.KindRegular, Path: "only"},
				Data:   bytes.NewReader([]byte("inner payload")),
			}), ShouldBeNil)
			So(w.Close(), ShouldBeNil)
			return readASLD(t, buf.Bytes())
		}

		Convey("the right password decrypts it", func() {
			asldBody, rest := buildEncrypted()
			r, err := Open(rest, asldBody, chunk.DefaultMaxChunkBytes, []byte("s3cr3t"))
			So(err, ShouldBeNil)

			h, err := chunk.ReadHeader(r)
			So(err, ShouldBeNil)
			d, err := entry.Decode(r, h, chunk.DefaultMaxChunkBytes)
			So(err, ShouldBeNil)
			rc, err := d.OpenData(nil)
			So(err, ShouldBeNil)
			got, err := io.ReadAll(rc)
			So(err, ShouldBeNil)
			So(string(got), ShouldEqual, "inner payload")
			So(rc.Close(), ShouldBeNil)
			So(r.Close(), ShouldBeNil)
		})

		Convey("the wrong password is rejected rather than silently returning garbage", func() {
			// A wrong AES-CBC key decrypts every block to garbage from the
			// first one, not just a bad trailing pad, so the failure may
			// surface as early as the inner stream's own chunk framing
			// rather than only once its payload is read.
			asldBody, rest := buildEncrypted()
			r, err := Open(rest, asldBody, chunk.DefaultMaxChunkBytes, []byte("wrong password"))
			if err == nil {
				var h chunk.Header
				h, err = chunk.ReadHeader(r)
				if err == nil {
					var d *entry.Decoded
					d, err = entry.Decode(r, h, chunk.DefaultMaxChunkBytes)
					if err == nil {
						var rc io.ReadCloser
						rc, err = d.OpenData(nil)
						if err == nil {
							_, err = io.ReadAll(rc)
						}
					}
				}
			}
			So(err, ShouldNotBeNil)
		})
	})

	Convey("skip-solid mode discards without decoding", t, func() {
		buf := &bytes.Buffer{}
		w, err := NewWriter(buf, WriteParams{Header: Header{Compression: compress.SchemeDeflate, Cipher: cryptkit.CipherNone}, Level: compress.LevelMin})
		So(err, ShouldBeNil)
		So(entry.Write(w, entry.WriteParams{
			Header: entry.Header{Kind: entry.KindRegular, Path: "skip-me"},
			Data:   bytes.NewReader(bytes.Repeat([]byte("x"), 5000)),
		}), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		asldBody, rest := readASLD(t, buf.Bytes())
		r, err := Open(rest, asldBody, chunk.DefaultMaxChunkBytes, nil)
		So(err, ShouldBeNil)
		So(r.Discard(), ShouldBeNil)
		So(r.finished, ShouldBeTrue)
	})

	Convey("an empty solid block still emits one aDAT chunk", t, func() {
		buf := &bytes.Buffer{}
		w, err := NewWriter(buf, WriteParams{Header: Header{Compression: compress.SchemeStore, Cipher: cryptkit.CipherNone}})
		So(err, ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		var adatCount int
		r := bytes.NewReader(buf.Bytes())
		for {
			h, err := chunk.ReadHeader(r)
			if err == chunk.ErrEndOfStream {
				break
			}
			So(err, ShouldBeNil)
			if h.Type == chunk.TypeADAT {
				adatCount++
			}
			So(chunk.OpenBody(r, h).Close(), ShouldBeNil)
		}
		So(adatCount, ShouldEqual, 1)
	})

	Convey("DecodeHeader rejects the wrong body length", t, func() {
		_, err := DecodeHeader([]byte{1})
		So(err, ShouldErrLike, "want 2 bytes")
	})
}
