// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package archive

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/ChanTsune/Portable-Network-Archive/chunk"
	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	"github.com/ChanTsune/Portable-Network-Archive/entry"
	. "github.com/luci/luci-go/common/testing/assertions"
	. "github.com/smartystreets/goconvey/convey"
)

// nopCloseBuffer adapts a bytes.Buffer into an io.WriteCloser for a single
// in-memory volume.
type nopCloseBuffer struct{ *bytes.Buffer }

func (nopCloseBuffer) Close() error { return nil }

func newVolume() *nopCloseBuffer { return &nopCloseBuffer{&bytes.Buffer{}} }

func readAllEntries(t *testing.T, rd *Reader) []string {
	t.Helper()
	var got []string
	for {
		b, err := rd.Next(context.Background())
		if err == io.EOF {
			break
		}
		So(err, ShouldBeNil)
		switch b.Kind {
		case BlockEntry:
			got = append(got, b.Entry.Header.Path)
			rc, err := b.Entry.OpenData(nil)
			So(err, ShouldBeNil)
			_, err = io.ReadAll(rc)
			So(err, ShouldBeNil)
			So(rc.Close(), ShouldBeNil)
		case BlockSolid:
			for {
				h, err := chunk.ReadHeader(b.Solid)
				if err == chunk.ErrEndOfStream {
					break
				}
				So(err, ShouldBeNil)
				d, err := entry.Decode(b.Solid, h, chunk.DefaultMaxChunkBytes)
				So(err, ShouldBeNil)
				got = append(got, d.Header.Path)
				So(d.Discard(), ShouldBeNil)
			}
		}
	}
	return got
}

func TestArchiveRoundTrip(t *testing.T) {
	t.Parallel()

	Convey("a plain multi-entry archive round-trips", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil, WithCompression(compress.SchemeDeflate, compress.LevelMin))
		So(err, ShouldBeNil)

		ctx := context.Background()
		So(w.WriteEntry(ctx, "a.txt", entry.KindRegular, entry.Meta{}, bytes.NewReader([]byte("hello"))), ShouldBeNil)
		So(w.WriteEntry(ctx, "dir/", entry.KindDirectory, entry.Meta{}, nil), ShouldBeNil)
		So(w.WriteEntry(ctx, "b.txt", entry.KindRegular, entry.Meta{}, bytes.NewReader([]byte("world"))), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		rd, err := Open(bytes.NewReader(vol.Bytes()), "mem")
		So(err, ShouldBeNil)
		got := readAllEntries(t, rd)
		So(got, ShouldResemble, []string{"a.txt", "dir/", "b.txt"})
	})

	Convey("an empty archive has zero entries and a clean EOF", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil)
		So(err, ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		rd, err := Open(bytes.NewReader(vol.Bytes()), "mem")
		So(err, ShouldBeNil)
		_, err = rd.Next(context.Background())
		So(err, ShouldEqual, io.EOF)
	})

	Convey("a zero-byte regular entry round-trips with no FDAT chunks", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil)
		So(err, ShouldBeNil)
		So(w.WriteEntry(context.Background(), "empty.bin", entry.KindRegular, entry.Meta{}, bytes.NewReader(nil)), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		rd, err := Open(bytes.NewReader(vol.Bytes()), "mem")
		So(err, ShouldBeNil)
		b, err := rd.Next(context.Background())
		So(err, ShouldBeNil)
		So(b.Kind, ShouldEqual, BlockEntry)
		rc, err := b.Entry.OpenData(nil)
		So(err, ShouldBeNil)
		data, err := io.ReadAll(rc)
		So(err, ShouldBeNil)
		So(len(data), ShouldEqual, 0)
		So(rc.Close(), ShouldBeNil)
	})
}

func TestArchiveCorruption(t *testing.T) {
	t.Parallel()

	Convey("flipping a byte in an FDAT body surfaces Crc with offset and type", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil, WithCompression(compress.SchemeStore, 0))
		So(err, ShouldBeNil)
		So(w.WriteEntry(context.Background(), "data.bin", entry.KindRegular, entry.Meta{}, bytes.NewReader([]byte("hello world"))), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		raw := vol.Bytes()
		marker := bytes.Index(raw, []byte("hello world"))
		So(marker, ShouldBeGreaterThan, -1)
		corrupt := append([]byte{}, raw...)
		corrupt[marker+3] ^= 0xFF // flip a byte inside the FDAT body, leaving length/type intact

		rd, err := Open(bytes.NewReader(corrupt), "mem")
		So(err, ShouldBeNil)
		b, err := rd.Next(context.Background())
		So(err, ShouldBeNil)
		rc, err := b.Entry.OpenData(nil)
		So(err, ShouldBeNil)
		_, err = io.ReadAll(rc)
		So(err, ShouldErrLike, chunk.ErrBadCRC)
		So(err, ShouldErrLike, "FDAT")
		So(err, ShouldErrLike, "offset")
	})
}

func TestArchiveSolidMode(t *testing.T) {
	t.Parallel()

	Convey("a solid block's entries are reachable in both skip and open modes", t, func() {
		buildArchive := func() []byte {
			vol := newVolume()
			w, err := NewWriter(vol, nil, WithSolid(true), WithCompression(compress.SchemeZstd, compress.LevelMin))
			So(err, ShouldBeNil)
			sw, err := w.OpenSolidBlock(context.Background())
			So(err, ShouldBeNil)
			for _, name := range []string{"s1", "s2"} {
				So(entry.Write(sw, entry.WriteParams{
					Header: entry.Header{Kind: entry.KindRegular, Path: name},
					Data:   bytes.NewReader([]byte(name)),
				}), ShouldBeNil)
			}
			So(sw.Close(), ShouldBeNil)
			So(w.Close(), ShouldBeNil)
			return vol.Bytes()
		}

		Convey("open-solid traversal flattens the inner entries", func() {
			raw := buildArchive()
			rd, err := Open(bytes.NewReader(raw), "mem")
			So(err, ShouldBeNil)
			got := readAllEntries(t, rd)
			So(got, ShouldResemble, []string{"s1", "s2"})
		})

		Convey("skip-solid traversal still counts the block as one unit", func() {
			raw := buildArchive()
			rd, err := Open(bytes.NewReader(raw), "mem")
			So(err, ShouldBeNil)
			var blocks int
			for {
				b, err := rd.Next(context.Background())
				if err == io.EOF {
					break
				}
				So(err, ShouldBeNil)
				blocks++
				So(b.Kind, ShouldEqual, BlockSolid)
				So(b.Solid.Discard(), ShouldBeNil)
			}
			So(blocks, ShouldEqual, 1)
		})
	})
}

func TestArchiveEncryption(t *testing.T) {
	t.Parallel()

	Convey("two runs with the same plaintext produce different ciphertext", t, func() {
		build := func() []byte {
			vol := newVolume()
			w, err := NewWriter(vol, nil,
				WithEncryption(cryptkit.CipherAESCTR),
				WithPassword([]byte("hunter2")),
				WithKDFPBKDF2(1000))
			So(err, ShouldBeNil)
			So(w.WriteEntry(context.Background(), "secret.txt", entry.KindRegular, entry.Meta{}, bytes.NewReader([]byte("same content"))), ShouldBeNil)
			So(w.Close(), ShouldBeNil)
			return vol.Bytes()
		}

		a, b := build(), build()
		So(bytes.Equal(a, b), ShouldBeFalse)

		rd, err := Open(bytes.NewReader(a), "mem", WithReadPassword([]byte("hunter2")))
		So(err, ShouldBeNil)
		blk, err := rd.Next(context.Background())
		So(err, ShouldBeNil)
		rc, err := blk.Entry.OpenData([]byte("hunter2"))
		So(err, ShouldBeNil)
		got, err := io.ReadAll(rc)
		So(err, ShouldBeNil)
		So(string(got), ShouldEqual, "same content")
		So(rc.Close(), ShouldBeNil)
	})
}

func TestArchiveVolumeSplitting(t *testing.T) {
	t.Parallel()

	Convey("an archive splits across volumes and a locator follows it transparently", t, func() {
		var volumes [][]byte
		cur := newVolume()
		volumes = append(volumes, nil) // placeholder for volume 1, filled on Close

		factory := func(archiveNumber uint32) (io.WriteCloser, error) {
			volumes[len(volumes)-1] = cur.Bytes()
			nv := newVolume()
			cur = nv
			volumes = append(volumes, nil)
			return nv, nil
		}

		w, err := NewWriter(cur, factory, WithMaxVolumeBytes(96))
		So(err, ShouldBeNil)
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			path := string(rune('a' + i))
			So(w.WriteEntry(ctx, path, entry.KindRegular, entry.Meta{}, bytes.NewReader(bytes.Repeat([]byte{byte('0' + i)}, 10))), ShouldBeNil)
		}
		So(w.Close(), ShouldBeNil)
		volumes[len(volumes)-1] = cur.Bytes()

		So(len(volumes), ShouldBeGreaterThan, 1)

		idx := 0
		locator := func(currentPath string, archiveNumber uint32) (io.Reader, string, error) {
			idx++
			if idx >= len(volumes) {
				return nil, "", nil
			}
			return bytes.NewReader(volumes[idx]), "mem", nil
		}

		rd, err := Open(bytes.NewReader(volumes[0]), "mem", WithVolumeLocator(locator))
		So(err, ShouldBeNil)
		got := readAllEntries(t, rd)
		So(len(got), ShouldEqual, 10)
	})

	Convey("NewWriter rejects a max_volume_bytes below the minimum", t, func() {
		_, err := NewWriter(newVolume(), nil, WithMaxVolumeBytes(10))
		So(err, ShouldErrLike, "below minimum")
	})

	Convey("reaching ANXT with no locator configured reports ErrNeedsNextVolume", t, func() {
		var volumes [][]byte
		cur := newVolume()
		volumes = append(volumes, nil)
		factory := func(archiveNumber uint32) (io.WriteCloser, error) {
			volumes[len(volumes)-1] = cur.Bytes()
			nv := newVolume()
			cur = nv
			volumes = append(volumes, nil)
			return nv, nil
		}
		w, err := NewWriter(cur, factory, WithMaxVolumeBytes(96))
		So(err, ShouldBeNil)
		ctx := context.Background()
		for i := 0; i < 10; i++ {
			path := string(rune('a' + i))
			So(w.WriteEntry(ctx, path, entry.KindRegular, entry.Meta{}, bytes.NewReader(bytes.Repeat([]byte{byte('0' + i)}, 10))), ShouldBeNil)
		}
		So(w.Close(), ShouldBeNil)
		volumes[len(volumes)-1] = cur.Bytes()
		So(len(volumes), ShouldBeGreaterThan, 1)

		rd, err := Open(bytes.NewReader(volumes[0]), "mem")
		So(err, ShouldBeNil)
		var lastErr error
		for {
			_, err := rd.Next(context.Background())
			if err != nil {
				lastErr = err
				break
			}
		}
		So(lastErr, ShouldEqual, ErrNeedsNextVolume)
	})
}

func TestArchiveIgnoreZeros(t *testing.T) {
	t.Parallel()

	Convey("WithIgnoreZeros tolerates padding between chunks", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil)
		So(err, ShouldBeNil)
		So(w.WriteEntry(context.Background(), "only.txt", entry.KindRegular, entry.Meta{}, bytes.NewReader([]byte("x"))), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		// Splice zero padding in right before the closing AEND chunk (the
		// last 12 bytes of a single-entry, unencrypted archive: an 8-byte
		// header plus 4-byte CRC, no body).
		base := vol.Bytes()
		split := len(base) - chunk.MinFrameBytes
		padded := append(append(append([]byte{}, base[:split]...), make([]byte, 16)...), base[split:]...)

		rd, err := Open(bytes.NewReader(padded), "mem")
		So(err, ShouldBeNil)
		_, err = rd.Next(context.Background()) // the one real entry, unaffected by trailing padding
		So(err, ShouldBeNil)
		_, err = rd.Next(context.Background()) // now walks into the zero padding
		So(err, ShouldNotBeNil)

		rd, err = Open(bytes.NewReader(padded), "mem", WithIgnoreZeros(true))
		So(err, ShouldBeNil)
		got := readAllEntries(t, rd)
		So(got, ShouldResemble, []string{"only.txt"})
	})
}

func TestArchiveReferenceConsistency(t *testing.T) {
	t.Parallel()

	Convey("a reference whose target was already seen resolves", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil)
		So(err, ShouldBeNil)
		ctx := context.Background()
		So(w.WriteEntry(ctx, "real.txt", entry.KindRegular, entry.Meta{}, bytes.NewReader([]byte("x"))), ShouldBeNil)
		So(w.WriteEntry(ctx, "alias.txt", entry.KindReference, entry.Meta{}, bytes.NewReader([]byte("real.txt"))), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		rd, err := Open(bytes.NewReader(vol.Bytes()), "mem")
		So(err, ShouldBeNil)

		b, err := rd.Next(ctx)
		So(err, ShouldBeNil)
		So(b.Entry.Discard(), ShouldBeNil)

		b, err = rd.Next(ctx)
		So(err, ShouldBeNil)
		rc, err := b.Entry.OpenData(nil)
		So(err, ShouldBeNil)
		target, err := io.ReadAll(rc)
		So(err, ShouldBeNil)
		So(rc.Close(), ShouldBeNil)
		So(rd.VerifyReference(string(target)), ShouldBeNil)
	})

	Convey("a reference to an unseen target is rejected", t, func() {
		vol := newVolume()
		w, err := NewWriter(vol, nil)
		So(err, ShouldBeNil)
		So(w.WriteEntry(context.Background(), "alias.txt", entry.KindReference, entry.Meta{}, bytes.NewReader([]byte("ghost.txt"))), ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		rd, err := Open(bytes.NewReader(vol.Bytes()), "mem")
		So(err, ShouldBeNil)
		b, err := rd.Next(context.Background())
		So(err, ShouldBeNil)
		So(rd.VerifyReference("ghost.txt"), ShouldErrLike, "never seen")
		So(b.Entry.Discard(), ShouldBeNil)
	})
}
