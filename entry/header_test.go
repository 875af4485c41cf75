// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package entry

import (
	"testing"

	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	. "github.com/luci/luci-go/common/testing/assertions"
	. "github.com/smartystreets/goconvey/convey"
)

func TestHeader(t *testing.T) {
	t.Parallel()

	Convey("round-trips every kind", t, func() {
		for _, k := range []Kind{KindRegular, KindDirectory, KindSymlink, KindHardlink, KindReference} {
			h := Header{Kind: k, Compression: compress.SchemeXz, Cipher: cryptkit.CipherCamelliaCBC, Path: "dir/file.bin"}
			enc, err := h.Encode()
			So(err, ShouldBeNil)
			got, err := DecodeHeader(enc)
			So(err, ShouldBeNil)
			So(got, ShouldResemble, h)
		}
	})

	Convey("an empty path is valid (archive root entries, if any)", t, func() {
		h := Header{Kind: KindDirectory, Path: ""}
		enc, err := h.Encode()
		So(err, ShouldBeNil)
		got, err := DecodeHeader(enc)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, h)
	})

	Convey("rejects an unknown kind", t, func() {
		h := Header{Kind: Kind(99), Path: "x"}
		_, err := h.Encode()
		So(err, ShouldErrLike, "unknown kind")
	})

	Convey("rejects non-UTF-8 paths", t, func() {
		h := Header{Kind: KindRegular, Path: string([]byte{0xff, 0xfe})}
		_, err := h.Encode()
		So(err, ShouldErrLike, ErrMalformedPath)
	})

	Convey("rejects a body shorter than the fixed prefix", t, func() {
		_, err := DecodeHeader([]byte{1, 2})
		So(err, ShouldErrLike, "too short")
	})

	Convey("rejects a path length that disagrees with the remaining bytes", t, func() {
		body := []byte{byte(KindRegular), byte(compress.SchemeStore), byte(cryptkit.CipherNone), 0, 5, 'h', 'i'}
		_, err := DecodeHeader(body)
		So(err, ShouldErrLike, "remaining")
	})
}
