// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package pipeline

import (
	"bytes"
	"crypto/rand"
	"io/ioutil"
	"testing"

	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	. "github.com/smartystreets/goconvey/convey"
)

func TestPipelineRoundTrip(t *testing.T) {
	t.Parallel()

	Convey("compress-then-encrypt round-trips", t, func() {
		payload := bytes.Repeat([]byte("pna pipeline payload "), 500)
		key := make([]byte, cryptkit.KeySize)
		_, err := rand.Read(key)
		So(err, ShouldBeNil)

		cfg := Config{
			Compression: compress.SchemeZstd,
			Level:       compress.LevelMin,
			Cipher:      cryptkit.CipherAESCTR,
			Key:         key,
		}

		buf := &bytes.Buffer{}
		w, err := EncodeWriter(buf, cfg)
		So(err, ShouldBeNil)
		_, err = w.Write(payload)
		So(err, ShouldBeNil)
		So(w.Close(), ShouldBeNil)

		r, err := DecodeReader(bytes.NewReader(buf.Bytes()), cfg)
		So(err, ShouldBeNil)
		got, err := ioutil.ReadAll(r)
		So(err, ShouldBeNil)
		So(got, ShouldResemble, payload)
	})

	Convey("no compression, no encryption is a pass-through", t, func() {
		cfg := Config{Compression: compress.SchemeStore, Cipher: cryptkit.CipherNone}

		buf := &bytes.Buffer{}
		w, err := EncodeWriter(buf, cfg)
		So(err, ShouldBeNil)
		_, err = w.Write([]byte("plain"))
		So(err, ShouldBeNil)
		So(w.Close(), ShouldBeNil)
		So(buf.String(), ShouldEqual, "plain")
	})

	Convey("same plaintext and password, fresh IV, differs every time", t, func() {
		key := make([]byte, cryptkit.KeySize)
		_, err := rand.Read(key)
		So(err, ShouldBeNil)
		cfg := Config{Compression: compress.SchemeStore, Cipher: cryptkit.CipherAESCTR, Key: key}

		encodeOnce := func() []byte {
			buf := &bytes.Buffer{}
			w, err := EncodeWriter(buf, cfg)
			So(err, ShouldBeNil)
			_, err = w.Write([]byte("same plaintext every time"))
			So(err, ShouldBeNil)
			So(w.Close(), ShouldBeNil)
			return buf.Bytes()
		}

		a, b := encodeOnce(), encodeOnce()
		So(a, ShouldNotResemble, b)
	})
}
