// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package entry implements PNA's entry state machine (spec.md §3.3, §4.6):
// the FHED [PHSF?] Meta* FDAT* FEND chunk run that reconstructs one
// logical file, directory, symlink, hardlink, or reference.
package entry

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/ChanTsune/Portable-Network-Archive/compress"
	"github.com/ChanTsune/Portable-Network-Archive/cryptkit"
	"github.com/luci/luci-go/common/errors"
)

// Kind is FHED's file-type byte (spec.md §3.3).
type Kind byte

const (
	KindRegular Kind = iota + 1
	KindDirectory
	KindSymlink
	KindHardlink
	KindReference
)

func (k Kind) Valid() error {
	switch k {
	case KindRegular, KindDirectory, KindSymlink, KindHardlink, KindReference:
		return nil
	}
	return errors.Reason("entry: unknown kind %(k)d").D("k", byte(k)).Err()
}

// CarriesData reports whether entries of this kind may have FDAT chunks
// (spec.md §4.6: "Directory, symlink, and reference entries may carry
// zero FDAT chunks" — symlink/hardlink/reference in fact always carry
// exactly their target path as data; directories never do).
func (k Kind) CarriesData() bool { return k != KindDirectory }

// Header is the decoded FHED chunk body.
type Header struct {
	Kind        Kind
	Compression compress.Scheme
	Cipher      cryptkit.CipherKind
	Path        string
}

// ErrMalformedPath is returned for a non-UTF-8 path, per spec.md §7
// MalformedMetadata.
var ErrMalformedPath = errors.New("entry: path is not valid UTF-8")

// Encode serializes h as:
// kind:u8 || compression:u8 || cipher:u8 || len(path):u16 || path
func (h Header) Encode() ([]byte, error) {
	if err := h.Kind.Valid(); err != nil {
		return nil, err
	}
	if err := h.Compression.Valid(); err != nil {
		return nil, err
	}
	if err := h.Cipher.Valid(); err != nil {
		return nil, err
	}
	if !utf8.ValidString(h.Path) {
		return nil, errors.Annotate(ErrMalformedPath).Reason("path %(p)q").D("p", h.Path).Err()
	}
	path := []byte(h.Path)
	if len(path) > 0xFFFF {
		return nil, errors.Reason("entry: path too long (%(n)d bytes)").D("n", len(path)).Err()
	}
	buf := make([]byte, 0, 3+2+len(path))
	buf = append(buf, byte(h.Kind), byte(h.Compression), byte(h.Cipher))
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(path)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, path...)
	return buf, nil
}

// DecodeHeader parses an FHED chunk body.
func DecodeHeader(b []byte) (Header, error) {
	if len(b) < 5 {
		return Header{}, errors.Reason("entry: FHED too short (%(n)d bytes)").D("n", len(b)).Err()
	}
	h := Header{
		Kind:        Kind(b[0]),
		Compression: compress.Scheme(b[1]),
		Cipher:      cryptkit.CipherKind(b[2]),
	}
	if err := h.Kind.Valid(); err != nil {
		return Header{}, err
	}
	if err := h.Compression.Valid(); err != nil {
		return Header{}, err
	}
	if err := h.Cipher.Valid(); err != nil {
		return Header{}, err
	}
	n := binary.BigEndian.Uint16(b[3:5])
	rest := b[5:]
	if uint16(len(rest)) != n {
		return Header{}, errors.Reason("entry: FHED path length %(n)d != remaining %(have)d bytes").
			D("n", n).D("have", len(rest)).Err()
	}
	if !utf8.Valid(rest) {
		return Header{}, errors.Annotate(ErrMalformedPath).Reason("FHED path").Err()
	}
	h.Path = string(rest)
	return h, nil
}
