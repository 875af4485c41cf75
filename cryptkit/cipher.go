// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package cryptkit implements PNA's crypto kit (spec.md §4.3): key
// derivation (PBKDF2-HMAC-SHA256 or Argon2id) serialized as a PHC string,
// and AES-256/Camellia-256 block ciphers in CBC (PKCS#7 padded) or CTR
// mode, with a random per-entry/per-block IV prepended to the ciphertext.
package cryptkit

import (
	"crypto/aes"
	"crypto/cipher"
	"io"

	"github.com/aead/camellia"
	"github.com/luci/luci-go/common/errors"
)

// IVSize is the fixed-size IV prefix spec.md §4.3 requires: both AES-256
// and Camellia-256 have a 16-byte block size, so one constant covers both.
const IVSize = 16

// KeySize is the symmetric key length PNA always uses (AES-256/
// Camellia-256).
const KeySize = 32

// CipherKind selects the block cipher and mode of operation for an entry
// or solid block (spec.md §4.3, §9).
type CipherKind byte

const (
	CipherNone CipherKind = iota
	CipherAESCBC
	CipherAESCTR
	CipherCamelliaCBC
	CipherCamelliaCTR
)

// ErrUnsupportedCipher is returned for a CipherKind the registry doesn't
// recognize (spec.md §7 UnsupportedCipher).
var ErrUnsupportedCipher = errors.New("cryptkit: unsupported cipher")

// Valid reports whether c is a recognized cipher kind.
func (c CipherKind) Valid() error {
	switch c {
	case CipherNone, CipherAESCBC, CipherAESCTR, CipherCamelliaCBC, CipherCamelliaCTR:
		return nil
	}
	return errors.Annotate(ErrUnsupportedCipher).Reason("cipher kind %(c)d").D("c", byte(c)).Err()
}

func (c CipherKind) isCBC() bool {
	return c == CipherAESCBC || c == CipherCamelliaCBC
}

func newBlock(c CipherKind, key []byte) (cipher.Block, error) {
	switch c {
	case CipherAESCBC, CipherAESCTR:
		return aes.NewCipher(key)
	case CipherCamelliaCBC, CipherCamelliaCTR:
		return camellia.New(key)
	}
	return nil, ErrUnsupportedCipher
}

// EncryptWriter wraps w so that writes are encrypted under key using c's
// cipher/mode. The IV is drawn from rng (pass crypto/rand.Reader for the
// default CSPRNG, per spec.md §9) and written as a cleartext prefix before
// any ciphertext. The returned WriteCloser MUST be closed to flush the
// final CBC block (a no-op for CTR).
func EncryptWriter(w io.Writer, c CipherKind, key []byte, rng io.Reader) (io.WriteCloser, error) {
	if err := c.Valid(); err != nil {
		return nil, err
	}
	if c == CipherNone {
		return nopWriteCloser{w}, nil
	}

	block, err := newBlock(c, key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rng, iv); err != nil {
		return nil, errors.Annotate(err).Reason("generating iv").Err()
	}
	if _, err := w.Write(iv); err != nil {
		return nil, err
	}

	if c.isCBC() {
		return &cbcEncryptWriter{w: w, mode: cipher.NewCBCEncrypter(block, iv), blockSize: block.BlockSize()}, nil
	}
	stream := cipher.NewCTR(block, iv)
	return nopWriteCloser{&cipher.StreamWriter{S: stream, W: w}}, nil
}

// DecryptReader wraps r so that reads are decrypted under key using c's
// cipher/mode. It first reads the IVSize-byte IV prefix written by
// EncryptWriter.
func DecryptReader(r io.Reader, c CipherKind, key []byte) (io.Reader, error) {
	if err := c.Valid(); err != nil {
		return nil, err
	}
	if c == CipherNone {
		return r, nil
	}

	block, err := newBlock(c, key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(r, iv); err != nil {
		return nil, errors.Annotate(err).Reason("reading iv").Err()
	}

	if c.isCBC() {
		return newCBCDecryptReader(r, cipher.NewCBCDecrypter(block, iv), block.BlockSize()), nil
	}
	stream := cipher.NewCTR(block, iv)
	return &cipher.StreamReader{S: stream, R: r}, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// cbcEncryptWriter buffers plaintext so that exactly one partial-or-full
// block is always held back until Close, when it is PKCS#7 padded and
// encrypted. This is what lets a streaming writer produce correctly padded
// CBC ciphertext without knowing the total plaintext length in advance.
type cbcEncryptWriter struct {
	w         io.Writer
	mode      cipher.BlockMode
	blockSize int
	buf       []byte
}

func (e *cbcEncryptWriter) Write(p []byte) (int, error) {
	e.buf = append(e.buf, p...)
	for len(e.buf) > e.blockSize {
		block := e.buf[:e.blockSize]
		out := make([]byte, e.blockSize)
		e.mode.CryptBlocks(out, block)
		if _, err := e.w.Write(out); err != nil {
			return 0, err
		}
		e.buf = e.buf[e.blockSize:]
	}
	return len(p), nil
}

func (e *cbcEncryptWriter) Close() error {
	padLen := e.blockSize - len(e.buf)%e.blockSize
	padded := append(e.buf, paddingBytes(padLen)...)
	out := make([]byte, len(padded))
	e.mode.CryptBlocks(out, padded)
	_, err := e.w.Write(out)
	return err
}

func paddingBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(n)
	}
	return b
}

// cbcDecryptReader holds back one decrypted block so that it can strip
// PKCS#7 padding from the true final block once it knows no more
// ciphertext follows (detected by a short read of the next block).
type cbcDecryptReader struct {
	r         io.Reader
	mode      cipher.BlockMode
	blockSize int

	held  []byte // decrypted, not-yet-known-to-be-final block
	ready []byte // decrypted bytes available to Read now
	done  bool
	err   error
}

func newCBCDecryptReader(r io.Reader, mode cipher.BlockMode, blockSize int) *cbcDecryptReader {
	return &cbcDecryptReader{r: r, mode: mode, blockSize: blockSize}
}

func (d *cbcDecryptReader) Read(p []byte) (int, error) {
	for len(d.ready) == 0 {
		if d.err != nil {
			return 0, d.err
		}
		if d.done {
			return 0, io.EOF
		}
		if err := d.advance(); err != nil {
			d.err = err
			return 0, err
		}
	}
	n := copy(p, d.ready)
	d.ready = d.ready[n:]
	return n, nil
}

func (d *cbcDecryptReader) advance() error {
	in := make([]byte, d.blockSize)
	n, err := io.ReadFull(d.r, in)
	switch {
	case err == nil:
		out := make([]byte, d.blockSize)
		d.mode.CryptBlocks(out, in)
		if d.held != nil {
			d.ready = d.held
		}
		d.held = out
		return nil
	case err == io.EOF || err == io.ErrUnexpectedEOF:
		if n != 0 {
			return errors.Reason("cryptkit: ciphertext is not a multiple of the block size").Err()
		}
		if d.held == nil {
			return errors.Reason("cryptkit: truncated ciphertext, no final block").Err()
		}
		unpadded, uerr := stripPKCS7(d.held, d.blockSize)
		if uerr != nil {
			return uerr
		}
		d.ready = unpadded
		d.held = nil
		d.done = true
		return nil
	default:
		return err
	}
}

func stripPKCS7(block []byte, blockSize int) ([]byte, error) {
	if len(block) == 0 {
		return nil, errors.Reason("cryptkit: empty final block").Err()
	}
	padLen := int(block[len(block)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(block) {
		return nil, errors.Reason("cryptkit: invalid PKCS#7 padding").Err()
	}
	for _, b := range block[len(block)-padLen:] {
		if int(b) != padLen {
			return nil, errors.Reason("cryptkit: invalid PKCS#7 padding").Err()
		}
	}
	return block[:len(block)-padLen], nil
}
