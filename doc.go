// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package pna implements the Portable Network Archive (PNA) container
// format: a streamable, splittable, per-entry compressible and encryptable
// archive built on a PNG-style chunk model.
//
// An archive is a sequence of length-prefixed, CRC-protected, typed chunks
// (package chunk). Chunks are grouped by the entry state machine (package
// entry) into logical files, directories, symlinks, hardlinks, and
// back-references. Per-entry data is optionally compressed (package
// compress) and/or encrypted (package cryptkit), composed by package
// pipeline. Multiple entries may be aggregated into one compressed/
// encrypted stream by package solid. Package archive ties all of this
// together into a streaming Reader and Writer, including bounded-size
// multi-volume splitting.
//
// It has a fairly basic format:
//   - magic header (0x89 'P' 'N' 'A' CR LF SUB LF)
//   - AHED chunk (version, flags, archive number)
//   - entry runs (FHED [PHSF] Meta* FDAT* FEND) and/or solid blocks
//     (aSLD aDAT+ aEND), in insertion order
//   - optional ANXT marker if the archive continues in another volume
//   - AEND chunk
//
// Everything outside the codec itself — option parsing, filesystem
// traversal, metadata capture from the live filesystem, and progress UI —
// is left to callers; this package only implements the wire format and its
// invariants.
package pna
