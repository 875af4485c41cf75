// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

// Package metadata implements PNA's metadata model (spec.md §4.11): the
// typed sidecar records an entry may carry — timestamps, permission/
// owner, extended attributes, ACL entries, and file flags — each encoded
// as the body of its own ancillary chunk. A record's absence means
// "unspecified", never "zero"; callers distinguish the two by whether the
// corresponding field is nil/zero-valued in an Entry, not by inspecting
// chunk bytes.
//
// These are small fixed-layout binary records, not a generic serialization
// format: spec.md's non-goals rule out schema evolution, so there is no
// ecosystem serializer (protobuf, msgpack, ...) whose versioning machinery
// would earn its keep here.
package metadata

import (
	"encoding/binary"

	"github.com/luci/luci-go/common/errors"
)

// ErrMalformed is returned when a metadata chunk body doesn't match its
// expected fixed layout (spec.md §7 MalformedMetadata).
var ErrMalformed = errors.New("metadata: malformed record")

// Timestamp is a cTIM/mTIM/aTIM chunk body: signed Unix seconds plus a
// nanosecond extension.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// EncodeTimestamp serializes t as 12 bytes: 8-byte seconds, 4-byte nanos,
// both big-endian.
func EncodeTimestamp(t Timestamp) []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint64(buf[0:8], uint64(t.Seconds))
	binary.BigEndian.PutUint32(buf[8:12], uint32(t.Nanos))
	return buf
}

// DecodeTimestamp parses a cTIM/mTIM/aTIM chunk body.
func DecodeTimestamp(b []byte) (Timestamp, error) {
	if len(b) != 12 {
		return Timestamp{}, errors.Annotate(ErrMalformed).Reason("timestamp: want 12 bytes, got %(n)d").D("n", len(b)).Err()
	}
	return Timestamp{
		Seconds: int64(binary.BigEndian.Uint64(b[0:8])),
		Nanos:   int32(binary.BigEndian.Uint32(b[8:12])),
	}, nil
}

// Permission is the fPRM chunk body: uid/gid, optional display names, and
// 16-bit permission bits.
type Permission struct {
	UID, GID uint32
	Mode     uint16
	UName    string // "" if unspecified
	GName    string // "" if unspecified
}

// EncodePermission serializes p as:
// uid:u32 || gid:u32 || mode:u16 || len(uname):u16 || uname || len(gname):u16 || gname
func EncodePermission(p Permission) []byte {
	uname, gname := []byte(p.UName), []byte(p.GName)
	buf := make([]byte, 0, 4+4+2+2+len(uname)+2+len(gname))
	buf = appendUint32(buf, p.UID)
	buf = appendUint32(buf, p.GID)
	buf = appendUint16(buf, p.Mode)
	buf = appendUint16(buf, uint16(len(uname)))
	buf = append(buf, uname...)
	buf = appendUint16(buf, uint16(len(gname)))
	buf = append(buf, gname...)
	return buf
}

// DecodePermission parses an fPRM chunk body.
func DecodePermission(b []byte) (Permission, error) {
	if len(b) < 4+4+2+2 {
		return Permission{}, errors.Annotate(ErrMalformed).Reason("permission: too short (%(n)d bytes)").D("n", len(b)).Err()
	}
	var p Permission
	p.UID = binary.BigEndian.Uint32(b[0:4])
	p.GID = binary.BigEndian.Uint32(b[4:8])
	p.Mode = binary.BigEndian.Uint16(b[8:10])
	rest := b[10:]

	uname, rest, err := readLenPrefixed(rest)
	if err != nil {
		return Permission{}, err
	}
	p.UName = string(uname)

	gname, rest, err := readLenPrefixed(rest)
	if err != nil {
		return Permission{}, err
	}
	p.GName = string(gname)
	if len(rest) != 0 {
		return Permission{}, errors.Annotate(ErrMalformed).Reason("permission: %(n)d trailing bytes").D("n", len(rest)).Err()
	}
	return p, nil
}

// Xattr is one xATR chunk body: a single extended-attribute name/value
// pair. An entry may carry zero or more of these; order is preserved by
// the writer but otherwise unspecified (spec.md §9 open question).
type Xattr struct {
	Name  string
	Value []byte
}

// EncodeXattr serializes x as: len(name):u16 || name || value (remainder).
func EncodeXattr(x Xattr) []byte {
	name := []byte(x.Name)
	buf := make([]byte, 0, 2+len(name)+len(x.Value))
	buf = appendUint16(buf, uint16(len(name)))
	buf = append(buf, name...)
	buf = append(buf, x.Value...)
	return buf
}

// DecodeXattr parses an xATR chunk body.
func DecodeXattr(b []byte) (Xattr, error) {
	name, rest, err := readLenPrefixed(b)
	if err != nil {
		return Xattr{}, err
	}
	value := make([]byte, len(rest))
	copy(value, rest)
	return Xattr{Name: string(name), Value: value}, nil
}

// ACLPlatform identifies which platform's ACL semantics an ACLEntry
// carries (POSIX draft ACLs and Windows ACLs are not interchangeable).
type ACLPlatform uint8

const (
	ACLPlatformPOSIX ACLPlatform = iota + 1
	ACLPlatformWindows
)

// ACLEntry is one fACL chunk body: a platform-tagged, opaque ACL record.
// PNA does not interpret ACL bytes; it carries them for the platform that
// wrote them to reapply, per spec.md §4.11.
type ACLEntry struct {
	Platform ACLPlatform
	Raw      []byte
}

// EncodeACLEntry serializes e as: platform:u8 || raw (remainder).
func EncodeACLEntry(e ACLEntry) []byte {
	buf := make([]byte, 0, 1+len(e.Raw))
	buf = append(buf, byte(e.Platform))
	buf = append(buf, e.Raw...)
	return buf
}

// DecodeACLEntry parses an fACL chunk body.
func DecodeACLEntry(b []byte) (ACLEntry, error) {
	if len(b) < 1 {
		return ACLEntry{}, errors.Annotate(ErrMalformed).Reason("acl: empty body").Err()
	}
	raw := make([]byte, len(b)-1)
	copy(raw, b[1:])
	return ACLEntry{Platform: ACLPlatform(b[0]), Raw: raw}, nil
}

// FileFlags is a BSD-style bitset (e.g. UF_NODUMP, UF_IMMUTABLE), the
// fFLG chunk body.
type FileFlags uint32

// EncodeFileFlags serializes f as a big-endian u32.
func EncodeFileFlags(f FileFlags) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(f))
	return buf
}

// DecodeFileFlags parses an fFLG chunk body.
func DecodeFileFlags(b []byte) (FileFlags, error) {
	if len(b) != 4 {
		return 0, errors.Annotate(ErrMalformed).Reason("fileflags: want 4 bytes, got %(n)d").D("n", len(b)).Err()
	}
	return FileFlags(binary.BigEndian.Uint32(b)), nil
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func readLenPrefixed(b []byte) (value, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, errors.Annotate(ErrMalformed).Reason("missing length prefix").Err()
	}
	n := binary.BigEndian.Uint16(b[0:2])
	b = b[2:]
	if uint16(len(b)) < n {
		return nil, nil, errors.Annotate(ErrMalformed).Reason("length prefix %(n)d exceeds remaining %(have)d bytes").
			D("n", n).D("have", len(b)).Err()
	}
	return b[:n], b[n:], nil
}
