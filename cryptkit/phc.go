// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package cryptkit

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	"github.com/luci/luci-go/common/errors"
)

// EncodePHC serializes p as a PHC-ish string for the PHSF chunk body
// (spec.md §4.3). PNA doesn't need the password-verifier hash the PHC
// convention usually carries in its final segment (a wrong password is
// detected downstream, by a decryption or decompression failure, per
// spec.md §7), so the string ends after the salt.
func EncodePHC(p KDFParams) (string, error) {
	salt := base64.RawStdEncoding.EncodeToString(p.Salt)
	switch p.Kind {
	case KDFPBKDF2:
		return fmt.Sprintf("$pbkdf2-sha256$i=%d,l=%d$%s", p.Rounds, p.KeyLen, salt), nil
	case KDFArgon2id:
		return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d,l=%d$%s",
			p.Memory, p.Time, p.Threads, p.KeyLen, salt), nil
	}
	return "", errors.Reason("cryptkit: unknown kdf kind %(k)d").D("k", byte(p.Kind)).Err()
}

// ParsePHC reconstructs KDFParams from a PHSF chunk body written by
// EncodePHC.
func ParsePHC(s string) (KDFParams, error) {
	fields := strings.Split(s, "$")
	// fields[0] is always empty (the string starts with "$").
	if len(fields) < 4 || fields[0] != "" {
		return KDFParams{}, errors.Annotate(ErrMalformedPHC).Reason("phc %(s)q: wrong shape").D("s", s).Err()
	}

	id := fields[1]
	switch id {
	case "pbkdf2-sha256":
		if len(fields) != 4 {
			return KDFParams{}, errors.Annotate(ErrMalformedPHC).Reason("pbkdf2 phc %(s)q").D("s", s).Err()
		}
		params, err := parseParamBlock(fields[2])
		if err != nil {
			return KDFParams{}, err
		}
		salt, err := decodeSalt(fields[3])
		if err != nil {
			return KDFParams{}, err
		}
		rounds, err := params.reqInt("i")
		if err != nil {
			return KDFParams{}, err
		}
		keyLen, err := params.reqInt("l")
		if err != nil {
			return KDFParams{}, err
		}
		return KDFParams{Kind: KDFPBKDF2, Salt: salt, Rounds: rounds, KeyLen: keyLen}, nil

	case "argon2id":
		if len(fields) != 5 {
			return KDFParams{}, errors.Annotate(ErrMalformedPHC).Reason("argon2id phc %(s)q").D("s", s).Err()
		}
		params, err := parseParamBlock(fields[3])
		if err != nil {
			return KDFParams{}, err
		}
		salt, err := decodeSalt(fields[4])
		if err != nil {
			return KDFParams{}, err
		}
		mem, err := params.reqInt("m")
		if err != nil {
			return KDFParams{}, err
		}
		t, err := params.reqInt("t")
		if err != nil {
			return KDFParams{}, err
		}
		p, err := params.reqInt("p")
		if err != nil {
			return KDFParams{}, err
		}
		keyLen, err := params.reqInt("l")
		if err != nil {
			return KDFParams{}, err
		}
		return KDFParams{
			Kind: KDFArgon2id, Salt: salt,
			Memory: uint32(mem), Time: uint32(t), Threads: uint8(p),
			KeyLen: keyLen,
		}, nil
	}

	return KDFParams{}, errors.Annotate(ErrMalformedPHC).Reason("phc %(s)q: unknown kdf id %(id)q").
		D("s", s).D("id", id).Err()
}

func decodeSalt(s string) ([]byte, error) {
	salt, err := base64.RawStdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.Annotate(ErrMalformedPHC).Reason("phc salt: %(err)s").D("err", err.Error()).Err()
	}
	return salt, nil
}

type paramBlock map[string]string

func parseParamBlock(s string) (paramBlock, error) {
	out := paramBlock{}
	for _, kv := range strings.Split(s, ",") {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Annotate(ErrMalformedPHC).Reason("phc param %(kv)q").D("kv", kv).Err()
		}
		out[parts[0]] = parts[1]
	}
	return out, nil
}

func (p paramBlock) reqInt(key string) (int, error) {
	v, ok := p[key]
	if !ok {
		return 0, errors.Annotate(ErrMalformedPHC).Reason("phc missing param %(key)q").D("key", key).Err()
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Annotate(ErrMalformedPHC).Reason("phc param %(key)q not an int: %(v)q").
			D("key", key).D("v", v).Err()
	}
	return n, nil
}
