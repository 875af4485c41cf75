// Copyright 2024 The Portable Network Archive Authors.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package chunk

// Scope groups chunk types by the context they may appear in, per the
// catalog in spec.md §6.3.
type Scope int

const (
	ScopeArchive Scope = iota
	ScopeEntry
	ScopeSolid
)

// Descriptor is the registry's single source of truth for a chunk type's
// placement rules (spec.md §4.2). Criticality isn't duplicated here: it's
// derived from the type's own spelling by Type.Critical.
type Descriptor struct {
	Scope Scope
	// MaxOccurrences is the maximum number of times this chunk may appear
	// per entry/solid-block/archive; 0 means unbounded.
	MaxOccurrences int
}

// Canonical chunk types, spelled exactly as spec.md §6.3 requires: critical
// chunks start with an uppercase letter, ancillary ones with a lowercase
// letter.
var (
	TypeAHED = MustType("AHED")
	TypeAEND = MustType("AEND")
	TypeANXT = MustType("ANXT")
	TypeFHED = MustType("FHED")
	TypeFDAT = MustType("FDAT")
	TypeFEND = MustType("FEND")
	TypePHSF = MustType("PHSF")
	TypeCTIM = MustType("cTIM")
	TypeMTIM = MustType("mTIM")
	TypeATIM = MustType("aTIM")
	TypeFPRM = MustType("fPRM")
	TypeXATR = MustType("xATR")
	TypeFACL = MustType("fACL")
	TypeFFLG = MustType("fFLG")
	TypeASLD = MustType("aSLD")
	TypeADAT = MustType("aDAT")
	TypeAEND2 = MustType("aEND") // solid-block terminator; distinct from archive AEND
)

var registry = map[Type]Descriptor{
	TypeAHED:  {Scope: ScopeArchive, MaxOccurrences: 1},
	TypeAEND:  {Scope: ScopeArchive, MaxOccurrences: 1},
	TypeANXT:  {Scope: ScopeArchive, MaxOccurrences: 1},
	TypeFHED:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeFDAT:  {Scope: ScopeEntry, MaxOccurrences: 0},
	TypeFEND:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypePHSF:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeCTIM:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeMTIM:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeATIM:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeFPRM:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeXATR:  {Scope: ScopeEntry, MaxOccurrences: 0},
	TypeFACL:  {Scope: ScopeEntry, MaxOccurrences: 0},
	TypeFFLG:  {Scope: ScopeEntry, MaxOccurrences: 1},
	TypeASLD:  {Scope: ScopeSolid, MaxOccurrences: 1},
	TypeADAT:  {Scope: ScopeSolid, MaxOccurrences: 0},
	TypeAEND2: {Scope: ScopeSolid, MaxOccurrences: 1},
}

// Lookup returns t's registry entry, if known.
func Lookup(t Type) (Descriptor, bool) {
	d, ok := registry[t]
	return d, ok
}

// MustReject reports whether a conforming reader must refuse to continue
// on encountering an unrecognized chunk of type t (spec.md §3.1: "a reader
// MUST reject unknown critical chunks and MAY skip unknown ancillary
// chunks").
func MustReject(t Type) bool {
	if _, known := registry[t]; known {
		return false
	}
	return t.Critical()
}
