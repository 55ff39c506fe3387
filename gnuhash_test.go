// seehuhn.de/go/elfedit - a library for reading and editing ELF object files
// Copyright (C) 2023  Jochen Voss <voss@seehuhn.de>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package elf

import (
	"encoding/binary"
	"testing"
)

func TestDJB2HashKnownVectors(t *testing.T) {
	if got, want := DJB2Hash(""), uint32(5381); got != want {
		t.Errorf("DJB2Hash(\"\") = %d, want %d (the djb2 seed)", got, want)
	}
	// h = 5381*33 + 'a' (0x61), computed independently of the implementation.
	if got, want := DJB2Hash("a"), uint32(5381*33+0x61); got != want {
		t.Errorf("DJB2Hash(\"a\") = %d, want %d", got, want)
	}
}

func symbolWithName(name string, shndx uint64) *Symbol {
	sym := newSymbol("little", 8)
	if err := symbolSchema64.ParseFromMap(&sym.Record, map[string]uint64{
		"st_name": 0, "st_info": 0, "st_other": 0,
		"st_shndx": shndx, "st_value": 0, "st_size": 0,
	}); err != nil {
		panic(err)
	}
	str := &StrItem{}
	str.FromString(name)
	sym.Refs.resolved = map[string]resolvedRef{
		"st_name": {kind: RefOff, target: str},
	}
	return sym
}

func buildSymTab(names []string) *SymTab {
	tab := &SymTab{Table: *NewTable[*Symbol](), ByteOrder: "little", WordSize: 8}
	tab.Append(symbolWithName("", 0)) // mandatory null symbol, unhashed
	for _, n := range names {
		tab.Append(symbolWithName(n, 1))
	}
	return tab
}

func TestGNUHashOrganizeThenVerify(t *testing.T) {
	symtab := buildSymTab([]string{"alpha", "beta", "gamma", "delta"})
	hash := &GNUHash{NBuckets: 4, BloomSize: 2, BloomShift: 5, byteOrder: binary.LittleEndian, wordSize: 8}

	hash.Organize(symtab)

	if hash.SymOffset != 1 {
		t.Errorf("SymOffset = %d, want 1 (one unhashed null symbol)", hash.SymOffset)
	}
	if len(hash.Chain) != 4 {
		t.Fatalf("len(Chain) = %d, want 4", len(hash.Chain))
	}
	if err := hash.Verify(symtab); err != nil {
		t.Fatalf("Verify after Organize: %v", err)
	}

	// Round trip through bytes.
	raw, err := hash.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes: %v", err)
	}
	reread := &GNUHash{byteOrder: binary.LittleEndian, wordSize: 8}
	if err := reread.FromBytes(raw); err != nil {
		t.Fatalf("FromBytes: %v", err)
	}
	if err := reread.Verify(symtab); err != nil {
		t.Fatalf("Verify after byte round trip: %v", err)
	}
}

func TestGNUHashUnhashedSymbolExcluded(t *testing.T) {
	symtab := buildSymTab(nil) // only the null/unhashed symbol
	hash := &GNUHash{BloomSize: 1, BloomShift: 5, byteOrder: binary.LittleEndian, wordSize: 8}

	hash.Organize(symtab)

	if len(hash.Chain) != 0 {
		t.Errorf("len(Chain) = %d, want 0 for an all-unhashed symbol table", len(hash.Chain))
	}
	if len(hash.Buckets) != 0 {
		t.Errorf("len(Buckets) = %d, want 0 buckets", len(hash.Buckets))
	}
	if err := hash.Verify(symtab); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestGNUHashRenameBreaksThenOrganizeRepairs(t *testing.T) {
	symtab := buildSymTab([]string{"alpha", "beta"})
	hash := &GNUHash{NBuckets: 2, BloomSize: 1, BloomShift: 5, byteOrder: binary.LittleEndian, wordSize: 8}
	hash.Organize(symtab)
	if err := hash.Verify(symtab); err != nil {
		t.Fatalf("Verify before rename: %v", err)
	}

	// Renaming a symbol in place (without an Organize rebuild) must break
	// verification: the chain was built against the old name's hash.
	sym, ok := symtab.ByName("alpha")
	if !ok {
		t.Fatalf("symbol %q not found", "alpha")
	}
	str := sym.Refs.Target("st_name").(*StrItem)
	str.FromString("renamed")

	if err := hash.Verify(symtab); err == nil {
		t.Fatalf("expected Verify to fail after an un-rebuilt rename")
	}

	hash.Organize(symtab)
	if err := hash.Verify(symtab); err != nil {
		t.Fatalf("Verify after rebuild: %v", err)
	}
}
