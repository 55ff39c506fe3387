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
	"fmt"
)

const (
	verLocal  = 0
	verGlobal = 1
)

// VerSymTable is the .gnu.version section body: one 16-bit version index
// per symbol of the referenced dynamic symbol table.
type VerSymTable struct {
	Versions  []uint16
	byteOrder binary.ByteOrder
}

func newVerSymTable(byteOrder string, wordSize int) Section {
	order := binary.ByteOrder(binary.LittleEndian)
	if byteOrder == "big" {
		order = binary.BigEndian
	}
	return &VerSymTable{byteOrder: order}
}

func (t *VerSymTable) FromBytes(buf []byte) error {
	t.Versions = make([]uint16, len(buf)/2)
	for i := range t.Versions {
		t.Versions[i] = t.byteOrder.Uint16(buf[i*2 : i*2+2])
	}
	return nil
}

func (t *VerSymTable) ToBytes() ([]byte, error) {
	out := make([]byte, len(t.Versions)*2)
	for i, v := range t.Versions {
		t.byteOrder.PutUint16(out[i*2:i*2+2], v)
	}
	return out, nil
}

func (t *VerSymTable) ResolveReferences(sh *SectionHeader, root *File) error {
	return nil
}

// Verify checks the table has the same length as the symbol table it
// applies to, and that every entry is either LOCAL/GLOBAL or matches some
// VerNeedAux's vna_other.
func (t *VerSymTable) Verify(symCount int, known map[uint16]bool) error {
	if len(t.Versions) != symCount {
		return &VerifyError{What: "ELFVerSym", Err: fmt.Errorf("has %d entries, symbol table has %d", len(t.Versions), symCount)}
	}
	for _, v := range t.Versions {
		if v == verLocal || v == verGlobal {
			continue
		}
		if !known[v] {
			return &VerifyError{What: "ELFVerSym", Err: fmt.Errorf("version index %d matches no vna_other", v)}
		}
	}
	return nil
}

// Organize repairs any version index that fails to match a known
// vna_other by falling back to GLOBAL (1), rather than failing outright.
func (t *VerSymTable) Organize(root *File, known map[uint16]bool) {
	for i, v := range t.Versions {
		if v == verLocal || v == verGlobal || known[v] {
			continue
		}
		root.logf("warning: .gnu.version[%d] = %d does not match any vna_other, repairing to GLOBAL", i, v)
		t.Versions[i] = verGlobal
	}
}
