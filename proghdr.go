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

import "fmt"

// Segment types this editor understands.
const (
	PTNull    = 0
	PTLoad    = 1
	PTDynamic = 2
	PTInterp  = 3
	PTNote    = 4
	PTShlib   = 5
	PTPhdr    = 6
)

// Segment flag bits.
const (
	PFX = 1 // execute
	PFW = 2 // write
	PFR = 4 // read
)

// progHeaderSchema32/64 differ in field order, not just size, so unlike
// most ELF records they cannot share one Fields list gated by FieldSize.
var progHeaderSchema32 = &RecordSchema{
	Name: "ELFProgramHeader32",
	Fields: []Field{
		{Name: "p_type", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_offset", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_vaddr", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_paddr", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_filesz", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_memsz", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_flags", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "p_align", Codec: AsInt, Size: FieldSize{4, 0}},
	},
}

var progHeaderSchema64 = &RecordSchema{
	Name: "ELFProgramHeader64",
	Fields: []Field{
		{Name: "p_type", Codec: AsInt, Size: FieldSize{0, 4}},
		{Name: "p_flags", Codec: AsInt, Size: FieldSize{0, 4}},
		{Name: "p_offset", Codec: AsInt, Size: FieldSize{0, 8}},
		{Name: "p_vaddr", Codec: AsInt, Size: FieldSize{0, 8}},
		{Name: "p_paddr", Codec: AsInt, Size: FieldSize{0, 8}},
		{Name: "p_filesz", Codec: AsInt, Size: FieldSize{0, 8}},
		{Name: "p_memsz", Codec: AsInt, Size: FieldSize{0, 8}},
		{Name: "p_align", Codec: AsInt, Size: FieldSize{0, 8}},
	},
}

func progHeaderSchemaFor(wordSize int) *RecordSchema {
	if wordSize == 4 {
		return progHeaderSchema32
	}
	return progHeaderSchema64
}

// ProgramHeader is one entry of the program header table.
type ProgramHeader struct {
	Record
	itemBase
}

func newProgramHeader(byteOrder string, wordSize int) *ProgramHeader {
	ph := &ProgramHeader{}
	ph.ByteOrder = byteOrder
	ph.WordSize = wordSize
	return ph
}

func (ph *ProgramHeader) FromBytes(buf []byte) (int, error) {
	return progHeaderSchemaFor(ph.WordSize).ParseFromBytes(&ph.Record, buf)
}

func (ph *ProgramHeader) ToBytes() ([]byte, error) { return ph.Record.ToBytes() }
func (ph *ProgramHeader) Size() int64              { return ph.Record.Size() }
func (ph *ProgramHeader) AsRecord() *Record        { return &ph.Record }

// ProgramHeaderTable is the ELF program (segment) header table.
type ProgramHeaderTable struct {
	Table[*ProgramHeader]
	ByteOrder string
	WordSize  int
}

func newProgramHeaderTable(byteOrder string, wordSize int) *ProgramHeaderTable {
	t := &ProgramHeaderTable{Table: *NewTable[*ProgramHeader](), ByteOrder: byteOrder, WordSize: wordSize}
	return t
}

// FromBytes parses a contiguous run of fixed-size program headers.
func (t *ProgramHeaderTable) FromBytes(buf []byte, entrySize int) error {
	pos := 0
	for pos+entrySize <= len(buf) {
		ph := newProgramHeader(t.ByteOrder, t.WordSize)
		n, err := ph.FromBytes(buf[pos : pos+entrySize])
		if err != nil {
			return err
		}
		t.Items = append(t.Items, ph)
		pos += n
	}
	t.Clean()
	return nil
}

// Verify checks the table bookkeeping, that loadable segments (sorted by
// p_vaddr) do not overlap in file offset, that p_memsz >= p_filesz, and
// that alignment holds.
func (t *ProgramHeaderTable) Verify() error {
	if err := t.VerifyLayout(); err != nil {
		return err
	}
	sorted := append([]*ProgramHeader(nil), t.Items...)
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[j].Get("p_vaddr") < sorted[i].Get("p_vaddr") {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}
	var prev *ProgramHeader
	for _, seg := range sorted {
		if seg.Get("p_type") != PTLoad {
			continue
		}
		if prev != nil {
			prevEnd := prev.Get("p_offset") + prev.Get("p_filesz")
			if prevEnd > seg.Get("p_offset") {
				return &VerifyError{What: "ELFProgramTable", Err: fmt.Errorf("segments %d and %d overlap", prev.Idx(), seg.Idx())}
			}
		}
		prev = seg
	}
	for _, seg := range t.Items {
		if seg.Get("p_memsz") < seg.Get("p_filesz") {
			return &VerifyError{What: "ELFProgramTable", Err: fmt.Errorf("segment %d has too little memory for its contents", seg.Idx())}
		}
		if align := seg.Get("p_align"); align != 0 {
			if seg.Get("p_vaddr")%align != seg.Get("p_offset")%align {
				return &VerifyError{What: "ELFProgramTable", Err: fmt.Errorf("segment %d is not properly aligned", seg.Idx())}
			}
		}
	}
	return nil
}

// Organize retunes PT_DYNAMIC to exactly cover .dynamic, and grows/shrinks
// every other segment to fit the sections that start or end inside it.
func (t *ProgramHeaderTable) Organize(f *File) error {
	for _, seg := range t.Items {
		if seg.Get("p_type") == PTDynamic {
			dyn, err := f.SectionHeaders.ByName(".dynamic")
			if err != nil {
				return err
			}
			seg.Set("p_offset", dyn.Get("sh_offset"))
			seg.Set("p_vaddr", dyn.Get("sh_addr"))
			seg.Set("p_paddr", dyn.Get("sh_addr"))
			seg.Set("p_filesz", dyn.Get("sh_size"))
			seg.Set("p_memsz", dyn.Get("sh_size"))
			continue
		}
		offStart := seg.Get("p_offset")
		offEnd := offStart + seg.Get("p_filesz")
		for _, sect := range f.SectionHeaders.Items {
			sectStart := sect.Get("sh_offset")
			sectEnd := sectStart + sect.Get("sh_size")
			switch {
			case sectStart >= offStart && sectStart < offEnd && sectEnd > offEnd:
				diff := sectEnd - offEnd
				seg.Set("p_filesz", seg.Get("p_filesz")+diff)
				seg.Set("p_memsz", seg.Get("p_memsz")+diff)
				offEnd = sectEnd
			case sectEnd >= offStart && sectEnd < offEnd && sectStart < offStart:
				diff := sectEnd - offStart
				if mod := diff % 8; mod != 0 {
					diff += 8 - mod
				}
				seg.Set("p_offset", seg.Get("p_offset")+diff)
				seg.Set("p_vaddr", seg.Get("p_vaddr")+diff)
				seg.Set("p_paddr", seg.Get("p_paddr")+diff)
				seg.Set("p_filesz", seg.Get("p_filesz")-diff)
				seg.Set("p_memsz", seg.Get("p_memsz")-diff)
				offStart = seg.Get("p_offset")
			}
		}
	}
	return nil
}
