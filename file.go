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
	"fmt"
	"log"
)

// File is the top-level aggregate: the parsed file header, the two header
// tables, and (through each SectionHeader) every section body, plus
// parsing order, organize/verify orchestration, and serialization.
//
// Ownership: File owns FileHeader and the two tables; SectionHeaders owns
// each SectionHeader; each SectionHeader owns its Body. Everything else is
// a non-owning reference resolved via ReferenceBinder.
type File struct {
	FileHeader     *FileHeader
	ProgramHeaders *ProgramHeaderTable
	SectionHeaders *SectionHeaderTable

	logger *log.Logger
}

// SetLogger overrides the default logger (log.Default()) used for
// non-fatal warnings such as an out-of-bounds idx-reference.
func (f *File) SetLogger(l *log.Logger) { f.logger = l }

func (f *File) logf(format string, args ...any) {
	l := f.logger
	if l == nil {
		l = log.Default()
	}
	l.Printf(format, args...)
}

// Load parses a complete ELF image: file header, program header table,
// section header table, then each section's typed body, then resolves
// every configured reference, in that fixed order.
func Load(data []byte) (*File, error) {
	fh := newFileHeader()
	if _, err := fh.FromBytes(data); err != nil {
		return nil, err
	}

	f := &File{FileHeader: fh}

	phStart := fh.Get("e_phoff")
	phEnd := phStart + fh.Get("e_phnum")*fh.Get("e_phentsize")
	if phEnd > uint64(len(data)) {
		return nil, &ParseError{Record: "ELFFile", Err: fmt.Errorf("program header table exceeds file size")}
	}
	pht := newProgramHeaderTable(fh.ByteOrder, fh.WordSize)
	if err := pht.FromBytes(data[phStart:phEnd], int(fh.Get("e_phentsize"))); err != nil {
		return nil, err
	}
	f.ProgramHeaders = pht

	shStart := fh.Get("e_shoff")
	shEnd := shStart + fh.Get("e_shnum")*fh.Get("e_shentsize")
	if shEnd > uint64(len(data)) {
		return nil, &ParseError{Record: "ELFFile", Err: fmt.Errorf("section header table exceeds file size")}
	}
	sht := newSectionHeaderTable(fh.ByteOrder, fh.WordSize)
	if err := sht.FromBytes(data[shStart:shEnd], int(fh.Get("e_shentsize"))); err != nil {
		return nil, err
	}
	f.SectionHeaders = sht

	for _, sh := range sht.Items {
		if err := sh.LoadBody(data); err != nil {
			return nil, err
		}
	}

	if err := f.resolveReferences(); err != nil {
		return nil, err
	}

	return f, nil
}

// linkedSection returns the section header sh's sh_link names, erroring
// instead of panicking on a link outside the table.
func (f *File) linkedSection(sh *SectionHeader) (*SectionHeader, error) {
	link := int(sh.Get("sh_link"))
	if link < 0 || link >= len(f.SectionHeaders.Items) {
		return nil, &ReferenceError{Field: "sh_link", Target: "section", Err: fmt.Errorf("index %d out of range", link)}
	}
	return f.SectionHeaders.Items[link], nil
}

// linkedSymTab resolves sh's sh_link to a symbol-table body.
func (f *File) linkedSymTab(sh *SectionHeader) (*SymTab, error) {
	symSH, err := f.linkedSection(sh)
	if err != nil {
		return nil, err
	}
	symtab, ok := symSH.Body.(*SymTab)
	if !ok {
		return nil, fmt.Errorf("section %q: sh_link does not name a symbol table", sh.Name())
	}
	return symtab, nil
}

func (f *File) resolveReferences() error {
	f.FileHeader.Refs.Specs = []ReferenceSpec{
		{Field: "e_shstrndx", Kind: RefIdx, Lookup: func(r *Record, root *File) (any, error) {
			return &root.SectionHeaders.Table, nil
		}},
	}
	if err := f.FileHeader.Refs.Resolve(&f.FileHeader.Record, f); err != nil {
		return err
	}

	shstrtabIdx := int(f.FileHeader.Get("e_shstrndx"))
	if shstrtabIdx < 0 || shstrtabIdx >= len(f.SectionHeaders.Items) {
		return &ReferenceError{Field: "e_shstrndx", Target: "section", Err: fmt.Errorf("out of range")}
	}
	shstrtab, ok := f.SectionHeaders.Items[shstrtabIdx].Body.(*StrTab)
	if !ok {
		return &ReferenceError{Field: "e_shstrndx", Target: "section", Err: fmt.Errorf("not a string table")}
	}

	for _, sh := range f.SectionHeaders.Items {
		sh.Refs.Specs = []ReferenceSpec{
			{Field: "sh_name", Kind: RefOff, Lookup: func(r *Record, root *File) (any, error) { return shstrtab, nil }},
		}
		if err := sh.Refs.Resolve(&sh.Record, f); err != nil {
			return err
		}
		if sh.Body != nil {
			if err := sh.Body.ResolveReferences(sh, f); err != nil {
				return err
			}
		}
	}
	return nil
}

// Organize is the layout pass, run bottom-up:
// section-header-table organize, then program-header-table organize, then
// file-header organize (which must run last because it reads section
// offsets the other two passes may have just moved).
func (f *File) Organize() error {
	known := make(map[uint16]bool)
	for _, sh := range f.SectionHeaders.Items {
		if verneed, ok := sh.Body.(*VerNeedTable); ok {
			for v := range verneed.KnownVersions() {
				known[v] = true
			}
		}
	}
	for _, sh := range f.SectionHeaders.Items {
		switch body := sh.Body.(type) {
		case *GNUHash:
			symtab, err := f.linkedSymTab(sh)
			if err != nil {
				return err
			}
			body.Organize(symtab)
		case *VerSymTable:
			body.Organize(f, known)
		}
	}
	if err := f.SectionHeaders.Organize(f); err != nil {
		return err
	}
	if err := f.ProgramHeaders.Organize(f); err != nil {
		return err
	}
	f.FileHeader.Organize(f)
	return nil
}

// Verify checks every structural invariant of the file header, program
// headers, section headers, and GNU hash sections. The first failing check
// is returned; SAVE must refuse when this errors.
func (f *File) Verify() error {
	if err := f.FileHeader.Verify(f); err != nil {
		return err
	}
	if err := f.ProgramHeaders.Verify(); err != nil {
		return err
	}
	if err := f.SectionHeaders.Verify(f); err != nil {
		return err
	}
	known := make(map[uint16]bool)
	for _, sh := range f.SectionHeaders.Items {
		if verneed, ok := sh.Body.(*VerNeedTable); ok {
			for v := range verneed.KnownVersions() {
				known[v] = true
			}
		}
	}
	for _, sh := range f.SectionHeaders.Items {
		switch body := sh.Body.(type) {
		case *GNUHash:
			symtab, err := f.linkedSymTab(sh)
			if err != nil {
				return err
			}
			if err := body.Verify(symtab); err != nil {
				return err
			}
		case *VerSymTable:
			symtab, err := f.linkedSymTab(sh)
			if err != nil {
				return err
			}
			if err := body.Verify(len(symtab.Items), known); err != nil {
				return err
			}
		case *StrTab:
			if err := body.Verify(); err != nil {
				return err
			}
		}
	}
	return nil
}

// ToBytes serializes the file header at offset 0, the program header table
// at e_phoff, the section header table at e_shoff, and each section body
// at its sh_offset, padding with 0x00 whenever a target offset exceeds the
// current logical length
func (f *File) ToBytes() ([]byte, error) {
	var out []byte

	writeAt := func(off uint64, data []byte) error {
		if off > uint64(len(out)) {
			out = append(out, make([]byte, off-uint64(len(out)))...)
		}
		if off+uint64(len(data)) > uint64(len(out)) {
			out = append(out, make([]byte, off+uint64(len(data))-uint64(len(out)))...)
		}
		copy(out[off:], data)
		return nil
	}

	fhBytes, err := f.FileHeader.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := writeAt(0, fhBytes); err != nil {
		return nil, err
	}

	phBytes, err := f.ProgramHeaders.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := writeAt(f.FileHeader.Get("e_phoff"), phBytes); err != nil {
		return nil, err
	}

	shBytes, err := f.SectionHeaders.ToBytes()
	if err != nil {
		return nil, err
	}
	if err := writeAt(f.FileHeader.Get("e_shoff"), shBytes); err != nil {
		return nil, err
	}

	for _, sh := range f.SectionHeaders.Items {
		if sh.Body == nil {
			continue
		}
		body, err := sh.Body.ToBytes()
		if err != nil {
			return nil, err
		}
		if len(body) == 0 {
			continue
		}
		if err := writeAt(sh.Get("sh_offset"), body); err != nil {
			return nil, err
		}
	}

	return out, nil
}
