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
	"strings"
)

// Which selects which symbol table(s) a symbol operation applies to.
type Which int

const (
	WhichStatic Which = iota
	WhichDynamic
	WhichBoth
)

// Strictness controls whether a missing symbol is a hard failure.
type Strictness int

const (
	Strict Strictness = iota
	Permissive
)

func (f *File) symtabsFor(which Which) []*SectionHeader {
	var out []*SectionHeader
	want := func(name string) bool {
		switch which {
		case WhichStatic:
			return name == ".symtab"
		case WhichDynamic:
			return name == ".dynsym"
		default:
			return name == ".symtab" || name == ".dynsym"
		}
	}
	for _, sh := range f.SectionHeaders.Items {
		if _, ok := sh.Body.(*SymTab); ok && want(sh.Name()) {
			out = append(out, sh)
		}
	}
	return out
}

// RenameSymbol finds old in the selected symbol table(s) and rewrites its
// name string-table entry to new. Because st_name is a resolved off-ref,
// every other record pointing at the same string-table item automatically
// observes the rename once the owning string table is Clean()ed; the
// clean also re-derives the offsets of every entry after the renamed one.
func (f *File) RenameSymbol(old, new string, which Which, perm Strictness) error {
	found := false
	for _, sh := range f.symtabsFor(which) {
		tab := sh.Body.(*SymTab)
		sym, ok := tab.ByName(old)
		if !ok {
			continue
		}
		found = true
		item := sym.Refs.Target("st_name")
		str, ok := item.(*StrItem)
		if !ok {
			return &CommandError{Command: "RENAME_SYMBOL", Err: fmt.Errorf("symbol %q has no resolved name", old)}
		}
		str.FromString(new)
		if strtabSH, err := f.linkedSection(sh); err == nil {
			if strtab, ok := strtabSH.Body.(*StrTab); ok {
				strtab.Clean()
			}
		}
	}
	if !found && perm == Strict {
		return &CommandError{Command: "RENAME_SYMBOL", Err: fmt.Errorf("symbol %q not found", old)}
	}
	return nil
}

// SetSymbolVersion validates version, locates name in .dynsym, finds the
// DT_VERSYM/DT_VERNEED tags in .dynamic, checks that version >= 2 matches
// some vna_other, and writes it into the versym entry at the symbol's
// index.
func (f *File) SetSymbolVersion(name string, version uint64, perm Strictness) error {
	if version >= 1<<16 {
		return &CommandError{Command: "SET_SYMBOL_VERSION", Err: fmt.Errorf("version %d out of range", version)}
	}

	dynsymSH, err := f.SectionHeaders.ByName(".dynsym")
	if err != nil {
		return &CommandError{Command: "SET_SYMBOL_VERSION", Err: err}
	}
	dynsym, _ := dynsymSH.Body.(*SymTab)
	sym, ok := dynsym.ByName(name)
	if !ok {
		if perm == Strict {
			return &CommandError{Command: "SET_SYMBOL_VERSION", Err: fmt.Errorf("symbol %q not found", name)}
		}
		return nil
	}

	dynamicSH, err := f.SectionHeaders.ByName(".dynamic")
	if err != nil {
		return &CommandError{Command: "SET_SYMBOL_VERSION", Err: err}
	}
	dynamic, _ := dynamicSH.Body.(*DynamicSection)

	versymSH, err := dynamic.FindSectionByPtrTag(f, DTVersym)
	if err != nil {
		return &CommandError{Command: "SET_SYMBOL_VERSION", Err: err}
	}
	versym, _ := versymSH.Body.(*VerSymTable)

	if version >= 2 {
		verneedSH, err := dynamic.FindSectionByPtrTag(f, DTVerneed)
		if err != nil {
			return &CommandError{Command: "SET_SYMBOL_VERSION", Err: err}
		}
		verneed, _ := verneedSH.Body.(*VerNeedTable)
		if !verneed.KnownVersions()[uint16(version)] {
			return &CommandError{Command: "SET_SYMBOL_VERSION", Err: fmt.Errorf("version %d matches no vna_other", version)}
		}
	}

	idx := sym.Idx()
	if idx >= len(versym.Versions) {
		return &CommandError{Command: "SET_SYMBOL_VERSION", Err: fmt.Errorf("symbol index %d exceeds versym table", idx)}
	}
	versym.Versions[idx] = uint16(version)
	return nil
}

// MoveSection moves name to the highest occupied file offset/address,
// aligned to sh_addralign and then adjusted so offset mod align == addr
// mod align, and appends it to the section list.
//
// The "far address" computed here is kept independent of the running
// file-offset maximum so updating one never clobbers the other.
func (f *File) MoveSection(name string, align uint64) error {
	sh, err := f.SectionHeaders.ByName(name)
	if err != nil {
		return &CommandError{Command: "MOVE_SECTION", Err: err}
	}

	var farOff, farAddr uint64
	for _, s := range f.SectionHeaders.Items {
		if end := s.Get("sh_offset") + s.Get("sh_size"); end > farOff {
			farOff = end
		}
		if end := s.Get("sh_addr") + s.Get("sh_size"); end > farAddr {
			farAddr = end
		}
	}

	a := sh.Get("sh_addralign")
	if a == 0 {
		a = 1
	}
	if mod := farOff % a; mod != 0 {
		farOff += a - mod
	}
	if mod := farAddr % a; mod != 0 {
		farAddr += a - mod
	}
	if align != 0 {
		diff := ((farAddr % align) - (farOff % align) + align) % align
		farOff += diff
	}

	sh.Set("sh_offset", farOff)
	sh.Set("sh_addr", farAddr)

	idx := sh.Idx()
	f.SectionHeaders.Items = append(f.SectionHeaders.Items[:idx], f.SectionHeaders.Items[idx+1:]...)
	f.SectionHeaders.Items = append(f.SectionHeaders.Items, sh)
	f.SectionHeaders.Clean()
	return nil
}

// ParseSegmentFlags parses a pipe-separated R|W|E flag string into a
// p_flags bitmask.
func ParseSegmentFlags(s string) (uint64, error) {
	var flags uint64
	for _, part := range strings.Split(s, "|") {
		switch part {
		case "R":
			flags |= PFR
		case "W":
			flags |= PFW
		case "E":
			flags |= PFX
		default:
			return 0, fmt.Errorf("unknown segment flag %q", part)
		}
	}
	return flags, nil
}

// MakeSegment builds a new PT_LOAD program header spanning [start, end]
// and inserts it immediately after the last existing PT_LOAD entry.
func (f *File) MakeSegment(segType string, flags uint64, align uint64, startName, endName string) error {
	if segType != "PT_LOAD" {
		return &CommandError{Command: "MAKE_SEGMENT", Err: fmt.Errorf("only PT_LOAD is supported")}
	}
	start, err := f.SectionHeaders.ByName(startName)
	if err != nil {
		return &CommandError{Command: "MAKE_SEGMENT", Err: err}
	}
	end, err := f.SectionHeaders.ByName(endName)
	if err != nil {
		return &CommandError{Command: "MAKE_SEGMENT", Err: err}
	}
	if start.Get("sh_offset") > end.Get("sh_offset") {
		return &CommandError{Command: "MAKE_SEGMENT", Err: fmt.Errorf("start section starts after end section")}
	}

	seg := newProgramHeader(f.FileHeader.ByteOrder, f.FileHeader.WordSize)
	err = progHeaderSchemaFor(f.FileHeader.WordSize).ParseFromMap(&seg.Record, map[string]uint64{
		"p_type":   PTLoad,
		"p_flags":  flags,
		"p_align":  align,
		"p_offset": start.Get("sh_offset"),
		"p_vaddr":  start.Get("sh_addr"),
		"p_paddr":  start.Get("sh_addr"),
		"p_filesz": end.Get("sh_offset") + end.Get("sh_size") - start.Get("sh_offset"),
		"p_memsz":  end.Get("sh_addr") + end.Get("sh_size") - start.Get("sh_addr"),
	})
	if err != nil {
		return &CommandError{Command: "MAKE_SEGMENT", Err: err}
	}

	lastLoad := -1
	for i, ph := range f.ProgramHeaders.Items {
		if ph.Get("p_type") == PTLoad {
			lastLoad = i
		}
	}
	insertAt := lastLoad + 1
	items := f.ProgramHeaders.Items
	items = append(items[:insertAt], append([]*ProgramHeader{seg}, items[insertAt:]...)...)
	f.ProgramHeaders.Items = items
	f.ProgramHeaders.Clean()
	return nil
}

// MoveSegment rewrites the segment at idx to span [start, end], the same
// geometry MakeSegment computes for a new one.
func (f *File) MoveSegment(idx int, startName, endName string) error {
	if idx < 0 || idx >= len(f.ProgramHeaders.Items) {
		return &CommandError{Command: "MOVE_SEGMENT", Err: fmt.Errorf("segment index %d out of range", idx)}
	}
	start, err := f.SectionHeaders.ByName(startName)
	if err != nil {
		return &CommandError{Command: "MOVE_SEGMENT", Err: err}
	}
	end, err := f.SectionHeaders.ByName(endName)
	if err != nil {
		return &CommandError{Command: "MOVE_SEGMENT", Err: err}
	}
	seg := f.ProgramHeaders.Items[idx]
	seg.Set("p_offset", start.Get("sh_offset"))
	seg.Set("p_vaddr", start.Get("sh_addr"))
	seg.Set("p_paddr", start.Get("sh_addr"))
	seg.Set("p_filesz", end.Get("sh_offset")+end.Get("sh_size")-start.Get("sh_offset"))
	seg.Set("p_memsz", end.Get("sh_addr")+end.Get("sh_size")-start.Get("sh_addr"))
	return nil
}

// AddDynTag looks up tag's id, locates-or-creates stringValue in the
// dynamic string table, and inserts a new entry at the head of .dynamic
// whose d_un holds the string's offset, for d_val and d_ptr tags alike.
func (f *File) AddDynTag(tag string, stringValue string) error {
	tagID, ok := dtTagByName[tag]
	if !ok {
		return &CommandError{Command: "MAKE_DYN_TAG", Err: fmt.Errorf("unknown dynamic tag %q", tag)}
	}

	dynamicSH, err := f.SectionHeaders.ByName(".dynamic")
	if err != nil {
		return &CommandError{Command: "MAKE_DYN_TAG", Err: err}
	}
	dynamic, _ := dynamicSH.Body.(*DynamicSection)

	dynstrSH, err := dynamic.FindSectionByPtrTag(f, DTStrtab)
	if err != nil {
		return &CommandError{Command: "MAKE_DYN_TAG", Err: err}
	}
	dynstr, ok := dynstrSH.Body.(*StrTab)
	if !ok {
		return &CommandError{Command: "MAKE_DYN_TAG", Err: fmt.Errorf("DT_STRTAB does not point at a string table")}
	}
	str := dynstr.GetOrAdd(stringValue)

	entry := newDynamicEntry(f.FileHeader.ByteOrder, f.FileHeader.WordSize)
	err = dynamicEntrySchema.ParseFromMap(&entry.Record, map[string]uint64{
		"d_tag": tagID,
		"d_un":  uint64(str.Offset()),
	})
	if err != nil {
		return &CommandError{Command: "MAKE_DYN_TAG", Err: err}
	}

	dynamic.Items = append([]*DynamicEntry{entry}, dynamic.Items...)
	dynamic.Clean()
	return nil
}

// dtTagByName is the inverse of dtNames, keyed by the upper-cased DT_*
// script syntax (e.g. "DT_NEEDED").
var dtTagByName = func() map[string]uint64 {
	out := make(map[string]uint64, len(dtNames))
	for id, name := range dtNames {
		out["DT_"+strings.ToUpper(name)] = id
	}
	return out
}()
