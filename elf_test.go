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
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// le is a tiny little-endian byte-buffer builder used only to assemble a
// synthetic ELF64 fixture for the end-to-end tests below.
type le struct{ buf []byte }

func (l *le) u16(v uint16) { l.buf = binary.LittleEndian.AppendUint16(l.buf, v) }
func (l *le) u32(v uint32) { l.buf = binary.LittleEndian.AppendUint32(l.buf, v) }
func (l *le) u64(v uint64) { l.buf = binary.LittleEndian.AppendUint64(l.buf, v) }
func (l *le) bytes(b []byte) { l.buf = append(l.buf, b...) }
func (l *le) padTo(total int) {
	for len(l.buf) < total {
		l.buf = append(l.buf, 0)
	}
}

func alignUp(off, a int64) int64 {
	if a <= 1 {
		return off
	}
	if m := off % a; m != 0 {
		off += a - m
	}
	return off
}

func mkShdr(nameOff uint32, shType uint32, flags, addr, offset, size uint64, link, info uint32, addralign, entsize uint64) []byte {
	b := &le{}
	b.u32(nameOff)
	b.u32(shType)
	b.u64(flags)
	b.u64(addr)
	b.u64(offset)
	b.u64(size)
	b.u32(link)
	b.u32(info)
	b.u64(addralign)
	b.u64(entsize)
	return b.buf
}

func mkPhdr64(pType, flags uint32, offset, vaddr, paddr, filesz, memsz, align uint64) []byte {
	b := &le{}
	b.u32(pType)
	b.u32(flags)
	b.u64(offset)
	b.u64(vaddr)
	b.u64(paddr)
	b.u64(filesz)
	b.u64(memsz)
	b.u64(align)
	return b.buf
}

func mkEhdr(phoff, shoff uint64, phnum, shnum, shstrndx uint16) []byte {
	b := &le{}
	b.bytes([]byte{0x7f, 'E', 'L', 'F', 2, 1, 1, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	b.u16(3)    // e_type: ET_DYN
	b.u16(0x3e) // e_machine: EM_X86_64
	b.u32(1)    // e_version
	b.u64(0)    // e_entry
	b.u64(phoff)
	b.u64(shoff)
	b.u32(0)  // e_flags
	b.u16(64) // e_ehsize
	b.u16(56) // e_phentsize
	b.u16(phnum)
	b.u16(64) // e_shentsize
	b.u16(shnum)
	b.u16(shstrndx)
	return b.buf
}

// buildFixtureELF assembles a minimal but complete little-endian ELF64
// shared object, by hand, with a .dynsym/.dynstr/.dynamic/.gnu.hash/
// .gnu.version/.gnu.version_r/.text section set. Every section's file
// offset equals its virtual address, so the single covering PT_LOAD
// segment trivially satisfies the alignment invariant.
func buildFixtureELF(t *testing.T) []byte {
	t.Helper()

	shstrtab := &le{}
	shstrtab.bytes([]byte{0})
	nameOff := map[string]uint32{}
	addName := func(name string) {
		nameOff[name] = uint32(len(shstrtab.buf))
		shstrtab.bytes(append([]byte(name), 0))
	}
	addName(".shstrtab")
	addName(".dynstr")
	addName(".dynsym")
	addName(".dynamic")
	addName(".gnu.hash")
	addName(".gnu.version")
	addName(".gnu.version_r")
	addName(".text")

	dynstr := &le{}
	dynstr.bytes([]byte{0})
	strOff := map[string]uint32{}
	addStr := func(s string) {
		strOff[s] = uint32(len(dynstr.buf))
		dynstr.bytes(append([]byte(s), 0))
	}
	addStr("memcpy")
	addStr("printf")
	addStr("libfoo.so.1")
	addStr("libc.so.6")
	addStr("GLIBC_2.2.5")

	const textShndx = 8

	symtab := &SymTab{Table: *NewTable[*Symbol](), ByteOrder: "little", WordSize: 8}
	mkSym := func(name string, info, shndx uint64) *Symbol {
		sym := newSymbol("little", 8)
		var rawName uint64
		if name != "" {
			rawName = uint64(strOff[name])
		}
		err := symbolSchema64.ParseFromMap(&sym.Record, map[string]uint64{
			"st_name": rawName, "st_info": info, "st_other": 0,
			"st_shndx": shndx, "st_value": 0x1000, "st_size": 0x10,
		})
		if err != nil {
			t.Fatalf("symbol from map: %v", err)
		}
		// The resolved st_name target must sit at the same offset the raw
		// value names, or serializing through the reference would drift.
		str := &StrItem{}
		str.FromString(name)
		str.SetOffset(int64(rawName))
		sym.Refs.resolved = map[string]resolvedRef{"st_name": {kind: RefOff, target: str}}
		return sym
	}
	symtab.Append(mkSym("", 0, 0))
	symtab.Append(mkSym("memcpy", (1<<4)|2, textShndx))
	symtab.Append(mkSym("printf", (1<<4)|2, textShndx))

	hash := &GNUHash{NBuckets: 2, BloomSize: 1, BloomShift: 5, byteOrder: binary.LittleEndian, wordSize: 8}
	hash.Organize(symtab)

	dynsymBytes, err := symtab.ToBytes()
	if err != nil {
		t.Fatalf("dynsym ToBytes: %v", err)
	}
	gnuHashBytes, err := hash.ToBytes()
	if err != nil {
		t.Fatalf("gnu.hash ToBytes: %v", err)
	}

	versym := &VerSymTable{byteOrder: binary.LittleEndian}
	versym.Versions = make([]uint16, len(symtab.Items))
	versymBytes, err := versym.ToBytes()
	if err != nil {
		t.Fatalf("versym ToBytes: %v", err)
	}

	verneed := &le{}
	verneed.u16(1)                          // vn_version
	verneed.u16(1)                          // vn_cnt
	verneed.u32(strOff["libc.so.6"])        // vn_file
	verneed.u32(16)                         // vn_aux (one VerNeed record ahead)
	verneed.u32(0)                          // vn_next
	verneed.u32(DJB2Hash("GLIBC_2.2.5"))    // vna_hash
	verneed.u16(0)                          // vna_flags
	verneed.u16(2)                          // vna_other
	verneed.u32(strOff["GLIBC_2.2.5"])      // vna_name
	verneed.u32(0)                          // vna_next
	verneedBytes := verneed.buf

	text := make([]byte, 16)
	for i := range text {
		text[i] = 0x90
	}

	const ehdrSize, phdrSize = 64, 56
	const nSections = 9
	const dynamicSize = 6 * 16

	phOff := int64(ehdrSize)
	secStart := phOff + phdrSize

	shstrtabOff := secStart
	dynstrOff := alignUp(shstrtabOff+int64(len(shstrtab.buf)), 1)
	dynsymOff := alignUp(dynstrOff+int64(len(dynstr.buf)), 8)
	dynamicOff := alignUp(dynsymOff+int64(len(dynsymBytes)), 8)
	gnuHashOff := alignUp(dynamicOff+dynamicSize, 8)
	versymOff := alignUp(gnuHashOff+int64(len(gnuHashBytes)), 2)
	verneedOff := alignUp(versymOff+int64(len(versymBytes)), 8)
	textOff := alignUp(verneedOff+int64(len(verneedBytes)), 8)
	shOff := alignUp(textOff+int64(len(text)), 8)
	fileSize := shOff + nSections*64

	dyn := &le{}
	putDyn := func(tag, val uint64) {
		dyn.u64(tag)
		dyn.u64(val)
	}
	putDyn(DTStrtab, uint64(dynstrOff))
	putDyn(DTSymtab, uint64(dynsymOff))
	putDyn(DTVersym, uint64(versymOff))
	putDyn(DTVerneed, uint64(verneedOff))
	putDyn(DTVerneedNum, 1)
	putDyn(DTNull, 0)
	dynamicBytes := dyn.buf
	if len(dynamicBytes) != dynamicSize {
		t.Fatalf("internal: dynamic section is %d bytes, want %d", len(dynamicBytes), dynamicSize)
	}

	shdrs := [][]byte{
		mkShdr(0, SHTNull, 0, 0, 0, 0, 0, 0, 0, 0),
		mkShdr(nameOff[".shstrtab"], SHTStrtab, 0, uint64(shstrtabOff), uint64(shstrtabOff), uint64(len(shstrtab.buf)), 0, 0, 1, 0),
		mkShdr(nameOff[".dynstr"], SHTStrtab, 2, uint64(dynstrOff), uint64(dynstrOff), uint64(len(dynstr.buf)), 0, 0, 1, 0),
		mkShdr(nameOff[".dynsym"], SHTDynsym, 2, uint64(dynsymOff), uint64(dynsymOff), uint64(len(dynsymBytes)), 2, 1, 8, 24),
		mkShdr(nameOff[".dynamic"], SHTDynamic, 3, uint64(dynamicOff), uint64(dynamicOff), uint64(len(dynamicBytes)), 2, 0, 8, 16),
		mkShdr(nameOff[".gnu.hash"], SHTGNUHash, 2, uint64(gnuHashOff), uint64(gnuHashOff), uint64(len(gnuHashBytes)), 3, 0, 8, 0),
		mkShdr(nameOff[".gnu.version"], SHTGNUVersym, 2, uint64(versymOff), uint64(versymOff), uint64(len(versymBytes)), 3, 0, 2, 2),
		mkShdr(nameOff[".gnu.version_r"], SHTGNUVerneed, 2, uint64(verneedOff), uint64(verneedOff), uint64(len(verneedBytes)), 2, 1, 4, 0),
		mkShdr(nameOff[".text"], SHTProgbits, 6, uint64(textOff), uint64(textOff), uint64(len(text)), 0, 0, 8, 0),
	}

	out := &le{}
	out.bytes(mkEhdr(uint64(phOff), uint64(shOff), 1, nSections, 1))
	out.bytes(mkPhdr64(PTLoad, PFR|PFX, 0, 0, 0, uint64(fileSize), uint64(fileSize), 0x1000))
	out.padTo(int(shstrtabOff))
	out.bytes(shstrtab.buf)
	out.padTo(int(dynstrOff))
	out.bytes(dynstr.buf)
	out.padTo(int(dynsymOff))
	out.bytes(dynsymBytes)
	out.padTo(int(dynamicOff))
	out.bytes(dynamicBytes)
	out.padTo(int(gnuHashOff))
	out.bytes(gnuHashBytes)
	out.padTo(int(versymOff))
	out.bytes(versymBytes)
	out.padTo(int(verneedOff))
	out.bytes(verneedBytes)
	out.padTo(int(textOff))
	out.bytes(text)
	out.padTo(int(shOff))
	for _, s := range shdrs {
		out.bytes(s)
	}

	if int64(len(out.buf)) != fileSize {
		t.Fatalf("internal: built fixture is %d bytes, want %d", len(out.buf), fileSize)
	}
	return out.buf
}

func TestEndToEndLoadOrganizeVerify(t *testing.T) {
	data := buildFixtureELF(t)
	f, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := f.Organize(); err != nil {
		t.Fatalf("Organize: %v", err)
	}
	if err := f.Verify(); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

// TestEndToEndLoadSaveRoundTrip: LOAD then SAVE on an already-organized
// file reproduces byte-identical output.
func TestEndToEndLoadSaveRoundTrip(t *testing.T) {
	data := buildFixtureELF(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Script{}
	script := "LOAD,ELF," + in + "\nSAVE," + out + ",OVERWRITE\n"
	if err := s.Run(strings.NewReader(script)); err != nil {
		t.Fatalf("script run: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data) {
		t.Errorf("SAVE output is not byte-identical to the input (len %d vs %d)", len(got), len(data))
	}
}

// TestEndToEndRenameSymbolRebuildsHash: after RENAME_SYMBOL and SAVE, the
// saved file resolves the symbol under its new name and the rebuilt
// .gnu.hash verifies against it.
func TestEndToEndRenameSymbolRebuildsHash(t *testing.T) {
	data := buildFixtureELF(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Script{}
	script := "LOAD,ELF," + in + "\n" +
		"RENAME_SYMBOL,printf,myprint,BOTH,STRICT\n" +
		"SAVE," + out + ",OVERWRITE\n"
	if err := s.Run(strings.NewReader(script)); err != nil {
		t.Fatalf("script run: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Load(got)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	dynsymSH, err := f2.SectionHeaders.ByName(".dynsym")
	if err != nil {
		t.Fatal(err)
	}
	dynsym := dynsymSH.Body.(*SymTab)
	if _, ok := dynsym.ByName("printf"); ok {
		t.Errorf("old name %q should no longer be present", "printf")
	}
	sym, ok := dynsym.ByName("myprint")
	if !ok {
		t.Fatalf("renamed symbol %q not found after reload", "myprint")
	}

	hashSH, err := f2.SectionHeaders.ByName(".gnu.hash")
	if err != nil {
		t.Fatal(err)
	}
	hash := hashSH.Body.(*GNUHash)
	if err := hash.Verify(dynsym); err != nil {
		t.Errorf(".gnu.hash does not verify against the renamed symbol: %v", err)
	}
	if sym.Name() != "myprint" {
		t.Errorf("symbol name resolved to %q, want %q", sym.Name(), "myprint")
	}
}

// TestEndToEndSetSymbolVersion: SET_SYMBOL_VERSION writes the version into
// the .gnu.version entry at the symbol's index.
func TestEndToEndSetSymbolVersion(t *testing.T) {
	data := buildFixtureELF(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Script{}
	script := "LOAD,ELF," + in + "\n" +
		"SET_SYMBOL_VERSION,memcpy,2,STRICT\n" +
		"SAVE," + out + ",OVERWRITE\n"
	if err := s.Run(strings.NewReader(script)); err != nil {
		t.Fatalf("script run: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Load(got)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	dynsymSH, _ := f2.SectionHeaders.ByName(".dynsym")
	dynsym := dynsymSH.Body.(*SymTab)
	sym, ok := dynsym.ByName("memcpy")
	if !ok {
		t.Fatalf("symbol %q not found", "memcpy")
	}
	versymSH, _ := f2.SectionHeaders.ByName(".gnu.version")
	versym := versymSH.Body.(*VerSymTable)
	if got := versym.Versions[sym.Idx()]; got != 2 {
		t.Errorf(".gnu.version[%d] = %d, want 2", sym.Idx(), got)
	}
}

// TestEndToEndSetSymbolVersionUnknownFails covers the STRICT failure path:
// a version with no matching vna_other must be rejected.
func TestEndToEndSetSymbolVersionUnknownFails(t *testing.T) {
	data := buildFixtureELF(t)
	f, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.SetSymbolVersion("memcpy", 7, Strict); err == nil {
		t.Fatalf("expected an error: version 7 matches no vna_other")
	}
}

// TestEndToEndMoveSectionToEnd: the moved section lands at the highest
// aligned offset/address and becomes the last header.
func TestEndToEndMoveSectionToEnd(t *testing.T) {
	data := buildFixtureELF(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Load(data)
	if err != nil {
		t.Fatal(err)
	}
	var wantOff uint64
	for _, sh := range f.SectionHeaders.Items {
		if end := sh.Get("sh_offset") + sh.Get("sh_size"); end > wantOff {
			wantOff = end
		}
	}

	s := &Script{}
	script := "LOAD,ELF," + in + "\n" +
		"MOVE_SECTION,.text,0x1000\n" +
		"SAVE," + out + ",OVERWRITE\n"
	if err := s.Run(strings.NewReader(script)); err != nil {
		t.Fatalf("script run: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Load(got)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	text, err := f2.SectionHeaders.ByName(".text")
	if err != nil {
		t.Fatal(err)
	}
	if text.Idx() != len(f2.SectionHeaders.Items)-1 {
		t.Errorf(".text idx = %d, want last (%d)", text.Idx(), len(f2.SectionHeaders.Items)-1)
	}
	if off := text.Get("sh_offset"); off < wantOff {
		t.Errorf(".text sh_offset = %#x, want >= former far offset %#x", off, wantOff)
	}
	if align := text.Get("sh_addralign"); text.Get("sh_addr")%align != 0 {
		t.Errorf(".text sh_addr %#x violates sh_addralign %#x", text.Get("sh_addr"), align)
	}
	if err := f2.Verify(); err != nil {
		t.Errorf("Verify after reload: %v", err)
	}
}

// TestMakeSegmentInsertsAfterLastLoad: the new PT_LOAD's geometry spans
// [start, end] and it sits immediately after the last existing PT_LOAD.
func TestMakeSegmentInsertsAfterLastLoad(t *testing.T) {
	f, err := Load(buildFixtureELF(t))
	if err != nil {
		t.Fatal(err)
	}
	start, err := f.SectionHeaders.ByName(".dynstr")
	if err != nil {
		t.Fatal(err)
	}
	end, err := f.SectionHeaders.ByName(".gnu.hash")
	if err != nil {
		t.Fatal(err)
	}

	if err := f.MakeSegment("PT_LOAD", PFR|PFX, 0x1000, ".dynstr", ".gnu.hash"); err != nil {
		t.Fatalf("MakeSegment: %v", err)
	}
	if len(f.ProgramHeaders.Items) != 2 {
		t.Fatalf("program header count = %d, want 2", len(f.ProgramHeaders.Items))
	}
	seg := f.ProgramHeaders.Items[1] // after the fixture's single PT_LOAD
	if seg.Get("p_type") != PTLoad {
		t.Errorf("p_type = %d, want PT_LOAD", seg.Get("p_type"))
	}
	if got, want := seg.Get("p_offset"), start.Get("sh_offset"); got != want {
		t.Errorf("p_offset = %#x, want %#x", got, want)
	}
	wantFilesz := end.Get("sh_offset") + end.Get("sh_size") - start.Get("sh_offset")
	if got := seg.Get("p_filesz"); got != wantFilesz {
		t.Errorf("p_filesz = %#x, want %#x", got, wantFilesz)
	}
	wantMemsz := end.Get("sh_addr") + end.Get("sh_size") - start.Get("sh_addr")
	if got := seg.Get("p_memsz"); got != wantMemsz {
		t.Errorf("p_memsz = %#x, want %#x", got, wantMemsz)
	}
	if got := seg.Get("p_flags"); got != PFR|PFX {
		t.Errorf("p_flags = %#x, want R|E", got)
	}
}

// TestMoveSegmentRewritesGeometry covers MOVE_SEGMENT at the API level.
func TestMoveSegmentRewritesGeometry(t *testing.T) {
	f, err := Load(buildFixtureELF(t))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.MoveSegment(0, ".dynstr", ".text"); err != nil {
		t.Fatalf("MoveSegment: %v", err)
	}
	seg := f.ProgramHeaders.Items[0]
	start, _ := f.SectionHeaders.ByName(".dynstr")
	end, _ := f.SectionHeaders.ByName(".text")
	if got, want := seg.Get("p_offset"), start.Get("sh_offset"); got != want {
		t.Errorf("p_offset = %#x, want %#x", got, want)
	}
	if got, want := seg.Get("p_filesz"), end.Get("sh_offset")+end.Get("sh_size")-start.Get("sh_offset"); got != want {
		t.Errorf("p_filesz = %#x, want %#x", got, want)
	}
	if err := f.MoveSegment(5, ".dynstr", ".text"); err == nil {
		t.Errorf("expected an error for an out-of-range segment index")
	}
}

// TestEndToEndAddDynTagReusesExistingString: MAKE_DYN_TAG reuses an
// existing dynamic-string entry and puts the new entry first in .dynamic.
func TestEndToEndAddDynTagReusesExistingString(t *testing.T) {
	data := buildFixtureELF(t)
	dir := t.TempDir()
	in := filepath.Join(dir, "in.bin")
	out := filepath.Join(dir, "out.bin")
	if err := os.WriteFile(in, data, 0o644); err != nil {
		t.Fatal(err)
	}

	s := &Script{}
	script := "LOAD,ELF," + in + "\n" +
		"MAKE_DYN_TAG,DT_NEEDED,libfoo.so.1\n" +
		"SAVE," + out + ",OVERWRITE\n"
	if err := s.Run(strings.NewReader(script)); err != nil {
		t.Fatalf("script run: %v", err)
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	f2, err := Load(got)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	dynamicSH, _ := f2.SectionHeaders.ByName(".dynamic")
	dynamic := dynamicSH.Body.(*DynamicSection)
	if len(dynamic.Items) == 0 || dynamic.Items[0].Get("d_tag") != DTNeeded {
		t.Fatalf("expected the new DT_NEEDED entry to be first in .dynamic")
	}

	dynstrSH, _ := f2.SectionHeaders.ByName(".dynstr")
	dynstr := dynstrSH.Body.(*StrTab)
	libItem := dynstr.GetOrAdd("libfoo.so.1")
	if int64(dynamic.Items[0].Value()) != libItem.Offset() {
		t.Errorf("new DT_NEEDED value %d does not match the existing %q entry's offset %d",
			dynamic.Items[0].Value(), "libfoo.so.1", libItem.Offset())
	}

	// GetOrAdd must not have appended a duplicate.
	count := 0
	for _, item := range dynstr.Items {
		if item.String() == "libfoo.so.1" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("libfoo.so.1 appears %d times in .dynstr, want 1 (reused, not duplicated)", count)
	}
}

