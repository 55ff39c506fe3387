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
	"sort"

	"golang.org/x/exp/slices"
)

// sh_type values this editor understands. Unknown types fall back to an
// opaque ProgBits body.
const (
	SHTNull       = 0
	SHTProgbits   = 1
	SHTSymtab     = 2
	SHTStrtab     = 3
	SHTRela       = 4
	SHTHash       = 5
	SHTDynamic    = 6
	SHTNote       = 7
	SHTNobits     = 8
	SHTRel        = 9
	SHTDynsym     = 11
	SHTGNUHash    = 0x6ffffff6
	SHTGNUVerneed = 0x6ffffffe
	SHTGNUVersym  = 0x6fffffff
)

var sectionHeaderSchema = &RecordSchema{
	Name: "ELFSectionHeader",
	Fields: []Field{
		{Name: "sh_name", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "sh_type", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "sh_flags", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "sh_addr", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "sh_offset", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "sh_size", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "sh_link", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "sh_info", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "sh_addralign", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "sh_entsize", Codec: AsInt, Size: FieldSize{4, 8}},
	},
}

// Section is the typed body a SectionHeader owns, chosen from sh_type.
type Section interface {
	FromBytes(buf []byte) error
	ToBytes() ([]byte, error)
	ResolveReferences(sh *SectionHeader, root *File) error
}

// SectionHeader is one entry of the section header table, plus the typed
// Section body it owns. sh_name is an off-reference into the section
// header string table; File.resolveReferences binds it.
type SectionHeader struct {
	Record
	itemBase
	Body Section
}

func newSectionHeader(byteOrder string, wordSize int) *SectionHeader {
	sh := &SectionHeader{}
	sh.ByteOrder = byteOrder
	sh.WordSize = wordSize
	sh.Schema = sectionHeaderSchema
	return sh
}

func (sh *SectionHeader) FromBytes(buf []byte) (int, error) {
	return sectionHeaderSchema.ParseFromBytes(&sh.Record, buf)
}

func (sh *SectionHeader) ToBytes() ([]byte, error) {
	return sh.Record.ToBytes()
}

func (sh *SectionHeader) Size() int64 {
	return sh.Record.Size()
}

func (sh *SectionHeader) AsRecord() *Record { return &sh.Record }

// Name returns the section's display name, resolved through the
// section-header-string-table off-reference on sh_name.
func (sh *SectionHeader) Name() string {
	if item := sh.Refs.Target("sh_name"); item != nil {
		if s, ok := item.(*StrItem); ok {
			return s.String()
		}
	}
	return fmt.Sprintf("<sh_name=%d>", sh.Get("sh_name"))
}

// LoadBody decodes the section's file bytes [sh_offset, sh_offset+sh_size)
// into the typed body selected by sh_type, falling back to ProgBits for
// any type this editor does not model. NOBITS sections occupy no file
// bytes (sh_size may even point past the end of the file), so their body
// records the logical size without touching the data.
func (sh *SectionHeader) LoadBody(data []byte) error {
	if sh.Get("sh_type") == SHTNobits {
		sh.Body = &NoBits{size: int64(sh.Get("sh_size"))}
		return nil
	}
	start := sh.Get("sh_offset")
	end := start + sh.Get("sh_size")
	if end > uint64(len(data)) {
		return &ParseError{Record: "ELFSectionHeader", Err: fmt.Errorf("section body [%d,%d) exceeds file size %d", start, end, len(data))}
	}
	body := data[start:end]

	ctor := sectionBodyCtors[sh.Get("sh_type")]
	if ctor == nil {
		ctor = newProgBits
	}
	section := ctor(sh.ByteOrder, sh.WordSize)
	if err := section.FromBytes(body); err != nil {
		return err
	}
	sh.Body = section
	return nil
}

// sectionBodyCtors maps sh_type to the constructor for its typed body.
var sectionBodyCtors = map[uint64]func(byteOrder string, wordSize int) Section{
	SHTStrtab:     func(bo string, ws int) Section { return newStrTab(bo, ws) },
	SHTSymtab:     func(bo string, ws int) Section { return newSymTab(bo, ws) },
	SHTDynsym:     func(bo string, ws int) Section { return newSymTab(bo, ws) },
	SHTRela:       func(bo string, ws int) Section { return newRelaTable(bo, ws) },
	SHTDynamic:    func(bo string, ws int) Section { return newDynamicSection(bo, ws) },
	SHTGNUHash:    func(bo string, ws int) Section { return newGNUHash(bo, ws) },
	SHTGNUVersym:  func(bo string, ws int) Section { return newVerSymTable(bo, ws) },
	SHTGNUVerneed: func(bo string, ws int) Section { return newVerNeedTable(bo, ws) },
}

func newProgBits(byteOrder string, wordSize int) Section {
	return &ProgBits{}
}

// SectionHeaderTable is the ELF section header table.
type SectionHeaderTable struct {
	Table[*SectionHeader]
	ByteOrder string
	WordSize  int
}

func newSectionHeaderTable(byteOrder string, wordSize int) *SectionHeaderTable {
	return &SectionHeaderTable{Table: *NewTable[*SectionHeader](), ByteOrder: byteOrder, WordSize: wordSize}
}

// FromBytes parses a contiguous run of fixed-size section headers.
func (t *SectionHeaderTable) FromBytes(buf []byte, entrySize int) error {
	pos := 0
	for pos+entrySize <= len(buf) {
		sh := newSectionHeader(t.ByteOrder, t.WordSize)
		n, err := sh.FromBytes(buf[pos : pos+entrySize])
		if err != nil {
			return err
		}
		t.Items = append(t.Items, sh)
		pos += n
	}
	t.Clean()
	return nil
}

// ByName returns the section header whose resolved name matches name.
func (t *SectionHeaderTable) ByName(name string) (*SectionHeader, error) {
	for _, sh := range t.Items {
		if sh.Name() == name {
			return sh, nil
		}
	}
	return nil, fmt.Errorf("no section named %q", name)
}

// byFileOffset returns the headers ordered by their sh_offset field
// without renumbering idx, the order both Verify and Organize scan in.
func (t *SectionHeaderTable) byFileOffset() []*SectionHeader {
	out := slices.Clone(t.Items)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Get("sh_offset") < out[j].Get("sh_offset") })
	return out
}

// Verify checks the table bookkeeping, that sections adjacent in file
// order do not overlap (NOBITS excepted), and that each sh_addr honours
// sh_addralign. It does not check sections against the segments that map
// them.
func (t *SectionHeaderTable) Verify(f *File) error {
	if err := t.VerifyLayout(); err != nil {
		return err
	}
	sorted := t.byFileOffset()
	for i := 1; i < len(sorted); i++ {
		a, b := sorted[i-1], sorted[i]
		if a.Get("sh_type") == SHTNobits || b.Get("sh_type") == SHTNobits {
			continue
		}
		aEnd := a.Get("sh_offset") + a.Get("sh_size")
		bEnd := b.Get("sh_offset") + b.Get("sh_size")
		if aEnd > b.Get("sh_offset") && bEnd > a.Get("sh_offset") {
			return &VerifyError{What: "ELFSectionTable", Err: fmt.Errorf("sections %q and %q overlap in the file", a.Name(), b.Name())}
		}
	}
	for _, sh := range t.Items {
		align := sh.Get("sh_addralign")
		if align != 0 && sh.Get("sh_addr")%align != 0 {
			return &VerifyError{What: "ELFSectionTable", Err: fmt.Errorf("section %q is misaligned", sh.Name())}
		}
	}
	return nil
}

// Organize deconflicts file-offset overlaps introduced by prior edits,
// refusing to move any PROGBITS section (its bytes are pinned) and
// shifting later sections forward to satisfy their sh_addralign. NULL
// headers describe no file bytes and are left where they are, so the
// reserved section 0 never gets pushed past the program header table.
func (t *SectionHeaderTable) Organize(f *File) error {
	t.Clean()
	var sorted []*SectionHeader
	for _, sh := range t.byFileOffset() {
		if sh.Get("sh_type") == SHTNull {
			continue
		}
		sorted = append(sorted, sh)
	}
	if len(sorted) == 0 {
		return nil
	}

	phEnd := f.FileHeader.Get("e_phoff") + f.FileHeader.Get("e_phnum")*f.FileHeader.Get("e_phentsize")
	if diff := computeDiff(f.FileHeader.Get("e_phoff"), phEnd-f.FileHeader.Get("e_phoff"), sorted[0].Get("sh_offset"), sorted[0].Get("sh_size"), sorted[0].Get("sh_addralign")); diff != 0 {
		if sorted[0].Get("sh_type") == SHTProgbits {
			return fmt.Errorf("tried to move progbits section %q", sorted[0].Name())
		}
		sorted[0].Set("sh_offset", sorted[0].Get("sh_offset")+diff)
		sorted[0].Set("sh_addr", sorted[0].Get("sh_addr")+diff)
	}

	for i := 1; i < len(sorted); i++ {
		a, b := sorted[i-1], sorted[i]
		if a.Get("sh_type") == SHTNobits || b.Get("sh_type") == SHTNobits {
			continue
		}
		diff := computeDiff(a.Get("sh_offset"), a.Get("sh_size"), b.Get("sh_offset"), b.Get("sh_size"), b.Get("sh_addralign"))
		if diff == 0 {
			continue
		}
		if b.Get("sh_type") == SHTProgbits {
			return fmt.Errorf("tried to move progbits section %q", b.Name())
		}
		b.Set("sh_offset", b.Get("sh_offset")+diff)
		b.Set("sh_addr", b.Get("sh_addr")+diff)
	}
	return nil
}

// computeDiff returns the minimal non-negative shift that moves item b
// past item a's end while keeping b aligned to bAlign.
func computeDiff(aStart, aSize, bStart, bSize, bAlign uint64) uint64 {
	aEnd := aStart + aSize
	if bStart >= aEnd {
		return 0
	}
	diff := aEnd - bStart
	if bAlign != 0 {
		if mod := diff % bAlign; mod != 0 {
			diff += bAlign - mod
		}
	}
	return diff
}
