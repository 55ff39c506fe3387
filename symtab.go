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

// st_info binding (high nibble).
const (
	STBLocal  = 0
	STBGlobal = 1
	STBWeak   = 2
)

// st_info type (low nibble).
const (
	STTNone    = 0
	STTObject  = 1
	STTFunc    = 2
	STTSection = 3
	STTFile    = 4
	STTCommon  = 5
	STTTLS     = 6
)

var symbolBindings = EnumTable{STBLocal: "LOCAL", STBGlobal: "GLOBAL", STBWeak: "WEAK"}
var symbolTypes = EnumTable{
	STTNone: "NONE", STTObject: "OBJECT", STTFunc: "FUNC", STTSection: "SECTION",
	STTFile: "FILE", STTCommon: "COMMON", STTTLS: "TLS",
}

const (
	shnUndef = 0
	shnAbs   = 0xfff1
)

// symbolSchema32/64 differ in field order between word sizes, like
// ProgramHeader.
var symbolSchema32 = &RecordSchema{
	Name: "ELFSymbol32",
	Fields: []Field{
		{Name: "st_name", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "st_value", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "st_size", Codec: AsInt, Size: FieldSize{4, 0}},
		{Name: "st_info", Codec: AsInt, Size: FieldSize{1, 0}},
		{Name: "st_other", Codec: AsInt, Size: FieldSize{1, 0}},
		{Name: "st_shndx", Codec: AsInt, Size: FieldSize{2, 0}},
	},
}

var symbolSchema64 = &RecordSchema{
	Name: "ELFSymbol64",
	Fields: []Field{
		{Name: "st_name", Codec: AsInt, Size: FieldSize{0, 4}},
		{Name: "st_info", Codec: AsInt, Size: FieldSize{0, 1}},
		{Name: "st_other", Codec: AsInt, Size: FieldSize{0, 1}},
		{Name: "st_shndx", Codec: AsInt, Size: FieldSize{0, 2}},
		{Name: "st_value", Codec: AsInt, Size: FieldSize{0, 8}},
		{Name: "st_size", Codec: AsInt, Size: FieldSize{0, 8}},
	},
}

func symbolSchemaFor(wordSize int) *RecordSchema {
	if wordSize == 4 {
		return symbolSchema32
	}
	return symbolSchema64
}

// Symbol is one entry of a SYMTAB/DYNSYM section.
type Symbol struct {
	Record
	itemBase
}

func newSymbol(byteOrder string, wordSize int) *Symbol {
	s := &Symbol{}
	s.ByteOrder = byteOrder
	s.WordSize = wordSize
	return s
}

func (s *Symbol) FromBytes(buf []byte) (int, error) {
	return symbolSchemaFor(s.WordSize).ParseFromBytes(&s.Record, buf)
}

func (s *Symbol) ToBytes() ([]byte, error) { return s.Record.ToBytes() }
func (s *Symbol) Size() int64              { return s.Record.Size() }
func (s *Symbol) AsRecord() *Record        { return &s.Record }

// Binding returns the high nibble of st_info.
func (s *Symbol) Binding() uint64 { return s.Get("st_info") >> 4 }

// Type returns the low nibble of st_info.
func (s *Symbol) Type() uint64 { return s.Get("st_info") & 0xf }

// SetInfo packs binding/typ back into st_info.
func (s *Symbol) SetInfo(binding, typ uint64) {
	s.Set("st_info", (binding<<4)|(typ&0xf))
}

// Name resolves st_name through the associated string table (linked via
// the owning section header's sh_link, bound as an off-reference).
func (s *Symbol) Name() string {
	if item := s.Refs.Target("st_name"); item != nil {
		if str, ok := item.(*StrItem); ok {
			return str.String()
		}
	}
	return ""
}

// ShndxName renders st_shndx, special-casing the reserved sentinels.
func (s *Symbol) ShndxName(f *File) string {
	switch s.Get("st_shndx") {
	case shnUndef:
		return "*UND*"
	case shnAbs:
		return "*ABS*"
	}
	if item := s.Refs.Target("st_shndx"); item != nil {
		if sh, ok := item.(*SectionHeader); ok {
			return sh.Name()
		}
	}
	return ""
}

// Display renders the symbol the way PRINT does: name, resolved
// binding/type, and section name.
func (s *Symbol) Display(f *File) string {
	return s.Name() + " " + symbolBindings.Display(s.Binding()) + " " +
		symbolTypes.Display(s.Type()) + " " + s.ShndxName(f)
}

// SymTab is a SYMTAB/DYNSYM section body: a Table of Symbols.
type SymTab struct {
	Table[*Symbol]
	ByteOrder string
	WordSize  int
}

func newSymTab(byteOrder string, wordSize int) Section {
	return &SymTab{Table: *NewTable[*Symbol](), ByteOrder: byteOrder, WordSize: wordSize}
}

func (t *SymTab) FromBytes(buf []byte) error {
	entrySize := int(symbolSchemaFor(t.WordSize).SizeFor(t.WordSize))
	pos := 0
	for pos+entrySize <= len(buf) {
		sym := newSymbol(t.ByteOrder, t.WordSize)
		n, err := sym.FromBytes(buf[pos : pos+entrySize])
		if err != nil {
			return err
		}
		t.Items = append(t.Items, sym)
		pos += n
	}
	t.Clean()
	return nil
}

func (t *SymTab) ToBytes() ([]byte, error) { return t.Table.ToBytes() }

func (t *SymTab) ResolveReferences(sh *SectionHeader, root *File) error {
	strtabSH, err := root.linkedSection(sh)
	if err != nil {
		return err
	}
	strtab, _ := strtabSH.Body.(*StrTab)
	for _, sym := range t.Items {
		sym.Refs.Specs = []ReferenceSpec{
			{Field: "st_name", Kind: RefOff, Lookup: func(r *Record, root *File) (any, error) { return strtab, nil }},
			{Field: "st_shndx", Kind: RefIdx, Ignore: map[uint64]bool{shnUndef: true, shnAbs: true},
				Lookup: func(r *Record, root *File) (any, error) { return &root.SectionHeaders.Table, nil }},
		}
		if err := sym.Refs.Resolve(&sym.Record, root); err != nil {
			return err
		}
	}
	return nil
}

// ByName returns the first symbol whose resolved name equals name.
func (t *SymTab) ByName(name string) (*Symbol, bool) {
	for _, sym := range t.Items {
		if sym.Name() == name {
			return sym, true
		}
	}
	return nil, false
}
