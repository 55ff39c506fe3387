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

const ehdrIdentSize = 16

// fileHeaderSchema covers e_type through e_shstrndx; e_ident is parsed
// separately because its ei_class/ei_data bytes determine the WordSize and
// ByteOrder every later field (in this record and every other) depends on.
var fileHeaderSchema = &RecordSchema{
	Name: "ELFFileHeader",
	Fields: []Field{
		{Name: "e_type", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_machine", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_version", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "e_entry", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "e_phoff", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "e_shoff", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "e_flags", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "e_ehsize", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_phentsize", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_phnum", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_shentsize", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_shnum", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "e_shstrndx", Codec: AsInt, Size: FieldSize{2, 2}},
	},
}

// FileHeader is the ELF file header: 16-byte ident plus the fixed record
// described by fileHeaderSchema. e_shstrndx is an idx-reference into the
// section header table.
type FileHeader struct {
	Record
	EIdent []byte // the 16 raw ident bytes
}

func newFileHeader() *FileHeader {
	return &FileHeader{}
}

// FromBytes decodes the ident, derives WordSize/ByteOrder from
// ei_class/ei_data, then decodes the rest of the record via the schema
// engine.
func (h *FileHeader) FromBytes(buf []byte) (int, error) {
	if len(buf) < ehdrIdentSize {
		return 0, &ParseError{Record: "ELFFileHeader", Err: fmt.Errorf("buffer shorter than e_ident")}
	}
	h.EIdent = append([]byte(nil), buf[:ehdrIdentSize]...)
	if h.EIdent[0] != 0x7f || string(h.EIdent[1:4]) != "ELF" {
		return 0, &ParseError{Record: "ELFFileHeader", Err: fmt.Errorf("bad magic %x", h.EIdent[:4])}
	}

	switch h.EIdent[4] {
	case 1:
		h.WordSize = 4
	case 2:
		h.WordSize = 8
	default:
		return 0, &ParseError{Record: "ELFFileHeader", Err: fmt.Errorf("unexpected ei_class value: %x", h.EIdent[4])}
	}
	switch h.EIdent[5] {
	case 1:
		h.ByteOrder = "little"
	case 2:
		h.ByteOrder = "big"
	default:
		return 0, &ParseError{Record: "ELFFileHeader", Err: fmt.Errorf("unexpected ei_data value: %x", h.EIdent[5])}
	}

	n, err := fileHeaderSchema.ParseFromBytes(&h.Record, buf[ehdrIdentSize:])
	return ehdrIdentSize + n, err
}

// ToBytes serializes the ident followed by the schema-driven fields.
func (h *FileHeader) ToBytes() ([]byte, error) {
	body, err := h.Record.ToBytes()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, ehdrIdentSize+len(body))
	out = append(out, h.EIdent...)
	out = append(out, body...)
	return out, nil
}

// Size is the ident plus the schema-driven record size.
func (h *FileHeader) Size() int64 {
	return ehdrIdentSize + h.Record.Size()
}

// EIClass and EIData report the raw ident bytes that drove WordSize and
// ByteOrder, used by verify() to cross-check consistency.
func (h *FileHeader) EIClass() byte { return h.EIdent[4] }
func (h *FileHeader) EIData() byte  { return h.EIdent[5] }

// Verify checks ident/wordsize/byteorder consistency, table sizes, and
// pairwise non-overlap of the header tables, the file header, and every
// section body.
func (h *FileHeader) Verify(f *File) error {
	if h.EIClass() < 1 || h.EIClass() > 2 {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("invalid ei_class value: %d", h.EIClass())}
	}
	if h.EIClass() == 1 && h.WordSize != 4 {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("ei_class implies 4-byte words, have %d", h.WordSize)}
	}
	if h.EIClass() == 2 && h.WordSize != 8 {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("ei_class implies 8-byte words, have %d", h.WordSize)}
	}
	if h.EIData() < 1 || h.EIData() > 2 {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("invalid ei_data value: %d", h.EIData())}
	}

	if int(h.Get("e_phnum")) != len(f.ProgramHeaders.Items) {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("e_phnum=%d but table has %d entries", h.Get("e_phnum"), len(f.ProgramHeaders.Items))}
	}
	if int(h.Get("e_shnum")) != len(f.SectionHeaders.Items) {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("e_shnum=%d but table has %d entries", h.Get("e_shnum"), len(f.SectionHeaders.Items))}
	}
	if len(f.ProgramHeaders.Items) > 0 && int64(h.Get("e_phentsize")) != f.ProgramHeaders.Items[0].Size() {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("e_phentsize=%d but entries are %d bytes", h.Get("e_phentsize"), f.ProgramHeaders.Items[0].Size())}
	}
	if len(f.SectionHeaders.Items) > 0 && int64(h.Get("e_shentsize")) != f.SectionHeaders.Items[0].Size() {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("e_shentsize=%d but entries are %d bytes", h.Get("e_shentsize"), f.SectionHeaders.Items[0].Size())}
	}

	ehRange := byteRange{0, h.Size()}
	phStart := int64(h.Get("e_phoff"))
	phRange := byteRange{phStart, phStart + int64(h.Get("e_phnum"))*int64(h.Get("e_phentsize"))}
	shStart := int64(h.Get("e_shoff"))
	shRange := byteRange{shStart, shStart + int64(h.Get("e_shnum"))*int64(h.Get("e_shentsize"))}

	if ehRange.overlaps(phRange) {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("program headers overlap the file header")}
	}
	if ehRange.overlaps(shRange) {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("section headers overlap the file header")}
	}
	if phRange.overlaps(shRange) {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("program headers overlap section headers")}
	}
	for _, sh := range f.SectionHeaders.Items {
		if sh.Get("sh_type") == SHTNobits {
			// NOBITS occupies no file bytes; see §4.5.
			continue
		}
		sectRange := byteRange{int64(sh.Get("sh_offset")), int64(sh.Get("sh_offset") + sh.Get("sh_size"))}
		if ehRange.overlaps(sectRange) {
			return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("file header overlaps section %q", sh.Name())}
		}
		if phRange.overlaps(sectRange) {
			return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("program headers overlap section %q", sh.Name())}
		}
		if shRange.overlaps(sectRange) {
			return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("section headers overlap section %q", sh.Name())}
		}
	}

	shstrndx := int(h.Get("e_shstrndx"))
	if shstrndx < 0 || shstrndx >= len(f.SectionHeaders.Items) {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("e_shstrndx %d out of range", shstrndx)}
	}
	if f.SectionHeaders.Items[shstrndx].Get("sh_type") != SHTStrtab {
		return &VerifyError{What: "ELFFileHeader", Err: fmt.Errorf("e_shstrndx does not name a string table")}
	}
	return nil
}

// Organize places e_shoff at the highest sh_offset+sh_size across every
// section, after the section header table has organized itself, and
// re-derives the header-table entry counts so an added segment cannot
// leave e_phnum stale.
func (h *FileHeader) Organize(f *File) {
	var lastOff uint64
	for _, sh := range f.SectionHeaders.Items {
		end := sh.Get("sh_offset") + sh.Get("sh_size")
		if end > lastOff {
			lastOff = end
		}
	}
	h.Set("e_shoff", lastOff)
	h.Set("e_phnum", uint64(len(f.ProgramHeaders.Items)))
	h.Set("e_shnum", uint64(len(f.SectionHeaders.Items)))
}

type byteRange struct {
	start, end int64
}

func (r byteRange) overlaps(o byteRange) bool {
	return r.start < o.end && o.start < r.end
}
