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

// relaSchema: r_offset, r_info, r_addend, all fixed width per word size
// (no field reordering between widths, unlike Symbol/ProgramHeader).
var relaSchema = &RecordSchema{
	Name: "ELFRelaEntry",
	Fields: []Field{
		{Name: "r_offset", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "r_info", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "r_addend", Codec: AsInt, Size: FieldSize{4, 8}},
	},
}

// RelaEntry is one entry of a RELA section.
type RelaEntry struct {
	Record
	itemBase
}

func newRelaEntry(byteOrder string, wordSize int) *RelaEntry {
	r := &RelaEntry{}
	r.ByteOrder = byteOrder
	r.WordSize = wordSize
	return r
}

func (r *RelaEntry) FromBytes(buf []byte) (int, error) {
	return relaSchema.ParseFromBytes(&r.Record, buf)
}
func (r *RelaEntry) ToBytes() ([]byte, error) { return r.Record.ToBytes() }
func (r *RelaEntry) Size() int64              { return r.Record.Size() }
func (r *RelaEntry) AsRecord() *Record        { return &r.Record }

// Sym returns the relocation's symbol-table index, the high bits of
// r_info for 32-bit words or the high 32 bits for 64-bit words.
func (r *RelaEntry) Sym() uint64 {
	if r.WordSize == 4 {
		return r.Get("r_info") >> 8
	}
	return r.Get("r_info") >> 32
}

// RelaTable is an SHT_RELA section body.
type RelaTable struct {
	Table[*RelaEntry]
	ByteOrder string
	WordSize  int
}

func newRelaTable(byteOrder string, wordSize int) Section {
	return &RelaTable{Table: *NewTable[*RelaEntry](), ByteOrder: byteOrder, WordSize: wordSize}
}

func (t *RelaTable) FromBytes(buf []byte) error {
	entrySize := int(relaSchema.SizeFor(t.WordSize))
	pos := 0
	for pos+entrySize <= len(buf) {
		e := newRelaEntry(t.ByteOrder, t.WordSize)
		n, err := e.FromBytes(buf[pos : pos+entrySize])
		if err != nil {
			return err
		}
		t.Items = append(t.Items, e)
		pos += n
	}
	t.Clean()
	return nil
}

func (t *RelaTable) ToBytes() ([]byte, error) { return t.Table.ToBytes() }

// ResolveReferences is a no-op: r_info packs a relocation type alongside
// the symbol index, so it is not a plain idx-ref; Sym() decodes it
// directly instead of going through the reference binder.
func (t *RelaTable) ResolveReferences(sh *SectionHeader, root *File) error {
	return nil
}
