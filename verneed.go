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

var verNeedSchema = &RecordSchema{
	Name: "ELFVerNeed",
	Fields: []Field{
		{Name: "vn_version", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "vn_cnt", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "vn_file", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "vn_aux", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "vn_next", Codec: AsInt, Size: FieldSize{4, 4}},
	},
}

var verNeedAuxSchema = &RecordSchema{
	Name: "ELFVerNeedAux",
	Fields: []Field{
		{Name: "vna_hash", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "vna_flags", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "vna_other", Codec: AsInt, Size: FieldSize{2, 2}},
		{Name: "vna_name", Codec: AsInt, Size: FieldSize{4, 4}},
		{Name: "vna_next", Codec: AsInt, Size: FieldSize{4, 4}},
	},
}

// VerNeedAux is one auxiliary entry (one imported symbol version).
type VerNeedAux struct {
	Record
	itemBase
}

func (a *VerNeedAux) AsRecord() *Record { return &a.Record }

// Name resolves vna_name through the dynamic string table.
func (a *VerNeedAux) Name() string {
	if item := a.Refs.Target("vna_name"); item != nil {
		if s, ok := item.(*StrItem); ok {
			return s.String()
		}
	}
	return ""
}

// VerNeedEntry is one fixed VerNeed record plus its vn_cnt auxiliaries.
type VerNeedEntry struct {
	Record
	itemBase
	Aux []*VerNeedAux
}

func (e *VerNeedEntry) AsRecord() *Record { return &e.Record }

func (e *VerNeedEntry) ToBytes() ([]byte, error) {
	out, err := e.Record.ToBytes()
	if err != nil {
		return nil, err
	}
	for _, a := range e.Aux {
		b, err := a.Record.ToBytes()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func (e *VerNeedEntry) Size() int64 {
	total := e.Record.Size()
	for _, a := range e.Aux {
		total += a.Record.Size()
	}
	return total
}

// VerNeedTable is the .gnu.version_r section body. Entries are parsed back
// to back until the section's declared bytes are exhausted rather than by
// following vn_next offsets; single-file inputs lay their entries out in a
// straight run, so the chain adds nothing here.
type VerNeedTable struct {
	Table[*VerNeedEntry]
	ByteOrder string
	WordSize  int
}

func newVerNeedTable(byteOrder string, wordSize int) Section {
	return &VerNeedTable{Table: *NewTable[*VerNeedEntry](), ByteOrder: byteOrder, WordSize: wordSize}
}

func (t *VerNeedTable) FromBytes(buf []byte) error {
	pos := 0
	for pos < len(buf) {
		entry := &VerNeedEntry{}
		entry.ByteOrder, entry.WordSize = t.ByteOrder, t.WordSize
		n, err := verNeedSchema.ParseFromBytes(&entry.Record, buf[pos:])
		if err != nil {
			return err
		}
		pos += n
		cnt := int(entry.Get("vn_cnt"))
		for i := 0; i < cnt; i++ {
			aux := &VerNeedAux{}
			aux.ByteOrder, aux.WordSize = t.ByteOrder, t.WordSize
			an, err := verNeedAuxSchema.ParseFromBytes(&aux.Record, buf[pos:])
			if err != nil {
				return err
			}
			pos += an
			entry.Aux = append(entry.Aux, aux)
		}
		t.Items = append(t.Items, entry)
	}
	t.Clean()
	return nil
}

func (t *VerNeedTable) ToBytes() ([]byte, error) { return t.Table.ToBytes() }

func (t *VerNeedTable) ResolveReferences(sh *SectionHeader, root *File) error {
	dynstrSH, err := root.linkedSection(sh)
	if err != nil {
		return err
	}
	dynstr, _ := dynstrSH.Body.(*StrTab)
	for _, entry := range t.Items {
		entry.Refs.Specs = []ReferenceSpec{
			{Field: "vn_file", Kind: RefOff, Lookup: func(r *Record, root *File) (any, error) { return dynstr, nil }},
		}
		if err := entry.Refs.Resolve(&entry.Record, root); err != nil {
			return err
		}
		for _, aux := range entry.Aux {
			aux.Refs.Specs = []ReferenceSpec{
				{Field: "vna_name", Kind: RefOff, Lookup: func(r *Record, root *File) (any, error) { return dynstr, nil }},
			}
			if err := aux.Refs.Resolve(&aux.Record, root); err != nil {
				return err
			}
		}
	}
	return nil
}

// KnownVersions returns the set of vna_other values declared across every
// entry, used by VerSymTable.Verify/Organize.
func (t *VerNeedTable) KnownVersions() map[uint16]bool {
	out := make(map[uint16]bool)
	for _, entry := range t.Items {
		for _, aux := range entry.Aux {
			out[uint16(aux.Get("vna_other"))] = true
		}
	}
	return out
}
