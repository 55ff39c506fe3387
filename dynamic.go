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

// DT_* tag values this editor understands.
const (
	DTNull     = 0
	DTNeeded   = 1
	DTPltRelSz = 2
	DTPltGot   = 3
	DTHash     = 4
	DTStrtab   = 5
	DTSymtab   = 6
	DTRela     = 7
	DTRelaSz   = 8
	DTRelaEnt  = 9
	DTStrSz    = 10
	DTSymEnt   = 11
	DTInit     = 12
	DTFini     = 13
	DTSoname   = 14
	DTRpath    = 15
	DTSymbolic = 16
	DTRel      = 17
	DTRelSz    = 18
	DTRelEnt   = 19
	DTPltRel   = 20
	DTDebug    = 21
	DTTextRel  = 22
	DTJmpRel   = 23
	DTBindNow  = 24

	DTVersym     = 0x6ffffff0
	DTVerneed    = 0x6ffffffe
	DTVerneedNum = 0x6fffffff
)

// dtNames maps a tag value to the name used to form its
// d_val_<name>/d_ptr_<name> accessor; the union field is selected by
// matching the tag name.
var dtNames = map[uint64]string{
	DTNull: "null", DTNeeded: "needed", DTPltRelSz: "pltrelsz", DTPltGot: "pltgot",
	DTHash: "hash", DTStrtab: "strtab", DTSymtab: "symtab", DTRela: "rela",
	DTRelaSz: "relasz", DTRelaEnt: "relaent", DTStrSz: "strsz", DTSymEnt: "syment",
	DTInit: "init", DTFini: "fini", DTSoname: "soname", DTRpath: "rpath",
	DTSymbolic: "symbolic", DTRel: "rel", DTRelSz: "relsz", DTRelEnt: "relent",
	DTPltRel: "pltrel", DTDebug: "debug", DTTextRel: "textrel", DTJmpRel: "jmprel",
	DTBindNow: "bind_now", DTVersym: "versym", DTVerneed: "verneed", DTVerneedNum: "verneednum",
}

// dtIsPtr is the set of tags whose d_un value is a virtual address that
// should resolve to the section whose sh_addr matches it (d_ptr_<name>);
// every other known tag is a plain value (d_val_<name>).
var dtIsPtr = map[uint64]bool{
	DTPltGot: true, DTHash: true, DTStrtab: true, DTSymtab: true, DTRela: true,
	DTInit: true, DTFini: true, DTRel: true, DTJmpRel: true, DTDebug: true,
	DTVerneed: true, DTVersym: true,
}

var dynamicEntrySchema = &RecordSchema{
	Name: "ELFDynamicEntry",
	Fields: []Field{
		{Name: "d_tag", Codec: AsInt, Size: FieldSize{4, 8}},
		{Name: "d_un", Codec: AsInt, Size: FieldSize{4, 8}},
	},
}

// DynamicEntry is one entry of the .dynamic section.
type DynamicEntry struct {
	Record
	itemBase
}

func newDynamicEntry(byteOrder string, wordSize int) *DynamicEntry {
	e := &DynamicEntry{}
	e.ByteOrder = byteOrder
	e.WordSize = wordSize
	return e
}

func (e *DynamicEntry) FromBytes(buf []byte) (int, error) {
	return dynamicEntrySchema.ParseFromBytes(&e.Record, buf)
}
func (e *DynamicEntry) ToBytes() ([]byte, error) { return e.Record.ToBytes() }
func (e *DynamicEntry) Size() int64              { return e.Record.Size() }
func (e *DynamicEntry) AsRecord() *Record        { return &e.Record }

// TagName returns the dynamic tag's schema-facing name.
func (e *DynamicEntry) TagName() string {
	if n, ok := dtNames[e.Get("d_tag")]; ok {
		return n
	}
	return fmt.Sprintf("0x%x", e.Get("d_tag"))
}

// IsPtr reports whether this entry's value field is d_ptr_<name> (a
// section-address pointer) rather than d_val_<name> (a plain value).
func (e *DynamicEntry) IsPtr() bool { return dtIsPtr[e.Get("d_tag")] }

// Value returns the raw d_un value.
func (e *DynamicEntry) Value() uint64 { return e.Get("d_un") }

// SetValue overwrites d_un.
func (e *DynamicEntry) SetValue(v uint64) { e.Set("d_un", v) }

// DynamicSection is the DYNAMIC section body: a Table of DynamicEntries.
type DynamicSection struct {
	Table[*DynamicEntry]
	ByteOrder string
	WordSize  int
}

func newDynamicSection(byteOrder string, wordSize int) Section {
	return &DynamicSection{Table: *NewTable[*DynamicEntry](), ByteOrder: byteOrder, WordSize: wordSize}
}

func (t *DynamicSection) FromBytes(buf []byte) error {
	entrySize := int(dynamicEntrySchema.SizeFor(t.WordSize))
	pos := 0
	for pos+entrySize <= len(buf) {
		e := newDynamicEntry(t.ByteOrder, t.WordSize)
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

func (t *DynamicSection) ToBytes() ([]byte, error) { return t.Table.ToBytes() }

// ResolveReferences binds every pointer-typed entry's d_un to the section
// whose sh_addr equals it, as a field reference. An edit that moves the
// section afterwards is then reflected in the serialized d_un without any
// bookkeeping at the call site. Null pointers (DT_DEBUG before the loader
// fills it in) stay unresolved.
func (t *DynamicSection) ResolveReferences(sh *SectionHeader, root *File) error {
	for _, e := range t.Items {
		if !e.IsPtr() {
			continue
		}
		e.Refs.Specs = []ReferenceSpec{
			{
				Field: "d_un", Kind: RefField, OtherField: "sh_addr",
				Search: true, Ignore: map[uint64]bool{0: true},
				Lookup: func(r *Record, root *File) (any, error) {
					return &root.SectionHeaders.Table, nil
				},
			},
		}
		if err := e.Refs.Resolve(&e.Record, root); err != nil {
			return err
		}
	}
	return nil
}

// FindByTag returns the first entry with the given d_tag.
func (t *DynamicSection) FindByTag(tag uint64) (*DynamicEntry, bool) {
	for _, e := range t.Items {
		if e.Get("d_tag") == tag {
			return e, true
		}
	}
	return nil, false
}

// FindSectionByPtrTag resolves a pointer-typed dynamic entry's d_un value
// to the section header whose sh_addr equals it, preferring the reference
// bound at load time. A miss is a hard error rather than a nil return,
// since a caller that doesn't check an error return would otherwise
// dereference a nil section header.
func (t *DynamicSection) FindSectionByPtrTag(root *File, tag uint64) (*SectionHeader, error) {
	entry, ok := t.FindByTag(tag)
	if !ok {
		return nil, &ReferenceError{Field: dtNames[tag], Target: "section", Err: fmt.Errorf("no tag found")}
	}
	if sh, ok := entry.Refs.Target("d_un").(*SectionHeader); ok {
		return sh, nil
	}
	for _, sh := range root.SectionHeaders.Items {
		if sh.Get("sh_addr") == entry.Value() {
			return sh, nil
		}
	}
	return nil, &ReferenceError{Field: dtNames[tag], Target: "section", Err: fmt.Errorf("no tag found")}
}
