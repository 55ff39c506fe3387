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

import "encoding/binary"

// Record is a parsed instance of a RecordSchema, holding decoded field
// values for one fixed-layout entity. Concrete ELF entities (FileHeader,
// SectionHeader, Symbol, ...) embed a Record for their fixed-layout fields
// and add typed accessors and entity-specific behavior on top.
type Record struct {
	ByteOrder string // "little" or "big"
	WordSize  int    // 4 or 8

	Schema  *RecordSchema
	Values  map[string]uint64 // as_int fields
	Raw     map[string][]byte // as_is fields
	Enabled []bool            // one entry per schema field, in order

	Refs ReferenceBinder
}

func (r *Record) order() binary.ByteOrder {
	if r.ByteOrder == "big" {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Get returns the current value of an as_int field, following a resolved
// reference if one is bound to this field name.
func (r *Record) Get(name string) uint64 {
	if v, ok := r.Refs.resolvedValue(name); ok {
		return v
	}
	return r.Values[name]
}

// Set overwrites the raw stored value of an as_int field. Callers that want
// edits to propagate through a reference should mutate the referenced item
// directly instead of calling Set on the referring field.
func (r *Record) Set(name string, v uint64) {
	r.Values[name] = v
}

// FieldEnabled reports whether name was materialized for this record's word
// size (and any optional predicate).
func (r *Record) FieldEnabled(name string) bool {
	for i, f := range r.Schema.Fields {
		if f.Name == name {
			return i < len(r.Enabled) && r.Enabled[i]
		}
	}
	return false
}

// Size returns the serialized size of the record in bytes.
func (r *Record) Size() int64 {
	return r.Schema.Size(r)
}

// ToBytes serializes the record's enabled fields in schema order.
func (r *Record) ToBytes() ([]byte, error) {
	return r.Schema.Serialize(r)
}
