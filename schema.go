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
	"fmt"
)

// Codec converts a field's raw bytes to and from a uint64 value. "as_is"
// fields (raw byte blobs) have a nil Codec instead and are stored as
// []byte.
type Codec interface {
	Decode(order binary.ByteOrder, b []byte) uint64
	Encode(order binary.ByteOrder, v uint64, size int) []byte
}

// intCodec implements the "as_int" codec: an unsigned integer of the
// field's declared size, in the record's byte order.
type intCodec struct{}

func (intCodec) Decode(order binary.ByteOrder, b []byte) uint64 {
	switch len(b) {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(order.Uint16(b))
	case 4:
		return uint64(order.Uint32(b))
	case 8:
		return order.Uint64(b)
	default:
		panic(fmt.Sprintf("elf: unsupported int field width %d", len(b)))
	}
}

func (intCodec) Encode(order binary.ByteOrder, v uint64, size int) []byte {
	out := make([]byte, size)
	switch size {
	case 1:
		out[0] = byte(v)
	case 2:
		order.PutUint16(out, uint16(v))
	case 4:
		order.PutUint32(out, uint32(v))
	case 8:
		order.PutUint64(out, v)
	default:
		panic(fmt.Sprintf("elf: unsupported int field width %d", size))
	}
	return out
}

// AsInt is the "as_int" codec used by nearly every fixed-width ELF field.
var AsInt Codec = intCodec{}

// FieldSize describes a field's width for each supported word size. A zero
// value means the field does not exist at that word size.
type FieldSize struct {
	Size32 int
	Size64 int
}

func (fs FieldSize) forWordSize(wordSize int) int {
	if wordSize == 4 {
		return fs.Size32
	}
	return fs.Size64
}

func (fs FieldSize) present(wordSize int) bool {
	return fs.forWordSize(wordSize) != 0
}

// OptionFunc gates an optional field: given the record parsed so far, it
// reports whether the field is present.
type OptionFunc func(r *Record) bool

// Field is one entry in a RecordSchema.
type Field struct {
	Name   string
	Codec  Codec
	Size   FieldSize
	Option OptionFunc // nil means always enabled
}

// RecordSchema is the ordered field list for one fixed-layout record type.
type RecordSchema struct {
	Name   string
	Fields []Field
}

// enabledFields walks the schema for wordSize and returns, per field, a
// flag which parse/serialize expects to have matching length to Fields.
func (s *RecordSchema) enabledFields(r *Record) []bool {
	out := make([]bool, len(s.Fields))
	for i, f := range s.Fields {
		if !f.Size.present(r.WordSize) {
			out[i] = false
			continue
		}
		if f.Option != nil && !f.Option(r) {
			out[i] = false
			continue
		}
		out[i] = true
	}
	return out
}

// ParseFromBytes decodes a record from buf, walking fields in schema order.
// It returns the number of bytes consumed.
func (s *RecordSchema) ParseFromBytes(r *Record, buf []byte) (int, error) {
	r.Schema = s
	r.Values = make(map[string]uint64, len(s.Fields))
	r.Raw = make(map[string][]byte)
	r.Enabled = make([]bool, len(s.Fields))

	pos := 0
	for i, f := range s.Fields {
		if !f.Size.present(r.WordSize) {
			continue
		}
		if f.Option != nil && !f.Option(r) {
			continue
		}
		size := f.Size.forWordSize(r.WordSize)
		if pos+size > len(buf) {
			return pos, &ParseError{Record: s.Name, Err: fmt.Errorf("field %s: need %d bytes, have %d", f.Name, size, len(buf)-pos)}
		}
		chunk := buf[pos : pos+size]
		r.Enabled[i] = true
		if f.Codec == nil {
			cp := make([]byte, size)
			copy(cp, chunk)
			r.Raw[f.Name] = cp
		} else {
			r.Values[f.Name] = f.Codec.Decode(r.order(), chunk)
		}
		pos += size
	}
	if len(r.Enabled) != len(s.Fields) {
		return pos, &ParseError{Record: s.Name, Err: errNoEnabled}
	}
	return pos, nil
}

// ParseFromMap builds a record from a field-name -> value map; every field
// enabled for r.WordSize must be present.
func (s *RecordSchema) ParseFromMap(r *Record, in map[string]uint64) error {
	r.Schema = s
	r.Values = make(map[string]uint64, len(s.Fields))
	r.Raw = make(map[string][]byte)
	r.Enabled = make([]bool, len(s.Fields))
	for i, f := range s.Fields {
		if !f.Size.present(r.WordSize) {
			continue
		}
		if f.Option != nil && !f.Option(r) {
			continue
		}
		r.Enabled[i] = true
		v, ok := in[f.Name]
		if !ok {
			return &SchemaError{File: s.Name, Err: fmt.Errorf("missing required field %q", f.Name)}
		}
		r.Values[f.Name] = v
	}
	return nil
}

// Serialize encodes each enabled field in schema order. Field values are
// read through Record.Get, so a field bound to a resolved reference emits
// the target's current idx/offset/field value rather than the stale scalar
// parsed from the input.
func (s *RecordSchema) Serialize(r *Record) ([]byte, error) {
	var out []byte
	for i, f := range s.Fields {
		if i >= len(r.Enabled) || !r.Enabled[i] {
			continue
		}
		size := f.Size.forWordSize(r.WordSize)
		if f.Codec == nil {
			raw := r.Raw[f.Name]
			if len(raw) != size {
				padded := make([]byte, size)
				copy(padded, raw)
				raw = padded
			}
			out = append(out, raw...)
			continue
		}
		out = append(out, f.Codec.Encode(r.order(), r.Get(f.Name), size)...)
	}
	return out, nil
}

// SizeFor returns the record size at wordSize with every field present at
// that width enabled, the fixed entry size tables divide their byte blobs
// by. Only valid for schemas without optional fields.
func (s *RecordSchema) SizeFor(wordSize int) int64 {
	var total int64
	for _, f := range s.Fields {
		total += int64(f.Size.forWordSize(wordSize))
	}
	return total
}

// Size returns the total byte size of the enabled fields.
func (s *RecordSchema) Size(r *Record) int64 {
	var total int64
	for i, f := range s.Fields {
		if i >= len(r.Enabled) || !r.Enabled[i] {
			continue
		}
		total += int64(f.Size.forWordSize(r.WordSize))
	}
	return total
}
