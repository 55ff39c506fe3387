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
	"bytes"
	"fmt"
)

// StrItem is a single null-terminated entry in a string table. Its bytes
// include the trailing 0x00.
type StrItem struct {
	itemBase
	bytes []byte
}

func (s *StrItem) Size() int64       { return int64(len(s.bytes)) }
func (s *StrItem) AsRecord() *Record { return nil }

func (s *StrItem) ToBytes() ([]byte, error) {
	return s.bytes, nil
}

// String returns the text without its trailing NUL.
func (s *StrItem) String() string {
	return string(bytes.TrimRight(s.bytes, "\x00"))
}

// FromString replaces the item's bytes with the ASCII text plus a
// terminating NUL. Callers must Clean() the owning table afterward so
// offsets downstream are re-derived.
func (s *StrItem) FromString(text string) {
	s.bytes = append([]byte(text), 0x00)
}

// suffixFrom implements the table layer's suffix-sharing lookup: a new
// item is synthesized from this item's bytes starting at delta.
func (s *StrItem) suffixFrom(delta int64) (Item, error) {
	if delta < 0 || delta > int64(len(s.bytes)) {
		return nil, fmt.Errorf("strtab: suffix delta %d out of range for item of length %d", delta, len(s.bytes))
	}
	return &StrItem{bytes: append([]byte(nil), s.bytes[delta:]...)}, nil
}

// StrTab is an SHT_STRTAB section body: a Table of StrItems.
type StrTab struct {
	Table[*StrItem]
}

func newStrTab(byteOrder string, wordSize int) Section {
	return &StrTab{Table: *NewTable[*StrItem]()}
}

// FromBytes splits buf into NUL-terminated runs, one StrItem per run,
// mirroring the string table's contiguous from_bytes parse.
func (t *StrTab) FromBytes(buf []byte) error {
	pos := 0
	for pos < len(buf) {
		end := bytes.IndexByte(buf[pos:], 0)
		if end < 0 {
			end = len(buf) - pos - 1
		}
		item := &StrItem{bytes: append([]byte(nil), buf[pos:pos+end+1]...)}
		t.Items = append(t.Items, item)
		pos += end + 1
	}
	t.Clean()
	return nil
}

func (t *StrTab) ToBytes() ([]byte, error) {
	return t.Table.ToBytes()
}

func (t *StrTab) ResolveReferences(sh *SectionHeader, root *File) error {
	return nil
}

// Verify checks the table's bookkeeping invariants and that every item
// ends in a terminating NUL.
func (t *StrTab) Verify() error {
	if err := t.VerifyLayout(); err != nil {
		return err
	}
	for _, item := range t.Items {
		if len(item.bytes) == 0 || item.bytes[len(item.bytes)-1] != 0 {
			return &VerifyError{What: "ELFStrTab", Err: fmt.Errorf("entry %q is not null-terminated", item.String())}
		}
	}
	return nil
}

// GetOrAdd returns the existing item whose text equals s, or appends a new
// one. Used by AddDynTag, which must reuse an existing string-table entry
// when one already matches.
func (t *StrTab) GetOrAdd(s string) *StrItem {
	for _, item := range t.Items {
		if item.String() == s {
			return item
		}
	}
	item := &StrItem{}
	item.FromString(s)
	t.Append(item)
	return item
}
