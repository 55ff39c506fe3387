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

// Item is one entry in a Table: a record that also carries its own index
// and byte offset within the table.
type Item interface {
	Idx() int
	SetIdx(int)
	Offset() int64
	SetOffset(int64)
	Size() int64
	AsRecord() *Record
	ToBytes() ([]byte, error)
}

// Table is an ordered, homogeneous sequence of Items plus an offset->item
// index for suffix-sharing lookups. T is the concrete item type the
// table is allowed to hold (e.g. *Symbol, *SectionHeader).
type Table[T Item] struct {
	Items        []T
	offsetToItem map[int64]T
}

// NewTable returns an empty table ready for Append/FromBytes.
func NewTable[T Item]() *Table[T] {
	return &Table[T]{offsetToItem: make(map[int64]T)}
}

// Append adds item to the end of the table and runs Clean to re-derive
// bookkeeping.
func (t *Table[T]) Append(item T) {
	t.Items = append(t.Items, item)
	t.Clean()
}

// Remove deletes the item at position i and re-derives bookkeeping.
func (t *Table[T]) Remove(i int) {
	t.Items = append(t.Items[:i], t.Items[i+1:]...)
	t.Clean()
}

// Clean re-derives idx/offset for every item and rebuilds offsetToItem.
func (t *Table[T]) Clean() {
	t.offsetToItem = make(map[int64]T, len(t.Items))
	var off int64
	for i, item := range t.Items {
		item.SetIdx(i)
		item.SetOffset(off)
		t.offsetToItem[off] = item
		off += item.Size()
	}
}

// VerifyLayout checks the bookkeeping invariants Clean establishes: idx
// matches position, offsets accumulate item sizes from zero, and the
// offset index points back at each item.
func (t *Table[T]) VerifyLayout() error {
	var off int64
	for i, item := range t.Items {
		if item.Idx() != i {
			return &VerifyError{What: "Table", Err: fmt.Errorf("item %d carries idx %d", i, item.Idx())}
		}
		if item.Offset() != off {
			return &VerifyError{What: "Table", Err: fmt.Errorf("item %d carries offset %d, want %d", i, item.Offset(), off)}
		}
		if got, ok := t.offsetToItem[off]; !ok || any(got) != any(item) {
			return &VerifyError{What: "Table", Err: fmt.Errorf("offset index does not point back at item %d", i)}
		}
		off += item.Size()
	}
	return nil
}

// Size is the sum of every item's serialized size.
func (t *Table[T]) Size() int64 {
	var total int64
	for _, item := range t.Items {
		total += item.Size()
	}
	return total
}

// ToBytes serializes items in order.
func (t *Table[T]) ToBytes() ([]byte, error) {
	var out []byte
	for _, item := range t.Items {
		b, err := item.ToBytes()
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	return out, nil
}

func (t *Table[T]) itemAt(idx int) (Item, bool) {
	if idx < 0 || idx >= len(t.Items) {
		return nil, false
	}
	return t.Items[idx], true
}

// GetItemByOffset implements the string-table suffix-sharing lookup used
// throughout the ELF format: an exact hit returns that item; otherwise the
// greatest recorded offset <= off is found and a new item is synthesized
// from that item's byte suffix, appended to the table, and returned. Only
// meaningful for tables whose item type supports byte-suffix construction
// (StrItem); other tables simply require an exact offset.
func (t *Table[T]) GetItemByOffset(off int64) (Item, error) {
	if item, ok := t.offsetToItem[off]; ok {
		return item, nil
	}
	var best int64 = -1
	for o := range t.offsetToItem {
		if o <= off && o > best {
			best = o
		}
	}
	if best < 0 {
		return nil, fmt.Errorf("no item covers offset %d", off)
	}
	closest := t.offsetToItem[best]
	suf, ok := any(closest).(suffixable)
	if !ok {
		return nil, fmt.Errorf("offset %d not present and item type does not support suffix sharing", off)
	}
	newItem, err := suf.suffixFrom(off - best)
	if err != nil {
		return nil, err
	}
	typed, ok := any(newItem).(T)
	if !ok {
		return nil, fmt.Errorf("suffix item has unexpected type")
	}
	t.Append(typed)
	return typed, nil
}

// suffixable is implemented by item types (StrItem) that can synthesize a
// new item sharing the tail of an existing one's bytes.
type suffixable interface {
	suffixFrom(delta int64) (Item, error)
}

func (t *Table[T]) findByField(field string, v uint64) (Item, bool) {
	for _, item := range t.Items {
		if item.AsRecord().Get(field) == v {
			return item, true
		}
	}
	return nil, false
}
