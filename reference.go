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

// RefKind is the tagged-union discriminant for a resolved Reference. Before
// resolution a reference field holds a plain raw scalar in Record.Values;
// after resolution it is replaced by one of these variants so that edits to
// the target automatically propagate back through the referring field.
type RefKind int

const (
	// RefIdx resolves field -> targetTable[field].
	RefIdx RefKind = iota
	// RefOff resolves field -> targetTable.GetItemByOffset(field).
	RefOff
	// RefField resolves field -> the item in targetTable whose OtherField
	// equals field (when Search is set), or targetTable itself otherwise.
	RefField
)

// Lookup locates the table a reference field points into. It receives the
// record being resolved and the owning File so lookups can cross sections,
// e.g. a symbol's st_name lookup returns the string table discovered via
// the owning section header's sh_link. The return value is a Table[T] for
// RefIdx/RefOff, or an Item for a no-search RefField.
type Lookup func(r *Record, root *File) (any, error)

// ReferenceSpec is the per-field configuration of one reference, the Go
// analogue of a schema file's REFERENCE directive.
type ReferenceSpec struct {
	Field      string
	Kind       RefKind
	Lookup     Lookup
	OtherField string // RefField only
	Search     bool   // RefField only
	Ignore     map[uint64]bool
}

// resolvedRef is the post-resolution typed pointer for one field.
type resolvedRef struct {
	kind       RefKind
	target     Item
	otherField string
}

// ReferenceBinder holds a record's resolved references, keyed by field
// name, plus the specs still to resolve. idx-refs, off-refs, and
// field-refs all collapse into one map of a three-variant tagged union.
type ReferenceBinder struct {
	Specs    []ReferenceSpec
	resolved map[string]resolvedRef
}

// Resolve runs every configured reference for owner against root. It is
// called once per record, after the enclosing table has been fully parsed.
func (b *ReferenceBinder) Resolve(owner *Record, root *File) error {
	if b.resolved == nil {
		b.resolved = make(map[string]resolvedRef)
	}
	for _, spec := range b.Specs {
		if err := b.resolveOne(owner, root, spec); err != nil {
			return err
		}
	}
	return nil
}

func (b *ReferenceBinder) resolveOne(owner *Record, root *File, spec ReferenceSpec) error {
	if !owner.FieldEnabled(spec.Field) {
		return nil
	}
	raw := owner.Values[spec.Field]
	if spec.Ignore != nil && spec.Ignore[raw] {
		return nil
	}

	switch spec.Kind {
	case RefIdx:
		target, err := spec.Lookup(owner, root)
		if err != nil {
			return &ReferenceError{Field: spec.Field, Target: "idx-table", Err: err}
		}
		tbl, ok := target.(indexable)
		if !ok {
			return &ReferenceError{Field: spec.Field, Target: "idx-table", Err: fmt.Errorf("lookup target is not a table")}
		}
		item, ok := tbl.itemAt(int(raw))
		if !ok {
			// Idx out of bounds: warn and leave unresolved.
			root.logf("warning: %s: idx %d out of bounds", spec.Field, raw)
			return nil
		}
		b.resolved[spec.Field] = resolvedRef{kind: RefIdx, target: item}

	case RefOff:
		target, err := spec.Lookup(owner, root)
		if err != nil {
			return &ReferenceError{Field: spec.Field, Target: "off-table", Err: err}
		}
		tbl, ok := target.(offsetTable)
		if !ok {
			return &ReferenceError{Field: spec.Field, Target: "off-table", Err: fmt.Errorf("lookup target does not support offset lookup")}
		}
		item, err := tbl.GetItemByOffset(int64(raw))
		if err != nil {
			return &ReferenceError{Field: spec.Field, Target: "off-table", Err: err}
		}
		b.resolved[spec.Field] = resolvedRef{kind: RefOff, target: item}

	case RefField:
		target, err := spec.Lookup(owner, root)
		if err != nil {
			return &ReferenceError{Field: spec.Field, Target: "field-table", Err: err}
		}
		if !spec.Search {
			item, ok := target.(Item)
			if !ok {
				return &ReferenceError{Field: spec.Field, Target: "field-table", Err: fmt.Errorf("no-search target is not an item")}
			}
			b.resolved[spec.Field] = resolvedRef{kind: RefField, target: item, otherField: spec.OtherField}
			return nil
		}
		tbl, ok := target.(fieldSearchable)
		if !ok {
			return &ReferenceError{Field: spec.Field, Target: "field-table", Err: fmt.Errorf("lookup target is not searchable")}
		}
		item, ok := tbl.findByField(spec.OtherField, raw)
		if !ok {
			return &ReferenceError{Field: spec.Field, Target: "field-table", Err: fmt.Errorf("no item with %s == %d", spec.OtherField, raw)}
		}
		b.resolved[spec.Field] = resolvedRef{kind: RefField, target: item, otherField: spec.OtherField}
	}
	return nil
}

// resolvedValue returns the current value a resolved reference field should
// report: the target's idx, offset, or other-field value, whichever the
// reference kind implies.
func (b *ReferenceBinder) resolvedValue(field string) (uint64, bool) {
	ref, ok := b.resolved[field]
	if !ok {
		return 0, false
	}
	switch ref.kind {
	case RefIdx:
		return uint64(ref.target.Idx()), true
	case RefOff:
		return uint64(ref.target.Offset()), true
	case RefField:
		if rec, ok := ref.target.(interface{ AsRecord() *Record }); ok {
			return rec.AsRecord().Get(ref.otherField), true
		}
		return 0, false
	}
	return 0, false
}

// Target returns the resolved Item for field, or nil if unresolved.
func (b *ReferenceBinder) Target(field string) Item {
	return b.resolved[field].target
}

// indexable, offsetTable, and fieldSearchable are the narrow capabilities a
// Lookup's return value must satisfy for each reference kind. Table[T]
// implements all three.
type indexable interface {
	itemAt(idx int) (Item, bool)
}

type offsetTable interface {
	GetItemByOffset(off int64) (Item, error)
}

type fieldSearchable interface {
	findByField(field string, v uint64) (Item, bool)
}
