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
	"fmt"
	"sort"

	"golang.org/x/exp/maps"
)

// EnumTable maps a field's raw numeric values to display strings, the Go
// analogue of a schema file's ENUM directives for one field.
type EnumTable map[uint64]string

// Display returns the enum label for v, or a numeric fallback.
func (e EnumTable) Display(v uint64) string {
	if s, ok := e[v]; ok {
		return s
	}
	return fmt.Sprintf("0x%x", v)
}

// BitmaskTable maps individual flag bits to display strings, the analogue
// of BITMASK directives for one field.
type BitmaskTable map[uint64]string

// Display decomposes v into the set of known flags plus any remainder,
// reported as UNKNOWN(n).
func (b BitmaskTable) Display(v uint64) string {
	var names []string
	remainder := v
	masks := maps.Keys(b)
	sort.Slice(masks, func(i, j int) bool { return masks[i] < masks[j] })
	for _, mask := range masks {
		if v&mask == mask && mask != 0 {
			names = append(names, b[mask])
			remainder &^= mask
		}
	}
	if remainder != 0 {
		names = append(names, fmt.Sprintf("UNKNOWN(%d)", remainder))
	}
	if len(names) == 0 {
		return "0"
	}
	out := names[0]
	for _, n := range names[1:] {
		out += "|" + n
	}
	return out
}

// DisplayPolicy groups the enum/bitmask/alt tables for one record type.
// A record's Display method consults it field by field.
type DisplayPolicy struct {
	Enums    map[string]EnumTable
	Bitmasks map[string]BitmaskTable
	Alts     map[string]func(r *Record) string
}

// Field renders one field's value using whichever policy applies, falling
// back to a bare decimal value.
func (p *DisplayPolicy) Field(r *Record, name string) string {
	if alt, ok := p.Alts[name]; ok {
		return alt(r)
	}
	if e, ok := p.Enums[name]; ok {
		return e.Display(r.Get(name))
	}
	if b, ok := p.Bitmasks[name]; ok {
		return b.Display(r.Get(name))
	}
	return fmt.Sprintf("%d", r.Get(name))
}
