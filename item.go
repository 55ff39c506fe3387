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

// itemBase supplies the idx/offset bookkeeping a Table needs from every
// Item, so concrete record types only need to embed it once alongside
// Record to satisfy the Item interface.
type itemBase struct {
	idx int
	off int64
}

func (b *itemBase) Idx() int          { return b.idx }
func (b *itemBase) SetIdx(i int)      { b.idx = i }
func (b *itemBase) Offset() int64     { return b.off }
func (b *itemBase) SetOffset(o int64) { b.off = o }
