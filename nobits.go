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

// NoBits models an SHT_NOBITS section (typically .bss): it occupies space
// in the memory image but not in the file, so it records only its logical
// size and serializes to zero bytes.
type NoBits struct {
	size int64
}

func (n *NoBits) FromBytes(buf []byte) error {
	n.size = int64(len(buf))
	return nil
}

func (n *NoBits) ToBytes() ([]byte, error) {
	return nil, nil
}

func (n *NoBits) ResolveReferences(sh *SectionHeader, root *File) error {
	return nil
}
