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

// ProgBits is the opaque fallback section body for any sh_type this editor
// does not model explicitly: its bytes are carried through verbatim.
type ProgBits struct {
	bytes []byte
}

func (p *ProgBits) FromBytes(buf []byte) error {
	p.bytes = append([]byte(nil), buf...)
	return nil
}

func (p *ProgBits) ToBytes() ([]byte, error) {
	return p.bytes, nil
}

func (p *ProgBits) ResolveReferences(sh *SectionHeader, root *File) error {
	return nil
}
