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
	"sort"

	"golang.org/x/exp/slices"
)

// DJB2Hash is the GNU hash section's symbol-name hash: h=5381, then for
// each byte up to (not including) the terminating NUL,
// h = ((h<<5) + h + c) & 0xFFFFFFFF.
func DJB2Hash(name string) uint32 {
	h := uint32(5381)
	for i := 0; i < len(name); i++ {
		h = (h<<5 + h + uint32(name[i]))
	}
	return h
}

// GNUHash is the .gnu.hash section body.
type GNUHash struct {
	NBuckets   uint32
	SymOffset  uint32
	BloomSize  uint32
	BloomShift uint32
	Bloom      []uint64 // one word per BloomSize entry, widened to 64 bits
	Buckets    []uint32
	Chain      []uint32

	byteOrder binary.ByteOrder
	wordSize  int
}

func newGNUHash(byteOrder string, wordSize int) Section {
	order := binary.ByteOrder(binary.LittleEndian)
	if byteOrder == "big" {
		order = binary.BigEndian
	}
	return &GNUHash{byteOrder: order, wordSize: wordSize}
}

func (g *GNUHash) FromBytes(buf []byte) error {
	if len(buf) < 16 {
		return &ParseError{Record: "ELFGNUHash", Err: fmt.Errorf("buffer too short for header")}
	}
	g.NBuckets = g.byteOrder.Uint32(buf[0:4])
	g.SymOffset = g.byteOrder.Uint32(buf[4:8])
	g.BloomSize = g.byteOrder.Uint32(buf[8:12])
	g.BloomShift = g.byteOrder.Uint32(buf[12:16])

	need := 16 + int(g.BloomSize)*g.wordSize + int(g.NBuckets)*4
	if len(buf) < need {
		return &ParseError{Record: "ELFGNUHash", Err: fmt.Errorf("declared %d bloom words and %d buckets but only %d bytes follow the header", g.BloomSize, g.NBuckets, len(buf)-16)}
	}

	pos := 16
	g.Bloom = make([]uint64, g.BloomSize)
	for i := range g.Bloom {
		if g.wordSize == 8 {
			g.Bloom[i] = g.byteOrder.Uint64(buf[pos : pos+8])
			pos += 8
		} else {
			g.Bloom[i] = uint64(g.byteOrder.Uint32(buf[pos : pos+4]))
			pos += 4
		}
	}

	g.Buckets = make([]uint32, g.NBuckets)
	for i := range g.Buckets {
		g.Buckets[i] = g.byteOrder.Uint32(buf[pos : pos+4])
		pos += 4
	}

	g.Chain = nil
	for pos+4 <= len(buf) {
		g.Chain = append(g.Chain, g.byteOrder.Uint32(buf[pos:pos+4]))
		pos += 4
	}
	return nil
}

func (g *GNUHash) ToBytes() ([]byte, error) {
	var out []byte
	hdr := make([]byte, 16)
	g.byteOrder.PutUint32(hdr[0:4], g.NBuckets)
	g.byteOrder.PutUint32(hdr[4:8], g.SymOffset)
	g.byteOrder.PutUint32(hdr[8:12], g.BloomSize)
	g.byteOrder.PutUint32(hdr[12:16], g.BloomShift)
	out = append(out, hdr...)

	for _, w := range g.Bloom {
		word := make([]byte, g.wordSize)
		if g.wordSize == 8 {
			g.byteOrder.PutUint64(word, w)
		} else {
			g.byteOrder.PutUint32(word, uint32(w))
		}
		out = append(out, word...)
	}
	for _, b := range g.Buckets {
		word := make([]byte, 4)
		g.byteOrder.PutUint32(word, b)
		out = append(out, word...)
	}
	for _, c := range g.Chain {
		word := make([]byte, 4)
		g.byteOrder.PutUint32(word, c)
		out = append(out, word...)
	}
	return out, nil
}

func (g *GNUHash) ResolveReferences(sh *SectionHeader, root *File) error { return nil }

func (g *GNUHash) bucketIdx(hash uint32) uint32 {
	if g.NBuckets == 0 {
		return 0
	}
	return hash % g.NBuckets
}

func (g *GNUHash) wordBits() uint32 { return uint32(g.wordSize * 8) }

func (g *GNUHash) bloomIdx(hash uint32) uint32 {
	return (hash / g.wordBits()) % g.BloomSize
}

func (g *GNUHash) bloomBits(hash uint32) (uint32, uint32) {
	w := g.wordBits()
	return hash % w, (hash >> g.BloomShift) % w
}

func chainEntry(hash uint32) uint32 { return hash &^ 1 }

// Organize rebuilds the whole section from the owning symbol table:
// partition symbols into not-hashed (st_shndx==0) and
// hashed, put not-hashed first, stable-sort hashed symbols by
// (bucket_idx, hash), rewrite the symbol table in that order, then
// recompute bloom/buckets/chain.
func (g *GNUHash) Organize(symtab *SymTab) {
	var unhashed, hashed []*Symbol
	for _, sym := range symtab.Items {
		if sym.Get("st_shndx") == shnUndef {
			unhashed = append(unhashed, sym)
		} else {
			hashed = append(hashed, sym)
		}
	}

	type hashedSym struct {
		sym    *Symbol
		hash   uint32
		bucket uint32
	}
	hs := make([]hashedSym, len(hashed))
	for i, sym := range hashed {
		h := DJB2Hash(sym.Name())
		hs[i] = hashedSym{sym: sym, hash: h, bucket: g.bucketIdx(h)}
	}
	sort.SliceStable(hs, func(i, j int) bool {
		if hs[i].bucket != hs[j].bucket {
			return hs[i].bucket < hs[j].bucket
		}
		return hs[i].hash < hs[j].hash
	})

	newOrder := slices.Clone(unhashed)
	for _, h := range hs {
		newOrder = append(newOrder, h.sym)
	}
	symtab.Items = newOrder
	symtab.Clean()

	g.SymOffset = uint32(len(unhashed))
	g.Chain = make([]uint32, len(hs))
	for i, h := range hs {
		entry := chainEntry(h.hash)
		isLastInBucket := i == len(hs)-1 || hs[i+1].bucket != h.bucket
		if isLastInBucket {
			entry |= 1
		}
		g.Chain[i] = entry
	}

	if g.BloomSize == 0 {
		g.BloomSize = 1
	}
	if g.BloomShift == 0 {
		g.BloomShift = 5
	}
	g.Bloom = make([]uint64, g.BloomSize)
	for _, h := range hs {
		idx := g.bloomIdx(h.hash)
		b1, b2 := g.bloomBits(h.hash)
		g.Bloom[idx] |= (1 << b1) | (1 << b2)
	}

	g.Buckets = make([]uint32, g.NBuckets)
	for i, h := range hs {
		if i == 0 || hs[i-1].bucket != h.bucket {
			g.Buckets[h.bucket] = uint32(g.SymOffset) + uint32(i)
		}
	}
}

// Verify checks, for every hashed symbol (st_shndx != 0), that its two
// bloom bits are set, that its bucket names a valid chain start, and that
// walking the chain from there reaches exactly one entry whose hash, name,
// and symbol-table index all match the symbol being checked. A bare hash
// match is not enough: two symbols colliding on hash within a bucket must
// not verify against each other's chain slot.
func (g *GNUHash) Verify(symtab *SymTab) error {
	seen := make(map[uint32]bool, len(g.Chain))
	for i, sym := range symtab.Items {
		if sym.Get("st_shndx") == shnUndef {
			continue
		}
		if uint32(i) < g.SymOffset {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("symbol %d should be hashed but precedes symoffset", i)}
		}
		if g.BloomSize == 0 {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("symbol %q requires hashing but the bloom filter is empty", sym.Name())}
		}
		h := DJB2Hash(sym.Name())
		idx := g.bloomIdx(h)
		b1, b2 := g.bloomBits(h)
		if idx >= uint32(len(g.Bloom)) || g.Bloom[idx]&(1<<b1) == 0 || g.Bloom[idx]&(1<<b2) == 0 {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("bloom bits for symbol %q not set", sym.Name())}
		}
		bucket := g.bucketIdx(h)
		if bucket >= uint32(len(g.Buckets)) {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("bucket index %d out of range", bucket)}
		}
		start := g.Buckets[bucket]
		if start < g.SymOffset {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("bucket %d chain start %d precedes symoffset", bucket, start)}
		}
		chainPos := start - g.SymOffset
		found := false
		for int(chainPos) < len(g.Chain) {
			entry := g.Chain[chainPos]
			if entry&^1 == chainEntry(h) {
				found = true
				break
			}
			if entry&1 != 0 {
				break
			}
			chainPos++
		}
		if !found {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("chain for symbol %q does not reach a matching entry", sym.Name())}
		}

		matchIdx := int(g.SymOffset + chainPos)
		if matchIdx >= len(symtab.Items) {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("chain entry %d for symbol %q names symbol %d, past the symbol table", chainPos, sym.Name(), matchIdx)}
		}
		match := symtab.Items[matchIdx]
		if match.Name() != sym.Name() {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("hash match for symbol %q resolves to %q", sym.Name(), match.Name())}
		}
		if matchIdx != i {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("symbol %q hashes to index %d but sits at %d", sym.Name(), matchIdx, i)}
		}
		if seen[chainPos] {
			return &VerifyError{What: "ELFGNUHash", Err: fmt.Errorf("chain entry %d matched twice, second time for %q", chainPos, sym.Name())}
		}
		seen[chainPos] = true
	}
	return nil
}
