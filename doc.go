// Package elf implements a schema-driven ELF object-file editor: it parses
// an ELF32/ELF64 binary into an in-memory object graph, resolves the web of
// index/offset/field references between records, applies a small set of
// structural edits, re-derives layout, and serializes a valid ELF file back
// out.
package elf
