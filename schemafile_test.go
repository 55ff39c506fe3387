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
	"strings"
	"testing"
)

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterCodec("as_int", AsInt)
	reg.RegisterCodec("as_is", nil)
	reg.RegisterOption("has_extra", func(r *Record) bool { return r.Get("st_info") != 0 })
	reg.RegisterLookup("strtab_lookup", func(r *Record, root *File) (any, error) { return nil, nil })
	reg.RegisterLookup("sect_headers", func(r *Record, root *File) (any, error) { return nil, nil })
	reg.RegisterAlt("info_alt", func(r *Record) string { return "INFO" })
	return reg
}

const symbolConfig = `
# symbol record layout
FIELD,st_name,as_int,4,4
FIELD,st_value,as_int,4,8
FIELD,st_info,as_int,1,1
FIELD,st_shndx,as_int,2,2
FIELD,st_extra,as_int,,8
OPTION,st_extra,has_extra
ENUM,st_info,2,FUNC
ENUM,st_info,0x10,GLOBAL
BITMASK,st_shndx,1,LOW
ALT,st_value,info_alt
IGNORE,st_shndx,0,dec
REFERENCE,st_name,off,strtab_lookup
REFERENCE,st_shndx,idx,sect_headers
REFERENCE,st_value,field,sh_addr,sect_headers,no_search
IGNORE,st_shndx,0xfff1,hex
IGNORE,st_name,*UND*,str
ALLOWED_CLASS,elf.Symbol,PRIMARY
ALLOWED_CLASS,elf.StrItem
`

func TestParseSchemaConfig(t *testing.T) {
	cfg, err := ParseSchemaConfig("symtab", strings.NewReader(symbolConfig), testRegistry())
	if err != nil {
		t.Fatalf("ParseSchemaConfig: %v", err)
	}

	if got, want := len(cfg.Schema.Fields), 5; got != want {
		t.Fatalf("parsed %d fields, want %d", got, want)
	}
	extra := cfg.findField("st_extra")
	if extra == nil || extra.Option == nil {
		t.Errorf("st_extra should carry the has_extra option predicate")
	}
	if extra != nil && (extra.Size.Size32 != 0 || extra.Size.Size64 != 8) {
		t.Errorf("st_extra sizes = %+v, want 32-bit absent, 64-bit 8", extra.Size)
	}

	if got, want := cfg.Display.Enums["st_info"].Display(2), "FUNC"; got != want {
		t.Errorf("enum display = %q, want %q", got, want)
	}
	if got, want := cfg.Display.Enums["st_info"].Display(0x10), "GLOBAL"; got != want {
		t.Errorf("hex enum display = %q, want %q", got, want)
	}
	if got, want := cfg.Display.Bitmasks["st_shndx"].Display(1), "LOW"; got != want {
		t.Errorf("bitmask display = %q, want %q", got, want)
	}
	if cfg.Display.Alts["st_value"] == nil {
		t.Errorf("st_value should have the info_alt display handler")
	}

	if got, want := len(cfg.Refs), 3; got != want {
		t.Fatalf("parsed %d references, want %d", got, want)
	}
	byField := map[string]ReferenceSpec{}
	for _, spec := range cfg.Refs {
		byField[spec.Field] = spec
	}
	if byField["st_name"].Kind != RefOff {
		t.Errorf("st_name reference kind = %v, want RefOff", byField["st_name"].Kind)
	}
	if byField["st_shndx"].Kind != RefIdx {
		t.Errorf("st_shndx reference kind = %v, want RefIdx", byField["st_shndx"].Kind)
	}
	fieldRef := byField["st_value"]
	if fieldRef.Kind != RefField || fieldRef.OtherField != "sh_addr" || fieldRef.Search {
		t.Errorf("st_value reference = %+v, want RefField on sh_addr with no_search", fieldRef)
	}

	// IGNORE values attach to the matching reference spec even when the
	// IGNORE line precedes or follows its REFERENCE line.
	if ig := byField["st_shndx"].Ignore; !ig[0] || !ig[0xfff1] {
		t.Errorf("st_shndx ignore set = %v, want {0, 0xfff1}", ig)
	}
	if !cfg.IgnoreStr["st_name"]["*UND*"] {
		t.Errorf("str-kind ignore for st_name not recorded")
	}

	if cfg.PrimaryClass != "elf.Symbol" {
		t.Errorf("primary class = %q, want elf.Symbol", cfg.PrimaryClass)
	}
	if got, want := len(cfg.AllowedClasses), 2; got != want {
		t.Errorf("allowed classes = %v, want %d entries", cfg.AllowedClasses, want)
	}
}

func TestParseSchemaConfigErrors(t *testing.T) {
	cases := []struct {
		name string
		line string
	}{
		{"unknown directive", "NOPE,st_name,1"},
		{"bad arity", "FIELD,st_name,as_int,4"},
		{"unknown codec", "FIELD,st_name,as_float,4,4"},
		{"unknown option handler", "FIELD,st_name,as_int,4,4\nOPTION,st_name,never_registered"},
		{"option on undeclared field", "OPTION,st_ghost,has_extra"},
		{"unknown lookup", "FIELD,st_name,as_int,4,4\nREFERENCE,st_name,off,nowhere"},
		{"unknown reference type", "FIELD,st_name,as_int,4,4\nREFERENCE,st_name,ptr,strtab_lookup"},
		{"unknown ignore kind", "IGNORE,st_name,0,oct"},
		{"bad enum value", "ENUM,st_info,zero,FUNC"},
		{"unknown class modifier", "ALLOWED_CLASS,elf.Symbol,SECONDARY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseSchemaConfig("t", strings.NewReader(tc.line), testRegistry())
			if err == nil {
				t.Fatalf("expected an error for %q", tc.line)
			}
			if _, ok := err.(*SchemaError); !ok {
				t.Errorf("error type = %T, want *SchemaError", err)
			}
		})
	}
}

func TestParseSchemaConfigSkipsCommentsAndBlanks(t *testing.T) {
	in := "# header comment\n\n   \nFIELD,f,as_int,4,8\n# trailing\n"
	cfg, err := ParseSchemaConfig("t", strings.NewReader(in), testRegistry())
	if err != nil {
		t.Fatalf("ParseSchemaConfig: %v", err)
	}
	if len(cfg.Schema.Fields) != 1 {
		t.Errorf("parsed %d fields, want 1", len(cfg.Schema.Fields))
	}
}

func TestSchemaErrorReportsLineNumber(t *testing.T) {
	in := "FIELD,f,as_int,4,8\nBOGUS,1,2\n"
	_, err := ParseSchemaConfig("t", strings.NewReader(in), testRegistry())
	se, ok := err.(*SchemaError)
	if !ok {
		t.Fatalf("error type = %T, want *SchemaError", err)
	}
	if se.Line != 2 {
		t.Errorf("error line = %d, want 2", se.Line)
	}
}

func TestDefaultRegistryHasStandardCodecs(t *testing.T) {
	cfg, err := ParseSchemaConfig("t", strings.NewReader("FIELD,a,as_int,4,8\nFIELD,b,as_is,16,16\n"), DefaultRegistry())
	if err != nil {
		t.Fatalf("ParseSchemaConfig: %v", err)
	}
	if cfg.Schema.Fields[0].Codec == nil {
		t.Errorf("as_int field should have a codec")
	}
	if cfg.Schema.Fields[1].Codec != nil {
		t.Errorf("as_is field should be raw (nil codec)")
	}
}
