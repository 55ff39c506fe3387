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
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Registry holds the named handlers a schema configuration file may refer
// to: field codecs, option predicates, reference lookups, and alternative
// display handlers. Handlers are registered by module initialization before
// any configuration is parsed; a directive naming an unregistered handler
// is a load-time SchemaError.
type Registry struct {
	codecs  map[string]Codec
	options map[string]OptionFunc
	lookups map[string]Lookup
	alts    map[string]func(r *Record) string
}

// NewRegistry returns a registry with no handlers. Most callers want
// DefaultRegistry, which already carries the two standard codecs.
func NewRegistry() *Registry {
	return &Registry{
		codecs:  make(map[string]Codec),
		options: make(map[string]OptionFunc),
		lookups: make(map[string]Lookup),
		alts:    make(map[string]func(r *Record) string),
	}
}

// RegisterCodec binds a FIELD codec name. A nil codec means the field is
// kept as raw bytes ("as_is"). Panics on a duplicate name, like the
// stdlib's gob/http registries: a clash is a programming error, not input.
func (reg *Registry) RegisterCodec(name string, c Codec) {
	if _, ok := reg.codecs[name]; ok {
		panic("elf: duplicate codec " + name)
	}
	reg.codecs[name] = c
}

// RegisterOption binds an OPTION predicate name.
func (reg *Registry) RegisterOption(name string, fn OptionFunc) {
	if _, ok := reg.options[name]; ok {
		panic("elf: duplicate option handler " + name)
	}
	reg.options[name] = fn
}

// RegisterLookup binds a REFERENCE lookup name.
func (reg *Registry) RegisterLookup(name string, fn Lookup) {
	if _, ok := reg.lookups[name]; ok {
		panic("elf: duplicate lookup " + name)
	}
	reg.lookups[name] = fn
}

// RegisterAlt binds an ALT display handler name.
func (reg *Registry) RegisterAlt(name string, fn func(r *Record) string) {
	if _, ok := reg.alts[name]; ok {
		panic("elf: duplicate alt handler " + name)
	}
	reg.alts[name] = fn
}

// defaultRegistry carries the codecs every schema file can assume.
var defaultRegistry = func() *Registry {
	reg := NewRegistry()
	reg.RegisterCodec("as_int", AsInt)
	reg.RegisterCodec("as_is", nil)
	return reg
}()

// DefaultRegistry returns the shared registry preloaded with the standard
// "as_int" and "as_is" codecs. Callers add their own option handlers and
// lookups to it during initialization.
func DefaultRegistry() *Registry { return defaultRegistry }

// SchemaConfig is the result of parsing one schema configuration file: the
// record layout, its display policy, its reference specs, and the table
// typing directives.
type SchemaConfig struct {
	Schema  *RecordSchema
	Display DisplayPolicy
	Refs    []ReferenceSpec

	// Ignore holds dec/hex IGNORE values per field. Values for fields
	// that also carry a REFERENCE directive are copied into the matching
	// ReferenceSpec's Ignore set when parsing finishes.
	Ignore map[string]map[uint64]bool
	// IgnoreStr holds str-kind IGNORE values per field, matched against
	// raw byte fields.
	IgnoreStr map[string]map[string]bool

	AllowedClasses []string
	PrimaryClass   string
}

// ParseSchemaConfig reads a schema configuration: one comma-separated
// directive per line, '#' lines and blank lines skipped. Integer literals
// are decimal or 0x-prefixed hex. Any malformed directive or unknown
// handler name is fatal, reported as a SchemaError with the line number.
func ParseSchemaConfig(name string, r io.Reader, reg *Registry) (*SchemaConfig, error) {
	cfg := &SchemaConfig{
		Schema: &RecordSchema{Name: name},
		Display: DisplayPolicy{
			Enums:    make(map[string]EnumTable),
			Bitmasks: make(map[string]BitmaskTable),
			Alts:     make(map[string]func(r *Record) string),
		},
		Ignore:    make(map[string]map[uint64]bool),
		IgnoreStr: make(map[string]map[string]bool),
	}

	fail := func(lineno int, format string, args ...any) error {
		return &SchemaError{File: name, Line: lineno, Err: fmt.Errorf(format, args...)}
	}

	scanner := bufio.NewScanner(r)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.Split(line, ",")
		key, entry := parts[0], parts[1:]

		switch {
		case key == "FIELD" && len(entry) == 4:
			codec, ok := reg.codecs[entry[1]]
			if !ok {
				return nil, fail(lineno, "unknown field codec %q", entry[1])
			}
			var size FieldSize
			var err error
			if size.Size32, err = parseSchemaSize(entry[2]); err != nil {
				return nil, fail(lineno, "field %s: bad 32-bit size %q", entry[0], entry[2])
			}
			if size.Size64, err = parseSchemaSize(entry[3]); err != nil {
				return nil, fail(lineno, "field %s: bad 64-bit size %q", entry[0], entry[3])
			}
			cfg.Schema.Fields = append(cfg.Schema.Fields, Field{Name: entry[0], Codec: codec, Size: size})

		case key == "OPTION" && len(entry) == 2:
			fn, ok := reg.options[entry[1]]
			if !ok {
				return nil, fail(lineno, "unknown option handler %q", entry[1])
			}
			field := cfg.findField(entry[0])
			if field == nil {
				return nil, fail(lineno, "OPTION names undeclared field %q", entry[0])
			}
			field.Option = fn

		case key == "ENUM" && len(entry) == 3:
			v, err := parseInt(entry[1])
			if err != nil {
				return nil, fail(lineno, "bad enum value %q", entry[1])
			}
			if cfg.Display.Enums[entry[0]] == nil {
				cfg.Display.Enums[entry[0]] = make(EnumTable)
			}
			cfg.Display.Enums[entry[0]][v] = entry[2]

		case key == "BITMASK" && len(entry) == 3:
			v, err := parseInt(entry[1])
			if err != nil {
				return nil, fail(lineno, "bad bitmask value %q", entry[1])
			}
			if cfg.Display.Bitmasks[entry[0]] == nil {
				cfg.Display.Bitmasks[entry[0]] = make(BitmaskTable)
			}
			cfg.Display.Bitmasks[entry[0]][v] = entry[2]

		case key == "ALT" && len(entry) == 2:
			fn, ok := reg.alts[entry[1]]
			if !ok {
				return nil, fail(lineno, "unknown alt handler %q", entry[1])
			}
			cfg.Display.Alts[entry[0]] = fn

		case key == "REFERENCE" && len(entry) == 3:
			fn, ok := reg.lookups[entry[2]]
			if !ok {
				return nil, fail(lineno, "unknown lookup %q", entry[2])
			}
			var kind RefKind
			switch entry[1] {
			case "idx":
				kind = RefIdx
			case "off":
				kind = RefOff
			default:
				return nil, fail(lineno, "unknown reference type %q", entry[1])
			}
			cfg.Refs = append(cfg.Refs, ReferenceSpec{Field: entry[0], Kind: kind, Lookup: fn})

		case key == "REFERENCE" && (len(entry) == 4 || len(entry) == 5):
			if entry[1] != "field" {
				return nil, fail(lineno, "unknown reference type %q", entry[1])
			}
			fn, ok := reg.lookups[entry[3]]
			if !ok {
				return nil, fail(lineno, "unknown lookup %q", entry[3])
			}
			search := true
			if len(entry) == 5 {
				if entry[4] != "no_search" {
					return nil, fail(lineno, "unknown reference modifier %q", entry[4])
				}
				search = false
			}
			cfg.Refs = append(cfg.Refs, ReferenceSpec{
				Field: entry[0], Kind: RefField, OtherField: entry[2], Lookup: fn, Search: search,
			})

		case key == "IGNORE" && len(entry) == 3:
			switch entry[2] {
			case "str":
				if cfg.IgnoreStr[entry[0]] == nil {
					cfg.IgnoreStr[entry[0]] = make(map[string]bool)
				}
				cfg.IgnoreStr[entry[0]][entry[1]] = true
			case "dec", "hex":
				base := 10
				if entry[2] == "hex" {
					base = 16
				}
				v, err := parseIntBase(entry[1], base)
				if err != nil {
					return nil, fail(lineno, "bad ignore value %q", entry[1])
				}
				if cfg.Ignore[entry[0]] == nil {
					cfg.Ignore[entry[0]] = make(map[uint64]bool)
				}
				cfg.Ignore[entry[0]][v] = true
			default:
				return nil, fail(lineno, "unknown ignore kind %q", entry[2])
			}

		case key == "ALLOWED_CLASS" && (len(entry) == 1 || len(entry) == 2):
			if len(entry) == 2 {
				if entry[1] != "PRIMARY" {
					return nil, fail(lineno, "unknown class modifier %q", entry[1])
				}
				if cfg.PrimaryClass != "" {
					return nil, fail(lineno, "second PRIMARY class %q", entry[0])
				}
				cfg.PrimaryClass = entry[0]
			}
			cfg.AllowedClasses = append(cfg.AllowedClasses, entry[0])

		default:
			return nil, fail(lineno, "invalid directive %q (%d args)", key, len(entry))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &SchemaError{File: name, Err: err}
	}

	// Dec/hex ignore values apply at reference resolution; copy each
	// field's set into its spec now that every directive has been seen
	// (IGNORE lines may precede their REFERENCE line).
	for i := range cfg.Refs {
		if vals := cfg.Ignore[cfg.Refs[i].Field]; vals != nil {
			cfg.Refs[i].Ignore = vals
		}
	}
	return cfg, nil
}

func (cfg *SchemaConfig) findField(name string) *Field {
	for i := range cfg.Schema.Fields {
		if cfg.Schema.Fields[i].Name == name {
			return &cfg.Schema.Fields[i]
		}
	}
	return nil
}

// parseSchemaSize handles a FIELD size column, where an empty string means
// "absent at this word size".
func parseSchemaSize(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := parseInt(s)
	return int(v), err
}

// parseIntBase parses an integer in the radix an IGNORE directive's kind
// column names, tolerating an 0x prefix on hex values.
func parseIntBase(s string, base int) (uint64, error) {
	if base == 16 {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	}
	return strconv.ParseUint(s, base, 64)
}
