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
	"os"
	"strconv"
	"strings"
)

// Script is the command dispatcher: it reads one comma-separated command
// per line, routes it to the loaded File, and stops at the first failing
// command. It is a thin collaborator around the core editing operations,
// not part of the ELF object model itself.
type Script struct {
	file     *File
	savePath string
}

// RunFile reads path line by line and executes each command in order,
// returning the first command error encountered.
func (s *Script) RunFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Run(f)
}

// Run executes every command read from r.
func (s *Script) Run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := s.execLine(line); err != nil {
			return fmt.Errorf("%s: %w", line, err)
		}
	}
	return scanner.Err()
}

func (s *Script) execLine(line string) error {
	parts := strings.Split(line, ",")
	cmd := strings.ToUpper(parts[0])
	args := parts[1:]

	switch cmd {
	case "LOAD":
		if len(args) != 2 || strings.ToUpper(args[0]) != "ELF" {
			return fmt.Errorf("usage: LOAD,ELF,<path>")
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		file, err := Load(data)
		if err != nil {
			return err
		}
		s.file = file
		return nil

	case "SAVE":
		if len(args) != 2 {
			return fmt.Errorf("usage: SAVE,<path>,OVERWRITE|KEEP")
		}
		if s.file == nil {
			return fmt.Errorf("no file loaded")
		}
		if err := s.file.Organize(); err != nil {
			return err
		}
		if err := s.file.Verify(); err != nil {
			return err
		}
		path := args[0]
		mode := strings.ToUpper(args[1])
		if mode == "KEEP" {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("refusing to overwrite existing file %q", path)
			}
		}
		out, err := s.file.ToBytes()
		if err != nil {
			return err
		}
		return os.WriteFile(path, out, 0o744)

	case "PRINT":
		if len(args) != 1 {
			return fmt.Errorf("usage: PRINT,<section_name>")
		}
		if s.file == nil {
			return fmt.Errorf("no file loaded")
		}
		sh, err := s.file.SectionHeaders.ByName(args[0])
		if err != nil {
			return err
		}
		fmt.Println(s.file.displaySection(sh))
		return nil

	case "RENAME_SYMBOL":
		if len(args) != 4 {
			return fmt.Errorf("usage: RENAME_SYMBOL,<old>,<new>,STATIC|DYNAMIC|BOTH,STRICT|PERMISSIVE")
		}
		which, err := parseWhich(args[2])
		if err != nil {
			return err
		}
		return s.file.RenameSymbol(args[0], args[1], which, parseStrictness(args[3]))

	case "SET_SYMBOL_VERSION":
		if len(args) != 3 {
			return fmt.Errorf("usage: SET_SYMBOL_VERSION,<name>,<version>,PERMISSIVE|STRICT")
		}
		version, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return err
		}
		return s.file.SetSymbolVersion(args[0], version, parseStrictness(args[2]))

	case "MOVE_SECTION":
		if len(args) != 2 {
			return fmt.Errorf("usage: MOVE_SECTION,<name>,<align_hex>")
		}
		align, err := parseInt(args[1])
		if err != nil {
			return err
		}
		return s.file.MoveSection(args[0], align)

	case "MAKE_SEGMENT":
		if len(args) != 5 {
			return fmt.Errorf("usage: MAKE_SEGMENT,PT_LOAD,<flags>,<align_hex>,<start_sect>,<end_sect>")
		}
		flags, err := ParseSegmentFlags(args[1])
		if err != nil {
			return err
		}
		align, err := parseInt(args[2])
		if err != nil {
			return err
		}
		return s.file.MakeSegment(args[0], flags, align, args[3], args[4])

	case "MOVE_SEGMENT":
		if len(args) != 3 {
			return fmt.Errorf("usage: MOVE_SEGMENT,<idx>,<start_sect>,<end_sect>")
		}
		idx, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		return s.file.MoveSegment(idx, args[1], args[2])

	case "MAKE_DYN_TAG":
		if len(args) != 2 {
			return fmt.Errorf("usage: MAKE_DYN_TAG,<DT_NAME>,<string_value>")
		}
		return s.file.AddDynTag(args[0], args[1])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseWhich(s string) (Which, error) {
	switch strings.ToUpper(s) {
	case "STATIC":
		return WhichStatic, nil
	case "DYNAMIC":
		return WhichDynamic, nil
	case "BOTH":
		return WhichBoth, nil
	default:
		return 0, fmt.Errorf("unknown which %q", s)
	}
}

func parseStrictness(s string) Strictness {
	if strings.ToUpper(s) == "PERMISSIVE" {
		return Permissive
	}
	return Strict
}

// parseInt accepts decimal or 0x-prefixed hex literals.
func parseInt(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func (f *File) displaySection(sh *SectionHeader) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (type=0x%x)\n", sh.Name(), sh.Get("sh_type"))
	switch body := sh.Body.(type) {
	case *SymTab:
		for _, sym := range body.Items {
			b.WriteString(sym.Display(f))
			b.WriteByte('\n')
		}
	case *VerNeedTable:
		for _, entry := range body.Items {
			for _, aux := range entry.Aux {
				fmt.Fprintf(&b, "%s vna_other=%d\n", aux.Name(), aux.Get("vna_other"))
			}
		}
	case *DynamicSection:
		for _, e := range body.Items {
			kind := "d_val"
			if e.IsPtr() {
				kind = "d_ptr"
			}
			fmt.Fprintf(&b, "DT_%s %s=0x%x\n", strings.ToUpper(e.TagName()), kind, e.Value())
		}
	}
	return b.String()
}
