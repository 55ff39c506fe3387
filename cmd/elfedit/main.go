package main

import (
	"flag"
	"fmt"
	"os"

	elf "seehuhn.de/go/elfedit"
)

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Printf("Usage: %s script.txt\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	scriptPath := flag.Arg(0)

	s := &elf.Script{}
	if err := s.RunFile(scriptPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
