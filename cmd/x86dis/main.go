// main.go - x86dis: disassemble a flat x86 binary
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
)

func main() {
	mode := flag.Int("m", 16, "Decode mode (16 or 32)")
	originText := flag.String("o", "0", "Origin address of the first byte")
	count := flag.Int("n", 0, "Number of instructions (0: whole file)")
	skip := flag.Int("skip", 0, "Bytes to skip at the start of the file")
	syntax := flag.String("syntax", "intel", "Output syntax (intel, gnu, go)")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: x86dis [options] file.bin\n\nDisassembles a flat x86 binary.\n\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  x86dis -o 0x7c00 boot.bin\n")
		fmt.Fprintf(os.Stderr, "  x86dis -m 32 -o 0x100000 -n 40 kernel.bin\n")
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	origin, err := strconv.ParseUint(*originText, 0, 32)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: -o: %v\n", err)
		os.Exit(1)
	}
	d, err := NewDisassembler(*mode, origin, *syntax)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	data, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if *skip < 0 || *skip > len(data) {
		fmt.Fprintf(os.Stderr, "error: -skip %d outside file of %d bytes\n", *skip, len(data))
		os.Exit(1)
	}

	w := bufio.NewWriter(os.Stdout)
	if err := d.Write(w, d.Decode(data[*skip:], *count)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if err := w.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
