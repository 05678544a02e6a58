// disasm.go - Flat binary disassembly for x86dis
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

// Disassembler walks a flat image linearly from its origin.
type Disassembler struct {
	mode   int // 16 or 32
	origin uint64
	syntax string // intel | gnu | go
}

func NewDisassembler(mode int, origin uint64, syntax string) (*Disassembler, error) {
	if mode != 16 && mode != 32 {
		return nil, fmt.Errorf("mode must be 16 or 32, got %d", mode)
	}
	switch syntax {
	case "intel", "gnu", "go":
	default:
		return nil, fmt.Errorf("unknown syntax %q", syntax)
	}
	return &Disassembler{mode: mode, origin: origin, syntax: syntax}, nil
}

// Line is one decoded instruction, or one undecodable byte.
type Line struct {
	Addr  uint64
	Bytes []byte
	Text  string
}

func (d *Disassembler) format(inst x86asm.Inst, pc uint64) string {
	switch d.syntax {
	case "gnu":
		return x86asm.GNUSyntax(inst, pc, nil)
	case "go":
		return x86asm.GoSyntax(inst, pc, nil)
	}
	return x86asm.IntelSyntax(inst, pc, nil)
}

// Decode returns up to count lines from code; count <= 0 means all.
func (d *Disassembler) Decode(code []byte, count int) []Line {
	var lines []Line
	off := 0
	for off < len(code) && (count <= 0 || len(lines) < count) {
		pc := d.origin + uint64(off)
		inst, err := x86asm.Decode(code[off:], d.mode)
		if err != nil || inst.Len == 0 {
			lines = append(lines, Line{
				Addr:  pc,
				Bytes: code[off : off+1],
				Text:  fmt.Sprintf("db 0x%02x", code[off]),
			})
			off++
			continue
		}
		lines = append(lines, Line{
			Addr:  pc,
			Bytes: code[off : off+inst.Len],
			Text:  d.format(inst, pc),
		})
		off += inst.Len
	}
	return lines
}

// Write prints lines as "addr  bytes  text". Addresses are 4 hex digits in
// 16-bit mode and 8 in 32-bit mode.
func (d *Disassembler) Write(w io.Writer, lines []Line) error {
	width := 8
	if d.mode == 16 {
		width = 4
	}
	for _, l := range lines {
		hex := make([]string, len(l.Bytes))
		for i, b := range l.Bytes {
			hex[i] = fmt.Sprintf("%02x", b)
		}
		if _, err := fmt.Fprintf(w, "%0*x  %-24s %s\n", width, l.Addr, strings.Join(hex, " "), l.Text); err != nil {
			return err
		}
	}
	return nil
}
