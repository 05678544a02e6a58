// debug_disasm_x86.go - x86 disassembly for the monitor and x86dis
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strings"

	"golang.org/x/arch/x86/x86asm"
)

const x86MaxInstLen = 15

// disassembleX86 decodes count instructions starting at addr. mode is 16
// or 32. Bytes that do not decode are shown as db, one at a time.
func disassembleX86(readMem func(addr uint64, size int) []byte, addr uint64, count, mode int) []DisassembledLine {
	lines := make([]DisassembledLine, 0, count)
	for range count {
		code := readMem(addr, x86MaxInstLen)
		if len(code) == 0 {
			break
		}
		line := decodeX86Line(code, addr, mode)
		lines = append(lines, line)
		addr += uint64(line.Size)
	}
	return lines
}

func decodeX86Line(code []byte, addr uint64, mode int) DisassembledLine {
	inst, err := x86asm.Decode(code, mode)
	if err != nil || inst.Len == 0 {
		return DisassembledLine{
			Address:  addr,
			HexBytes: fmt.Sprintf("%02X", code[0]),
			Mnemonic: fmt.Sprintf("db 0x%02X", code[0]),
			Size:     1,
		}
	}
	hex := make([]string, inst.Len)
	for i := range inst.Len {
		hex[i] = fmt.Sprintf("%02X", code[i])
	}
	return DisassembledLine{
		Address:  addr,
		HexBytes: strings.Join(hex, " "),
		Mnemonic: x86asm.IntelSyntax(inst, addr, nil),
		Size:     inst.Len,
	}
}
