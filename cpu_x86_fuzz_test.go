// cpu_x86_fuzz_test.go - decode and execute arbitrary byte streams
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "testing"

// FuzzDecode runs random code in real mode and flat 32-bit mode. Every
// byte sequence must either execute, fault into the handler, or shut the
// CPU down; nothing may escape the dispatch loop.
func FuzzDecode(f *testing.F) {
	for _, seed := range [][]byte{
		{0x90},
		{0x05, 0x34, 0x12},
		{0x66, 0x0F, 0xB6, 0xC3},
		{0x0F, 0xFF},
		{0xF0, 0x90},
		{0xD9, 0xE8, 0xDE, 0xC1},
		{0x0F, 0x58, 0xC1},
		{0xF3, 0xA4},
		{0x8E, 0xC8},
		{0xCD, 0x03},
	} {
		f.Add(seed, false)
		f.Add(seed, true)
	}

	f.Fuzz(func(t *testing.T, code []byte, flat bool) {
		if len(code) > 32 {
			code = code[:32]
		}
		code = append([]byte(nil), code...)
		var r *x86Rig
		if flat {
			r = newFlatRig(t, ArchPentiumIII)
		} else {
			r = newRig(t, ArchPentiumIII)
		}
		r.load(code...)
		for range 64 {
			if r.cpu.Halted || r.cpu.Shutdown {
				break
			}
			r.cpu.Step()
		}

		if len(code) == 0 {
			return
		}
		mode := 16
		if flat {
			mode = 32
		}
		line := decodeX86Line(code, uint64(rigCode), mode)
		if line.Size <= 0 {
			t.Errorf("disassembler consumed %d bytes of % X", line.Size, code)
		}
	})
}
