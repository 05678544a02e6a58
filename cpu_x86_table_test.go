// cpu_x86_table_test.go - opcode table coverage and generation boundaries
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"testing"
)

// resolve returns the entry the dispatcher would run for an opcode with no
// 66/F2/F3 prefix.
func resolve(part int, op byte) *opEntry {
	e := &x86OpTable[part<<8|int(op)]
	if e.simd != nil {
		e = &e.simd[simdNone]
	}
	return e
}

// TestOpTable_EmptySlotsRaiseUD steps every opcode that has no body for the
// configured CPU and checks that it lands in the #UD handler with the
// instruction start pushed.
func TestOpTable_EmptySlotsRaiseUD(t *testing.T) {
	for _, arch := range []ArchLevel{Arch186, Arch286, Arch386, ArchPentium, ArchPentiumIII} {
		r := newRig(t, arch)
		checked := 0
		for _, part := range []int{partBase16, part0F16} {
			for op := range 256 {
				e := resolve(part, byte(op))
				if e.exec != nil && arch >= e.minArch {
					continue
				}
				code := []byte{byte(op), 0, 0, 0}
				if part == part0F16 {
					if arch < Arch286 {
						continue
					}
					code = append([]byte{0x0F}, code...)
				}
				r.cpu.Seg[x86SegCS] = realModeSegment(0, true)
				r.cpu.EIP = rigCode
				r.cpu.ESP = rigStack
				r.cpu.Halted = false
				r.poke(rigCode, code...)
				r.cpu.Step()

				at := r.cpu.Seg[x86SegCS].Base + r.cpu.EIP
				if at != rigHandler || r.frameIP() != rigCode {
					name := fmt.Sprintf("%02X", op)
					if part == part0F16 {
						name = "0F " + name
					}
					t.Errorf("%v opcode %s: ended at 0x%X (frame IP 0x%04X), want #UD", arch, name, at, r.frameIP())
				}
				checked++
			}
		}
		if checked == 0 {
			t.Errorf("%v: no empty slots found", arch)
		}
	}
}

// TestOpTable_PrefixRowsResolve checks that the 32-bit rows carry a body
// wherever the 16-bit rows do.
func TestOpTable_PrefixRowsResolve(t *testing.T) {
	for _, p := range [][2]int{{partBase16, partBase32}, {part0F16, part0F32}} {
		for op := range 256 {
			a, b := resolve(p[0], byte(op)), resolve(p[1], byte(op))
			if (a.exec == nil) != (b.exec == nil) || a.minArch != b.minArch {
				t.Errorf("partition %d/%d opcode %02X: 16-bit %v/%v, 32-bit %v/%v",
					p[0], p[1], op, a.exec != nil, a.minArch, b.exec != nil, b.minArch)
			}
		}
	}
}

func TestX86_GenerationBoundaries(t *testing.T) {
	tests := []struct {
		name        string
		below, from ArchLevel
		code        []byte
	}{
		{"SMSW", Arch186, Arch286, []byte{0x0F, 0x01, 0xE0}},
		{"MOVZX", Arch286, Arch386, []byte{0x0F, 0xB6, 0xC3}},
		{"BSWAP", Arch386, Arch486Old, []byte{0x66, 0x0F, 0xC8}},
		{"CPUID", Arch486Old, Arch486New, []byte{0x0F, 0xA2}},
		{"RDTSC", Arch486New, ArchPentium, []byte{0x0F, 0x31}},
		{"EMMS", ArchPentium, ArchPentiumMMX, []byte{0x0F, 0x77}},
		{"CMOVZ", ArchPentiumMMX, ArchPentiumII, []byte{0x0F, 0x44, 0xC3}},
		{"XORPS", ArchPentiumII, ArchPentiumIII, []byte{0x0F, 0x57, 0xC0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, tt.below)
			r.cpu.CR4 |= cr4OSFXSR
			r.exec(tt.code...)
			if !r.inHandler() || r.frameIP() != rigCode {
				t.Errorf("%v should raise #UD", tt.below)
			}

			r = newRig(t, tt.from)
			r.cpu.CR4 |= cr4OSFXSR
			r.exec(tt.code...)
			if r.inHandler() {
				t.Errorf("%v faulted, frame IP 0x%04X", tt.from, r.frameIP())
			}
		})
	}
}

// The 8086 has no invalid opcode exception. PUSH imm8 decodes as a
// conditional jump there.
func TestX86_186PushImmediate(t *testing.T) {
	code := []byte{0x6A, 0x05} // PUSH 5 (JPE +5 on the 8086)

	r := newRig(t, Arch186)
	r.exec(code...)
	if r.cpu.ESP != rigStack-2 || r.peek16(rigStack-2) != 5 {
		t.Errorf("186: SP=0x%X [SP]=0x%04X", r.cpu.ESP, r.peek16(rigStack-2))
	}

	r = newRig(t, Arch8086)
	r.exec(code...)
	if r.cpu.ESP != rigStack || r.inHandler() {
		t.Errorf("8086: SP=0x%X handler=%v, want the Jcc alias", r.cpu.ESP, r.inHandler())
	}
}

func TestX86_DIV8_ZeroDivisorKeepsAX(t *testing.T) {
	r := newRig(t, ArchPentium)
	r.exec(
		0xB8, 0x00, 0x01, // MOV AX, 0x0100
		0xB1, 0x00, // MOV CL, 0
		0xF6, 0xF1, // DIV CL at 0x1005
	)
	if !r.inHandler() || r.frameIP() != 0x1005 {
		t.Fatalf("no #DE for the DIV at 0x1005, frame IP 0x%04X", r.frameIP())
	}
	if r.cpu.AL() != 0x00 || r.cpu.AH() != 0x01 {
		t.Errorf("AL=0x%02X AH=0x%02X, a faulting DIV must leave them", r.cpu.AL(), r.cpu.AH())
	}
}

func TestX87_CPU_FLDAfterEMMSSeesEmptyStack(t *testing.T) {
	r := newRig(t, ArchPentiumMMX)
	r.exec(
		0x0F, 0x6E, 0xC0, // MOVD MM0, EAX
		0x0F, 0x6E, 0xC9, // MOVD MM1, ECX
		0x0F, 0x6E, 0xD2, // MOVD MM2, EDX
		0x0F, 0x6E, 0xDB, // MOVD MM3, EBX
		0x0F, 0x77, // EMMS
	)
	f := r.cpu.FPU
	if f.FTW != 0xFFFF || f.top() != 0 {
		t.Fatalf("after EMMS: FTW=0x%04X TOP=%d", f.FTW, f.top())
	}

	r.cpu.Halted = false
	r.exec(0xD9, 0xE8) // FLD1
	if f.FSW&(x87FSW_IE|x87FSW_SF) != 0 {
		t.Errorf("FLD1 after EMMS overflowed the stack, FSW=0x%04X", f.FSW)
	}
	if f.top() != 7 || f.ST(0) != 1 {
		t.Errorf("FLD1: TOP=%d ST0=%v", f.top(), f.ST(0))
	}
}

// raised runs f and returns the exception it raised, if any.
func raised(f func()) (exc *CPUException) {
	defer func() {
		if v := recover(); v != nil {
			exc = v.(*CPUException)
		}
	}()
	f()
	return nil
}

func TestX86_MOV_TestRegisters(t *testing.T) {
	code := []byte{
		0x66, 0xB8, 0x78, 0x56, 0x34, 0x12, // MOV EAX, 0x12345678
		0x0F, 0x26, 0xF0, // MOV TR6, EAX
		0x0F, 0x24, 0xF1, // MOV ECX, TR6
	}
	for _, arch := range []ArchLevel{Arch386, Arch486Old, Arch486New} {
		r := newRig(t, arch)
		r.exec(code...)
		if r.inHandler() || r.cpu.ECX != 0x12345678 || r.cpu.TestReg[6] != 0x12345678 {
			t.Errorf("%v: ECX=0x%X TR6=0x%X handler=%v", arch, r.cpu.ECX, r.cpu.TestReg[6], r.inHandler())
		}

		r = newRig(t, arch)
		r.exec(0x0F, 0x24, 0xE8) // MOV EAX, TR5
		if !r.inHandler() || r.frameIP() != rigCode {
			t.Errorf("%v: TR5 should raise #UD", arch)
		}
	}

	for _, arch := range []ArchLevel{Arch286, ArchPentium, ArchPentiumIII} {
		r := newRig(t, arch)
		r.cpu.EAX = 0xAAAA5555
		r.exec(0x0F, 0x24, 0xF0) // MOV EAX, TR6
		if !r.inHandler() || r.frameIP() != rigCode || r.cpu.EAX != 0xAAAA5555 {
			t.Errorf("%v: MOV from TR6 should raise #UD, EAX=0x%X", arch, r.cpu.EAX)
		}
	}

	r := newFlatRig(t, Arch486New)
	r.cpu.setCPL(3)
	r.poke(rigCode, 0xF0)
	exc := raised(r.cpu.opMOV_R_TR)
	if exc == nil || exc.Vector != excGP || exc.Code != 0 {
		t.Errorf("MOV from TR6 at CPL 3 raised %v, want #GP(0)", exc)
	}
}
