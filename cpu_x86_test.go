// cpu_x86_test.go - x86 CPU Unit Tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"testing"
)

// =============================================================================
// Register Access Tests
// =============================================================================

func TestX86_RegisterAccess(t *testing.T) {
	cpu := newRig(t, Arch386).cpu

	cpu.EAX = 0x12345678
	if cpu.AX() != 0x5678 {
		t.Errorf("AX: got 0x%04X, want 0x5678", cpu.AX())
	}
	if cpu.AL() != 0x78 {
		t.Errorf("AL: got 0x%02X, want 0x78", cpu.AL())
	}
	if cpu.AH() != 0x56 {
		t.Errorf("AH: got 0x%02X, want 0x56", cpu.AH())
	}

	cpu.SetAL(0xAB)
	if cpu.EAX != 0x123456AB {
		t.Errorf("SetAL: EAX got 0x%08X, want 0x123456AB", cpu.EAX)
	}
	cpu.SetAH(0xCD)
	if cpu.EAX != 0x1234CDAB {
		t.Errorf("SetAH: EAX got 0x%08X, want 0x1234CDAB", cpu.EAX)
	}
	cpu.SetAX(0x9999)
	if cpu.EAX != 0x12349999 {
		t.Errorf("SetAX: EAX got 0x%08X, want 0x12349999", cpu.EAX)
	}

	// Indexed access goes through the same storage.
	cpu.setReg32(3, 0xCAFEBABE)
	if cpu.EBX != 0xCAFEBABE {
		t.Errorf("setReg32(3): EBX got 0x%08X", cpu.EBX)
	}
	if got := cpu.getReg32(3); got != 0xCAFEBABE {
		t.Errorf("getReg32(3): got 0x%08X", got)
	}
}

func TestX86_ResetState(t *testing.T) {
	tests := []struct {
		arch  ArchLevel
		flags uint32
	}{
		{Arch8086, 0xF002},
		{Arch186, 0xF002},
		{Arch286, 0x0002},
		{Arch386, 0x0002},
		{ArchPentiumIII, 0x0002},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			cpu := NewCPU_X86(NewMemorySystem(1024, false), nil, tt.arch)
			if cpu.Seg[x86SegCS].Selector != 0xF000 || cpu.Seg[x86SegCS].Base != 0xF0000 {
				t.Errorf("CS = %04X base %X", cpu.Seg[x86SegCS].Selector, cpu.Seg[x86SegCS].Base)
			}
			if cpu.EIP != 0xFFF0 {
				t.Errorf("EIP = 0x%X, want 0xFFF0", cpu.EIP)
			}
			if got := cpu.flagsWord(); got != tt.flags {
				t.Errorf("FLAGS = 0x%04X, want 0x%04X", got, tt.flags)
			}
		})
	}
}

// =============================================================================
// Arithmetic and flags
// =============================================================================

func TestX86_ADD_Flags(t *testing.T) {
	tests := []struct {
		name           string
		a, b, want     uint16
		cf, zf, sf, of bool
	}{
		{"plain", 1, 2, 3, false, false, false, false},
		{"carry to zero", 0xFFFF, 1, 0, true, true, false, false},
		{"signed overflow", 0x7FFF, 1, 0x8000, false, false, true, true},
		{"negative plus negative", 0x8000, 0x8000, 0, true, true, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, Arch386)
			r.exec(
				0xB8, byte(tt.a), byte(tt.a>>8), // MOV AX, a
				0xBB, byte(tt.b), byte(tt.b>>8), // MOV BX, b
				0x01, 0xD8, // ADD AX, BX
			)
			if r.cpu.AX() != tt.want {
				t.Errorf("AX = 0x%04X, want 0x%04X", r.cpu.AX(), tt.want)
			}
			if r.flag(x86FlagCF) != tt.cf || r.flag(x86FlagZF) != tt.zf ||
				r.flag(x86FlagSF) != tt.sf || r.flag(x86FlagOF) != tt.of {
				t.Errorf("flags = 0x%04X (CF=%v ZF=%v SF=%v OF=%v)", r.cpu.flagsWord(),
					tt.cf, tt.zf, tt.sf, tt.of)
			}
		})
	}
}

func TestX86_CMP_zero(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0x42, 0x00, // MOV AX, 0x42
		0x3D, 0x42, 0x00, // CMP AX, 0x42
	)
	if !r.flag(x86FlagZF) || r.flag(x86FlagCF) {
		t.Errorf("CMP equal: flags = 0x%04X", r.cpu.flagsWord())
	}
	if r.cpu.AX() != 0x42 {
		t.Errorf("CMP wrote AX = 0x%04X", r.cpu.AX())
	}
}

func TestX86_INC_PreservesCarry(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0xFF, 0xFF, // MOV AX, 0xFFFF
		0xF9, // STC
		0x40, // INC AX
	)
	if r.cpu.AX() != 0 {
		t.Errorf("AX = 0x%04X, want 0", r.cpu.AX())
	}
	if !r.flag(x86FlagZF) {
		t.Error("INC to zero should set ZF")
	}
	if !r.flag(x86FlagCF) {
		t.Error("INC must leave CF alone")
	}
}

func TestX86_PUSHF_FixedBits(t *testing.T) {
	tests := []struct {
		arch ArchLevel
		want uint16
	}{
		{Arch8086, 0xF003},
		{Arch286, 0x0003},
		{Arch386, 0x0003},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			r := newRig(t, tt.arch)
			r.exec(
				0xF9, // STC
				0x9C, // PUSHF
				0x5B, // POP BX
			)
			if got := uint16(r.cpu.EBX); got != tt.want {
				t.Errorf("pushed FLAGS = 0x%04X, want 0x%04X", got, tt.want)
			}
		})
	}
}

func TestX86_XOR_self(t *testing.T) {
	r := newRig(t, Arch386)
	r.cpu.EAX = 0x1234
	r.exec(0x31, 0xC0) // XOR AX, AX
	if r.cpu.AX() != 0 || !r.flag(x86FlagZF) || r.flag(x86FlagCF) || r.flag(x86FlagOF) {
		t.Errorf("XOR AX,AX: AX=0x%04X flags=0x%04X", r.cpu.AX(), r.cpu.flagsWord())
	}
}

func TestX86_SHIFT(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0x01, 0x80, // MOV AX, 0x8001
		0xD1, 0xE0, // SHL AX, 1
	)
	if r.cpu.AX() != 0x0002 || !r.flag(x86FlagCF) {
		t.Errorf("SHL: AX=0x%04X CF=%v", r.cpu.AX(), r.flag(x86FlagCF))
	}

	r = newRig(t, Arch386)
	r.exec(
		0xB8, 0x01, 0x00, // MOV AX, 1
		0xD1, 0xE8, // SHR AX, 1
	)
	if r.cpu.AX() != 0 || !r.flag(x86FlagCF) || !r.flag(x86FlagZF) {
		t.Errorf("SHR: AX=0x%04X flags=0x%04X", r.cpu.AX(), r.cpu.flagsWord())
	}
}

func TestX86_MUL(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0x00, 0x10, // MOV AX, 0x1000
		0xBB, 0x00, 0x10, // MOV BX, 0x1000
		0xF7, 0xE3, // MUL BX
	)
	if r.cpu.AX() != 0 || uint16(r.cpu.EDX) != 0x0100 {
		t.Errorf("MUL: DX:AX = %04X:%04X, want 0100:0000", uint16(r.cpu.EDX), r.cpu.AX())
	}
	if !r.flag(x86FlagCF) || !r.flag(x86FlagOF) {
		t.Error("MUL with a non-zero high half should set CF and OF")
	}
}

func TestX86_DIV(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0x64, 0x00, // MOV AX, 100
		0xB3, 0x07, // MOV BL, 7
		0xF6, 0xF3, // DIV BL
	)
	if r.cpu.AL() != 14 || r.cpu.AH() != 2 {
		t.Errorf("DIV: AL=%d AH=%d, want 14 and 2", r.cpu.AL(), r.cpu.AH())
	}
}

func TestX86_DIV_ByZeroFaults(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0x0A, 0x00, // MOV AX, 10
		0xB3, 0x00, // MOV BL, 0
		0xF6, 0xF3, // DIV BL at 0x1005
	)
	if !r.inHandler() {
		t.Fatalf("#DE handler not reached, EIP=0x%X", r.cpu.EIP)
	}
	if got := r.frameIP(); got != 0x1005 {
		t.Errorf("pushed IP = 0x%04X, want the faulting DIV at 0x1005", got)
	}
	if r.cpu.AX() != 10 {
		t.Errorf("AX = 0x%04X, a faulting DIV must not write it", r.cpu.AX())
	}
	if r.cpu.ESP != rigStack-6 {
		t.Errorf("SP = 0x%X, want a three word frame", r.cpu.ESP)
	}
}

// =============================================================================
// Control flow and stack
// =============================================================================

func TestX86_JZ(t *testing.T) {
	for _, taken := range []bool{true, false} {
		r := newRig(t, Arch386)
		op := byte(0x31) // XOR AX, AX sets ZF
		if !taken {
			op = 0x09 // OR AX, AX with AX=1 clears it
			r.cpu.EAX = 1
		}
		r.exec(
			op, 0xC0,
			0x74, 0x03, // JZ +3
			0xBB, 0x01, 0x00, // MOV BX, 1
		)
		if got := r.cpu.EBX == 1; got == taken {
			t.Errorf("JZ taken=%v but BX=%d", taken, r.cpu.EBX)
		}
	}
}

func TestX86_LOOP(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB9, 0x05, 0x00, // MOV CX, 5
		0x31, 0xC0, // XOR AX, AX
		0x40,       // INC AX
		0xE2, 0xFD, // LOOP -3
	)
	if r.cpu.AX() != 5 || r.cpu.CX() != 0 {
		t.Errorf("LOOP: AX=%d CX=%d, want 5 and 0", r.cpu.AX(), r.cpu.CX())
	}
}

func TestX86_CALL_RET(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xE8, 0x04, 0x00, // 1000: CALL 1007
		0xBB, 0x01, 0x00, // 1003: MOV BX, 1
		0xF4,             // 1006: HLT
		0xB8, 0x34, 0x12, // 1007: MOV AX, 0x1234
		0xC3, // 100A: RET
	)
	if r.cpu.AX() != 0x1234 || r.cpu.BX() != 1 {
		t.Errorf("AX=0x%04X BX=%d", r.cpu.AX(), r.cpu.BX())
	}
	if r.cpu.ESP != rigStack {
		t.Errorf("SP = 0x%X, want 0x%X", r.cpu.ESP, rigStack)
	}
	if r.cpu.EIP != 0x1007 {
		t.Errorf("halted at 0x%X, want 0x1007", r.cpu.EIP)
	}
}

func TestX86_PUSHA_POPA(t *testing.T) {
	tests := []struct {
		arch    ArchLevel
		savedSP uint16
	}{
		{Arch186, rigStack - 10},
		{Arch286, rigStack},
		{Arch386, rigStack},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			r := newRig(t, tt.arch)
			r.cpu.EAX, r.cpu.EBX = 0x1111, 0x2222
			r.exec(
				0x60,       // PUSHA
				0x31, 0xC0, // XOR AX, AX
				0x31, 0xDB, // XOR BX, BX
				0x61, // POPA
			)
			if r.cpu.AX() != 0x1111 || r.cpu.BX() != 0x2222 {
				t.Errorf("POPA: AX=0x%04X BX=0x%04X", r.cpu.AX(), r.cpu.BX())
			}
			if r.cpu.ESP != rigStack {
				t.Errorf("SP = 0x%X after POPA", r.cpu.ESP)
			}
			if got := r.peek16(rigStack - 10); got != tt.savedSP {
				t.Errorf("stored SP = 0x%04X, want 0x%04X", got, tt.savedSP)
			}
		})
	}
}

func TestX86_INT_IRET(t *testing.T) {
	r := newRig(t, Arch386)
	r.setIVT(0x21, 0, 0x3000)
	r.poke(0x3000,
		0x9C,             // PUSHF
		0x5B,             // POP BX
		0xB8, 0xAD, 0xDE, // MOV AX, 0xDEAD
		0xCF, // IRET
	)
	r.exec(
		0xFB,       // STI
		0xCD, 0x21, // INT 21h
	)
	if r.cpu.AX() != 0xDEAD {
		t.Errorf("handler did not run, AX=0x%04X", r.cpu.AX())
	}
	if r.cpu.EBX&x86FlagIF != 0 {
		t.Error("IF should be clear inside the handler")
	}
	if !r.flag(x86FlagIF) {
		t.Error("IRET should restore IF")
	}
	if r.cpu.ESP != rigStack || r.cpu.EIP != 0x1004 {
		t.Errorf("after IRET: SP=0x%X EIP=0x%X", r.cpu.ESP, r.cpu.EIP)
	}
}

func TestX86_ExternalInterruptWakesHLT(t *testing.T) {
	r := newRig(t, Arch386)
	irq := &IRQLine{}
	r.cpu.SetInterruptController(irq)
	r.setIVT(0x40, 0, 0x3000)
	r.poke(0x3000, 0xB8, 0x11, 0x11, 0xF4) // MOV AX, 0x1111; HLT

	r.exec(0xFB) // STI; HLT
	if r.cpu.Run(10) != 0 {
		t.Fatal("a halted CPU with no pending IRQ should not run")
	}

	irq.SetIRQ(true, 0x40)
	r.cpu.Run(10)
	if r.cpu.AX() != 0x1111 || !r.cpu.Halted {
		t.Fatalf("IRQ handler did not run: AX=0x%04X halted=%v", r.cpu.AX(), r.cpu.Halted)
	}
	if irq.Pending() {
		t.Error("the IRQ should be acknowledged")
	}
	if got := r.frameIP(); got != 0x1002 {
		t.Errorf("pushed IP = 0x%04X, want 0x1002 after the HLT", got)
	}
}

// =============================================================================
// Strings
// =============================================================================

func TestX86_REP_MOVSB(t *testing.T) {
	r := newRig(t, Arch386)
	r.poke(0x5000, []byte("hello")...)
	r.exec(
		0xBE, 0x00, 0x50, // MOV SI, 0x5000
		0xBF, 0x00, 0x60, // MOV DI, 0x6000
		0xB9, 0x05, 0x00, // MOV CX, 5
		0xFC,       // CLD
		0xF3, 0xA4, // REP MOVSB
	)
	got := make([]byte, 5)
	for i := range got {
		got[i] = r.peek(0x6000 + uint32(i))
	}
	if string(got) != "hello" {
		t.Errorf("copied %q", got)
	}
	if r.cpu.CX() != 0 || r.cpu.SI() != 0x5005 || r.cpu.DI() != 0x6005 {
		t.Errorf("CX=%d SI=0x%04X DI=0x%04X", r.cpu.CX(), r.cpu.SI(), r.cpu.DI())
	}
}

func TestX86_STOSB_Backwards(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xBF, 0x10, 0x60, // MOV DI, 0x6010
		0xB0, 0x77, // MOV AL, 0x77
		0xFD,       // STD
		0xAA,       // STOSB
		0xAA,       // STOSB
	)
	if r.peek(0x6010) != 0x77 || r.peek(0x600F) != 0x77 {
		t.Error("STOSB did not store")
	}
	if r.cpu.DI() != 0x600E {
		t.Errorf("DI = 0x%04X, want 0x600E", r.cpu.DI())
	}
}

// =============================================================================
// Ports and the A20 gate
// =============================================================================

func TestX86_A20Gate(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(
		0xB8, 0xFF, 0xFF, // MOV AX, 0xFFFF
		0x8E, 0xC0, // MOV ES, AX
		0xB0, 0x00, // MOV AL, 0
		0xE6, 0x92, // OUT 92h, AL (A20 off)
		0x26, 0xC6, 0x06, 0x10, 0x50, 0x5A, // MOV BYTE ES:[0x5010], 0x5A
		0xB0, 0x02, // MOV AL, 2
		0xE6, 0x92, // OUT 92h, AL (A20 on)
		0x26, 0xC6, 0x06, 0x10, 0x50, 0xA5, // MOV BYTE ES:[0x5010], 0xA5
		0xE4, 0x92, // IN AL, 92h
	)
	if r.peek(0x5000) != 0x5A {
		t.Errorf("with A20 off FFFF:5010 should wrap to 0x5000, got 0x%02X", r.peek(0x5000))
	}
	if r.peek(0x105000) != 0xA5 {
		t.Errorf("with A20 on FFFF:5010 should reach 0x105000, got 0x%02X", r.peek(0x105000))
	}
	if r.cpu.AL()&0x02 == 0 {
		t.Error("port 92h should read the gate back")
	}
}

// =============================================================================
// Generation gating
// =============================================================================

func TestX86_CPUID(t *testing.T) {
	r := newRig(t, Arch386)
	r.exec(0x0F, 0xA2)
	if !r.inHandler() || r.frameIP() != 0x1000 {
		t.Fatalf("CPUID on a 386 should raise #UD at 0x1000")
	}

	r = newRig(t, ArchPentiumIII)
	r.exec(
		0x66, 0x31, 0xC0, // XOR EAX, EAX
		0x0F, 0xA2, // CPUID
	)
	if r.cpu.EAX != 2 || r.cpu.EBX != 0x756E6547 || r.cpu.EDX != 0x49656E69 || r.cpu.ECX != 0x6C65746E {
		t.Errorf("leaf 0: EAX=%X EBX=%X EDX=%X ECX=%X", r.cpu.EAX, r.cpu.EBX, r.cpu.EDX, r.cpu.ECX)
	}

	r = newRig(t, ArchPentiumIII)
	r.cpu.EAX = 1
	r.exec(0x0F, 0xA2)
	if r.cpu.EAX != 0x0673 || r.cpu.EDX&cpuidSSE == 0 {
		t.Errorf("leaf 1: EAX=%X EDX=%X", r.cpu.EAX, r.cpu.EDX)
	}
}

func TestX86_CMOV_Gating(t *testing.T) {
	code := []byte{
		0x31, 0xC0, // XOR AX, AX
		0xBB, 0x34, 0x12, // MOV BX, 0x1234
		0x0F, 0x44, 0xC3, // CMOVZ AX, BX at 0x1005
	}

	r := newRig(t, ArchPentiumMMX)
	r.exec(code...)
	if !r.inHandler() || r.frameIP() != 0x1005 {
		t.Errorf("CMOV below the Pentium II should raise #UD")
	}

	r = newRig(t, ArchPentiumII)
	r.exec(code...)
	if r.cpu.AX() != 0x1234 {
		t.Errorf("CMOVZ: AX=0x%04X", r.cpu.AX())
	}
}

func TestX86_OperandSizePrefixGating(t *testing.T) {
	r := newRig(t, Arch286)
	r.exec(0x66, 0xB8, 0x78, 0x56, 0x34, 0x12)
	if !r.inHandler() {
		t.Error("0x66 on a 286 should raise #UD")
	}

	r = newRig(t, Arch386)
	r.exec(0x66, 0xB8, 0x78, 0x56, 0x34, 0x12) // MOV EAX, imm32
	if r.cpu.EAX != 0x12345678 {
		t.Errorf("EAX = 0x%08X", r.cpu.EAX)
	}
}

func TestX86_8086_PopCS(t *testing.T) {
	r := newRig(t, Arch8086)
	r.poke(0x2005, 0xF4) // 0100:1005
	r.exec(
		0xB8, 0x00, 0x01, // MOV AX, 0x100
		0x50, // PUSH AX
		0x0F, // POP CS
	)
	if r.cpu.Seg[x86SegCS].Selector != 0x100 || r.cpu.Seg[x86SegCS].Base != 0x1000 {
		t.Fatalf("CS = %04X base %X", r.cpu.Seg[x86SegCS].Selector, r.cpu.Seg[x86SegCS].Base)
	}
	if r.cpu.EIP != 0x1006 {
		t.Errorf("EIP = 0x%X, want 0x1006", r.cpu.EIP)
	}
}

// =============================================================================
// Protected mode delivery
// =============================================================================

func TestX86_Flat32_DivideFault(t *testing.T) {
	r := newFlatRig(t, ArchPentium)
	r.exec(
		0x31, 0xC9, // XOR ECX, ECX
		0xF7, 0xF1, // DIV ECX at 0x1002
	)
	if !r.inHandler() {
		t.Fatalf("#DE gate not taken, EIP=0x%X", r.cpu.EIP)
	}
	if got := r.peek32(r.cpu.ESP); got != 0x1002 {
		t.Errorf("pushed EIP = 0x%X, want 0x1002", got)
	}
	if got := r.peek32(r.cpu.ESP + 4); got != flatCodeSel {
		t.Errorf("pushed CS = 0x%X", got)
	}
	if r.cpu.ESP != rigStack-12 {
		t.Errorf("ESP = 0x%X, want a three dword frame", r.cpu.ESP)
	}
}

func TestX86_TripleFaultShutsDown(t *testing.T) {
	r := newFlatRig(t, ArchPentium)
	r.cpu.IDTR.Limit = 0
	r.exec(
		0x31, 0xC9, // XOR ECX, ECX
		0xF7, 0xF1, // DIV ECX
	)
	if !r.cpu.Shutdown {
		t.Fatal("an unreachable IDT should end in shutdown")
	}
	if r.cpu.Run(10) != 0 {
		t.Error("a shut down CPU must not execute")
	}
}
