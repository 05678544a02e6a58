package main

import (
	"testing"
)

func TestX87_CPU_AddAndStore(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.exec(
		0xD9, 0xE8, // FLD1
		0xD9, 0xE8, // FLD1
		0xDE, 0xC1, // FADDP ST1, ST0
		0xDF, 0x1E, 0x00, 0x50, // FISTP WORD [0x5000]
		0xDF, 0xE0, // FNSTSW AX
	)
	if got := r.peek16(0x5000); got != 2 {
		t.Errorf("FISTP stored %d, want 2", got)
	}
	if top := (r.cpu.AX() >> 11) & 7; top != 0 {
		t.Errorf("TOP = %d after balanced pushes and pops", top)
	}
	if r.cpu.FPU.FTW != 0xFFFF {
		t.Errorf("FTW = 0x%04X, want all empty", r.cpu.FPU.FTW)
	}
	if r.cpu.FPU.FIP != 0x1006 {
		t.Errorf("FIP = 0x%X, want the FISTP at 0x1006", r.cpu.FPU.FIP)
	}
}

func TestX87_CPU_CompareSetsConditionCodes(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.exec(
		0xD9, 0xE8, // FLD1
		0xD9, 0xEE, // FLDZ
		0xDE, 0xD9, // FCOMPP: 0 < 1
		0xDF, 0xE0, // FNSTSW AX
	)
	sw := r.cpu.AX()
	if sw&x87FSW_C0 == 0 || sw&x87FSW_C3 != 0 {
		t.Errorf("FSW = 0x%04X, want C0 set and C3 clear", sw)
	}
}

func TestX87_CPU_EmulationTraps(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.cpu.CR0 |= cr0EM
	r.exec(0xD9, 0xE8) // FLD1
	if !r.inHandler() || r.frameIP() != rigCode {
		t.Fatalf("FLD1 with CR0.EM should raise #NM at 0x%X", rigCode)
	}
	if r.cpu.FPU.FTW != 0xFFFF {
		t.Error("the trapped FLD1 must not touch the stack")
	}
}

func TestX87_CPU_MMXAliasesTheStack(t *testing.T) {
	r := newRig(t, ArchPentiumMMX)
	r.exec(
		0x66, 0xB8, 0x78, 0x56, 0x34, 0x12, // MOV EAX, 0x12345678
		0xD9, 0xE8, // FLD1 (TOP = 7)
		0x0F, 0x6E, 0xC0, // MOVD MM0, EAX
		0x0F, 0x7E, 0xC3, // MOVD EBX, MM0
	)
	if r.cpu.EBX != 0x12345678 {
		t.Errorf("EBX = 0x%X", r.cpu.EBX)
	}
	f := r.cpu.FPU
	if f.top() != 0 || f.FTW != 0 {
		t.Errorf("after MMX: TOP=%d FTW=0x%04X, want 0 and 0", f.top(), f.FTW)
	}
	if f.readMMX(0) != 0x12345678 {
		t.Errorf("MM0 = 0x%X", f.readMMX(0))
	}

	r.cpu.Halted = false
	r.exec(0x0F, 0x77) // EMMS
	if f.FTW != 0xFFFF {
		t.Errorf("after EMMS: FTW=0x%04X", f.FTW)
	}
}
