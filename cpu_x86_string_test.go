// cpu_x86_string_test.go - REP string instructions across page faults
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

// repFault is what the #PF handler saw when a REP MOVSB ran into a missing
// page, plus the state after the copy finished.
type repFault struct {
	ECX, EDI, ESI, FrameEIP uint32
	DoneECX, DoneEDI        uint32
}

func runFaultingREPMOVSB(t *testing.T, mode PageFaultMode) (repFault, *x86Rig) {
	t.Helper()
	r := newPagedRig(t, ArchPentiumIII)
	r.cpu.SetPageFaultMode(mode, 0)
	r.poke32(pteAddr(0x7000), 0x7000)
	for i := uint32(0); i < 0x200; i++ {
		r.poke(0x5000+i, byte(i)^0x5A)
	}
	r.setGate(excPF, flatCodeSel, 0x2400, gateInt32, 0)
	r.poke(0x2400,
		0x89, 0x0D, 0x00, 0x60, 0x00, 0x00, // MOV [0x6000], ECX
		0x89, 0x3D, 0x04, 0x60, 0x00, 0x00, // MOV [0x6004], EDI
		0x89, 0x35, 0x08, 0x60, 0x00, 0x00, // MOV [0x6008], ESI
		0x8B, 0x44, 0x24, 0x04, // MOV EAX, [ESP+4]
		0xA3, 0x0C, 0x60, 0x00, 0x00, // MOV [0x600C], EAX
		0x83, 0xC4, 0x04, // ADD ESP, 4
		0xC7, 0x05, 0x1C, 0x10, 0x01, 0x00, 0x03, 0x70, 0x00, 0x00, // MOV DWORD [pte 7], 0x7003
		0xCF, // IRETD
	)
	r.exec(
		0xBE, 0x00, 0x50, 0x00, 0x00, // MOV ESI, 0x5000
		0xBF, 0x00, 0x6F, 0x00, 0x00, // MOV EDI, 0x6F00
		0xB9, 0x00, 0x02, 0x00, 0x00, // MOV ECX, 0x200
		0xFC, // CLD
		0xF3, 0xA4, // REP MOVSB at 0x1010
	)
	return repFault{
		ECX: r.peek32(0x6000), EDI: r.peek32(0x6004), ESI: r.peek32(0x6008), FrameEIP: r.peek32(0x600C),
		DoneECX: r.cpu.ECX, DoneEDI: r.cpu.EDI,
	}, r
}

func TestString_REPMOVSResumesAfterFault(t *testing.T) {
	want := repFault{
		ECX: 0x100, EDI: 0x7000, ESI: 0x5100, FrameEIP: rigCode + 16,
		DoneECX: 0, DoneEDI: 0x7100,
	}
	for _, mode := range []PageFaultMode{PageFaultUnwind, PageFaultNested} {
		got, r := runFaultingREPMOVSB(t, mode)
		if d := cmp.Diff(want, got); d != "" {
			t.Errorf("mode %d (-want +got):\n%s", mode, d)
		}
		for i := uint32(0); i < 0x200; i++ {
			if b := r.peek(0x6F00 + i); b != byte(i)^0x5A {
				t.Errorf("mode %d: [0x%X] = 0x%02X, want 0x%02X", mode, 0x6F00+i, b, byte(i)^0x5A)
				break
			}
		}
	}
}

// A REP longer than one chunk yields back to the dispatcher with EIP still
// on the instruction and the count partly consumed.
func TestString_REPSTOSChunks(t *testing.T) {
	r := newFlatRig(t, ArchPentium)
	r.load(
		0xBF, 0x00, 0x00, 0x10, 0x00, // MOV EDI, 0x100000
		0xB9, 0x00, 0x30, 0x00, 0x00, // MOV ECX, 0x3000
		0xB0, 0xCC, // MOV AL, 0xCC
		0xF3, 0xAA, // REP STOSB at 0x100C
	)
	for range 3 {
		r.cpu.Step()
	}
	r.cpu.Step() // first chunk
	if r.cpu.EIP != rigCode+12 || r.cpu.ECX != 0x3000-repChunk {
		t.Fatalf("after one chunk: EIP=0x%X ECX=0x%X", r.cpu.EIP, r.cpu.ECX)
	}
	r.run()
	if r.cpu.ECX != 0 || r.cpu.EDI != 0x103000 || r.peek(0x102FFF) != 0xCC {
		t.Errorf("ECX=0x%X EDI=0x%X last=0x%02X", r.cpu.ECX, r.cpu.EDI, r.peek(0x102FFF))
	}
}
