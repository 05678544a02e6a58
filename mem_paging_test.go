// mem_paging_test.go - page walks, TLB fill and page fault delivery
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

const (
	testPageDir   = 0x10000
	testPageTable = 0x11000

	pteP  = 1 << 0
	pteRW = 1 << 1
	pteUS = 1 << 2
	pteA  = 1 << 5
	pteD  = 1 << 6
	pdePS = 1 << 7
)

// newPagedRig identity maps the first 4MB as supervisor read/write pages
// and turns paging on.
func newPagedRig(t *testing.T, arch ArchLevel) *x86Rig {
	t.Helper()
	r := newFlatRig(t, arch)
	r.poke32(testPageDir, testPageTable|pteP|pteRW|pteUS)
	for i := uint32(0); i < 1024; i++ {
		r.poke32(testPageTable+i*4, i<<12|pteP|pteRW)
	}
	r.cpu.writeCR3(testPageDir)
	r.cpu.writeCR0(r.cpu.CR0 | cr0PG)
	return r
}

func pteAddr(lin uint32) uint32 { return testPageTable + (lin>>12)*4 }

func TestPaging_AccessedDirty(t *testing.T) {
	r := newPagedRig(t, Arch486New)
	r.exec(0xC7, 0x05, 0x00, 0x70, 0x00, 0x00, 0x78, 0x56, 0x34, 0x12) // MOV DWORD [0x7000], 0x12345678

	if got := r.peek32(0x7000); got != 0x12345678 {
		t.Fatalf("[0x7000] = 0x%08X", got)
	}
	if pte := r.peek32(pteAddr(0x7000)); pte&(pteA|pteD) != pteA|pteD {
		t.Errorf("data PTE = 0x%X, want Accessed and Dirty", pte)
	}
	if pte := r.peek32(pteAddr(rigCode)); pte&pteA == 0 || pte&pteD != 0 {
		t.Errorf("code PTE = 0x%X, want Accessed only", pte)
	}
	if pde := r.peek32(testPageDir); pde&pteA == 0 {
		t.Errorf("PDE = 0x%X, want Accessed", pde)
	}

	phys, handler, hostRead, hostWrite, filled := r.cpu.MMU().TLBEntry(0x7000)
	if !filled || handler != "ram" || !hostRead || !hostWrite {
		t.Errorf("TLB slot: phys=0x%X handler=%s read=%v write=%v filled=%v",
			phys, handler, hostRead, hostWrite, filled)
	}
}

func TestPaging_TranslateHasNoSideEffects(t *testing.T) {
	r := newPagedRig(t, Arch486New)
	mmu := r.cpu.MMU()

	phys, _, ok := mmu.Translate(0x8123, true, 0)
	if !ok || phys != 0x8123 {
		t.Fatalf("Translate = 0x%X ok=%v", phys, ok)
	}
	if pte := r.peek32(pteAddr(0x8000)); pte&(pteA|pteD) != 0 {
		t.Errorf("Translate touched the PTE: 0x%X", pte)
	}
	if _, _, _, _, filled := mmu.TLBEntry(0x8000); filled {
		t.Error("Translate filled the TLB")
	}
}

func TestPaging_PageFaultUnwind(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		err  uint32
	}{
		{"read", []byte{0xA1, 0x04, 0x70, 0x00, 0x00}, 0},        // MOV EAX, [0x7004]
		{"write", []byte{0xA3, 0x04, 0x70, 0x00, 0x00}, pfWrite}, // MOV [0x7004], EAX
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newPagedRig(t, ArchPentium)
			r.poke32(pteAddr(0x7000), 0x7000) // not present
			r.cpu.EAX = 0x55AA55AA
			r.exec(tt.code...)

			if !r.inHandler() {
				t.Fatalf("#PF handler not reached, EIP=0x%X", r.cpu.EIP)
			}
			if r.cpu.CR2() != 0x7004 {
				t.Errorf("CR2 = 0x%X, want 0x7004", r.cpu.CR2())
			}
			frame := []uint32{r.peek32(r.cpu.ESP), r.peek32(r.cpu.ESP + 4), r.peek32(r.cpu.ESP + 8)}
			want := []uint32{tt.err, rigCode, flatCodeSel}
			if d := cmp.Diff(want, frame); d != "" {
				t.Errorf("frame (error code, EIP, CS) (-want +got):\n%s", d)
			}
			if r.cpu.EAX != 0x55AA55AA {
				t.Errorf("EAX = 0x%X, a faulting load must not write it", r.cpu.EAX)
			}
		})
	}
}

func TestPaging_PUSHARollsBackESP(t *testing.T) {
	r := newPagedRig(t, ArchPentium)
	r.poke32(pteAddr(0x6000), 0x6000) // the page below the stack is missing
	r.cpu.ESP = 0x7010
	r.exec(0x60) // PUSHAD faults on its fifth store

	if r.cpu.CR2() != 0x6FFC {
		t.Errorf("CR2 = 0x%X, want 0x6FFC", r.cpu.CR2())
	}
	// The frame sits on the original ESP, not the partly pushed one.
	if r.cpu.ESP != 0x7010-16 {
		t.Errorf("ESP = 0x%X, want 0x%X", r.cpu.ESP, 0x7010-16)
	}
	if got := r.peek32(r.cpu.ESP); got != pfWrite {
		t.Errorf("error code = %d, want a supervisor write", got)
	}
	if got := r.peek32(r.cpu.ESP + 4); got != rigCode {
		t.Errorf("pushed EIP = 0x%X", got)
	}
}

func TestPaging_LargePages(t *testing.T) {
	r := newPagedRig(t, ArchPentium)
	r.cpu.writeCR4(cr4PSE)
	r.poke32(testPageDir+4, pteP|pteRW|pdePS) // 0x400000-0x7FFFFF -> 0
	r.poke32(0x5000, 0xFEEDF00D)
	r.exec(0xA1, 0x00, 0x50, 0x40, 0x00) // MOV EAX, [0x405000]

	if r.cpu.EAX != 0xFEEDF00D {
		t.Errorf("EAX = 0x%X via the 4MB page", r.cpu.EAX)
	}
	if pde := r.peek32(testPageDir + 4); pde&pteA == 0 {
		t.Errorf("large PDE = 0x%X, want Accessed", pde)
	}
	if phys, _, ok := r.cpu.MMU().Translate(0x7FFFFF, false, 0); !ok || phys != 0x3FFFFF {
		t.Errorf("Translate(0x7FFFFF) = 0x%X ok=%v", phys, ok)
	}
}

func TestPaging_WriteProtect(t *testing.T) {
	tests := []struct {
		arch ArchLevel
		ok   bool
	}{
		{Arch386, true},
		{Arch486Old, false},
		{ArchPentiumIII, false},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			r := newPagedRig(t, tt.arch)
			r.poke32(pteAddr(0x7000), 0x7000|pteP) // read only
			r.cpu.writeCR0(r.cpu.CR0 | cr0WP)

			_, code, ok := r.cpu.MMU().Translate(0x7000, true, 0)
			if ok != tt.ok {
				t.Fatalf("supervisor write with WP: ok=%v, want %v", ok, tt.ok)
			}
			if !ok && code != pfPresent|pfWrite {
				t.Errorf("error code = %d, want %d", code, pfPresent|pfWrite)
			}
		})
	}
}

func TestPaging_UserSupervisorCombine(t *testing.T) {
	tests := []struct {
		arch ArchLevel
		ok   bool
	}{
		{Arch386, true},
		{Arch486New, false},
	}
	for _, tt := range tests {
		t.Run(tt.arch.String(), func(t *testing.T) {
			r := newPagedRig(t, tt.arch)
			r.poke32(testPageDir, testPageTable|pteP|pteRW)     // supervisor directory
			r.poke32(pteAddr(0x7000), 0x7000|pteP|pteRW|pteUS) // user page

			_, code, ok := r.cpu.MMU().Translate(0x7000, false, 3)
			if ok != tt.ok {
				t.Fatalf("user read: ok=%v, want %v", ok, tt.ok)
			}
			if !ok && code != pfPresent|pfUser {
				t.Errorf("error code = %d, want %d", code, pfPresent|pfUser)
			}
		})
	}
}

// demandPagingRig marks 0x7000 not present and installs a #PF handler that
// maps it and returns to the faulting instruction.
func demandPagingRig(t *testing.T, mode PageFaultMode) *x86Rig {
	t.Helper()
	r := newPagedRig(t, ArchPentiumIII)
	r.cpu.SetPageFaultMode(mode, 0)
	r.poke32(pteAddr(0x7000), 0x7000)
	r.poke32(0x7004, 0xCAFEBABE)
	r.setGate(excPF, flatCodeSel, 0x2100, gateInt32, 0)
	r.poke(0x2100,
		0x83, 0xC4, 0x04, // ADD ESP, 4
		0xC7, 0x05, 0x1C, 0x10, 0x01, 0x00, 0x03, 0x70, 0x00, 0x00, // MOV DWORD [pte 7], 0x7003
		0xCF, // IRETD
	)
	return r
}

func TestPaging_NestedMatchesUnwind(t *testing.T) {
	type outcome struct {
		EAX, ESP, EIP uint32
		PTE           uint32
	}
	result := func(mode PageFaultMode) outcome {
		r := demandPagingRig(t, mode)
		r.exec(0xA1, 0x04, 0x70, 0x00, 0x00) // MOV EAX, [0x7004]
		return outcome{r.cpu.EAX, r.cpu.ESP, r.cpu.EIP, r.peek32(pteAddr(0x7000)) &^ (pteA | pteD)}
	}

	unwound := result(PageFaultUnwind)
	nested := result(PageFaultNested)
	want := outcome{EAX: 0xCAFEBABE, ESP: rigStack, EIP: rigCode + 6, PTE: 0x7003}
	if d := cmp.Diff(want, unwound); d != "" {
		t.Errorf("unwind mode (-want +got):\n%s", d)
	}
	if d := cmp.Diff(unwound, nested); d != "" {
		t.Errorf("nested mode differs from unwind (-unwind +nested):\n%s", d)
	}
}

// The #PF frame pushed for a store that faults after its flags were computed
// holds the EFLAGS of the instruction start in both modes.
func TestPaging_FaultFramePushesStartFlags(t *testing.T) {
	frame := func(mode PageFaultMode) (pushed, final, value uint32) {
		r := newPagedRig(t, ArchPentiumIII)
		r.cpu.SetPageFaultMode(mode, 0)
		r.cpu.writeCR0(r.cpu.CR0 | cr0WP)
		r.poke32(pteAddr(0x7000), 0x7000|pteP)
		r.poke32(0x7004, 5)
		r.setGate(excPF, flatCodeSel, 0x2300, gateInt32, 0)
		r.poke(0x2300,
			0x8B, 0x44, 0x24, 0x0C, // MOV EAX, [ESP+12]
			0xA3, 0x00, 0x60, 0x00, 0x00, // MOV [0x6000], EAX
			0x83, 0xC4, 0x04, // ADD ESP, 4
			0xC7, 0x05, 0x1C, 0x10, 0x01, 0x00, 0x03, 0x70, 0x00, 0x00, // MOV DWORD [pte 7], 0x7003
			0xCF, // IRETD
		)
		r.exec(
			0x31, 0xC0, // XOR EAX, EAX
			0x83, 0x05, 0x04, 0x70, 0x00, 0x00, 0x01, // ADD DWORD [0x7004], 1
		)
		return r.peek32(0x6000), r.cpu.flagsWord(), r.peek32(0x7004)
	}

	for _, mode := range []PageFaultMode{PageFaultUnwind, PageFaultNested} {
		pushed, final, value := frame(mode)
		if pushed&x86FlagZF == 0 || pushed&x86FlagPF == 0 {
			t.Errorf("mode %d: pushed EFLAGS 0x%X, want the ZF and PF left by XOR", mode, pushed)
		}
		if value != 6 || final&x86FlagZF != 0 {
			t.Errorf("mode %d: [0x7004]=%d EFLAGS 0x%X after the retried ADD", mode, value, final)
		}
	}
}

func TestPaging_NestedRunawayShutsDown(t *testing.T) {
	r := newPagedRig(t, ArchPentiumIII)
	r.cpu.SetPageFaultMode(PageFaultNested, 500)
	r.poke32(pteAddr(0x7000), 0x7000)
	r.setGate(excPF, flatCodeSel, 0x2200, gateInt32, 0)
	r.poke(0x2200, 0xEB, 0xFE) // JMP $

	r.exec(0xA1, 0x00, 0x70, 0x00, 0x00)
	if !r.cpu.Shutdown {
		t.Fatal("a handler that never returns should shut the CPU down")
	}
}

func TestPaging_TLBRoundTrip(t *testing.T) {
	r := newPagedRig(t, Arch486New)
	mmu := r.cpu.MMU()

	mmu.WriteD(0x5000, 0x11223344)
	if got := mmu.ReadD(0x5000); got != 0x11223344 {
		t.Fatalf("read after write = 0x%08X", got)
	}
	mmu.InvalidateAll()
	if _, _, _, _, filled := mmu.TLBEntry(0x5000); filled {
		t.Fatal("InvalidateAll left the slot filled")
	}
	if got := mmu.ReadD(0x5000); got != 0x11223344 {
		t.Errorf("read after refill = 0x%08X", got)
	}

	// A dword across a page boundary, then the second page moved.
	mmu.WriteD(0x8FFE, 0xAABBCCDD)
	if r.peek16(0x8FFE) != 0xCCDD || r.peek16(0x9000) != 0xAABB {
		t.Fatalf("split write landed as %04X/%04X", r.peek16(0x8FFE), r.peek16(0x9000))
	}
	r.poke32(pteAddr(0x9000), 0xA000|pteP|pteRW)
	r.poke16(0xA000, 0x5566)
	mmu.InvalidatePage(0x9000)
	if got := mmu.ReadD(0x8FFE); got != 0x5566CCDD {
		t.Errorf("split read after remap = 0x%08X, want 0x5566CCDD", got)
	}
}

func TestPaging_UserWriteToSupervisorReadOnlyDirectory(t *testing.T) {
	for _, arch := range []ArchLevel{Arch386, Arch486New} {
		t.Run(arch.String(), func(t *testing.T) {
			r := newPagedRig(t, arch)
			r.poke32(testPageDir, testPageTable|pteP) // read only, supervisor
			r.poke32(pteAddr(0), pteP)
			r.cpu.MMU().InvalidateAll()

			_, code, ok := r.cpu.MMU().Translate(0, true, 3)
			if ok {
				t.Fatal("a CPL 3 write was allowed")
			}
			if code != pfPresent|pfWrite|pfUser {
				t.Errorf("error code = %d, want %d", code, pfPresent|pfWrite|pfUser)
			}
		})
	}
}

func TestPaging_LargeMemory40BitPages(t *testing.T) {
	for _, large := range []bool{false, true} {
		mem := NewMemorySystem(4096, large)
		mmu := NewMMU(mem, ArchPentiumIII)
		mem.WritePhysD(testPageDir+4, pteP|pteRW|pdePS|0x10<<13) // 4MB page at 1<<36
		mem.WritePhysD(0x120, 0xCAFEBABE)
		mmu.SetCR3(testPageDir)
		mmu.SetPSE(true)
		mmu.SetEnabled(true)

		phys, _, ok := mmu.Translate(0x400123, false, 0)
		want := uint64(0x123)
		if large {
			want = 1<<36 | 0x123
		}
		if !ok || phys != want {
			t.Errorf("large=%v: Translate = 0x%X ok=%v, want 0x%X", large, phys, ok, want)
		}
		if !large {
			continue
		}
		if got := mmu.ReadD(0x400120); got != 0xFFFFFFFF {
			t.Errorf("read above 4GB = 0x%08X, want open bus", got)
		}
		mmu.WriteD(0x400120, 0)
		if got := mem.ReadPhysD(0x120); got != 0xCAFEBABE {
			t.Errorf("write above 4GB reached low RAM: 0x%08X", got)
		}
		if _, name, _, _, _ := mmu.TLBEntry(0x400120); name != "unmapped" {
			t.Errorf("TLB handler = %s", name)
		}
	}
}

func TestPaging_LinkListStaysBounded(t *testing.T) {
	r := newPagedRig(t, Arch486New)
	mmu := r.cpu.MMU()

	mmu.InvalidateAll()
	for range 10000 {
		mmu.InvalidatePage(0x5000)
		mmu.ReadB(0x5000)
	}
	if n := len(mmu.tlb.links); n != 1 {
		t.Errorf("links after refilling one page = %d, want 1", n)
	}

	mem := NewMemorySystem(4096, false)
	flat := NewMMU(mem, ArchPentium)
	for p := uint32(0); p < tlbMaxLinks+10; p++ {
		flat.ReadB(p << pageShift)
	}
	if n := len(flat.tlb.links); n > tlbMaxLinks {
		t.Errorf("links = %d, cap is %d", n, tlbMaxLinks)
	}
	if _, _, _, _, filled := flat.TLBEntry(0); filled {
		t.Error("overflow did not flush the early slots")
	}
	if _, _, _, _, filled := flat.TLBEntry((tlbMaxLinks + 9) << pageShift); !filled {
		t.Error("the newest slot was dropped")
	}
}

func TestPaging_INSChecksWriteBeforePortRead(t *testing.T) {
	code := []byte{
		0x66, 0xBA, 0x00, 0x03, // MOV DX, 0x300
		0xBF, 0x00, 0x70, 0x00, 0x00, // MOV EDI, 0x7000
		0x6C, // INSB
	}
	for _, readOnly := range []bool{false, true} {
		r := newPagedRig(t, Arch486New)
		reads := 0
		r.ports.Register(0x300, 1, PortDevice{In: func(uint16) uint8 { reads++; return 0x5A }})
		if readOnly {
			r.cpu.writeCR0(r.cpu.CR0 | cr0WP)
			r.poke32(pteAddr(0x7000), 0x7000|pteP)
			r.cpu.MMU().InvalidateAll()
		}
		r.exec(code...)

		switch {
		case readOnly && (!r.inHandler() || reads != 0):
			t.Errorf("read-only page: handler=%v port reads=%d, want #PF before the port", r.inHandler(), reads)
		case readOnly && r.cpu.CR2() != 0x7000:
			t.Errorf("CR2 = 0x%X", r.cpu.CR2())
		case !readOnly && (r.inHandler() || reads != 1 || r.peek(0x7000) != 0x5A):
			t.Errorf("writable page: handler=%v reads=%d [0x7000]=0x%02X", r.inHandler(), reads, r.peek(0x7000))
		}
	}
}
