// cpu_x86_helpers_test.go - shared rig for CPU driven tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"testing"
)

const (
	rigCode     = 0x1000 // real mode code at 0000:1000
	rigStack    = 0x9000
	rigHandler  = 0x2000 // default interrupt handler: HLT
	rigGDT      = 0x0800
	rigMaxSteps = 100000
)

// scratchBus is a flat byte array for the x87 memory helpers.
type scratchBus []byte

func newScratchBus() scratchBus { return make(scratchBus, 64*1024) }

func (b scratchBus) Read(addr uint32) byte {
	if addr < uint32(len(b)) {
		return b[addr]
	}
	return 0
}

func (b scratchBus) Write(addr uint32, value byte) {
	if addr < uint32(len(b)) {
		b[addr] = value
	}
}

// x86Rig is a CPU with 4MB of RAM, a port bus with the A20 latch, and
// every segment at zero.
type x86Rig struct {
	t     *testing.T
	mem   *MemorySystem
	ports *PortBus
	cpu   *CPU_X86
}

func newRig(t *testing.T, arch ArchLevel) *x86Rig {
	t.Helper()
	mem := NewMemorySystem(4096, false)
	ports := NewPortBus()
	ports.AttachA20(mem)
	cpu := NewCPU_X86(mem, ports, arch)
	for i := range cpu.Seg {
		cpu.Seg[i] = realModeSegment(0, i == x86SegCS)
	}
	cpu.EIP = rigCode
	cpu.ESP = rigStack
	r := &x86Rig{t: t, mem: mem, ports: ports, cpu: cpu}
	r.poke(rigHandler, 0xF4)
	for v := range 32 {
		r.setIVT(uint8(v), 0, rigHandler)
	}
	return r
}

// newFlatRig is a rig in 32-bit flat protected mode with an IDT whose
// gates all lead to a HLT at rigHandler.
func newFlatRig(t *testing.T, arch ArchLevel) *x86Rig {
	t.Helper()
	r := newRig(t, arch)
	r.cpu.EnterFlat32(rigGDT)
	r.cpu.IDTR = DescriptorTable{Base: 0x3000, Limit: 32*8 - 1}
	for v := range 32 {
		r.setGate(uint8(v), flatCodeSel, rigHandler, gateInt32, 0)
	}
	return r
}

func (r *x86Rig) poke(addr uint32, data ...byte) {
	r.t.Helper()
	if err := r.mem.LoadAt(addr, data); err != nil {
		r.t.Fatalf("poke 0x%X: %v", addr, err)
	}
}

func (r *x86Rig) poke16(addr uint32, v uint16) { r.poke(addr, byte(v), byte(v>>8)) }
func (r *x86Rig) poke32(addr uint32, v uint32) { r.mem.WritePhysD(addr, v) }

func (r *x86Rig) peek(addr uint32) byte { return r.mem.ReadPhysB(addr) }
func (r *x86Rig) peek16(addr uint32) uint16 {
	return uint16(r.peek(addr)) | uint16(r.peek(addr+1))<<8
}
func (r *x86Rig) peek32(addr uint32) uint32 { return r.mem.ReadPhysD(addr) }

// setIVT points real mode vector v at seg:off.
func (r *x86Rig) setIVT(v uint8, seg, off uint16) {
	r.poke16(uint32(v)*4, off)
	r.poke16(uint32(v)*4+2, seg)
}

// setGate writes an IDT gate of the given type and DPL.
func (r *x86Rig) setGate(v uint8, sel uint16, off uint32, typ, dpl uint8) {
	a := r.cpu.IDTR.Base + uint32(v)*8
	r.poke16(a, uint16(off))
	r.poke16(a+2, sel)
	r.poke(a+4, 0, 0x80|dpl<<5|typ)
	r.poke16(a+6, uint16(off>>16))
}

// load places code at the current CS:EIP followed by a HLT.
func (r *x86Rig) load(code ...byte) {
	r.t.Helper()
	at := r.cpu.Seg[x86SegCS].Base + r.cpu.EIP
	r.poke(at, append(code, 0xF4)...)
}

// run executes until the CPU halts.
func (r *x86Rig) run() {
	r.t.Helper()
	for steps := 0; !r.cpu.Halted; steps++ {
		if steps > rigMaxSteps {
			r.t.Fatalf("no HLT after %d instructions, EIP=0x%X", rigMaxSteps, r.cpu.EIP)
		}
		r.cpu.Step()
	}
}

// exec loads code and runs it to the trailing HLT.
func (r *x86Rig) exec(code ...byte) {
	r.t.Helper()
	r.load(code...)
	r.run()
}

// inHandler reports that the last run ended in the default handler.
func (r *x86Rig) inHandler() bool {
	return r.cpu.Seg[x86SegCS].Base+r.cpu.EIP == rigHandler+1
}

// frameIP returns the return offset the last real mode interrupt pushed.
func (r *x86Rig) frameIP() uint16 {
	return r.peek16(r.cpu.Seg[x86SegSS].Base + r.cpu.ESP&0xFFFF)
}

func (r *x86Rig) flag(bit uint32) bool { return r.cpu.flagsWord()&bit != 0 }
