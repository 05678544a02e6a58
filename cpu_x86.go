// cpu_x86.go - Intel x86 CPU core (8086 through Pentium III)
//
// This implements an x86 CPU with:
// - Table driven decode over four partitions (16/32-bit operand size x
//   one-byte/0F opcode space), gated by architecture level
// - Lazy condition codes (cpu_x86_flags.go)
// - Paged memory through a software TLB (mem_paging.go)
// - Real and protected mode segmentation, IDT delivery, faults that unwind
//   the current instruction
// - x87, MMX and the Pentium III SSE subset
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// CPU_X86 represents the x86 CPU state
type CPU_X86 struct {
	// General purpose registers (32-bit)
	EAX uint32
	ECX uint32
	EDX uint32
	EBX uint32
	ESP uint32
	EBP uint32
	ESI uint32
	EDI uint32

	// Instruction pointer
	EIP uint32

	// Segment registers with their descriptor caches
	Seg [6]SegmentCache

	// Flags register. Arithmetic bits may be stale while lf.Type is set.
	Flags uint32
	lf    LazyFlags

	// Control, debug and system registers. CR2 lives in the MMU.
	CR0  uint32
	CR3  uint32
	CR4  uint32
	DR   [8]uint32
	GDTR DescriptorTable
	IDTR DescriptorTable
	LDTR SegmentCache
	TR   SegmentCache

	// TestReg holds the 386/486 test registers; only TR6 and TR7 (the TLB
	// test pair) are reachable.
	TestReg [8]uint32
	CPL  uint8

	Arch ArchLevel

	FPU   *FPU_X87
	XMM   [8]xmmReg
	MXCSR uint32
	msr   map[uint32]uint64

	tscOffset uint64 // WRMSR to the TSC rebases it against Cycles

	// Execution state
	Halted   bool
	Shutdown bool
	running  atomic.Bool
	Cycles   uint64

	mem *MemorySystem
	mmu *MMU
	io  X86IO
	pic InterruptController

	dec       decodeState
	intShadow bool // interrupts held off for one instruction (STI, MOV SS)
	unhandled warnOnce

	nestedLimit int

	// Register pointer array for O(1) lookup
	// Order: EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI
	regs32 [8]*uint32
}

// decodeState is the per-instruction decoder state. It is a plain value so
// a nested page fault can save and restore it.
type decodeState struct {
	startEIP   uint32
	startESP   uint32
	startFlags uint32
	startLF    LazyFlags
	opsize32   bool
	addrsize32 bool
	esc0F      bool
	seg        int   // segment override, -1 = none
	rep        uint8 // 0 = none, repE, repNE
	lastPrefix uint8 // SIMD selector: simdNone, simd66, simdF2, simdF3
	lock       bool
	opcode     byte
	modrm      byte
	rmIsReg    bool
	ea         uint32
	eaSeg      int
	eaBaseESP  bool
	entry      *opEntry
}

const (
	repE  = 1
	repNE = 2
)

// Flag bit positions
const (
	x86FlagCF   = 1 << 0  // Carry Flag
	x86FlagPF   = 1 << 2  // Parity Flag
	x86FlagAF   = 1 << 4  // Auxiliary Carry Flag
	x86FlagZF   = 1 << 6  // Zero Flag
	x86FlagSF   = 1 << 7  // Sign Flag
	x86FlagTF   = 1 << 8  // Trap Flag
	x86FlagIF   = 1 << 9  // Interrupt Enable Flag
	x86FlagDF   = 1 << 10 // Direction Flag
	x86FlagOF   = 1 << 11 // Overflow Flag
	x86FlagIOPL = 3 << 12 // I/O Privilege Level (2 bits)
	x86FlagNT   = 1 << 14 // Nested Task
	x86FlagRF   = 1 << 16 // Resume Flag
	x86FlagVM   = 1 << 17 // Virtual-8086 Mode
	x86FlagAC   = 1 << 18 // Alignment Check
	x86FlagVIF  = 1 << 19 // Virtual Interrupt Flag
	x86FlagVIP  = 1 << 20 // Virtual Interrupt Pending
	x86FlagID   = 1 << 21 // ID Flag
)

// Segment register indices
const (
	x86SegES = 0
	x86SegCS = 1
	x86SegSS = 2
	x86SegDS = 3
	x86SegFS = 4
	x86SegGS = 5
)

// Control register bits
const (
	cr0PE = 1 << 0
	cr0MP = 1 << 1
	cr0EM = 1 << 2
	cr0TS = 1 << 3
	cr0ET = 1 << 4
	cr0NE = 1 << 5
	cr0WP = 1 << 16
	cr0PG = 1 << 31

	cr4TSD    = 1 << 2
	cr4PSE    = 1 << 4
	cr4OSFXSR = 1 << 9
)

// NewCPU_X86 creates a CPU wired to a memory system and a port bus.
func NewCPU_X86(mem *MemorySystem, io X86IO, arch ArchLevel) *CPU_X86 {
	cpu := &CPU_X86{
		Arch:        arch,
		mem:         mem,
		io:          io,
		FPU:         NewFPU_X87(),
		msr:         make(map[uint32]uint64),
		nestedLimit: 1_000_000,
	}
	if cpu.io == nil {
		cpu.io = NewPortBus()
	}
	cpu.mmu = NewMMU(mem, arch)
	cpu.mmu.nested = cpu.nestedPageFault
	// Initialize register pointer array for O(1) lookup
	cpu.regs32 = [8]*uint32{
		&cpu.EAX, &cpu.ECX, &cpu.EDX, &cpu.EBX,
		&cpu.ESP, &cpu.EBP, &cpu.ESI, &cpu.EDI,
	}
	cpu.Reset()
	return cpu
}

// Reset puts the CPU in its power-on state: real mode, CS:IP = F000:FFF0.
func (c *CPU_X86) Reset() {
	for _, r := range c.regs32 {
		*r = 0
	}
	c.EIP = 0xFFF0

	for i := range c.Seg {
		c.Seg[i] = realModeSegment(0, i == x86SegCS)
	}
	c.Seg[x86SegCS] = realModeSegment(0xF000, true)

	c.lf = LazyFlags{}
	c.Flags = c.fixedFlagBits(0)

	switch {
	case c.Arch == Arch286:
		c.CR0 = 0xFFF0
	case c.Arch >= Arch386:
		c.CR0 = cr0ET
	default:
		c.CR0 = 0
	}
	c.CR3 = 0
	c.CR4 = 0
	c.DR = [8]uint32{6: 0xFFFF0FF0, 7: 0x400}
	c.TestReg = [8]uint32{}
	c.GDTR = DescriptorTable{Limit: 0xFFFF}
	c.IDTR = DescriptorTable{Limit: 0x3FF}
	c.LDTR = SegmentCache{}
	c.TR = SegmentCache{}
	c.CPL = 0

	c.FPU.Reset()
	c.FPU.arch = c.Arch
	c.XMM = [8]xmmReg{}
	c.MXCSR = mxcsrDefault
	clear(c.msr)
	c.tscOffset = 0

	c.mmu.SetEnabled(false)
	c.mmu.SetPSE(false)
	c.mmu.SetWP(false)
	c.mmu.SetCPL(0)
	c.mmu.cr3 = 0
	c.mmu.InvalidateAll()

	c.dec = decodeState{seg: -1}
	c.intShadow = false
	c.Halted = false
	c.Shutdown = false
	c.running.Store(true)
	c.Cycles = 0
}

// Running returns the execution state (thread-safe)
func (c *CPU_X86) Running() bool {
	return c.running.Load()
}

// SetRunning sets the execution state (thread-safe)
func (c *CPU_X86) SetRunning(state bool) {
	c.running.Store(state)
}

// SetInterruptController attaches the external PIC.
func (c *CPU_X86) SetInterruptController(pic InterruptController) {
	c.pic = pic
}

// SetPageFaultMode selects unwinding or nested page fault handling.
func (c *CPU_X86) SetPageFaultMode(mode PageFaultMode, limit int) {
	c.mmu.mode = mode
	if limit > 0 {
		c.nestedLimit = limit
	}
}

func (c *CPU_X86) MMU() *MMU                 { return c.mmu }
func (c *CPU_X86) Memory() *MemorySystem     { return c.mem }
func (c *CPU_X86) protectedMode() bool       { return c.CR0&cr0PE != 0 }
func (c *CPU_X86) CR2() uint32               { return c.mmu.CR2() }
func (c *CPU_X86) LazyFlagsState() LazyFlags { return c.lf }

// -----------------------------------------------------------------------------
// Instruction fetch
// -----------------------------------------------------------------------------

func (c *CPU_X86) advanceIP(n uint32) {
	c.EIP += n
	if !c.Seg[x86SegCS].Big {
		c.EIP &= 0xFFFF
	}
}

func (c *CPU_X86) fetch8() byte {
	v := c.mmu.ReadB(c.Seg[x86SegCS].Base + c.EIP)
	c.advanceIP(1)
	return v
}

func (c *CPU_X86) fetch16() uint16 {
	v := c.mmu.ReadW(c.Seg[x86SegCS].Base + c.EIP)
	c.advanceIP(2)
	return v
}

func (c *CPU_X86) fetch32() uint32 {
	v := c.mmu.ReadD(c.Seg[x86SegCS].Base + c.EIP)
	c.advanceIP(4)
	return v
}

// fetchImm reads an immediate of width w.
func (c *CPU_X86) fetchImm(w opWidth) uint32 {
	switch w {
	case w8:
		return uint32(c.fetch8())
	case w16:
		return uint32(c.fetch16())
	}
	return c.fetch32()
}

// fetchSImm8 reads a sign-extended byte immediate masked to width w.
func (c *CPU_X86) fetchSImm8(w opWidth) uint32 {
	return uint32(int32(int8(c.fetch8()))) & w.mask()
}

// -----------------------------------------------------------------------------
// Segmented memory access
// -----------------------------------------------------------------------------

func (c *CPU_X86) linear(seg int, off uint32) uint32 {
	return c.Seg[seg].Base + off
}

func (c *CPU_X86) readMem(seg int, off uint32, w opWidth) uint32 {
	lin := c.linear(seg, off)
	switch w {
	case w8:
		return uint32(c.mmu.ReadB(lin))
	case w16:
		return uint32(c.mmu.ReadW(lin))
	}
	return c.mmu.ReadD(lin)
}

func (c *CPU_X86) writeMem(seg int, off uint32, w opWidth, v uint32) {
	lin := c.linear(seg, off)
	switch w {
	case w8:
		c.mmu.WriteB(lin, uint8(v))
	case w16:
		c.mmu.WriteW(lin, uint16(v))
	default:
		c.mmu.WriteD(lin, v)
	}
}

// checkWrite faults if a store of width w at seg:off would fault.
func (c *CPU_X86) checkWrite(seg int, off uint32, w opWidth) {
	c.mmu.CheckWrite(c.linear(seg, off), w.bits()/8)
}

// dataSeg is DS unless a segment override prefix is active.
func (c *CPU_X86) dataSeg() int {
	if c.dec.seg >= 0 {
		return c.dec.seg
	}
	return x86SegDS
}

// -----------------------------------------------------------------------------
// Stack Operations
// -----------------------------------------------------------------------------

func (c *CPU_X86) stackBig() bool { return c.Seg[x86SegSS].Big }

func (c *CPU_X86) sp() uint32 {
	if c.stackBig() {
		return c.ESP
	}
	return c.ESP & 0xFFFF
}

func (c *CPU_X86) setSP(v uint32) {
	if c.stackBig() {
		c.ESP = v
	} else {
		c.ESP = c.ESP&0xFFFF0000 | v&0xFFFF
	}
}

func (c *CPU_X86) stackAdd(n uint32) {
	c.setSP(c.sp() + n)
}

// push stores first and moves the stack pointer after, so a faulting push
// leaves ESP untouched.
func (c *CPU_X86) push(w opWidth, v uint32) {
	n := c.sp() - widthBytes[w]
	if !c.stackBig() {
		n &= 0xFFFF
	}
	c.writeMem(x86SegSS, n, w, v)
	c.setSP(n)
}

func (c *CPU_X86) pop(w opWidth) uint32 {
	v := c.readMem(x86SegSS, c.sp(), w)
	c.stackAdd(widthBytes[w])
	return v
}

// peekStack reads the stack at an offset from the top without popping.
func (c *CPU_X86) peekStack(w opWidth, off uint32) uint32 {
	a := c.sp() + off
	if !c.stackBig() {
		a &= 0xFFFF
	}
	return c.readMem(x86SegSS, a, w)
}

func (c *CPU_X86) push16(v uint16) { c.push(w16, uint32(v)) }
func (c *CPU_X86) pop16() uint16   { return uint16(c.pop(w16)) }
func (c *CPU_X86) push32(v uint32) { c.push(w32, v) }
func (c *CPU_X86) pop32() uint32   { return c.pop(w32) }

// -----------------------------------------------------------------------------
// Instruction Execution
// -----------------------------------------------------------------------------

// Run executes up to budget instructions and returns how many retired.
// It returns early when an instruction that can unmask interrupts (POPF,
// STI, IRET, MOV SS) leaves one deliverable, after a single-step trap, and
// when the CPU halts.
func (c *CPU_X86) Run(budget int) (executed int) {
	if c.Shutdown {
		return 0
	}
	if c.Halted {
		if !c.irqDeliverable() {
			return 0
		}
		c.Halted = false
	}
	for executed < budget && !c.Halted && c.running.Load() {
		if c.irqDeliverable() && !c.intShadow {
			c.serviceInterrupt()
		}
		c.intShadow = false

		trap := c.Flags&x86FlagTF != 0
		faulted := c.execOne()
		executed++
		c.Cycles++

		if trap && !faulted {
			c.deliverTrap(excDB)
			return executed
		}
		if e := c.dec.entry; e != nil && e.flags&opChecksIRQ != 0 && c.irqDeliverable() {
			return executed
		}
	}
	return executed
}

// Step executes a single instruction and returns the cycles it consumed.
func (c *CPU_X86) Step() int {
	was := c.running.Swap(true)
	defer c.running.Store(was)
	before := c.Cycles
	c.Run(1)
	return int(c.Cycles - before)
}

// execOne decodes and executes one instruction. A guest exception unwinds
// the instruction and is delivered before execOne returns.
func (c *CPU_X86) execOne() (faulted bool) {
	c.beginInstruction()
	defer func() {
		if r := recover(); r != nil {
			exc, ok := r.(*CPUException)
			if !ok {
				panic(r)
			}
			c.unwind(exc)
			faulted = true
		}
	}()
	c.dispatch()
	return false
}

func (c *CPU_X86) beginInstruction() {
	big := c.Seg[x86SegCS].Big
	c.dec = decodeState{
		startEIP:   c.EIP,
		startESP:   c.ESP,
		startFlags: c.Flags,
		startLF:    c.lf,
		opsize32:   big,
		addrsize32: big,
		seg:        -1,
	}
}

// partition selects one of the four opcode table partitions.
func (d *decodeState) partition() int {
	p := 0
	if d.opsize32 {
		p = 2
	}
	if d.esc0F {
		p |= 1
	}
	return p
}

// dispatch fetches prefixes and the opcode, gates it against the
// architecture level and runs its body.
func (c *CPU_X86) dispatch() {
	for {
		op := c.fetch8()
		e := &x86OpTable[c.dec.partition()<<8|int(op)]
		c.dec.opcode = op
		if e.simd != nil {
			e = &e.simd[c.dec.lastPrefix]
		}
		if c.Arch < e.minArch || e.exec == nil {
			if e.legacy != nil && c.Arch == Arch8086 {
				e.legacy(c)
				return
			}
			c.raise(excUD)
		}
		if e.flags&opPrefix != 0 {
			e.exec(c)
			continue
		}
		c.dec.entry = e
		if e.flags&opModRM != 0 {
			c.decodeModRM()
		}
		e.exec(c)
		return
	}
}

// -----------------------------------------------------------------------------
// Interrupts
// -----------------------------------------------------------------------------

func (c *CPU_X86) irqDeliverable() bool {
	return c.pic != nil && c.Flags&x86FlagIF != 0 && c.pic.Pending()
}

func (c *CPU_X86) serviceInterrupt() {
	vec := c.pic.Acknowledge()
	c.Halted = false
	c.deliver(&CPUException{Vector: vec}, intExternal)
}

// logUnhandled reports an operation the core accepts but does not model.
func (c *CPU_X86) logUnhandled(key string, msg string) {
	c.unhandled.Warn(key, logrus.Fields{
		"op":  key,
		"eip": hex32(c.dec.startEIP),
		"cs":  c.Seg[x86SegCS].Selector,
	}, msg)
}
