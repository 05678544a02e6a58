// cpu_x86_exception.go - Guest exceptions and interrupt delivery
//
// A fault raised while an instruction runs panics with a *CPUException.
// execOne recovers it, rolls the instruction back to its first byte and
// delivers the vector through the IVT (real mode) or the IDT (protected
// mode). A fault while pushing the frame becomes #DF; a fault while
// delivering #DF shuts the CPU down.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Exception vectors
const (
	excDE = 0  // divide error
	excDB = 1  // debug
	excBP = 3  // breakpoint
	excOF = 4  // overflow
	excBR = 5  // BOUND range exceeded
	excUD = 6  // invalid opcode
	excNM = 7  // device not available
	excDF = 8  // double fault
	excTS = 10 // invalid TSS
	excNP = 11 // segment not present
	excSS = 12 // stack fault
	excGP = 13 // general protection
	excPF = 14 // page fault
	excMF = 16 // x87 floating point error
	excXM = 19 // SIMD floating point
)

// CPUException is a guest-visible exception in flight.
type CPUException struct {
	Vector  uint8
	Code    uint32
	HasCode bool
	Linear  uint32 // faulting address for #PF
}

func (e *CPUException) Error() string {
	if e.HasCode {
		return fmt.Sprintf("exception %d (code 0x%X)", e.Vector, e.Code)
	}
	return fmt.Sprintf("exception %d", e.Vector)
}

// intKind tells delivery where the interrupt came from.
type intKind uint8

const (
	intException intKind = iota // fault raised by an instruction
	intSoftware                 // INT n, INT3, INTO: gate DPL is checked
	intExternal                 // PIC
)

func (c *CPU_X86) raise(vector uint8) {
	panic(&CPUException{Vector: vector})
}

func (c *CPU_X86) raiseCode(vector uint8, code uint32) {
	panic(&CPUException{Vector: vector, Code: code, HasCode: true})
}

// raiseGP raises #GP with a selector error code.
func (c *CPU_X86) raiseGP(code uint32) { c.raiseCode(excGP, code) }

// unwind rolls the faulting instruction back and delivers the exception.
// EFLAGS and the lazy snapshot return to their values at instruction start.
func (c *CPU_X86) unwind(exc *CPUException) {
	if c.Shutdown {
		return
	}
	c.EIP = c.dec.startEIP
	c.Flags = c.dec.startFlags
	c.lf = c.dec.startLF
	if e := c.dec.entry; e != nil && e.flags&opRollbackESP != 0 {
		c.ESP = c.dec.startESP
	}
	c.deliver(exc, intException)
}

// deliverTrap raises a trap after the current instruction retired, with EIP
// already past it.
func (c *CPU_X86) deliverTrap(vector uint8) {
	c.deliver(&CPUException{Vector: vector}, intException)
}

// deliver pushes the interrupt frame and transfers control to the handler,
// escalating faults during delivery.
func (c *CPU_X86) deliver(exc *CPUException, kind intKind) {
	for {
		fault := c.tryDeliver(exc, kind)
		if fault == nil {
			return
		}
		if exc.Vector == excDF {
			c.shutdown(fault)
			return
		}
		exc = &CPUException{Vector: excDF, HasCode: true}
		kind = intException
	}
}

func (c *CPU_X86) tryDeliver(exc *CPUException, kind intKind) (fault *CPUException) {
	c.materializeAll()
	saved := struct {
		esp, eip, flags uint32
		cs, ss          SegmentCache
		cpl             uint8
	}{c.ESP, c.EIP, c.Flags, c.Seg[x86SegCS], c.Seg[x86SegSS], c.CPL}

	wasDelivering := c.mmu.delivering
	c.mmu.delivering = true
	defer func() {
		c.mmu.delivering = wasDelivering
		if r := recover(); r != nil {
			e, ok := r.(*CPUException)
			if !ok {
				panic(r)
			}
			c.ESP, c.EIP, c.Flags = saved.esp, saved.eip, saved.flags
			c.Seg[x86SegCS], c.Seg[x86SegSS] = saved.cs, saved.ss
			c.setCPL(saved.cpl)
			fault = e
		}
	}()

	if c.protectedMode() {
		c.interruptProtected(exc, kind)
	} else {
		c.interruptReal(exc.Vector)
	}
	return nil
}

// shutdown enters the triple fault state. Only Reset leaves it.
func (c *CPU_X86) shutdown(last *CPUException) {
	cpuLog.WithFields(logrus.Fields{
		"vector": last.Vector,
		"code":   last.Code,
		"cs":     c.Seg[x86SegCS].Selector,
		"eip":    hex32(c.EIP),
	}).Error("triple fault, CPU shut down")
	c.Shutdown = true
	c.Halted = true
}

// interruptReal vectors through the IVT at IDTR.Base.
func (c *CPU_X86) interruptReal(vector uint8) {
	flags := c.flagsWord()
	c.push16(uint16(flags))
	c.push16(c.Seg[x86SegCS].Selector)
	c.push16(uint16(c.EIP))
	c.Flags &^= x86FlagIF | x86FlagTF | x86FlagAC
	addr := c.IDTR.Base + uint32(vector)*4
	ip := c.mmu.ReadW(addr)
	cs := c.mmu.ReadW(addr + 2)
	c.Seg[x86SegCS] = realModeSegment(cs, true)
	c.EIP = uint32(ip)
}

// Gate types in the IDT.
const (
	gateTask   = 0x05
	gateInt16  = 0x06
	gateTrap16 = 0x07
	gateInt32  = 0x0E
	gateTrap32 = 0x0F
)

// interruptProtected vectors through an IDT interrupt or trap gate. A gate
// into a more privileged non-conforming segment switches to the stack held
// in the TSS.
func (c *CPU_X86) interruptProtected(exc *CPUException, kind intKind) {
	vec := uint32(exc.Vector)
	ext := uint32(0)
	if kind != intSoftware {
		ext = 1
	}
	errSel := vec*8 + 2 + ext
	if vec*8+7 > uint32(c.IDTR.Limit) {
		c.raiseGP(errSel)
	}
	gate := descriptor(uint64(c.sysReadD(c.IDTR.Base+vec*8)) |
		uint64(c.sysReadD(c.IDTR.Base+vec*8+4))<<32)

	typ := gate.access() & 0x1F
	switch typ {
	case gateInt16, gateTrap16, gateInt32, gateTrap32:
	case gateTask:
		c.logUnhandled("task-gate", "task gate in IDT not supported")
		c.raiseGP(errSel)
	default:
		c.raiseGP(errSel)
	}
	if kind == intSoftware && gate.dpl() < c.CPL {
		c.raiseGP(errSel)
	}
	if !gate.present() {
		c.raiseCode(excNP, errSel)
	}

	sel := gate.gateSelector()
	if sel&0xFFFC == 0 {
		c.raiseGP(ext)
	}
	code := c.readDescriptor(sel, ext)
	if !code.isCode() || code.dpl() > c.CPL {
		c.raiseGP(uint32(sel&0xFFFC) + ext)
	}
	if !code.present() {
		c.raiseCode(excNP, uint32(sel&0xFFFC)+ext)
	}

	big := typ == gateInt32 || typ == gateTrap32
	w := w16
	if big {
		w = w32
	}
	flags := c.flagsWord()
	oldCS := c.Seg[x86SegCS].Selector
	oldEIP := c.EIP
	newCPL := c.CPL
	if !code.conforming() && code.dpl() < c.CPL {
		newCPL = code.dpl()
		oldSS := c.Seg[x86SegSS].Selector
		oldESP := c.ESP
		ss, esp := c.tssStack(newCPL)
		c.loadStackForCPL(ss, newCPL)
		c.ESP = esp
		c.push(w, uint32(oldSS))
		c.push(w, oldESP)
	}
	c.push(w, flags)
	c.push(w, uint32(oldCS))
	c.push(w, oldEIP)
	if exc.HasCode {
		c.push(w, exc.Code)
	}

	c.setCPL(newCPL)
	c.Seg[x86SegCS] = code.cache(sel&0xFFFC | uint16(newCPL))
	c.EIP = gate.gateOffset()
	if !big {
		c.EIP &= 0xFFFF
	}
	c.Flags &^= x86FlagTF | x86FlagNT | x86FlagRF | x86FlagVM
	if typ == gateInt16 || typ == gateInt32 {
		c.Flags &^= x86FlagIF
	}
}

// tssStack reads the ring-n stack pointer from the current TSS.
func (c *CPU_X86) tssStack(cpl uint8) (uint16, uint32) {
	typ := c.TR.Access & 0x0F
	if typ == 0x09 || typ == 0x0B {
		off := 4 + uint32(cpl)*8
		if off+5 > c.TR.Limit {
			c.raiseCode(excTS, uint32(c.TR.Selector&0xFFFC))
		}
		esp := c.sysReadD(c.TR.Base + off)
		ss := c.sysReadW(c.TR.Base + off + 4)
		return ss, esp
	}
	off := 2 + uint32(cpl)*4
	if off+3 > c.TR.Limit {
		c.raiseCode(excTS, uint32(c.TR.Selector&0xFFFC))
	}
	sp := c.sysReadW(c.TR.Base + off)
	ss := c.sysReadW(c.TR.Base + off + 2)
	return ss, uint32(sp)
}

// softwareInterrupt handles INT n, INT3 and INTO. EIP already points past
// the instruction.
func (c *CPU_X86) softwareInterrupt(vector uint8) {
	if !c.protectedMode() {
		c.interruptReal(vector)
		return
	}
	c.interruptProtected(&CPUException{Vector: vector}, intSoftware)
}

// -----------------------------------------------------------------------------
// Nested page faults
// -----------------------------------------------------------------------------

// nestedPageFault runs the guest #PF handler from inside a memory access.
// The decoder and lazy flag state of the interrupted instruction are saved,
// the fault is delivered with EIP at the instruction start, and nested
// instructions run until the handler returns to that instruction. It
// reports false when the handler never returned. The frame carries the
// EFLAGS of the instruction start, as in unwind mode.
func (c *CPU_X86) nestedPageFault(exc *CPUException) bool {
	savedDec := c.dec
	savedLF := c.lf
	savedFlagsArith := c.Flags & arithFlagsMask
	curEIP := c.EIP
	startEIP := c.dec.startEIP
	cs := c.Seg[x86SegCS].Selector

	c.EIP = startEIP
	c.Flags = c.dec.startFlags
	c.lf = c.dec.startLF
	c.deliver(exc, intException)
	if c.Shutdown {
		c.dec = savedDec
		return false
	}

	for steps := 0; ; steps++ {
		if c.Seg[x86SegCS].Selector == cs && c.EIP == startEIP {
			break
		}
		if steps >= c.nestedLimit || c.Shutdown || c.Halted {
			cpuLog.WithFields(logrus.Fields{
				"linear": hex32(exc.Linear),
				"steps":  steps,
			}).Error("page fault handler did not return, CPU shut down")
			c.dec = savedDec
			c.Shutdown = true
			c.Halted = true
			return false
		}
		c.execOne()
		c.Cycles++
	}

	c.dec = savedDec
	c.lf = savedLF
	c.Flags = c.Flags&^arithFlagsMask | savedFlagsArith
	c.EIP = curEIP
	return true
}
