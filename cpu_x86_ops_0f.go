// cpu_x86_ops_0f.go - Two-byte (0F xx) integer instructions, 386 and later
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math/bits"

// =============================================================================
// Conditional Instructions (Jcc, SETcc, CMOVcc)
// =============================================================================

func (c *CPU_X86) opJcc_Jv(w opWidth) {
	disp := c.fetchImm(w)
	if c.condition(c.dec.opcode & 0xF) {
		c.jumpRel(disp)
	}
}

func (c *CPU_X86) opSETcc() {
	c.writeRM(w8, b2u(c.condition(c.dec.opcode&0xF)))
}

// opCMOVcc always reads the source, so a bad address faults even when the
// condition is false.
func (c *CPU_X86) opCMOVcc(w opWidth) {
	v := c.readRM(w)
	if c.condition(c.dec.opcode & 0xF) {
		c.setReg(w, c.modReg(), v)
	}
}

// =============================================================================
// FS / GS
// =============================================================================

func (c *CPU_X86) opPUSH_FS(w opWidth) { c.push(w, uint32(c.Seg[x86SegFS].Selector)) }
func (c *CPU_X86) opPUSH_GS(w opWidth) { c.push(w, uint32(c.Seg[x86SegGS].Selector)) }
func (c *CPU_X86) opPOP_FS(w opWidth)  { c.popSegment(w, x86SegFS) }
func (c *CPU_X86) opPOP_GS(w opWidth)  { c.popSegment(w, x86SegGS) }

// =============================================================================
// Bit Test Instructions (BT, BTS, BTR, BTC)
// =============================================================================

const (
	bitTest = iota
	bitSet
	bitReset
	bitComplement
)

// bitOp operates on one bit of the r/m operand. A register bit offset into
// memory is signed and may select a different operand-sized word.
func (c *CPU_X86) bitOp(op int, w opWidth, bit uint32, fromReg bool) {
	n := w.bits()
	var v, add uint32
	if c.dec.rmIsReg {
		bit &= n - 1
		v = c.getReg(w, c.modRM())
	} else {
		if fromReg {
			s := w.signExtend(bit)
			add = uint32((s >> bits.TrailingZeros32(n)) * int32(widthBytes[w]))
		}
		bit &= n - 1
		v = c.readEA(w, add)
	}
	mask := uint32(1) << bit
	set := v&mask != 0
	var nv uint32
	switch op {
	case bitSet:
		nv = v | mask
	case bitReset:
		nv = v &^ mask
	case bitComplement:
		nv = v ^ mask
	}
	if op != bitTest {
		if c.dec.rmIsReg {
			c.setReg(w, c.modRM(), nv)
		} else {
			c.writeEA(w, add, nv)
		}
	}
	c.materializeAll()
	c.setFlag(x86FlagCF, set)
}

// opBT_E_G covers BT (A3), BTS (AB), BTR (B3) and BTC (BB).
func (c *CPU_X86) opBT_E_G(w opWidth) {
	op := int(c.dec.opcode>>3) & 3
	c.bitOp(op, w, c.getReg(w, c.modReg()), true)
}

// opGrp8 is BT/BTS/BTR/BTC with an immediate bit offset (0F BA /4-/7).
func (c *CPU_X86) opGrp8(w opWidth) {
	r := c.modReg()
	if r < 4 {
		c.raise(excUD)
	}
	bit := uint32(c.fetch8())
	c.bitOp(int(r-4), w, bit, false)
}

// =============================================================================
// Bit Scan
// =============================================================================

func (c *CPU_X86) opBSF(w opWidth) {
	v := c.readRM(w)
	c.materializeAll()
	if v == 0 {
		c.setFlag(x86FlagZF, true)
		return
	}
	c.setFlag(x86FlagZF, false)
	c.setReg(w, c.modReg(), uint32(bits.TrailingZeros32(v)))
}

func (c *CPU_X86) opBSR(w opWidth) {
	v := c.readRM(w)
	c.materializeAll()
	if v == 0 {
		c.setFlag(x86FlagZF, true)
		return
	}
	c.setFlag(x86FlagZF, false)
	c.setReg(w, c.modReg(), uint32(31-bits.LeadingZeros32(v)))
}

// =============================================================================
// Double Precision Shifts (SHLD, SHRD)
// =============================================================================

func (c *CPU_X86) opSHLD_Ib(w opWidth) { c.doubleShift(w, true, uint32(c.fetch8())) }
func (c *CPU_X86) opSHLD_CL(w opWidth) { c.doubleShift(w, true, uint32(c.CL())) }
func (c *CPU_X86) opSHRD_Ib(w opWidth) { c.doubleShift(w, false, uint32(c.fetch8())) }
func (c *CPU_X86) opSHRD_CL(w opWidth) { c.doubleShift(w, false, uint32(c.CL())) }

// doubleShift shifts the r/m operand, filling from the reg operand. The
// word forms shift the 32-bit concatenation of both.
func (c *CPU_X86) doubleShift(w opWidth, left bool, count uint32) {
	count &= 0x1F
	if count == 0 {
		return
	}
	dst := c.readRM(w)
	src := c.getReg(w, c.modReg())
	var res uint32
	switch {
	case w == w16 && left:
		cat := dst<<16 | src
		res = (cat << count) >> 16 & 0xFFFF
		c.setLazyDouble(famDSHL, w16, cat, count, res)
	case w == w16:
		cat := src<<16 | dst
		res = (cat >> count) & 0xFFFF
		c.setLazyDouble(famDSHR, w16, cat, count, res)
	case left:
		res = dst<<count | src>>(32-count)
		c.setLazyDouble(famDSHL, w32, dst, count, res)
	default:
		res = dst>>count | src<<(32-count)
		c.setLazyDouble(famDSHR, w32, dst, count, res)
	}
	c.writeRM(w, res)
}

// =============================================================================
// Multiply, Exchange, Extend
// =============================================================================

func (c *CPU_X86) opIMUL_G_E(w opWidth) {
	r := c.modReg()
	c.setReg(w, r, c.imulTrunc(w, c.getReg(w, r), c.readRM(w)))
}

// opCMPXCHG writes the destination in both outcomes.
func (c *CPU_X86) opCMPXCHG(w opWidth) {
	acc := c.getReg(w, 0)
	dst := c.readRM(w)
	c.alu(aluCMP, w, acc, dst)
	if acc == dst {
		c.writeRM(w, c.getReg(w, c.modReg()))
		return
	}
	c.writeRM(w, dst)
	c.setReg(w, 0, dst)
}

func (c *CPU_X86) opXADD(w opWidth) {
	r := c.modReg()
	dst := c.readRM(w)
	src := c.getReg(w, r)
	sum, _ := c.alu(aluADD, w, dst, src)
	if c.dec.rmIsReg {
		c.setReg(w, r, dst)
		c.writeRM(w, sum)
		return
	}
	c.writeRM(w, sum)
	c.setReg(w, r, dst)
}

// opGrp9 holds CMPXCHG8B (0F C7 /1).
func (c *CPU_X86) opGrp9() {
	if c.modReg() != 1 {
		c.raise(excUD)
	}
	c.requireMem()
	lo := c.readEA(w32, 0)
	hi := c.readEA(w32, 4)
	c.materializeAll()
	if lo == c.EAX && hi == c.EDX {
		c.writeEA(w32, 0, c.EBX)
		c.writeEA(w32, 4, c.ECX)
		c.setFlag(x86FlagZF, true)
		return
	}
	c.writeEA(w32, 0, lo)
	c.writeEA(w32, 4, hi)
	c.EAX, c.EDX = lo, hi
	c.setFlag(x86FlagZF, false)
}

// opBSWAP with a 16-bit operand clears the low word, as the hardware does.
func (c *CPU_X86) opBSWAP(w opWidth) {
	r := c.dec.opcode & 7
	if w == w16 {
		c.setReg16(r, 0)
		return
	}
	c.setReg32(r, bits.ReverseBytes32(c.getReg32(r)))
}

func (c *CPU_X86) opMOVZX_b(w opWidth) { c.setReg(w, c.modReg(), c.readRM(w8)) }
func (c *CPU_X86) opMOVZX_w(w opWidth) { c.setReg(w, c.modReg(), c.readRM(w16)) }

func (c *CPU_X86) opMOVSX_b(w opWidth) {
	c.setReg(w, c.modReg(), uint32(int32(int8(c.readRM(w8)))))
}

func (c *CPU_X86) opMOVSX_w(w opWidth) {
	c.setReg(w, c.modReg(), uint32(int32(int16(c.readRM(w16)))))
}

// =============================================================================
// Identification, Time Stamp, Model Specific Registers
// =============================================================================

// CPUID feature bits (leaf 1, EDX).
const (
	cpuidFPU  = 1 << 0
	cpuidPSE  = 1 << 3
	cpuidTSC  = 1 << 4
	cpuidMSR  = 1 << 5
	cpuidCX8  = 1 << 8
	cpuidCMOV = 1 << 15
	cpuidMMX  = 1 << 23
	cpuidFXSR = 1 << 24
	cpuidSSE  = 1 << 25
)

// cpuidSignature returns the family/model/stepping word and EDX feature
// bits reported for an architecture level.
func cpuidSignature(a ArchLevel) (sig, features uint32) {
	switch a {
	case Arch486Old, Arch486New:
		return 0x0480, cpuidFPU
	case ArchPentium:
		return 0x0525, cpuidFPU | cpuidPSE | cpuidTSC | cpuidMSR | cpuidCX8
	case ArchPentiumMMX:
		return 0x0543, cpuidFPU | cpuidPSE | cpuidTSC | cpuidMSR | cpuidCX8 | cpuidMMX
	case ArchPentiumII:
		return 0x0652, cpuidFPU | cpuidPSE | cpuidTSC | cpuidMSR | cpuidCX8 |
			cpuidCMOV | cpuidMMX | cpuidFXSR
	}
	return 0x0673, cpuidFPU | cpuidPSE | cpuidTSC | cpuidMSR | cpuidCX8 |
		cpuidCMOV | cpuidMMX | cpuidFXSR | cpuidSSE
}

func (c *CPU_X86) opCPUID() {
	maxLeaf := uint32(1)
	if c.Arch >= ArchPentiumII {
		maxLeaf = 2
	}
	switch c.EAX {
	case 0:
		c.EAX = maxLeaf
		c.EBX = 0x756E6547 // "Genu"
		c.EDX = 0x49656E69 // "ineI"
		c.ECX = 0x6C65746E // "ntel"
	case 1:
		sig, feat := cpuidSignature(c.Arch)
		c.EAX = sig
		c.EBX, c.ECX = 0, 0
		c.EDX = feat
	case 2:
		if maxLeaf >= 2 {
			c.EAX = 0x03020101
			c.EBX, c.ECX = 0, 0
			c.EDX = 0x0C040843
			return
		}
		c.EAX, c.EBX, c.ECX, c.EDX = 0, 0, 0, 0
	default:
		c.EAX, c.EBX, c.ECX, c.EDX = 0, 0, 0, 0
	}
}

// Model specific registers.
const (
	msrTSC         = 0x10
	msrSysenterCS  = 0x174
	msrSysenterESP = 0x175
	msrSysenterEIP = 0x176
)

func (c *CPU_X86) tsc() uint64 { return c.Cycles + c.tscOffset }

func (c *CPU_X86) opRDTSC() {
	if c.CR4&cr4TSD != 0 && c.protectedMode() && c.CPL != 0 {
		c.raiseGP(0)
	}
	t := c.tsc()
	c.EAX = uint32(t)
	c.EDX = uint32(t >> 32)
}

func (c *CPU_X86) msrKnown(idx uint32) bool {
	switch idx {
	case msrTSC:
		return true
	case msrSysenterCS, msrSysenterESP, msrSysenterEIP:
		return c.Arch >= ArchPentiumII
	}
	return false
}

func (c *CPU_X86) opRDMSR() {
	c.requireCPL0()
	idx := c.ECX
	if !c.msrKnown(idx) {
		c.logUnhandled("rdmsr:"+hex32(idx), "read of an unmodelled MSR")
		c.raiseGP(0)
	}
	v := c.msr[idx]
	if idx == msrTSC {
		v = c.tsc()
	}
	c.EAX = uint32(v)
	c.EDX = uint32(v >> 32)
}

func (c *CPU_X86) opWRMSR() {
	c.requireCPL0()
	idx := c.ECX
	if !c.msrKnown(idx) {
		c.logUnhandled("wrmsr:"+hex32(idx), "write to an unmodelled MSR")
		c.raiseGP(0)
	}
	v := uint64(c.EDX)<<32 | uint64(c.EAX)
	if idx == msrTSC {
		c.tscOffset = v - c.Cycles
		return
	}
	c.msr[idx] = v
}

// =============================================================================
// Hints
// =============================================================================

// opNOP_Ev is the multi-byte NOP (0F 1F /0).
func (c *CPU_X86) opNOP_Ev() {}

// opPREFETCH covers PREFETCHNTA/T0/T1/T2 (0F 18 /0-/3).
func (c *CPU_X86) opPREFETCH() {
	if c.modReg() > 3 {
		c.raise(excUD)
	}
	c.requireMem()
}
