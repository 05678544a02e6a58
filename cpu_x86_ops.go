// cpu_x86_ops.go - x86 CPU Instruction Implementations (one-byte opcodes)
//
// Bodies take the operand width as a parameter; the table builds one entry
// per operand-size partition. ModR/M is already decoded when a body flagged
// opModRM runs.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// ALU Instructions (ADD, OR, ADC, SBB, AND, SUB, XOR, CMP)
// =============================================================================

// ALU operation numbers follow the group 1 reg field.
const (
	aluADD = iota
	aluOR
	aluADC
	aluSBB
	aluAND
	aluSUB
	aluXOR
	aluCMP
)

var aluFamily = [8]flagFamily{famADD, famOR, famADC, famSBB, famAND, famSUB, famXOR, famCMP}

// alu computes a op b at width w and records the flags. store is false for
// CMP, which only sets flags.
func (c *CPU_X86) alu(op int, w opWidth, a, b uint32) (res uint32, store bool) {
	m := w.mask()
	a &= m
	b &= m
	switch op {
	case aluADD:
		res = a + b
	case aluOR:
		res = a | b
	case aluADC:
		cf := c.getCF()
		res = (a + b + b2u(cf)) & m
		c.setLazy(famADC, w, a, b, res)
		c.lf.OldCF = cf
		return res, true
	case aluSBB:
		cf := c.getCF()
		res = (a - b - b2u(cf)) & m
		c.setLazy(famSBB, w, a, b, res)
		c.lf.OldCF = cf
		return res, true
	case aluAND:
		res = a & b
	case aluSUB, aluCMP:
		res = a - b
	case aluXOR:
		res = a ^ b
	}
	res &= m
	c.setLazy(aluFamily[op], w, a, b, res)
	return res, op != aluCMP
}

// aluRMReg implements the Eb,Gb and Ev,Gv forms.
func (c *CPU_X86) aluRMReg(op int, w opWidth) {
	a := c.readRM(w)
	b := c.getReg(w, c.modReg())
	if res, store := c.alu(op, w, a, b); store {
		c.writeRM(w, res)
	}
}

// aluRegRM implements the Gb,Eb and Gv,Ev forms.
func (c *CPU_X86) aluRegRM(op int, w opWidth) {
	a := c.getReg(w, c.modReg())
	b := c.readRM(w)
	if res, store := c.alu(op, w, a, b); store {
		c.setReg(w, c.modReg(), res)
	}
}

// aluAccImm implements the AL,Ib and eAX,Iv forms.
func (c *CPU_X86) aluAccImm(op int, w opWidth) {
	b := c.fetchImm(w)
	if res, store := c.alu(op, w, c.getReg(w, 0), b); store {
		c.setReg(w, 0, res)
	}
}

// =============================================================================
// INC / DEC
// =============================================================================

func (c *CPU_X86) incdec(w opWidth, v uint32, dec bool) uint32 {
	c.loadCF()
	if dec {
		res := (v - 1) & w.mask()
		c.setLazy(famDEC, w, v, 1, res)
		return res
	}
	res := (v + 1) & w.mask()
	c.setLazy(famINC, w, v, 1, res)
	return res
}

func (c *CPU_X86) opINC_r(w opWidth) {
	r := c.dec.opcode & 7
	c.setReg(w, r, c.incdec(w, c.getReg(w, r), false))
}

func (c *CPU_X86) opDEC_r(w opWidth) {
	r := c.dec.opcode & 7
	c.setReg(w, r, c.incdec(w, c.getReg(w, r), true))
}

// =============================================================================
// Stack Instructions
// =============================================================================

func (c *CPU_X86) opPUSH_r(w opWidth) {
	r := c.dec.opcode & 7
	v := c.getReg(w, r)
	if r == 4 && c.Arch < Arch286 {
		// The 8086 and 186 push SP after decrementing it.
		v = (v - 2) & 0xFFFF
	}
	c.push(w, v)
}

func (c *CPU_X86) opPOP_r(w opWidth) {
	v := c.pop(w)
	c.setReg(w, c.dec.opcode&7, v)
}

// opPUSH_Seg handles PUSH ES/CS/SS/DS; the segment is in opcode bits 4:3.
func (c *CPU_X86) opPUSH_Seg(w opWidth) {
	c.push(w, uint32(c.Seg[(c.dec.opcode>>3)&3].Selector))
}

func (c *CPU_X86) opPOP_Seg(w opWidth) {
	c.popSegment(w, int((c.dec.opcode>>3)&3))
}

// popSegment loads a segment register from the stack. The selector is
// validated before SP moves.
func (c *CPU_X86) popSegment(w opWidth, idx int) {
	sel := uint16(c.peekStack(w, 0))
	c.loadSegment(idx, sel)
	c.stackAdd(widthBytes[w])
	if idx == x86SegSS {
		c.intShadow = true
	}
}

func (c *CPU_X86) opPUSH_Iv(w opWidth) {
	c.push(w, c.fetchImm(w))
}

func (c *CPU_X86) opPUSH_Ib(w opWidth) {
	c.push(w, c.fetchSImm8(w))
}

func (c *CPU_X86) opPOP_Ev(w opWidth) {
	v := c.peekStack(w, 0)
	c.stackAdd(widthBytes[w])
	// An ESP-based destination is computed with ESP already incremented.
	if !c.dec.rmIsReg && c.dec.eaBaseESP {
		c.dec.ea += widthBytes[w]
	}
	c.writeRM(w, v)
}

func (c *CPU_X86) opPUSHA(w opWidth) {
	sp := c.getReg(w, 4)
	if c.Arch < Arch286 {
		// Inferred from software behavior: the 186 stores SP-10.
		sp = (sp - 10) & 0xFFFF
	}
	for r := byte(0); r < 8; r++ {
		v := c.getReg(w, r)
		if r == 4 {
			v = sp
		}
		c.push(w, v)
	}
}

// opPOPA reads the whole frame before touching a register.
func (c *CPU_X86) opPOPA(w opWidth) {
	wb := widthBytes[w]
	var vals [8]uint32
	for i := range 8 {
		vals[7-i] = c.peekStack(w, uint32(i)*wb)
	}
	c.stackAdd(8 * wb)
	for r := byte(0); r < 8; r++ {
		if r != 4 {
			c.setReg(w, r, vals[r])
		}
	}
}

func (c *CPU_X86) opENTER(w opWidth) {
	size := uint32(c.fetch16())
	level := uint32(c.fetch8() & 0x1F)
	wb := widthBytes[w]
	c.push(w, c.getReg(w, 5))
	frame := c.sp()
	if level > 0 {
		bp := c.EBP
		if !c.stackBig() {
			bp &= 0xFFFF
		}
		for i := uint32(1); i < level; i++ {
			bp -= wb
			if !c.stackBig() {
				bp &= 0xFFFF
			}
			c.push(w, c.readMem(x86SegSS, bp, w))
		}
		c.push(w, frame)
	}
	c.setReg(w, 5, frame)
	c.setSP(c.sp() - size)
}

func (c *CPU_X86) opLEAVE(w opWidth) {
	if c.stackBig() {
		c.setSP(c.EBP)
	} else {
		c.setSP(c.EBP & 0xFFFF)
	}
	c.setReg(w, 5, c.pop(w))
}

// =============================================================================
// Protection Checks (BOUND, ARPL)
// =============================================================================

func (c *CPU_X86) opBOUND(w opWidth) {
	c.requireMem()
	idx := w.signExtend(c.getReg(w, c.modReg()))
	lo := w.signExtend(c.readEA(w, 0))
	hi := w.signExtend(c.readEA(w, widthBytes[w]))
	if idx < lo || idx > hi {
		c.raise(excBR)
	}
}

func (c *CPU_X86) opARPL() {
	if !c.protectedMode() {
		c.raise(excUD)
	}
	dst := c.readRM(w16)
	src := c.getReg16(c.modReg())
	c.materializeAll()
	if dst&3 < uint32(src&3) {
		c.writeRM(w16, dst&^3|uint32(src&3))
		c.setFlag(x86FlagZF, true)
		return
	}
	c.setFlag(x86FlagZF, false)
}

// =============================================================================
// MOV Instructions
// =============================================================================

func (c *CPU_X86) opMOV_E_G(w opWidth) { c.writeRM(w, c.getReg(w, c.modReg())) }
func (c *CPU_X86) opMOV_G_E(w opWidth) { c.setReg(w, c.modReg(), c.readRM(w)) }

func (c *CPU_X86) opMOV_Ew_Sreg(w opWidth) {
	r := c.modReg()
	if r > x86SegGS || (r > x86SegDS && c.Arch < Arch386) {
		c.raise(excUD)
	}
	sel := uint32(c.Seg[r].Selector)
	if c.dec.rmIsReg {
		c.setReg(w, c.modRM(), sel)
		return
	}
	c.writeRM(w16, sel)
}

func (c *CPU_X86) opMOV_Sreg_Ew() {
	r := int(c.modReg())
	if r == x86SegCS || r > x86SegGS || (r > x86SegDS && c.Arch < Arch386) {
		c.raise(excUD)
	}
	c.loadSegment(r, uint16(c.readRM(w16)))
	if r == x86SegSS {
		c.intShadow = true
	}
}

// fetchMoffs reads the direct address of MOV A0-A3.
func (c *CPU_X86) fetchMoffs() uint32 {
	if c.dec.addrsize32 {
		return c.fetch32()
	}
	return uint32(c.fetch16())
}

func (c *CPU_X86) opMOV_Acc_Moffs(w opWidth) {
	off := c.fetchMoffs()
	c.setReg(w, 0, c.readMem(c.dataSeg(), off, w))
}

func (c *CPU_X86) opMOV_Moffs_Acc(w opWidth) {
	off := c.fetchMoffs()
	c.writeMem(c.dataSeg(), off, w, c.getReg(w, 0))
}

func (c *CPU_X86) opMOV_r8_Ib() {
	c.setReg8(c.dec.opcode&7, c.fetch8())
}

func (c *CPU_X86) opMOV_r_Iv(w opWidth) {
	c.setReg(w, c.dec.opcode&7, c.fetchImm(w))
}

func (c *CPU_X86) opMOV_E_I(w opWidth) {
	if c.modReg() != 0 {
		c.raise(excUD)
	}
	c.writeRM(w, c.fetchImm(w))
}

func (c *CPU_X86) opLEA(w opWidth) {
	c.requireMem()
	c.setReg(w, c.modReg(), c.eaOffset(0))
}

// opLoadFarPtr implements LES, LDS, LSS, LFS and LGS.
func (c *CPU_X86) opLoadFarPtr(w opWidth, seg int) {
	c.requireMem()
	off := c.readEA(w, 0)
	sel := uint16(c.readEA(w16, widthBytes[w]))
	c.loadSegment(seg, sel)
	if seg == x86SegSS {
		c.intShadow = true
	}
	c.setReg(w, c.modReg(), off)
}

func (c *CPU_X86) opXLAT() {
	base := c.EBX
	if !c.dec.addrsize32 {
		base &= 0xFFFF
	}
	off := base + uint32(c.AL())
	if !c.dec.addrsize32 {
		off &= 0xFFFF
	}
	c.SetAL(uint8(c.readMem(c.dataSeg(), off, w8)))
}

// =============================================================================
// XCHG / TEST
// =============================================================================

func (c *CPU_X86) opXCHG_E_G(w opWidth) {
	a := c.readRM(w)
	b := c.getReg(w, c.modReg())
	c.writeRM(w, b)
	c.setReg(w, c.modReg(), a)
}

func (c *CPU_X86) opXCHG_Acc_r(w opWidth) {
	r := c.dec.opcode & 7
	a := c.getReg(w, 0)
	c.setReg(w, 0, c.getReg(w, r))
	c.setReg(w, r, a)
}

func (c *CPU_X86) test(w opWidth, a, b uint32) {
	c.setLazy(famTEST, w, a, b, a&b)
}

func (c *CPU_X86) opTEST_E_G(w opWidth) {
	c.test(w, c.readRM(w), c.getReg(w, c.modReg()))
}

func (c *CPU_X86) opTEST_Acc_I(w opWidth) {
	c.test(w, c.getReg(w, 0), c.fetchImm(w))
}

// =============================================================================
// Conversions
// =============================================================================

// opCBW is CBW (16-bit) and CWDE (32-bit).
func (c *CPU_X86) opCBW(w opWidth) {
	if w == w32 {
		c.EAX = uint32(int32(int16(c.AX())))
		return
	}
	c.SetAX(uint16(int16(int8(c.AL()))))
}

// opCWD is CWD (16-bit) and CDQ (32-bit).
func (c *CPU_X86) opCWD(w opWidth) {
	if w == w32 {
		c.EDX = uint32(int32(c.EAX) >> 31)
		return
	}
	c.SetDX(uint16(int16(c.AX()) >> 15))
}

func (c *CPU_X86) opSALC() {
	if c.getCF() {
		c.SetAL(0xFF)
	} else {
		c.SetAL(0)
	}
}

// =============================================================================
// Flag Instructions
// =============================================================================

func (c *CPU_X86) opPUSHF(w opWidth) {
	f := c.flagsWord() &^ (x86FlagVM | x86FlagRF)
	c.push(w, f)
}

func (c *CPU_X86) opPOPF(w opWidth) {
	v := c.pop(w)
	c.setFlagsWord(v, w.mask())
}

func (c *CPU_X86) opSAHF() {
	c.setFlagsWord(uint32(c.AH()), x86FlagSF|x86FlagZF|x86FlagAF|x86FlagPF|x86FlagCF)
}

func (c *CPU_X86) opLAHF() {
	c.SetAH(uint8(c.flagsWord()))
}

func (c *CPU_X86) opCMC() {
	c.materializeAll()
	c.Flags ^= x86FlagCF
}

func (c *CPU_X86) opCLC() {
	c.materializeAll()
	c.Flags &^= x86FlagCF
}

func (c *CPU_X86) opSTC() {
	c.materializeAll()
	c.Flags |= x86FlagCF
}

// checkIOPL raises #GP(0) when protected mode code runs above IOPL.
func (c *CPU_X86) checkIOPL() {
	if c.protectedMode() && uint32(c.CPL) > c.iopl() {
		c.raiseGP(0)
	}
}

func (c *CPU_X86) opCLI() {
	c.checkIOPL()
	c.Flags &^= x86FlagIF
}

// opSTI holds interrupts off for one more instruction when IF was clear.
func (c *CPU_X86) opSTI() {
	c.checkIOPL()
	if c.Flags&x86FlagIF == 0 {
		c.intShadow = true
	}
	c.Flags |= x86FlagIF
}

func (c *CPU_X86) opCLD() { c.Flags &^= x86FlagDF }
func (c *CPU_X86) opSTD() { c.Flags |= x86FlagDF }

// =============================================================================
// Control Transfer
// =============================================================================

// jumpRel adds a displacement to EIP. With 16-bit operand size the result
// wraps within the segment's first 64K.
func (c *CPU_X86) jumpRel(disp uint32) {
	c.EIP += disp
	if !c.dec.opsize32 {
		c.EIP &= 0xFFFF
	}
}

// jumpNear loads EIP from an absolute near target.
func (c *CPU_X86) jumpNear(w opWidth, target uint32) {
	c.EIP = target & w.mask()
}

// opJcc_Jb covers 70-7F, and 60-6F on the 8086.
func (c *CPU_X86) opJcc_Jb() {
	disp := uint32(int32(int8(c.fetch8())))
	if c.condition(c.dec.opcode & 0xF) {
		c.jumpRel(disp)
	}
}

func (c *CPU_X86) opJMP_Jb() {
	c.jumpRel(uint32(int32(int8(c.fetch8()))))
}

func (c *CPU_X86) opJMP_Jv(w opWidth) {
	c.jumpRel(c.fetchImm(w))
}

func (c *CPU_X86) opCALL_Jv(w opWidth) {
	disp := c.fetchImm(w)
	c.push(w, c.EIP)
	c.jumpRel(disp)
}

func (c *CPU_X86) opCALL_Ap(w opWidth) {
	off := c.fetchImm(w)
	sel := c.fetch16()
	c.farTransfer(sel, off, w, true)
}

func (c *CPU_X86) opJMP_Ap(w opWidth) {
	off := c.fetchImm(w)
	sel := c.fetch16()
	c.farTransfer(sel, off, w, false)
}

func (c *CPU_X86) opRET(w opWidth) {
	c.jumpNear(w, c.pop(w))
}

func (c *CPU_X86) opRET_Iw(w opWidth) {
	imm := uint32(c.fetch16())
	ip := c.pop(w)
	c.stackAdd(imm)
	c.jumpNear(w, ip)
}

func (c *CPU_X86) opRETF(w opWidth) {
	c.farReturn(w, 0)
}

func (c *CPU_X86) opRETF_Iw(w opWidth) {
	c.farReturn(w, uint32(c.fetch16()))
}

// opLOOP covers LOOPNZ (E0), LOOPZ (E1) and LOOP (E2).
func (c *CPU_X86) opLOOP() {
	disp := uint32(int32(int8(c.fetch8())))
	c.setCountReg(c.countReg() - 1)
	take := c.countReg() != 0
	switch c.dec.opcode {
	case 0xE0:
		take = take && !c.getZF()
	case 0xE1:
		take = take && c.getZF()
	}
	if take {
		c.jumpRel(disp)
	}
}

func (c *CPU_X86) opJCXZ() {
	disp := uint32(int32(int8(c.fetch8())))
	if c.countReg() == 0 {
		c.jumpRel(disp)
	}
}

// =============================================================================
// Interrupts
// =============================================================================

func (c *CPU_X86) opINT3() { c.softwareInterrupt(excBP) }

func (c *CPU_X86) opINT_Ib() {
	c.softwareInterrupt(c.fetch8())
}

func (c *CPU_X86) opINTO() {
	if c.getOF() {
		c.softwareInterrupt(excOF)
	}
}

// opICEBP raises #DB without the gate privilege check applied to INT n.
func (c *CPU_X86) opICEBP() {
	c.deliverTrap(excDB)
}

func (c *CPU_X86) opIRET(w opWidth) {
	c.iret(w)
}

func (c *CPU_X86) opHLT() {
	if c.protectedMode() && c.CPL != 0 {
		c.raiseGP(0)
	}
	c.Halted = true
}

// =============================================================================
// Port I/O
// =============================================================================

func (c *CPU_X86) portIn(w opWidth, port uint16) uint32 {
	switch w {
	case w8:
		return uint32(c.io.In8(port))
	case w16:
		return uint32(c.io.In16(port))
	}
	return c.io.In32(port)
}

func (c *CPU_X86) portOut(w opWidth, port uint16, v uint32) {
	switch w {
	case w8:
		c.io.Out8(port, uint8(v))
	case w16:
		c.io.Out16(port, uint16(v))
	default:
		c.io.Out32(port, v)
	}
}

func (c *CPU_X86) opIN_Ib(w opWidth) {
	port := uint16(c.fetch8())
	c.checkIOPL()
	c.setReg(w, 0, c.portIn(w, port))
}

func (c *CPU_X86) opOUT_Ib(w opWidth) {
	port := uint16(c.fetch8())
	c.checkIOPL()
	c.portOut(w, port, c.getReg(w, 0))
}

func (c *CPU_X86) opIN_DX(w opWidth) {
	c.checkIOPL()
	c.setReg(w, 0, c.portIn(w, c.DX()))
}

func (c *CPU_X86) opOUT_DX(w opWidth) {
	c.checkIOPL()
	c.portOut(w, c.DX(), c.getReg(w, 0))
}

// =============================================================================
// Prefixes
// =============================================================================

// SIMD prefix selectors for opEntry.simd.
const (
	simdNone = iota
	simd66
	simdF2
	simdF3
)

func (c *CPU_X86) prefixSeg() {
	switch c.dec.opcode {
	case 0x26:
		c.dec.seg = x86SegES
	case 0x2E:
		c.dec.seg = x86SegCS
	case 0x36:
		c.dec.seg = x86SegSS
	case 0x3E:
		c.dec.seg = x86SegDS
	case 0x64:
		c.dec.seg = x86SegFS
	case 0x65:
		c.dec.seg = x86SegGS
	}
}

func (c *CPU_X86) prefixOpSize() {
	c.dec.opsize32 = !c.Seg[x86SegCS].Big
	c.dec.lastPrefix = simd66
}

func (c *CPU_X86) prefixAddrSize() {
	c.dec.addrsize32 = !c.Seg[x86SegCS].Big
}

func (c *CPU_X86) prefixLock() { c.dec.lock = true }

func (c *CPU_X86) prefixRepNE() {
	c.dec.rep = repNE
	c.dec.lastPrefix = simdF2
}

func (c *CPU_X86) prefixRepE() {
	c.dec.rep = repE
	c.dec.lastPrefix = simdF3
}

func (c *CPU_X86) prefix0F() { c.dec.esc0F = true }

// =============================================================================
// 8086 Aliases
// =============================================================================

// The 8086 decodes only part of the opcode byte for some rows. These bodies
// run in place of #UD when the CPU level is 8086.

func (c *CPU_X86) legacyPOP_CS() {
	v := c.pop16()
	c.Seg[x86SegCS].Selector = v
	c.Seg[x86SegCS].Base = uint32(v) << 4
}

// legacyJcc treats 60-6F as 70-7F.
func (c *CPU_X86) legacyJcc() {
	c.opJcc_Jb()
}

func (c *CPU_X86) legacyRET_Iw()  { c.opRET_Iw(w16) }
func (c *CPU_X86) legacyRET()     { c.opRET(w16) }
func (c *CPU_X86) legacyRETF_Iw() { c.opRETF_Iw(w16) }
func (c *CPU_X86) legacyRETF()    { c.opRETF(w16) }
