// cpu_x86_grp.go - x86 CPU Group Opcode Implementations (Grp1-5, shifts, multiply/divide, BCD)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// =============================================================================
// Group 1 (ADD, OR, ADC, SBB, AND, SUB, XOR, CMP)
// =============================================================================

// opGrp1_E_I handles 80 and 81: the immediate has the operand width.
func (c *CPU_X86) opGrp1_E_I(w opWidth) {
	a := c.readRM(w)
	b := c.fetchImm(w)
	if res, store := c.alu(int(c.modReg()), w, a, b); store {
		c.writeRM(w, res)
	}
}

// opGrp1_Ev_Ib handles 83: a sign-extended byte immediate.
func (c *CPU_X86) opGrp1_Ev_Ib(w opWidth) {
	a := c.readRM(w)
	b := c.fetchSImm8(w)
	if res, store := c.alu(int(c.modReg()), w, a, b); store {
		c.writeRM(w, res)
	}
}

// =============================================================================
// Group 2 (ROL, ROR, RCL, RCR, SHL, SHR, SAL, SAR)
// =============================================================================

func (c *CPU_X86) opGrp2_1(w opWidth)  { c.shiftRotate(w, 1) }
func (c *CPU_X86) opGrp2_CL(w opWidth) { c.shiftRotate(w, uint32(c.CL())) }

func (c *CPU_X86) opGrp2_Ib(w opWidth) {
	c.shiftRotate(w, uint32(c.fetch8()))
}

// shiftRotate applies the group 2 operation in the reg field. The 186 and
// later mask the count to five bits; the 8086 uses it whole.
func (c *CPU_X86) shiftRotate(w opWidth, count uint32) {
	if c.Arch >= Arch186 {
		count &= 0x1F
	}
	if count == 0 {
		return
	}
	v := c.readRM(w)
	m := w.mask()
	bits := w.bits()
	sign := w.sign()
	var res uint32

	switch c.modReg() {
	case 0: // ROL
		n := count % bits
		res = (v<<n | v>>(bits-n)) & m
		c.materializeExceptCarryOverflow()
		cf := res&1 != 0
		c.setFlag(x86FlagCF, cf)
		c.setFlag(x86FlagOF, (res&sign != 0) != cf)
	case 1: // ROR
		n := count % bits
		res = (v>>n | v<<(bits-n)) & m
		c.materializeExceptCarryOverflow()
		c.setFlag(x86FlagCF, res&sign != 0)
		c.setFlag(x86FlagOF, (res^(res<<1))&sign != 0)
	case 2: // RCL
		cf := c.getCF()
		n := uint64(count % (bits + 1))
		x := uint64(v) | uint64(b2u(cf))<<bits
		span := uint64(bits) + 1
		x = (x<<n | x>>(span-n)) & (1<<span - 1)
		res = uint32(x) & m
		c.materializeExceptCarryOverflow()
		newCF := x>>bits&1 != 0
		c.setFlag(x86FlagCF, newCF)
		c.setFlag(x86FlagOF, (res&sign != 0) != newCF)
	case 3: // RCR
		cf := c.getCF()
		n := uint64(count % (bits + 1))
		x := uint64(v) | uint64(b2u(cf))<<bits
		span := uint64(bits) + 1
		x = (x>>n | x<<(span-n)) & (1<<span - 1)
		res = uint32(x) & m
		c.materializeExceptCarryOverflow()
		c.setFlag(x86FlagCF, x>>bits&1 != 0)
		c.setFlag(x86FlagOF, (res^(res<<1))&sign != 0)
	case 4, 6: // SHL, SAL
		if count < 32 {
			res = (v << count) & m
		}
		c.setLazy(famSHL, w, v, count, res)
	case 5: // SHR
		if count < 32 {
			res = v >> count
		}
		c.setLazy(famSHR, w, v, count, res)
	case 7: // SAR
		s := min(count, 31)
		res = uint32(w.signExtend(v)>>s) & m
		c.setLazy(famSAR, w, v, count, res)
	}
	c.writeRM(w, res)
}

// =============================================================================
// Group 3 (TEST, NOT, NEG, MUL, IMUL, DIV, IDIV)
// =============================================================================

func (c *CPU_X86) opGrp3(w opWidth) {
	switch c.modReg() {
	case 0, 1: // TEST
		a := c.readRM(w)
		c.test(w, a, c.fetchImm(w))
	case 2: // NOT
		c.writeRM(w, ^c.readRM(w)&w.mask())
	case 3: // NEG
		v := c.readRM(w)
		res := (0 - v) & w.mask()
		c.setLazy(famNEG, w, v, 0, res)
		c.writeRM(w, res)
	case 4:
		c.mul(w, c.readRM(w))
	case 5:
		c.imul(w, c.readRM(w))
	case 6:
		c.div(w, c.readRM(w))
	case 7:
		c.idiv(w, c.readRM(w))
	}
}

// mul is the one-operand unsigned multiply into AX, DX:AX or EDX:EAX. CF
// and OF report a non-zero upper half.
func (c *CPU_X86) mul(w opWidth, src uint32) {
	var high uint32
	switch w {
	case w8:
		r := uint32(c.AL()) * (src & 0xFF)
		c.SetAX(uint16(r))
		high = r >> 8
	case w16:
		r := uint32(c.AX()) * (src & 0xFFFF)
		c.SetAX(uint16(r))
		c.SetDX(uint16(r >> 16))
		high = r >> 16
	default:
		r := uint64(c.EAX) * uint64(src)
		c.EAX = uint32(r)
		c.EDX = uint32(r >> 32)
		high = c.EDX
	}
	c.materializeExceptCarryOverflow()
	c.setFlag(x86FlagCF, high != 0)
	c.setFlag(x86FlagOF, high != 0)
}

// imul is the one-operand signed multiply. CF and OF report that the
// product does not fit the lower half.
func (c *CPU_X86) imul(w opWidth, src uint32) {
	var over bool
	switch w {
	case w8:
		r := int16(int8(c.AL())) * int16(int8(src))
		c.SetAX(uint16(r))
		over = r != int16(int8(r))
	case w16:
		r := int32(int16(c.AX())) * int32(int16(src))
		c.SetAX(uint16(r))
		c.SetDX(uint16(r >> 16))
		over = r != int32(int16(r))
	default:
		r := int64(int32(c.EAX)) * int64(int32(src))
		c.EAX = uint32(r)
		c.EDX = uint32(r >> 32)
		over = r != int64(int32(r))
	}
	c.materializeExceptCarryOverflow()
	c.setFlag(x86FlagCF, over)
	c.setFlag(x86FlagOF, over)
}

// imulTrunc is the two- and three-operand IMUL: the product truncated to
// the operand width.
func (c *CPU_X86) imulTrunc(w opWidth, a, b uint32) uint32 {
	p := int64(w.signExtend(a)) * int64(w.signExtend(b))
	res := uint32(p) & w.mask()
	over := p != int64(w.signExtend(res))
	c.materializeExceptCarryOverflow()
	c.setFlag(x86FlagCF, over)
	c.setFlag(x86FlagOF, over)
	return res
}

// div raises #DE on a zero divisor or a quotient that overflows, leaving
// the registers untouched.
func (c *CPU_X86) div(w opWidth, src uint32) {
	src &= w.mask()
	if src == 0 {
		c.raise(excDE)
	}
	switch w {
	case w8:
		n := uint32(c.AX())
		q := n / src
		if q > 0xFF {
			c.raise(excDE)
		}
		c.SetAL(uint8(q))
		c.SetAH(uint8(n % src))
	case w16:
		n := uint32(c.DX())<<16 | uint32(c.AX())
		q := n / src
		if q > 0xFFFF {
			c.raise(excDE)
		}
		c.SetAX(uint16(q))
		c.SetDX(uint16(n % src))
	default:
		n := uint64(c.EDX)<<32 | uint64(c.EAX)
		q := n / uint64(src)
		if q > 0xFFFFFFFF {
			c.raise(excDE)
		}
		c.EAX = uint32(q)
		c.EDX = uint32(n % uint64(src))
	}
}

func (c *CPU_X86) idiv(w opWidth, src uint32) {
	if src&w.mask() == 0 {
		c.raise(excDE)
	}
	d := int64(w.signExtend(src))
	switch w {
	case w8:
		n := int64(int16(c.AX()))
		q := n / d
		if q > 127 || q < -128 {
			c.raise(excDE)
		}
		c.SetAL(uint8(q))
		c.SetAH(uint8(n % d))
	case w16:
		n := int64(int32(uint32(c.DX())<<16 | uint32(c.AX())))
		q := n / d
		if q > 32767 || q < -32768 {
			c.raise(excDE)
		}
		c.SetAX(uint16(q))
		c.SetDX(uint16(n % d))
	default:
		n := int64(uint64(c.EDX)<<32 | uint64(c.EAX))
		q := n / d
		if q > 0x7FFFFFFF || q < -0x80000000 || (n == -1<<63 && d == -1) {
			c.raise(excDE)
		}
		c.EAX = uint32(q)
		c.EDX = uint32(n % d)
	}
}

// opIMUL_G_E_I handles 69 and 6B.
func (c *CPU_X86) opIMUL_G_E_I(w opWidth) {
	a := c.readRM(w)
	var b uint32
	if c.dec.opcode == 0x6B {
		b = c.fetchSImm8(w)
	} else {
		b = c.fetchImm(w)
	}
	c.setReg(w, c.modReg(), c.imulTrunc(w, a, b))
}

// =============================================================================
// Group 4 and 5 (INC, DEC, CALL, JMP, PUSH)
// =============================================================================

func (c *CPU_X86) opGrp4() {
	switch c.modReg() {
	case 0:
		c.writeRM(w8, c.incdec(w8, c.readRM(w8), false))
	case 1:
		c.writeRM(w8, c.incdec(w8, c.readRM(w8), true))
	default:
		c.raise(excUD)
	}
}

func (c *CPU_X86) opGrp5(w opWidth) {
	switch c.modReg() {
	case 0:
		c.writeRM(w, c.incdec(w, c.readRM(w), false))
	case 1:
		c.writeRM(w, c.incdec(w, c.readRM(w), true))
	case 2: // CALL near indirect
		target := c.readRM(w)
		c.push(w, c.EIP)
		c.jumpNear(w, target)
	case 3: // CALL far indirect
		c.requireMem()
		off := c.readEA(w, 0)
		sel := uint16(c.readEA(w16, widthBytes[w]))
		c.farTransfer(sel, off, w, true)
	case 4: // JMP near indirect
		c.jumpNear(w, c.readRM(w))
	case 5: // JMP far indirect
		c.requireMem()
		off := c.readEA(w, 0)
		sel := uint16(c.readEA(w16, widthBytes[w]))
		c.farTransfer(sel, off, w, false)
	case 6: // PUSH
		c.push(w, c.readRM(w))
	default:
		c.raise(excUD)
	}
}

// =============================================================================
// BCD Adjust
// =============================================================================

func (c *CPU_X86) opDAA() {
	al := c.AL()
	cf, af := c.getCF(), c.getAF()
	c.materializeAll()
	old := al
	if al&0x0F > 9 || af {
		al += 6
		af = true
	} else {
		af = false
	}
	if old > 0x99 || cf {
		al += 0x60
		cf = true
	} else {
		cf = false
	}
	c.SetAL(al)
	c.setFlag(x86FlagCF, cf)
	c.setFlag(x86FlagAF, af)
	c.setFlagsSZP(w8, uint32(al))
}

func (c *CPU_X86) opDAS() {
	al := c.AL()
	oldCF, af := c.getCF(), c.getAF()
	c.materializeAll()
	old := al
	cf := false
	if al&0x0F > 9 || af {
		cf = oldCF || al < 6
		al -= 6
		af = true
	} else {
		af = false
	}
	if old > 0x99 || oldCF {
		al -= 0x60
		cf = true
	}
	c.SetAL(al)
	c.setFlag(x86FlagCF, cf)
	c.setFlag(x86FlagAF, af)
	c.setFlagsSZP(w8, uint32(al))
}

// opAAA adjusts AX after an unpacked BCD add. The 286 and later carry into
// AH through a 16-bit add.
func (c *CPU_X86) opAAA() {
	adjust := c.AL()&0x0F > 9 || c.getAF()
	c.materializeAll()
	if adjust {
		if c.Arch >= Arch286 {
			c.SetAX(c.AX() + 0x106)
		} else {
			c.SetAL(c.AL() + 6)
			c.SetAH(c.AH() + 1)
		}
	}
	c.SetAL(c.AL() & 0x0F)
	c.setFlag(x86FlagCF, adjust)
	c.setFlag(x86FlagAF, adjust)
	c.setFlagsSZP(w8, uint32(c.AL()))
}

func (c *CPU_X86) opAAS() {
	adjust := c.AL()&0x0F > 9 || c.getAF()
	c.materializeAll()
	if adjust {
		if c.Arch >= Arch286 {
			c.SetAX(c.AX() - 6)
			c.SetAH(c.AH() - 1)
		} else {
			c.SetAL(c.AL() - 6)
			c.SetAH(c.AH() - 1)
		}
	}
	c.SetAL(c.AL() & 0x0F)
	c.setFlag(x86FlagCF, adjust)
	c.setFlag(x86FlagAF, adjust)
	c.setFlagsSZP(w8, uint32(c.AL()))
}

func (c *CPU_X86) opAAM() {
	base := c.fetch8()
	if base == 0 {
		c.raise(excDE)
	}
	al := c.AL()
	c.SetAH(al / base)
	c.SetAL(al % base)
	c.setLazy(famOR, w8, uint32(c.AL()), 0, uint32(c.AL()))
}

func (c *CPU_X86) opAAD() {
	base := c.fetch8()
	al := c.AL() + c.AH()*base
	c.SetAX(uint16(al))
	c.setLazy(famOR, w8, uint32(al), 0, uint32(al))
}
