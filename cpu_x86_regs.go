// cpu_x86_regs.go - Register file accessors
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// -----------------------------------------------------------------------------
// Register Access Helpers
// -----------------------------------------------------------------------------

// 16-bit register accessors
func (c *CPU_X86) AX() uint16 { return uint16(c.EAX) }
func (c *CPU_X86) BX() uint16 { return uint16(c.EBX) }
func (c *CPU_X86) CX() uint16 { return uint16(c.ECX) }
func (c *CPU_X86) DX() uint16 { return uint16(c.EDX) }
func (c *CPU_X86) SP() uint16 { return uint16(c.ESP) }
func (c *CPU_X86) BP() uint16 { return uint16(c.EBP) }
func (c *CPU_X86) SI() uint16 { return uint16(c.ESI) }
func (c *CPU_X86) DI() uint16 { return uint16(c.EDI) }

func (c *CPU_X86) SetAX(v uint16) { c.EAX = (c.EAX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetBX(v uint16) { c.EBX = (c.EBX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetCX(v uint16) { c.ECX = (c.ECX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetDX(v uint16) { c.EDX = (c.EDX & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetSP(v uint16) { c.ESP = (c.ESP & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetBP(v uint16) { c.EBP = (c.EBP & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetSI(v uint16) { c.ESI = (c.ESI & 0xFFFF0000) | uint32(v) }
func (c *CPU_X86) SetDI(v uint16) { c.EDI = (c.EDI & 0xFFFF0000) | uint32(v) }

// 8-bit register accessors
func (c *CPU_X86) AL() byte { return byte(c.EAX) }
func (c *CPU_X86) AH() byte { return byte(c.EAX >> 8) }
func (c *CPU_X86) BL() byte { return byte(c.EBX) }
func (c *CPU_X86) CL() byte { return byte(c.ECX) }
func (c *CPU_X86) DL() byte { return byte(c.EDX) }

func (c *CPU_X86) SetAL(v byte) { c.EAX = (c.EAX & 0xFFFFFF00) | uint32(v) }
func (c *CPU_X86) SetAH(v byte) { c.EAX = (c.EAX & 0xFFFF00FF) | (uint32(v) << 8) }
func (c *CPU_X86) SetDL(v byte) { c.EDX = (c.EDX & 0xFFFFFF00) | uint32(v) }

// getReg8 gets an 8-bit register by index (0-7: AL, CL, DL, BL, AH, CH, DH, BH)
func (c *CPU_X86) getReg8(idx byte) byte {
	r := c.regs32[idx&3]
	if idx&4 != 0 {
		return byte(*r >> 8)
	}
	return byte(*r)
}

func (c *CPU_X86) setReg8(idx byte, v byte) {
	r := c.regs32[idx&3]
	if idx&4 != 0 {
		*r = (*r & 0xFFFF00FF) | uint32(v)<<8
		return
	}
	*r = (*r & 0xFFFFFF00) | uint32(v)
}

// getReg16 gets a 16-bit register by index (0-7: AX, CX, DX, BX, SP, BP, SI, DI)
func (c *CPU_X86) getReg16(idx byte) uint16 {
	return uint16(*c.regs32[idx&7])
}

func (c *CPU_X86) setReg16(idx byte, v uint16) {
	r := c.regs32[idx&7]
	*r = (*r & 0xFFFF0000) | uint32(v)
}

// getReg32 gets a 32-bit register by index (0-7: EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI)
func (c *CPU_X86) getReg32(idx byte) uint32 {
	return *c.regs32[idx&7]
}

func (c *CPU_X86) setReg32(idx byte, v uint32) {
	*c.regs32[idx&7] = v
}

// getReg reads register idx at width w.
func (c *CPU_X86) getReg(w opWidth, idx byte) uint32 {
	switch w {
	case w8:
		return uint32(c.getReg8(idx))
	case w16:
		return uint32(c.getReg16(idx))
	}
	return c.getReg32(idx)
}

// setReg writes register idx at width w. Narrow writes keep the upper bits.
func (c *CPU_X86) setReg(w opWidth, idx byte, v uint32) {
	switch w {
	case w8:
		c.setReg8(idx, byte(v))
	case w16:
		c.setReg16(idx, uint16(v))
	default:
		c.setReg32(idx, v)
	}
}

// ow is the operand width of the current instruction.
func (c *CPU_X86) ow() opWidth {
	if c.dec.opsize32 {
		return w32
	}
	return w16
}

// countReg is CX or ECX, by address size.
func (c *CPU_X86) countReg() uint32 {
	if c.dec.addrsize32 {
		return c.ECX
	}
	return c.ECX & 0xFFFF
}

func (c *CPU_X86) setCountReg(v uint32) {
	if c.dec.addrsize32 {
		c.ECX = v
	} else {
		c.SetCX(uint16(v))
	}
}

// -----------------------------------------------------------------------------
// Flag Helpers
// -----------------------------------------------------------------------------

// setFlag writes a stored flag bit. Callers that touch arithmetic flags must
// have materialized the lazy state first.
func (c *CPU_X86) setFlag(flag uint32, set bool) {
	if set {
		c.Flags |= flag
	} else {
		c.Flags &^= flag
	}
}

func (c *CPU_X86) flag(flag uint32) bool {
	return c.Flags&flag != 0
}
