// cpu_x86_modrm.go - ModR/M and SIB effective address decoding
//
// Both address sizes decode through 256-entry tables indexed by the ModR/M
// byte, built once at init. Register forms (mod == 3) are not looked up;
// the operand is a register and reg/rm select it directly.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

type eaForm struct {
	base     int8 // register index, -1 = none
	index    int8 // 16-bit forms only, -1 = none
	disp     uint8
	sib      bool
	stackSeg bool // default segment is SS
}

var (
	ea16Table [256]eaForm
	ea32Table [256]eaForm
)

func init() {
	// 16-bit: BX+SI, BX+DI, BP+SI, BP+DI, SI, DI, BP, BX
	pairs := [8][2]int8{{3, 6}, {3, 7}, {5, 6}, {5, 7}, {6, -1}, {7, -1}, {5, -1}, {3, -1}}
	for m := 0; m < 0xC0; m++ {
		mod, rm := m>>6, m&7
		f := eaForm{base: pairs[rm][0], index: pairs[rm][1]}
		f.stackSeg = f.base == 5
		switch mod {
		case 0:
			if rm == 6 {
				f = eaForm{base: -1, index: -1, disp: 2}
			}
		case 1:
			f.disp = 1
		case 2:
			f.disp = 2
		}
		ea16Table[m] = f
	}
	for m := 0; m < 0xC0; m++ {
		mod, rm := m>>6, m&7
		f := eaForm{base: int8(rm), index: -1}
		switch {
		case rm == 4:
			f = eaForm{base: -1, index: -1, sib: true}
		case rm == 5 && mod == 0:
			f = eaForm{base: -1, index: -1, disp: 4}
		}
		f.stackSeg = rm == 5 && mod != 0
		switch mod {
		case 1:
			f.disp = 1
		case 2:
			f.disp = 4
		}
		ea32Table[m] = f
	}
}

func (c *CPU_X86) fetchDisp(n uint8) uint32 {
	switch n {
	case 1:
		return uint32(int32(int8(c.fetch8())))
	case 2:
		return uint32(c.fetch16())
	case 4:
		return c.fetch32()
	}
	return 0
}

// decodeModRM fetches the ModR/M byte and, for memory forms, the SIB byte
// and displacement. The resulting offset and segment are left in c.dec.
func (c *CPU_X86) decodeModRM() {
	m := c.fetch8()
	c.dec.modrm = m
	if m >= 0xC0 {
		c.dec.rmIsReg = true
		return
	}
	c.dec.rmIsReg = false
	var off uint32
	seg := x86SegDS
	if c.dec.addrsize32 {
		f := &ea32Table[m]
		if f.sib {
			off, seg = c.decodeSIB(m >> 6)
		} else {
			if f.base >= 0 {
				off = c.getReg32(byte(f.base))
			}
			if f.stackSeg {
				seg = x86SegSS
			}
		}
		off += c.fetchDisp(f.disp)
	} else {
		f := &ea16Table[m]
		if f.base >= 0 {
			off = uint32(c.getReg16(byte(f.base)))
		}
		if f.index >= 0 {
			off += uint32(c.getReg16(byte(f.index)))
		}
		off = (off + c.fetchDisp(f.disp)) & 0xFFFF
		if f.stackSeg {
			seg = x86SegSS
		}
	}
	if c.dec.seg >= 0 {
		seg = c.dec.seg
	}
	c.dec.ea = off
	c.dec.eaSeg = seg
}

func (c *CPU_X86) decodeSIB(mod byte) (uint32, int) {
	sib := c.fetch8()
	scale := sib >> 6
	idx := (sib >> 3) & 7
	base := sib & 7
	var off uint32
	seg := x86SegDS
	if idx != 4 {
		off = c.getReg32(idx) << scale
	}
	if base == 5 && mod == 0 {
		off += c.fetch32()
	} else {
		off += c.getReg32(base)
		c.dec.eaBaseESP = base == 4
		if base == 4 || base == 5 {
			seg = x86SegSS
		}
	}
	return off, seg
}

// Field accessors for the current ModR/M byte.
func (c *CPU_X86) modReg() byte { return (c.dec.modrm >> 3) & 7 }
func (c *CPU_X86) modRM() byte  { return c.dec.modrm & 7 }

// eaLinear is the linear address of the memory operand plus add.
func (c *CPU_X86) eaLinear(add uint32) uint32 {
	off := c.dec.ea + add
	if !c.dec.addrsize32 {
		off &= 0xFFFF
	}
	return c.Seg[c.dec.eaSeg].Base + off
}

// eaOffset returns the memory operand offset plus add within its segment.
func (c *CPU_X86) eaOffset(add uint32) uint32 {
	off := c.dec.ea + add
	if !c.dec.addrsize32 {
		off &= 0xFFFF
	}
	return off
}

// requireMem raises #UD for register forms of memory-only instructions.
func (c *CPU_X86) requireMem() {
	if c.dec.rmIsReg {
		c.raise(excUD)
	}
}

// readRM reads the r/m operand at width w.
func (c *CPU_X86) readRM(w opWidth) uint32 {
	if c.dec.rmIsReg {
		return c.getReg(w, c.modRM())
	}
	lin := c.eaLinear(0)
	switch w {
	case w8:
		return uint32(c.mmu.ReadB(lin))
	case w16:
		return uint32(c.mmu.ReadW(lin))
	}
	return c.mmu.ReadD(lin)
}

// writeRM writes the r/m operand at width w.
func (c *CPU_X86) writeRM(w opWidth, v uint32) {
	if c.dec.rmIsReg {
		c.setReg(w, c.modRM(), v)
		return
	}
	lin := c.eaLinear(0)
	switch w {
	case w8:
		c.mmu.WriteB(lin, uint8(v))
	case w16:
		c.mmu.WriteW(lin, uint16(v))
	default:
		c.mmu.WriteD(lin, v)
	}
}

// readEA reads memory at the operand address plus add, for instructions
// whose operand is wider than a register (far pointers, BOUND, CMPXCHG8B).
func (c *CPU_X86) readEA(w opWidth, add uint32) uint32 {
	return c.readMem(c.dec.eaSeg, c.eaOffset(add), w)
}

func (c *CPU_X86) writeEA(w opWidth, add uint32, v uint32) {
	c.writeMem(c.dec.eaSeg, c.eaOffset(add), w, v)
}
