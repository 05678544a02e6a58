package main

import "math"

var x87BinaryOpTable = [8]func(a, b float64) float64{
	0: func(a, b float64) float64 { return a + b }, // FADD
	1: func(a, b float64) float64 { return a * b }, // FMUL
	4: func(a, b float64) float64 { return a - b }, // FSUB
	5: func(a, b float64) float64 { return b - a }, // FSUBR
	6: func(a, b float64) float64 { return a / b }, // FDIV
	7: func(a, b float64) float64 { return b / a }, // FDIVR
}

func x87CheckBinaryExceptions(f *FPU_X87, op int, r, a, b float64) {
	bits := math.Float64bits(r)
	exp := bits & 0x7FF0000000000000
	frac := bits & 0x000FFFFFFFFFFFFF
	if exp == 0x7FF0000000000000 && !math.IsNaN(a) && !math.IsNaN(b) && !math.IsInf(a, 0) && !math.IsInf(b, 0) {
		if frac != 0 {
			f.setException(x87FSW_IE) // invalid operation
		} else if op < 6 {
			f.setException(x87FSW_OE)
		}
	}
	if op >= 6 { // FDIV or FDIVR
		den := b
		if op == 7 {
			den = a
		}
		if den == 0 && !math.IsNaN(r) {
			f.setException(x87FSW_ZE)
		}
	}
}

// x87LinearBus gives the FPU byte access to linear memory through the
// paging unit, so operand faults unwind like any other access.
type x87LinearBus struct{ m *MMU }

func (b x87LinearBus) Read(addr uint32) byte         { return b.m.ReadB(addr) }
func (b x87LinearBus) Write(addr uint32, value byte) { b.m.WriteB(addr, value) }

func (c *CPU_X86) x87Bus() x87Bus { return x87LinearBus{c.mmu} }

func (c *CPU_X86) x87RegPair() (int, int) {
	return int(c.modReg()), int(c.modRM())
}

// x87MemAddr returns the operand's linear address and records it as the
// last data pointer.
func (c *CPU_X86) x87MemAddr() uint32 {
	c.FPU.FDP = c.eaOffset(0)
	c.FPU.FDS = c.Seg[c.dec.eaSeg].Selector
	return c.eaLinear(0)
}

func (c *CPU_X86) x87MemAddrNoCapture() uint32 {
	return c.eaLinear(0)
}

// fpuCheckPending raises #MF for an unmasked exception left by an earlier
// instruction. Without CR0.NE the error would go to an external FERR line,
// which is not wired.
func (c *CPU_X86) fpuCheckPending() {
	if c.FPU.FSW&x87FSW_ES != 0 && c.CR0&cr0NE != 0 && c.Arch >= Arch486Old {
		c.raise(excMF)
	}
}

// x87NoWait reports the control instructions that do not check for pending
// exceptions (the FN forms).
func x87NoWait(esc, modrm byte) bool {
	reg := (modrm >> 3) & 7
	switch esc {
	case 0xD9:
		return modrm < 0xC0 && (reg == 6 || reg == 7)
	case 0xDB:
		return modrm >= 0xE0 && modrm <= 0xE4
	case 0xDD:
		return modrm < 0xC0 && (reg == 6 || reg == 7)
	case 0xDF:
		return modrm == 0xE0
	}
	return false
}

// opWAIT implements WAIT/FWAIT.
func (c *CPU_X86) opWAIT() {
	if c.CR0&(cr0TS|cr0MP) == cr0TS|cr0MP {
		c.raise(excNM)
	}
	c.fpuCheckPending()
}

// opESC dispatches D8-DF.
func (c *CPU_X86) opESC() {
	if c.CR0&(cr0EM|cr0TS) != 0 {
		c.raise(excNM)
	}
	esc := c.dec.opcode
	if !x87NoWait(esc, c.dec.modrm) {
		c.fpuCheckPending()
	}
	f := c.FPU
	if !x87NoWait(esc, c.dec.modrm) {
		f.FIP = c.dec.startEIP
		f.FCS = c.Seg[x86SegCS].Selector
		f.FOP = (uint16(esc&0x7) << 8) | uint16(c.dec.modrm)
	}
	switch esc {
	case 0xD8:
		c.opFPU_D8()
	case 0xD9:
		c.opFPU_D9()
	case 0xDA:
		c.opFPU_DA()
	case 0xDB:
		c.opFPU_DB()
	case 0xDC:
		c.opFPU_DC()
	case 0xDD:
		c.opFPU_DD()
	case 0xDE:
		c.opFPU_DE()
	case 0xDF:
		c.opFPU_DF()
	}
}

// x87Unsupported logs an ESC encoding this FPU generation does not have and
// treats it as a no-op.
func (c *CPU_X86) x87Unsupported(what string) {
	c.logUnhandled("fpu:"+what, "x87 operation not implemented for this CPU level")
}

func (c *CPU_X86) x87BinaryST0STi(op int, i int) {
	f := c.FPU
	t := f.top()
	p0 := t & 7
	pi := (t + i) & 7
	if f.getTag(p0) == x87TagEmpty || f.getTag(pi) == x87TagEmpty {
		f.setException(x87FSW_IE | x87FSW_SF)
		f.FSW &^= x87FSW_C1
		return
	}
	fn := x87BinaryOpTable[op&7]
	if fn == nil {
		return
	}
	a, b := f.regs[p0], f.regs[pi]
	r := fn(a, b)
	x87CheckBinaryExceptions(f, op, r, a, b)
	f.setPhys(p0, r)
}

func (c *CPU_X86) x87BinarySTiST0(op int, i int) {
	f := c.FPU
	t := f.top()
	p0 := t & 7
	pi := (t + i) & 7
	if f.getTag(p0) == x87TagEmpty || f.getTag(pi) == x87TagEmpty {
		f.setException(x87FSW_IE | x87FSW_SF)
		f.FSW &^= x87FSW_C1
		return
	}
	fn := x87BinaryOpTable[op&7]
	if fn == nil {
		return
	}
	a, b := f.regs[pi], f.regs[p0]
	r := fn(a, b)
	x87CheckBinaryExceptions(f, op, r, a, b)
	f.setPhys(pi, r)
}

func (c *CPU_X86) x87BinaryMem(op int, v float64) {
	f := c.FPU
	p0 := f.top() & 7
	if f.getTag(p0) == x87TagEmpty {
		f.setException(x87FSW_IE | x87FSW_SF)
		f.FSW &^= x87FSW_C1
		return
	}
	fn := x87BinaryOpTable[op&7]
	if fn == nil {
		return
	}
	a := f.regs[p0]
	r := fn(a, v)
	x87CheckBinaryExceptions(f, op, r, a, v)
	f.setPhys(p0, r)
}

// x87CompareMem handles the FCOM/FCOMP/FICOM/FICOMP memory forms.
func (c *CPU_X86) x87CompareMem(reg int, v float64) {
	f := c.FPU
	if f.checkStackUnderflow(0) {
		return
	}
	f.doCompare(f.ST(0), v, true)
	if reg == 3 {
		f.pop()
	}
}

// x87ArithMem runs the shared reg field layout of D8/DA/DC/DE memory forms.
func (c *CPU_X86) x87ArithMem(reg int, v float64) {
	switch reg {
	case 2, 3:
		c.x87CompareMem(reg, v)
	default:
		c.x87BinaryMem(reg, v)
	}
}

// x87CompareEFLAGS implements FCOMI/FUCOMI: ZF, PF and CF receive the
// result, OF, SF and AF are cleared.
func (c *CPU_X86) x87CompareEFLAGS(i int, signalNaN bool) {
	f := c.FPU
	if f.checkStackUnderflow(0) || f.checkStackUnderflow(i) {
		return
	}
	a, b := f.ST(0), f.ST(i)
	c.materializeAll()
	c.Flags &^= arithFlagsMask
	f.FSW &^= x87FSW_C1
	switch {
	case math.IsNaN(a) || math.IsNaN(b):
		c.Flags |= x86FlagZF | x86FlagPF | x86FlagCF
		if signalNaN {
			f.setException(x87FSW_IE)
		}
	case a < b:
		c.Flags |= x86FlagCF
	case a == b:
		c.Flags |= x86FlagZF
	}
}

// x87FCMOV copies ST(i) to ST(0) when the EFLAGS condition holds.
func (c *CPU_X86) x87FCMOV(cond bool, i int) {
	f := c.FPU
	if f.checkStackUnderflow(0) || f.checkStackUnderflow(i) {
		return
	}
	if cond {
		f.setST(0, f.ST(i))
	}
}

func (c *CPU_X86) opFPU_D8() {
	f := c.FPU
	reg, rm := c.x87RegPair()
	if c.dec.rmIsReg {
		switch reg {
		case 0, 1, 4, 5, 6, 7:
			c.x87BinaryST0STi(reg, rm)
		case 2:
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(rm) {
				f.doCompare(f.ST(0), f.ST(rm), true)
			}
		case 3:
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(rm) {
				f.doCompare(f.ST(0), f.ST(rm), true)
				f.pop()
			}
		}
		return
	}
	addr := c.x87MemAddr()
	c.x87ArithMem(reg, f.loadFloat32(c.x87Bus(), addr))
}

var x87D9RegOps [64]func(*CPU_X86)

func init() {
	// FLD ST(i): 0xC0-0xC7 → indices 0x00-0x07
	for i := range 8 {
		idx := i
		x87D9RegOps[idx] = func(c *CPU_X86) {
			f := c.FPU
			if !f.checkStackUnderflow(idx) {
				f.push(f.ST(idx))
			}
		}
	}
	// FXCH ST(i): 0xC8-0xCF → indices 0x08-0x0F
	for i := range 8 {
		idx := i
		x87D9RegOps[0x08+idx] = func(c *CPU_X86) {
			f := c.FPU
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(idx) {
				a := f.ST(0)
				b := f.ST(idx)
				f.setST(0, b)
				f.setST(idx, a)
			}
		}
	}
	// FNOP: 0xD0 → index 0x10
	x87D9RegOps[0x10] = func(c *CPU_X86) {}
	// FCHS: 0xE0 → index 0x20
	x87D9RegOps[0x20] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.setST(0, -f.ST(0))
		}
	}
	// FABS: 0xE1 → index 0x21
	x87D9RegOps[0x21] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.setST(0, math.Abs(f.ST(0)))
		}
	}
	// FTST: 0xE4 → index 0x24
	x87D9RegOps[0x24] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.doCompare(f.ST(0), 0, true)
		}
	}
	// FXAM: 0xE5 → index 0x25
	x87D9RegOps[0x25] = func(c *CPU_X86) {
		f := c.FPU
		top := f.top()
		f.xam(f.regs[top], f.getTag(top) == x87TagEmpty)
	}
	// Constants: 0xE8-0xEE → indices 0x28-0x2E
	for i := range 7 {
		idx := i
		x87D9RegOps[0x28+idx] = func(c *CPU_X86) {
			c.FPU.push(x87ConstTable[idx])
		}
	}
	// F2XM1: 0xF0 → index 0x30
	x87D9RegOps[0x30] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.setST(0, math.Exp2(f.ST(0))-1.0)
		}
	}
	// FYL2X: 0xF1 → index 0x31
	x87D9RegOps[0x31] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
			x := f.ST(0)
			y := f.ST(1)
			if x < 0 {
				f.setException(x87FSW_IE)
			} else if x == 0 && !math.IsNaN(y) && !math.IsInf(y, 0) && y != 0 {
				f.setException(x87FSW_ZE)
			}
			f.setST(1, y*math.Log2(x))
			f.pop()
		}
	}
	// FPTAN: 0xF2 → index 0x32
	x87D9RegOps[0x32] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.FSW &^= x87FSW_C2
			f.setST(0, math.Tan(f.ST(0)))
			f.push(1.0)
		}
	}
	// FPATAN: 0xF3 → index 0x33
	x87D9RegOps[0x33] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
			f.setST(1, math.Atan2(f.ST(1), f.ST(0)))
			f.pop()
		}
	}
	// FXTRACT: 0xF4 → index 0x34
	x87D9RegOps[0x34] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			x := f.ST(0)
			if x == 0 {
				f.setException(x87FSW_ZE)
				f.setST(0, math.Inf(-1))
				f.push(x)
			} else {
				frac, exp := math.Frexp(x)
				f.setST(0, float64(exp-1))
				f.push(frac * 2)
			}
		}
	}
	// FPREM1: 0xF5 → index 0x35 (387 and later)
	x87D9RegOps[0x35] = func(c *CPU_X86) {
		if c.Arch < Arch386 {
			c.x87Unsupported("fprem1")
			return
		}
		f := c.FPU
		if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
			a := f.ST(0)
			b := f.ST(1)
			q := int64(math.RoundToEven(a / b))
			f.setST(0, math.Remainder(a, b))
			f.FSW &^= x87FSW_C2
			f.setQuotientFlags(q)
		}
	}
	// FDECSTP: 0xF6 → index 0x36
	x87D9RegOps[0x36] = func(c *CPU_X86) {
		f := c.FPU
		f.setTop((f.top() - 1) & 7)
	}
	// FINCSTP: 0xF7 → index 0x37
	x87D9RegOps[0x37] = func(c *CPU_X86) {
		f := c.FPU
		f.setTop((f.top() + 1) & 7)
	}
	// FPREM: 0xF8 → index 0x38
	x87D9RegOps[0x38] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
			a := f.ST(0)
			b := f.ST(1)
			q := int64(math.Trunc(a / b))
			f.setST(0, math.Mod(a, b))
			f.FSW &^= x87FSW_C2
			f.setQuotientFlags(q)
		}
	}
	// FYL2XP1: 0xF9 → index 0x39
	x87D9RegOps[0x39] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
			x := f.ST(0)
			y := f.ST(1)
			if x <= -1 {
				f.setException(x87FSW_IE)
			}
			f.setST(1, y*math.Log1p(x)/math.Ln2)
			f.pop()
		}
	}
	// FSQRT: 0xFA → index 0x3A
	x87D9RegOps[0x3A] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			x := f.ST(0)
			if x < 0 {
				f.setException(x87FSW_IE)
			}
			f.setST(0, math.Sqrt(x))
		}
	}
	// FSINCOS: 0xFB → index 0x3B (387 and later)
	x87D9RegOps[0x3B] = func(c *CPU_X86) {
		if c.Arch < Arch386 {
			c.x87Unsupported("fsincos")
			return
		}
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			x := f.ST(0)
			f.setST(0, math.Sin(x))
			f.push(math.Cos(x))
			f.FSW &^= x87FSW_C2
		}
	}
	// FRNDINT: 0xFC → index 0x3C
	x87D9RegOps[0x3C] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.setST(0, f.roundPerFCW(f.ST(0)))
		}
	}
	// FSCALE: 0xFD → index 0x3D
	x87D9RegOps[0x3D] = func(c *CPU_X86) {
		f := c.FPU
		if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
			scale := int(math.Trunc(f.ST(1)))
			f.setST(0, math.Ldexp(f.ST(0), scale))
		}
	}
	// FSIN: 0xFE → index 0x3E (387 and later)
	x87D9RegOps[0x3E] = func(c *CPU_X86) {
		if c.Arch < Arch386 {
			c.x87Unsupported("fsin")
			return
		}
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.setST(0, math.Sin(f.ST(0)))
			f.FSW &^= x87FSW_C2
		}
	}
	// FCOS: 0xFF → index 0x3F (387 and later)
	x87D9RegOps[0x3F] = func(c *CPU_X86) {
		if c.Arch < Arch386 {
			c.x87Unsupported("fcos")
			return
		}
		f := c.FPU
		if !f.checkStackUnderflow(0) {
			f.setST(0, math.Cos(f.ST(0)))
			f.FSW &^= x87FSW_C2
		}
	}
}

func (c *CPU_X86) opFPU_D9() {
	f := c.FPU
	if c.dec.rmIsReg {
		if fn := x87D9RegOps[c.dec.modrm-0xC0]; fn != nil {
			fn(c)
		} else {
			c.x87Unsupported("d9-reg")
		}
		return
	}
	bus := c.x87Bus()
	switch c.modReg() {
	case 0: // FLD m32
		f.push(f.loadFloat32(bus, c.x87MemAddr()))
	case 2: // FST m32
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeFloat32(bus, addr, f.ST(0))
		}
	case 3: // FSTP m32
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeFloat32(bus, addr, f.ST(0))
			f.pop()
		}
	case 4: // FLDENV
		f.fldenv(bus, c.x87MemAddrNoCapture(), c.dec.opsize32)
	case 5: // FLDCW
		f.setFCW(uint16(c.readRM(w16)))
		f.refreshES()
	case 6: // FNSTENV
		f.fnstenv(bus, c.x87MemAddrNoCapture(), c.dec.opsize32)
	case 7: // FNSTCW
		c.writeRM(w16, uint32(f.FCW))
	default:
		c.x87Unsupported("d9-mem")
	}
}

func (c *CPU_X86) opFPU_DA() {
	f := c.FPU
	if c.dec.rmIsReg {
		reg, rm := c.x87RegPair()
		switch {
		case c.dec.modrm == 0xE9: // FUCOMPP
			if c.Arch < Arch386 {
				c.x87Unsupported("fucompp")
				return
			}
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
				f.doCompare(f.ST(0), f.ST(1), false)
				f.pop()
				f.pop()
			}
		case reg < 4 && c.Arch >= ArchPentiumII: // FCMOVB/E/BE/U
			c.x87FCMOV(c.condition(fcmovCond[reg]), rm)
		default:
			c.x87Unsupported("da-reg")
		}
		return
	}
	addr := c.x87MemAddr()
	c.x87ArithMem(int(c.modReg()), f.loadInt32(c.x87Bus(), addr))
}

// fcmovCond maps FCMOVcc reg fields to Jcc condition codes (B, E, BE, P).
var fcmovCond = [4]byte{0x2, 0x4, 0x6, 0xA}

func (c *CPU_X86) opFPU_DB() {
	f := c.FPU
	if c.dec.rmIsReg {
		reg, rm := c.x87RegPair()
		switch {
		case c.dec.modrm == 0xE0 || c.dec.modrm == 0xE1: // FENI, FDISI
			if c.Arch < Arch286 {
				if c.dec.modrm == 0xE0 {
					f.FCW &^= 0x80
				} else {
					f.FCW |= 0x80
				}
			}
		case c.dec.modrm == 0xE2: // FNCLEX
			f.FSW &^= 0x80FF
		case c.dec.modrm == 0xE3: // FNINIT
			arch := f.arch
			f.Reset()
			f.arch = arch
		case c.dec.modrm == 0xE4: // FSETPM
		case reg < 4 && c.Arch >= ArchPentiumII: // FCMOVNB/NE/NBE/NU
			c.x87FCMOV(c.condition(fcmovCond[reg]|1), rm)
		case reg == 5 && c.Arch >= ArchPentiumII: // FUCOMI
			c.x87CompareEFLAGS(rm, false)
		case reg == 6 && c.Arch >= ArchPentiumII: // FCOMI
			c.x87CompareEFLAGS(rm, true)
		default:
			c.x87Unsupported("db-reg")
		}
		return
	}
	bus := c.x87Bus()
	switch c.modReg() {
	case 0: // FILD m32int
		f.push(f.loadInt32(bus, c.x87MemAddr()))
	case 2: // FIST m32int
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeInt32(bus, addr, f.ST(0))
		}
	case 3: // FISTP m32int
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeInt32(bus, addr, f.ST(0))
			f.pop()
		}
	case 5: // FLD m80
		e := loadExtendedImage(bus, c.x87MemAddr())
		f.push(e.ToFloat64())
		if f.FSW&x87FSW_SF == 0 {
			f.setExtended(f.top(), e)
		}
	case 7: // FSTP m80
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			storeExtendedImage(bus, addr, f.extended(f.top()))
			f.pop()
		}
	default:
		c.x87Unsupported("db-mem")
	}
}

func (c *CPU_X86) opFPU_DC() {
	f := c.FPU
	reg, rm := c.x87RegPair()
	if c.dec.rmIsReg {
		switch reg {
		case 0, 1:
			c.x87BinarySTiST0(reg, rm)
		case 4:
			c.x87BinarySTiST0(5, rm) // FSUBR encoding is swapped in DC register form
		case 5:
			c.x87BinarySTiST0(4, rm) // FSUB encoding is swapped in DC register form
		case 6:
			c.x87BinarySTiST0(7, rm) // FDIVR encoding is swapped in DC register form
		case 7:
			c.x87BinarySTiST0(6, rm) // FDIV encoding is swapped in DC register form
		case 2:
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(rm) {
				f.doCompare(f.ST(0), f.ST(rm), true)
			}
		case 3:
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(rm) {
				f.doCompare(f.ST(0), f.ST(rm), true)
				f.pop()
			}
		}
		return
	}
	addr := c.x87MemAddr()
	c.x87ArithMem(reg, f.loadFloat64(c.x87Bus(), addr))
}

func (c *CPU_X86) opFPU_DD() {
	f := c.FPU
	if c.dec.rmIsReg {
		reg, rm := c.x87RegPair()
		switch reg {
		case 0: // FFREE
			f.setTag(f.physReg(rm), x87TagEmpty)
		case 2: // FST ST(i)
			if !f.checkStackUnderflow(0) {
				f.setST(rm, f.ST(0))
			}
		case 3: // FSTP ST(i)
			if !f.checkStackUnderflow(0) {
				f.setST(rm, f.ST(0))
				f.pop()
			}
		case 4, 5: // FUCOM, FUCOMP
			if c.Arch < Arch386 {
				c.x87Unsupported("fucom")
				return
			}
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(rm) {
				f.doCompare(f.ST(0), f.ST(rm), false)
				if reg == 5 {
					f.pop()
				}
			}
		default:
			c.x87Unsupported("dd-reg")
		}
		return
	}
	bus := c.x87Bus()
	switch c.modReg() {
	case 0: // FLD m64
		f.push(f.loadFloat64(bus, c.x87MemAddr()))
	case 2: // FST m64
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeFloat64(bus, addr, f.ST(0))
		}
	case 3: // FSTP m64
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeFloat64(bus, addr, f.ST(0))
			f.pop()
		}
	case 4: // FRSTOR
		f.frstor(bus, c.x87MemAddrNoCapture(), c.dec.opsize32)
	case 6: // FNSAVE
		f.fsave(bus, c.x87MemAddrNoCapture(), c.dec.opsize32)
	case 7: // FNSTSW m16
		c.writeRM(w16, uint32(f.FSW))
	default:
		c.x87Unsupported("dd-mem")
	}
}

func (c *CPU_X86) opFPU_DE() {
	f := c.FPU
	if c.dec.rmIsReg {
		reg, rm := c.x87RegPair()
		switch reg {
		case 0, 1:
			c.x87BinarySTiST0(reg, rm)
			f.pop()
		case 4:
			c.x87BinarySTiST0(5, rm) // FSUBRP swapped encoding
			f.pop()
		case 5:
			c.x87BinarySTiST0(4, rm) // FSUBP swapped encoding
			f.pop()
		case 6:
			c.x87BinarySTiST0(7, rm) // FDIVRP swapped encoding
			f.pop()
		case 7:
			c.x87BinarySTiST0(6, rm) // FDIVP swapped encoding
			f.pop()
		case 3:
			if c.dec.modrm != 0xD9 {
				c.x87Unsupported("de-reg")
				return
			}
			// FCOMPP
			if !f.checkStackUnderflow(0) && !f.checkStackUnderflow(1) {
				f.doCompare(f.ST(0), f.ST(1), true)
				f.pop()
				f.pop()
			}
		default:
			c.x87Unsupported("de-reg")
		}
		return
	}
	addr := c.x87MemAddr()
	c.x87ArithMem(int(c.modReg()), f.loadInt16(c.x87Bus(), addr))
}

func (c *CPU_X86) opFPU_DF() {
	f := c.FPU
	if c.dec.rmIsReg {
		reg, rm := c.x87RegPair()
		switch {
		case c.dec.modrm == 0xE0: // FNSTSW AX
			if c.Arch < Arch286 {
				c.x87Unsupported("fnstsw-ax")
				return
			}
			c.SetAX(f.FSW)
		case reg == 0: // FFREEP
			f.setTag(f.physReg(rm), x87TagEmpty)
			f.setTop((f.top() + 1) & 7)
		case reg == 5 && c.Arch >= ArchPentiumII: // FUCOMIP
			c.x87CompareEFLAGS(rm, false)
			f.pop()
		case reg == 6 && c.Arch >= ArchPentiumII: // FCOMIP
			c.x87CompareEFLAGS(rm, true)
			f.pop()
		default:
			c.x87Unsupported("df-reg")
		}
		return
	}
	bus := c.x87Bus()
	switch c.modReg() {
	case 0: // FILD m16
		f.push(f.loadInt16(bus, c.x87MemAddr()))
	case 2: // FIST m16
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeInt16(bus, addr, f.ST(0))
		}
	case 3: // FISTP m16
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeInt16(bus, addr, f.ST(0))
			f.pop()
		}
	case 4: // FBLD
		f.push(f.loadBCD(bus, c.x87MemAddr()))
	case 5: // FILD m64
		f.push(f.loadInt64(bus, c.x87MemAddr()))
	case 6: // FBSTP
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeBCD(bus, addr, f.ST(0))
			f.pop()
		}
	case 7: // FISTP m64
		addr := c.x87MemAddr()
		if !f.checkStackUnderflow(0) {
			f.storeInt64(bus, addr, f.ST(0))
			f.pop()
		}
	default:
		c.x87Unsupported("df-mem")
	}
}
