// cpu_x86_string.go - String instructions (MOVS, CMPS, STOS, LODS, SCAS, INS, OUTS)
//
// A REP prefix runs at most repChunk iterations per dispatch. When the
// count is not exhausted EIP is put back on the instruction, so pending
// interrupts are taken between chunks and a fault leaves SI, DI and CX
// describing the iterations already completed.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

const repChunk = 4096

// strDelta is the per-iteration index step for the direction flag.
func (c *CPU_X86) strDelta(w opWidth) uint32 {
	if c.Flags&x86FlagDF != 0 {
		return -widthBytes[w]
	}
	return widthBytes[w]
}

func (c *CPU_X86) strSI() uint32 {
	if c.dec.addrsize32 {
		return c.ESI
	}
	return c.ESI & 0xFFFF
}

func (c *CPU_X86) strDI() uint32 {
	if c.dec.addrsize32 {
		return c.EDI
	}
	return c.EDI & 0xFFFF
}

func (c *CPU_X86) advanceSI(d uint32) {
	if c.dec.addrsize32 {
		c.ESI += d
	} else {
		c.SetSI(uint16(c.ESI + d))
	}
}

func (c *CPU_X86) advanceDI(d uint32) {
	if c.dec.addrsize32 {
		c.EDI += d
	} else {
		c.SetDI(uint16(c.EDI + d))
	}
}

// repeat runs one string iteration, or a chunk of them under REP. body
// reports whether a REPE/REPNE termination condition was met.
func (c *CPU_X86) repeat(body func() bool) {
	if c.dec.rep == 0 {
		body()
		return
	}
	for range repChunk {
		if c.countReg() == 0 {
			return
		}
		stop := body()
		c.setCountReg(c.countReg() - 1)
		if stop {
			return
		}
	}
	if c.countReg() != 0 {
		c.EIP = c.dec.startEIP
	}
}

// compareStop evaluates the REPE/REPNE exit after CMPS or SCAS.
func (c *CPU_X86) compareStop() bool {
	switch c.dec.rep {
	case repE:
		return !c.getZF()
	case repNE:
		return c.getZF()
	}
	return false
}

func (c *CPU_X86) opMOVS(w opWidth) {
	src := c.dataSeg()
	d := c.strDelta(w)
	c.repeat(func() bool {
		v := c.readMem(src, c.strSI(), w)
		c.writeMem(x86SegES, c.strDI(), w, v)
		c.advanceSI(d)
		c.advanceDI(d)
		return false
	})
}

func (c *CPU_X86) opCMPS(w opWidth) {
	src := c.dataSeg()
	d := c.strDelta(w)
	c.repeat(func() bool {
		a := c.readMem(src, c.strSI(), w)
		b := c.readMem(x86SegES, c.strDI(), w)
		c.alu(aluCMP, w, a, b)
		c.advanceSI(d)
		c.advanceDI(d)
		return c.compareStop()
	})
}

func (c *CPU_X86) opSTOS(w opWidth) {
	d := c.strDelta(w)
	v := c.getReg(w, 0)
	c.repeat(func() bool {
		c.writeMem(x86SegES, c.strDI(), w, v)
		c.advanceDI(d)
		return false
	})
}

func (c *CPU_X86) opLODS(w opWidth) {
	src := c.dataSeg()
	d := c.strDelta(w)
	c.repeat(func() bool {
		c.setReg(w, 0, c.readMem(src, c.strSI(), w))
		c.advanceSI(d)
		return false
	})
}

func (c *CPU_X86) opSCAS(w opWidth) {
	d := c.strDelta(w)
	c.repeat(func() bool {
		b := c.readMem(x86SegES, c.strDI(), w)
		c.alu(aluCMP, w, c.getReg(w, 0), b)
		c.advanceDI(d)
		return c.compareStop()
	})
}

func (c *CPU_X86) opINS(w opWidth) {
	c.checkIOPL()
	d := c.strDelta(w)
	c.repeat(func() bool {
		// The destination must be writable before the port is read.
		c.checkWrite(x86SegES, c.strDI(), w)
		c.writeMem(x86SegES, c.strDI(), w, c.portIn(w, c.DX()))
		c.advanceDI(d)
		return false
	})
}

func (c *CPU_X86) opOUTS(w opWidth) {
	c.checkIOPL()
	src := c.dataSeg()
	d := c.strDelta(w)
	c.repeat(func() bool {
		c.portOut(w, c.DX(), c.readMem(src, c.strSI(), w))
		c.advanceSI(d)
		return false
	})
}
