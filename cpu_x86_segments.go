// cpu_x86_segments.go - Segment registers, descriptors and far transfers
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// SegmentCache is a segment register with its hidden descriptor cache.
type SegmentCache struct {
	Selector uint16
	Base     uint32
	Limit    uint32
	Big      bool  // D/B bit: 32-bit default operand size / stack width
	Access   uint8 // descriptor access byte, 0 for a null selector
}

// DescriptorTable holds GDTR or IDTR.
type DescriptorTable struct {
	Base  uint32
	Limit uint16
}

func realModeSegment(sel uint16, code bool) SegmentCache {
	access := uint8(0x93)
	if code {
		access = 0x9B
	}
	return SegmentCache{Selector: sel, Base: uint32(sel) << 4, Limit: 0xFFFF, Access: access}
}

// descriptor is a raw 8-byte GDT/LDT/IDT entry.
type descriptor uint64

func (d descriptor) access() uint8   { return uint8(d >> 40) }
func (d descriptor) dpl() uint8      { return (d.access() >> 5) & 3 }
func (d descriptor) present() bool   { return d.access()&0x80 != 0 }
func (d descriptor) system() bool    { return d.access()&0x10 == 0 }
func (d descriptor) isCode() bool    { return !d.system() && d.access()&0x08 != 0 }
func (d descriptor) conforming() bool { return d.isCode() && d.access()&0x04 != 0 }
func (d descriptor) readable() bool  { return !d.isCode() || d.access()&0x02 != 0 }
func (d descriptor) writable() bool  { return !d.system() && !d.isCode() && d.access()&0x02 != 0 }
func (d descriptor) big() bool       { return d&(1<<54) != 0 }

func (d descriptor) base() uint32 {
	lo := uint32(d)
	hi := uint32(d >> 32)
	return lo>>16 | (hi&0xFF)<<16 | hi&0xFF000000
}

func (d descriptor) limit() uint32 {
	l := uint32(d)&0xFFFF | uint32(d>>32)&0xF0000
	if d&(1<<55) != 0 {
		l = l<<12 | 0xFFF
	}
	return l
}

func (d descriptor) gateSelector() uint16 { return uint16(d >> 16) }

func (d descriptor) gateOffset() uint32 {
	return uint32(d)&0xFFFF | uint32(d>>48)<<16
}

func (d descriptor) cache(sel uint16) SegmentCache {
	return SegmentCache{
		Selector: sel,
		Base:     d.base(),
		Limit:    d.limit(),
		Big:      d.big(),
		Access:   d.access(),
	}
}

// -----------------------------------------------------------------------------
// Supervisor accesses to system tables
// -----------------------------------------------------------------------------

// withSupervisor runs fn with the paging unit at CPL 0. Descriptor tables
// and the TSS are read with supervisor rights whatever the current ring.
func (c *CPU_X86) withSupervisor(fn func()) {
	cpl := c.mmu.cpl
	if cpl == 0 {
		fn()
		return
	}
	c.mmu.SetCPL(0)
	defer c.mmu.SetCPL(cpl)
	fn()
}

func (c *CPU_X86) sysReadD(lin uint32) (v uint32) {
	c.withSupervisor(func() { v = c.mmu.ReadD(lin) })
	return
}

func (c *CPU_X86) sysReadW(lin uint32) (v uint16) {
	c.withSupervisor(func() { v = c.mmu.ReadW(lin) })
	return
}

func (c *CPU_X86) sysWriteB(lin uint32, v uint8) {
	c.withSupervisor(func() { c.mmu.WriteB(lin, v) })
}

func (c *CPU_X86) sysWriteD(lin uint32, v uint32) {
	c.withSupervisor(func() { c.mmu.WriteD(lin, v) })
}

// -----------------------------------------------------------------------------
// Descriptor lookup
// -----------------------------------------------------------------------------

// descriptorAddr returns the linear address of the entry for sel, or false
// when it lies outside its table.
func (c *CPU_X86) descriptorAddr(sel uint16) (uint32, bool) {
	idx := uint32(sel &^ 7)
	if sel&4 != 0 {
		if c.LDTR.Selector&0xFFFC == 0 || idx+7 > c.LDTR.Limit {
			return 0, false
		}
		return c.LDTR.Base + idx, true
	}
	if idx+7 > uint32(c.GDTR.Limit) {
		return 0, false
	}
	return c.GDTR.Base + idx, true
}

// lookupDescriptor reads the entry for sel without raising on a bad index.
func (c *CPU_X86) lookupDescriptor(sel uint16) (descriptor, bool) {
	addr, ok := c.descriptorAddr(sel)
	if !ok {
		return 0, false
	}
	return descriptor(uint64(c.sysReadD(addr)) | uint64(c.sysReadD(addr+4))<<32), true
}

// readDescriptor reads the entry for sel, raising #GP(sel) when the index
// is outside the table. ext is the EXT bit of the error code.
func (c *CPU_X86) readDescriptor(sel uint16, ext uint32) descriptor {
	d, ok := c.lookupDescriptor(sel)
	if !ok {
		c.raiseGP(uint32(sel&0xFFFC) + ext)
	}
	return d
}

func (c *CPU_X86) setAccessed(sel uint16, d descriptor) {
	if d.access()&1 != 0 {
		return
	}
	if addr, ok := c.descriptorAddr(sel); ok {
		c.sysWriteB(addr+5, d.access()|1)
	}
}

func (c *CPU_X86) setCPL(cpl uint8) {
	c.CPL = cpl
	c.mmu.SetCPL(cpl)
}

// -----------------------------------------------------------------------------
// Segment loads
// -----------------------------------------------------------------------------

// loadSegment implements MOV Sreg, POP Sreg and the LxS family. In real mode
// only the selector and base change; the cached limit and size survive.
func (c *CPU_X86) loadSegment(idx int, sel uint16) {
	if !c.protectedMode() {
		c.Seg[idx].Selector = sel
		c.Seg[idx].Base = uint32(sel) << 4
		return
	}
	if idx == x86SegSS {
		c.loadStackForCPL(sel, c.CPL)
		return
	}
	if sel&0xFFFC == 0 {
		c.Seg[idx] = SegmentCache{Selector: sel}
		return
	}
	d := c.readDescriptor(sel, 0)
	if d.system() || !d.readable() {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if !d.conforming() {
		rpl := uint8(sel & 3)
		if max(rpl, c.CPL) > d.dpl() {
			c.raiseGP(uint32(sel & 0xFFFC))
		}
	}
	if !d.present() {
		c.raiseCode(excNP, uint32(sel&0xFFFC))
	}
	c.setAccessed(sel, d)
	c.Seg[idx] = d.cache(sel)
}

// loadStackForCPL loads SS for a stack at privilege cpl.
func (c *CPU_X86) loadStackForCPL(sel uint16, cpl uint8) {
	if sel&0xFFFC == 0 {
		c.raiseGP(0)
	}
	d := c.readDescriptor(sel, 0)
	if uint8(sel&3) != cpl || d.dpl() != cpl || !d.writable() {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if !d.present() {
		c.raiseCode(excSS, uint32(sel&0xFFFC))
	}
	c.setAccessed(sel, d)
	c.Seg[x86SegSS] = d.cache(sel)
}

// codeDescriptorFor validates a far transfer target and returns its
// descriptor. Gates and TSS descriptors are not supported.
func (c *CPU_X86) codeDescriptorFor(sel uint16) descriptor {
	if sel&0xFFFC == 0 {
		c.raiseGP(0)
	}
	d := c.readDescriptor(sel, 0)
	if d.system() {
		c.logUnhandled("far-system-descriptor", "far transfer through a gate or TSS not supported")
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if !d.isCode() {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if d.conforming() {
		if d.dpl() > c.CPL {
			c.raiseGP(uint32(sel & 0xFFFC))
		}
	} else if uint8(sel&3) > c.CPL || d.dpl() != c.CPL {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if !d.present() {
		c.raiseCode(excNP, uint32(sel&0xFFFC))
	}
	return d
}

// farTransfer performs JMP far and CALL far. A call pushes CS and the
// return offset at width w before CS is replaced.
func (c *CPU_X86) farTransfer(sel uint16, off uint32, w opWidth, call bool) {
	if w == w16 {
		off &= 0xFFFF
	}
	if !c.protectedMode() {
		if call {
			c.push(w, uint32(c.Seg[x86SegCS].Selector))
			c.push(w, c.EIP)
		}
		c.Seg[x86SegCS].Selector = sel
		c.Seg[x86SegCS].Base = uint32(sel) << 4
		c.EIP = off
		return
	}
	d := c.codeDescriptorFor(sel)
	if off > d.limit() {
		c.raiseGP(0)
	}
	if call {
		c.push(w, uint32(c.Seg[x86SegCS].Selector))
		c.push(w, c.EIP)
	}
	c.setAccessed(sel, d)
	c.Seg[x86SegCS] = d.cache(sel&0xFFFC | uint16(c.CPL))
	c.EIP = off
}

// returnTarget validates the CS popped by RETF or IRET.
func (c *CPU_X86) returnTarget(cs uint16) descriptor {
	if cs&0xFFFC == 0 {
		c.raiseGP(0)
	}
	rpl := uint8(cs & 3)
	if rpl < c.CPL {
		c.raiseGP(uint32(cs & 0xFFFC))
	}
	d := c.readDescriptor(cs, 0)
	if !d.isCode() {
		c.raiseGP(uint32(cs & 0xFFFC))
	}
	if d.conforming() {
		if d.dpl() > rpl {
			c.raiseGP(uint32(cs & 0xFFFC))
		}
	} else if d.dpl() != rpl {
		c.raiseGP(uint32(cs & 0xFFFC))
	}
	if !d.present() {
		c.raiseCode(excNP, uint32(cs&0xFFFC))
	}
	return d
}

// farReturn implements RETF and RETF imm16, including the return to an
// outer ring.
func (c *CPU_X86) farReturn(w opWidth, imm uint32) {
	wb := widthBytes[w]
	ip := c.peekStack(w, 0)
	cs := uint16(c.peekStack(w, wb))
	if !c.protectedMode() {
		c.stackAdd(2*wb + imm)
		c.Seg[x86SegCS].Selector = cs
		c.Seg[x86SegCS].Base = uint32(cs) << 4
		c.EIP = ip
		return
	}
	d := c.returnTarget(cs)
	rpl := uint8(cs & 3)
	if rpl == c.CPL {
		c.stackAdd(2*wb + imm)
		c.Seg[x86SegCS] = d.cache(cs)
		c.EIP = ip
		return
	}
	newESP := c.peekStack(w, 2*wb+imm)
	newSS := uint16(c.peekStack(w, 3*wb+imm))
	c.loadStackForCPL(newSS, rpl)
	c.setCPL(rpl)
	c.Seg[x86SegCS] = d.cache(cs)
	c.EIP = ip
	c.setSP(newESP + imm)
	c.invalidateDataSegments()
}

// iret implements IRET/IRETD for real mode and protected mode returns to
// the same or an outer ring. Task returns and V86 are not supported.
func (c *CPU_X86) iret(w opWidth) {
	mask := w.mask()
	if !c.protectedMode() {
		ip := c.pop(w)
		cs := uint16(c.pop(w))
		fl := c.pop(w)
		c.Seg[x86SegCS].Selector = cs
		c.Seg[x86SegCS].Base = uint32(cs) << 4
		c.EIP = ip
		c.setFlagsWord(fl, mask)
		return
	}
	if c.Flags&x86FlagNT != 0 {
		c.logUnhandled("iret-nested-task", "IRET with NT set (task return) not supported")
		c.raiseGP(0)
	}
	wb := widthBytes[w]
	ip := c.peekStack(w, 0)
	cs := uint16(c.peekStack(w, wb))
	fl := c.peekStack(w, 2*wb)
	if w == w32 && fl&x86FlagVM != 0 && c.CPL == 0 {
		c.logUnhandled("iret-v86", "IRET to virtual-8086 mode not supported")
		c.raiseGP(0)
	}
	d := c.returnTarget(cs)
	rpl := uint8(cs & 3)
	if rpl == c.CPL {
		c.stackAdd(3 * wb)
		c.Seg[x86SegCS] = d.cache(cs)
		c.EIP = ip
		c.setFlagsWord(fl, mask)
		return
	}
	newESP := c.peekStack(w, 3*wb)
	newSS := uint16(c.peekStack(w, 4*wb))
	c.loadStackForCPL(newSS, rpl)
	c.setFlagsWord(fl, mask)
	c.setCPL(rpl)
	c.Seg[x86SegCS] = d.cache(cs)
	c.EIP = ip
	c.setSP(newESP)
	c.invalidateDataSegments()
}

// invalidateDataSegments nulls data segment registers the new, less
// privileged CPL may not use.
func (c *CPU_X86) invalidateDataSegments() {
	for _, idx := range [...]int{x86SegES, x86SegDS, x86SegFS, x86SegGS} {
		s := &c.Seg[idx]
		if s.Selector&0xFFFC == 0 {
			continue
		}
		d := descriptor(uint64(s.Access) << 40)
		if (!d.isCode() || !d.conforming()) && d.dpl() < c.CPL {
			*s = SegmentCache{}
		}
	}
}

// -----------------------------------------------------------------------------
// Direct protected mode entry
// -----------------------------------------------------------------------------

// Flat GDT used by EnterFlat32: null, ring 0 code, ring 0 data, ring 3
// code, ring 3 data. All 4GB, 32-bit.
var flatGDT = [...]uint64{
	0,
	0x00CF9A000000FFFF,
	0x00CF92000000FFFF,
	0x00CFFA000000FFFF,
	0x00CFF2000000FFFF,
}

const (
	flatCodeSel = 0x08
	flatDataSel = 0x10
)

// EnterFlat32 writes a flat GDT at the physical address gdt and switches
// to 32-bit protected mode at CPL 0 with every segment covering 4GB.
func (c *CPU_X86) EnterFlat32(gdt uint32) {
	for i, e := range flatGDT {
		c.mem.WritePhysD(gdt+uint32(i)*8, uint32(e))
		c.mem.WritePhysD(gdt+uint32(i)*8+4, uint32(e>>32))
	}
	c.GDTR = DescriptorTable{Base: gdt, Limit: uint16(len(flatGDT)*8 - 1)}
	c.CR0 |= cr0PE
	c.setCPL(0)
	code := descriptor(flatGDT[1])
	data := descriptor(flatGDT[2])
	c.Seg[x86SegCS] = code.cache(flatCodeSel)
	for _, idx := range [...]int{x86SegES, x86SegSS, x86SegDS, x86SegFS, x86SegGS} {
		c.Seg[idx] = data.cache(flatDataSel)
	}
}
