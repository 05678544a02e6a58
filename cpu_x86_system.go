// cpu_x86_system.go - System instructions (0F 00, 0F 01, control and debug registers)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// requireCPL0 raises #GP(0) for privileged instructions outside ring 0.
func (c *CPU_X86) requireCPL0() {
	if c.protectedMode() && c.CPL != 0 {
		c.raiseGP(0)
	}
}

// requireProtected raises #UD for instructions that only exist in
// protected mode.
func (c *CPU_X86) requireProtected() {
	if !c.protectedMode() {
		c.raise(excUD)
	}
}

// storeSelector writes a selector result. A register destination takes the
// full operand width, memory always 16 bits.
func (c *CPU_X86) storeSelector(sel uint16) {
	if c.dec.rmIsReg {
		c.setReg(c.ow(), c.modRM(), uint32(sel))
		return
	}
	c.writeRM(w16, uint32(sel))
}

// =============================================================================
// Group 6 (SLDT, STR, LLDT, LTR, VERR, VERW)
// =============================================================================

func (c *CPU_X86) opGrp6() {
	c.requireProtected()
	switch c.modReg() {
	case 0:
		c.storeSelector(c.LDTR.Selector)
	case 1:
		c.storeSelector(c.TR.Selector)
	case 2:
		c.requireCPL0()
		c.loadLDT(uint16(c.readRM(w16)))
	case 3:
		c.requireCPL0()
		c.loadTR(uint16(c.readRM(w16)))
	case 4:
		c.verify(uint16(c.readRM(w16)), false)
	case 5:
		c.verify(uint16(c.readRM(w16)), true)
	default:
		c.raise(excUD)
	}
}

func (c *CPU_X86) loadLDT(sel uint16) {
	if sel&0xFFFC == 0 {
		c.LDTR = SegmentCache{Selector: sel}
		return
	}
	if sel&4 != 0 {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	d := c.readDescriptor(sel, 0)
	if !d.system() || d.access()&0x0F != 0x02 {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if !d.present() {
		c.raiseCode(excNP, uint32(sel&0xFFFC))
	}
	c.LDTR = d.cache(sel)
}

// loadTR loads an available TSS and marks its descriptor busy.
func (c *CPU_X86) loadTR(sel uint16) {
	if sel&0xFFFC == 0 || sel&4 != 0 {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	d := c.readDescriptor(sel, 0)
	typ := d.access() & 0x0F
	if !d.system() || (typ != 0x01 && typ != 0x09) {
		c.raiseGP(uint32(sel & 0xFFFC))
	}
	if !d.present() {
		c.raiseCode(excNP, uint32(sel&0xFFFC))
	}
	addr, _ := c.descriptorAddr(sel)
	c.sysWriteB(addr+5, d.access()|0x02)
	d |= descriptor(0x02) << 40
	c.TR = d.cache(sel)
}

// visible reports whether a segment descriptor may be inspected by VERR,
// VERW, LAR and LSL at the current privilege.
func (c *CPU_X86) visible(sel uint16, d descriptor) bool {
	if d.conforming() {
		return true
	}
	return d.dpl() >= max(c.CPL, uint8(sel&3))
}

func (c *CPU_X86) verify(sel uint16, write bool) {
	ok := false
	if d, found := c.lookupDescriptor(sel); found && sel&0xFFFC != 0 && !d.system() && c.visible(sel, d) {
		if write {
			ok = d.writable()
		} else {
			ok = d.readable()
		}
	}
	c.materializeAll()
	c.setFlag(x86FlagZF, ok)
}

// =============================================================================
// LAR / LSL
// =============================================================================

// System descriptor types accepted by LAR and LSL.
var (
	larTypes = [16]bool{1: true, 2: true, 3: true, 4: true, 5: true, 9: true, 0xB: true, 0xC: true}
	lslTypes = [16]bool{1: true, 2: true, 3: true, 9: true, 0xB: true}
)

func (c *CPU_X86) inspectDescriptor(types *[16]bool) (descriptor, bool) {
	c.requireProtected()
	sel := uint16(c.readRM(w16))
	c.materializeAll()
	d, found := c.lookupDescriptor(sel)
	ok := found && sel&0xFFFC != 0
	if ok {
		if d.system() {
			ok = types[d.access()&0x0F] && c.visible(sel, d)
		} else {
			ok = c.visible(sel, d)
		}
	}
	c.setFlag(x86FlagZF, ok)
	return d, ok
}

func (c *CPU_X86) opLAR(w opWidth) {
	d, ok := c.inspectDescriptor(&larTypes)
	if !ok {
		return
	}
	c.setReg(w, c.modReg(), uint32(d>>32)&0x00F0FF00)
}

func (c *CPU_X86) opLSL(w opWidth) {
	d, ok := c.inspectDescriptor(&lslTypes)
	if !ok {
		return
	}
	c.setReg(w, c.modReg(), d.limit())
}

// =============================================================================
// Group 7 (SGDT, SIDT, LGDT, LIDT, SMSW, LMSW, INVLPG)
// =============================================================================

func (c *CPU_X86) opGrp7() {
	switch c.modReg() {
	case 0:
		c.storeTable(c.GDTR)
	case 1:
		c.storeTable(c.IDTR)
	case 2:
		c.requireCPL0()
		c.GDTR = c.loadTable()
	case 3:
		c.requireCPL0()
		c.IDTR = c.loadTable()
	case 4: // SMSW
		if c.dec.rmIsReg {
			c.setReg(c.ow(), c.modRM(), c.CR0)
		} else {
			c.writeRM(w16, c.CR0&0xFFFF)
		}
	case 6: // LMSW cannot clear PE
		c.requireCPL0()
		v := c.readRM(w16) & 0x0F
		cr0 := c.CR0&^0x0E | v
		cr0 |= c.CR0 & cr0PE
		c.writeCR0(cr0)
	case 7: // INVLPG
		if c.Arch < Arch486Old {
			c.raise(excUD)
		}
		c.requireCPL0()
		c.requireMem()
		c.mmu.InvalidatePage(c.eaLinear(0))
	default:
		c.raise(excUD)
	}
}

// storeTable writes a 6-byte limit/base pseudo-descriptor. With a 16-bit
// operand size the top base byte reads 0xFF on the 286 and 0 later; this
// follows what software tests for rather than a documented rule.
func (c *CPU_X86) storeTable(t DescriptorTable) {
	c.requireMem()
	base := t.Base
	if !c.dec.opsize32 {
		base &= 0x00FFFFFF
		if c.Arch == Arch286 {
			base |= 0xFF000000
		}
	}
	c.writeEA(w16, 0, uint32(t.Limit))
	c.writeEA(w32, 2, base)
}

func (c *CPU_X86) loadTable() DescriptorTable {
	c.requireMem()
	limit := uint16(c.readEA(w16, 0))
	base := c.readEA(w32, 2)
	if !c.dec.opsize32 {
		base &= 0x00FFFFFF
	}
	return DescriptorTable{Base: base, Limit: limit}
}

// =============================================================================
// Cache and Task Control
// =============================================================================

func (c *CPU_X86) opCLTS() {
	c.requireCPL0()
	c.CR0 &^= cr0TS
}

// opINVD covers INVD and WBINVD. There is no cache to flush.
func (c *CPU_X86) opINVD() {
	c.requireCPL0()
}

// =============================================================================
// Control and Debug Registers
// =============================================================================

// fetchRegModRM reads the ModR/M byte of MOV CRn/DRn. The mod field is
// ignored: both operands are always registers.
func (c *CPU_X86) fetchRegModRM() (reg, rm byte) {
	m := c.fetch8()
	c.dec.modrm = m
	c.dec.rmIsReg = true
	return (m >> 3) & 7, m & 7
}

func (c *CPU_X86) crValid(n byte) bool {
	switch n {
	case 0, 2, 3:
		return true
	case 4:
		return c.Arch >= ArchPentium
	}
	return false
}

func (c *CPU_X86) opMOV_R_CR() {
	cr, r := c.fetchRegModRM()
	c.requireCPL0()
	if !c.crValid(cr) {
		c.raise(excUD)
	}
	var v uint32
	switch cr {
	case 0:
		v = c.CR0
	case 2:
		v = c.mmu.CR2()
	case 3:
		v = c.CR3
	case 4:
		v = c.CR4
	}
	c.setReg32(r, v)
}

func (c *CPU_X86) opMOV_CR_R() {
	cr, r := c.fetchRegModRM()
	c.requireCPL0()
	if !c.crValid(cr) {
		c.raise(excUD)
	}
	v := c.getReg32(r)
	switch cr {
	case 0:
		c.writeCR0(v)
	case 2:
		c.mmu.SetCR2(v)
	case 3:
		c.writeCR3(v)
	case 4:
		c.writeCR4(v)
	}
}

// writeCR0 updates CR0 and brings the paging unit in line. Turning PE on
// or off leaves the CPU at CPL 0.
func (c *CPU_X86) writeCR0(v uint32) {
	switch {
	case c.Arch == Arch286:
		v = v&0x0F | 0xFFF0
	case c.Arch >= Arch486Old:
		v |= cr0ET
	}
	if v&cr0PG != 0 && v&cr0PE == 0 {
		c.raiseGP(0)
	}
	changed := c.CR0 ^ v
	c.CR0 = v
	if changed&cr0PE != 0 {
		c.setCPL(0)
	}
	if c.Arch >= Arch386 {
		c.mmu.SetEnabled(v&cr0PG != 0)
		c.mmu.SetWP(v&cr0WP != 0)
		if changed&cr0WP != 0 {
			c.mmu.InvalidateAll()
		}
	}
}

func (c *CPU_X86) writeCR3(v uint32) {
	c.CR3 = v
	c.mmu.SetCR3(v)
}

const cr4Writable = cr4TSD | cr4PSE | 1<<3 | 1<<6 | 1<<7 | 1<<8 | cr4OSFXSR | 1<<10

func (c *CPU_X86) writeCR4(v uint32) {
	if v&^cr4Writable != 0 {
		c.raiseGP(0)
	}
	c.CR4 = v
	c.mmu.SetPSE(v&cr4PSE != 0)
	c.mmu.InvalidateAll()
}

func (c *CPU_X86) opMOV_R_DR() {
	dr, r := c.fetchRegModRM()
	c.requireCPL0()
	if dr == 4 || dr == 5 {
		dr += 2
	}
	c.setReg32(r, c.DR[dr])
}

func (c *CPU_X86) opMOV_DR_R() {
	dr, r := c.fetchRegModRM()
	c.requireCPL0()
	if dr == 4 || dr == 5 {
		dr += 2
	}
	c.DR[dr] = c.getReg32(r)
}

// testRegister validates a MOV to or from a test register. The Pentium
// dropped them; earlier parts only decode TR6 and TR7.
func (c *CPU_X86) testRegister() (tr, r uint8) {
	tr, r = c.fetchRegModRM()
	if c.Arch >= ArchPentium {
		c.raise(excUD)
	}
	c.requireCPL0()
	if tr != 6 && tr != 7 {
		c.raise(excUD)
	}
	return tr, r
}

func (c *CPU_X86) opMOV_R_TR() {
	tr, r := c.testRegister()
	c.setReg32(r, c.TestReg[tr])
}

func (c *CPU_X86) opMOV_TR_R() {
	tr, r := c.testRegister()
	c.TestReg[tr] = c.getReg32(r)
}
