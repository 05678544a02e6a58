// mem_paging.go - Linear to physical translation and the software TLB
//
// Every linear page has a direct-mapped TLB slot (2^20 of them). A slot
// starts on the init handler; the first access walks the page tables, sets
// Accessed/Dirty, and fills the slot with the page's handler and, for host
// backed pages, the host page id. Filled slots are remembered in a link list
// so a full flush only touches pages that were actually used.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"

	"github.com/sirupsen/logrus"
)

const tlbEntries = 1 << 20

// tlbMaxLinks bounds the link list; filling past it flushes the whole TLB.
const tlbMaxLinks = 32768

// TLB phys word layout.
const (
	tlbUser     = 1 << 31 // user mode may access
	tlbWritable = 1 << 30 // writes allowed for user mode (and supervisor with WP)
	tlbDirty    = 1 << 29 // page already marked dirty, write slot may be used
	tlbPageMask = tlbDirty - 1
)

// Page fault error code bits.
const (
	pfPresent = 1 << 0
	pfWrite   = 1 << 1
	pfUser    = 1 << 2
)

// PageFaultMode selects how a page fault leaves the faulting access.
type PageFaultMode uint8

const (
	// PageFaultUnwind aborts the instruction; the dispatch loop delivers #PF.
	PageFaultUnwind PageFaultMode = iota
	// PageFaultNested delivers #PF from inside the access, runs the guest
	// handler to completion and retries the access.
	PageFaultNested
)

const maxNestedRetries = 4

// pageEntry is a page directory or page table entry.
type pageEntry uint32

func (e pageEntry) present() bool  { return e&1 != 0 }
func (e pageEntry) writable() bool { return e&(1<<1) != 0 }
func (e pageEntry) user() bool     { return e&(1<<2) != 0 }
func (e pageEntry) accessed() bool { return e&(1<<5) != 0 }
func (e pageEntry) dirty() bool    { return e&(1<<6) != 0 }
func (e pageEntry) large() bool    { return e&(1<<7) != 0 }
func (e pageEntry) global() bool   { return e&(1<<8) != 0 }
func (e pageEntry) base() uint32   { return uint32(e) >> 12 }

// base22 is the 4MB frame number of a large PDE.
func (e pageEntry) base22() uint32 { return uint32(e) >> 22 }

// baseHigh holds physical address bits 39:32 of a large PDE.
func (e pageEntry) baseHigh() uint32 { return (uint32(e) >> 13) & 0xFF }

func (e pageEntry) withAccessed() pageEntry { return e | 1<<5 }
func (e pageEntry) withDirty() pageEntry    { return e | 1<<6 }

type tlbTable struct {
	read         []int32 // host page id, 0 = go through the handler
	write        []int32
	readHandler  []uint16 // arena id, handlerInit = not translated
	writeHandler []uint16
	phys         []uint32
	links        []uint32
	linked       []bool // lp is present in links
}

func newTLB() tlbTable {
	return tlbTable{
		read:         make([]int32, tlbEntries),
		write:        make([]int32, tlbEntries),
		readHandler:  make([]uint16, tlbEntries),
		writeHandler: make([]uint16, tlbEntries),
		phys:         make([]uint32, tlbEntries),
		links:        make([]uint32, 0, 1024),
		linked:       make([]bool, tlbEntries),
	}
}

func (t *tlbTable) clear(lp uint32) {
	t.read[lp] = 0
	t.write[lp] = 0
	t.readHandler[lp] = handlerInit
	t.writeHandler[lp] = handlerInit
	t.phys[lp] = 0
}

// MMU is the paging unit. The CPU keeps its mode bits (CR0.PG, CR0.WP,
// CR3, CR4.PSE, CPL) in sync through the setters below.
type MMU struct {
	mem *MemorySystem
	tlb tlbTable

	enabled bool
	wp      bool
	pse     bool
	cr3     uint32
	cpl     uint8
	arch    ArchLevel

	cr2     uint32
	pending *CPUException // last fault recorded by a checked access

	mode PageFaultMode
	// nested runs the guest #PF handler in place. It reports whether control
	// came back to the faulting instruction.
	nested     func(exc *CPUException) bool
	delivering bool // no nested faults while pushing an exception frame
}

func NewMMU(mem *MemorySystem, arch ArchLevel) *MMU {
	m := &MMU{
		mem:  mem,
		tlb:  newTLB(),
		arch: arch,
	}
	mem.invalidate = m.InvalidateCachedHandler
	mem.a20Changed = m.InvalidateAll
	return m
}

// -----------------------------------------------------------------------------
// Mode control
// -----------------------------------------------------------------------------

func (m *MMU) SetEnabled(on bool) {
	if m.enabled != on {
		m.enabled = on
		m.InvalidateAll()
	}
}

func (m *MMU) SetCR3(v uint32) {
	m.cr3 = v
	m.InvalidateAll()
}

func (m *MMU) SetPSE(on bool) {
	if m.pse != on {
		m.pse = on
		m.InvalidateAll()
	}
}

// SetWP enables supervisor write protection. It only exists from the 486 on.
func (m *MMU) SetWP(on bool) {
	m.wp = on && m.arch >= Arch486Old
}

func (m *MMU) SetCPL(cpl uint8) { m.cpl = cpl }

func (m *MMU) Enabled() bool { return m.enabled }
func (m *MMU) CR2() uint32   { return m.cr2 }
func (m *MMU) SetCR2(v uint32) {
	m.cr2 = v
}

// PendingFault returns and clears the fault recorded by the last failed
// checked access.
func (m *MMU) PendingFault() *CPUException {
	e := m.pending
	m.pending = nil
	return e
}

// InvalidatePage drops the translation for one linear address (INVLPG).
func (m *MMU) InvalidatePage(lin uint32) {
	m.tlb.clear(lin >> pageShift)
}

// InvalidateAll drops every cached translation.
func (m *MMU) InvalidateAll() {
	for _, lp := range m.tlb.links {
		m.tlb.clear(lp)
		m.tlb.linked[lp] = false
	}
	m.tlb.links = m.tlb.links[:0]
}

// InvalidateCachedHandler drops translations that resolve to physPage after
// its owner changed.
func (m *MMU) InvalidateCachedHandler(physPage uint32) {
	for _, lp := range m.tlb.links {
		if m.tlb.readHandler[lp] != handlerInit && m.tlb.phys[lp]&tlbPageMask == physPage {
			m.tlb.clear(lp)
		}
	}
}

// -----------------------------------------------------------------------------
// Translation
// -----------------------------------------------------------------------------

// allowed checks a filled slot against the current privilege. Supervisor
// writes to read-only pages only fail with WP set.
func (m *MMU) allowed(lp uint32, write bool) bool {
	ph := m.tlb.phys[lp]
	if m.cpl == 3 && ph&tlbUser == 0 {
		return false
	}
	if write {
		if ph&tlbDirty == 0 {
			return false
		}
		if ph&tlbWritable == 0 && (m.cpl == 3 || m.wp) {
			return false
		}
	}
	return true
}

// userAllowed combines the U/S bits of both levels. The 386 restricts a page
// only when both levels are supervisor; later parts restrict when either is.
func (m *MMU) userAllowed(pde, pte pageEntry) bool {
	if m.arch < Arch486Old {
		return pde.user() || pte.user()
	}
	return pde.user() && pte.user()
}

type walkResult struct {
	physPage uint32
	rights   uint32
	code     uint32
	ok       bool
}

// walk translates lin through the page tables. With commit set it writes
// Accessed/Dirty back to the tables; without it the walk has no side
// effects (debugger view).
func (m *MMU) walk(lin uint32, write bool, cpl uint8, commit bool) walkResult {
	lp := lin >> pageShift
	if !m.enabled {
		return walkResult{
			physPage: m.mem.maskPage(lp),
			rights:   tlbUser | tlbWritable | tlbDirty,
			ok:       true,
		}
	}
	code := uint32(0)
	if write {
		code |= pfWrite
	}
	user := cpl == 3
	if user {
		code |= pfUser
	}

	pdeAddr := m.cr3&^pageMask + (lin>>22)*4
	pde := pageEntry(m.mem.ReadPhysD(pdeAddr))
	if !pde.present() {
		return walkResult{code: code}
	}

	if pde.large() && m.pse {
		if !m.rightsOK(pde.user(), pde.writable(), write, cpl) {
			return walkResult{code: code | pfPresent}
		}
		upd := pde.withAccessed()
		if write {
			upd = upd.withDirty()
		}
		if commit && upd != pde {
			m.mem.WritePhysD(pdeAddr, uint32(upd))
		}
		phys := pde.base22()<<10 | pde.baseHigh()<<20 | lp&0x3FF
		return walkResult{
			physPage: m.mem.maskPage(phys),
			rights:   m.rightsWord(pde.user(), pde.writable(), upd.dirty()),
			ok:       true,
		}
	}

	pteAddr := pde.base()<<pageShift + (lp&0x3FF)*4
	pte := pageEntry(m.mem.ReadPhysD(pteAddr))
	if !pte.present() {
		return walkResult{code: code}
	}
	userOK := m.userAllowed(pde, pte)
	writeOK := pde.writable() && pte.writable()
	if !m.rightsOK(userOK, writeOK, write, cpl) {
		return walkResult{code: code | pfPresent}
	}
	if commit {
		if !pde.accessed() {
			m.mem.WritePhysD(pdeAddr, uint32(pde.withAccessed()))
		}
		upd := pte.withAccessed()
		if write {
			upd = upd.withDirty()
		}
		if upd != pte {
			m.mem.WritePhysD(pteAddr, uint32(upd))
		}
		pte = upd
	}
	return walkResult{
		physPage: m.mem.maskPage(pte.base()),
		rights:   m.rightsWord(userOK, writeOK, pte.dirty()),
		ok:       true,
	}
}

func (m *MMU) rightsOK(userOK, writeOK, write bool, cpl uint8) bool {
	if cpl == 3 && !userOK {
		return false
	}
	if write && !writeOK && (cpl == 3 || m.wp) {
		return false
	}
	return true
}

func (m *MMU) rightsWord(userOK, writeOK, dirty bool) uint32 {
	var r uint32
	if userOK {
		r |= tlbUser
	}
	if writeOK {
		r |= tlbWritable
	}
	if dirty {
		r |= tlbDirty
	}
	return r
}

// link fills the TLB slot of lp.
func (m *MMU) link(lp, physPage, rights uint32) {
	id := m.mem.PageHandler(physPage)
	s := m.mem.slot(id)
	if !m.tlb.linked[lp] {
		if len(m.tlb.links) >= tlbMaxLinks {
			m.InvalidateAll()
		}
		m.tlb.links = append(m.tlb.links, lp)
		m.tlb.linked[lp] = true
	}
	m.tlb.readHandler[lp] = id
	m.tlb.writeHandler[lp] = id
	m.tlb.phys[lp] = physPage&tlbPageMask | rights
	m.tlb.read[lp] = 0
	m.tlb.write[lp] = 0
	if s.host != nil {
		m.tlb.read[lp] = s.host.HostPage(physPage, false)
		if rights&tlbDirty != 0 {
			m.tlb.write[lp] = s.host.HostPage(physPage, true)
		}
	}
}

// entry makes sure the slot of lin grants the access and returns the linear
// page. A failed checked access returns false with the fault recorded.
func (m *MMU) entry(lin uint32, write, checked bool) (uint32, bool) {
	lp := lin >> pageShift
	if m.tlb.readHandler[lp] != handlerInit && m.allowed(lp, write) {
		return lp, true
	}
	for tries := 0; ; tries++ {
		r := m.walk(lin, write, m.cpl, true)
		if r.ok {
			m.link(lp, r.physPage, r.rights)
			return lp, true
		}
		m.cr2 = lin
		exc := &CPUException{Vector: excPF, Code: r.code, HasCode: true, Linear: lin}
		if checked {
			m.pending = exc
			return lp, false
		}
		if cpuLog.IsLevelEnabled(logrus.DebugLevel) {
			cpuLog.WithFields(logrus.Fields{
				"linear": hex32(lin),
				"code":   r.code,
				"cpl":    m.cpl,
			}).Debug("page fault")
		}
		if m.mode == PageFaultNested && m.nested != nil && !m.delivering && tries < maxNestedRetries {
			if m.nested(exc) {
				continue
			}
		}
		panic(exc)
	}
}

func (m *MMU) physAddr(lp, lin uint32) uint32 {
	return (m.tlb.phys[lp]&tlbPageMask)<<pageShift | lin&pageMask
}

// Translate resolves lin for the given privilege without touching the TLB or
// the page tables. It returns the fault code when the access would fault.
// The physical address is up to 40 bits wide.
func (m *MMU) Translate(lin uint32, write bool, cpl uint8) (phys uint64, code uint32, ok bool) {
	r := m.walk(lin, write, cpl, false)
	if !r.ok {
		return 0, r.code, false
	}
	return uint64(r.physPage)<<pageShift | uint64(lin&pageMask), 0, true
}

// TLBEntry reports the cached state of a linear page for the debugger.
func (m *MMU) TLBEntry(lin uint32) (physWord uint32, handler string, hostRead, hostWrite bool, filled bool) {
	lp := lin >> pageShift
	id := m.tlb.readHandler[lp]
	if id == handlerInit {
		return 0, "init", false, false, false
	}
	return m.tlb.phys[lp], m.mem.slot(id).name, m.tlb.read[lp] != 0, m.tlb.write[lp] != 0, true
}

// -----------------------------------------------------------------------------
// Linear accessors
// -----------------------------------------------------------------------------

// CheckWrite translates every page an n byte store at lin would touch,
// with write intent, and faults exactly as the store would. No handler is
// called.
func (m *MMU) CheckWrite(lin, n uint32) {
	m.entry(lin, true, false)
	if (lin+n-1)>>pageShift != lin>>pageShift {
		m.entry(lin+n-1, true, false)
	}
}

func (m *MMU) ReadB(lin uint32) uint8 {
	lp := lin >> pageShift
	if id := m.tlb.read[lp]; id != 0 && m.allowed(lp, false) {
		return m.mem.host[id][lin&pageMask]
	}
	lp, _ = m.entry(lin, false, false)
	if id := m.tlb.read[lp]; id != 0 {
		return m.mem.host[id][lin&pageMask]
	}
	return m.mem.slot(m.tlb.readHandler[lp]).h.ReadB(m.physAddr(lp, lin))
}

func (m *MMU) WriteB(lin uint32, v uint8) {
	lp := lin >> pageShift
	if id := m.tlb.write[lp]; id != 0 && m.allowed(lp, true) {
		m.mem.host[id][lin&pageMask] = v
		return
	}
	lp, _ = m.entry(lin, true, false)
	if id := m.tlb.write[lp]; id != 0 {
		m.mem.host[id][lin&pageMask] = v
		return
	}
	m.mem.slot(m.tlb.writeHandler[lp]).h.WriteB(m.physAddr(lp, lin), v)
}

func (m *MMU) ReadW(lin uint32) uint16 {
	off := lin & pageMask
	if off == pageMask {
		return uint16(m.ReadB(lin)) | uint16(m.ReadB(lin+1))<<8
	}
	lp := lin >> pageShift
	if id := m.tlb.read[lp]; id != 0 && m.allowed(lp, false) {
		return binary.LittleEndian.Uint16(m.mem.host[id][off:])
	}
	lp, _ = m.entry(lin, false, false)
	if id := m.tlb.read[lp]; id != 0 {
		return binary.LittleEndian.Uint16(m.mem.host[id][off:])
	}
	s := m.mem.slot(m.tlb.readHandler[lp])
	pa := m.physAddr(lp, lin)
	if s.wide != nil {
		return s.wide.ReadW(pa)
	}
	return uint16(s.h.ReadB(pa)) | uint16(s.h.ReadB(pa+1))<<8
}

func (m *MMU) ReadD(lin uint32) uint32 {
	off := lin & pageMask
	if off > pageSize-4 {
		return uint32(m.ReadB(lin)) | uint32(m.ReadB(lin+1))<<8 |
			uint32(m.ReadB(lin+2))<<16 | uint32(m.ReadB(lin+3))<<24
	}
	lp := lin >> pageShift
	if id := m.tlb.read[lp]; id != 0 && m.allowed(lp, false) {
		return binary.LittleEndian.Uint32(m.mem.host[id][off:])
	}
	lp, _ = m.entry(lin, false, false)
	if id := m.tlb.read[lp]; id != 0 {
		return binary.LittleEndian.Uint32(m.mem.host[id][off:])
	}
	s := m.mem.slot(m.tlb.readHandler[lp])
	pa := m.physAddr(lp, lin)
	if s.wide != nil {
		return s.wide.ReadD(pa)
	}
	return uint32(s.h.ReadB(pa)) | uint32(s.h.ReadB(pa+1))<<8 |
		uint32(s.h.ReadB(pa+2))<<16 | uint32(s.h.ReadB(pa+3))<<24
}

// WriteW splits a page-straddling store into bytes after both pages have
// been translated, so a fault on the second page leaves the first intact.
func (m *MMU) WriteW(lin uint32, v uint16) {
	off := lin & pageMask
	if off == pageMask {
		m.entry(lin, true, false)
		m.entry(lin+1, true, false)
		m.WriteB(lin, byte(v))
		m.WriteB(lin+1, byte(v>>8))
		return
	}
	lp := lin >> pageShift
	if id := m.tlb.write[lp]; id != 0 && m.allowed(lp, true) {
		binary.LittleEndian.PutUint16(m.mem.host[id][off:], v)
		return
	}
	lp, _ = m.entry(lin, true, false)
	if id := m.tlb.write[lp]; id != 0 {
		binary.LittleEndian.PutUint16(m.mem.host[id][off:], v)
		return
	}
	s := m.mem.slot(m.tlb.writeHandler[lp])
	pa := m.physAddr(lp, lin)
	if s.wide != nil {
		s.wide.WriteW(pa, v)
		return
	}
	s.h.WriteB(pa, byte(v))
	s.h.WriteB(pa+1, byte(v>>8))
}

func (m *MMU) WriteD(lin uint32, v uint32) {
	off := lin & pageMask
	if off > pageSize-4 {
		m.entry(lin, true, false)
		m.entry(lin+3, true, false)
		for i := uint32(0); i < 4; i++ {
			m.WriteB(lin+i, byte(v>>(8*i)))
		}
		return
	}
	lp := lin >> pageShift
	if id := m.tlb.write[lp]; id != 0 && m.allowed(lp, true) {
		binary.LittleEndian.PutUint32(m.mem.host[id][off:], v)
		return
	}
	lp, _ = m.entry(lin, true, false)
	if id := m.tlb.write[lp]; id != 0 {
		binary.LittleEndian.PutUint32(m.mem.host[id][off:], v)
		return
	}
	s := m.mem.slot(m.tlb.writeHandler[lp])
	pa := m.physAddr(lp, lin)
	if s.wide != nil {
		s.wide.WriteD(pa, v)
		return
	}
	for i := uint32(0); i < 4; i++ {
		s.h.WriteB(pa+i, byte(v>>(8*i)))
	}
}

// -----------------------------------------------------------------------------
// Checked accessors: a fault is recorded (PendingFault, CR2) and reported
// instead of raised.
// -----------------------------------------------------------------------------

func (m *MMU) ReadBChecked(lin uint32) (uint8, bool) {
	lp, ok := m.entry(lin, false, true)
	if !ok {
		return 0, true
	}
	s := m.mem.slot(m.tlb.readHandler[lp])
	if s.checked != nil {
		return s.checked.ReadBChecked(m.physAddr(lp, lin))
	}
	if id := m.tlb.read[lp]; id != 0 {
		return m.mem.host[id][lin&pageMask], false
	}
	return s.h.ReadB(m.physAddr(lp, lin)), false
}

func (m *MMU) WriteBChecked(lin uint32, v uint8) bool {
	lp, ok := m.entry(lin, true, true)
	if !ok {
		return true
	}
	s := m.mem.slot(m.tlb.writeHandler[lp])
	if s.checked != nil {
		return s.checked.WriteBChecked(m.physAddr(lp, lin), v)
	}
	if id := m.tlb.write[lp]; id != 0 {
		m.mem.host[id][lin&pageMask] = v
		return false
	}
	s.h.WriteB(m.physAddr(lp, lin), v)
	return false
}

func (m *MMU) ReadWChecked(lin uint32) (uint16, bool) {
	lo, f := m.ReadBChecked(lin)
	if f {
		return 0, true
	}
	hi, f := m.ReadBChecked(lin + 1)
	if f {
		return 0, true
	}
	return uint16(lo) | uint16(hi)<<8, false
}

func (m *MMU) ReadDChecked(lin uint32) (uint32, bool) {
	lo, f := m.ReadWChecked(lin)
	if f {
		return 0, true
	}
	hi, f := m.ReadWChecked(lin + 2)
	if f {
		return 0, true
	}
	return uint32(lo) | uint32(hi)<<16, false
}

// WriteWChecked and WriteDChecked translate every touched page before the
// first byte is stored.
func (m *MMU) WriteWChecked(lin uint32, v uint16) bool {
	if _, ok := m.entry(lin, true, true); !ok {
		return true
	}
	if _, ok := m.entry(lin+1, true, true); !ok {
		return true
	}
	return m.WriteBChecked(lin, byte(v)) || m.WriteBChecked(lin+1, byte(v>>8))
}

func (m *MMU) WriteDChecked(lin uint32, v uint32) bool {
	if _, ok := m.entry(lin, true, true); !ok {
		return true
	}
	if _, ok := m.entry(lin+3, true, true); !ok {
		return true
	}
	for i := uint32(0); i < 4; i++ {
		if m.WriteBChecked(lin+i, byte(v>>(8*i))) {
			return true
		}
	}
	return false
}
