// mem_handlers.go - Physical memory map and page handler registry
//
// Physical memory is a set of 4KB pages. Each page is owned by a handler:
// plain RAM, ROM, unmapped space or a device. The paging layer resolves a
// handler once per TLB fill and then keeps only its arena index.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrProgramTooLarge = errors.New("image does not fit in physical memory")

const (
	pageShift = 12
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

// PageHandler is the minimal capability of a physical page owner. Addresses
// are physical.
type PageHandler interface {
	ReadB(addr uint32) uint8
	WriteB(addr uint32, v uint8)
}

// WidePageHandler serves word and dword accesses without splitting them.
type WidePageHandler interface {
	ReadW(addr uint32) uint16
	ReadD(addr uint32) uint32
	WriteW(addr uint32, v uint16)
	WriteD(addr uint32, v uint32)
}

// CheckedPageHandler can refuse an access. A true return means the access
// faulted and nothing was transferred.
type CheckedPageHandler interface {
	ReadBChecked(addr uint32) (uint8, bool)
	WriteBChecked(addr uint32, v uint8) bool
}

// HostMappedHandler exposes pages backed by host memory. The returned id
// indexes MemorySystem.host; zero means the page must go through the handler.
type HostMappedHandler interface {
	HostPage(physPage uint32, write bool) int32
}

// handlerSlot caches the optional interfaces of a registered handler.
type handlerSlot struct {
	h       PageHandler
	wide    WidePageHandler
	checked CheckedPageHandler
	host    HostMappedHandler
	name    string
}

func newHandlerSlot(name string, h PageHandler) handlerSlot {
	s := handlerSlot{h: h, name: name}
	s.wide, _ = h.(WidePageHandler)
	s.checked, _ = h.(CheckedPageHandler)
	s.host, _ = h.(HostMappedHandler)
	return s
}

// Fixed arena ids. Id 0 is the TLB's not-yet-translated marker and is never
// stored in pageOwner.
const (
	handlerInit uint16 = iota
	handlerRAM
	handlerROM
	handlerUnmapped
	handlerFirstDynamic
)

// MemorySystem owns physical RAM and the page-to-handler map.
type MemorySystem struct {
	ram       []byte
	ramPages  uint32
	maxPages  uint32 // addressable physical pages (20 or 28 bit page numbers)
	handlers  []handlerSlot
	pageOwner map[uint32]uint16 // pages not using the default owner
	host      [][]byte          // host page id -> 4KB slice, id 0 unused
	a20       bool

	// invalidate is called when the owner of a physical page changes so the
	// paging layer can drop cached translations.
	invalidate func(physPage uint32)
	a20Changed func()
}

func NewMemorySystem(sizeKB uint32, largeMemory bool) *MemorySystem {
	pages := sizeKB / 4
	m := &MemorySystem{
		ram:       make([]byte, pages*pageSize),
		ramPages:  pages,
		maxPages:  1 << 20,
		pageOwner: make(map[uint32]uint16),
		a20:       true,
	}
	if largeMemory {
		// 40-bit physical addresses through PSE; everything past the
		// installed RAM is open bus.
		m.maxPages = 1 << 28
	}
	m.handlers = make([]handlerSlot, handlerFirstDynamic)
	m.handlers[handlerInit] = handlerSlot{name: "init"}
	m.handlers[handlerRAM] = newHandlerSlot("ram", &ramHandler{m: m})
	m.handlers[handlerROM] = newHandlerSlot("rom", &romHandler{m: m})
	m.handlers[handlerUnmapped] = newHandlerSlot("unmapped", unmappedHandler{})

	m.host = make([][]byte, 1, pages+1)
	for p := uint32(0); p < pages; p++ {
		m.host = append(m.host, m.ram[p*pageSize:(p+1)*pageSize:(p+1)*pageSize])
	}
	return m
}

// RAMSize returns the installed RAM in bytes.
func (m *MemorySystem) RAMSize() uint32 { return uint32(len(m.ram)) }

// PageHandler returns the arena id that owns physPage.
func (m *MemorySystem) PageHandler(physPage uint32) uint16 {
	if id, ok := m.pageOwner[physPage]; ok {
		return id
	}
	if physPage < m.ramPages {
		return handlerRAM
	}
	return handlerUnmapped
}

func (m *MemorySystem) slot(id uint16) *handlerSlot {
	return &m.handlers[id]
}

// RegisterHandler adds h to the arena and maps it over pages physical pages
// starting at physPage. It returns the arena id. Handlers see 32-bit
// physical addresses, so the range must lie below 4GB.
func (m *MemorySystem) RegisterHandler(name string, physPage, pages uint32, h PageHandler) (uint16, error) {
	if uint64(physPage)+uint64(pages) > 1<<20 {
		return 0, fmt.Errorf("register %s: pages 0x%X+%d lie above 4GB", name, physPage, pages)
	}
	if len(m.handlers) >= 0xFFFF {
		return 0, fmt.Errorf("register %s: handler arena full", name)
	}
	id := uint16(len(m.handlers))
	m.handlers = append(m.handlers, newHandlerSlot(name, h))
	m.SetPageHandler(physPage, pages, id)
	return id, nil
}

// SetPageHandler maps an existing arena id over a page range.
func (m *MemorySystem) SetPageHandler(physPage, pages uint32, id uint16) {
	for p := physPage; p < physPage+pages; p++ {
		m.pageOwner[p] = id
		m.invalidatePage(p)
	}
}

// ResetPageHandler returns a page range to its default owner (RAM below the
// installed size, unmapped above).
func (m *MemorySystem) ResetPageHandler(physPage, pages uint32) {
	for p := physPage; p < physPage+pages; p++ {
		delete(m.pageOwner, p)
		m.invalidatePage(p)
	}
}

// FreeHandler unmaps a page range: the pages read as open bus afterwards.
func (m *MemorySystem) FreeHandler(physPage, pages uint32) {
	m.SetPageHandler(physPage, pages, handlerUnmapped)
}

// SetROM marks a page range read-only. Contents stay in the RAM array and
// are loaded with LoadAt before the range is locked.
func (m *MemorySystem) SetROM(physPage, pages uint32) {
	m.SetPageHandler(physPage, pages, handlerROM)
}

// SetLFB maps a linear frame buffer. Pages of fb are host mapped; mmio, when
// non-nil, covers the pages that follow the frame buffer.
func (m *MemorySystem) SetLFB(physPage uint32, fb []byte, mmio PageHandler, mmioPages uint32) error {
	if len(fb)%pageSize != 0 {
		return fmt.Errorf("lfb size %d: not a multiple of the page size", len(fb))
	}
	first := int32(len(m.host))
	for off := 0; off < len(fb); off += pageSize {
		m.host = append(m.host, fb[off:off+pageSize:off+pageSize])
	}
	lfb := &lfbHandler{m: m, base: physPage, first: first, pages: uint32(len(fb) / pageSize)}
	if _, err := m.RegisterHandler("lfb", physPage, lfb.pages, lfb); err != nil {
		return err
	}
	if mmio != nil && mmioPages > 0 {
		if _, err := m.RegisterHandler("lfb-mmio", physPage+lfb.pages, mmioPages, mmio); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemorySystem) invalidatePage(p uint32) {
	if m.invalidate != nil {
		m.invalidate(p)
	}
}

// SetA20 opens or closes the A20 gate. With the gate closed physical
// address bit 20 reads as zero, wrapping the first megabyte.
func (m *MemorySystem) SetA20(enabled bool) {
	if m.a20 == enabled {
		return
	}
	m.a20 = enabled
	if m.a20Changed != nil {
		m.a20Changed()
	}
}

func (m *MemorySystem) A20() bool { return m.a20 }

// maskPage applies the A20 gate and the physical address width to a page
// number.
func (m *MemorySystem) maskPage(p uint32) uint32 {
	if !m.a20 {
		p &^= 0x100
	}
	return p & (m.maxPages - 1)
}

// -----------------------------------------------------------------------------
// Physical access (page walks, DMA style loaders, the debugger)
// -----------------------------------------------------------------------------

func (m *MemorySystem) ReadPhysB(addr uint32) uint8 {
	return m.handlers[m.PageHandler(addr>>pageShift)].h.ReadB(addr)
}

func (m *MemorySystem) WritePhysB(addr uint32, v uint8) {
	m.handlers[m.PageHandler(addr>>pageShift)].h.WriteB(addr, v)
}

func (m *MemorySystem) ReadPhysD(addr uint32) uint32 {
	if addr&pageMask <= pageSize-4 {
		if s := m.slot(m.PageHandler(addr >> pageShift)); s.wide != nil {
			return s.wide.ReadD(addr)
		}
	}
	return uint32(m.ReadPhysB(addr)) | uint32(m.ReadPhysB(addr+1))<<8 |
		uint32(m.ReadPhysB(addr+2))<<16 | uint32(m.ReadPhysB(addr+3))<<24
}

func (m *MemorySystem) WritePhysD(addr uint32, v uint32) {
	if addr&pageMask <= pageSize-4 {
		if s := m.slot(m.PageHandler(addr >> pageShift)); s.wide != nil {
			s.wide.WriteD(addr, v)
			return
		}
	}
	for i := uint32(0); i < 4; i++ {
		m.WritePhysB(addr+i, byte(v>>(8*i)))
	}
}

// LoadAt copies data into RAM at a physical address, bypassing ROM
// protection.
func (m *MemorySystem) LoadAt(addr uint32, data []byte) error {
	if uint64(addr)+uint64(len(data)) > uint64(len(m.ram)) {
		return fmt.Errorf("%w: %d bytes at 0x%08X", ErrProgramTooLarge, len(data), addr)
	}
	copy(m.ram[addr:], data)
	return nil
}

// -----------------------------------------------------------------------------
// Built-in handlers
// -----------------------------------------------------------------------------

type ramHandler struct{ m *MemorySystem }

func (h *ramHandler) ReadB(addr uint32) uint8 { return h.m.ram[addr] }
func (h *ramHandler) WriteB(addr uint32, v uint8) {
	h.m.ram[addr] = v
}
func (h *ramHandler) ReadW(addr uint32) uint16 {
	return binary.LittleEndian.Uint16(h.m.ram[addr:])
}
func (h *ramHandler) ReadD(addr uint32) uint32 {
	return binary.LittleEndian.Uint32(h.m.ram[addr:])
}
func (h *ramHandler) WriteW(addr uint32, v uint16) {
	binary.LittleEndian.PutUint16(h.m.ram[addr:], v)
}
func (h *ramHandler) WriteD(addr uint32, v uint32) {
	binary.LittleEndian.PutUint32(h.m.ram[addr:], v)
}
func (h *ramHandler) HostPage(physPage uint32, write bool) int32 {
	return int32(physPage) + 1
}

// romHandler reads from the RAM array and drops writes.
type romHandler struct{ m *MemorySystem }

func (h *romHandler) ReadB(addr uint32) uint8 {
	if addr >= uint32(len(h.m.ram)) {
		return 0xFF
	}
	return h.m.ram[addr]
}
func (h *romHandler) WriteB(addr uint32, v uint8) {}
func (h *romHandler) HostPage(physPage uint32, write bool) int32 {
	if write || physPage >= h.m.ramPages {
		return 0
	}
	return int32(physPage) + 1
}

// unmappedHandler models an open bus.
type unmappedHandler struct{}

func (unmappedHandler) ReadB(addr uint32) uint8     { return 0xFF }
func (unmappedHandler) WriteB(addr uint32, v uint8) {}

type lfbHandler struct {
	m     *MemorySystem
	base  uint32
	first int32
	pages uint32
}

func (h *lfbHandler) page(addr uint32) []byte {
	return h.m.host[h.first+int32(addr>>pageShift-h.base)]
}
func (h *lfbHandler) ReadB(addr uint32) uint8 { return h.page(addr)[addr&pageMask] }
func (h *lfbHandler) WriteB(addr uint32, v uint8) {
	h.page(addr)[addr&pageMask] = v
}
func (h *lfbHandler) HostPage(physPage uint32, write bool) int32 {
	return h.first + int32(physPage-h.base)
}

// MMIOHandler adapts device callbacks to a page handler. Nil callbacks read
// as open bus and ignore writes.
type MMIOHandler struct {
	Read  func(addr uint32) uint8
	Write func(addr uint32, v uint8)
}

func (h *MMIOHandler) ReadB(addr uint32) uint8 {
	if h.Read == nil {
		return 0xFF
	}
	return h.Read(addr)
}

func (h *MMIOHandler) WriteB(addr uint32, v uint8) {
	if h.Write != nil {
		h.Write(addr, v)
	}
}
