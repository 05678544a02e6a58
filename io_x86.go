// io_x86.go - x86 port I/O bus and interrupt line
//
// PortBus is the default X86IO. Devices register byte-wide read and write
// callbacks per port; word and dword accesses are split into consecutive
// byte ports, low byte first. Unclaimed ports read 0xFF.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"sync"
	"sync/atomic"
)

// X86IO is the port address space seen by IN, OUT, INS and OUTS.
type X86IO interface {
	In8(port uint16) uint8
	In16(port uint16) uint16
	In32(port uint16) uint32
	Out8(port uint16, v uint8)
	Out16(port uint16, v uint16)
	Out32(port uint16, v uint32)
}

// InterruptController is the external PIC as seen by the CPU.
type InterruptController interface {
	Pending() bool
	Acknowledge() uint8
}

// Fixed port numbers.
const (
	X86_PORT_SYS_CTRL_A = 0x92 // bit 1: fast A20 gate
	X86_PORT_DEBUG_CON  = 0xE9 // console output, reads 0xE9
	X86_PORT_CON_STATUS = 0xEA // console status / control
	X86_PORT_CON_DATA   = 0xEB // console input
)

// PortDevice handles one port. Either callback may be nil.
type PortDevice struct {
	In  func(port uint16) uint8
	Out func(port uint16, v uint8)
}

// PortBus maps ports to devices.
type PortBus struct {
	mu    sync.RWMutex
	ports map[uint16]PortDevice
}

func NewPortBus() *PortBus {
	return &PortBus{ports: make(map[uint16]PortDevice)}
}

// Register attaches dev to count ports starting at base.
func (b *PortBus) Register(base uint16, count int, dev PortDevice) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range count {
		b.ports[base+uint16(i)] = dev
	}
}

func (b *PortBus) Unregister(base uint16, count int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range count {
		delete(b.ports, base+uint16(i))
	}
}

func (b *PortBus) In8(port uint16) uint8 {
	b.mu.RLock()
	dev, ok := b.ports[port]
	b.mu.RUnlock()
	if !ok || dev.In == nil {
		return 0xFF
	}
	return dev.In(port)
}

func (b *PortBus) Out8(port uint16, v uint8) {
	b.mu.RLock()
	dev, ok := b.ports[port]
	b.mu.RUnlock()
	if ok && dev.Out != nil {
		dev.Out(port, v)
	}
}

func (b *PortBus) In16(port uint16) uint16 {
	return uint16(b.In8(port)) | uint16(b.In8(port+1))<<8
}

func (b *PortBus) In32(port uint16) uint32 {
	return uint32(b.In16(port)) | uint32(b.In16(port+2))<<16
}

func (b *PortBus) Out16(port uint16, v uint16) {
	b.Out8(port, uint8(v))
	b.Out8(port+1, uint8(v>>8))
}

func (b *PortBus) Out32(port uint16, v uint32) {
	b.Out16(port, uint16(v))
	b.Out16(port+2, uint16(v>>16))
}

// AttachA20 wires port 0x92 to the memory system's A20 gate.
func (b *PortBus) AttachA20(mem *MemorySystem) {
	b.Register(X86_PORT_SYS_CTRL_A, 1, PortDevice{
		In: func(uint16) uint8 {
			if mem.A20() {
				return 0x02
			}
			return 0x00
		},
		Out: func(_ uint16, v uint8) {
			mem.SetA20(v&0x02 != 0)
		},
	})
}

// IRQLine is a single-vector interrupt source. Raise latches the vector
// until the CPU acknowledges it.
type IRQLine struct {
	pending atomic.Bool
	vector  atomic.Uint32
}

// SetIRQ sets or clears the interrupt request line
func (l *IRQLine) SetIRQ(active bool, vector uint8) {
	if active {
		l.vector.Store(uint32(vector))
	}
	l.pending.Store(active)
}

func (l *IRQLine) Pending() bool { return l.pending.Load() }

func (l *IRQLine) Acknowledge() uint8 {
	l.pending.Store(false)
	return uint8(l.vector.Load())
}
