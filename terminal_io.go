// terminal_io.go - Guest console device on ports 0xE9-0xEB
//
// 0xE9  write: output byte         read: 0xE9 (presence check)
// 0xEA  read:  status              write: control
// 0xEB  read:  next input byte, 0 when empty
//
// With the control IRQ bit set, a byte arriving in an empty buffer (or
// left behind after a read) raises the console vector on the IRQ line.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"io"
	"sync"
)

const (
	conStatusInput = 1 << 0 // input byte available
	conStatusReady = 1 << 1 // output always ready

	conCtrlIRQ = 1 << 0

	ConsoleIRQVector = 0x09

	consoleBufSize = 1024
)

// ConsoleDevice is a byte console with an input ring buffer. Tests inject
// input through EnqueueByte; the terminal host feeds stdin the same way.
type ConsoleDevice struct {
	mu sync.Mutex

	inputBuf  [consoleBufSize]byte
	inputHead int
	inputLen  int

	out        io.Writer
	irq        *IRQLine
	vector     uint8
	irqEnabled bool
}

// NewConsoleDevice creates a console writing guest output to out. irq may
// be nil, in which case the IRQ control bit has no effect.
func NewConsoleDevice(out io.Writer, irq *IRQLine, vector uint8) *ConsoleDevice {
	if out == nil {
		out = io.Discard
	}
	return &ConsoleDevice{out: out, irq: irq, vector: vector}
}

// Attach registers the console ports on b.
func (tc *ConsoleDevice) Attach(b *PortBus) {
	b.Register(X86_PORT_DEBUG_CON, 3, PortDevice{In: tc.in, Out: tc.write})
}

// EnqueueByte adds one input byte. It reports false when the buffer is
// full and the byte was dropped.
func (tc *ConsoleDevice) EnqueueByte(b byte) bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	if tc.inputLen == consoleBufSize {
		return false
	}
	tc.inputBuf[(tc.inputHead+tc.inputLen)%consoleBufSize] = b
	tc.inputLen++
	tc.raiseLocked()
	return true
}

func (tc *ConsoleDevice) EnqueueString(s string) {
	for i := 0; i < len(s); i++ {
		tc.EnqueueByte(s[i])
	}
}

// Pending returns the number of buffered input bytes.
func (tc *ConsoleDevice) Pending() int {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.inputLen
}

func (tc *ConsoleDevice) raiseLocked() {
	if tc.irqEnabled && tc.irq != nil && tc.inputLen > 0 {
		tc.irq.SetIRQ(true, tc.vector)
	}
}

func (tc *ConsoleDevice) in(port uint16) uint8 {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	switch port {
	case X86_PORT_DEBUG_CON:
		return X86_PORT_DEBUG_CON
	case X86_PORT_CON_STATUS:
		st := uint8(conStatusReady)
		if tc.inputLen > 0 {
			st |= conStatusInput
		}
		return st
	}
	if tc.inputLen == 0 {
		return 0
	}
	b := tc.inputBuf[tc.inputHead]
	tc.inputHead = (tc.inputHead + 1) % consoleBufSize
	tc.inputLen--
	tc.raiseLocked()
	return b
}

func (tc *ConsoleDevice) write(port uint16, v uint8) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	switch port {
	case X86_PORT_DEBUG_CON:
		_, _ = tc.out.Write([]byte{v})
	case X86_PORT_CON_STATUS:
		tc.irqEnabled = v&conCtrlIRQ != 0
		tc.raiseLocked()
	}
}
