// terminal_output.go - Host-side key and output translation for the console
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"io"
	"sync"
	"sync/atomic"
)

const keyCtrlC = 0x03

// hostKey maps a raw-mode key byte to what the guest console expects.
func hostKey(b byte) byte {
	switch b {
	case '\r': // raw mode sends CR for Enter
		return '\n'
	case 0x7F: // most terminals send DEL for Backspace
		return 0x08
	}
	return b
}

// rawWriter expands LF to CR LF while the terminal is in raw mode, where
// the tty no longer does it.
type rawWriter struct {
	mu  sync.Mutex
	w   io.Writer
	raw atomic.Bool
}

func newRawWriter(w io.Writer) *rawWriter { return &rawWriter{w: w} }

func (rw *rawWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()
	if !rw.raw.Load() {
		return rw.w.Write(p)
	}
	start := 0
	for i, b := range p {
		if b != '\n' {
			continue
		}
		if _, err := rw.w.Write(p[start:i]); err != nil {
			return start, err
		}
		if _, err := rw.w.Write([]byte("\r\n")); err != nil {
			return i, err
		}
		start = i + 1
	}
	if _, err := rw.w.Write(p[start:]); err != nil {
		return start, err
	}
	return len(p), nil
}

// feedKeys routes one host key to the console. Ctrl-C calls onInterrupt
// instead: raw mode suppresses SIGINT.
func feedKeys(console *ConsoleDevice, onInterrupt func(), b byte) {
	if b == keyCtrlC {
		if onInterrupt != nil {
			onInterrupt()
		}
		return
	}
	console.EnqueueByte(hostKey(b))
}
