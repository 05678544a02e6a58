//go:build windows

// terminal_host_windows.go - Raw stdin for the guest console (Windows)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/term"
)

// TerminalHost reads raw stdin and feeds bytes into the console device.
// Reads block, so Stop does not wait for the reader to exit.
type TerminalHost struct {
	console      *ConsoleDevice
	out          *rawWriter
	onInterrupt  func()
	stopCh       chan struct{}
	stopped      sync.Once
	fd           int
	oldTermState *term.State
}

func NewTerminalHost(console *ConsoleDevice, out *rawWriter, onInterrupt func()) *TerminalHost {
	return &TerminalHost{
		console:     console,
		out:         out,
		onInterrupt: onInterrupt,
		stopCh:      make(chan struct{}),
	}
}

// Start sets stdin to raw mode and begins reading in a goroutine.
func (h *TerminalHost) Start() error {
	h.fd = int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		return fmt.Errorf("terminal: raw mode: %w", err)
	}
	h.oldTermState = oldState
	h.out.raw.Store(true)

	go func() {
		buf := make([]byte, 64)
		for {
			n, err := os.Stdin.Read(buf)
			select {
			case <-h.stopCh:
				return
			default:
			}
			for _, b := range buf[:n] {
				feedKeys(h.console, h.onInterrupt, b)
			}
			if err != nil {
				return
			}
		}
	}()
	return nil
}

// Stop restores the terminal state.
func (h *TerminalHost) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
	h.out.raw.Store(false)
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
