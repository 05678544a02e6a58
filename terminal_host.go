//go:build unix

// terminal_host.go - Raw stdin for the guest console (Unix)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// TerminalHost reads raw stdin and feeds bytes into the console device.
// Only instantiated in main.go for interactive use, never in tests.
type TerminalHost struct {
	console      *ConsoleDevice
	out          *rawWriter
	onInterrupt  func()
	stopCh       chan struct{}
	done         chan struct{}
	stopped      sync.Once
	fd           int
	nonblockSet  bool
	oldTermState *term.State
}

// NewTerminalHost creates a host adapter for console. out is the writer
// guest output should go through; onInterrupt runs on Ctrl-C.
func NewTerminalHost(console *ConsoleDevice, out *rawWriter, onInterrupt func()) *TerminalHost {
	return &TerminalHost{
		console:     console,
		out:         out,
		onInterrupt: onInterrupt,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}
}

// Start puts stdin in raw, non-blocking mode and begins reading in a
// goroutine. Call Stop to restore it.
func (h *TerminalHost) Start() error {
	h.fd = int(os.Stdin.Fd())

	oldState, err := term.MakeRaw(h.fd)
	if err != nil {
		close(h.done)
		return fmt.Errorf("terminal: raw mode: %w", err)
	}
	h.oldTermState = oldState

	if err := unix.SetNonblock(h.fd, true); err != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
		close(h.done)
		return fmt.Errorf("terminal: nonblocking stdin: %w", err)
	}
	h.nonblockSet = true
	h.out.raw.Store(true)

	go func() {
		defer close(h.done)
		buf := make([]byte, 64)
		for {
			select {
			case <-h.stopCh:
				return
			default:
			}

			n, err := unix.Read(h.fd, buf)
			for _, b := range buf[:max(n, 0)] {
				feedKeys(h.console, h.onInterrupt, b)
			}
			if err == unix.EAGAIN || err == unix.EINTR {
				time.Sleep(5 * time.Millisecond)
				continue
			}
			if err != nil {
				return
			}
			if n == 0 {
				time.Sleep(5 * time.Millisecond)
			}
		}
	}()
	return nil
}

// Stop terminates the reader and restores stdin.
func (h *TerminalHost) Stop() {
	h.stopped.Do(func() {
		close(h.stopCh)
	})
	<-h.done
	h.out.raw.Store(false)
	if h.nonblockSet {
		_ = unix.SetNonblock(h.fd, false)
		h.nonblockSet = false
	}
	if h.oldTermState != nil {
		_ = term.Restore(h.fd, h.oldTermState)
		h.oldTermState = nil
	}
}
