// cpu_x86_runner.go - x86 CPU Program Runner
//
// Builds a machine (memory, port bus, interrupt line, CPU) from a
// MachineConfig, loads a flat binary or DOS .COM image and drives the CPU
// in slices until it halts for good.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	defaultX86LoadAddr = 0x00007C00

	// .COM images run in a single 64K segment with the PSP at offset 0.
	comPSPSegment = 0x0100
	comEntryIP    = 0x0100
	comStackTop   = 0xFFFE
	comMaxSize    = 0xFF00 - comEntryIP

	// flat32 reserves the top page of RAM for the GDT; the stack grows
	// down from just below it.
	flat32Reserve = 0x1000

	haltPollInterval = time.Millisecond
)

// comExitStub sits at PSP:0000 so a final RET (or a jump to PSP:0) ends
// the program: CLI; HLT.
var comExitStub = []byte{0xFA, 0xF4}

// CPUX86Runner manages the x86 CPU and its machine
type CPUX86Runner struct {
	cpu   *CPU_X86
	mem   *MemorySystem
	ports *PortBus
	irq   *IRQLine

	loadAddr  uint32
	entry     uint32
	startMode string
	slice     int

	// Performance monitoring
	PerfEnabled      bool
	InstructionCount atomic.Uint64
	perfStartTime    time.Time
	perfOut          io.Writer

	execMu     sync.Mutex
	execDone   chan struct{}
	execActive bool
	execCancel context.CancelFunc
}

// NewCPUX86Runner creates a machine from cfg.
func NewCPUX86Runner(cfg MachineConfig) (*CPUX86Runner, error) {
	arch, err := ParseArchLevel(cfg.CPU.Arch)
	if err != nil {
		return nil, err
	}
	mode, err := parsePageFaultMode(cfg.Paging.PageFaultMode)
	if err != nil {
		return nil, err
	}

	mem := NewMemorySystem(cfg.Memory.SizeKB, cfg.Memory.LargeMemory)
	mem.SetA20(cfg.Memory.A20)
	ports := NewPortBus()
	ports.AttachA20(mem)

	cpu := NewCPU_X86(mem, ports, arch)
	cpu.SetPageFaultMode(mode, cfg.Paging.NestedFaultLimit)
	irq := &IRQLine{}
	cpu.SetInterruptController(irq)

	r := &CPUX86Runner{
		cpu:         cpu,
		mem:         mem,
		ports:       ports,
		irq:         irq,
		loadAddr:    cfg.CPU.LoadAddr,
		entry:       cfg.CPU.Entry,
		startMode:   cfg.CPU.StartMode,
		slice:       cfg.CPU.CyclesPerSlice,
		PerfEnabled: cfg.Perf.Enabled,
		perfOut:     os.Stdout,
	}
	if r.loadAddr == 0 && !cfg.CPU.ComFile {
		r.loadAddr = defaultX86LoadAddr
	}
	if r.entry == 0 {
		r.entry = r.loadAddr
	}
	if r.slice <= 0 {
		r.slice = DefaultMachineConfig().CPU.CyclesPerSlice
	}
	return r, nil
}

// LoadProgramData places a flat image at the load address and points the
// CPU at the entry. In real mode the entry is split into a 64K-aligned
// segment and an offset; flat32 switches to the built-in flat GDT first.
func (r *CPUX86Runner) LoadProgramData(data []byte) error {
	if err := r.mem.LoadAt(r.loadAddr, data); err != nil {
		return err
	}
	c := r.cpu
	if r.startMode == "flat32" {
		top := r.mem.RAMSize() - flat32Reserve
		c.EnterFlat32(top)
		c.EIP = r.entry
		c.ESP = top
		return nil
	}
	seg := uint16(r.entry>>4) & 0xF000
	for i := range c.Seg {
		c.Seg[i] = realModeSegment(seg, i == x86SegCS)
	}
	c.EIP = r.entry & 0xFFFF
	c.ESP = comStackTop
	return nil
}

// LoadCOMData loads a DOS .COM image at PSP:0100 with CS=DS=ES=SS.
func (r *CPUX86Runner) LoadCOMData(data []byte) error {
	if len(data) > comMaxSize {
		return fmt.Errorf("%w: .COM image is %d bytes", ErrProgramTooLarge, len(data))
	}
	base := uint32(comPSPSegment) << 4
	if err := r.mem.LoadAt(base, comExitStub); err != nil {
		return err
	}
	if err := r.mem.LoadAt(base+comEntryIP, data); err != nil {
		return err
	}
	// The return address for a final near RET is PSP:0000.
	if err := r.mem.LoadAt(base+comStackTop, []byte{0, 0}); err != nil {
		return err
	}
	c := r.cpu
	for i := range c.Seg {
		c.Seg[i] = realModeSegment(comPSPSegment, i == x86SegCS)
	}
	c.EIP = comEntryIP
	c.ESP = comStackTop
	return nil
}

// LoadProgram loads a binary program from a file. Files are treated as
// .COM images when com is set.
func (r *CPUX86Runner) LoadProgram(filename string, com bool) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	if com {
		err = r.LoadCOMData(data)
	} else {
		err = r.LoadProgramData(data)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", filename, err)
	}
	return nil
}

// finished reports whether the CPU can make no further progress: shut
// down, or halted with interrupts disabled.
func (r *CPUX86Runner) finished() bool {
	c := r.cpu
	return c.Shutdown || (c.Halted && c.Flags&x86FlagIF == 0)
}

// Execute runs slices until the CPU is finished, stopped, or ctx ends.
func (r *CPUX86Runner) Execute(ctx context.Context) error {
	c := r.cpu
	for c.Running() && !r.finished() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if c.Halted {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(haltPollInterval):
			}
		}
		n := c.Run(r.slice)
		r.InstructionCount.Add(uint64(n))
	}
	if c.Shutdown {
		cpuLog.WithFields(logrus.Fields{
			"eip":    hex32(c.EIP),
			"cycles": c.Cycles,
		}).Error("CPU shut down")
	}
	return nil
}

// reportPerf prints a MIPS line every second until ctx ends.
func (r *CPUX86Runner) reportPerf(ctx context.Context) error {
	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-tick.C:
			elapsed := now.Sub(r.perfStartTime).Seconds()
			count := r.InstructionCount.Load()
			mips := float64(count) / elapsed / 1_000_000
			fmt.Fprintf(r.perfOut, "x86: %.2f MIPS (%.0f instructions in %.1fs)\n", mips, float64(count), elapsed)
		}
	}
}

// Run executes the program until it finishes or ctx is cancelled. The
// perf reporter, when enabled, runs alongside and stops with the CPU.
func (r *CPUX86Runner) Run(ctx context.Context) error {
	r.cpu.SetRunning(true)
	r.perfStartTime = time.Now()
	r.InstructionCount.Store(0)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return r.Execute(gctx)
	})
	if r.PerfEnabled {
		g.Go(func() error { return r.reportPerf(gctx) })
	}
	return g.Wait()
}

// Step executes a single instruction
func (r *CPUX86Runner) Step() int {
	return r.cpu.Step()
}

func (r *CPUX86Runner) CPU() *CPU_X86         { return r.cpu }
func (r *CPUX86Runner) Memory() *MemorySystem { return r.mem }
func (r *CPUX86Runner) Ports() *PortBus       { return r.ports }
func (r *CPUX86Runner) IRQ() *IRQLine         { return r.irq }

// IsRunning returns whether the execution goroutine is active
func (r *CPUX86Runner) IsRunning() bool {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	return r.execActive
}

// StartExecution runs Execute on its own goroutine. It is a no-op when
// already running.
func (r *CPUX86Runner) StartExecution() {
	r.execMu.Lock()
	defer r.execMu.Unlock()
	if r.execActive {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.execActive = true
	r.execCancel = cancel
	r.cpu.SetRunning(true)
	r.execDone = make(chan struct{})
	go func() {
		defer func() {
			r.execMu.Lock()
			r.execActive = false
			close(r.execDone)
			r.execMu.Unlock()
		}()
		_ = r.Execute(ctx)
	}()
}

// Stop ends execution and waits for the goroutine to exit. CPU state is
// left as it was after the last retired instruction.
func (r *CPUX86Runner) Stop() {
	r.execMu.Lock()
	r.cpu.SetRunning(false)
	if !r.execActive {
		r.execMu.Unlock()
		return
	}
	r.execCancel()
	done := r.execDone
	r.execMu.Unlock()
	<-done
}
