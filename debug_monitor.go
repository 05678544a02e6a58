// debug_monitor.go - Machine Monitor core (freeze/resume, activate/deactivate)
//
// The monitor is line oriented: it reads commands from an io.Reader while
// the CPU is frozen, and waits for a breakpoint, a watchpoint, the CPU
// stopping or a new input line while it runs.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// MonitorState represents whether the monitor is active.
type MonitorState int

const (
	MonitorInactive MonitorState = iota
	MonitorActive
)

// OutputLine holds styled text for the monitor scrollback buffer.
type OutputLine struct {
	Text  string
	Color *color.Color
}

var (
	colorWhite  = color.New(color.FgWhite)
	colorCyan   = color.New(color.FgCyan)
	colorYellow = color.New(color.FgYellow)
	colorRed    = color.New(color.FgRed)
	colorGreen  = color.New(color.FgGreen)
	colorDim    = color.New(color.FgHiBlack)
)

const runPollInterval = 20 * time.Millisecond

// MachineMonitor is the debugger state machine for one x86 CPU.
type MachineMonitor struct {
	mu    sync.Mutex
	state MonitorState

	cpu            *DebugX86
	breakpointChan chan BreakpointEvent

	out         io.Writer
	outputLines []OutputLine
	maxOutput   int

	history     []string
	prevRegs    map[string]uint64 // for change highlighting
	scriptDepth int
	quit        bool
}

// NewMachineMonitor creates a monitor for cpu. Output lines are kept in
// the scrollback buffer and, when out is non-nil, printed there in color.
func NewMachineMonitor(cpu *DebugX86, out io.Writer) *MachineMonitor {
	m := &MachineMonitor{
		state:          MonitorInactive,
		cpu:            cpu,
		breakpointChan: make(chan BreakpointEvent, 1),
		out:            out,
		maxOutput:      500,
		prevRegs:       make(map[string]uint64),
	}
	cpu.SetBreakpointChannel(m.breakpointChan, 0)
	cpu.SetLuaOutput(func(s string) { m.appendOutput(s, colorWhite) })
	return m
}

// ApplyConfig installs the breakpoints of a [monitor] section.
// Breakpoints are "addr" or "addr condition"; lua_conditions maps an
// address to a Lua expression.
func (m *MachineMonitor) ApplyConfig(cfg MonitorConfig) error {
	for _, line := range cfg.Breakpoints {
		addrText, condText, _ := strings.Cut(strings.TrimSpace(line), " ")
		addr, ok := ParseAddress(addrText)
		if !ok {
			return fmt.Errorf("breakpoint %q: invalid address", line)
		}
		var cond *BreakpointCondition
		if condText = strings.TrimSpace(condText); condText != "" {
			var err error
			if cond, err = ParseCondition(condText); err != nil {
				return fmt.Errorf("breakpoint %q: %w", line, err)
			}
		}
		m.cpu.SetConditionalBreakpoint(addr, cond)
	}
	for addrText, expr := range cfg.LuaConditions {
		addr, ok := ParseAddress(addrText)
		if !ok {
			return fmt.Errorf("lua condition %q: invalid address", addrText)
		}
		cond, err := NewLuaCondition(expr)
		if err != nil {
			return fmt.Errorf("lua condition at %s: %w", addrText, err)
		}
		m.cpu.SetConditionalBreakpoint(addr, cond)
	}
	return nil
}

// IsActive returns whether the monitor is accepting commands.
func (m *MachineMonitor) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == MonitorActive
}

// Output returns a copy of the scrollback buffer.
func (m *MachineMonitor) Output() []OutputLine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OutputLine(nil), m.outputLines...)
}

// Activate freezes the CPU and enters the monitor.
func (m *MachineMonitor) Activate() {
	if m.IsActive() {
		return
	}
	if m.cpu.IsRunning() {
		m.cpu.Freeze()
	}
	// A stop that raced with the freeze is stale now.
	select {
	case <-m.breakpointChan:
	default:
	}
	m.mu.Lock()
	m.state = MonitorActive
	m.mu.Unlock()

	m.appendOutput("MACHINE MONITOR - "+m.cpu.CPUName()+" - type ? for help", colorCyan)
	m.showRegisters()
	m.saveCurrentRegs()
	m.showDisassembly(0, 8)
}

// Deactivate leaves the monitor and resumes the CPU.
func (m *MachineMonitor) Deactivate() {
	m.mu.Lock()
	if m.state == MonitorInactive {
		m.mu.Unlock()
		return
	}
	m.state = MonitorInactive
	m.mu.Unlock()
	m.cpu.Resume()
}

// Run drives the monitor from in until q, end of input, or ctx ends. The
// CPU is frozen when Run returns.
func (m *MachineMonitor) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	tick := time.NewTicker(runPollInterval)
	defer tick.Stop()
	defer func() {
		if m.cpu.IsRunning() {
			m.cpu.Freeze()
		}
	}()

	m.Activate()
	for {
		if m.IsActive() {
			m.prompt()
			select {
			case <-ctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return inputErr(scanErr)
				}
				if m.ExecuteCommand(line) {
					if m.quit {
						return nil
					}
					m.Deactivate()
				}
			}
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case ev := <-m.breakpointChan:
			m.handleBreakpointHit(ev)
		case <-tick.C:
			if !m.cpu.IsRunning() {
				m.appendOutput("CPU stopped", colorYellow)
				m.Activate()
			}
		case line, ok := <-lines:
			if !ok {
				return inputErr(scanErr)
			}
			// Any input while running breaks into the monitor.
			m.Activate()
			if strings.TrimSpace(line) != "" && m.ExecuteCommand(line) {
				if m.quit {
					return nil
				}
				m.Deactivate()
			}
		}
	}
}

func inputErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return nil
	}
}

func (m *MachineMonitor) prompt() {
	if m.out != nil {
		colorDim.Fprint(m.out, "> ")
	}
}

// appendOutput adds a line to the scrollback buffer.
func (m *MachineMonitor) appendOutput(text string, c *color.Color) {
	m.mu.Lock()
	m.outputLines = append(m.outputLines, OutputLine{Text: text, Color: c})
	if len(m.outputLines) > m.maxOutput {
		m.outputLines = m.outputLines[len(m.outputLines)-m.maxOutput:]
	}
	out := m.out
	m.mu.Unlock()
	if out != nil {
		c.Fprintln(out, text)
	}
}

// saveCurrentRegs records the registers for change detection.
func (m *MachineMonitor) saveCurrentRegs() {
	m.prevRegs = make(map[string]uint64)
	for _, r := range m.cpu.GetRegisters() {
		m.prevRegs[r.Name] = r.Value
	}
}

func (m *MachineMonitor) handleBreakpointHit(ev BreakpointEvent) {
	if ev.IsWatch {
		m.appendOutput(fmt.Sprintf("WATCH $%X: $%02X -> $%02X at $%X",
			ev.WatchAddr, ev.WatchOldValue, ev.WatchNewValue, ev.Address), colorRed)
	} else {
		m.appendOutput(fmt.Sprintf("BREAK at $%X", ev.Address), colorRed)
	}
	m.Activate()
}
