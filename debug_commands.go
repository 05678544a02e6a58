// debug_commands.go - Command parser and handlers for the monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const maxScriptDepth = 8

// MonitorCommand is a parsed command with name and arguments.
type MonitorCommand struct {
	Name string
	Args []string
}

// ParseCommand splits a raw input line into a command name and arguments.
func ParseCommand(input string) MonitorCommand {
	parts := strings.Fields(input)
	if len(parts) == 0 {
		return MonitorCommand{}
	}
	return MonitorCommand{
		Name: strings.ToLower(parts[0]),
		Args: parts[1:],
	}
}

// ParseAddress parses a monitor address in various formats:
// $hex, 0xhex, bare hex, #decimal
func ParseAddress(s string) (uint64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	// #decimal
	if rest, ok := strings.CutPrefix(s, "#"); ok {
		v, err := strconv.ParseUint(rest, 10, 64)
		return v, err == nil
	}

	// $hex
	if rest, ok := strings.CutPrefix(s, "$"); ok {
		v, err := strconv.ParseUint(rest, 16, 64)
		return v, err == nil
	}

	// 0x or 0X hex
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		v, err := strconv.ParseUint(s[2:], 16, 64)
		return v, err == nil
	}

	// bare hex
	v, err := strconv.ParseUint(s, 16, 64)
	return v, err == nil
}

// EvalAddress evaluates a simple expression: <term> [+|- <term>]*
// Each term is either a register name or a numeric address. A
// seg:offset pair is converted to a linear address with real-mode
// arithmetic.
func EvalAddress(expr string, cpu DebuggableCPU) (uint64, bool) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return 0, false
	}
	if seg, off, ok := strings.Cut(expr, ":"); ok {
		s, ok1 := EvalAddress(seg, cpu)
		o, ok2 := EvalAddress(off, cpu)
		return (s&0xFFFF)<<4 + o&0xFFFF, ok1 && ok2
	}

	var result uint64
	op := byte('+')
	start := 0
	for i := 0; i <= len(expr); i++ {
		if i < len(expr) && (expr[i] != '+' && expr[i] != '-' || i == start) {
			continue
		}
		term := strings.TrimSpace(expr[start:i])
		var val uint64
		var ok bool
		if cpu != nil {
			val, ok = cpu.GetRegister(term)
		}
		if !ok {
			val, ok = ParseAddress(term)
		}
		if !ok {
			return 0, false
		}
		if op == '+' {
			result += val
		} else {
			result -= val
		}
		if i < len(expr) {
			op = expr[i]
		}
		start = i + 1
	}
	return result, true
}

// ExecuteCommand runs one command line. It returns true when the monitor
// should hand control back to the CPU (g) or exit (q).
func (m *MachineMonitor) ExecuteCommand(input string) bool {
	cmd := ParseCommand(input)
	if cmd.Name == "" {
		return false
	}

	if len(m.history) == 0 || m.history[len(m.history)-1] != input {
		m.history = append(m.history, input)
	}

	switch cmd.Name {
	case "r":
		return m.cmdRegisters(cmd)
	case "d":
		return m.cmdDisassemble(cmd)
	case "m":
		return m.cmdMemoryDump(cmd)
	case "e":
		return m.cmdEdit(cmd)
	case "s":
		return m.cmdStep(cmd)
	case "g":
		return m.cmdGo(cmd)
	case "b":
		return m.cmdBreakpointSet(cmd)
	case "bl":
		return m.cmdBreakpointLua(cmd)
	case "bc":
		return m.cmdBreakpointClear(cmd)
	case "w":
		return m.cmdWatchpointSet(cmd)
	case "wc":
		return m.cmdWatchpointClear(cmd)
	case "tlb":
		return m.cmdTLB(cmd)
	case "bt":
		return m.cmdBacktrace(cmd)
	case "io":
		return m.cmdIOView(cmd)
	case "o":
		return m.cmdPortOut(cmd)
	case "script":
		return m.cmdScript(cmd)
	case "lua":
		return m.cmdLua(input)
	case "ss":
		return m.cmdSaveState(cmd)
	case "sl":
		return m.cmdLoadState(cmd)
	case "q", "x":
		m.quit = true
		return true
	case "?", "help":
		return m.cmdHelp(cmd)
	default:
		m.appendOutput(fmt.Sprintf("Unknown command: %s", cmd.Name), colorRed)
		return false
	}
}

func (m *MachineMonitor) cmdRegisters(cmd MonitorCommand) bool {
	if len(cmd.Args) >= 2 {
		name := cmd.Args[0]
		val, ok := ParseAddress(cmd.Args[1])
		if !ok {
			m.appendOutput(fmt.Sprintf("Invalid value: %s", cmd.Args[1]), colorRed)
			return false
		}
		if m.cpu.SetRegister(name, val) {
			m.appendOutput(fmt.Sprintf("%s = $%X", strings.ToUpper(name), val), colorGreen)
		} else {
			m.appendOutput(fmt.Sprintf("Cannot set register: %s", name), colorRed)
		}
		return false
	}
	m.showRegisters()
	return false
}

// showRegisters prints registers four to a line, changed ones in green.
func (m *MachineMonitor) showRegisters() {
	regs := m.cpu.GetRegisters()
	var line []string
	changed := false
	flush := func() {
		if len(line) == 0 {
			return
		}
		c := colorWhite
		if changed {
			c = colorGreen
		}
		m.appendOutput(strings.Join(line, "  "), c)
		line, changed = line[:0], false
	}
	for _, r := range regs {
		digits := r.BitWidth / 4
		line = append(line, fmt.Sprintf("%-6s %0*X", r.Name, digits, r.Value))
		if prev, ok := m.prevRegs[r.Name]; ok && prev != r.Value {
			changed = true
		}
		if len(line) == 4 {
			flush()
		}
	}
	flush()
}

func (m *MachineMonitor) cmdDisassemble(cmd MonitorCommand) bool {
	addr := m.cpu.GetPC()
	count := 16
	if len(cmd.Args) >= 1 {
		v, ok := EvalAddress(cmd.Args[0], m.cpu)
		if !ok {
			m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
			return false
		}
		addr = v
	}
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok {
			count = int(v)
		}
	}
	m.showDisassembly(addr, count)
	return false
}

// showDisassembly lists count instructions from addr (0 means CS:EIP).
func (m *MachineMonitor) showDisassembly(addr uint64, count int) {
	if addr == 0 {
		addr = m.cpu.GetPC()
	}
	for _, line := range m.cpu.Disassemble(addr, count) {
		c := colorWhite
		prefix := "  "
		if line.IsPC {
			c = colorYellow
			prefix = "> "
		}
		if m.cpu.HasBreakpoint(line.Address) {
			prefix = "* "
			if !line.IsPC {
				c = colorRed
			}
		}
		m.appendOutput(fmt.Sprintf("%s%08X: %-24s %s", prefix, line.Address, line.HexBytes, line.Mnemonic), c)
	}
}

func (m *MachineMonitor) cmdMemoryDump(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: m <addr> [lines]", colorRed)
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	lines := 8
	if len(cmd.Args) >= 2 {
		if v, ok := ParseAddress(cmd.Args[1]); ok {
			lines = int(v)
		}
	}

	for range lines {
		data := m.cpu.ReadMemory(addr, 16)
		if len(data) == 0 {
			m.appendOutput(fmt.Sprintf("%08X: not mapped", addr), colorRed)
			break
		}
		var hex strings.Builder
		ascii := make([]byte, 16)
		for j := range 16 {
			if j == 8 {
				hex.WriteByte(' ')
			}
			if j >= len(data) {
				hex.WriteString("   ")
				ascii[j] = ' '
				continue
			}
			fmt.Fprintf(&hex, "%02X ", data[j])
			ascii[j] = '.'
			if data[j] >= 0x20 && data[j] < 0x7F {
				ascii[j] = data[j]
			}
		}
		m.appendOutput(fmt.Sprintf("%08X: %s %s", addr, hex.String(), ascii), colorWhite)
		addr += 16
	}
	return false
}

func (m *MachineMonitor) cmdEdit(cmd MonitorCommand) bool {
	if len(cmd.Args) < 2 {
		m.appendOutput("Usage: e <addr> <byte> [byte...]", colorRed)
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	data := make([]byte, 0, len(cmd.Args)-1)
	for _, a := range cmd.Args[1:] {
		v, ok := ParseAddress(a)
		if !ok || v > 0xFF {
			m.appendOutput(fmt.Sprintf("Invalid byte: %s", a), colorRed)
			return false
		}
		data = append(data, byte(v))
	}
	m.cpu.WriteMemory(addr, data)
	m.appendOutput(fmt.Sprintf("Wrote %d byte(s) at $%X", len(data), addr), colorCyan)
	return false
}

func (m *MachineMonitor) cmdStep(cmd MonitorCommand) bool {
	count := 1
	if len(cmd.Args) >= 1 {
		if v, ok := ParseAddress(cmd.Args[0]); ok {
			count = int(v)
		}
	}

	total := 0
	for range count {
		total += m.cpu.Step()
		if m.cpu.cpu.Shutdown {
			m.appendOutput("CPU shut down", colorRed)
			break
		}
	}
	m.appendOutput(fmt.Sprintf("Step: %d instruction(s), %d cycle(s)", count, total), colorCyan)

	for _, r := range m.cpu.GetRegisters() {
		if prev, ok := m.prevRegs[r.Name]; ok && prev != r.Value {
			m.appendOutput(fmt.Sprintf("  %s: $%X -> $%X", r.Name, prev, r.Value), colorGreen)
		}
	}
	m.saveCurrentRegs()
	m.showDisassembly(0, 1)
	return false
}

func (m *MachineMonitor) cmdGo(cmd MonitorCommand) bool {
	if len(cmd.Args) >= 1 {
		v, ok := EvalAddress(cmd.Args[0], m.cpu)
		if !ok {
			m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
			return false
		}
		m.cpu.SetPC(v)
	}
	return true
}

func (m *MachineMonitor) cmdBreakpointSet(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.listBreakpoints()
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}

	if len(cmd.Args) >= 2 {
		cond, err := ParseCondition(strings.Join(cmd.Args[1:], " "))
		if err != nil {
			m.appendOutput(fmt.Sprintf("Invalid condition: %s", err), colorRed)
			return false
		}
		m.cpu.SetConditionalBreakpoint(addr, cond)
		m.appendOutput(fmt.Sprintf("Breakpoint set at $%X if %s", addr, FormatCondition(cond)), colorCyan)
		return false
	}
	m.cpu.SetBreakpoint(addr)
	m.appendOutput(fmt.Sprintf("Breakpoint set at $%X", addr), colorCyan)
	return false
}

func (m *MachineMonitor) cmdBreakpointLua(cmd MonitorCommand) bool {
	if len(cmd.Args) < 2 {
		m.appendOutput("Usage: bl <addr> <lua expression>", colorRed)
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	cond, err := NewLuaCondition(strings.Join(cmd.Args[1:], " "))
	if err != nil {
		m.appendOutput(fmt.Sprintf("Invalid condition: %s", err), colorRed)
		return false
	}
	m.cpu.SetConditionalBreakpoint(addr, cond)
	m.appendOutput(fmt.Sprintf("Breakpoint set at $%X if %s", addr, FormatCondition(cond)), colorCyan)
	return false
}

func (m *MachineMonitor) listBreakpoints() {
	bps := m.cpu.ListConditionalBreakpoints()
	wps := m.cpu.ListWatchpoints()
	if len(bps) == 0 && len(wps) == 0 {
		m.appendOutput("No breakpoints", colorDim)
		return
	}
	for _, bp := range bps {
		text := fmt.Sprintf("B $%08X", bp.Address)
		if bp.Condition != nil {
			text += " if " + FormatCondition(bp.Condition)
		}
		if bp.HitCount > 0 {
			text += fmt.Sprintf(" (hits:%d)", bp.HitCount)
		}
		m.appendOutput(text, colorCyan)
	}
	for _, addr := range wps {
		m.appendOutput(fmt.Sprintf("W $%08X", addr), colorCyan)
	}
}

func (m *MachineMonitor) cmdBreakpointClear(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: bc <addr> | bc *", colorRed)
		return false
	}
	if cmd.Args[0] == "*" {
		m.cpu.ClearAllBreakpoints()
		m.appendOutput("All breakpoints cleared", colorCyan)
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	if m.cpu.ClearBreakpoint(addr) {
		m.appendOutput(fmt.Sprintf("Breakpoint cleared at $%X", addr), colorCyan)
	} else {
		m.appendOutput(fmt.Sprintf("No breakpoint at $%X", addr), colorRed)
	}
	return false
}

func (m *MachineMonitor) cmdWatchpointSet(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.listBreakpoints()
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	if !m.cpu.SetWatchpoint(addr) {
		m.appendOutput(fmt.Sprintf("$%X is not mapped", addr), colorRed)
		return false
	}
	m.appendOutput(fmt.Sprintf("Watchpoint set at $%X", addr), colorCyan)
	return false
}

func (m *MachineMonitor) cmdWatchpointClear(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: wc <addr|*>", colorRed)
		return false
	}
	if cmd.Args[0] == "*" {
		m.cpu.ClearAllWatchpoints()
		m.appendOutput("All watchpoints cleared", colorCyan)
		return false
	}
	addr, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	if m.cpu.ClearWatchpoint(addr) {
		m.appendOutput(fmt.Sprintf("Watchpoint cleared at $%X", addr), colorCyan)
	} else {
		m.appendOutput(fmt.Sprintf("No watchpoint at $%X", addr), colorRed)
	}
	return false
}

// cmdTLB shows how a linear address translates at the current CPL and
// what the TLB holds for its page.
func (m *MachineMonitor) cmdTLB(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: tlb <addr>", colorRed)
		return false
	}
	v, ok := EvalAddress(cmd.Args[0], m.cpu)
	if !ok {
		m.appendOutput(fmt.Sprintf("Invalid address: %s", cmd.Args[0]), colorRed)
		return false
	}
	c := m.cpu.cpu
	lin := uint32(v)
	if phys, code, ok := c.mmu.Translate(lin, false, c.CPL); ok {
		m.appendOutput(fmt.Sprintf("%08X -> %08X (CPL %d)", lin, phys, c.CPL), colorWhite)
	} else {
		m.appendOutput(fmt.Sprintf("%08X: page fault, code %X (CPL %d)", lin, code, c.CPL), colorRed)
	}
	word, handler, hr, hw, filled := c.mmu.TLBEntry(lin)
	if !filled {
		m.appendOutput("TLB: empty", colorDim)
		return false
	}
	m.appendOutput(fmt.Sprintf("TLB: %08X handler=%s hostRead=%t hostWrite=%t", word, handler, hr, hw), colorWhite)
	return false
}

func (m *MachineMonitor) cmdBacktrace(cmd MonitorCommand) bool {
	depth := 16
	if len(cmd.Args) >= 1 {
		v, err := strconv.Atoi(cmd.Args[0])
		if err != nil || v <= 0 {
			m.appendOutput(fmt.Sprintf("Invalid depth: %s", cmd.Args[0]), colorRed)
			return false
		}
		depth = v
	}
	frames := backtrace(m.cpu, depth)
	if len(frames) == 0 {
		m.appendOutput("No frames", colorDim)
		return false
	}
	cs := m.cpu.cpu.Seg[x86SegCS].Selector
	for i, f := range frames {
		m.appendOutput(fmt.Sprintf("#%-2d bp=%08X ret=%04X:%08X", i, f.FramePtr, cs, f.Return), colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdIOView(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Devices: "+strings.Join(listIODevices(), " "), colorCyan)
		return false
	}
	for _, line := range formatIOView(m.cpu, strings.ToLower(cmd.Args[0])) {
		m.appendOutput(line, colorWhite)
	}
	return false
}

func (m *MachineMonitor) cmdPortOut(cmd MonitorCommand) bool {
	if len(cmd.Args) < 2 {
		m.appendOutput("Usage: o <port> <value>", colorRed)
		return false
	}
	port, ok1 := ParseAddress(cmd.Args[0])
	val, ok2 := ParseAddress(cmd.Args[1])
	if !ok1 || !ok2 || port > 0xFFFF || val > 0xFF {
		m.appendOutput("Invalid port or value", colorRed)
		return false
	}
	m.cpu.WritePort(uint16(port), uint8(val))
	return false
}

// cmdScript runs a Lua file (.lua) or a file of monitor commands.
func (m *MachineMonitor) cmdScript(cmd MonitorCommand) bool {
	if len(cmd.Args) < 1 {
		m.appendOutput("Usage: script <filename>", colorRed)
		return false
	}
	path := cmd.Args[0]
	if strings.EqualFold(filepath.Ext(path), ".lua") {
		if err := m.cpu.Lua().RunFile(path); err != nil {
			m.appendOutput(fmt.Sprintf("Error: %s", err), colorRed)
		}
		m.saveCurrentRegs()
		return false
	}

	data, err := os.ReadFile(path)
	if err != nil {
		m.appendOutput(fmt.Sprintf("Error: %s", err), colorRed)
		return false
	}
	if m.scriptDepth >= maxScriptDepth {
		m.appendOutput("Script recursion limit reached", colorRed)
		return false
	}
	m.scriptDepth++
	defer func() { m.scriptDepth-- }()

	for line := range strings.SplitSeq(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if m.ExecuteCommand(line) {
			return true
		}
	}
	return false
}

// cmdLua runs the rest of the line as a Lua chunk.
func (m *MachineMonitor) cmdLua(input string) bool {
	_, src, _ := strings.Cut(strings.TrimSpace(input), " ")
	if strings.TrimSpace(src) == "" {
		m.appendOutput("Usage: lua <statement>", colorRed)
		return false
	}
	if err := m.cpu.Lua().RunString(src); err != nil {
		m.appendOutput(fmt.Sprintf("Error: %s", err), colorRed)
	}
	return false
}

func (m *MachineMonitor) cmdSaveState(cmd MonitorCommand) bool {
	filename := "snapshot.x86s"
	if len(cmd.Args) >= 1 {
		filename = cmd.Args[0]
	}
	if err := SaveSnapshotToFile(TakeSnapshot(m.cpu.cpu), filename); err != nil {
		m.appendOutput(fmt.Sprintf("Error: %s", err), colorRed)
		return false
	}
	m.appendOutput(fmt.Sprintf("State saved to %s (CPU+memory)", filename), colorCyan)
	return false
}

func (m *MachineMonitor) cmdLoadState(cmd MonitorCommand) bool {
	filename := "snapshot.x86s"
	if len(cmd.Args) >= 1 {
		filename = cmd.Args[0]
	}
	snap, err := LoadSnapshotFromFile(filename)
	if err == nil {
		err = RestoreSnapshot(m.cpu.cpu, snap)
	}
	if err != nil {
		m.appendOutput(fmt.Sprintf("Error: %s", err), colorRed)
		return false
	}
	m.appendOutput(fmt.Sprintf("State loaded from %s (CPU+memory)", filename), colorCyan)
	m.showRegisters()
	m.saveCurrentRegs()
	m.showDisassembly(0, 8)
	return false
}

var monitorHelp = []string{
	"r [reg val]          show or set registers",
	"d [addr [n]]         disassemble",
	"m addr [n]           dump memory (16 bytes per line)",
	"e addr b [b...]      write bytes",
	"s [n]                step",
	"g [addr]             continue",
	"b [addr [cond]]      set or list breakpoints",
	"bl addr expr         breakpoint with a Lua condition",
	"bc addr|*            clear breakpoints",
	"w [addr]             set or list watchpoints",
	"wc addr|*            clear watchpoints",
	"tlb addr             translate and show the TLB entry",
	"bt [depth]           frame pointer backtrace",
	"io [device]          show device ports",
	"o port val           write an I/O port",
	"script file          run monitor commands, or Lua for .lua",
	"lua stmt             run a Lua statement",
	"ss [file] / sl [file] save or load machine state",
	"q                    quit",
	"Addresses are linear; seg:off, registers and + - are accepted.",
}

func (m *MachineMonitor) cmdHelp(_ MonitorCommand) bool {
	for _, line := range monitorHelp {
		m.appendOutput(line, colorCyan)
	}
	return false
}
