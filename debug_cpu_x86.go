// debug_cpu_x86.go - x86 debug adapter for the monitor
//
// Breakpoint and watchpoint addresses are linear (CS base + EIP). Memory
// goes through the page tables at supervisor level without touching the
// TLB, CR2 or accessed/dirty bits; unmapped pages end a read early and
// drop writes.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"cmp"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

type DebugX86 struct {
	cpu    *CPU_X86
	runner *CPUX86Runner

	bpMu        sync.RWMutex
	breakpoints map[uint64]*ConditionalBreakpoint
	watchpoints map[uint64]*Watchpoint
	bpChan      chan<- BreakpointEvent
	cpuID       int

	trapRunning atomic.Bool
	trapStop    chan struct{}
	trapDone    chan struct{}

	luaOnce sync.Once
	lua     *LuaEngine
	luaOut  func(string)
}

func NewDebugX86(runner *CPUX86Runner) *DebugX86 {
	return &DebugX86{
		cpu:         runner.CPU(),
		runner:      runner,
		breakpoints: make(map[uint64]*ConditionalBreakpoint),
		watchpoints: make(map[uint64]*Watchpoint),
	}
}

func (d *DebugX86) CPUName() string   { return "X86 " + d.cpu.Arch.String() }
func (d *DebugX86) AddressWidth() int { return 32 }

var x86DebugGPR = [8]string{"EAX", "ECX", "EDX", "EBX", "ESP", "EBP", "ESI", "EDI"}
var x86DebugSeg = [6]string{"ES", "CS", "SS", "DS", "FS", "GS"}

func (d *DebugX86) GetRegisters() []RegisterInfo {
	c := d.cpu
	regs := make([]RegisterInfo, 0, 24)
	for i, name := range x86DebugGPR {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 32, Value: uint64(*c.regs32[i]), Group: "general"})
	}
	regs = append(regs,
		RegisterInfo{Name: "EIP", BitWidth: 32, Value: uint64(c.EIP), Group: "general"},
		RegisterInfo{Name: "EFLAGS", BitWidth: 32, Value: uint64(c.flagsWord()), Group: "flags"},
	)
	for i, name := range x86DebugSeg {
		regs = append(regs, RegisterInfo{Name: name, BitWidth: 16, Value: uint64(c.Seg[i].Selector), Group: "segment"})
	}
	regs = append(regs,
		RegisterInfo{Name: "CR0", BitWidth: 32, Value: uint64(c.CR0), Group: "control"},
		RegisterInfo{Name: "CR2", BitWidth: 32, Value: uint64(c.mmu.CR2()), Group: "control"},
		RegisterInfo{Name: "CR3", BitWidth: 32, Value: uint64(c.CR3), Group: "control"},
		RegisterInfo{Name: "CR4", BitWidth: 32, Value: uint64(c.CR4), Group: "control"},
		RegisterInfo{Name: "CPL", BitWidth: 8, Value: uint64(c.CPL), Group: "control"},
	)
	return regs
}

func (d *DebugX86) GetRegister(name string) (uint64, bool) {
	c := d.cpu
	name = strings.ToUpper(name)
	if i := slices.Index(x86DebugGPR[:], name); i >= 0 {
		return uint64(*c.regs32[i]), true
	}
	if i := slices.Index(x86DebugSeg[:], name); i >= 0 {
		return uint64(c.Seg[i].Selector), true
	}
	switch name {
	case "AX", "CX", "DX", "BX", "SP", "BP", "SI", "DI":
		v, _ := d.GetRegister("E" + name)
		return v & 0xFFFF, true
	case "EIP":
		return uint64(c.EIP), true
	case "IP":
		return uint64(c.EIP & 0xFFFF), true
	case "FLAGS", "EFLAGS":
		return uint64(c.flagsWord()), true
	case "CR0":
		return uint64(c.CR0), true
	case "CR2":
		return uint64(c.mmu.CR2()), true
	case "CR3":
		return uint64(c.CR3), true
	case "CR4":
		return uint64(c.CR4), true
	case "CPL":
		return uint64(c.CPL), true
	case "PC":
		return d.GetPC(), true
	}
	return 0, false
}

// SetRegister writes a register. Segment registers can only be written in
// real mode, where no descriptor is involved. Control registers go through
// the same paths as MOV CRn so the paging unit stays consistent.
func (d *DebugX86) SetRegister(name string, value uint64) bool {
	c := d.cpu
	v := uint32(value)
	name = strings.ToUpper(name)
	if i := slices.Index(x86DebugGPR[:], name); i >= 0 {
		*c.regs32[i] = v
		return true
	}
	if i := slices.Index(x86DebugSeg[:], name); i >= 0 {
		if c.protectedMode() {
			return false
		}
		c.Seg[i] = realModeSegment(uint16(v), i == x86SegCS)
		return true
	}
	switch name {
	case "EIP":
		c.EIP = v
	case "FLAGS", "EFLAGS":
		c.lf = LazyFlags{}
		c.Flags = c.fixedFlagBits(v)
	case "CR0":
		if v&cr0PG != 0 && v&cr0PE == 0 {
			return false
		}
		c.writeCR0(v)
	case "CR2":
		c.mmu.SetCR2(v)
	case "CR3":
		c.writeCR3(v)
	case "CR4":
		c.CR4 = v
		c.mmu.SetPSE(v&cr4PSE != 0)
		c.mmu.InvalidateAll()
	default:
		return false
	}
	return true
}

func (d *DebugX86) GetPC() uint64 {
	return uint64(d.cpu.Seg[x86SegCS].Base + d.cpu.EIP)
}

func (d *DebugX86) SetPC(addr uint64) {
	d.cpu.EIP = uint32(addr) - d.cpu.Seg[x86SegCS].Base
	d.cpu.Halted = false
}

func (d *DebugX86) IsRunning() bool {
	return d.runner.IsRunning() || d.trapRunning.Load()
}

func (d *DebugX86) Freeze() {
	if d.trapRunning.Load() {
		close(d.trapStop)
		<-d.trapDone
		return
	}
	d.runner.Stop()
}

// Resume restarts execution. With breakpoints or watchpoints set the CPU
// is single-stepped by trapLoop; otherwise the runner takes over.
func (d *DebugX86) Resume() {
	d.bpMu.RLock()
	hasBP := len(d.breakpoints) > 0 || len(d.watchpoints) > 0
	d.bpMu.RUnlock()
	if hasBP {
		d.trapStop = make(chan struct{})
		d.trapDone = make(chan struct{})
		d.trapRunning.Store(true)
		go d.trapLoop()
		return
	}
	d.runner.StartExecution()
}

func (d *DebugX86) publish(ev BreakpointEvent) {
	if d.bpChan == nil {
		return
	}
	ev.CPUID = d.cpuID
	select {
	case d.bpChan <- ev:
	default:
	}
}

func (d *DebugX86) trapLoop() {
	defer close(d.trapDone)
	defer d.trapRunning.Store(false)
	c := d.cpu
	c.SetRunning(true)
	defer c.SetRunning(false)

	// The instruction under a breakpoint we are resuming from runs once
	// before breakpoints are checked again.
	first := true
	for {
		select {
		case <-d.trapStop:
			return
		default:
		}
		if c.Shutdown || (c.Halted && c.Flags&x86FlagIF == 0) {
			return
		}
		pc := d.GetPC()
		if !first && d.hitBreakpoint(pc) {
			d.publish(BreakpointEvent{Address: pc})
			return
		}
		first = false
		if c.Halted {
			// Waiting for an interrupt.
			time.Sleep(haltPollInterval)
		}
		c.Step()
		if ev, ok := d.checkWatchpoints(); ok {
			d.publish(ev)
			return
		}
	}
}

func (d *DebugX86) hitBreakpoint(pc uint64) bool {
	d.bpMu.Lock()
	bp := d.breakpoints[pc]
	if bp == nil {
		d.bpMu.Unlock()
		return false
	}
	bp.HitCount++
	cond, hits := bp.Condition, bp.HitCount
	d.bpMu.Unlock()
	return evaluateConditionWithHitCount(cond, d, hits)
}

func (d *DebugX86) checkWatchpoints() (BreakpointEvent, bool) {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	for _, wp := range d.watchpoints {
		cur, ok := d.readByte(wp.Address)
		if !ok || cur == wp.LastValue {
			continue
		}
		old := wp.LastValue
		wp.LastValue = cur
		return BreakpointEvent{
			Address: d.GetPC(), IsWatch: true, WatchAddr: wp.Address,
			WatchOldValue: old, WatchNewValue: cur,
		}, true
	}
	return BreakpointEvent{}, false
}

func (d *DebugX86) Step() int {
	d.cpu.Halted = false
	return d.cpu.Step()
}

func (d *DebugX86) mode() int {
	if d.cpu.Seg[x86SegCS].Big {
		return 32
	}
	return 16
}

func (d *DebugX86) Disassemble(addr uint64, count int) []DisassembledLine {
	pc := d.GetPC()
	lines := disassembleX86(d.ReadMemory, addr, count, d.mode())
	for i := range lines {
		if lines[i].Address == pc {
			lines[i].IsPC = true
		}
	}
	return lines
}

func (d *DebugX86) SetBreakpoint(addr uint64) bool {
	return d.SetConditionalBreakpoint(addr, nil)
}

func (d *DebugX86) SetConditionalBreakpoint(addr uint64, cond *BreakpointCondition) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.breakpoints[addr] = &ConditionalBreakpoint{Address: addr, Condition: cond}
	return true
}

func (d *DebugX86) ClearBreakpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.breakpoints[addr]; ok {
		delete(d.breakpoints, addr)
		return true
	}
	return false
}

func (d *DebugX86) ClearAllBreakpoints() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	clear(d.breakpoints)
}

func (d *DebugX86) ListBreakpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	return slices.Sorted(maps.Keys(d.breakpoints))
}

// ListConditionalBreakpoints returns copies ordered by address.
func (d *DebugX86) ListConditionalBreakpoints() []ConditionalBreakpoint {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	out := make([]ConditionalBreakpoint, 0, len(d.breakpoints))
	for _, bp := range d.breakpoints {
		out = append(out, *bp)
	}
	slices.SortFunc(out, func(a, b ConditionalBreakpoint) int {
		return cmp.Compare(a.Address, b.Address)
	})
	return out
}

func (d *DebugX86) HasBreakpoint(addr uint64) bool {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	_, ok := d.breakpoints[addr]
	return ok
}

func (d *DebugX86) SetWatchpoint(addr uint64) bool {
	val, ok := d.readByte(addr)
	if !ok {
		return false
	}
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	d.watchpoints[addr] = &Watchpoint{Address: addr, LastValue: val}
	return true
}

func (d *DebugX86) ClearWatchpoint(addr uint64) bool {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	if _, ok := d.watchpoints[addr]; ok {
		delete(d.watchpoints, addr)
		return true
	}
	return false
}

func (d *DebugX86) ClearAllWatchpoints() {
	d.bpMu.Lock()
	defer d.bpMu.Unlock()
	clear(d.watchpoints)
}

func (d *DebugX86) ListWatchpoints() []uint64 {
	d.bpMu.RLock()
	defer d.bpMu.RUnlock()
	return slices.Sorted(maps.Keys(d.watchpoints))
}

// translate maps a linear address for the debugger. Physical addresses
// above 4GB have no backing store and are reported as unreadable.
func (d *DebugX86) translate(addr uint64) (uint32, bool) {
	phys, _, ok := d.cpu.mmu.Translate(uint32(addr), false, 0)
	if !ok || phys > 0xFFFFFFFF {
		return 0, false
	}
	return uint32(phys), true
}

func (d *DebugX86) readByte(addr uint64) (byte, bool) {
	phys, ok := d.translate(addr)
	if !ok {
		return 0, false
	}
	return d.cpu.mem.ReadPhysB(phys), true
}

func (d *DebugX86) ReadMemory(addr uint64, size int) []byte {
	result := make([]byte, 0, size)
	for i := range size {
		b, ok := d.readByte(addr + uint64(i))
		if !ok {
			break
		}
		result = append(result, b)
	}
	return result
}

// ReadPort samples an I/O port the way IN would.
func (d *DebugX86) ReadPort(port uint16) uint8 { return d.runner.Ports().In8(port) }

func (d *DebugX86) WritePort(port uint16, v uint8) { d.runner.Ports().Out8(port, v) }

func (d *DebugX86) WriteMemory(addr uint64, data []byte) {
	for i, b := range data {
		phys, ok := d.translate(addr + uint64(i))
		if !ok {
			return
		}
		d.cpu.mem.WritePhysB(phys, b)
	}
}

func (d *DebugX86) SetBreakpointChannel(ch chan<- BreakpointEvent, cpuID int) {
	d.bpChan = ch
	d.cpuID = cpuID
}

// SetLuaOutput routes Lua print output. It must be called before the
// first Lua use.
func (d *DebugX86) SetLuaOutput(out func(string)) { d.luaOut = out }

// Lua returns the adapter's Lua engine, creating it on first use.
func (d *DebugX86) Lua() *LuaEngine {
	d.luaOnce.Do(func() { d.lua = NewLuaEngine(d, d.luaOut) })
	return d.lua
}

// EvalLua evaluates a Lua breakpoint condition. Errors are logged and
// count as false.
func (d *DebugX86) EvalLua(expr string, hitCount uint64) bool {
	ok, err := d.Lua().Eval(expr, hitCount)
	if err != nil {
		cpuLog.WithFields(logrus.Fields{"expr": expr}).WithError(err).Warn("breakpoint condition failed")
		return false
	}
	return ok
}
