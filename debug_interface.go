// debug_interface.go - DebuggableCPU interface and supporting types for the monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// RegisterInfo describes a single CPU register for display in the monitor.
type RegisterInfo struct {
	Name     string // "EAX", "CS", "CR0"
	BitWidth int    // 8, 16 or 32
	Value    uint64
	Group    string // "general", "segment", "flags", "control"
}

// DisassembledLine represents one disassembled instruction.
type DisassembledLine struct {
	Address  uint64
	HexBytes string
	Mnemonic string
	Size     int
	IsPC     bool // true if this is the current CS:EIP
}

// BreakpointEvent is published when the CPU hits a breakpoint or a
// watched byte changes.
type BreakpointEvent struct {
	CPUID   int
	Address uint64

	IsWatch       bool
	WatchAddr     uint64
	WatchOldValue byte
	WatchNewValue byte
}

// ConditionOp compares a breakpoint source against a value.
type ConditionOp int

const (
	CondOpEqual ConditionOp = iota
	CondOpNotEqual
	CondOpLess
	CondOpGreater
	CondOpLessEqual
	CondOpGreaterEqual
)

// ConditionSource selects what a breakpoint condition reads.
type ConditionSource int

const (
	CondSourceRegister ConditionSource = iota
	CondSourceMemory
	CondSourceHitCount
	CondSourceLua
)

// BreakpointCondition is a parsed breakpoint condition. Lua conditions
// carry their expression in Expr and ignore Op and Value.
type BreakpointCondition struct {
	Source  ConditionSource
	RegName string
	MemAddr uint64
	Op      ConditionOp
	Value   uint64
	Expr    string
}

type ConditionalBreakpoint struct {
	Address   uint64
	Condition *BreakpointCondition
	HitCount  uint64
}

// Watchpoint fires when the byte at Address changes.
type Watchpoint struct {
	Address   uint64
	LastValue byte
}

// DebuggableCPU is the interface the monitor drives. Addresses are linear.
type DebuggableCPU interface {
	CPUName() string
	AddressWidth() int

	GetRegisters() []RegisterInfo
	GetRegister(name string) (uint64, bool)
	SetRegister(name string, value uint64) bool
	GetPC() uint64
	SetPC(addr uint64)

	IsRunning() bool
	Freeze() // Stop execution, preserve state
	Resume() // Restart execution goroutine

	Step() int

	Disassemble(addr uint64, count int) []DisassembledLine

	SetBreakpoint(addr uint64) bool
	ClearBreakpoint(addr uint64) bool
	ClearAllBreakpoints()
	ListBreakpoints() []uint64
	HasBreakpoint(addr uint64) bool

	ReadMemory(addr uint64, size int) []byte
	WriteMemory(addr uint64, data []byte)

	SetBreakpointChannel(ch chan<- BreakpointEvent, cpuID int)
}

// luaConditionHost is implemented by adapters that can evaluate Lua
// breakpoint conditions.
type luaConditionHost interface {
	EvalLua(expr string, hitCount uint64) bool
}
