// debug_lua.go - Lua scripting for the monitor (conditions and scripts)
//
// Registers are visible to Lua as lower-case globals (eax, eip, cr0, ...)
// refreshed before every evaluation. Memory and registers are reachable
// through a small function set:
//
//	reg(name)         setreg(name, v)
//	peek(a) peekw(a) peekd(a)   poke(a, v)
//	step([n])         band bor bxor shl shr
//	print(...)        (goes to the monitor)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// LuaEngine is one Lua state bound to a debuggable CPU.
type LuaEngine struct {
	mu       sync.Mutex
	L        *lua.LState
	cpu      DebuggableCPU
	out      func(string)
	compiled map[string]*lua.LFunction
}

func newLuaState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
		{lua.TabLibName, lua.OpenTable},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	return L
}

// NewLuaEngine creates a Lua state for cpu. out receives print output;
// nil discards it.
func NewLuaEngine(cpu DebuggableCPU, out func(string)) *LuaEngine {
	if out == nil {
		out = func(string) {}
	}
	e := &LuaEngine{
		L:        newLuaState(),
		cpu:      cpu,
		out:      out,
		compiled: make(map[string]*lua.LFunction),
	}
	e.register()
	return e
}

func (e *LuaEngine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.L.Close()
}

func (e *LuaEngine) register() {
	L := e.L
	fns := map[string]lua.LGFunction{
		"reg": func(L *lua.LState) int {
			v, ok := e.cpu.GetRegister(strings.ToUpper(L.CheckString(1)))
			if !ok {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LNumber(v))
			return 1
		},
		"setreg": func(L *lua.LState) int {
			name := L.CheckString(1)
			if !e.cpu.SetRegister(name, uint64(L.CheckNumber(2))) {
				L.RaiseError("unknown register %s", name)
			}
			return 0
		},
		"peek":  e.peek(1),
		"peekw": e.peek(2),
		"peekd": e.peek(4),
		"poke": func(L *lua.LState) int {
			e.cpu.WriteMemory(uint64(L.CheckNumber(1)), []byte{byte(L.CheckInt(2))})
			return 0
		},
		"step": func(L *lua.LState) int {
			n := L.OptInt(1, 1)
			total := 0
			for range n {
				total += e.cpu.Step()
			}
			L.Push(lua.LNumber(total))
			return 1
		},
		"band": bitOp(func(a, b uint32) uint32 { return a & b }),
		"bor":  bitOp(func(a, b uint32) uint32 { return a | b }),
		"bxor": bitOp(func(a, b uint32) uint32 { return a ^ b }),
		"shl":  bitOp(func(a, b uint32) uint32 { return a << (b & 31) }),
		"shr":  bitOp(func(a, b uint32) uint32 { return a >> (b & 31) }),
		"print": func(L *lua.LState) int {
			parts := make([]string, L.GetTop())
			for i := range parts {
				parts[i] = L.ToStringMeta(L.Get(i + 1)).String()
			}
			e.out(strings.Join(parts, "\t"))
			return 0
		},
	}
	for name, fn := range fns {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

func (e *LuaEngine) peek(size int) lua.LGFunction {
	return func(L *lua.LState) int {
		data := e.cpu.ReadMemory(uint64(L.CheckNumber(1)), size)
		if len(data) < size {
			L.Push(lua.LNil)
			return 1
		}
		var v uint32
		for i := size - 1; i >= 0; i-- {
			v = v<<8 | uint32(data[i])
		}
		L.Push(lua.LNumber(v))
		return 1
	}
}

func bitOp(f func(a, b uint32) uint32) lua.LGFunction {
	return func(L *lua.LState) int {
		a := uint32(int64(L.CheckNumber(1)))
		b := uint32(int64(L.CheckNumber(2)))
		L.Push(lua.LNumber(f(a, b)))
		return 1
	}
}

func (e *LuaEngine) syncRegisters() {
	for _, r := range e.cpu.GetRegisters() {
		e.L.SetGlobal(strings.ToLower(r.Name), lua.LNumber(r.Value))
	}
}

// luaTruth treats nil, false and zero as false.
func luaTruth(v lua.LValue) bool {
	if n, ok := v.(lua.LNumber); ok {
		return n != 0
	}
	return lua.LVAsBool(v)
}

// Eval evaluates expr with hits bound to the breakpoint hit count.
func (e *LuaEngine) Eval(expr string, hits uint64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	fn, ok := e.compiled[expr]
	if !ok {
		var err error
		fn, err = e.L.LoadString("return (" + expr + ")")
		if err != nil {
			return false, fmt.Errorf("lua condition: %w", err)
		}
		e.compiled[expr] = fn
	}
	e.syncRegisters()
	e.L.SetGlobal("hits", lua.LNumber(hits))

	e.L.Push(fn)
	if err := e.L.PCall(0, 1, nil); err != nil {
		return false, fmt.Errorf("lua condition: %w", err)
	}
	v := e.L.Get(-1)
	e.L.Pop(1)
	return luaTruth(v), nil
}

// RunString executes a Lua chunk.
func (e *LuaEngine) RunString(src string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncRegisters()
	return e.L.DoString(src)
}

// RunFile executes a Lua script file.
func (e *LuaEngine) RunFile(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncRegisters()
	if err := e.L.DoFile(path); err != nil {
		return fmt.Errorf("lua script %s: %w", path, err)
	}
	return nil
}

// checkLuaExpr compiles expr in a scratch state to catch syntax errors.
func checkLuaExpr(expr string) error {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	if _, err := L.LoadString("return (" + expr + ")"); err != nil {
		return fmt.Errorf("lua condition: %w", err)
	}
	return nil
}
