// debug_conditions.go - Breakpoint condition parser and evaluator for the monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"strings"
)

var errEmptyCondition = errors.New("empty condition")

var conditionOps = []struct {
	text string
	op   ConditionOp
}{
	// Two-character operators first so "<=" is not read as "<".
	{"==", CondOpEqual},
	{"!=", CondOpNotEqual},
	{"<=", CondOpLessEqual},
	{">=", CondOpGreaterEqual},
	{"<", CondOpLess},
	{">", CondOpGreater},
}

// ParseCondition parses a condition string into a BreakpointCondition.
// Formats:
//
//	eax==$FF       - register EAX, op ==, value 0xFF
//	[$1000]==$42   - byte at linear 0x1000, op ==, value 0x42
//	hitcount>10    - hit count, op >, value 10
//	lua:<expr>     - Lua expression, true when it yields true or non-zero
func ParseCondition(text string) (*BreakpointCondition, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errEmptyCondition
	}
	if expr, ok := strings.CutPrefix(text, "lua:"); ok {
		return NewLuaCondition(expr)
	}

	opIdx := -1
	var opText string
	var op ConditionOp
	for _, cand := range conditionOps {
		if i := strings.Index(text, cand.text); i >= 0 {
			opIdx, opText, op = i, cand.text, cand.op
			break
		}
	}
	if opIdx < 0 {
		return nil, fmt.Errorf("no operator found (use ==, !=, <, >, <=, >=)")
	}

	lhs := strings.TrimSpace(text[:opIdx])
	rhs := strings.TrimSpace(text[opIdx+len(opText):])

	value, ok := ParseAddress(rhs)
	if !ok {
		return nil, fmt.Errorf("invalid value: %s", rhs)
	}

	if strings.HasPrefix(lhs, "[") && strings.HasSuffix(lhs, "]") {
		addrStr := lhs[1 : len(lhs)-1]
		addr, ok := ParseAddress(addrStr)
		if !ok {
			return nil, fmt.Errorf("invalid memory address: %s", addrStr)
		}
		return &BreakpointCondition{Source: CondSourceMemory, MemAddr: addr, Op: op, Value: value}, nil
	}

	if strings.EqualFold(lhs, "hitcount") {
		return &BreakpointCondition{Source: CondSourceHitCount, Op: op, Value: value}, nil
	}

	if lhs == "" {
		return nil, fmt.Errorf("missing register name")
	}
	return &BreakpointCondition{Source: CondSourceRegister, RegName: strings.ToUpper(lhs), Op: op, Value: value}, nil
}

// NewLuaCondition wraps a Lua expression. The expression is compiled once
// up front so syntax errors surface when the breakpoint is set.
func NewLuaCondition(expr string) (*BreakpointCondition, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, errEmptyCondition
	}
	if err := checkLuaExpr(expr); err != nil {
		return nil, err
	}
	return &BreakpointCondition{Source: CondSourceLua, Expr: expr}, nil
}

// evaluateConditionWithHitCount reports whether a breakpoint should fire.
// A nil condition always fires. Unknown registers, unmapped memory and Lua
// errors never do.
func evaluateConditionWithHitCount(cond *BreakpointCondition, cpu DebuggableCPU, hitCount uint64) bool {
	if cond == nil {
		return true
	}

	var actual uint64
	switch cond.Source {
	case CondSourceRegister:
		val, ok := cpu.GetRegister(cond.RegName)
		if !ok {
			return false
		}
		actual = val
	case CondSourceMemory:
		data := cpu.ReadMemory(cond.MemAddr, 1)
		if len(data) == 0 {
			return false
		}
		actual = uint64(data[0])
	case CondSourceHitCount:
		actual = hitCount
	case CondSourceLua:
		if host, ok := cpu.(luaConditionHost); ok {
			return host.EvalLua(cond.Expr, hitCount)
		}
		return false
	}

	return compareValues(actual, cond.Op, cond.Value)
}

func compareValues(actual uint64, op ConditionOp, expected uint64) bool {
	switch op {
	case CondOpEqual:
		return actual == expected
	case CondOpNotEqual:
		return actual != expected
	case CondOpLess:
		return actual < expected
	case CondOpGreater:
		return actual > expected
	case CondOpLessEqual:
		return actual <= expected
	case CondOpGreaterEqual:
		return actual >= expected
	}
	return false
}

// FormatCondition returns a human-readable string for a condition.
func FormatCondition(cond *BreakpointCondition) string {
	if cond == nil {
		return ""
	}

	var lhs string
	switch cond.Source {
	case CondSourceRegister:
		lhs = cond.RegName
	case CondSourceMemory:
		lhs = fmt.Sprintf("[$%X]", cond.MemAddr)
	case CondSourceHitCount:
		lhs = "hitcount"
	case CondSourceLua:
		return "lua:" + cond.Expr
	}

	for _, cand := range conditionOps {
		if cand.op == cond.Op {
			return fmt.Sprintf("%s%s$%X", lhs, cand.text, cond.Value)
		}
	}
	return lhs
}
