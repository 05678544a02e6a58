// debug_conditions_test.go - breakpoint condition parsing and Lua evaluation
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		in   string
		want BreakpointCondition
	}{
		{"eax==$FF", BreakpointCondition{Source: CondSourceRegister, RegName: "EAX", Op: CondOpEqual, Value: 0xFF}},
		{"cx != 0", BreakpointCondition{Source: CondSourceRegister, RegName: "CX", Op: CondOpNotEqual}},
		{"[$1000]==$42", BreakpointCondition{Source: CondSourceMemory, MemAddr: 0x1000, Op: CondOpEqual, Value: 0x42}},
		{"hitcount>#10", BreakpointCondition{Source: CondSourceHitCount, Op: CondOpGreater, Value: 10}},
		{"esi<=100", BreakpointCondition{Source: CondSourceRegister, RegName: "ESI", Op: CondOpLessEqual, Value: 0x100}},
		{"lua: eax > 3", BreakpointCondition{Source: CondSourceLua, Expr: "eax > 3"}},
	}
	for _, tt := range tests {
		got, err := ParseCondition(tt.in)
		if err != nil {
			t.Errorf("ParseCondition(%q): %v", tt.in, err)
			continue
		}
		if d := cmp.Diff(tt.want, *got); d != "" {
			t.Errorf("ParseCondition(%q) (-want +got):\n%s", tt.in, d)
		}
	}

	for _, bad := range []string{"", "eax", "==5", "eax==zz", "[zz]==1", "lua:", "lua: eax =="} {
		if _, err := ParseCondition(bad); err == nil {
			t.Errorf("ParseCondition(%q) accepted", bad)
		}
	}
}

func TestFormatConditionRoundTrip(t *testing.T) {
	for _, in := range []string{"EAX==$FF", "[$1000]!=$0", "hitcount>=$3", "lua:reg('ebx') == 2"} {
		cond, err := ParseCondition(in)
		if err != nil {
			t.Fatal(err)
		}
		if got := FormatCondition(cond); got != in {
			t.Errorf("FormatCondition(ParseCondition(%q)) = %q", in, got)
		}
	}
	if FormatCondition(nil) != "" {
		t.Error("a nil condition formats as empty")
	}
}

func TestEvaluateCondition(t *testing.T) {
	_, d, _ := newTestMonitor(t, monitorProgram)
	d.SetRegister("EAX", 5)
	d.WriteMemory(0x900, []byte{0x42})

	tests := []struct {
		cond string
		hits uint64
		want bool
	}{
		{"eax==5", 0, true},
		{"eax<5", 0, false},
		{"ax>=5", 0, true},
		{"[900]==$42", 0, true},
		{"hitcount==#3", 3, true},
		{"hitcount==#3", 2, false},
		{"nosuchreg==0", 0, false},
		{"lua: eax == 5 and hits == 2", 2, true},
		{"lua: peek(0x900) == 0x42", 0, true},
		{"lua: band(eax, 4)", 0, true},
		{"lua: band(eax, 2)", 0, false},
		{"lua: undefined + 1", 0, false}, // runtime errors count as false
	}
	for _, tt := range tests {
		cond, err := ParseCondition(tt.cond)
		if err != nil {
			t.Fatalf("%q: %v", tt.cond, err)
		}
		if got := evaluateConditionWithHitCount(cond, d, tt.hits); got != tt.want {
			t.Errorf("%q with %d hits = %v, want %v", tt.cond, tt.hits, got, tt.want)
		}
	}
	if !evaluateConditionWithHitCount(nil, d, 0) {
		t.Error("a nil condition always fires")
	}
}

func TestLuaEngine(t *testing.T) {
	_, d, _ := newTestMonitor(t, monitorProgram)
	var printed []string
	e := NewLuaEngine(d, func(s string) { printed = append(printed, s) })
	defer e.Close()

	if err := e.RunString("setreg('ebx', 0x1234) print('ebx', reg('ebx'))"); err != nil {
		t.Fatal(err)
	}
	if v, _ := d.GetRegister("EBX"); v != 0x1234 {
		t.Errorf("EBX = 0x%X", v)
	}
	if diff := cmp.Diff([]string{"ebx\t4660"}, printed); diff != "" {
		t.Errorf("print output (-want +got):\n%s", diff)
	}

	if err := e.RunString("poke(0x700, 0x78) poke(0x701, 0x56)"); err != nil {
		t.Fatal(err)
	}
	ok, err := e.Eval("peekw(0x700) == 0x5678 and shl(1, 4) == 16", 0)
	if err != nil || !ok {
		t.Errorf("Eval = %v, %v", ok, err)
	}

	if n, err := e.Eval("step(2)", 0); err != nil || !n {
		t.Errorf("step(2) = %v, %v", n, err)
	}
	if pc := d.GetPC(); pc != 0x7C02 {
		t.Errorf("PC = 0x%X after step(2)", pc)
	}

	if err := e.RunString("setreg('xyz', 1)"); err == nil || !strings.Contains(err.Error(), "unknown register") {
		t.Errorf("setreg on a bad name: %v", err)
	}
	if _, err := e.Eval("eax ==", 0); err == nil {
		t.Error("a syntax error should surface from Eval")
	}
}

func TestLuaEngine_SandboxHasNoOS(t *testing.T) {
	_, d, _ := newTestMonitor(t, monitorProgram)
	e := NewLuaEngine(d, nil)
	defer e.Close()
	ok, err := e.Eval("os == nil and io == nil", 0)
	if err != nil || !ok {
		t.Errorf("os/io libraries should not be loaded: %v, %v", ok, err)
	}
}
