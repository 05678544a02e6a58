// main_test.go - command line parsing
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParseCommandLine_Defaults(t *testing.T) {
	cl, err := parseCommandLine([]string{"x86core", "boot.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if cl.program != "boot.bin" {
		t.Errorf("program = %q", cl.program)
	}
	if d := cmp.Diff(DefaultMachineConfig(), cl.cfg); d != "" {
		t.Errorf("config (-want +got):\n%s", d)
	}
}

func TestParseCommandLine_FlagsOverrideConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "machine.toml")
	text := "[cpu]\narch = \"386\"\nstart_mode = \"flat32\"\n\n[memory]\nsize_kb = 8192\n"
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	cl, err := parseCommandLine([]string{"x86core", "-config", path, "-arch", "486", "-flat32=false", "prog.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if cl.cfg.CPU.Arch != "486" {
		t.Errorf("arch = %q, the flag should win", cl.cfg.CPU.Arch)
	}
	if cl.cfg.CPU.StartMode != "real" {
		t.Errorf("start mode = %q, -flat32=false should reset it", cl.cfg.CPU.StartMode)
	}
	if cl.cfg.Memory.SizeKB != 8192 {
		t.Errorf("size_kb = %d, the file value should survive", cl.cfg.Memory.SizeKB)
	}
}

func TestParseCommandLine_COMExtension(t *testing.T) {
	cl, err := parseCommandLine([]string{"x86core", "HELLO.COM"})
	if err != nil {
		t.Fatal(err)
	}
	if !cl.cfg.CPU.ComFile {
		t.Error("a .com extension should select COM loading")
	}
}

func TestParseCommandLine_Addresses(t *testing.T) {
	cl, err := parseCommandLine([]string{"x86core", "-load-addr", "1000:0100", "-entry", "0x10200", "a.bin"})
	if err != nil {
		t.Fatal(err)
	}
	if cl.cfg.CPU.LoadAddr != 0x10100 || cl.cfg.CPU.Entry != 0x10200 {
		t.Errorf("load 0x%X entry 0x%X", cl.cfg.CPU.LoadAddr, cl.cfg.CPU.Entry)
	}
}

func TestParseCommandLine_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no program", []string{"x86core"}, "exactly one program"},
		{"two programs", []string{"x86core", "a.bin", "b.bin"}, "exactly one program"},
		{"bad address", []string{"x86core", "-load-addr", "zz", "a.bin"}, "-load-addr"},
		{"bad arch", []string{"x86core", "-arch", "z80", "a.bin"}, "unknown architecture"},
		{"bad page mode", []string{"x86core", "-page-fault-mode", "lazy", "a.bin"}, "page fault mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseCommandLine(tt.args)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want one mentioning %q", err, tt.want)
			}
		})
	}

	if _, err := parseCommandLine([]string{"x86core", "-help"}); !errors.Is(err, flag.ErrHelp) {
		t.Errorf("-help: err = %v, want flag.ErrHelp", err)
	}
}

func TestParseAddrFlag(t *testing.T) {
	tests := map[string]uint32{
		"31744":     0x7C00,
		"0x7C00":    0x7C00,
		"07C00":     0, // rejected below: not octal
		"0000:7C00": 0x7C00,
		"FFFF:0010": 0x100000,
	}
	for in, want := range tests {
		got, err := parseAddrFlag(in)
		if in == "07C00" {
			if err == nil {
				t.Errorf("parseAddrFlag(%q) accepted a bad octal number", in)
			}
			continue
		}
		if err != nil || got != want {
			t.Errorf("parseAddrFlag(%q) = 0x%X, %v; want 0x%X", in, got, err, want)
		}
	}
}

func TestPumpInput(t *testing.T) {
	con, _, _, _ := newTestConsole()
	pumpInput(strings.NewReader("dir\n"), con)
	if con.Pending() != 4 {
		t.Fatalf("pending = %d, want 4", con.Pending())
	}
}
