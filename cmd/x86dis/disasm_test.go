package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewDisassembler_RejectsBadMode(t *testing.T) {
	if _, err := NewDisassembler(64, 0, "intel"); err == nil {
		t.Fatal("mode 64 should be rejected")
	}
	if _, err := NewDisassembler(16, 0, "att"); err == nil {
		t.Fatal("unknown syntax should be rejected")
	}
}

func TestDecode_AddressesFollowOrigin(t *testing.T) {
	d, err := NewDisassembler(16, 0x7C00, "intel")
	if err != nil {
		t.Fatal(err)
	}
	// nop; mov ax,0x1234; nop
	lines := d.Decode([]byte{0x90, 0xB8, 0x34, 0x12, 0x90}, 0)
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want 3", len(lines))
	}
	wantAddr := []uint64{0x7C00, 0x7C01, 0x7C04}
	for i, l := range lines {
		if l.Addr != wantAddr[i] {
			t.Errorf("line %d addr = %#x, want %#x", i, l.Addr, wantAddr[i])
		}
	}
	if lines[0].Text != "nop" {
		t.Errorf("line 0 = %q, want nop", lines[0].Text)
	}
	if len(lines[1].Bytes) != 3 {
		t.Errorf("mov imm16 length = %d, want 3", len(lines[1].Bytes))
	}
}

func TestDecode_ModeChangesLength(t *testing.T) {
	code := []byte{0xB8, 0x78, 0x56, 0x34, 0x12}
	d16, _ := NewDisassembler(16, 0, "intel")
	d32, _ := NewDisassembler(32, 0, "intel")
	if n := len(d16.Decode(code, 1)[0].Bytes); n != 3 {
		t.Errorf("16-bit mov length = %d, want 3", n)
	}
	if n := len(d32.Decode(code, 1)[0].Bytes); n != 5 {
		t.Errorf("32-bit mov length = %d, want 5", n)
	}
}

func TestDecode_CountLimit(t *testing.T) {
	d, _ := NewDisassembler(32, 0, "intel")
	lines := d.Decode(bytes.Repeat([]byte{0x90}, 10), 4)
	if len(lines) != 4 {
		t.Fatalf("got %d lines, want 4", len(lines))
	}
}

func TestDecode_TruncatedTailIsData(t *testing.T) {
	d, _ := NewDisassembler(16, 0, "intel")
	lines := d.Decode([]byte{0x90, 0xB8}, 0)
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	if lines[1].Text != "db 0xb8" {
		t.Errorf("tail = %q, want db 0xb8", lines[1].Text)
	}
}

func TestWrite_Format(t *testing.T) {
	d, _ := NewDisassembler(16, 0x100, "intel")
	var buf bytes.Buffer
	if err := d.Write(&buf, d.Decode([]byte{0x90}, 0)); err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	if !strings.HasPrefix(got, "0100  90 ") || !strings.HasSuffix(got, "nop\n") {
		t.Errorf("unexpected line %q", got)
	}
}
