// debug_snapshot_test.go - CPU and machine snapshots
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSnapshot_RestoreUndoesExecution(t *testing.T) {
	r := newFlatRig(t, ArchPentiumIII)
	r.cpu.CR4 |= cr4OSFXSR
	r.cpu.EAX = 0x11111111
	r.cpu.XMM[3] = xmmReg{1, 2, 3, 4}
	r.cpu.FPU.push(1.5)
	before := r.cpu.Snapshot()
	ram := TakeSnapshot(r.cpu)

	r.exec(
		0x40,             // INC EAX
		0x0F, 0x57, 0xDB, // XORPS XMM3, XMM3
		0xDD, 0xD8, // FSTP ST0
		0xC6, 0x05, 0x00, 0x60, 0x00, 0x00, 0x99, // MOV BYTE [0x6000], 0x99
	)
	if r.cpu.EAX == before.GPR[0] || r.peek(0x6000) != 0x99 {
		t.Fatal("the program did not run")
	}

	if err := RestoreSnapshot(r.cpu, ram); err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(before, r.cpu.Snapshot(), cmpopts.EquateEmpty(), cmpopts.EquateNaNs()); d != "" {
		t.Errorf("state after restore (-want +got):\n%s", d)
	}
	if r.peek(0x6000) != 0 {
		t.Error("RAM was not restored")
	}
}

func TestSnapshot_FileRoundTrip(t *testing.T) {
	r := newRig(t, ArchPentiumMMX)
	r.cpu.FPU.writeMMX(2, 0x0123456789ABCDEF)
	r.cpu.EBX = 0xDEADBEEF
	r.mem.SetA20(false)
	r.poke(0x4000, 0xAA, 0xBB)

	path := filepath.Join(t.TempDir(), "m.x86s")
	snap := TakeSnapshot(r.cpu)
	if err := SaveSnapshotToFile(snap, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSnapshotFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if d := cmp.Diff(snap, loaded, cmpopts.EquateEmpty(), cmpopts.EquateNaNs()); d != "" {
		t.Errorf("snapshot changed on disk (-want +got):\n%s", d)
	}

	fresh := newRig(t, ArchPentiumMMX)
	if err := RestoreSnapshot(fresh.cpu, loaded); err != nil {
		t.Fatal(err)
	}
	if fresh.cpu.FPU.readMMX(2) != 0x0123456789ABCDEF {
		t.Errorf("MM2 = 0x%X, the 80-bit image should survive", fresh.cpu.FPU.readMMX(2))
	}
	if fresh.cpu.EBX != 0xDEADBEEF || fresh.mem.A20() || fresh.peek(0x4001) != 0xBB {
		t.Error("registers, A20 or RAM not restored")
	}
}

func TestSnapshot_Errors(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad")
	if err := os.WriteFile(bad, []byte("NOPE\x01"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshotFromFile(bad); err == nil {
		t.Error("bad magic accepted")
	}
	if err := os.WriteFile(bad, []byte("X86S\x09"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSnapshotFromFile(bad); err == nil {
		t.Error("unknown version accepted")
	}

	small := newRig(t, Arch386)
	snap := TakeSnapshot(small.cpu)
	snap.Memory = snap.Memory[:len(snap.Memory)/2]
	if err := RestoreSnapshot(small.cpu, snap); err == nil {
		t.Error("a RAM size mismatch should be refused")
	}
}

func TestSnapshot_ArchMismatchRefused(t *testing.T) {
	old := newRig(t, Arch486New)
	old.cpu.EAX = 0x1234
	snap := TakeSnapshot(old.cpu)

	p3 := newRig(t, ArchPentiumIII)
	p3.cpu.EAX = 0x5678
	p3.poke(0x100, 0xAA)
	err := RestoreSnapshot(p3.cpu, snap)
	if !errors.Is(err, ErrSnapshotArch) {
		t.Fatalf("RestoreSnapshot across architectures = %v", err)
	}
	if p3.cpu.EAX != 0x5678 || p3.peek(0x100) != 0xAA {
		t.Error("a refused restore changed the machine")
	}
	if err := p3.cpu.Restore(snap.CPU); !errors.Is(err, ErrSnapshotArch) {
		t.Errorf("Restore = %v", err)
	}

	snap.CPU.TestReg[6] = 0xFFFFF001
	same := newRig(t, Arch486New)
	if err := RestoreSnapshot(same.cpu, snap); err != nil {
		t.Fatal(err)
	}
	if same.cpu.EAX != 0x1234 || same.cpu.TestReg[6] != 0xFFFFF001 {
		t.Errorf("EAX=0x%X TR6=0x%X after restore", same.cpu.EAX, same.cpu.TestReg[6])
	}
}
