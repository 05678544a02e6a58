// debug_snapshot.go - CPU and machine state snapshots for the monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
)

const (
	snapshotMagic   = "X86S"
	snapshotVersion = 2
)

// ErrSnapshotArch is returned when a snapshot was taken on another CPU
// generation. Opcode gating and FPU masks are fixed at construction.
var ErrSnapshotArch = errors.New("snapshot architecture mismatch")

// FPUState is the architectural x87 state, including the exact 80-bit
// images that carry MMX payloads.
type FPUState struct {
	Regs     [8]float64
	Img      [8]ExtendedReal
	ImgValid [8]bool
	FCW      uint16
	FSW      uint16
	FTW      uint16
	FIP      uint32
	FCS      uint16
	FDP      uint32
	FDS      uint16
	FOP      uint16
}

// CPUState is a plain copy of everything the CPU needs to resume. The TLB
// is not part of it; Restore flushes it and it refills on demand.
type CPUState struct {
	Arch ArchLevel

	GPR   [8]uint32 // EAX, ECX, EDX, EBX, ESP, EBP, ESI, EDI
	EIP   uint32
	Flags uint32
	Lazy  LazyFlags

	Seg  [6]SegmentCache
	LDTR SegmentCache
	TR   SegmentCache
	GDTR DescriptorTable
	IDTR DescriptorTable
	CPL  uint8

	CR0, CR2, CR3, CR4 uint32
	DR                 [8]uint32
	TestReg            [8]uint32

	FPU   FPUState
	XMM   [8][4]uint32
	MXCSR uint32
	MSR   map[uint32]uint64

	TSCOffset uint64
	Cycles    uint64
	Halted    bool
	Shutdown  bool
}

// Snapshot captures the CPU state. It must not be called while Run is
// executing on another goroutine.
func (c *CPU_X86) Snapshot() CPUState {
	s := CPUState{
		Arch:      c.Arch,
		EIP:       c.EIP,
		Flags:     c.Flags,
		Lazy:      c.lf,
		Seg:       c.Seg,
		LDTR:      c.LDTR,
		TR:        c.TR,
		GDTR:      c.GDTR,
		IDTR:      c.IDTR,
		CPL:       c.CPL,
		CR0:       c.CR0,
		CR2:       c.mmu.CR2(),
		CR3:       c.CR3,
		CR4:       c.CR4,
		DR:        c.DR,
		TestReg:   c.TestReg,
		MXCSR:     c.MXCSR,
		MSR:       maps.Clone(c.msr),
		TSCOffset: c.tscOffset,
		Cycles:    c.Cycles,
		Halted:    c.Halted,
		Shutdown:  c.Shutdown,
	}
	for i, r := range c.regs32 {
		s.GPR[i] = *r
	}
	for i, x := range c.XMM {
		s.XMM[i] = x
	}
	f := c.FPU
	s.FPU = FPUState{
		Regs: f.regs, Img: f.img, ImgValid: f.imgValid,
		FCW: f.FCW, FSW: f.FSW, FTW: f.FTW,
		FIP: f.FIP, FCS: f.FCS, FDP: f.FDP, FDS: f.FDS, FOP: f.FOP,
	}
	return s
}

// Restore loads s into the CPU and brings the paging unit back in line.
// A snapshot from a different architecture level is rejected.
func (c *CPU_X86) Restore(s CPUState) error {
	if s.Arch != c.Arch {
		return fmt.Errorf("%w: snapshot is %v, CPU is %v", ErrSnapshotArch, s.Arch, c.Arch)
	}
	for i, r := range c.regs32 {
		*r = s.GPR[i]
	}
	c.EIP = s.EIP
	c.Flags = s.Flags
	c.lf = s.Lazy
	c.Seg = s.Seg
	c.LDTR = s.LDTR
	c.TR = s.TR
	c.GDTR = s.GDTR
	c.IDTR = s.IDTR
	c.CR0 = s.CR0
	c.CR3 = s.CR3
	c.CR4 = s.CR4
	c.DR = s.DR
	c.TestReg = s.TestReg
	c.MXCSR = s.MXCSR
	c.msr = maps.Clone(s.MSR)
	if c.msr == nil {
		c.msr = make(map[uint32]uint64)
	}
	c.tscOffset = s.TSCOffset
	c.Cycles = s.Cycles
	c.Halted = s.Halted
	c.Shutdown = s.Shutdown
	for i := range c.XMM {
		c.XMM[i] = xmmReg(s.XMM[i])
	}

	f := c.FPU
	f.regs, f.img, f.imgValid = s.FPU.Regs, s.FPU.Img, s.FPU.ImgValid
	f.FCW, f.FSW, f.FTW = s.FPU.FCW, s.FPU.FSW, s.FPU.FTW
	f.FIP, f.FCS, f.FDP, f.FDS, f.FOP = s.FPU.FIP, s.FPU.FCS, s.FPU.FDP, s.FPU.FDS, s.FPU.FOP

	c.setCPL(s.CPL)
	c.mmu.SetCR2(s.CR2)
	c.mmu.SetCR3(s.CR3)
	c.mmu.SetPSE(s.CR4&cr4PSE != 0)
	c.mmu.SetWP(s.CR0&cr0WP != 0)
	c.mmu.SetEnabled(c.Arch >= Arch386 && s.CR0&cr0PG != 0)
	c.mmu.InvalidateAll()
	c.intShadow = false
	return nil
}

// MachineSnapshot is a CPU state plus a copy of RAM and the A20 gate.
type MachineSnapshot struct {
	CPU    CPUState
	A20    bool
	Memory []byte
}

// TakeSnapshot captures the CPU and RAM of a machine.
func TakeSnapshot(cpu *CPU_X86) *MachineSnapshot {
	return &MachineSnapshot{
		CPU:    cpu.Snapshot(),
		A20:    cpu.mem.A20(),
		Memory: bytes.Clone(cpu.mem.ram),
	}
}

// RestoreSnapshot puts a machine back to a captured state.
func RestoreSnapshot(cpu *CPU_X86, snap *MachineSnapshot) error {
	if len(snap.Memory) != len(cpu.mem.ram) {
		return fmt.Errorf("snapshot has %d bytes of RAM, machine has %d", len(snap.Memory), len(cpu.mem.ram))
	}
	if snap.CPU.Arch != cpu.Arch {
		return fmt.Errorf("%w: snapshot is %v, CPU is %v", ErrSnapshotArch, snap.CPU.Arch, cpu.Arch)
	}
	copy(cpu.mem.ram, snap.Memory)
	cpu.mem.SetA20(snap.A20)
	return cpu.Restore(snap.CPU)
}

// SaveSnapshotToFile writes a snapshot to disk: the magic, then a
// gzip-compressed gob stream.
func SaveSnapshotToFile(snap *MachineSnapshot, path string) error {
	var buf bytes.Buffer
	buf.WriteString(snapshotMagic)
	buf.WriteByte(snapshotVersion)

	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}

// LoadSnapshotFromFile reads a snapshot written by SaveSnapshotToFile.
func LoadSnapshotFromFile(path string) (*MachineSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(data)

	head := make([]byte, len(snapshotMagic)+1)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if string(head[:len(snapshotMagic)]) != snapshotMagic {
		return nil, fmt.Errorf("invalid snapshot magic: %q", head[:len(snapshotMagic)])
	}
	if v := head[len(snapshotMagic)]; v != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version: %d", v)
	}

	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gz.Close()

	snap := new(MachineSnapshot)
	if err := gob.NewDecoder(gz).Decode(snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot: %w", err)
	}
	return snap, nil
}
