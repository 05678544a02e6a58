// cpu_x86_simd_test.go - MMX and SSE instruction tests
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestMMX_LaneArithmetic(t *testing.T) {
	tests := []struct {
		name   string
		op     byte
		a, b   uint64
		expect uint64
	}{
		{"paddb wraps", 0xFC, 0x00000000000000FF, 0x0000000000000002, 0x0000000000000001},
		{"paddusb saturates", 0xDC, 0x00000000000000FF, 0x0000000000000002, 0x00000000000000FF},
		{"paddsw saturates", 0xED, 0x0000000000007FFF, 0x0000000000000001, 0x0000000000007FFF},
		{"psubusb floors", 0xD8, 0x0000000000000001, 0x0000000000000002, 0},
		{"pcmpeqd", 0x76, 0x0000000500000007, 0x0000000500000008, 0xFFFFFFFF00000000},
		{"pxor", 0xEF, 0xF0F0F0F0F0F0F0F0, 0xFFFFFFFFFFFFFFFF, 0x0F0F0F0F0F0F0F0F},
		{"pmaddwd", 0xF5, 0x0002000300040005, 0x0006000700080009, (2*6+3*7)<<32 | (4*8 + 5*9)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, ArchPentiumMMX)
			r.cpu.FPU.writeMMX(0, tt.a)
			r.cpu.FPU.writeMMX(1, tt.b)
			r.exec(0x0F, tt.op, 0xC1) // op MM0, MM1
			if got := r.cpu.FPU.readMMX(0); got != tt.expect {
				t.Errorf("MM0 = 0x%016X, want 0x%016X", got, tt.expect)
			}
		})
	}
}

func TestMMX_GatedBeforePentiumMMX(t *testing.T) {
	r := newRig(t, ArchPentium)
	r.exec(0x0F, 0xFC, 0xC1)
	if !r.inHandler() || r.frameIP() != rigCode {
		t.Error("PADDB on a Pentium should raise #UD")
	}
}

func f32s(vals ...float32) xmmReg {
	var x xmmReg
	for i, v := range vals {
		x[i] = math.Float32bits(v)
	}
	return x
}

func TestSSE_ADDPS(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.cpu.CR4 |= cr4OSFXSR
	r.cpu.XMM[0] = f32s(1, 2, 3, 4)
	r.cpu.XMM[1] = f32s(0.5, 0.25, -3, 100)
	r.exec(0x0F, 0x58, 0xC1) // ADDPS XMM0, XMM1

	if d := cmp.Diff(f32s(1.5, 2.25, 0, 104), r.cpu.XMM[0]); d != "" {
		t.Errorf("XMM0 (-want +got):\n%s", d)
	}
	if r.cpu.MXCSR != mxcsrDefault {
		t.Errorf("MXCSR = 0x%X, exact sums raise nothing", r.cpu.MXCSR)
	}
}

func TestSSE_DivideByZeroMasked(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.cpu.CR4 |= cr4OSFXSR
	r.cpu.XMM[0] = f32s(1, 1, 1, 1)
	r.cpu.XMM[1] = f32s(0, 1, 1, 1)
	r.exec(0x0F, 0x5E, 0xC1) // DIVPS XMM0, XMM1

	if got := math.Float32frombits(r.cpu.XMM[0][0]); !math.IsInf(float64(got), 1) {
		t.Errorf("1/0 = %v, want +Inf", got)
	}
	if r.cpu.MXCSR&mxcsrZE == 0 {
		t.Errorf("MXCSR = 0x%X, want ZE", r.cpu.MXCSR)
	}
}

func TestSSE_RequiresOSFXSR(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.cpu.XMM[0] = f32s(1, 2, 3, 4)
	r.exec(0x0F, 0x58, 0xC1)
	if !r.inHandler() || r.frameIP() != rigCode {
		t.Fatal("ADDPS without CR4.OSFXSR should raise #UD")
	}
	if r.cpu.XMM[0] != f32s(1, 2, 3, 4) {
		t.Error("the faulting ADDPS wrote XMM0")
	}
}

func TestSSE_MOVAPSAlignment(t *testing.T) {
	r := newRig(t, ArchPentiumIII)
	r.cpu.CR4 |= cr4OSFXSR
	for i := uint32(0); i < 16; i++ {
		r.poke(0x5000+i, byte(i))
	}
	r.exec(0x0F, 0x28, 0x06, 0x00, 0x50) // MOVAPS XMM0, [0x5000]
	want := xmmReg{0x03020100, 0x07060504, 0x0B0A0908, 0x0F0E0D0C}
	if r.cpu.XMM[0] != want {
		t.Errorf("XMM0 = %08X", r.cpu.XMM[0])
	}

	r = newRig(t, ArchPentiumIII)
	r.cpu.CR4 |= cr4OSFXSR
	r.exec(0x0F, 0x28, 0x06, 0x08, 0x50) // MOVAPS XMM0, [0x5008]
	if !r.inHandler() || r.frameIP() != rigCode {
		t.Error("a misaligned MOVAPS should raise #GP")
	}
}

func sseRig(t *testing.T) *x86Rig {
	t.Helper()
	r := newRig(t, ArchPentiumIII)
	r.cpu.CR4 |= cr4OSFXSR
	return r
}

func TestSSE_CompareMasks(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		name   string
		code   []byte
		a, b   xmmReg
		want   xmmReg
		wantIE bool
	}{
		{"CMPLTPS", []byte{0x0F, 0xC2, 0xC1, 0x01}, f32s(1, 2, nan, 4), f32s(1, 3, 1, 3),
			xmmReg{0, 0xFFFFFFFF, 0, 0}, true},
		{"CMPEQPS quiet NaN", []byte{0x0F, 0xC2, 0xC1, 0x00}, f32s(1, 2, nan, 4), f32s(1, 3, 1, 3),
			xmmReg{0xFFFFFFFF, 0, 0, 0}, false},
		{"CMPNLEPS", []byte{0x0F, 0xC2, 0xC1, 0x06}, f32s(5, 2, nan, 4), f32s(1, 3, 1, 4),
			xmmReg{0xFFFFFFFF, 0, 0xFFFFFFFF, 0}, true},
		{"CMPUNORDSS", []byte{0xF3, 0x0F, 0xC2, 0xC1, 0x03}, f32s(nan, 7, 7, 7), f32s(1, 1, 1, 1),
			xmmReg{0xFFFFFFFF, math.Float32bits(7), math.Float32bits(7), math.Float32bits(7)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sseRig(t)
			r.cpu.XMM[0], r.cpu.XMM[1] = tt.a, tt.b
			r.exec(tt.code...)
			if d := cmp.Diff(tt.want, r.cpu.XMM[0]); d != "" {
				t.Errorf("XMM0 (-want +got):\n%s", d)
			}
			if got := r.cpu.MXCSR&mxcsrIE != 0; got != tt.wantIE {
				t.Errorf("MXCSR.IE = %v, want %v", got, tt.wantIE)
			}
		})
	}
}

func TestSSE_COMISSFlags(t *testing.T) {
	nan := float32(math.NaN())
	tests := []struct {
		a, b       float32
		zf, pf, cf bool
	}{
		{1, 2, false, false, true},
		{2, 2, true, false, false},
		{3, 2, false, false, false},
		{nan, 2, true, true, true},
	}
	for _, op := range []byte{0x2E, 0x2F} {
		for _, tt := range tests {
			r := sseRig(t)
			r.cpu.XMM[0], r.cpu.XMM[1] = f32s(tt.a), f32s(tt.b)
			r.cpu.Flags |= x86FlagOF | x86FlagSF | x86FlagAF
			r.exec(0x0F, op, 0xC1)

			if r.flag(x86FlagZF) != tt.zf || r.flag(x86FlagPF) != tt.pf || r.flag(x86FlagCF) != tt.cf {
				t.Errorf("0F %02X %v vs %v: flags 0x%04X", op, tt.a, tt.b, r.cpu.flagsWord())
			}
			if r.cpu.flagsWord()&(x86FlagOF|x86FlagSF|x86FlagAF) != 0 {
				t.Errorf("0F %02X: OF, SF and AF must be cleared", op)
			}
			unordered := math.IsNaN(float64(tt.a))
			if ie := r.cpu.MXCSR&mxcsrIE != 0; ie != (unordered && op == 0x2F) {
				t.Errorf("0F %02X %v vs %v: IE = %v", op, tt.a, tt.b, ie)
			}
		}
	}
}

func TestSSE_ShufflesAndUnpacks(t *testing.T) {
	tests := []struct {
		name string
		code []byte
		want xmmReg
	}{
		{"SHUFPS 1B", []byte{0x0F, 0xC6, 0xC1, 0x1B}, f32s(3, 2, 11, 10)},
		{"UNPCKLPS", []byte{0x0F, 0x14, 0xC1}, f32s(0, 10, 1, 11)},
		{"UNPCKHPS", []byte{0x0F, 0x15, 0xC1}, f32s(2, 12, 3, 13)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sseRig(t)
			r.cpu.XMM[0], r.cpu.XMM[1] = f32s(0, 1, 2, 3), f32s(10, 11, 12, 13)
			r.exec(tt.code...)
			if d := cmp.Diff(tt.want, r.cpu.XMM[0]); d != "" {
				t.Errorf("XMM0 (-want +got):\n%s", d)
			}
		})
	}
}

func TestSSE_SQRTPSAndMOVMSKPS(t *testing.T) {
	r := sseRig(t)
	r.cpu.XMM[1] = f32s(4, 2, -1, float32(math.Copysign(0, -1)))
	r.exec(
		0x0F, 0x51, 0xC1, // SQRTPS XMM0, XMM1
		0x0F, 0x50, 0xC1, // MOVMSKPS EAX, XMM1
	)
	want := xmmReg{math.Float32bits(2), math.Float32bits(float32(math.Sqrt2)), f32DefaultNaN, 0x80000000}
	if d := cmp.Diff(want, r.cpu.XMM[0]); d != "" {
		t.Errorf("SQRTPS (-want +got):\n%s", d)
	}
	if r.cpu.MXCSR&(mxcsrIE|mxcsrPE) != mxcsrIE|mxcsrPE {
		t.Errorf("MXCSR = 0x%X, want IE and PE", r.cpu.MXCSR)
	}
	if r.cpu.EAX != 0b1100 {
		t.Errorf("MOVMSKPS = 0x%X, want 0xC", r.cpu.EAX)
	}

	r = sseRig(t)
	r.exec(0x0F, 0x50, 0x00) // MOVMSKPS with a memory operand
	if !r.inHandler() || r.frameIP() != rigCode {
		t.Error("MOVMSKPS from memory should raise #UD")
	}
}

func TestSSE_Conversions(t *testing.T) {
	t.Run("CVTSI2SS rounding", func(t *testing.T) {
		for _, tt := range []struct {
			rc   uint32
			want float32
		}{{0, 16777216}, {1, 16777216}, {2, 16777218}, {3, 16777216}} {
			r := sseRig(t)
			r.cpu.MXCSR = mxcsrDefault | tt.rc<<mxcsrRCShift
			r.cpu.EAX = 16777217
			r.exec(0xF3, 0x0F, 0x2A, 0xC0) // CVTSI2SS XMM0, EAX
			if got := math.Float32frombits(r.cpu.XMM[0][0]); got != tt.want || r.cpu.MXCSR&mxcsrPE == 0 {
				t.Errorf("RC=%d: %v PE=%v, want %v", tt.rc, got, r.cpu.MXCSR&mxcsrPE != 0, tt.want)
			}
		}
	})

	t.Run("CVTSS2SI and CVTTSS2SI", func(t *testing.T) {
		for _, tt := range []struct {
			in           float32
			round, trunc uint32
			invalid      bool
		}{
			{2.5, 2, 2, false},
			{-2.5, 0xFFFFFFFE, 0xFFFFFFFE, false},
			{2.7, 3, 2, false},
			{3e9, intIndefinite, intIndefinite, true},
			{float32(math.NaN()), intIndefinite, intIndefinite, true},
		} {
			for _, op := range []byte{0x2D, 0x2C} {
				r := sseRig(t)
				r.cpu.XMM[0] = f32s(tt.in)
				r.exec(0xF3, 0x0F, op, 0xC0)
				want := tt.round
				if op == 0x2C {
					want = tt.trunc
				}
				if r.cpu.EAX != want || (r.cpu.MXCSR&mxcsrIE != 0) != tt.invalid {
					t.Errorf("F3 0F %02X %v: EAX=0x%X MXCSR=0x%X, want 0x%X", op, tt.in, r.cpu.EAX, r.cpu.MXCSR, want)
				}
			}
		}
	})

	r := sseRig(t)
	r.exec(0x0F, 0x2A, 0xC0) // the unprefixed form needs MMX conversions
	if !r.inHandler() {
		t.Error("0F 2A without F3 should raise #UD")
	}
}
