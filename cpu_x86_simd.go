// cpu_x86_simd.go - MMX, SSE and FXSAVE/FXRSTOR
//
// MMX registers alias the x87 mantissas (see FPU_X87.readMMX). The XMM file
// and MXCSR are plain CPU state.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "math"

// xmmReg holds a 128-bit XMM register as four little-endian dwords.
type xmmReg [4]uint32

const (
	mxcsrDefault = 0x1F80
	mxcsrMaskP3  = 0xFFBF // DAZ is not implemented before later steppings

	mxcsrIE = 1 << 0
	mxcsrDE = 1 << 1
	mxcsrZE = 1 << 2
	mxcsrOE = 1 << 3
	mxcsrUE = 1 << 4
	mxcsrPE = 1 << 5
	mxcsrFZ = 1 << 15

	mxcsrMaskShift = 7

	cr4OSXMMEXCPT = 1 << 10
)

// -----------------------------------------------------------------------------
// Guards
// -----------------------------------------------------------------------------

// mmxGuard runs the checks every MMX instruction makes. The switch into
// MMX mode happens once the operands have been accessed.
func (c *CPU_X86) mmxGuard() {
	if c.CR0&cr0EM != 0 {
		c.raise(excUD)
	}
	if c.CR0&cr0TS != 0 {
		c.raise(excNM)
	}
	c.fpuCheckPending()
}

func (c *CPU_X86) sseGuard() {
	if c.CR0&cr0EM != 0 || c.CR4&cr4OSFXSR == 0 {
		c.raise(excUD)
	}
	if c.CR0&cr0TS != 0 {
		c.raise(excNM)
	}
}

// -----------------------------------------------------------------------------
// MMX lane arithmetic
// -----------------------------------------------------------------------------

type mmxOp func(a, b uint64) uint64

// mapLanes applies f to each n-bit lane of a and b.
func mapLanes(a, b uint64, n uint, f func(x, y uint64) uint64) uint64 {
	mask := uint64(1)<<n - 1
	var r uint64
	for s := uint(0); s < 64; s += n {
		r |= (f(a>>s&mask, b>>s&mask) & mask) << s
	}
	return r
}

func laneOp(n uint, f func(x, y uint64) uint64) mmxOp {
	return func(a, b uint64) uint64 { return mapLanes(a, b, n, f) }
}

// sx sign-extends an n-bit lane.
func sx(v uint64, n uint) int64 {
	return int64(v<<(64-n)) >> (64 - n)
}

func satS(v int64, n uint) uint64 {
	lo, hi := -int64(1)<<(n-1), int64(1)<<(n-1)-1
	return uint64(min(max(v, lo), hi))
}

func satU(v int64, n uint) uint64 {
	return uint64(min(max(v, 0), int64(1)<<n-1))
}

func maskOf(b bool) uint64 {
	if b {
		return ^uint64(0)
	}
	return 0
}

func paddS(n uint) mmxOp {
	return laneOp(n, func(x, y uint64) uint64 { return satS(sx(x, n)+sx(y, n), n) })
}

func paddU(n uint) mmxOp {
	return laneOp(n, func(x, y uint64) uint64 { return satU(int64(x)+int64(y), n) })
}

func psubS(n uint) mmxOp {
	return laneOp(n, func(x, y uint64) uint64 { return satS(sx(x, n)-sx(y, n), n) })
}

func psubU(n uint) mmxOp {
	return laneOp(n, func(x, y uint64) uint64 { return satU(int64(x)-int64(y), n) })
}

func pcmpeq(n uint) mmxOp {
	return laneOp(n, func(x, y uint64) uint64 { return maskOf(x == y) })
}

func pcmpgt(n uint) mmxOp {
	return laneOp(n, func(x, y uint64) uint64 { return maskOf(sx(x, n) > sx(y, n)) })
}

// pack narrows the n-bit lanes of a (low half) and b (high half).
func pack(n uint, sat func(int64, uint) uint64) mmxOp {
	return func(a, b uint64) uint64 {
		lanes := 64 / n
		out := n / 2
		mask := uint64(1)<<n - 1
		var r uint64
		for i := uint(0); i < lanes; i++ {
			r |= sat(sx(a>>(i*n)&mask, n), out) << (i * out)
			r |= sat(sx(b>>(i*n)&mask, n), out) << ((i + lanes) * out)
		}
		return r
	}
}

// unpack interleaves the low (high=false) or high lanes of a and b.
func unpack(n uint, high bool) mmxOp {
	return func(a, b uint64) uint64 {
		half := 64 / n / 2
		first := uint(0)
		if high {
			first = half
		}
		mask := uint64(1)<<n - 1
		var r uint64
		for i := uint(0); i < half; i++ {
			r |= (a >> ((first + i) * n) & mask) << (2 * i * n)
			r |= (b >> ((first + i) * n) & mask) << ((2*i + 1) * n)
		}
		return r
	}
}

func psrl(n uint) mmxOp {
	return func(a, count uint64) uint64 {
		if count >= uint64(n) {
			return 0
		}
		return laneOp(n, func(x, _ uint64) uint64 { return x >> count })(a, 0)
	}
}

func psll(n uint) mmxOp {
	return func(a, count uint64) uint64 {
		if count >= uint64(n) {
			return 0
		}
		return laneOp(n, func(x, _ uint64) uint64 { return x << count })(a, 0)
	}
}

func psra(n uint) mmxOp {
	return func(a, count uint64) uint64 {
		count = min(count, uint64(n-1))
		return laneOp(n, func(x, _ uint64) uint64 { return uint64(sx(x, n) >> count) })(a, 0)
	}
}

func pmaddwd(a, b uint64) uint64 {
	return laneOp(32, func(x, y uint64) uint64 {
		lo := sx(x&0xFFFF, 16) * sx(y&0xFFFF, 16)
		hi := sx(x>>16, 16) * sx(y>>16, 16)
		return uint64(uint32(lo + hi))
	})(a, b)
}

// mmxBinaryOps maps 0F opcodes of the reg, reg/mem MMX forms to their lane
// operation.
var mmxBinaryOps = map[byte]mmxOp{
	0x60: unpack(8, false),
	0x61: unpack(16, false),
	0x62: unpack(32, false),
	0x63: pack(16, satS),
	0x64: pcmpgt(8),
	0x65: pcmpgt(16),
	0x66: pcmpgt(32),
	0x67: pack(16, satU),
	0x68: unpack(8, true),
	0x69: unpack(16, true),
	0x6A: unpack(32, true),
	0x6B: pack(32, satS),
	0x74: pcmpeq(8),
	0x75: pcmpeq(16),
	0x76: pcmpeq(32),
	0xD1: psrl(16),
	0xD2: psrl(32),
	0xD3: psrl(64),
	0xD5: laneOp(16, func(x, y uint64) uint64 { return x * y }),
	0xD8: psubU(8),
	0xD9: psubU(16),
	0xDB: func(a, b uint64) uint64 { return a & b },
	0xDC: paddU(8),
	0xDD: paddU(16),
	0xDF: func(a, b uint64) uint64 { return ^a & b },
	0xE1: psra(16),
	0xE2: psra(32),
	0xE5: laneOp(16, func(x, y uint64) uint64 { return uint64(sx(x, 16)*sx(y, 16)) >> 16 }),
	0xE8: psubS(8),
	0xE9: psubS(16),
	0xEB: func(a, b uint64) uint64 { return a | b },
	0xEC: paddS(8),
	0xED: paddS(16),
	0xEF: func(a, b uint64) uint64 { return a ^ b },
	0xF1: psll(16),
	0xF2: psll(32),
	0xF3: psll(64),
	0xF5: pmaddwd,
	0xF8: laneOp(8, func(x, y uint64) uint64 { return x - y }),
	0xF9: laneOp(16, func(x, y uint64) uint64 { return x - y }),
	0xFA: laneOp(32, func(x, y uint64) uint64 { return x - y }),
	0xFC: laneOp(8, func(x, y uint64) uint64 { return x + y }),
	0xFD: laneOp(16, func(x, y uint64) uint64 { return x + y }),
	0xFE: laneOp(32, func(x, y uint64) uint64 { return x + y }),
}

// mmxShiftImm is indexed by opcode-0x71 and the ModR/M reg field.
var mmxShiftImm = [3][8]mmxOp{
	{2: psrl(16), 4: psra(16), 6: psll(16)},
	{2: psrl(32), 4: psra(32), 6: psll(32)},
	{2: psrl(64), 6: psll(64)},
}

// -----------------------------------------------------------------------------
// MMX operand access
// -----------------------------------------------------------------------------

func (c *CPU_X86) readQ() uint64 {
	if c.dec.rmIsReg {
		return c.FPU.readMMX(int(c.modRM()))
	}
	lo := c.readEA(w32, 0)
	hi := c.readEA(w32, 4)
	return uint64(hi)<<32 | uint64(lo)
}

func (c *CPU_X86) writeQ(v uint64) {
	if c.dec.rmIsReg {
		c.FPU.writeMMX(int(c.modRM()), v)
		return
	}
	c.writeEA(w32, 0, uint32(v))
	c.writeEA(w32, 4, uint32(v>>32))
}

// -----------------------------------------------------------------------------
// MMX instructions
// -----------------------------------------------------------------------------

func (c *CPU_X86) opMMXBinary() {
	c.mmxGuard()
	b := c.readQ()
	reg := int(c.modReg())
	c.FPU.writeMMX(reg, mmxBinaryOps[c.dec.opcode](c.FPU.readMMX(reg), b))
	c.FPU.enterMMX()
}

// opMMXShiftImm implements the 0F 71/72/73 groups.
func (c *CPU_X86) opMMXShiftImm() {
	f := mmxShiftImm[c.dec.opcode-0x71][c.modReg()]
	if f == nil || !c.dec.rmIsReg {
		c.raise(excUD)
	}
	count := uint64(c.fetch8())
	c.mmxGuard()
	rm := int(c.modRM())
	c.FPU.writeMMX(rm, f(c.FPU.readMMX(rm), count))
	c.FPU.enterMMX()
}

func (c *CPU_X86) opMOVD_P_E() {
	c.mmxGuard()
	c.FPU.writeMMX(int(c.modReg()), uint64(c.readRM(w32)))
	c.FPU.enterMMX()
}

func (c *CPU_X86) opMOVD_E_P() {
	c.mmxGuard()
	c.writeRM(w32, uint32(c.FPU.readMMX(int(c.modReg()))))
	c.FPU.enterMMX()
}

func (c *CPU_X86) opMOVQ_P_Q() {
	c.mmxGuard()
	c.FPU.writeMMX(int(c.modReg()), c.readQ())
	c.FPU.enterMMX()
}

func (c *CPU_X86) opMOVQ_Q_P() {
	c.mmxGuard()
	c.writeQ(c.FPU.readMMX(int(c.modReg())))
	c.FPU.enterMMX()
}

func (c *CPU_X86) opEMMS() {
	if c.CR0&cr0EM != 0 {
		c.raise(excUD)
	}
	if c.CR0&cr0TS != 0 {
		c.raise(excNM)
	}
	c.fpuCheckPending()
	c.FPU.emms()
}

// -----------------------------------------------------------------------------
// XMM operand access
// -----------------------------------------------------------------------------

// alignedEA raises #GP(0) for a 16-byte operand that is not 16-byte aligned.
func (c *CPU_X86) alignedEA() {
	if c.eaLinear(0)&15 != 0 {
		c.raiseGP(0)
	}
}

func (c *CPU_X86) readX(aligned bool) xmmReg {
	if c.dec.rmIsReg {
		return c.XMM[c.modRM()]
	}
	if aligned {
		c.alignedEA()
	}
	var x xmmReg
	for i := range x {
		x[i] = c.readEA(w32, uint32(i*4))
	}
	return x
}

func (c *CPU_X86) writeX(x xmmReg, aligned bool) {
	if c.dec.rmIsReg {
		c.XMM[c.modRM()] = x
		return
	}
	if aligned {
		c.alignedEA()
	}
	for i, v := range x {
		c.writeEA(w32, uint32(i*4), v)
	}
}

// -----------------------------------------------------------------------------
// SSE moves
// -----------------------------------------------------------------------------

func (c *CPU_X86) opMOVUPS_V_W() {
	c.sseGuard()
	c.XMM[c.modReg()] = c.readX(false)
}

func (c *CPU_X86) opMOVUPS_W_V() {
	c.sseGuard()
	c.writeX(c.XMM[c.modReg()], false)
}

func (c *CPU_X86) opMOVAPS_V_W() {
	c.sseGuard()
	c.XMM[c.modReg()] = c.readX(true)
}

func (c *CPU_X86) opMOVAPS_W_V() {
	c.sseGuard()
	c.writeX(c.XMM[c.modReg()], true)
}

// opMOVSS_V_W loads the low single. A memory source clears the upper
// three lanes, a register source leaves them.
func (c *CPU_X86) opMOVSS_V_W() {
	c.sseGuard()
	dst := &c.XMM[c.modReg()]
	if c.dec.rmIsReg {
		dst[0] = c.XMM[c.modRM()][0]
		return
	}
	*dst = xmmReg{c.readEA(w32, 0)}
}

func (c *CPU_X86) opMOVSS_W_V() {
	c.sseGuard()
	v := c.XMM[c.modReg()][0]
	if c.dec.rmIsReg {
		c.XMM[c.modRM()][0] = v
		return
	}
	c.writeEA(w32, 0, v)
}

// -----------------------------------------------------------------------------
// SSE arithmetic
// -----------------------------------------------------------------------------

var sseLogicOps = map[byte]func(a, b uint32) uint32{
	0x54: func(a, b uint32) uint32 { return a & b },
	0x55: func(a, b uint32) uint32 { return ^a & b },
	0x56: func(a, b uint32) uint32 { return a | b },
	0x57: func(a, b uint32) uint32 { return a ^ b },
}

func (c *CPU_X86) opSSELogic() {
	c.sseGuard()
	b := c.readX(true)
	dst := &c.XMM[c.modReg()]
	f := sseLogicOps[c.dec.opcode]
	for i := range dst {
		dst[i] = f(dst[i], b[i])
	}
}

const (
	f32QNaNBit     = 0x00400000
	f32DefaultNaN  = 0xFFC00000
	f32ExpMask     = 0x7F800000
	f32FractionMax = 0x007FFFFF
)

func f32IsNaN(v uint32) bool  { return v&f32ExpMask == f32ExpMask && v&f32FractionMax != 0 }
func f32IsSNaN(v uint32) bool { return f32IsNaN(v) && v&f32QNaNBit == 0 }
func f32IsDenormal(v uint32) bool {
	return v&f32ExpMask == 0 && v&f32FractionMax != 0
}

// sseArith computes one single-precision lane for opcodes 58, 59, 5C-5F
// and returns the MXCSR exception bits it raised.
func (c *CPU_X86) sseArith(op byte, a, b uint32) (uint32, uint32) {
	var flags uint32
	if f32IsDenormal(a) || f32IsDenormal(b) {
		flags |= mxcsrDE
	}
	if op == 0x5D || op == 0x5F {
		return sseMinMax(op, a, b, flags)
	}
	if f32IsNaN(a) || f32IsNaN(b) {
		if f32IsSNaN(a) || f32IsSNaN(b) {
			flags |= mxcsrIE
		}
		if f32IsNaN(a) {
			return a | f32QNaNBit, flags
		}
		return b | f32QNaNBit, flags
	}
	x := float64(math.Float32frombits(a))
	y := float64(math.Float32frombits(b))
	var r float64
	switch op {
	case 0x58:
		r = x + y
	case 0x59:
		r = x * y
	case 0x5C:
		r = x - y
	case 0x5E:
		if y == 0 && x != 0 && !math.IsInf(x, 0) && !math.IsNaN(x) {
			flags |= mxcsrZE
		}
		r = x / y
	}
	if math.IsNaN(r) {
		return f32DefaultNaN, flags | mxcsrIE
	}
	res := float32(r)
	if float64(res) != r {
		flags |= mxcsrPE
	}
	if math.IsInf(float64(res), 0) && !math.IsInf(r, 0) {
		flags |= mxcsrOE | mxcsrPE
	}
	out := math.Float32bits(res)
	if f32IsDenormal(out) || (res == 0 && r != 0) {
		flags |= mxcsrUE
		if c.MXCSR&mxcsrFZ != 0 && c.MXCSR&(mxcsrUE<<mxcsrMaskShift) != 0 {
			out &= 0x80000000
			flags |= mxcsrPE
		}
	}
	return out, flags
}

// sseMinMax returns the second operand when either is a NaN or both are
// zero, as MINPS and MAXPS do.
func sseMinMax(op byte, a, b uint32, flags uint32) (uint32, uint32) {
	if f32IsNaN(a) || f32IsNaN(b) {
		return b, flags | mxcsrIE
	}
	x, y := math.Float32frombits(a), math.Float32frombits(b)
	if op == 0x5D && x < y || op == 0x5F && x > y {
		return a, flags
	}
	return b, flags
}

// sseCommit records exception flags and raises #XM (or #UD without
// CR4.OSXMMEXCPT) when one is unmasked.
func (c *CPU_X86) sseCommit(flags uint32) {
	c.MXCSR |= flags
	masks := c.MXCSR >> mxcsrMaskShift & 0x3F
	if flags&^masks == 0 {
		return
	}
	if c.CR4&cr4OSXMMEXCPT == 0 {
		c.raise(excUD)
	}
	c.raise(excXM)
}

func (c *CPU_X86) opSSEArithPS() {
	c.sseGuard()
	b := c.readX(true)
	dst := c.XMM[c.modReg()]
	var flags uint32
	for i := range dst {
		var f uint32
		dst[i], f = c.sseArith(c.dec.opcode, dst[i], b[i])
		flags |= f
	}
	c.sseCommit(flags)
	c.XMM[c.modReg()] = dst
}

func (c *CPU_X86) opSSEArithSS() {
	c.sseGuard()
	var b uint32
	if c.dec.rmIsReg {
		b = c.XMM[c.modRM()][0]
	} else {
		b = c.readEA(w32, 0)
	}
	r, flags := c.sseArith(c.dec.opcode, c.XMM[c.modReg()][0], b)
	c.sseCommit(flags)
	c.XMM[c.modReg()][0] = r
}

// readSS returns the low single of an XMM register or a 32-bit memory
// operand.
func (c *CPU_X86) readSS() uint32 {
	if c.dec.rmIsReg {
		return c.XMM[c.modRM()][0]
	}
	return c.readEA(w32, 0)
}

func (c *CPU_X86) opSQRTPS() {
	c.sseGuard()
	b := c.readX(true)
	var dst xmmReg
	var flags uint32
	for i := range b {
		var f uint32
		dst[i], f = sqrtSingle(b[i])
		flags |= f
	}
	c.sseCommit(flags)
	c.XMM[c.modReg()] = dst
}

func (c *CPU_X86) opSQRTSS() {
	c.sseGuard()
	r, flags := sqrtSingle(c.readSS())
	c.sseCommit(flags)
	c.XMM[c.modReg()][0] = r
}

func sqrtSingle(v uint32) (uint32, uint32) {
	var flags uint32
	if f32IsDenormal(v) {
		flags |= mxcsrDE
	}
	if f32IsNaN(v) {
		if f32IsSNaN(v) {
			flags |= mxcsrIE
		}
		return v | f32QNaNBit, flags
	}
	x := float64(math.Float32frombits(v))
	if x < 0 {
		return f32DefaultNaN, flags | mxcsrIE
	}
	r := math.Sqrt(x)
	res := float32(r)
	if float64(res) != r {
		flags |= mxcsrPE
	}
	return math.Float32bits(res), flags
}

// -----------------------------------------------------------------------------
// SSE compares
// -----------------------------------------------------------------------------

// ssePredicate evaluates a CMPPS/CMPSS predicate (imm8 0-7) on one lane.
// LT, LE, NLT and NLE signal on any NaN; the rest only on an SNaN.
func ssePredicate(pred byte, a, b uint32) (bool, uint32) {
	var flags uint32
	if f32IsDenormal(a) || f32IsDenormal(b) {
		flags |= mxcsrDE
	}
	unordered := f32IsNaN(a) || f32IsNaN(b)
	switch {
	case f32IsSNaN(a) || f32IsSNaN(b):
		flags |= mxcsrIE
	case unordered && pred&3 != 0 && pred&3 != 3:
		flags |= mxcsrIE
	}
	x, y := math.Float32frombits(a), math.Float32frombits(b)
	var r bool
	switch pred & 3 {
	case 0:
		r = !unordered && x == y
	case 1:
		r = !unordered && x < y
	case 2:
		r = !unordered && x <= y
	case 3:
		r = unordered
	}
	if pred&4 != 0 {
		r = !r
	}
	return r, flags
}

func laneMask(b bool) uint32 {
	if b {
		return 0xFFFFFFFF
	}
	return 0
}

func (c *CPU_X86) opCMPPS() {
	c.sseGuard()
	b := c.readX(true)
	pred := c.fetch8() & 7
	dst := c.XMM[c.modReg()]
	var flags uint32
	for i := range dst {
		r, f := ssePredicate(pred, dst[i], b[i])
		dst[i] = laneMask(r)
		flags |= f
	}
	c.sseCommit(flags)
	c.XMM[c.modReg()] = dst
}

func (c *CPU_X86) opCMPSS() {
	c.sseGuard()
	b := c.readSS()
	pred := c.fetch8() & 7
	r, flags := ssePredicate(pred, c.XMM[c.modReg()][0], b)
	c.sseCommit(flags)
	c.XMM[c.modReg()][0] = laneMask(r)
}

// comiss sets ZF, PF and CF from an ordered (COMISS) or unordered
// (UCOMISS) compare and clears OF, SF and AF.
func (c *CPU_X86) comiss(signalQNaN bool) {
	c.sseGuard()
	a, b := c.XMM[c.modReg()][0], c.readSS()
	var flags uint32
	if f32IsDenormal(a) || f32IsDenormal(b) {
		flags |= mxcsrDE
	}
	unordered := f32IsNaN(a) || f32IsNaN(b)
	if f32IsSNaN(a) || f32IsSNaN(b) || unordered && signalQNaN {
		flags |= mxcsrIE
	}
	c.sseCommit(flags)

	x, y := math.Float32frombits(a), math.Float32frombits(b)
	c.materializeAll()
	c.Flags &^= arithFlagsMask
	switch {
	case unordered:
		c.Flags |= x86FlagZF | x86FlagPF | x86FlagCF
	case x < y:
		c.Flags |= x86FlagCF
	case x == y:
		c.Flags |= x86FlagZF
	}
}

func (c *CPU_X86) opUCOMISS() { c.comiss(false) }
func (c *CPU_X86) opCOMISS()  { c.comiss(true) }

// -----------------------------------------------------------------------------
// SSE shuffles
// -----------------------------------------------------------------------------

func (c *CPU_X86) opSHUFPS() {
	c.sseGuard()
	b := c.readX(true)
	sel := c.fetch8()
	a := c.XMM[c.modReg()]
	c.XMM[c.modReg()] = xmmReg{a[sel&3], a[sel>>2&3], b[sel>>4&3], b[sel>>6&3]}
}

// opUNPCKPS interleaves the low (0F 14) or high (0F 15) singles.
func (c *CPU_X86) opUNPCKPS() {
	c.sseGuard()
	b := c.readX(true)
	a := c.XMM[c.modReg()]
	if c.dec.opcode == 0x14 {
		c.XMM[c.modReg()] = xmmReg{a[0], b[0], a[1], b[1]}
		return
	}
	c.XMM[c.modReg()] = xmmReg{a[2], b[2], a[3], b[3]}
}

func (c *CPU_X86) opMOVMSKPS() {
	c.sseGuard()
	if !c.dec.rmIsReg {
		c.raise(excUD)
	}
	var mask uint32
	for i, v := range c.XMM[c.modRM()] {
		mask |= v >> 31 << i
	}
	c.setReg32(c.modReg(), mask)
}

// -----------------------------------------------------------------------------
// SSE conversions
// -----------------------------------------------------------------------------

const (
	mxcsrRCShift = 13
	rcNearest    = 0
	rcDown       = 1
	rcUp         = 2
	rcTruncate   = 3

	intIndefinite = 0x80000000
)

func roundRC(x float64, rc uint32) float64 {
	switch rc {
	case rcDown:
		return math.Floor(x)
	case rcUp:
		return math.Ceil(x)
	case rcTruncate:
		return math.Trunc(x)
	}
	return math.RoundToEven(x)
}

// CVTSI2SS: an int32 is exact in a float64, so only the narrowing to
// single precision rounds.
func (c *CPU_X86) opCVTSI2SS() {
	c.sseGuard()
	x := float64(int32(c.readRM(w32)))
	res := float32(x)
	switch rc := c.MXCSR >> mxcsrRCShift & 3; {
	case rc == rcDown && float64(res) > x, rc == rcTruncate && x > 0 && float64(res) > x:
		res = math.Nextafter32(res, float32(math.Inf(-1)))
	case rc == rcUp && float64(res) < x, rc == rcTruncate && x < 0 && float64(res) < x:
		res = math.Nextafter32(res, float32(math.Inf(1)))
	}
	var flags uint32
	if float64(res) != x {
		flags |= mxcsrPE
	}
	c.sseCommit(flags)
	c.XMM[c.modReg()][0] = math.Float32bits(res)
}

// cvtss2si converts the low single to int32. NaN and out of range values
// give the integer indefinite with IE.
func (c *CPU_X86) cvtss2si(truncate bool) {
	c.sseGuard()
	v := c.readSS()
	var flags uint32
	if f32IsDenormal(v) {
		flags |= mxcsrDE
	}
	rc := c.MXCSR >> mxcsrRCShift & 3
	if truncate {
		rc = rcTruncate
	}
	x := float64(math.Float32frombits(v))
	r := roundRC(x, rc)
	res := uint32(intIndefinite)
	switch {
	case f32IsNaN(v) || r < math.MinInt32 || r > math.MaxInt32:
		flags |= mxcsrIE
	default:
		res = uint32(int32(r))
		if r != x {
			flags |= mxcsrPE
		}
	}
	c.sseCommit(flags)
	c.setReg32(c.modReg(), res)
}

func (c *CPU_X86) opCVTTSS2SI() { c.cvtss2si(true) }
func (c *CPU_X86) opCVTSS2SI()  { c.cvtss2si(false) }

// -----------------------------------------------------------------------------
// Group 15 (FXSAVE, FXRSTOR, LDMXCSR, STMXCSR, SFENCE)
// -----------------------------------------------------------------------------

func (c *CPU_X86) opGrp15() {
	reg := c.modReg()
	if c.dec.rmIsReg {
		if reg == 7 && c.Arch >= ArchPentiumIII {
			return // SFENCE
		}
		c.raise(excUD)
	}
	switch reg {
	case 0:
		c.fxGuard()
		c.fxsave()
	case 1:
		c.fxGuard()
		c.fxrstor()
	case 2, 3:
		if c.Arch < ArchPentiumIII {
			c.raise(excUD)
		}
		c.sseGuard()
		if reg == 3 {
			c.writeRM(w32, c.MXCSR)
			return
		}
		v := c.readRM(w32)
		if v&^mxcsrMaskP3 != 0 {
			c.raiseGP(0)
		}
		c.MXCSR = v
	default:
		c.raise(excUD)
	}
}

func (c *CPU_X86) fxGuard() {
	if c.CR0&(cr0EM|cr0TS) != 0 {
		c.raise(excNM)
	}
	c.alignedEA()
}

// fxState reports whether the XMM half of the 512-byte image is in use.
func (c *CPU_X86) fxState() bool {
	return c.Arch >= ArchPentiumIII && c.CR4&cr4OSFXSR != 0
}

func (c *CPU_X86) fxsave() {
	f := c.FPU
	bus := c.x87Bus()
	a := c.eaLinear(0)
	writeLE(bus, a, 2, uint64(f.FCW))
	writeLE(bus, a+2, 2, uint64(f.FSW))
	writeLE(bus, a+4, 2, uint64(f.abridgedTag()))
	writeLE(bus, a+6, 2, uint64(f.FOP&0x7FF))
	writeLE(bus, a+8, 4, uint64(f.FIP))
	writeLE(bus, a+12, 4, uint64(f.FCS))
	writeLE(bus, a+16, 4, uint64(f.FDP))
	writeLE(bus, a+20, 4, uint64(f.FDS))
	if c.Arch >= ArchPentiumIII {
		writeLE(bus, a+24, 4, uint64(c.MXCSR))
		writeLE(bus, a+28, 4, mxcsrMaskP3)
	}
	for i := range 8 {
		slot := a + 32 + uint32(i*16)
		storeExtendedImage(bus, slot, f.extended(f.physReg(i)))
		writeLE(bus, slot+10, 6, 0)
	}
	if !c.fxState() {
		return
	}
	for i, x := range c.XMM {
		for j, v := range x {
			writeLE(bus, a+160+uint32(i*16+j*4), 4, uint64(v))
		}
	}
}

func (c *CPU_X86) fxrstor() {
	f := c.FPU
	bus := c.x87Bus()
	a := c.eaLinear(0)
	var mxcsr uint32
	if c.Arch >= ArchPentiumIII {
		mxcsr = uint32(readLE(bus, a+24, 4))
		if mxcsr&^mxcsrMaskP3 != 0 {
			c.raiseGP(0)
		}
	}
	f.setFCW(uint16(readLE(bus, a, 2)))
	f.FSW = uint16(readLE(bus, a+2, 2))
	tag := byte(readLE(bus, a+4, 1))
	f.FOP = uint16(readLE(bus, a+6, 2)) & 0x7FF
	f.FIP = uint32(readLE(bus, a+8, 4))
	f.FCS = uint16(readLE(bus, a+12, 2))
	f.FDP = uint32(readLE(bus, a+16, 4))
	f.FDS = uint16(readLE(bus, a+20, 2))
	for i := range 8 {
		f.setExtended(f.physReg(i), loadExtendedImage(bus, a+32+uint32(i*16)))
	}
	f.setAbridgedTag(tag)
	if c.Arch >= ArchPentiumIII {
		c.MXCSR = mxcsr
	}
	if !c.fxState() {
		return
	}
	for i := range c.XMM {
		for j := range c.XMM[i] {
			c.XMM[i][j] = uint32(readLE(bus, a+160+uint32(i*16+j*4), 4))
		}
	}
}
