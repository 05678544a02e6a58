// cpu_x86_flags.go - Lazy condition code evaluation
//
// Arithmetic and logic instructions do not compute EFLAGS. They record the
// operation kind and its operands, and each flag is derived on demand from
// that snapshot. Instructions that need the whole word (PUSHF, interrupts,
// rotates) materialize it first.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

// opWidth selects the 8, 16 or 32 bit interpretation of an operand.
type opWidth uint8

const (
	w8 opWidth = iota
	w16
	w32
)

var widthMask = [3]uint32{0xFF, 0xFFFF, 0xFFFFFFFF}
var widthSign = [3]uint32{0x80, 0x8000, 0x80000000}
var widthBits = [3]uint32{8, 16, 32}
var widthBytes = [3]uint32{1, 2, 4}

func (w opWidth) mask() uint32 { return widthMask[w] }
func (w opWidth) sign() uint32 { return widthSign[w] }
func (w opWidth) bits() uint32 { return widthBits[w] }

// signExtend widens v from width w to a signed 32-bit value.
func (w opWidth) signExtend(v uint32) int32 {
	switch w {
	case w8:
		return int32(int8(v))
	case w16:
		return int32(int16(v))
	}
	return int32(v)
}

// flagFamily is the operation kind that produced the pending flags.
type flagFamily uint8

const (
	famUnknown flagFamily = iota
	famADD
	famADC
	famSUB
	famSBB
	famCMP
	famAND
	famOR
	famXOR
	famTEST
	famINC
	famDEC
	famNEG
	famSHL
	famSHR
	famSAR
	famDSHL
	famDSHR
	famCount
)

var familyNames = [famCount]string{
	"UNKNOWN", "ADD", "ADC", "SUB", "SBB", "CMP", "AND", "OR", "XOR",
	"TEST", "INC", "DEC", "NEG", "SHL", "SHR", "SAR", "DSHL", "DSHR",
}

// lazyOp packs a family and an operand width into one tag.
type lazyOp uint8

const lfUnknown lazyOp = 0

func makeLazyOp(f flagFamily, w opWidth) lazyOp { return lazyOp(f)<<2 | lazyOp(w) }
func (t lazyOp) family() flagFamily            { return flagFamily(t >> 2) }
func (t lazyOp) width() opWidth                { return opWidth(t & 3) }

func (t lazyOp) String() string {
	if t == lfUnknown {
		return "UNKNOWN"
	}
	f := t.family()
	if f >= famCount {
		return "INVALID"
	}
	return familyNames[f] + [3]string{"b", "w", "d"}[t.width()&3]
}

// LazyFlags is the deferred flag snapshot. Var1, Var2 and Res hold operands
// already masked to the tag's width. For the 16-bit double shifts Var1 is
// the 32-bit concatenation of destination and source in shift order.
type LazyFlags struct {
	Type  lazyOp
	Var1  uint32
	Var2  uint32
	Res   uint32
	OldCF bool
}

const arithFlagsMask = x86FlagCF | x86FlagPF | x86FlagAF | x86FlagZF | x86FlagSF | x86FlagOF

var parityTable = func() (t [256]bool) {
	for i := range t {
		bits := 0
		for v := i; v != 0; v >>= 1 {
			bits += v & 1
		}
		t[i] = bits%2 == 0
	}
	return
}()

// parity reports PF for a result. Only the low byte counts, whatever the
// operand width.
func parity(v uint32) bool {
	return parityTable[byte(v)]
}

// setLazy records an operation for later flag evaluation.
func (c *CPU_X86) setLazy(f flagFamily, w opWidth, var1, var2, res uint32) {
	m := w.mask()
	c.lf.Type = makeLazyOp(f, w)
	c.lf.Var1 = var1 & m
	c.lf.Var2 = var2 & m
	c.lf.Res = res & m
}

// setLazyDouble records SHLD/SHRD. For the word forms var1 carries both
// operands concatenated in shift order.
func (c *CPU_X86) setLazyDouble(f flagFamily, w opWidth, var1, count, res uint32) {
	c.lf.Type = makeLazyOp(f, w)
	c.lf.Var1 = var1
	c.lf.Var2 = count
	c.lf.Res = res & w.mask()
}

func (c *CPU_X86) storedFlag(bit uint32) bool {
	return c.Flags&bit != 0
}

func (c *CPU_X86) getCF() bool {
	lf := &c.lf
	w := lf.Type.width()
	switch lf.Type.family() {
	case famADD:
		return lf.Res < lf.Var1
	case famADC:
		return lf.Res < lf.Var1 || (lf.OldCF && lf.Res == lf.Var1)
	case famSUB, famCMP:
		return lf.Var1 < lf.Var2
	case famSBB:
		return lf.Var1 < lf.Res || (lf.OldCF && lf.Var2 == w.mask())
	case famAND, famOR, famXOR, famTEST:
		return false
	case famNEG:
		return lf.Var1 != 0
	case famSHL:
		// Unsigned underflow of the shift amount yields 0 for counts past the width.
		return (lf.Var1>>(w.bits()-lf.Var2))&1 != 0
	case famSHR:
		return (lf.Var1>>(lf.Var2-1))&1 != 0
	case famSAR:
		return (w.signExtend(lf.Var1)>>(lf.Var2-1))&1 != 0
	case famDSHL:
		return (lf.Var1>>(32-lf.Var2))&1 != 0
	case famDSHR:
		return (lf.Var1>>(lf.Var2-1))&1 != 0
	}
	return c.storedFlag(x86FlagCF)
}

func (c *CPU_X86) getAF() bool {
	lf := &c.lf
	switch lf.Type.family() {
	case famADD, famADC, famSUB, famSBB, famCMP:
		return ((lf.Var1^lf.Var2)^lf.Res)&0x10 != 0
	case famINC:
		return lf.Res&0x0F == 0
	case famDEC:
		return lf.Res&0x0F == 0x0F
	case famNEG:
		return lf.Var1&0x0F != 0
	case famSHL, famSHR, famSAR:
		return lf.Var2&0x1F != 0
	case famAND, famOR, famXOR, famTEST, famDSHL, famDSHR:
		return false
	}
	return c.storedFlag(x86FlagAF)
}

func (c *CPU_X86) getZF() bool {
	if c.lf.Type == lfUnknown {
		return c.storedFlag(x86FlagZF)
	}
	return c.lf.Res == 0
}

func (c *CPU_X86) getSF() bool {
	if c.lf.Type == lfUnknown {
		return c.storedFlag(x86FlagSF)
	}
	return c.lf.Res&c.lf.Type.width().sign() != 0
}

func (c *CPU_X86) getPF() bool {
	if c.lf.Type == lfUnknown {
		return c.storedFlag(x86FlagPF)
	}
	return parity(c.lf.Res)
}

func (c *CPU_X86) getOF() bool {
	lf := &c.lf
	w := lf.Type.width()
	sign := w.sign()
	switch lf.Type.family() {
	case famADD, famADC:
		return ((lf.Var1^lf.Var2^sign)&(lf.Res^lf.Var1))&sign != 0
	case famSUB, famSBB, famCMP:
		return ((lf.Var1^lf.Var2)&(lf.Var1^lf.Res))&sign != 0
	case famINC:
		return lf.Res == sign
	case famDEC:
		return lf.Res == sign-1
	case famNEG:
		return lf.Var1 == sign
	case famAND, famOR, famXOR, famTEST, famSAR:
		return false
	case famSHL:
		return (lf.Res&sign != 0) != c.getCF()
	case famSHR:
		return lf.Var2 == 1 && lf.Var1 >= sign
	case famDSHL:
		if w == w16 {
			return (lf.Res^(lf.Var1>>16))&0x8000 != 0
		}
		return (lf.Res^lf.Var1)&sign != 0
	case famDSHR:
		return (lf.Res^lf.Var1)&sign != 0
	}
	return c.storedFlag(x86FlagOF)
}

// materializeAll folds the pending operation into c.Flags and clears the tag.
func (c *CPU_X86) materializeAll() {
	if c.lf.Type == lfUnknown {
		return
	}
	f := c.Flags &^ arithFlagsMask
	if c.getCF() {
		f |= x86FlagCF
	}
	if c.getPF() {
		f |= x86FlagPF
	}
	if c.getAF() {
		f |= x86FlagAF
	}
	if c.getZF() {
		f |= x86FlagZF
	}
	if c.getSF() {
		f |= x86FlagSF
	}
	if c.getOF() {
		f |= x86FlagOF
	}
	c.Flags = f
	c.lf.Type = lfUnknown
}

// materializeExceptCarryOverflow folds PF, AF, ZF and SF and leaves the stored
// CF and OF untouched. Rotates and multiplies follow it with explicit CF/OF
// writes.
func (c *CPU_X86) materializeExceptCarryOverflow() {
	if c.lf.Type == lfUnknown {
		return
	}
	const m = x86FlagPF | x86FlagAF | x86FlagZF | x86FlagSF
	f := c.Flags &^ m
	if c.getPF() {
		f |= x86FlagPF
	}
	if c.getAF() {
		f |= x86FlagAF
	}
	if c.getZF() {
		f |= x86FlagZF
	}
	if c.getSF() {
		f |= x86FlagSF
	}
	c.Flags = f
	c.lf.Type = lfUnknown
}

// loadCF writes the current carry into the stored word. INC and DEC keep the
// previous carry, so it has to survive their tag replacing the old one.
func (c *CPU_X86) loadCF() {
	c.setFlag(x86FlagCF, c.getCF())
}

// setFlagsSZP sets the result-derived flags for an already materialized word.
func (c *CPU_X86) setFlagsSZP(w opWidth, res uint32) {
	res &= w.mask()
	c.setFlag(x86FlagZF, res == 0)
	c.setFlag(x86FlagSF, res&w.sign() != 0)
	c.setFlag(x86FlagPF, parity(res))
}

// flagsWord returns EFLAGS with every arithmetic flag evaluated.
func (c *CPU_X86) flagsWord() uint32 {
	c.materializeAll()
	return c.Flags
}

// Architecture-dependent EFLAGS bits. Bit 1 always reads as one.
const x86FlagsReserved = 1 << 1

func (c *CPU_X86) writableFlagsMask() uint32 {
	m := uint32(arithFlagsMask | x86FlagTF | x86FlagIF | x86FlagDF)
	switch {
	case c.Arch < Arch286:
	case c.Arch == Arch286:
		m |= x86FlagIOPL | x86FlagNT
	case c.Arch < Arch486Old:
		m |= x86FlagIOPL | x86FlagNT | x86FlagRF
	case c.Arch < ArchPentium:
		m |= x86FlagIOPL | x86FlagNT | x86FlagRF | x86FlagAC
		if c.Arch == Arch486New {
			m |= x86FlagID
		}
	default:
		m |= x86FlagIOPL | x86FlagNT | x86FlagRF | x86FlagAC | x86FlagID
	}
	return m
}

// setFlagsWord loads v into the bits selected by mask, further limited to
// what the architecture and the current privilege allow. POPF, IRET and
// SAHF use it.
func (c *CPU_X86) setFlagsWord(v, mask uint32) {
	c.materializeAll()
	mask &= c.writableFlagsMask()
	if c.protectedMode() {
		if c.CPL > 0 {
			mask &^= x86FlagIOPL
		}
		if uint32(c.CPL) > c.iopl() {
			mask &^= x86FlagIF
		}
	}
	f := (c.Flags &^ mask) | (v & mask)
	c.Flags = c.fixedFlagBits(f)
}

// fixedFlagBits applies the bits each generation hard-wires. The 8086 and
// 186 read bits 12-15 as ones. The 286 clears them in real mode.
func (c *CPU_X86) fixedFlagBits(f uint32) uint32 {
	f |= x86FlagsReserved
	f &^= 1<<3 | 1<<5 | 1<<15
	switch {
	case c.Arch < Arch286:
		f |= 0xF000
	case c.Arch == Arch286 && !c.protectedMode():
		f &^= 0xF000
	}
	return f
}

func (c *CPU_X86) iopl() uint32 {
	return (c.Flags & x86FlagIOPL) >> 12
}

// -----------------------------------------------------------------------------
// Condition evaluation
// -----------------------------------------------------------------------------

// condition evaluates the low four bits of a Jcc/SETcc/CMOVcc opcode.
func (c *CPU_X86) condition(cc byte) bool {
	var r bool
	switch cc >> 1 & 7 {
	case 0:
		r = c.getOF()
	case 1:
		r = c.getCF()
	case 2:
		r = c.getZF()
	case 3:
		r = c.getCF() || c.getZF()
	case 4:
		r = c.getSF()
	case 5:
		r = c.getPF()
	case 6:
		r = c.getSF() != c.getOF()
	case 7:
		r = c.getZF() || c.getSF() != c.getOF()
	}
	if cc&1 != 0 {
		return !r
	}
	return r
}
