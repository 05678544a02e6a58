package main

import (
	"math"
)

var x87SmallestNormal = math.Float64frombits(0x0010000000000000)

const (
	x87TagValid   = uint16(0)
	x87TagZero    = uint16(1)
	x87TagSpecial = uint16(2)
	x87TagEmpty   = uint16(3)
)

const (
	x87FSW_IE       = uint16(1 << 0)
	x87FSW_DE       = uint16(1 << 1)
	x87FSW_ZE       = uint16(1 << 2)
	x87FSW_OE       = uint16(1 << 3)
	x87FSW_UE       = uint16(1 << 4)
	x87FSW_PE       = uint16(1 << 5)
	x87FSW_SF       = uint16(1 << 6)
	x87FSW_ES       = uint16(1 << 7)
	x87FSW_C0       = uint16(1 << 8)
	x87FSW_C1       = uint16(1 << 9)
	x87FSW_C2       = uint16(1 << 10)
	x87FSW_TOPMask  = uint16(7 << 11)
	x87FSW_TOPShift = 11
	x87FSW_C3       = uint16(1 << 14)
	x87FSW_B        = uint16(1 << 15)
)

const (
	x87FCW_PCShift = 8
	x87FCW_RCShift = 10
	x87FCW_RCMask  = uint16(3 << x87FCW_RCShift)
)

const (
	x87FCW_RCNearest = uint16(0)
	x87FCW_RCDown    = uint16(1)
	x87FCW_RCUp      = uint16(2)
	x87FCW_RCChop    = uint16(3)
)

// Control word bits the hardware keeps. The 8087 still has the interrupt
// enable mask in bit 7; bit 6 always reads as one.
const (
	x87FCWMask8087 = uint16(0x1FBF)
	x87FCWMask287  = uint16(0x1F3F)
	x87FCWFixed    = uint16(0x0040)
	x87FCWDefault  = uint16(0x037F)
)

const (
	x87IndefInt16 = int16(-32768)
	x87IndefInt32 = int32(-2147483648)
	x87IndefInt64 = int64(-9223372036854775808)
)

// 80-bit extended real layout.
const (
	extExpBias uint16 = 16383
	extExpMax  uint16 = 0x7FFF
	extMantMSB uint64 = 1 << 63
)

// ExtendedReal is the memory image of an 80-bit x87 register.
type ExtendedReal struct {
	Sign uint8
	Exp  uint16
	Mant uint64
}

// ExtendedRealFromFloat64 widens f exactly; every float64 is representable.
func ExtendedRealFromFloat64(f float64) ExtendedReal {
	bits := math.Float64bits(f)
	sign := uint8(bits >> 63)
	exp := int((bits >> 52) & 0x7FF)
	mant := bits & 0x000FFFFFFFFFFFFF

	switch {
	case exp == 0x7FF && mant != 0:
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB | 1<<62 | mant<<11}
	case exp == 0x7FF:
		return ExtendedReal{Sign: sign, Exp: extExpMax, Mant: extMantMSB}
	case exp == 0 && mant == 0:
		return ExtendedReal{Sign: sign}
	case exp == 0:
		shift := 0
		for mant&(1<<51) == 0 {
			mant <<= 1
			shift++
		}
		return ExtendedReal{Sign: sign, Exp: uint16(15360 - shift), Mant: mant << 12}
	}
	return ExtendedReal{Sign: sign, Exp: uint16(exp + 15360), Mant: (mant | 1<<52) << 11}
}

// ToFloat64 rounds to the nearest float64. Values outside its range become
// infinities or zeros.
func (e ExtendedReal) ToFloat64() float64 {
	var v float64
	switch {
	case e.Exp == extExpMax && e.Mant<<1 != 0:
		v = math.NaN()
	case e.Exp == extExpMax:
		v = math.Inf(1)
	case e.Mant == 0:
		v = 0
	default:
		exp := int(e.Exp) - int(extExpBias) - 63
		if e.Exp == 0 {
			exp++
		}
		v = math.Ldexp(float64(e.Mant), exp)
	}
	if e.Sign != 0 {
		return math.Copysign(v, -1)
	}
	return v
}

type FPU_X87 struct {
	regs [8]float64

	// Exact 80-bit images. A slot written by an MMX instruction or loaded
	// from memory as an 80-bit value keeps its image (and so its MMX
	// payload) until an x87 write replaces it.
	img      [8]ExtendedReal
	imgValid [8]bool

	FCW uint16
	FSW uint16
	FTW uint16

	FIP uint32
	FCS uint16
	FDP uint32
	FDS uint16
	FOP uint16

	arch ArchLevel
}

// x87Bus moves operand bytes between the FPU and linear memory.
type x87Bus interface {
	Read(addr uint32) byte
	Write(addr uint32, value byte)
}

func NewFPU_X87() *FPU_X87 {
	f := &FPU_X87{}
	f.Reset()
	return f
}

func (f *FPU_X87) Reset() {
	for i := range f.regs {
		f.regs[i] = 0
		f.img[i] = ExtendedReal{}
		f.imgValid[i] = false
	}
	f.FCW = x87FCWDefault
	f.FSW = 0
	f.FTW = 0xFFFF
	f.FIP = 0
	f.FCS = 0
	f.FDP = 0
	f.FDS = 0
	f.FOP = 0
}

// setFCW stores a control word with the bits this generation implements.
func (f *FPU_X87) setFCW(v uint16) {
	if f.arch < Arch286 {
		v &= x87FCWMask8087
	} else {
		v &= x87FCWMask287
	}
	f.FCW = v | x87FCWFixed
}

func (f *FPU_X87) top() int {
	return int((f.FSW & x87FSW_TOPMask) >> x87FSW_TOPShift)
}

func (f *FPU_X87) setTop(top int) {
	f.FSW = (f.FSW &^ x87FSW_TOPMask) | (uint16(top&7) << x87FSW_TOPShift)
}

func (f *FPU_X87) physReg(stIdx int) int {
	return (f.top() + stIdx) & 7
}

func (f *FPU_X87) ST(i int) float64 {
	return f.regs[f.physReg(i)]
}

func (f *FPU_X87) setST(i int, v float64) {
	f.setPhys(f.physReg(i), v)
}

func (f *FPU_X87) setPhys(phys int, v float64) {
	f.regs[phys] = v
	f.imgValid[phys] = false
	f.setTag(phys, f.classifyTag(v))
}

func (f *FPU_X87) getTag(phys int) uint16 {
	shift := uint((phys & 7) * 2)
	return (f.FTW >> shift) & 0x3
}

func (f *FPU_X87) setTag(phys int, tag uint16) {
	shift := uint((phys & 7) * 2)
	f.FTW &^= 0x3 << shift
	f.FTW |= (tag & 0x3) << shift
}

func (f *FPU_X87) classifyTag(v float64) uint16 {
	if v == 0 {
		return x87TagZero
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return x87TagSpecial
	}
	if math.Abs(v) < x87SmallestNormal {
		return x87TagSpecial
	}
	return x87TagValid
}

func (f *FPU_X87) setException(mask uint16) {
	f.FSW |= mask
	if (f.FCW & mask) == 0 {
		f.FSW |= x87FSW_ES | x87FSW_B
	}
}

func (f *FPU_X87) clearCond() {
	f.FSW &^= x87FSW_C0 | x87FSW_C1 | x87FSW_C2 | x87FSW_C3
}

func (f *FPU_X87) checkStackOverflow() bool {
	nextTop := (f.top() - 1) & 7
	if f.getTag(nextTop) != x87TagEmpty {
		f.setException(x87FSW_IE | x87FSW_SF)
		f.FSW |= x87FSW_C1
		return true
	}
	return false
}

func (f *FPU_X87) checkStackUnderflow(i int) bool {
	if f.getTag(f.physReg(i)) == x87TagEmpty {
		f.setException(x87FSW_IE | x87FSW_SF)
		f.FSW &^= x87FSW_C1
		return true
	}
	return false
}

func (f *FPU_X87) push(v float64) {
	if f.checkStackOverflow() {
		return
	}
	nextTop := (f.top() - 1) & 7
	f.setTop(nextTop)
	f.setPhys(nextTop, v)
}

func (f *FPU_X87) pop() float64 {
	if f.checkStackUnderflow(0) {
		return math.NaN()
	}
	top := f.top()
	v := f.regs[top]
	f.setTag(top, x87TagEmpty)
	f.setTop((top + 1) & 7)
	return v
}

// -----------------------------------------------------------------------------
// MMX aliasing
// -----------------------------------------------------------------------------

// enterMMX is the state change every MMX instruction makes: TOP = 0 and all
// tags valid.
func (f *FPU_X87) enterMMX() {
	f.setTop(0)
	f.FTW = 0
}

// emms empties every tag. TOP is left alone.
func (f *FPU_X87) emms() {
	f.FTW = 0xFFFF
}

func (f *FPU_X87) readMMX(i int) uint64 {
	i &= 7
	if f.imgValid[i] {
		return f.img[i].Mant
	}
	return ExtendedRealFromFloat64(f.regs[i]).Mant
}

// writeMMX stores a 64-bit payload. The x87 view sees exponent 0xFFFF with
// that mantissa, which is a NaN.
func (f *FPU_X87) writeMMX(i int, v uint64) {
	i &= 7
	e := ExtendedReal{Sign: 1, Exp: extExpMax, Mant: v}
	f.img[i] = e
	f.imgValid[i] = true
	f.regs[i] = e.ToFloat64()
}

// extended returns the 80-bit image of a physical register.
func (f *FPU_X87) extended(phys int) ExtendedReal {
	if f.imgValid[phys] {
		return f.img[phys]
	}
	return ExtendedRealFromFloat64(f.regs[phys])
}

// setExtended loads a physical register from an 80-bit image and keeps the
// image. The tag is left to the caller.
func (f *FPU_X87) setExtended(phys int, e ExtendedReal) {
	f.regs[phys] = e.ToFloat64()
	f.img[phys] = e
	f.imgValid[phys] = true
}

// -----------------------------------------------------------------------------
// Conversions
// -----------------------------------------------------------------------------

func (f *FPU_X87) roundPerFCW(v float64) float64 {
	switch (f.FCW >> x87FCW_RCShift) & 0x3 {
	case x87FCW_RCDown:
		return math.Floor(v)
	case x87FCW_RCUp:
		return math.Ceil(v)
	case x87FCW_RCChop:
		return math.Trunc(v)
	default:
		return math.RoundToEven(v)
	}
}

func (f *FPU_X87) intFromFloat(v float64, bits int) int64 {
	r := f.roundPerFCW(v)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		f.setException(x87FSW_IE)
		switch bits {
		case 16:
			return int64(x87IndefInt16)
		case 32:
			return int64(x87IndefInt32)
		default:
			return x87IndefInt64
		}
	}
	if r != v {
		f.setException(x87FSW_PE)
	}
	switch bits {
	case 16:
		if r < math.MinInt16 || r > math.MaxInt16 {
			f.setException(x87FSW_IE)
			return int64(x87IndefInt16)
		}
	case 32:
		if r < math.MinInt32 || r > math.MaxInt32 {
			f.setException(x87FSW_IE)
			return int64(x87IndefInt32)
		}
	case 64:
		if r < math.MinInt64 || r >= math.MaxInt64 {
			f.setException(x87FSW_IE)
			return x87IndefInt64
		}
	}
	return int64(r)
}

func readLE(bus x87Bus, addr uint32, n int) uint64 {
	var v uint64
	for i := 0; i < n; i++ {
		v |= uint64(bus.Read(addr+uint32(i))) << (8 * i)
	}
	return v
}

func writeLE(bus x87Bus, addr uint32, n int, v uint64) {
	for i := 0; i < n; i++ {
		bus.Write(addr+uint32(i), byte(v>>(8*i)))
	}
}

func (f *FPU_X87) loadFloat32(bus x87Bus, addr uint32) float64 {
	return float64(math.Float32frombits(uint32(readLE(bus, addr, 4))))
}

func (f *FPU_X87) storeFloat32(bus x87Bus, addr uint32, v float64) {
	f32 := float32(v)
	if float64(f32) != v && !math.IsNaN(v) {
		f.setException(x87FSW_PE)
	}
	writeLE(bus, addr, 4, uint64(math.Float32bits(f32)))
}

func (f *FPU_X87) loadFloat64(bus x87Bus, addr uint32) float64 {
	return math.Float64frombits(readLE(bus, addr, 8))
}

func (f *FPU_X87) storeFloat64(bus x87Bus, addr uint32, v float64) {
	writeLE(bus, addr, 8, math.Float64bits(v))
}

func loadExtendedImage(bus x87Bus, addr uint32) ExtendedReal {
	mant := readLE(bus, addr, 8)
	se := uint16(readLE(bus, addr+8, 2))
	return ExtendedReal{Sign: uint8(se >> 15), Exp: se & 0x7FFF, Mant: mant}
}

func storeExtendedImage(bus x87Bus, addr uint32, e ExtendedReal) {
	writeLE(bus, addr, 8, e.Mant)
	writeLE(bus, addr+8, 2, uint64(uint16(e.Sign&1)<<15|e.Exp&0x7FFF))
}

func (f *FPU_X87) loadExtended80(bus x87Bus, addr uint32) float64 {
	return loadExtendedImage(bus, addr).ToFloat64()
}

func (f *FPU_X87) storeExtended80(bus x87Bus, addr uint32, v float64) {
	storeExtendedImage(bus, addr, ExtendedRealFromFloat64(v))
}

func (f *FPU_X87) loadInt16(bus x87Bus, addr uint32) float64 {
	return float64(int16(readLE(bus, addr, 2)))
}

func (f *FPU_X87) storeInt16(bus x87Bus, addr uint32, v float64) {
	writeLE(bus, addr, 2, uint64(f.intFromFloat(v, 16)))
}

func (f *FPU_X87) loadInt32(bus x87Bus, addr uint32) float64 {
	return float64(int32(readLE(bus, addr, 4)))
}

func (f *FPU_X87) storeInt32(bus x87Bus, addr uint32, v float64) {
	writeLE(bus, addr, 4, uint64(f.intFromFloat(v, 32)))
}

func (f *FPU_X87) loadInt64(bus x87Bus, addr uint32) float64 {
	return float64(int64(readLE(bus, addr, 8)))
}

func (f *FPU_X87) storeInt64(bus x87Bus, addr uint32, v float64) {
	writeLE(bus, addr, 8, uint64(f.intFromFloat(v, 64)))
}

func (f *FPU_X87) loadBCD(bus x87Bus, addr uint32) float64 {
	var val int64
	mul := int64(1)
	for i := range 9 {
		b := bus.Read(addr + uint32(i))
		val += int64(b&0x0F) * mul
		mul *= 10
		val += int64(b>>4) * mul
		mul *= 10
	}
	if bus.Read(addr+9)&0x80 != 0 {
		return -float64(val)
	}
	return float64(val)
}

func (f *FPU_X87) storeBCD(bus x87Bus, addr uint32, v float64) {
	r := f.roundPerFCW(v)
	if math.IsNaN(r) || math.Abs(r) >= 1e18 {
		f.setException(x87FSW_IE)
		// packed BCD indefinite
		writeLE(bus, addr, 8, 0)
		bus.Write(addr+7, 0xC0)
		bus.Write(addr+8, 0xFF)
		bus.Write(addr+9, 0xFF)
		return
	}
	n := int64(r)
	neg := n < 0 || math.Signbit(r)
	if n < 0 {
		n = -n
	}
	for i := range 9 {
		d0 := byte(n % 10)
		n /= 10
		d1 := byte(n % 10)
		n /= 10
		bus.Write(addr+uint32(i), d0|(d1<<4))
	}
	if neg {
		bus.Write(addr+9, 0x80)
	} else {
		bus.Write(addr+9, 0x00)
	}
}

func (f *FPU_X87) doCompare(a, b float64, signalNaN bool) {
	f.clearCond()
	if math.IsNaN(a) || math.IsNaN(b) {
		f.FSW |= x87FSW_C0 | x87FSW_C2 | x87FSW_C3
		if signalNaN {
			f.setException(x87FSW_IE)
		}
		return
	}
	switch {
	case a > b:
		// all clear
	case a < b:
		f.FSW |= x87FSW_C0
	default:
		f.FSW |= x87FSW_C3
	}
}

func (f *FPU_X87) setQuotientFlags(q int64) {
	f.FSW &^= x87FSW_C0 | x87FSW_C1 | x87FSW_C3
	if (q & 0x4) != 0 {
		f.FSW |= x87FSW_C0
	}
	if (q & 0x2) != 0 {
		f.FSW |= x87FSW_C3
	}
	if (q & 0x1) != 0 {
		f.FSW |= x87FSW_C1
	}
}

// -----------------------------------------------------------------------------
// Environment and state images
// -----------------------------------------------------------------------------

// fnstenv stores the environment in the 14-byte (16-bit) or 28-byte
// (32-bit) protected mode layout and masks all exceptions.
func (f *FPU_X87) fnstenv(bus x87Bus, addr uint32, big bool) {
	if big {
		writeLE(bus, addr, 4, uint64(f.FCW)|0xFFFF0000)
		writeLE(bus, addr+4, 4, uint64(f.FSW)|0xFFFF0000)
		writeLE(bus, addr+8, 4, uint64(f.FTW)|0xFFFF0000)
		writeLE(bus, addr+12, 4, uint64(f.FIP))
		writeLE(bus, addr+16, 4, uint64(f.FCS)|uint64(f.FOP&0x7FF)<<16)
		writeLE(bus, addr+20, 4, uint64(f.FDP))
		writeLE(bus, addr+24, 4, uint64(f.FDS)|0xFFFF0000)
	} else {
		writeLE(bus, addr, 2, uint64(f.FCW))
		writeLE(bus, addr+2, 2, uint64(f.FSW))
		writeLE(bus, addr+4, 2, uint64(f.FTW))
		writeLE(bus, addr+6, 2, uint64(f.FIP))
		writeLE(bus, addr+8, 2, uint64(f.FCS))
		writeLE(bus, addr+10, 2, uint64(f.FDP))
		writeLE(bus, addr+12, 2, uint64(f.FDS))
	}
	f.FCW |= 0x003F
}

func (f *FPU_X87) fldenv(bus x87Bus, addr uint32, big bool) {
	if big {
		f.setFCW(uint16(readLE(bus, addr, 2)))
		f.FSW = uint16(readLE(bus, addr+4, 2))
		f.FTW = uint16(readLE(bus, addr+8, 2))
		f.FIP = uint32(readLE(bus, addr+12, 4))
		mix := uint32(readLE(bus, addr+16, 4))
		f.FCS = uint16(mix)
		f.FOP = uint16((mix >> 16) & 0x7FF)
		f.FDP = uint32(readLE(bus, addr+20, 4))
		f.FDS = uint16(readLE(bus, addr+24, 2))
	} else {
		f.setFCW(uint16(readLE(bus, addr, 2)))
		f.FSW = uint16(readLE(bus, addr+2, 2))
		f.FTW = uint16(readLE(bus, addr+4, 2))
		f.FIP = uint32(readLE(bus, addr+6, 2))
		f.FCS = uint16(readLE(bus, addr+8, 2))
		f.FDP = uint32(readLE(bus, addr+10, 2))
		f.FDS = uint16(readLE(bus, addr+12, 2))
	}
	f.refreshES()
}

// refreshES recomputes the summary bits after FSW or FCW were loaded.
func (f *FPU_X87) refreshES() {
	if f.FSW&^f.FCW&0x3F != 0 {
		f.FSW |= x87FSW_ES | x87FSW_B
	} else {
		f.FSW &^= x87FSW_ES | x87FSW_B
	}
}

func envSize(big bool) uint32 {
	if big {
		return 28
	}
	return 14
}

// fsave stores the environment and the eight registers in stack order, then
// reinitializes the FPU.
func (f *FPU_X87) fsave(bus x87Bus, addr uint32, big bool) {
	f.fnstenv(bus, addr, big)
	base := addr + envSize(big)
	for i := range 8 {
		storeExtendedImage(bus, base+uint32(i*10), f.extended(f.physReg(i)))
	}
	arch := f.arch
	f.Reset()
	f.arch = arch
}

func (f *FPU_X87) frstor(bus x87Bus, addr uint32, big bool) {
	f.fldenv(bus, addr, big)
	base := addr + envSize(big)
	for i := range 8 {
		f.setExtended(f.physReg(i), loadExtendedImage(bus, base+uint32(i*10)))
	}
}

// abridgedTag is the FXSAVE one-bit-per-register tag byte.
func (f *FPU_X87) abridgedTag() byte {
	var t byte
	for i := 0; i < 8; i++ {
		if f.getTag(i) != x87TagEmpty {
			t |= 1 << i
		}
	}
	return t
}

// setAbridgedTag rebuilds the full tag word from the FXRSTOR tag byte.
func (f *FPU_X87) setAbridgedTag(t byte) {
	for i := 0; i < 8; i++ {
		if t&(1<<i) == 0 {
			f.setTag(i, x87TagEmpty)
		} else {
			f.setTag(i, f.classifyTag(f.regs[i]))
		}
	}
}

func (f *FPU_X87) xam(v float64, empty bool) {
	f.FSW &^= x87FSW_C0 | x87FSW_C1 | x87FSW_C2 | x87FSW_C3
	if math.Signbit(v) {
		f.FSW |= x87FSW_C1
	}
	if empty {
		f.FSW |= x87FSW_C0 | x87FSW_C3
		return
	}
	if math.IsNaN(v) {
		f.FSW |= x87FSW_C0
		return
	}
	if math.IsInf(v, 0) {
		f.FSW |= x87FSW_C0 | x87FSW_C2
		return
	}
	if v == 0 {
		f.FSW |= x87FSW_C3
		return
	}
	if math.Abs(v) < x87SmallestNormal {
		f.FSW |= x87FSW_C2 | x87FSW_C3
		return
	}
	f.FSW |= x87FSW_C2
}

var x87ConstTable = [7]float64{
	1.0,
	math.Log2(10),
	math.Log2E,
	math.Pi,
	math.Log10(2),
	math.Ln2,
	0.0,
}
