// cpu_x86_table.go - Opcode dispatch table
//
// The table has four partitions of 256 entries selected by operand size and
// the 0F escape (see decodeState.partition). Bodies that depend on operand
// width are registered once per width.
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

type opFlags uint8

const (
	opPrefix      opFlags = 1 << iota // records decode state and fetches again
	opModRM                           // ModR/M (and SIB, displacement) decoded before exec
	opChecksIRQ                       // may unmask a pending interrupt
	opRollbackESP                     // restore ESP if the instruction faults
)

type opEntry struct {
	exec    func(*CPU_X86)
	minArch ArchLevel
	flags   opFlags
	simd    *[4]opEntry    // variants by last 66/F2/F3 prefix
	legacy  func(*CPU_X86) // 8086 alias for an encoding later CPUs reject
}

var x86OpTable [4 * 256]opEntry

const (
	partBase16 = 0
	part0F16   = 1
	partBase32 = 2
	part0F32   = 3
)

func setOp(part int, op byte, e opEntry) {
	legacy := x86OpTable[part<<8|int(op)].legacy
	if e.legacy == nil {
		e.legacy = legacy
	}
	x86OpTable[part<<8|int(op)] = e
}

// defOp registers a width-independent one-byte opcode.
func defOp(op byte, arch ArchLevel, fl opFlags, exec func(*CPU_X86)) {
	e := opEntry{exec: exec, minArch: arch, flags: fl}
	setOp(partBase16, op, e)
	setOp(partBase32, op, e)
}

// defOpW registers a one-byte opcode whose body takes the operand width.
func defOpW(op byte, arch ArchLevel, fl opFlags, exec func(*CPU_X86, opWidth)) {
	setOp(partBase16, op, opEntry{exec: func(c *CPU_X86) { exec(c, w16) }, minArch: arch, flags: fl})
	setOp(partBase32, op, opEntry{exec: func(c *CPU_X86) { exec(c, w32) }, minArch: arch, flags: fl})
}

// defOpB registers the byte form of a width-taking body.
func defOpB(op byte, arch ArchLevel, fl opFlags, exec func(*CPU_X86, opWidth)) {
	defOp(op, arch, fl, func(c *CPU_X86) { exec(c, w8) })
}

func def0F(op byte, arch ArchLevel, fl opFlags, exec func(*CPU_X86)) {
	e := opEntry{exec: exec, minArch: arch, flags: fl}
	setOp(part0F16, op, e)
	setOp(part0F32, op, e)
}

func def0FW(op byte, arch ArchLevel, fl opFlags, exec func(*CPU_X86, opWidth)) {
	setOp(part0F16, op, opEntry{exec: func(c *CPU_X86) { exec(c, w16) }, minArch: arch, flags: fl})
	setOp(part0F32, op, opEntry{exec: func(c *CPU_X86) { exec(c, w32) }, minArch: arch, flags: fl})
}

func def0FB(op byte, arch ArchLevel, fl opFlags, exec func(*CPU_X86, opWidth)) {
	def0F(op, arch, fl, func(c *CPU_X86) { exec(c, w8) })
}

// defSIMD registers a 0F opcode whose meaning depends on the last 66, F2 or
// F3 prefix. A nil variant decodes as #UD.
func defSIMD(op byte, arch ArchLevel, variants [4]func(*CPU_X86)) {
	var v [4]opEntry
	for i, f := range variants {
		if f != nil {
			v[i] = opEntry{exec: f, minArch: arch, flags: opModRM}
		}
	}
	e := opEntry{minArch: arch, flags: opModRM, simd: &v}
	setOp(part0F16, op, e)
	setOp(part0F32, op, e)
}

// defLegacy installs the 8086 body for an opcode.
func defLegacy(op byte, f func(*CPU_X86)) {
	x86OpTable[partBase16<<8|int(op)].legacy = f
	x86OpTable[partBase32<<8|int(op)].legacy = f
}

// mmx and sse wrap bodies for defSIMD's unprefixed and F3 slots.
func mmx(f func(*CPU_X86)) [4]func(*CPU_X86) { return [4]func(*CPU_X86){simdNone: f} }

func sse(ps, ss func(*CPU_X86)) [4]func(*CPU_X86) {
	return [4]func(*CPU_X86){simdNone: ps, simdF3: ss}
}

func init() {
	const (
		m   = opModRM
		irq = opChecksIRQ
		esp = opRollbackESP
	)

	// 8086 aliases. They take effect only where the later CPUs leave the
	// slot invalid, so they are installed before the real entries.
	for op := byte(0x60); op <= 0x6F; op++ {
		defLegacy(op, (*CPU_X86).legacyJcc)
	}
	defLegacy(0x0F, (*CPU_X86).legacyPOP_CS)
	defLegacy(0xC0, (*CPU_X86).legacyRET_Iw)
	defLegacy(0xC1, (*CPU_X86).legacyRET)
	defLegacy(0xC8, (*CPU_X86).legacyRETF_Iw)
	defLegacy(0xC9, (*CPU_X86).legacyRETF)

	// ALU rows 00-3F
	for i := range 8 {
		op := byte(i) << 3
		alu := i
		defOp(op, Arch8086, m, func(c *CPU_X86) { c.aluRMReg(alu, w8) })
		defOpW(op+1, Arch8086, m, func(c *CPU_X86, w opWidth) { c.aluRMReg(alu, w) })
		defOp(op+2, Arch8086, m, func(c *CPU_X86) { c.aluRegRM(alu, w8) })
		defOpW(op+3, Arch8086, m, func(c *CPU_X86, w opWidth) { c.aluRegRM(alu, w) })
		defOp(op+4, Arch8086, 0, func(c *CPU_X86) { c.aluAccImm(alu, w8) })
		defOpW(op+5, Arch8086, 0, func(c *CPU_X86, w opWidth) { c.aluAccImm(alu, w) })
	}
	for _, op := range []byte{0x06, 0x0E, 0x16, 0x1E} {
		defOpW(op, Arch8086, esp, (*CPU_X86).opPUSH_Seg)
	}
	defOpW(0x07, Arch8086, esp, (*CPU_X86).opPOP_Seg)
	defOpW(0x17, Arch8086, esp|irq, (*CPU_X86).opPOP_Seg)
	defOpW(0x1F, Arch8086, esp, (*CPU_X86).opPOP_Seg)
	defOp(0x0F, Arch286, opPrefix, (*CPU_X86).prefix0F)
	for _, op := range []byte{0x26, 0x2E, 0x36, 0x3E} {
		defOp(op, Arch8086, opPrefix, (*CPU_X86).prefixSeg)
	}
	defOp(0x27, Arch8086, 0, (*CPU_X86).opDAA)
	defOp(0x2F, Arch8086, 0, (*CPU_X86).opDAS)
	defOp(0x37, Arch8086, 0, (*CPU_X86).opAAA)
	defOp(0x3F, Arch8086, 0, (*CPU_X86).opAAS)

	// 40-5F register rows
	for r := byte(0); r < 8; r++ {
		defOpW(0x40+r, Arch8086, 0, (*CPU_X86).opINC_r)
		defOpW(0x48+r, Arch8086, 0, (*CPU_X86).opDEC_r)
		defOpW(0x50+r, Arch8086, 0, (*CPU_X86).opPUSH_r)
		defOpW(0x58+r, Arch8086, 0, (*CPU_X86).opPOP_r)
	}

	// 60-6F
	defOpW(0x60, Arch186, esp, (*CPU_X86).opPUSHA)
	defOpW(0x61, Arch186, esp, (*CPU_X86).opPOPA)
	defOpW(0x62, Arch186, m, (*CPU_X86).opBOUND)
	defOp(0x63, Arch286, m, (*CPU_X86).opARPL)
	defOp(0x64, Arch386, opPrefix, (*CPU_X86).prefixSeg)
	defOp(0x65, Arch386, opPrefix, (*CPU_X86).prefixSeg)
	defOp(0x66, Arch386, opPrefix, (*CPU_X86).prefixOpSize)
	defOp(0x67, Arch386, opPrefix, (*CPU_X86).prefixAddrSize)
	defOpW(0x68, Arch186, 0, (*CPU_X86).opPUSH_Iv)
	defOpW(0x69, Arch186, m, (*CPU_X86).opIMUL_G_E_I)
	defOpW(0x6A, Arch186, 0, (*CPU_X86).opPUSH_Ib)
	defOpW(0x6B, Arch186, m, (*CPU_X86).opIMUL_G_E_I)
	defOpB(0x6C, Arch186, 0, (*CPU_X86).opINS)
	defOpW(0x6D, Arch186, 0, (*CPU_X86).opINS)
	defOpB(0x6E, Arch186, 0, (*CPU_X86).opOUTS)
	defOpW(0x6F, Arch186, 0, (*CPU_X86).opOUTS)

	for cc := byte(0); cc < 16; cc++ {
		defOp(0x70+cc, Arch8086, 0, (*CPU_X86).opJcc_Jb)
	}

	// 80-8F
	defOpB(0x80, Arch8086, m, (*CPU_X86).opGrp1_E_I)
	defOpW(0x81, Arch8086, m, (*CPU_X86).opGrp1_E_I)
	defOpB(0x82, Arch8086, m, (*CPU_X86).opGrp1_E_I)
	defOpW(0x83, Arch8086, m, (*CPU_X86).opGrp1_Ev_Ib)
	defOpB(0x84, Arch8086, m, (*CPU_X86).opTEST_E_G)
	defOpW(0x85, Arch8086, m, (*CPU_X86).opTEST_E_G)
	defOpB(0x86, Arch8086, m, (*CPU_X86).opXCHG_E_G)
	defOpW(0x87, Arch8086, m, (*CPU_X86).opXCHG_E_G)
	defOpB(0x88, Arch8086, m, (*CPU_X86).opMOV_E_G)
	defOpW(0x89, Arch8086, m, (*CPU_X86).opMOV_E_G)
	defOpB(0x8A, Arch8086, m, (*CPU_X86).opMOV_G_E)
	defOpW(0x8B, Arch8086, m, (*CPU_X86).opMOV_G_E)
	defOpW(0x8C, Arch8086, m, (*CPU_X86).opMOV_Ew_Sreg)
	defOpW(0x8D, Arch8086, m, (*CPU_X86).opLEA)
	defOp(0x8E, Arch8086, m|irq, (*CPU_X86).opMOV_Sreg_Ew)
	defOpW(0x8F, Arch8086, m|esp, (*CPU_X86).opPOP_Ev)

	// 90-9F
	for r := byte(0); r < 8; r++ {
		defOpW(0x90+r, Arch8086, 0, (*CPU_X86).opXCHG_Acc_r)
	}
	defOpW(0x98, Arch8086, 0, (*CPU_X86).opCBW)
	defOpW(0x99, Arch8086, 0, (*CPU_X86).opCWD)
	defOpW(0x9A, Arch8086, esp, (*CPU_X86).opCALL_Ap)
	defOp(0x9B, Arch8086, 0, (*CPU_X86).opWAIT)
	defOpW(0x9C, Arch8086, 0, (*CPU_X86).opPUSHF)
	defOpW(0x9D, Arch8086, irq, (*CPU_X86).opPOPF)
	defOp(0x9E, Arch8086, 0, (*CPU_X86).opSAHF)
	defOp(0x9F, Arch8086, 0, (*CPU_X86).opLAHF)

	// A0-AF
	defOpB(0xA0, Arch8086, 0, (*CPU_X86).opMOV_Acc_Moffs)
	defOpW(0xA1, Arch8086, 0, (*CPU_X86).opMOV_Acc_Moffs)
	defOpB(0xA2, Arch8086, 0, (*CPU_X86).opMOV_Moffs_Acc)
	defOpW(0xA3, Arch8086, 0, (*CPU_X86).opMOV_Moffs_Acc)
	defOpB(0xA4, Arch8086, 0, (*CPU_X86).opMOVS)
	defOpW(0xA5, Arch8086, 0, (*CPU_X86).opMOVS)
	defOpB(0xA6, Arch8086, 0, (*CPU_X86).opCMPS)
	defOpW(0xA7, Arch8086, 0, (*CPU_X86).opCMPS)
	defOpB(0xA8, Arch8086, 0, (*CPU_X86).opTEST_Acc_I)
	defOpW(0xA9, Arch8086, 0, (*CPU_X86).opTEST_Acc_I)
	defOpB(0xAA, Arch8086, 0, (*CPU_X86).opSTOS)
	defOpW(0xAB, Arch8086, 0, (*CPU_X86).opSTOS)
	defOpB(0xAC, Arch8086, 0, (*CPU_X86).opLODS)
	defOpW(0xAD, Arch8086, 0, (*CPU_X86).opLODS)
	defOpB(0xAE, Arch8086, 0, (*CPU_X86).opSCAS)
	defOpW(0xAF, Arch8086, 0, (*CPU_X86).opSCAS)

	// B0-BF
	for r := byte(0); r < 8; r++ {
		defOp(0xB0+r, Arch8086, 0, (*CPU_X86).opMOV_r8_Ib)
		defOpW(0xB8+r, Arch8086, 0, (*CPU_X86).opMOV_r_Iv)
	}

	// C0-CF
	defOpB(0xC0, Arch186, m, (*CPU_X86).opGrp2_Ib)
	defOpW(0xC1, Arch186, m, (*CPU_X86).opGrp2_Ib)
	defOpW(0xC2, Arch8086, esp, (*CPU_X86).opRET_Iw)
	defOpW(0xC3, Arch8086, esp, (*CPU_X86).opRET)
	defOpW(0xC4, Arch8086, m, func(c *CPU_X86, w opWidth) { c.opLoadFarPtr(w, x86SegES) })
	defOpW(0xC5, Arch8086, m, func(c *CPU_X86, w opWidth) { c.opLoadFarPtr(w, x86SegDS) })
	defOpB(0xC6, Arch8086, m, (*CPU_X86).opMOV_E_I)
	defOpW(0xC7, Arch8086, m, (*CPU_X86).opMOV_E_I)
	defOpW(0xC8, Arch186, esp, (*CPU_X86).opENTER)
	defOpW(0xC9, Arch186, esp, (*CPU_X86).opLEAVE)
	defOpW(0xCA, Arch8086, esp, (*CPU_X86).opRETF_Iw)
	defOpW(0xCB, Arch8086, esp, (*CPU_X86).opRETF)
	defOp(0xCC, Arch8086, 0, (*CPU_X86).opINT3)
	defOp(0xCD, Arch8086, 0, (*CPU_X86).opINT_Ib)
	defOp(0xCE, Arch8086, 0, (*CPU_X86).opINTO)
	defOpW(0xCF, Arch8086, esp|irq, (*CPU_X86).opIRET)

	// D0-DF
	defOpB(0xD0, Arch8086, m, (*CPU_X86).opGrp2_1)
	defOpW(0xD1, Arch8086, m, (*CPU_X86).opGrp2_1)
	defOpB(0xD2, Arch8086, m, (*CPU_X86).opGrp2_CL)
	defOpW(0xD3, Arch8086, m, (*CPU_X86).opGrp2_CL)
	defOp(0xD4, Arch8086, 0, (*CPU_X86).opAAM)
	defOp(0xD5, Arch8086, 0, (*CPU_X86).opAAD)
	defOp(0xD6, Arch8086, 0, (*CPU_X86).opSALC)
	defOp(0xD7, Arch8086, 0, (*CPU_X86).opXLAT)
	for op := byte(0xD8); op <= 0xDF; op++ {
		defOp(op, Arch8086, m, (*CPU_X86).opESC)
	}

	// E0-EF
	defOp(0xE0, Arch8086, 0, (*CPU_X86).opLOOP)
	defOp(0xE1, Arch8086, 0, (*CPU_X86).opLOOP)
	defOp(0xE2, Arch8086, 0, (*CPU_X86).opLOOP)
	defOp(0xE3, Arch8086, 0, (*CPU_X86).opJCXZ)
	defOpB(0xE4, Arch8086, 0, (*CPU_X86).opIN_Ib)
	defOpW(0xE5, Arch8086, 0, (*CPU_X86).opIN_Ib)
	defOpB(0xE6, Arch8086, 0, (*CPU_X86).opOUT_Ib)
	defOpW(0xE7, Arch8086, 0, (*CPU_X86).opOUT_Ib)
	defOpW(0xE8, Arch8086, esp, (*CPU_X86).opCALL_Jv)
	defOpW(0xE9, Arch8086, 0, (*CPU_X86).opJMP_Jv)
	defOpW(0xEA, Arch8086, 0, (*CPU_X86).opJMP_Ap)
	defOp(0xEB, Arch8086, 0, (*CPU_X86).opJMP_Jb)
	defOpB(0xEC, Arch8086, 0, (*CPU_X86).opIN_DX)
	defOpW(0xED, Arch8086, 0, (*CPU_X86).opIN_DX)
	defOpB(0xEE, Arch8086, 0, (*CPU_X86).opOUT_DX)
	defOpW(0xEF, Arch8086, 0, (*CPU_X86).opOUT_DX)

	// F0-FF
	defOp(0xF0, Arch8086, opPrefix, (*CPU_X86).prefixLock)
	defOp(0xF1, Arch386, 0, (*CPU_X86).opICEBP)
	defOp(0xF2, Arch8086, opPrefix, (*CPU_X86).prefixRepNE)
	defOp(0xF3, Arch8086, opPrefix, (*CPU_X86).prefixRepE)
	defOp(0xF4, Arch8086, 0, (*CPU_X86).opHLT)
	defOp(0xF5, Arch8086, 0, (*CPU_X86).opCMC)
	defOpB(0xF6, Arch8086, m, (*CPU_X86).opGrp3)
	defOpW(0xF7, Arch8086, m, (*CPU_X86).opGrp3)
	defOp(0xF8, Arch8086, 0, (*CPU_X86).opCLC)
	defOp(0xF9, Arch8086, 0, (*CPU_X86).opSTC)
	defOp(0xFA, Arch8086, 0, (*CPU_X86).opCLI)
	defOp(0xFB, Arch8086, irq, (*CPU_X86).opSTI)
	defOp(0xFC, Arch8086, 0, (*CPU_X86).opCLD)
	defOp(0xFD, Arch8086, 0, (*CPU_X86).opSTD)
	defOp(0xFE, Arch8086, m, (*CPU_X86).opGrp4)
	defOpW(0xFF, Arch8086, m|esp, (*CPU_X86).opGrp5)

	init0F()
}

func init0F() {
	const (
		m   = opModRM
		esp = opRollbackESP
	)

	// System
	def0F(0x00, Arch286, m, (*CPU_X86).opGrp6)
	def0F(0x01, Arch286, m, (*CPU_X86).opGrp7)
	def0FW(0x02, Arch286, m, (*CPU_X86).opLAR)
	def0FW(0x03, Arch286, m, (*CPU_X86).opLSL)
	def0F(0x06, Arch286, 0, (*CPU_X86).opCLTS)
	def0F(0x08, Arch486Old, 0, (*CPU_X86).opINVD)
	def0F(0x09, Arch486Old, 0, (*CPU_X86).opINVD)
	def0F(0x18, ArchPentiumIII, m, (*CPU_X86).opPREFETCH)
	def0F(0x1F, ArchPentiumII, m, (*CPU_X86).opNOP_Ev)
	def0F(0x20, Arch386, 0, (*CPU_X86).opMOV_R_CR)
	def0F(0x21, Arch386, 0, (*CPU_X86).opMOV_R_DR)
	def0F(0x22, Arch386, 0, (*CPU_X86).opMOV_CR_R)
	def0F(0x23, Arch386, 0, (*CPU_X86).opMOV_DR_R)
	def0F(0x24, Arch386, 0, (*CPU_X86).opMOV_R_TR)
	def0F(0x26, Arch386, 0, (*CPU_X86).opMOV_TR_R)
	def0F(0x30, ArchPentium, 0, (*CPU_X86).opWRMSR)
	def0F(0x31, ArchPentium, 0, (*CPU_X86).opRDTSC)
	def0F(0x32, ArchPentium, 0, (*CPU_X86).opRDMSR)

	// SSE
	defSIMD(0x10, ArchPentiumIII, sse((*CPU_X86).opMOVUPS_V_W, (*CPU_X86).opMOVSS_V_W))
	defSIMD(0x11, ArchPentiumIII, sse((*CPU_X86).opMOVUPS_W_V, (*CPU_X86).opMOVSS_W_V))
	defSIMD(0x28, ArchPentiumIII, sse((*CPU_X86).opMOVAPS_V_W, nil))
	defSIMD(0x29, ArchPentiumIII, sse((*CPU_X86).opMOVAPS_W_V, nil))
	for op := byte(0x54); op <= 0x57; op++ {
		defSIMD(op, ArchPentiumIII, sse((*CPU_X86).opSSELogic, nil))
	}
	for _, op := range []byte{0x58, 0x59, 0x5C, 0x5D, 0x5E, 0x5F} {
		defSIMD(op, ArchPentiumIII, sse((*CPU_X86).opSSEArithPS, (*CPU_X86).opSSEArithSS))
	}
	defSIMD(0x14, ArchPentiumIII, sse((*CPU_X86).opUNPCKPS, nil))
	defSIMD(0x15, ArchPentiumIII, sse((*CPU_X86).opUNPCKPS, nil))
	defSIMD(0x2A, ArchPentiumIII, sse(nil, (*CPU_X86).opCVTSI2SS))
	defSIMD(0x2C, ArchPentiumIII, sse(nil, (*CPU_X86).opCVTTSS2SI))
	defSIMD(0x2D, ArchPentiumIII, sse(nil, (*CPU_X86).opCVTSS2SI))
	defSIMD(0x2E, ArchPentiumIII, sse((*CPU_X86).opUCOMISS, nil))
	defSIMD(0x2F, ArchPentiumIII, sse((*CPU_X86).opCOMISS, nil))
	defSIMD(0x50, ArchPentiumIII, sse((*CPU_X86).opMOVMSKPS, nil))
	defSIMD(0x51, ArchPentiumIII, sse((*CPU_X86).opSQRTPS, (*CPU_X86).opSQRTSS))
	defSIMD(0xC2, ArchPentiumIII, sse((*CPU_X86).opCMPPS, (*CPU_X86).opCMPSS))
	defSIMD(0xC6, ArchPentiumIII, sse((*CPU_X86).opSHUFPS, nil))
	def0F(0xAE, ArchPentiumII, m, (*CPU_X86).opGrp15)

	// CMOVcc, Jcc, SETcc
	for cc := byte(0); cc < 16; cc++ {
		def0FW(0x40+cc, ArchPentiumII, m, (*CPU_X86).opCMOVcc)
		def0FW(0x80+cc, Arch386, 0, (*CPU_X86).opJcc_Jv)
		def0F(0x90+cc, Arch386, m, (*CPU_X86).opSETcc)
	}

	// MMX
	for op := range mmxBinaryOps {
		defSIMD(op, ArchPentiumMMX, mmx((*CPU_X86).opMMXBinary))
	}
	defSIMD(0x6E, ArchPentiumMMX, mmx((*CPU_X86).opMOVD_P_E))
	defSIMD(0x6F, ArchPentiumMMX, mmx((*CPU_X86).opMOVQ_P_Q))
	defSIMD(0x71, ArchPentiumMMX, mmx((*CPU_X86).opMMXShiftImm))
	defSIMD(0x72, ArchPentiumMMX, mmx((*CPU_X86).opMMXShiftImm))
	defSIMD(0x73, ArchPentiumMMX, mmx((*CPU_X86).opMMXShiftImm))
	def0F(0x77, ArchPentiumMMX, 0, (*CPU_X86).opEMMS)
	defSIMD(0x7E, ArchPentiumMMX, mmx((*CPU_X86).opMOVD_E_P))
	defSIMD(0x7F, ArchPentiumMMX, mmx((*CPU_X86).opMOVQ_Q_P))

	// A0-BF
	def0FW(0xA0, Arch386, esp, (*CPU_X86).opPUSH_FS)
	def0FW(0xA1, Arch386, esp, (*CPU_X86).opPOP_FS)
	def0F(0xA2, Arch486New, 0, (*CPU_X86).opCPUID)
	def0FW(0xA3, Arch386, m, (*CPU_X86).opBT_E_G)
	def0FW(0xA4, Arch386, m, (*CPU_X86).opSHLD_Ib)
	def0FW(0xA5, Arch386, m, (*CPU_X86).opSHLD_CL)
	def0FW(0xA8, Arch386, esp, (*CPU_X86).opPUSH_GS)
	def0FW(0xA9, Arch386, esp, (*CPU_X86).opPOP_GS)
	def0FW(0xAB, Arch386, m, (*CPU_X86).opBT_E_G)
	def0FW(0xAC, Arch386, m, (*CPU_X86).opSHRD_Ib)
	def0FW(0xAD, Arch386, m, (*CPU_X86).opSHRD_CL)
	def0FW(0xAF, Arch386, m, (*CPU_X86).opIMUL_G_E)
	def0FB(0xB0, Arch486Old, m, (*CPU_X86).opCMPXCHG)
	def0FW(0xB1, Arch486Old, m, (*CPU_X86).opCMPXCHG)
	def0FW(0xB2, Arch386, m, func(c *CPU_X86, w opWidth) { c.opLoadFarPtr(w, x86SegSS) })
	def0FW(0xB3, Arch386, m, (*CPU_X86).opBT_E_G)
	def0FW(0xB4, Arch386, m, func(c *CPU_X86, w opWidth) { c.opLoadFarPtr(w, x86SegFS) })
	def0FW(0xB5, Arch386, m, func(c *CPU_X86, w opWidth) { c.opLoadFarPtr(w, x86SegGS) })
	def0FW(0xB6, Arch386, m, (*CPU_X86).opMOVZX_b)
	def0FW(0xB7, Arch386, m, (*CPU_X86).opMOVZX_w)
	def0FW(0xBA, Arch386, m, (*CPU_X86).opGrp8)
	def0FW(0xBB, Arch386, m, (*CPU_X86).opBT_E_G)
	def0FW(0xBC, Arch386, m, (*CPU_X86).opBSF)
	def0FW(0xBD, Arch386, m, (*CPU_X86).opBSR)
	def0FW(0xBE, Arch386, m, (*CPU_X86).opMOVSX_b)
	def0FW(0xBF, Arch386, m, (*CPU_X86).opMOVSX_w)

	// C0-CF
	def0FB(0xC0, Arch486Old, m, (*CPU_X86).opXADD)
	def0FW(0xC1, Arch486Old, m, (*CPU_X86).opXADD)
	def0F(0xC7, ArchPentium, m, (*CPU_X86).opGrp9)
	for r := byte(0); r < 8; r++ {
		def0FW(0xC8+r, Arch486Old, 0, (*CPU_X86).opBSWAP)
	}
}
