// cpu_x86_arch.go - x86 architecture levels (8086 through Pentium III)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownArch = errors.New("unknown architecture")

// ArchLevel orders the emulated CPU generations. Opcode table entries carry
// the lowest level that decodes them.
type ArchLevel uint8

const (
	Arch8086 ArchLevel = iota
	Arch186
	Arch286
	Arch386
	Arch486Old // 486 without CPUID
	Arch486New
	ArchPentium
	ArchPentiumMMX
	ArchPentiumII
	ArchPentiumIII
)

var archNames = [...]string{
	Arch8086:       "8086",
	Arch186:        "186",
	Arch286:        "286",
	Arch386:        "386",
	Arch486Old:     "486old",
	Arch486New:     "486",
	ArchPentium:    "pentium",
	ArchPentiumMMX: "pentium_mmx",
	ArchPentiumII:  "pentium2",
	ArchPentiumIII: "pentium3",
}

var archAliases = map[string]ArchLevel{
	"8088":   Arch8086,
	"80186":  Arch186,
	"80286":  Arch286,
	"80386":  Arch386,
	"486new": Arch486New,
	"80486":  Arch486New,
	"586":    ArchPentium,
	"p5":     ArchPentium,
	"pmmx":   ArchPentiumMMX,
	"p55c":   ArchPentiumMMX,
	"686":    ArchPentiumII,
	"p2":     ArchPentiumII,
	"pii":    ArchPentiumII,
	"p3":     ArchPentiumIII,
	"piii":   ArchPentiumIII,
}

func (a ArchLevel) String() string {
	if int(a) < len(archNames) {
		return archNames[a]
	}
	return fmt.Sprintf("arch(%d)", uint8(a))
}

// ParseArchLevel accepts the canonical names plus common aliases.
func ParseArchLevel(s string) (ArchLevel, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for i, n := range archNames {
		if n == key {
			return ArchLevel(i), nil
		}
	}
	if a, ok := archAliases[key]; ok {
		return a, nil
	}
	return Arch8086, fmt.Errorf("%w: %q", ErrUnknownArch, s)
}

// has32 reports whether the level has the 386 register and operand extensions.
func (a ArchLevel) has32() bool { return a >= Arch386 }

// hasFPU287 separates the 8087 control word layout from the 287 onward.
func (a ArchLevel) hasFPU287() bool { return a >= Arch286 }
