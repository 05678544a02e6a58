// config.go - Machine configuration (TOML file + flag overrides)
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

var ErrBadPageMode = errors.New("unknown page fault mode")

// MachineConfig is the top level of a machine file.
type MachineConfig struct {
	CPU     CPUConfig     `toml:"cpu"`
	Memory  MemoryConfig  `toml:"memory"`
	Paging  PagingConfig  `toml:"paging"`
	Log     LogConfig     `toml:"log"`
	Monitor MonitorConfig `toml:"monitor"`
	Perf    PerfConfig    `toml:"perf"`
}

type CPUConfig struct {
	Arch           string `toml:"arch"`
	CyclesPerSlice int    `toml:"cycles_per_slice"`
	StartMode      string `toml:"start_mode"` // real | flat32
	LoadAddr       uint32 `toml:"load_addr"`
	Entry          uint32 `toml:"entry"`
	ComFile        bool   `toml:"com"`
}

type MemoryConfig struct {
	SizeKB      uint32 `toml:"size_kb"`
	LargeMemory bool   `toml:"large_memory"`
	A20         bool   `toml:"a20"`
}

type PagingConfig struct {
	PageFaultMode    string `toml:"page_fault_mode"` // unwind | nested
	NestedFaultLimit int    `toml:"nested_fault_limit"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MonitorConfig struct {
	Enabled       bool              `toml:"enabled"`
	Breakpoints   []string          `toml:"breakpoints"`
	LuaConditions map[string]string `toml:"lua_conditions"`
}

type PerfConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultMachineConfig returns the configuration used when no file is given.
func DefaultMachineConfig() MachineConfig {
	return MachineConfig{
		CPU: CPUConfig{
			Arch:           "pentium3",
			CyclesPerSlice: 10000,
			StartMode:      "real",
		},
		Memory: MemoryConfig{
			SizeKB: 16 * 1024,
			A20:    true,
		},
		Paging: PagingConfig{
			PageFaultMode:    "unwind",
			NestedFaultLimit: 1_000_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadMachineConfig reads a TOML machine file over the defaults. Keys absent
// from the file keep their default value.
func LoadMachineConfig(path string) (MachineConfig, error) {
	cfg := DefaultMachineConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := ParseMachineConfig(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// ParseMachineConfig decodes TOML text into cfg and validates the result.
func ParseMachineConfig(text string, cfg *MachineConfig) error {
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if undec := md.Undecoded(); len(undec) > 0 {
		return fmt.Errorf("unknown config key %q", undec[0].String())
	}
	return cfg.Validate()
}

func (cfg *MachineConfig) Validate() error {
	if _, err := ParseArchLevel(cfg.CPU.Arch); err != nil {
		return err
	}
	switch cfg.CPU.StartMode {
	case "real", "flat32":
	default:
		return fmt.Errorf("start_mode %q: must be real or flat32", cfg.CPU.StartMode)
	}
	if cfg.CPU.CyclesPerSlice <= 0 {
		return fmt.Errorf("cycles_per_slice must be positive, got %d", cfg.CPU.CyclesPerSlice)
	}
	if cfg.Memory.SizeKB < 64 || cfg.Memory.SizeKB%4 != 0 {
		return fmt.Errorf("size_kb %d: must be a multiple of 4 and at least 64", cfg.Memory.SizeKB)
	}
	if _, err := parsePageFaultMode(cfg.Paging.PageFaultMode); err != nil {
		return err
	}
	return nil
}

func parsePageFaultMode(s string) (PageFaultMode, error) {
	switch s {
	case "", "unwind":
		return PageFaultUnwind, nil
	case "nested":
		return PageFaultNested, nil
	}
	return PageFaultUnwind, fmt.Errorf("%w: %q", ErrBadPageMode, s)
}
