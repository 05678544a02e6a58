// debug_ioview.go - I/O port viewer for Machine Monitor

package main

import (
	"fmt"
	"slices"
)

// IOPortDesc describes a single port for display.
type IOPortDesc struct {
	Name     string
	Port     uint16
	Access   string // "RW", "RO", "WO"
	Volatile bool   // reading has side effects; never sampled
}

// IODeviceDesc describes a group of ports for a device.
type IODeviceDesc struct {
	Name  string
	Ports []IOPortDesc
}

var ioDevices = map[string]*IODeviceDesc{
	"sysctl": {
		Name: "System Control",
		Ports: []IOPortDesc{
			{Name: "CTRL_A", Port: X86_PORT_SYS_CTRL_A, Access: "RW"},
		},
	},
	"console": {
		Name: "Console",
		Ports: []IOPortDesc{
			{Name: "DEBUG_OUT", Port: X86_PORT_DEBUG_CON, Access: "RW"},
			{Name: "STATUS", Port: X86_PORT_CON_STATUS, Access: "RW"},
			{Name: "DATA", Port: X86_PORT_CON_DATA, Access: "RO", Volatile: true},
		},
	},
}

// formatIOView renders the port view for a device.
func formatIOView(d *DebugX86, deviceName string) []string {
	dev, ok := ioDevices[deviceName]
	if !ok {
		return []string{fmt.Sprintf("Unknown device: %s", deviceName)}
	}

	lines := []string{fmt.Sprintf("--- %s Ports ---", dev.Name)}
	for _, p := range dev.Ports {
		if p.Volatile || p.Access == "WO" {
			lines = append(lines, fmt.Sprintf("  %-10s ($%04X) = --  %s", p.Name, p.Port, p.Access))
			continue
		}
		v := d.ReadPort(p.Port)
		lines = append(lines, fmt.Sprintf("  %-10s ($%04X) = $%02X [%08b] %s", p.Name, p.Port, v, v, p.Access))
	}
	return lines
}

// listIODevices returns the names of all available IO devices.
func listIODevices() []string {
	names := make([]string, 0, len(ioDevices))
	for name := range ioDevices {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
