// debug_backtrace.go - Frame-pointer backtrace for the Machine Monitor
//
// (c) 2024-2026 Zayn Otley - GPLv3 or later

package main

import "encoding/binary"

// Frame is one link of an (E)BP chain.
type Frame struct {
	FramePtr uint32 // offset in SS
	Return   uint32 // offset in CS
}

// backtrace walks the saved frame pointer chain from (E)BP. Each frame
// holds the caller's frame pointer at [BP] and the return offset above
// it. The walk stops at a zero link, a link that does not move up the
// stack, or unreadable memory.
func backtrace(d *DebugX86, depth int) []Frame {
	c := d.cpu
	ss := c.Seg[x86SegSS]
	width := 2
	if ss.Big {
		width = 4
	}

	word := func(off uint32) (uint32, bool) {
		data := d.ReadMemory(uint64(ss.Base+off), width)
		if len(data) < width {
			return 0, false
		}
		if width == 2 {
			return uint32(binary.LittleEndian.Uint16(data)), true
		}
		return binary.LittleEndian.Uint32(data), true
	}

	bp := c.EBP
	if width == 2 {
		bp &= 0xFFFF
	}
	var frames []Frame
	for range depth {
		if bp == 0 {
			break
		}
		next, ok := word(bp)
		if !ok {
			break
		}
		ret, ok := word(bp + uint32(width))
		if !ok {
			break
		}
		frames = append(frames, Frame{FramePtr: bp, Return: ret})
		if next <= bp {
			break
		}
		bp = next
	}
	return frames
}
