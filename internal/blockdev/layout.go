// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

import "fmt"

// Geometry describes the size and access granularity of a device.
//
// Invariants:
// - every unit is non-zero
// - Size is a multiple of EraseSize
// - EraseSize is a multiple of ProgramSize and ReadSize
type Geometry struct {
	Size        uint64
	ReadSize    uint64
	ProgramSize uint64
	EraseSize   uint64
	EraseValue  int
}

// Validate checks the geometry invariants.
func (g Geometry) Validate() error {
	switch {
	case g.Size == 0, g.ReadSize == 0, g.ProgramSize == 0, g.EraseSize == 0:
		return fmt.Errorf("invalid geometry %+v: sizes must be non-zero", g)
	case g.Size%g.EraseSize != 0:
		return fmt.Errorf("invalid geometry: size %d is not a multiple of erase size %d", g.Size, g.EraseSize)
	case g.EraseSize%g.ProgramSize != 0, g.EraseSize%g.ReadSize != 0:
		return fmt.Errorf("invalid geometry: erase size %d is not a multiple of program size %d and read size %d",
			g.EraseSize, g.ProgramSize, g.ReadSize)
	case g.EraseValue < -1 || g.EraseValue > 0xFF:
		return fmt.Errorf("invalid geometry: erase value %d", g.EraseValue)
	}
	return nil
}

// fill is the byte pattern written by erase.
func (g Geometry) fill() byte {
	if g.EraseValue < 0 {
		return 0
	}
	return byte(g.EraseValue)
}

func (g Geometry) check(op string, addr, size, unit uint64) error {
	if addr+size < addr || addr+size > g.Size {
		return &Error{Op: op, Addr: addr, Size: size, Err: ErrOutOfBounds}
	}
	if addr%unit != 0 || size%unit != 0 {
		return &Error{Op: op, Addr: addr, Size: size, Err: ErrUnaligned}
	}
	return nil
}

func (g Geometry) checkRead(addr uint64, n int) error {
	return g.check("read", addr, uint64(n), g.ReadSize)
}

func (g Geometry) checkProgram(addr uint64, n int) error {
	return g.check("program", addr, uint64(n), g.ProgramSize)
}

func (g Geometry) checkErase(addr, size uint64) error {
	return g.check("erase", addr, size, g.EraseSize)
}
