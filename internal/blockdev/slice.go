// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

import "fmt"

// SlicingDevice exposes the window [start, stop) of another device as a device
// of its own, addressed from zero.
type SlicingDevice struct {
	dev         Device
	start, stop uint64
}

// NewSlicingDevice creates a window over dev. Both bounds must be aligned to the
// erase size of dev.
func NewSlicingDevice(dev Device, start, stop uint64) (*SlicingDevice, error) {
	if stop <= start || stop > dev.Size() {
		return nil, fmt.Errorf("invalid slice [0x%X, 0x%X) of device size 0x%X", start, stop, dev.Size())
	}
	if start%dev.EraseSize() != 0 || stop%dev.EraseSize() != 0 {
		return nil, fmt.Errorf("slice [0x%X, 0x%X) not aligned to erase size 0x%X", start, stop, dev.EraseSize())
	}
	return &SlicingDevice{dev: dev, start: start, stop: stop}, nil
}

func (d *SlicingDevice) Read(buf []byte, addr uint64) error {
	if err := d.bounds("read", addr, uint64(len(buf))); err != nil {
		return err
	}
	return d.dev.Read(buf, d.start+addr)
}

func (d *SlicingDevice) Program(buf []byte, addr uint64) error {
	if err := d.bounds("program", addr, uint64(len(buf))); err != nil {
		return err
	}
	return d.dev.Program(buf, d.start+addr)
}

func (d *SlicingDevice) Erase(addr, size uint64) error {
	if err := d.bounds("erase", addr, size); err != nil {
		return err
	}
	return d.dev.Erase(d.start+addr, size)
}

func (d *SlicingDevice) bounds(op string, addr, size uint64) error {
	if addr+size < addr || addr+size > d.Size() {
		return &Error{Op: op, Addr: addr, Size: size, Err: ErrOutOfBounds}
	}
	return nil
}

func (d *SlicingDevice) Size() uint64        { return d.stop - d.start }
func (d *SlicingDevice) ReadSize() uint64    { return d.dev.ReadSize() }
func (d *SlicingDevice) ProgramSize() uint64 { return d.dev.ProgramSize() }
func (d *SlicingDevice) EraseSize() uint64   { return d.dev.EraseSize() }
func (d *SlicingDevice) EraseValue() int     { return d.dev.EraseValue() }

// Close closes the underlying device if it can be closed.
func (d *SlicingDevice) Close() error {
	if c, ok := d.dev.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
