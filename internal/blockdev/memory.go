// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

// HeapDevice is a Device backed by a byte slice. Erase really writes the erase
// value, so erased regions read back as they would on flash.
type HeapDevice struct {
	geo  Geometry
	data []byte
}

// NewHeapDevice allocates a device of the given geometry in the erased state.
func NewHeapDevice(geo Geometry) (*HeapDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	d := &HeapDevice{
		geo:  geo,
		data: make([]byte, geo.Size),
	}
	fillBytes(d.data, geo.fill())
	return d, nil
}

func (d *HeapDevice) Read(buf []byte, addr uint64) error {
	if err := d.geo.checkRead(addr, len(buf)); err != nil {
		return err
	}
	copy(buf, d.data[addr:])
	return nil
}

func (d *HeapDevice) Program(buf []byte, addr uint64) error {
	if err := d.geo.checkProgram(addr, len(buf)); err != nil {
		return err
	}
	copy(d.data[addr:], buf)
	return nil
}

func (d *HeapDevice) Erase(addr, size uint64) error {
	if err := d.geo.checkErase(addr, size); err != nil {
		return err
	}
	fillBytes(d.data[addr:addr+size], d.geo.fill())
	return nil
}

func (d *HeapDevice) Size() uint64        { return d.geo.Size }
func (d *HeapDevice) ReadSize() uint64    { return d.geo.ReadSize }
func (d *HeapDevice) ProgramSize() uint64 { return d.geo.ProgramSize }
func (d *HeapDevice) EraseSize() uint64   { return d.geo.EraseSize }
func (d *HeapDevice) EraseValue() int     { return d.geo.EraseValue }

func fillBytes(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}
