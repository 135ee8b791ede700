// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/edsrzf/mmap-go"
)

// MmapDevice is a Device backed by a memory-mapped file. The mapping is flushed
// after every program and erase.
type MmapDevice struct {
	geo  Geometry
	path string
	file *os.File
	data mmap.MMap
}

// OpenMmapDevice maps the image at path, creating it in the erased state if it
// does not exist or has the wrong size.
func OpenMmapDevice(path string, geo Geometry) (*MmapDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	f, err := openImage(path, geo)
	if err != nil {
		return nil, err
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}
	return &MmapDevice{geo: geo, path: path, file: f, data: data}, nil
}

func (d *MmapDevice) Read(buf []byte, addr uint64) error {
	if d.data == nil {
		return &Error{Op: "read", Addr: addr, Size: uint64(len(buf)), Err: ErrClosed}
	}
	if err := d.geo.checkRead(addr, len(buf)); err != nil {
		return err
	}
	copy(buf, d.data[addr:])
	return nil
}

func (d *MmapDevice) Program(buf []byte, addr uint64) error {
	if d.data == nil {
		return &Error{Op: "program", Addr: addr, Size: uint64(len(buf)), Err: ErrClosed}
	}
	if err := d.geo.checkProgram(addr, len(buf)); err != nil {
		return err
	}
	copy(d.data[addr:], buf)
	return d.flush("program", addr, uint64(len(buf)))
}

func (d *MmapDevice) Erase(addr, size uint64) error {
	if d.data == nil {
		return &Error{Op: "erase", Addr: addr, Size: size, Err: ErrClosed}
	}
	if err := d.geo.checkErase(addr, size); err != nil {
		return err
	}
	fillBytes(d.data[addr:addr+size], d.geo.fill())
	return d.flush("erase", addr, size)
}

func (d *MmapDevice) flush(op string, addr, size uint64) error {
	if err := d.data.Flush(); err != nil {
		slog.Error("Failed to flush mmap", "path", d.path, "err", err)
		return &Error{Op: op, Addr: addr, Size: size, Err: err}
	}
	return nil
}

func (d *MmapDevice) Size() uint64        { return d.geo.Size }
func (d *MmapDevice) ReadSize() uint64    { return d.geo.ReadSize }
func (d *MmapDevice) ProgramSize() uint64 { return d.geo.ProgramSize }
func (d *MmapDevice) EraseSize() uint64   { return d.geo.EraseSize }
func (d *MmapDevice) EraseValue() int     { return d.geo.EraseValue }

// Close unmaps and closes the file.
func (d *MmapDevice) Close() error {
	var err error
	if d.data != nil {
		if e := d.data.Unmap(); e != nil {
			err = e
		}
		d.data = nil
	}
	if d.file != nil {
		if e := d.file.Close(); e != nil {
			err = e
		}
		d.file = nil
	}
	return err
}
