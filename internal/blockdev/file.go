// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

import (
	"bytes"
	"fmt"
	"os"
)

// FileDevice is a Device backed by a regular file. Every program and erase is
// synced to disk before it returns.
type FileDevice struct {
	geo  Geometry
	path string
	file *os.File
}

// OpenFileDevice opens the image at path, creating it in the erased state if it
// does not exist or has the wrong size.
func OpenFileDevice(path string, geo Geometry) (*FileDevice, error) {
	if err := geo.Validate(); err != nil {
		return nil, err
	}
	f, err := openImage(path, geo)
	if err != nil {
		return nil, err
	}
	return &FileDevice{geo: geo, path: path, file: f}, nil
}

// openImage opens the backing file and resizes it to geo.Size, filling any new
// space with the erase value.
func openImage(path string, geo Geometry) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	if size := uint64(fi.Size()); size != geo.Size {
		if err := f.Truncate(int64(geo.Size)); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to resize file: %w", err)
		}
		if size < geo.Size && geo.fill() != 0 {
			pad := bytes.Repeat([]byte{geo.fill()}, int(geo.Size-size))
			if _, err := f.WriteAt(pad, int64(size)); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to initialize file: %w", err)
			}
		}
	}
	return f, nil
}

func (d *FileDevice) Read(buf []byte, addr uint64) error {
	if d.file == nil {
		return &Error{Op: "read", Addr: addr, Size: uint64(len(buf)), Err: ErrClosed}
	}
	if err := d.geo.checkRead(addr, len(buf)); err != nil {
		return err
	}
	if _, err := d.file.ReadAt(buf, int64(addr)); err != nil {
		return &Error{Op: "read", Addr: addr, Size: uint64(len(buf)), Err: err}
	}
	return nil
}

func (d *FileDevice) Program(buf []byte, addr uint64) error {
	if d.file == nil {
		return &Error{Op: "program", Addr: addr, Size: uint64(len(buf)), Err: ErrClosed}
	}
	if err := d.geo.checkProgram(addr, len(buf)); err != nil {
		return err
	}
	return d.writeAt("program", buf, addr)
}

func (d *FileDevice) Erase(addr, size uint64) error {
	if d.file == nil {
		return &Error{Op: "erase", Addr: addr, Size: size, Err: ErrClosed}
	}
	if err := d.geo.checkErase(addr, size); err != nil {
		return err
	}
	return d.writeAt("erase", bytes.Repeat([]byte{d.geo.fill()}, int(size)), addr)
}

func (d *FileDevice) writeAt(op string, buf []byte, addr uint64) error {
	if _, err := d.file.WriteAt(buf, int64(addr)); err != nil {
		return &Error{Op: op, Addr: addr, Size: uint64(len(buf)), Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if err := d.file.Sync(); err != nil {
		return &Error{Op: op, Addr: addr, Size: uint64(len(buf)), Err: fmt.Errorf("failed to sync file to disk: %w", err)}
	}
	return nil
}

func (d *FileDevice) Size() uint64        { return d.geo.Size }
func (d *FileDevice) ReadSize() uint64    { return d.geo.ReadSize }
func (d *FileDevice) ProgramSize() uint64 { return d.geo.ProgramSize }
func (d *FileDevice) EraseSize() uint64   { return d.geo.EraseSize }
func (d *FileDevice) EraseValue() int     { return d.geo.EraseValue }

// Close the file.
func (d *FileDevice) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}
