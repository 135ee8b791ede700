// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package blockdev provides block devices with flash semantics: a region must be
// erased before it is programmed, and every access is aligned to the device
// geometry.
package blockdev

import (
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds = errors.New("blockdev: access out of bounds")
	ErrUnaligned   = errors.New("blockdev: access not aligned to device geometry")
	ErrClosed      = errors.New("blockdev: device closed")
)

// Device is a block-addressed storage device.
type Device interface {
	// Read fills buf with the content at addr.
	Read(buf []byte, addr uint64) error
	// Program writes buf at addr. The region must have been erased.
	Program(buf []byte, addr uint64) error
	// Erase resets [addr, addr+size) to the erase value.
	Erase(addr, size uint64) error

	Size() uint64
	ReadSize() uint64
	ProgramSize() uint64
	EraseSize() uint64
	// EraseValue is the byte value of erased storage, or -1 if undefined.
	EraseValue() int
}

// Error records a failed device operation.
type Error struct {
	Op   string
	Addr uint64
	Size uint64
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("blockdev: %s 0x%X+%d: %v", e.Op, e.Addr, e.Size, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
