// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package testonly provides device wrappers for tests.
package testonly

import (
	"errors"

	"github.com/ffutop/fota-gateway/internal/blockdev"
)

// ErrInjected is returned by operations a Recorder has been told to fail.
var ErrInjected = errors.New("testonly: injected device failure")

// Op is a recorded device call.
type Op struct {
	Addr uint64
	Size uint64
}

// Recorder wraps a Device and records every erase and program call. FailEraseAt
// and FailProgramAt make the n-th call (1-based) of that kind fail with
// ErrInjected without reaching the wrapped device.
type Recorder struct {
	blockdev.Device

	Erases   []Op
	Programs []Op

	FailEraseAt   int
	FailProgramAt int
}

// NewRecorder wraps dev.
func NewRecorder(dev blockdev.Device) *Recorder {
	return &Recorder{Device: dev}
}

// NewHeapRecorder wraps a fresh heap device of the given geometry.
func NewHeapRecorder(size, eraseSize uint64) *Recorder {
	dev, err := blockdev.NewHeapDevice(blockdev.Geometry{
		Size:        size,
		ReadSize:    1,
		ProgramSize: 1,
		EraseSize:   eraseSize,
		EraseValue:  0xFF,
	})
	if err != nil {
		panic(err)
	}
	return NewRecorder(dev)
}

func (r *Recorder) Erase(addr, size uint64) error {
	r.Erases = append(r.Erases, Op{Addr: addr, Size: size})
	if len(r.Erases) == r.FailEraseAt {
		return &blockdev.Error{Op: "erase", Addr: addr, Size: size, Err: ErrInjected}
	}
	return r.Device.Erase(addr, size)
}

func (r *Recorder) Program(buf []byte, addr uint64) error {
	r.Programs = append(r.Programs, Op{Addr: addr, Size: uint64(len(buf))})
	if len(r.Programs) == r.FailProgramAt {
		return &blockdev.Error{Op: "program", Addr: addr, Size: uint64(len(buf)), Err: ErrInjected}
	}
	return r.Device.Program(buf, addr)
}

// Contents reads back the whole device.
func (r *Recorder) Contents() []byte {
	buf := make([]byte, r.Size())
	if err := r.Read(buf, 0); err != nil {
		panic(err)
	}
	return buf
}
