// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package session

import (
	"errors"
	"fmt"

	"github.com/ffutop/fota-gateway/internal/fota"
)

var (
	ErrNotReady       = errors.New("session: not accepting data")
	ErrDeviceBusy     = errors.New("session: device held by another user")
	ErrRegionOverflow = errors.New("session: write exceeds update region")
)

// ProtocolError reports a request that is not valid in the current state.
type ProtocolError struct {
	State State
	Err   error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("session: %v in state %s", e.Err, e.State)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// RangeError reports a data write past the end of the update region. The write
// cursor is left unchanged.
type RangeError struct {
	Cursor uint64
	Len    int
	End    uint64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("session: write of %d bytes at 0x%X exceeds region end 0x%X", e.Len, e.Cursor, e.End)
}

func (e *RangeError) Is(target error) bool {
	return target == ErrRegionOverflow
}

// Status makes the uploader see the overflow as out of memory.
func (e *RangeError) Status() fota.Status {
	return fota.StatusOutOfMemory
}

// DeviceError reports an erase or program failure. The session is failed.
type DeviceError struct {
	Op   string
	Addr uint64
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("session: %s at 0x%X failed: %v", e.Op, e.Addr, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// InstallationError reports that the bootloader refused to mark the image.
type InstallationError struct {
	Err error
}

func (e *InstallationError) Error() string {
	return fmt.Sprintf("session: failed to mark update pending: %v", e.Err)
}

func (e *InstallationError) Unwrap() error {
	return e.Err
}
