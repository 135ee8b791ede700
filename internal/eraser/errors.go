// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package eraser

import (
	"errors"
	"fmt"
)

// ErrInvalidParameters matches every *ParameterError.
var ErrInvalidParameters = errors.New("eraser: invalid parameters")

// ParameterError reports an erase request rejected before any device access.
type ParameterError struct {
	Addr      uint64
	Size      uint64
	ChunkSize uint64
	Reason    string
}

func (e *ParameterError) Error() string {
	return fmt.Sprintf("eraser: invalid parameters addr=0x%X size=%d chunk=%d: %s", e.Addr, e.Size, e.ChunkSize, e.Reason)
}

func (e *ParameterError) Is(target error) bool {
	return target == ErrInvalidParameters
}

// EraseError reports a device failure while erasing a chunk.
type EraseError struct {
	Addr uint64
	Err  error
}

func (e *EraseError) Error() string {
	return fmt.Sprintf("eraser: erase at 0x%X failed: %v", e.Addr, e.Err)
}

func (e *EraseError) Unwrap() error {
	return e.Err
}
