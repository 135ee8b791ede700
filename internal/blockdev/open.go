// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/ffutop/fota-gateway/internal/config"
)

// Open creates the device described by cfg. When a slot is configured the
// returned device is the slot window. Devices that hold resources implement
// io.Closer.
func Open(cfg config.DeviceConfig) (Device, error) {
	geo := Geometry{
		Size:        cfg.Size,
		ReadSize:    cfg.ReadSize,
		ProgramSize: cfg.ProgramSize,
		EraseSize:   cfg.EraseSize,
		EraseValue:  cfg.EraseValue,
	}

	var dev Device
	var err error
	switch cfg.Type {
	case "memory", "":
		dev, err = NewHeapDevice(geo)
	case "file":
		dev, err = OpenFileDevice(cfg.Path, geo)
	case "mmap":
		dev, err = OpenMmapDevice(cfg.Path, geo)
	default:
		return nil, fmt.Errorf("unknown device type: %s", cfg.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device: %w", cfg.Type, err)
	}
	slog.Info("Block device opened", "type", cfg.Type, "path", cfg.Path, "size", geo.Size, "erase_size", geo.EraseSize)

	if cfg.Slot.Size == 0 && cfg.Slot.Offset == 0 {
		return dev, nil
	}
	stop := cfg.Slot.Offset + cfg.Slot.Size
	if cfg.Slot.Size == 0 {
		stop = dev.Size()
	}
	slot, err := NewSlicingDevice(dev, cfg.Slot.Offset, stop)
	if err != nil {
		if c, ok := dev.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("failed to slice update slot: %w", err)
	}
	return slot, nil
}
