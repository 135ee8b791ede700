// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package blockdev

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"

	"github.com/ffutop/fota-gateway/internal/config"
)

var testGeometry = Geometry{
	Size:        0x800,
	ReadSize:    1,
	ProgramSize: 1,
	EraseSize:   0x100,
	EraseValue:  0xFF,
}

func TestGeometry_Validate(t *testing.T) {
	tests := []struct {
		name    string
		geo     Geometry
		wantErr bool
	}{
		{"Valid", testGeometry, false},
		{"ZeroErase", Geometry{Size: 0x800, ReadSize: 1, ProgramSize: 1}, true},
		{"SizeNotErasable", Geometry{Size: 0x810, ReadSize: 1, ProgramSize: 1, EraseSize: 0x100}, true},
		{"ProgramNotDivisor", Geometry{Size: 0x800, ReadSize: 1, ProgramSize: 0x30, EraseSize: 0x100}, true},
		{"BadEraseValue", Geometry{Size: 0x800, ReadSize: 1, ProgramSize: 1, EraseSize: 0x100, EraseValue: 0x100}, true},
		{"UndefinedEraseValue", Geometry{Size: 0x800, ReadSize: 1, ProgramSize: 1, EraseSize: 0x100, EraseValue: -1}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.geo.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// openDevices returns every backend over fresh storage.
func openDevices(t *testing.T) map[string]Device {
	t.Helper()
	dir := t.TempDir()

	heap, err := NewHeapDevice(testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	file, err := OpenFileDevice(filepath.Join(dir, "flash.bin"), testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { file.Close() })
	mm, err := OpenMmapDevice(filepath.Join(dir, "flash.mmap"), testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mm.Close() })

	return map[string]Device{"heap": heap, "file": file, "mmap": mm}
}

func TestDevice_EraseProgramRead(t *testing.T) {
	for name, dev := range openDevices(t) {
		t.Run(name, func(t *testing.T) {
			buf := make([]byte, 0x10)
			if err := dev.Read(buf, 0x200); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !bytes.Equal(buf, bytes.Repeat([]byte{0xFF}, 0x10)) {
				t.Fatalf("fresh device not erased: % X", buf)
			}

			data := []byte("firmware image")
			if err := dev.Program(data, 0x200); err != nil {
				t.Fatalf("Program() error = %v", err)
			}
			got := make([]byte, len(data))
			if err := dev.Read(got, 0x200); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !bytes.Equal(got, data) {
				t.Errorf("Read() = %q, want %q", got, data)
			}

			if err := dev.Erase(0x200, 0x100); err != nil {
				t.Fatalf("Erase() error = %v", err)
			}
			if err := dev.Read(got, 0x200); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if !bytes.Equal(got, bytes.Repeat([]byte{0xFF}, len(data))) {
				t.Errorf("erased region reads % X", got)
			}
		})
	}
}

func TestDevice_Bounds(t *testing.T) {
	for name, dev := range openDevices(t) {
		t.Run(name, func(t *testing.T) {
			if err := dev.Erase(0x800, 0x100); !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Erase() past end error = %v, want ErrOutOfBounds", err)
			}
			if err := dev.Erase(0x10, 0x100); !errors.Is(err, ErrUnaligned) {
				t.Errorf("Erase() unaligned error = %v, want ErrUnaligned", err)
			}
			if err := dev.Program(make([]byte, 2), 0x7FF); !errors.Is(err, ErrOutOfBounds) {
				t.Errorf("Program() past end error = %v, want ErrOutOfBounds", err)
			}
			var devErr *Error
			if err := dev.Read(make([]byte, 1), 0x900); !errors.As(err, &devErr) || devErr.Op != "read" {
				t.Errorf("Read() error = %v, want *Error with op read", err)
			}
		})
	}
}

func TestFileDevice_Persistence(t *testing.T) {
	tests := []struct {
		name string
		open func(path string) (Device, error)
	}{
		{"file", func(path string) (Device, error) { return OpenFileDevice(path, testGeometry) }},
		{"mmap", func(path string) (Device, error) { return OpenMmapDevice(path, testGeometry) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "flash.bin")
			dev, err := tt.open(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := dev.Program([]byte{0x01, 0x02, 0x03}, 0x100); err != nil {
				t.Fatalf("Program() error = %v", err)
			}
			if err := dev.(io.Closer).Close(); err != nil {
				t.Fatalf("Close() error = %v", err)
			}

			dev, err = tt.open(path)
			if err != nil {
				t.Fatal(err)
			}
			defer dev.(io.Closer).Close()

			got := make([]byte, 4)
			if err := dev.Read(got, 0x100); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if want := []byte{0x01, 0x02, 0x03, 0xFF}; !bytes.Equal(got, want) {
				t.Errorf("Read() after reopen = % X, want % X", got, want)
			}
		})
	}
}

func TestFileDevice_Closed(t *testing.T) {
	dev, err := OpenFileDevice(filepath.Join(t.TempDir(), "flash.bin"), testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	dev.Close()
	if err := dev.Erase(0, 0x100); !errors.Is(err, ErrClosed) {
		t.Errorf("Erase() on closed device error = %v, want ErrClosed", err)
	}
}

func TestSlicingDevice(t *testing.T) {
	base, err := NewHeapDevice(testGeometry)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewSlicingDevice(base, 0x80, 0x400); err == nil {
		t.Error("NewSlicingDevice() accepted unaligned start")
	}
	if _, err := NewSlicingDevice(base, 0x400, 0x900); err == nil {
		t.Error("NewSlicingDevice() accepted stop past device end")
	}

	slot, err := NewSlicingDevice(base, 0x400, 0x800)
	if err != nil {
		t.Fatal(err)
	}
	if slot.Size() != 0x400 {
		t.Errorf("Size() = 0x%X, want 0x400", slot.Size())
	}
	if err := slot.Program([]byte{0xAB}, 0x10); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	got := make([]byte, 1)
	if err := base.Read(got, 0x410); err != nil {
		t.Fatal(err)
	}
	if got[0] != 0xAB {
		t.Errorf("underlying byte = 0x%02X, want 0xAB", got[0])
	}
	if err := slot.Erase(0x400, 0x100); !errors.Is(err, ErrOutOfBounds) {
		t.Errorf("Erase() past slot end error = %v, want ErrOutOfBounds", err)
	}
}

func TestOpen(t *testing.T) {
	cfg := config.DeviceConfig{
		Type:        "file",
		Path:        filepath.Join(t.TempDir(), "flash.bin"),
		Size:        0x800,
		ReadSize:    1,
		ProgramSize: 1,
		EraseSize:   0x100,
		EraseValue:  0xFF,
		Slot:        config.SlotConfig{Offset: 0x400},
	}
	dev, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer dev.(io.Closer).Close()
	if dev.Size() != 0x400 {
		t.Errorf("slot Size() = 0x%X, want 0x400", dev.Size())
	}

	cfg.Type = "nand"
	if _, err := Open(cfg); err == nil {
		t.Error("Open() accepted unknown device type")
	}
}
