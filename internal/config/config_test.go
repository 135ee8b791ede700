// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
log:
  level: debug
device:
  type: MMAP
  path: /var/lib/fotad/flash.bin
  size: 2048
  erase_size: 256
  slot:
    offset: 1024
    size: 1024
update:
  erase_chunk: 512
  reset_delay: 1s
bootloader:
  type: sql
  dsn: /var/lib/fotad/boot.db
transports:
  - type: tcp
    tcp:
      address: 0.0.0.0:7070
  - type: serial
    serial:
      device: /dev/ttyUSB0
      parity: e
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	wantDevice := DeviceConfig{
		Type:        "mmap",
		Path:        "/var/lib/fotad/flash.bin",
		Size:        2048,
		ReadSize:    1,
		ProgramSize: 1,
		EraseSize:   256,
		EraseValue:  0xFF,
		Slot:        SlotConfig{Offset: 1024, Size: 1024},
	}
	if diff := cmp.Diff(wantDevice, cfg.Device); diff != "" {
		t.Errorf("device config mismatch (-want +got):\n%s", diff)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Update.EraseChunk != 512 || cfg.Update.ResetDelay != time.Second {
		t.Errorf("update config = %+v", cfg.Update)
	}
	if cfg.Bootloader.Driver != "sqlite3" {
		t.Errorf("bootloader driver = %q, want sqlite3", cfg.Bootloader.Driver)
	}
	if len(cfg.Transports) != 2 {
		t.Fatalf("got %d transports, want 2", len(cfg.Transports))
	}
	serial := cfg.Transports[1].Serial
	if serial.Parity != "E" || serial.BaudRate != 115200 || serial.Timeout != 500*time.Millisecond {
		t.Errorf("serial fixups not applied: %+v", serial)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Device.Type != "memory" || cfg.Device.EraseSize != 0x1000 {
		t.Errorf("device defaults = %+v", cfg.Device)
	}
	if cfg.Update.ResetDelay != 250*time.Millisecond {
		t.Errorf("reset delay = %v, want 250ms", cfg.Update.ResetDelay)
	}
	if len(cfg.Transports) != 1 || cfg.Transports[0].Tcp.Address != DefaultTcpAddress {
		t.Errorf("default transports = %+v", cfg.Transports)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadConfig() expected error for missing explicit file")
	}
}
