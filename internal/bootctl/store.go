// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package bootctl

import (
	"fmt"
	"time"

	"github.com/ffutop/fota-gateway/internal/config"
)

// State is the boot state shared with the bootloader.
type State struct {
	// Pending is set when the secondary slot holds an image to install.
	Pending bool `json:"pending"`
	// Permanent makes the install final; otherwise the bootloader reverts
	// unless the new image confirms itself.
	Permanent bool `json:"permanent"`
	// Confirmed is set by the running image once it has booted.
	Confirmed bool      `json:"confirmed"`
	ImageSize uint64    `json:"image_size"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists the boot state.
type Store interface {
	// Load returns the stored state, or the zero State if nothing was stored.
	Load() (State, error)
	Save(st State) error
	Close() error
}

// Open creates the store described by cfg.
func Open(cfg config.BootloaderConfig) (Store, error) {
	switch cfg.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Path), nil
	case "sql":
		s := NewSQLStore(cfg.Driver, cfg.DSN)
		if err := s.Open(); err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("unknown bootloader store type: %s", cfg.Type)
}
