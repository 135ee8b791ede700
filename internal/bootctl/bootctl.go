// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package bootctl manages the boot state that tells the bootloader whether to
// install the image in the secondary slot.
package bootctl

import (
	"fmt"
	"log/slog"
	"time"
)

// Controller updates the boot state through a Store.
type Controller struct {
	store Store
	now   func() time.Time
}

// New creates a Controller over store.
func New(store Store) *Controller {
	return &Controller{store: store, now: time.Now}
}

// MarkPending requests a test install of the secondary slot on the next boot.
// The bootloader reverts it unless the new image confirms itself.
func (c *Controller) MarkPending(imageSize uint64) error {
	st, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load boot state: %w", err)
	}
	st.Pending = true
	st.Permanent = false
	st.Confirmed = false
	st.ImageSize = imageSize
	st.UpdatedAt = c.now()
	if err := c.store.Save(st); err != nil {
		return err
	}
	slog.Info("Update marked pending", "image_size", imageSize)
	return nil
}

// Confirm marks the running image as good, so the bootloader keeps it.
func (c *Controller) Confirm() error {
	st, err := c.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load boot state: %w", err)
	}
	if st.Confirmed && !st.Pending {
		return nil
	}
	st.Confirmed = true
	st.Pending = false
	st.UpdatedAt = c.now()
	return c.store.Save(st)
}

// State returns the stored boot state.
func (c *Controller) State() (State, error) {
	return c.store.Load()
}
