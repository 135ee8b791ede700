// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/protocol"
)

// Handler is the update service as seen by a transport. Calls may come from any
// goroutine and block until the service has handled them.
type Handler interface {
	// Control writes the control point and returns its reply.
	Control(ctx context.Context, payload []byte) (fota.Reply, error)
	// Data writes one binary stream fragment: [fragment id][data...].
	Data(ctx context.Context, payload []byte) error
	// Status reads the status characteristic.
	Status(ctx context.Context) (fota.Notification, error)
	// Revision returns the running firmware revision.
	Revision() string
}

// Upstream represents a source of update traffic (an uploader connected to us).
// It acts as a Server.
type Upstream interface {
	// Start starts the server and blocks. It should be called in a goroutine.
	Start(ctx context.Context, handler Handler) error
	// Notify pushes a status notification to connected uploaders. It must not block.
	Notify(n fota.Notification)
	Close() error
}

// HandleFrame serves one request frame and returns the response frame, or nil
// for frames that have no response. Data errors are reported to the uploader
// through notifications, so they are only logged here.
func HandleFrame(ctx context.Context, h Handler, f *protocol.Frame) (*protocol.Frame, error) {
	switch f.Type {
	case protocol.FrameControl:
		reply, err := h.Control(ctx, f.Payload)
		if err != nil {
			return nil, err
		}
		return protocol.NewControlReply(reply), nil
	case protocol.FrameData:
		if err := h.Data(ctx, f.Payload); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			slog.Debug("Fragment rejected", "err", err)
		}
		return nil, nil
	case protocol.FrameStatusRead:
		n, err := h.Status(ctx)
		if err != nil {
			return nil, err
		}
		return protocol.NewStatusReply(n), nil
	}
	return nil, fmt.Errorf("unexpected frame type 0x%02X", byte(f.Type))
}
