// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package serial

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/ffutop/fota-gateway/internal/config"
	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/protocol"
	"github.com/ffutop/fota-gateway/transport"
)

// maxReadErrors is the number of consecutive read failures after which the
// port is considered gone and reopened.
const maxReadErrors = 10

var errPortFailed = errors.New("serial: too many read errors")

// Server serves one uploader on a serial line.
type Server struct {
	Config config.SerialConfig

	open openFunc
	mu   sync.Mutex
	port io.ReadWriteCloser
}

// NewServer creates a new serial Server.
func NewServer(cfg config.SerialConfig) *Server {
	return &Server{
		Config: cfg,
		open:   openSerial,
	}
}

// Start opens the port and serves frames until ctx is done. A port that fails
// is closed and reopened.
func (s *Server) Start(ctx context.Context, handler transport.Handler) error {
	spConfig := portConfig(s.Config)

	// handle close
	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		port, err := openWithRetry(ctx, s.open, spConfig)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.setPort(port)
		slog.Info("Serial server listening", "device", s.Config.Device)

		err = s.scanLoop(ctx, port, handler)
		s.Close()
		if ctx.Err() != nil {
			return nil
		}
		slog.Error("Serial port failed, reopening", "device", s.Config.Device, "err", err)
	}
}

func (s *Server) setPort(port io.ReadWriteCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.port = port
}

func (s *Server) scanLoop(ctx context.Context, port io.Reader, handler transport.Handler) error {
	errCount := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		req, err := protocol.ReadFrame(port)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, protocol.ErrChecksum) {
				slog.Debug("Dropping corrupted frame", "device", s.Config.Device)
				continue
			}
			if isTimeout(err) {
				// Idle line.
				continue
			}
			errCount++
			if errCount >= maxReadErrors {
				return errPortFailed
			}
			continue
		}
		errCount = 0

		resp, err := transport.HandleFrame(ctx, handler, req)
		if err != nil {
			slog.Error("Upstream handler failed", "err", err)
			continue
		}
		if resp != nil {
			s.write(resp)
		}
	}
}

// isTimeout reports whether err is a read timeout of an idle port.
func isTimeout(err error) bool {
	var te interface{ Timeout() bool }
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return strings.Contains(err.Error(), "timeout")
}

func (s *Server) write(f *protocol.Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return
	}
	if err := protocol.WriteFrame(s.port, f); err != nil {
		slog.Error("Failed to write to serial port", "device", s.Config.Device, "err", err)
	}
}

// Notify writes a notification frame to the line.
func (s *Server) Notify(n fota.Notification) {
	s.write(protocol.NewNotify(n))
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return nil
	}
	err := s.port.Close()
	s.port = nil
	return err
}
