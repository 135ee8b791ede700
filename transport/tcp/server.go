// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package tcp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"

	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/protocol"
	"github.com/ffutop/fota-gateway/transport"
)

// outboxSize bounds the frames queued for one client. Notifications beyond it
// are dropped for that client.
const outboxSize = 32

// Server implements a framed TCP server for uploaders.
type Server struct {
	Address string

	mu       sync.Mutex
	listener net.Listener
	clients  map[*client]struct{}
}

type client struct {
	conn   net.Conn
	outbox chan []byte
	done   chan struct{}
}

// NewServer creates a new TCP Server.
func NewServer(address string) *Server {
	return &Server{
		Address: address,
		clients: make(map[*client]struct{}),
	}
}

// Start starts the TCP server.
func (s *Server) Start(ctx context.Context, handler transport.Handler) error {
	listener, err := net.Listen("tcp", s.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.Address, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	slog.Info("FOTA TCP server listening", "addr", s.Address)

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			// Check if closed
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("Failed to accept connection", "err", err)
			continue
		}
		go s.handleConnection(ctx, conn, handler)
	}
}

// Close closes the server listener.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Notify queues a notification frame for every connected client.
func (s *Server) Notify(n fota.Notification) {
	raw, err := protocol.NewNotify(n).Encode()
	if err != nil {
		slog.Error("Failed to encode notification", "err", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.outbox <- raw:
		default:
			slog.Warn("Dropping notification for slow client", "addr", c.conn.RemoteAddr(), "status", n.Status)
		}
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn, handler transport.Handler) {
	c := &client{
		conn:   conn,
		outbox: make(chan []byte, outboxSize),
		done:   make(chan struct{}),
	}
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.done)
		conn.Close()
	}()
	slog.Info("New TCP client connected", "addr", conn.RemoteAddr())

	go s.writeLoop(ctx, c)

	r := bufio.NewReader(conn)
	for {
		req, err := protocol.ReadFrame(r)
		if err != nil {
			if errors.Is(err, protocol.ErrChecksum) {
				slog.Warn("Dropping corrupted frame", "addr", conn.RemoteAddr())
				continue
			}
			if err == io.EOF {
				slog.Info("TCP client disconnected gracefully", "addr", conn.RemoteAddr())
			} else if ctx.Err() == nil {
				slog.Error("Failed to read from connection", "addr", conn.RemoteAddr(), "err", err)
			}
			return
		}

		resp, err := transport.HandleFrame(ctx, handler, req)
		if err != nil {
			slog.Error("Handler failed", "addr", conn.RemoteAddr(), "err", err)
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if resp == nil {
			continue
		}

		raw, err := resp.Encode()
		if err != nil {
			slog.Error("Failed to encode TCP response", "err", err)
			continue
		}
		select {
		case c.outbox <- raw:
		case <-ctx.Done():
			return
		}
	}
}

// writeLoop owns all writes to the connection, so replies and notifications
// reach the client in the order they were queued.
func (s *Server) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case raw := <-c.outbox:
			if _, err := c.conn.Write(raw); err != nil {
				slog.Error("Failed to write to connection", "addr", c.conn.RemoteAddr(), "err", err)
				c.conn.Close()
				return
			}
		case <-ctx.Done():
			c.conn.Close()
			return
		case <-c.done:
			return
		}
	}
}
