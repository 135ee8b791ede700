// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package http exposes the update service as a small REST API. HTTP cannot push
// notifications, so uploaders poll /status instead.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/ffutop/fota-gateway/internal/fota"
	"github.com/ffutop/fota-gateway/protocol"
	"github.com/ffutop/fota-gateway/transport"
)

const shutdownTimeout = 5 * time.Second

// Server implements an HTTP Server for uploaders.
type Server struct {
	Address string

	mu  sync.Mutex
	srv *http.Server
}

// NewServer creates a new HTTP Server.
func NewServer(address string) *Server {
	return &Server{Address: address}
}

type controlRequest struct {
	Opcode fota.Opcode `json:"opcode"`
}

type controlResponse struct {
	Reply   fota.Reply `json:"reply"`
	Message string     `json:"message"`
}

type statusResponse struct {
	Status     fota.Status `json:"status"`
	Message    string      `json:"message"`
	FragmentID byte        `json:"fragment_id"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter returns the API routes served for handler.
func NewRouter(handler transport.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/control", func(w http.ResponseWriter, req *http.Request) {
		var body controlRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("invalid request: %v", err)})
			return
		}
		reply, err := handler.Control(req.Context(), []byte{byte(body.Opcode)})
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, controlResponse{Reply: reply, Message: reply.String()})
	}).Methods(http.MethodPost)

	r.HandleFunc("/data/{fragment:[0-9]+}", func(w http.ResponseWriter, req *http.Request) {
		id, err := strconv.ParseUint(mux.Vars(req)["fragment"], 10, 8)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "fragment id must be 0-255"})
			return
		}
		data, err := io.ReadAll(io.LimitReader(req.Body, protocol.MaxFragment+1))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		if len(data) > protocol.MaxFragment {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "fragment too large"})
			return
		}
		payload := append([]byte{byte(id)}, data...)
		if err := handler.Data(req.Context(), payload); err != nil {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		n, err := handler.Status(req.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{Status: n.Status, Message: n.Status.String(), FragmentID: n.FragmentID})
	}).Methods(http.MethodGet)

	r.HandleFunc("/version", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"revision": handler.Revision()})
	}).Methods(http.MethodGet)

	return r
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write HTTP response", "err", err)
	}
}

// Start starts the HTTP server.
func (s *Server) Start(ctx context.Context, handler transport.Handler) error {
	srv := &http.Server{
		Addr:              s.Address,
		Handler:           NewRouter(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.srv = srv
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	slog.Info("FOTA HTTP server listening", "addr", s.Address)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve on %s: %w", s.Address, err)
	}
	return nil
}

// Notify is a no-op: HTTP uploaders poll /status.
func (s *Server) Notify(n fota.Notification) {}

// Close shuts the server down, letting in-flight requests finish.
func (s *Server) Close() error {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
