// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package fota implements the transport-facing side of a firmware update: the
// control point, the fragmented binary stream and the status notifications.
package fota

import (
	"errors"
	"fmt"
	"log/slog"
)

var (
	ErrNoSession  = errors.New("fota: no session started")
	ErrFlowPaused = errors.New("fota: flow paused (xoff)")
	ErrSyncLost   = errors.New("fota: fragment out of sequence")
	ErrNoHandler  = errors.New("fota: no event handler")
)

// EventHandler receives control and data writes of an open session.
type EventHandler interface {
	OnControl(op Opcode) Reply
	OnData(buf []byte) error
}

// Notifier delivers status notifications to connected uploaders.
type Notifier interface {
	NotifyStatus(n Notification)
}

// SyncError reports a fragment that did not carry the expected id.
type SyncError struct {
	Expected byte
	Got      byte
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("fota: expected fragment %d, got %d", e.Expected, e.Got)
}

func (e *SyncError) Is(target error) bool {
	return target == ErrSyncLost
}

// Service tracks the session and stream state seen by uploaders. It is not safe
// for concurrent use; all calls must come from the event queue.
type Service struct {
	notifier Notifier
	handler  EventHandler
	revision string

	started    bool
	xoff       bool
	syncLost   bool
	fragmentID byte
	status     Notification
}

// NewService creates a Service reporting revision as its firmware revision.
func NewService(revision string) *Service {
	return &Service{revision: revision}
}

// SetEventHandler installs the session handler.
func (s *Service) SetEventHandler(h EventHandler) {
	s.handler = h
}

// SetNotifier installs the notification sink.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// Revision returns the running firmware revision.
func (s *Service) Revision() string {
	return s.revision
}

// Started reports whether a session is open.
func (s *Service) Started() bool {
	return s.started
}

// Status returns the last notified status along with the fragment id expected
// next.
func (s *Service) Status() Notification {
	return Notification{Status: s.status.Status, FragmentID: s.fragmentID}
}

// WriteControl handles a control point write.
func (s *Service) WriteControl(payload []byte) Reply {
	if len(payload) != 1 {
		return ReplyInvalidLength
	}
	op := Opcode(payload[0])
	if s.handler == nil {
		slog.Error("Control write without handler", "opcode", op)
		return ReplyUnlikelyError
	}

	switch op {
	case OpStart:
		if s.started {
			slog.Warn("Session already started")
			return ReplyInvalidState
		}
		s.startSession()
	case OpStop, OpCommit:
		if !s.started {
			s.notify(StatusNoFOTASession)
			return ReplyInvalidState
		}
	}

	reply := s.handler.OnControl(op)
	switch {
	case op == OpStart && reply != ReplySuccess:
		s.stopSession()
	case op == OpStop && reply == ReplySuccess, op == OpCommit && reply == ReplySuccess:
		s.stopSession()
	}
	slog.Debug("Control point written", "opcode", op, "reply", reply)
	return reply
}

// WriteBinaryStream handles one fragment: [fragment id][data...].
func (s *Service) WriteBinaryStream(payload []byte) error {
	if !s.started {
		s.notify(StatusNoFOTASession)
		return ErrNoSession
	}
	if len(payload) < 1 {
		return fmt.Errorf("fota: empty fragment")
	}
	if s.xoff {
		return ErrFlowPaused
	}

	id, data := payload[0], payload[1:]
	if id != s.fragmentID {
		if !s.syncLost {
			s.syncLost = true
			s.notify(StatusSyncLost)
		}
		return &SyncError{Expected: s.fragmentID, Got: id}
	}
	s.syncLost = false

	if err := s.handler.OnData(data); err != nil {
		var se StatusError
		if errors.As(err, &se) {
			s.notify(se.Status())
		}
		return err
	}
	s.fragmentID++
	return nil
}

// Pause asserts XOFF: further fragments are dropped until Resume.
func (s *Service) Pause() {
	s.xoff = true
	s.notify(StatusXOFF)
}

// Resume clears XOFF.
func (s *Service) Resume() {
	s.xoff = false
	s.notify(StatusXON)
}

// ReportStatus notifies st. The handler reports only failures it cannot
// recover from, so an error status also closes the session and the uploader
// may Start again.
func (s *Service) ReportStatus(st Status) {
	s.notify(st)
	if st.IsError() && s.started {
		s.stopSession()
	}
}

func (s *Service) startSession() {
	s.started = true
	s.xoff = false
	s.syncLost = false
	s.fragmentID = 0
	slog.Info("FOTA session started")
}

func (s *Service) stopSession() {
	s.started = false
	s.xoff = false
	slog.Info("FOTA session closed")
}

func (s *Service) notify(st Status) {
	s.status = Notification{Status: st, FragmentID: s.fragmentID}
	if st.IsError() {
		slog.Warn("FOTA status", "status", st, "fragment", s.fragmentID)
	} else {
		slog.Debug("FOTA status", "status", st, "fragment", s.fragmentID)
	}
	if s.notifier != nil {
		s.notifier.NotifyStatus(s.status)
	}
}
