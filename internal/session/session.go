// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package session drives a firmware update into the secondary slot of a block
// device: it erases the slot, programs the streamed image sequentially and hands
// the result to the bootloader on commit.
//
// A Session is not safe for concurrent use. It is driven from the event queue,
// which also runs the erase steps, so erase and program never overlap.
package session

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ffutop/fota-gateway/internal/blockdev"
	"github.com/ffutop/fota-gateway/internal/eraser"
	"github.com/ffutop/fota-gateway/internal/events"
	"github.com/ffutop/fota-gateway/internal/fota"
)

// DefaultResetDelay leaves time for the commit reply to reach the uploader.
const DefaultResetDelay = 250 * time.Millisecond

// Scheduler posts immediate and delayed calls. *events.Queue satisfies it.
type Scheduler interface {
	eraser.Scheduler
	CallIn(d time.Duration, fn func()) events.ID
}

// Producer is the source of the image data. It is paused while the region is
// erased and receives the session's status reports.
type Producer interface {
	Pause()
	Resume()
	ReportStatus(st fota.Status)
}

// Bootloader marks the image in the secondary slot for installation on the
// next boot.
type Bootloader interface {
	MarkPending(imageSize uint64) error
}

type controlFunc func() fota.Reply

// Session is a single-image update session.
type Session struct {
	dev      blockdev.Device
	sched    Scheduler
	boot     Bootloader
	producer Producer
	opts     options
	controls map[fota.Opcode]controlFunc

	id        uuid.UUID
	log       *slog.Logger
	state     State
	err       error
	cursor    uint64
	eraser    *eraser.Eraser
	permit    permit
	restartID events.ID
}

type options struct {
	base       uint64
	size       uint64
	eraseChunk uint64
	resetDelay time.Duration
	restart    func()
}

// Option configures a Session.
type Option func(*options)

// WithRegion limits the update to [base, base+size) of the device. A zero size
// extends the region to the end of the device.
func WithRegion(base, size uint64) Option {
	return func(o *options) {
		o.base = base
		o.size = size
	}
}

// WithEraseChunk sets the erase chunk size. Zero means the device erase size.
func WithEraseChunk(n uint64) Option {
	return func(o *options) {
		o.eraseChunk = n
	}
}

// WithResetDelay sets the delay between a successful commit and the restart.
func WithResetDelay(d time.Duration) Option {
	return func(o *options) {
		o.resetDelay = d
	}
}

// WithRestart sets the function scheduled after a successful commit.
func WithRestart(fn func()) Option {
	return func(o *options) {
		o.restart = fn
	}
}

// New creates an idle session over dev. The device is borrowed, not owned.
func New(dev blockdev.Device, sched Scheduler, boot Bootloader, producer Producer, opts ...Option) *Session {
	o := options{resetDelay: DefaultResetDelay}
	for _, opt := range opts {
		opt(&o)
	}
	if o.size == 0 && o.base < dev.Size() {
		o.size = dev.Size() - o.base
	}
	if o.eraseChunk == 0 {
		o.eraseChunk = dev.EraseSize()
	}

	s := &Session{
		dev:      dev,
		sched:    sched,
		boot:     boot,
		producer: producer,
		opts:     o,
		log:      slog.Default(),
		cursor:   o.base,
	}
	s.controls = map[fota.Opcode]controlFunc{
		fota.OpNoOp:   s.noop,
		fota.OpStart:  s.start,
		fota.OpStop:   s.stop,
		fota.OpCommit: s.commit,
	}
	return s
}

// OnControl handles a control point opcode.
func (s *Session) OnControl(op fota.Opcode) fota.Reply {
	fn, ok := s.controls[op]
	if !ok {
		s.log.Warn("Unsupported opcode", "opcode", op, "state", s.state)
		return fota.ReplyUnsupportedOpcode
	}
	return fn()
}

// OnData programs buf at the write cursor.
func (s *Session) OnData(buf []byte) error {
	if s.state != StateReady {
		return &ProtocolError{State: s.state, Err: ErrNotReady}
	}
	if !s.permit.held(holderWriter) {
		return &ProtocolError{State: s.state, Err: ErrDeviceBusy}
	}

	end := s.opts.base + s.opts.size
	if s.cursor+uint64(len(buf)) > end {
		err := &RangeError{Cursor: s.cursor, Len: len(buf), End: end}
		s.log.Warn("Image too large", "err", err)
		return err
	}

	if err := s.dev.Program(buf, s.cursor); err != nil {
		derr := &DeviceError{Op: "program", Addr: s.cursor, Err: err}
		s.permit.release(holderWriter)
		s.fail(derr)
		s.producer.ReportStatus(fota.StatusMemoryError)
		return derr
	}
	s.cursor += uint64(len(buf))
	return nil
}

func (s *Session) noop() fota.Reply {
	return fota.ReplySuccess
}

func (s *Session) start() fota.Reply {
	s.teardown()
	s.id = uuid.New()
	s.log = slog.With("session", s.id.String())
	s.err = nil
	s.cursor = s.opts.base

	// Data must stop before the region is touched.
	s.producer.Pause()
	s.permit.grant(holderEraser)

	er := eraser.New(s.dev, s.sched)
	err := er.Start(s.opts.base, s.opts.size, s.opts.eraseChunk, func(err error) {
		s.erased(er, err)
	})
	if err != nil {
		s.permit.release(holderEraser)
		s.producer.Resume()
		s.fail(err)
		return fota.ReplyUnlikelyError
	}
	s.eraser = er
	s.state = StateErasing
	s.log.Info("Erasing update region", "base", s.opts.base, "size", s.opts.size, "chunk", s.opts.eraseChunk)
	return fota.ReplySuccess
}

func (s *Session) erased(er *eraser.Eraser, err error) {
	if s.eraser != er || s.state != StateErasing {
		return
	}
	s.eraser = nil
	if err != nil {
		s.permit.release(holderEraser)
		s.fail(&DeviceError{Op: "erase", Addr: s.opts.base, Err: err})
		s.producer.ReportStatus(fota.StatusMemoryError)
		return
	}

	s.cursor = s.opts.base
	s.permit.grant(holderWriter)
	s.state = StateReady
	s.log.Info("Update region erased, ready for data")
	s.producer.Resume()
}

func (s *Session) stop() fota.Reply {
	if s.state == StateIdle {
		return fota.ReplySuccess
	}
	s.teardown()
	s.state = StateCancelled
	s.log.Info("Update session stopped", "written", s.cursor-s.opts.base)
	return fota.ReplySuccess
}

func (s *Session) commit() fota.Reply {
	if s.state != StateReady {
		s.log.Warn("Commit rejected", "state", s.state)
		return fota.ReplyInvalidState
	}
	s.state = StateCommitRequested
	s.permit.release(holderWriter)

	size := s.cursor - s.opts.base
	if err := s.boot.MarkPending(size); err != nil {
		s.fail(&InstallationError{Err: err})
		s.producer.ReportStatus(fota.StatusInstallationFailure)
		return fota.ReplyUnlikelyError
	}

	s.state = StateCommitted
	s.log.Info("Update committed", "size", size, "reset_delay", s.opts.resetDelay)
	s.producer.ReportStatus(fota.StatusUpdateSuccessful)
	if s.opts.restart != nil {
		s.restartID = s.sched.CallIn(s.opts.resetDelay, s.opts.restart)
	}
	return fota.ReplySuccess
}

func (s *Session) fail(err error) {
	s.state = StateFailed
	s.err = err
	s.log.Error("Update session failed", "err", err)
}

// teardown cancels outstanding erase and restart work and drops the permit.
func (s *Session) teardown() {
	if s.eraser != nil {
		s.eraser.Close()
		s.eraser = nil
	}
	if s.restartID != 0 {
		s.sched.Cancel(s.restartID)
		s.restartID = 0
	}
	s.permit.grant(holderNone)
}

// Close cancels any pending erase step and scheduled restart.
func (s *Session) Close() {
	s.teardown()
}

func (s *Session) State() State    { return s.state }
func (s *Session) Err() error      { return s.err }
func (s *Session) Cursor() uint64  { return s.cursor }
func (s *Session) ID() uuid.UUID   { return s.id }
func (s *Session) Written() uint64 { return s.cursor - s.opts.base }
