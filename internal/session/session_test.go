// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ffutop/fota-gateway/internal/blockdev/testonly"
	"github.com/ffutop/fota-gateway/internal/eraser"
	"github.com/ffutop/fota-gateway/internal/events"
	"github.com/ffutop/fota-gateway/internal/fota"
)

const (
	bdSize    = 0x800
	eraseSize = 0x100
)

type fakeProducer struct {
	calls    []string
	statuses []fota.Status
}

func (p *fakeProducer) Pause()  { p.calls = append(p.calls, "pause") }
func (p *fakeProducer) Resume() { p.calls = append(p.calls, "resume") }
func (p *fakeProducer) ReportStatus(st fota.Status) {
	p.statuses = append(p.statuses, st)
}

type fakeBootloader struct {
	calls int
	size  uint64
	err   error
}

func (b *fakeBootloader) MarkPending(size uint64) error {
	b.calls++
	b.size = size
	return b.err
}

type fixture struct {
	dev      *testonly.Recorder
	queue    *events.Queue
	boot     *fakeBootloader
	producer *fakeProducer
	session  *Session
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		dev:      testonly.NewHeapRecorder(bdSize, eraseSize),
		queue:    events.NewQueue(),
		boot:     &fakeBootloader{},
		producer: &fakeProducer{},
	}
	f.session = New(f.dev, f.queue, f.boot, f.producer, opts...)
	t.Cleanup(f.session.Close)
	return f
}

func (f *fixture) drain() {
	for f.queue.DispatchOnce() {
	}
}

func (f *fixture) startReady(t *testing.T) {
	t.Helper()
	if got := f.session.OnControl(fota.OpStart); got != fota.ReplySuccess {
		t.Fatalf("start reply = %v", got)
	}
	f.drain()
	if f.session.State() != StateReady {
		t.Fatalf("state after erase = %v, want ready", f.session.State())
	}
}

func fill(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func TestSession_FullUpdate(t *testing.T) {
	f := newFixture(t, WithRestart(nil))

	if got := f.session.OnControl(fota.OpStart); got != fota.ReplySuccess {
		t.Fatalf("start reply = %v", got)
	}
	if f.session.State() != StateErasing {
		t.Fatalf("state = %v, want erasing", f.session.State())
	}
	if diff := cmp.Diff([]string{"pause"}, f.producer.calls); diff != "" {
		t.Fatalf("producer calls mismatch (-want +got):\n%s", diff)
	}
	if len(f.dev.Erases) != 0 {
		t.Fatal("erase ran before the queue was dispatched")
	}

	// Writes and commits during the erase are rejected without touching the device.
	if err := f.session.OnData(fill(16, 0x11)); !errors.Is(err, ErrNotReady) {
		t.Errorf("data while erasing error = %v, want ErrNotReady", err)
	}
	if got := f.session.OnControl(fota.OpCommit); got != fota.ReplyInvalidState {
		t.Errorf("commit while erasing reply = %v, want invalid state", got)
	}
	if f.boot.calls != 0 {
		t.Error("bootloader reached while erasing")
	}

	f.drain()
	if f.session.State() != StateReady {
		t.Fatalf("state = %v, want ready", f.session.State())
	}
	if len(f.dev.Erases) != bdSize/eraseSize {
		t.Errorf("erase calls = %d, want %d", len(f.dev.Erases), bdSize/eraseSize)
	}
	if diff := cmp.Diff([]string{"pause", "resume"}, f.producer.calls); diff != "" {
		t.Errorf("producer calls mismatch (-want +got):\n%s", diff)
	}

	var image []byte
	for i := range 3 {
		buf := fill(512, byte(0xA0+i))
		if err := f.session.OnData(buf); err != nil {
			t.Fatalf("data %d error = %v", i, err)
		}
		image = append(image, buf...)
	}
	if f.session.Cursor() != 1536 {
		t.Errorf("cursor = %d, want 1536", f.session.Cursor())
	}

	err := f.session.OnData(fill(600, 0xEE))
	if !errors.Is(err, ErrRegionOverflow) {
		t.Fatalf("oversized data error = %v, want ErrRegionOverflow", err)
	}
	var se fota.StatusError
	if !errors.As(err, &se) || se.Status() != fota.StatusOutOfMemory {
		t.Errorf("overflow error does not report out of memory: %v", err)
	}
	if f.session.Cursor() != 1536 || f.session.State() != StateReady {
		t.Errorf("overflow changed cursor=%d state=%v", f.session.Cursor(), f.session.State())
	}

	contents := f.dev.Contents()
	if !bytes.Equal(contents[:1536], image) {
		t.Error("programmed region differs from the streamed image")
	}
	if !bytes.Equal(contents[1536:], fill(bdSize-1536, 0xFF)) {
		t.Error("region past the image is not erased")
	}

	if got := f.session.OnControl(fota.OpCommit); got != fota.ReplySuccess {
		t.Fatalf("commit reply = %v", got)
	}
	if f.session.State() != StateCommitted {
		t.Errorf("state = %v, want committed", f.session.State())
	}
	if f.boot.calls != 1 || f.boot.size != 1536 {
		t.Errorf("bootloader calls=%d size=%d", f.boot.calls, f.boot.size)
	}
	if diff := cmp.Diff([]fota.Status{fota.StatusUpdateSuccessful}, f.producer.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_CommitSchedulesRestart(t *testing.T) {
	var f *fixture
	restarted := false
	f = newFixture(t, WithResetDelay(10*time.Millisecond), WithRestart(func() {
		restarted = true
		f.queue.Break()
	}))
	f.startReady(t)

	start := time.Now()
	if got := f.session.OnControl(fota.OpCommit); got != fota.ReplySuccess {
		t.Fatalf("commit reply = %v", got)
	}
	if restarted {
		t.Fatal("restart ran synchronously")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.queue.Dispatch(ctx); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if !restarted {
		t.Error("restart not run")
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("restart ran before the reset delay")
	}
}

func TestSession_CommitFailure(t *testing.T) {
	f := newFixture(t, WithRestart(func() { t.Error("restart scheduled after failed commit") }))
	f.boot.err = errors.New("image trailer write failed")
	f.startReady(t)

	if got := f.session.OnControl(fota.OpCommit); got != fota.ReplyUnlikelyError {
		t.Fatalf("commit reply = %v, want unlikely error", got)
	}
	if f.session.State() != StateFailed {
		t.Errorf("state = %v, want failed", f.session.State())
	}
	var ierr *InstallationError
	if !errors.As(f.session.Err(), &ierr) {
		t.Errorf("Err() = %v, want *InstallationError", f.session.Err())
	}
	if diff := cmp.Diff([]fota.Status{fota.StatusInstallationFailure}, f.producer.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if f.queue.Pending() != 0 {
		t.Errorf("queue holds %d calls after failed commit", f.queue.Pending())
	}
}

func TestSession_EraseFailure(t *testing.T) {
	f := newFixture(t)
	f.dev.FailEraseAt = 3

	f.session.OnControl(fota.OpStart)
	f.drain()

	if f.session.State() != StateFailed {
		t.Fatalf("state = %v, want failed", f.session.State())
	}
	if len(f.dev.Erases) != 3 {
		t.Errorf("erase calls = %d, want 3", len(f.dev.Erases))
	}
	var derr *DeviceError
	if !errors.As(f.session.Err(), &derr) || derr.Op != "erase" || !errors.Is(derr, testonly.ErrInjected) {
		t.Errorf("Err() = %v, want erase DeviceError", f.session.Err())
	}
	if diff := cmp.Diff([]fota.Status{fota.StatusMemoryError}, f.producer.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"pause"}, f.producer.calls); diff != "" {
		t.Errorf("producer resumed after failed erase:\n%s", diff)
	}
	if err := f.session.OnData(fill(4, 0)); !errors.Is(err, ErrNotReady) {
		t.Errorf("data after failure error = %v, want ErrNotReady", err)
	}
}

func TestSession_ProgramFailure(t *testing.T) {
	f := newFixture(t)
	f.dev.FailProgramAt = 2
	f.startReady(t)

	if err := f.session.OnData(fill(64, 0x01)); err != nil {
		t.Fatalf("first write error = %v", err)
	}
	err := f.session.OnData(fill(64, 0x02))
	if !errors.Is(err, testonly.ErrInjected) {
		t.Fatalf("second write error = %v, want injected failure", err)
	}
	if f.session.State() != StateFailed {
		t.Errorf("state = %v, want failed", f.session.State())
	}
	if diff := cmp.Diff([]fota.Status{fota.StatusMemoryError}, f.producer.statuses); diff != "" {
		t.Errorf("statuses mismatch (-want +got):\n%s", diff)
	}
	if err := f.session.OnData(fill(64, 0x03)); !errors.Is(err, ErrNotReady) {
		t.Errorf("write after failure error = %v, want ErrNotReady", err)
	}
	if len(f.dev.Programs) != 2 {
		t.Errorf("program calls = %d, want 2 (no retry)", len(f.dev.Programs))
	}
}

func TestSession_StopDuringErase(t *testing.T) {
	f := newFixture(t)

	f.session.OnControl(fota.OpStart)
	f.queue.DispatchOnce()
	if got := f.session.OnControl(fota.OpStop); got != fota.ReplySuccess {
		t.Fatalf("stop reply = %v", got)
	}
	f.drain()

	if f.session.State() != StateCancelled {
		t.Errorf("state = %v, want cancelled", f.session.State())
	}
	if len(f.dev.Erases) != 1 {
		t.Errorf("erase calls = %d after stop, want 1", len(f.dev.Erases))
	}
	if err := f.session.OnData(fill(4, 0)); !errors.Is(err, ErrNotReady) {
		t.Errorf("data after stop error = %v, want ErrNotReady", err)
	}

	// A new session erases the whole region again.
	f.startReady(t)
	if len(f.dev.Erases) != 1+bdSize/eraseSize {
		t.Errorf("erase calls = %d, want %d", len(f.dev.Erases), 1+bdSize/eraseSize)
	}
}

func TestSession_StartReplacesSession(t *testing.T) {
	f := newFixture(t)
	f.startReady(t)
	if err := f.session.OnData(fill(32, 0x55)); err != nil {
		t.Fatal(err)
	}
	first := f.session.ID()

	f.startReady(t)
	if f.session.ID() == first {
		t.Error("session ID not renewed")
	}
	if f.session.Written() != 0 {
		t.Errorf("Written() = %d after restart, want 0", f.session.Written())
	}
	if got := f.dev.Contents()[:32]; !bytes.Equal(got, fill(32, 0xFF)) {
		t.Error("previous image not erased by the new session")
	}
}

func TestSession_Controls(t *testing.T) {
	tests := []struct {
		name      string
		op        fota.Opcode
		want      fota.Reply
		wantState State
	}{
		{"NoOp", fota.OpNoOp, fota.ReplySuccess, StateIdle},
		{"Unsupported", fota.Opcode(0x07), fota.ReplyUnsupportedOpcode, StateIdle},
		{"StopWhenIdle", fota.OpStop, fota.ReplySuccess, StateIdle},
		{"CommitWhenIdle", fota.OpCommit, fota.ReplyInvalidState, StateIdle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			if got := f.session.OnControl(tt.op); got != tt.want {
				t.Errorf("OnControl(%v) = %v, want %v", tt.op, got, tt.want)
			}
			if f.session.State() != tt.wantState {
				t.Errorf("state = %v, want %v", f.session.State(), tt.wantState)
			}
			if f.boot.calls != 0 {
				t.Error("bootloader called")
			}
		})
	}
}

func TestSession_Region(t *testing.T) {
	f := newFixture(t, WithRegion(0x400, 0x200), WithEraseChunk(0x200))
	f.startReady(t)

	want := []testonly.Op{{Addr: 0x400, Size: 0x200}}
	if diff := cmp.Diff(want, f.dev.Erases); diff != "" {
		t.Errorf("erase calls mismatch (-want +got):\n%s", diff)
	}
	if err := f.session.OnData(fill(0x200, 0x42)); err != nil {
		t.Fatal(err)
	}
	if err := f.session.OnData([]byte{0x00}); !errors.Is(err, ErrRegionOverflow) {
		t.Errorf("write past region error = %v, want ErrRegionOverflow", err)
	}
	if diff := cmp.Diff([]testonly.Op{{Addr: 0x400, Size: 0x200}}, f.dev.Programs); diff != "" {
		t.Errorf("program calls mismatch (-want +got):\n%s", diff)
	}
}

func TestSession_InvalidEraseChunk(t *testing.T) {
	f := newFixture(t, WithEraseChunk(0x80))

	if got := f.session.OnControl(fota.OpStart); got != fota.ReplyUnlikelyError {
		t.Fatalf("start reply = %v, want unlikely error", got)
	}
	if f.session.State() != StateFailed {
		t.Errorf("state = %v, want failed", f.session.State())
	}
	if !errors.Is(f.session.Err(), eraser.ErrInvalidParameters) {
		t.Errorf("Err() = %v, want ErrInvalidParameters", f.session.Err())
	}
	if diff := cmp.Diff([]string{"pause", "resume"}, f.producer.calls); diff != "" {
		t.Errorf("producer left paused (-want +got):\n%s", diff)
	}
	f.drain()
	if len(f.dev.Erases) != 0 {
		t.Errorf("device erased %d times", len(f.dev.Erases))
	}
}

func TestSession_RestartAfterFailure(t *testing.T) {
	tests := []struct {
		name  string
		setup func(dev *testonly.Recorder)
		data  bool
	}{
		{"erase", func(dev *testonly.Recorder) { dev.FailEraseAt = 2 }, false},
		{"program", func(dev *testonly.Recorder) { dev.FailProgramAt = 1 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := testonly.NewHeapRecorder(bdSize, eraseSize)
			tt.setup(dev)
			queue := events.NewQueue()
			svc := fota.NewService("test")
			sess := New(dev, queue, &fakeBootloader{}, svc)
			t.Cleanup(sess.Close)
			svc.SetEventHandler(sess)
			drain := func() {
				for queue.DispatchOnce() {
				}
			}

			if got := svc.WriteControl([]byte{byte(fota.OpStart)}); got != fota.ReplySuccess {
				t.Fatalf("start reply = %v", got)
			}
			drain()
			if tt.data {
				if err := svc.WriteBinaryStream([]byte{0, 0xAA}); err == nil {
					t.Fatal("failing program accepted")
				}
			}
			if sess.State() != StateFailed {
				t.Fatalf("state = %v, want failed", sess.State())
			}
			if svc.Started() {
				t.Fatal("service session still open after failure")
			}

			if got := svc.WriteControl([]byte{byte(fota.OpStart)}); got != fota.ReplySuccess {
				t.Fatalf("start after failure reply = %v, want success", got)
			}
			drain()
			if sess.State() != StateReady {
				t.Fatalf("state after restart = %v, want ready", sess.State())
			}
			if err := svc.WriteBinaryStream([]byte{0, 0x55}); err != nil {
				t.Errorf("data after restart error = %v", err)
			}
			if got := svc.Status(); got.Status != fota.StatusXON || got.FragmentID != 1 {
				t.Errorf("status = %+v, want xon at fragment 1", got)
			}
		})
	}
}
