// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package eraser erases large regions of a block device one chunk at a time,
// yielding to the event queue between chunks so that other work keeps running.
package eraser

import (
	"log/slog"
	"sync"

	"github.com/ffutop/fota-gateway/internal/blockdev"
	"github.com/ffutop/fota-gateway/internal/events"
)

// Scheduler posts deferred calls. *events.Queue satisfies it.
type Scheduler interface {
	Call(fn func()) events.ID
	Cancel(id events.ID) bool
}

// Callback receives the outcome of a job: nil on success, the device error
// otherwise.
type Callback func(err error)

type Status int

const (
	StatusRunning Status = iota
	StatusCompleted
	StatusFailed
	// StatusCancelled marks a job replaced by a newer one or stopped by Close.
	// Its callback never runs.
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Job is a bulk erase of [Start, End) in ChunkSize steps.
type Job struct {
	Start     uint64
	End       uint64
	ChunkSize uint64
	Cursor    uint64
	Status    Status
	Err       error
}

// completion is resolved at most once. Later resolutions are ignored.
type completion struct {
	once sync.Once
	cb   Callback
	done chan struct{}
}

func newCompletion(cb Callback) *completion {
	return &completion{cb: cb, done: make(chan struct{})}
}

func (c *completion) resolve(err error) {
	c.once.Do(func() {
		close(c.done)
		if c.cb != nil {
			c.cb(err)
		}
	})
}

// Eraser runs one erase job at a time against a device. All methods and the
// callback run on the scheduler's goroutine.
type Eraser struct {
	dev   blockdev.Device
	sched Scheduler

	job     *Job
	done    *completion
	pending events.ID
}

// New creates an Eraser. The device is borrowed, not owned.
func New(dev blockdev.Device, sched Scheduler) *Eraser {
	return &Eraser{dev: dev, sched: sched}
}

// Start begins erasing [addr, addr+size) in chunks of chunkSize. The first chunk
// is erased from the scheduler, never before Start returns. A running job is
// cancelled and its callback will not run. Invalid parameters are rejected with
// a *ParameterError, leaving any running job untouched.
func (e *Eraser) Start(addr, size, chunkSize uint64, cb Callback) error {
	if err := e.validate(addr, size, chunkSize); err != nil {
		return err
	}

	e.cancel()
	job := &Job{
		Start:     addr,
		End:       addr + size,
		ChunkSize: chunkSize,
		Cursor:    addr,
		Status:    StatusRunning,
	}
	e.job = job
	e.done = newCompletion(cb)
	e.pending = e.sched.Call(func() { e.step(job) })

	slog.Debug("Erase job started", "start", addr, "size", size, "chunk", chunkSize)
	return nil
}

// StartDefault is Start with the device erase size as chunk size.
func (e *Eraser) StartDefault(addr, size uint64, cb Callback) error {
	return e.Start(addr, size, e.dev.EraseSize(), cb)
}

func (e *Eraser) validate(addr, size, chunkSize uint64) error {
	perr := func(reason string) error {
		return &ParameterError{Addr: addr, Size: size, ChunkSize: chunkSize, Reason: reason}
	}
	switch {
	case size == 0:
		return perr("size is zero")
	case chunkSize == 0:
		return perr("chunk size is zero")
	case size%chunkSize != 0:
		return perr("size is not a multiple of the chunk size")
	case chunkSize%e.dev.EraseSize() != 0:
		return perr("chunk size is not a multiple of the device erase size")
	case addr+size < addr || addr+size > e.dev.Size():
		return perr("range exceeds the device")
	}
	return nil
}

func (e *Eraser) step(job *Job) {
	if e.job != job || job.Status != StatusRunning {
		return
	}
	e.pending = 0

	if err := e.dev.Erase(job.Cursor, job.ChunkSize); err != nil {
		job.Status = StatusFailed
		job.Err = &EraseError{Addr: job.Cursor, Err: err}
		slog.Error("Erase failed", "addr", job.Cursor, "err", err)
		e.done.resolve(job.Err)
		return
	}

	job.Cursor += job.ChunkSize
	if job.Cursor < job.End {
		e.pending = e.sched.Call(func() { e.step(job) })
		return
	}

	job.Status = StatusCompleted
	slog.Debug("Erase job completed", "start", job.Start, "end", job.End)
	e.done.resolve(nil)
}

// cancel stops the current job without resolving it.
func (e *Eraser) cancel() {
	if e.pending != 0 {
		e.sched.Cancel(e.pending)
		e.pending = 0
	}
	if e.job != nil && e.job.Status == StatusRunning {
		e.job.Status = StatusCancelled
	}
}

// Done reports whether the current job has finished, successfully or not.
func (e *Eraser) Done() bool {
	return e.job != nil && (e.job.Status == StatusCompleted || e.job.Status == StatusFailed)
}

// Err returns the failure of the current job, or nil.
func (e *Eraser) Err() error {
	if e.job == nil {
		return nil
	}
	return e.job.Err
}

// Job returns a snapshot of the current job and whether there is one.
func (e *Eraser) Job() (Job, bool) {
	if e.job == nil {
		return Job{}, false
	}
	return *e.job, true
}

// Wait returns a channel closed when the current job completes or fails. It
// returns nil when no job was started.
func (e *Eraser) Wait() <-chan struct{} {
	if e.done == nil {
		return nil
	}
	return e.done.done
}

// Close cancels the pending step of the current job. The callback will not run.
func (e *Eraser) Close() {
	e.cancel()
}
