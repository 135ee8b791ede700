// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package events provides a cooperative, single-threaded event queue.
//
// Calls may be posted from any goroutine, but they are executed one at a time,
// in posting order, by whichever goroutine dispatches the queue. Code that only
// ever runs from dispatched calls therefore needs no locking of its own.
package events

import (
	"context"
	"sync"
	"time"
)

// ID identifies a posted call. The zero ID never refers to a call.
type ID int

type call struct {
	fn    func()
	timer *time.Timer
}

// Queue is a cooperative event queue.
type Queue struct {
	mu     sync.Mutex
	nextID ID
	calls  map[ID]*call
	ready  []ID
	broken bool
	wake   chan struct{}
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		calls: make(map[ID]*call),
		wake:  make(chan struct{}, 1),
	}
}

// Call posts fn to run on the next dispatch.
func (q *Queue) Call(fn func()) ID {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.add(fn)
	q.ready = append(q.ready, id)
	q.signal()
	return id
}

// CallIn posts fn to run once d has elapsed.
func (q *Queue) CallIn(d time.Duration, fn func()) ID {
	q.mu.Lock()
	defer q.mu.Unlock()

	id := q.add(fn)
	q.calls[id].timer = time.AfterFunc(d, func() { q.expire(id) })
	return id
}

// Cancel removes a call that has not started yet. It reports whether the call
// was still pending.
func (q *Queue) Cancel(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	c, ok := q.calls[id]
	if !ok {
		return false
	}
	delete(q.calls, id)
	if c.timer != nil {
		c.timer.Stop()
	}
	return true
}

// Pending returns the number of posted calls that have neither run nor been
// cancelled, delayed ones included.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.calls)
}

// DispatchOnce runs the oldest ready call, if any, and reports whether one ran.
func (q *Queue) DispatchOnce() bool {
	fn := q.next()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Dispatch runs calls until ctx is done or Break is called. A Break returns nil.
func (q *Queue) Dispatch(ctx context.Context) error {
	for {
		if q.takeBreak() {
			return nil
		}
		if q.DispatchOnce() {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
		}
	}
}

// Break makes the running (or next) Dispatch return after the current call.
func (q *Queue) Break() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.broken = true
	q.signal()
}

func (q *Queue) add(fn func()) ID {
	q.nextID++
	id := q.nextID
	q.calls[id] = &call{fn: fn}
	return id
}

func (q *Queue) expire(id ID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.calls[id]; ok {
		q.ready = append(q.ready, id)
		q.signal()
	}
}

func (q *Queue) next() func() {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.ready) > 0 {
		id := q.ready[0]
		q.ready = q.ready[1:]
		if c, ok := q.calls[id]; ok {
			delete(q.calls, id)
			return c.fn
		}
	}
	return nil
}

func (q *Queue) takeBreak() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.broken
	q.broken = false
	return b
}

// signal wakes a blocked Dispatch. Caller must hold the mutex.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
