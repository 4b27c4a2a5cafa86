// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chatstream

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"
)

// =============================================================================
// Fake Clock
// =============================================================================

// fakeClock is a manually advanced Clock. Timer callbacks run synchronously
// on the goroutine calling Advance.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newFakeClock() *fakeClock {
	return &fakeClock{now: testEpoch}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward, firing due timers in deadline order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due []*fakeTimer
		for _, t := range c.timers {
			if !t.stopped && !t.fired && !t.at.After(target) {
				due = append(due, t)
			}
		}
		if len(due) == 0 {
			c.now = target
			c.mu.Unlock()
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
		next := due[0]
		next.fired = true
		c.now = next.at
		c.mu.Unlock()

		next.f()
	}
}

// pending returns how many timers are armed.
func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

// =============================================================================
// Fake Transport
// =============================================================================

var errFakeClosed = errors.New("fake conn closed")

type readResult struct {
	data    []byte
	err     error
	barrier bool
}

// fakeConn feeds frames to the controller's reader goroutine. push returns
// only after the frame has been fully handled.
type fakeConn struct {
	in        chan readResult
	closed    chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	written  []string
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan readResult),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, error) {
	for {
		select {
		case r := <-c.in:
			if r.barrier {
				continue
			}
			return r.data, r.err
		case <-c.closed:
			return nil, errFakeClosed
		}
	}
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.written = append(c.written, string(data))
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) push(frame string) {
	c.send(readResult{data: []byte(frame)})
	c.send(readResult{barrier: true})
}

// fail delivers a read error. The reader goroutine exits afterwards, so
// callers wait on the controller state instead of a barrier.
func (c *fakeConn) fail(err error) {
	c.send(readResult{err: err})
}

func (c *fakeConn) send(r readResult) {
	select {
	case c.in <- r:
	case <-c.closed:
	}
}

func (c *fakeConn) setWriteErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.written...)
}

type fakeDialer struct {
	mu        sync.Mutex
	conns     []*fakeConn
	endpoints []string
	err       error
}

func (d *fakeDialer) Dial(_ context.Context, endpoint string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endpoints = append(d.endpoints, endpoint)
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// =============================================================================
// Fake Collaborators
// =============================================================================

type fakeAnchor struct {
	mu       sync.Mutex
	atBottom bool
	scrolls  int
}

func (a *fakeAnchor) IsAtBottom() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.atBottom
}

func (a *fakeAnchor) ScrollToBottom() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scrolls++
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []string
}

func (n *fakeNotifier) Notify(text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, text)
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.notes)
}
