// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"sync"
	"time"

	"github.com/AleutianAI/govchat/pkg/chatstream"
)

// DefaultToastTTL is how long a toast stays visible.
const DefaultToastTTL = 4 * time.Second

// maxToasts bounds the queue; the oldest toast is dropped first.
const maxToasts = 3

// Toast is one transient notification.
type Toast struct {
	Text      string
	ExpiresAt time.Time
}

// ToastQueue collects transient notifications for the status area.
// It is safe for concurrent use.
type ToastQueue struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	toasts []Toast
}

// NewToastQueue creates a queue. ttl <= 0 uses DefaultToastTTL and a nil
// now uses time.Now.
func NewToastQueue(ttl time.Duration, now func() time.Time) *ToastQueue {
	if ttl <= 0 {
		ttl = DefaultToastTTL
	}
	if now == nil {
		now = time.Now
	}
	return &ToastQueue{ttl: ttl, now: now}
}

// Notify enqueues text. Identical consecutive toasts only extend the
// expiry of the first.
func (q *ToastQueue) Notify(text string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	expires := q.now().Add(q.ttl)
	if n := len(q.toasts); n > 0 && q.toasts[n-1].Text == text {
		q.toasts[n-1].ExpiresAt = expires
		return
	}
	q.toasts = append(q.toasts, Toast{Text: text, ExpiresAt: expires})
	if len(q.toasts) > maxToasts {
		q.toasts = q.toasts[len(q.toasts)-maxToasts:]
	}
}

// Active prunes expired toasts and returns the rest, oldest first.
func (q *ToastQueue) Active() []Toast {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	kept := q.toasts[:0]
	for _, t := range q.toasts {
		if now.Before(t.ExpiresAt) {
			kept = append(kept, t)
		}
	}
	q.toasts = kept
	return append([]Toast(nil), kept...)
}

var _ chatstream.Notifier = (*ToastQueue)(nil)
