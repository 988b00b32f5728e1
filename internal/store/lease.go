// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

package store

import (
	"sync"
	"time"
)

// LeaseTable grants advisory text-editing leases. Character-level text
// merging is out of scope, so two users typing into the same field is
// prevented up front rather than transformed after the fact. A lease is
// advisory: it expires on its own and is never enforced against the log.
type LeaseTable struct {
	duration time.Duration

	mu     sync.Mutex
	leases map[leaseKey]lease

	// now is swappable for tests.
	now func() time.Time
}

type leaseKey struct {
	canvasID string
	shapeID  string
}

type lease struct {
	userID   string
	acquired time.Time
}

// NewLeaseTable creates a lease table with the given expiry duration.
func NewLeaseTable(duration time.Duration) *LeaseTable {
	return &LeaseTable{
		duration: duration,
		leases:   make(map[leaseKey]lease),
		now:      time.Now,
	}
}

// Acquire grants or refreshes the lease on a shape's text. It succeeds when
// the lease is free, expired, or already held by the same user.
func (t *LeaseTable) Acquire(canvasID, shapeID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := leaseKey{canvasID: canvasID, shapeID: shapeID}
	now := t.now()

	cur, held := t.leases[key]
	if held && cur.userID != userID && now.Sub(cur.acquired) < t.duration {
		return false
	}

	t.leases[key] = lease{userID: userID, acquired: now}
	return true
}

// Release drops the lease if userID holds it.
func (t *LeaseTable) Release(canvasID, shapeID, userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := leaseKey{canvasID: canvasID, shapeID: shapeID}
	cur, held := t.leases[key]
	if !held || cur.userID != userID {
		return false
	}
	delete(t.leases, key)
	return true
}

// Holder returns the current live lease holder and when it was acquired.
func (t *LeaseTable) Holder(canvasID, shapeID string) (userID string, acquiredAt time.Time, held bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.leases[leaseKey{canvasID: canvasID, shapeID: shapeID}]
	if !ok || t.now().Sub(cur.acquired) >= t.duration {
		return "", time.Time{}, false
	}
	return cur.userID, cur.acquired, true
}

// Expire removes stale leases. Called opportunistically; correctness never
// depends on it since Acquire and Holder check expiry themselves.
func (t *LeaseTable) Expire() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	removed := 0
	for key, cur := range t.leases {
		if now.Sub(cur.acquired) >= t.duration {
			delete(t.leases, key)
			removed++
		}
	}
	return removed
}
