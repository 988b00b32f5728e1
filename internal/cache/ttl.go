// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package cache provides a thread-safe in-memory TTL cache. Its main
// consumer is the duplicate-operation suppression window: an operation key
// seen within the TTL is a duplicate and must be ignored.
package cache

import (
	"sync"
	"time"
)

// entry is a cached item with its expiry.
type entry struct {
	value     interface{}
	expiresAt time.Time
}

// Stats tracks cache effectiveness.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

// TTL is a thread-safe map with per-entry expiration and a background
// cleanup loop. Expired entries are also filtered lazily on read, so
// correctness never depends on cleanup timing.
type TTL struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	stats   Stats
	stop    chan struct{}
	once    sync.Once
}

// NewTTL creates a cache whose entries expire after ttl. The cleanup loop
// runs at the same cadence as the ttl (minimum one second).
func NewTTL(ttl time.Duration) *TTL {
	c := &TTL{
		entries: make(map[string]entry),
		ttl:     ttl,
		stop:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// Set stores value under key with the default TTL.
func (c *TTL) Set(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Get returns the live value for key, if any.
func (c *TTL) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		c.mu.Lock()
		c.stats.Misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return e.value, true
}

// AddIfAbsent records key and reports whether it was added. A false return
// means the key was already present and live, which the dedup window treats
// as a duplicate.
func (c *TTL) AddIfAbsent(key string) bool {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok && now.Before(e.expiresAt) {
		c.stats.Hits++
		return false
	}
	c.entries[key] = entry{expiresAt: now.Add(c.ttl)}
	c.stats.Misses++
	return true
}

// Len returns the number of stored entries, including not-yet-cleaned
// expired ones.
func (c *TTL) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Stats returns a snapshot of the cache counters.
func (c *TTL) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// Stop terminates the cleanup loop. The cache remains usable; entries then
// expire lazily on read only.
func (c *TTL) Stop() {
	c.once.Do(func() { close(c.stop) })
}

func (c *TTL) cleanupLoop() {
	interval := c.ttl
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *TTL) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
	}
}
