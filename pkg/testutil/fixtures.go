// Package testutil has the fake clock and concurrency driver shared by tests.
package testutil

import (
	"sync"
	"time"
)

// Epoch is the fixed starting instant used by FakeClock.
var Epoch = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// FakeClock is a manually advanced clock for time-window tests.
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock returns a clock frozen at Epoch.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: Epoch}
}

// Now returns the current fake time. Its signature matches the
// func() time.Time clock options taken by services.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
