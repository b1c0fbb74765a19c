package ratelimit

import (
	"sync"
	"time"
)

// Tracker counts sends within a rolling window for one sink. The window
// resets once Window has elapsed since the first send counted in the
// current window.
type Tracker struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// Snapshot returns the current count for the active window, resetting
// it first if the window has elapsed.
func (t *Tracker) Snapshot(window time.Duration, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset(window, now)
	return t.count
}

// Increment records one send in the current window.
func (t *Tracker) Increment(window time.Duration, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.maybeReset(window, now)
	t.count++
}

func (t *Tracker) maybeReset(window time.Duration, now time.Time) {
	if t.windowStart.IsZero() || now.Sub(t.windowStart) >= window {
		t.windowStart = now
		t.count = 0
	}
}
