package liveness

import "time"

// Timer tracks a single mark in time.
//
// Timer is not safe for concurrent use; it is owned by the tick loop.
type Timer struct {
	clock    Clock
	lastMark time.Time
}

// NewTimer returns a Timer marked at the clock's current time.
// A nil clock means SystemClock.
func NewTimer(clock Clock) *Timer {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Timer{
		clock:    clock,
		lastMark: clock.Now(),
	}
}

// Elapsed reports whether at least interval has passed since the last
// mark. When it has, the mark moves to now so the timer is armed for the
// next interval. Otherwise the mark is left untouched.
func (t *Timer) Elapsed(interval time.Duration) bool {
	now := t.clock.Now()
	if now.Sub(t.lastMark) >= interval {
		t.lastMark = now
		return true
	}
	return false
}

// Expired reports whether at least interval has passed since the last
// mark without moving the mark.
func (t *Timer) Expired(interval time.Duration) bool {
	return t.Since() >= interval
}

// Mark moves the mark to now.
func (t *Timer) Mark() {
	t.lastMark = t.clock.Now()
}

// Since returns the time elapsed since the last mark.
func (t *Timer) Since() time.Duration {
	return t.clock.Now().Sub(t.lastMark)
}

// LastMark returns the time of the last mark.
func (t *Timer) LastMark() time.Time {
	return t.lastMark
}
