package liveness

import (
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestTimer_Elapsed(t *testing.T) {
	clock := NewManualClock(epoch)
	timer := NewTimer(clock)
	interval := 5 * time.Second

	if timer.Elapsed(interval) {
		t.Fatal("Elapsed() = true immediately after creation")
	}

	clock.Advance(4999 * time.Millisecond)
	if timer.Elapsed(interval) {
		t.Fatal("Elapsed() = true at 4999ms")
	}

	clock.Advance(time.Millisecond)
	if !timer.Elapsed(interval) {
		t.Fatal("Elapsed() = false at exactly 5000ms")
	}

	// Re-armed: the next interval starts from the mark just taken.
	if timer.Elapsed(interval) {
		t.Error("Elapsed() = true right after re-arming")
	}
	if got := timer.LastMark(); !got.Equal(epoch.Add(interval)) {
		t.Errorf("LastMark() = %v, want %v", got, epoch.Add(interval))
	}
}

func TestTimer_ElapsedLeavesMarkWhenFalse(t *testing.T) {
	clock := NewManualClock(epoch)
	timer := NewTimer(clock)

	clock.Advance(3 * time.Second)
	timer.Elapsed(5 * time.Second)
	clock.Advance(2 * time.Second)

	if !timer.Elapsed(5 * time.Second) {
		t.Error("Elapsed() = false after 5s total, mark must not move on a false result")
	}
}

func TestTimer_LateTickFiresOnce(t *testing.T) {
	clock := NewManualClock(epoch)
	timer := NewTimer(clock)

	clock.Advance(17 * time.Second)

	if !timer.Elapsed(5 * time.Second) {
		t.Fatal("Elapsed() = false after 17s")
	}
	if timer.Elapsed(5 * time.Second) {
		t.Error("Elapsed() fired twice for one late tick")
	}
}

func TestTimer_MarkAndExpired(t *testing.T) {
	clock := NewManualClock(epoch)
	timer := NewTimer(clock)

	clock.Advance(6 * time.Second)
	if !timer.Expired(5 * time.Second) {
		t.Fatal("Expired() = false after 6s")
	}
	if !timer.Expired(5 * time.Second) {
		t.Fatal("Expired() must not move the mark")
	}

	timer.Mark()
	if timer.Expired(5 * time.Second) {
		t.Error("Expired() = true right after Mark()")
	}
	if got := timer.Since(); got != 0 {
		t.Errorf("Since() = %v, want 0", got)
	}
}

func TestNewTimer_NilClock(t *testing.T) {
	timer := NewTimer(nil)
	if timer.Elapsed(time.Hour) {
		t.Error("Elapsed(1h) = true on a fresh system-clock timer")
	}
}
