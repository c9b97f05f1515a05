package events

import (
	"testing"
	"time"
)

func TestClockMonotoneAcrossEqualMillis(t *testing.T) {
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 123*int(time.Millisecond), time.Local)
	clock := NewClockAt(func() time.Time { return fixed })

	prev := clock.Next()
	if len(prev) != 17 {
		t.Fatalf("stamp length = %d, want 17", len(prev))
	}
	for i := 0; i < 2000; i++ {
		next := clock.Next()
		if next <= prev {
			t.Fatalf("stamp %q not after %q", next, prev)
		}
		prev = next
	}
}

func TestClockBackwardsWallClock(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 5, 0, time.Local)
	clock := NewClockAt(func() time.Time { return now })

	first := clock.Next()
	now = now.Add(-3 * time.Second)
	second := clock.Next()
	if second <= first {
		t.Errorf("stamp %q not after %q despite clock step back", second, first)
	}
}

func TestClockRealTime(t *testing.T) {
	clock := NewClock()
	a := clock.Next()
	b := clock.Next()
	if b <= a {
		t.Errorf("stamps out of order: %q then %q", a, b)
	}
}
