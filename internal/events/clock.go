package events

import (
	"fmt"
	"sync"
	"time"
)

// Clock produces 17-character timestamps (YYYYMMDDhhmmssXXX) that are
// strictly increasing within one process even when the wall clock stalls
// or steps backwards. The XXX suffix is a per-second counter seeded from
// the current millisecond.
type Clock struct {
	mu      sync.Mutex
	now     func() time.Time
	lastSec string // 14-char second prefix of the last stamp
	lastSeq int    // suffix issued for lastSec
}

// NewClock returns a clock reading the system time.
func NewClock() *Clock {
	return &Clock{now: time.Now}
}

// NewClockAt returns a clock with an injected time source, for tests.
func NewClockAt(now func() time.Time) *Clock {
	return &Clock{now: now}
}

const secondLayout = "20060102150405"

// Next returns the next timestamp. Stamps are lexicographically sortable
// and unique within the process.
func (c *Clock) Next() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := c.now()
	sec := t.Format(secondLayout)
	seq := t.Nanosecond() / int(time.Millisecond)

	switch {
	case sec > c.lastSec:
		// Fresh second; millisecond seed is fine as-is.
	case sec == c.lastSec && seq > c.lastSeq:
		// Same second, later millisecond.
	default:
		// Wall clock stalled or went backwards: continue from the last
		// issued stamp.
		sec = c.lastSec
		seq = c.lastSeq + 1
		if seq > 999 {
			// Counter exhausted for this second; advance into the next.
			next, err := time.ParseInLocation(secondLayout, sec, time.Local)
			if err == nil {
				sec = next.Add(time.Second).Format(secondLayout)
			}
			seq = 0
		}
	}

	c.lastSec = sec
	c.lastSeq = seq
	return fmt.Sprintf("%s%03d", sec, seq)
}
