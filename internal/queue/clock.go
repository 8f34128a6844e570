package queue

import "sync/atomic"

// Clock is a monotonic logical clock that stamps operation timestamps.
//
// Timestamps order the queue. Wall-clock time is never used for ordering,
// so two edits within the same millisecond still have a defined order.
//
// Thread-safety: Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next() returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next timestamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued timestamp without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward so the next timestamp exceeds ts.
// It never moves the clock backwards.
func (c *Clock) AdvanceTo(ts int64) {
	for {
		cur := c.seq.Load()
		if cur >= ts {
			return
		}
		if c.seq.CompareAndSwap(cur, ts) {
			return
		}
	}
}
