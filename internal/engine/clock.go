package engine

import "sync/atomic"

// Clock is the monotonic logical clock that stamps bus events.
//
// Subscribers order events by seq, never by wall-clock time. Safe for
// concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first Next() is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock positioned at start, so the first Next() is
// start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new seq.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last seq handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
