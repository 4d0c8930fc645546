package engine

import "sync/atomic"

// Clock issues the seq numbers trace events are stamped with. It is a
// logical counter rather than wall time: two runs of the same scenario
// produce the same stamps, and the order between any two events is exact
// instead of hostage to timer resolution.
type Clock struct {
	seq atomic.Int64
}

// NewClock returns a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt returns a clock that resumes after start. An engine
// appending to an existing trace store seeds this with the store's last
// recorded seq so new rows never collide with old ones.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next advances the clock and returns the new stamp. Atomic, so stamps
// stay unique even when read off the dispatch loop.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued stamp without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
