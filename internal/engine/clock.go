package engine

import "sync/atomic"

// Clock hands out log sequence numbers.
//
// Every appended event gets the next value. Only the Run goroutine calls
// Next and Rewind; Current may be read from anywhere.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock for an empty log.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock that resumes after start, the last seq already
// in the log.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and advances the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last sequence number handed out.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// Rewind moves the clock back to seq after a rolled-back write, so the
// numbers it handed out are reused and the log stays gap-free.
func (c *Clock) Rewind(seq int64) {
	c.seq.Store(seq)
}
