package services

import "time"

// Clock yields millisecond timestamps for envelopes.
type Clock interface {
	Now() float64
}

// wallClock is monotonic within the process but anchored to the Unix epoch,
// so timestamps from peers with synchronised clocks are comparable.
type wallClock struct {
	base   time.Time
	baseMs float64
}

// NewClock returns the default envelope clock.
func NewClock() Clock {
	now := time.Now()
	return &wallClock{
		base:   now,
		baseMs: float64(now.UnixNano()) / float64(time.Millisecond),
	}
}

func (c *wallClock) Now() float64 {
	return c.baseMs + float64(time.Since(c.base))/float64(time.Millisecond)
}
