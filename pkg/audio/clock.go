package audio

import "time"

// Clock abstracts the output device's monotonic clock and deferred
// execution so the scheduler can be driven deterministically in tests.
type Clock interface {
	Now() time.Duration
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancelable deferred call.
type Timer interface {
	Stop() bool
}

type realClock struct {
	epoch time.Time
}

// NewClock returns a monotonic clock starting near zero.
func NewClock() Clock {
	return &realClock{epoch: time.Now()}
}

func (c *realClock) Now() time.Duration {
	return time.Since(c.epoch)
}

func (c *realClock) AfterFunc(d time.Duration, f func()) Timer {
	if d < 0 {
		d = 0
	}
	return time.AfterFunc(d, f)
}
