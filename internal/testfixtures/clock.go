package testfixtures

import (
	"sync"
	"time"
)

// Clock is a manually driven time source. Services and the job scheduler
// read it through NowFunc, so moving it and then calling Scheduler.RunDue
// replays time-triggered work deterministically.
type Clock struct {
	mu  sync.RWMutex
	now time.Time
}

// NewClock starts at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{now: start}
}

func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// NowFunc adapts Now to the now parameter the services take.
func (c *Clock) NowFunc() func() time.Time {
	return c.Now
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

// Advance moves the clock by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	return c.move(func(t time.Time) time.Time { return t.Add(d) })
}

// AdvanceDays moves the clock by whole calendar days and returns the new time.
func (c *Clock) AdvanceDays(days int) time.Time {
	return c.move(func(t time.Time) time.Time { return t.AddDate(0, 0, days) })
}

func (c *Clock) move(step func(time.Time) time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = step(c.now)
	return c.now
}
