package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time to every windowed counter in the service
type Clock interface {
	Now() time.Time
}

// System reads the wall clock
type System struct{}

// Now returns time.Now
func (System) Now() time.Time {
	return time.Now()
}

// Since returns the trailing window start for the given duration
func Since(c Clock, window time.Duration) time.Time {
	return c.Now().Add(-window)
}

// Fake is a manually advanced clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock frozen at t
func NewFake(t time.Time) *Fake {
	return &Fake{now: t}
}

// Now returns the frozen time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
