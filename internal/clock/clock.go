// Package clock provides the time source used by the synchronizer.
//
// Real reads the wall clock. Manual only moves when told to, which makes
// time-dependent synchronization reproducible in tests.
package clock

import (
	"sync"
	"time"
)

// Clock returns the current UTC time.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

// Now returns time.Now in UTC.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Manual is a test-controlled clock. The zero value starts at the zero time.
type Manual struct {
	mu  sync.RWMutex
	now time.Time
}

// NewManual returns a Manual clock set to start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the current manual time.
func (m *Manual) Now() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time.
// Negative durations are ignored.
func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}

// Set moves the clock to t. The clock never moves backwards.
func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t = t.UTC()
	if t.After(m.now) {
		m.now = t
	}
}
