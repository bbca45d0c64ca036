// Package clock provides the microsecond session clock used to stamp frames.
package clock

import (
	"sync"
	"time"
)

// Micros is a point in time measured in microseconds since the session
// clock was started.
type Micros int64

// Unset marks a timestamp that no stage has written yet.
const Unset Micros = -1

// IsSet reports whether the timestamp has been written.
func (m Micros) IsSet() bool {
	return m >= 0
}

// Duration converts the value to a time.Duration.
func (m Micros) Duration() time.Duration {
	return time.Duration(m) * time.Microsecond
}

// Sub returns m-o. It returns Unset if either value is unset.
func (m Micros) Sub(o Micros) Micros {
	if !m.IsSet() || !o.IsSet() {
		return Unset
	}
	return m - o
}

// FromDuration converts a duration to Micros, truncating sub-microsecond parts.
func FromDuration(d time.Duration) Micros {
	return Micros(d / time.Microsecond)
}

// Clock hands out monotonic microsecond timestamps relative to its epoch.
// The zero value is not usable; use New.
type Clock struct {
	mu    sync.RWMutex
	epoch time.Time
	now   func() time.Time
}

// New returns a clock whose epoch is the current instant.
func New() *Clock {
	return NewWithSource(time.Now)
}

// NewWithSource returns a clock reading time from now. It is intended for tests
// that need deterministic timestamps.
func NewWithSource(now func() time.Time) *Clock {
	return &Clock{epoch: now(), now: now}
}

// Now returns the time elapsed since the epoch.
func (c *Clock) Now() Micros {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return FromDuration(c.now().Sub(c.epoch))
}

// Reset moves the epoch to the current instant.
func (c *Clock) Reset() {
	c.mu.Lock()
	c.epoch = c.now()
	c.mu.Unlock()
}
