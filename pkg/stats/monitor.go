// Package stats keeps rolling latency statistics for pipeline stages.
package stats

import (
	"sync"
	"time"

	"github.com/thesyncim/deskstream/pkg/clock"
)

// Window is the number of samples summarized by a Monitor.
const Window = 128

// Summary is the min, max and mean of a full sample window.
type Summary struct {
	Min clock.Micros
	Max clock.Micros
	Avg clock.Micros
}

// Monitor records durations in a ring of Window samples. Get reports nothing
// until the ring has been filled once, so early outliers never show up as
// averages of a handful of samples.
type Monitor struct {
	mu      sync.Mutex
	now     func() time.Time
	last    time.Time
	samples [Window]clock.Micros
	pos     int
	valid   int
}

// NewMonitor returns an empty monitor using the wall clock.
func NewMonitor() *Monitor {
	return newMonitor(time.Now)
}

func newMonitor(now func() time.Time) *Monitor {
	return &Monitor{now: now, last: now()}
}

// Add records one sample. Unset samples are ignored.
func (m *Monitor) Add(d clock.Micros) {
	if !d.IsSet() {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.addLocked(d)
}

func (m *Monitor) addLocked(d clock.Micros) {
	m.samples[m.pos] = d
	m.pos = (m.pos + 1) % Window
	if m.valid < Window {
		m.valid++
	}
}

// Update records the time elapsed since the previous Update, Reset or zone
// start.
func (m *Monitor) Update() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.addLocked(clock.FromDuration(now.Sub(m.last)))
	m.last = now
}

// StartZone marks the start of a measured section. Calling the returned
// function records its duration.
func (m *Monitor) StartZone() (end func()) {
	m.mu.Lock()
	m.last = m.now()
	m.mu.Unlock()
	return m.Update
}

// Reset discards all samples.
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.last = m.now()
	m.pos = 0
	m.valid = 0
}

// Samples returns how many samples are currently held.
func (m *Monitor) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.valid
}

// Get summarizes the window. ok is false until Window samples were recorded.
func (m *Monitor) Get() (s Summary, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.valid < Window {
		return Summary{}, false
	}

	s.Min, s.Max = m.samples[0], m.samples[0]
	var sum int64
	for _, v := range m.samples {
		s.Min = min(s.Min, v)
		s.Max = max(s.Max, v)
		sum += int64(v)
	}
	s.Avg = clock.Micros(sum / Window)
	return s, true
}
