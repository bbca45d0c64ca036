// Package mailbox implements a single-slot, latest-wins handoff between one
// producer and one consumer goroutine.
package mailbox

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrClosed is returned by Take once the slot has been closed.
	ErrClosed = errors.New("mailbox: closed")

	// ErrTimeout is returned by TakeWithin when nothing arrived in time.
	ErrTimeout = errors.New("mailbox: timeout")
)

// Stats is a snapshot of slot counters.
type Stats struct {
	Puts             uint64
	Takes            uint64
	TotalDrops       uint64
	ConsecutiveDrops uint64
}

// Slot holds at most one value. Put overwrites an unconsumed value, so a slow
// consumer only ever sees the most recent one.
//
// The availability flag is kept separately from the value so the zero value
// of T is a valid payload.
type Slot[T any] struct {
	mu      sync.Mutex
	cond    *sync.Cond
	value   T
	pending bool
	closed  bool
	onDrop  func(T)

	stats Stats
}

// New returns an empty slot. onDrop, if non-nil, receives every value that is
// overwritten or still pending at Close. It is called with the slot lock held
// and must not call back into the slot.
func New[T any](onDrop func(T)) *Slot[T] {
	s := &Slot[T]{onDrop: onDrop}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Put stores v, replacing any unconsumed value, and wakes the consumer.
// It never blocks. It returns false if the slot is closed, in which case v
// still belongs to the caller.
func (s *Slot[T]) Put(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	if s.pending {
		s.stats.TotalDrops++
		s.stats.ConsecutiveDrops++
		s.drop(s.value)
	}

	s.value = v
	s.pending = true
	s.stats.Puts++
	s.cond.Signal()
	return true
}

// Take blocks until a value is available or the slot is closed.
func (s *Slot[T]) Take() (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for !s.pending && !s.closed {
		s.cond.Wait()
	}
	return s.takeLocked()
}

// TakeWithin is Take bounded by d. A non-positive d does not wait.
func (s *Slot[T]) TakeWithin(d time.Duration) (T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending && !s.closed && d > 0 {
		expired := false
		timer := time.AfterFunc(d, func() {
			s.mu.Lock()
			expired = true
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		for !s.pending && !s.closed && !expired {
			s.cond.Wait()
		}
		timer.Stop()
	}

	if !s.pending && !s.closed {
		var zero T
		return zero, ErrTimeout
	}
	return s.takeLocked()
}

// TryTake returns the pending value without waiting.
func (s *Slot[T]) TryTake() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		var zero T
		return zero, false
	}
	v, _ := s.takeLocked()
	return v, true
}

// Close wakes every waiter. Subsequent Takes return ErrClosed and Puts are
// refused. A value still pending is handed to onDrop.
func (s *Slot[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	if s.pending {
		s.drop(s.value)
		var zero T
		s.value = zero
		s.pending = false
	}
	s.cond.Broadcast()
}

// Closed reports whether Close has been called.
func (s *Slot[T]) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Pending reports whether an unconsumed value is waiting.
func (s *Slot[T]) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Stats returns a snapshot of the slot counters.
func (s *Slot[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Slot[T]) takeLocked() (T, error) {
	var zero T
	if s.closed {
		return zero, ErrClosed
	}
	v := s.value
	s.value = zero
	s.pending = false
	s.stats.Takes++
	s.stats.ConsecutiveDrops = 0
	return v, nil
}

func (s *Slot[T]) drop(v T) {
	if s.onDrop != nil {
		s.onDrop(v)
	}
}
