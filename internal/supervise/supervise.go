// Package supervise routes unrecoverable session errors to a single sink.
//
// A goroutine that reports a fatal error returns immediately afterwards; the
// handler decides whether the process exits or the session is torn down.
package supervise

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FatalError is an error after which a component cannot continue.
type FatalError struct {
	Component string
	Err       error
}

// NewFatal wraps err with the caller's stack.
func NewFatal(component string, err error) *FatalError {
	return &FatalError{Component: component, Err: errors.WithStack(err)}
}

// Fatalf formats a new fatal error with the caller's stack.
func Fatalf(component, format string, args ...any) *FatalError {
	return &FatalError{Component: component, Err: errors.Errorf(format, args...)}
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("%s: fatal: %v", e.Component, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Handler receives fatal errors.
type Handler func(*FatalError)

// Reporter is the narrow interface components depend on.
type Reporter interface {
	Fatal(err error)
}

// Supervisor collects fatal errors. The zero value is not usable; use New.
type Supervisor struct {
	log     logrus.FieldLogger
	handler Handler
	exits   bool // the default handler logs the error itself

	mu    sync.Mutex
	first *FatalError
	count int
	done  chan struct{}
}

// New returns a supervisor. A nil handler exits the process through
// log.Fatal after logging the stack.
func New(log logrus.FieldLogger, handler Handler) *Supervisor {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Supervisor{log: log, handler: handler, done: make(chan struct{})}
	if s.handler == nil {
		s.exits = true
		s.handler = func(e *FatalError) {
			s.log.WithField("component", e.Component).Fatalf("%+v", e.Err)
		}
	}
	return s
}

// Fatal reports err. Errors that are not already *FatalError are wrapped
// with component "unknown".
func (s *Supervisor) Fatal(err error) {
	if err == nil {
		return
	}
	var fe *FatalError
	if !errors.As(err, &fe) {
		fe = NewFatal("unknown", err)
	}

	s.mu.Lock()
	s.count++
	if s.first == nil {
		s.first = fe
		close(s.done)
	}
	s.mu.Unlock()

	if !s.exits {
		s.log.WithField("component", fe.Component).Errorf("fatal error: %v", fe.Err)
	}
	s.handler(fe)
}

// Done is closed after the first fatal error.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the first fatal error, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.first == nil {
		return nil
	}
	return s.first
}

// Count returns the number of fatal errors reported.
func (s *Supervisor) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}
