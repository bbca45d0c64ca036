// Package transform defines the contract of an asynchronous media transform,
// the event-driven model of hardware encoders, and provides a software
// emulation of it.
//
// A transform never blocks. The owner polls NextEvent and reacts: NeedInput
// means one ProcessInput call will be accepted, HaveOutput means one sample
// can be retrieved with ProcessOutput, DrainComplete ends a Drain.
package transform

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

var (
	// ErrNoEvents is returned by NextEvent when the event queue is empty.
	ErrNoEvents = errors.New("transform: no events")

	// ErrNotAccepting is returned by ProcessInput when no NeedInput is outstanding.
	ErrNotAccepting = errors.New("transform: not accepting input")

	// ErrNoOutput is returned by ProcessOutput when no output is ready.
	ErrNoOutput = errors.New("transform: no output ready")

	ErrNotConfigured = errors.New("transform: not configured")
	ErrStreaming     = errors.New("transform: stream already started")
	ErrClosed        = errors.New("transform: closed")
)

// EventKind classifies transform events.
type EventKind int

const (
	EventNeedInput EventKind = iota
	EventHaveOutput
	EventDrainComplete

	// EventOther is any event the owner does not act on, such as
	// marker or format-change notifications from a device.
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventNeedInput:
		return "NeedInput"
	case EventHaveOutput:
		return "HaveOutput"
	case EventDrainComplete:
		return "DrainComplete"
	case EventOther:
		return "Other"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one transform notification. Code carries the device-specific
// event type for EventOther.
type Event struct {
	Kind EventKind
	Code int
}

// Sample is one encoded output. Time and Duration are in 100 ns units and
// echo the values given to ProcessInput for the same picture.
type Sample struct {
	Data     *bytebuf.Buffer
	Time     int64
	Duration int64
	Keyframe bool
}

// Transform is an asynchronous encoder session. Implementations are
// single-owner and not safe for concurrent use.
type Transform interface {
	// Configure sets the input geometry and nominal rate. It must be called
	// before StartStream.
	Configure(width, height int, rate codec.Rational) error

	// StartStream begins streaming; the first event will be NeedInput.
	StartStream() error

	// NextEvent returns the next pending event or ErrNoEvents.
	NextEvent() (Event, error)

	// ProcessInput submits one texture. The transform takes ownership of
	// tex unless it returns ErrNotAccepting.
	ProcessInput(tex *frame.Texture, time, duration int64) error

	// ProcessOutput retrieves one ready sample.
	ProcessOutput() (Sample, error)

	// EndOfStream signals that no more input follows.
	EndOfStream() error

	// Drain asks the transform to flush all buffered pictures as outputs,
	// followed by DrainComplete.
	Drain() error

	// Close releases the session.
	Close() error
}
