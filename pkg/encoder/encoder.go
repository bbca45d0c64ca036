// Package encoder turns captured textures into encoded frames.
//
// Two concurrency models share one interface. Threaded owns a worker
// goroutine that runs a blocking codec.Codec; Async drives a non-blocking
// transform.Transform from the caller's goroutine through Poll. The capture
// pipeline treats both the same way: Push frames, Poll regularly, receive
// output through the OnOutput callback in production order.
package encoder

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// Common errors
var (
	ErrAlreadyRunning = errors.New("encoder: already running")
	ErrRunning        = errors.New("encoder: operation not allowed while running")
	ErrFailed         = errors.New("encoder: failed")
	ErrInvalidConfig  = errors.New("encoder: invalid configuration")
)

// OutputFunc receives encoded frames. It runs on the encoder's delivery
// goroutine and should return quickly.
type OutputFunc func(frame.Frame[*bytebuf.Buffer])

// Encoder is the common surface of both encoder models.
type Encoder interface {
	// OnOutput installs the output callback. Call it before Start.
	OnOutput(fn OutputFunc)

	// Start begins a session.
	Start() error

	// Stop ends the session and releases its resources.
	Stop() error

	// Push offers a frame. It returns false when the encoder cannot take the
	// frame now; the caller keeps ownership and may retry after Poll.
	Push(f frame.Frame[*frame.Texture]) bool

	// Poll delivers any outputs that are ready without blocking.
	Poll() error

	// InFlight returns the number of frames submitted but not yet delivered.
	InFlight() int

	// Stats returns a snapshot of the encoder counters.
	Stats() Stats
}

// Stats counts what happened to pushed frames.
type Stats struct {
	Pushed        uint64 // accepted by Push
	Dropped       uint64 // replaced by a newer frame before encoding
	Rejected      uint64 // released by Push without encoding
	Encoded       uint64 // delivered to the output callback
	Errors        uint64 // lost to non-fatal codec errors
	Lost          uint64 // still in flight when the session stopped
	IgnoredEvents uint64 // transform events the encoder does not act on
}

// Options are shared by both encoder models.
type Options struct {
	// Clock stamps Encoded. Defaults to a clock started at construction.
	Clock *clock.Clock

	// Log receives lifecycle and error messages.
	Log logrus.FieldLogger

	// Reporter receives fatal errors. Defaults to a supervisor that exits
	// the process.
	Reporter supervise.Reporter
}

func (o Options) withDefaults(component string) Options {
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	o.Log = logging.Component(o.Log, component)
	if o.Reporter == nil {
		o.Reporter = supervise.New(o.Log, nil)
	}
	return o
}

func noOutput(frame.Frame[*bytebuf.Buffer]) {}
