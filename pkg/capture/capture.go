// Package capture defines the capture backend contract and provides a
// synthetic test pattern and a screen capturer.
package capture

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

var (
	// ErrNoFrame is returned by Acquire when no new image is available for
	// this tick. The pipeline skips the tick and keeps going.
	ErrNoFrame = errors.New("capture: no new frame")

	ErrNoDisplay      = errors.New("capture: display not found")
	ErrNotInitialized = errors.New("capture: backend not initialized")
	ErrClosed         = errors.New("capture: backend closed")
)

// CursorUpdate carries the cursor state observed with a capture.
// A nil field means unchanged since the previous capture.
type CursorUpdate struct {
	Pos   *frame.CursorPos
	Shape *frame.CursorShape
}

// Backend produces raw textures at the capture rate.
//
// WaitTick and Acquire are called from the capture goroutine only.
// NativeMode and SetMode may be called concurrently with them.
type Backend interface {
	// Init prepares the backend. It must succeed before any other call.
	Init() error

	// NativeMode returns the mode the source produces without scaling.
	NativeMode() codec.Mode

	// SetMode asks the backend to produce the given mode. It returns false
	// when the mode cannot be honored; the previous mode stays in effect.
	SetMode(mode codec.Mode) bool

	// WaitTick blocks until the next frame is due.
	WaitTick()

	// Acquire returns the newest image. The caller owns the texture and
	// must Release it.
	Acquire() (*frame.Texture, CursorUpdate, error)

	// Close releases backend resources.
	Close() error
}

// ticker paces captures at a frame rate that can change while running.
// After stop, wait returns immediately.
type ticker struct {
	t    *time.Ticker
	once sync.Once
	done chan struct{}
}

func newTicker(rate codec.Rational) *ticker {
	return &ticker{
		t:    time.NewTicker(rate.FrameDuration()),
		done: make(chan struct{}),
	}
}

func (t *ticker) wait() {
	select {
	case <-t.t.C:
	case <-t.done:
	}
}

func (t *ticker) reset(rate codec.Rational) {
	t.t.Reset(rate.FrameDuration())
}

func (t *ticker) stop() {
	t.once.Do(func() {
		t.t.Stop()
		close(t.done)
	})
}
