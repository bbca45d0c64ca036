package encoder

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
	"github.com/thesyncim/deskstream/pkg/mailbox"
)

// Threaded runs a blocking codec on a dedicated goroutine. Push never blocks:
// it overwrites the single pending frame, so a slow codec always encodes the
// most recent capture and older ones are dropped.
type Threaded struct {
	codec codec.Codec
	opts  Options

	mu            sync.Mutex
	onOutput      OutputFunc
	slot          *mailbox.Slot[frame.Frame[*frame.Texture]]
	width, height int

	running atomic.Bool
	failed  atomic.Bool
	wg      sync.WaitGroup

	pushed  atomic.Uint64
	dropped atomic.Uint64
	encoded atomic.Uint64
	errs    atomic.Uint64
}

var _ Encoder = (*Threaded)(nil)

// NewThreaded returns a stopped encoder that owns c.
func NewThreaded(c codec.Codec, opts Options) *Threaded {
	return &Threaded{
		codec:    c,
		opts:     opts.withDefaults("encoder.threaded"),
		onOutput: noOutput,
	}
}

// OnOutput implements Encoder.
func (e *Threaded) OnOutput(fn OutputFunc) {
	if fn == nil {
		fn = noOutput
	}
	e.mu.Lock()
	e.onOutput = fn
	e.mu.Unlock()
}

// SetResolution configures the codec. It is only valid while stopped; a
// running encoder returns ErrRunning. Without it the codec is configured
// from the first frame.
func (e *Threaded) SetResolution(width, height int) error {
	if e.running.Load() {
		return ErrRunning
	}
	if err := e.codec.SetResolution(width, height); err != nil {
		return err
	}
	e.mu.Lock()
	e.width, e.height = width, height
	e.mu.Unlock()
	return nil
}

// Start implements Encoder.
func (e *Threaded) Start() error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	e.failed.Store(false)

	slot := mailbox.New(func(f frame.Frame[*frame.Texture]) {
		e.dropped.Add(1)
		f.Payload.Release()
	})
	e.mu.Lock()
	e.slot = slot
	e.mu.Unlock()

	e.wg.Add(1)
	go e.run(slot)
	e.opts.Log.Info("started")
	return nil
}

// Stop implements Encoder. It waits for the frame being encoded, if any, and
// discards the pending one.
func (e *Threaded) Stop() error {
	if !e.running.CompareAndSwap(true, false) {
		return nil
	}
	e.mu.Lock()
	slot := e.slot
	e.mu.Unlock()

	slot.Close()
	e.wg.Wait()
	e.opts.Log.Info("stopped")
	return nil
}

// Close stops the encoder and closes its codec.
func (e *Threaded) Close() error {
	if err := e.Stop(); err != nil {
		return err
	}
	return e.codec.Close()
}

// Push implements Encoder. It returns false only when the encoder is not
// running.
func (e *Threaded) Push(f frame.Frame[*frame.Texture]) bool {
	if !e.running.Load() || e.failed.Load() {
		return false
	}
	e.mu.Lock()
	slot := e.slot
	e.mu.Unlock()

	if !slot.Put(f) {
		return false
	}
	e.pushed.Add(1)
	return true
}

// Poll implements Encoder. Output is delivered by the worker, so there is
// nothing to do.
func (e *Threaded) Poll() error { return nil }

// InFlight implements Encoder.
func (e *Threaded) InFlight() int { return 0 }

// Stats implements Encoder.
func (e *Threaded) Stats() Stats {
	return Stats{
		Pushed:  e.pushed.Load(),
		Dropped: e.dropped.Load(),
		Encoded: e.encoded.Load(),
		Errors:  e.errs.Load(),
	}
}

func (e *Threaded) run(slot *mailbox.Slot[frame.Frame[*frame.Texture]]) {
	defer e.wg.Done()

	for {
		f, err := slot.Take()
		if err != nil {
			return
		}
		if err := e.encode(f); err != nil {
			e.failed.Store(true)
			e.opts.Reporter.Fatal(supervise.NewFatal("encoder.threaded", err))
			return
		}
	}
}

// encode returns only fatal errors.
func (e *Threaded) encode(f frame.Frame[*frame.Texture]) error {
	tex := f.Payload

	e.mu.Lock()
	configured := e.width == tex.Width && e.height == tex.Height
	e.mu.Unlock()
	if !configured {
		if err := e.codec.SetResolution(tex.Width, tex.Height); err != nil {
			tex.Release()
			return errors.Wrap(err, "set resolution")
		}
		e.mu.Lock()
		e.width, e.height = tex.Width, tex.Height
		e.mu.Unlock()
		e.opts.Log.WithField("width", tex.Width).WithField("height", tex.Height).Info("resolution configured")
	}

	pkt, err := e.codec.Encode(tex)
	tex.Release()
	if err != nil {
		if errors.Is(err, codec.ErrFatal) {
			return err
		}
		e.errs.Add(1)
		e.opts.Log.WithError(err).Warn("encode error")
		return nil
	}

	out := frame.Repackage(f, pkt.Data)
	out.Encoded = e.opts.Clock.Now()
	out.Keyframe = pkt.Keyframe

	e.mu.Lock()
	fn := e.onOutput
	e.mu.Unlock()

	e.encoded.Add(1)
	fn(out)
	return nil
}
