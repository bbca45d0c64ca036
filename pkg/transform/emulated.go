package transform

import (
	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// EmulatedConfig configures an Emulated transform.
type EmulatedConfig struct {
	// Depth is how many pictures the pipeline holds before the oldest one
	// is released as output. 1 makes every input produce its output at once.
	Depth int
}

// Emulated drives a blocking codec.Codec through the asynchronous event
// model, holding up to Depth encoded pictures to mimic the pipelining of a
// hardware encoder. It spawns no goroutines: work happens inside
// ProcessInput.
type Emulated struct {
	codec codec.Codec
	depth int

	configured bool
	streaming  bool
	accepting  bool
	eos        bool
	closed     bool

	events  []Event
	pending []Sample // encoded, still "inside" the device
	ready   []Sample // announced by HaveOutput
}

var _ Transform = (*Emulated)(nil)

// NewEmulated wraps c. The transform owns c and closes it on Close.
func NewEmulated(c codec.Codec, cfg EmulatedConfig) *Emulated {
	depth := cfg.Depth
	if depth <= 0 {
		depth = 1
	}
	return &Emulated{codec: c, depth: depth}
}

// Depth returns the configured pipeline depth.
func (e *Emulated) Depth() int { return e.depth }

// Configure implements Transform.
func (e *Emulated) Configure(width, height int, rate codec.Rational) error {
	if e.closed {
		return ErrClosed
	}
	if e.streaming {
		return ErrStreaming
	}
	if err := e.codec.SetResolution(width, height); err != nil {
		return errors.Wrap(err, "configure")
	}
	e.configured = true
	return nil
}

// StartStream implements Transform.
func (e *Emulated) StartStream() error {
	switch {
	case e.closed:
		return ErrClosed
	case !e.configured:
		return ErrNotConfigured
	case e.streaming:
		return ErrStreaming
	}
	e.streaming = true
	e.push(Event{Kind: EventNeedInput})
	return nil
}

// NextEvent implements Transform.
func (e *Emulated) NextEvent() (Event, error) {
	if len(e.events) == 0 {
		return Event{}, ErrNoEvents
	}
	ev := e.events[0]
	e.events = e.events[1:]
	if ev.Kind == EventNeedInput {
		e.accepting = true
	}
	return ev, nil
}

// ProcessInput implements Transform.
func (e *Emulated) ProcessInput(tex *frame.Texture, time, duration int64) error {
	if e.closed {
		tex.Release()
		return ErrClosed
	}
	if !e.streaming || e.eos || !e.accepting {
		return ErrNotAccepting
	}
	e.accepting = false

	pkt, err := e.codec.Encode(tex)
	tex.Release()
	if err != nil {
		if !errors.Is(err, codec.ErrFatal) {
			// the picture is lost but the device keeps streaming
			e.push(Event{Kind: EventNeedInput})
		}
		return errors.Wrap(err, "process input")
	}

	e.pending = append(e.pending, Sample{
		Data:     pkt.Data,
		Time:     time,
		Duration: duration,
		Keyframe: pkt.Keyframe,
	})
	if len(e.pending) >= e.depth {
		e.release(1)
	}
	e.push(Event{Kind: EventNeedInput})
	return nil
}

// ProcessOutput implements Transform.
func (e *Emulated) ProcessOutput() (Sample, error) {
	if len(e.ready) == 0 {
		return Sample{}, ErrNoOutput
	}
	s := e.ready[0]
	e.ready = e.ready[1:]
	return s, nil
}

// EndOfStream implements Transform.
func (e *Emulated) EndOfStream() error {
	if e.closed {
		return ErrClosed
	}
	e.eos = true
	e.accepting = false
	return nil
}

// Drain implements Transform. Buffered pictures are announced in input order.
func (e *Emulated) Drain() error {
	if e.closed {
		return ErrClosed
	}
	if !e.streaming {
		return ErrNotConfigured
	}
	e.accepting = false
	e.dropNeedInput()
	e.release(len(e.pending))
	e.push(Event{Kind: EventDrainComplete})
	return nil
}

// Close implements Transform. Undelivered samples are discarded.
func (e *Emulated) Close() error {
	if e.closed {
		return nil
	}
	e.closed = true
	e.streaming = false
	e.events = nil
	e.pending = nil
	e.ready = nil
	return e.codec.Close()
}

// Pending returns the number of pictures buffered inside the transform,
// announced or not.
func (e *Emulated) Pending() int {
	return len(e.pending) + len(e.ready)
}

func (e *Emulated) release(n int) {
	for i := 0; i < n; i++ {
		e.ready = append(e.ready, e.pending[0])
		e.pending = e.pending[1:]
		e.push(Event{Kind: EventHaveOutput})
	}
}

func (e *Emulated) dropNeedInput() {
	kept := e.events[:0]
	for _, ev := range e.events {
		if ev.Kind != EventNeedInput {
			kept = append(kept, ev)
		}
	}
	e.events = kept
}

func (e *Emulated) push(ev Event) {
	e.events = append(e.events, ev)
}
