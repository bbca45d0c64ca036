package encoder

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
	"github.com/thesyncim/deskstream/pkg/transform"
)

// State is the lifecycle state of an Async encoder.
type State int32

const (
	StateIdle State = iota
	StateWaitingInput
	StateBusy
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateWaitingInput:
		return "WaitingInput"
	case StateBusy:
		return "Busy"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// TransformFactory opens a new transform session.
type TransformFactory func() (transform.Transform, error)

// AsyncConfig configures an Async encoder.
type AsyncConfig struct {
	Options

	// NewTransform opens the device session on Start.
	NewTransform TransformFactory

	// Rate is the nominal frame rate used to derive sample times.
	// Defaults to codec.DefaultRate.
	Rate codec.Rational

	// StopDrainPolls bounds how many poll rounds Stop spends collecting
	// outputs after requesting a drain. Zero discards them.
	StopDrainPolls int
}

// Async drives an asynchronous transform by cooperative polling.
//
// Each accepted frame is given the sample time of its counter at the nominal
// rate and its metadata is kept in an in-flight list until the transform
// returns a sample with the same time. Push and Poll must be called from a single
// goroutine; only Stats, State and InFlight may be called concurrently.
type Async struct {
	cfg  AsyncConfig
	opts Options

	mu       sync.Mutex
	onOutput OutputFunc

	t           transform.Transform
	state       atomic.Int32
	configured  bool
	width       int
	height      int
	rate        codec.Rational
	duration    int64
	counter     int64
	inflight    []frame.Frame[int64]
	inflightLen atomic.Int32
	draining    bool
	drained     bool

	pushed   atomic.Uint64
	rejected atomic.Uint64
	encoded  atomic.Uint64
	errs     atomic.Uint64
	lost     atomic.Uint64
	ignored  atomic.Uint64
}

var _ Encoder = (*Async)(nil)

// NewAsync returns an idle encoder.
func NewAsync(cfg AsyncConfig) (*Async, error) {
	if cfg.NewTransform == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "NewTransform is required")
	}
	if cfg.StopDrainPolls < 0 {
		return nil, errors.Wrap(ErrInvalidConfig, "StopDrainPolls must not be negative")
	}
	rate := cfg.Rate.OrDefault()
	if rate.FrameDuration100ns() < 1 {
		return nil, errors.Wrapf(ErrInvalidConfig, "rate %s is above 10 MHz", rate)
	}
	return &Async{
		cfg:      cfg,
		opts:     cfg.Options.withDefaults("encoder.async"),
		onOutput: noOutput,
		rate:     rate,
		duration: rate.FrameDuration100ns(),
	}, nil
}

// OnOutput implements Encoder.
func (e *Async) OnOutput(fn OutputFunc) {
	if fn == nil {
		fn = noOutput
	}
	e.mu.Lock()
	e.onOutput = fn
	e.mu.Unlock()
}

// State returns the current lifecycle state.
func (e *Async) State() State {
	return State(e.state.Load())
}

func (e *Async) setState(s State) {
	e.state.Store(int32(s))
}

// Start implements Encoder. It opens a transform session; the transform is
// configured by the first accepted frame.
func (e *Async) Start() error {
	if e.State() != StateIdle {
		return ErrAlreadyRunning
	}
	t, err := e.cfg.NewTransform()
	if err != nil {
		return errors.Wrap(err, "open transform")
	}

	e.t = t
	e.configured = false
	e.counter = 0
	e.inflight = e.inflight[:0]
	e.inflightLen.Store(0)
	e.draining = false
	e.drained = false
	e.setState(StateWaitingInput)
	e.opts.Log.WithField("rate", e.rate).Info("started")
	return nil
}

// Push implements Encoder. A frame is accepted only while the transform is
// waiting for input. A frame whose size differs from the first accepted one
// is released and counted as rejected; Push still reports true for it so
// the caller does not retry.
func (e *Async) Push(f frame.Frame[*frame.Texture]) bool {
	if e.State() != StateWaitingInput {
		return false
	}
	tex := f.Payload

	if !e.configured {
		if err := e.configure(tex.Width, tex.Height); err != nil {
			e.fail(supervise.NewFatal("encoder.async", err))
			return false
		}
	} else if tex.Width != e.width || tex.Height != e.height {
		e.rejected.Add(1)
		e.opts.Log.
			WithField("width", tex.Width).WithField("height", tex.Height).
			WithField("want_width", e.width).WithField("want_height", e.height).
			Warn("frame size differs from session, dropping")
		tex.Release()
		return true
	}

	sampleTime := e.rate.SampleTime100ns(e.counter)
	e.counter++
	e.inflight = append(e.inflight, frame.Repackage(f, sampleTime))
	e.inflightLen.Store(int32(len(e.inflight)))
	e.pushed.Add(1)
	e.setState(StateBusy)

	err := e.t.ProcessInput(tex, sampleTime, e.duration)
	switch {
	case err == nil:
	case errors.Is(err, transform.ErrNotAccepting):
		// The metadata stays in flight and is discarded at Stop.
		tex.Release()
		e.opts.Log.WithField("sample_time", sampleTime).Debug("transform not accepting")
	case errors.Is(err, codec.ErrFatal), errors.Is(err, transform.ErrClosed):
		e.fail(supervise.NewFatal("encoder.async", err))
	default:
		e.removeInflight(sampleTime)
		e.errs.Add(1)
		e.opts.Log.WithError(err).Warn("encode error")
	}
	return true
}

func (e *Async) configure(width, height int) error {
	if err := e.t.Configure(width, height, e.rate); err != nil {
		return errors.Wrap(err, "configure transform")
	}
	if err := e.t.StartStream(); err != nil {
		return errors.Wrap(err, "start stream")
	}
	e.configured = true
	e.width, e.height = width, height
	e.opts.Log.WithField("width", width).WithField("height", height).Info("transform configured")

	// Consume the initial NeedInput so the first ProcessInput is accepted.
	for {
		ev, err := e.t.NextEvent()
		if errors.Is(err, transform.ErrNoEvents) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "next event")
		}
		if ev.Kind == transform.EventNeedInput {
			return nil
		}
		e.ignoreEvent(ev)
	}
}

// Poll implements Encoder by delivering PollOutputs to the callback.
func (e *Async) Poll() error {
	outs, err := e.PollOutputs()
	if len(outs) > 0 {
		e.mu.Lock()
		fn := e.onOutput
		e.mu.Unlock()
		for _, out := range outs {
			fn(out)
		}
	}
	return err
}

// PollOutputs handles every event currently queued by the transform and
// returns the outputs in the order the transform produced them. It never
// blocks. Before the first accepted frame it does nothing.
func (e *Async) PollOutputs() ([]frame.Frame[*bytebuf.Buffer], error) {
	switch e.State() {
	case StateIdle:
		return nil, nil
	case StateFailed:
		return nil, ErrFailed
	}
	if !e.configured {
		return nil, nil
	}

	var outs []frame.Frame[*bytebuf.Buffer]
	for {
		ev, err := e.t.NextEvent()
		if errors.Is(err, transform.ErrNoEvents) {
			return outs, nil
		}
		if err != nil {
			return outs, e.fail(supervise.NewFatal("encoder.async", errors.Wrap(err, "next event")))
		}

		switch ev.Kind {
		case transform.EventNeedInput:
			if !e.draining {
				e.setState(StateWaitingInput)
			}

		case transform.EventHaveOutput:
			out, err := e.collect()
			if err != nil {
				return outs, e.fail(err)
			}
			outs = append(outs, out)

		case transform.EventDrainComplete:
			e.drained = true

		default:
			e.ignoreEvent(ev)
		}
	}
}

// collect retrieves one sample and reunites it with its metadata.
func (e *Async) collect() (frame.Frame[*bytebuf.Buffer], error) {
	s, err := e.t.ProcessOutput()
	if err != nil {
		return frame.Frame[*bytebuf.Buffer]{}, supervise.NewFatal("encoder.async", errors.Wrap(err, "process output"))
	}

	meta, ok := e.removeInflight(s.Time)
	if !ok {
		return frame.Frame[*bytebuf.Buffer]{}, supervise.Fatalf("encoder.async",
			"no in-flight frame for sample time %d (in flight: %d)", s.Time, len(e.inflight))
	}

	out := frame.Repackage(meta, s.Data)
	out.Encoded = e.opts.Clock.Now()
	out.Keyframe = s.Keyframe
	e.encoded.Add(1)
	return out, nil
}

func (e *Async) removeInflight(sampleTime int64) (frame.Frame[int64], bool) {
	for i, m := range e.inflight {
		if m.Payload == sampleTime {
			copy(e.inflight[i:], e.inflight[i+1:])
			e.inflight = e.inflight[:len(e.inflight)-1]
			e.inflightLen.Store(int32(len(e.inflight)))
			return m, true
		}
	}
	return frame.Frame[int64]{}, false
}

func (e *Async) ignoreEvent(ev transform.Event) {
	e.ignored.Add(1)
	e.opts.Log.WithField("event", ev.Kind).WithField("code", ev.Code).Warn("ignoring transform event")
}

// fail moves to StateFailed and reports err. It returns err for chaining.
func (e *Async) fail(err error) error {
	e.setState(StateFailed)
	e.opts.Reporter.Fatal(err)
	return err
}

// Drain signals end of stream, requests a drain, and polls up to maxPolls
// rounds, delivering outputs to the callback. It stops early once the
// transform reports DrainComplete or a round yields nothing. It returns the
// number of frames delivered.
func (e *Async) Drain(maxPolls int) (int, error) {
	if e.State() == StateIdle || e.State() == StateFailed || !e.configured {
		return 0, nil
	}
	if !e.draining {
		e.draining = true
		if err := e.t.EndOfStream(); err != nil {
			return 0, errors.Wrap(err, "end of stream")
		}
		if err := e.t.Drain(); err != nil {
			return 0, errors.Wrap(err, "drain")
		}
		e.setState(StateBusy)
	}

	e.mu.Lock()
	fn := e.onOutput
	e.mu.Unlock()

	delivered := 0
	for i := 0; i < maxPolls && !e.drained; i++ {
		outs, err := e.PollOutputs()
		for _, out := range outs {
			fn(out)
		}
		delivered += len(outs)
		if err != nil {
			return delivered, err
		}
		if len(outs) == 0 && !e.drained {
			break
		}
	}
	return delivered, nil
}

// Stop implements Encoder. It drains for up to StopDrainPolls rounds, then
// discards whatever is still in flight and closes the transform session.
// Stop is also the way out of StateFailed.
func (e *Async) Stop() error {
	if e.State() == StateIdle {
		return nil
	}

	var drainErr error
	if e.State() != StateFailed {
		_, drainErr = e.Drain(e.cfg.StopDrainPolls)
	}

	if n := len(e.inflight); n > 0 {
		e.lost.Add(uint64(n))
		e.opts.Log.WithField("frames", n).Info("discarding in-flight frames")
	}
	e.inflight = e.inflight[:0]
	e.inflightLen.Store(0)

	closeErr := e.t.Close()
	e.t = nil
	e.configured = false
	e.setState(StateIdle)
	e.opts.Log.Info("stopped")

	if drainErr != nil {
		return drainErr
	}
	return errors.Wrap(closeErr, "close transform")
}

// InFlight implements Encoder.
func (e *Async) InFlight() int {
	return int(e.inflightLen.Load())
}

// Stats implements Encoder.
func (e *Async) Stats() Stats {
	return Stats{
		Pushed:        e.pushed.Load(),
		Rejected:      e.rejected.Load(),
		Encoded:       e.encoded.Load(),
		Errors:        e.errs.Load(),
		Lost:          e.lost.Load(),
		IgnoredEvents: e.ignored.Load(),
	}
}
