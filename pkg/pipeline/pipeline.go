// Package pipeline connects a capture backend to an encoder.
//
// Two goroutines share one latest-wins slot. The capture goroutine paces
// itself on the backend tick, stamps each texture and overwrites the slot;
// the encode goroutine takes the newest frame, hands it to the encoder and
// keeps the encoder polled. When encoding is slower than capture, frames are
// dropped rather than queued.
package pipeline

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/capture"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/encoder"
	"github.com/thesyncim/deskstream/pkg/frame"
	"github.com/thesyncim/deskstream/pkg/mailbox"
	"github.com/thesyncim/deskstream/pkg/stats"
)

// DefaultPollInterval bounds how long the encode goroutine waits for a new
// frame while the encoder still has work in flight.
const DefaultPollInterval = time.Millisecond

var (
	ErrNotInitialized = errors.New("pipeline: not initialized")
	ErrAlreadyRunning = errors.New("pipeline: already running")
	ErrInvalidConfig  = errors.New("pipeline: invalid configuration")
)

// State is the lifecycle state of a Pipeline.
type State int32

const (
	StateUninitialized State = iota
	StateInitialized
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "Uninitialized"
	case StateInitialized:
		return "Initialized"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Converter rewrites a captured texture before it reaches the encoder, for
// example to change its pixel format. On success it owns the input; on
// error the caller still does.
type Converter interface {
	Convert(tex *frame.Texture) (*frame.Texture, error)
}

// Sink receives every encoded frame in production order.
type Sink interface {
	WriteFrame(f frame.Frame[*bytebuf.Buffer]) error
}

// Config configures a Pipeline. Backend and Encoder are required.
type Config struct {
	Backend   capture.Backend
	Encoder   encoder.Encoder
	Converter Converter
	Sinks     []Sink

	// PollInterval defaults to DefaultPollInterval.
	PollInterval time.Duration

	// Clock stamps Captured. Share it with the encoder so latencies are
	// measured on one time base.
	Clock *clock.Clock

	Log      logrus.FieldLogger
	Reporter supervise.Reporter
}

// Stats is a snapshot of pipeline counters.
type Stats struct {
	Session  string
	State    State
	Captured uint64 // frames put into the slot
	Skipped  uint64 // ticks without a new image
	Dropped  uint64 // frames replaced before reaching the encoder
	Encoded  uint64 // frames delivered downstream
	SinkErrs uint64

	// Latency is capture-to-encoded over the last stats.Window frames.
	// LatencyReady is false until the window has filled.
	Latency      stats.Summary
	LatencyReady bool

	Encoder encoder.Stats
}

// Pipeline runs capture and encoding on two goroutines.
type Pipeline struct {
	cfg     Config
	id      uuid.UUID
	log     logrus.FieldLogger
	clock   *clock.Clock
	latency *stats.Monitor

	mu       sync.Mutex // serializes lifecycle calls
	state    atomic.Int32
	running  atomic.Bool
	slot     *mailbox.Slot[frame.Frame[*frame.Texture]]
	wg       sync.WaitGroup
	encMode  codec.Mode
	onOutput atomic.Pointer[encoder.OutputFunc]

	// owned by the capture goroutine
	cursorPos   *frame.CursorPos
	cursorShape *frame.CursorShape

	captured atomic.Uint64
	skipped  atomic.Uint64
	dropped  atomic.Uint64
	encoded  atomic.Uint64
	sinkErrs atomic.Uint64
}

// New returns an uninitialized pipeline.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Backend == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "Backend is required")
	}
	if cfg.Encoder == nil {
		return nil, errors.Wrap(ErrInvalidConfig, "Encoder is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}

	id := uuid.New()
	log := logging.Component(cfg.Log, "pipeline").WithField("session", id.String())
	if cfg.Reporter == nil {
		cfg.Reporter = supervise.New(log, nil)
	}

	return &Pipeline{
		cfg:     cfg,
		id:      id,
		log:     log,
		clock:   cfg.Clock,
		latency: stats.NewMonitor(),
	}, nil
}

// ID returns the session id used in logs.
func (p *Pipeline) ID() uuid.UUID {
	return p.id
}

// State returns the lifecycle state.
func (p *Pipeline) State() State {
	return State(p.state.Load())
}

// OnOutput installs a callback that runs after the sinks for every encoded
// frame. It may be called at any time.
func (p *Pipeline) OnOutput(fn encoder.OutputFunc) {
	if fn == nil {
		p.onOutput.Store(nil)
		return
	}
	p.onOutput.Store(&fn)
}

// Init initializes the capture backend. On failure the pipeline stays
// uninitialized and Init may be retried. Calling Init again after success
// does nothing.
func (p *Pipeline) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != StateUninitialized {
		return nil
	}
	if err := p.cfg.Backend.Init(); err != nil {
		return errors.Wrap(err, "init capture backend")
	}
	p.cfg.Encoder.OnOutput(p.deliver)
	p.state.Store(int32(StateInitialized))
	p.log.WithField("native_mode", p.cfg.Backend.NativeMode()).Info("initialized")
	return nil
}

// NativeMode returns the backend's preferred mode. It is the zero Mode
// before Init.
func (p *Pipeline) NativeMode() codec.Mode {
	if p.State() == StateUninitialized {
		return codec.Mode{}
	}
	return p.cfg.Backend.NativeMode()
}

// SetCaptureMode asks the backend for a mode and reports whether it was
// honored. It may be called while running.
func (p *Pipeline) SetCaptureMode(mode codec.Mode) bool {
	if p.State() == StateUninitialized || !mode.Valid() {
		return false
	}
	ok := p.cfg.Backend.SetMode(mode)
	p.log.WithField("mode", mode).WithField("honored", ok).Info("capture mode requested")
	return ok
}

// resolutionSetter is implemented by encoders that accept a resolution
// before they start.
type resolutionSetter interface {
	SetResolution(width, height int) error
}

// SetEncoderMode records the encoder mode and applies its resolution to
// encoders that support it. It is refused while running and for encoders
// that reject the resolution.
func (p *Pipeline) SetEncoderMode(mode codec.Mode) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == StateRunning || !mode.Valid() {
		return false
	}
	if rs, ok := p.cfg.Encoder.(resolutionSetter); ok {
		if err := rs.SetResolution(mode.Width, mode.Height); err != nil {
			p.log.WithError(err).WithField("mode", mode).Warn("encoder mode refused")
			return false
		}
	}
	p.encMode = mode
	p.log.WithField("mode", mode).Info("encoder mode set")
	return true
}

// EncoderMode returns the last mode accepted by SetEncoderMode.
func (p *Pipeline) EncoderMode() codec.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encMode
}

// Start starts the encoder and both goroutines.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.State() {
	case StateUninitialized:
		return ErrNotInitialized
	case StateRunning:
		return ErrAlreadyRunning
	}

	if err := p.cfg.Encoder.Start(); err != nil {
		return errors.Wrap(err, "start encoder")
	}

	slot := mailbox.New(func(f frame.Frame[*frame.Texture]) {
		p.dropped.Add(1)
		f.Payload.Release()
	})
	p.slot = slot
	p.cursorPos, p.cursorShape = nil, nil
	p.running.Store(true)
	p.state.Store(int32(StateRunning))

	p.wg.Add(2)
	go p.captureLoop(slot)
	go p.encodeLoop(slot)
	p.log.Info("started")
	return nil
}

// Stop joins both goroutines, then stops the encoder, which may deliver
// its remaining outputs. Stop on a pipeline that is not running does
// nothing.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() != StateRunning {
		return nil
	}
	p.running.Store(false)
	p.slot.Close()
	p.wg.Wait()

	err := p.cfg.Encoder.Stop()
	p.state.Store(int32(StateStopped))
	p.log.WithField("captured", p.captured.Load()).
		WithField("dropped", p.dropped.Load()).
		WithField("encoded", p.encoded.Load()).
		Info("stopped")
	return errors.Wrap(err, "stop encoder")
}

// Close stops the pipeline and closes the capture backend.
func (p *Pipeline) Close() error {
	stopErr := p.Stop()
	if err := p.cfg.Backend.Close(); err != nil {
		return errors.Wrap(err, "close capture backend")
	}
	return stopErr
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	s := Stats{
		Session:  p.id.String(),
		State:    p.State(),
		Captured: p.captured.Load(),
		Skipped:  p.skipped.Load(),
		Dropped:  p.dropped.Load(),
		Encoded:  p.encoded.Load(),
		SinkErrs: p.sinkErrs.Load(),
		Encoder:  p.cfg.Encoder.Stats(),
	}
	s.Latency, s.LatencyReady = p.latency.Get()
	return s
}

func (p *Pipeline) fatal(component string, err error) {
	p.cfg.Reporter.Fatal(supervise.NewFatal(component, err))
}

func (p *Pipeline) captureLoop(slot *mailbox.Slot[frame.Frame[*frame.Texture]]) {
	defer p.wg.Done()

	backend, conv := p.cfg.Backend, p.cfg.Converter
	for p.running.Load() {
		backend.WaitTick()
		if !p.running.Load() {
			return
		}

		tex, cu, err := backend.Acquire()
		if err != nil {
			if errors.Is(err, capture.ErrNoFrame) {
				p.skipped.Add(1)
				p.log.WithError(err).Debug("no frame this tick")
				continue
			}
			p.fatal("pipeline.capture", errors.Wrap(err, "acquire"))
			return
		}
		captured := p.clock.Now()

		if cu.Pos != nil {
			p.cursorPos = cu.Pos
		}
		if cu.Shape != nil {
			p.cursorShape = cu.Shape
		}

		if conv != nil {
			out, err := conv.Convert(tex)
			if err != nil {
				tex.Release()
				p.fatal("pipeline.capture", errors.Wrap(err, "convert"))
				return
			}
			tex = out
		}

		f := frame.New(tex)
		f.Captured = captured
		f.CursorPos = p.cursorPos
		f.CursorShape = p.cursorShape

		if !slot.Put(f) {
			tex.Release()
			return
		}
		p.captured.Add(1)
	}
}

func (p *Pipeline) encodeLoop(slot *mailbox.Slot[frame.Frame[*frame.Texture]]) {
	defer p.wg.Done()

	enc := p.cfg.Encoder
	var (
		held    frame.Frame[*frame.Texture]
		holding bool
	)
	defer func() {
		if holding {
			held.Payload.Release()
		}
	}()

	for {
		var (
			f   frame.Frame[*frame.Texture]
			err error
		)
		if holding || enc.InFlight() > 0 {
			f, err = slot.TakeWithin(p.cfg.PollInterval)
		} else {
			f, err = slot.Take()
		}

		switch {
		case err == nil:
			if holding {
				held.Payload.Release()
				p.dropped.Add(1)
			}
			held, holding = f, true
		case errors.Is(err, mailbox.ErrTimeout):
		default:
			return
		}

		if err := enc.Poll(); err != nil {
			// The encoder has reported the failure itself.
			p.log.WithError(err).Error("encoder failed, encode loop exiting")
			return
		}
		if holding && enc.Push(held) {
			holding = false
		}
	}
}

// deliver runs on whichever goroutine the encoder delivers from.
func (p *Pipeline) deliver(f frame.Frame[*bytebuf.Buffer]) {
	p.encoded.Add(1)
	p.latency.Add(f.EncodeLatency())

	for _, s := range p.cfg.Sinks {
		if err := s.WriteFrame(f); err != nil {
			p.sinkErrs.Add(1)
			p.log.WithError(err).Warn("sink write failed")
		}
	}
	if fn := p.onOutput.Load(); fn != nil {
		(*fn)(f)
	}
}
