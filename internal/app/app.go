// Package app assembles a capture session from configuration.
package app

import (
	"io"

	"github.com/pion/rtcp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/deskstream/internal/config"
	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/pkg/capture"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/encoder"
	"github.com/thesyncim/deskstream/pkg/frame"
	"github.com/thesyncim/deskstream/pkg/pipeline"
	"github.com/thesyncim/deskstream/pkg/sink"
	"github.com/thesyncim/deskstream/pkg/transform"
)

// Options carries the process-wide pieces a session shares.
type Options struct {
	Log      logrus.FieldLogger
	Reporter supervise.Reporter
}

// Session is a pipeline built from configuration plus everything it owns.
type Session struct {
	Pipeline *pipeline.Pipeline
	Sinks    []sink.Sink

	// Track is set when sink.kind is track.
	Track *sink.Track

	// RTP is set when sink.kind is rtp.
	RTP *sink.RTP

	codec   codec.Codec
	closers []io.Closer
	log     logrus.FieldLogger
}

// keyframeRequester is implemented by codecs that can force an intra picture.
type keyframeRequester interface {
	RequestKeyframe()
}

// Build creates the backend, codec, encoder and sinks described by cfg and
// initializes the pipeline. Modes are requested but not required: a backend
// that cannot scale keeps its native size and the refusal is logged.
func Build(cfg *config.Config, opts Options) (*Session, error) {
	log := logging.Component(opts.Log, "app")
	s := &Session{log: log}
	clk := clock.New()

	backend, err := NewBackend(cfg.Capture)
	if err != nil {
		return nil, err
	}

	w, h := cfg.EncoderSize()
	c, err := NewCodec(cfg.Encoder, w, h)
	if err != nil {
		return nil, err
	}

	encOpts := encoder.Options{Clock: clk, Log: opts.Log, Reporter: opts.Reporter}
	enc, err := NewEncoder(cfg.Encoder, c, encOpts)
	if err != nil {
		c.Close()
		return nil, err
	}

	if err := s.buildSinks(cfg, c.Type(), opts.Log); err != nil {
		c.Close()
		return nil, err
	}
	sinks := make([]pipeline.Sink, 0, len(s.Sinks))
	for _, sk := range s.Sinks {
		sinks = append(sinks, sk)
	}

	var conv pipeline.Converter
	if cfg.Capture.Backend == "screen" && c.Type() != codec.JPEG {
		conv = &frame.I420Converter{}
	}

	p, err := pipeline.New(pipeline.Config{
		Backend:      backend,
		Encoder:      enc,
		Converter:    conv,
		Sinks:        sinks,
		PollInterval: cfg.Encoder.PollInterval,
		Clock:        clk,
		Log:          opts.Log,
		Reporter:     opts.Reporter,
	})
	if err != nil {
		s.Close()
		c.Close()
		return nil, err
	}
	s.Pipeline = p
	s.codec = c

	if err := p.Init(); err != nil {
		s.Close()
		c.Close()
		return nil, err
	}
	s.closers = append(s.closers, closerFunc(func() error { return c.Close() }))

	s.applyModes(cfg)
	return s, nil
}

func (s *Session) applyModes(cfg *config.Config) {
	p := s.Pipeline
	w, h := cfg.EncoderSize()
	native := p.NativeMode()

	if w != native.Width || h != native.Height || cfg.Capture.FPS != native.Rate.Num {
		want := codec.Mode{Width: w, Height: h, Rate: codec.Rational{Num: cfg.Capture.FPS, Den: 1}}
		if !p.SetCaptureMode(want) {
			s.log.WithField("mode", want).WithField("native", native).Warn("capture mode refused, using native size")
			w, h = native.Width, native.Height
		}
	}

	encMode := codec.Mode{Width: w, Height: h, Rate: codec.Rational{Num: cfg.Encoder.FPS, Den: 1}}
	if !p.SetEncoderMode(encMode) {
		s.log.WithField("mode", encMode).Warn("encoder mode refused, following first frame")
	}
}

// NewBackend returns the capture backend named by c.Backend.
func NewBackend(c config.Capture) (capture.Backend, error) {
	rate := codec.Rational{Num: c.FPS, Den: 1}
	switch c.Backend {
	case "synthetic":
		return capture.NewSynthetic(capture.SyntheticConfig{
			Mode: codec.Mode{Width: c.Width, Height: c.Height, Rate: rate},
		}), nil
	case "screen":
		return capture.NewScreen(capture.ScreenConfig{Display: c.Display, Rate: rate}), nil
	default:
		return nil, errors.Wrapf(config.ErrInvalid, "capture.backend %q", c.Backend)
	}
}

// NewCodec returns the blocking codec named by c.Codec, sized for
// width x height.
func NewCodec(c config.Encoder, width, height int) (codec.Codec, error) {
	switch c.Codec {
	case "jpeg":
		return codec.NewJPEGCodec(codec.JPEGConfig{Quality: c.Quality}), nil
	case "h264":
		h := codec.DefaultH264Config(width, height)
		h.FPS = float64(c.FPS)
		h.KeyInterval = 2 * c.FPS
		if c.Bitrate > 0 {
			h.Bitrate = c.Bitrate
		}
		return codec.NewShimH264(h)
	default:
		return nil, errors.Wrapf(config.ErrInvalid, "encoder.codec %q", c.Codec)
	}
}

// NewEncoder wraps c in the encoder model named by cfg.Model. The async
// model drives c through an emulated transform of cfg.Depth pictures.
func NewEncoder(cfg config.Encoder, c codec.Codec, opts encoder.Options) (encoder.Encoder, error) {
	switch cfg.Model {
	case "threaded":
		return encoder.NewThreaded(c, opts), nil
	case "async":
		depth := cfg.Depth
		return encoder.NewAsync(encoder.AsyncConfig{
			Options: opts,
			NewTransform: func() (transform.Transform, error) {
				return transform.NewEmulated(nopCloseCodec{c}, transform.EmulatedConfig{Depth: depth}), nil
			},
			Rate:           codec.Rational{Num: cfg.FPS, Den: 1},
			StopDrainPolls: 2 * depth,
		})
	default:
		return nil, errors.Wrapf(config.ErrInvalid, "encoder.model %q", cfg.Model)
	}
}

// nopCloseCodec keeps the codec open across transform sessions; the
// Session closes it once.
type nopCloseCodec struct {
	codec.Codec
}

func (nopCloseCodec) Close() error { return nil }

func (s *Session) buildSinks(cfg *config.Config, ct codec.Type, log logrus.FieldLogger) error {
	rate := codec.Rational{Num: cfg.Encoder.FPS, Den: 1}

	switch cfg.Sink.Kind {
	case "none":
		return nil

	case "rtp":
		w, err := sink.DialUDP(cfg.Sink.Address)
		if err != nil {
			return err
		}
		r, err := sink.NewRTP(w, sink.RTPConfig{
			Codec:       ct,
			MTU:         cfg.Sink.MTU,
			PayloadType: cfg.Sink.PayloadType,
			Log:         log,
		})
		if err != nil {
			w.Close()
			return err
		}
		s.RTP = r
		s.Sinks = append(s.Sinks, r)
		s.closers = append(s.closers, r, w)
		return nil

	case "track":
		t, err := sink.NewTrack(sink.TrackConfig{Codec: ct, Rate: rate})
		if err != nil {
			return err
		}
		s.Track = t
		s.Sinks = append(s.Sinks, t)
		s.closers = append(s.closers, t)
		return nil

	default:
		return errors.Wrapf(config.ErrInvalid, "sink.kind %q", cfg.Sink.Kind)
	}
}

// RequestKeyframe asks the codec for an intra picture, as a receiver does
// with a picture loss indication. It reports false when the codec emits
// only keyframes or cannot force one.
func (s *Session) RequestKeyframe() bool {
	kr, ok := s.codec.(keyframeRequester)
	if !ok {
		return false
	}
	kr.RequestKeyframe()
	s.log.Debug("keyframe requested")
	return true
}

// HandleRTCP requests a keyframe for every picture loss indication or full
// intra request in pkts. It returns the number of requests forwarded.
func (s *Session) HandleRTCP(pkts []rtcp.Packet) int {
	n := 0
	for _, p := range pkts {
		switch p.(type) {
		case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
			if s.RequestKeyframe() {
				n++
			}
		}
	}
	return n
}

// AddCloser registers c to be closed with the session.
func (s *Session) AddCloser(c io.Closer) {
	s.closers = append(s.closers, c)
}

// Close stops the pipeline, closes the backend and then every owned
// resource. It returns the first error.
func (s *Session) Close() error {
	var first error
	if s.Pipeline != nil {
		first = s.Pipeline.Close()
	}
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
