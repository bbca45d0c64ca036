package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/internal/testutil"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/capture"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/encoder"
	"github.com/thesyncim/deskstream/pkg/frame"
	"github.com/thesyncim/deskstream/pkg/transform"
)

var testMode = codec.Mode{Width: 16, Height: 16, Rate: codec.DefaultRate}

// fakeBackend produces tagged 16x16 textures every interval.
type fakeBackend struct {
	mu       sync.Mutex
	interval time.Duration
	format   frame.PixelFormat
	initErr  error
	fail     func(n int) error
	n        int
	closed   bool
	modes    []codec.Mode
}

func (b *fakeBackend) Init() error            { return b.initErr }
func (b *fakeBackend) NativeMode() codec.Mode { return testMode }

func (b *fakeBackend) SetMode(m codec.Mode) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.modes = append(b.modes, m)
	return m.Width == testMode.Width && m.Height == testMode.Height
}

func (b *fakeBackend) WaitTick() {
	if b.interval > 0 {
		time.Sleep(b.interval)
	}
}

func (b *fakeBackend) Acquire() (*frame.Texture, capture.CursorUpdate, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	if b.fail != nil {
		if err := b.fail(b.n); err != nil {
			return nil, capture.CursorUpdate{}, err
		}
	}

	var tex *frame.Texture
	if b.format == frame.PixelFormatRGBA {
		tex = frame.NewTexture(16, 16, frame.PixelFormatRGBA)
	} else {
		tex = testutil.TaggedTexture(byte(b.n))
	}

	cu := capture.CursorUpdate{Pos: &frame.CursorPos{Visible: true, X: b.n}}
	if b.n == 1 {
		cu.Shape = &frame.CursorShape{Width: 1, Height: 1, Image: bytebuf.New(4)}
	}
	return tex, cu, nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

// outputs collects delivered frames.
type outputs struct {
	mu     sync.Mutex
	frames []frame.Frame[*bytebuf.Buffer]
}

func (o *outputs) add(f frame.Frame[*bytebuf.Buffer]) {
	o.mu.Lock()
	o.frames = append(o.frames, f)
	o.mu.Unlock()
}

func (o *outputs) WriteFrame(f frame.Frame[*bytebuf.Buffer]) error {
	o.add(f)
	return nil
}

func (o *outputs) len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.frames)
}

func (o *outputs) snapshot() []frame.Frame[*bytebuf.Buffer] {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]frame.Frame[*bytebuf.Buffer](nil), o.frames...)
}

type failingSink struct{}

func (failingSink) WriteFrame(frame.Frame[*bytebuf.Buffer]) error {
	return errors.New("peer gone")
}

type harness struct {
	p     *Pipeline
	out   *outputs
	sup   *supervise.Supervisor
	codec *testutil.Codec
}

func newHarness(t *testing.T, b capture.Backend, c *testutil.Codec, async bool, sinks ...Sink) *harness {
	t.Helper()
	if c == nil {
		c = &testutil.Codec{}
	}
	sup := supervise.New(logging.Discard(), func(*supervise.FatalError) {})
	clk := clock.New()
	opts := encoder.Options{Clock: clk, Log: logging.Discard(), Reporter: sup}

	var enc encoder.Encoder
	if async {
		var err error
		enc, err = encoder.NewAsync(encoder.AsyncConfig{
			Options: opts,
			NewTransform: func() (transform.Transform, error) {
				return transform.NewEmulated(c, transform.EmulatedConfig{Depth: 2}), nil
			},
			StopDrainPolls: 8,
		})
		require.NoError(t, err)
	} else {
		enc = encoder.NewThreaded(c, opts)
	}

	out := &outputs{}
	p, err := New(Config{
		Backend:  b,
		Encoder:  enc,
		Sinks:    append(sinks, out),
		Clock:    clk,
		Log:      logging.Discard(),
		Reporter: sup,
	})
	require.NoError(t, err)
	return &harness{p: p, out: out, sup: sup, codec: c}
}

func (h *harness) waitOutputs(t *testing.T, n int) {
	t.Helper()
	require.True(t, testutil.Eventually(2*time.Second, func() bool { return h.out.len() >= n }),
		"got %d outputs, want %d", h.out.len(), n)
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, errors.Is(err, ErrInvalidConfig))

	_, err = New(Config{Backend: &fakeBackend{}})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestStateMachine(t *testing.T) {
	b := &fakeBackend{interval: time.Millisecond, initErr: errors.New("no gpu")}
	h := newHarness(t, b, nil, false)
	p := h.p

	assert.Equal(t, StateUninitialized, p.State())
	assert.ErrorIs(t, p.Start(), ErrNotInitialized)
	require.NoError(t, p.Stop(), "stop before start is a no-op")

	require.Error(t, p.Init())
	assert.Equal(t, StateUninitialized, p.State(), "failed init stays uninitialized")

	b.initErr = nil
	require.NoError(t, p.Init())
	assert.Equal(t, StateInitialized, p.State())
	require.NoError(t, p.Init())

	require.NoError(t, p.Start())
	assert.Equal(t, StateRunning, p.State())
	assert.ErrorIs(t, p.Start(), ErrAlreadyRunning)

	require.NoError(t, p.Stop())
	assert.Equal(t, StateStopped, p.State())
	require.NoError(t, p.Stop())

	require.NoError(t, p.Start(), "a stopped pipeline restarts")
	h.waitOutputs(t, 1)
	require.NoError(t, p.Close())
	assert.True(t, b.closed)
	assert.Equal(t, 0, h.sup.Count())
}

func TestThreadedEndToEnd(t *testing.T) {
	h := newHarness(t, &fakeBackend{interval: time.Millisecond}, nil, false)
	require.NoError(t, h.p.Init())
	require.NoError(t, h.p.Start())
	h.waitOutputs(t, 10)
	require.NoError(t, h.p.Stop())

	got := h.out.snapshot()
	var prev clock.Micros = clock.Unset
	for i, f := range got {
		require.True(t, f.Captured.IsSet())
		require.True(t, f.Encoded.IsSet())
		assert.GreaterOrEqual(t, f.Encoded, f.Captured)
		assert.Greater(t, f.Captured, prev, "frame %d out of order", i)
		prev = f.Captured

		require.NotNil(t, f.CursorPos)
		require.NotNil(t, f.CursorShape, "shape from the first capture sticks")
	}

	st := h.p.Stats()
	assert.Equal(t, uint64(len(got)), st.Encoded)
	assert.Equal(t, StateStopped, st.State)
	assert.Equal(t, h.p.ID().String(), st.Session)
	assert.GreaterOrEqual(t, st.Captured, st.Encoded)
	assert.Equal(t, 0, h.sup.Count())
}

func TestAsyncEndToEnd(t *testing.T) {
	h := newHarness(t, &fakeBackend{interval: time.Millisecond}, nil, true)
	require.NoError(t, h.p.Init())
	require.NoError(t, h.p.Start())
	h.waitOutputs(t, 10)
	require.NoError(t, h.p.Stop())

	st := h.p.Stats()
	assert.Equal(t, st.Encoder.Pushed, st.Encoder.Encoded+st.Encoder.Lost)
	assert.Equal(t, uint64(0), st.Encoder.Lost, "stop drains the transform")
	assert.Equal(t, uint64(h.out.len()), st.Encoded)
	assert.Equal(t, h.codec.Encoded(), tagsOf(h.out.snapshot()))
	assert.Equal(t, 0, h.sup.Count())
}

func tagsOf(fs []frame.Frame[*bytebuf.Buffer]) []byte {
	var tags []byte
	for _, f := range fs {
		tags = append(tags, f.Payload.At(0))
	}
	return tags
}

func TestSlowEncoderDropsFrames(t *testing.T) {
	for _, async := range []bool{false, true} {
		name := "threaded"
		if async {
			name = "async"
		}
		t.Run(name, func(t *testing.T) {
			c := &testutil.Codec{Delay: 5 * time.Millisecond}
			h := newHarness(t, &fakeBackend{interval: 500 * time.Microsecond}, c, async)
			require.NoError(t, h.p.Init())
			require.NoError(t, h.p.Start())
			h.waitOutputs(t, 5)
			require.NoError(t, h.p.Stop())

			st := h.p.Stats()
			assert.Greater(t, st.Dropped+st.Encoder.Dropped, uint64(0))
			assert.Less(t, st.Encoded, st.Captured)
		})
	}
}

func TestSkipsTicksWithoutFrames(t *testing.T) {
	b := &fakeBackend{interval: time.Millisecond, fail: func(n int) error {
		if n%2 == 0 {
			return errors.Wrap(capture.ErrNoFrame, "unchanged")
		}
		return nil
	}}
	h := newHarness(t, b, nil, false)
	require.NoError(t, h.p.Init())
	require.NoError(t, h.p.Start())
	h.waitOutputs(t, 3)
	require.NoError(t, h.p.Stop())

	assert.Greater(t, h.p.Stats().Skipped, uint64(0))
	assert.Equal(t, 0, h.sup.Count())
}

func TestAcquireFailureIsFatal(t *testing.T) {
	b := &fakeBackend{interval: time.Millisecond, fail: func(n int) error {
		if n == 3 {
			return errors.New("device lost")
		}
		return nil
	}}
	h := newHarness(t, b, nil, false)
	require.NoError(t, h.p.Init())
	require.NoError(t, h.p.Start())

	select {
	case <-h.sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("no fatal error reported")
	}
	var fe *supervise.FatalError
	require.True(t, errors.As(h.sup.Err(), &fe))
	assert.Equal(t, "pipeline.capture", fe.Component)
	assert.Contains(t, fe.Error(), "device lost")

	require.NoError(t, h.p.Stop())
	assert.Equal(t, uint64(2), h.p.Stats().Captured)
}

func TestStopWithoutFrames(t *testing.T) {
	b := &fakeBackend{interval: 10 * time.Millisecond, fail: func(int) error { return capture.ErrNoFrame }}
	h := newHarness(t, b, nil, true)
	require.NoError(t, h.p.Init())
	require.NoError(t, h.p.Start())
	time.Sleep(15 * time.Millisecond)

	start := time.Now()
	require.NoError(t, h.p.Stop())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, 0, h.out.len())
}

type countingConverter struct {
	frame.I420Converter
	mu sync.Mutex
	n  int
}

func (c *countingConverter) Convert(tex *frame.Texture) (*frame.Texture, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.I420Converter.Convert(tex)
}

type formatCodec struct {
	testutil.Codec
	mu      sync.Mutex
	formats map[frame.PixelFormat]int
}

func (c *formatCodec) Encode(tex *frame.Texture) (codec.Packet, error) {
	c.mu.Lock()
	c.formats[tex.Format]++
	c.mu.Unlock()
	return c.Codec.Encode(tex)
}

func TestConverter(t *testing.T) {
	conv := &countingConverter{}
	c := &formatCodec{formats: map[frame.PixelFormat]int{}}
	sup := supervise.New(logging.Discard(), func(*supervise.FatalError) {})
	out := &outputs{}

	p, err := New(Config{
		Backend:   &fakeBackend{interval: time.Millisecond, format: frame.PixelFormatRGBA},
		Encoder:   encoder.NewThreaded(c, encoder.Options{Log: logging.Discard(), Reporter: sup}),
		Converter: conv,
		Sinks:     []Sink{out},
		Reporter:  sup,
		Log:       logging.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, p.Init())
	require.NoError(t, p.Start())
	require.True(t, testutil.Eventually(2*time.Second, func() bool { return out.len() >= 3 }))
	require.NoError(t, p.Stop())

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Zero(t, c.formats[frame.PixelFormatRGBA])
	assert.Positive(t, c.formats[frame.PixelFormatI420])
	assert.Positive(t, conv.n)
}

func TestModes(t *testing.T) {
	b := &fakeBackend{interval: time.Millisecond}
	h := newHarness(t, b, nil, false)
	p := h.p

	assert.Equal(t, codec.Mode{}, p.NativeMode())
	assert.False(t, p.SetCaptureMode(testMode), "capture mode before init")

	require.NoError(t, p.Init())
	assert.Equal(t, testMode, p.NativeMode())
	assert.True(t, p.SetCaptureMode(codec.Mode{Width: 16, Height: 16, Rate: codec.Rational{Num: 30, Den: 1}}))
	assert.False(t, p.SetCaptureMode(codec.Mode{Width: 8, Height: 8, Rate: codec.DefaultRate}))
	assert.False(t, p.SetCaptureMode(codec.Mode{Width: 8, Height: 8}), "invalid modes never reach the backend")
	assert.Len(t, b.modes, 2)

	enc := codec.Mode{Width: 16, Height: 16, Rate: codec.Rational{Num: 30, Den: 1}}
	require.True(t, p.SetEncoderMode(enc))
	assert.Equal(t, enc, p.EncoderMode())
	w, hgt := h.codec.Resolution()
	assert.Equal(t, 16, w)
	assert.Equal(t, 16, hgt)
	assert.False(t, p.SetEncoderMode(codec.Mode{Width: -1, Height: 16, Rate: codec.DefaultRate}))

	require.NoError(t, p.Start())
	defer p.Stop()
	assert.False(t, p.SetEncoderMode(enc), "encoder mode is fixed while running")
	assert.True(t, p.SetCaptureMode(testMode), "capture mode may change while running")
}

func TestSinkErrorsAreCounted(t *testing.T) {
	h := newHarness(t, &fakeBackend{interval: time.Millisecond}, nil, false, failingSink{})
	var callbacks int
	var mu sync.Mutex
	h.p.OnOutput(func(frame.Frame[*bytebuf.Buffer]) {
		mu.Lock()
		callbacks++
		mu.Unlock()
	})

	require.NoError(t, h.p.Init())
	require.NoError(t, h.p.Start())
	h.waitOutputs(t, 3)
	require.NoError(t, h.p.Stop())

	st := h.p.Stats()
	assert.Equal(t, st.Encoded, st.SinkErrs)
	mu.Lock()
	assert.Equal(t, int(st.Encoded), callbacks, "a failing sink does not block the rest")
	mu.Unlock()
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Uninitialized", StateUninitialized.String())
	assert.Equal(t, "Running", StateRunning.String())
	assert.Equal(t, "Unknown", State(7).String())
}
