package capture

import (
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

var testMode = codec.Mode{Width: 64, Height: 36, Rate: codec.Rational{Num: 200, Den: 1}}

func TestSyntheticLifecycle(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Mode: testMode})

	_, _, err := s.Acquire()
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.False(t, s.SetMode(testMode), "SetMode before Init")

	require.NoError(t, s.Init())
	assert.Equal(t, testMode, s.NativeMode())

	tex, cu, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, frame.PixelFormatI420, tex.Format)
	assert.Equal(t, 64, tex.Width)
	require.NotNil(t, cu.Pos)
	require.NotNil(t, cu.Shape, "first capture carries the cursor shape")
	assert.Equal(t, cursorSize, cu.Shape.Width)
	assert.Equal(t, cursorSize*cursorSize*4, cu.Shape.Image.Len())
	tex.Release()

	tex, cu, err = s.Acquire()
	require.NoError(t, err)
	assert.Nil(t, cu.Shape, "shape is only sent once")
	tex.Release()

	require.NoError(t, s.Close())
	_, _, err = s.Acquire()
	assert.ErrorIs(t, err, ErrClosed)
	s.WaitTick() // returns at once after Close
}

func TestSyntheticInitErrors(t *testing.T) {
	err := NewSynthetic(SyntheticConfig{}).Init()
	assert.Error(t, err)

	err = NewSynthetic(SyntheticConfig{Mode: testMode, Format: frame.PixelFormatNV12}).Init()
	assert.True(t, errors.Is(err, frame.ErrUnsupportedFormat))
}

func TestSyntheticPatternMoves(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Mode: testMode})
	require.NoError(t, s.Init())
	defer s.Close()

	a, ca, err := s.Acquire()
	require.NoError(t, err)
	first := a.Clone()
	a.Release()

	b, cb, err := s.Acquire()
	require.NoError(t, err)
	defer b.Release()

	assert.NotEqual(t, first.Planes[0], b.Planes[0])
	assert.NotEqual(t, *ca.Pos, *cb.Pos, "cursor orbits")
}

func TestSyntheticReusesTextures(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Mode: testMode})
	require.NoError(t, s.Init())
	defer s.Close()

	for i := 0; i < 20; i++ {
		tex, _, err := s.Acquire()
		require.NoError(t, err)
		tex.Release()
	}
	assert.Equal(t, syntheticPool, s.pool.Allocations())
}

func TestSyntheticRGBA(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Mode: testMode, Format: frame.PixelFormatRGBA})
	require.NoError(t, s.Init())
	defer s.Close()

	tex, _, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, frame.PixelFormatRGBA, tex.Format)
	assert.Equal(t, byte(0xff), tex.Planes[0][3])
}

func TestSyntheticSetMode(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Mode: testMode})
	require.NoError(t, s.Init())
	defer s.Close()

	small := codec.Mode{Width: 32, Height: 18, Rate: codec.Rational{Num: 100, Den: 1}}
	require.True(t, s.SetMode(small))
	assert.Equal(t, small, s.Mode())
	assert.Equal(t, testMode, s.NativeMode(), "native mode is unchanged")

	tex, _, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 32, tex.Width)
	assert.Equal(t, 18, tex.Height)

	assert.False(t, s.SetMode(codec.Mode{Width: 32, Height: 18}))
	assert.Equal(t, small, s.Mode())
}

func TestSyntheticTicks(t *testing.T) {
	s := NewSynthetic(SyntheticConfig{Mode: testMode})
	require.NoError(t, s.Init())
	defer s.Close()

	start := time.Now()
	for i := 0; i < 5; i++ {
		s.WaitTick()
	}
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestOrbit(t *testing.T) {
	tests := []struct {
		n    int
		x, y int
	}{
		{0, 30, 20},   // top-left corner
		{30, 60, 20},  // along the top edge
		{40, 70, 20},  // top-right corner
		{80, 70, 60},  // bottom-right corner
		{120, 30, 60}, // bottom-left corner
		{150, 30, 30}, // back up the left edge
	}
	for _, tt := range tests {
		assert.Equal(t, frame.CursorPos{Visible: true, X: tt.x, Y: tt.y}, *orbit(100, 80, tt.n), "tick %d", tt.n)
	}

	assert.Equal(t, *orbit(100, 80, 3), *orbit(100, 80, 3+160), "a lap is 8r ticks")
}

func TestOrbitMovesEveryTick(t *testing.T) {
	for _, size := range [][2]int{{64, 36}, {100, 80}, {3, 3}, {1920, 1080}} {
		lap := 8 * max(min(size[0], size[1])/4, 1)
		for n := 0; n < lap; n++ {
			a, b := orbit(size[0], size[1], n), orbit(size[0], size[1], n+1)
			dx, dy := b.X-a.X, b.Y-a.Y
			assert.Equal(t, 1, dx*dx+dy*dy, "%dx%d tick %d", size[0], size[1], n)
		}
	}
}

// fakeDisplays replaces the screenshot functions for the test.
func fakeDisplays(t *testing.T, bounds []image.Rectangle, grab func(image.Rectangle) (*image.RGBA, error)) {
	t.Helper()
	n, b, c := numDisplays, displayBounds, captureRect
	t.Cleanup(func() { numDisplays, displayBounds, captureRect = n, b, c })

	numDisplays = func() int { return len(bounds) }
	displayBounds = func(i int) image.Rectangle { return bounds[i] }
	captureRect = grab
}

func solid(r image.Rectangle, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

func TestScreen(t *testing.T) {
	screens := []image.Rectangle{
		image.Rect(0, 0, 8, 4),
		image.Rect(8, 0, 14, 6),
	}
	var grabbed image.Rectangle
	fakeDisplays(t, screens, func(r image.Rectangle) (*image.RGBA, error) {
		grabbed = r
		return solid(r, color.RGBA{R: 10, G: 20, B: 30, A: 255}), nil
	})

	assert.Equal(t, []Display{{Index: 0, Bounds: screens[0]}, {Index: 1, Bounds: screens[1]}}, Displays())

	s := NewScreen(ScreenConfig{Display: 1})
	require.NoError(t, s.Init())
	defer s.Close()

	assert.Equal(t, codec.Mode{Width: 6, Height: 6, Rate: codec.DefaultRate}, s.NativeMode())

	tex, cu, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, screens[1], grabbed)
	assert.Equal(t, frame.PixelFormatRGBA, tex.Format)
	assert.Equal(t, []byte{10, 20, 30, 255}, tex.Planes[0][:4])
	last := len(tex.Planes[0]) - 4
	assert.Equal(t, []byte{10, 20, 30, 255}, tex.Planes[0][last:])
	assert.Nil(t, cu.Pos)
	tex.Release()
}

func TestScreenSetMode(t *testing.T) {
	fakeDisplays(t, []image.Rectangle{image.Rect(0, 0, 8, 4)}, nil)

	s := NewScreen(ScreenConfig{Rate: codec.Rational{Num: 30, Den: 1}})
	require.NoError(t, s.Init())
	defer s.Close()

	assert.True(t, s.SetMode(codec.Mode{Width: 8, Height: 4, Rate: codec.Rational{Num: 10, Den: 1}}))
	assert.Equal(t, codec.Rational{Num: 10, Den: 1}, s.NativeMode().Rate)
	assert.False(t, s.SetMode(codec.Mode{Width: 4, Height: 2, Rate: codec.DefaultRate}), "no scaling")
}

func TestScreenErrors(t *testing.T) {
	t.Run("no displays", func(t *testing.T) {
		fakeDisplays(t, nil, nil)
		err := NewScreen(ScreenConfig{}).Init()
		assert.True(t, errors.Is(err, ErrNoDisplay))
	})

	t.Run("index out of range", func(t *testing.T) {
		fakeDisplays(t, []image.Rectangle{image.Rect(0, 0, 8, 4)}, nil)
		err := NewScreen(ScreenConfig{Display: 3}).Init()
		assert.True(t, errors.Is(err, ErrNoDisplay))
	})

	t.Run("zero bounds", func(t *testing.T) {
		fakeDisplays(t, []image.Rectangle{{}}, nil)
		err := NewScreen(ScreenConfig{}).Init()
		assert.True(t, errors.Is(err, ErrNoDisplay))
	})

	t.Run("grab failure is transient", func(t *testing.T) {
		fakeDisplays(t, []image.Rectangle{image.Rect(0, 0, 8, 4)}, func(image.Rectangle) (*image.RGBA, error) {
			return nil, errors.New("display asleep")
		})
		s := NewScreen(ScreenConfig{})
		require.NoError(t, s.Init())
		defer s.Close()

		_, _, err := s.Acquire()
		assert.True(t, errors.Is(err, ErrNoFrame))
	})
}
