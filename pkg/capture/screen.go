package capture

import (
	"image"
	"sync"

	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

const screenPool = 3

// Swapped in tests.
var (
	numDisplays   = screenshot.NumActiveDisplays
	displayBounds = screenshot.GetDisplayBounds
	captureRect   = screenshot.CaptureRect
)

// Display describes one active display.
type Display struct {
	Index  int
	Bounds image.Rectangle
}

// Displays lists the active displays.
func Displays() []Display {
	n := numDisplays()
	out := make([]Display, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, Display{Index: i, Bounds: displayBounds(i)})
	}
	return out
}

// ScreenConfig configures a Screen backend.
type ScreenConfig struct {
	Display int
	Rate    codec.Rational
}

// Screen captures one display as RGBA textures. It cannot scale, so only
// modes with the display's native size are accepted. The cursor is not
// part of the image and no cursor updates are reported.
type Screen struct {
	mu     sync.Mutex
	cfg    ScreenConfig
	bounds image.Rectangle
	mode   codec.Mode
	pool   *frame.TexturePool
	tick   *ticker
	inited bool
	closed bool
}

var _ Backend = (*Screen)(nil)

// NewScreen returns an uninitialized screen backend.
func NewScreen(cfg ScreenConfig) *Screen {
	return &Screen{cfg: cfg}
}

// Init implements Backend. It fails with ErrNoDisplay when the configured
// display does not exist or has an empty area.
func (s *Screen) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	n := numDisplays()
	if s.cfg.Display < 0 || s.cfg.Display >= n {
		return errors.Wrapf(ErrNoDisplay, "display %d of %d", s.cfg.Display, n)
	}
	b := displayBounds(s.cfg.Display)
	if b.Empty() {
		return errors.Wrapf(ErrNoDisplay, "display %d has zero bounds", s.cfg.Display)
	}

	s.bounds = b
	s.mode = codec.Mode{Width: b.Dx(), Height: b.Dy(), Rate: s.cfg.Rate.OrDefault()}
	s.pool = frame.NewTexturePool(s.mode.Width, s.mode.Height, frame.PixelFormatRGBA, screenPool)
	s.tick = newTicker(s.mode.Rate)
	s.inited = true
	return nil
}

// NativeMode implements Backend.
func (s *Screen) NativeMode() codec.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode implements Backend. Only the rate can change.
func (s *Screen) SetMode(mode codec.Mode) bool {
	if !mode.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited || s.closed {
		return false
	}
	if mode.Width != s.mode.Width || mode.Height != s.mode.Height {
		return false
	}
	if mode.Rate != s.mode.Rate {
		s.tick.reset(mode.Rate)
		s.mode.Rate = mode.Rate
	}
	return true
}

// WaitTick implements Backend.
func (s *Screen) WaitTick() {
	s.mu.Lock()
	t := s.tick
	s.mu.Unlock()
	if t != nil {
		t.wait()
	}
}

// Acquire implements Backend. A failed grab is reported as ErrNoFrame; the
// next tick tries again.
func (s *Screen) Acquire() (*frame.Texture, CursorUpdate, error) {
	s.mu.Lock()
	switch {
	case s.closed:
		s.mu.Unlock()
		return nil, CursorUpdate{}, ErrClosed
	case !s.inited:
		s.mu.Unlock()
		return nil, CursorUpdate{}, ErrNotInitialized
	}
	bounds, pool := s.bounds, s.pool
	s.mu.Unlock()

	img, err := captureRect(bounds)
	if err != nil {
		return nil, CursorUpdate{}, errors.Wrapf(ErrNoFrame, "grab display %d: %v", s.cfg.Display, err)
	}

	tex := pool.Get()
	copyRGBA(tex, img)
	return tex, CursorUpdate{}, nil
}

// Close implements Backend.
func (s *Screen) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick != nil {
		s.tick.stop()
	}
	s.closed = true
	return nil
}

// copyRGBA copies img into tex row by row; the strides may differ.
func copyRGBA(tex *frame.Texture, img *image.RGBA) {
	w := min(tex.Width, img.Rect.Dx()) * 4
	h := min(tex.Height, img.Rect.Dy())
	dst, ds := tex.Planes[0], tex.Stride[0]
	for row := 0; row < h; row++ {
		src := img.Pix[img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+row):]
		copy(dst[row*ds:row*ds+w], src[:w])
	}
}
