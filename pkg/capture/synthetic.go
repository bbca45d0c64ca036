package capture

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

const (
	cursorSize    = 12
	syntheticPool = 4
)

// SyntheticConfig configures a Synthetic backend.
type SyntheticConfig struct {
	Mode   codec.Mode
	Format frame.PixelFormat // I420 or RGBA; zero value is I420
}

// Synthetic renders a moving gradient with a cursor orbiting the centre.
// It needs no display and is the default backend for tests and benchmarks.
type Synthetic struct {
	mu     sync.Mutex
	native codec.Mode
	mode   codec.Mode
	format frame.PixelFormat
	pool   *frame.TexturePool
	tick   *ticker

	n         int
	shapeSent bool
	inited    bool
	closed    bool
}

var _ Backend = (*Synthetic)(nil)

// NewSynthetic returns an uninitialized synthetic backend.
func NewSynthetic(cfg SyntheticConfig) *Synthetic {
	return &Synthetic{native: cfg.Mode, format: cfg.Format}
}

// Init implements Backend.
func (s *Synthetic) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if !s.native.Valid() {
		return errors.Errorf("capture: invalid synthetic mode %s", s.native)
	}
	if s.format != frame.PixelFormatI420 && s.format != frame.PixelFormatRGBA {
		return errors.Wrapf(frame.ErrUnsupportedFormat, "synthetic %s", s.format)
	}
	s.mode = s.native
	s.pool = frame.NewTexturePool(s.mode.Width, s.mode.Height, s.format, syntheticPool)
	s.tick = newTicker(s.mode.Rate)
	s.inited = true
	return nil
}

// NativeMode implements Backend.
func (s *Synthetic) NativeMode() codec.Mode {
	return s.native
}

// Mode returns the mode currently produced.
func (s *Synthetic) Mode() codec.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode implements Backend. Any valid mode is accepted.
func (s *Synthetic) SetMode(mode codec.Mode) bool {
	if !mode.Valid() {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.inited || s.closed {
		return false
	}

	if mode.Width != s.mode.Width || mode.Height != s.mode.Height {
		s.pool = frame.NewTexturePool(mode.Width, mode.Height, s.format, syntheticPool)
	}
	if mode.Rate != s.mode.Rate {
		s.tick.reset(mode.Rate)
	}
	s.mode = mode
	return true
}

// WaitTick implements Backend.
func (s *Synthetic) WaitTick() {
	s.mu.Lock()
	t := s.tick
	s.mu.Unlock()
	if t != nil {
		t.wait()
	}
}

// Acquire implements Backend. The first capture also carries the cursor shape.
func (s *Synthetic) Acquire() (*frame.Texture, CursorUpdate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return nil, CursorUpdate{}, ErrClosed
	case !s.inited:
		return nil, CursorUpdate{}, ErrNotInitialized
	}

	tex := s.pool.Get()
	switch s.format {
	case frame.PixelFormatRGBA:
		drawRGBA(tex, s.n)
	default:
		drawI420(tex, s.n)
	}

	cu := CursorUpdate{Pos: orbit(s.mode.Width, s.mode.Height, s.n)}
	if !s.shapeSent {
		cu.Shape = arrowShape()
		s.shapeSent = true
	}
	s.n++
	return tex, cu, nil
}

// Close implements Backend.
func (s *Synthetic) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tick != nil {
		s.tick.stop()
	}
	s.closed = true
	return nil
}

func drawI420(t *frame.Texture, n int) {
	y, u, v := t.Planes[0], t.Planes[1], t.Planes[2]
	for row := 0; row < t.Height; row++ {
		line := y[row*t.Stride[0]:]
		for col := 0; col < t.Width; col++ {
			line[col] = byte(col + row + n*2)
		}
	}
	for row := 0; row < (t.Height+1)/2; row++ {
		lu := u[row*t.Stride[1]:]
		lv := v[row*t.Stride[2]:]
		for col := 0; col < (t.Width+1)/2; col++ {
			lu[col] = byte(64 + (col+n)%128)
			lv[col] = byte(64 + (row+n)%128)
		}
	}
}

func drawRGBA(t *frame.Texture, n int) {
	p := t.Planes[0]
	for row := 0; row < t.Height; row++ {
		line := p[row*t.Stride[0]:]
		for col := 0; col < t.Width; col++ {
			px := line[col*4 : col*4+4]
			px[0] = byte(col + n*2)
			px[1] = byte(row)
			px[2] = byte(col + row)
			px[3] = 0xff
		}
	}
}

// orbit walks the cursor clockwise around a square centred in the frame,
// one pixel per tick, starting at the top-left corner. A lap takes 8r ticks.
func orbit(width, height, n int) *frame.CursorPos {
	r := max(min(width, height)/4, 1)
	side := 2 * r
	p := n % (4 * side)
	x, y := -r, -r
	switch {
	case p < side:
		x += p
	case p < 2*side:
		x, y = r, y+p-side
	case p < 3*side:
		x, y = r-(p-2*side), r
	default:
		y = r - (p - 3*side)
	}
	return &frame.CursorPos{Visible: true, X: width/2 + x, Y: height/2 + y}
}

// arrowShape is a white arrow with a black outline, hotspot at the tip.
func arrowShape() *frame.CursorShape {
	img := bytebuf.New(cursorSize * cursorSize * 4)
	px := img.Bytes()
	for y := 0; y < cursorSize; y++ {
		for x := 0; x <= y; x++ {
			o := (y*cursorSize + x) * 4
			c := byte(0xff)
			if x == 0 || x == y || y == cursorSize-1 {
				c = 0
			}
			px[o], px[o+1], px[o+2], px[o+3] = c, c, c, 0xff
		}
	}
	return &frame.CursorShape{
		Width:  cursorSize,
		Height: cursorSize,
		Format: frame.CursorShapeRGBA,
		Image:  img,
	}
}
