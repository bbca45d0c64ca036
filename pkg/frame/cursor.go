package frame

import "github.com/thesyncim/deskstream/pkg/bytebuf"

// CursorShapeFormat describes how cursor image bytes are interpreted.
type CursorShapeFormat int

const (
	// CursorShapeRGBA is a straight RGBA image.
	CursorShapeRGBA CursorShapeFormat = iota

	// CursorShapeRGBAXor is RGBA where alpha selects XOR blending with the desktop.
	CursorShapeRGBAXor
)

// String returns the string representation of the cursor format.
func (f CursorShapeFormat) String() string {
	switch f {
	case CursorShapeRGBA:
		return "RGBA"
	case CursorShapeRGBAXor:
		return "RGBA_XOR"
	default:
		return "Unknown"
	}
}

// CursorPos is the cursor position on the captured desktop.
type CursorPos struct {
	Visible bool
	X, Y    int
}

// CursorShape is the cursor image. Shapes change far less often than frames,
// so one shape is shared by many frames.
type CursorShape struct {
	Width, Height      int
	HotspotX, HotspotY int
	Format             CursorShapeFormat
	Image              *bytebuf.Buffer
}

// Clone returns a deep copy of the shape for a holder that needs to mutate it.
func (s *CursorShape) Clone() *CursorShape {
	if s == nil {
		return nil
	}
	c := *s
	if s.Image != nil {
		c.Image = s.Image.Clone()
	}
	return &c
}
