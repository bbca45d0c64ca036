package codec

import (
	"image"
	"image/jpeg"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// DefaultJPEGQuality is used when JPEGConfig.Quality is zero.
const DefaultJPEGQuality = 75

// JPEGConfig configures the JPEG codec.
type JPEGConfig struct {
	Quality int // 1-100, 0 = DefaultJPEGQuality
}

// JPEGCodec encodes each texture as an independent baseline JPEG, so every
// packet is a keyframe.
type JPEGCodec struct {
	quality int
	width   int
	height  int
	closed  bool

	// scratch RGBA image reused for BGRA input
	scratch *image.RGBA
}

// NewJPEGCodec creates a JPEG codec.
func NewJPEGCodec(cfg JPEGConfig) *JPEGCodec {
	q := cfg.Quality
	if q <= 0 || q > 100 {
		q = DefaultJPEGQuality
	}
	return &JPEGCodec{quality: q}
}

// Type implements Codec.
func (c *JPEGCodec) Type() Type { return JPEG }

// SetResolution implements Codec.
func (c *JPEGCodec) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Wrapf(ErrInvalidResolution, "%dx%d", width, height)
	}
	c.width, c.height = width, height
	return nil
}

// Encode implements Codec.
func (c *JPEGCodec) Encode(tex *frame.Texture) (Packet, error) {
	if c.closed {
		return Packet{}, ErrClosed
	}
	if c.width != 0 && (tex.Width != c.width || tex.Height != c.height) {
		return Packet{}, errors.Wrapf(ErrResolutionMismatch, "got %dx%d, want %dx%d",
			tex.Width, tex.Height, c.width, c.height)
	}

	img, err := c.image(tex)
	if err != nil {
		return Packet{}, err
	}

	out := bytebuf.New(0)
	out.Reserve(tex.Width * tex.Height / 4)
	if err := jpeg.Encode(appender{out}, img, &jpeg.Options{Quality: c.quality}); err != nil {
		return Packet{}, errors.Wrap(err, "jpeg encode")
	}
	return Packet{Data: out, Keyframe: true}, nil
}

// Close implements Codec.
func (c *JPEGCodec) Close() error {
	c.closed = true
	c.scratch = nil
	return nil
}

func (c *JPEGCodec) image(tex *frame.Texture) (image.Image, error) {
	r := image.Rect(0, 0, tex.Width, tex.Height)

	switch tex.Format {
	case frame.PixelFormatI420:
		return &image.YCbCr{
			Y:              tex.Planes[0],
			Cb:             tex.Planes[1],
			Cr:             tex.Planes[2],
			YStride:        tex.Stride[0],
			CStride:        tex.Stride[1],
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           r,
		}, nil

	case frame.PixelFormatNV12:
		cw, ch := (tex.Width+1)/2, (tex.Height+1)/2
		cb := make([]byte, cw*ch)
		cr := make([]byte, cw*ch)
		uv := tex.Planes[1]
		for row := 0; row < ch; row++ {
			for col := 0; col < cw; col++ {
				cb[row*cw+col] = uv[row*tex.Stride[1]+col*2]
				cr[row*cw+col] = uv[row*tex.Stride[1]+col*2+1]
			}
		}
		return &image.YCbCr{
			Y:              tex.Planes[0],
			Cb:             cb,
			Cr:             cr,
			YStride:        tex.Stride[0],
			CStride:        cw,
			SubsampleRatio: image.YCbCrSubsampleRatio420,
			Rect:           r,
		}, nil

	case frame.PixelFormatRGBA:
		return &image.RGBA{Pix: tex.Planes[0], Stride: tex.Stride[0], Rect: r}, nil

	case frame.PixelFormatBGRA:
		if c.scratch == nil || c.scratch.Rect != r {
			c.scratch = image.NewRGBA(r)
		}
		src, dst := tex.Planes[0], c.scratch.Pix
		for row := 0; row < tex.Height; row++ {
			s := src[row*tex.Stride[0]:]
			d := dst[row*c.scratch.Stride:]
			for i := 0; i < tex.Width*4; i += 4 {
				d[i], d[i+1], d[i+2], d[i+3] = s[i+2], s[i+1], s[i], s[i+3]
			}
		}
		return c.scratch, nil
	}
	return nil, errors.Wrapf(ErrUnsupportedFormat, "jpeg from %s", tex.Format)
}

// appender adapts a byte buffer to io.Writer.
type appender struct {
	b *bytebuf.Buffer
}

func (a appender) Write(p []byte) (int, error) {
	if need := a.b.Len() + len(p); need > a.b.Cap() {
		a.b.Reserve(max(need, 2*a.b.Cap()))
	}
	a.b.Append(p)
	return len(p), nil
}
