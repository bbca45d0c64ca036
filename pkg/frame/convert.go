package frame

import (
	"sync"

	"github.com/pkg/errors"
)

var (
	ErrUnsupportedFormat = errors.New("frame: unsupported pixel format")
	ErrGeometryMismatch  = errors.New("frame: texture geometry mismatch")
)

// ToI420 converts a packed RGBA or BGRA texture into dst using BT.601
// limited-range coefficients. Chroma is the average of each 2x2 block.
func ToI420(src, dst *Texture) error {
	if !src.Format.Packed() {
		return errors.Wrapf(ErrUnsupportedFormat, "convert from %s", src.Format)
	}
	if dst.Format != PixelFormatI420 {
		return errors.Wrapf(ErrUnsupportedFormat, "convert to %s", dst.Format)
	}
	if src.Width != dst.Width || src.Height != dst.Height {
		return errors.Wrapf(ErrGeometryMismatch, "%dx%d into %dx%d",
			src.Width, src.Height, dst.Width, dst.Height)
	}

	ri, bi := 0, 2
	if src.Format == PixelFormatBGRA {
		ri, bi = 2, 0
	}

	in := src.Planes[0]
	inStride := src.Stride[0]
	y, u, v := dst.Planes[0], dst.Planes[1], dst.Planes[2]
	ys, cs := dst.Stride[0], dst.Stride[1]

	for row := 0; row < src.Height; row++ {
		for col := 0; col < src.Width; col++ {
			px := in[row*inStride+col*4:]
			r, g, b := int(px[ri]), int(px[1]), int(px[bi])
			y[row*ys+col] = clamp8(((66*r + 129*g + 25*b + 128) >> 8) + 16)
		}
	}

	for crow := 0; crow < (src.Height+1)/2; crow++ {
		for ccol := 0; ccol < (src.Width+1)/2; ccol++ {
			var r, g, b, n int
			for dy := 0; dy < 2; dy++ {
				row := crow*2 + dy
				if row >= src.Height {
					continue
				}
				for dx := 0; dx < 2; dx++ {
					col := ccol*2 + dx
					if col >= src.Width {
						continue
					}
					px := in[row*inStride+col*4:]
					r += int(px[ri])
					g += int(px[1])
					b += int(px[bi])
					n++
				}
			}
			r, g, b = r/n, g/n, b/n
			u[crow*cs+ccol] = clamp8(((-38*r - 74*g + 112*b + 128) >> 8) + 128)
			v[crow*cs+ccol] = clamp8(((112*r - 94*g - 18*b + 128) >> 8) + 128)
		}
	}
	return nil
}

func clamp8(x int) byte {
	if x < 0 {
		return 0
	}
	if x > 255 {
		return 255
	}
	return byte(x)
}

// I420Converter converts packed textures to I420, reusing output textures
// from a pool sized to the most recent input geometry. I420 input is passed
// through unchanged.
type I420Converter struct {
	mu   sync.Mutex
	pool *TexturePool
	w, h int
}

// Convert returns an I420 rendition of t and releases t back to its pool.
func (c *I420Converter) Convert(t *Texture) (*Texture, error) {
	if t.Format == PixelFormatI420 {
		return t, nil
	}

	c.mu.Lock()
	if c.pool == nil || c.w != t.Width || c.h != t.Height {
		c.pool = NewTexturePool(t.Width, t.Height, PixelFormatI420, 2)
		c.w, c.h = t.Width, t.Height
	}
	pool := c.pool
	c.mu.Unlock()

	out := pool.Get()
	if err := ToI420(t, out); err != nil {
		out.Release()
		return nil, err
	}
	t.Release()
	return out, nil
}
