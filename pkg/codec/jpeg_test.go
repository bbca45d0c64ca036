package codec

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thesyncim/deskstream/pkg/frame"
)

func gradient(format frame.PixelFormat, w, h int) *frame.Texture {
	tex := frame.NewTexture(w, h, format)
	for i := range tex.Planes[0] {
		tex.Planes[0][i] = byte(i)
	}
	for p := 1; p < len(tex.Planes); p++ {
		for i := range tex.Planes[p] {
			tex.Planes[p][i] = 128
		}
	}
	return tex
}

func TestJPEGEncodesEveryFormat(t *testing.T) {
	formats := []frame.PixelFormat{
		frame.PixelFormatI420,
		frame.PixelFormatNV12,
		frame.PixelFormatRGBA,
		frame.PixelFormatBGRA,
	}

	for _, f := range formats {
		t.Run(f.String(), func(t *testing.T) {
			c := NewJPEGCodec(JPEGConfig{Quality: 50})
			require.NoError(t, c.SetResolution(32, 16))

			pkt, err := c.Encode(gradient(f, 32, 16))
			require.NoError(t, err)
			assert.True(t, pkt.Keyframe)

			data := pkt.Data.Bytes()
			require.Greater(t, len(data), 4)
			assert.Equal(t, []byte{0xFF, 0xD8}, data[:2], "SOI marker")

			cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
			require.NoError(t, err)
			assert.Equal(t, 32, cfg.Width)
			assert.Equal(t, 16, cfg.Height)
		})
	}
}

func TestJPEGResolution(t *testing.T) {
	c := NewJPEGCodec(JPEGConfig{})
	assert.Equal(t, JPEG, c.Type())

	err := c.SetResolution(0, 10)
	assert.True(t, errors.Is(err, ErrInvalidResolution))

	// No resolution set: any size is accepted.
	_, err = c.Encode(gradient(frame.PixelFormatI420, 8, 8))
	require.NoError(t, err)

	require.NoError(t, c.SetResolution(16, 16))
	_, err = c.Encode(gradient(frame.PixelFormatI420, 8, 8))
	assert.True(t, errors.Is(err, ErrResolutionMismatch))
}

func TestJPEGClosed(t *testing.T) {
	c := NewJPEGCodec(JPEGConfig{Quality: 500})
	assert.Equal(t, DefaultJPEGQuality, c.quality)

	require.NoError(t, c.Close())
	_, err := c.Encode(gradient(frame.PixelFormatI420, 8, 8))
	assert.ErrorIs(t, err, ErrClosed)
}
