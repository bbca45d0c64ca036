package codec

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/internal/shim"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// ShimH264 encodes I420 textures to H.264 Annex-B through the libwebrtc shim.
type ShimH264 struct {
	cfg      H264Config
	handle   uintptr
	dst      []byte
	pts      uint32
	forceKey atomic.Bool
	closed   bool
}

// NewShimH264 loads the shim library and returns an encoder. The shim
// encoder itself is created on SetResolution.
func NewShimH264(cfg H264Config) (*ShimH264, error) {
	if err := shim.Load(); err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	c := &ShimH264{cfg: cfg}
	c.forceKey.Store(true)
	return c, nil
}

// Type implements Codec.
func (c *ShimH264) Type() Type { return H264 }

// SetResolution implements Codec. It recreates the shim encoder, so the next
// packet is a keyframe.
func (c *ShimH264) SetResolution(width, height int) error {
	if c.closed {
		return ErrClosed
	}
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return errors.Wrapf(ErrInvalidResolution, "%dx%d", width, height)
	}

	c.destroy()

	cfg := c.cfg
	cfg.Width, cfg.Height = width, height
	profile := cfg.Profile
	if profile == "" {
		profile = H264ProfileConstrainedBase
	}
	profileC := shim.CString(string(profile))

	sc := shim.VideoEncoderConfig{
		Width:            int32(width),
		Height:           int32(height),
		BitrateBps:       cfg.BitrateOrDefault(),
		Framerate:        float32(cfg.FPSOrDefault()),
		KeyframeInterval: int32(cfg.KeyIntervalOrDefault()),
		H264Profile:      &profileC[0],
	}
	if cfg.PreferHW {
		sc.PreferHW = 1
	}

	h, err := shim.CreateVideoEncoder(shim.CodecH264, &sc)
	runtime.KeepAlive(profileC)
	if err != nil {
		return errors.Wrap(err, "create h264 encoder")
	}
	c.handle = h
	c.cfg = cfg
	c.forceKey.Store(true)
	// worst case for an intra picture at low QP
	c.dst = make([]byte, width*height*3/2)
	return nil
}

// RequestKeyframe forces the next packet to be a keyframe. It is safe to
// call from any goroutine, typically on a picture loss indication.
func (c *ShimH264) RequestKeyframe() {
	c.forceKey.Store(true)
}

// Encode implements Codec.
func (c *ShimH264) Encode(tex *frame.Texture) (Packet, error) {
	if c.closed {
		return Packet{}, ErrClosed
	}
	if tex.Format != frame.PixelFormatI420 {
		return Packet{}, errors.Wrapf(ErrUnsupportedFormat, "h264 from %s", tex.Format)
	}
	if c.handle == 0 || tex.Width != c.cfg.Width || tex.Height != c.cfg.Height {
		return Packet{}, errors.Wrapf(ErrResolutionMismatch, "got %dx%d, want %dx%d",
			tex.Width, tex.Height, c.cfg.Width, c.cfg.Height)
	}

	force := c.forceKey.Swap(false)
	n, key, err := c.encode(tex, force)
	if errors.Is(err, shim.ErrBufferTooSmall) {
		c.dst = make([]byte, 2*len(c.dst))
		n, key, err = c.encode(tex, force)
	}
	if err != nil && force {
		c.forceKey.Store(true)
	}
	switch {
	case errors.Is(err, shim.ErrOutOfMemory), errors.Is(err, shim.ErrLibraryNotLoaded):
		return Packet{}, errors.Wrap(ErrFatal, err.Error())
	case err != nil:
		return Packet{}, errors.Wrap(err, "h264 encode")
	}

	c.pts += uint32(90000 / c.cfg.FPSOrDefault())

	out := bytebuf.New(0)
	out.Append(c.dst[:n])
	return Packet{Data: out, Keyframe: key}, nil
}

func (c *ShimH264) encode(tex *frame.Texture, force bool) (int, bool, error) {
	return shim.VideoEncoderEncodeInto(
		c.handle,
		tex.Planes[0], tex.Planes[1], tex.Planes[2],
		tex.Stride[0], tex.Stride[1], tex.Stride[2],
		c.pts,
		force,
		c.dst,
	)
}

// Close implements Codec.
func (c *ShimH264) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.destroy()
	return nil
}

func (c *ShimH264) destroy() {
	if c.handle != 0 {
		shim.VideoEncoderDestroy(c.handle)
		c.handle = 0
	}
}
