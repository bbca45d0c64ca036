// Package testutil provides shared fixtures for deskstream tests.
package testutil

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// GradientTexture creates an I420 texture with a diagonal luma gradient and
// neutral chroma.
func GradientTexture(width, height int) *frame.Texture {
	t := frame.NewTexture(width, height, frame.PixelFormatI420)
	for i := range t.Planes[0] {
		y, x := i/width, i%width
		t.Planes[0][i] = byte((x + y) % 256)
	}
	fill(t.Planes[1], 128)
	fill(t.Planes[2], 128)
	return t
}

// GrayTexture creates a uniform mid-gray I420 texture.
func GrayTexture(width, height int) *frame.Texture {
	t := frame.NewTexture(width, height, frame.PixelFormatI420)
	for _, p := range t.Planes {
		fill(p, 128)
	}
	return t
}

// TaggedTexture creates a small I420 texture whose first luma byte is id.
// Codec encodes the tag so tests can tell which texture an output came from.
func TaggedTexture(id byte) *frame.Texture {
	t := GrayTexture(16, 16)
	t.Planes[0][0] = id
	return t
}

func fill(p []byte, v byte) {
	for i := range p {
		p[i] = v
	}
}

// ErrInjected is returned by Codec when FailNext is set.
var ErrInjected = errors.New("testutil: injected encode failure")

// Codec is a codec.Codec that "encodes" a texture into a one-byte packet
// holding the texture tag. Every KeyEvery-th packet (first included) is a
// keyframe.
type Codec struct {
	mu sync.Mutex

	KeyEvery int
	Delay    time.Duration

	width, height int
	encoded       []byte
	failNext      error
	closed        bool

	// Started receives a value, if non-nil, each time Encode begins.
	Started chan struct{}

	// Gate, if non-nil, must yield a value (or be closed) before Encode
	// proceeds.
	Gate chan struct{}
}

var _ codec.Codec = (*Codec)(nil)

// Type implements codec.Codec.
func (c *Codec) Type() codec.Type { return codec.JPEG }

// SetResolution implements codec.Codec.
func (c *Codec) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return codec.ErrInvalidResolution
	}
	c.mu.Lock()
	c.width, c.height = width, height
	c.mu.Unlock()
	return nil
}

// Encode implements codec.Codec.
func (c *Codec) Encode(tex *frame.Texture) (codec.Packet, error) {
	if c.Started != nil {
		c.Started <- struct{}{}
	}
	if c.Gate != nil {
		<-c.Gate
	}
	if c.Delay > 0 {
		time.Sleep(c.Delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return codec.Packet{}, codec.ErrClosed
	}
	if err := c.failNext; err != nil {
		c.failNext = nil
		return codec.Packet{}, err
	}

	tag := tex.Planes[0][0]
	n := len(c.encoded)
	c.encoded = append(c.encoded, tag)

	key := n == 0
	if c.KeyEvery > 0 {
		key = n%c.KeyEvery == 0
	}

	out := bytebuf.New(0)
	out.AppendByte(tag)
	return codec.Packet{Data: out, Keyframe: key}, nil
}

// Close implements codec.Codec.
func (c *Codec) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FailNext makes the next Encode return err.
func (c *Codec) FailNext(err error) {
	c.mu.Lock()
	c.failNext = err
	c.mu.Unlock()
}

// Encoded returns the tags of every texture encoded so far, in order.
func (c *Codec) Encoded() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]byte(nil), c.encoded...)
}

// Resolution returns the last size passed to SetResolution.
func (c *Codec) Resolution() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.width, c.height
}

// Closed reports whether Close was called.
func (c *Codec) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Eventually polls cond every millisecond until it holds or timeout expires.
func Eventually(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
