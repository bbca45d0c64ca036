package frame

import "sync"

// PixelFormat is the pixel layout of a texture.
type PixelFormat int

const (
	// PixelFormatI420 is planar YUV 4:2:0: Y, then U, then V.
	PixelFormatI420 PixelFormat = iota

	// PixelFormatNV12 is semi-planar YUV 4:2:0: Y, then interleaved UV.
	PixelFormatNV12

	// PixelFormatRGBA is packed 32-bit RGBA, as returned by screen capture.
	PixelFormatRGBA

	// PixelFormatBGRA is packed 32-bit BGRA, as returned by most GPU duplication APIs.
	PixelFormatBGRA
)

// String returns the string representation of the pixel format.
func (f PixelFormat) String() string {
	switch f {
	case PixelFormatI420:
		return "I420"
	case PixelFormatNV12:
		return "NV12"
	case PixelFormatRGBA:
		return "RGBA"
	case PixelFormatBGRA:
		return "BGRA"
	default:
		return "Unknown"
	}
}

// Packed reports whether the format stores all channels in a single plane.
func (f PixelFormat) Packed() bool {
	return f == PixelFormatRGBA || f == PixelFormatBGRA
}

// Texture is a raw captured image.
type Texture struct {
	Width  int
	Height int
	Format PixelFormat

	// Planes holds the pixel data.
	// I420: [Y, U, V]; NV12: [Y, UV]; RGBA/BGRA: one plane.
	Planes [][]byte

	// Stride is the number of bytes per row of each plane.
	Stride []int

	pool *TexturePool
}

// NewTexture allocates a texture of the given geometry.
func NewTexture(width, height int, format PixelFormat) *Texture {
	cw := (width + 1) / 2
	ch := (height + 1) / 2

	t := &Texture{Width: width, Height: height, Format: format}
	switch format {
	case PixelFormatI420:
		t.Planes = [][]byte{
			make([]byte, width*height),
			make([]byte, cw*ch),
			make([]byte, cw*ch),
		}
		t.Stride = []int{width, cw, cw}
	case PixelFormatNV12:
		t.Planes = [][]byte{
			make([]byte, width*height),
			make([]byte, cw*ch*2),
		}
		t.Stride = []int{width, cw * 2}
	default:
		t.Planes = [][]byte{make([]byte, width*height*4)}
		t.Stride = []int{width * 4}
	}
	return t
}

// Size returns the total number of bytes across all planes.
func (t *Texture) Size() int {
	n := 0
	for _, p := range t.Planes {
		n += len(p)
	}
	return n
}

// Release returns the texture to its pool, if any.
// The texture must not be used afterwards.
func (t *Texture) Release() {
	if t != nil && t.pool != nil {
		t.pool.Put(t)
	}
}

// Clone returns a deep copy detached from any pool.
func (t *Texture) Clone() *Texture {
	c := &Texture{
		Width:  t.Width,
		Height: t.Height,
		Format: t.Format,
		Planes: make([][]byte, len(t.Planes)),
		Stride: append([]int(nil), t.Stride...),
	}
	for i, p := range t.Planes {
		c.Planes[i] = append([]byte(nil), p...)
	}
	return c
}

// TexturePool recycles textures of one geometry.
type TexturePool struct {
	mu      sync.Mutex
	free    []*Texture
	maxSize int
	width   int
	height  int
	format  PixelFormat
	allocs  int
}

// NewTexturePool creates a pool with size textures preallocated.
func NewTexturePool(width, height int, format PixelFormat, size int) *TexturePool {
	p := &TexturePool{
		maxSize: size,
		width:   width,
		height:  height,
		format:  format,
		free:    make([]*Texture, 0, size),
	}
	for i := 0; i < size; i++ {
		p.free = append(p.free, p.alloc())
	}
	return p
}

// Get returns a free texture or allocates one when the pool is exhausted.
func (p *TexturePool) Get() *Texture {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		t := p.free[n-1]
		p.free = p.free[:n-1]
		return t
	}
	return p.alloc()
}

// Put returns t to the pool. Textures from other pools are ignored.
func (p *TexturePool) Put(t *Texture) {
	if t == nil || t.pool != p {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.free) < p.maxSize {
		p.free = append(p.free, t)
	}
}

// Allocations returns how many textures the pool has allocated in total.
func (p *TexturePool) Allocations() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocs
}

// alloc must be called with mu held or before the pool is shared.
func (p *TexturePool) alloc() *Texture {
	t := NewTexture(p.width, p.height, p.format)
	t.pool = p
	p.allocs++
	return t
}
