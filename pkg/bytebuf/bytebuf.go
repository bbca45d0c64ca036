// Package bytebuf provides Buffer, the exclusively-owned growable byte region
// that carries encoded payloads once they are ready for the wire.
//
// A Buffer tracks its logical length and its allocated capacity separately.
// Length never exceeds capacity. Ownership is transferred by handing over the
// *Buffer; the previous owner must not touch it afterwards.
package bytebuf

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Buffer is a growable byte region with independent length and capacity.
// The zero value is an empty buffer ready to use.
type Buffer struct {
	data []byte // len(data) is the capacity
	size int
}

// New returns a buffer of the given length. The contents are zeroed.
func New(size int) *Buffer {
	b := &Buffer{}
	b.Resize(size)
	return b
}

// FromBytes returns a buffer that takes ownership of p.
// The caller must not use p afterwards.
func FromBytes(p []byte) *Buffer {
	return &Buffer{data: p[:len(p):len(p)], size: len(p)}
}

// Len returns the logical length.
func (b *Buffer) Len() int {
	return b.size
}

// Cap returns the allocated capacity.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// Bytes returns the first Len bytes. The slice aliases the buffer and is only
// valid until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.data[:b.size]
}

// At returns the byte at index i.
func (b *Buffer) At(i int) byte {
	return b.Bytes()[i]
}

// Reserve grows the capacity to at least n. It never shrinks.
func (b *Buffer) Reserve(n int) {
	if n <= len(b.data) {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data[:b.size])
	b.data = grown
}

// Resize sets the logical length to n, growing the capacity when needed.
// Resizing to zero releases the storage.
func (b *Buffer) Resize(n int) {
	switch {
	case n <= 0:
		b.data = nil
		b.size = 0
	case n <= len(b.data):
		b.size = n
	default:
		b.Reserve(n)
		b.size = n
	}
}

// ShrinkToFit reduces the capacity to the logical length.
func (b *Buffer) ShrinkToFit() {
	if len(b.data) == b.size || b.data == nil {
		return
	}
	if b.size == 0 {
		b.data = nil
		return
	}
	fitted := make([]byte, b.size)
	copy(fitted, b.data[:b.size])
	b.data = fitted
}

// Write copies src into the buffer at offset off, extending the length to
// cover the write when it ends past the current length.
func (b *Buffer) Write(off int, src []byte) {
	if off < 0 {
		panic("bytebuf: negative offset")
	}
	end := off + len(src)
	if end > b.size {
		b.Reserve(end)
		b.size = end
	}
	copy(b.data[off:], src)
}

// WriteBuffer copies the contents of other into the buffer at offset off.
func (b *Buffer) WriteBuffer(off int, other *Buffer) {
	b.Write(off, other.Bytes())
}

// Append copies src to the end, growing the length by exactly len(src).
func (b *Buffer) Append(src []byte) {
	b.Write(b.size, src)
}

// AppendBuffer appends the contents of other.
func (b *Buffer) AppendBuffer(other *Buffer) {
	b.Append(other.Bytes())
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.Reserve(b.size + 1)
	b.data[b.size] = c
	b.size++
}

// ShiftTowardBegin moves bytes [amount, Len) to the front in place, discarding
// a consumed prefix. The length is unchanged; callers usually Resize after.
// It panics if amount is out of range.
func (b *Buffer) ShiftTowardBegin(amount int) {
	if amount < 0 || amount > b.size {
		panic("bytebuf: shift out of range")
	}
	if amount == 0 {
		return
	}
	copy(b.data, b.data[amount:b.size])
}

// ShiftTowardEnd moves bytes [0, Len-amount) toward the end in place, opening
// a gap of amount bytes at the front. The length is unchanged.
// It panics if amount is out of range.
func (b *Buffer) ShiftTowardEnd(amount int) {
	if amount < 0 || amount > b.size {
		panic("bytebuf: shift out of range")
	}
	if amount == 0 {
		return
	}
	copy(b.data[amount:b.size], b.data[:b.size-amount])
}

// Clone returns an independent copy holding the same bytes.
func (b *Buffer) Clone() *Buffer {
	c := &Buffer{}
	if b.size > 0 {
		c.Resize(b.size)
		copy(c.data, b.data[:b.size])
	}
	return c
}

// Take moves the contents out of the buffer and leaves it empty.
func (b *Buffer) Take() []byte {
	out := b.data[:b.size:b.size]
	b.data = nil
	b.size = 0
	return out
}

// Hex returns the upper-case hexadecimal form of the contents.
func (b *Buffer) Hex() string {
	return strings.ToUpper(hex.EncodeToString(b.Bytes()))
}

// Base64 returns the standard padded base64 form of the contents.
func (b *Buffer) Base64() string {
	return base64.StdEncoding.EncodeToString(b.Bytes())
}
