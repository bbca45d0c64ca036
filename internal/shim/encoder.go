package shim

import (
	"unsafe"

	"github.com/pkg/errors"
)

// VideoEncoderConfig matches ShimVideoEncoderConfig in shim.h.
type VideoEncoderConfig struct {
	Width            int32
	Height           int32
	BitrateBps       uint32
	Framerate        float32
	KeyframeInterval int32
	H264Profile      *byte // C string
	VP9Profile       int32
	PreferHW         int32
}

// Ptr returns the config address for FFI calls.
func (c *VideoEncoderConfig) Ptr() uintptr {
	return uintptr(unsafe.Pointer(c))
}

const errorBufferSize = 256

// errorBuffer receives a NUL-terminated message from the shim.
type errorBuffer struct {
	msg [errorBufferSize]byte
}

func (b *errorBuffer) Ptr() uintptr {
	return uintptr(unsafe.Pointer(&b.msg[0]))
}

func (b *errorBuffer) String() string {
	for i, c := range b.msg {
		if c == 0 {
			return string(b.msg[:i])
		}
	}
	return string(b.msg[:])
}

// toError maps code to a sentinel, annotated with the shim message if any.
func (b *errorBuffer) toError(code int32) error {
	err := Error(code)
	if err == nil {
		return nil
	}
	if msg := b.String(); msg != "" {
		return errors.Wrap(err, msg)
	}
	return err
}

// CreateVideoEncoder creates a shim video encoder.
func CreateVideoEncoder(codec CodecType, config *VideoEncoderConfig) (uintptr, error) {
	if !libLoaded.Load() {
		return 0, ErrLibraryNotLoaded
	}
	var eb errorBuffer
	enc := shimVideoEncoderCreate(int32(codec), config.Ptr(), eb.Ptr())
	if enc == 0 {
		return 0, eb.toError(CodeInitFailed)
	}
	return enc, nil
}

// VideoEncoderEncodeInto encodes one I420 picture into dst and returns the
// number of bytes written and whether the output is a keyframe.
func VideoEncoderEncodeInto(
	enc uintptr,
	y, u, v []byte,
	yStride, uStride, vStride int,
	timestamp uint32,
	forceKeyframe bool,
	dst []byte,
) (n int, keyframe bool, err error) {
	if !libLoaded.Load() {
		return 0, false, ErrLibraryNotLoaded
	}

	var outSize, outKeyframe, force int32
	if forceKeyframe {
		force = 1
	}

	var eb errorBuffer
	code := shimVideoEncoderEncode(
		enc,
		ByteSlicePtr(y), ByteSlicePtr(u), ByteSlicePtr(v),
		int32(yStride), int32(uStride), int32(vStride),
		timestamp,
		force,
		ByteSlicePtr(dst), int32(len(dst)),
		Int32Ptr(&outSize), Int32Ptr(&outKeyframe),
		eb.Ptr(),
	)
	if err := eb.toError(code); err != nil {
		return 0, false, err
	}
	return int(outSize), outKeyframe != 0, nil
}

// VideoEncoderDestroy releases a shim video encoder.
func VideoEncoderDestroy(enc uintptr) {
	if !libLoaded.Load() || enc == 0 {
		return
	}
	shimVideoEncoderDestroy(enc)
}

// ByteSlicePtr returns the address of b[0], or 0 for an empty slice.
func ByteSlicePtr(b []byte) uintptr {
	if len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(&b[0]))
}

// Int32Ptr returns the address of an int32 for out-parameters.
func Int32Ptr(p *int32) uintptr {
	return uintptr(unsafe.Pointer(p))
}

// CString returns s as a NUL-terminated byte slice. The caller keeps the
// slice alive for as long as C reads it.
func CString(s string) []byte {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return b
}

// goString copies a NUL-terminated C string.
func goString(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	var n int
	for *(*byte)(unsafe.Add(unsafe.Pointer(ptr), n)) != 0 {
		n++
	}
	return string(unsafe.Slice((*byte)(unsafe.Pointer(ptr)), n))
}
