package shim

import (
	"github.com/ebitengine/purego"
	"github.com/pkg/errors"
)

var (
	shimVersion             func() uintptr
	shimVideoEncoderCreate  func(codec int32, config uintptr, errOut uintptr) uintptr
	shimVideoEncoderEncode  func(enc, y, u, v uintptr, yStride, uStride, vStride int32, timestamp uint32, forceKeyframe int32, dst uintptr, dstSize int32, outSize, outKeyframe, errOut uintptr) int32
	shimVideoEncoderDestroy func(enc uintptr)
)

type binding struct {
	fn   any
	name string
}

func bindings() []binding {
	return []binding{
		{&shimVersion, "shim_version"},
		{&shimVideoEncoderCreate, "shim_video_encoder_create"},
		{&shimVideoEncoderEncode, "shim_video_encoder_encode"},
		{&shimVideoEncoderDestroy, "shim_video_encoder_destroy"},
	}
}

// registerFunctions resolves every symbol before binding any, so a missing
// symbol leaves the package unloaded instead of half bound.
func registerFunctions(handle uintptr) error {
	bs := bindings()
	addrs := make([]uintptr, len(bs))
	for i, b := range bs {
		addr, err := dlsymLibrary(handle, b.name)
		if err != nil || addr == 0 {
			return errors.Wrapf(ErrNotSupported, "missing symbol %s", b.name)
		}
		addrs[i] = addr
	}
	for i, b := range bs {
		purego.RegisterFunc(b.fn, addrs[i])
	}
	return nil
}
