// Package frame provides the timestamped frame container that travels through
// every pipeline stage, and the raw texture payload produced by capture.
package frame

import "github.com/thesyncim/deskstream/pkg/clock"

// Timings holds the per-stage timestamps of a frame. Each field is written
// once by the stage that owns it and stays clock.Unset until then.
type Timings struct {
	Captured  clock.Micros
	Encoded   clock.Micros
	Received  clock.Micros
	Decoded   clock.Micros
	Presented clock.Micros
}

// UnsetTimings returns Timings with every field unset.
func UnsetTimings() Timings {
	return Timings{
		Captured:  clock.Unset,
		Encoded:   clock.Unset,
		Received:  clock.Unset,
		Decoded:   clock.Unset,
		Presented: clock.Unset,
	}
}

// Frame carries a payload together with cursor and timing metadata.
//
// The payload is owned by whoever holds the frame; it moves between stages and
// is never copied. Cursor metadata is shared by reference and must be treated
// as immutable once published.
type Frame[T any] struct {
	// Payload is the stage-specific content (raw texture, encoded bytes, ...).
	Payload T

	// CursorPos is the cursor position at capture time, or nil if unknown.
	CursorPos *CursorPos

	// CursorShape is the cursor image, or nil if it has not changed or is unknown.
	CursorShape *CursorShape

	Timings

	// Keyframe reports whether the payload decodes without prior frames.
	Keyframe bool
}

// New returns a frame holding payload with all timestamps unset.
func New[T any](payload T) Frame[T] {
	return Frame[T]{Payload: payload, Timings: UnsetTimings()}
}

// Repackage returns a frame holding payload with every other field of f
// carried over unchanged. f should not be used afterwards.
func Repackage[T, U any](f Frame[T], payload U) Frame[U] {
	return Frame[U]{
		Payload:     payload,
		CursorPos:   f.CursorPos,
		CursorShape: f.CursorShape,
		Timings:     f.Timings,
		Keyframe:    f.Keyframe,
	}
}

// EncodeLatency returns Encoded-Captured, or clock.Unset if either is missing.
func (f *Frame[T]) EncodeLatency() clock.Micros {
	return f.Encoded.Sub(f.Captured)
}

// EndToEndLatency returns Presented-Captured, or clock.Unset if either is missing.
func (f *Frame[T]) EndToEndLatency() clock.Micros {
	return f.Presented.Sub(f.Captured)
}
