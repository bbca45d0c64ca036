// Package sink forwards encoded frames to RTP and WebRTC outputs.
//
// Sinks read the payload of each frame but never retain or modify it: the
// same frame is handed to every sink in turn.
package sink

import (
	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/frame"
)

var (
	ErrClosed           = errors.New("sink: closed")
	ErrUnsupportedCodec = errors.New("sink: unsupported codec")
)

// Sink receives encoded frames in production order.
type Sink interface {
	WriteFrame(f frame.Frame[*bytebuf.Buffer]) error
	Close() error
}

// MediaTimestamp converts a capture time to ticks of the given clock rate.
func MediaTimestamp(captured clock.Micros, clockRate uint32) uint32 {
	return uint32(int64(captured) * int64(clockRate) / 1_000_000)
}
