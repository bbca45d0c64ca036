package sink

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// TrackConfig configures a Track sink.
type TrackConfig struct {
	Codec    codec.Type
	ID       string // default "video"
	StreamID string // default "deskstream"

	// Rate gives the sample duration when capture times do not.
	Rate codec.Rational
}

// Track writes frames as samples to a pion TrackLocalStaticSample. Add
// Local() to a PeerConnection to send them; until the track is bound the
// samples are discarded by pion.
type Track struct {
	cfg   TrackConfig
	track *webrtc.TrackLocalStaticSample

	mu     sync.Mutex
	last   clock.Micros
	closed bool
}

var _ Sink = (*Track)(nil)

// NewTrack creates the local track.
func NewTrack(cfg TrackConfig) (*Track, error) {
	mime, err := mimeTypeFor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		cfg.ID = "video"
	}
	if cfg.StreamID == "" {
		cfg.StreamID = "deskstream"
	}
	cfg.Rate = cfg.Rate.OrDefault()

	t, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: mime, ClockRate: cfg.Codec.ClockRate()},
		cfg.ID,
		cfg.StreamID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "create track")
	}
	return &Track{cfg: cfg, track: t, last: clock.Unset}, nil
}

func mimeTypeFor(t codec.Type) (string, error) {
	switch t {
	case codec.H264:
		return webrtc.MimeTypeH264, nil
	default:
		return "", errors.Wrapf(ErrUnsupportedCodec, "track %s", t)
	}
}

// Local returns the pion track to add to a PeerConnection.
func (t *Track) Local() *webrtc.TrackLocalStaticSample {
	return t.track
}

// WriteFrame implements Sink.
func (t *Track) WriteFrame(f frame.Frame[*bytebuf.Buffer]) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return ErrClosed
	}
	d := t.duration(f.Captured)
	err := t.track.WriteSample(media.Sample{
		Data:     f.Payload.Bytes(),
		Duration: d,
	})
	return errors.Wrap(err, "write sample")
}

// duration is the capture gap since the previous frame, or one nominal
// frame when that is unknown.
func (t *Track) duration(captured clock.Micros) time.Duration {
	d := t.cfg.Rate.FrameDuration()
	if captured.IsSet() && t.last.IsSet() && captured > t.last {
		d = captured.Sub(t.last).Duration()
	}
	if captured.IsSet() {
		t.last = captured
	}
	return d
}

// Close implements Sink.
func (t *Track) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}
