// Package codec defines codec types, video modes and the blocking codec
// contract used by the encoders.
package codec

import (
	"runtime"

	"github.com/pkg/errors"

	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/frame"
)

var (
	// ErrFatal marks codec failures after which the session cannot continue.
	// Codecs wrap it; callers test with errors.Is.
	ErrFatal = errors.New("codec: fatal")

	ErrInvalidResolution  = errors.New("codec: invalid resolution")
	ErrResolutionMismatch = errors.New("codec: texture does not match configured resolution")
	ErrUnsupportedFormat  = errors.New("codec: unsupported pixel format")
	ErrClosed             = errors.New("codec: closed")
	ErrUnavailable        = errors.New("codec: backend unavailable")
)

// Type identifies an output bitstream.
type Type int

const (
	H264 Type = iota
	JPEG
)

// String returns the string representation of the codec type.
func (t Type) String() string {
	switch t {
	case H264:
		return "H264"
	case JPEG:
		return "JPEG"
	default:
		return "Unknown"
	}
}

// MimeType returns the MIME type for the codec.
func (t Type) MimeType() string {
	switch t {
	case H264:
		return "video/H264"
	case JPEG:
		return "image/jpeg"
	default:
		return ""
	}
}

// ClockRate returns the RTP clock rate for the codec.
func (t Type) ClockRate() uint32 {
	switch t {
	case H264, JPEG:
		return 90000
	default:
		return 0
	}
}

// Packet is one encoded picture.
type Packet struct {
	Data     *bytebuf.Buffer
	Keyframe bool
}

// Codec is a blocking, synchronous picture encoder. Implementations are not
// safe for concurrent use; the owning encoder calls them from one goroutine.
type Codec interface {
	// Type returns the produced bitstream type.
	Type() Type

	// SetResolution prepares the codec for textures of the given size.
	SetResolution(width, height int) error

	// Encode compresses one texture. Errors wrapping ErrFatal end the session.
	Encode(tex *frame.Texture) (Packet, error)

	// Close releases codec resources.
	Close() error
}

// H264Profile is a profile-level-id as it appears in SDP.
type H264Profile string

// H264ProfileConstrainedBase is Constrained Baseline at level 3.1, the
// profile every WebRTC endpoint decodes.
const H264ProfileConstrainedBase H264Profile = "42e01f"

// H264Config tunes the H.264 codec for screen content.
type H264Config struct {
	Width  int
	Height int

	Bitrate     uint32      // Target bitrate in bps (0 = auto based on resolution)
	FPS         float64     // Target framerate (0 = 30)
	KeyInterval int         // Keyframe interval in frames (0 = 2 seconds worth)
	Profile     H264Profile // empty = ConstrainedBaseline
	PreferHW    bool
}

// FPSOrDefault returns FPS or the default of 30.
func (c H264Config) FPSOrDefault() float64 {
	if c.FPS <= 0 {
		return 30
	}
	return c.FPS
}

// KeyIntervalOrDefault returns KeyInterval or two seconds worth of frames.
func (c H264Config) KeyIntervalOrDefault() int {
	if c.KeyInterval <= 0 {
		return int(2 * c.FPSOrDefault())
	}
	return c.KeyInterval
}

// BitrateOrDefault returns Bitrate or an estimate for the resolution.
func (c H264Config) BitrateOrDefault() uint32 {
	if c.Bitrate == 0 {
		return estimateVideoBitrate(c.Width, c.Height)
	}
	return c.Bitrate
}

// DefaultH264Config returns low-latency defaults for screen content.
func DefaultH264Config(width, height int) H264Config {
	return H264Config{
		Width:       width,
		Height:      height,
		Bitrate:     estimateVideoBitrate(width, height),
		FPS:         30,
		KeyInterval: 60,
		Profile:     H264ProfileConstrainedBase,
		PreferHW:    defaultPreferHW(),
	}
}

func defaultPreferHW() bool {
	return runtime.GOOS == "darwin"
}

// bitrateSteps maps a minimum pixel count to a target bitrate, largest first.
var bitrateSteps = []struct {
	pixels  int
	bitrate uint32
}{
	{3840 * 2160, 15_000_000},
	{2560 * 1440, 8_000_000},
	{1920 * 1080, 4_000_000},
	{1280 * 720, 2_000_000},
	{854 * 480, 1_000_000},
	{640 * 360, 500_000},
}

func estimateVideoBitrate(width, height int) uint32 {
	pixels := width * height
	for _, s := range bitrateSteps {
		if pixels >= s.pixels {
			return s.bitrate
		}
	}
	return 300_000
}
