package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCodecType(t *testing.T) {
	tests := []struct {
		codec     Type
		str       string
		mime      string
		clockRate uint32
	}{
		{H264, "H264", "video/H264", 90000},
		{JPEG, "JPEG", "image/jpeg", 90000},
		{Type(42), "Unknown", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.str, func(t *testing.T) {
			assert.Equal(t, tt.str, tt.codec.String())
			assert.Equal(t, tt.mime, tt.codec.MimeType())
			assert.Equal(t, tt.clockRate, tt.codec.ClockRate())
		})
	}
}

func TestRational(t *testing.T) {
	tests := []struct {
		name     string
		rate     Rational
		valid    bool
		fps      float64
		duration time.Duration
		ticks    int64
	}{
		{"60", Rational{60, 1}, true, 60, 16666666 * time.Nanosecond, 166666},
		{"30", Rational{30, 1}, true, 30, 33333333 * time.Nanosecond, 333333},
		{"NTSC", Rational{30000, 1001}, true, 30000.0 / 1001, 33366666 * time.Nanosecond, 333666},
		{"invalid falls back to 60", Rational{0, 1}, false, 0, 16666666 * time.Nanosecond, 166666},
		{"negative den", Rational{60, -1}, false, 0, 16666666 * time.Nanosecond, 166666},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, tt.rate.Valid())
			assert.InDelta(t, tt.fps, tt.rate.Float(), 1e-9)
			assert.Equal(t, tt.duration, tt.rate.FrameDuration())
			assert.Equal(t, tt.ticks, tt.rate.FrameDuration100ns())
		})
	}
}

func TestRationalSampleTime(t *testing.T) {
	tests := []struct {
		rate Rational
		n    int64
		want int64
	}{
		{Rational{60, 1}, 0, 0},
		{Rational{60, 1}, 2, 333333},
		{Rational{60, 1}, 60, 10_000_000},
		{Rational{60000, 1001}, 60000, 1001 * 10_000_000},
		{Rational{30, 1}, 30 << 30, 10_000_000 << 30},
		{Rational{}, 3, 500000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.rate.SampleTime100ns(tt.n), "%s frame %d", tt.rate, tt.n)
	}
}

func TestMode(t *testing.T) {
	m := Mode{Width: 1920, Height: 1080, Rate: Rational{60, 1}}
	assert.True(t, m.Valid())
	assert.Equal(t, "1920x1080@60/1", m.String())

	assert.False(t, Mode{Width: 0, Height: 1080, Rate: DefaultRate}.Valid())
	assert.False(t, Mode{Width: 640, Height: 480}.Valid())
}

func TestH264ConfigDefaults(t *testing.T) {
	var c H264Config
	assert.Equal(t, 30.0, c.FPSOrDefault())
	assert.Equal(t, 60, c.KeyIntervalOrDefault())

	c = H264Config{Width: 1920, Height: 1080, FPS: 60}
	assert.Equal(t, 120, c.KeyIntervalOrDefault())
	assert.Equal(t, uint32(4_000_000), c.BitrateOrDefault())

	d := DefaultH264Config(1280, 720)
	assert.Equal(t, uint32(2_000_000), d.Bitrate)
	assert.Equal(t, H264ProfileConstrainedBase, d.Profile)
}

func TestEstimateVideoBitrate(t *testing.T) {
	tests := []struct {
		w, h int
		want uint32
	}{
		{3840, 2160, 15_000_000},
		{2560, 1440, 8_000_000},
		{1920, 1080, 4_000_000},
		{1280, 720, 2_000_000},
		{854, 480, 1_000_000},
		{640, 360, 500_000},
		{320, 240, 300_000},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, estimateVideoBitrate(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}
