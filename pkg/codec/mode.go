package codec

import (
	"fmt"
	"time"
)

// Rational is a frame rate expressed as Num/Den frames per second.
type Rational struct {
	Num int
	Den int
}

// DefaultRate is used when no frame rate has been configured.
var DefaultRate = Rational{Num: 60, Den: 1}

// Valid reports whether both terms are positive.
func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// OrDefault returns r, or DefaultRate if r is not valid.
func (r Rational) OrDefault() Rational {
	if !r.Valid() {
		return DefaultRate
	}
	return r
}

// Float returns the rate in frames per second.
func (r Rational) Float() float64 {
	if !r.Valid() {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// FrameDuration returns the nominal duration of one frame.
func (r Rational) FrameDuration() time.Duration {
	r = r.OrDefault()
	return time.Duration(int64(time.Second) * int64(r.Den) / int64(r.Num))
}

// FrameDuration100ns returns the nominal duration of one frame in 100 ns
// units, the time base of media transforms.
func (r Rational) FrameDuration100ns() int64 {
	return r.SampleTime100ns(1)
}

// SampleTime100ns returns the start of frame n in 100 ns units, rounded
// down from the exact n × Den / Num seconds so durations do not accumulate
// rounding error.
func (r Rational) SampleTime100ns(n int64) int64 {
	r = r.OrDefault()
	num, den := int64(r.Num), int64(r.Den)
	q, rem := n/num, n%num
	return q*10_000_000*den + rem*10_000_000*den/num
}

func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

// Mode is a video geometry and frame rate.
type Mode struct {
	Width  int
	Height int
	Rate   Rational
}

// Valid reports whether the mode has a positive size and a valid rate.
func (m Mode) Valid() bool {
	return m.Width > 0 && m.Height > 0 && m.Rate.Valid()
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%s", m.Width, m.Height, m.Rate)
}
