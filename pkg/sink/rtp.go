package sink

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/codec"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// Default RTP settings.
const (
	DefaultMTU         = 1200
	DefaultPayloadType = 96
)

// PacketWriter accepts RTP packets, e.g. a UDP socket or a bound track.
type PacketWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// RTPConfig configures an RTP sink.
type RTPConfig struct {
	Codec       codec.Type
	MTU         uint16 // 0 = DefaultMTU
	PayloadType uint8  // 0 = DefaultPayloadType
	SSRC        uint32 // 0 = random

	Log logrus.FieldLogger
}

// RTPStats counts what an RTP sink has sent.
type RTPStats struct {
	Frames             uint64
	Packets            uint64
	Bytes              uint64
	KeyframeMismatches uint64 // H.264 frames whose flag disagrees with the bitstream
}

// RTP packetizes frames and writes the packets to a PacketWriter. Packet
// timestamps follow the frame's capture time on the codec clock, so gaps
// left by dropped frames show up as gaps in RTP time.
type RTP struct {
	cfg  RTPConfig
	w    PacketWriter
	log  logrus.FieldLogger
	base uint32

	mu     sync.Mutex
	pz     rtp.Packetizer
	lastTS uint32
	closed bool

	frames     atomic.Uint64
	packets    atomic.Uint64
	bytes      atomic.Uint64
	mismatches atomic.Uint64
}

var _ Sink = (*RTP)(nil)

// NewRTP returns an RTP sink writing to w.
func NewRTP(w PacketWriter, cfg RTPConfig) (*RTP, error) {
	payloader, err := payloaderFor(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.MTU == 0 {
		cfg.MTU = DefaultMTU
	}
	if cfg.PayloadType == 0 {
		cfg.PayloadType = DefaultPayloadType
	}
	if cfg.SSRC == 0 {
		cfg.SSRC = rand.Uint32()
	}

	pz := rtp.NewPacketizer(cfg.MTU, cfg.PayloadType, cfg.SSRC, payloader,
		rtp.NewRandomSequencer(), cfg.Codec.ClockRate())

	return &RTP{
		cfg:  cfg,
		w:    w,
		log:  logging.Component(cfg.Log, "sink.rtp").WithField("ssrc", cfg.SSRC),
		base: rand.Uint32(),
		pz:   pz,
	}, nil
}

func payloaderFor(t codec.Type) (rtp.Payloader, error) {
	switch t {
	case codec.H264:
		return &codecs.H264Payloader{}, nil
	default:
		return nil, errors.Wrapf(ErrUnsupportedCodec, "rtp %s", t)
	}
}

// SSRC returns the stream's synchronization source.
func (s *RTP) SSRC() uint32 {
	return s.cfg.SSRC
}

// Packetize splits one frame into RTP packets without sending them.
func (s *RTP) Packetize(f frame.Frame[*bytebuf.Buffer]) []*rtp.Packet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.packetizeLocked(f)
}

func (s *RTP) packetizeLocked(f frame.Frame[*bytebuf.Buffer]) []*rtp.Packet {
	ts := s.lastTS
	if f.Captured.IsSet() {
		ts = s.base + MediaTimestamp(f.Captured, s.cfg.Codec.ClockRate())
	}
	s.lastTS = ts

	pkts := s.pz.Packetize(f.Payload.Bytes(), 0)
	for _, p := range pkts {
		p.Timestamp = ts
	}
	return pkts
}

// WriteFrame implements Sink.
func (s *RTP) WriteFrame(f frame.Frame[*bytebuf.Buffer]) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.cfg.Codec == codec.H264 {
		if IsH264Keyframe(f.Payload.Bytes()) != f.Keyframe {
			s.mismatches.Add(1)
			s.log.WithField("keyframe", f.Keyframe).Debug("keyframe flag disagrees with bitstream")
		}
	}

	for _, p := range s.packetizeLocked(f) {
		if err := s.w.WriteRTP(p); err != nil {
			return errors.Wrap(err, "write rtp")
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(p.Payload)))
	}
	s.frames.Add(1)
	return nil
}

// Stats returns a snapshot of the sink counters.
func (s *RTP) Stats() RTPStats {
	return RTPStats{
		Frames:             s.frames.Load(),
		Packets:            s.packets.Load(),
		Bytes:              s.bytes.Load(),
		KeyframeMismatches: s.mismatches.Load(),
	}
}

// Close implements Sink. It does not close the PacketWriter.
func (s *RTP) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
