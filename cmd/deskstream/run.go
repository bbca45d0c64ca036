package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thesyncim/deskstream/internal/app"
	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/pkg/pipeline"
)

type runOptions struct {
	answerPath string
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	ro := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture and encode until interrupted or the session duration elapses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(cmd, opts, ro)
		},
	}

	f := cmd.Flags()
	f.String("backend", "", "capture backend (synthetic, screen)")
	f.Int("display", 0, "display index for the screen backend")
	f.Int("width", 0, "capture width")
	f.Int("height", 0, "capture height")
	f.Int("fps", 0, "capture frame rate")
	f.String("model", "", "encoder model (threaded, async)")
	f.String("codec", "", "codec (jpeg, h264)")
	f.Uint32("bitrate", 0, "H.264 bitrate in bps (0 = by resolution)")
	f.Int("quality", 0, "JPEG quality 1-100")
	f.Int("depth", 0, "async pipeline depth")
	f.String("sink", "", "sink (none, rtp, track)")
	f.String("address", "", "RTP destination host:port")
	f.Duration("duration", 0, "stop after this long (0 = until interrupted)")
	f.Duration("stats-interval", 0, "log statistics this often (0 = never)")
	f.StringVar(&ro.answerPath, "answer", "", "file holding the SDP answer for the track sink")

	for key, flag := range map[string]string{
		"capture.backend":        "backend",
		"capture.display":        "display",
		"capture.width":          "width",
		"capture.height":         "height",
		"capture.fps":            "fps",
		"encoder.model":          "model",
		"encoder.codec":          "codec",
		"encoder.bitrate":        "bitrate",
		"encoder.quality":        "quality",
		"encoder.depth":          "depth",
		"sink.kind":              "sink",
		"sink.address":           "address",
		"session.duration":       "duration",
		"session.stats_interval": "stats-interval",
	} {
		bindFlag(opts.v, key, f.Lookup(flag))
	}
	return cmd
}

func runSession(cmd *cobra.Command, opts *rootOptions, ro *runOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log.Level, logging.Format(cfg.Log.Format), cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if cfg.Session.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, cfg.Session.Duration)
		defer stop()
	}

	sup := supervise.New(log, func(*supervise.FatalError) { cancel() })
	s, err := app.Build(cfg, app.Options{Log: log, Reporter: sup})
	if err != nil {
		return err
	}
	defer s.Close()

	if s.Track != nil {
		if err := offerTrack(cmd, s, ro.answerPath, log); err != nil {
			return err
		}
	}

	if err := s.Pipeline.Start(); err != nil {
		return err
	}
	log.WithField("session", s.Pipeline.ID()).
		WithField("encoder", cfg.Encoder.Model+"/"+cfg.Encoder.Codec).
		WithField("sink", cfg.Sink.Kind).
		Info("running")

	var tick <-chan time.Time
	if cfg.Session.StatsInterval > 0 {
		t := time.NewTicker(cfg.Session.StatsInterval)
		defer t.Stop()
		tick = t.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-tick:
			logStats(log, s.Pipeline.Stats())
		}
	}

	stopErr := s.Pipeline.Stop()
	logStats(log, s.Pipeline.Stats())
	if err := sup.Err(); err != nil {
		return err
	}
	return stopErr
}

func logStats(log logrus.FieldLogger, st pipeline.Stats) {
	l := log.WithField("captured", st.Captured).
		WithField("skipped", st.Skipped).
		WithField("dropped", st.Dropped+st.Encoder.Dropped).
		WithField("encoded", st.Encoded).
		WithField("encode_errors", st.Encoder.Errors).
		WithField("lost", st.Encoder.Lost)
	if st.LatencyReady {
		l = l.WithField("latency_min", st.Latency.Min.Duration()).
			WithField("latency_avg", st.Latency.Avg.Duration()).
			WithField("latency_max", st.Latency.Max.Duration())
	}
	l.Info("stats")
}

// offerTrack adds the track to a new PeerConnection and prints the offer.
// With an answer file the negotiation is completed right away.
func offerTrack(cmd *cobra.Command, s *app.Session, answerPath string, log logrus.FieldLogger) error {
	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return errors.Wrap(err, "create peer connection")
	}
	s.AddCloser(pc)

	sender, err := pc.AddTrack(s.Track.Local())
	if err != nil {
		return errors.Wrap(err, "add track")
	}
	go func() {
		for {
			pkts, _, err := sender.ReadRTCP()
			if err != nil {
				return
			}
			s.HandleRTCP(pkts)
		}
	}()

	pc.OnConnectionStateChange(func(st webrtc.PeerConnectionState) {
		log.WithField("state", st.String()).Info("peer connection state")
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return errors.Wrap(err, "create offer")
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return errors.Wrap(err, "set local description")
	}
	<-gathered
	fmt.Fprintln(cmd.OutOrStdout(), pc.LocalDescription().SDP)

	if answerPath == "" {
		return nil
	}
	sdp, err := os.ReadFile(answerPath)
	if err != nil {
		return errors.Wrap(err, "read answer")
	}
	return errors.Wrap(pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  string(sdp),
	}), "set remote description")
}
