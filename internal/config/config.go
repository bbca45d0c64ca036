// Package config loads the deskstream session configuration from defaults,
// DESKSTREAM_* environment variables and an optional YAML file.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

var ErrInvalid = errors.New("config: invalid")

// EnvPrefix is prepended to every environment variable, e.g.
// DESKSTREAM_ENCODER_MODEL for encoder.model.
const EnvPrefix = "DESKSTREAM"

// MaxFPS bounds capture.fps and encoder.fps.
const MaxFPS = 1000

type Capture struct {
	Backend string `mapstructure:"backend"`
	Display int    `mapstructure:"display"`
	Width   int    `mapstructure:"width"`
	Height  int    `mapstructure:"height"`
	FPS     int    `mapstructure:"fps"`
}

type Encoder struct {
	Model        string        `mapstructure:"model"`
	Codec        string        `mapstructure:"codec"`
	Width        int           `mapstructure:"width"`
	Height       int           `mapstructure:"height"`
	FPS          int           `mapstructure:"fps"`
	Bitrate      uint32        `mapstructure:"bitrate"`
	Quality      int           `mapstructure:"quality"`
	Depth        int           `mapstructure:"depth"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

type Sink struct {
	Kind        string `mapstructure:"kind"`
	Address     string `mapstructure:"address"`
	MTU         uint16 `mapstructure:"mtu"`
	PayloadType uint8  `mapstructure:"payload_type"`
}

type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Session struct {
	Duration      time.Duration `mapstructure:"duration"`
	StatsInterval time.Duration `mapstructure:"stats_interval"`
}

// Config is the complete session configuration.
type Config struct {
	Capture Capture `mapstructure:"capture"`
	Encoder Encoder `mapstructure:"encoder"`
	Sink    Sink    `mapstructure:"sink"`
	Log     Log     `mapstructure:"log"`
	Session Session `mapstructure:"session"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("capture.backend", "synthetic")
	v.SetDefault("capture.display", 0)
	v.SetDefault("capture.width", 1280)
	v.SetDefault("capture.height", 720)
	v.SetDefault("capture.fps", 60)

	v.SetDefault("encoder.model", "threaded")
	v.SetDefault("encoder.codec", "jpeg")
	// zero encoder size follows the capture mode
	v.SetDefault("encoder.width", 0)
	v.SetDefault("encoder.height", 0)
	v.SetDefault("encoder.fps", 60)
	v.SetDefault("encoder.bitrate", 0)
	v.SetDefault("encoder.quality", 75)
	v.SetDefault("encoder.depth", 2)
	v.SetDefault("encoder.poll_interval", time.Millisecond)

	v.SetDefault("sink.kind", "none")
	v.SetDefault("sink.address", "127.0.0.1:5004")
	v.SetDefault("sink.mtu", 1200)
	v.SetDefault("sink.payload_type", 96)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("session.duration", time.Duration(0))
	v.SetDefault("session.stats_interval", 5*time.Second)
}

// NewViper returns a viper instance with defaults and environment binding.
// Callers may bind command-line flags to it before calling FromViper.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	return v
}

// ReadFile merges a YAML file into v. With an empty path it looks for
// config.yaml in the working directory, $HOME/.deskstream and
// /etc/deskstream, and a missing file is not an error.
func ReadFile(v *viper.Viper, path string) error {
	if path != "" {
		v.SetConfigFile(path)
		return errors.Wrapf(v.ReadInConfig(), "read config %s", path)
	}

	v.SetConfigName("config")
	for _, p := range []string{".", "$HOME/.deskstream", "/etc/deskstream"} {
		v.AddConfigPath(os.ExpandEnv(p))
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return errors.Wrap(err, "read config")
		}
	}
	return nil
}

// FromViper decodes and validates the configuration held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Load is NewViper, ReadFile and FromViper in one call.
func Load(path string) (*Config, error) {
	v := NewViper()
	if err := ReadFile(v, path); err != nil {
		return nil, err
	}
	return FromViper(v)
}

// Validate checks enum values and sizes.
func (c *Config) Validate() error {
	if err := oneOf("capture.backend", c.Capture.Backend, "synthetic", "screen"); err != nil {
		return err
	}
	if err := oneOf("encoder.model", c.Encoder.Model, "threaded", "async"); err != nil {
		return err
	}
	if err := oneOf("encoder.codec", c.Encoder.Codec, "jpeg", "h264"); err != nil {
		return err
	}
	if err := oneOf("sink.kind", c.Sink.Kind, "none", "rtp", "track"); err != nil {
		return err
	}

	if c.Capture.Width <= 0 || c.Capture.Height <= 0 {
		return errors.Wrapf(ErrInvalid, "capture size %dx%d", c.Capture.Width, c.Capture.Height)
	}
	if c.Capture.FPS <= 0 || c.Capture.FPS > MaxFPS {
		return errors.Wrapf(ErrInvalid, "capture.fps %d", c.Capture.FPS)
	}
	if c.Capture.Display < 0 {
		return errors.Wrapf(ErrInvalid, "capture.display %d", c.Capture.Display)
	}
	if c.Encoder.Width < 0 || c.Encoder.Height < 0 || (c.Encoder.Width == 0) != (c.Encoder.Height == 0) {
		return errors.Wrapf(ErrInvalid, "encoder size %dx%d", c.Encoder.Width, c.Encoder.Height)
	}
	if c.Encoder.FPS <= 0 || c.Encoder.FPS > MaxFPS {
		return errors.Wrapf(ErrInvalid, "encoder.fps %d", c.Encoder.FPS)
	}
	if c.Encoder.Quality < 1 || c.Encoder.Quality > 100 {
		return errors.Wrapf(ErrInvalid, "encoder.quality %d", c.Encoder.Quality)
	}
	if c.Encoder.Depth <= 0 {
		return errors.Wrapf(ErrInvalid, "encoder.depth %d", c.Encoder.Depth)
	}
	if c.Encoder.PollInterval <= 0 {
		return errors.Wrapf(ErrInvalid, "encoder.poll_interval %s", c.Encoder.PollInterval)
	}
	if c.Sink.Kind == "rtp" && c.Sink.Address == "" {
		return errors.Wrap(ErrInvalid, "sink.address is required for rtp")
	}
	if c.Sink.MTU < 64 {
		return errors.Wrapf(ErrInvalid, "sink.mtu %d", c.Sink.MTU)
	}
	if c.Sink.PayloadType < 96 || c.Sink.PayloadType > 127 {
		return errors.Wrapf(ErrInvalid, "sink.payload_type %d", c.Sink.PayloadType)
	}
	if c.Session.Duration < 0 {
		return errors.Wrapf(ErrInvalid, "session.duration %s", c.Session.Duration)
	}
	return nil
}

func oneOf(key, got string, allowed ...string) error {
	for _, a := range allowed {
		if got == a {
			return nil
		}
	}
	return errors.Wrapf(ErrInvalid, "%s %q (want one of %s)", key, got, strings.Join(allowed, ", "))
}

// EncoderSize returns the configured encoder size, falling back to the
// capture size.
func (c *Config) EncoderSize() (int, int) {
	if c.Encoder.Width == 0 {
		return c.Capture.Width, c.Capture.Height
	}
	return c.Encoder.Width, c.Encoder.Height
}
