// Package e2e runs complete capture sessions against the real shim library.
// Every test skips when the library cannot be loaded.
package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/thesyncim/deskstream/internal/app"
	"github.com/thesyncim/deskstream/internal/config"
	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/shim"
	"github.com/thesyncim/deskstream/internal/supervise"
)

func requireShim(t *testing.T) {
	t.Helper()
	if err := shim.Load(); err != nil {
		t.Skipf("shim library not available: %v", err)
	}
}

// h264Config returns a small synthetic H.264 session writing to sinkKind.
func h264Config(t *testing.T, model, sinkKind string) *config.Config {
	t.Helper()
	v := config.NewViper()
	v.Set("capture.width", 320)
	v.Set("capture.height", 240)
	v.Set("capture.fps", 30)
	v.Set("encoder.model", model)
	v.Set("encoder.codec", "h264")
	v.Set("encoder.fps", 30)
	v.Set("sink.kind", sinkKind)
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func build(t *testing.T, cfg *config.Config) (*app.Session, *supervise.Supervisor) {
	t.Helper()
	sup := supervise.New(logging.Discard(), func(*supervise.FatalError) {})
	s, err := app.Build(cfg, app.Options{Log: logging.Discard(), Reporter: sup})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, sup
}
