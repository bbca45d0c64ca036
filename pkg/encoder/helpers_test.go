package encoder

import (
	"sync"
	"testing"

	"github.com/thesyncim/deskstream/internal/logging"
	"github.com/thesyncim/deskstream/internal/supervise"
	"github.com/thesyncim/deskstream/internal/testutil"
	"github.com/thesyncim/deskstream/pkg/bytebuf"
	"github.com/thesyncim/deskstream/pkg/clock"
	"github.com/thesyncim/deskstream/pkg/frame"
)

// collector records encoder outputs.
type collector struct {
	mu   sync.Mutex
	outs []frame.Frame[*bytebuf.Buffer]
}

func (c *collector) add(f frame.Frame[*bytebuf.Buffer]) {
	c.mu.Lock()
	c.outs = append(c.outs, f)
	c.mu.Unlock()
}

func (c *collector) frames() []frame.Frame[*bytebuf.Buffer] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]frame.Frame[*bytebuf.Buffer](nil), c.outs...)
}

func (c *collector) tags() []byte {
	var tags []byte
	for _, f := range c.frames() {
		tags = append(tags, f.Payload.At(0))
	}
	return tags
}

func (c *collector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outs)
}

// fatals records fatal errors instead of exiting.
type fatals struct {
	mu   sync.Mutex
	errs []*supervise.FatalError
}

func (f *fatals) supervisor() *supervise.Supervisor {
	return supervise.New(logging.Discard(), func(e *supervise.FatalError) {
		f.mu.Lock()
		f.errs = append(f.errs, e)
		f.mu.Unlock()
	})
}

func (f *fatals) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.errs)
}

func testOptions(t *testing.T, f *fatals) Options {
	t.Helper()
	return Options{
		Clock:    clock.New(),
		Log:      logging.Discard(),
		Reporter: f.supervisor(),
	}
}

// captured builds a texture frame as the capture loop would.
func captured(id byte, at clock.Micros) frame.Frame[*frame.Texture] {
	f := frame.New(testutil.TaggedTexture(id))
	f.Captured = at
	f.CursorPos = &frame.CursorPos{Visible: true, X: int(id), Y: int(id)}
	return f
}
