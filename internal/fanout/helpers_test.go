// ABOUTME: Shared fakes for fan-out tests
// ABOUTME: Recording connections and a helper that runs a listener on a bus

package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/coven-chat/internal/bus"
	"github.com/2389/coven-chat/internal/registry"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeConn struct {
	id     string
	userID int64

	mu     sync.Mutex
	frames []string
	broken bool
}

func newFakeConn(id string, userID int64) *fakeConn {
	return &fakeConn{id: id, userID: userID}
}

func (c *fakeConn) ID() string    { return c.id }
func (c *fakeConn) UserID() int64 { return c.userID }

func (c *fakeConn) Send(_ context.Context, frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken {
		return errBrokenPipe
	}
	c.frames = append(c.frames, string(frame))
	return nil
}

func (c *fakeConn) received() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.frames...)
}

// types returns the "type" field of every structured frame received.
func (c *fakeConn) types() []string {
	var out []string
	for _, f := range c.received() {
		var obj struct {
			Type string `json:"type"`
		}
		if json.Unmarshal([]byte(f), &obj) == nil && obj.Type != "" {
			out = append(out, obj.Type)
		} else {
			out = append(out, "raw:"+f)
		}
	}
	return out
}

type process struct {
	reg     *registry.Registry
	adapter *Adapter
}

// startProcess wires a registry and adapter to b and runs the listener
// until the test ends.
func startProcess(t *testing.T, b bus.Bus, opts Options) *process {
	t.Helper()
	reg := registry.New(nil)
	a := New(b, reg, opts, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.Eventually(t, a.Healthy, 2*time.Second, 5*time.Millisecond)
	return &process{reg: reg, adapter: a}
}

func (p *process) connect(id string, userID int64) *fakeConn {
	c := newFakeConn(id, userID)
	p.reg.Register(c)
	return c
}
