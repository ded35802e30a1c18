package realtime

import (
	"context"
	"errors"
	"sync"
)

type fakeConn struct {
	in         chan Frame
	autoAttach bool

	mu      sync.Mutex
	written []Frame

	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeConn(autoAttach bool) *fakeConn {
	return &fakeConn{
		in:         make(chan Frame, 64),
		autoAttach: autoAttach,
		closed:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() (Frame, error) {
	select {
	case f := <-c.in:
		return f, nil
	case <-c.closed:
		return Frame{}, ErrClosed
	}
}

func (c *fakeConn) WriteFrame(f Frame) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}
	c.mu.Lock()
	c.written = append(c.written, f)
	c.mu.Unlock()
	if c.autoAttach && f.Action == ActionAttach {
		c.in <- Frame{Action: ActionAttached, Channel: f.Channel}
	}
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) count(action Action) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, f := range c.written {
		if f.Action == action {
			n++
		}
	}
	return n
}

type fakeDialer struct {
	autoAttach bool
	conns      chan *fakeConn

	mu       sync.Mutex
	failures int
	dials    int
	creds    []Credentials
}

func newFakeDialer(autoAttach bool) *fakeDialer {
	return &fakeDialer{autoAttach: autoAttach, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, creds Credentials) (Conn, error) {
	d.mu.Lock()
	d.dials++
	d.creds = append(d.creds, creds)
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return nil, errors.New("realtime unavailable")
	}
	d.mu.Unlock()

	c := newFakeConn(d.autoAttach)
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// stateRecorder collects state transitions in order.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	r.mu.Unlock()
}

func (r *stateRecorder) snapshot() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}
