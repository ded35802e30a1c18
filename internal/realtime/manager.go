package realtime

import (
	"context"
	"sync"
	"time"

	"taxigate/internal/metrics"

	"github.com/rs/zerolog"
)

// Manager owns the transport connection and the single admin channel
// attached on it. It redials on its own after an interruption and reports
// only a discrete State; errors never cross its public methods.
//
// Frames are read and dispatched on one session goroutine, so bound
// handlers and state listeners run sequentially in arrival order. Listeners
// must not call Connect or Close.
type Manager struct {
	dialer  Dialer
	channel string
	retry   RetryPolicy
	logger  zerolog.Logger

	lifecycle sync.Mutex // serializes Connect and Close

	mu        sync.Mutex
	state     State
	clientID  string
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
	conn      Conn
	bindings  map[string]func(Message)
	listeners map[int]func(State)
	nextID    int

	wake chan struct{}
}

// NewManager creates a manager for channel. A nil logger disables logging.
func NewManager(dialer Dialer, channel string, retry RetryPolicy, logger *zerolog.Logger) *Manager {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "realtime").Str("channel", channel).Logger()
	}
	return &Manager{
		dialer:    dialer,
		channel:   channel,
		retry:     retry,
		logger:    l,
		state:     StateDisconnected,
		bindings:  make(map[string]func(Message)),
		listeners: make(map[int]func(State)),
		wake:      make(chan struct{}, 1),
	}
}

// Connect starts the session loop for creds. A call while a session for the
// same client id is running is a no-op; a different client id tears the
// running session down first.
func (m *Manager) Connect(creds Credentials) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.Lock()
	if m.running && m.clientID == creds.ClientID {
		m.mu.Unlock()
		m.logger.Debug().Str("client_id", creds.ClientID).Msg("connect ignored, session already running")
		return
	}
	wasRunning := m.running
	m.mu.Unlock()

	if wasRunning {
		m.logger.Info().Str("client_id", creds.ClientID).Msg("identity changed, tearing down session")
		m.teardown()
	}

	select {
	case <-m.wake:
	default:
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.running = true
	m.clientID = creds.ClientID
	m.cancel = cancel
	m.done = done
	m.mu.Unlock()

	m.setState(StateConnecting)
	go m.run(ctx, creds, done)
}

// Close stops the session loop, closes the transport and releases all
// bindings. Safe to call when not connected.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.teardown()
}

func (m *Manager) teardown() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.cancel, m.done = nil, nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	m.mu.Lock()
	m.running = false
	m.clientID = ""
	m.conn = nil
	m.bindings = make(map[string]func(Message))
	m.mu.Unlock()

	m.setState(StateDisconnected)
}

func (m *Manager) IsConnected() bool {
	return m.State() == StateAttached
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn for every state transition and returns a
// function removing it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Bind routes messages named event to fn, replacing any previous binding.
// Bindings last for the current transport session only.
func (m *Manager) Bind(event string, fn func(Message)) {
	m.mu.Lock()
	m.bindings[event] = fn
	m.mu.Unlock()
}

func (m *Manager) Unbind(event string) {
	m.mu.Lock()
	delete(m.bindings, event)
	m.mu.Unlock()
}

// RequestAttach asks for the channel to be attached again. From detached it
// re-sends the attach request; from suspended it cuts the redial backoff
// short. Other states ignore it.
func (m *Manager) RequestAttach() {
	m.mu.Lock()
	state, conn := m.state, m.conn
	m.mu.Unlock()

	switch state {
	case StateDetached:
		if conn != nil {
			if err := m.sendAttach(conn); err != nil {
				m.logger.Warn().Err(err).Msg("attach request failed")
			}
		}
	case StateSuspended:
		select {
		case m.wake <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = s
	listeners := make([]func(State), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	m.logger.Info().Str("from", string(prev)).Str("to", string(s)).Msg("channel state changed")
	metrics.SetChannelState(string(s), stateNames())

	for _, fn := range listeners {
		fn(s)
	}
}

func (m *Manager) run(ctx context.Context, creds Credentials, done chan struct{}) {
	defer close(done)

	attempt := 0
	everAttached := false
	for {
		conn, err := m.dialer.Dial(ctx, creds)
		if err == nil {
			var attached bool
			attached, err = m.serve(ctx, conn)
			if attached {
				everAttached = true
				attempt = 0
			}
		}
		if ctx.Err() != nil {
			return
		}

		if everAttached {
			m.setState(StateSuspended)
		}

		attempt++
		delay := m.retry.NextDelay(attempt)
		m.logger.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Msg("realtime transport interrupted")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-m.wake:
			timer.Stop()
		case <-timer.C:
		}
		metrics.IncReconnect()
	}
}

// serve runs one transport session until the connection fails or ctx ends.
// attached reports whether the channel reached attached during the session.
func (m *Manager) serve(ctx context.Context, conn Conn) (attached bool, err error) {
	m.mu.Lock()
	m.conn = conn
	m.bindings = make(map[string]func(Message))
	m.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer func() {
		stop()
		_ = conn.Close()
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
	}()

	if err := m.sendAttach(conn); err != nil {
		return false, err
	}

	for {
		f, err := conn.ReadFrame()
		if err != nil {
			return attached, err
		}
		if f.Channel != "" && f.Channel != m.channel {
			continue
		}

		switch f.Action {
		case ActionAttached:
			attached = true
			m.setState(StateAttached)
		case ActionDetached:
			m.setState(StateDetached)
			if err := m.sendAttach(conn); err != nil {
				return attached, err
			}
		case ActionMessage:
			m.dispatch(f)
		case ActionError:
			m.logger.Warn().Str("error", f.Error).Msg("channel error frame")
		case ActionHeartbeat:
		default:
			m.logger.Debug().Str("action", string(f.Action)).Msg("unknown frame action")
		}
	}
}

func (m *Manager) dispatch(f Frame) {
	m.mu.Lock()
	if m.state != StateAttached {
		m.mu.Unlock()
		return
	}
	fn := m.bindings[f.Name]
	m.mu.Unlock()

	if fn == nil {
		return
	}
	fn(messageFromFrame(f))
}

func (m *Manager) sendAttach(conn Conn) error {
	return conn.WriteFrame(Frame{
		Action:    ActionAttach,
		Channel:   m.channel,
		Timestamp: time.Now().UnixMilli(),
	})
}
