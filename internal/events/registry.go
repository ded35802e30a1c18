package events

import (
	"reflect"
	"sync"

	"taxigate/internal/metrics"
	"taxigate/internal/realtime"

	"github.com/rs/zerolog"
)

// Channel is the part of the connection manager the registry drives.
type Channel interface {
	State() realtime.State
	Bind(event string, fn func(realtime.Message))
	Unbind(event string)
	RequestAttach()
	OnStateChange(fn func(realtime.State)) func()
}

// Handler reacts to a channel message. Handlers are compared by identity,
// so implementations must be comparable (pointer types are).
type Handler interface {
	Handle(msg realtime.Message)
}

type funcHandler struct {
	fn func(realtime.Message)
}

func (h *funcHandler) Handle(msg realtime.Message) { h.fn(msg) }

// Func adapts fn to a Handler. Each call returns a distinct handler; keep the
// result to unsubscribe it later.
func Func(fn func(realtime.Message)) Handler {
	return &funcHandler{fn: fn}
}

// Registry keeps event subscriptions across channel reattachments. Every
// time the channel becomes attached it binds all events that have
// subscribers, so a registration made while disconnected or suspended is
// delivered once the channel is back.
type Registry struct {
	channel Channel
	logger  zerolog.Logger

	mu     sync.Mutex
	subs   map[string][]Handler
	closed bool

	stopWatch func()
}

func NewRegistry(channel Channel, logger *zerolog.Logger) *Registry {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "events").Logger()
	}
	r := &Registry{
		channel: channel,
		logger:  l,
		subs:    make(map[string][]Handler),
	}
	r.stopWatch = channel.OnStateChange(r.onState)
	return r
}

// Subscribe registers h for event and returns a function removing it.
// Registering the same handler twice for one event is a no-op.
func (r *Registry) Subscribe(event string, h Handler) func() {
	if h == nil || !reflect.TypeOf(h).Comparable() {
		r.logger.Error().Str("event", event).Msg("handler is not comparable, subscription ignored")
		return func() {}
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return func() {}
	}
	for _, existing := range r.subs[event] {
		if existing == h {
			r.mu.Unlock()
			return r.disposer(event, h)
		}
	}
	r.subs[event] = append(r.subs[event], h)
	r.mu.Unlock()

	switch r.channel.State() {
	case realtime.StateAttached:
		r.bind(event)
	case realtime.StateConnecting:
		// bound when the attach completes
	default:
		r.channel.RequestAttach()
	}

	return r.disposer(event, h)
}

func (r *Registry) disposer(event string, h Handler) func() {
	var once sync.Once
	return func() {
		once.Do(func() { r.Unsubscribe(event, h) })
	}
}

// Unsubscribe removes h from event. Removing the last handler releases the
// channel binding for event.
func (r *Registry) Unsubscribe(event string, h Handler) {
	r.mu.Lock()
	handlers := r.subs[event]
	kept := make([]Handler, 0, len(handlers))
	for _, existing := range handlers {
		if existing != h {
			kept = append(kept, existing)
		}
	}
	release := len(handlers) > 0 && len(kept) == 0
	if len(kept) == 0 {
		delete(r.subs, event)
	} else {
		r.subs[event] = kept
	}
	r.mu.Unlock()

	if release {
		r.channel.Unbind(event)
	}
}

// Subscribed reports how many handlers are registered for event.
func (r *Registry) Subscribed(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[event])
}

// Close drops every subscription and stops future dispatch. A dispatch
// already running completes.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	events := make([]string, 0, len(r.subs))
	for event := range r.subs {
		events = append(events, event)
	}
	r.subs = make(map[string][]Handler)
	r.mu.Unlock()

	r.stopWatch()
	for _, event := range events {
		r.channel.Unbind(event)
	}
}

func (r *Registry) onState(s realtime.State) {
	if s != realtime.StateAttached {
		return
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	events := make([]string, 0, len(r.subs))
	for event := range r.subs {
		events = append(events, event)
	}
	r.mu.Unlock()

	for _, event := range events {
		r.bind(event)
	}
	r.logger.Debug().Int("events", len(events)).Msg("subscriptions bound")
}

func (r *Registry) bind(event string) {
	r.channel.Bind(event, func(msg realtime.Message) {
		r.dispatch(event, msg)
	})
}

func (r *Registry) dispatch(event string, msg realtime.Message) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	handlers := append([]Handler(nil), r.subs[event]...)
	r.mu.Unlock()

	for _, h := range handlers {
		r.safeHandle(event, h, msg)
	}
}

func (r *Registry) safeHandle(event string, h Handler, msg realtime.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			metrics.IncEvent(event, "panic")
			r.logger.Error().Str("event", event).Interface("panic", rec).Msg("event handler panicked")
		}
	}()
	h.Handle(msg)
}
