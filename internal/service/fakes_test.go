package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"taxigate/internal/models"
	"taxigate/internal/realtime"

	"github.com/stretchr/testify/mock"
)

// fakeSource serves pages from memory. A non-nil gate holds every fetch
// until a value is sent on it.
type fakeSource struct {
	mu     sync.Mutex
	pages  map[models.View]*models.Page
	errs   map[models.View]error
	cached map[models.View]*models.Page
	calls  map[models.View][]int
	gate   chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		pages:  make(map[models.View]*models.Page),
		errs:   make(map[models.View]error),
		cached: make(map[models.View]*models.Page),
		calls:  make(map[models.View][]int),
	}
}

func (f *fakeSource) set(view models.View, ids ...string) {
	p := &models.Page{Items: []models.Booking{}, Pagination: models.Pagination{Total: len(ids), Page: 1, Pages: 1, Limit: 12}}
	for _, id := range ids {
		p.Items = append(p.Items, models.Booking{ID: id, Status: models.StatusPending, Price: "200"})
	}
	f.mu.Lock()
	f.pages[view] = p
	f.mu.Unlock()
}

func (f *fakeSource) fail(view models.View, err error) {
	f.mu.Lock()
	f.errs[view] = err
	f.mu.Unlock()
}

func (f *fakeSource) FetchPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	f.mu.Lock()
	f.calls[view] = append(f.calls[view], page)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[view]; err != nil {
		return nil, err
	}
	p, ok := f.pages[view]
	if !ok {
		return &models.Page{Items: []models.Booking{}, Pagination: models.Pagination{Page: page, Limit: limit}}, nil
	}
	out := *p
	out.Items = append([]models.Booking(nil), p.Items...)
	return &out, nil
}

func (f *fakeSource) CachedPage(_ context.Context, view models.View, _, _ int) (*models.Page, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.cached[view]
	return p, ok
}

func (f *fakeSource) callCount(view models.View) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[view])
}

func (f *fakeSource) pagesRequested(view models.View) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls[view]...)
}

// mockBackend is a testify mock of the REST API.
type mockBackend struct {
	mock.Mock
}

func (m *mockBackend) FetchPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	args := m.Called(ctx, view, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Page), args.Error(1)
}

func (m *mockBackend) AssignDriver(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID, driverID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBackend) UnassignDriver(ctx context.Context, bookingID string) (*models.Booking, error) {
	args := m.Called(ctx, bookingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Booking), args.Error(1)
}

func (m *mockBackend) ListNotifications(ctx context.Context, limit int, unreadOnly bool) ([]models.Notification, error) {
	args := m.Called(ctx, limit, unreadOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Notification), args.Error(1)
}

func (m *mockBackend) UnreadCount(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *mockBackend) MarkNotificationRead(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

func (m *mockBackend) MarkAllNotificationsRead(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockBackend) DeleteNotification(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// fakeConnection is a scripted realtime channel.
type fakeConnection struct {
	mu        sync.Mutex
	state     realtime.State
	bindings  map[string]func(realtime.Message)
	listeners map[int]func(realtime.State)
	nextID    int
	connects  []realtime.Credentials
	closed    bool
}

func newFakeConnection() *fakeConnection {
	return &fakeConnection{
		state:     realtime.StateDisconnected,
		bindings:  make(map[string]func(realtime.Message)),
		listeners: make(map[int]func(realtime.State)),
	}
}

func (c *fakeConnection) State() realtime.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *fakeConnection) IsConnected() bool {
	return c.State() == realtime.StateAttached
}

func (c *fakeConnection) Bind(event string, fn func(realtime.Message)) {
	c.mu.Lock()
	c.bindings[event] = fn
	c.mu.Unlock()
}

func (c *fakeConnection) Unbind(event string) {
	c.mu.Lock()
	delete(c.bindings, event)
	c.mu.Unlock()
}

func (c *fakeConnection) RequestAttach() {}

func (c *fakeConnection) OnStateChange(fn func(realtime.State)) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.listeners, id)
		c.mu.Unlock()
	}
}

func (c *fakeConnection) Connect(creds realtime.Credentials) {
	c.mu.Lock()
	c.connects = append(c.connects, creds)
	c.mu.Unlock()
	c.transition(realtime.StateConnecting)
}

func (c *fakeConnection) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.transition(realtime.StateDisconnected)
}

// transition moves to s. Bindings belong to one transport session, so they
// are dropped whenever the channel is not attached.
func (c *fakeConnection) transition(s realtime.State) {
	c.mu.Lock()
	c.state = s
	if s != realtime.StateAttached {
		c.bindings = make(map[string]func(realtime.Message))
	}
	listeners := make([]func(realtime.State), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// emit delivers an event if something is bound to it.
func (c *fakeConnection) emit(event, data string) bool {
	c.mu.Lock()
	fn := c.bindings[event]
	c.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(realtime.Message{Name: event, Data: json.RawMessage(data), Timestamp: time.Now()})
	return true
}

func (c *fakeConnection) lastCreds() realtime.Credentials {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.connects) == 0 {
		return realtime.Credentials{}
	}
	return c.connects[len(c.connects)-1]
}
