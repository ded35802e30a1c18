package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taxigate/internal/cache"
	"taxigate/internal/events"
	"taxigate/internal/models"
	"taxigate/internal/notifications"
	"taxigate/internal/realtime"
	"taxigate/internal/reconciler"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Connection is the realtime channel a session runs on.
type Connection interface {
	events.Channel
	Connect(creds realtime.Credentials)
	Close()
	IsConnected() bool
}

// Status is the externally visible state of a session.
type Status struct {
	Connected  bool        `json:"connected"`
	State      string      `json:"state"`
	ClientID   string      `json:"clientId"`
	ActiveView models.View `json:"activeView"`
	Unread     int         `json:"unreadCount"`
	Views      []ViewState `json:"views"`
}

// ClientID builds the realtime client id for an admin user. Sessions
// without a user get a random one.
func ClientID(userID string) string {
	if userID == "" {
		return models.ClientIDPrefix + uuid.NewString()
	}
	return models.ClientIDPrefix + userID
}

// Session wires the connection, subscriptions, reconciler and notification
// feed of one signed-in admin.
type Session struct {
	conn       Connection
	registry   *events.Registry
	reconciler *reconciler.Reconciler
	listener   *notifications.Listener
	store      *cache.Store
	views      *ViewService
	notes      *NotificationService
	logger     *zerolog.Logger

	mu        sync.Mutex
	creds     realtime.Credentials
	started   bool
	stops     []func()
	suspended atomic.Bool
	wg        sync.WaitGroup
}

func NewSession(
	conn Connection,
	store *cache.Store,
	views *ViewService,
	notes *NotificationService,
	threshold float64,
	creds realtime.Credentials,
	logger *zerolog.Logger,
) *Session {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if creds.ClientID == "" {
		creds.ClientID = ClientID("")
	}
	s := &Session{
		conn:       conn,
		registry:   events.NewRegistry(conn, logger),
		reconciler: reconciler.New(store, views, threshold, logger),
		store:      store,
		views:      views,
		notes:      notes,
		logger:     logger,
		creds:      creds,
	}
	if notes != nil {
		s.listener = notifications.NewListener(notes.Feed(), logger)
	}
	return s
}

// Start subscribes to every booking event, loads the views and the
// notification feed, and opens the connection. Load failures are logged;
// the views and feed recover on the next refetch.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stops = append(s.stops,
		s.conn.OnStateChange(s.onState),
		s.reconciler.Subscribe(s.registry, s.views.Active),
	)
	if s.listener != nil {
		s.stops = append(s.stops, s.listener.Subscribe(s.registry))
	}
	creds := s.creds
	s.mu.Unlock()

	s.views.LoadAll(ctx)
	if s.notes != nil {
		if err := s.notes.Load(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("initial notification load failed")
		}
	}

	s.logger.Info().Str("client_id", creds.ClientID).Msg("starting realtime session")
	s.conn.Connect(creds)
}

// SwitchUser reconnects under the identity of userID.
func (s *Session) SwitchUser(userID string) {
	s.mu.Lock()
	s.creds.ClientID = ClientID(userID)
	creds := s.creds
	started := s.started
	s.mu.Unlock()

	if started {
		s.conn.Connect(creds)
	}
}

// onState reloads everything after the channel comes back from suspension,
// since events sent while suspended are lost.
func (s *Session) onState(state realtime.State) {
	switch state {
	case realtime.StateSuspended:
		s.suspended.Store(true)
	case realtime.StateAttached:
		if !s.suspended.Swap(false) {
			return
		}
		s.logger.Info().Msg("channel reattached after suspension, invalidating views")
		s.views.InvalidateAll()
		if s.notes != nil {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := s.notes.RefreshUnread(ctx); err != nil {
					s.logger.Warn().Err(err).Msg("unread count refresh failed")
				}
			}()
		}
	}
}

// Stop releases every subscription, closes the connection and waits for
// background work.
func (s *Session) Stop() {
	s.mu.Lock()
	stops := s.stops
	s.stops = nil
	s.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	s.registry.Close()
	s.conn.Close()
	s.views.Close()
	s.wg.Wait()
}

func (s *Session) Status() Status {
	s.mu.Lock()
	clientID := s.creds.ClientID
	s.mu.Unlock()

	st := Status{
		Connected:  s.conn.IsConnected(),
		State:      string(s.conn.State()),
		ClientID:   clientID,
		ActiveView: s.views.Active(),
		Views:      s.views.States(),
	}
	if s.notes != nil {
		st.Unread = s.notes.Feed().UnreadCount()
	}
	return st
}

func (s *Session) Store() *cache.Store {
	return s.store
}

func (s *Session) Views() *ViewService {
	return s.views
}

func (s *Session) Notifications() *NotificationService {
	return s.notes
}

func (s *Session) Registry() *events.Registry {
	return s.registry
}
