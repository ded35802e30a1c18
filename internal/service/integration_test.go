package service

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"taxigate/internal/backend"
	"taxigate/internal/cache"
	"taxigate/internal/config"
	"taxigate/internal/models"
	"taxigate/internal/notifications"
	"taxigate/internal/realtime"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI is a REST backend whose live page can be changed by the test.
type fakeAPI struct {
	mu        sync.Mutex
	liveIDs   []string
	liveHits  atomic.Int32
	unreadHit atomic.Int32
}

func (a *fakeAPI) setLive(ids ...string) {
	a.mu.Lock()
	a.liveIDs = ids
	a.mu.Unlock()
}

func (a *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var data any
	switch {
	case r.URL.Path == "/api/notifications":
		data = map[string]any{"notifications": []any{}}
	case r.URL.Path == "/api/notifications/unread-count":
		a.unreadHit.Add(1)
		data = map[string]int{"count": 0}
	case strings.HasPrefix(r.URL.Path, "/api/bookings/"):
		var items []map[string]any
		if r.URL.Path == "/api/bookings/live" {
			a.liveHits.Add(1)
			a.mu.Lock()
			for _, id := range a.liveIDs {
				items = append(items, map[string]any{"id": id, "status": "pending", "price": "180"})
			}
			a.mu.Unlock()
		}
		data = map[string]any{"bookings": items, "pagination": map[string]int{"total": len(items), "page": 1, "pages": 1, "limit": 12}}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "success", "data": data})
}

// TestSessionOverWebsocket runs a full session against a websocket push
// server that drops the first connection after one event.
func TestSessionOverWebsocket(t *testing.T) {
	api := &fakeAPI{}
	apiSrv := httptest.NewServer(api)
	t.Cleanup(apiSrv.Close)

	push := make(chan struct{})
	drop := make(chan struct{})
	var dials atomic.Int32
	upgrader := websocket.Upgrader{}
	wsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := dials.Add(1)
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		var f realtime.Frame
		if err := ws.ReadJSON(&f); err != nil || f.Action != realtime.ActionAttach {
			return
		}
		if err := ws.WriteJSON(realtime.Frame{Action: realtime.ActionAttached, Channel: f.Channel}); err != nil {
			return
		}

		if n == 1 {
			select {
			case <-push:
			case <-time.After(5 * time.Second):
				return
			}
			_ = ws.WriteJSON(realtime.Frame{
				Action:  realtime.ActionMessage,
				Channel: f.Channel,
				Name:    "booking-created",
				Data:    json.RawMessage(`{"booking":{"id":"P1","status":"pending","price":"210","from_location":"Airport","to_location":"Center"}}`),
			})
			select {
			case <-drop:
			case <-time.After(5 * time.Second):
			}
			return
		}
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(wsSrv.Close)

	store := cache.NewStore()
	client := backend.NewClient(config.BackendConfig{BaseURL: apiSrv.URL, Timeout: time.Second}, nil)
	views := NewViewService(store, client, 12, nil)
	notes := NewNotificationService(client, notifications.NewFeed(20, time.Minute, nil, nil), 20, nil)
	dialer := &realtime.WebsocketDialer{URL: "ws" + strings.TrimPrefix(wsSrv.URL, "http"), HandshakeTimeout: time.Second}
	manager := realtime.NewManager(dialer, "admin", realtime.RetryPolicy{InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond, BackoffFactor: 2}, nil)

	session := NewSession(manager, store, views, notes, 150, realtime.Credentials{ClientID: ClientID("1")}, nil)
	session.Start(t.Context())
	t.Cleanup(session.Stop)

	require.Eventually(t, manager.IsConnected, 2*time.Second, 5*time.Millisecond)
	views.Wait()
	assert.Equal(t, int32(1), api.liveHits.Load())

	close(push)
	require.Eventually(t, func() bool {
		_, ok := store.View(models.ViewLive).Get("P1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		return len(notes.Feed().Entries()) == 1
	}, time.Second, 5*time.Millisecond)

	api.setLive("P1", "P2")
	close(drop)

	require.Eventually(t, func() bool {
		return dials.Load() == 2 && manager.IsConnected()
	}, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		_, ok := store.View(models.ViewLive).Get("P2")
		return ok
	}, 2*time.Second, 5*time.Millisecond, "active view refetched after suspension")

	assert.Equal(t, int32(2), api.liveHits.Load())
	assert.Eventually(t, func() bool { return api.unreadHit.Load() == 2 }, time.Second, 5*time.Millisecond)
	st, _ := views.State(models.ViewCompleted)
	assert.True(t, st.Stale)
}
