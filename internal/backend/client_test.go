package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"taxigate/internal/config"
	"taxigate/internal/models"
	"taxigate/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	status := "success"
	if code >= 300 {
		status = "error"
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"status": status, "message": message, "data": data})
}

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewClient(config.BackendConfig{BaseURL: srv.URL + "/", Token: "tok", Timeout: time.Second}, nil)
}

func TestFetchPage(t *testing.T) {
	tests := []struct {
		view models.View
		path string
	}{
		{models.ViewLive, "/api/bookings/live"},
		{models.ViewAssigned, "/api/bookings/admin-assigned"},
		{models.ViewExpired, "/api/bookings/expired"},
		{models.ViewAboveThreshold, "/api/bookings/above-150"},
		{models.ViewBelowThreshold, "/api/bookings/below-150"},
		{models.ViewCompleted, "/api/bookings/admin/completed"},
	}

	for _, tt := range tests {
		t.Run(string(tt.view), func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, tt.path, r.URL.Path)
				assert.Equal(t, "2", r.URL.Query().Get("page"))
				assert.Equal(t, "12", r.URL.Query().Get("limit"))
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				writeEnvelope(w, http.StatusOK, "", map[string]any{
					"bookings":   []map[string]any{{"id": "B1", "status": "pending", "price": 175.5}},
					"pagination": map[string]int{"total": 13, "page": 2, "pages": 2, "limit": 12},
				})
			})

			p, err := c.FetchPage(context.Background(), tt.view, 2, 12)
			require.NoError(t, err)
			require.Len(t, p.Items, 1)
			assert.Equal(t, "B1", p.Items[0].ID)
			assert.InDelta(t, 175.5, p.Items[0].Price.Amount(), 0.001)
			assert.Equal(t, models.Pagination{Total: 13, Page: 2, Pages: 2, Limit: 12}, p.Pagination)
		})
	}

	t.Run("UnknownView", func(t *testing.T) {
		c := NewClient(config.BackendConfig{BaseURL: "http://127.0.0.1:1"}, nil)
		_, err := c.FetchPage(context.Background(), models.View("all"), 1, 12)
		assert.Error(t, err)
	})

	t.Run("EmptyPage", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, "", map[string]any{"pagination": map[string]int{"page": 1}})
		})
		p, err := c.FetchPage(context.Background(), models.ViewLive, 1, 12)
		require.NoError(t, err)
		assert.NotNil(t, p.Items)
		assert.Empty(t, p.Items)
	})
}

func TestPageCache(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/api/bookings/B1/assign-driver":
			writeEnvelope(w, http.StatusOK, "", map[string]any{"booking": map[string]any{"id": "B1", "driverId": "D1"}})
		default:
			writeEnvelope(w, http.StatusOK, "", map[string]any{"bookings": []map[string]any{{"id": "B1"}}})
		}
	})
	ctx := context.Background()

	_, ok := c.CachedPage(ctx, models.ViewAssigned, 1, 12)
	assert.False(t, ok, "no cache configured")

	c.UsePageCache(repository.NewMemoryPageCache(time.Minute))
	_, ok = c.CachedPage(ctx, models.ViewAssigned, 1, 12)
	assert.False(t, ok)

	_, err := c.FetchPage(ctx, models.ViewAssigned, 1, 12)
	require.NoError(t, err)
	cached, ok := c.CachedPage(ctx, models.ViewAssigned, 1, 12)
	require.True(t, ok)
	assert.Equal(t, "B1", cached.Items[0].ID)
	assert.Equal(t, int32(1), hits.Load())

	_, err = c.AssignDriver(ctx, "B1", "D1")
	require.NoError(t, err)
	_, ok = c.CachedPage(ctx, models.ViewAssigned, 1, 12)
	assert.False(t, ok, "mutations drop cached pages")
}

func TestAssignAndUnassign(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		switch r.URL.Path {
		case "/api/bookings/B1/assign-driver":
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"driverId":"D1"}`, string(body))
			writeEnvelope(w, http.StatusOK, "Driver assigned", map[string]any{"booking": map[string]any{"id": "B1", "driverId": "D1", "status": "pending"}})
		case "/api/bookings/B1/unassign-driver":
			writeEnvelope(w, http.StatusOK, "", map[string]any{"booking": map[string]any{"id": "B1", "status": "pending"}})
		case "/api/bookings/B2/assign-driver":
			writeEnvelope(w, http.StatusConflict, "Booking already has a driver", nil)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	ctx := context.Background()

	b, err := c.AssignDriver(ctx, "B1", "D1")
	require.NoError(t, err)
	assert.Equal(t, "D1", b.DriverID)

	b, err = c.UnassignDriver(ctx, "B1")
	require.NoError(t, err)
	assert.Empty(t, b.DriverID)

	_, err = c.AssignDriver(ctx, "B2", "D1")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "Booking already has a driver", apiErr.Message)

	_, err = c.UnassignDriver(ctx, "B3")
	assert.True(t, IsNotFound(err))
	require.True(t, errors.As(err, &apiErr))
	assert.Empty(t, apiErr.Message, "non-JSON error bodies carry no message")
}

func TestNotifications(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/notifications":
			assert.Equal(t, "20", r.URL.Query().Get("limit"))
			assert.Equal(t, "false", r.URL.Query().Get("isRead"))
			writeEnvelope(w, http.StatusOK, "", map[string]any{"notifications": []map[string]any{
				{"id": "n1", "type": "booking-created", "title": "New", "isRead": false, "priority": "medium"},
				{"_id": "n2", "type": "booking-expired", "title": "Expired", "priority": "high", "bookingDetails": map[string]any{"price": "300"}},
			}})
		case r.URL.Path == "/api/notifications/unread-count":
			writeEnvelope(w, http.StatusOK, "", map[string]int{"count": 4})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/notifications/n1/read":
			writeEnvelope(w, http.StatusOK, "", map[string]any{"notification": map[string]any{"id": "n1", "isRead": true}})
		case r.Method == http.MethodPatch && r.URL.Path == "/api/notifications/all/read":
			w.WriteHeader(http.StatusNoContent)
		case r.Method == http.MethodDelete && r.URL.Path == "/api/notifications/n1":
			writeEnvelope(w, http.StatusOK, "Deleted", nil)
		default:
			writeEnvelope(w, http.StatusNotFound, "Notification not found", nil)
		}
	})
	ctx := context.Background()

	list, err := c.ListNotifications(ctx, 20, true)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "n1", list[0].ID)
	assert.Equal(t, "n2", list[1].ID, "legacy _id is accepted")
	assert.Equal(t, models.PriorityHigh, list[1].Priority)
	assert.Equal(t, models.Money("300"), list[1].BookingDetails.Price)

	count, err := c.UnreadCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	assert.NoError(t, c.MarkNotificationRead(ctx, "n1"))
	assert.NoError(t, c.MarkAllNotificationsRead(ctx))
	assert.NoError(t, c.DeleteNotification(ctx, "n1"))

	err = c.DeleteNotification(ctx, "missing")
	assert.True(t, IsNotFound(err))
	assert.Contains(t, err.Error(), "Notification not found")

	assert.Equal(t, []string{
		"GET /api/notifications",
		"GET /api/notifications/unread-count",
		"PATCH /api/notifications/n1/read",
		"PATCH /api/notifications/all/read",
		"DELETE /api/notifications/n1",
		"DELETE /api/notifications/missing",
	}, calls)
}

func TestEnvelopeErrors(t *testing.T) {
	t.Run("ErrorStatusIn2xx", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"error","message":"session expired"}`))
		})
		_, err := c.UnreadCount(context.Background())
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, "session expired", apiErr.Message)
	})

	t.Run("GarbageBody", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`<html>`))
		})
		_, err := c.UnreadCount(context.Background())
		assert.ErrorContains(t, err, "decode response")
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeEnvelope(w, http.StatusOK, "", nil)
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := c.FetchPage(ctx, models.ViewLive, 1, 12)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}

func TestAPIErrorMessage(t *testing.T) {
	assert.Equal(t, "backend: http 500", (&APIError{StatusCode: 500}).Error())
	assert.Equal(t, "backend: http 409: taken", (&APIError{StatusCode: 409, Message: "taken"}).Error())
}
