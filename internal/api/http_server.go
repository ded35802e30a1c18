package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"taxigate/internal/backend"
	"taxigate/internal/cache"
	"taxigate/internal/config"
	"taxigate/internal/metrics"
	"taxigate/internal/models"
	"taxigate/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-ID"

// HTTPServer exposes the synchronized views, the notification feed and
// driver assignment to local consumers.
type HTTPServer struct {
	cfg     config.APIConfig
	session *service.Session
	assign  *service.AssignmentService
	logger  *zerolog.Logger
	server  *http.Server
	auth    *HTTPAuth
}

func NewHTTPServer(cfg config.APIConfig, session *service.Session, assign *service.AssignmentService, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{cfg: cfg, session: session, assign: assign, logger: &l}
	srv.auth = NewHTTPAuth(cfg)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/v1/status", srv.handleStatus)
	api.HandleFunc("POST /api/v1/session/user", srv.handleSwitchUser)
	api.HandleFunc("GET /api/v1/views/{view}", srv.handleView)
	api.HandleFunc("POST /api/v1/views/{view}/activate", srv.handleActivate)
	api.HandleFunc("POST /api/v1/views/{view}/page", srv.handlePage)
	api.HandleFunc("POST /api/v1/views/{view}/refresh", srv.handleRefresh)
	api.HandleFunc("GET /api/v1/notifications", srv.handleNotifications)
	api.HandleFunc("POST /api/v1/notifications/read-all", srv.handleReadAll)
	api.HandleFunc("POST /api/v1/notifications/{id}/read", srv.handleRead)
	api.HandleFunc("DELETE /api/v1/notifications/{id}", srv.handleDelete)
	api.HandleFunc("POST /api/v1/bookings/{id}/assign", srv.handleAssign)
	api.HandleFunc("POST /api/v1/bookings/{id}/unassign", srv.handleUnassign)

	root := http.NewServeMux()
	root.HandleFunc("GET /healthz", srv.handleHealth)
	root.Handle("/api/", srv.auth.Wrap(api))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.loggingMiddleware(root),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      15 * time.Second,
	}

	return srv
}

// Handler returns the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": s.session.Status().Connected,
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Status())
}

// handleSwitchUser moves the realtime session to another admin identity.
func (s *HTTPServer) handleSwitchUser(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	userID := strings.TrimSpace(body.UserID)
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	s.session.SwitchUser(userID)
	s.logger.Info().Str("user_id", userID).Msg("session user switched")
	writeJSON(w, http.StatusOK, s.session.Status())
}

type viewResponse struct {
	cache.Snapshot
	State service.ViewState `json:"state"`
}

func (s *HTTPServer) handleView(w http.ResponseWriter, r *http.Request) {
	view := models.View(r.PathValue("view"))
	snap, ok := s.session.Store().Read(view)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown view")
		return
	}
	state, _ := s.session.Views().State(view)
	writeJSON(w, http.StatusOK, viewResponse{Snapshot: snap, State: state})
}

func (s *HTTPServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	view := models.View(r.PathValue("view"))
	if err := s.session.Views().SetActive(view); err != nil {
		s.writeServiceError(w, err, "failed to activate view")
		return
	}
	state, _ := s.session.Views().State(view)
	writeJSON(w, http.StatusAccepted, state)
}

func (s *HTTPServer) handlePage(w http.ResponseWriter, r *http.Request) {
	view := models.View(r.PathValue("view"))

	var body struct {
		Page int `json:"page"`
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		page, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "page must be a number")
			return
		}
		body.Page = page
	} else if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.session.Views().SetPage(view, body.Page); err != nil {
		s.writeServiceError(w, err, "failed to change page")
		return
	}
	state, _ := s.session.Views().State(view)
	writeJSON(w, http.StatusAccepted, state)
}

func (s *HTTPServer) handleRefresh(w http.ResponseWriter, r *http.Request) {
	view := models.View(r.PathValue("view"))
	if _, ok := s.session.Views().State(view); !ok {
		writeError(w, http.StatusNotFound, "unknown view")
		return
	}
	s.session.Views().Refetch(view)
	state, _ := s.session.Views().State(view)
	writeJSON(w, http.StatusAccepted, state)
}

func (s *HTTPServer) handleNotifications(w http.ResponseWriter, r *http.Request) {
	feed := s.session.Notifications().Feed()
	entries := feed.Entries()
	if r.URL.Query().Get("unread") == "true" {
		unread := make([]models.Notification, 0, len(entries))
		for _, n := range entries {
			if !n.IsRead {
				unread = append(unread, n)
			}
		}
		entries = unread
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"notifications": entries,
		"unreadCount":   feed.UnreadCount(),
	})
}

func (s *HTTPServer) handleRead(w http.ResponseWriter, r *http.Request) {
	notes := s.session.Notifications()
	if err := notes.MarkRead(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err, "Failed to mark notification as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": notes.Feed().UnreadCount()})
}

func (s *HTTPServer) handleReadAll(w http.ResponseWriter, r *http.Request) {
	notes := s.session.Notifications()
	if err := notes.MarkAllRead(r.Context()); err != nil {
		s.writeServiceError(w, err, "Failed to mark all notifications as read")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": notes.Feed().UnreadCount()})
}

func (s *HTTPServer) handleDelete(w http.ResponseWriter, r *http.Request) {
	notes := s.session.Notifications()
	if err := notes.Remove(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err, "Failed to delete notification")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"unreadCount": notes.Feed().UnreadCount()})
}

func (s *HTTPServer) handleAssign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DriverID string `json:"driverId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	booking, err := s.assign.Assign(r.Context(), r.PathValue("id"), body.DriverID)
	if err != nil {
		s.writeServiceError(w, err, "Failed to assign driver")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Driver assigned successfully", "booking": booking})
}

func (s *HTTPServer) handleUnassign(w http.ResponseWriter, r *http.Request) {
	booking, err := s.assign.Unassign(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err, "Failed to unassign driver")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Driver unassigned successfully", "booking": booking})
}

// writeServiceError maps service and backend errors to HTTP answers.
func (s *HTTPServer) writeServiceError(w http.ResponseWriter, err error, fallback string) {
	status := http.StatusBadGateway
	message := service.UserMessage(err, fallback)
	var apiErr *backend.APIError
	switch {
	case errors.Is(err, service.ErrUnknownView):
		status = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, service.ErrInvalidPage):
		status = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, service.ErrDriverRequired):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrAlreadyAssigned), errors.Is(err, service.ErrNotAssigned):
		status = http.StatusConflict
	case errors.Is(err, service.ErrBelowThreshold):
		status = http.StatusUnprocessableEntity
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500:
		status = apiErr.StatusCode
	}
	if status >= 500 {
		s.logger.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, message)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)
		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func decodeBody(r *http.Request, out any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(out)
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
