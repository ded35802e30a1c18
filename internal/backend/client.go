package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"taxigate/internal/config"
	"taxigate/internal/domain"
	"taxigate/internal/models"

	"github.com/rs/zerolog"
)

// APIError is a non-2xx answer from the backend. Message carries the
// server's own explanation when it sent one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend: http %d", e.StatusCode)
	}
	return fmt.Sprintf("backend: http %d: %s", e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the backend.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

var viewPaths = map[models.View]string{
	models.ViewLive:           "/api/bookings/live",
	models.ViewAssigned:       "/api/bookings/admin-assigned",
	models.ViewExpired:        "/api/bookings/expired",
	models.ViewAboveThreshold: "/api/bookings/above-150",
	models.ViewBelowThreshold: "/api/bookings/below-150",
	models.ViewCompleted:      "/api/bookings/admin/completed",
}

// envelope is the backend's response wrapper.
type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// Client calls the dashboard REST API. Page reads may be memoized in an
// optional page cache.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     zerolog.Logger

	cache domain.PageCache
}

var _ domain.Backend = (*Client)(nil)

func NewClient(cfg config.BackendConfig, logger *zerolog.Logger) *Client {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "backend").Logger()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     l,
	}
}

// UsePageCache configures optional caching of page reads.
func (c *Client) UsePageCache(cache domain.PageCache) {
	c.cache = cache
}

// FetchPage always asks the backend and refreshes the page cache with the
// answer.
func (c *Client) FetchPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	path, ok := viewPaths[view]
	if !ok {
		return nil, fmt.Errorf("unknown view %q", view)
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))

	var p models.Page
	if err := c.doJSON(ctx, http.MethodGet, path+"?"+q.Encode(), nil, &p); err != nil {
		return nil, fmt.Errorf("fetch %s page %d: %w", view, page, err)
	}
	if p.Items == nil {
		p.Items = []models.Booking{}
	}
	c.writeCache(ctx, view, page, limit, &p)
	return &p, nil
}

// CachedPage returns a memoized page without touching the backend.
func (c *Client) CachedPage(ctx context.Context, view models.View, page, limit int) (*models.Page, bool) {
	if c.cache == nil {
		return nil, false
	}
	p, err := c.cache.GetPage(ctx, view, page, limit)
	if err != nil {
		c.logger.Debug().Err(err).Str("view", string(view)).Msg("page cache read failed")
		return nil, false
	}
	return p, p != nil
}

func (c *Client) writeCache(ctx context.Context, view models.View, page, limit int, p *models.Page) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetPage(ctx, view, page, limit, p); err != nil {
		c.logger.Debug().Err(err).Str("view", string(view)).Msg("page cache write failed")
	}
}

// dropCachedPages forgets every memoized page after a mutation.
func (c *Client) dropCachedPages(ctx context.Context) {
	if c.cache == nil {
		return
	}
	for _, view := range models.AllViews() {
		if err := c.cache.InvalidateView(ctx, view); err != nil {
			c.logger.Debug().Err(err).Str("view", string(view)).Msg("page cache invalidation failed")
		}
	}
}

func (c *Client) AssignDriver(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	var out struct {
		Booking *models.Booking `json:"booking"`
	}
	body := map[string]string{"driverId": driverID}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/bookings/"+url.PathEscape(bookingID)+"/assign-driver", body, &out); err != nil {
		return nil, fmt.Errorf("assign driver to %s: %w", bookingID, err)
	}
	c.dropCachedPages(ctx)
	return out.Booking, nil
}

func (c *Client) UnassignDriver(ctx context.Context, bookingID string) (*models.Booking, error) {
	var out struct {
		Booking *models.Booking `json:"booking"`
	}
	if err := c.doJSON(ctx, http.MethodPatch, "/api/bookings/"+url.PathEscape(bookingID)+"/unassign-driver", nil, &out); err != nil {
		return nil, fmt.Errorf("unassign driver from %s: %w", bookingID, err)
	}
	c.dropCachedPages(ctx)
	return out.Booking, nil
}

// wireNotification accepts the legacy _id field some backend versions send
// instead of id.
type wireNotification struct {
	models.Notification
	LegacyID string `json:"_id"`
}

func (w wireNotification) normalize() models.Notification {
	n := w.Notification
	if n.ID == "" {
		n.ID = w.LegacyID
	}
	return n
}

func (c *Client) ListNotifications(ctx context.Context, limit int, unreadOnly bool) ([]models.Notification, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if unreadOnly {
		q.Set("isRead", "false")
	}
	path := "/api/notifications"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out struct {
		Notifications []wireNotification `json:"notifications"`
	}
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	list := make([]models.Notification, 0, len(out.Notifications))
	for _, w := range out.Notifications {
		list = append(list, w.normalize())
	}
	return list, nil
}

func (c *Client) UnreadCount(ctx context.Context) (int, error) {
	var out struct {
		Count int `json:"count"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/api/notifications/unread-count", nil, &out); err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return out.Count, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodPatch, "/api/notifications/"+url.PathEscape(id)+"/read", nil, nil); err != nil {
		return fmt.Errorf("mark notification %s read: %w", id, err)
	}
	return nil
}

func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	if err := c.doJSON(ctx, http.MethodPatch, "/api/notifications/all/read", nil, nil); err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}

func (c *Client) DeleteNotification(ctx context.Context, id string) error {
	if err := c.doJSON(ctx, http.MethodDelete, "/api/notifications/"+url.PathEscape(id), nil, nil); err != nil {
		return fmt.Errorf("delete notification %s: %w", id, err)
	}
	return nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.addHeaders(req)
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("backend request")

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if decodeErr == nil {
			apiErr.Message = env.Message
		}
		return apiErr
	}
	if decodeErr != nil {
		if len(bytes.TrimSpace(raw)) == 0 && out == nil {
			return nil
		}
		return fmt.Errorf("decode response: %w", decodeErr)
	}
	if env.Status == "error" || env.Status == "fail" {
		return &APIError{StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func (c *Client) addHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}
