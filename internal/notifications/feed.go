package notifications

import (
	"context"
	"sync"
	"time"

	"taxigate/internal/metrics"
	"taxigate/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Alerter delivers an advisory cue for a new notification.
type Alerter interface {
	Alert(ctx context.Context, n models.Notification) error
}

// AlertFunc adapts a function to Alerter.
type AlertFunc func(ctx context.Context, n models.Notification) error

func (f AlertFunc) Alert(ctx context.Context, n models.Notification) error {
	return f(ctx, n)
}

const alertTimeout = 5 * time.Second

// Feed is the bounded, most-recent-first notification list. A push that
// repeats the (booking, type) pair of one accepted within the dedupe window
// is dropped.
type Feed struct {
	limit   int
	window  time.Duration
	alerter Alerter
	logger  zerolog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries []models.Notification
	unread  int
	seen    map[string]time.Time
}

func NewFeed(limit int, window time.Duration, alerter Alerter, logger *zerolog.Logger) *Feed {
	if limit <= 0 {
		limit = models.DefaultNotificationLimit
	}
	if window <= 0 {
		window = models.DefaultDedupeWindow
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notifications").Logger()
	}
	return &Feed{
		limit:   limit,
		window:  window,
		alerter: alerter,
		logger:  l,
		now:     time.Now,
		seen:    make(map[string]time.Time),
	}
}

func dedupeKey(n models.Notification) string {
	if n.BookingID == "" {
		return "id:" + n.ID
	}
	return n.BookingID + "|" + string(n.Type)
}

// Push adds n at the head of the feed and reports whether it was accepted.
// Missing id, timestamps and priority are filled in. An id already held by
// another entry is prefixed with the entry type.
func (f *Feed) Push(n models.Notification) bool {
	now := f.now()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
	}
	if n.Priority == "" {
		n.Priority = models.PriorityMedium
	}
	n.IsRead = false
	key := dedupeKey(n)

	f.mu.Lock()
	f.pruneLocked(now)
	if f.duplicateLocked(key, now) {
		f.mu.Unlock()
		metrics.IncNotification(string(n.Type), "duplicate")
		f.logger.Debug().Str("type", string(n.Type)).Str("booking_id", n.BookingID).Msg("duplicate notification dropped")
		return false
	}

	f.seen[key] = now
	if f.indexLocked(n.ID) >= 0 {
		n.ID = string(n.Type) + "-" + n.ID
		if f.indexLocked(n.ID) >= 0 {
			n.ID = uuid.NewString()
		}
	}
	entries := make([]models.Notification, 0, len(f.entries)+1)
	entries = append(entries, n)
	entries = append(entries, f.entries...)
	if len(entries) > f.limit {
		entries = entries[:f.limit]
	}
	f.entries = entries
	f.unread++
	unread := f.unread
	f.mu.Unlock()

	metrics.IncNotification(string(n.Type), "added")
	metrics.SetUnread(unread)
	f.alert(n)
	return true
}

func (f *Feed) duplicateLocked(key string, now time.Time) bool {
	if at, ok := f.seen[key]; ok && now.Sub(at) < f.window {
		return true
	}
	for _, e := range f.entries {
		if dedupeKey(e) == key && now.Sub(e.CreatedAt) < f.window {
			return true
		}
	}
	return false
}

func (f *Feed) pruneLocked(now time.Time) {
	for key, at := range f.seen {
		if now.Sub(at) >= f.window {
			delete(f.seen, key)
		}
	}
}

func (f *Feed) alert(n models.Notification) {
	if f.alerter == nil {
		return
	}
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				f.logger.Debug().Interface("panic", rec).Msg("notification alert panicked")
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), alertTimeout)
		defer cancel()
		if err := f.alerter.Alert(ctx, n); err != nil {
			f.logger.Debug().Err(err).Str("notification_id", n.ID).Msg("notification alert failed")
		}
	}()
}

// MarkRead flags the entry with id as read. It reports false when no unread
// entry has that id.
func (f *Feed) MarkRead(id string) bool {
	f.mu.Lock()
	i := f.indexLocked(id)
	if i < 0 || f.entries[i].IsRead {
		f.mu.Unlock()
		return false
	}
	entries := make([]models.Notification, len(f.entries))
	copy(entries, f.entries)
	entries[i].IsRead = true
	entries[i].UpdatedAt = f.now()
	f.entries = entries
	f.decrementLocked()
	unread := f.unread
	f.mu.Unlock()

	metrics.SetUnread(unread)
	return true
}

// MarkAllRead flags every entry as read and zeroes the unread count.
func (f *Feed) MarkAllRead() {
	now := f.now()
	f.mu.Lock()
	entries := make([]models.Notification, len(f.entries))
	copy(entries, f.entries)
	for i := range entries {
		if !entries[i].IsRead {
			entries[i].IsRead = true
			entries[i].UpdatedAt = now
		}
	}
	f.entries = entries
	f.unread = 0
	f.mu.Unlock()

	metrics.SetUnread(0)
}

// Remove deletes the entry with id.
func (f *Feed) Remove(id string) bool {
	f.mu.Lock()
	i := f.indexLocked(id)
	if i < 0 {
		f.mu.Unlock()
		return false
	}
	wasUnread := !f.entries[i].IsRead
	entries := make([]models.Notification, 0, len(f.entries)-1)
	entries = append(entries, f.entries[:i]...)
	entries = append(entries, f.entries[i+1:]...)
	f.entries = entries
	if wasUnread {
		f.decrementLocked()
	}
	unread := f.unread
	f.mu.Unlock()

	metrics.SetUnread(unread)
	return true
}

// Replace loads entries and the unread count from the server. Entries
// beyond the limit are dropped.
func (f *Feed) Replace(entries []models.Notification, unread int) {
	if len(entries) > f.limit {
		entries = entries[:f.limit]
	}
	next := make([]models.Notification, len(entries))
	copy(next, entries)
	if unread < 0 {
		unread = 0
	}

	f.mu.Lock()
	f.entries = next
	f.unread = unread
	f.mu.Unlock()

	metrics.SetUnread(unread)
}

// SetUnread overrides the unread count with the server value.
func (f *Feed) SetUnread(n int) {
	if n < 0 {
		n = 0
	}
	f.mu.Lock()
	f.unread = n
	f.mu.Unlock()
	metrics.SetUnread(n)
}

func (f *Feed) UnreadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unread
}

// Entries returns a copy of the feed, most recent first.
func (f *Feed) Entries() []models.Notification {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Notification, len(f.entries))
	copy(out, f.entries)
	return out
}

func (f *Feed) Get(id string) (models.Notification, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if i := f.indexLocked(id); i >= 0 {
		return f.entries[i], true
	}
	return models.Notification{}, false
}

func (f *Feed) indexLocked(id string) int {
	for i := range f.entries {
		if f.entries[i].ID == id {
			return i
		}
	}
	return -1
}

func (f *Feed) decrementLocked() {
	if f.unread > 0 {
		f.unread--
	}
}
