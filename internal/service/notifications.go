package service

import (
	"context"
	"fmt"

	"taxigate/internal/backend"
	"taxigate/internal/domain"
	"taxigate/internal/models"
	"taxigate/internal/notifications"

	"github.com/rs/zerolog"
)

// NotificationService keeps the local feed in step with the server. Every
// change goes to the server first and reaches the feed only on success or
// when the server does not know a realtime-built entry.
type NotificationService struct {
	backend domain.NotificationBackend
	feed    *notifications.Feed
	limit   int
	logger  *zerolog.Logger
}

func NewNotificationService(b domain.NotificationBackend, feed *notifications.Feed, limit int, logger *zerolog.Logger) *NotificationService {
	if limit <= 0 {
		limit = models.DefaultNotificationLimit
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &NotificationService{
		backend: b,
		feed:    feed,
		limit:   limit,
		logger:  logger,
	}
}

func (s *NotificationService) Feed() *notifications.Feed {
	return s.feed
}

// Load replaces the feed with the server's unread notifications and count.
func (s *NotificationService) Load(ctx context.Context) error {
	list, err := s.backend.ListNotifications(ctx, s.limit, true)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}
	count, err := s.backend.UnreadCount(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("unread count unavailable, counting loaded entries")
		count = 0
		for _, n := range list {
			if !n.IsRead {
				count++
			}
		}
	}
	s.feed.Replace(list, count)
	s.logger.Info().Int("entries", len(list)).Int("unread", count).Msg("notifications loaded")
	return nil
}

// RefreshUnread resynchronizes the unread count with the server.
func (s *NotificationService) RefreshUnread(ctx context.Context) error {
	count, err := s.backend.UnreadCount(ctx)
	if err != nil {
		return fmt.Errorf("unread count: %w", err)
	}
	s.feed.SetUnread(count)
	return nil
}

// MarkRead marks id read on the server, then in the feed. Entries built from
// realtime events may be unknown to the server; its 404 for an entry the feed
// holds is applied locally.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	if err := s.backend.MarkNotificationRead(ctx, id); err != nil && !s.localOnly(id, err) {
		return err
	}
	s.feed.MarkRead(id)
	return nil
}

func (s *NotificationService) MarkAllRead(ctx context.Context) error {
	if err := s.backend.MarkAllNotificationsRead(ctx); err != nil {
		return err
	}
	s.feed.MarkAllRead()
	return nil
}

func (s *NotificationService) Remove(ctx context.Context, id string) error {
	if err := s.backend.DeleteNotification(ctx, id); err != nil && !s.localOnly(id, err) {
		return err
	}
	s.feed.Remove(id)
	return nil
}

func (s *NotificationService) localOnly(id string, err error) bool {
	if !backend.IsNotFound(err) {
		return false
	}
	if _, ok := s.feed.Get(id); !ok {
		return false
	}
	s.logger.Debug().Str("notification_id", id).Msg("notification unknown to server, updating feed only")
	return true
}
