package domain

import (
	"context"

	"taxigate/internal/models"
)

// PageCache memoizes backend pages of a view. A miss returns nil, nil.
type PageCache interface {
	GetPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error)
	SetPage(ctx context.Context, view models.View, page, limit int, p *models.Page) error
	InvalidateView(ctx context.Context, view models.View) error
}

// BookingBackend is the booking half of the dashboard REST API.
type BookingBackend interface {
	FetchPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error)
	AssignDriver(ctx context.Context, bookingID, driverID string) (*models.Booking, error)
	UnassignDriver(ctx context.Context, bookingID string) (*models.Booking, error)
}

// NotificationBackend is the notification half of the dashboard REST API.
type NotificationBackend interface {
	ListNotifications(ctx context.Context, limit int, unreadOnly bool) ([]models.Notification, error)
	UnreadCount(ctx context.Context) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context) error
	DeleteNotification(ctx context.Context, id string) error
}

// Backend is the full REST API used by the sync layer.
type Backend interface {
	BookingBackend
	NotificationBackend
}
