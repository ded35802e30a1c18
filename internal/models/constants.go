package models

import "time"

const (
	// DefaultPriceThreshold separates the above/below price views. Only
	// bookings above it may be admin-assigned.
	DefaultPriceThreshold = 150.0

	// DefaultPageSize is the page size used for server-paginated views.
	DefaultPageSize = 12

	// DefaultNotificationLimit caps the notification feed.
	DefaultNotificationLimit = 20

	// DefaultDedupeWindow is how long a (booking, type) pair suppresses repeats.
	DefaultDedupeWindow = 5 * time.Minute

	// DefaultChannel is the realtime channel carrying admin events.
	DefaultChannel = "admin"

	// ClientIDPrefix prefixes the authenticated admin id on the realtime connection.
	ClientIDPrefix = "admin-"

	// BookingExpiryWindow is how long the server keeps an untaken booking live.
	// Informational only: expiry is learned from pushed fields.
	BookingExpiryWindow = 5 * time.Minute
)
