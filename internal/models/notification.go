package models

import "time"

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

type NotificationType string

const (
	NotificationBookingCreated       NotificationType = "booking-created"
	NotificationBookingAssigned      NotificationType = "booking-assigned"
	NotificationBookingAcceptedAdmin NotificationType = "booking-accepted-admin"
	NotificationBookingRejectedAdmin NotificationType = "booking-rejected-admin"
	NotificationBookingCompleted     NotificationType = "booking-completed"
	NotificationBookingExpired       NotificationType = "booking-expired"
	NotificationBookingCancelled     NotificationType = "booking-cancelled"
	NotificationSystem               NotificationType = "system"
)

// BookingSummary is the booking excerpt shown next to a notification.
type BookingSummary struct {
	FromLocation    string     `json:"from_location,omitempty"`
	ToLocation      string     `json:"to_location,omitempty"`
	Price           Money      `json:"price,omitempty"`
	UserName        string     `json:"user_name,omitempty"`
	Email           string     `json:"email,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	DriverID        string     `json:"driverId,omitempty"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
}

type Notification struct {
	ID             string           `json:"id"`
	Type           NotificationType `json:"type"`
	Title          string           `json:"title"`
	Message        string           `json:"message"`
	BookingID      string           `json:"bookingId,omitempty"`
	BookingDetails *BookingSummary  `json:"bookingDetails,omitempty"`
	IsRead         bool             `json:"isRead"`
	Priority       Priority         `json:"priority"`
	Data           map[string]any   `json:"data,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}
