package service

import (
	"errors"

	"taxigate/internal/backend"
)

var (
	ErrDriverRequired  = errors.New("driver is required")
	ErrAlreadyAssigned = errors.New("booking already has a driver")
	ErrBelowThreshold  = errors.New("booking price is not above the admin-assignment threshold")
	ErrNotAssigned     = errors.New("booking has no driver")
	ErrUnknownView     = errors.New("unknown view")
	ErrInvalidPage     = errors.New("page must be at least 1")
)

var userMessages = map[error]string{
	ErrDriverRequired:  "Please select a driver",
	ErrAlreadyAssigned: "This booking already has a driver assigned",
	ErrBelowThreshold:  "Only bookings with price above €150 can be admin-assigned",
	ErrNotAssigned:     "This booking has no driver assigned",
}

// UserMessage turns err into text fit for an operator. Pre-check failures
// have fixed messages, backend rejections carry the server message, and
// anything else falls back to fallback.
func UserMessage(err error, fallback string) string {
	if err == nil {
		return ""
	}
	for sentinel, msg := range userMessages {
		if errors.Is(err, sentinel) {
			return msg
		}
	}
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
