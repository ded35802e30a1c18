package notifications

import (
	"context"

	"taxigate/internal/models"

	"github.com/rs/zerolog"
)

// LogAlerter writes each new notification to the log. High and urgent
// entries are logged at warn level so they stand out.
type LogAlerter struct {
	Logger *zerolog.Logger
}

func (a LogAlerter) Alert(_ context.Context, n models.Notification) error {
	if a.Logger == nil {
		return nil
	}
	ev := a.Logger.Info()
	if n.Priority == models.PriorityHigh || n.Priority == models.PriorityUrgent {
		ev = a.Logger.Warn()
	}
	ev.Str("component", "alert").
		Str("notification_id", n.ID).
		Str("type", string(n.Type)).
		Str("booking_id", n.BookingID).
		Str("priority", string(n.Priority)).
		Msg(n.Title)
	return nil
}
