package notifications

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"taxigate/internal/events"
	"taxigate/internal/models"
	"taxigate/internal/realtime"

	"github.com/rs/zerolog"
)

// Listener turns booking events into feed entries.
type Listener struct {
	feed   *Feed
	logger zerolog.Logger
}

func NewListener(feed *Feed, logger *zerolog.Logger) *Listener {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "notifications").Logger()
	}
	return &Listener{feed: feed, logger: l}
}

// NotifyingEvents lists the events that produce a notification.
func NotifyingEvents() []string {
	return []string{
		events.EventBookingCreated,
		events.EventBookingCreatedAdmin,
		events.EventBookingAssigned,
		events.EventBookingAcceptedAdmin,
		events.EventBookingRejectedAdmin,
		events.EventBookingCompleted,
		events.EventBookingExpiredAdmin,
		events.EventBookingCancelled,
	}
}

// Subscribe registers the listener for every notifying event.
func (l *Listener) Subscribe(reg *events.Registry) func() {
	disposers := make([]func(), 0, len(NotifyingEvents()))
	for _, event := range NotifyingEvents() {
		disposers = append(disposers, reg.Subscribe(event, l))
	}
	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}

func (l *Listener) Handle(msg realtime.Message) {
	n, ok, err := Build(msg.Name, msg.Data)
	if err != nil {
		l.logger.Warn().Err(err).Str("event", msg.Name).Msg("notification payload dropped")
		return
	}
	if !ok {
		return
	}
	l.feed.Push(n)
}

// payload reads fields from the top level first and then from a nested
// "booking" object.
type payload struct {
	top    map[string]any
	nested map[string]any
}

func (p payload) value(key string) (any, bool) {
	if v, ok := p.top[key]; ok && v != nil {
		return v, true
	}
	if v, ok := p.nested[key]; ok && v != nil {
		return v, true
	}
	return nil, false
}

func (p payload) str(key string) string {
	v, ok := p.value(key)
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func (p payload) or(fallback string, keys ...string) string {
	for _, k := range keys {
		if s := p.str(k); s != "" {
			return s
		}
	}
	return fallback
}

func (p payload) route() string {
	return fmt.Sprintf("from %s to %s", p.str("from_location"), p.str("to_location"))
}

func (p payload) summary() *models.BookingSummary {
	return &models.BookingSummary{
		FromLocation: p.str("from_location"),
		ToLocation:   p.str("to_location"),
		Price:        models.Money(p.str("price")),
		UserName:     p.str("user_name"),
		Email:        p.str("email"),
	}
}

// Build maps a booking event to a notification. ok is false for events
// that do not notify.
func Build(event string, data json.RawMessage) (n models.Notification, ok bool, err error) {
	var top map[string]any
	if err := json.Unmarshal(data, &top); err != nil {
		return n, false, fmt.Errorf("%s: %w: %v", event, events.ErrMalformedPayload, err)
	}
	if top == nil {
		return n, false, fmt.Errorf("%s: %w: empty", event, events.ErrMalformedPayload)
	}
	p := payload{top: top}
	if nested, isMap := top["booking"].(map[string]any); isMap {
		p.nested = nested
	}

	n = models.Notification{
		BookingID: p.or("", bookingIDKeys(event)...),
		Data:      top,
		Priority:  models.Priority(p.str("priority")),
	}
	// Entries share the server's id space; Feed.Push resolves clashes.
	n.ID = n.BookingID
	details := p.summary()
	var priority models.Priority

	switch event {
	case events.EventBookingCreated, events.EventBookingCreatedAdmin:
		n.Type = models.NotificationBookingCreated
		n.Title = p.or("New Booking Created", "title")
		n.Message = p.or(fmt.Sprintf("A new booking %s has been created.", p.route()), "message")
		priority = models.PriorityMedium

	case events.EventBookingAssigned:
		n.Type = models.NotificationBookingAssigned
		n.Title = p.or("Booking Assigned to Driver", "title")
		n.Message = p.or(fmt.Sprintf("Booking %s has been assigned to a driver.", p.route()), "message")
		details.DriverID = p.str("assignedTo")
		priority = models.PriorityMedium

	case events.EventBookingAcceptedAdmin:
		n.Type = models.NotificationBookingAcceptedAdmin
		n.Title = p.or("Driver Accepted Assigned Booking", "title")
		n.Message = p.or(fmt.Sprintf("Driver accepted the admin-assigned booking %s.", p.route()), "message")
		details.DriverID = p.str("acceptedBy")
		priority = models.PriorityHigh

	case events.EventBookingRejectedAdmin:
		n.Type = models.NotificationBookingRejectedAdmin
		n.Title = p.or("Driver Rejected Assigned Booking", "title")
		reason := p.str("rejectionReason")
		suffix := ""
		if reason != "" {
			suffix = " Reason: " + reason
		}
		n.Message = p.or(fmt.Sprintf("Driver rejected the admin-assigned booking %s.%s", p.route(), suffix), "message")
		details.DriverID = p.str("rejectedBy")
		details.RejectionReason = reason
		priority = models.PriorityHigh

	case events.EventBookingCompleted:
		n.Type = models.NotificationBookingCompleted
		n.Title = p.or("Booking Completed", "title")
		n.Message = p.or(fmt.Sprintf("Booking %s has been completed%s.", p.route(), driverInfo(p)), "message", "detailedMessage")
		if at, err := time.Parse(time.RFC3339, p.str("completedAt")); err == nil {
			details.CompletedAt = &at
		}
		priority = models.PriorityMedium

	case events.EventBookingExpiredAdmin:
		n.Type = models.NotificationBookingExpired
		n.Title = p.or("Booking Expired - Manual Assignment Required", "message")
		n.Message = p.or("A booking has expired and requires manual assignment.", "detailedMessage", "message")
		if explicit := explicitSummary(top["bookingDetails"]); explicit != nil {
			details = explicit
		}
		priority = models.PriorityHigh

	case events.EventBookingCancelled:
		n.Type = models.NotificationBookingCancelled
		n.Title = p.or("Booking Cancelled", "title")
		n.Message = p.or(fmt.Sprintf("Booking %s has been cancelled.", p.route()), "message")
		priority = models.PriorityMedium

	default:
		return models.Notification{}, false, nil
	}

	if n.Priority == "" {
		n.Priority = priority
	}
	n.BookingDetails = details
	return n, true, nil
}

// bookingIDKeys lists where the booking id is read from. Creation and expiry
// payloads carry their own id next to bookingId.
func bookingIDKeys(event string) []string {
	switch event {
	case events.EventBookingCreated, events.EventBookingCreatedAdmin, events.EventBookingExpiredAdmin:
		return []string{"bookingId", "id"}
	}
	return []string{"id", "bookingId"}
}

func driverInfo(p payload) string {
	driver, ok := p.value("driver")
	if !ok {
		return ""
	}
	d, isMap := driver.(map[string]any)
	if !isMap {
		return ""
	}
	dp := payload{top: d}
	return fmt.Sprintf(" by %s (%s)", dp.or("Driver", "name", "fullName"), dp.or("N/A", "phone"))
}

func explicitSummary(v any) *models.BookingSummary {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	return payload{top: m}.summary()
}
