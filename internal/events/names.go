package events

// Event names published on the admin channel.
const (
	EventBookingCreated       = "booking-created"
	EventBookingCreatedAdmin  = "booking-created-admin"
	EventLiveBookingAdded     = "live-booking-added"
	EventLiveBookingRemoved   = "live-booking-removed"
	EventLiveBookingUpdated   = "live-booking-updated"
	EventBookingTaken         = "booking-taken"
	EventBookingAssigned      = "booking-assigned"
	EventBookingAcceptedAdmin = "booking-accepted-admin"
	EventBookingRejectedAdmin = "booking-rejected-admin"
	EventBookingStarted       = "booking-started"
	EventBookingPickedUp      = "booking-picked-up"
	EventBookingDroppedOff    = "booking-dropped-off"
	EventBookingCompleted     = "booking-completed"
	EventBookingExpiredAdmin  = "booking-expired-admin"
	EventBookingCancelled     = "booking-cancelled"
)

// BookingEvents lists every booking event the dashboard consumes.
func BookingEvents() []string {
	return []string{
		EventBookingCreated,
		EventBookingCreatedAdmin,
		EventLiveBookingAdded,
		EventLiveBookingRemoved,
		EventLiveBookingUpdated,
		EventBookingTaken,
		EventBookingAssigned,
		EventBookingAcceptedAdmin,
		EventBookingRejectedAdmin,
		EventBookingStarted,
		EventBookingPickedUp,
		EventBookingDroppedOff,
		EventBookingCompleted,
		EventBookingExpiredAdmin,
		EventBookingCancelled,
	}
}
