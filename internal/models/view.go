package models

// View names an independently cached slice of bookings.
type View string

const (
	ViewLive           View = "live"
	ViewAssigned       View = "assigned"
	ViewExpired        View = "expired"
	ViewAboveThreshold View = "above-threshold"
	ViewBelowThreshold View = "below-threshold"
	ViewCompleted      View = "completed"
)

// AllViews lists every view in display order.
func AllViews() []View {
	return []View{
		ViewLive,
		ViewAssigned,
		ViewExpired,
		ViewAboveThreshold,
		ViewBelowThreshold,
		ViewCompleted,
	}
}

// ActiveViews hold only bookings that have not reached a terminal status.
func ActiveViews() []View {
	return []View{ViewLive, ViewAssigned, ViewExpired}
}

func (v View) Valid() bool {
	for _, known := range AllViews() {
		if v == known {
			return true
		}
	}
	return false
}

// PushDriven views are fed by realtime events rather than server pages.
func (v View) PushDriven() bool {
	return v == ViewLive
}

// Active reports whether v drops bookings once they become terminal.
func (v View) Active() bool {
	switch v {
	case ViewLive, ViewAssigned, ViewExpired:
		return true
	}
	return false
}

// IsLive reports whether b belongs on the live board.
func IsLive(b Booking) bool {
	return b.Status == StatusPending && !b.IsExpired && !b.HasDriver()
}

// Admits reports whether b satisfies the membership predicate of view.
func Admits(view View, b Booking, threshold float64) bool {
	switch view {
	case ViewLive:
		return IsLive(b)
	case ViewAssigned:
		return b.HasDriver() && !b.Status.Terminal()
	case ViewExpired:
		return b.IsExpired && !b.Status.Terminal()
	case ViewAboveThreshold:
		return b.Price.Amount() > threshold
	case ViewBelowThreshold:
		return b.Price.Amount() <= threshold
	case ViewCompleted:
		return b.Status == StatusCompleted
	}
	return false
}

// ThresholdView returns the price-threshold view b falls into.
func ThresholdView(b Booking, threshold float64) View {
	if b.Price.Amount() > threshold {
		return ViewAboveThreshold
	}
	return ViewBelowThreshold
}

// Pagination mirrors the backend pagination block.
type Pagination struct {
	Total int `json:"total"`
	Page  int `json:"page"`
	Pages int `json:"pages"`
	Limit int `json:"limit"`
}

// Page is one server page of bookings.
type Page struct {
	Items      []Booking  `json:"bookings"`
	Pagination Pagination `json:"pagination"`
}
