package models

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusAccepted   Status = "accepted"
	StatusStarted    Status = "started"
	StatusPickedUp   Status = "picked_up"
	StatusDroppedOff Status = "dropped_off"
	StatusCompleted  Status = "completed"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether no further lifecycle transitions follow s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type AssignmentType string

const (
	AssignmentAuto  AssignmentType = "auto"
	AssignmentAdmin AssignmentType = "admin"
)

type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type Driver struct {
	ID             string  `json:"id"`
	FirstName      string  `json:"firstName,omitempty"`
	LastName       string  `json:"lastName,omitempty"`
	FullName       string  `json:"fullName,omitempty"`
	Email          string  `json:"email,omitempty"`
	Phone          string  `json:"phone,omitempty"`
	ProfilePicture *string `json:"profilePicture,omitempty"`
	IsOnline       bool    `json:"isOnline,omitempty"`
}

// Booking is the booking as the backend serializes it.
type Booking struct {
	ID                 string         `json:"id"`
	FromLocation       string         `json:"from_location,omitempty"`
	ToLocation         string         `json:"to_location,omitempty"`
	Stop1              string         `json:"stop_1,omitempty"`
	Stop2              string         `json:"stop_2,omitempty"`
	DateTime           string         `json:"date_time,omitempty"`
	ReturnDateTime     string         `json:"return_date_time,omitempty"`
	CategoryTitle      string         `json:"cat_title,omitempty"`
	Price              Money          `json:"price,omitempty"`
	Commission         string         `json:"commission,omitempty"`
	DriverPrice        string         `json:"driverPrice,omitempty"`
	UserName           string         `json:"user_name,omitempty"`
	Email              string         `json:"email,omitempty"`
	Number             string         `json:"number,omitempty"`
	NumPassengers      int            `json:"num_passengers,omitempty"`
	Luggage            string         `json:"luggage,omitempty"`
	NoteDescription    string         `json:"note_description,omitempty"`
	FlightNo           string         `json:"flight_no,omitempty"`
	Distance           string         `json:"distance,omitempty"`
	DriverID           string         `json:"driverId,omitempty"`
	Driver             *Driver        `json:"driver,omitempty"`
	AssignmentType     AssignmentType `json:"assignmentType,omitempty"`
	Status             Status         `json:"status,omitempty"`
	IsAccepted         bool           `json:"isAccepted,omitempty"`
	IsRejected         bool           `json:"isRejected,omitempty"`
	RejectionReason    string         `json:"rejectionReason,omitempty"`
	StartedAt          *time.Time     `json:"startedAt,omitempty"`
	PickedUpAt         *time.Time     `json:"pickedUpAt,omitempty"`
	DroppedOffAt       *time.Time     `json:"droppedOffAt,omitempty"`
	CompletedAt        *time.Time     `json:"completedAt,omitempty"`
	PickupCoordinates  *Coordinates   `json:"pickupCoordinates,omitempty"`
	DropoffCoordinates *Coordinates   `json:"dropoffCoordinates,omitempty"`
	IsPaid             bool           `json:"isPaid,omitempty"`
	ExpiresAt          *time.Time     `json:"expiresAt,omitempty"`
	ExpiredAt          *time.Time     `json:"expiredAt,omitempty"`
	IsExpired          bool           `json:"isExpired,omitempty"`
	CreatedAt          *time.Time     `json:"createdAt,omitempty"`
	UpdatedAt          *time.Time     `json:"updatedAt,omitempty"`
}

// HasDriver reports whether a driver is bound to the booking.
func (b Booking) HasDriver() bool {
	return b.DriverID != "" || (b.Driver != nil && b.Driver.ID != "")
}

// BookingPatch holds the booking fields carried by one event, keyed by their
// JSON names. A JSON null clears the field on Apply.
type BookingPatch map[string]json.RawMessage

// PatchFromBooking builds a patch carrying every field of b.
func PatchFromBooking(b Booking) (BookingPatch, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encode booking: %w", err)
	}
	var patch BookingPatch
	if err := json.Unmarshal(raw, &patch); err != nil {
		return nil, fmt.Errorf("decode booking fields: %w", err)
	}
	return patch, nil
}

// Set stores v under key, encoding it as JSON.
func (p BookingPatch) Set(key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	p[key] = raw
}

// SetDefault stores v only when the patch does not already carry key.
func (p BookingPatch) SetDefault(key string, v any) {
	if _, ok := p[key]; ok {
		return
	}
	p.Set(key, v)
}

func (p BookingPatch) Has(key string) bool {
	_, ok := p[key]
	return ok
}

var (
	bookingFieldsOnce sync.Once
	bookingFields     map[string]struct{}
)

// Known returns the subset of p naming Booking fields.
func (p BookingPatch) Known() BookingPatch {
	bookingFieldsOnce.Do(func() {
		bookingFields = make(map[string]struct{})
		t := reflect.TypeOf(Booking{})
		for i := 0; i < t.NumField(); i++ {
			name, _, _ := strings.Cut(t.Field(i).Tag.Get("json"), ",")
			if name != "" && name != "-" {
				bookingFields[name] = struct{}{}
			}
		}
	})

	out := make(BookingPatch, len(p))
	for k, v := range p {
		if _, ok := bookingFields[k]; ok {
			out[k] = v
		}
	}
	return out
}

// Clone returns a shallow copy; raw values are never mutated in place.
func (p BookingPatch) Clone() BookingPatch {
	out := make(BookingPatch, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Apply returns a copy of b with the patch fields overlaid. Fields absent
// from the patch keep their current value.
func (b Booking) Apply(patch BookingPatch) (Booking, error) {
	if len(patch) == 0 {
		return b, nil
	}
	current, err := PatchFromBooking(b)
	if err != nil {
		return b, err
	}
	for k, v := range patch {
		current[k] = v
	}
	raw, err := json.Marshal(current)
	if err != nil {
		return b, fmt.Errorf("encode merged booking: %w", err)
	}
	var merged Booking
	if err := json.Unmarshal(raw, &merged); err != nil {
		return b, fmt.Errorf("decode merged booking: %w", err)
	}
	return merged, nil
}
