package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"taxigate/internal/models"
)

var (
	ErrMissingID        = errors.New("event payload has no booking id")
	ErrMalformedPayload = errors.New("malformed event payload")
)

// Envelope is the canonical form of one booking event: the booking id, the
// booking fields the event carries and the decoded payload for consumers
// that read presentation fields such as title or message.
type Envelope struct {
	Event string
	ID    string
	Patch models.BookingPatch
	Raw   map[string]any
}

type adapter func(fields models.BookingPatch, top map[string]json.RawMessage)

var adapters = map[string]adapter{
	EventBookingCreated:       pending,
	EventBookingCreatedAdmin:  pending,
	EventLiveBookingAdded:     pending,
	EventLiveBookingRemoved:   nil,
	EventLiveBookingUpdated:   nil,
	EventBookingTaken:         nil,
	EventBookingAssigned:      assigned,
	EventBookingAcceptedAdmin: acceptedByDriver,
	EventBookingRejectedAdmin: rejectedByDriver,
	EventBookingStarted:       withStatus(models.StatusStarted),
	EventBookingPickedUp:      withStatus(models.StatusPickedUp),
	EventBookingDroppedOff:    withStatus(models.StatusDroppedOff),
	EventBookingCompleted:     withStatus(models.StatusCompleted),
	EventBookingExpiredAdmin:  expired,
	EventBookingCancelled:     withStatus(models.StatusCancelled),
}

// Normalize decodes the payload of event into an Envelope. The booking may
// sit at the top level or nested under "booking"; the id comes from "id",
// falling back to "bookingId".
func Normalize(event string, data json.RawMessage) (Envelope, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return Envelope{}, fmt.Errorf("%s: %w: empty", event, ErrMalformedPayload)
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return Envelope{}, fmt.Errorf("%s: %w: %v", event, ErrMalformedPayload, err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Envelope{}, fmt.Errorf("%s: %w: %v", event, ErrMalformedPayload, err)
	}

	fields := models.BookingPatch{}
	if nested, ok := top["booking"]; ok && isObject(nested) {
		if err := json.Unmarshal(nested, &fields); err != nil {
			return Envelope{}, fmt.Errorf("%s: %w: booking: %v", event, ErrMalformedPayload, err)
		}
	} else {
		for k, v := range top {
			fields[k] = v
		}
	}

	id := firstID(fields["id"], top["id"], fields["bookingId"], top["bookingId"])
	if id == "" {
		return Envelope{}, fmt.Errorf("%s: %w", event, ErrMissingID)
	}

	fields = fields.Known()
	fields.Set("id", id)
	if adapt := adapters[event]; adapt != nil {
		adapt(fields, top)
	}

	return Envelope{Event: event, ID: id, Patch: fields, Raw: raw}, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}

// firstID returns the first candidate holding a non-empty string or number.
func firstID(candidates ...json.RawMessage) string {
	for _, c := range candidates {
		if id := decodeID(c); id != "" {
			return id
		}
	}
	return ""
}

func decodeID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if _, err := strconv.ParseFloat(n.String(), 64); err == nil {
			return n.String()
		}
	}
	return ""
}

func pending(fields models.BookingPatch, _ map[string]json.RawMessage) {
	fields.SetDefault("status", models.StatusPending)
}

func withStatus(status models.Status) adapter {
	return func(fields models.BookingPatch, _ map[string]json.RawMessage) {
		fields.Set("status", status)
	}
}

func assigned(fields models.BookingPatch, top map[string]json.RawMessage) {
	copyDriver(fields, top, "assignedTo")
	fields.SetDefault("assignmentType", models.AssignmentAdmin)
}

func acceptedByDriver(fields models.BookingPatch, top map[string]json.RawMessage) {
	copyDriver(fields, top, "acceptedBy")
	fields.Set("status", models.StatusAccepted)
	fields.Set("isAccepted", true)
}

// A rejection releases the driver, so rejectedBy is kept out of driverId.
func rejectedByDriver(fields models.BookingPatch, top map[string]json.RawMessage) {
	fields.Set("isRejected", true)
	if reason, ok := top["rejectionReason"]; ok {
		fields.SetDefault("rejectionReason", reason)
	}
}

func expired(fields models.BookingPatch, _ map[string]json.RawMessage) {
	fields.Set("isExpired", true)
}

func copyDriver(fields models.BookingPatch, top map[string]json.RawMessage, key string) {
	if fields.Has("driverId") {
		return
	}
	if id := decodeID(top[key]); id != "" {
		fields.Set("driverId", id)
	}
}
