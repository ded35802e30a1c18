package reconciler

import (
	"taxigate/internal/events"
	"taxigate/internal/models"
	"taxigate/internal/realtime"
)

type handler struct {
	r      *Reconciler
	active func() models.View
}

func (h *handler) Handle(msg realtime.Message) {
	_ = h.r.Handle(msg, h.active())
}

// Handler adapts the reconciler to the subscription registry. active is read
// at dispatch time, so the handler never sees a stale view selection.
func (r *Reconciler) Handler(active func() models.View) events.Handler {
	return &handler{r: r, active: active}
}

// Subscribe registers one handler for every booking event and returns a
// function removing all of them.
func (r *Reconciler) Subscribe(reg *events.Registry, active func() models.View) func() {
	h := r.Handler(active)
	disposers := make([]func(), 0, len(events.BookingEvents()))
	for _, event := range events.BookingEvents() {
		disposers = append(disposers, reg.Subscribe(event, h))
	}
	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}
