package reconciler

import (
	"fmt"

	"taxigate/internal/cache"
	"taxigate/internal/events"
	"taxigate/internal/metrics"
	"taxigate/internal/models"
	"taxigate/internal/realtime"

	"github.com/rs/zerolog"
)

// Refresher reloads views from the backend.
type Refresher interface {
	// Refetch starts a forced reload of view without blocking.
	Refetch(view models.View)
	// MarkStale defers the reload until view becomes active.
	MarkStale(view models.View)
}

// Reconciler applies booking events to the view cache. It runs on the
// dispatch goroutine and performs no I/O itself.
type Reconciler struct {
	store     *cache.Store
	refresher Refresher
	threshold float64
	logger    zerolog.Logger
}

func New(store *cache.Store, refresher Refresher, threshold float64, logger *zerolog.Logger) *Reconciler {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "reconciler").Logger()
	}
	return &Reconciler{
		store:     store,
		refresher: refresher,
		threshold: threshold,
		logger:    l,
	}
}

// Handle applies msg given the view the user is currently looking at.
// Malformed payloads are logged, counted and returned; nothing is mutated.
func (r *Reconciler) Handle(msg realtime.Message, active models.View) error {
	env, err := events.Normalize(msg.Name, msg.Data)
	if err != nil {
		metrics.IncEvent(msg.Name, "malformed")
		r.logger.Warn().Err(err).Str("event", msg.Name).Str("message_id", msg.ID).Msg("dropping booking event")
		return err
	}

	if err := r.apply(env, active); err != nil {
		metrics.IncEvent(env.Event, "failed")
		r.logger.Warn().Err(err).Str("event", env.Event).Str("booking_id", env.ID).Msg("booking event not applied")
		return err
	}

	metrics.IncEvent(env.Event, "applied")
	r.logger.Debug().Str("event", env.Event).Str("booking_id", env.ID).Strs("views", viewNames(r.store.Locate(env.ID))).Msg("booking event applied")
	return nil
}

func (r *Reconciler) apply(env events.Envelope, active models.View) error {
	switch env.Event {
	case events.EventBookingCreated, events.EventBookingCreatedAdmin:
		candidate, err := r.candidate(env)
		if err != nil {
			return err
		}
		if err := r.syncLive(env, candidate); err != nil {
			return err
		}
		r.invalidate(models.ThresholdView(candidate, r.threshold), active)
		return nil

	case events.EventLiveBookingAdded:
		_, err := r.view(models.ViewLive).Upsert(env.ID, env.Patch)
		return err

	case events.EventLiveBookingRemoved:
		r.view(models.ViewLive).Remove(env.ID)
		return nil

	case events.EventLiveBookingUpdated:
		candidate, err := r.candidate(env)
		if err != nil {
			return err
		}
		return r.syncLive(env, candidate)

	case events.EventBookingTaken:
		r.view(models.ViewLive).Remove(env.ID)
		return r.updateExcept(env, models.ViewLive)

	case events.EventBookingAssigned:
		return r.assigned(env, active)

	case events.EventBookingAcceptedAdmin, events.EventBookingRejectedAdmin:
		if err := r.updateExcept(env); err != nil {
			return err
		}
		r.invalidate(models.ViewAssigned, active)
		return nil

	case events.EventBookingStarted, events.EventBookingPickedUp, events.EventBookingDroppedOff:
		return r.updateExcept(env)

	case events.EventBookingCompleted:
		return r.completed(env, active)

	case events.EventBookingExpiredAdmin:
		r.view(models.ViewLive).Remove(env.ID)
		if err := r.updateExcept(env, models.ViewLive); err != nil {
			return err
		}
		r.invalidate(models.ViewExpired, active)
		return nil

	case events.EventBookingCancelled:
		if err := r.updateExcept(env); err != nil {
			return err
		}
		for _, view := range models.ActiveViews() {
			r.view(view).Remove(env.ID)
		}
		return nil
	}

	r.logger.Debug().Str("event", env.Event).Msg("event has no cache effect")
	return nil
}

// assigned moves the booking off the live board into the assigned view,
// carrying over whatever the live copy knew about it.
func (r *Reconciler) assigned(env events.Envelope, active models.View) error {
	candidate, err := r.candidate(env)
	if err != nil {
		return err
	}
	full, err := models.PatchFromBooking(candidate)
	if err != nil {
		return err
	}

	r.view(models.ViewLive).Remove(env.ID)
	if _, err := r.view(models.ViewAssigned).Upsert(env.ID, full); err != nil {
		return err
	}
	if err := r.updateExcept(env, models.ViewLive, models.ViewAssigned); err != nil {
		return err
	}
	if _, held := r.view(models.ViewExpired).Get(env.ID); held {
		r.invalidate(models.ViewExpired, active)
	}
	return nil
}

func (r *Reconciler) completed(env events.Envelope, active models.View) error {
	candidate, err := r.candidate(env)
	if err != nil {
		return err
	}
	full, err := models.PatchFromBooking(candidate)
	if err != nil {
		return err
	}

	if err := r.updateExcept(env, models.ViewCompleted); err != nil {
		return err
	}
	for _, view := range models.ActiveViews() {
		r.view(view).Remove(env.ID)
	}
	if _, err := r.view(models.ViewCompleted).Upsert(env.ID, full); err != nil {
		return err
	}
	r.invalidate(models.ViewCompleted, active)
	return nil
}

// syncLive keeps the live view in line with the live predicate for the
// merged candidate.
func (r *Reconciler) syncLive(env events.Envelope, candidate models.Booking) error {
	live := r.view(models.ViewLive)
	if !models.IsLive(candidate) {
		live.Remove(env.ID)
		return nil
	}
	_, err := live.Upsert(env.ID, env.Patch)
	return err
}

// candidate merges the event into the most complete cached copy of the
// booking, preferring the live copy.
func (r *Reconciler) candidate(env events.Envelope) (models.Booking, error) {
	base := models.Booking{ID: env.ID}
	for _, view := range models.AllViews() {
		if b, ok := r.view(view).Get(env.ID); ok {
			base = b
			break
		}
	}
	merged, err := base.Apply(env.Patch)
	if err != nil {
		return models.Booking{}, fmt.Errorf("merge %s: %w", env.ID, err)
	}
	merged.ID = env.ID
	return merged, nil
}

// updateExcept merges the event into every view holding the booking, apart
// from skip.
func (r *Reconciler) updateExcept(env events.Envelope, skip ...models.View) error {
	for _, view := range models.AllViews() {
		if contains(skip, view) {
			continue
		}
		if _, err := r.view(view).Update(env.ID, env.Patch); err != nil {
			return err
		}
	}
	return nil
}

// invalidate refetches view now if it is on screen, otherwise marks it
// stale for the next activation.
func (r *Reconciler) invalidate(view models.View, active models.View) {
	if r.refresher == nil {
		return
	}
	if view == active {
		r.refresher.Refetch(view)
		return
	}
	r.refresher.MarkStale(view)
}

func (r *Reconciler) view(view models.View) *cache.ViewStore {
	return r.store.View(view)
}

func contains(views []models.View, v models.View) bool {
	for _, candidate := range views {
		if candidate == v {
			return true
		}
	}
	return false
}

func viewNames(views []models.View) []string {
	out := make([]string, len(views))
	for i, v := range views {
		out[i] = string(v)
	}
	return out
}
