package cache

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"taxigate/internal/metrics"
	"taxigate/internal/models"
)

var ErrMissingID = errors.New("cache: booking id is required")

// Snapshot is an immutable view state. Items and Pagination are never
// modified after publication; every mutation publishes a new Snapshot with
// a new Items slice and a higher Version.
type Snapshot struct {
	View       models.View        `json:"view"`
	Items      []models.Booking   `json:"items"`
	Pagination *models.Pagination `json:"pagination,omitempty"`
	UpdatedAt  time.Time          `json:"updatedAt"`
	Version    uint64             `json:"version"`
}

// ViewStore holds the cached bookings of one view.
type ViewStore struct {
	view       models.View
	pushDriven bool
	notify     func(Snapshot)
	now        func() time.Time

	mu   sync.RWMutex
	snap Snapshot
}

func newViewStore(view models.View, notify func(Snapshot), now func() time.Time) *ViewStore {
	return &ViewStore{
		view:       view,
		pushDriven: view.PushDriven(),
		notify:     notify,
		now:        now,
		snap:       Snapshot{View: view, Items: []models.Booking{}},
	}
}

func (v *ViewStore) View() models.View {
	return v.view
}

// Read returns the current snapshot.
func (v *ViewStore) Read() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snap
}

// Get returns the cached booking with id.
func (v *ViewStore) Get(id string) (models.Booking, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if i := indexOf(v.snap.Items, id); i >= 0 {
		return v.snap.Items[i], true
	}
	return models.Booking{}, false
}

// Upsert merges patch into the booking with id, inserting it when absent:
// at the head for push-driven views, at the tail otherwise. It reports
// whether a new snapshot was published; a merge that changes nothing is a
// no-op.
func (v *ViewStore) Upsert(id string, patch models.BookingPatch) (bool, error) {
	return v.merge(id, patch, true)
}

// Update merges patch into the booking with id only if the view holds it.
func (v *ViewStore) Update(id string, patch models.BookingPatch) (bool, error) {
	return v.merge(id, patch, false)
}

func (v *ViewStore) merge(id string, patch models.BookingPatch, insert bool) (bool, error) {
	if id == "" {
		return false, ErrMissingID
	}

	v.mu.Lock()
	items := v.snap.Items
	i := indexOf(items, id)

	var next []models.Booking
	op := "update"
	switch {
	case i >= 0:
		merged, err := items[i].Apply(patch)
		if err != nil {
			v.mu.Unlock()
			return false, fmt.Errorf("merge %s into %s: %w", id, v.view, err)
		}
		merged.ID = id
		if reflect.DeepEqual(merged, items[i]) {
			v.mu.Unlock()
			return false, nil
		}
		next = make([]models.Booking, len(items))
		copy(next, items)
		next[i] = merged
	case insert:
		created, err := models.Booking{ID: id}.Apply(patch)
		if err != nil {
			v.mu.Unlock()
			return false, fmt.Errorf("insert %s into %s: %w", id, v.view, err)
		}
		created.ID = id
		next = make([]models.Booking, 0, len(items)+1)
		if v.pushDriven {
			next = append(next, created)
			next = append(next, items...)
		} else {
			next = append(next, items...)
			next = append(next, created)
		}
		op = "insert"
	default:
		v.mu.Unlock()
		return false, nil
	}

	snap := v.commitLocked(next, v.snap.Pagination)
	v.mu.Unlock()

	v.publish(snap, op)
	return true, nil
}

// Remove drops the booking with id. Removing an absent id is a no-op.
func (v *ViewStore) Remove(id string) bool {
	v.mu.Lock()
	items := v.snap.Items
	i := indexOf(items, id)
	if i < 0 {
		v.mu.Unlock()
		return false
	}
	next := make([]models.Booking, 0, len(items)-1)
	next = append(next, items[:i]...)
	next = append(next, items[i+1:]...)
	snap := v.commitLocked(next, v.snap.Pagination)
	v.mu.Unlock()

	v.publish(snap, "remove")
	return true
}

// ReplaceAll swaps in a full server page. Pagination is taken as given, so
// this is the only way a server-paginated view changes its totals.
func (v *ViewStore) ReplaceAll(items []models.Booking, pagination *models.Pagination) {
	next := make([]models.Booking, len(items))
	copy(next, items)

	v.mu.Lock()
	snap := v.commitLocked(next, pagination)
	v.mu.Unlock()

	v.publish(snap, "replace")
}

func (v *ViewStore) commitLocked(items []models.Booking, pagination *models.Pagination) Snapshot {
	var p *models.Pagination
	if pagination != nil {
		cp := *pagination
		p = &cp
	}
	if v.pushDriven {
		if p == nil {
			p = &models.Pagination{Page: 1, Pages: 1}
		}
		p.Total = len(items)
	}

	v.snap = Snapshot{
		View:       v.view,
		Items:      items,
		Pagination: p,
		UpdatedAt:  v.now(),
		Version:    v.snap.Version + 1,
	}
	return v.snap
}

func (v *ViewStore) publish(snap Snapshot, op string) {
	metrics.IncCacheMutation(string(v.view), op)
	if v.notify != nil {
		v.notify(snap)
	}
}

func indexOf(items []models.Booking, id string) int {
	for i := range items {
		if items[i].ID == id {
			return i
		}
	}
	return -1
}

// Store groups the view stores of one session and fans snapshot changes
// out to watchers.
type Store struct {
	views map[models.View]*ViewStore

	mu       sync.RWMutex
	watchers map[int]func(Snapshot)
	nextID   int
}

func NewStore() *Store {
	return newStore(time.Now)
}

func newStore(now func() time.Time) *Store {
	s := &Store{
		views:    make(map[models.View]*ViewStore),
		watchers: make(map[int]func(Snapshot)),
	}
	for _, view := range models.AllViews() {
		s.views[view] = newViewStore(view, s.broadcast, now)
	}
	return s
}

// View returns the store for view, or nil for an unknown view.
func (s *Store) View(view models.View) *ViewStore {
	return s.views[view]
}

// Read returns the current snapshot of view.
func (s *Store) Read(view models.View) (Snapshot, bool) {
	vs, ok := s.views[view]
	if !ok {
		return Snapshot{}, false
	}
	return vs.Read(), true
}

// Locate lists the views currently holding id, in display order.
func (s *Store) Locate(id string) []models.View {
	var out []models.View
	for _, view := range models.AllViews() {
		if _, ok := s.views[view].Get(id); ok {
			out = append(out, view)
		}
	}
	return out
}

// Watch calls fn with every published snapshot until the returned function
// is called. fn runs on the mutating goroutine and must not block.
func (s *Store) Watch(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.watchers, id)
		s.mu.Unlock()
	}
}

func (s *Store) broadcast(snap Snapshot) {
	s.mu.RLock()
	watchers := make([]func(Snapshot), 0, len(s.watchers))
	for _, fn := range s.watchers {
		watchers = append(watchers, fn)
	}
	s.mu.RUnlock()

	for _, fn := range watchers {
		fn(snap)
	}
}
