package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"taxigate/internal/cache"
	"taxigate/internal/metrics"
	"taxigate/internal/models"

	"github.com/rs/zerolog"
)

// PageSource loads one server page of a view.
type PageSource interface {
	FetchPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error)
}

// cachedPages is implemented by sources that can answer from a page cache.
type cachedPages interface {
	CachedPage(ctx context.Context, view models.View, page, limit int) (*models.Page, bool)
}

// ViewState describes the freshness of one cached view.
type ViewState struct {
	View        models.View `json:"view"`
	Page        int         `json:"page"`
	Limit       int         `json:"limit"`
	Active      bool        `json:"active"`
	Stale       bool        `json:"stale"`
	Loading     bool        `json:"loading"`
	LastFetched time.Time   `json:"lastFetched,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type viewState struct {
	page        int
	stale       bool
	inflight    bool
	queued      bool
	lastFetched time.Time
	err         error
}

// ViewService decides when each view is reloaded from the backend. A forced
// refetch runs in the background; refetches of the same view coalesce into
// at most one running and one queued.
type ViewService struct {
	store    *cache.Store
	source   PageSource
	pageSize int
	logger   *zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	active models.View
	states map[models.View]*viewState
}

func NewViewService(store *cache.Store, source PageSource, pageSize int, logger *zerolog.Logger) *ViewService {
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "views").Logger()
	ctx, cancel := context.WithCancel(context.Background())
	s := &ViewService{
		store:    store,
		source:   source,
		pageSize: pageSize,
		logger:   &l,
		ctx:      ctx,
		cancel:   cancel,
		active:   models.ViewLive,
		states:   make(map[models.View]*viewState),
	}
	for _, view := range models.AllViews() {
		s.states[view] = &viewState{page: 1}
	}
	return s
}

// Active returns the view the operator is looking at.
func (s *ViewService) Active() models.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetActive switches the active view. A stale or never loaded view is
// refetched.
func (s *ViewService) SetActive(view models.View) error {
	s.mu.Lock()
	st, ok := s.states[view]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	s.active = view
	reload := st.stale || st.lastFetched.IsZero()
	s.mu.Unlock()

	if reload {
		s.Refetch(view)
	}
	return nil
}

// SetPage moves view to page and reloads it.
func (s *ViewService) SetPage(view models.View, page int) error {
	if page < 1 {
		return ErrInvalidPage
	}
	s.mu.Lock()
	st, ok := s.states[view]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownView, view)
	}
	st.page = page
	s.mu.Unlock()

	s.Refetch(view)
	return nil
}

// Refetch starts a forced reload of view without blocking.
func (s *ViewService) Refetch(view models.View) {
	s.mu.Lock()
	st, ok := s.states[view]
	if !ok || s.ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	st.stale = false
	if st.inflight {
		st.queued = true
		s.mu.Unlock()
		metrics.IncRefetch(string(view), "coalesced")
		return
	}
	st.inflight = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.refresh(view)
}

// MarkStale defers the reload of view until it becomes active.
func (s *ViewService) MarkStale(view models.View) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[view]; ok {
		st.stale = true
	}
}

// InvalidateAll refetches the active view and marks every other view stale.
func (s *ViewService) InvalidateAll() {
	active := s.Active()
	for _, view := range models.AllViews() {
		if view == active {
			s.Refetch(view)
			continue
		}
		s.MarkStale(view)
	}
}

// LoadAll seeds every view from the page cache when one is available and
// then refetches all of them.
func (s *ViewService) LoadAll(ctx context.Context) {
	if cp, ok := s.source.(cachedPages); ok {
		for _, view := range models.AllViews() {
			page, limit := s.pageOf(view)
			if p, hit := cp.CachedPage(ctx, view, page, limit); hit {
				pagination := p.Pagination
				s.store.View(view).ReplaceAll(p.Items, &pagination)
				metrics.IncRefetch(string(view), "cached")
			}
		}
	}
	for _, view := range models.AllViews() {
		s.Refetch(view)
	}
}

func (s *ViewService) pageOf(view models.View) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[view].page, s.pageSize
}

func (s *ViewService) refresh(view models.View) {
	defer s.wg.Done()
	for {
		page, limit := s.pageOf(view)
		p, err := s.source.FetchPage(s.ctx, view, page, limit)
		if err == nil {
			pagination := p.Pagination
			s.store.View(view).ReplaceAll(p.Items, &pagination)
			metrics.IncRefetch(string(view), "ok")
			s.logger.Debug().Str("view", string(view)).Int("page", page).Int("items", len(p.Items)).Msg("view refetched")
		} else {
			metrics.IncRefetch(string(view), "error")
			s.logger.Warn().Err(err).Str("view", string(view)).Msg("view refetch failed, keeping cached items")
		}

		s.mu.Lock()
		st := s.states[view]
		st.err = err
		if err == nil {
			st.lastFetched = time.Now()
		}
		if st.queued && s.ctx.Err() == nil {
			st.queued = false
			s.mu.Unlock()
			continue
		}
		st.queued = false
		st.inflight = false
		s.mu.Unlock()
		return
	}
}

// State reports the freshness of view.
func (s *ViewService) State(view models.View) (ViewState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[view]
	if !ok {
		return ViewState{}, false
	}
	return s.stateLocked(view, st), true
}

// States reports every view in display order.
func (s *ViewService) States() []ViewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ViewState, 0, len(s.states))
	for _, view := range models.AllViews() {
		out = append(out, s.stateLocked(view, s.states[view]))
	}
	return out
}

func (s *ViewService) stateLocked(view models.View, st *viewState) ViewState {
	vs := ViewState{
		View:        view,
		Page:        st.page,
		Limit:       s.pageSize,
		Active:      view == s.active,
		Stale:       st.stale,
		Loading:     st.inflight,
		LastFetched: st.lastFetched,
	}
	if st.err != nil {
		vs.Error = st.err.Error()
	}
	return vs
}

// Wait blocks until no refetch is running.
func (s *ViewService) Wait() {
	s.wg.Wait()
}

// Close cancels running refetches and waits for them.
func (s *ViewService) Close() {
	s.mu.Lock()
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}
