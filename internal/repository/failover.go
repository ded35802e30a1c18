package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"taxigate/internal/domain"
	"taxigate/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverPageCache serves from primary until it fails, then from fallback,
// probing primary again once a minute.
type FailoverPageCache struct {
	primary  domain.PageCache
	fallback domain.PageCache
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverPageCache(primary, fallback domain.PageCache, logger *zerolog.Logger) *FailoverPageCache {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &FailoverPageCache{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

func (r *FailoverPageCache) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary page cache failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// shouldProbe reports whether a downed primary is due for another attempt.
func (r *FailoverPageCache) shouldProbe() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) <= recoveryInterval {
		return false
	}
	r.lastCheck = time.Now()
	return true
}

func (r *FailoverPageCache) usePrimary() bool {
	return !r.isDown.Load() || r.shouldProbe()
}

func (r *FailoverPageCache) recovered() {
	if r.isDown.CompareAndSwap(true, false) {
		r.logger.Info().Msg("Primary page cache recovered")
	}
}

func (r *FailoverPageCache) GetPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	if r.usePrimary() {
		p, err := r.primary.GetPage(ctx, view, page, limit)
		if err == nil {
			r.recovered()
			return p, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetPage(ctx, view, page, limit)
}

func (r *FailoverPageCache) SetPage(ctx context.Context, view models.View, page, limit int, p *models.Page) error {
	if r.usePrimary() {
		err := r.primary.SetPage(ctx, view, page, limit, p)
		if err == nil {
			r.recovered()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SetPage(ctx, view, page, limit, p)
}

// InvalidateView always clears the fallback. Primary failures here are
// logged and do not fail the call.
func (r *FailoverPageCache) InvalidateView(ctx context.Context, view models.View) error {
	if err := r.fallback.InvalidateView(ctx, view); err != nil {
		return err
	}
	if r.usePrimary() {
		if err := r.primary.InvalidateView(ctx, view); err != nil {
			r.markDown(err)
		}
	}
	return nil
}
