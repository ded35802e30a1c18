package repository

import (
	"context"
	"strings"
	"sync"
	"time"

	"taxigate/internal/models"
)

type memoryEntry struct {
	page      models.Page
	expiresAt time.Time
}

// MemoryPageCache is the in-process page cache used when Redis is absent or
// down.
type MemoryPageCache struct {
	pages sync.Map
	ttl   time.Duration
	now   func() time.Time
}

func NewMemoryPageCache(ttl time.Duration) *MemoryPageCache {
	return &MemoryPageCache{
		ttl: ttl,
		now: time.Now,
	}
}

func (r *MemoryPageCache) GetPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	key := pageKey(view, page, limit)
	val, ok := r.pages.Load(key)
	if !ok {
		return nil, nil
	}
	entry := val.(*memoryEntry)
	if r.ttl > 0 && r.now().After(entry.expiresAt) {
		r.pages.Delete(key)
		return nil, nil
	}
	p := entry.page
	p.Items = append([]models.Booking(nil), entry.page.Items...)
	return &p, nil
}

func (r *MemoryPageCache) SetPage(ctx context.Context, view models.View, page, limit int, p *models.Page) error {
	if p == nil {
		return nil
	}
	stored := *p
	stored.Items = append([]models.Booking(nil), p.Items...)
	r.pages.Store(pageKey(view, page, limit), &memoryEntry{
		page:      stored,
		expiresAt: r.now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryPageCache) InvalidateView(ctx context.Context, view models.View) error {
	prefix := keyPrefix + string(view) + ":"
	r.pages.Range(func(key, _ any) bool {
		if strings.HasPrefix(key.(string), prefix) {
			r.pages.Delete(key)
		}
		return true
	})
	return nil
}
