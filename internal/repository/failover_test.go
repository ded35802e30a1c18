package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"taxigate/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetPage(ctx context.Context, view models.View, page, limit int) (*models.Page, error) {
	args := m.Called(ctx, view, page, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Page), args.Error(1)
}

func (m *mockCache) SetPage(ctx context.Context, view models.View, page, limit int, p *models.Page) error {
	args := m.Called(ctx, view, page, limit, p)
	return args.Error(0)
}

func (m *mockCache) InvalidateView(ctx context.Context, view models.View) error {
	args := m.Called(ctx, view)
	return args.Error(0)
}

func TestFailoverPageCache(t *testing.T) {
	primary := new(mockCache)
	fallback := new(mockCache)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverPageCache(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		page := samplePage("A")
		primary.On("GetPage", ctx, models.ViewLive, 1, 12).Return(page, nil).Once()

		got, err := repo.GetPage(ctx, models.ViewLive, 1, 12)
		assert.NoError(t, err)
		assert.Equal(t, page, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		page := samplePage("B")
		primary.On("GetPage", ctx, models.ViewAssigned, 1, 12).Return(nil, errors.New("fail")).Once()
		fallback.On("GetPage", ctx, models.ViewAssigned, 1, 12).Return(page, nil).Once()

		got, err := repo.GetPage(ctx, models.ViewAssigned, 1, 12)
		assert.NoError(t, err)
		assert.Equal(t, page, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		page := samplePage("C")
		fallback.On("SetPage", ctx, models.ViewExpired, 1, 12, page).Return(nil).Once()

		assert.NoError(t, repo.SetPage(ctx, models.ViewExpired, 1, 12, page))
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "SetPage", ctx, models.ViewExpired, 1, 12, page)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck = time.Now().Add(-2 * time.Minute)

		page := samplePage("D")
		primary.On("GetPage", ctx, models.ViewCompleted, 1, 12).Return(page, nil).Once()

		got, err := repo.GetPage(ctx, models.ViewCompleted, 1, 12)
		assert.NoError(t, err)
		assert.Equal(t, page, got)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("InvalidateClearsFallbackFirst", func(t *testing.T) {
		fallback.On("InvalidateView", ctx, models.ViewLive).Return(nil).Once()
		primary.On("InvalidateView", ctx, models.ViewLive).Return(errors.New("fail")).Once()

		assert.NoError(t, repo.InvalidateView(ctx, models.ViewLive))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("FallbackError", func(t *testing.T) {
		fallback.On("InvalidateView", ctx, models.ViewExpired).Return(errors.New("boom")).Once()
		assert.Error(t, repo.InvalidateView(ctx, models.ViewExpired))
	})
}
