package service

import (
	"context"
	"fmt"
	"strings"

	"taxigate/internal/cache"
	"taxigate/internal/domain"
	"taxigate/internal/models"

	"github.com/rs/zerolog"
)

// Invalidator reloads booking views after a server-side change.
type Invalidator interface {
	InvalidateAll()
}

// AssignmentService assigns and unassigns drivers. It never writes the cache
// itself; the server answer and the following events do.
type AssignmentService struct {
	backend   domain.BookingBackend
	store     *cache.Store
	views     Invalidator
	threshold float64
	logger    *zerolog.Logger
}

func NewAssignmentService(b domain.BookingBackend, store *cache.Store, views Invalidator, threshold float64, logger *zerolog.Logger) *AssignmentService {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &AssignmentService{
		backend:   b,
		store:     store,
		views:     views,
		threshold: threshold,
		logger:    logger,
	}
}

// lookup finds the freshest cached copy of a booking.
func (s *AssignmentService) lookup(id string) (models.Booking, bool) {
	if s.store == nil {
		return models.Booking{}, false
	}
	for _, view := range s.store.Locate(id) {
		if b, ok := s.store.View(view).Get(id); ok {
			return b, true
		}
	}
	return models.Booking{}, false
}

// Assign hands bookingID to driverID. Bookings known to the cache are
// checked first: they must not have a driver and their price must be above
// the threshold.
func (s *AssignmentService) Assign(ctx context.Context, bookingID, driverID string) (*models.Booking, error) {
	driverID = strings.TrimSpace(driverID)
	if driverID == "" {
		return nil, ErrDriverRequired
	}
	if b, ok := s.lookup(bookingID); ok {
		if b.HasDriver() {
			return nil, fmt.Errorf("%s: %w", bookingID, ErrAlreadyAssigned)
		}
		if b.Price.Amount() <= s.threshold {
			return nil, fmt.Errorf("%s: %w", bookingID, ErrBelowThreshold)
		}
	}

	booking, err := s.backend.AssignDriver(ctx, bookingID, driverID)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Str("driver_id", driverID).Msg("failed to assign driver")
		return nil, err
	}
	s.logger.Info().Str("booking_id", bookingID).Str("driver_id", driverID).Msg("driver assigned")
	s.invalidate()
	return booking, nil
}

func (s *AssignmentService) Unassign(ctx context.Context, bookingID string) (*models.Booking, error) {
	if b, ok := s.lookup(bookingID); ok && !b.HasDriver() {
		return nil, fmt.Errorf("%s: %w", bookingID, ErrNotAssigned)
	}

	booking, err := s.backend.UnassignDriver(ctx, bookingID)
	if err != nil {
		s.logger.Error().Err(err).Str("booking_id", bookingID).Msg("failed to unassign driver")
		return nil, err
	}
	s.logger.Info().Str("booking_id", bookingID).Msg("driver unassigned")
	s.invalidate()
	return booking, nil
}

func (s *AssignmentService) invalidate() {
	if s.views != nil {
		s.views.InvalidateAll()
	}
}
